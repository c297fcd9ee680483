// Package ledger computes settlement summaries for bills and aggregates them
// into per-user balances. It does no I/O.
package ledger

import (
	"math"
	"strconv"
	"strings"

	"github.com/mmynk/tripsync/internal/models"
)

// Summary is the settlement summary of one bill:
// creditor (the payer) -> debtor (a participant) -> amount owed.
// A map cannot hold two edges for the same ordered pair, so recomputing a
// summary always overwrites.
type Summary map[string]map[string]float64

// Owed returns what debtor owes creditor in this summary.
func (s Summary) Owed(debtor, creditor string) float64 {
	return s[creditor][debtor]
}

// Empty reports whether the summary has no edges. An empty summary is how a
// skipped computation is represented.
func (s Summary) Empty() bool {
	for _, edges := range s {
		if len(edges) > 0 {
			return false
		}
	}
	return true
}

// Input is the part of a bill the summary depends on.
type Input struct {
	Payer        string
	Mode         models.DistributionMode
	Total        string
	Participants []string
	// Amounts is only read in custom mode.
	Amounts map[string]string
}

// InputFromBill extracts the summary input of b.
func InputFromBill(b models.Bill) Input {
	return Input{
		Payer:        b.Payer,
		Mode:         b.DistributionMode,
		Total:        b.Total,
		Participants: b.Participants,
		Amounts:      b.Amounts,
	}
}

// Summarize computes the settlement summary of a bill.
//
// Even mode: every participant owes total/n to the payer. A total that is not
// a positive number, or no participants, gives an empty summary.
//
// Custom mode: every participant owes the amount entered for them. A
// participant whose entry is not a number is left out.
//
// Invalid input is not an error: the result is simply empty.
func Summarize(in Input) Summary {
	if in.Payer == "" {
		return Summary{}
	}
	participants := unique(in.Participants)

	switch in.Mode {
	case models.ModeCustom:
		return summarizeCustom(in.Payer, participants, in.Amounts)
	default:
		return summarizeEven(in.Payer, participants, in.Total)
	}
}

func summarizeEven(payer string, participants []string, total string) Summary {
	t, ok := parseAmount(total)
	if !ok || t <= 0 || len(participants) == 0 {
		return Summary{}
	}

	share := t / float64(len(participants))
	edges := make(map[string]float64, len(participants))
	for _, p := range participants {
		edges[p] = share
	}
	return Summary{payer: edges}
}

func summarizeCustom(payer string, participants []string, amounts map[string]string) Summary {
	edges := make(map[string]float64, len(participants))
	for _, p := range participants {
		amount, ok := parseAmount(amounts[p])
		if !ok {
			continue
		}
		edges[p] = amount
	}
	if len(edges) == 0 {
		return Summary{}
	}
	return Summary{payer: edges}
}

// parseAmount parses an entered amount. Anything that is not a finite number
// is rejected.
func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
