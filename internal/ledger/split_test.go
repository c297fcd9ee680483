package ledger

import (
	"math"
	"testing"

	"github.com/mmynk/tripsync/internal/models"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name         string
		input        Input
		validateFunc func(t *testing.T, s Summary)
	}{
		{
			name: "even split three ways",
			input: Input{
				Payer:        "payer",
				Mode:         models.ModeEven,
				Total:        "90",
				Participants: []string{"u1", "u2", "u3"},
			},
			validateFunc: func(t *testing.T, s Summary) {
				if len(s) != 1 || len(s["payer"]) != 3 {
					t.Fatalf("summary = %v, want one creditor with three edges", s)
				}
				for _, u := range []string{"u1", "u2", "u3"} {
					if math.Abs(s["payer"][u]-30) > 0.01 {
						t.Errorf("%s owes %v, want 30", u, s["payer"][u])
					}
				}
			},
		},
		{
			name: "custom split skips non-numeric entry",
			input: Input{
				Payer:        "payer",
				Mode:         models.ModeCustom,
				Participants: []string{"u1", "u2"},
				Amounts:      map[string]string{"u1": "10", "u2": "abc"},
			},
			validateFunc: func(t *testing.T, s Summary) {
				if math.Abs(s["payer"]["u1"]-10) > 0.01 {
					t.Errorf("u1 owes %v, want 10", s["payer"]["u1"])
				}
				if _, ok := s["payer"]["u2"]; ok {
					t.Errorf("u2 must be absent, got %v", s["payer"]["u2"])
				}
			},
		},
		{
			name: "custom split ignores amounts of non-participants",
			input: Input{
				Payer:        "payer",
				Mode:         models.ModeCustom,
				Participants: []string{"u1"},
				Amounts:      map[string]string{"u1": " 4.5 ", "u9": "100"},
			},
			validateFunc: func(t *testing.T, s Summary) {
				if len(s["payer"]) != 1 || math.Abs(s["payer"]["u1"]-4.5) > 0.01 {
					t.Errorf("summary = %v, want only u1 owing 4.5", s)
				}
			},
		},
		{
			name:  "non-numeric total is skipped",
			input: Input{Payer: "payer", Mode: models.ModeEven, Total: "ninety", Participants: []string{"u1"}},
			validateFunc: func(t *testing.T, s Summary) {
				if !s.Empty() {
					t.Errorf("summary = %v, want empty", s)
				}
			},
		},
		{
			name:  "zero total is skipped",
			input: Input{Payer: "payer", Mode: models.ModeEven, Total: "0", Participants: []string{"u1"}},
			validateFunc: func(t *testing.T, s Summary) {
				if !s.Empty() {
					t.Errorf("summary = %v, want empty", s)
				}
			},
		},
		{
			name:  "no participants is skipped",
			input: Input{Payer: "payer", Mode: models.ModeEven, Total: "50"},
			validateFunc: func(t *testing.T, s Summary) {
				if !s.Empty() {
					t.Errorf("summary = %v, want empty", s)
				}
			},
		},
		{
			name:  "no payer is skipped",
			input: Input{Mode: models.ModeEven, Total: "50", Participants: []string{"u1"}},
			validateFunc: func(t *testing.T, s Summary) {
				if !s.Empty() {
					t.Errorf("summary = %v, want empty", s)
				}
			},
		},
		{
			name: "duplicate participants count once",
			input: Input{
				Payer:        "u1",
				Mode:         models.ModeEven,
				Total:        "30",
				Participants: []string{"u1", "u2", "u2"},
			},
			validateFunc: func(t *testing.T, s Summary) {
				if len(s["u1"]) != 2 {
					t.Fatalf("summary = %v, want two edges", s)
				}
				if math.Abs(s.Owed("u2", "u1")-15) > 0.01 {
					t.Errorf("u2 owes %v, want 15", s.Owed("u2", "u1"))
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validateFunc(t, Summarize(tt.input))
		})
	}
}

func TestSummarize_EvenSharesAddUpToTotal(t *testing.T) {
	totals := []string{"100", "33.33", "0.05", "1234.56", "7"}
	for n := 1; n <= 9; n++ {
		participants := make([]string, n)
		for i := range participants {
			participants[i] = string(rune('a' + i))
		}
		for _, total := range totals {
			s := Summarize(Input{Payer: "p", Mode: models.ModeEven, Total: total, Participants: participants})

			want, _ := parseAmount(total)
			var sum float64
			for _, amount := range s["p"] {
				if math.Abs(amount-want/float64(n)) > 1e-9 {
					t.Errorf("total %s, n=%d: share %v, want %v", total, n, amount, want/float64(n))
				}
				sum += amount
			}
			if math.Abs(sum-want) > 0.01 {
				t.Errorf("total %s, n=%d: shares sum to %v", total, n, sum)
			}
		}
	}
}

func TestSummarize_RecomputeOverwrites(t *testing.T) {
	in := Input{Payer: "p", Mode: models.ModeEven, Total: "40", Participants: []string{"u1", "u2"}}
	first := Summarize(in)

	in.Total = "60"
	second := Summarize(in)

	if math.Abs(first.Owed("u1", "p")-20) > 0.01 {
		t.Errorf("first: u1 owes %v, want 20", first.Owed("u1", "p"))
	}
	if math.Abs(second.Owed("u1", "p")-30) > 0.01 {
		t.Errorf("second: u1 owes %v, want 30 (not accumulated)", second.Owed("u1", "p"))
	}
}

func TestInputFromBill(t *testing.T) {
	bill := models.Bill{
		Payer:            "u1",
		Total:            "12",
		Participants:     []string{"u1", "u2"},
		DistributionMode: models.ModeEven,
	}
	s := Summarize(InputFromBill(bill))
	if math.Abs(s.Owed("u2", "u1")-6) > 0.01 {
		t.Errorf("u2 owes %v, want 6", s.Owed("u2", "u1"))
	}
}
