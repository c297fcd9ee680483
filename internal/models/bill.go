package models

import "time"

// DistributionMode selects how a bill total is divided among participants.
type DistributionMode string

const (
	// ModeEven divides the total equally among participants.
	ModeEven DistributionMode = "even"

	// ModeCustom uses the amount entered for each participant.
	ModeCustom DistributionMode = "custom"
)

// Bill represents a shared expense of a trip.
type Bill struct {
	// ID is the remote document id.
	ID string

	Title string

	// Payer is the user id of whoever paid the bill.
	Payer string

	// Total is the bill total as entered. It is kept as text so that an
	// unparsable entry survives a round trip; the ledger decides what a
	// usable number is.
	Total string

	// Amounts holds the entered amount per participant in custom mode.
	Amounts map[string]string

	// Participants is a subset of the trip collaborators.
	Participants []string

	Currency string

	DistributionMode DistributionMode

	// Summary is the settlement summary, payer -> participant -> amount
	// owed by the participant to the payer.
	Summary map[string]map[string]float64

	// Archived is derived from the local archive overlay. It is never
	// persisted remotely.
	Archived bool

	IsDraft bool

	CreatedAt time.Time
}

// Transaction is a manually recorded payment from Debtor to Creditor.
type Transaction struct {
	TransactionID string

	// Debtor is the user who paid (settling up).
	Debtor string

	// Creditor is the user who received the payment.
	Creditor string

	Amount float64

	Currency string

	Description string

	CreatedAt time.Time
}
