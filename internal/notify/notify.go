// Package notify tells the outside world that a settlement was recorded.
// Delivery is best effort and outside the sync core's consistency model.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Settlement describes a recorded transaction.
type Settlement struct {
	TripID        string    `json:"trip_id"`
	TransactionID string    `json:"transaction_id"`
	Debtor        string    `json:"debtor"`
	Creditor      string    `json:"creditor"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Description   string    `json:"description,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Notifier is told about every recorded settlement.
type Notifier interface {
	SettlementRecorded(ctx context.Context, s Settlement) error
}

// LogNotifier only logs settlements. It is used when no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (n *LogNotifier) SettlementRecorded(ctx context.Context, s Settlement) error {
	n.logger.InfoContext(ctx, "Settlement recorded",
		"trip_id", s.TripID,
		"transaction_id", s.TransactionID,
		"debtor", s.Debtor,
		"creditor", s.Creditor,
		"amount", s.Amount,
		"currency", s.Currency,
	)
	return nil
}
