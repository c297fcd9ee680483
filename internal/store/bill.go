package store

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/tripsync/internal/auth"
	"github.com/mmynk/tripsync/internal/ledger"
	"github.com/mmynk/tripsync/internal/models"
	"github.com/mmynk/tripsync/internal/notify"
	"github.com/mmynk/tripsync/internal/overlay"
	"github.com/mmynk/tripsync/internal/remote"
)

// BillView is what BillStore listeners receive.
type BillView struct {
	TripID       string
	Bills        []models.Bill
	Transactions []models.Transaction
}

// BillInput describes a bill to create (empty ID) or replace.
type BillInput struct {
	ID           string
	Title        string
	Payer        string
	Total        string
	Amounts      map[string]string
	Participants []string
	Currency     string
	// Mode defaults to even.
	Mode    models.DistributionMode
	IsDraft bool
}

// TransactionInput describes a settlement payment.
type TransactionInput struct {
	Debtor      string
	Creditor    string
	Amount      float64
	Currency    string
	Description string
}

// BillStore tracks the bills and transactions of the active trip and merges
// the local archive overlay onto the bills.
type BillStore struct {
	remote   *remote.Manager
	trips    *TripStore
	users    *UserStore
	overlay  *overlay.Store
	notifier notify.Notifier
	logger   *slog.Logger

	mu        sync.Mutex
	started   bool
	tripID    string
	gen       uint64
	billSub   *remote.Handle
	txSub     *remote.Handle
	archived  overlay.Set
	remoteRaw []models.Bill // last bill snapshot, before the overlay
	bills     []models.Bill
	txs       []models.Transaction
	err       error

	cancelTrip func()
	changes    listeners[BillView]
}

// NewBillStore creates a stopped BillStore.
func NewBillStore(rm *remote.Manager, trips *TripStore, users *UserStore, ov *overlay.Store, n notify.Notifier, logger *slog.Logger) *BillStore {
	return &BillStore{
		remote:   rm,
		trips:    trips,
		users:    users,
		overlay:  ov,
		notifier: n,
		logger:   logger.With("component", "bill_store"),
	}
}

// Start follows the active trip.
func (s *BillStore) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	cancel := s.trips.OnTripChange(func(string) { s.reconcile() })

	s.mu.Lock()
	s.cancelTrip = cancel
	s.mu.Unlock()

	s.reconcile()
}

// Stop releases both subscriptions.
func (s *BillStore) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancelTrip
	s.cancelTrip = nil
	s.releaseLocked()
	s.tripID = ""
	view := s.viewLocked()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.changes.notify(view)
}

// TripID returns the trip the store is gated on, "" when none is active.
func (s *BillStore) TripID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tripID
}

// Bills returns every bill of the trip, newest first, with Archived set from
// the overlay.
func (s *BillStore) Bills() []models.Bill {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyBills(s.bills)
}

// ActiveBills returns the bills that are not archived.
func (s *BillStore) ActiveBills() []models.Bill {
	return filterBills(s.Bills(), false)
}

// ArchivedBills returns the archived bills.
func (s *BillStore) ArchivedBills() []models.Bill {
	return filterBills(s.Bills(), true)
}

// Transactions returns the trip's transactions, newest first.
func (s *BillStore) Transactions() []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Transaction(nil), s.txs...)
}

// Balance aggregates the settlement summaries of every bill of the trip,
// archived and draft bills included, from the viewpoint of uid.
func (s *BillStore) Balance(uid string) ledger.Balance {
	s.mu.Lock()
	summaries := make([]ledger.Summary, 0, len(s.bills))
	for _, b := range s.bills {
		summaries = append(summaries, billSummary(b))
	}
	s.mu.Unlock()
	return ledger.Aggregate(uid, summaries)
}

// billSummary returns the stored summary of b, computing it when the
// document has none.
func billSummary(b models.Bill) ledger.Summary {
	if b.Summary != nil {
		return ledger.Summary(b.Summary)
	}
	return ledger.Summarize(ledger.InputFromBill(b))
}

// View returns the bills and transactions together.
func (s *BillStore) View() BillView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Err returns the last subscription failure.
func (s *BillStore) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// OnChange registers fn to receive the store's view after every change.
func (s *BillStore) OnChange(fn func(BillView)) (cancel func()) {
	return s.changes.add(fn)
}

// Archive hides bill billID on this device. The overlay is persisted before
// the bills are re-rendered; the remote store is not touched.
func (s *BillStore) Archive(ctx context.Context, billID string) error {
	return s.setArchived(ctx, billID, true)
}

// Restore undoes Archive.
func (s *BillStore) Restore(ctx context.Context, billID string) error {
	return s.setArchived(ctx, billID, false)
}

func (s *BillStore) setArchived(ctx context.Context, billID string, archived bool) error {
	s.mu.Lock()
	tripID := s.tripID
	if tripID == "" || billID == "" {
		s.mu.Unlock()
		return fmt.Errorf("%w: trip %q bill %q", remote.ErrInvalidParent, tripID, billID)
	}

	var (
		set overlay.Set
		err error
	)
	if archived {
		set, err = s.overlay.Archive(ctx, tripID, billID)
	} else {
		set, err = s.overlay.Restore(ctx, tripID, billID)
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.archived = set
	s.renderLocked()
	view := s.viewLocked()
	s.mu.Unlock()

	s.logger.Info("Bill archive state changed", "trip_id", tripID, "bill_id", billID, "archived", archived)
	s.changes.notify(view)
	return nil
}

// SaveBill computes the bill's settlement summary and writes it. A new bill
// gets a generated id and a server timestamp; an existing one is replaced
// field by field and must still exist. The archived flag is never written.
func (s *BillStore) SaveBill(ctx context.Context, in BillInput) (string, error) {
	if s.users.UID() == "" {
		return "", auth.ErrNotAuthenticated
	}
	tripID := s.TripID()
	if tripID == "" {
		return "", fmt.Errorf("%w: save bill", remote.ErrInvalidParent)
	}

	mode := in.Mode
	if mode == "" {
		mode = models.ModeEven
	}
	if mode != models.ModeEven && mode != models.ModeCustom {
		return "", fmt.Errorf("%w: unknown distribution mode %q", models.ErrInvalidInput, mode)
	}
	if !in.IsDraft && strings.TrimSpace(in.Title) == "" {
		return "", fmt.Errorf("%w: bill title is required", models.ErrInvalidInput)
	}

	summary := ledger.Summarize(ledger.Input{
		Payer:        in.Payer,
		Mode:         mode,
		Total:        in.Total,
		Participants: in.Participants,
		Amounts:      in.Amounts,
	})

	fields := map[string]any{
		models.FieldTitle:            in.Title,
		models.FieldPayer:            in.Payer,
		models.FieldTotal:            in.Total,
		models.FieldAmounts:          textMapValue(in.Amounts),
		models.FieldParticipants:     stringsValue(in.Participants),
		models.FieldCurrency:         in.Currency,
		models.FieldDistributionMode: string(mode),
		models.FieldSummary:          summaryValue(summary),
		models.FieldIsDraft:          in.IsDraft,
	}

	if in.ID == "" {
		fields[models.FieldCreatedAt] = remote.ServerTimestamp
		id, err := s.remote.Add(ctx, remote.CollectionPath(remote.KindBills, tripID), fields)
		if err != nil {
			return "", fmt.Errorf("failed to create bill: %w", err)
		}
		s.logger.Info("Bill created", "trip_id", tripID, "bill_id", id, "mode", mode)
		return id, nil
	}

	if err := s.remote.Update(ctx, remote.DocumentPath(remote.KindBills, tripID, in.ID), fields); err != nil {
		return "", fmt.Errorf("failed to update bill: %w", err)
	}
	s.logger.Info("Bill updated", "trip_id", tripID, "bill_id", in.ID, "mode", mode)
	return in.ID, nil
}

// DeleteBill deletes a bill and forgets its archive state.
func (s *BillStore) DeleteBill(ctx context.Context, billID string) error {
	if s.users.UID() == "" {
		return auth.ErrNotAuthenticated
	}
	tripID := s.TripID()
	if tripID == "" || billID == "" {
		return fmt.Errorf("%w: delete bill", remote.ErrInvalidParent)
	}
	if err := s.remote.Delete(ctx, remote.DocumentPath(remote.KindBills, tripID, billID)); err != nil {
		return fmt.Errorf("failed to delete bill: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.archived.Has(billID) {
		return nil
	}
	set, err := s.overlay.Restore(ctx, tripID, billID)
	if err != nil {
		s.logger.Warn("Failed to drop deleted bill from overlay", "bill_id", billID, "error", err)
		return nil
	}
	if s.tripID == tripID {
		s.archived = set
	}
	return nil
}

// RecordTransaction records a settlement payment and tells the notifier. A
// notifier failure is logged; the transaction stays recorded.
func (s *BillStore) RecordTransaction(ctx context.Context, in TransactionInput) (string, error) {
	if s.users.UID() == "" {
		return "", auth.ErrNotAuthenticated
	}
	tripID := s.TripID()
	if tripID == "" {
		return "", fmt.Errorf("%w: record transaction", remote.ErrInvalidParent)
	}
	if in.Debtor == "" || in.Creditor == "" || in.Debtor == in.Creditor {
		return "", fmt.Errorf("%w: debtor and creditor must be two different users", models.ErrInvalidInput)
	}
	if math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) || in.Amount <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", models.ErrInvalidInput)
	}

	id := uuid.NewString()
	err := s.remote.Set(ctx, remote.DocumentPath(remote.KindTransactions, tripID, id), map[string]any{
		models.FieldTransactionID: id,
		models.FieldDebtor:        in.Debtor,
		models.FieldCreditor:      in.Creditor,
		models.FieldAmount:        in.Amount,
		models.FieldCurrency:      in.Currency,
		models.FieldDescription:   in.Description,
		models.FieldCreatedAt:     remote.ServerTimestamp,
	}, false)
	if err != nil {
		return "", fmt.Errorf("failed to record transaction: %w", err)
	}
	s.logger.Info("Transaction recorded", "trip_id", tripID, "transaction_id", id)

	if s.notifier != nil {
		err := s.notifier.SettlementRecorded(ctx, notify.Settlement{
			TripID:        tripID,
			TransactionID: id,
			Debtor:        in.Debtor,
			Creditor:      in.Creditor,
			Amount:        in.Amount,
			Currency:      in.Currency,
			Description:   in.Description,
			RecordedAt:    time.Now(),
		})
		if err != nil {
			s.logger.Warn("Failed to notify settlement", "transaction_id", id, "error", err)
		}
	}
	return id, nil
}

// DeleteTransaction deletes a transaction.
func (s *BillStore) DeleteTransaction(ctx context.Context, transactionID string) error {
	if s.users.UID() == "" {
		return auth.ErrNotAuthenticated
	}
	tripID := s.TripID()
	if tripID == "" || transactionID == "" {
		return fmt.Errorf("%w: delete transaction", remote.ErrInvalidParent)
	}
	return s.remote.Delete(ctx, remote.DocumentPath(remote.KindTransactions, tripID, transactionID))
}

// reconcile follows the trip store's active trip. On activation it loads the
// overlay first, then opens the bill and the transaction subscriptions.
func (s *BillStore) reconcile() {
	s.mu.Lock()
	want := ""
	if s.started {
		want = s.trips.ActiveTripID()
	}
	if want == s.tripID {
		s.mu.Unlock()
		return
	}

	s.releaseLocked()
	s.tripID = want
	if want != "" {
		s.archived = s.overlay.Load(context.Background(), want)
		s.subscribeLocked()
	}
	view := s.viewLocked()
	s.mu.Unlock()

	s.changes.notify(view)
}

func (s *BillStore) subscribeLocked() {
	gen := s.gen
	tripID := s.tripID

	bh, err := s.remote.Subscribe(remote.KindBills, tripID, func(ev remote.Event) {
		s.onBills(gen, ev)
	})
	if err != nil {
		s.logger.Error("Failed to subscribe to bills", "trip_id", tripID, "error", err)
		s.err = err
		return
	}
	th, err := s.remote.Subscribe(remote.KindTransactions, tripID, func(ev remote.Event) {
		s.onTransactions(gen, ev)
	})
	if err != nil {
		s.remote.Unsubscribe(bh)
		s.logger.Error("Failed to subscribe to transactions", "trip_id", tripID, "error", err)
		s.err = err
		return
	}
	s.billSub = bh
	s.txSub = th
	s.logger.Info("Bills subscribed", "trip_id", tripID)
}

func (s *BillStore) releaseLocked() {
	s.remote.Unsubscribe(s.billSub)
	s.remote.Unsubscribe(s.txSub)
	s.billSub = nil
	s.txSub = nil
	s.gen++
	s.archived = nil
	s.remoteRaw = nil
	s.bills = nil
	s.txs = nil
	s.err = nil
}

func (s *BillStore) onBills(gen uint64, ev remote.Event) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if ev.Err != nil {
		s.err = ev.Err
		s.mu.Unlock()
		s.logger.Warn("Bill subscription failed, keeping last snapshot", "error", ev.Err)
		return
	}

	bills, errs := remote.Values(remote.Decode(ev.Docs, models.ParseBill))
	logParseFailures(s.logger, remote.KindBills, errs)
	s.remoteRaw = bills
	s.err = nil
	s.renderLocked()
	view := s.viewLocked()
	s.mu.Unlock()

	s.changes.notify(view)
}

func (s *BillStore) onTransactions(gen uint64, ev remote.Event) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if ev.Err != nil {
		s.err = ev.Err
		s.mu.Unlock()
		s.logger.Warn("Transaction subscription failed, keeping last snapshot", "error", ev.Err)
		return
	}

	txs, errs := remote.Values(remote.Decode(ev.Docs, models.ParseTransaction))
	logParseFailures(s.logger, remote.KindTransactions, errs)
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.After(txs[j].CreatedAt)
		}
		return txs[i].TransactionID < txs[j].TransactionID
	})
	s.txs = txs
	s.err = nil
	view := s.viewLocked()
	s.mu.Unlock()

	s.changes.notify(view)
}

// renderLocked merges the overlay onto the last bill snapshot. Only Archived
// is touched.
func (s *BillStore) renderLocked() {
	bills := make([]models.Bill, len(s.remoteRaw))
	for i, b := range s.remoteRaw {
		b.Archived = s.archived.Has(b.ID)
		bills[i] = b
	}
	sort.SliceStable(bills, func(i, j int) bool {
		if !bills[i].CreatedAt.Equal(bills[j].CreatedAt) {
			return bills[i].CreatedAt.After(bills[j].CreatedAt)
		}
		return bills[i].ID < bills[j].ID
	})
	s.bills = bills
}

func (s *BillStore) viewLocked() BillView {
	return BillView{
		TripID:       s.tripID,
		Bills:        copyBills(s.bills),
		Transactions: append([]models.Transaction(nil), s.txs...),
	}
}

func filterBills(bills []models.Bill, archived bool) []models.Bill {
	var out []models.Bill
	for _, b := range bills {
		if b.Archived == archived {
			out = append(out, b)
		}
	}
	return out
}

// copyBills copies the slice; the maps inside each bill are shared and must
// be treated as read-only.
func copyBills(bills []models.Bill) []models.Bill {
	return append([]models.Bill(nil), bills...)
}

func stringsValue(list []string) []any {
	out := make([]any, len(list))
	for i, v := range list {
		out[i] = v
	}
	return out
}

func textMapValue(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func summaryValue(s ledger.Summary) map[string]any {
	out := make(map[string]any, len(s))
	for creditor, edges := range s {
		inner := make(map[string]any, len(edges))
		for debtor, amount := range edges {
			inner[debtor] = amount
		}
		out[creditor] = inner
	}
	return out
}
