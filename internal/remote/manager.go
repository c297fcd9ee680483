package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mmynk/tripsync/internal/metrics"
)

// Handle is one live subscription. Release it with Manager.Unsubscribe.
type Handle struct {
	id        uint64
	kind      Kind
	parentKey string
	cancel    context.CancelFunc
	closed    atomic.Bool
}

// Kind returns what the handle watches.
func (h *Handle) Kind() Kind { return h.kind }

// ParentKey returns the key the handle was opened with.
func (h *Handle) ParentKey() string { return h.parentKey }

// Manager opens and closes subscriptions and performs writes against a
// Backend. One Subscribe call holds one backend watch until Unsubscribe.
type Manager struct {
	backend Backend
	logger  *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	nextID uint64
	live   map[uint64]*Handle
	closed bool
}

// NewManager creates a Manager on top of backend. m may be nil.
func NewManager(backend Backend, logger *slog.Logger, m *metrics.Metrics) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		backend: backend,
		logger:  logger.With("component", "remote"),
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		live:    make(map[uint64]*Handle),
	}
}

// Subscribe starts watching kind under parentKey (a user id for KindUser,
// a trip id for everything else). onChange receives every snapshot of that
// subscription in commit order, from a goroutine that is not the caller's.
// Subscriptions are independent: no order is promised between two of them.
func (m *Manager) Subscribe(kind Kind, parentKey string, onChange func(Event)) (*Handle, error) {
	if parentKey == "" {
		return nil, fmt.Errorf("%w: subscribe %s", ErrInvalidParent, kind)
	}
	target := targetFor(kind, parentKey)
	if err := checkPath(target.Path, !kind.Collection()); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	m.nextID++
	ctx, cancel := context.WithCancel(m.ctx)
	h := &Handle{id: m.nextID, kind: kind, parentKey: parentKey, cancel: cancel}

	deliver := func(snap Snapshot, err error) {
		if h.closed.Load() {
			return
		}
		ev := Event{Kind: kind, ParentKey: parentKey}
		if err != nil {
			m.metrics.SubscriptionFailed(kind.String())
			m.logger.Warn("Subscription failed", "kind", kind, "key", parentKey, "error", err)
			ev.Err = fmt.Errorf("%w: %s %s: %v", ErrRemoteUnavailable, kind, parentKey, err)
		} else {
			m.metrics.SnapshotDelivered(kind.String())
			ev.Snapshot = snap
		}
		onChange(ev)
	}

	if err := m.backend.Watch(ctx, target, deliver); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: watch %s: %v", ErrRemoteUnavailable, target.Path, err)
	}

	m.live[h.id] = h
	m.metrics.SubscriptionOpened(kind.String())
	m.logger.Debug("Subscription opened", "kind", kind, "key", parentKey, "id", h.id)
	return h, nil
}

// Unsubscribe releases h. It is safe to call with nil and more than once.
// Snapshots that start being delivered after Unsubscribe are dropped; one
// that is already running in another goroutine may still finish.
func (m *Manager) Unsubscribe(h *Handle) {
	if h == nil || h.closed.Swap(true) {
		return
	}
	h.cancel()

	m.mu.Lock()
	delete(m.live, h.id)
	m.mu.Unlock()

	m.metrics.SubscriptionClosed(h.kind.String())
	m.logger.Debug("Subscription closed", "kind", h.kind, "key", h.parentKey, "id", h.id)
}

// Live returns the number of open subscriptions.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Close releases every open subscription. Subscribe fails afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	handles := make([]*Handle, 0, len(m.live))
	for _, h := range m.live {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		m.Unsubscribe(h)
	}
	m.cancel()
	if len(handles) > 0 {
		m.logger.Info("Released subscriptions on close", "count", len(handles))
	}
}

// Set writes fields to the document at docPath. With merge, only the given
// fields are changed; otherwise the document is replaced.
func (m *Manager) Set(ctx context.Context, docPath string, fields map[string]any, merge bool) error {
	if err := checkPath(docPath, true); err != nil {
		return err
	}
	if err := m.backend.Set(ctx, docPath, fields, merge); err != nil {
		return m.writeFailed("set", docPath, err)
	}
	return nil
}

// Update merges fields into the existing document at docPath. A missing
// document yields an error wrapping ErrNoDocument instead of
// ErrRemoteUnavailable.
func (m *Manager) Update(ctx context.Context, docPath string, fields map[string]any) error {
	if err := checkPath(docPath, true); err != nil {
		return err
	}
	err := m.backend.Update(ctx, docPath, fields)
	if errors.Is(err, ErrNoDocument) {
		return fmt.Errorf("update %s: %w", docPath, err)
	}
	if err != nil {
		return m.writeFailed("update", docPath, err)
	}
	return nil
}

// Add creates a document with a generated id in collectionPath.
func (m *Manager) Add(ctx context.Context, collectionPath string, fields map[string]any) (string, error) {
	if err := checkPath(collectionPath, false); err != nil {
		return "", err
	}
	id, err := m.backend.Add(ctx, collectionPath, fields)
	if err != nil {
		return "", m.writeFailed("add", collectionPath, err)
	}
	return id, nil
}

// Delete removes the document at docPath.
func (m *Manager) Delete(ctx context.Context, docPath string) error {
	if err := checkPath(docPath, true); err != nil {
		return err
	}
	if err := m.backend.Delete(ctx, docPath); err != nil {
		return m.writeFailed("delete", docPath, err)
	}
	return nil
}

func (m *Manager) writeFailed(op, path string, err error) error {
	m.metrics.WriteFailed(op)
	m.logger.Error("Remote write failed", "op", op, "path", path, "error", err)
	return fmt.Errorf("%w: %s %s: %v", ErrRemoteUnavailable, op, path, err)
}
