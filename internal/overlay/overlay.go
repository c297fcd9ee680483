// Package overlay keeps the per-trip set of bills the user archived on this
// device. The set is never written to the remote store; it is merged onto
// remote bills when they are rendered.
package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mmynk/tripsync/internal/metrics"
	"github.com/mmynk/tripsync/internal/remote"
	"github.com/mmynk/tripsync/internal/storage"
)

// Set is a set of archived bill ids.
type Set map[string]struct{}

// NewSet builds a Set from ids.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set. A nil set has no members.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the members in sorted order.
func (s Set) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Key returns the storage key of tripID's overlay.
func Key(tripID string) string {
	return "archivedBills_" + tripID
}

// Store reads and writes overlays through a storage.KV. One Store must be the
// only writer of its KV.
type Store struct {
	kv      storage.KV
	logger  *slog.Logger
	metrics *metrics.Metrics

	// mu serializes read-modify-write cycles.
	mu sync.Mutex
}

// New creates a Store. m may be nil.
func New(kv storage.KV, logger *slog.Logger, m *metrics.Metrics) *Store {
	return &Store{
		kv:      kv,
		logger:  logger.With("component", "overlay"),
		metrics: m,
	}
}

// Load returns the archived set of tripID. It never fails: a missing entry,
// an unreadable store or a payload that does not parse all yield an empty set.
func (s *Store) Load(ctx context.Context, tripID string) Set {
	if tripID == "" {
		return Set{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.loadLocked(ctx, tripID)
	if err != nil {
		s.logger.Warn("Failed to read archive overlay", "trip_id", tripID, "error", err)
		return Set{}
	}
	return set
}

// loadLocked treats a missing or corrupt payload as an empty set. Read
// errors are returned so that callers about to write do not overwrite a
// set they never saw.
func (s *Store) loadLocked(ctx context.Context, tripID string) (Set, error) {
	raw, err := s.kv.Get(ctx, Key(tripID))
	if errors.Is(err, storage.ErrNotFound) {
		return Set{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read overlay for trip %s: %w", tripID, err)
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		s.metrics.OverlayRecovered()
		s.logger.Warn("Discarding corrupt archive overlay", "trip_id", tripID, "error", err)
		return Set{}, nil
	}
	return NewSet(ids...), nil
}

// Save replaces the archived set of tripID.
func (s *Store) Save(ctx context.Context, tripID string, set Set) error {
	if tripID == "" {
		return fmt.Errorf("%w: save overlay", remote.ErrInvalidParent)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, tripID, set)
}

func (s *Store) saveLocked(ctx context.Context, tripID string, set Set) error {
	payload, err := json.Marshal(set.IDs())
	if err != nil {
		return fmt.Errorf("failed to encode overlay: %w", err)
	}
	if err := s.kv.Set(ctx, Key(tripID), string(payload)); err != nil {
		return fmt.Errorf("failed to save overlay for trip %s: %w", tripID, err)
	}
	return nil
}

// Archive adds billID to tripID's set and persists it before returning the
// new set.
func (s *Store) Archive(ctx context.Context, tripID, billID string) (Set, error) {
	return s.update(ctx, tripID, billID, func(set Set) { set[billID] = struct{}{} })
}

// Restore removes billID from tripID's set and persists it before returning
// the new set.
func (s *Store) Restore(ctx context.Context, tripID, billID string) (Set, error) {
	return s.update(ctx, tripID, billID, func(set Set) { delete(set, billID) })
}

func (s *Store) update(ctx context.Context, tripID, billID string, apply func(Set)) (Set, error) {
	if tripID == "" || billID == "" {
		return nil, fmt.Errorf("%w: trip %q bill %q", remote.ErrInvalidParent, tripID, billID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.loadLocked(ctx, tripID)
	if err != nil {
		return nil, err
	}
	apply(set)
	if err := s.saveLocked(ctx, tripID, set); err != nil {
		return nil, err
	}
	return set.Clone(), nil
}
