// Package store keeps the in-memory view of the signed-in user, their current
// trip and the trip's bills and transactions in sync with the remote store.
//
// Each store owns its snapshot and is fed by remote subscriptions. Snapshots
// are never updated optimistically: a mutation is a remote write, and the new
// state arrives through the subscription like any other change.
//
// The stores form a chain, UserStore -> TripStore -> BillStore. A downstream
// store reacts to an upstream change by re-reading the upstream state while
// holding its own lock, so that notifications arriving out of order on
// different goroutines still converge on the latest state. Locks are only
// ever taken in that direction.
package store

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/mmynk/tripsync/internal/remote"
)

// OrphanTripError is returned by TripStore.CreateTrip when the trip was
// created but could not be linked to the user. Retry with TripStore.LinkTrip.
type OrphanTripError struct {
	TripID string
	Err    error
}

func (e *OrphanTripError) Error() string {
	return fmt.Sprintf("trip %s created but not linked to user: %v", e.TripID, e.Err)
}

func (e *OrphanTripError) Unwrap() error { return e.Err }

// listeners is a set of change callbacks.
type listeners[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

// add registers fn and returns a func that unregisters it.
func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	l.next++
	id := l.next
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

// notify calls every listener with v. It must not be called with a store
// lock held.
func (l *listeners[T]) notify(v T) {
	l.mu.Lock()
	fns := make([]func(T), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

func logParseFailures(logger *slog.Logger, kind remote.Kind, errs []error) {
	for _, err := range errs {
		logger.Warn("Skipping unparsable document", "kind", kind, "error", err)
	}
}
