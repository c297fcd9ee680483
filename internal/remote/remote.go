// Package remote connects the stores to the push-based document store.
//
// A subscription watches one document or one collection and delivers a full
// replacement snapshot on every change, never a delta. Writes go through the
// same Manager so that failures are classified in one place.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidParent is returned when an operation is given an empty trip,
	// user or document id. It indicates a caller bug.
	ErrInvalidParent = errors.New("invalid parent key")

	// ErrRemoteUnavailable wraps every subscription and write failure.
	ErrRemoteUnavailable = errors.New("remote store unavailable")

	// ErrClosed is returned by Subscribe after Close.
	ErrClosed = errors.New("remote manager closed")

	// ErrNoDocument is returned by Update when the document does not exist.
	ErrNoDocument = errors.New("document does not exist")
)

// Kind identifies what a subscription watches.
type Kind int

const (
	KindUser Kind = iota + 1
	KindTrip
	KindDestinations
	KindBills
	KindTransactions
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindTrip:
		return "trip"
	case KindDestinations:
		return "destinations"
	case KindBills:
		return "bills"
	case KindTransactions:
		return "transactions"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Collection reports whether the kind watches a collection rather than a
// single document.
func (k Kind) Collection() bool {
	return k == KindDestinations || k == KindBills || k == KindTransactions
}

// CollectionPath returns the collection holding documents of kind. The
// parent key is the trip id for trip sub-collections and ignored otherwise.
func CollectionPath(k Kind, parentKey string) string {
	switch k {
	case KindUser:
		return "users"
	case KindTrip:
		return "trips"
	case KindDestinations:
		return "trips/" + parentKey + "/destinations"
	case KindBills:
		return "trips/" + parentKey + "/bills"
	case KindTransactions:
		return "trips/" + parentKey + "/transactions"
	default:
		return ""
	}
}

// DocumentPath returns the path of document id of kind.
func DocumentPath(k Kind, parentKey, id string) string {
	return CollectionPath(k, parentKey) + "/" + id
}

// Target is what a backend watches.
type Target struct {
	Kind Kind
	Path string
}

func targetFor(k Kind, parentKey string) Target {
	if k.Collection() {
		return Target{Kind: k, Path: CollectionPath(k, parentKey)}
	}
	return Target{Kind: k, Path: DocumentPath(k, "", parentKey)}
}

// Document is one untyped remote document.
type Document struct {
	ID   string
	Data map[string]any
}

// Snapshot is the full current content of a watched target.
type Snapshot struct {
	// Docs holds every document of a collection, or the single document of
	// a document target.
	Docs []Document

	// Exists is false when a watched document is missing or was deleted.
	// It is always true for collections.
	Exists bool
}

// Event is one notification delivered to a subscriber.
type Event struct {
	Kind      Kind
	ParentKey string
	Snapshot

	// Err is set, wrapping ErrRemoteUnavailable, when the subscription
	// failed. Snapshot is empty in that case.
	Err error
}

// Backend is a push-based document store.
//
// Watch starts watching target and returns once the watch is registered.
// deliver is called from a goroutine owned by the backend, one call at a
// time and in commit order, until ctx is cancelled. Watch must never call
// deliver before it returns.
//
// Update merges fields into an existing document and fails with an error
// wrapping ErrNoDocument when there is none.
type Backend interface {
	Watch(ctx context.Context, target Target, deliver func(Snapshot, error)) error
	Set(ctx context.Context, docPath string, fields map[string]any, merge bool) error
	Update(ctx context.Context, docPath string, fields map[string]any) error
	Add(ctx context.Context, collectionPath string, fields map[string]any) (string, error)
	Delete(ctx context.Context, docPath string) error
}

type serverTimestamp struct{}

// ServerTimestamp, used as a field value, is replaced by the commit time.
var ServerTimestamp any = serverTimestamp{}

// ArrayUnionValue, used as a field value, adds its elements to an array
// field, skipping elements already present.
type ArrayUnionValue struct {
	Elems []any
}

// ArrayUnion builds an ArrayUnionValue.
func ArrayUnion(elems ...any) ArrayUnionValue {
	return ArrayUnionValue{Elems: elems}
}

// Result is the outcome of parsing one remote document: either Value or a
// parse failure in Err.
type Result[T any] struct {
	ID    string
	Value T
	Err   error
}

// OK reports whether the document parsed.
func (r Result[T]) OK() bool { return r.Err == nil }

// Decode parses every document with parse.
func Decode[T any](docs []Document, parse func(id string, data map[string]any) (T, error)) []Result[T] {
	out := make([]Result[T], 0, len(docs))
	for _, d := range docs {
		v, err := parse(d.ID, d.Data)
		out = append(out, Result[T]{ID: d.ID, Value: v, Err: err})
	}
	return out
}

// Values splits results into parsed values and failures.
func Values[T any](results []Result[T]) ([]T, []error) {
	var (
		values []T
		errs   []error
	)
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		values = append(values, r.Value)
	}
	return values, errs
}

// checkPath verifies path has no empty segment and addresses a document
// (even segment count) or a collection (odd).
func checkPath(path string, document bool) error {
	segments := strings.Split(path, "/")
	for _, s := range segments {
		if s == "" {
			return fmt.Errorf("%w: %q", ErrInvalidParent, path)
		}
	}
	if (len(segments)%2 == 0) != document {
		want := "collection"
		if document {
			want = "document"
		}
		return fmt.Errorf("%w: %q is not a %s path", ErrInvalidParent, path, want)
	}
	return nil
}
