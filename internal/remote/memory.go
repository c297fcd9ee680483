package remote

import (
	"context"
	"fmt"
	"path"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Ensure MemoryBackend implements Backend
var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend is an in-process push document store. It is used when no
// Firestore project is configured and in tests. Server timestamps are stored
// as *timestamppb.Timestamp, the way they come out of a protobuf-based
// transport.
type MemoryBackend struct {
	mu       sync.Mutex
	docs     map[string]map[string]any
	watches  map[uint64]*memWatch
	nextID   uint64
	now      func() time.Time
	writeErr error
}

type memEvent struct {
	snap Snapshot
	err  error
}

type memWatch struct {
	target Target

	mu     sync.Mutex
	queue  []memEvent
	signal chan struct{}
}

func (w *memWatch) push(ev memEvent) {
	w.mu.Lock()
	w.queue = append(w.queue, ev)
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *memWatch) drain() []memEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	events := w.queue
	w.queue = nil
	return events
}

// NewMemoryBackend returns an empty store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		docs:    make(map[string]map[string]any),
		watches: make(map[uint64]*memWatch),
		now:     time.Now,
	}
}

// FailWrites makes every following write return err, until called with nil.
func (b *MemoryBackend) FailWrites(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeErr = err
}

// Break delivers err to every watch on target path, as a dropped listener
// would.
func (b *MemoryBackend) Break(targetPath string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, w := range b.watches {
		if w.target.Path == targetPath {
			w.push(memEvent{err: err})
		}
	}
}

// Watches returns the number of registered watches.
func (b *MemoryBackend) Watches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watches)
}

// Get returns a copy of the document at docPath.
func (b *MemoryBackend) Get(docPath string) (map[string]any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.docs[docPath]
	if !ok {
		return nil, false
	}
	return copyMap(data), true
}

// Watch registers a watch and queues the current content as its first
// snapshot.
func (b *MemoryBackend) Watch(ctx context.Context, target Target, deliver func(Snapshot, error)) error {
	w := &memWatch{target: target, signal: make(chan struct{}, 1)}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.watches[id] = w
	w.push(memEvent{snap: b.snapshotLocked(target)})
	b.mu.Unlock()

	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.watches, id)
			b.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.signal:
			}
			for _, ev := range w.drain() {
				if ctx.Err() != nil {
					return
				}
				deliver(ev.snap, ev.err)
			}
		}
	}()
	return nil
}

// Set writes a document and notifies watchers.
func (b *MemoryBackend) Set(ctx context.Context, docPath string, fields map[string]any, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return b.writeErr
	}

	var base map[string]any
	if merge {
		base = b.docs[docPath]
	}
	next := make(map[string]any, len(fields))
	if base != nil {
		next = copyMap(base)
	}
	b.applyLocked(next, base, fields)
	b.docs[docPath] = next
	b.notifyLocked(docPath)
	return nil
}

// Update merges fields into an existing document.
func (b *MemoryBackend) Update(ctx context.Context, docPath string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return b.writeErr
	}
	existing, ok := b.docs[docPath]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoDocument, docPath)
	}
	// Update replaces map fields whole; only Set with merge merges into them.
	base := copyMap(existing)
	for k, v := range fields {
		if _, ok := v.(map[string]any); ok {
			delete(base, k)
		}
	}
	next := copyMap(base)
	b.applyLocked(next, base, fields)
	b.docs[docPath] = next
	b.notifyLocked(docPath)
	return nil
}

// Add creates a document with a random id.
func (b *MemoryBackend) Add(ctx context.Context, collectionPath string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := b.Set(ctx, collectionPath+"/"+id, fields, false); err != nil {
		return "", err
	}
	return id, nil
}

// Delete removes a document and notifies watchers. Sub-collections are kept,
// as in Firestore.
func (b *MemoryBackend) Delete(ctx context.Context, docPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return b.writeErr
	}
	if _, ok := b.docs[docPath]; !ok {
		return nil
	}
	delete(b.docs, docPath)
	b.notifyLocked(docPath)
	return nil
}

func (b *MemoryBackend) applyLocked(dst, existing map[string]any, fields map[string]any) {
	for k, v := range fields {
		switch val := v.(type) {
		case serverTimestamp:
			dst[k] = timestamppb.New(b.now())
		case ArrayUnionValue:
			var current []any
			if existing != nil {
				current, _ = existing[k].([]any)
			}
			dst[k] = unionValues(current, val.Elems)
		case map[string]any:
			var prev map[string]any
			if existing != nil {
				prev, _ = existing[k].(map[string]any)
			}
			nested := make(map[string]any, len(val))
			if prev != nil {
				nested = copyMap(prev)
			}
			b.applyLocked(nested, prev, val)
			dst[k] = nested
		default:
			dst[k] = copyValue(v)
		}
	}
}

// notifyLocked queues a fresh snapshot for every watch that sees docPath.
func (b *MemoryBackend) notifyLocked(docPath string) {
	parent := path.Dir(docPath)
	for _, w := range b.watches {
		if w.target.Path == docPath || w.target.Path == parent {
			w.push(memEvent{snap: b.snapshotLocked(w.target)})
		}
	}
}

func (b *MemoryBackend) snapshotLocked(target Target) Snapshot {
	if !target.Kind.Collection() {
		data, ok := b.docs[target.Path]
		if !ok {
			return Snapshot{}
		}
		return Snapshot{
			Docs:   []Document{{ID: path.Base(target.Path), Data: copyMap(data)}},
			Exists: true,
		}
	}

	snap := Snapshot{Exists: true}
	for p, data := range b.docs {
		if path.Dir(p) == target.Path {
			snap.Docs = append(snap.Docs, Document{ID: path.Base(p), Data: copyMap(data)})
		}
	}
	sort.Slice(snap.Docs, func(i, j int) bool { return snap.Docs[i].ID < snap.Docs[j].ID })
	return snap
}

func unionValues(current, add []any) []any {
	out := append([]any(nil), current...)
	for _, v := range add {
		found := false
		for _, c := range out {
			if reflect.DeepEqual(c, v) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, v)
		}
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = e
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = e
		}
		return out
	case map[string]map[string]float64:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			m := make(map[string]any, len(inner))
			for ik, f := range inner {
				m[ik] = f
			}
			out[k] = m
		}
		return out
	default:
		return v
	}
}
