package store

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mmynk/tripsync/internal/auth"
	"github.com/mmynk/tripsync/internal/notify"
	"github.com/mmynk/tripsync/internal/overlay"
	"github.com/mmynk/tripsync/internal/remote"
	"github.com/mmynk/tripsync/internal/storage/sqlite"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var discard = slog.New(slog.DiscardHandler)

// recordingNotifier keeps every settlement it is told about.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Settlement
	err  error
}

func (n *recordingNotifier) SettlementRecorded(_ context.Context, s notify.Settlement) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, s)
	return n.err
}

func (n *recordingNotifier) settlements() []notify.Settlement {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Settlement(nil), n.sent...)
}

// failingBackend fails writes to paths with a given prefix.
type failingBackend struct {
	remote.Backend
	mu     sync.Mutex
	prefix string
}

func (b *failingBackend) failPrefix(prefix string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prefix = prefix
}

func (b *failingBackend) fails(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prefix != "" && strings.HasPrefix(path, b.prefix)
}

func (b *failingBackend) Set(ctx context.Context, docPath string, fields map[string]any, merge bool) error {
	if b.fails(docPath) {
		return errors.New("deadline exceeded")
	}
	return b.Backend.Set(ctx, docPath, fields, merge)
}

// harness wires the three stores on top of an in-memory backend.
type harness struct {
	t        *testing.T
	backend  *remote.MemoryBackend
	failing  *failingBackend
	remote   *remote.Manager
	jwt      *auth.JWTManager
	auth     *auth.TokenProvider
	overlay  *overlay.Store
	notifier *recordingNotifier

	users *UserStore
	trips *TripStore
	bills *BillStore
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, remote.NewMemoryBackend(), filepath.Join(t.TempDir(), "overlay.db"))
}

func newHarnessWith(t *testing.T, backend *remote.MemoryBackend, dbPath string) *harness {
	t.Helper()

	kv, err := sqlite.New(dbPath)
	require.NoError(t, err)

	h := &harness{
		t:        t,
		backend:  backend,
		failing:  &failingBackend{Backend: backend},
		jwt:      auth.NewJWTManager("test-secret", time.Hour),
		notifier: &recordingNotifier{},
	}
	h.remote = remote.NewManager(h.failing, discard, nil)
	h.auth = auth.NewTokenProvider(h.jwt, discard)
	h.overlay = overlay.New(kv, discard, nil)
	h.users = NewUserStore(h.remote, h.auth, discard)
	h.trips = NewTripStore(h.remote, h.users, discard)
	h.bills = NewBillStore(h.remote, h.trips, h.users, h.overlay, h.notifier, discard)

	h.users.Start()
	h.trips.Start()
	h.bills.Start()

	t.Cleanup(func() {
		h.bills.Stop()
		h.trips.Stop()
		h.users.Stop()
		h.remote.Close()
		kv.Close()
	})
	return h
}

func (h *harness) signIn(uid string) {
	h.t.Helper()
	token, err := h.jwt.Generate(uid)
	require.NoError(h.t, err)
	_, err = h.auth.SignIn(context.Background(), token)
	require.NoError(h.t, err)
	require.Eventually(h.t, func() bool { return h.users.User() != nil }, waitFor, tick)
}

// createTrip creates a trip as the signed-in user and waits until it is
// active in every store.
func (h *harness) createTrip(title string) string {
	h.t.Helper()
	id, err := h.trips.CreateTrip(context.Background(), TripInput{
		Title:     title,
		StartDate: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(h.t, err)
	require.Eventually(h.t, func() bool {
		return h.trips.ActiveTripID() == id && h.bills.TripID() == id
	}, waitFor, tick)
	return id
}

// scriptedBackend hands every delivery to the test, which pushes snapshots
// by path from its own goroutine.
type scriptedBackend struct {
	mu      sync.Mutex
	watches map[string][]*scriptedWatch
	writes  []string
}

type scriptedWatch struct {
	ctx     context.Context
	deliver func(remote.Snapshot, error)
}

func (w *scriptedWatch) released() bool { return w.ctx.Err() != nil }

func newScriptedBackend() *scriptedBackend {
	return &scriptedBackend{watches: make(map[string][]*scriptedWatch)}
}

func (b *scriptedBackend) Watch(ctx context.Context, target remote.Target, deliver func(remote.Snapshot, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watches[target.Path] = append(b.watches[target.Path], &scriptedWatch{ctx: ctx, deliver: deliver})
	return nil
}

// latest returns the newest watch on path.
func (b *scriptedBackend) latest(t *testing.T, path string) *scriptedWatch {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	ws := b.watches[path]
	require.NotEmpty(t, ws, "no watch on %s", path)
	return ws[len(ws)-1]
}

func (b *scriptedBackend) count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watches[path])
}

// push delivers snap to the newest live watch on path.
func (b *scriptedBackend) push(t *testing.T, path string, snap remote.Snapshot) {
	t.Helper()
	w := b.latest(t, path)
	require.False(t, w.released(), "watch on %s was released", path)
	w.deliver(snap, nil)
}

func (b *scriptedBackend) Set(_ context.Context, docPath string, _ map[string]any, _ bool) error {
	b.record(docPath)
	return nil
}

func (b *scriptedBackend) Update(_ context.Context, docPath string, _ map[string]any) error {
	b.record(docPath)
	return nil
}

func (b *scriptedBackend) Add(_ context.Context, collectionPath string, _ map[string]any) (string, error) {
	b.record(collectionPath)
	return "generated", nil
}

func (b *scriptedBackend) Delete(_ context.Context, docPath string) error {
	b.record(docPath)
	return nil
}

func (b *scriptedBackend) record(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, path)
}

func doc(id string, data map[string]any) remote.Snapshot {
	return remote.Snapshot{Exists: true, Docs: []remote.Document{{ID: id, Data: data}}}
}

func collection(docs ...remote.Document) remote.Snapshot {
	return remote.Snapshot{Exists: true, Docs: docs}
}

// scriptedStores wires a UserStore and TripStore on a scriptedBackend and
// signs uid in.
func scriptedStores(t *testing.T, uid string) (*scriptedBackend, *remote.Manager, *UserStore, *TripStore) {
	t.Helper()
	backend := newScriptedBackend()
	rm := remote.NewManager(backend, discard, nil)
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	provider := auth.NewTokenProvider(jwtManager, discard)

	users := NewUserStore(rm, provider, discard)
	trips := NewTripStore(rm, users, discard)
	users.Start()
	trips.Start()
	t.Cleanup(func() {
		trips.Stop()
		users.Stop()
		rm.Close()
	})

	token, err := jwtManager.Generate(uid)
	require.NoError(t, err)
	_, err = provider.SignIn(context.Background(), token)
	require.NoError(t, err)
	return backend, rm, users, trips
}
