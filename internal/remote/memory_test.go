package remote

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/timestamppb"
)

func TestMemoryBackend_Set(t *testing.T) {
	ctx := context.Background()

	t.Run("merge keeps other fields", func(t *testing.T) {
		b := NewMemoryBackend()
		require.NoError(t, b.Set(ctx, "users/u1", map[string]any{"name": "Ana", "bio": "hi"}, false))
		require.NoError(t, b.Set(ctx, "users/u1", map[string]any{"bio": "hello"}, true))

		doc, ok := b.Get("users/u1")
		require.True(t, ok)
		assert.Equal(t, "Ana", doc["name"])
		assert.Equal(t, "hello", doc["bio"])
	})

	t.Run("replace drops other fields", func(t *testing.T) {
		b := NewMemoryBackend()
		require.NoError(t, b.Set(ctx, "trips/t1/bills/b1", map[string]any{
			"title":   "Dinner",
			"summary": map[string]any{"u1": map[string]any{"u2": 10.0}},
		}, false))
		require.NoError(t, b.Set(ctx, "trips/t1/bills/b1", map[string]any{
			"title":   "Dinner",
			"summary": map[string]any{"u1": map[string]any{"u3": 5.0}},
		}, false))

		doc, _ := b.Get("trips/t1/bills/b1")
		assert.Equal(t, map[string]any{"u1": map[string]any{"u3": 5.0}}, doc["summary"])
	})

	t.Run("array union skips present elements", func(t *testing.T) {
		b := NewMemoryBackend()
		require.NoError(t, b.Set(ctx, "users/u1", map[string]any{"tripsIdList": []string{"t1"}}, false))
		require.NoError(t, b.Set(ctx, "users/u1", map[string]any{"tripsIdList": ArrayUnion("t1", "t2")}, true))
		require.NoError(t, b.Set(ctx, "users/u1", map[string]any{"tripsIdList": ArrayUnion("t2")}, true))

		doc, _ := b.Get("users/u1")
		assert.Equal(t, []any{"t1", "t2"}, doc["tripsIdList"])
	})

	t.Run("server timestamp", func(t *testing.T) {
		b := NewMemoryBackend()
		now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		b.now = func() time.Time { return now }
		require.NoError(t, b.Set(ctx, "trips/t1/transactions/x", map[string]any{"createdAt": ServerTimestamp}, false))

		doc, _ := b.Get("trips/t1/transactions/x")
		ts, ok := doc["createdAt"].(*timestamppb.Timestamp)
		require.True(t, ok)
		assert.True(t, ts.AsTime().Equal(now))
	})

	t.Run("stored values are copies", func(t *testing.T) {
		b := NewMemoryBackend()
		fields := map[string]any{"amounts": map[string]any{"u1": "10"}}
		require.NoError(t, b.Set(ctx, "trips/t1/bills/b1", fields, false))
		fields["amounts"].(map[string]any)["u1"] = "99"

		doc, _ := b.Get("trips/t1/bills/b1")
		doc["amounts"].(map[string]any)["u2"] = "1"

		again, _ := b.Get("trips/t1/bills/b1")
		assert.Equal(t, map[string]any{"u1": "10"}, again["amounts"])
	})
}

func TestMemoryBackend_AddAndDelete(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	id, err := b.Add(ctx, "trips", map[string]any{"title": "Iceland"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, b.Set(ctx, "trips/"+id+"/bills/b1", map[string]any{"title": "x"}, false))
	require.NoError(t, b.Delete(ctx, "trips/"+id))
	require.NoError(t, b.Delete(ctx, "trips/"+id))

	_, ok := b.Get("trips/" + id)
	assert.False(t, ok)
	_, ok = b.Get("trips/" + id + "/bills/b1")
	assert.True(t, ok, "sub-collections survive a parent delete")
}

func TestMemoryBackend_WatchNeverDeliversSynchronously(t *testing.T) {
	b := NewMemoryBackend()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// deliver takes mu, which is held across Watch.
	var mu sync.Mutex
	delivered := make(chan Snapshot, 4)
	mu.Lock()
	err := b.Watch(ctx, targetFor(KindTrip, "t1"), func(s Snapshot, err error) {
		mu.Lock()
		defer mu.Unlock()
		delivered <- s
	})
	mu.Unlock()
	require.NoError(t, err)

	select {
	case s := <-delivered:
		assert.False(t, s.Exists)
	case <-time.After(waitFor):
		t.Fatal("no initial snapshot")
	}

	cancel()
	require.Eventually(t, func() bool { return b.Watches() == 0 }, waitFor, tick)
}
