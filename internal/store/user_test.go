package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/tripsync/internal/auth"
	"github.com/mmynk/tripsync/internal/models"
)

func TestUserStore_SignInCreatesDefaultProfile(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, Unauthenticated, h.users.State())
	assert.Nil(t, h.users.User())

	h.signIn("u1")

	assert.Equal(t, Subscribed, h.users.State())
	assert.Equal(t, "u1", h.users.UID())
	doc, ok := h.backend.Get("users/u1")
	require.True(t, ok, "default profile was not written")
	assert.Equal(t, "", doc[models.FieldName])

	u := h.users.User()
	require.NotNil(t, u)
	assert.Equal(t, "u1", u.UID)
	assert.Empty(t, u.CurrentTripID)
	assert.Equal(t, 1, h.remote.Live())
}

func TestUserStore_DefaultProfileOncePerSignIn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signIn("u1")
	require.NoError(t, h.users.Logout(ctx))

	// The record disappears while u1 is signed out.
	require.NoError(t, h.backend.Delete(ctx, "users/u1"))

	h.signIn("u1")
	_, ok := h.backend.Get("users/u1")
	assert.True(t, ok, "default profile was not written again")
	assert.Equal(t, "u1", h.users.User().UID)
}

func TestUserStore_ExistingProfileIsKept(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.backend.Set(ctx, "users/u1", map[string]any{
		models.FieldName: "Ana",
		models.FieldBio:  "window seat",
	}, false))

	h.signIn("u1")

	u := h.users.User()
	assert.Equal(t, "Ana", u.Name)
	assert.Equal(t, "window seat", u.Bio)
}

func TestUserStore_UpdateProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	name := "Ana"
	err := h.users.UpdateProfile(ctx, ProfilePatch{Name: &name})
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)

	h.signIn("u1")
	pref := "slow travel"
	require.NoError(t, h.users.UpdateProfile(ctx, ProfilePatch{Name: &name, TravelPreference: &pref}))

	require.Eventually(t, func() bool {
		u := h.users.User()
		return u != nil && u.Name == "Ana"
	}, waitFor, tick)
	assert.Equal(t, "slow travel", h.users.User().TravelPreference)
}

func TestUserStore_Logout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signIn("u1")
	h.createTrip("Iceland")
	assert.Equal(t, 5, h.remote.Live())

	var (
		mu      sync.Mutex
		cleared []*models.User
	)
	h.users.OnChange(func(u *models.User) {
		mu.Lock()
		defer mu.Unlock()
		cleared = append(cleared, u)
	})

	require.NoError(t, h.users.Logout(ctx))

	assert.Equal(t, Unauthenticated, h.users.State())
	assert.Nil(t, h.users.User())
	assert.Empty(t, h.auth.CurrentUserID())
	mu.Lock()
	require.NotEmpty(t, cleared)
	assert.Nil(t, cleared[len(cleared)-1])
	mu.Unlock()

	// Every store lets go of its subscriptions.
	assert.Equal(t, 0, h.remote.Live())
	assert.Equal(t, NoTrip, h.trips.State())
	assert.Empty(t, h.bills.TripID())
	require.Eventually(t, func() bool { return h.backend.Watches() == 0 }, waitFor, tick)

	assert.ErrorIs(t, h.users.SetCurrentTrip(ctx, "t1"), auth.ErrNotAuthenticated)
}

func TestUserStore_SwitchingUsersReleasesPreviousSubscription(t *testing.T) {
	h := newHarness(t)
	h.signIn("u1")
	h.signIn("u2")

	assert.Equal(t, "u2", h.users.UID())
	assert.Equal(t, 1, h.remote.Live())
	require.Eventually(t, func() bool { return h.users.User().UID == "u2" }, waitFor, tick)
}

func TestUserStore_StaleSnapshotIgnored(t *testing.T) {
	backend, _, users, _ := scriptedStores(t, "u1")
	old := backend.latest(t, "users/u1")

	require.NoError(t, users.Logout(context.Background()))
	assert.True(t, old.released())

	// A callback already in flight when the subscription was released.
	old.deliver(doc("u1", map[string]any{models.FieldName: "Ana"}), nil)

	assert.Nil(t, users.User())
	assert.Equal(t, Unauthenticated, users.State())
}
