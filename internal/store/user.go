package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mmynk/tripsync/internal/auth"
	"github.com/mmynk/tripsync/internal/models"
	"github.com/mmynk/tripsync/internal/remote"
)

// UserState is the lifecycle state of a UserStore.
type UserState int

const (
	Unauthenticated UserState = iota
	Subscribed
)

func (s UserState) String() string {
	if s == Subscribed {
		return "subscribed"
	}
	return "unauthenticated"
}

// ProfilePatch holds the profile fields to change. Nil fields are left alone.
type ProfilePatch struct {
	Name             *string
	Bio              *string
	TravelPreference *string
}

// UserStore tracks the record of the signed-in user through one subscription
// keyed by the user id.
type UserStore struct {
	remote *remote.Manager
	auth   auth.Provider
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	uid     string
	gen     uint64
	handle  *remote.Handle
	user    *models.User
	err     error
	// profiled records whether a default profile was written for the
	// signed-in user during this sign-in.
	profiled map[string]bool

	cancelAuth func()
	changes    listeners[*models.User]
}

// NewUserStore creates a stopped UserStore.
func NewUserStore(rm *remote.Manager, provider auth.Provider, logger *slog.Logger) *UserStore {
	return &UserStore{
		remote:   rm,
		auth:     provider,
		logger:   logger.With("component", "user_store"),
		profiled: make(map[string]bool),
	}
}

// Start follows the auth provider from now on and subscribes to the
// signed-in user, if any.
func (s *UserStore) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	cancel := s.auth.OnAuthChange(func(string) { s.reconcile() })

	s.mu.Lock()
	s.cancelAuth = cancel
	s.mu.Unlock()

	s.reconcile()
}

// Stop stops following the auth provider and releases the subscription.
// The session itself is left alone.
func (s *UserStore) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancelAuth
	s.cancelAuth = nil
	changed := s.switchLocked("")
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if changed {
		s.changes.notify(nil)
	}
}

// Logout releases the subscription, clears the user and then ends the
// session with the auth provider.
func (s *UserStore) Logout(ctx context.Context) error {
	s.mu.Lock()
	uid := s.uid
	changed := s.switchLocked("")
	s.mu.Unlock()

	if changed {
		s.changes.notify(nil)
	}
	if err := s.auth.SignOut(ctx); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	s.logger.Info("Logged out", "user_id", uid)
	return nil
}

// State returns the lifecycle state.
func (s *UserStore) State() UserState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uid == "" {
		return Unauthenticated
	}
	return Subscribed
}

// UID returns the id of the signed-in user, or "".
func (s *UserStore) UID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uid
}

// User returns a copy of the current user record. It is nil when signed out,
// before the first snapshot, and while the record does not exist.
func (s *UserStore) User() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyUser(s.user)
}

// Err returns the last subscription failure, cleared by the next good
// snapshot.
func (s *UserStore) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// OnChange registers fn to receive the user record after every change.
func (s *UserStore) OnChange(fn func(*models.User)) (cancel func()) {
	return s.changes.add(fn)
}

// UpdateProfile writes the non-nil fields of patch to the user record.
func (s *UserStore) UpdateProfile(ctx context.Context, patch ProfilePatch) error {
	uid := s.UID()
	if uid == "" {
		return auth.ErrNotAuthenticated
	}
	fields := make(map[string]any, 3)
	if patch.Name != nil {
		fields[models.FieldName] = *patch.Name
	}
	if patch.Bio != nil {
		fields[models.FieldBio] = *patch.Bio
	}
	if patch.TravelPreference != nil {
		fields[models.FieldTravelPreference] = *patch.TravelPreference
	}
	if len(fields) == 0 {
		return nil
	}
	return s.remote.Set(ctx, remote.DocumentPath(remote.KindUser, "", uid), fields, true)
}

// SetCurrentTrip points the user at tripID. An empty tripID clears it.
func (s *UserStore) SetCurrentTrip(ctx context.Context, tripID string) error {
	uid := s.UID()
	if uid == "" {
		return auth.ErrNotAuthenticated
	}
	var value any
	if tripID != "" {
		value = tripID
	}
	return s.remote.Set(ctx, remote.DocumentPath(remote.KindUser, "", uid),
		map[string]any{models.FieldCurrentTripID: value}, true)
}

// linkTrip sets tripID as current and adds it to the user's trip list in one
// write. It is idempotent.
func (s *UserStore) linkTrip(ctx context.Context, uid, tripID string) error {
	return s.remote.Set(ctx, remote.DocumentPath(remote.KindUser, "", uid), map[string]any{
		models.FieldCurrentTripID: tripID,
		models.FieldTripsIDList:   remote.ArrayUnion(tripID),
	}, true)
}

func (s *UserStore) reconcile() {
	s.mu.Lock()
	want := ""
	if s.started {
		want = s.auth.CurrentUserID()
	}
	changed := s.switchLocked(want)
	s.mu.Unlock()

	if changed {
		s.changes.notify(nil)
	}
}

// switchLocked moves the store to uid, releasing the previous subscription
// first. It reports whether anything changed.
func (s *UserStore) switchLocked(uid string) bool {
	if uid == s.uid {
		return false
	}
	if s.handle != nil {
		s.remote.Unsubscribe(s.handle)
		s.handle = nil
	}
	s.gen++
	prev := s.uid
	delete(s.profiled, prev)
	s.uid = uid
	s.user = nil
	s.err = nil

	if uid == "" {
		s.logger.Info("User cleared", "previous_user_id", prev)
		return true
	}

	gen := s.gen
	h, err := s.remote.Subscribe(remote.KindUser, uid, func(ev remote.Event) {
		s.onSnapshot(gen, ev)
	})
	if err != nil {
		s.logger.Error("Failed to subscribe to user", "user_id", uid, "error", err)
		s.err = err
		return true
	}
	s.handle = h
	s.logger.Info("User subscribed", "user_id", uid)
	return true
}

func (s *UserStore) onSnapshot(gen uint64, ev remote.Event) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if ev.Err != nil {
		s.err = ev.Err
		s.mu.Unlock()
		s.logger.Warn("User subscription failed, keeping last snapshot", "error", ev.Err)
		return
	}

	uid := s.uid
	createProfile := false
	if !ev.Exists || len(ev.Docs) == 0 {
		s.user = nil
		if !s.profiled[uid] {
			s.profiled[uid] = true
			createProfile = true
		}
	} else {
		u, err := models.ParseUser(ev.Docs[0].ID, ev.Docs[0].Data)
		if err != nil {
			s.err = err
			s.mu.Unlock()
			s.logger.Warn("Ignoring unparsable user snapshot", "error", err)
			return
		}
		s.user = &u
		s.err = nil
	}
	user := copyUser(s.user)
	s.mu.Unlock()

	if createProfile {
		s.writeDefaultProfile(uid)
	}
	s.changes.notify(user)
}

// writeDefaultProfile creates the record of a user signing in for the first
// time. It merges so that a record created concurrently by another device is
// not clobbered.
func (s *UserStore) writeDefaultProfile(uid string) {
	err := s.remote.Set(context.Background(), remote.DocumentPath(remote.KindUser, "", uid), map[string]any{
		models.FieldName:             "",
		models.FieldBio:              "",
		models.FieldTravelPreference: "",
	}, true)
	if err != nil {
		s.logger.Warn("Failed to create default profile", "user_id", uid, "error", err)
		s.mu.Lock()
		delete(s.profiled, uid)
		s.mu.Unlock()
		return
	}
	s.logger.Info("Created default profile", "user_id", uid)
}

func copyUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	out := *u
	out.TripsIDList = append([]string(nil), u.TripsIDList...)
	return &out
}
