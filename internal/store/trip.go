package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mmynk/tripsync/internal/auth"
	"github.com/mmynk/tripsync/internal/models"
	"github.com/mmynk/tripsync/internal/remote"
)

// TripState is the lifecycle state of a TripStore.
type TripState int

const (
	NoTrip TripState = iota
	Loading
	Active
)

func (s TripState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Active:
		return "active"
	default:
		return "no_trip"
	}
}

// TripView is what TripStore listeners receive. Trip is nil unless State is
// Active.
type TripView struct {
	State TripState
	Trip  *models.Trip
}

// TripInput describes a new trip.
type TripInput struct {
	Title     string
	StartDate time.Time
	EndDate   time.Time
	// Status defaults to Planning.
	Status models.TripStatus
}

// TripPatch holds the trip fields to change. Nil fields are left alone.
type TripPatch struct {
	Title     *string
	StartDate *time.Time
	EndDate   *time.Time
	Status    *models.TripStatus
}

// DestinationInput describes a new destination.
type DestinationInput struct {
	Latitude    float64
	Longitude   float64
	Address     string
	Description string
	Date        *time.Time
}

// DestinationPatch holds the destination fields to change. Nil fields are
// left alone; ClearDate unschedules the destination.
type DestinationPatch struct {
	Latitude    *float64
	Longitude   *float64
	Address     *string
	Description *string
	Date        *time.Time
	ClearDate   bool
}

// TripStore tracks the trip the user currently points at. It holds two
// subscriptions, the trip document and its destinations, which are always
// opened and released together.
//
// The two subscriptions own disjoint fields: destination snapshots only set
// Destinations, trip snapshots set everything else.
type TripStore struct {
	remote *remote.Manager
	users  *UserStore
	logger *slog.Logger

	mu          sync.Mutex
	started     bool
	state       TripState
	tripID      string
	gen         uint64
	tripHandle  *remote.Handle
	destHandle  *remote.Handle
	doc         *models.Trip
	dests       []models.Destination
	destsLoaded bool
	err         error
	// activeID is the trip id last announced to trip-change listeners.
	activeID string

	cancelUser  func()
	changes     listeners[TripView]
	tripChanges listeners[string]
}

// NewTripStore creates a stopped TripStore.
func NewTripStore(rm *remote.Manager, users *UserStore, logger *slog.Logger) *TripStore {
	return &TripStore{
		remote: rm,
		users:  users,
		logger: logger.With("component", "trip_store"),
	}
}

// Start follows the user's current trip.
func (s *TripStore) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	cancel := s.users.OnChange(func(*models.User) { s.reconcile() })

	s.mu.Lock()
	s.cancelUser = cancel
	s.mu.Unlock()

	s.reconcile()
}

// Stop releases both subscriptions and stops following the user.
func (s *TripStore) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancelUser
	s.cancelUser = nil
	s.releaseLocked()
	s.tripID = ""
	view, active, activeChanged := s.publishLocked()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.emit(view, active, activeChanged)
}

// State returns the lifecycle state.
func (s *TripStore) State() TripState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TripID returns the id the store follows, whether or not it is loaded.
func (s *TripStore) TripID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tripID
}

// ActiveTripID returns the trip id when the store is Active, "" otherwise.
func (s *TripStore) ActiveTripID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Active {
		return ""
	}
	return s.tripID
}

// Trip returns the current trip with its destinations and summary, or nil
// unless the store is Active.
func (s *TripStore) Trip() *models.Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tripLocked()
}

// View returns the state and trip together.
func (s *TripStore) View() TripView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TripView{State: s.state, Trip: s.tripLocked()}
}

// Err returns the last subscription or parse failure.
func (s *TripStore) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// OnChange registers fn to receive the store's view after every change.
func (s *TripStore) OnChange(fn func(TripView)) (cancel func()) {
	return s.changes.add(fn)
}

// OnTripChange registers fn to receive the active trip id whenever it
// changes, "" when the store leaves Active.
func (s *TripStore) OnTripChange(fn func(tripID string)) (cancel func()) {
	return s.tripChanges.add(fn)
}

// CreateTrip creates a trip with the user as sole collaborator and makes it
// the user's current trip. The two steps are separate writes: when the
// second fails the trip exists without a link from the user, and an
// *OrphanTripError carrying its id is returned.
func (s *TripStore) CreateTrip(ctx context.Context, in TripInput) (string, error) {
	uid := s.users.UID()
	if uid == "" {
		return "", auth.ErrNotAuthenticated
	}
	if strings.TrimSpace(in.Title) == "" {
		return "", fmt.Errorf("%w: trip title is required", models.ErrInvalidInput)
	}
	if err := models.ValidateDates(in.StartDate, in.EndDate); err != nil {
		return "", err
	}
	status := in.Status
	if status == "" {
		status = models.StatusPlanning
	}
	if !status.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, status)
	}

	fields := map[string]any{
		models.FieldTitle:         in.Title,
		models.FieldStatus:        string(status),
		models.FieldCollaborators: []any{uid},
	}
	if !in.StartDate.IsZero() {
		fields[models.FieldStartDate] = in.StartDate
	}
	if !in.EndDate.IsZero() {
		fields[models.FieldEndDate] = in.EndDate
	}

	id, err := s.remote.Add(ctx, remote.CollectionPath(remote.KindTrip, ""), fields)
	if err != nil {
		return "", fmt.Errorf("failed to create trip: %w", err)
	}
	s.logger.Info("Trip created", "trip_id", id, "user_id", uid)

	if err := s.users.linkTrip(ctx, uid, id); err != nil {
		s.logger.Error("Trip created but not linked to user", "trip_id", id, "user_id", uid, "error", err)
		return id, &OrphanTripError{TripID: id, Err: err}
	}
	return id, nil
}

// LinkTrip makes tripID the user's current trip and adds it to their trip
// list. It is the retry for an *OrphanTripError and safe to repeat.
func (s *TripStore) LinkTrip(ctx context.Context, tripID string) error {
	uid := s.users.UID()
	if uid == "" {
		return auth.ErrNotAuthenticated
	}
	if tripID == "" {
		return fmt.Errorf("%w: link trip", remote.ErrInvalidParent)
	}
	return s.users.linkTrip(ctx, uid, tripID)
}

// JoinTrip adds the user to the collaborators of an existing trip and links
// it. It fails with an error wrapping remote.ErrNoDocument for an unknown
// trip.
func (s *TripStore) JoinTrip(ctx context.Context, tripID string) error {
	uid := s.users.UID()
	if uid == "" {
		return auth.ErrNotAuthenticated
	}
	if tripID == "" {
		return fmt.Errorf("%w: join trip", remote.ErrInvalidParent)
	}
	err := s.remote.Update(ctx, remote.DocumentPath(remote.KindTrip, "", tripID), map[string]any{
		models.FieldCollaborators: remote.ArrayUnion(uid),
	})
	if err != nil {
		return fmt.Errorf("failed to join trip: %w", err)
	}
	return s.users.linkTrip(ctx, uid, tripID)
}

// SwitchTrip points the user at another trip. The store follows once the
// user record changes.
func (s *TripStore) SwitchTrip(ctx context.Context, tripID string) error {
	if tripID == "" {
		return fmt.Errorf("%w: switch trip", remote.ErrInvalidParent)
	}
	return s.users.SetCurrentTrip(ctx, tripID)
}

// UpdateTrip writes the non-nil fields of patch to trip tripID.
func (s *TripStore) UpdateTrip(ctx context.Context, tripID string, patch TripPatch) error {
	if s.users.UID() == "" {
		return auth.ErrNotAuthenticated
	}
	if tripID == "" {
		return fmt.Errorf("%w: update trip", remote.ErrInvalidParent)
	}

	fields := make(map[string]any, 4)
	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return fmt.Errorf("%w: trip title is required", models.ErrInvalidInput)
		}
		fields[models.FieldTitle] = *patch.Title
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, *patch.Status)
		}
		fields[models.FieldStatus] = string(*patch.Status)
	}
	if patch.StartDate != nil || patch.EndDate != nil {
		start, end, loaded := s.knownDates(tripID)
		if !loaded && (patch.StartDate == nil || patch.EndDate == nil) {
			return fmt.Errorf("%w: trip %s is not loaded, both dates are required", models.ErrInvalidInput, tripID)
		}
		if patch.StartDate != nil {
			start = *patch.StartDate
			fields[models.FieldStartDate] = start
		}
		if patch.EndDate != nil {
			end = *patch.EndDate
			fields[models.FieldEndDate] = end
		}
		if err := models.ValidateDates(start, end); err != nil {
			return err
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return s.remote.Update(ctx, remote.DocumentPath(remote.KindTrip, "", tripID), fields)
}

// knownDates returns the dates of tripID if it is the loaded trip.
func (s *TripStore) knownDates(tripID string) (start, end time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil || s.doc.ID != tripID {
		return time.Time{}, time.Time{}, false
	}
	return s.doc.StartDate, s.doc.EndDate, true
}

// AddDestination adds a destination to trip tripID and returns its id.
func (s *TripStore) AddDestination(ctx context.Context, tripID string, in DestinationInput) (string, error) {
	if s.users.UID() == "" {
		return "", auth.ErrNotAuthenticated
	}
	if tripID == "" {
		return "", fmt.Errorf("%w: add destination", remote.ErrInvalidParent)
	}
	if err := validateCoordinates(in.Latitude, in.Longitude); err != nil {
		return "", err
	}
	fields := map[string]any{
		models.FieldLatitude:  in.Latitude,
		models.FieldLongitude: in.Longitude,
	}
	if in.Address != "" {
		fields[models.FieldAddress] = in.Address
	}
	if in.Description != "" {
		fields[models.FieldDescription] = in.Description
	}
	if in.Date != nil {
		fields[models.FieldDate] = *in.Date
	}
	id, err := s.remote.Add(ctx, remote.CollectionPath(remote.KindDestinations, tripID), fields)
	if err != nil {
		return "", fmt.Errorf("failed to add destination: %w", err)
	}
	return id, nil
}

// UpdateDestination writes the fields of patch to a destination.
func (s *TripStore) UpdateDestination(ctx context.Context, tripID, destID string, patch DestinationPatch) error {
	if s.users.UID() == "" {
		return auth.ErrNotAuthenticated
	}
	if tripID == "" || destID == "" {
		return fmt.Errorf("%w: update destination", remote.ErrInvalidParent)
	}

	fields := make(map[string]any, 5)
	if patch.Latitude != nil {
		fields[models.FieldLatitude] = *patch.Latitude
	}
	if patch.Longitude != nil {
		fields[models.FieldLongitude] = *patch.Longitude
	}
	if patch.Latitude != nil || patch.Longitude != nil {
		lat, lng := 0.0, 0.0
		if patch.Latitude != nil {
			lat = *patch.Latitude
		}
		if patch.Longitude != nil {
			lng = *patch.Longitude
		}
		if err := validateCoordinates(lat, lng); err != nil {
			return err
		}
	}
	if patch.Address != nil {
		fields[models.FieldAddress] = *patch.Address
	}
	if patch.Description != nil {
		fields[models.FieldDescription] = *patch.Description
	}
	switch {
	case patch.ClearDate:
		fields[models.FieldDate] = nil
	case patch.Date != nil:
		fields[models.FieldDate] = *patch.Date
	}
	if len(fields) == 0 {
		return nil
	}
	return s.remote.Update(ctx, remote.DocumentPath(remote.KindDestinations, tripID, destID), fields)
}

// RemoveDestination deletes a destination.
func (s *TripStore) RemoveDestination(ctx context.Context, tripID, destID string) error {
	if s.users.UID() == "" {
		return auth.ErrNotAuthenticated
	}
	if tripID == "" || destID == "" {
		return fmt.Errorf("%w: remove destination", remote.ErrInvalidParent)
	}
	return s.remote.Delete(ctx, remote.DocumentPath(remote.KindDestinations, tripID, destID))
}

func validateCoordinates(lat, lng float64) error {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return fmt.Errorf("%w: coordinates (%v, %v) out of range", models.ErrInvalidInput, lat, lng)
	}
	return nil
}

func (s *TripStore) reconcile() {
	s.mu.Lock()
	want := ""
	if s.started {
		if u := s.users.User(); u != nil {
			want = u.CurrentTripID
		}
	}
	if want == s.tripID {
		s.mu.Unlock()
		return
	}

	s.releaseLocked()
	s.tripID = want
	if want != "" {
		s.subscribeLocked()
	}
	view, active, activeChanged := s.publishLocked()
	s.mu.Unlock()

	s.emit(view, active, activeChanged)
}

// subscribeLocked opens both subscriptions for s.tripID. If either fails,
// neither is kept.
func (s *TripStore) subscribeLocked() {
	gen := s.gen
	tripID := s.tripID
	s.state = Loading

	th, err := s.remote.Subscribe(remote.KindTrip, tripID, func(ev remote.Event) {
		s.onTrip(gen, ev)
	})
	if err != nil {
		s.logger.Error("Failed to subscribe to trip", "trip_id", tripID, "error", err)
		s.err = err
		s.state = NoTrip
		return
	}
	dh, err := s.remote.Subscribe(remote.KindDestinations, tripID, func(ev remote.Event) {
		s.onDestinations(gen, ev)
	})
	if err != nil {
		s.remote.Unsubscribe(th)
		s.logger.Error("Failed to subscribe to destinations", "trip_id", tripID, "error", err)
		s.err = err
		s.state = NoTrip
		return
	}
	s.tripHandle = th
	s.destHandle = dh
	s.logger.Info("Trip subscribed", "trip_id", tripID)
}

// releaseLocked releases both subscriptions and drops everything they
// delivered. The trip id is kept.
func (s *TripStore) releaseLocked() {
	if s.tripHandle != nil || s.destHandle != nil {
		s.logger.Info("Trip released", "trip_id", s.tripID)
	}
	s.remote.Unsubscribe(s.tripHandle)
	s.remote.Unsubscribe(s.destHandle)
	s.tripHandle = nil
	s.destHandle = nil
	s.gen++
	s.state = NoTrip
	s.doc = nil
	s.dests = nil
	s.destsLoaded = false
	s.err = nil
}

func (s *TripStore) onTrip(gen uint64, ev remote.Event) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}

	switch {
	case ev.Err != nil:
		s.err = ev.Err
		s.logger.Warn("Trip subscription failed, keeping last snapshot", "trip_id", s.tripID, "error", ev.Err)
	case !ev.Exists || len(ev.Docs) == 0:
		// A deleted trip takes its destinations with it. The id is kept so
		// that the same current trip does not resubscribe.
		s.logger.Info("Trip no longer exists", "trip_id", s.tripID)
		s.releaseLocked()
	default:
		trip, err := models.ParseTrip(ev.Docs[0].ID, ev.Docs[0].Data)
		if err != nil {
			s.err = err
			s.logger.Warn("Ignoring unparsable trip snapshot", "trip_id", s.tripID, "error", err)
			break
		}
		s.doc = &trip
		s.err = nil
		s.refreshStateLocked()
	}

	view, active, activeChanged := s.publishLocked()
	s.mu.Unlock()
	s.emit(view, active, activeChanged)
}

func (s *TripStore) onDestinations(gen uint64, ev remote.Event) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}

	if ev.Err != nil {
		s.err = ev.Err
		s.logger.Warn("Destinations subscription failed, keeping last snapshot", "trip_id", s.tripID, "error", ev.Err)
	} else {
		dests, errs := remote.Values(remote.Decode(ev.Docs, models.ParseDestination))
		logParseFailures(s.logger, remote.KindDestinations, errs)
		s.dests = dests
		s.destsLoaded = true
		s.refreshStateLocked()
	}

	view, active, activeChanged := s.publishLocked()
	s.mu.Unlock()
	s.emit(view, active, activeChanged)
}

// refreshStateLocked moves Loading to Active once both subscriptions have
// delivered.
func (s *TripStore) refreshStateLocked() {
	if s.state == Loading && s.doc != nil && s.destsLoaded {
		s.state = Active
		s.logger.Info("Trip active", "trip_id", s.tripID)
	}
}

func (s *TripStore) tripLocked() *models.Trip {
	if s.state != Active || s.doc == nil {
		return nil
	}
	t := *s.doc
	t.Collaborators = append([]string(nil), s.doc.Collaborators...)
	t.Destinations = append([]models.Destination(nil), s.dests...)
	t.Summary = models.Summarize(t)
	return &t
}

// publishLocked captures what listeners must be told.
func (s *TripStore) publishLocked() (view TripView, active string, activeChanged bool) {
	view = TripView{State: s.state, Trip: s.tripLocked()}
	if s.state == Active {
		active = s.tripID
	}
	if active != s.activeID {
		s.activeID = active
		activeChanged = true
	}
	return view, active, activeChanged
}

func (s *TripStore) emit(view TripView, active string, activeChanged bool) {
	if activeChanged {
		s.tripChanges.notify(active)
	}
	s.changes.notify(view)
}
