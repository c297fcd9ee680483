package models

// User represents the record of a signed-in traveler.
type User struct {
	// UID is the stable identity issued by the auth provider.
	UID string

	// Name is the display name.
	Name string

	Bio string

	// TravelPreference is free text (e.g. "slow travel", "backpacking").
	TravelPreference string

	// CurrentTripID points at the trip the user is looking at.
	// Empty when no trip is selected. Changing it is what moves the
	// trip store to another trip.
	CurrentTripID string

	// TripsIDList is the set of trips the user belongs to.
	TripsIDList []string
}

// HasTrip reports whether tripID is in the user's trip list.
func (u User) HasTrip(tripID string) bool {
	return contains(u.TripsIDList, tripID)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
