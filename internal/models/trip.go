package models

import (
	"fmt"
	"time"
)

// TripStatus is the lifecycle stage of a trip.
type TripStatus string

const (
	StatusPlanning  TripStatus = "Planning"
	StatusOngoing   TripStatus = "Ongoing"
	StatusCompleted TripStatus = "Completed"
)

// Valid reports whether s is one of the known statuses.
func (s TripStatus) Valid() bool {
	switch s {
	case StatusPlanning, StatusOngoing, StatusCompleted:
		return true
	}
	return false
}

// Trip is a trip jointly owned by its collaborators.
type Trip struct {
	// ID is the remote document id.
	ID string

	Title string

	// StartDate and EndDate bound the trip. StartDate is never after EndDate.
	StartDate time.Time
	EndDate   time.Time

	Status TripStatus

	// Collaborators is the set of user ids granted access to the trip.
	Collaborators []string

	// Destinations is the itinerary. It is filled from its own
	// sub-collection and has no defined order.
	Destinations []Destination

	// Summary is computed from the fields above, see Summarize.
	Summary TripSummary
}

// HasCollaborator reports whether uid may access the trip.
func (t Trip) HasCollaborator(uid string) bool {
	return contains(t.Collaborators, uid)
}

// TripSummary is derived data shown alongside a trip.
type TripSummary struct {
	// Days is the inclusive length of the trip in calendar days.
	Days int

	Destinations int

	// Unscheduled counts destinations without a date.
	Unscheduled int

	// FirstStop is the earliest scheduled destination date, nil if none.
	FirstStop *time.Time
}

// Summarize computes the summary of t.
func Summarize(t Trip) TripSummary {
	s := TripSummary{Destinations: len(t.Destinations)}
	if !t.StartDate.IsZero() && !t.EndDate.IsZero() {
		start := truncateDay(t.StartDate)
		end := truncateDay(t.EndDate)
		s.Days = int(end.Sub(start).Hours()/24) + 1
	}
	for _, d := range t.Destinations {
		if d.Date == nil {
			s.Unscheduled++
			continue
		}
		if s.FirstStop == nil || d.Date.Before(*s.FirstStop) {
			date := *d.Date
			s.FirstStop = &date
		}
	}
	return s
}

// ValidateDates enforces startDate <= endDate. Zero values are not checked.
func ValidateDates(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return nil
	}
	if start.After(end) {
		return fmt.Errorf("%w: %s > %s", ErrInvalidDates,
			start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Destination is a stop on the itinerary. It belongs to exactly one trip.
type Destination struct {
	ID        string
	Latitude  float64
	Longitude float64

	// Address and Description are optional, empty when absent.
	Address     string
	Description string

	// Date is nil for an unscheduled destination.
	Date *time.Time
}

// Scheduled reports whether the destination has a date.
func (d Destination) Scheduled() bool {
	return d.Date != nil
}
