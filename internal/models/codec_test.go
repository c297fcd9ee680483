package models

import (
	"errors"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"
)

func TestParseTrip(t *testing.T) {
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		data    map[string]any
		wantErr bool
		check   func(t *testing.T, trip Trip)
	}{
		{
			name: "firestore timestamps",
			data: map[string]any{
				FieldTitle:         "Lisbon",
				FieldStartDate:     start,
				FieldEndDate:       end,
				FieldStatus:        "Ongoing",
				FieldCollaborators: []any{"u1", "u2"},
			},
			check: func(t *testing.T, trip Trip) {
				if trip.Title != "Lisbon" {
					t.Errorf("Title = %q, want Lisbon", trip.Title)
				}
				if !trip.StartDate.Equal(start) || !trip.EndDate.Equal(end) {
					t.Errorf("dates = %v..%v, want %v..%v", trip.StartDate, trip.EndDate, start, end)
				}
				if trip.Status != StatusOngoing {
					t.Errorf("Status = %q, want Ongoing", trip.Status)
				}
				if !trip.HasCollaborator("u2") {
					t.Errorf("expected u2 to be a collaborator")
				}
			},
		},
		{
			name: "protobuf timestamps and default status",
			data: map[string]any{
				FieldStartDate: timestamppb.New(start),
				FieldEndDate:   timestamppb.New(start),
			},
			check: func(t *testing.T, trip Trip) {
				if trip.Status != StatusPlanning {
					t.Errorf("Status = %q, want Planning", trip.Status)
				}
				if !trip.StartDate.Equal(start) {
					t.Errorf("StartDate = %v, want %v", trip.StartDate, start)
				}
			},
		},
		{
			name:    "start after end",
			data:    map[string]any{FieldStartDate: end, FieldEndDate: start},
			wantErr: true,
		},
		{
			name:    "unknown status",
			data:    map[string]any{FieldStatus: "Cancelled"},
			wantErr: true,
		},
		{
			name:    "title of wrong type",
			data:    map[string]any{FieldTitle: 42},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trip, err := ParseTrip("t1", tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTrip() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var perr *ParseError
				if !errors.As(err, &perr) {
					t.Errorf("expected *ParseError, got %T", err)
				}
				return
			}
			if trip.ID != "t1" {
				t.Errorf("ID = %q, want t1", trip.ID)
			}
			if tt.check != nil {
				tt.check(t, trip)
			}
		})
	}
}

func TestParseBill(t *testing.T) {
	bill, err := ParseBill("b1", map[string]any{
		FieldTitle:        "Dinner",
		FieldPayer:        "u1",
		FieldTotal:        int64(90),
		FieldParticipants: []any{"u1", "u2", "u3"},
		FieldAmounts:      map[string]any{"u2": "10", "u3": 12.5},
		FieldSummary: map[string]any{
			"u1": map[string]any{"u2": int64(30), "u3": 30.0},
		},
		FieldIsDraft: true,
	})
	if err != nil {
		t.Fatalf("ParseBill failed: %v", err)
	}

	if bill.Total != "90" {
		t.Errorf("Total = %q, want 90", bill.Total)
	}
	if bill.DistributionMode != ModeEven {
		t.Errorf("DistributionMode = %q, want even", bill.DistributionMode)
	}
	if bill.Amounts["u3"] != "12.5" {
		t.Errorf("Amounts[u3] = %q, want 12.5", bill.Amounts["u3"])
	}
	if bill.Summary["u1"]["u2"] != 30 {
		t.Errorf("Summary[u1][u2] = %v, want 30", bill.Summary["u1"]["u2"])
	}
	if !bill.IsDraft {
		t.Error("expected IsDraft")
	}
	if bill.Archived {
		t.Error("Archived must never come from the remote document")
	}
}

func TestParseBill_BadSummary(t *testing.T) {
	_, err := ParseBill("b1", map[string]any{
		FieldSummary: map[string]any{"u1": map[string]any{"u2": "lots"}},
	})
	if err == nil {
		t.Fatal("expected error for non-numeric summary edge")
	}
}

func TestParseDestination(t *testing.T) {
	d, err := ParseDestination("d1", map[string]any{
		FieldLatitude:  38.72,
		FieldLongitude: int64(-9),
		FieldDate:      "2026-05-02",
	})
	if err != nil {
		t.Fatalf("ParseDestination failed: %v", err)
	}
	if !d.Scheduled() {
		t.Fatal("expected destination to be scheduled")
	}
	if d.Longitude != -9 {
		t.Errorf("Longitude = %v, want -9", d.Longitude)
	}

	unscheduled, err := ParseDestination("d2", map[string]any{FieldAddress: "Rua Augusta"})
	if err != nil {
		t.Fatalf("ParseDestination failed: %v", err)
	}
	if unscheduled.Scheduled() {
		t.Error("expected destination without date to be unscheduled")
	}
}

func TestParseTransaction_DefaultsID(t *testing.T) {
	tx, err := ParseTransaction("doc-1", map[string]any{
		FieldDebtor:    "u2",
		FieldCreditor:  "u1",
		FieldAmount:    15.5,
		FieldCreatedAt: int64(1767225600000),
	})
	if err != nil {
		t.Fatalf("ParseTransaction failed: %v", err)
	}
	if tx.TransactionID != "doc-1" {
		t.Errorf("TransactionID = %q, want doc-1", tx.TransactionID)
	}
	if tx.CreatedAt.IsZero() {
		t.Error("expected CreatedAt from epoch millis")
	}
}

func TestSummarize(t *testing.T) {
	day := func(d int) *time.Time {
		v := time.Date(2026, 5, d, 12, 0, 0, 0, time.UTC)
		return &v
	}
	trip := Trip{
		StartDate: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC),
		Destinations: []Destination{
			{ID: "a", Date: day(3)},
			{ID: "b"},
			{ID: "c", Date: day(2)},
		},
	}

	s := Summarize(trip)
	if s.Days != 4 {
		t.Errorf("Days = %d, want 4", s.Days)
	}
	if s.Destinations != 3 || s.Unscheduled != 1 {
		t.Errorf("Destinations/Unscheduled = %d/%d, want 3/1", s.Destinations, s.Unscheduled)
	}
	if s.FirstStop == nil || !s.FirstStop.Equal(*day(2)) {
		t.Errorf("FirstStop = %v, want %v", s.FirstStop, day(2))
	}
}
