package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// Remote field names.
const (
	FieldName             = "name"
	FieldBio              = "bio"
	FieldTravelPreference = "travelPreference"
	FieldCurrentTripID    = "currentTripId"
	FieldTripsIDList      = "tripsIdList"

	FieldTitle         = "title"
	FieldStartDate     = "startDate"
	FieldEndDate       = "endDate"
	FieldStatus        = "status"
	FieldCollaborators = "collaborators"

	FieldLatitude    = "latitude"
	FieldLongitude   = "longitude"
	FieldAddress     = "address"
	FieldDescription = "description"
	FieldDate        = "date"

	FieldPayer            = "payer"
	FieldTotal            = "total"
	FieldAmounts          = "amounts"
	FieldParticipants     = "participants"
	FieldCurrency         = "currency"
	FieldDistributionMode = "distributionMode"
	FieldSummary          = "summary"
	FieldIsDraft          = "isDraft"

	FieldTransactionID = "transactionId"
	FieldDebtor        = "debtor"
	FieldCreditor      = "creditor"
	FieldAmount        = "amount"

	FieldCreatedAt = "createdAt"
)

var errWrongType = errors.New("unexpected type")

// fieldReader collects the first failure while reading a document so the
// Parse functions stay linear.
type fieldReader struct {
	entity string
	id     string
	data   map[string]any
	err    error
}

func (r *fieldReader) fail(field string, err error) {
	if r.err == nil {
		r.err = &ParseError{Entity: r.entity, ID: r.id, Field: field, Err: err}
	}
}

func (r *fieldReader) string(field string) string {
	switch v := r.data[field].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		r.fail(field, fmt.Errorf("%w %T", errWrongType, v))
		return ""
	}
}

func (r *fieldReader) bool(field string) bool {
	switch v := r.data[field].(type) {
	case nil:
		return false
	case bool:
		return v
	default:
		r.fail(field, fmt.Errorf("%w %T", errWrongType, v))
		return false
	}
}

func (r *fieldReader) float(field string) float64 {
	v, ok := r.data[field]
	if !ok || v == nil {
		return 0
	}
	f, err := toFloat(v)
	if err != nil {
		r.fail(field, err)
	}
	return f
}

// text reads a value that is stored either as entered text or as a number.
func (r *fieldReader) text(field string) string {
	v, ok := r.data[field]
	if !ok || v == nil {
		return ""
	}
	s, err := toText(v)
	if err != nil {
		r.fail(field, err)
	}
	return s
}

func (r *fieldReader) strings(field string) []string {
	switch v := r.data[field].(type) {
	case nil:
		return nil
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				r.fail(field, fmt.Errorf("%w %T in list", errWrongType, e))
				return nil
			}
			out = append(out, s)
		}
		return out
	default:
		r.fail(field, fmt.Errorf("%w %T", errWrongType, v))
		return nil
	}
}

func (r *fieldReader) time(field string) *time.Time {
	v, ok := r.data[field]
	if !ok || v == nil {
		return nil
	}
	t, err := toTime(v)
	if err != nil {
		r.fail(field, err)
		return nil
	}
	return &t
}

func (r *fieldReader) textMap(field string) map[string]string {
	raw, ok := r.data[field]
	if !ok || raw == nil {
		return nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		r.fail(field, fmt.Errorf("%w %T", errWrongType, raw))
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		s, err := toText(v)
		if err != nil {
			r.fail(field+"."+k, err)
			return nil
		}
		out[k] = s
	}
	return out
}

func (r *fieldReader) summary(field string) map[string]map[string]float64 {
	raw, ok := r.data[field]
	if !ok || raw == nil {
		return nil
	}
	outer, ok := raw.(map[string]any)
	if !ok {
		r.fail(field, fmt.Errorf("%w %T", errWrongType, raw))
		return nil
	}
	out := make(map[string]map[string]float64, len(outer))
	for creditor, v := range outer {
		inner, ok := v.(map[string]any)
		if !ok {
			r.fail(field+"."+creditor, fmt.Errorf("%w %T", errWrongType, v))
			return nil
		}
		edges := make(map[string]float64, len(inner))
		for debtor, amount := range inner {
			f, err := toFloat(amount)
			if err != nil {
				r.fail(field+"."+creditor+"."+debtor, err)
				return nil
			}
			edges[debtor] = f
		}
		out[creditor] = edges
	}
	return out
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, err
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w %T", errWrongType, v)
	}
}

func toText(v any) (string, error) {
	switch n := v.(type) {
	case string:
		return n, nil
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(n, 10), nil
	case int:
		return strconv.Itoa(n), nil
	default:
		return "", fmt.Errorf("%w %T", errWrongType, v)
	}
}

// toTime accepts every representation a server timestamp takes on its way
// through the supported backends.
func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("%w nil time", errWrongType)
		}
		return *t, nil
	case *timestamppb.Timestamp:
		if err := t.CheckValid(); err != nil {
			return time.Time{}, err
		}
		return t.AsTime(), nil
	case int64:
		return time.UnixMilli(t).UTC(), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return time.Time{}, fmt.Errorf("%w non-finite epoch", errWrongType)
		}
		return time.UnixMilli(int64(t)).UTC(), nil
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, nil
		}
		return time.Parse(time.DateOnly, t)
	default:
		return time.Time{}, fmt.Errorf("%w %T", errWrongType, v)
	}
}

// ParseUser builds a User from the document users/{id}.
func ParseUser(id string, data map[string]any) (User, error) {
	r := &fieldReader{entity: "user", id: id, data: data}
	u := User{
		UID:              id,
		Name:             r.string(FieldName),
		Bio:              r.string(FieldBio),
		TravelPreference: r.string(FieldTravelPreference),
		CurrentTripID:    r.string(FieldCurrentTripID),
		TripsIDList:      r.strings(FieldTripsIDList),
	}
	return u, r.err
}

// ParseTrip builds a Trip from the document trips/{id}. Destinations and
// Summary are left empty; they are owned by the destinations collection.
func ParseTrip(id string, data map[string]any) (Trip, error) {
	r := &fieldReader{entity: "trip", id: id, data: data}
	t := Trip{
		ID:            id,
		Title:         r.string(FieldTitle),
		Status:        TripStatus(r.string(FieldStatus)),
		Collaborators: r.strings(FieldCollaborators),
	}
	if start := r.time(FieldStartDate); start != nil {
		t.StartDate = *start
	}
	if end := r.time(FieldEndDate); end != nil {
		t.EndDate = *end
	}
	if r.err != nil {
		return Trip{}, r.err
	}
	if t.Status == "" {
		t.Status = StatusPlanning
	}
	if !t.Status.Valid() {
		return Trip{}, &ParseError{Entity: "trip", ID: id, Field: FieldStatus,
			Err: fmt.Errorf("unknown status %q", t.Status)}
	}
	if err := ValidateDates(t.StartDate, t.EndDate); err != nil {
		return Trip{}, &ParseError{Entity: "trip", ID: id, Field: FieldEndDate, Err: err}
	}
	return t, nil
}

// ParseDestination builds a Destination from trips/{trip}/destinations/{id}.
func ParseDestination(id string, data map[string]any) (Destination, error) {
	r := &fieldReader{entity: "destination", id: id, data: data}
	d := Destination{
		ID:          id,
		Latitude:    r.float(FieldLatitude),
		Longitude:   r.float(FieldLongitude),
		Address:     r.string(FieldAddress),
		Description: r.string(FieldDescription),
		Date:        r.time(FieldDate),
	}
	if r.err != nil {
		return Destination{}, r.err
	}
	return d, nil
}

// ParseBill builds a Bill from trips/{trip}/bills/{id}. Archived is always
// false here; the overlay is merged by the bill store.
func ParseBill(id string, data map[string]any) (Bill, error) {
	r := &fieldReader{entity: "bill", id: id, data: data}
	b := Bill{
		ID:               id,
		Title:            r.string(FieldTitle),
		Payer:            r.string(FieldPayer),
		Total:            r.text(FieldTotal),
		Amounts:          r.textMap(FieldAmounts),
		Participants:     r.strings(FieldParticipants),
		Currency:         r.string(FieldCurrency),
		DistributionMode: DistributionMode(r.string(FieldDistributionMode)),
		Summary:          r.summary(FieldSummary),
		IsDraft:          r.bool(FieldIsDraft),
	}
	if created := r.time(FieldCreatedAt); created != nil {
		b.CreatedAt = *created
	}
	if r.err != nil {
		return Bill{}, r.err
	}
	if b.DistributionMode == "" {
		b.DistributionMode = ModeEven
	}
	return b, nil
}

// ParseTransaction builds a Transaction from
// trips/{trip}/transactions/{id}.
func ParseTransaction(id string, data map[string]any) (Transaction, error) {
	r := &fieldReader{entity: "transaction", id: id, data: data}
	tx := Transaction{
		TransactionID: r.string(FieldTransactionID),
		Debtor:        r.string(FieldDebtor),
		Creditor:      r.string(FieldCreditor),
		Amount:        r.float(FieldAmount),
		Currency:      r.string(FieldCurrency),
		Description:   r.string(FieldDescription),
	}
	if created := r.time(FieldCreatedAt); created != nil {
		tx.CreatedAt = *created
	}
	if r.err != nil {
		return Transaction{}, r.err
	}
	if tx.TransactionID == "" {
		tx.TransactionID = id
	}
	return tx, nil
}
