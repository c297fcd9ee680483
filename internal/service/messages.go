package service

import (
	"time"

	"github.com/mmynk/tripsync/internal/ledger"
	"github.com/mmynk/tripsync/internal/models"
	"github.com/mmynk/tripsync/internal/store"
)

// Wire messages of the TripService procedures. They are encoded as JSON.

type Empty struct{}

type SignInRequest struct {
	Token string `json:"token"`
}

type SignInResponse struct {
	UserID string `json:"userId"`
}

type UpdateProfileRequest struct {
	Name             *string `json:"name,omitempty"`
	Bio              *string `json:"bio,omitempty"`
	TravelPreference *string `json:"travelPreference,omitempty"`
}

type CreateTripRequest struct {
	Title     string    `json:"title"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	Status    string    `json:"status,omitempty"`
}

type TripRequest struct {
	TripID string `json:"tripId"`
}

type TripIDResponse struct {
	TripID string `json:"tripId"`
}

type UpdateTripRequest struct {
	TripID    string     `json:"tripId"`
	Title     *string    `json:"title,omitempty"`
	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`
	Status    *string    `json:"status,omitempty"`
}

type AddDestinationRequest struct {
	TripID      string     `json:"tripId"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	Address     string     `json:"address,omitempty"`
	Description string     `json:"description,omitempty"`
	Date        *time.Time `json:"date,omitempty"`
}

type UpdateDestinationRequest struct {
	TripID        string     `json:"tripId"`
	DestinationID string     `json:"destinationId"`
	Latitude      *float64   `json:"latitude,omitempty"`
	Longitude     *float64   `json:"longitude,omitempty"`
	Address       *string    `json:"address,omitempty"`
	Description   *string    `json:"description,omitempty"`
	Date          *time.Time `json:"date,omitempty"`
	ClearDate     bool       `json:"clearDate,omitempty"`
}

type DestinationRequest struct {
	TripID        string `json:"tripId"`
	DestinationID string `json:"destinationId"`
}

type DestinationIDResponse struct {
	DestinationID string `json:"destinationId"`
}

type SaveBillRequest struct {
	// BillID is empty to create a bill.
	BillID       string            `json:"billId,omitempty"`
	Title        string            `json:"title"`
	Payer        string            `json:"payer"`
	Total        string            `json:"total,omitempty"`
	Amounts      map[string]string `json:"amounts,omitempty"`
	Participants []string          `json:"participants"`
	Currency     string            `json:"currency,omitempty"`
	Mode         string            `json:"distributionMode,omitempty"`
	IsDraft      bool              `json:"isDraft,omitempty"`
}

type BillRequest struct {
	BillID string `json:"billId"`
}

type BillIDResponse struct {
	BillID string `json:"billId"`
}

type RecordTransactionRequest struct {
	Debtor      string  `json:"debtor"`
	Creditor    string  `json:"creditor"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency,omitempty"`
	Description string  `json:"description,omitempty"`
}

type TransactionRequest struct {
	TransactionID string `json:"transactionId"`
}

type TransactionIDResponse struct {
	TransactionID string `json:"transactionId"`
}

type BalanceRequest struct {
	// UserID defaults to the signed-in user.
	UserID string `json:"userId,omitempty"`
}

type StateResponse struct {
	User         *User         `json:"user,omitempty"`
	TripState    string        `json:"tripState"`
	Trip         *Trip         `json:"trip,omitempty"`
	Bills        []Bill        `json:"bills"`
	Transactions []Transaction `json:"transactions"`
	Balance      Balance       `json:"balance"`
	// Error is the last subscription failure of any store, if one is
	// current.
	Error string `json:"error,omitempty"`
}

type User struct {
	UID              string   `json:"uid"`
	Name             string   `json:"name"`
	Bio              string   `json:"bio"`
	TravelPreference string   `json:"travelPreference"`
	CurrentTripID    string   `json:"currentTripId,omitempty"`
	TripsIDList      []string `json:"tripsIdList"`
}

type Trip struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	StartDate     time.Time     `json:"startDate"`
	EndDate       time.Time     `json:"endDate"`
	Status        string        `json:"status"`
	Collaborators []string      `json:"collaborators"`
	Destinations  []Destination `json:"destinations"`
	Days          int           `json:"days"`
	Unscheduled   int           `json:"unscheduled"`
}

type Destination struct {
	ID          string     `json:"id"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	Address     string     `json:"address,omitempty"`
	Description string     `json:"description,omitempty"`
	Date        *time.Time `json:"date,omitempty"`
}

type Bill struct {
	ID               string                        `json:"id"`
	Title            string                        `json:"title"`
	Payer            string                        `json:"payer"`
	Total            string                        `json:"total"`
	Amounts          map[string]string             `json:"amounts,omitempty"`
	Participants     []string                      `json:"participants"`
	Currency         string                        `json:"currency"`
	DistributionMode string                        `json:"distributionMode"`
	Summary          map[string]map[string]float64 `json:"summary"`
	Archived         bool                          `json:"archived"`
	IsDraft          bool                          `json:"isDraft"`
	CreatedAt        time.Time                     `json:"createdAt"`
}

type Transaction struct {
	TransactionID string    `json:"transactionId"`
	Debtor        string    `json:"debtor"`
	Creditor      string    `json:"creditor"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Balance carries both the raw sums and their two-decimal display form.
type Balance struct {
	UserID      string  `json:"userId"`
	OwesOthers  float64 `json:"owesOthers"`
	OthersOweMe float64 `json:"othersOweMe"`
	Display     struct {
		OwesOthers  string `json:"owesOthers"`
		OthersOweMe string `json:"othersOweMe"`
		Net         string `json:"net"`
	} `json:"display"`
}

// ToUser converts a user record; nil stays nil.
func ToUser(u *models.User) *User {
	if u == nil {
		return nil
	}
	return &User{
		UID:              u.UID,
		Name:             u.Name,
		Bio:              u.Bio,
		TravelPreference: u.TravelPreference,
		CurrentTripID:    u.CurrentTripID,
		TripsIDList:      nonNil(u.TripsIDList),
	}
}

// ToTrip converts a trip; nil stays nil.
func ToTrip(t *models.Trip) *Trip {
	if t == nil {
		return nil
	}
	out := &Trip{
		ID:            t.ID,
		Title:         t.Title,
		StartDate:     t.StartDate,
		EndDate:       t.EndDate,
		Status:        string(t.Status),
		Collaborators: nonNil(t.Collaborators),
		Destinations:  make([]Destination, len(t.Destinations)),
		Days:          t.Summary.Days,
		Unscheduled:   t.Summary.Unscheduled,
	}
	for i, d := range t.Destinations {
		out.Destinations[i] = Destination{
			ID:          d.ID,
			Latitude:    d.Latitude,
			Longitude:   d.Longitude,
			Address:     d.Address,
			Description: d.Description,
			Date:        d.Date,
		}
	}
	return out
}

func ToBills(bills []models.Bill) []Bill {
	out := make([]Bill, len(bills))
	for i, b := range bills {
		out[i] = Bill{
			ID:               b.ID,
			Title:            b.Title,
			Payer:            b.Payer,
			Total:            b.Total,
			Amounts:          b.Amounts,
			Participants:     nonNil(b.Participants),
			Currency:         b.Currency,
			DistributionMode: string(b.DistributionMode),
			Summary:          b.Summary,
			Archived:         b.Archived,
			IsDraft:          b.IsDraft,
			CreatedAt:        b.CreatedAt,
		}
	}
	return out
}

func ToTransactions(txs []models.Transaction) []Transaction {
	out := make([]Transaction, len(txs))
	for i, tx := range txs {
		out[i] = Transaction{
			TransactionID: tx.TransactionID,
			Debtor:        tx.Debtor,
			Creditor:      tx.Creditor,
			Amount:        tx.Amount,
			Currency:      tx.Currency,
			Description:   tx.Description,
			CreatedAt:     tx.CreatedAt,
		}
	}
	return out
}

func ToBalance(b ledger.Balance) Balance {
	out := Balance{
		UserID:      b.UserID,
		OwesOthers:  ledger.Round(b.OwesOthers),
		OthersOweMe: ledger.Round(b.OthersOweMe),
	}
	out.Display.OwesOthers = ledger.Format(b.OwesOthers)
	out.Display.OthersOweMe = ledger.Format(b.OthersOweMe)
	out.Display.Net = ledger.Format(b.Net())
	return out
}

// TripUpdate is what the live feed pushes when the trip store changes.
type TripUpdate struct {
	State string `json:"state"`
	Trip  *Trip  `json:"trip,omitempty"`
}

func ToTripUpdate(v store.TripView) TripUpdate {
	return TripUpdate{State: v.State.String(), Trip: ToTrip(v.Trip)}
}

// BillUpdate is what the live feed pushes when the bill store changes.
type BillUpdate struct {
	TripID       string        `json:"tripId"`
	Bills        []Bill        `json:"bills"`
	Transactions []Transaction `json:"transactions"`
}

func ToBillUpdate(v store.BillView) BillUpdate {
	return BillUpdate{
		TripID:       v.TripID,
		Bills:        ToBills(v.Bills),
		Transactions: ToTransactions(v.Transactions),
	}
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
