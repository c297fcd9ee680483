// Package service exposes the trip sync core as a Connect service.
//
// Every procedure except SignIn requires a bearer token whose subject is the
// user currently signed in to the core.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/mmynk/tripsync/internal/auth"
	"github.com/mmynk/tripsync/internal/middleware"
	"github.com/mmynk/tripsync/internal/models"
	"github.com/mmynk/tripsync/internal/remote"
	"github.com/mmynk/tripsync/internal/store"
)

// ServiceName is the fully-qualified name of TripService.
const ServiceName = "tripsync.v1.TripService"

// Procedure names.
const (
	SignInProcedure            = "/" + ServiceName + "/SignIn"
	SignOutProcedure           = "/" + ServiceName + "/SignOut"
	GetStateProcedure          = "/" + ServiceName + "/GetState"
	UpdateProfileProcedure     = "/" + ServiceName + "/UpdateProfile"
	CreateTripProcedure        = "/" + ServiceName + "/CreateTrip"
	LinkTripProcedure          = "/" + ServiceName + "/LinkTrip"
	JoinTripProcedure          = "/" + ServiceName + "/JoinTrip"
	SwitchTripProcedure        = "/" + ServiceName + "/SwitchTrip"
	UpdateTripProcedure        = "/" + ServiceName + "/UpdateTrip"
	AddDestinationProcedure    = "/" + ServiceName + "/AddDestination"
	UpdateDestinationProcedure = "/" + ServiceName + "/UpdateDestination"
	RemoveDestinationProcedure = "/" + ServiceName + "/RemoveDestination"
	SaveBillProcedure          = "/" + ServiceName + "/SaveBill"
	DeleteBillProcedure        = "/" + ServiceName + "/DeleteBill"
	ArchiveBillProcedure       = "/" + ServiceName + "/ArchiveBill"
	RestoreBillProcedure       = "/" + ServiceName + "/RestoreBill"
	RecordTransactionProcedure = "/" + ServiceName + "/RecordTransaction"
	DeleteTransactionProcedure = "/" + ServiceName + "/DeleteTransaction"
	GetBalanceProcedure        = "/" + ServiceName + "/GetBalance"
)

// TripService implements the Connect TripService on top of the stores.
type TripService struct {
	users    *store.UserStore
	trips    *store.TripStore
	bills    *store.BillStore
	provider *auth.TokenProvider
	jwt      *auth.JWTManager
	logger   *slog.Logger
}

// NewTripService creates a new TripService.
func NewTripService(users *store.UserStore, trips *store.TripStore, bills *store.BillStore, provider *auth.TokenProvider, jwt *auth.JWTManager, logger *slog.Logger) *TripService {
	return &TripService{
		users:    users,
		trips:    trips,
		bills:    bills,
		provider: provider,
		jwt:      jwt,
		logger:   logger.With("component", "trip_service"),
	}
}

// Handler returns the path prefix and handler serving every procedure.
func (s *TripService) Handler() (string, http.Handler) {
	mux := http.NewServeMux()
	public := []connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(middleware.LoggingInterceptor(s.logger)),
	}
	private := []connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(
			middleware.RequireAuth(s.jwt),
			middleware.LoggingInterceptor(s.logger),
			s.requireActor(),
		),
	}

	unary(mux, SignInProcedure, s.SignIn, public...)
	unary(mux, SignOutProcedure, s.SignOut, private...)
	unary(mux, GetStateProcedure, s.GetState, private...)
	unary(mux, UpdateProfileProcedure, s.UpdateProfile, private...)
	unary(mux, CreateTripProcedure, s.CreateTrip, private...)
	unary(mux, LinkTripProcedure, s.LinkTrip, private...)
	unary(mux, JoinTripProcedure, s.JoinTrip, private...)
	unary(mux, SwitchTripProcedure, s.SwitchTrip, private...)
	unary(mux, UpdateTripProcedure, s.UpdateTrip, private...)
	unary(mux, AddDestinationProcedure, s.AddDestination, private...)
	unary(mux, UpdateDestinationProcedure, s.UpdateDestination, private...)
	unary(mux, RemoveDestinationProcedure, s.RemoveDestination, private...)
	unary(mux, SaveBillProcedure, s.SaveBill, private...)
	unary(mux, DeleteBillProcedure, s.DeleteBill, private...)
	unary(mux, ArchiveBillProcedure, s.ArchiveBill, private...)
	unary(mux, RestoreBillProcedure, s.RestoreBill, private...)
	unary(mux, RecordTransactionProcedure, s.RecordTransaction, private...)
	unary(mux, DeleteTransactionProcedure, s.DeleteTransaction, private...)
	unary(mux, GetBalanceProcedure, s.GetBalance, private...)

	return "/" + ServiceName + "/", mux
}

func unary[Req, Res any](mux *http.ServeMux, procedure string, fn func(context.Context, *Req) (*Res, error), opts ...connect.HandlerOption) {
	mux.Handle(procedure, connect.NewUnaryHandler(procedure,
		func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
			res, err := fn(ctx, req.Msg)
			if err != nil {
				return nil, toConnectError(err)
			}
			return connect.NewResponse(res), nil
		},
		opts...,
	))
}

// requireActor rejects tokens of anyone but the signed-in user.
func (s *TripService) requireActor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			uid := s.users.UID()
			if uid == "" || middleware.GetUserID(ctx) != uid {
				return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrNotAuthenticated)
			}
			return next(ctx, req)
		}
	}
}

// SignIn signs the core in as the token's subject. A different user already
// signed in is replaced.
func (s *TripService) SignIn(ctx context.Context, req *SignInRequest) (*SignInResponse, error) {
	uid, err := s.provider.SignIn(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	return &SignInResponse{UserID: uid}, nil
}

func (s *TripService) SignOut(ctx context.Context, _ *Empty) (*Empty, error) {
	if err := s.users.Logout(ctx); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

// GetState returns everything the stores currently hold.
func (s *TripService) GetState(ctx context.Context, _ *Empty) (*StateResponse, error) {
	uid := s.users.UID()
	res := &StateResponse{
		User:         ToUser(s.users.User()),
		TripState:    s.trips.State().String(),
		Trip:         ToTrip(s.trips.Trip()),
		Bills:        ToBills(s.bills.Bills()),
		Transactions: ToTransactions(s.bills.Transactions()),
		Balance:      ToBalance(s.bills.Balance(uid)),
	}
	for _, err := range []error{s.users.Err(), s.trips.Err(), s.bills.Err()} {
		if err != nil {
			res.Error = err.Error()
			break
		}
	}
	return res, nil
}

func (s *TripService) UpdateProfile(ctx context.Context, req *UpdateProfileRequest) (*Empty, error) {
	err := s.users.UpdateProfile(ctx, store.ProfilePatch{
		Name:             req.Name,
		Bio:              req.Bio,
		TravelPreference: req.TravelPreference,
	})
	if err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *TripService) CreateTrip(ctx context.Context, req *CreateTripRequest) (*TripIDResponse, error) {
	id, err := s.trips.CreateTrip(ctx, store.TripInput{
		Title:     req.Title,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Status:    models.TripStatus(req.Status),
	})
	if err != nil {
		return nil, err
	}
	return &TripIDResponse{TripID: id}, nil
}

func (s *TripService) LinkTrip(ctx context.Context, req *TripRequest) (*Empty, error) {
	if err := s.trips.LinkTrip(ctx, req.TripID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *TripService) JoinTrip(ctx context.Context, req *TripRequest) (*Empty, error) {
	if err := s.trips.JoinTrip(ctx, req.TripID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *TripService) SwitchTrip(ctx context.Context, req *TripRequest) (*Empty, error) {
	if err := s.trips.SwitchTrip(ctx, req.TripID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *TripService) UpdateTrip(ctx context.Context, req *UpdateTripRequest) (*Empty, error) {
	patch := store.TripPatch{
		Title:     req.Title,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	}
	if req.Status != nil {
		status := models.TripStatus(*req.Status)
		patch.Status = &status
	}
	if err := s.trips.UpdateTrip(ctx, req.TripID, patch); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *TripService) AddDestination(ctx context.Context, req *AddDestinationRequest) (*DestinationIDResponse, error) {
	id, err := s.trips.AddDestination(ctx, req.TripID, store.DestinationInput{
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Address:     req.Address,
		Description: req.Description,
		Date:        req.Date,
	})
	if err != nil {
		return nil, err
	}
	return &DestinationIDResponse{DestinationID: id}, nil
}

func (s *TripService) UpdateDestination(ctx context.Context, req *UpdateDestinationRequest) (*Empty, error) {
	err := s.trips.UpdateDestination(ctx, req.TripID, req.DestinationID, store.DestinationPatch{
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Address:     req.Address,
		Description: req.Description,
		Date:        req.Date,
		ClearDate:   req.ClearDate,
	})
	if err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *TripService) RemoveDestination(ctx context.Context, req *DestinationRequest) (*Empty, error) {
	if err := s.trips.RemoveDestination(ctx, req.TripID, req.DestinationID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *TripService) SaveBill(ctx context.Context, req *SaveBillRequest) (*BillIDResponse, error) {
	id, err := s.bills.SaveBill(ctx, store.BillInput{
		ID:           req.BillID,
		Title:        req.Title,
		Payer:        req.Payer,
		Total:        req.Total,
		Amounts:      req.Amounts,
		Participants: req.Participants,
		Currency:     req.Currency,
		Mode:         models.DistributionMode(req.Mode),
		IsDraft:      req.IsDraft,
	})
	if err != nil {
		return nil, err
	}
	return &BillIDResponse{BillID: id}, nil
}

func (s *TripService) DeleteBill(ctx context.Context, req *BillRequest) (*Empty, error) {
	if err := s.bills.DeleteBill(ctx, req.BillID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

// ArchiveBill hides a bill on this device only.
func (s *TripService) ArchiveBill(ctx context.Context, req *BillRequest) (*Empty, error) {
	if err := s.bills.Archive(ctx, req.BillID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *TripService) RestoreBill(ctx context.Context, req *BillRequest) (*Empty, error) {
	if err := s.bills.Restore(ctx, req.BillID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *TripService) RecordTransaction(ctx context.Context, req *RecordTransactionRequest) (*TransactionIDResponse, error) {
	id, err := s.bills.RecordTransaction(ctx, store.TransactionInput{
		Debtor:      req.Debtor,
		Creditor:    req.Creditor,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
	})
	if err != nil {
		return nil, err
	}
	return &TransactionIDResponse{TransactionID: id}, nil
}

func (s *TripService) DeleteTransaction(ctx context.Context, req *TransactionRequest) (*Empty, error) {
	if err := s.bills.DeleteTransaction(ctx, req.TransactionID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

// GetBalance aggregates every bill of the active trip for one user.
func (s *TripService) GetBalance(ctx context.Context, req *BalanceRequest) (*Balance, error) {
	if s.bills.TripID() == "" {
		return nil, fmt.Errorf("%w: no active trip", remote.ErrInvalidParent)
	}
	uid := req.UserID
	if uid == "" {
		uid = middleware.GetUserID(ctx)
	}
	bal := ToBalance(s.bills.Balance(uid))
	return &bal, nil
}
