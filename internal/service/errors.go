package service

import (
	"encoding/json"
	"errors"

	"connectrpc.com/connect"

	"github.com/mmynk/tripsync/internal/auth"
	"github.com/mmynk/tripsync/internal/models"
	"github.com/mmynk/tripsync/internal/remote"
	"github.com/mmynk/tripsync/internal/store"
)

// OrphanTripHeader carries the id of a trip that was created but could not
// be linked to its creator. Retry with LinkTrip.
const OrphanTripHeader = "Orphan-Trip-Id"

// toConnectError maps store and auth errors to Connect codes.
func toConnectError(err error) error {
	var orphan *store.OrphanTripError
	var code connect.Code
	switch {
	case errors.As(err, &orphan):
		cerr := connect.NewError(connect.CodeAborted, err)
		cerr.Meta().Set(OrphanTripHeader, orphan.TripID)
		return cerr
	case errors.Is(err, auth.ErrNotAuthenticated),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrMissingToken):
		code = connect.CodeUnauthenticated
	case errors.Is(err, remote.ErrInvalidParent),
		errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrInvalidDates):
		code = connect.CodeInvalidArgument
	case errors.Is(err, remote.ErrNoDocument):
		code = connect.CodeNotFound
	case errors.Is(err, remote.ErrRemoteUnavailable),
		errors.Is(err, remote.ErrClosed):
		code = connect.CodeUnavailable
	default:
		code = connect.CodeInternal
	}
	return connect.NewError(code, err)
}

// jsonCodec encodes the plain Go messages of this package. It replaces
// Connect's default JSON codec, which only accepts protobuf messages.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Codec returns the codec clients must use to talk to TripService.
func Codec() connect.Codec { return jsonCodec{} }
