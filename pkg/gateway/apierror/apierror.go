// Package apierror maps errors to the JSON error envelope and HTTP status the
// REST API returns.
package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/meetingmod/moderator/pkg/core"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &core.Error{
			Type:      core.ErrInvalidRequest,
			Message:   "request body too large",
			Param:     "body",
			RequestID: requestID,
		}, http.StatusRequestEntityTooLarge
	}

	if coreErr, ok := core.AsError(err); ok {
		out := *coreErr
		out.RequestID = requestID
		return &out, StatusFromType(coreErr.Type)
	}

	// Unknown errors stay opaque to the caller.
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func StatusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrConflict:
		return http.StatusConflict
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrConfiguration:
		return http.StatusServiceUnavailable
	case core.ErrConnection, core.ErrProtocol, core.ErrJudgeFailure, core.ErrAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
