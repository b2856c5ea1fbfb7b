package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/meetingmod/moderator/pkg/core"
	"github.com/meetingmod/moderator/pkg/gateway/apierror"
	"github.com/meetingmod/moderator/pkg/gateway/mw"
)

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	coreErr, status := apierror.FromError(err, reqID)
	writeCoreErrorJSON(w, reqID, coreErr, status)
}

func writeCoreErrorJSON(w http.ResponseWriter, reqID string, coreErr *core.Error, status int) {
	if coreErr != nil && coreErr.RequestID == "" {
		coreErr.RequestID = reqID
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: coreErr})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a bounded JSON body into dst. An empty body is reported
// with ok=false and no error so callers can treat the body as optional.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) (ok bool, err error) {
	body := r.Body
	if maxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return false, err
		}
		return false, core.NewInvalidRequestErrorWithParam("invalid JSON body: "+err.Error(), "body")
	}
	return true, nil
}

func requireJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	ok, err := decodeJSON(w, r, maxBytes, dst)
	if err != nil {
		return err
	}
	if !ok {
		return core.NewInvalidRequestErrorWithParam("request body is required", "body")
	}
	return nil
}
