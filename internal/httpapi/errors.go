package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"handscribe/internal/admission"
	"handscribe/internal/pipeline"
	"handscribe/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// requestError is an error detected by the HTTP layer itself.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string   { return e.msg }
func (e *requestError) StatusCode() int { return e.status }

var errNotMultipart = &requestError{status: http.StatusUnsupportedMediaType, msg: "expected multipart/form-data with a file field"}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status, Kind: kind})
}

// errorStatus maps err to an HTTP status and the pipeline failure kind.
// Backpressure is counted here.
func errorStatus(err error) (int, string) {
	kind := string(pipeline.KindOf(err))
	var maxErr *http.MaxBytesError
	switch {
	case admission.IsTooBusy(err):
		IncrementBackpressure(admission.Reason(err))
		return http.StatusTooManyRequests, kind
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge, kind
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode(), kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, kind
	}
	return http.StatusInternalServerError, kind
}
