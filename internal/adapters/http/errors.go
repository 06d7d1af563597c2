package httpadapter

import (
	"errors"
	"net/http"

	"github.com/PabloGalante/equalizer/internal/domain"
	"github.com/PabloGalante/equalizer/internal/observability"
)

var errTrailingData = errors.New("unexpected data after JSON body")

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      domain.ErrorCode `json:"code"`
	Message   string           `json:"message"`
	RequestID string           `json:"request_id,omitempty"`
}

// statusFor maps the boundary taxonomy onto HTTP.
func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeSessionNotFound:
		return http.StatusNotFound
	case domain.CodeSessionClosed:
		return http.StatusGone
	case domain.CodeCapacityExceeded:
		return http.StatusServiceUnavailable
	case domain.CodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeQueueFull:
		return http.StatusTooManyRequests
	case domain.CodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError classifies err and writes the typed error payload.
// Internal errors are logged and their text is not exposed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.Code(err)
	msg := err.Error()
	if code == domain.CodeInternal {
		observability.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	writeErrorCode(w, r, statusFor(code), code, msg)
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code domain.ErrorCode, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:      code,
		Message:   msg,
		RequestID: requestIDFrom(r),
	}})
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeErrorCode(w, r, http.StatusBadRequest, domain.CodeInvalidRequest, msg)
}
