package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/hr-ledger/generic"
)

// statusFor maps the error taxonomy to HTTP.
func statusFor(kind generic.Kind) int {
	switch kind {
	case generic.KindValidation:
		return http.StatusBadRequest
	case generic.KindAuthorization:
		return http.StatusForbidden
	case generic.KindInvalidTransition, generic.KindConflict:
		return http.StatusConflict
	case generic.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case generic.KindNotFound:
		return http.StatusNotFound
	case generic.KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError renders err. Driver and internal messages are logged, not
// returned.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := generic.KindOf(err)
	status := statusFor(kind)

	body := ErrorBody{Kind: string(kind), Message: err.Error()}
	switch kind {
	case generic.KindStorage:
		body.Message = "storage unavailable, retry later"
	case generic.KindUnknown:
		body.Kind = "internal"
		body.Message = "internal error"
	}
	var ve *generic.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	if generic.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}

	resp := ErrorResponse{Error: body}
	if current, ok := generic.CurrentState(err); ok {
		resp.Current = current
	}
	writeJSON(w, status, resp)
}
