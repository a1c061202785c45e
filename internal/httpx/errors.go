package httpx

import (
	"encoding/json"
	"errors"
	"github.com/ariefcatur/go-order-orchestrator/internal/logging"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"go.uber.org/zap"
	"net/http"
)

const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeLockConflict      = "LOCK_CONFLICT"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeDomain            = "DOMAIN_ERROR"
	CodeInternal          = "INTERNAL_ERROR"
)

type errorResp struct {
	Message   string              `json:"message"`
	ErrorCode string              `json:"error_code"`
	Errors    map[string][]string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to a status and a stable error code.
// Anything unrecognised is logged and reported as a 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *orders.ValidationError
		code int
		resp errorResp
	)
	switch {
	case errors.As(err, &verr):
		code = http.StatusUnprocessableEntity
		resp = errorResp{Message: verr.Message, ErrorCode: CodeValidation, Errors: map[string][]string{verr.Field: {verr.Message}}}
	case errors.Is(err, orders.ErrLockAcquisition):
		code = http.StatusConflict
		resp = errorResp{Message: "Could not acquire lock. Please retry.", ErrorCode: CodeLockConflict}
	case errors.Is(err, orders.ErrInsufficientStock):
		code = http.StatusConflict
		resp = errorResp{Message: err.Error(), ErrorCode: CodeInsufficientStock}
	case errors.Is(err, orders.ErrOrderNotFound):
		code = http.StatusNotFound
		resp = errorResp{Message: "Order not found.", ErrorCode: CodeNotFound}
	case errors.Is(err, orders.ErrOrderNotCancellable), errors.Is(err, orders.ErrInvalidTransition):
		code = http.StatusUnprocessableEntity
		resp = errorResp{Message: err.Error(), ErrorCode: CodeInvalidTransition}
	case errors.Is(err, orders.ErrProductNotFound):
		code = http.StatusUnprocessableEntity
		resp = errorResp{Message: err.Error(), ErrorCode: CodeDomain}
	default:
		logging.FromContext(r.Context()).Error("request_failed", zap.String("path", r.URL.Path), zap.Error(err))
		code = http.StatusInternalServerError
		resp = errorResp{Message: "Internal server error.", ErrorCode: CodeInternal}
	}
	writeJSON(w, code, resp)
}
