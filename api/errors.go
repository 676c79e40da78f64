package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/billbatista/acasinha-ledger/ledger"
	"github.com/billbatista/acasinha-ledger/money"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrForbidden      ErrorCode = "FORBIDDEN"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrRejected       ErrorCode = "REJECTED"
	ErrUnavailable    ErrorCode = "UNAVAILABLE"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
)

type apiError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

// classify maps a ledger error to its HTTP status and error code.
func classify(err error) (int, ErrorCode) {
	var verrs validation.Errors
	switch {
	case errors.As(err, &verrs),
		errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrInvalidPercentage),
		errors.Is(err, money.ErrSplitSumInvalid),
		errors.Is(err, ledger.ErrEmptyCode),
		errors.Is(err, ledger.ErrEmptyName),
		errors.Is(err, ledger.ErrEmptyMember),
		errors.Is(err, ledger.ErrEmptyDescription):
		return http.StatusBadRequest, ErrInvalidInput
	case errors.Is(err, ledger.ErrGroupNotFound), errors.Is(err, ledger.ErrPurchaseNotFound):
		return http.StatusNotFound, ErrNotFound
	case errors.Is(err, ledger.ErrNotMember):
		return http.StatusForbidden, ErrForbidden
	case errors.Is(err, ledger.ErrOverpaymentRejected):
		return http.StatusUnprocessableEntity, ErrRejected
	case errors.Is(err, ledger.ErrGroupExists), errors.Is(err, ledger.ErrConcurrentUpdate):
		return http.StatusConflict, ErrConflict
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, ErrUnavailable
	default:
		return http.StatusInternalServerError, ErrInternalServer
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	body := apiError{Code: code, Message: err.Error()}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		body.Message = "invalid request"
		body.Details = verrs
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "error", err, "status", status)
		if status == http.StatusInternalServerError {
			body.Message = "internal server error"
		}
	}
	writeJSON(w, status, body)
}
