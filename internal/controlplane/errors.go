package controlplane

import (
	"errors"
	"net/http"

	"github.com/fentz26/taskhive/internal/scheduler"
)

// Error codes returned in API error bodies.
const (
	CodeInvalidArgument   = "INVALID_ARGUMENT"
	CodeUnknownTask       = "UNKNOWN_TASK"
	CodeDuplicateID       = "DUPLICATE_ID"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeJournalDisabled   = "JOURNAL_DISABLED"
	CodeInternal          = "INTERNAL"
)

// ErrJournalDisabled is returned by event queries when no journal is configured.
var ErrJournalDisabled = errors.New("event journal disabled")

// APIError is the JSON body of every error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// toAPIError maps an error onto an HTTP status and error body.
func toAPIError(err error) (int, *APIError) {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return http.StatusBadRequest, apiErr
	case errors.Is(err, scheduler.ErrInvalidArgument):
		return http.StatusBadRequest, &APIError{Code: CodeInvalidArgument, Message: err.Error()}
	case errors.Is(err, scheduler.ErrUnknownTask):
		return http.StatusNotFound, &APIError{Code: CodeUnknownTask, Message: err.Error()}
	case errors.Is(err, scheduler.ErrDuplicateID):
		return http.StatusConflict, &APIError{Code: CodeDuplicateID, Message: err.Error()}
	case errors.Is(err, scheduler.ErrInvalidTransition), errors.Is(err, scheduler.ErrAlreadyLeased):
		return http.StatusInternalServerError, &APIError{Code: CodeInvalidTransition, Message: err.Error()}
	case errors.Is(err, ErrJournalDisabled):
		return http.StatusServiceUnavailable, &APIError{Code: CodeJournalDisabled, Message: err.Error()}
	}
	return http.StatusInternalServerError, &APIError{Code: CodeInternal, Message: err.Error()}
}

func invalidArgument(msg string) *APIError {
	return &APIError{Code: CodeInvalidArgument, Message: msg}
}
