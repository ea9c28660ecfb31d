// Common helper functions for HTTP handlers.

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// writeAppError maps an error to its HTTP status through the error code
// table. Server-side failures are masked.
func writeAppError(w http.ResponseWriter, err error) {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		appErr = errors.New(errors.ErrCodeInternal, "internal server error")
	}
	status := errors.HTTPStatusForCode(appErr.Code)
	resp := ErrorResponse{Code: appErr.Code.String(), Message: appErr.Message, Detail: appErr.Detail}
	if status >= http.StatusInternalServerError {
		resp = ErrorResponse{Code: errors.ErrCodeInternal.String(), Message: "internal server error"}
	}
	writeJSON(w, status, resp)
}

//Personal.AI order the ending
