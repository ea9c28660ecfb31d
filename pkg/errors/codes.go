package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeMessaging          ErrorCode = "COMMON_015"
	ErrCodeStorage            ErrorCode = "COMMON_016"
)

// Aliases
const (
	CodeOK      = ErrorCode("OK")
	CodeUnknown = ErrorCode("UNKNOWN")
)

// Extraction Module Error Codes
const (
	ErrCodeInvalidInput       ErrorCode = "EXTRACT_001"
	ErrCodePatternLoad        ErrorCode = "EXTRACT_002"
	ErrCodeMatchFault         ErrorCode = "EXTRACT_003"
	ErrCodeStageTimeout       ErrorCode = "EXTRACT_004"
	ErrCodeStageBackend       ErrorCode = "EXTRACT_005"
	ErrCodeBackendUnavailable ErrorCode = "EXTRACT_006"
	ErrCodeDeadlineExceeded   ErrorCode = "EXTRACT_007"
	ErrCodeInvalidResponse    ErrorCode = "EXTRACT_008"
)

// ErrorCodeHTTPStatus maps codes to HTTP statuses.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeMessaging:          http.StatusInternalServerError,
	ErrCodeStorage:            http.StatusInternalServerError,

	ErrCodeInvalidInput:       http.StatusBadRequest,
	ErrCodePatternLoad:        http.StatusUnprocessableEntity,
	ErrCodeMatchFault:         http.StatusInternalServerError,
	ErrCodeStageTimeout:       http.StatusGatewayTimeout,
	ErrCodeStageBackend:       http.StatusBadGateway,
	ErrCodeBackendUnavailable: http.StatusServiceUnavailable,
	ErrCodeDeadlineExceeded:   http.StatusGatewayTimeout,
	ErrCodeInvalidResponse:    http.StatusBadGateway,
}

// ErrorCodeMessage holds default messages per code.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization error",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeMessaging:          "messaging error",
	ErrCodeStorage:            "object storage error",

	ErrCodeInvalidInput:       "invalid document input",
	ErrCodePatternLoad:        "pattern definition rejected",
	ErrCodeMatchFault:         "pattern failed at match time",
	ErrCodeStageTimeout:       "enhancement stage timed out",
	ErrCodeStageBackend:       "enhancement backend error",
	ErrCodeBackendUnavailable: "inference backend unavailable",
	ErrCodeDeadlineExceeded:   "document deadline exceeded",
	ErrCodeInvalidResponse:    "inference backend returned a non-conformant response",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}

//Personal.AI order the ending
