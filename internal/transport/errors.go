package transport

import (
	"fmt"

	verrors "github.com/Ap3pp3rs94/vehiclecore/pkg/errors"
)

// Server response codes this package classifies explicitly. Anything else
// non-zero becomes VehicleAPIError.
const (
	codeSuccess               = 0
	codeControlPasswordWrong  = 5005
	codeControlPasswordLocked = 5006
	codeRateLimited           = 6024
	codeEndpointNotSupported  = 1001
)

// SessionExpiredCode is the server status that signals a stale session.
// The wire protocol does not document this value; it is a configurable
// sentinel so a deployment can override it once observed against a live
// account without a code change.
var SessionExpiredCode = 1002

// APIError wraps a non-zero server response code with its classification.
type APIError struct {
	Code     int
	Message  string
	Endpoint string
	Class    verrors.Code
}

func (e *APIError) Error() string {
	return fmt.Sprintf("transport: %s: server code %d (%s): %s", e.Endpoint, e.Code, e.Class, e.Message)
}

// Retryable reports whether the classified error should be retried by a
// caller (C9's rate-limit retry, not C6's network retry).
func (e *APIError) Retryable() bool {
	meta, ok := verrors.Meta(e.Class)
	return ok && meta.Retryable
}

func classify(code int) verrors.Code {
	switch code {
	case codeControlPasswordWrong:
		return verrors.VehicleControlPasswordWrong
	case codeControlPasswordLocked:
		return verrors.VehicleControlPasswordLocked
	case codeRateLimited:
		return verrors.VehicleRateLimited
	case codeEndpointNotSupported:
		return verrors.VehicleEndpointNotSupported
	default:
		if code == SessionExpiredCode {
			return verrors.VehicleSessionExpired
		}
		return verrors.VehicleAPIError
	}
}

// NewAPIError builds a classified APIError for a non-zero server code.
func NewAPIError(endpoint string, code int, message string) *APIError {
	return &APIError{Code: code, Message: message, Endpoint: endpoint, Class: classify(code)}
}
