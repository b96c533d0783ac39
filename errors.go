package relay

import (
	"errors"
	"fmt"
)

// RelayError represents a failure in one step of the relay protocol.
// Code identifies the failing step; Err carries the underlying cause.
type RelayError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *RelayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RelayError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a RelayError with the same code, so callers
// can match a failure kind with errors.Is(err, relay.ErrNonceFetchFailed).
func (e *RelayError) Is(target error) bool {
	t, ok := target.(*RelayError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Error codes
const (
	// Preparation errors (fatal, no partial request is produced)
	ErrCodeNonceFetchFailed           = "nonce_fetch_failed"
	ErrCodeGasEstimationFailed        = "gas_estimation_failed"
	ErrCodeSigningFailed              = "signing_failed"
	ErrCodeUnsupportedDomainExtension = "unsupported_domain_extension"
	ErrCodeDomainResolutionFailed     = "domain_resolution_failed"
	ErrCodePreparationAborted         = "preparation_aborted"
	ErrCodeInvalidRequest             = "invalid_request"

	// Wire errors
	ErrCodeUnsafeInteger = "unsafe_integer"

	// Transmission errors: outcome unknown
	ErrCodeTransmissionFailed = "transmission_failed"

	// Policy errors
	ErrCodeDeadlineExpired  = "deadline_expired"
	ErrCodeInvalidSignature = "invalid_signature"
)

// Sentinels for errors.Is matching.
var (
	ErrNonceFetchFailed           = &RelayError{Code: ErrCodeNonceFetchFailed}
	ErrGasEstimationFailed        = &RelayError{Code: ErrCodeGasEstimationFailed}
	ErrSigningFailed              = &RelayError{Code: ErrCodeSigningFailed}
	ErrUnsupportedDomainExtension = &RelayError{Code: ErrCodeUnsupportedDomainExtension}
	ErrDomainResolutionFailed     = &RelayError{Code: ErrCodeDomainResolutionFailed}
	ErrPreparationAborted         = &RelayError{Code: ErrCodePreparationAborted}
	ErrInvalidRequest             = &RelayError{Code: ErrCodeInvalidRequest}
	ErrUnsafeInteger              = &RelayError{Code: ErrCodeUnsafeInteger}
	ErrDeadlineExpired            = &RelayError{Code: ErrCodeDeadlineExpired}
	ErrInvalidSignature           = &RelayError{Code: ErrCodeInvalidSignature}

	// ErrTransmissionFailed marks an unknown outcome: the relay may or may
	// not have accepted the request. Callers must not assume either.
	ErrTransmissionFailed = &RelayError{Code: ErrCodeTransmissionFailed}
)

// NewRelayError creates a new relay error wrapping err
func NewRelayError(code, message string, err error) *RelayError {
	return &RelayError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails returns a copy of e carrying details. e is not modified.
func (e *RelayError) WithDetails(details map[string]interface{}) *RelayError {
	out := *e
	out.Details = details
	return &out
}

// ErrorCode extracts the relay error code from err, or "" if err is not a
// RelayError.
func ErrorCode(err error) string {
	var re *RelayError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
