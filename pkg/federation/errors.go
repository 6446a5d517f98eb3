package federation

import (
	"errors"
	"fmt"
)

// Code classifies a flow failure. The set is closed; the outcome mapper
// and the workflow engine's transition table depend on it.
type Code string

const (
	CodeMissingState          Code = "MISSING_STATE"
	CodeInvalidOrExpiredState Code = "INVALID_OR_EXPIRED_STATE"
	CodeMissingToken          Code = "MISSING_TOKEN"
	CodeMalformedToken        Code = "MALFORMED_TOKEN"
	CodeUntrustedSignature    Code = "UNTRUSTED_SIGNATURE"
	CodeExpired               Code = "EXPIRED"
	CodeAudienceMismatch      Code = "AUDIENCE_MISMATCH"
	CodeAccessDenied          Code = "ACCESS_DENIED"
	CodeTicketCreation        Code = "TICKET_CREATION_ERROR"
	CodeStorage               Code = "STORAGE_ERROR"
)

// FlowError is a classified flow failure.
type FlowError struct {
	Code Code

	// RetryURL offers the caller a same-provider retry redirect. Set only
	// for the stale/mismatched-assertion rejections.
	RetryURL string

	cause error
}

// NewFlowError wraps cause with a classification code.
func NewFlowError(code Code, cause error) *FlowError {
	return &FlowError{Code: code, cause: cause}
}

// FlowErrorf builds a classified error from a format string.
func FlowErrorf(code Code, format string, args ...interface{}) *FlowError {
	return &FlowError{Code: code, cause: fmt.Errorf(format, args...)}
}

func (e *FlowError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.cause)
	}
	return string(e.Code)
}

func (e *FlowError) Unwrap() error {
	return e.cause
}

// CodeOf extracts the classification code from err, or "" when err is not
// a FlowError.
func CodeOf(err error) Code {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// RetryURLOf extracts the retry URL from err, if any.
func RetryURLOf(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.RetryURL
	}
	return ""
}

// IsInfrastructure reports whether the code indicates a configuration or
// infrastructure problem rather than a routine user-facing condition.
// These are logged at error severity; everything else at warn.
func (c Code) IsInfrastructure() bool {
	switch c {
	case CodeAccessDenied, CodeStorage, CodeTicketCreation:
		return true
	}
	return false
}
