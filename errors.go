package permitrelay

import (
	"errors"
	"fmt"
)

// RelayError represents a terminal rejection of a permit request.
// Codes are stable and safe to return to callers; messages never carry key material.
type RelayError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *RelayError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any RelayError carrying the same code, so callers can use
// errors.Is(err, permitrelay.ErrPermitExpired).
func (e *RelayError) Is(target error) bool {
	t, ok := target.(*RelayError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Error codes
const (
	ErrCodeMalformedAmount        = "malformed_amount"
	ErrCodeMalformedSignature     = "malformed_signature"
	ErrCodeInvalidRecipient       = "invalid_recipient"
	ErrCodeZeroAmount             = "zero_amount"
	ErrCodeInvalidFeeAmount       = "invalid_fee_amount"
	ErrCodePermitExpired          = "permit_expired"
	ErrCodePermitAlreadyUsed      = "permit_already_used"
	ErrCodeInvalidPermitSignature = "invalid_permit_signature"
	ErrCodeInsufficientBalance    = "insufficient_balance"
	ErrCodeLedgerSubmissionFailed = "ledger_submission_failed"
	ErrCodeBatchTooLarge          = "batch_too_large"
	ErrCodePermitNotValidated     = "permit_not_validated"
	ErrCodeAborted                = "aborted"
)

// Sentinels for errors.Is comparisons.
var (
	ErrMalformedAmount        = &RelayError{Code: ErrCodeMalformedAmount}
	ErrMalformedSignature     = &RelayError{Code: ErrCodeMalformedSignature}
	ErrInvalidRecipient       = &RelayError{Code: ErrCodeInvalidRecipient}
	ErrZeroAmount             = &RelayError{Code: ErrCodeZeroAmount}
	ErrInvalidFeeAmount       = &RelayError{Code: ErrCodeInvalidFeeAmount}
	ErrPermitExpired          = &RelayError{Code: ErrCodePermitExpired}
	ErrPermitAlreadyUsed      = &RelayError{Code: ErrCodePermitAlreadyUsed}
	ErrInvalidPermitSignature = &RelayError{Code: ErrCodeInvalidPermitSignature}
	ErrInsufficientBalance    = &RelayError{Code: ErrCodeInsufficientBalance}
	ErrLedgerSubmissionFailed = &RelayError{Code: ErrCodeLedgerSubmissionFailed}
	ErrBatchTooLarge          = &RelayError{Code: ErrCodeBatchTooLarge}
	ErrPermitNotValidated     = &RelayError{Code: ErrCodePermitNotValidated}
	ErrAborted                = &RelayError{Code: ErrCodeAborted}
)

// NewRelayError creates a new relay error
func NewRelayError(code, message string) *RelayError {
	return &RelayError{
		Code:    code,
		Message: message,
	}
}

// Errorf creates a relay error with a formatted message
func Errorf(code, format string, args ...interface{}) *RelayError {
	return NewRelayError(code, fmt.Sprintf(format, args...))
}

// ErrorCode returns the relay error code carried by err, or "" if err is not a RelayError.
func ErrorCode(err error) string {
	var re *RelayError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// LedgerFailureKind distinguishes why the ledger refused an operation.
type LedgerFailureKind int

const (
	// LedgerTransportFailure means the request never got a definitive answer
	// (RPC down, timeout, receipt unavailable) or failed for a reason unrelated to the signature.
	LedgerTransportFailure LedgerFailureKind = iota
	// LedgerSignatureRejected means the ledger's permit primitive refused the signature.
	LedgerSignatureRejected
)

func (k LedgerFailureKind) String() string {
	switch k {
	case LedgerSignatureRejected:
		return "signature_rejected"
	default:
		return "transport_failure"
	}
}

// LedgerError is returned by Ledger implementations for permit and transfer calls.
type LedgerError struct {
	Kind LedgerFailureKind
	Err  error
}

func (e *LedgerError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// NewSignatureRejected wraps err as a signature rejection.
func NewSignatureRejected(err error) *LedgerError {
	return &LedgerError{Kind: LedgerSignatureRejected, Err: err}
}

// NewTransportFailure wraps err as a transport failure.
func NewTransportFailure(err error) *LedgerError {
	return &LedgerError{Kind: LedgerTransportFailure, Err: err}
}

// TranslateLedgerError maps a ledger failure onto the relay error taxonomy.
// Unclassified errors are treated as transport failures. The returned
// message is fixed: transport errors can embed RPC endpoints and their
// credentials, so the cause must be logged by the caller instead.
func TranslateLedgerError(err error) *RelayError {
	var le *LedgerError
	if errors.As(err, &le) && le.Kind == LedgerSignatureRejected {
		return NewRelayError(ErrCodeInvalidPermitSignature, "ledger rejected the permit signature")
	}
	return NewRelayError(ErrCodeLedgerSubmissionFailed, "ledger unavailable")
}
