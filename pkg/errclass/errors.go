package errclass

import "fmt"

// Error is a stable, machine-readable error class. The Code is the reason
// code surfaced to callers and scripts; the Message carries the specifics.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// WithMessage returns a new Error with the same Code but a specific message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg}
}

// WithMessagef returns a new Error with a formatted message.
func (e *Error) WithMessagef(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// Operational error classes. Verification findings are reported as data,
// not through these.
var (
	ErrSummaryEmpty    = &Error{Code: "E_SUMMARY_EMPTY"}
	ErrStatusInvalid   = &Error{Code: "E_STATUS_INVALID"}
	ErrPayloadInvalid  = &Error{Code: "E_PAYLOAD_INVALID"}
	ErrNameInvalid     = &Error{Code: "E_NAME_INVALID"}
	ErrBranchExists    = &Error{Code: "E_BRANCH_EXISTS"}
	ErrBranchNotFound  = &Error{Code: "E_BRANCH_NOT_FOUND"}
	ErrCommitNotFound  = &Error{Code: "E_COMMIT_NOT_FOUND"}
	ErrSourceHeadless  = &Error{Code: "E_SOURCE_HEADLESS"}
	ErrLedgerMalformed = &Error{Code: "E_LEDGER_MALFORMED"}
	ErrLedgerMissing   = &Error{Code: "E_LEDGER_MISSING"}
	ErrChainBroken     = &Error{Code: "E_CHAIN_BROKEN"}
	ErrConfigInvalid   = &Error{Code: "E_CONFIG_INVALID"}
	ErrPathEscape      = &Error{Code: "E_PATH_ESCAPE"}
)
