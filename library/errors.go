package library

import (
	"errors"
	"strings"
)

// Code names a domain failure. Codes double as protocol flags.
type Code string

const (
	CodeDuplicate         Code = "duplicate"
	CodeInvalidID         Code = "invalid-id"
	CodeAlreadyVisiting   Code = "already-visiting"
	CodeLibraryClosed     Code = "library-closed"
	CodeInvalidVisitorID  Code = "invalid-visitor-id"
	CodeOutstandingFine   Code = "outstanding-fine"
	CodeBookLimitExceeded Code = "book-limit-exceeded"
	CodeInvalidISBN       Code = "invalid-isbn"
	CodeUnavailable       Code = "unavailable"
	CodeInvalidQuantity   Code = "invalid-quantity"
	CodeInvalidAmount     Code = "invalid-amount"
	CodeInvalidDays       Code = "invalid-number-of-days"
	CodeInvalidHours      Code = "invalid-number-of-hours"
	CodeInvalidSortOrder  Code = "invalid-sort-order"
)

// DomainError is an expected business failure. Details are rendered after
// the code in protocol responses.
type DomainError struct {
	Code    Code
	Details []string
}

func (e *DomainError) Error() string {
	if len(e.Details) == 0 {
		return string(e.Code)
	}
	return string(e.Code) + ": " + strings.Join(e.Details, ", ")
}

// Is matches any DomainError with the same code, so callers can compare
// against the sentinels below.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

func fail(code Code, details ...string) error {
	return &DomainError{Code: code, Details: details}
}

var (
	ErrDuplicate         = &DomainError{Code: CodeDuplicate}
	ErrInvalidID         = &DomainError{Code: CodeInvalidID}
	ErrAlreadyVisiting   = &DomainError{Code: CodeAlreadyVisiting}
	ErrLibraryClosed     = &DomainError{Code: CodeLibraryClosed}
	ErrInvalidVisitorID  = &DomainError{Code: CodeInvalidVisitorID}
	ErrOutstandingFine   = &DomainError{Code: CodeOutstandingFine}
	ErrBookLimitExceeded = &DomainError{Code: CodeBookLimitExceeded}
	ErrInvalidISBN       = &DomainError{Code: CodeInvalidISBN}
	ErrUnavailable       = &DomainError{Code: CodeUnavailable}
	ErrInvalidQuantity   = &DomainError{Code: CodeInvalidQuantity}
	ErrInvalidAmount     = &DomainError{Code: CodeInvalidAmount}
	ErrInvalidDays       = &DomainError{Code: CodeInvalidDays}
	ErrInvalidHours      = &DomainError{Code: CodeInvalidHours}
	ErrInvalidSortOrder  = &DomainError{Code: CodeInvalidSortOrder}
)

// AsDomainError extracts a DomainError from err.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
