/*
errors.go - Error taxonomy for the stock/sale core

PURPOSE:
  Every failure the core reports falls into one category. Callers branch
  with errors.Is on the sentinel and read details with errors.As on the
  structured type. The message text of each structured error is shown to
  users verbatim, so it is part of the contract.

ERROR CATEGORIES:
  1. Validation      - malformed input, not retried
  2. Not found       - referenced id does not exist
  3. Item not found  - a sale names stock that does not exist
  4. Forbidden       - caller role fails a gate
  5. Insufficient    - sale or adjustment exceeds quantity on hand
  6. Unauthenticated - no resolvable identity on a mutation
  7. Conflict        - a uniqueness rule would be broken

  Anything else is an internal (storage) failure.

SEE ALSO:
  - api/errors.go: maps categories to HTTP status codes
*/
package retail

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrItemNotFound      = errors.New("item not found in inventory")
	ErrForbidden         = errors.New("forbidden")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrConflict          = errors.New("conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing record of the given kind.
type NotFoundError struct {
	Kind string // "Sale", "Item", "User"
	ID   string
}

func (e *NotFoundError) Error() string { return e.Kind + " not found" }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ItemNotFoundError is returned when a sale references stock that is not in
// the inventory. It is a client error, not a missing-route error.
type ItemNotFoundError struct {
	Name string
}

func (e *ItemNotFoundError) Error() string {
	return "Item not found in inventory. Please add stock first."
}
func (e *ItemNotFoundError) Unwrap() error { return ErrItemNotFound }

// ForbiddenError names the roles a gate requires.
type ForbiddenError struct {
	Required []Role
	Message  string
}

func (e *ForbiddenError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	names := make([]string, len(e.Required))
	for i, r := range e.Required {
		names[i] = string(r)
	}
	return "Access Denied: requires " + strings.Join(names, " or ")
}
func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// InsufficientStockError embeds the available quantity for display.
type InsufficientStockError struct {
	ItemID    ItemID
	Item      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock. Only %d units available.", e.Available)
}
func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type UnauthenticatedError struct{}

func (e *UnauthenticatedError) Error() string { return "Unauthorized" }
func (e *UnauthenticatedError) Unwrap() error { return ErrUnauthenticated }

type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }
func (e *ConflictError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to caller input or role.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func requireAuthenticated(caller Identity) error {
	if !caller.Authenticated() {
		return &UnauthenticatedError{}
	}
	return nil
}

func requireRole(caller Identity, message string, allowed ...Role) error {
	if err := requireAuthenticated(caller); err != nil {
		return err
	}
	for _, r := range allowed {
		if caller.Role == r {
			return nil
		}
	}
	return &ForbiddenError{Required: allowed, Message: message}
}

// MsgAdminsOnly is the 403 message shared by every admin-only gate.
const MsgAdminsOnly = msgAdminsOnly

// RequireAdmin gates operations outside the engine, such as demo data and
// monitor controls.
func RequireAdmin(caller Identity, message string) error {
	return requireRole(caller, message, RoleAdmin)
}
