// Package inverrors defines the error taxonomy shared by the identifier,
// history, deletion and service layers. Callers test with errors.Is against
// the sentinels and use errors.As on the typed errors to read details.
package inverrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrDuplicateIdentifier = errors.New("identifier already assigned to another asset")
	ErrAssetNotFound       = errors.New("asset not found")
	ErrTenantNotFound      = errors.New("tenant not found")
	ErrTransientConflict   = errors.New("transient write conflict")
	ErrOperationFailed     = errors.New("operation failed")
	ErrIncompleteDeletion  = errors.New("tenant deletion left rows behind")
)

// ValidationError reports malformed input. It is raised before any store access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid is shorthand for a *ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// DuplicateIdentifierError carries the display form of the conflicting identifier.
type DuplicateIdentifierError struct {
	Kind    string
	Display string
}

func (e *DuplicateIdentifierError) Error() string {
	return fmt.Sprintf("%s identifier %s is already assigned to another asset", e.Kind, e.Display)
}

func (e *DuplicateIdentifierError) Is(target error) bool { return target == ErrDuplicateIdentifier }

// IncompleteDeletionError lists the tables that still hold rows for the tenant
// after a deletion pass.
type IncompleteDeletionError struct {
	TenantID  int64
	Remaining map[string]int64
}

func (e *IncompleteDeletionError) Error() string {
	tables := make([]string, 0, len(e.Remaining))
	for t := range e.Remaining {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	parts := make([]string, 0, len(tables))
	for _, t := range tables {
		parts = append(parts, fmt.Sprintf("%s=%d", t, e.Remaining[t]))
	}
	return fmt.Sprintf("tenant %d deletion incomplete: %s", e.TenantID, strings.Join(parts, ", "))
}

func (e *IncompleteDeletionError) Is(target error) bool { return target == ErrIncompleteDeletion }

// OperationFailed wraps the last transient error once retries are exhausted.
func OperationFailed(attempts int, cause error) error {
	return fmt.Errorf("%w after %d attempts: %w", ErrOperationFailed, attempts, cause)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientConflict)
}
