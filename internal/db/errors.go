package db

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for record store operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrTransactionConflict indicates a SurrealDB transaction conflict.
	// This occurs when multiple concurrent operations attempt to modify the same records.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrInvalidIdentifier indicates a table or field name that cannot be
	// safely interpolated into SurrealQL.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrTableNotFound indicates the collection does not exist.
	ErrTableNotFound = errors.New("table not found")
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier checks that name is a plain SurrealQL identifier.
func ValidIdentifier(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// wrapQueryError inspects a SurrealDB error and wraps it with the appropriate
// sentinel error if it's a known query error type. Returns the original error
// if it's not a QueryError or doesn't match known patterns.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		if strings.Contains(msg, "Transaction conflict") {
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		}
		if strings.Contains(msg, "does not exist") && strings.Contains(msg, "table") {
			return fmt.Errorf("%w: %s", ErrTableNotFound, msg)
		}
	}

	return err
}
