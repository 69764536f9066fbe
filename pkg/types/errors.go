package types

import "errors"

// Error taxonomy for the governance engine. Reads of nonexistent or
// cross-tenant entities return ErrNotFound, deliberately
// indistinguishable from "exists but denied", to avoid leaking
// existence across tenants.
var (
	// ErrNotFound is returned for any read of an unknown, cross-tenant,
	// or soft-deleted entity or principal
	ErrNotFound = errors.New("not found")

	// ErrDenied is returned for write operations where existence is
	// already known to the caller's own scope
	ErrDenied = errors.New("permission denied")

	// ErrConflict is returned on a uniqueness violation (slug collision)
	ErrConflict = errors.New("conflict")

	// ErrInvalid is returned for bounds violations or malformed patches
	ErrInvalid = errors.New("invalid")

	// ErrInternal is returned after a storage failure survives one retry
	ErrInternal = errors.New("internal error")
)

// IsNotFound reports whether err is (or wraps) ErrNotFound
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsDenied reports whether err is (or wraps) ErrDenied
func IsDenied(err error) bool { return errors.Is(err, ErrDenied) }

// IsConflict reports whether err is (or wraps) ErrConflict
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsInvalid reports whether err is (or wraps) ErrInvalid
func IsInvalid(err error) bool { return errors.Is(err, ErrInvalid) }
