package account

import "errors"

var (
	// ErrOwnerNotFound is returned when no record exists for an owner id.
	ErrOwnerNotFound = errors.New("owner not found")
	// ErrAccountNotFound is returned when an owner has no matching account.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountIndex is returned when an account index is out of range.
	ErrAccountIndex = errors.New("account index out of range")
	// ErrTooManyAccounts is returned when adding an account would exceed the per-owner cap.
	ErrTooManyAccounts = errors.New("too many accounts for owner")
	// ErrNoPendingLogin is returned when no MFA placeholder exists for an owner.
	ErrNoPendingLogin = errors.New("no pending mfa login")
	// ErrBackendUnavailable wraps storage backend faults.
	ErrBackendUnavailable = errors.New("account backend unavailable")
	// ErrCorruptRecord is returned when a stored owner record cannot be decoded.
	ErrCorruptRecord = errors.New("account record corrupt")
)
