package common

import "errors"

var (

	// repository / lookup errors
	ErrNotFound = errors.New("not found")

	// uniqueness violations on email or username
	ErrConflict = errors.New("already exists")

	// stale fingerprint on a conditional write
	ErrPreconditionFailed = errors.New("precondition failed")

	// missing or malformed required fields
	ErrValidation = errors.New("validation error")

	// a referenced entity does not exist (e.g. address owner)
	ErrInvalidReference = errors.New("invalid reference")
)
