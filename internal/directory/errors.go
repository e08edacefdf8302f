package directory

import "errors"

var (
	// ErrAlreadyExists is returned when the directory rejects a create
	// because an object with the same name is already present. Callers
	// reclassify this as a non-fatal outcome.
	ErrAlreadyExists = errors.New("directory object already exists")

	// ErrUnreachable covers network failures and failed admin binds.
	ErrUnreachable = errors.New("directory unreachable")

	// ErrPermissionDenied is returned when the bound credential lacks
	// rights for the requested operation.
	ErrPermissionDenied = errors.New("directory permission denied")

	// ErrInvalidParameter is returned when the directory rejects the
	// creation parameter set.
	ErrInvalidParameter = errors.New("invalid directory parameter")

	// ErrNotFound is returned by VerifyAccount when the object cannot
	// be read back.
	ErrNotFound = errors.New("directory object not found")
)
