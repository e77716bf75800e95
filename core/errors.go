package core

import "errors"

var (
	// ErrNotFound is returned by stores when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned by stores when a uniqueness rule is violated
	// (user email, special day per date).
	ErrDuplicate = errors.New("record already exists")
)
