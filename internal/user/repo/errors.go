package repo

import "errors"

// Every store normalizes its driver errors to these.
var (
	ErrNotFound  = errors.New("user not found")
	ErrDuplicate = errors.New("email already registered")
	ErrInvalidID = errors.New("invalid user id")
)
