package domain

import "errors"

// Error taxonomy shared by the lending core. Component errors wrap one of
// these with %w so callers can branch with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrDuplicate        = errors.New("duplicate id")
)
