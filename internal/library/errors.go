package library

import (
	"fmt"

	"lendwatch/internal/domain"
)

var (
	ErrResourceNotFound = fmt.Errorf("resource %w", domain.ErrNotFound)

	ErrNotLoanable      = fmt.Errorf("%w: resource cannot be lent", domain.ErrInvalidOperation)
	ErrNotReservable    = fmt.Errorf("%w: resource cannot be reserved", domain.ErrInvalidOperation)
	ErrNotRenewable     = fmt.Errorf("%w: resource cannot be renewed", domain.ErrInvalidOperation)
	ErrNotAvailable     = fmt.Errorf("%w: resource is not available", domain.ErrInvalidOperation)
	ErrReservedForOther = fmt.Errorf("%w: resource is reserved for another user", domain.ErrInvalidOperation)
	ErrReserveAvailable = fmt.Errorf("%w: resource is available, lend it instead", domain.ErrInvalidOperation)
	ErrNotLoaned        = fmt.Errorf("%w: resource is not on loan", domain.ErrInvalidOperation)
	ErrNotBorrower      = fmt.Errorf("%w: loan belongs to another user", domain.ErrInvalidOperation)
	ErrNoReservation    = fmt.Errorf("%w: user has no reservation for resource", domain.ErrInvalidOperation)
)
