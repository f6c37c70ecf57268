package alerts

import (
	"fmt"

	"lendwatch/internal/domain"
)

var (
	ErrOfferNotFound = fmt.Errorf("offer %w", domain.ErrNotFound)
	ErrOfferClosed   = fmt.Errorf("offer already resolved: %w", domain.ErrInvalidOperation)
	ErrOfferExpired  = fmt.Errorf("offer expired: %w", domain.ErrInvalidOperation)
	ErrInvalidOffer  = fmt.Errorf("invalid offer: %w", domain.ErrInvalidOperation)
)
