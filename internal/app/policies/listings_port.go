package policies

import (
	"context"
	"errors"
)

// ErrListingNotFound is returned by directories for unknown listing ids.
var ErrListingNotFound = errors.New("policies: listing not found")

// Listing is the slice of a listing the messaging core cares about.
type Listing struct {
	ID      string
	OwnerID string
	Title   string
	Active  bool
}

// ListingDirectory resolves listings owned by the external listings service.
type ListingDirectory interface {
	Listing(ctx context.Context, id string) (Listing, error)
}
