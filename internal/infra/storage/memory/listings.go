package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"ncpwheels/internal/app/policies"
)

// ListingDirectory is a fixture-backed policies.ListingDirectory.
type ListingDirectory struct {
	mu    sync.RWMutex
	items map[string]policies.Listing
}

func NewListingDirectory(items ...policies.Listing) *ListingDirectory {
	d := &ListingDirectory{items: make(map[string]policies.Listing, len(items))}
	for _, item := range items {
		d.Put(item)
	}
	return d
}

func (d *ListingDirectory) Put(listing policies.Listing) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[strings.TrimSpace(listing.ID)] = listing
}

func (d *ListingDirectory) Listing(ctx context.Context, id string) (policies.Listing, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	listing, ok := d.items[strings.TrimSpace(id)]
	if !ok {
		return policies.Listing{}, policies.ErrListingNotFound
	}
	return listing, nil
}

type listingFixture struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Title   string `json:"title"`
	Active  *bool  `json:"active"`
}

// LoadFixtures reads a JSON array of listings. A missing file loads nothing.
func (d *ListingDirectory) LoadFixtures(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read fixtures: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return 0, nil
	}
	var fixtures []listingFixture
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return 0, fmt.Errorf("decode fixtures: %w", err)
	}
	loaded := 0
	for _, fx := range fixtures {
		if strings.TrimSpace(fx.ID) == "" || strings.TrimSpace(fx.OwnerID) == "" {
			continue
		}
		active := fx.Active == nil || *fx.Active
		d.Put(policies.Listing{ID: fx.ID, OwnerID: fx.OwnerID, Title: fx.Title, Active: active})
		loaded++
	}
	return loaded, nil
}

var _ policies.ListingDirectory = (*ListingDirectory)(nil)
