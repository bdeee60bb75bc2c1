package mongo

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ncpwheels/internal/app/policies"
)

// ListingDirectory reads the listings collection owned by the catalog service.
type ListingDirectory struct {
	col *mongo.Collection
}

func NewListingDirectory(db *mongo.Database) *ListingDirectory {
	return &ListingDirectory{col: db.Collection("listings")}
}

type listingDocument struct {
	ID      string `bson:"_id"`
	OwnerID string `bson:"owner_id"`
	Title   string `bson:"title"`
	Status  string `bson:"status"`
}

func (d *ListingDirectory) Listing(ctx context.Context, id string) (policies.Listing, error) {
	var doc listingDocument
	opts := options.FindOne().SetProjection(bson.M{"owner_id": 1, "title": 1, "status": 1})
	if err := d.col.FindOne(ctx, bson.M{"_id": strings.TrimSpace(id)}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return policies.Listing{}, policies.ErrListingNotFound
		}
		return policies.Listing{}, err
	}
	return doc.toListing(), nil
}

func (d listingDocument) toListing() policies.Listing {
	status := strings.ToLower(strings.TrimSpace(d.Status))
	return policies.Listing{
		ID:      d.ID,
		OwnerID: d.OwnerID,
		Title:   d.Title,
		Active:  status == "" || status == "active" || status == "published",
	}
}

var _ policies.ListingDirectory = (*ListingDirectory)(nil)
