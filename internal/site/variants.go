package site

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pixelgate/internal/cloaking"
	"pixelgate/internal/constants"
	apperrors "pixelgate/pkg/errors"
)

// VariantStore is the content variant registry.
type VariantStore interface {
	GetVariants(ctx context.Context, siteID string) (map[cloaking.VariantType]Variant, error)
	UpsertVariant(ctx context.Context, siteID string, variant Variant) error
	DeleteVariant(ctx context.Context, siteID string, variantType cloaking.VariantType) error
}

type variantDocument struct {
	SiteID    string    `bson:"site_id"`
	Type      string    `bson:"type"`
	URL       string    `bson:"url"`
	Title     string    `bson:"title,omitempty"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type MongoVariantStore struct {
	collection *mongo.Collection
}

func NewMongoVariantStore(db *mongo.Database) *MongoVariantStore {
	return &MongoVariantStore{
		collection: db.Collection(constants.ContentVariantsCollection),
	}
}

func (s *MongoVariantStore) GetVariants(ctx context.Context, siteID string) (map[cloaking.VariantType]Variant, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"site_id": siteID})
	if err != nil {
		return nil, fmt.Errorf("failed to find content variants: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []variantDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode content variants: %w", err)
	}

	variants := make(map[cloaking.VariantType]Variant, len(docs))
	for _, d := range docs {
		vt := cloaking.VariantType(d.Type)
		variants[vt] = Variant{Type: vt, URL: d.URL, Title: d.Title}
	}
	return variants, nil
}

// UpsertVariant replaces the site's variant of the same type.
func (s *MongoVariantStore) UpsertVariant(ctx context.Context, siteID string, variant Variant) error {
	filter := bson.M{"site_id": siteID, "type": string(variant.Type)}
	doc := variantDocument{
		SiteID:    siteID,
		Type:      string(variant.Type),
		URL:       variant.URL,
		Title:     variant.Title,
		UpdatedAt: time.Now().UTC(),
	}

	_, err := s.collection.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert content variant: %w", err)
	}
	return nil
}

func (s *MongoVariantStore) DeleteVariant(ctx context.Context, siteID string, variantType cloaking.VariantType) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"site_id": siteID, "type": string(variantType)})
	if err != nil {
		return fmt.Errorf("failed to delete content variant: %w", err)
	}
	if result.DeletedCount == 0 {
		return apperrors.ErrNotFound.WithMessage("content variant not found")
	}
	return nil
}
