package vector

import (
	"context"
	"errors"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

const (
	// ClassBookCover holds one object per ISBN with the cover embedding as
	// its vector.
	ClassBookCover = "BookCover"

	// DistanceL2Squared is reported back as squared Euclidean distance.
	DistanceL2Squared = "l2-squared"
)

// ErrDistanceMismatch means an existing BookCover class was created with a
// metric other than l2-squared, so its distances cannot be turned back into
// Euclidean scores.
var ErrDistanceMismatch = errors.New("cover class distance mismatch")

// SchemaClient covers the schema operations on the BookCover class.
type SchemaClient interface {
	Exists(ctx context.Context) (bool, error)
	Create(ctx context.Context, class *models.Class) error
	Get(ctx context.Context) (*models.Class, error)
	AddProperty(ctx context.Context, property *models.Property) error
}

func coverProperties() []*models.Property {
	return []*models.Property{
		{
			Name:         "isbn",
			DataType:     []string{"text"},
			Tokenization: "field", // exact match
		},
		{
			Name:     "insertedAt",
			DataType: []string{"int"},
		},
	}
}

// classDistance reads the configured metric. Weaviate defaults to cosine when
// none is set.
func classDistance(class *models.Class) string {
	if cfg, ok := class.VectorIndexConfig.(map[string]interface{}); ok {
		if d, ok := cfg["distance"].(string); ok && d != "" {
			return d
		}
	}
	return "cosine"
}

// EnsureSchema creates the BookCover class or adds properties missing from an
// existing one. An existing class with another distance metric is an error;
// it is never altered.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.Exists(ctx)
	if err != nil {
		return err
	}

	properties := coverProperties()

	if !exists {
		class := &models.Class{
			Class:       ClassBookCover,
			Description: "Embedding of a reference book cover",
			Vectorizer:  "none",
			VectorIndexConfig: map[string]interface{}{
				"distance": DistanceL2Squared,
			},
			Properties: properties,
		}
		return client.Create(ctx, class)
	}

	class, err := client.Get(ctx)
	if err != nil {
		return err
	}
	if d := classDistance(class); d != DistanceL2Squared {
		return fmt.Errorf("%w: %s uses %q, want %q", ErrDistanceMismatch, ClassBookCover, d, DistanceL2Squared)
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, p); err != nil {
				return err
			}
		}
	}

	return nil
}
