package vector

import (
	"context"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// CoverSchema is the SchemaClient for the BookCover class.
type CoverSchema struct {
	client *weaviate.Client
}

func NewCoverSchema(client *weaviate.Client) *CoverSchema {
	return &CoverSchema{client: client}
}

func (s *CoverSchema) Exists(ctx context.Context) (bool, error) {
	return s.client.Schema().ClassExistenceChecker().WithClassName(ClassBookCover).Do(ctx)
}

func (s *CoverSchema) Create(ctx context.Context, class *models.Class) error {
	return s.client.Schema().ClassCreator().WithClass(class).Do(ctx)
}

func (s *CoverSchema) Get(ctx context.Context) (*models.Class, error) {
	return s.client.Schema().ClassGetter().WithClassName(ClassBookCover).Do(ctx)
}

func (s *CoverSchema) AddProperty(ctx context.Context, property *models.Property) error {
	return s.client.Schema().PropertyCreator().WithClassName(ClassBookCover).WithProperty(property).Do(ctx)
}
