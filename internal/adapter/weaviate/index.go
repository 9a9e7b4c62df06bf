// Package weaviate implements index.Index on top of a Weaviate HNSW class.
// Results are approximate; distances are converted from l2-squared back to
// Euclidean so scores are comparable with the flat index.
package weaviate

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"coverscan/internal/apperr"
	"coverscan/internal/index"
	"coverscan/internal/vector"
)

// keysPageSize is the cursor page size used by Keys.
const keysPageSize = 500

var isbnNamespace = uuid.MustParse("6f1c3a52-8e0b-4f43-9a43-0b7a3c1f2d10")

type Index struct {
	client *weaviate.Client
	dim    int
}

var _ index.Index = (*Index)(nil)

func NewIndex(client *weaviate.Client, dim int) *Index {
	return &Index{client: client, dim: dim}
}

// ObjectID maps an isbn to its deterministic object id.
func ObjectID(isbn string) string {
	return uuid.NewSHA1(isbnNamespace, []byte(isbn)).String()
}

func (s *Index) Dimension() int { return s.dim }

func (s *Index) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, vector.NewCoverSchema(s.client))
}

func (s *Index) checkVector(vec []float32) error {
	if len(vec) != s.dim {
		return fmt.Errorf("vector has %d dimensions, index expects %d: %w", len(vec), s.dim, apperr.ErrInvalidArgument)
	}
	return nil
}

// Insert upserts by deterministic id. Replacing an object merges the new
// vector and leaves insertedAt untouched.
func (s *Index) Insert(ctx context.Context, isbn string, vec []float32) error {
	if err := s.checkVector(vec); err != nil {
		return err
	}
	id := ObjectID(isbn)

	exists, err := s.Contains(ctx, isbn)
	if err != nil {
		return err
	}
	if exists {
		return s.update(ctx, id, isbn, vec)
	}

	_, err = s.client.Data().Creator().
		WithClassName(vector.ClassBookCover).
		WithID(id).
		WithProperties(map[string]interface{}{
			"isbn":       isbn,
			"insertedAt": time.Now().UnixNano(),
		}).
		WithVector(vec).
		Do(ctx)
	if err == nil {
		return nil
	}
	// A concurrent insert of the same isbn may have created the object first.
	if exists, cerr := s.Contains(ctx, isbn); cerr == nil && exists {
		return s.update(ctx, id, isbn, vec)
	}
	return err
}

func (s *Index) update(ctx context.Context, id, isbn string, vec []float32) error {
	return s.client.Data().Updater().
		WithMerge().
		WithID(id).
		WithClassName(vector.ClassBookCover).
		WithProperties(map[string]interface{}{"isbn": isbn}).
		WithVector(vec).
		Do(ctx)
}

func (s *Index) Query(ctx context.Context, vec []float32, k int) ([]index.Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be >= 1, got %d: %w", k, apperr.ErrInvalidArgument)
	}
	if err := s.checkVector(vec); err != nil {
		return nil, err
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: "isbn"},
		{Name: "insertedAt"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassBookCover).
		WithNearVector(nearVector).
		WithLimit(k).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	type hit struct {
		n          index.Neighbor
		insertedAt float64
	}
	var hits []hit
	if data, ok := res.Data["Get"].(map[string]interface{}); ok {
		if objects, ok := data[vector.ClassBookCover].([]interface{}); ok {
			for _, o := range objects {
				props, ok := o.(map[string]interface{})
				if !ok {
					continue
				}
				h := hit{}
				h.n.ISBN, _ = props["isbn"].(string)
				h.insertedAt, _ = props["insertedAt"].(float64)
				if additional, ok := props["_additional"].(map[string]interface{}); ok {
					if d, ok := additional["distance"].(float64); ok {
						h.n.Distance = math.Sqrt(math.Max(d, 0))
					}
				}
				hits = append(hits, h)
			}
		}
	}

	slices.SortStableFunc(hits, func(a, b hit) int {
		if c := cmp.Compare(a.n.Distance, b.n.Distance); c != 0 {
			return c
		}
		if c := cmp.Compare(a.insertedAt, b.insertedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.n.ISBN, b.n.ISBN)
	})

	out := make([]index.Neighbor, len(hits))
	for i, h := range hits {
		out[i] = h.n
	}
	return out, nil
}

func (s *Index) Remove(ctx context.Context, isbn string) error {
	exists, err := s.Contains(ctx, isbn)
	if err != nil || !exists {
		return err
	}
	return s.client.Data().Deleter().
		WithClassName(vector.ClassBookCover).
		WithID(ObjectID(isbn)).
		Do(ctx)
}

func (s *Index) Contains(ctx context.Context, isbn string) (bool, error) {
	return s.client.Data().Checker().
		WithClassName(vector.ClassBookCover).
		WithID(ObjectID(isbn)).
		Do(ctx)
}

func (s *Index) Len(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(vector.ClassBookCover).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	if agg, ok := res.Data["Aggregate"].(map[string]interface{}); ok {
		if classAgg, ok := agg[vector.ClassBookCover].([]interface{}); ok && len(classAgg) > 0 {
			if first, ok := classAgg[0].(map[string]interface{}); ok {
				if meta, ok := first["meta"].(map[string]interface{}); ok {
					if count, ok := meta["count"].(float64); ok {
						return int(count), nil
					}
				}
			}
		}
	}
	return 0, nil
}

// Keys walks the class with the cursor API, keysPageSize objects at a time.
func (s *Index) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	after := ""
	for {
		q := s.client.GraphQL().Get().
			WithClassName(vector.ClassBookCover).
			WithLimit(keysPageSize).
			WithFields(
				graphql.Field{Name: "isbn"},
				graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
			)
		if after != "" {
			q = q.WithAfter(after)
		}
		res, err := q.Do(ctx)
		if err != nil {
			return nil, err
		}
		if len(res.Errors) > 0 {
			return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
		}

		var objects []interface{}
		if data, ok := res.Data["Get"].(map[string]interface{}); ok {
			objects, _ = data[vector.ClassBookCover].([]interface{})
		}
		for _, o := range objects {
			props, ok := o.(map[string]interface{})
			if !ok {
				continue
			}
			if isbn, ok := props["isbn"].(string); ok {
				keys = append(keys, isbn)
			}
			if additional, ok := props["_additional"].(map[string]interface{}); ok {
				after, _ = additional["id"].(string)
			}
		}
		if len(objects) < keysPageSize || after == "" {
			break
		}
	}
	slices.Sort(keys)
	return keys, nil
}
