package index

import (
	"context"
	"database/sql"

	"github.com/pgvector/pgvector-go"
)

// PostgresSnapshot keeps embeddings in the cover_embeddings table using the
// pgvector column type.
type PostgresSnapshot struct {
	db *sql.DB
}

func NewPostgresSnapshot(db *sql.DB) *PostgresSnapshot {
	return &PostgresSnapshot{db: db}
}

func (s *PostgresSnapshot) Save(ctx context.Context, isbn string, vec []float32) error {
	query := `INSERT INTO cover_embeddings (isbn, embedding) VALUES ($1, $2)
		ON CONFLICT (isbn) DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = NOW()`
	_, err := s.db.ExecContext(ctx, query, isbn, pgvector.NewVector(vec))
	return err
}

func (s *PostgresSnapshot) Delete(ctx context.Context, isbn string) error {
	query := `DELETE FROM cover_embeddings WHERE isbn = $1`
	_, err := s.db.ExecContext(ctx, query, isbn)
	return err
}

func (s *PostgresSnapshot) LoadAll(ctx context.Context, fn func(isbn string, vec []float32) error) error {
	query := `SELECT isbn, embedding FROM cover_embeddings ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var isbn string
		var v pgvector.Vector
		if err := rows.Scan(&isbn, &v); err != nil {
			return err
		}
		if err := fn(isbn, v.Slice()); err != nil {
			return err
		}
	}
	return rows.Err()
}
