package books

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"coverscan/internal/apperr"
	"coverscan/internal/isbn"
)

type Repository interface {
	Get(ctx context.Context, key string) (*Book, error)
	Find(ctx context.Context, code isbn.ISBN) (*Book, error)
	GetMany(ctx context.Context, keys []string) (map[string]*Book, error)
	Put(ctx context.Context, b *Book) error
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const bookColumns = `isbn, isbn13, title, authors, publisher, publication_date, pages, language_code,
	description, genres, cover_url, average_rating, ratings_count, google_id, date_added`

type scanner interface {
	Scan(dest ...any) error
}

func scanBook(row scanner) (*Book, error) {
	b := &Book{}
	var authors, genres pq.StringArray
	err := row.Scan(&b.ISBN, &b.ISBN13, &b.Title, &authors, &b.Publisher, &b.PublicationDate, &b.Pages,
		&b.LanguageCode, &b.Description, &genres, &b.CoverURL, &b.AverageRating, &b.RatingsCount,
		&b.GoogleID, &b.DateAdded)
	if err != nil {
		return nil, err
	}
	b.Authors = []string(authors)
	b.Genres = []string(genres)
	return b, nil
}

func (r *PostgresRepo) Get(ctx context.Context, key string) (*Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE isbn = $1`
	b, err := scanBook(r.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %s: %w", key, apperr.ErrNotFound)
	}
	return b, err
}

// Find looks a book up by either of its ISBN forms.
func (r *PostgresRepo) Find(ctx context.Context, code isbn.ISBN) (*Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE isbn = $1 OR isbn13 = $2 LIMIT 1`
	b, err := scanBook(r.db.QueryRowContext(ctx, query, code.Key(), code.ISBN13))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %s: %w", code.ISBN13, apperr.ErrNotFound)
	}
	return b, err
}

func (r *PostgresRepo) GetMany(ctx context.Context, keys []string) (map[string]*Book, error) {
	out := make(map[string]*Book, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	query := `SELECT ` + bookColumns + ` FROM books WHERE isbn = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(keys))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out[b.ISBN] = b
	}
	return out, rows.Err()
}

// Put inserts or fully replaces a book. date_added is kept from the first insert.
func (r *PostgresRepo) Put(ctx context.Context, b *Book) error {
	query := `INSERT INTO books (isbn, isbn13, title, authors, publisher, publication_date, pages, language_code,
		description, genres, cover_url, average_rating, ratings_count, google_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (isbn) DO UPDATE SET
			isbn13 = EXCLUDED.isbn13, title = EXCLUDED.title, authors = EXCLUDED.authors,
			publisher = EXCLUDED.publisher, publication_date = EXCLUDED.publication_date,
			pages = EXCLUDED.pages, language_code = EXCLUDED.language_code,
			description = EXCLUDED.description, genres = EXCLUDED.genres, cover_url = EXCLUDED.cover_url,
			average_rating = EXCLUDED.average_rating, ratings_count = EXCLUDED.ratings_count,
			google_id = EXCLUDED.google_id, updated_at = NOW()
		RETURNING date_added`
	return r.db.QueryRowContext(ctx, query,
		b.ISBN, b.ISBN13, b.Title, pq.Array(nonNil(b.Authors)), b.Publisher, b.PublicationDate, b.Pages,
		b.LanguageCode, b.Description, pq.Array(nonNil(b.Genres)), b.CoverURL, b.AverageRating,
		b.RatingsCount, b.GoogleID,
	).Scan(&b.DateAdded)
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM books`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

// Keys lists every book key in ascending order.
func (r *PostgresRepo) Keys(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT isbn FROM books ORDER BY isbn`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
