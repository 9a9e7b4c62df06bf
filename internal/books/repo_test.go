package books_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coverscan/internal/apperr"
	"coverscan/internal/books"
	"coverscan/internal/isbn"
)

var columns = []string{"isbn", "isbn13", "title", "authors", "publisher", "publication_date", "pages",
	"language_code", "description", "genres", "cover_url", "average_rating", "ratings_count", "google_id", "date_added"}

func bookRow(rows *sqlmock.Rows, key, isbn13, title string) *sqlmock.Rows {
	return rows.AddRow(key, isbn13, title, "{\"Jane Doe\",\"John Roe\"}", "Pub", "2020", 320, "fr",
		"", "{}", "/cover/"+key+".jpg", 4.2, 10, "gid", time.Unix(0, 0))
}

func TestPostgresRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM books WHERE isbn = $1`)).
		WithArgs("2889539210").
		WillReturnRows(bookRow(sqlmock.NewRows(columns), "2889539210", "9782889539215", "Le Livre"))

	repo := books.NewPostgresRepo(db)
	b, err := repo.Get(context.Background(), "2889539210")
	require.NoError(t, err)
	assert.Equal(t, "Le Livre", b.Title)
	assert.Equal(t, []string{"Jane Doe", "John Roe"}, b.Authors)
	assert.Equal(t, 320, b.Pages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Get_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM books WHERE isbn = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err = books.NewPostgresRepo(db).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPostgresRepo_Find_ChecksBothForms(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	code, err := isbn.Parse("9782889539215")
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE isbn = $1 OR isbn13 = $2`)).
		WithArgs("2889539210", "9782889539215").
		WillReturnRows(bookRow(sqlmock.NewRows(columns), "2889539210", "9782889539215", "Le Livre"))

	b, err := books.NewPostgresRepo(db).Find(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, "9782889539215", b.ISBN13)
}

func TestPostgresRepo_GetMany(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows(columns)
	bookRow(rows, "a", "978a", "A")
	bookRow(rows, "b", "978b", "B")
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE isbn = ANY($1)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	got, err := books.NewPostgresRepo(db).GetMany(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "B", got["b"].Title)
	assert.Nil(t, got["c"])
}

func TestPostgresRepo_GetMany_EmptySkipsQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	got, err := books.NewPostgresRepo(db).GetMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Put(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	added := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO books`)).
		WithArgs("2889539210", "9782889539215", "Le Livre", sqlmock.AnyArg(), "", "", 0, "", "",
			sqlmock.AnyArg(), "/cover/2889539210.jpg", 0.0, 0, "").
		WillReturnRows(sqlmock.NewRows([]string{"date_added"}).AddRow(added))

	b := &books.Book{ISBN: "2889539210", ISBN13: "9782889539215", Title: "Le Livre", CoverURL: books.CoverPath("2889539210")}
	require.NoError(t, books.NewPostgresRepo(db).Put(context.Background(), b))
	assert.Equal(t, added, b.DateAdded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Keys(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT isbn FROM books ORDER BY isbn`)).
		WillReturnRows(sqlmock.NewRows([]string{"isbn"}).AddRow("0306406152").AddRow("2889539210"))

	keys, err := books.NewPostgresRepo(db).Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0306406152", "2889539210"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}
