package metadata_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coverscan/internal/apperr"
	"coverscan/internal/metadata"
)

func TestGoogleBooks_Lookup(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "isbn:9782889539215", r.URL.Query().Get("q"))
		w.Write([]byte(`{"items":[{"id":"gid1","volumeInfo":{
			"title":"Le Livre","authors":["A. Auteur"],"pageCount":212,"publishedDate":"2021",
			"publisher":"Pub","language":"fr","categories":["Fiction"],"averageRating":4.5,"ratingsCount":3,
			"industryIdentifiers":[{"type":"ISBN_13","identifier":"9782889539215"},{"type":"ISBN_10","identifier":"2889539210"}],
			"imageLinks":{"thumbnail":"http://img/thumb.jpg"}}}]}`))
	}))
	defer ts.Close()

	rec, err := metadata.NewGoogleBooks(ts.URL, time.Second).Lookup(context.Background(), "9782889539215")
	require.NoError(t, err)
	assert.Equal(t, "Le Livre", rec.Title)
	assert.Equal(t, []string{"A. Auteur"}, rec.Authors)
	assert.Equal(t, "2889539210", rec.ISBN10)
	assert.Equal(t, "gid1", rec.GoogleID)
	assert.Equal(t, 212, rec.Pages)
	assert.Equal(t, "http://img/thumb.jpg", rec.CoverURL)
}

func TestGoogleBooks_NoItemsIsNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"totalItems":0}`))
	}))
	defer ts.Close()

	_, err := metadata.NewGoogleBooks(ts.URL, time.Second).Lookup(context.Background(), "9782889539215")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGoogleBooks_ServerErrorIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := metadata.NewGoogleBooks(ts.URL, time.Second).Lookup(context.Background(), "9782889539215")
	assert.ErrorIs(t, err, apperr.ErrTransient)
}

func TestOpenLibrary_Lookup(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ISBN:9782889539215", r.URL.Query().Get("bibkeys"))
		assert.Equal(t, "data", r.URL.Query().Get("jscmd"))
		w.Write([]byte(`{"ISBN:9782889539215":{
			"title":"Le Livre","number_of_pages":99,"publish_date":"2020",
			"authors":[{"name":"B. Writer"}],"publishers":[{"name":"OL Pub"}],
			"identifiers":{"isbn_10":["2889539210"]},"languages":[{"key":"/languages/fre"}],
			"cover":{"medium":"http://ol/m.jpg","small":"http://ol/s.jpg"},
			"subjects":[{"name":"Poetry"},"Essays"],
			"description":{"value":"A description"}}}`))
	}))
	defer ts.Close()

	rec, err := metadata.NewOpenLibrary(ts.URL, time.Second).Lookup(context.Background(), "9782889539215")
	require.NoError(t, err)
	assert.Equal(t, []string{"B. Writer"}, rec.Authors)
	assert.Equal(t, "OL Pub", rec.Publisher)
	assert.Equal(t, "fre", rec.LanguageCode)
	assert.Equal(t, "http://ol/m.jpg", rec.CoverURL)
	assert.Equal(t, []string{"Poetry", "Essays"}, rec.Genres)
	assert.Equal(t, "A description", rec.Description)
	assert.Equal(t, "2889539210", rec.ISBN10)
}

func TestOpenLibrary_EmptyObjectIsNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	_, err := metadata.NewOpenLibrary(ts.URL, time.Second).Lookup(context.Background(), "9782889539215")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

type MockProvider struct {
	mock.Mock
	name string
}

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) Lookup(ctx context.Context, isbn13 string) (*metadata.Record, error) {
	args := m.Called(ctx, isbn13)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*metadata.Record), args.Error(1)
}

func TestChain_FallsBack(t *testing.T) {
	primary := &MockProvider{name: "primary"}
	fallback := &MockProvider{name: "fallback"}
	primary.On("Lookup", mock.Anything, "978").Return(nil, apperr.ErrNotFound)
	fallback.On("Lookup", mock.Anything, "978").Return(&metadata.Record{Title: "From fallback"}, nil)

	rec, err := metadata.NewChain(primary, fallback).Fetch(context.Background(), "978")
	require.NoError(t, err)
	assert.Equal(t, "From fallback", rec.Title)
}

func TestChain_AllNotFound(t *testing.T) {
	a := &MockProvider{name: "a"}
	b := &MockProvider{name: "b"}
	a.On("Lookup", mock.Anything, "978").Return(nil, apperr.ErrNotFound)
	b.On("Lookup", mock.Anything, "978").Return(nil, apperr.ErrNotFound)

	_, err := metadata.NewChain(a, b).Fetch(context.Background(), "978")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestChain_TransientWins(t *testing.T) {
	a := &MockProvider{name: "a"}
	b := &MockProvider{name: "b"}
	a.On("Lookup", mock.Anything, "978").Return(nil, fmt.Errorf("dial: %w", apperr.ErrTransient))
	b.On("Lookup", mock.Anything, "978").Return(nil, apperr.ErrNotFound)

	_, err := metadata.NewChain(a, b).Fetch(context.Background(), "978")
	assert.ErrorIs(t, err, apperr.ErrTransient)
}

func TestChain_UnclassifiedErrorIsTransient(t *testing.T) {
	a := &MockProvider{name: "a"}
	a.On("Lookup", mock.Anything, "978").Return(nil, errors.New("decode: unexpected EOF"))

	_, err := metadata.NewChain(a).Fetch(context.Background(), "978")
	assert.ErrorIs(t, err, apperr.ErrTransient)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	p := &MockProvider{name: "flaky"}
	p.On("Lookup", mock.Anything, "978").Return(nil, apperr.ErrTransient)

	b := metadata.NewBreaker(p, 2, time.Minute)
	for i := 0; i < 2; i++ {
		_, err := b.Lookup(context.Background(), "978")
		assert.ErrorIs(t, err, apperr.ErrTransient)
	}

	_, err := b.Lookup(context.Background(), "978")
	assert.ErrorIs(t, err, apperr.ErrTransient)
	p.AssertNumberOfCalls(t, "Lookup", 2)
}

func TestBreaker_NotFoundDoesNotTrip(t *testing.T) {
	p := &MockProvider{name: "sparse"}
	p.On("Lookup", mock.Anything, "978").Return(nil, apperr.ErrNotFound)

	b := metadata.NewBreaker(p, 1, time.Minute)
	for i := 0; i < 3; i++ {
		_, err := b.Lookup(context.Background(), "978")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	}
	p.AssertNumberOfCalls(t, "Lookup", 3)
}
