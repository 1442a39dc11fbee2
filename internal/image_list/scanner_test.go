package image_list

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"picdeck/internal/cache"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
}

type stubLister struct {
	listings []Listing
	err      error
}

func (s *stubLister) List(ctx context.Context) ([]Listing, error) {
	return s.listings, s.err
}

func TestStore_LoadFromDirectory(t *testing.T) {
	a := assert.New(t)
	dir := t.TempDir()
	touch(t, dir, "c.gif", "a.jpg", "b.png", "notes.txt", "meta.json")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0755))
	touch(t, filepath.Join(dir, "nested"), "d.jpg")

	s := New(zaptest.NewLogger(t))
	require.NoError(t, s.LoadFromDirectory(dir))

	a.Equal(3, s.Count())

	first, err := s.Get(0)
	require.NoError(t, err)
	a.Equal("a", first.Title)
	a.Equal("a.jpg", first.ID)
	a.Equal(filepath.Join(dir, "a.jpg"), first.FilePath)

	last, err := s.Get(2)
	require.NoError(t, err)
	a.Equal("c", last.Title)

	a.Equal(1, s.IndexOf("b.png"))
	a.Equal(-1, s.IndexOf("d.jpg"))

	// rescanning yields the same order
	require.NoError(t, s.LoadFromDirectory(dir))
	again, err := s.Get(0)
	require.NoError(t, err)
	a.Equal(first, again)
}

func TestStore_LoadFromMissingDirectory(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	err := s.LoadFromDirectory(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
	assert.Equal(t, 0, s.Count())
}

func TestStore_GetOutOfRange(t *testing.T) {
	s := New(zaptest.NewLogger(t))

	_, err := s.Get(0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = s.Get(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestStore_FetchMetadata(t *testing.T) {
	a := assert.New(t)
	s := New(zaptest.NewLogger(t))

	lister := &stubLister{listings: []Listing{
		{ID: "1", SourceURL: "http://example.com/one.jpg", Title: "One"},
		{SourceURL: "http://example.com/two.png"},
	}}

	n, err := s.FetchMetadata(context.Background(), lister)
	require.NoError(t, err)
	a.Equal(2, n)
	a.Equal(2, s.Count())

	second, err := s.Get(1)
	require.NoError(t, err)
	a.Equal("http://example.com/two.png", second.ID)
	a.Equal("two", second.Title)
	a.Empty(second.FilePath)
}

func TestStore_FetchMetadataDropsDuplicateIDs(t *testing.T) {
	a := assert.New(t)
	s := New(zaptest.NewLogger(t))

	n, err := s.FetchMetadata(context.Background(), &stubLister{listings: []Listing{
		{ID: "1", SourceURL: "http://example.com/one.jpg", Title: "One"},
		{ID: "1", SourceURL: "http://example.com/other.jpg", Title: "Other"},
		{ID: "2", SourceURL: "http://example.com/two.jpg", Title: "Two"},
	}})
	require.NoError(t, err)
	a.Equal(2, n)
	a.Equal(2, s.Count())

	first, err := s.Get(0)
	require.NoError(t, err)
	a.Equal("One", first.Title)
	a.Equal(1, s.IndexOf("2"))

	_, err = s.Get(2)
	a.ErrorIs(err, ErrIndexOutOfRange)
}

func TestStore_FetchMetadataFailureKeepsState(t *testing.T) {
	a := assert.New(t)
	s := New(zaptest.NewLogger(t))

	_, err := s.FetchMetadata(context.Background(), &stubLister{listings: []Listing{{ID: "1", Title: "One"}}})
	require.NoError(t, err)

	boom := errors.New("connection refused")
	n, err := s.FetchMetadata(context.Background(), &stubLister{err: boom})

	var mfe *MetadataFetchError
	a.True(errors.As(err, &mfe))
	a.ErrorIs(err, boom)
	a.Equal(1, n)
	a.Equal(1, s.Count())
}

func TestStore_RemoveAllIsIdempotent(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	dir := t.TempDir()
	touch(t, dir, "a.jpg")
	require.NoError(t, s.LoadFromDirectory(dir))

	s.RemoveAll()
	s.RemoveAll()

	assert.Equal(t, 0, s.Count())
	assert.Equal(t, -1, s.IndexOf("a.jpg"))
	assert.Empty(t, s.All())
}

func TestStore_RecordFetch(t *testing.T) {
	a := assert.New(t)
	s := New(zaptest.NewLogger(t))
	_, err := s.FetchMetadata(context.Background(), &stubLister{listings: []Listing{{ID: "1", SourceURL: "http://x/1"}}})
	require.NoError(t, err)

	size := cache.SizeOf(120, 80, 2)
	s.RecordFetch(0, "1", size, "http://mirror/1", "/cache/1.img")

	m, err := s.Get(0)
	require.NoError(t, err)
	a.Equal(size, m.RequestedSize)
	a.Equal("http://mirror/1", m.SourceURL)
	a.Equal("/cache/1.img", m.FilePath)

	// stale completions are ignored
	s.RecordFetch(0, "other", cache.SizeOf(1, 1, 1), "", "")
	s.RecordFetch(5, "1", cache.SizeOf(1, 1, 1), "", "")
	m, err = s.Get(0)
	require.NoError(t, err)
	a.Equal(size, m.RequestedSize)
}
