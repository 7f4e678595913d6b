package storage

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskgraph/internal/domain"
)

func TestPutGetListDelete(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{})
	require.NoError(t, err)
	defer s.Close()

	att, err := s.Put(ctx, "proj/001/notes.txt", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", att.Name)
	assert.EqualValues(t, 5, att.Size)

	_, err = s.Put(ctx, "proj/001/log.txt", []byte("x"))
	require.NoError(t, err)
	_, err = s.Put(ctx, "proj/010/other.txt", []byte("y"))
	require.NoError(t, err)

	data, err := s.Get(ctx, "proj/001/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	missing, err := s.Get(ctx, "proj/001/nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := s.List(ctx, "proj/001/")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "log.txt", list[0].Name)
	assert.Equal(t, "notes.txt", list[1].Name)

	ok, err := s.Delete(ctx, "proj/001/log.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, "proj/001/log.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.DeleteAll(ctx, "proj/001/")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	left, err := s.List(ctx, "proj/001/")
	require.NoError(t, err)
	assert.Empty(t, left)

	exists, err := s.Exists(ctx, "proj/010/other.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMigratePrefix(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{Root: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()

	for _, k := range []string{"old/001/a.txt", "old/002/b.txt", "older/001/c.txt"} {
		_, err := s.Put(ctx, k, []byte(k))
		require.NoError(t, err)
	}
	moved, err := s.MigratePrefix(ctx, "old", "new")
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	data, err := s.Get(ctx, "new/002/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "old/002/b.txt", string(data))
	gone, err := s.List(ctx, "old/")
	require.NoError(t, err)
	assert.Empty(t, gone)
	kept, err := s.List(ctx, "older/")
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	moved, err = s.MigratePrefix(ctx, "new", "../new")
	require.NoError(t, err)
	assert.Zero(t, moved)
}

func TestPresignedURLRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{Root: t.TempDir(), SigningKey: "secret", BaseURL: "http://localhost:8080/blobs"})
	require.NoError(t, err)
	defer s.Close()

	none, err := s.PresignedURL(ctx, "proj/001/a.txt", 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.Put(ctx, "proj/001/a.txt", []byte("a"))
	require.NoError(t, err)
	raw, err := s.PresignedURL(ctx, "proj/001/a.txt", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	key, err := s.Resolve(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, "proj/001/a.txt", key)

	q := u.Query()
	q.Set("signature", "forged")
	u.RawQuery = q.Encode()
	_, err = s.Resolve(ctx, u)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestPresignedURLWithoutSigner(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{})
	require.NoError(t, err)
	_, err = s.Put(ctx, "p/001/a", []byte("a"))
	require.NoError(t, err)
	_, err = s.PresignedURL(ctx, "p/001/a", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
