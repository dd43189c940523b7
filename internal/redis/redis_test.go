package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uhthomas/parcel/pkg/parcel"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)
	s, err := New("redis://" + srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, srv
}

func TestStore_SetGet(t *testing.T) {
	s, srv := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "0123456789abcdef", "data/files/id.zip", 2*time.Hour))

	got, err := s.Get(ctx, "0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, "data/files/id.zip", got)
	assert.Equal(t, 2*time.Hour, srv.TTL("0123456789abcdef"))
}

func TestStore_Expiry(t *testing.T) {
	s, srv := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	srv.FastForward(time.Minute + time.Second)

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, parcel.ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	s, srv := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"), "deleting a missing key is not an error")

	assert.False(t, srv.Exists("k"))
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, parcel.ErrNotFound)
}

func TestStore_GetError(t *testing.T) {
	s, srv := newStore(t)
	srv.SetError("boom")

	_, err := s.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, parcel.ErrNotFound)
}

func TestNew_Unreachable(t *testing.T) {
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	addr := srv.Addr()
	srv.Close()

	_, err = New("redis://" + addr)
	assert.Error(t, err)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New("not a url")
	assert.Error(t, err)
}
