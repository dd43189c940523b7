package scheduler

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uhthomas/parcel/pkg/parcel"
)

func newRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, "", 10*time.Millisecond, nil), srv
}

func TestRedis_Poll(t *testing.T) {
	s, srv := newRedis(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	due := parcel.Job{Token: "0123456789abcdef", Path: "data/files/a.zip"}
	later := parcel.Job{Token: "fedcba9876543210", Path: "data/files/b.zip"}
	require.NoError(t, s.Schedule(ctx, base.Add(-time.Minute), due))
	require.NoError(t, s.Schedule(ctx, base.Add(time.Hour), later))

	var got []parcel.Job
	handle := func(_ context.Context, job parcel.Job) { got = append(got, job) }

	n, err := s.poll(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []parcel.Job{due}, got)

	members, err := srv.ZMembers(DefaultKey)
	require.NoError(t, err)
	assert.Len(t, members, 1)

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	n, err = s.poll(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []parcel.Job{due, later}, got)

	left, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, left)
}

func TestRedis_DropsMalformedJobs(t *testing.T) {
	s, srv := newRedis(t)
	_, err := srv.ZAdd(DefaultKey, 0, "not json")
	require.NoError(t, err)

	n, err := s.poll(context.Background(), func(context.Context, parcel.Job) {
		t.Fatal("handler should not be called")
	})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, srv.Exists(DefaultKey))
}

func TestRedis_Run(t *testing.T) {
	s, _ := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Schedule(ctx, time.Now().Add(-time.Second), parcel.Job{Token: "a"}))

	ch := make(chan parcel.Job, 1)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, collect(ch)) }()

	assert.Equal(t, "a", receive(t, ch).Token)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRedis_SurvivesRestart(t *testing.T) {
	s, srv := newRedis(t)
	require.NoError(t, s.Schedule(context.Background(), time.Now().Add(-time.Second), parcel.Job{Token: "a"}))

	// a new scheduler sharing the server sees the job
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	defer client.Close()
	restarted := NewRedis(client, "", time.Second, nil)

	var got []string
	n, err := restarted.poll(context.Background(), func(_ context.Context, job parcel.Job) {
		got = append(got, job.Token)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a"}, got)
}
