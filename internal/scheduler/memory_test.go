package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uhthomas/parcel/pkg/parcel"
)

func collect(ch chan<- parcel.Job) parcel.HandlerFunc {
	return func(_ context.Context, job parcel.Job) { ch <- job }
}

func receive(t *testing.T, ch <-chan parcel.Job) parcel.Job {
	t.Helper()
	select {
	case job := <-ch:
		return job
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job")
		return parcel.Job{}
	}
}

func TestMemory_RunsDueJobsInOrder(t *testing.T) {
	m := NewMemory(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Now()
	// scheduled before Run starts
	require.NoError(t, m.Schedule(ctx, now.Add(50*time.Millisecond), parcel.Job{Token: "later"}))
	require.NoError(t, m.Schedule(ctx, now.Add(-time.Second), parcel.Job{Token: "overdue"}))

	ch := make(chan parcel.Job, 4)
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, collect(ch)) }()

	assert.Equal(t, "overdue", receive(t, ch).Token)
	assert.Equal(t, "later", receive(t, ch).Token)

	// scheduled while Run is waiting
	require.NoError(t, m.Schedule(ctx, time.Now().Add(10*time.Millisecond), parcel.Job{Token: "new"}))
	assert.Equal(t, "new", receive(t, ch).Token)
	assert.Zero(t, m.Len())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestMemory_KeepsFutureJobs(t *testing.T) {
	m := NewMemory(nil)
	require.NoError(t, m.Schedule(context.Background(), time.Now().Add(time.Hour), parcel.Job{Token: "future"}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	ch := make(chan parcel.Job, 1)
	require.NoError(t, m.Run(ctx, collect(ch)))

	assert.Empty(t, ch)
	assert.Equal(t, 1, m.Len())
}

func TestMemory_SurvivesPanickingJob(t *testing.T) {
	m := NewMemory(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan parcel.Job, 2)
	handle := func(ctx context.Context, job parcel.Job) {
		if job.Token == "bad" {
			panic("expected")
		}
		ch <- job
	}
	require.NoError(t, m.Schedule(ctx, time.Now(), parcel.Job{Token: "bad"}))
	require.NoError(t, m.Schedule(ctx, time.Now(), parcel.Job{Token: "good"}))
	go m.Run(ctx, handle)

	assert.Equal(t, "good", receive(t, ch).Token)
}

func TestMemory_Due(t *testing.T) {
	m := NewMemory(nil)
	base := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	for _, e := range []struct {
		token string
		after time.Duration
	}{
		{"c", 3 * time.Minute},
		{"a", time.Minute},
		{"b", 2 * time.Minute},
	} {
		require.NoError(t, m.Schedule(context.Background(), base.Add(e.after), parcel.Job{Token: e.token}))
	}

	jobs, next := m.due(base.Add(2 * time.Minute))
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Token)
	assert.Equal(t, "b", jobs[1].Token)
	assert.Equal(t, base.Add(3*time.Minute), next)

	jobs, next = m.due(base.Add(time.Hour))
	require.Len(t, jobs, 1)
	assert.True(t, next.IsZero())
}
