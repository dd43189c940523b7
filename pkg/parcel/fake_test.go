package parcel_test

import (
	"context"
	"sync"
	"time"

	"github.com/uhthomas/parcel/pkg/parcel"
)

type fakeStore struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration

	SetErr    error
	GetErr    error
	DeleteErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
	}
}

func (s *fakeStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if s.SetErr != nil {
		return s.SetErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.ttls[key] = ttl
	return nil
}

func (s *fakeStore) Get(_ context.Context, key string) (string, error) {
	if s.GetErr != nil {
		return "", s.GetErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", parcel.ErrNotFound
	}
	return v, nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	delete(s.ttls, key)
	return nil
}

func (s *fakeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// cancelStore cancels the request once the record is written, as a client
// hanging up mid-upload would.
type cancelStore struct {
	*fakeStore
	cancel context.CancelFunc
}

func (s cancelStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.fakeStore.Set(ctx, key, value, ttl)
	s.cancel()
	return err
}

type scheduled struct {
	At  time.Time
	Job parcel.Job
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs []scheduled
	Err  error
}

func (s *fakeScheduler) Schedule(ctx context.Context, at time.Time, job parcel.Job) error {
	if s.Err != nil {
		return s.Err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, scheduled{at, job})
	return nil
}

func (s *fakeScheduler) Jobs() []scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scheduled(nil), s.jobs...)
}
