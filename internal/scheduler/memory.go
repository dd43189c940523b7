// Package scheduler runs package cleanup jobs once they are due.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/uhthomas/parcel/pkg/parcel"
	"go.uber.org/zap"
)

type entry struct {
	at  time.Time
	job parcel.Job
}

type jobHeap []entry

func (h jobHeap) Len() int            { return len(h) }
func (h jobHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(entry)) }
func (h *jobHeap) Pop() interface{} {
	old := *h
	e := old[len(old)-1]
	*h = old[:len(old)-1]
	return e
}

// Memory keeps jobs in process. Pending jobs are lost when the process exits.
type Memory struct {
	mu     sync.Mutex
	jobs   jobHeap
	wake   chan struct{}
	now    func() time.Time
	logger *zap.Logger
}

func NewMemory(logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		wake:   make(chan struct{}, 1),
		now:    time.Now,
		logger: logger,
	}
}

func (m *Memory) Schedule(ctx context.Context, at time.Time, job parcel.Job) error {
	m.mu.Lock()
	heap.Push(&m.jobs, entry{at, job})
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of pending jobs.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs.Len()
}

// due pops every job due at now and returns the deadline of the next one, or
// the zero time if there is none.
func (m *Memory) due(now time.Time) ([]parcel.Job, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []parcel.Job
	for m.jobs.Len() > 0 && !m.jobs[0].at.After(now) {
		jobs = append(jobs, heap.Pop(&m.jobs).(entry).job)
	}
	if m.jobs.Len() == 0 {
		return jobs, time.Time{}
	}
	return jobs, m.jobs[0].at
}

// Run calls handle for each job as it becomes due until ctx is done. Jobs
// scheduled before Run is called are kept.
func (m *Memory) Run(ctx context.Context, handle parcel.HandlerFunc) error {
	for {
		now := m.now()
		jobs, next := m.due(now)
		for _, job := range jobs {
			call(ctx, m.logger, handle, job)
		}

		var (
			t    *time.Timer
			wait <-chan time.Time
		)
		if !next.IsZero() {
			t = time.NewTimer(next.Sub(now))
			wait = t.C
		}
		select {
		case <-ctx.Done():
			if t != nil {
				t.Stop()
			}
			return nil
		case <-m.wake:
		case <-wait:
		}
		if t != nil {
			t.Stop()
		}
	}
}

// call runs handle, keeping a panicking job from stopping the loop.
func call(ctx context.Context, logger *zap.Logger, handle parcel.HandlerFunc, job parcel.Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("cleanup job panicked", zap.String("token", job.Token), zap.Any("panic", r))
		}
	}()
	handle(ctx, job)
}
