package parcel

import (
	"context"
	"time"
)

// Job identifies a package to be cleaned up.
type Job struct {
	Token string `json:"token"`
	Path  string `json:"path"`
}

// Scheduler defers a cleanup job until at. Delivery is at least once and at or
// after at; there is no way to cancel a scheduled job.
type Scheduler interface {
	Schedule(ctx context.Context, at time.Time, job Job) error
}

// HandlerFunc handles a due job.
type HandlerFunc func(ctx context.Context, job Job)
