package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/uhthomas/parcel/pkg/parcel"
	"go.uber.org/zap"
)

const (
	// DefaultKey is the sorted set holding pending jobs.
	DefaultKey = "parcel:cleanup"

	defaultBatch = 100
)

// Redis keeps jobs in a Redis sorted set scored by due time in milliseconds,
// so they survive restarts. A job is removed only after it has been handled.
type Redis struct {
	client   goredis.UniversalClient
	key      string
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func NewRedis(client goredis.UniversalClient, key string, interval time.Duration, logger *zap.Logger) *Redis {
	if key == "" {
		key = DefaultKey
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client:   client,
		key:      key,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

func (s *Redis) Schedule(ctx context.Context, at time.Time, job parcel.Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return s.client.ZAdd(ctx, s.key, goredis.Z{
		Score:  float64(at.UnixMilli()),
		Member: string(b),
	}).Err()
}

// Run polls for due jobs every interval until ctx is done.
func (s *Redis) Run(ctx context.Context, handle parcel.HandlerFunc) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		if _, err := s.poll(ctx, handle); err != nil && ctx.Err() == nil {
			s.logger.Error("poll cleanup jobs", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// poll handles one batch of due jobs and returns how many were handled.
func (s *Redis) poll(ctx context.Context, handle parcel.HandlerFunc) (int, error) {
	members, err := s.client.ZRangeByScore(ctx, s.key, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(s.now().UnixMilli(), 10),
		Count: defaultBatch,
	}).Result()
	if err != nil {
		return 0, err
	}
	var n int
	for _, m := range members {
		var job parcel.Job
		if err := json.Unmarshal([]byte(m), &job); err != nil {
			s.logger.Error("drop malformed cleanup job", zap.String("job", m), zap.Error(err))
		} else {
			call(ctx, s.logger, handle, job)
			n++
		}
		if err := s.client.ZRem(ctx, s.key, m).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Len returns the number of pending jobs.
func (s *Redis) Len(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.key).Result()
}
