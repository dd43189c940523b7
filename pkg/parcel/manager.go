package parcel

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/uhthomas/parcel/internal/archive"
	"github.com/uhthomas/parcel/internal/metrics"
	"go.uber.org/zap"
)

// DefaultLifetime is how long a package lives unless Lifetime is given.
const DefaultLifetime = 2 * time.Hour

// Manager turns uploads into packages, resolves download tokens and removes
// packages once they expire. The metadata store is the only record of which
// packages are live; Manager keeps no state of its own.
type Manager struct {
	store     Store
	scheduler Scheduler
	builder   *archive.Builder
	filePath  string
	tmpPath   string
	lifetime  time.Duration
	logger    *zap.Logger
	metrics   metrics.Metrics
	now       func() time.Time
}

// New creates a Manager with some sensible defaults applied, then applies opts
// and creates the storage directories. A Store is required.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		lifetime: DefaultLifetime,
		logger:   zap.NewNop(),
		metrics:  metrics.Noop{},
		now:      time.Now,
	}
	Path("data")(m)
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		return nil, errors.New("parcel: no metadata store")
	}
	if m.lifetime <= 0 {
		return nil, fmt.Errorf("parcel: invalid lifetime %s", m.lifetime)
	}
	for _, p := range []string{m.filePath, m.tmpPath} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return nil, fmt.Errorf("parcel: %w", err)
		}
	}
	m.builder = archive.New(m.tmpPath, m.filePath)
	return m, nil
}

// Create archives files as a new package, registers its token and schedules
// its cleanup. If the token can't be registered the archive is left on disk
// and only logged.
func (m *Manager) Create(ctx context.Context, files []File) (*Package, error) {
	if len(files) == 0 {
		m.metrics.IncPackageFailures("validation")
		return nil, fmt.Errorf("%w: no files", ErrValidation)
	}
	entries := make([]archive.File, len(files))
	for i, f := range files {
		if err := archive.CheckName(f.Name); err != nil {
			m.metrics.IncPackageFailures("validation")
			return nil, fmt.Errorf("%w %q", ErrInvalidName, f.Name)
		}
		entries[i] = archive.File{Name: f.Name, Content: f.Content}
	}

	id := uuid.NewString()
	log := m.logger.With(zap.String("package", id))

	a, err := m.builder.Build(ctx, id, entries)
	if err != nil {
		log.Error("build archive", zap.Error(err))
		m.metrics.IncPackageFailures("packaging")
		return nil, fmt.Errorf("%w: %w", ErrPackaging, err)
	}

	// The archive exists now; registering and scheduling it must not be cut
	// short by the client going away.
	ctx = context.WithoutCancel(ctx)

	token := Token(id)
	log = log.With(zap.String("token", token))

	if err := m.store.Set(ctx, token, a.Path, m.lifetime); err != nil {
		log.Error("register package, archive orphaned", zap.String("path", a.Path), zap.Error(err))
		m.metrics.IncPackageFailures("metadata")
		return nil, fmt.Errorf("%w: %w", ErrMetadata, err)
	}

	expires := m.now().Add(m.lifetime)
	if m.scheduler != nil {
		if err := m.scheduler.Schedule(ctx, expires, Job{Token: token, Path: a.Path}); err != nil {
			log.Error("schedule cleanup", zap.Time("at", expires), zap.Error(err))
			m.metrics.IncPackageFailures("schedule")
		}
	}

	m.metrics.IncPackagesCreated()
	m.metrics.ObserveArchiveBytes(a.Size)
	log.Info("package created",
		zap.String("path", a.Path),
		zap.Int("files", len(files)),
		zap.Int64("size", a.Size),
		zap.Time("expires", expires),
	)

	return &Package{
		ID:       id,
		Token:    token,
		Path:     a.Path,
		Size:     a.Size,
		Checksum: a.Checksum,
		Expires:  expires,
	}, nil
}

// Resolve returns the archive path for token. A record whose archive has gone
// missing is reported as ErrNotFound.
func (m *Manager) Resolve(ctx context.Context, token string) (string, error) {
	if !ValidToken(token) {
		return "", ErrNotFound
	}
	p, err := m.store.Get(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMetadata, err)
	}
	d, err := os.Stat(p)
	if err != nil || !d.Mode().IsRegular() {
		m.logger.Warn("dangling package record", zap.String("token", token), zap.String("path", p))
		return "", ErrNotFound
	}
	return p, nil
}

// Open resolves token and opens its archive. The returned file stays readable
// even if the package is cleaned up while it is being read.
func (m *Manager) Open(ctx context.Context, token string) (*os.File, error) {
	p, err := m.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.metrics.IncDownloads("not_found")
		} else {
			m.metrics.IncDownloads("error")
		}
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		// lost the race with cleanup
		m.metrics.IncDownloads("not_found")
		return nil, ErrNotFound
	}
	m.metrics.IncDownloads("ok")
	return f, nil
}

// Cleanup removes the archive at path and the record for token. It is safe to
// call more than once and never fails; problems are only logged.
func (m *Manager) Cleanup(ctx context.Context, token, path string) {
	log := m.logger.With(zap.String("token", token), zap.String("path", path))
	defer func() {
		if r := recover(); r != nil {
			log.Error("cleanup panicked", zap.Any("panic", r))
			m.metrics.IncCleanups("error")
		}
	}()

	status := "ok"
	switch err := os.Remove(path); {
	case err == nil:
		log.Info("archive deleted")
	case errors.Is(err, fs.ErrNotExist):
		log.Warn("archive already removed")
	default:
		status = "error"
		log.Error("delete archive", zap.Error(err))
	}

	if err := m.store.Delete(ctx, token); err != nil {
		status = "error"
		log.Error("delete token", zap.Error(err))
	} else {
		log.Info("token removed")
	}
	m.metrics.IncCleanups(status)
}

// Expire is a HandlerFunc which cleans up job.
func (m *Manager) Expire(ctx context.Context, job Job) {
	m.Cleanup(ctx, job.Token, job.Path)
}

// Lifetime returns how long new packages live for.
func (m *Manager) Lifetime() time.Duration { return m.lifetime }
