package parcel

import (
	"path/filepath"
	"time"

	"github.com/uhthomas/parcel/internal/metrics"
	"go.uber.org/zap"
)

// Option configures a Manager.
type Option func(*Manager)

// Path sets the root directory. Archives are kept in <p>/files and uploads are
// staged in <p>/tmp.
func Path(p string) Option {
	return func(m *Manager) {
		m.filePath = filepath.Join(p, "files")
		m.tmpPath = filepath.Join(p, "tmp")
	}
}

// Lifetime sets how long a package can be downloaded for.
func Lifetime(lifetime time.Duration) Option {
	return func(m *Manager) {
		m.lifetime = lifetime
	}
}

// MetadataStore sets where tokens are registered. It is required.
func MetadataStore(s Store) Option {
	return func(m *Manager) {
		m.store = s
	}
}

// CleanupScheduler sets what removes packages once they expire.
func CleanupScheduler(s Scheduler) Option {
	return func(m *Manager) {
		m.scheduler = s
	}
}

// Logger sets the logger.
func Logger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// Metrics sets where lifecycle events are recorded.
func Metrics(mm metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mm
	}
}

// Clock replaces time.Now.
func Clock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}
