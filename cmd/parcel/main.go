package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/units"
	"github.com/uhthomas/parcel/internal/bolt"
	"github.com/uhthomas/parcel/internal/config"
	"github.com/uhthomas/parcel/internal/logger"
	"github.com/uhthomas/parcel/internal/metrics"
	"github.com/uhthomas/parcel/internal/redis"
	"github.com/uhthomas/parcel/internal/scheduler"
	"github.com/uhthomas/parcel/internal/scylla"
	"github.com/uhthomas/parcel/pkg/parcel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/alecthomas/kingpin.v2"
)

type worker time.Duration

// Do calls f every w until ctx is done. Errors are logged, not fatal.
func (w worker) Do(ctx context.Context, log *zap.Logger, f func(context.Context) error) {
	for {
		if err := f(ctx); err != nil && ctx.Err() == nil {
			log.Error("worker", zap.Error(err))
		}
		t := time.After(time.Duration(w))
		select {
		case <-ctx.Done():
			return
		case <-t:
		}
	}
}

// runner is a scheduler with its own loop.
type runner interface {
	parcel.Scheduler
	Run(ctx context.Context, handle parcel.HandlerFunc) error
}

type backend struct {
	store parcel.Store
	io.Closer
	reap func(context.Context) error
	// set when the store is redis, so the scheduler can share it
	redis *redis.Store
}

func openStore(cfg config.Config, log *zap.Logger) (*backend, error) {
	switch cfg.Store.Driver {
	case "bolt":
		s, err := bolt.New(cfg.Store.BoltPath)
		if err != nil {
			return nil, err
		}
		return &backend{store: s, Closer: s, reap: func(ctx context.Context) error {
			n, err := s.Reap(ctx)
			if n > 0 {
				log.Info("reaped expired records", zap.Int("count", n))
			}
			return err
		}}, nil
	case "scylla":
		s, err := scylla.New(cfg.Store.ScyllaKeyspace, cfg.Store.ScyllaHosts...)
		if err != nil {
			return nil, err
		}
		return &backend{store: s, Closer: s}, nil
	default:
		s, err := redis.New(cfg.Store.RedisURL)
		if err != nil {
			return nil, err
		}
		return &backend{store: s, Closer: s, redis: s}, nil
	}
}

func openScheduler(cfg config.Config, b *backend, log *zap.Logger) (runner, io.Closer, error) {
	if cfg.Scheduler.Driver != "redis" {
		return scheduler.NewMemory(log), nil, nil
	}
	r, c := b.redis, io.Closer(nil)
	if r == nil {
		var err error
		if r, err = redis.New(cfg.Store.RedisURL); err != nil {
			return nil, nil, err
		}
		c = r
	}
	return scheduler.NewRedis(r.Client(), cfg.Scheduler.Key, cfg.Scheduler.PollInterval, log), c, nil
}

func tlsConfig() *tls.Config {
	return &tls.Config{
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
		MinVersion:       tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{tls.CurveP256, tls.X25519},
	}
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	// Without the metadata store nothing is consistent, so refuse to start.
	b, err := openStore(cfg, log.Named("store"))
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer b.Close()

	sched, c, err := openScheduler(cfg, b, log.Named("scheduler"))
	if err != nil {
		return fmt.Errorf("open %s scheduler: %w", cfg.Scheduler.Driver, err)
	}
	if c != nil {
		defer c.Close()
	}

	m, err := parcel.New(
		parcel.Path(cfg.Path),
		parcel.Lifetime(cfg.Lifetime),
		parcel.MetadataStore(b.store),
		parcel.CleanupScheduler(sched),
		parcel.Logger(log),
		parcel.Metrics(metrics.NewProm("parcel", nil)),
	)
	if err != nil {
		return err
	}

	hs := &http.Server{
		Addr: cfg.Addr,
		Handler: parcel.NewHandler(m,
			parcel.BaseURL(cfg.URL),
			parcel.Max(int64(cfg.Max)),
			parcel.CORS(cfg.Origins...),
			parcel.Mount("/metrics", metrics.Handler()),
		),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if cfg.Cert != "" {
		hs.TLSConfig = tlsConfig()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(ctx, m.Expire)
	})
	if b.reap != nil {
		g.Go(func() error {
			worker(cfg.Store.ReapInterval).Do(ctx, log.Named("reaper"), b.reap)
			return nil
		})
	}
	g.Go(func() error {
		// Output a message so users know when the server has been started.
		log.Info("listening",
			zap.String("addr", cfg.Addr),
			zap.String("url", cfg.URL),
			zap.String("store", cfg.Store.Driver),
			zap.String("scheduler", cfg.Scheduler.Driver),
			zap.Duration("lifetime", cfg.Lifetime),
			zap.Stringer("max", cfg.Max),
		)
		var err error
		if hs.TLSConfig != nil {
			err = hs.ListenAndServeTLS(cfg.Cert, cfg.Key)
		} else {
			err = hs.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	})
	err = g.Wait()
	if mem, ok := sched.(*scheduler.Memory); ok && mem.Len() > 0 {
		log.Warn("dropping pending cleanup jobs", zap.Int("count", mem.Len()))
	}
	return err
}

func main() {
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var cfg config.Config

	servecmd := kingpin.Command("serve", "Start a parcel server.").Default()
	servecmd.
		Flag("addr", "Server listen address.").
		Envar("PARCEL_ADDR").
		Default("0.0.0.0:8080").
		StringVar(&cfg.Addr)
	servecmd.
		Flag("url", "Public URL download links are built from.").
		Envar("PARCEL_URL").
		Default("http://localhost:8080").
		StringVar(&cfg.URL)
	servecmd.
		Flag("path", "Storage path for staged uploads and archives.").
		Envar("PARCEL_PATH").
		Default("data").
		StringVar(&cfg.Path)
	servecmd.
		Flag("expiration", "Package expiration time.").
		Envar("PARCEL_EXPIRATION").
		Default("2h").
		DurationVar(&cfg.Lifetime)
	servecmd.
		Flag("max", "The maximum size of an upload.").
		Envar("PARCEL_MAX").
		Default("150MB").
		BytesVar((*units.Base2Bytes)(&cfg.Max))
	servecmd.
		Flag("cert", "TLS certificate path.").
		Envar("PARCEL_CERT").
		StringVar(&cfg.Cert)
	servecmd.
		Flag("key", "TLS key path.").
		Envar("PARCEL_KEY").
		StringVar(&cfg.Key)
	servecmd.
		Flag("cors-origin", "Allow cross-origin requests from this origin.").
		StringsVar(&cfg.Origins)
	servecmd.
		Flag("store", "Metadata store.").
		Envar("PARCEL_STORE").
		Default("redis").
		EnumVar(&cfg.Store.Driver, "redis", "bolt", "scylla")
	servecmd.
		Flag("redis", "Redis URL.").
		Envar("REDIS_HOST").
		Default(redis.DefaultURL).
		StringVar(&cfg.Store.RedisURL)
	servecmd.
		Flag("bolt", "Bolt database path.").
		Envar("PARCEL_BOLT").
		Default("parcel.db").
		StringVar(&cfg.Store.BoltPath)
	servecmd.
		Flag("reap-interval", "How often expired Bolt records are deleted.").
		Default("1m").
		DurationVar(&cfg.Store.ReapInterval)
	servecmd.
		Flag("scylla", "Scylla host.").
		Envar("PARCEL_SCYLLA").
		Default("localhost:9042").
		StringsVar(&cfg.Store.ScyllaHosts)
	servecmd.
		Flag("scylla-keyspace", "Scylla keyspace.").
		Default(scylla.DefaultKeyspace).
		StringVar(&cfg.Store.ScyllaKeyspace)
	servecmd.
		Flag("scheduler", "Cleanup scheduler. redis keeps jobs across restarts.").
		Envar("PARCEL_SCHEDULER").
		Default("memory").
		EnumVar(&cfg.Scheduler.Driver, "memory", "redis")
	servecmd.
		Flag("scheduler-key", "Redis key of the cleanup job set.").
		Default(scheduler.DefaultKey).
		StringVar(&cfg.Scheduler.Key)
	servecmd.
		Flag("poll-interval", "How often the redis scheduler looks for due jobs.").
		Default("5s").
		DurationVar(&cfg.Scheduler.PollInterval)
	servecmd.
		Flag("log-level", "Log level.").
		Envar("PARCEL_LOG_LEVEL").
		Default("info").
		EnumVar(&cfg.Log.Level, "debug", "info", "warn", "error")
	servecmd.
		Flag("log-file", "Write logs to a rotated file instead of stderr.").
		Envar("PARCEL_LOG_FILE").
		StringVar(&cfg.Log.File)
	configPath := servecmd.
		Flag("config", "YAML config file, applied over flags.").
		Envar("PARCEL_CONFIG").
		PlaceHolder("PATH").
		String()

	var u UploadCommand
	{
		uploadcmd := kingpin.Command("upload", "Upload files.")
		uploadcmd.
			Arg("files", "Files to be uploaded").
			Required().
			ExistingFilesVar(&u.Files)
		uploadcmd.
			Flag("insecure", "Don't verify SSL certificates.").
			BoolVar(&u.Insecure)
		uploadcmd.
			Flag("quiet", "Don't show progress.").
			Short('q').
			BoolVar(&u.Quiet)
		uploadcmd.
			Flag("url", "Server URL").
			Envar("PARCEL_UPLOAD_URL").
			Default("http://localhost:8080").
			URLVar(&u.URL)
	}

	t := kingpin.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// parcel upload
	if t == "upload" {
		if err := u.Do(ctx, os.Stdout, os.Stderr); err != nil {
			kingpin.Fatalf("%v", err)
		}
		return
	}

	if *configPath != "" {
		if err := config.Load(*configPath, &cfg); err != nil {
			kingpin.Fatalf("%v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		kingpin.Fatalf("%v", err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		kingpin.Fatalf("%v", err)
	}
	defer log.Sync()

	if err := serve(ctx, cfg, log); err != nil {
		log.Fatal("serve", zap.Error(err))
	}
}
