package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/fleetingbytes/cryptoworth/internal/blob"
	"github.com/fleetingbytes/cryptoworth/internal/config"
	"github.com/fleetingbytes/cryptoworth/internal/feed"
	"github.com/fleetingbytes/cryptoworth/internal/metrics"
	"github.com/fleetingbytes/cryptoworth/internal/normalizer"
	"github.com/fleetingbytes/cryptoworth/internal/recorder"
	"github.com/fleetingbytes/cryptoworth/internal/registry"
	"github.com/fleetingbytes/cryptoworth/internal/session"
	"github.com/fleetingbytes/cryptoworth/internal/store"
	"github.com/fleetingbytes/cryptoworth/internal/wallet"
)

func main() {
	configPath := flag.String("config", "", "path to TOML configuration file")
	replayPath := flag.String("replay", "", "replay a journal file instead of connecting to the venue")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *replayPath, logger); err != nil {
		logger.Error("cryptoworth exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("cryptoworth stopped")
}

func run(ctx context.Context, cfg *config.Config, replayPath string, logger *slog.Logger) error {
	// --- Store ---
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// --- Sinks ---
	sinks := recorder.Multi{recorder.NewStoreSink(st)}
	var journal *recorder.Journal
	if cfg.Journal.Enabled {
		journal, err = recorder.NewJournal(cfg.Journal.Dir, time.Now(), logger)
		if err != nil {
			return err
		}
		sinks = append(sinks, journal)
		logger.Info("journal enabled", slog.String("dir", cfg.Journal.Dir))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		ks, err := recorder.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix, logger)
		if err != nil {
			sinks.Close()
			return err
		}
		sinks = append(sinks, ks)
	}

	// --- Books and wallets ---
	pairs, err := cfg.Pairs()
	if err != nil {
		sinks.Close()
		return err
	}
	reg := registry.New(pairs...)

	var wallets []*wallet.Wallet
	for _, wc := range cfg.Wallets {
		balances, err := wc.ParseBalances()
		if err != nil {
			sinks.Close()
			return err
		}
		w, errs := wallet.New(wc.Name, balances, cfg.Currencies)
		for _, e := range errs {
			logger.Warn("wallet entry dropped", slog.String("wallet", wc.Name), slog.String("error", e.Error()))
		}
		wallets = append(wallets, w)
	}

	hub := session.NewWSHub(logger)
	go hub.Run(ctx)

	sess := session.New(session.Config{
		Registry: reg,
		Options:  normalizer.Options{ResetOnSnapshot: cfg.Engine.ResetOnSnapshot},
		Store:    st,
		Sink:     sinks,
		Hub:      hub,
		Wallets:  wallets,
		Logger:   logger,
	})

	// --- Source ---
	src, closeSource, err := openSource(ctx, cfg, replayPath, logger)
	if err != nil {
		sinks.Close()
		return err
	}

	// --- HTTP router ---
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router(sess, cfg.Server.CORSOrigins),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("cryptoworth listening", slog.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := sess.Run(gctx, src)
		if err == nil {
			logger.Info("feed finished, serving until interrupted")
		}
		return err
	})
	g.Go(func() error {
		housekeeping(gctx, journal, src, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("shutting down cryptoworth...")
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	closeSource()
	if err := sinks.Close(); err != nil {
		logger.Error("closing sinks", slog.String("error", err.Error()))
	}
	if journal != nil && cfg.S3.Bucket != "" {
		archiveJournal(cfg, journal, logger)
	}
	return runErr
}

// openStore picks PostgreSQL when a DSN is configured, optionally behind a
// Redis cache, and the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.Postgres.DSN == "" {
		logger.Warn("postgres.dsn not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(0), func() {}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.PoolMaxConns)
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	closers := []func(){pool.Close}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pg := store.NewPostgresStore(pool)
	if cfg.Postgres.RunMigrations {
		if err := pg.Migrate(ctx); err != nil {
			closeAll()
			return nil, nil, err
		}
	}
	logger.Info("connected to PostgreSQL")

	var st store.Store = pg
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		closers = append(closers, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.Redis.TTL.Duration)
		logger.Info("Redis cache enabled")
	}
	return st, closeAll, nil
}

// openSource returns the journal replay when replayPath is set and the live
// venue feed otherwise, read ahead through a bounded queue when configured.
func openSource(ctx context.Context, cfg *config.Config, replayPath string, logger *slog.Logger) (session.Source, func(), error) {
	var (
		src     session.Source
		closers []func()
	)
	if replayPath != "" {
		rp, err := feed.OpenReplay(replayPath)
		if err != nil {
			return nil, nil, err
		}
		src = rp
		closers = append(closers, func() { rp.Close() })
		logger.Info("replaying journal", slog.String("path", replayPath))
	} else {
		client := feed.NewClient(cfg.ClientConfig(), logger)
		if err := client.Connect(ctx); err != nil {
			return nil, nil, err
		}
		src = client
		closers = append(closers, func() { client.Close() })
	}

	if cfg.Engine.QueueSize > 0 {
		pf := feed.NewPrefetch(ctx, src, cfg.Engine.QueueSize)
		src = pf
		closers = append(closers, pf.Close)
	}

	return src, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}

// flushInterval bounds how long a recorded frame may sit in the journal's
// write buffer.
const flushInterval = 5 * time.Second

// housekeeping flushes the journal and samples the read-ahead queue until ctx
// is done.
func housekeeping(ctx context.Context, journal *recorder.Journal, src session.Source, logger *slog.Logger) {
	pf, _ := src.(*feed.Prefetch)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if journal != nil {
				if err := journal.Flush(); err != nil {
					logger.Error("journal flush", slog.String("error", err.Error()))
				}
				metrics.JournalMessages.Set(float64(journal.Count()))
			}
			if pf != nil {
				metrics.QueueDepth.Set(float64(pf.Len()))
			}
		}
	}
}

func router(sess *session.Session, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	allow := strings.Join(origins, ", ")
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allow)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", sess.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", sess.Routes)
	return r
}

// archiveJournal uploads the closed journal files to S3. Failures are logged;
// the files stay on disk.
func archiveJournal(cfg *config.Config, journal *recorder.Journal, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client, err := blob.New(ctx, blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		logger.Error("s3 client", slog.String("error", err.Error()))
		return
	}
	if err := client.Health(ctx); err != nil {
		logger.Error("s3 unavailable, journal not archived", slog.String("error", err.Error()))
		return
	}

	keys, err := blob.Archive(ctx, client, cfg.S3.Prefix, journal.Dir(), journal.Files(), logger)
	if err != nil {
		logger.Error("journal archive incomplete", slog.String("error", err.Error()))
	}
	logger.Info("journal archived",
		slog.String("bucket", client.Bucket()),
		slog.Int("objects", len(keys)),
		slog.Uint64("messages", journal.Count()),
	)
}
