package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	app "github.com/hemanthmantri/conduit"
	"github.com/hemanthmantri/conduit/internal/archive"
	"github.com/hemanthmantri/conduit/internal/codec"
	"github.com/hemanthmantri/conduit/internal/config"
	"github.com/hemanthmantri/conduit/internal/engine"
	"github.com/hemanthmantri/conduit/internal/eventlog"
	"github.com/hemanthmantri/conduit/internal/store"
	"github.com/hemanthmantri/conduit/internal/waitnotify"
	"github.com/hemanthmantri/conduit/pkg/log"
)

type conduit struct {
	cfg         *config.Config
	redisClient *redis.Client
	execStore   store.ExecutionStore
	pgStore     *store.Postgres
	engine      *engine.Engine
	archiver    *archive.Archiver
	quit        chan os.Signal
}

var (
	ErrConnectRedis    = errors.New("failed to connect to redis")
	ErrConnectPostgres = errors.New("failed to connect to postgres")
	ErrOpenArchive     = errors.New("failed to open archive bucket")
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &conduit{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *conduit) run() error {
	if err := s.initializeStores(); err != nil {
		return err
	}

	if err := s.initializeEngine(); err != nil {
		return err
	}

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *conduit) setupLogging() {
	level, ok := logLevels[s.cfg.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Conduit engine starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("redis_addr", s.cfg.ExecutionStore.Addr),
		slog.Int("redis_db", s.cfg.ExecutionStore.DB),
		slog.String("redis_prefix", s.cfg.ExecutionStore.Prefix),
		slog.String("consumer_group", s.cfg.ConsumerGroup),
		slog.String("consumer_name", s.cfg.ConsumerName),
		slog.Bool("postgres", s.cfg.PostgresDSN != ""),
		slog.Bool("archiving", s.cfg.ArchiveBucketURL != ""))
}

func (s *conduit) initializeStores() error {
	ctx := context.Background()

	s.redisClient = redis.NewClient(&redis.Options{
		Addr:     s.cfg.ExecutionStore.Addr,
		Password: s.cfg.ExecutionStore.Password,
		DB:       s.cfg.ExecutionStore.DB,
	})
	if err := s.redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectRedis, err)
	}

	if s.cfg.PostgresDSN != "" {
		pg, err := store.NewPostgres(ctx, s.cfg.PostgresDSN, codec.JSON())
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConnectPostgres, err)
		}
		s.pgStore = pg
		s.execStore = pg
		return nil
	}

	s.execStore = store.NewRedisWithClient(
		s.redisClient, s.cfg.ExecutionStore.Prefix, codec.JSON(),
	)
	return nil
}

func (s *conduit) initializeEngine() error {
	prefix := s.cfg.ExecutionStore.Prefix
	broker := eventlog.NewRedisBroker(s.redisClient, prefix)
	waits := waitnotify.NewRedisStore(s.redisClient, prefix, codec.JSON())

	eng := engine.New(s.execStore, broker, waits, s.cfg)
	eng.SetElector(eventlog.NewLeaseElector(
		s.redisClient, prefix+":leader", s.cfg.ConsumerName,
		s.cfg.LeaderLeaseTTL,
	))

	if s.cfg.ArchiveBucketURL != "" {
		archiver, err := archive.New(
			context.Background(), s.cfg.ArchiveBucketURL, "archive",
			s.execStore,
		)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrOpenArchive, err)
		}
		s.archiver = archiver
		eng.SetArchiver(archiver)
	}

	s.engine = eng
	return s.engine.Start()
}

func (s *conduit) shutdown() {
	slog.Info("Shutting down")

	if err := s.engine.Stop(); err != nil {
		slog.Error("Engine shutdown failed", log.Error(err))
	}

	if s.archiver != nil {
		if err := s.archiver.Close(); err != nil {
			slog.Error("Archive close failed", log.Error(err))
		}
	}
	if s.pgStore != nil {
		_ = s.pgStore.Close()
	}
	_ = s.redisClient.Close()

	slog.Info("Engine exited")
}
