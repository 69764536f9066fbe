// Package main provides the entry point for the governance server
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/agentforge/govern/internal/api/rest"
	"github.com/agentforge/govern/internal/audit"
	"github.com/agentforge/govern/internal/db"
	"github.com/agentforge/govern/internal/engine"
	"github.com/agentforge/govern/internal/identity"
	"github.com/agentforge/govern/internal/metrics"
	"github.com/agentforge/govern/internal/propagate"
	"github.com/agentforge/govern/internal/store"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath      = flag.String("config", "", "Path to YAML configuration file")
		httpPort        = flag.Int("http-port", 0, "HTTP server port (overrides config)")
		dsn             = flag.String("dsn", "", "PostgreSQL DSN; empty runs with in-memory stores")
		redisAddr       = flag.String("redis", "", "Redis address for cross-process change propagation")
		logLevel        = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		showVersion     = flag.Bool("version", false, "Show version information")
		gracefulTimeout = flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("govern-server %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	cfg, err := LoadServerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *httpPort != 0 {
		cfg.HTTP.Port = *httpPort
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}
	if *redisAddr != "" {
		cfg.Redis.Addr = *redisAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting governance server",
		zap.String("version", Version),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Bool("postgres", cfg.Database.DSN != ""),
		zap.Bool("redis", cfg.Redis.Addr != ""),
	)

	m := metrics.New("govern")

	principals, agents, audits, closeDB, err := buildStores(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize stores", zap.Error(err))
	}
	defer closeDB()

	bus, err := buildBus(cfg, logger, m)
	if err != nil {
		logger.Fatal("failed to initialize change bus", zap.Error(err))
	}
	defer bus.Close()

	eng, err := engine.New(engine.Config{
		Principals: principals,
		Agents:     agents,
		Audits:     audits,
		Bus:        bus,
		Metrics:    m,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("failed to create engine", zap.Error(err))
	}

	restCfg := rest.DefaultConfig()
	restCfg.Port = cfg.HTTP.Port
	restCfg.ReadTimeout = cfg.HTTP.ReadTimeout.Std()
	restCfg.IdleTimeout = cfg.HTTP.IdleTimeout.Std()
	restCfg.EnableCORS = cfg.HTTP.EnableCORS
	restCfg.JWTSecret = cfg.Auth.JWTSecret
	restCfg.Version = Version

	srv, err := rest.New(restCfg, eng, logger, m)
	if err != nil {
		logger.Fatal("failed to create REST server", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server stopped", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *gracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("governance server stopped")
}

// buildStores wires either the in-memory or the PostgreSQL store set
func buildStores(cfg ServerConfig, logger *zap.Logger) (identity.PrincipalStore, store.Store, audit.Store, func(), error) {
	if cfg.Database.DSN == "" {
		logger.Warn("no database configured, using in-memory stores")
		audits := audit.NewMemoryStore()
		return identity.NewMemoryStore(), store.NewMemoryStore(audits), audits, func() {}, nil
	}

	sqlDB, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, nil, nil, nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.Database.Migrate {
		runner, err := db.NewMigrationRunner(sqlDB, logger)
		if err != nil {
			sqlDB.Close()
			return nil, nil, nil, nil, fmt.Errorf("create migration runner: %w", err)
		}
		if err := runner.Up(); err != nil {
			sqlDB.Close()
			return nil, nil, nil, nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	audits := audit.NewPostgresStore(sqlDB)
	agents := store.NewPostgresStore(sqlDB, audits)
	principals := identity.NewPostgresStore(sqlDB)
	closeDB := func() {
		if err := sqlDB.Close(); err != nil {
			logger.Error("close database", zap.Error(err))
		}
	}
	return principals, agents, audits, closeDB, nil
}

// buildBus wires the in-process bus, or the Redis bus when an address
// is configured so changes propagate across server instances
func buildBus(cfg ServerConfig, logger *zap.Logger, m *metrics.Metrics) (propagate.Bus, error) {
	if cfg.Redis.Addr == "" {
		opts := []propagate.MemoryBusOption{propagate.WithDropHook(m.RecordOpDropped)}
		if cfg.Propagate.BufferSize > 0 {
			opts = append(opts, propagate.WithBufferSize(cfg.Propagate.BufferSize))
		}
		return propagate.NewMemoryBus(logger, opts...), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	opts := []propagate.RedisBusOption{propagate.WithRedisDropHook(m.RecordOpDropped)}
	if cfg.Propagate.BufferSize > 0 {
		opts = append(opts, propagate.WithRedisBufferSize(cfg.Propagate.BufferSize))
	}
	return propagate.NewRedisBus(client, logger, opts...), nil
}

func initLogger(cfg ServerConfig) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch cfg.Log.Level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var encoderCfg zapcore.EncoderConfig
	var encoder zapcore.Encoder
	if cfg.Log.Format == "console" {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoderCfg = zap.NewProductionEncoderConfig()
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	sink := zapcore.AddSync(os.Stdout)
	if cfg.Log.File.Path != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.Log.File.Path,
			MaxSize:    cfg.Log.File.MaxSizeMB,
			MaxBackups: cfg.Log.File.MaxBackups,
			MaxAge:     cfg.Log.File.MaxAgeDays,
			Compress:   true,
		}
		sink = zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout), zapcore.AddSync(rotating))
	}

	core := zapcore.NewCore(encoder, sink, zapLevel)
	return zap.New(core, zap.AddCaller()), nil
}
