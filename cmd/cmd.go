// Package cmd holds the ohlcvsync subcommands.
package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"

	"ohlcvsync/config"
	"ohlcvsync/logger"
	"ohlcvsync/registry"
	"ohlcvsync/writer"
)

var configPath = flag.String("config", config.DefaultPath, "Path to configuration file")

// Register adds every subcommand to c.
func Register(c *subcommands.Commander) {
	c.Register(&syncCmd{}, "sync")
	c.Register(&reportCmd{}, "sync")

	c.Register(&verifyCmd{}, "maintenance")
	c.Register(&progressCmd{}, "maintenance")
	c.Register(&clearCmd{}, "maintenance")
}

// setup loads configuration and prepares logging and metrics. Commands call
// it first thing in Execute.
func setup(ctx context.Context) (*config.Config, *logger.Log, error) {
	log := logger.GetLogger()

	path := config.ResolvePath(*configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, log, err
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		return nil, log, fmt.Errorf("configure logger: %w", err)
	}

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}
	if logger.ReportEnabled(cfg.Logging.Level) {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	log.WithEnv("APP_ENV", "LOG_LEVEL").WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
		"config":      path,
	}).Info("configuration loaded")
	return cfg, log, nil
}

// openStore builds the object store selected by storage.backend.
func openStore(ctx context.Context, cfg *config.Config) (writer.Store, error) {
	env := config.AppEnvironment()
	if cfg.Storage.Backend == "local" && config.IsProductionLike(env) {
		return nil, fmt.Errorf("local storage backend is not allowed in %s", env)
	}

	switch cfg.Storage.Backend {
	case "s3":
		client, err := writer.NewS3Client(ctx, cfg.Storage.S3)
		if err != nil {
			return nil, err
		}
		return writer.NewS3Store(client, cfg.Storage.S3.Bucket)
	case "minio":
		return writer.NewMinioStore(cfg.Storage.Minio)
	case "local":
		return writer.NewLocalStore(cfg.Storage.Local.Dir)
	default:
		return nil, fmt.Errorf("storage backend %q is not supported", cfg.Storage.Backend)
	}
}

// openRegistry returns the registry and a close function. The static registry
// reads last stored dates from blobs under prefix.
func openRegistry(ctx context.Context, cfg *config.Config, store writer.Store, prefix string) (registry.Registry, func(), error) {
	if cfg.Registry.Driver == "static" {
		env := config.AppEnvironment()
		if config.IsProductionLike(env) {
			return nil, nil, fmt.Errorf("static registry is not allowed in %s", env)
		}
		return registry.NewStatic(cfg.Sync.Tickers).WithStore(store, prefix), func() {}, nil
	}

	reg, err := registry.Open(ctx, cfg.Registry)
	if err != nil {
		return nil, nil, err
	}
	return reg, func() {
		if err := reg.Close(); err != nil {
			logger.GetLogger().WithComponent("registry").WithError(err).Warn("failed to close registry")
		}
	}, nil
}

func fail(log *logger.Log, msg string, err error) subcommands.ExitStatus {
	log.WithError(err).Error(msg)
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return subcommands.ExitFailure
}
