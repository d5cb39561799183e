package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"

	"ohlcvsync/config"
	"ohlcvsync/logger"
	"ohlcvsync/models"
	"ohlcvsync/pipeline"
	"ohlcvsync/processor"
	"ohlcvsync/reader"
	"ohlcvsync/reader/polygon"
	"ohlcvsync/report"
	"ohlcvsync/resolver"
	"ohlcvsync/writer"
)

type syncCmd struct {
	dryRun bool
}

func (*syncCmd) Name() string     { return "sync" }
func (*syncCmd) Synopsis() string { return "fetch missing daily bars and publish monthly parquet files" }
func (*syncCmd) Usage() string {
	return `ohlcvsync [-config <path>] sync [-dry-run]

  Runs one incremental sync pass over every registered ticker.
  The first SIGINT/SIGTERM stops after the ticker in flight; a second one exits at once.
`
}

func (c *syncCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.dryRun, "dry-run", false, "fetch and encode but do not publish")
}

func (c *syncCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, log, err := setup(ctx)
	if err != nil {
		return fail(log, "failed to load configuration", err)
	}
	stopSignals := handleSignals(cancel, log)
	defer stopSignals()

	orch, closeAll, err := buildOrchestrator(ctx, cfg, log, c.dryRun)
	if err != nil {
		return fail(log, "failed to build sync pipeline", err)
	}
	defer closeAll()

	r, err := orch.Run(ctx)
	if err != nil {
		return fail(log, "sync run failed", err)
	}

	for _, line := range r.Summary() {
		fmt.Println(line)
	}
	switch r.Status() {
	case models.RunSuccess, models.RunUpToDate:
		return subcommands.ExitSuccess
	default:
		return subcommands.ExitFailure
	}
}

// handleSignals cancels the run on the first signal and exits on the second.
func handleSignals(cancel context.CancelFunc, log *logger.Log) func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigs:
			log.WithComponent("main").WithField("signal", sig.String()).Warn("stopping after the ticker in flight; signal again to exit now")
			cancel()
		case <-done:
			return
		}
		select {
		case <-sigs:
			log.WithComponent("main").Error("second signal received, exiting")
			os.Exit(130)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func buildOrchestrator(ctx context.Context, cfg *config.Config, log *logger.Log, dryRun bool) (*pipeline.Orchestrator, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, closeAll, err
	}
	publisher := writer.NewPublisher(store, cfg.Storage.Prefix, log).WithTimeout(cfg.Storage.Timeout)

	reg, closeReg, err := openRegistry(ctx, cfg, store, publisher.Prefix())
	if err != nil {
		return nil, closeAll, err
	}
	closers = append(closers, closeReg)

	loc, err := cfg.Location()
	if err != nil {
		return nil, closeAll, err
	}

	provider := polygon.New(cfg.Source.Polygon, cfg.App.Name+"/"+cfg.App.Version, polygon.WithLocation(loc))
	spacer := reader.NewSpacer(cfg.Spacing(), reader.WithSpacerLogger(log))
	fetcher := reader.NewClient(provider, spacer,
		reader.WithBackoff(reader.Backoff{
			RateLimited: cfg.Retry.RateLimitBackoff,
			Transient:   cfg.Retry.TransientBackoff,
		}),
		reader.WithLogger(log),
	)

	pw, err := writer.NewParquetWriter(cfg.Writer.Compression, cfg.Writer.RowGroupSize)
	if err != nil {
		return nil, closeAll, err
	}

	sinks := report.Sinks{report.NewLogSink(log)}
	if cfg.Report.Redis.Enabled {
		rdb, err := report.NewRedisClient(ctx, cfg.Report.Redis)
		if err != nil {
			log.WithComponent("report").WithError(err).Warn("redis report store unavailable")
		} else {
			closers = append(closers, func() { _ = rdb.Close() })
			sinks = append(sinks, report.NewRedisStore(rdb, cfg.Report.Redis.Key, cfg.Report.Redis.TTL))
		}
	}

	log.WithFields(logger.Fields{
		"store":       store.Location(),
		"prefix":      publisher.Prefix(),
		"put_timeout": cfg.Storage.Timeout.String(),
		"spacing":     spacer.Spacing().String(),
		"lookback":    cfg.Sync.LookbackYears,
		"registry":    cfg.Registry.Driver,
		"timezone":    loc.String(),
		"dry_run":     dryRun,
		"provider":    provider.Name(),
		"redis_sink":  len(sinks) > 1,
	}).Info("sync pipeline ready")

	orch, err := pipeline.New(pipeline.Deps{
		Registry:    reg,
		Resolver:    resolver.New(cfg.Sync.LookbackYears),
		Fetcher:     fetcher,
		Transformer: processor.NewTransformer(log),
		Writer:      pw,
		Publisher:   publisher,
	},
		pipeline.WithLocation(loc),
		pipeline.WithSink(sinks),
		pipeline.WithDryRun(dryRun),
		pipeline.WithLogger(log),
	)
	if err != nil {
		return nil, closeAll, err
	}
	return orch, closeAll, nil
}
