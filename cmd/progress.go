package cmd

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"ohlcvsync/verify"
	"ohlcvsync/writer"
)

type progressCmd struct {
	expected bool
}

func (*progressCmd) Name() string     { return "progress" }
func (*progressCmd) Synopsis() string { return "show published files per ticker" }
func (*progressCmd) Usage() string {
	return `ohlcvsync progress [-expected]

  Lists every ticker with its file count and month range.
`
}

func (c *progressCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.expected, "expected", false, "compare against the registry ticker list")
}

func (c *progressCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, log, err := setup(ctx)
	if err != nil {
		return fail(log, "failed to load configuration", err)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fail(log, "failed to open store", err)
	}

	prefix := writer.NewPublisher(store, cfg.Storage.Prefix, log).Prefix()
	p, err := verify.BuildProgress(ctx, store, prefix)
	if err != nil {
		return fail(log, "failed to read progress", err)
	}

	fmt.Printf("%s: %d files, %d tickers, %d unrecognized\n", store.Location(), p.Files, len(p.Tickers), p.Malformed)
	for _, t := range p.Tickers {
		fmt.Printf("  %-8s %4d files  %s .. %s  %d bytes\n", t.Ticker, t.Files, t.First, t.Latest, t.Bytes)
	}

	if c.expected {
		reg, closeReg, err := openRegistry(ctx, cfg, store, prefix)
		if err != nil {
			return fail(log, "failed to open registry", err)
		}
		defer closeReg()

		tickers, err := reg.ListEntities(ctx)
		if err != nil {
			return fail(log, "failed to list tickers", err)
		}
		have, missing := p.Coverage(tickers)
		pct := 0.0
		if len(tickers) > 0 {
			pct = 100 * float64(have) / float64(len(tickers))
		}
		fmt.Printf("coverage: %d / %d tickers (%.1f%%)\n", have, len(tickers), pct)
		for _, m := range missing {
			fmt.Printf("  missing %s\n", m)
		}
	}
	return subcommands.ExitSuccess
}
