package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"ohlcvsync/verify"
	"ohlcvsync/writer"
)

type verifyCmd struct {
	samples int
	asJSON  bool
}

func (*verifyCmd) Name() string     { return "verify" }
func (*verifyCmd) Synopsis() string { return "check published files for layout, quality and freshness" }
func (*verifyCmd) Usage() string {
	return `ohlcvsync verify [-samples n] [-json]

  Exits 0 when every check passes, 1 on warnings, 2 on failures.
`
}

func (c *verifyCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.samples, "samples", 3, "number of files to download and decode")
	f.BoolVar(&c.asJSON, "json", false, "print the full result as JSON")
}

func (c *verifyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, log, err := setup(ctx)
	if err != nil {
		return fail(log, "failed to load configuration", err)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fail(log, "failed to open store", err)
	}

	prefix := writer.NewPublisher(store, cfg.Storage.Prefix, log).Prefix()
	s := verify.New(store, prefix, log, verify.WithSamples(c.samples)).Run(ctx)

	if c.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s); err != nil {
			return fail(log, "failed to encode result", err)
		}
	} else {
		fmt.Printf("location:   %s\n", s.Location)
		fmt.Printf("contents:   %s  %s\n", s.Contents.Status, s.Contents.Message)
		fmt.Printf("format:     %s  %s\n", s.Format.Status, s.Format.Message)
		for _, f := range s.Format.Files {
			if f.Error != "" {
				fmt.Printf("  %-32s %s  %s\n", f.Key, f.Status, f.Error)
				continue
			}
			fmt.Printf("  %-32s %s  rows=%d dates=%s..%s price=%.2f..%.2f anomalies=%d\n",
				f.Key, f.Status, f.Rows, f.MinDate.Format("2006-01-02"), f.MaxDate.Format("2006-01-02"),
				f.MinPrice, f.MaxPrice, f.Anomalies)
		}
		fmt.Printf("freshness:  %s  %s\n", s.Freshness.Status, s.Freshness.Message)
		fmt.Printf("overall:    %s (passed %d, failed %d, warnings %d)\n", s.Overall, s.Passed, s.Failed, s.Warnings)
	}
	return subcommands.ExitStatus(s.ExitCode())
}
