package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"ohlcvsync/report"
)

type reportCmd struct {
	runID  string
	asJSON bool
}

func (*reportCmd) Name() string     { return "report" }
func (*reportCmd) Synopsis() string { return "print a stored run report" }
func (*reportCmd) Usage() string {
	return `ohlcvsync report [-run <id>] [-json]

  Prints the latest run report, or the one for -run, from Redis.
`
}

func (c *reportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.runID, "run", report.LastRun, "run id to load")
	f.BoolVar(&c.asJSON, "json", false, "print the report as JSON")
}

func (c *reportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, log, err := setup(ctx)
	if err != nil {
		return fail(log, "failed to load configuration", err)
	}
	if !cfg.Report.Redis.Enabled {
		return fail(log, "no report store", errors.New("report.redis.enabled is false"))
	}

	rdb, err := report.NewRedisClient(ctx, cfg.Report.Redis)
	if err != nil {
		return fail(log, "failed to connect to redis", err)
	}
	defer func() { _ = rdb.Close() }()

	r, err := report.NewRedisStore(rdb, cfg.Report.Redis.Key, cfg.Report.Redis.TTL).Load(ctx, c.runID)
	if err != nil {
		return fail(log, "failed to load report", err)
	}

	if c.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fail(log, "failed to encode report", err)
		}
		return subcommands.ExitSuccess
	}

	fmt.Printf("status: %s  started %s  took %s\n", r.Status(), r.StartedAt.Format("2006-01-02 15:04:05"), r.Duration())
	for _, line := range r.Summary() {
		fmt.Println(line)
	}
	return subcommands.ExitSuccess
}
