package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"ohlcvsync/config"
	"ohlcvsync/verify"
	"ohlcvsync/writer"
)

type clearCmd struct {
	yes bool
}

func (*clearCmd) Name() string     { return "clear" }
func (*clearCmd) Synopsis() string { return "delete every published file" }
func (*clearCmd) Usage() string {
	return `ohlcvsync clear -yes

  Deletes every object under the configured prefix and checks the store is empty.
`
}

func (c *clearCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.yes, "yes", false, "confirm deletion")
}

func (c *clearCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, log, err := setup(ctx)
	if err != nil {
		return fail(log, "failed to load configuration", err)
	}
	if !c.yes {
		fmt.Println("refusing to delete without -yes")
		return subcommands.ExitUsageError
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fail(log, "failed to open store", err)
	}

	if env := config.AppEnvironment(); config.IsProductionLike(env) {
		log.WithComponent("clear").WithField("environment", env).Warn("clearing a production-like store")
	}

	prefix := writer.NewPublisher(store, cfg.Storage.Prefix, log).Prefix()
	n, err := verify.Clear(ctx, store, prefix, log)
	if err != nil {
		return fail(log, "clear failed", errors.Join(err, fmt.Errorf("%d objects deleted before the failure", n)))
	}
	fmt.Printf("deleted %d objects from %s\n", n, store.Location())
	return subcommands.ExitSuccess
}
