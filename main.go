package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
	"github.com/joho/godotenv"

	"ohlcvsync/cmd"
	"ohlcvsync/logger"
)

func main() {
	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.GetLogger().WithError(err).Warn("Error loading .env file")
	}

	c := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	c.Register(c.HelpCommand(), "")
	c.Register(c.FlagsCommand(), "")
	c.Register(c.CommandsCommand(), "")
	cmd.Register(c)

	flag.Parse()
	os.Exit(int(c.Execute(context.Background())))
}
