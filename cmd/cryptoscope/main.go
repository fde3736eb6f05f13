package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"
)

var configDir = flag.String("config", ".", "Directory holding config.yaml.")

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	commander.Register(&migrateCmd{}, "store")
	commander.Register(&parseAddressCmd{}, "ledger")
	commander.Register(&importStatementCmd{}, "ledger")
	commander.Register(&settleCmd{}, "ledger")
	commander.Register(&importHSTCmd{}, "prices")
	commander.Register(&convertCmd{}, "prices")
	commander.Register(&recordTickerCmd{}, "prices")

	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	code := commander.Execute(ctx)
	stop()
	os.Exit(int(code))
}
