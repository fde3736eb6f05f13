package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"cryptoscope/internal/explorer"
	"cryptoscope/internal/ledger"
	"cryptoscope/internal/statement"

	"github.com/google/subcommands"
)

type migrateCmd struct{}

func (*migrateCmd) Name() string           { return "migrate" }
func (*migrateCmd) Synopsis() string       { return "create the database schema" }
func (*migrateCmd) Usage() string          { return "cryptoscope migrate\n" }
func (*migrateCmd) SetFlags(*flag.FlagSet) {}
func (*migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(a *app) error {
		if err := a.repo.Migrate(ctx); err != nil {
			return err
		}
		fmt.Println("schema up to date")
		return nil
	})
}

type parseAddressCmd struct {
	source string
}

func (*parseAddressCmd) Name() string     { return "parse-address" }
func (*parseAddressCmd) Synopsis() string { return "record the transfers of public addresses" }
func (*parseAddressCmd) Usage() string {
	return `cryptoscope parse-address [-source bitcoin] <address>...

  Fetches every transaction of each address from the ledger explorer and
  records its transfers, matching them with transfers already known.
`
}

func (c *parseAddressCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.source, "source", "bitcoin", "Explorer to query.")
}

func (c *parseAddressCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "at least one address is required")
		return subcommands.ExitUsageError
	}
	return run(ctx, func(a *app) error {
		registry, err := explorer.NewRegistryFromConfig(a.cfg.Explorers, a.logger)
		if err != nil {
			return err
		}
		src, err := registry.Get(c.source)
		if err != nil {
			return err
		}
		matcher := ledger.NewMatcher(a.repo, a.deriver(), src, a.logger)
		for _, address := range f.Args() {
			if err := src.ValidateAddress(address); err != nil {
				return fmt.Errorf("%s: %w", address, err)
			}
			report, err := matcher.IngestAddressActivity(ctx, address, src.Transactions(ctx, address))
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d transactions, %d records created, %d skipped, %d failed\n",
				address, report.Transactions, report.RecordsCreated, report.Skipped, report.Failed)
			if len(report.OtherAddresses) > 0 {
				fmt.Printf("  likely from the same wallet: %s\n", strings.Join(report.OtherAddresses, " "))
			}
		}
		return nil
	})
}

type importStatementCmd struct {
	format string
}

func (*importStatementCmd) Name() string     { return "import-statement" }
func (*importStatementCmd) Synopsis() string { return "import an exchange statement export" }
func (*importStatementCmd) Usage() string {
	return "cryptoscope import-statement [-format coinbase] <file.csv>\n"
}

func (c *importStatementCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.format, "format", "coinbase", "Statement format.")
}

func (c *importStatementCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "exactly one statement file is required")
		return subcommands.ExitUsageError
	}
	return run(ctx, func(a *app) error {
		importer, err := statement.NewImporter(c.format, a.repo, a.deriver(), a.logger)
		if err != nil {
			return err
		}
		file, err := os.Open(f.Arg(0))
		if err != nil {
			return err
		}
		defer file.Close()
		result, err := importer.Import(ctx, file)
		if err != nil {
			return err
		}
		fmt.Printf("%d parsed, %d skipped, %d failed\n", result.Parsed, result.Skipped, result.Failed)
		for _, e := range result.Errors {
			fmt.Printf("  %v\n", e)
		}
		return nil
	})
}

type settleCmd struct{}

func (*settleCmd) Name() string           { return "settle" }
func (*settleCmd) Synopsis() string       { return "create tax events for unmatched transfers" }
func (*settleCmd) Usage() string          { return "cryptoscope settle\n" }
func (*settleCmd) SetFlags(*flag.FlagSet) {}
func (*settleCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(a *app) error {
		created, err := a.deriver().SettlePending(ctx, a.repo)
		if err != nil {
			return err
		}
		fmt.Printf("%d events created\n", created)
		return nil
	})
}
