package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cryptoscope/internal/currency"
	"cryptoscope/internal/database"
	"cryptoscope/internal/exchange"
	"cryptoscope/internal/model"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

// parseTime accepts RFC 3339 timestamps or plain dates.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

type importHSTCmd struct {
	source, target, dataSource string
	granularity                int64
	from, to                   string
}

func (*importHSTCmd) Name() string     { return "import-hst" }
func (*importHSTCmd) Synopsis() string { return "load historic prices from an HST file" }
func (*importHSTCmd) Usage() string {
	return `cryptoscope import-hst -source EUR -target USD [-granularity 60] [-from date] [-to date] <file.hst>

  Both currencies must already exist. Samples already stored are kept.
`
}

func (c *importHSTCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.source, "source", "", "Source currency ticker.")
	f.StringVar(&c.target, "target", "", "Target currency ticker.")
	f.StringVar(&c.dataSource, "data-source", "fxdd", "Label of the data provider.")
	f.Int64Var(&c.granularity, "granularity", 60, "Sample width in seconds.")
	f.StringVar(&c.from, "from", "", "Skip samples before this time.")
	f.StringVar(&c.to, "to", "", "Skip samples after this time.")
}

func (c *importHSTCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 || c.source == "" || c.target == "" {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	opts := currency.HSTOptions{
		Source:      strings.ToUpper(c.source),
		Target:      strings.ToUpper(c.target),
		Granularity: c.granularity,
		DataSource:  c.dataSource,
	}
	for _, bound := range []struct {
		value string
		dst   **time.Time
	}{{c.from, &opts.From}, {c.to, &opts.To}} {
		if bound.value == "" {
			continue
		}
		t, err := parseTime(bound.value)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitUsageError
		}
		*bound.dst = &t
	}
	return run(ctx, func(a *app) error {
		file, err := os.Open(f.Arg(0))
		if err != nil {
			return err
		}
		defer file.Close()
		result, err := currency.ImportHST(ctx, a.repo, file, opts, a.logger)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d samples parsed, %d added\n", result.Pair, result.Parsed, result.Added)
		return nil
	})
}

type convertCmd struct {
	from, to, at string
}

func (*convertCmd) Name() string     { return "convert" }
func (*convertCmd) Synopsis() string { return "convert an amount between currencies at a point in time" }
func (*convertCmd) Usage() string {
	return "cryptoscope convert -from BTC -to AUD [-at 2020-01-01T00:00:00Z] <amount>\n"
}

func (c *convertCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.from, "from", "", "Currency of the amount.")
	f.StringVar(&c.to, "to", "", "Currency to express the amount in (defaults to the reporting currency).")
	f.StringVar(&c.at, "at", "", "Time of the conversion (defaults to now).")
}

func (c *convertCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 || c.from == "" {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	amount, err := decimal.NewFromString(f.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	at := time.Now().UTC()
	if c.at != "" {
		if at, err = parseTime(c.at); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitUsageError
		}
	}
	return run(ctx, func(a *app) error {
		source, target := strings.ToUpper(c.from), strings.ToUpper(c.to)
		if target == "" {
			target = a.cfg.Reporting.Currency
		}
		router := a.router()
		path, err := router.FindPath(ctx, source, target, at)
		if err != nil && source != target {
			return err
		}
		converted, err := router.Convert(ctx, source, target, amount, at)
		if err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", display(ctx, a.repo, source, amount), display(ctx, a.repo, target, converted))
		if len(path) > 0 {
			fmt.Printf("  via %s\n", path)
		}
		return nil
	})
}

// display formats amount using the stored currency, or the bare ticker when
// the currency is unknown.
func display(ctx context.Context, repo database.PriceRepository, ticker string, amount decimal.Decimal) string {
	c, err := repo.GetCurrency(ctx, ticker)
	if err != nil {
		c = model.Currency{Ticker: ticker}
	}
	return currency.Format(c, amount, currency.DefaultDisplayDecimals)
}

type recordTickerCmd struct{}

func (*recordTickerCmd) Name() string     { return "record-ticker" }
func (*recordTickerCmd) Synopsis() string { return "store live exchange prices as minute samples" }
func (*recordTickerCmd) Usage() string {
	return `cryptoscope record-ticker

  Streams the configured pair from the configured exchanges until
  interrupted, storing one sample per minute.
`
}
func (*recordTickerCmd) SetFlags(*flag.FlagSet) {}

func (*recordTickerCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(a *app) error {
		recorder, err := exchange.NewRecorder(a.repo, a.cfg.Ticker.Pair, a.cfg.Ticker.DataSource, a.logger)
		if err != nil {
			return err
		}
		var clients []exchange.TickerClient
		for _, name := range a.cfg.Ticker.Exchanges {
			client, err := exchange.NewClient(name, a.logger)
			if err != nil {
				return err
			}
			clients = append(clients, client)
		}
		if len(clients) == 0 {
			return errors.New("no ticker exchanges configured")
		}

		ticks := make(chan model.PriceTick, 64)
		var wg sync.WaitGroup
		for _, client := range clients {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := client.StartStream(ctx, ticks, a.cfg.Ticker.Pair); err != nil {
					a.logger.Error("Ticker stream stopped", "exchange", client.Name(), "error", err)
				}
			}()
		}
		go func() {
			wg.Wait()
			close(ticks)
		}()
		return recorder.Run(ctx, ticks)
	})
}
