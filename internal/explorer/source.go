package explorer

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sort"
	"time"

	"cryptoscope/internal/config"
	"cryptoscope/internal/model"

	"github.com/shopspring/decimal"
)

// Source is a public ledger that can be queried for an address's activity.
type Source interface {
	// Name is the platform label for records from this ledger.
	Name() string
	// Currency is the ticker of the ledger's native currency.
	Currency() string
	// ValidateAddress reports why address cannot be queried, or nil.
	ValidateAddress(address string) error
	// Transactions yields every transaction touching address, newest first.
	Transactions(ctx context.Context, address string) iter.Seq2[model.ChainTransaction, error]
	// SpotPrice returns the price of one unit of Currency at the given time
	// and the currency the price is in.
	SpotPrice(ctx context.Context, at time.Time) (decimal.Decimal, string, error)
}

// NewSource creates the source with the given name.
func NewSource(name string, cfg config.ExplorerConfig, logger *slog.Logger) (Source, error) {
	switch name {
	case "bitcoin":
		return NewBitcoinExplorer(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown explorer: %s", name)
	}
}

// Registry holds the configured sources by name.
type Registry struct {
	sources map[string]Source
}

// NewRegistry creates a registry of sources. Later sources replace earlier
// ones of the same name.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: make(map[string]Source, len(sources))}
	for _, s := range sources {
		r.sources[s.Name()] = s
	}
	return r
}

// NewRegistryFromConfig builds a source for every configured explorer.
func NewRegistryFromConfig(explorers map[string]config.ExplorerConfig, logger *slog.Logger) (*Registry, error) {
	names := make([]string, 0, len(explorers))
	for name := range explorers {
		names = append(names, name)
	}
	sort.Strings(names)
	var sources []Source
	for _, name := range names {
		s, err := NewSource(name, explorers[name], logger)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return NewRegistry(sources...), nil
}

// Get returns the named source.
func (r *Registry) Get(name string) (Source, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("no explorer named %q (have %v)", name, r.Names())
	}
	return s, nil
}

// Names lists the registered sources in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
