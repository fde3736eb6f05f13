package currency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"cryptoscope/internal/database"
	"cryptoscope/internal/model"

	"github.com/shopspring/decimal"
)

// DefaultMaxHops bounds the conversion search.
const DefaultMaxHops = 5

// ErrPathNotFound is returned when no chain of covered trading pairs links two
// currencies at the requested time.
var ErrPathNotFound = errors.New("conversion path not found")

// Hop is one traversal of a trading pair. Forward is true when travelling from
// the pair's source to its target.
type Hop struct {
	Pair    model.TradingPair
	Forward bool
}

// Path is a chain of hops between two currencies.
type Path []Hop

// Granularity is the sum of each hop's sampling interval.
func (p Path) Granularity() int64 {
	var total int64
	for _, h := range p {
		total += h.Pair.Granularity
	}
	return total
}

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, h := range p {
		parts[i] = h.Pair.String()
	}
	return strings.Join(parts, " -> ")
}

// Router converts amounts between currencies by walking the trading pair graph.
type Router struct {
	prices  database.PriceRepository
	maxHops int
	logger  *slog.Logger
}

// NewRouter creates a Router. A non-positive maxHops selects DefaultMaxHops.
func NewRouter(prices database.PriceRepository, maxHops int, logger *slog.Logger) *Router {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	return &Router{prices: prices, maxHops: maxHops, logger: logger}
}

// Convert expresses amount of source in target at the given time.
func (r *Router) Convert(ctx context.Context, source, target string, amount decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	if source == target {
		return amount, nil
	}
	path, err := r.FindPath(ctx, source, target, at)
	if err != nil {
		return decimal.Zero, err
	}
	for _, h := range path {
		sample, err := r.prices.SampleAtOrBefore(ctx, h.Pair.ID, at)
		if errors.Is(err, database.ErrNotFound) {
			return decimal.Zero, fmt.Errorf("%w: pair %s has no sample at %s", ErrPathNotFound, h.Pair, at.Format(time.RFC3339))
		}
		if err != nil {
			return decimal.Zero, err
		}
		price := sample.Mid()
		if h.Forward {
			amount = amount.Mul(price)
			continue
		}
		if price.IsZero() {
			return decimal.Zero, fmt.Errorf("pair %s has a zero price at %s", h.Pair, sample.Timestamp.Format(time.RFC3339))
		}
		amount = amount.Div(price)
	}
	r.logger.Debug("Converted amount", "source", source, "target", target, "hops", len(path), "result", amount.String())
	return amount, nil
}

// Price returns the value of one unit of source in target.
func (r *Router) Price(ctx context.Context, source, target string, at time.Time) (decimal.Decimal, error) {
	return r.Convert(ctx, source, target, decimal.NewFromInt(1), at)
}

// route is a partial path. Its slices are never shared with another route.
type route struct {
	currency string
	hops     Path
	visited  []string
}

func (rt route) extend(to string, h Hop) route {
	return route{
		currency: to,
		hops:     append(slices.Clip(rt.hops), h),
		visited:  append(slices.Clip(rt.visited), to),
	}
}

type link struct {
	to  string
	hop Hop
}

// FindPath searches breadth-first for the shortest covered path, preferring
// the lowest cumulative granularity among paths of equal length.
func (r *Router) FindPath(ctx context.Context, source, target string, at time.Time) (Path, error) {
	pairCache := map[string][]model.TradingPair{}
	// Currencies reached at an earlier depth cannot lie on a shorter path.
	reached := map[string]bool{source: true}
	frontier := []route{{currency: source, visited: []string{source}}}

	for depth := 1; depth <= r.maxHops && len(frontier) > 0; depth++ {
		var next, found []route
		levelReached := map[string]bool{}
		for _, rt := range frontier {
			links, err := r.links(ctx, pairCache, rt, at)
			if err != nil {
				return nil, err
			}
			for _, l := range links {
				ext := rt.extend(l.to, l.hop)
				if l.to == target {
					found = append(found, ext)
					continue
				}
				if reached[l.to] {
					continue
				}
				levelReached[l.to] = true
				next = append(next, ext)
			}
		}
		if len(found) > 0 {
			best := found[0]
			for _, rt := range found[1:] {
				if rt.hops.Granularity() < best.hops.Granularity() {
					best = rt
				}
			}
			return best.hops, nil
		}
		for c := range levelReached {
			reached[c] = true
		}
		frontier = next
	}
	return nil, fmt.Errorf("%w: %s to %s at %s", ErrPathNotFound, source, target, at.Format(time.RFC3339))
}

// links returns the finest covered pair to each neighbour not yet on the route,
// in order of first appearance.
func (r *Router) links(ctx context.Context, cache map[string][]model.TradingPair, rt route, at time.Time) ([]link, error) {
	pairs, ok := cache[rt.currency]
	if !ok {
		var err error
		pairs, err = r.prices.PairsTouching(ctx, rt.currency)
		if err != nil {
			return nil, fmt.Errorf("load pairs for %s: %w", rt.currency, err)
		}
		cache[rt.currency] = pairs
	}

	var links []link
	index := map[string]int{}
	for _, p := range pairs {
		if !p.Covers(at) {
			continue
		}
		other := p.Other(rt.currency)
		if other == rt.currency || slices.Contains(rt.visited, other) {
			continue
		}
		h := Hop{Pair: p, Forward: p.Source == rt.currency}
		if i, seen := index[other]; seen {
			if p.Granularity < links[i].hop.Pair.Granularity {
				links[i].hop = h
			}
			continue
		}
		index[other] = len(links)
		links = append(links, link{to: other, hop: h})
	}
	return links, nil
}
