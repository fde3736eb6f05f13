package database

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"cryptoscope/internal/model"
)

// MemoryRepository is an in-process Repository. It enforces the same
// uniqueness rules as the Postgres schema. InTx restores the previous state
// when fn fails, but does not isolate concurrent writers.
type MemoryRepository struct {
	mu         sync.Mutex
	state      memoryState
	nextID     int64
	currencies map[string]model.Currency
}

type sampleKey struct {
	pairID int64
	ts     int64
}

type recordKey struct {
	platform, tx, currency string
	outgoing, isFee        bool
	identifier             string
}

type memoryState struct {
	groups  map[int64]model.RecordGroup
	records map[int64]model.Record
	keys    map[recordKey]int64
	events  map[int64]model.Event // by record ID
	pairs   map[int64]model.TradingPair
	samples map[sampleKey]model.PriceSample
}

func (s memoryState) clone() memoryState {
	return memoryState{
		groups:  maps.Clone(s.groups),
		records: maps.Clone(s.records),
		keys:    maps.Clone(s.keys),
		events:  maps.Clone(s.events),
		pairs:   maps.Clone(s.pairs),
		samples: maps.Clone(s.samples),
	}
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: memoryState{
			groups:  map[int64]model.RecordGroup{},
			records: map[int64]model.Record{},
			keys:    map[recordKey]int64{},
			events:  map[int64]model.Event{},
			pairs:   map[int64]model.TradingPair{},
			samples: map[sampleKey]model.PriceSample{},
		},
		currencies: map[string]model.Currency{},
	}
}

func (r *MemoryRepository) Migrate(context.Context) error { return nil }

func (r *MemoryRepository) InTx(ctx context.Context, fn func(LedgerRepository) error) error {
	r.mu.Lock()
	snapshot := r.state.clone()
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.state = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *MemoryRepository) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *MemoryRepository) CreateGroup(_ context.Context, timestamp time.Time) (model.RecordGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := model.RecordGroup{ID: r.id(), Timestamp: timestamp}
	r.state.groups[g.ID] = g
	return g, nil
}

func (r *MemoryRepository) FindGroupByTransaction(_ context.Context, transaction string) (model.RecordGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found []int64
	for _, rec := range r.state.records {
		if rec.Transaction == transaction {
			found = append(found, rec.GroupID)
		}
	}
	if len(found) == 0 {
		return model.RecordGroup{}, ErrNotFound
	}
	return r.state.groups[slices.Min(found)], nil
}

func (r *MemoryRepository) GetGroup(_ context.Context, id int64) (model.RecordGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.state.groups[id]
	if !ok {
		return model.RecordGroup{}, ErrNotFound
	}
	return g, nil
}

func (r *MemoryRepository) RefreshGroupTimestamp(_ context.Context, groupID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.state.groups[groupID]
	if !ok {
		return fmt.Errorf("refresh group %d timestamp: %w", groupID, ErrNotFound)
	}
	var earliest *time.Time
	for _, rec := range r.state.records {
		if rec.GroupID == groupID && (earliest == nil || rec.Timestamp.Before(*earliest)) {
			ts := rec.Timestamp
			earliest = &ts
		}
	}
	if earliest != nil {
		g.Timestamp = *earliest
		r.state.groups[groupID] = g
	}
	return nil
}

func (r *MemoryRepository) CreateRecord(_ context.Context, record *model.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.state.groups[record.GroupID]; !ok {
		return fmt.Errorf("create record: group %d: %w", record.GroupID, ErrNotFound)
	}
	if record.Amount.IsNegative() {
		return fmt.Errorf("create record: negative amount %s", record.Amount)
	}
	key := recordKey{record.Platform, record.Transaction, record.Currency, record.Outgoing, record.IsFee, record.Identifier}
	if _, dup := r.state.keys[key]; dup {
		return fmt.Errorf("create record: duplicate %+v", key)
	}
	record.ID = r.id()
	r.state.records[record.ID] = *record
	r.state.keys[key] = record.ID
	return nil
}

func (f RecordFilter) matches(rec model.Record) bool {
	switch {
	case f.GroupID != 0 && rec.GroupID != f.GroupID,
		f.Transaction != "" && rec.Transaction != f.Transaction,
		f.Currency != "" && rec.Currency != f.Currency,
		f.Platform != "" && rec.Platform != f.Platform,
		f.ExcludePlatform != "" && rec.Platform == f.ExcludePlatform,
		f.ToAddress != "" && rec.ToAddress != f.ToAddress,
		f.Identifier != nil && rec.Identifier != *f.Identifier,
		f.Outgoing != nil && rec.Outgoing != *f.Outgoing,
		f.IsFee != nil && rec.IsFee != *f.IsFee,
		f.NeedsEvent != nil && rec.NeedsEvent != *f.NeedsEvent,
		f.Amount != nil && !rec.Amount.Equal(*f.Amount),
		f.MinAmount != nil && rec.Amount.LessThan(*f.MinAmount),
		f.MaxAmount != nil && rec.Amount.GreaterThan(*f.MaxAmount):
		return false
	}
	return true
}

func (r *MemoryRepository) FindRecords(_ context.Context, filter RecordFilter) ([]model.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Record
	for _, rec := range r.state.records {
		if filter.matches(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) PendingRecords(context.Context) ([]model.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Record
	for _, rec := range r.state.records {
		if _, has := r.state.events[rec.ID]; rec.NeedsEvent && !has {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepository) SetNeedsEvent(_ context.Context, recordID int64, needsEvent bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.state.records[recordID]
	if !ok {
		return fmt.Errorf("update record %d: %w", recordID, ErrNotFound)
	}
	rec.NeedsEvent = needsEvent
	r.state.records[recordID] = rec
	return nil
}

func (r *MemoryRepository) CreateEvent(_ context.Context, event *model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.state.records[event.RecordID]; !ok {
		return fmt.Errorf("create event: record %d: %w", event.RecordID, ErrNotFound)
	}
	if _, dup := r.state.events[event.RecordID]; dup {
		return fmt.Errorf("create event: record %d already has an event", event.RecordID)
	}
	event.ID = r.id()
	r.state.events[event.RecordID] = *event
	return nil
}

func (r *MemoryRepository) EventForRecord(_ context.Context, recordID int64) (model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.state.events[recordID]
	if !ok {
		return model.Event{}, ErrNotFound
	}
	return e, nil
}

// Groups returns all record groups ordered by ID.
func (r *MemoryRepository) Groups() []model.RecordGroup {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Collect(maps.Values(r.state.groups))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Events returns all events ordered by ID.
func (r *MemoryRepository) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Collect(maps.Values(r.state.events))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *MemoryRepository) UpsertCurrency(_ context.Context, currency model.Currency) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currencies[currency.Ticker] = currency
	return nil
}

func (r *MemoryRepository) GetCurrency(_ context.Context, ticker string) (model.Currency, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.currencies[ticker]
	if !ok {
		return model.Currency{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepository) EnsurePair(_ context.Context, pair model.TradingPair) (model.TradingPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.state.pairs {
		if p.Source == pair.Source && p.Target == pair.Target &&
			p.Granularity == pair.Granularity && p.DataSource == pair.DataSource {
			return p, nil
		}
	}
	pair.ID = r.id()
	pair.EarliestData, pair.LatestData = nil, nil
	r.state.pairs[pair.ID] = pair
	return pair, nil
}

func (r *MemoryRepository) PairsTouching(_ context.Context, ticker string) ([]model.TradingPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.TradingPair
	for _, p := range r.state.pairs {
		if p.Source == ticker || p.Target == ticker {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) RefreshPairTimespan(_ context.Context, pairID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.state.pairs[pairID]
	if !ok {
		return fmt.Errorf("refresh pair %d timespan: %w", pairID, ErrNotFound)
	}
	p.EarliestData, p.LatestData = nil, nil
	for k, s := range r.state.samples {
		if k.pairID != pairID {
			continue
		}
		ts := s.Timestamp
		if p.EarliestData == nil || ts.Before(*p.EarliestData) {
			p.EarliestData = &ts
		}
		if p.LatestData == nil || ts.After(*p.LatestData) {
			p.LatestData = &ts
		}
	}
	r.state.pairs[pairID] = p
	return nil
}

func (r *MemoryRepository) InsertSample(_ context.Context, sample model.PriceSample) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.state.pairs[sample.PairID]; !ok {
		return false, fmt.Errorf("insert sample: pair %d: %w", sample.PairID, ErrNotFound)
	}
	key := sampleKey{sample.PairID, sample.Timestamp.UnixNano()}
	if _, exists := r.state.samples[key]; exists {
		return false, nil
	}
	r.state.samples[key] = sample
	return true, nil
}

func (r *MemoryRepository) SampleAtOrBefore(_ context.Context, pairID int64, at time.Time) (model.PriceSample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		best  model.PriceSample
		found bool
	)
	for k, s := range r.state.samples {
		if k.pairID != pairID || s.Timestamp.After(at) {
			continue
		}
		if !found || s.Timestamp.After(best.Timestamp) {
			best, found = s, true
		}
	}
	if !found {
		return model.PriceSample{}, ErrNotFound
	}
	return best, nil
}
