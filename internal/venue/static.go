package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/ledger"
)

// StaticAdapter serves balances from an in-memory table. Dry runs load it
// from a JSON file; tests build it programmatically. It never errors and
// answers instantly, so it doubles as the reference implementation for
// the Adapter contract.
type StaticAdapter struct {
	name string

	mu       sync.RWMutex
	balances map[ledger.PositionKey]decimal.Decimal
}

// NewStaticAdapter creates an empty adapter for the named venue.
func NewStaticAdapter(name string) *StaticAdapter {
	return &StaticAdapter{
		name:     name,
		balances: make(map[ledger.PositionKey]decimal.Decimal),
	}
}

func (a *StaticAdapter) Name() string { return a.name }

// SetBalance sets or replaces one balance. Keys from other venues are
// rejected so a fixture file cannot cross-wire venues.
func (a *StaticAdapter) SetBalance(key ledger.PositionKey, amount decimal.Decimal) error {
	if key.Venue != a.name {
		return fmt.Errorf("key %s does not belong to venue %s", key.Path(), a.name)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances[key] = amount
	return nil
}

func (a *StaticAdapter) GetPositions(_ context.Context, _ time.Time) (map[ledger.PositionKey]decimal.Decimal, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[ledger.PositionKey]decimal.Decimal, len(a.balances))
	for key, amount := range a.balances {
		out[key] = amount
	}
	return out, nil
}

// GetBalance sums the venue's holdings of one asset across instruments.
func (a *StaticAdapter) GetBalance(_ context.Context, asset string, _ time.Time) (decimal.Decimal, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	total := decimal.Zero
	for key, amount := range a.balances {
		if key.Symbol == asset {
			total = total.Add(amount)
		}
	}
	return total, nil
}

// staticFileJSON is the on-disk shape: venue name to a table of
// "instrument:symbol" keys with decimal string amounts.
type staticFileJSON map[string]map[string]decimal.Decimal

// LoadStaticAdapters reads a balance fixture and returns one adapter per
// venue, sorted by name.
func LoadStaticAdapters(path string) ([]*StaticAdapter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read venue fixture: %w", err)
	}

	var raw staticFileJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse venue fixture %s: %w", path, err)
	}

	adapters := make([]*StaticAdapter, 0, len(raw))
	for venueName, table := range raw {
		adapter := NewStaticAdapter(venueName)
		for partial, amount := range table {
			key, err := ledger.ParsePositionKey(venueName + ":" + partial)
			if err != nil {
				return nil, fmt.Errorf("venue fixture %s: %w", path, err)
			}
			if err := adapter.SetBalance(key, amount); err != nil {
				return nil, fmt.Errorf("venue fixture %s: %w", path, err)
			}
		}
		adapters = append(adapters, adapter)
	}

	sort.Slice(adapters, func(i, j int) bool { return adapters[i].name < adapters[j].name })
	return adapters, nil
}
