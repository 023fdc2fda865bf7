package pricing

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// FixtureService is a Service backed by static tables. Simulation runs load
// it from a JSON file; tests build it programmatically. Funding rates are
// keyed per (venue, symbol) with no cross-venue fallback.
type FixtureService struct {
	mu      sync.RWMutex
	market  map[string]decimal.Decimal // symbol -> USD price
	oracle  map[string]decimal.Decimal // token -> USD price
	funding map[string]decimal.Decimal // "venue:symbol" -> rate per interval
}

// fixtureJSON is the on-disk shape. Rates and prices are decimal strings.
type fixtureJSON struct {
	MarketPrices map[string]decimal.Decimal `json:"market_prices"`
	OraclePrices map[string]decimal.Decimal `json:"oracle_prices"`
	FundingRates map[string]decimal.Decimal `json:"funding_rates"`
}

func NewFixtureService() *FixtureService {
	fs := &FixtureService{
		market:  make(map[string]decimal.Decimal),
		oracle:  make(map[string]decimal.Decimal),
		funding: make(map[string]decimal.Decimal),
	}
	// USD is always its own unit so ConvertPrice can cross through it.
	fs.market["USD"] = decimal.NewFromInt(1)
	return fs
}

// LoadFixtureFile reads a price fixture from path.
func LoadFixtureFile(path string) (*FixtureService, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read price fixture: %w", err)
	}

	var raw fixtureJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse price fixture %s: %w", path, err)
	}

	fs := NewFixtureService()
	for sym, p := range raw.MarketPrices {
		fs.market[sym] = p
	}
	for tok, p := range raw.OraclePrices {
		fs.oracle[tok] = p
	}
	for key, r := range raw.FundingRates {
		fs.funding[key] = r
	}
	return fs, nil
}

// SetMarketPrice sets or replaces the USD price for a symbol.
func (fs *FixtureService) SetMarketPrice(symbol string, price decimal.Decimal) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.market[symbol] = price
}

// SetOraclePrice sets or replaces the oracle USD price for a token.
func (fs *FixtureService) SetOraclePrice(token string, price decimal.Decimal) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.oracle[token] = price
}

// SetFundingRate sets the per-interval funding rate for (venue, symbol).
func (fs *FixtureService) SetFundingRate(venue, symbol string, rate decimal.Decimal) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.funding[fundingKey(venue, symbol)] = rate
}

func fundingKey(venue, symbol string) string {
	return venue + ":" + symbol
}

func (fs *FixtureService) GetMarketPrice(symbol string, _ time.Time) (decimal.Decimal, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	p, ok := fs.market[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no market price for %s", symbol)
	}
	return p, nil
}

func (fs *FixtureService) GetOraclePrice(token string, _ time.Time) (decimal.Decimal, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	p, ok := fs.oracle[token]
	if !ok {
		return decimal.Zero, fmt.Errorf("no oracle price for %s", token)
	}
	return p, nil
}

func (fs *FixtureService) GetFundingRate(venue, symbol string, _ time.Time) (decimal.Decimal, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	r, ok := fs.funding[fundingKey(venue, symbol)]
	if !ok {
		return decimal.Zero, fmt.Errorf("no funding rate for %s on %s", symbol, venue)
	}
	return r, nil
}

func (fs *FixtureService) ConvertPrice(from, to string, amount decimal.Decimal) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	fromUSD, ok := fs.market[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("no conversion price for %s", from)
	}
	toUSD, ok := fs.market[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("no conversion price for %s", to)
	}
	if toUSD.IsZero() {
		return decimal.Zero, fmt.Errorf("zero conversion price for %s", to)
	}

	return amount.Mul(fromUSD).Div(toUSD), nil
}
