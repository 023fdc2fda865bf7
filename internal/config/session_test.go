package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/config"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/fault"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/ledger"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

// validSession is a minimal correct session for mutation in table tests.
func validSession() config.Session {
	s := config.DefaultSession()
	s.Subscriptions = []ledger.PositionKey{
		{Venue: "binance", Instrument: ledger.InstrumentSpot, Symbol: "USDT"},
		{Venue: "binance", Instrument: ledger.InstrumentPerp, Symbol: "BTC"},
	}
	s.ShareClassKey = ledger.PositionKey{Venue: "binance", Instrument: ledger.InstrumentSpot, Symbol: "USDT"}
	s.InitialCapital = decimal.NewFromInt(10000)
	s.BaseCurrency = "USDT"
	return s
}

// =============================================================================
// Loading
// =============================================================================

func TestLoad_FullFile(t *testing.T) {
	path := writeFile(t, `{
		"mode": "live",
		"share_class": "USDT",
		"share_class_key": "binance:spot:USDT",
		"initial_capital": "10000",
		"subscriptions": [
			"binance:spot:USDT",
			"binance:perp:BTC",
			"lido:staked:STETH",
			"aave:lending:USDC"
		],
		"base_currency": "USDT",
		"funding_interval_hours": 4,
		"rewards_enabled": true,
		"reward_interval": "weekly",
		"reward_rates": {"STETH": "0.038"},
		"annualized_tolerance_rate": "0.05",
		"max_retries": 5,
		"perp_underlying": {"BTC": "BTC"},
		"history_limit": 50
	}`)

	s, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if s.Mode != config.ModeLive {
		t.Errorf("mode = %s, want live", s.Mode)
	}
	if len(s.Subscriptions) != 4 {
		t.Fatalf("subscriptions = %d, want 4", len(s.Subscriptions))
	}
	want := ledger.PositionKey{Venue: "lido", Instrument: ledger.InstrumentStaked, Symbol: "STETH"}
	if s.Subscriptions[2] != want {
		t.Errorf("subscription[2] = %v, want %v", s.Subscriptions[2], want)
	}
	if s.FundingIntervalHours != 4 {
		t.Errorf("funding interval = %d, want 4", s.FundingIntervalHours)
	}
	if s.RewardInterval != ledger.RewardWeekly {
		t.Errorf("reward interval = %s, want weekly", s.RewardInterval)
	}
	if !s.RewardRates["STETH"].Equal(decimal.RequireFromString("0.038")) {
		t.Errorf("STETH rate = %s", s.RewardRates["STETH"])
	}
	if s.MaxRetries != 5 {
		t.Errorf("max retries = %d, want 5", s.MaxRetries)
	}
	if s.HistoryLimit != 50 {
		t.Errorf("history limit = %d, want 50", s.HistoryLimit)
	}
}

func TestLoad_DefaultsFillAbsentFields(t *testing.T) {
	path := writeFile(t, `{
		"subscriptions": ["binance:spot:USDT"]
	}`)

	s, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if s.Mode != config.ModeSimulated {
		t.Errorf("mode = %s, want simulated default", s.Mode)
	}
	if !s.FundingEnabled || s.FundingIntervalHours != 8 {
		t.Errorf("funding = %v/%d, want enabled every 8h", s.FundingEnabled, s.FundingIntervalHours)
	}
	if s.MaxRetries != 3 {
		t.Errorf("max retries = %d, want 3", s.MaxRetries)
	}
	if !s.AnnualizedToleranceRate.Equal(decimal.RequireFromString("0.02")) {
		t.Errorf("tolerance rate = %s, want 0.02", s.AnnualizedToleranceRate)
	}
	if s.HistoryLimit != 1000 {
		t.Errorf("history limit = %d, want 1000", s.HistoryLimit)
	}
}

func TestLoad_ExplicitFalseKeptOverDefault(t *testing.T) {
	path := writeFile(t, `{
		"subscriptions": ["binance:spot:USDT"],
		"funding_enabled": false
	}`)

	s, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.FundingEnabled {
		t.Error("explicit funding_enabled=false was overridden by the default")
	}
}

func TestLoad_BadPositionKeyRejected(t *testing.T) {
	path := writeFile(t, `{
		"subscriptions": ["binance:margin:BTC"]
	}`)

	_, err := config.Load(path)
	if err == nil {
		t.Fatal("unknown instrument type accepted")
	}
	if !fault.IsFatal(err) {
		t.Errorf("config parse failure must be fatal, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("missing file accepted")
	}
}

// =============================================================================
// Validation
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Session)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(s *config.Session) {},
		},
		{
			name:    "no subscriptions",
			mutate:  func(s *config.Session) { s.Subscriptions = nil },
			wantErr: "subscriptions",
		},
		{
			name: "duplicate subscription",
			mutate: func(s *config.Session) {
				s.Subscriptions = append(s.Subscriptions, s.Subscriptions[0])
			},
			wantErr: "duplicate",
		},
		{
			name:    "negative capital",
			mutate:  func(s *config.Session) { s.InitialCapital = decimal.NewFromInt(-1) },
			wantErr: "initial_capital",
		},
		{
			name: "share class key undeclared",
			mutate: func(s *config.Session) {
				s.ShareClassKey = ledger.PositionKey{Venue: "kraken", Instrument: ledger.InstrumentSpot, Symbol: "USDT"}
			},
			wantErr: "share_class_key",
		},
		{
			name: "share class key wrong symbol",
			mutate: func(s *config.Session) {
				s.Subscriptions = append(s.Subscriptions, ledger.PositionKey{Venue: "binance", Instrument: ledger.InstrumentSpot, Symbol: "USDC"})
				s.ShareClassKey = ledger.PositionKey{Venue: "binance", Instrument: ledger.InstrumentSpot, Symbol: "USDC"}
			},
			wantErr: "symbol must match",
		},
		{
			name:    "funding interval does not divide day",
			mutate:  func(s *config.Session) { s.FundingIntervalHours = 7 },
			wantErr: "funding_interval_hours",
		},
		{
			name:    "funding without base currency",
			mutate:  func(s *config.Session) { s.BaseCurrency = "" },
			wantErr: "base_currency",
		},
		{
			name: "perp venue without funding wallet",
			mutate: func(s *config.Session) {
				s.Subscriptions = append(s.Subscriptions, ledger.PositionKey{Venue: "bybit", Instrument: ledger.InstrumentPerp, Symbol: "ETH"})
			},
			wantErr: "bybit",
		},
		{
			name: "negative reward rate",
			mutate: func(s *config.Session) {
				s.RewardsEnabled = true
				s.RewardRates = map[string]decimal.Decimal{"STETH": decimal.NewFromInt(-1)}
			},
			wantErr: "reward_rates",
		},
		{
			name:    "negative tolerance rate",
			mutate:  func(s *config.Session) { s.AnnualizedToleranceRate = decimal.NewFromInt(-1) },
			wantErr: "annualized_tolerance_rate",
		},
		{
			name:    "negative retries",
			mutate:  func(s *config.Session) { s.MaxRetries = -1 },
			wantErr: "max_retries",
		},
		{
			name: "empty perp underlying",
			mutate: func(s *config.Session) {
				s.PerpUnderlying = map[string]string{"BTC-PERP": ""}
			},
			wantErr: "perp_underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSession()
			tt.mutate(&s)
			err := s.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("want error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
			if !fault.IsFatal(err) {
				t.Errorf("configuration error must be fatal, got %v", err)
			}
		})
	}
}

// Funding disabled relaxes the wallet requirement: perp venues need no
// base-currency subscription.
func TestValidate_FundingDisabledSkipsWalletCheck(t *testing.T) {
	s := validSession()
	s.FundingEnabled = false
	s.BaseCurrency = ""
	s.Subscriptions = append(s.Subscriptions, ledger.PositionKey{Venue: "bybit", Instrument: ledger.InstrumentPerp, Symbol: "ETH"})

	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

// =============================================================================
// Ledger Wiring
// =============================================================================

func TestLedgerConfig(t *testing.T) {
	s := validSession()
	s.RewardsEnabled = true
	s.RewardRates = map[string]decimal.Decimal{"STETH": decimal.RequireFromString("0.04")}

	lc := s.LedgerConfig()

	if len(lc.Declared) != len(s.Subscriptions) {
		t.Fatalf("declared = %d keys, want %d", len(lc.Declared), len(s.Subscriptions))
	}
	if !lc.Settlement.InitialCapital.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("initial capital = %s", lc.Settlement.InitialCapital)
	}
	if lc.Settlement.ShareClassKey != s.ShareClassKey {
		t.Errorf("share class key = %v", lc.Settlement.ShareClassKey)
	}
	if !lc.Settlement.FundingEnabled || lc.Settlement.FundingIntervalHours != 8 {
		t.Error("funding gates not carried")
	}
	if !lc.Settlement.RewardRates["STETH"].Equal(decimal.RequireFromString("0.04")) {
		t.Error("reward rates not carried")
	}

	// The declared slice is a copy, not an alias.
	lc.Declared[0] = ledger.PositionKey{Venue: "mutated"}
	if s.Subscriptions[0].Venue == "mutated" {
		t.Error("LedgerConfig aliases the subscription slice")
	}
}

func TestParseMode(t *testing.T) {
	if m, err := config.ParseMode("LIVE"); err != nil || m != config.ModeLive {
		t.Errorf("ParseMode(LIVE) = %v, %v", m, err)
	}
	if m, err := config.ParseMode("simulation"); err != nil || m != config.ModeSimulated {
		t.Errorf("ParseMode(simulation) = %v, %v", m, err)
	}
	if _, err := config.ParseMode("paper"); err == nil {
		t.Error("unknown mode accepted")
	}
}
