// Package config holds the immutable session configuration: the declared
// position universe, the share class, settlement gates, and the
// reconciliation knobs. A Session is resolved once at startup from a JSON
// file layered over defaults, validated field by field, and then injected
// by value; nothing mutates it afterwards.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/fault"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/ledger"
)

// Mode selects how the real balance map advances.
type Mode int32

const (
	// ModeSimulated settles balances internally and copies simulated to
	// real after every cycle.
	ModeSimulated Mode = iota
	// ModeLive polls venue adapters for real balances and compares them
	// against the simulated ledger.
	ModeLive
)

func (m Mode) String() string {
	switch m {
	case ModeSimulated:
		return "simulated"
	case ModeLive:
		return "live"
	default:
		return "unknown"
	}
}

// ParseMode maps the config spelling to the enum.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "simulated", "simulation":
		return ModeSimulated, nil
	case "live":
		return ModeLive, nil
	default:
		return ModeSimulated, fmt.Errorf("unknown mode %q", s)
	}
}

// Session is the full session configuration.
type Session struct {
	Mode Mode

	// ShareClass is the reporting currency; ShareClassKey is the wallet
	// credited with InitialCapital at session start.
	ShareClass     string
	ShareClassKey  ledger.PositionKey
	InitialCapital decimal.Decimal

	// Subscriptions is the declared position universe. Fixed for the
	// session; a delta outside it is fatal.
	Subscriptions []ledger.PositionKey

	// BaseCurrency is the asset funding payments settle in.
	BaseCurrency         string
	FundingEnabled       bool
	FundingIntervalHours int

	RewardsEnabled bool
	RewardInterval ledger.RewardInterval
	RewardRates    map[string]decimal.Decimal

	MarginPnLEnabled bool

	// AnnualizedToleranceRate scales the advisory PnL reconciliation
	// tolerance; CompareTolerance is the per-key absolute tolerance when
	// comparing simulated against polled real balances.
	AnnualizedToleranceRate decimal.Decimal
	CompareTolerance        decimal.Decimal
	MaxRetries              int

	// PerpUnderlying maps a perp symbol to its separately priced spot
	// symbol for basis attribution.
	PerpUnderlying   map[string]string
	DustThresholdUSD decimal.Decimal
	HistoryLimit     int
}

// sessionJSON is the on-disk shape. Pointer fields distinguish "absent,
// keep the default" from an explicit zero or false.
type sessionJSON struct {
	Mode                    string                     `json:"mode"`
	ShareClass              string                     `json:"share_class"`
	ShareClassKey           string                     `json:"share_class_key"`
	InitialCapital          *decimal.Decimal           `json:"initial_capital"`
	Subscriptions           []string                   `json:"subscriptions"`
	BaseCurrency            string                     `json:"base_currency"`
	FundingEnabled          *bool                      `json:"funding_enabled"`
	FundingIntervalHours    *int                       `json:"funding_interval_hours"`
	RewardsEnabled          *bool                      `json:"rewards_enabled"`
	RewardInterval          string                     `json:"reward_interval"`
	RewardRates             map[string]decimal.Decimal `json:"reward_rates"`
	MarginPnLEnabled        *bool                      `json:"margin_pnl_enabled"`
	AnnualizedToleranceRate *decimal.Decimal           `json:"annualized_tolerance_rate"`
	CompareTolerance        *decimal.Decimal           `json:"compare_tolerance"`
	MaxRetries              *int                       `json:"max_retries"`
	PerpUnderlying          map[string]string          `json:"perp_underlying"`
	DustThresholdUSD        *decimal.Decimal           `json:"dust_threshold_usd"`
	HistoryLimit            *int                       `json:"history_limit"`
}

// DefaultSession returns the baseline configuration.
func DefaultSession() Session {
	return Session{
		Mode:                    ModeSimulated,
		ShareClass:              "USDT",
		FundingEnabled:          true,
		FundingIntervalHours:    8,
		RewardInterval:          ledger.RewardDaily,
		AnnualizedToleranceRate: decimal.RequireFromString("0.02"),
		CompareTolerance:        decimal.RequireFromString("0.00000001"),
		MaxRetries:              3,
		DustThresholdUSD:        decimal.NewFromInt(1),
		HistoryLimit:            1000,
	}
}

// Load reads a session file over DefaultSession and validates the result.
func Load(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Session{}, fmt.Errorf("read session config: %w", err)
	}

	var raw sessionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Session{}, fmt.Errorf("parse session config %s: %w", path, err)
	}

	s := DefaultSession()

	if raw.Mode != "" {
		mode, err := ParseMode(raw.Mode)
		if err != nil {
			return Session{}, &fault.ConfigurationError{Field: "mode", Reason: err.Error()}
		}
		s.Mode = mode
	}
	if raw.ShareClass != "" {
		s.ShareClass = raw.ShareClass
	}
	if raw.ShareClassKey != "" {
		key, err := ledger.ParsePositionKey(raw.ShareClassKey)
		if err != nil {
			return Session{}, &fault.ConfigurationError{Field: "share_class_key", Reason: err.Error()}
		}
		s.ShareClassKey = key
	}
	for _, sub := range raw.Subscriptions {
		key, err := ledger.ParsePositionKey(sub)
		if err != nil {
			return Session{}, &fault.ConfigurationError{Field: "subscriptions", Reason: err.Error()}
		}
		s.Subscriptions = append(s.Subscriptions, key)
	}
	if raw.BaseCurrency != "" {
		s.BaseCurrency = raw.BaseCurrency
	}
	if raw.RewardInterval != "" {
		ri, err := ledger.ParseRewardInterval(raw.RewardInterval)
		if err != nil {
			return Session{}, &fault.ConfigurationError{Field: "reward_interval", Reason: err.Error()}
		}
		s.RewardInterval = ri
	}

	if raw.InitialCapital != nil {
		s.InitialCapital = *raw.InitialCapital
	}
	if raw.FundingEnabled != nil {
		s.FundingEnabled = *raw.FundingEnabled
	}
	if raw.FundingIntervalHours != nil {
		s.FundingIntervalHours = *raw.FundingIntervalHours
	}
	if raw.RewardsEnabled != nil {
		s.RewardsEnabled = *raw.RewardsEnabled
	}
	if raw.MarginPnLEnabled != nil {
		s.MarginPnLEnabled = *raw.MarginPnLEnabled
	}
	if raw.AnnualizedToleranceRate != nil {
		s.AnnualizedToleranceRate = *raw.AnnualizedToleranceRate
	}
	if raw.CompareTolerance != nil {
		s.CompareTolerance = *raw.CompareTolerance
	}
	if raw.MaxRetries != nil {
		s.MaxRetries = *raw.MaxRetries
	}
	if raw.DustThresholdUSD != nil {
		s.DustThresholdUSD = *raw.DustThresholdUSD
	}
	if raw.HistoryLimit != nil {
		s.HistoryLimit = *raw.HistoryLimit
	}
	s.RewardRates = raw.RewardRates
	s.PerpUnderlying = raw.PerpUnderlying

	if err := s.Validate(); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Validate checks the session is usable. Every failure is a fatal
// ConfigurationError naming the offending field.
func (s Session) Validate() error {
	if s.Mode != ModeSimulated && s.Mode != ModeLive {
		return &fault.ConfigurationError{Field: "mode", Reason: "must be simulated or live"}
	}
	if s.ShareClass == "" {
		return &fault.ConfigurationError{Field: "share_class", Reason: "must name the reporting currency"}
	}
	if len(s.Subscriptions) == 0 {
		return &fault.ConfigurationError{Field: "subscriptions", Reason: "at least one position key must be declared"}
	}

	declared := make(map[ledger.PositionKey]struct{}, len(s.Subscriptions))
	for _, key := range s.Subscriptions {
		if _, dup := declared[key]; dup {
			return &fault.ConfigurationError{Field: "subscriptions", Reason: "duplicate key " + key.Path()}
		}
		declared[key] = struct{}{}
	}

	if s.InitialCapital.IsNegative() {
		return &fault.ConfigurationError{Field: "initial_capital", Reason: "cannot be negative"}
	}
	if s.InitialCapital.IsPositive() {
		if _, ok := declared[s.ShareClassKey]; !ok {
			return &fault.ConfigurationError{Field: "share_class_key", Reason: "must be a declared subscription"}
		}
		if s.ShareClassKey.Symbol != s.ShareClass {
			return &fault.ConfigurationError{Field: "share_class_key", Reason: "symbol must match share_class " + s.ShareClass}
		}
	}

	if s.FundingEnabled {
		if s.FundingIntervalHours <= 0 || 24%s.FundingIntervalHours != 0 {
			return &fault.ConfigurationError{Field: "funding_interval_hours", Reason: "must evenly divide 24"}
		}
		if s.BaseCurrency == "" {
			return &fault.ConfigurationError{Field: "base_currency", Reason: "required when funding is enabled"}
		}
		// Funding settles into each venue's base-currency wallet, which
		// must therefore be part of the universe.
		for _, key := range s.Subscriptions {
			if key.Instrument != ledger.InstrumentPerp {
				continue
			}
			wallet := ledger.PositionKey{Venue: key.Venue, Instrument: ledger.InstrumentSpot, Symbol: s.BaseCurrency}
			if _, ok := declared[wallet]; !ok {
				return &fault.ConfigurationError{
					Field:  "subscriptions",
					Reason: fmt.Sprintf("venue %s holds perpetuals but declares no %s wallet for funding settlement", key.Venue, wallet.Path()),
				}
			}
		}
	}

	if s.RewardsEnabled {
		for symbol, rate := range s.RewardRates {
			if rate.IsNegative() {
				return &fault.ConfigurationError{Field: "reward_rates", Reason: "rate for " + symbol + " cannot be negative"}
			}
		}
	}

	if s.AnnualizedToleranceRate.IsNegative() {
		return &fault.ConfigurationError{Field: "annualized_tolerance_rate", Reason: "cannot be negative"}
	}
	if s.CompareTolerance.IsNegative() {
		return &fault.ConfigurationError{Field: "compare_tolerance", Reason: "cannot be negative"}
	}
	if s.MaxRetries < 0 {
		return &fault.ConfigurationError{Field: "max_retries", Reason: "cannot be negative"}
	}
	if s.HistoryLimit < 0 {
		return &fault.ConfigurationError{Field: "history_limit", Reason: "cannot be negative"}
	}
	for perp, spot := range s.PerpUnderlying {
		if spot == "" {
			return &fault.ConfigurationError{Field: "perp_underlying", Reason: "empty underlying for " + perp}
		}
	}
	return nil
}

// IsLive reports whether real balances come from venue polling.
func (s Session) IsLive() bool {
	return s.Mode == ModeLive
}

// LedgerConfig assembles the ledger's universe and settlement gates. The
// margin P&L hook, if any, is attached by the caller.
func (s Session) LedgerConfig() ledger.Config {
	return ledger.Config{
		Declared: append([]ledger.PositionKey(nil), s.Subscriptions...),
		Settlement: ledger.SettlementConfig{
			InitialCapital:       s.InitialCapital,
			ShareClassKey:        s.ShareClassKey,
			BaseCurrency:         s.BaseCurrency,
			FundingEnabled:       s.FundingEnabled,
			FundingIntervalHours: s.FundingIntervalHours,
			RewardsEnabled:       s.RewardsEnabled,
			RewardInterval:       s.RewardInterval,
			RewardRates:          s.RewardRates,
			MarginPnLEnabled:     s.MarginPnLEnabled,
		},
	}
}
