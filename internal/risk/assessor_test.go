package risk_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/exposure"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/fault"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/ledger"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/risk"
)

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return v
}

// assertApprox compares decimals that went through division.
func assertApprox(t *testing.T, got, want decimal.Decimal, label string) {
	t.Helper()
	if got.Sub(want).Abs().GreaterThan(decimal.RequireFromString("0.000001")) {
		t.Errorf("%s = %s, want ~%s", label, got, want)
	}
}

func pos(venue string, instrument ledger.InstrumentType, symbol, valueUSD string, t *testing.T) exposure.PositionExposure {
	t.Helper()
	return exposure.PositionExposure{
		Key:      ledger.PositionKey{Venue: venue, Instrument: instrument, Symbol: symbol},
		ValueUSD: d(t, valueUSD),
	}
}

func expSnapshot(t *testing.T, positions ...exposure.PositionExposure) *exposure.Snapshot {
	t.Helper()
	return &exposure.Snapshot{
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Positions: positions,
	}
}

func testParams(t *testing.T) risk.Params {
	t.Helper()
	p := risk.DefaultParams()
	p.Venues["binance"] = risk.VenueMargin{
		InitialMarginRatio:     d(t, "0.1"),
		MaintenanceMarginRatio: d(t, "0.05"),
	}
	return p
}

// =============================================================================
// Portfolio LTV
// =============================================================================

func TestAssess_LTVFromCollateralAndDebt(t *testing.T) {
	a := risk.NewAssessor(testParams(t), zerolog.Nop(), nil)

	snap := a.Assess(expSnapshot(t,
		pos("binance", ledger.InstrumentSpot, "USDT", "10000", t),
		pos("lido", ledger.InstrumentStaked, "STETH", "6000", t),
		pos("aave", ledger.InstrumentLending, "USDC", "-4000", t),
	))

	if !snap.TotalCollateralUSD.Equal(d(t, "16000")) {
		t.Errorf("collateral = %s, want 16000", snap.TotalCollateralUSD)
	}
	if !snap.TotalDebtUSD.Equal(d(t, "4000")) {
		t.Errorf("debt = %s, want 4000", snap.TotalDebtUSD)
	}
	if !snap.LTV.Equal(d(t, "0.25")) {
		t.Errorf("LTV = %s, want 0.25", snap.LTV)
	}
	// 0.85 / 0.25
	if !snap.HealthRatio.Equal(d(t, "3.4")) {
		t.Errorf("health = %s, want 3.4", snap.HealthRatio)
	}
}

func TestAssess_NoDebtYieldsSentinelHealth(t *testing.T) {
	a := risk.NewAssessor(testParams(t), zerolog.Nop(), nil)

	snap := a.Assess(expSnapshot(t,
		pos("binance", ledger.InstrumentSpot, "USDT", "10000", t),
	))

	if !snap.LTV.IsZero() {
		t.Errorf("LTV = %s, want 0", snap.LTV)
	}
	if !snap.HealthRatio.Equal(risk.HealthRatioSentinel) {
		t.Errorf("health = %s, want sentinel", snap.HealthRatio)
	}
}

func TestAssess_SnapshotEchoesParams(t *testing.T) {
	p := testParams(t)
	a := risk.NewAssessor(p, zerolog.Nop(), nil)

	snap := a.Assess(expSnapshot(t,
		pos("binance", ledger.InstrumentSpot, "USDT", "10000", t),
		pos("aave", ledger.InstrumentLending, "USDC", "-2000", t),
	))

	if !snap.TargetLTV.Equal(p.MaxLTV) {
		t.Errorf("target LTV = %s, want %s", snap.TargetLTV, p.MaxLTV)
	}
	if !snap.LiquidationThreshold.Equal(p.LiquidationThreshold) {
		t.Errorf("liquidation threshold = %s, want %s",
			snap.LiquidationThreshold, p.LiquidationThreshold)
	}
}

func TestAssess_DebtWithoutCollateral(t *testing.T) {
	a := risk.NewAssessor(testParams(t), zerolog.Nop(), nil)

	snap := a.Assess(expSnapshot(t,
		pos("aave", ledger.InstrumentLending, "USDC", "-500", t),
	))

	// No collateral pins LTV to zero rather than dividing by it.
	if !snap.LTV.IsZero() {
		t.Errorf("LTV = %s, want 0", snap.LTV)
	}
	if !snap.TotalDebtUSD.Equal(d(t, "500")) {
		t.Errorf("debt = %s, want 500", snap.TotalDebtUSD)
	}
}

// =============================================================================
// Per-Venue Margin
// =============================================================================

func TestAssess_VenueNotionalGrouping(t *testing.T) {
	a := risk.NewAssessor(testParams(t), zerolog.Nop(), nil)

	snap := a.Assess(expSnapshot(t,
		pos("binance", ledger.InstrumentSpot, "USDT", "5000", t),
		pos("binance", ledger.InstrumentPerp, "BTC", "5000", t),
		pos("binance", ledger.InstrumentPerp, "ETH", "-2500", t),
	))

	vr, ok := snap.Venue("binance")
	if !ok {
		t.Fatal("binance missing from venue breakdown")
	}
	if !vr.LongNotionalUSD.Equal(d(t, "5000")) {
		t.Errorf("long notional = %s, want 5000", vr.LongNotionalUSD)
	}
	if !vr.ShortNotionalUSD.Equal(d(t, "2500")) {
		t.Errorf("short notional = %s, want 2500", vr.ShortNotionalUSD)
	}
	if !vr.GrossNotionalUSD.Equal(d(t, "7500")) {
		t.Errorf("gross notional = %s, want 7500", vr.GrossNotionalUSD)
	}
	if !vr.NetNotionalUSD.Equal(d(t, "2500")) {
		t.Errorf("net notional = %s, want 2500", vr.NetNotionalUSD)
	}

	assertApprox(t, vr.MarginRatio, d(t, "0.6666666666666667"), "margin ratio")
	// margin ratio / maintenance 0.05
	assertApprox(t, vr.HealthRatio, d(t, "13.333333333333334"), "venue health")
}

func TestAssess_VenueWithoutPerpsUsesSentinel(t *testing.T) {
	a := risk.NewAssessor(testParams(t), zerolog.Nop(), nil)

	snap := a.Assess(expSnapshot(t,
		pos("lido", ledger.InstrumentStaked, "STETH", "6000", t),
	))

	vr, ok := snap.Venue("lido")
	if !ok {
		t.Fatal("lido missing from venue breakdown")
	}
	if !vr.MarginRatio.Equal(risk.HealthRatioSentinel) {
		t.Errorf("margin ratio = %s, want sentinel", vr.MarginRatio)
	}
	if !vr.HealthRatio.Equal(risk.HealthRatioSentinel) {
		t.Errorf("health = %s, want sentinel", vr.HealthRatio)
	}
}

func TestAssess_VenueWithoutMarginParams(t *testing.T) {
	// Perp exposure at a venue with no configured margin table: the ratio
	// is still computed, the health ratio falls back to the sentinel.
	a := risk.NewAssessor(risk.DefaultParams(), zerolog.Nop(), nil)

	snap := a.Assess(expSnapshot(t,
		pos("dydx", ledger.InstrumentSpot, "USDC", "1000", t),
		pos("dydx", ledger.InstrumentPerp, "ETH", "2000", t),
	))

	vr, ok := snap.Venue("dydx")
	if !ok {
		t.Fatal("dydx missing from venue breakdown")
	}
	if !vr.MarginRatio.Equal(d(t, "0.5")) {
		t.Errorf("margin ratio = %s, want 0.5", vr.MarginRatio)
	}
	if !vr.HealthRatio.Equal(risk.HealthRatioSentinel) {
		t.Errorf("health = %s, want sentinel", vr.HealthRatio)
	}
}

func TestAssess_VenuesSorted(t *testing.T) {
	a := risk.NewAssessor(testParams(t), zerolog.Nop(), nil)

	snap := a.Assess(expSnapshot(t,
		pos("lido", ledger.InstrumentStaked, "STETH", "100", t),
		pos("aave", ledger.InstrumentLending, "USDC", "-50", t),
		pos("binance", ledger.InstrumentSpot, "USDT", "200", t),
	))

	want := []string{"aave", "binance", "lido"}
	if len(snap.Venues) != len(want) {
		t.Fatalf("got %d venues, want %d", len(snap.Venues), len(want))
	}
	for i, vr := range snap.Venues {
		if vr.Venue != want[i] {
			t.Errorf("venue[%d] = %s, want %s", i, vr.Venue, want[i])
		}
	}
}

// =============================================================================
// Parameter Validation
// =============================================================================

func TestParamsValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*risk.Params)
		wantErr bool
	}{
		{"defaults pass", func(p *risk.Params) {}, false},
		{"liquidation threshold above one", func(p *risk.Params) {
			p.LiquidationThreshold = decimal.RequireFromString("1.5")
		}, true},
		{"zero liquidation threshold", func(p *risk.Params) {
			p.LiquidationThreshold = decimal.Zero
		}, true},
		{"max ltv above liquidation threshold", func(p *risk.Params) {
			p.MaxLTV = decimal.RequireFromString("0.9")
		}, true},
		{"zero venue maintenance margin", func(p *risk.Params) {
			p.Venues["binance"] = risk.VenueMargin{
				InitialMarginRatio:     decimal.RequireFromString("0.1"),
				MaintenanceMarginRatio: decimal.Zero,
			}
		}, true},
		{"initial margin at maintenance", func(p *risk.Params) {
			p.Venues["binance"] = risk.VenueMargin{
				InitialMarginRatio:     decimal.RequireFromString("0.05"),
				MaintenanceMarginRatio: decimal.RequireFromString("0.05"),
			}
		}, true},
		{"pair max ltv above pair threshold", func(p *risk.Params) {
			p.CollateralPairs["STETH/USDT"] = risk.PairThresholds{
				MaxLTV:               decimal.RequireFromString("0.9"),
				LiquidationThreshold: decimal.RequireFromString("0.8"),
			}
		}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := risk.DefaultParams()
			tc.mutate(&p)
			err := p.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err != nil && !fault.IsFatal(err) {
				t.Error("validation error must classify fatal")
			}
		})
	}
}

func TestLoadParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.json")
	fixture := `{
		"max_ltv": "0.6",
		"liquidation_threshold": "0.8",
		"venues": {
			"binance": {"initial_margin_ratio": "0.1", "maintenance_margin_ratio": "0.05"}
		}
	}`
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	params, err := risk.LoadParams(path)
	if err != nil {
		t.Fatalf("LoadParams: %v", err)
	}
	if !params.MaxLTV.Equal(d(t, "0.6")) {
		t.Errorf("MaxLTV = %s, want 0.6", params.MaxLTV)
	}
	vm, ok := params.Venues["binance"]
	if !ok {
		t.Fatal("binance margin table missing")
	}
	if !vm.MaintenanceMarginRatio.Equal(d(t, "0.05")) {
		t.Errorf("maintenance margin = %s, want 0.05", vm.MaintenanceMarginRatio)
	}
}

func TestLoadParams_InvalidRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.json")
	// max_ltv above the liquidation threshold.
	if err := os.WriteFile(path, []byte(`{"max_ltv": "0.9", "liquidation_threshold": "0.8"}`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	_, err := risk.LoadParams(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !fault.IsFatal(err) {
		t.Error("load failure must classify fatal")
	}
}
