package portfolio_test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fanunits/market-engine/internal/model"
	"github.com/fanunits/market-engine/internal/portfolio"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func trade(n int, sym string, dir model.Direction, qty int64, price float64) model.Trade {
	return model.Trade{
		ID:        string(rune('a' + n)),
		UserID:    "user1",
		Symbol:    sym,
		Direction: dir,
		Quantity:  qty,
		UnitPrice: d(price),
		Timestamp: t0.Add(time.Duration(n) * time.Minute),
	}
}

func catalogOf(instruments ...model.Instrument) portfolio.Lookup {
	return func(sym string) (model.Instrument, bool) {
		for _, in := range instruments {
			if in.Symbol == sym {
				return in, true
			}
		}
		return model.Instrument{}, false
	}
}

func TestProject_WeightedAverage(t *testing.T) {
	trades := []model.Trade{
		trade(0, "RX", model.Acquire, 10, 0.1),
		trade(1, "RX", model.Acquire, 5, 0.12),
	}
	entries := portfolio.Project(trades, catalogOf(model.Instrument{Symbol: "RX", DisplayName: "R. Example", Price: d(0.11)}))
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Quantity != 15 {
		t.Errorf("expected 15 units, got %d", e.Quantity)
	}
	if !e.AvgPrice.Round(4).Equal(d(0.1067)) {
		t.Errorf("expected average 0.1067, got %s", e.AvgPrice)
	}
	if e.DisplayName != "R. Example" || !e.CurrentPrice.Equal(d(0.11)) {
		t.Errorf("expected catalog name and price, got %q / %s", e.DisplayName, e.CurrentPrice)
	}
	if !e.MarketValue.Equal(d(1.65)) {
		t.Errorf("expected market value 1.65, got %s", e.MarketValue)
	}
	if !e.UnrealizedPnL.IsPositive() {
		t.Errorf("expected a gain above the average, got %s", e.UnrealizedPnL)
	}

	// Selling everything empties the position.
	trades = append(trades, trade(2, "RX", model.Release, 15, 0.11))
	if entries := portfolio.Project(trades, catalogOf()); len(entries) != 0 {
		t.Errorf("expected no entries after selling 15, got %v", entries)
	}
}

func TestProject_ReleaseKeepsAverage(t *testing.T) {
	trades := []model.Trade{
		trade(0, "KANE9", model.Acquire, 4, 0.5),
		trade(1, "KANE9", model.Acquire, 4, 0.7),
		trade(2, "KANE9", model.Release, 6, 2),
	}
	entries := portfolio.Project(trades, catalogOf())
	if len(entries) != 1 || entries[0].Quantity != 2 || !entries[0].AvgPrice.Equal(d(0.6)) {
		t.Errorf("expected 2 units at 0.6, got %+v", entries)
	}
}

func TestProject_ReacquireStartsFreshAverage(t *testing.T) {
	trades := []model.Trade{
		trade(0, "KANE9", model.Acquire, 3, 0.5),
		trade(1, "KANE9", model.Release, 3, 0.9),
		trade(2, "KANE9", model.Acquire, 2, 0.8),
	}
	entries := portfolio.Project(trades, catalogOf())
	if len(entries) != 1 || !entries[0].AvgPrice.Equal(d(0.8)) {
		t.Errorf("expected fresh average 0.8, got %+v", entries)
	}
}

func TestProject_OversizedReleaseEmptiesPosition(t *testing.T) {
	trades := []model.Trade{
		trade(0, "KANE9", model.Acquire, 3, 0.5),
		trade(1, "KANE9", model.Release, 10, 0.5),
		trade(2, "KANE9", model.Acquire, 1, 0.4),
	}
	if q := portfolio.Quantity(trades, "KANE9"); q != 1 {
		t.Errorf("expected 1 unit, got %d", q)
	}
}

func TestProject_SortedBySymbol(t *testing.T) {
	trades := []model.Trade{
		trade(0, "ZED", model.Acquire, 1, 0.1),
		trade(1, "ALPHA", model.Acquire, 1, 0.1),
		trade(2, "MID", model.Acquire, 1, 0.1),
	}
	entries := portfolio.Project(trades, catalogOf())
	var got []string
	for _, e := range entries {
		got = append(got, e.Symbol)
	}
	if !reflect.DeepEqual(got, []string{"ALPHA", "MID", "ZED"}) {
		t.Errorf("expected sorted symbols, got %v", got)
	}
}

func TestProject_Idempotent(t *testing.T) {
	trades := []model.Trade{
		trade(0, "RX", model.Acquire, 10, 0.1),
		trade(1, "KANE9", model.Acquire, 3, 0.55),
		trade(2, "RX", model.Acquire, 5, 0.12),
		trade(3, "RX", model.Release, 4, 0.13),
	}
	lookup := catalogOf(
		model.Instrument{Symbol: "RX", DisplayName: "RX", Price: d(0.13)},
		model.Instrument{Symbol: "KANE9", DisplayName: "Kane", Price: d(0.5)},
	)
	first := portfolio.Project(trades, lookup)
	second := portfolio.Project(trades, lookup)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("projection not idempotent:\n%v\n%v", first, second)
	}
}

// --- Service tests ---

type stubTrades struct {
	trades  []model.Trade
	balance decimal.Decimal
}

func (s stubTrades) Trades(context.Context, string) ([]model.Trade, error) { return s.trades, nil }
func (s stubTrades) Balance(context.Context, string) (decimal.Decimal, error) {
	return s.balance, nil
}

type stubCatalog []model.Instrument

func (s stubCatalog) List(context.Context) ([]model.Instrument, error) { return s, nil }

func TestService_Project(t *testing.T) {
	src := stubTrades{
		trades: []model.Trade{
			trade(0, "RX", model.Acquire, 10, 0.1),
			trade(1, "KANE9", model.Acquire, 2, 0.5),
		},
		balance: d(997.95),
	}
	cat := stubCatalog{
		{Symbol: "RX", DisplayName: "RX", Price: d(0.2)},
		{Symbol: "KANE9", DisplayName: "Kane", Price: d(0.4)},
	}
	svc := portfolio.NewService(src, cat)

	p, err := svc.Project(context.Background(), "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Balance.Equal(d(997.95)) || len(p.Entries) != 2 {
		t.Fatalf("unexpected portfolio: %+v", p)
	}
	// 10 × 0.2 + 2 × 0.4
	if !p.TotalValue.Equal(d(2.8)) {
		t.Errorf("expected total value 2.8, got %s", p.TotalValue)
	}
	// (2 - 1) + (0.8 - 1)
	if !p.TotalPnL.Equal(d(0.8)) {
		t.Errorf("expected total pnl 0.8, got %s", p.TotalPnL)
	}

	held, err := svc.Holdings(context.Background(), "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if held["RX"] != 10 || held["KANE9"] != 2 {
		t.Errorf("unexpected holdings: %v", held)
	}
}
