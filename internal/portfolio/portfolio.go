// Package portfolio derives a user's holdings by replaying their trade log.
// Nothing here is a source of truth; every read recomputes from the trades
// and the catalog's current prices.
package portfolio

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/fanunits/market-engine/internal/model"
)

// AvgScale is the number of decimal places kept for average prices.
const AvgScale int32 = 8

// Lookup returns the current catalog entry for a symbol.
type Lookup func(symbol string) (model.Instrument, bool)

type position struct {
	qty int64
	avg decimal.Decimal
}

// replay walks trades in order and returns the open quantity and
// weighted-average acquisition price per symbol. A release reduces quantity
// without moving the average; a position that reaches zero is dropped, so a
// later acquire starts a fresh average.
func replay(trades []model.Trade) map[string]position {
	held := make(map[string]position)
	for _, t := range trades {
		p := held[t.Symbol]
		switch t.Direction {
		case model.Acquire:
			oldQty := decimal.NewFromInt(p.qty)
			newQty := decimal.NewFromInt(t.Quantity)
			p.avg = p.avg.Mul(oldQty).Add(t.UnitPrice.Mul(newQty)).Div(oldQty.Add(newQty))
			p.qty += t.Quantity
		case model.Release:
			p.qty -= t.Quantity
		}
		if p.qty <= 0 {
			delete(held, t.Symbol)
			continue
		}
		held[t.Symbol] = p
	}
	return held
}

// Quantity returns how many units of symbol the trades leave open.
func Quantity(trades []model.Trade, symbol string) int64 {
	return replay(trades)[symbol].qty
}

// Project builds portfolio entries sorted by symbol. Current prices come
// from lookup; a symbol no longer listed keeps its average as the current
// price.
func Project(trades []model.Trade, lookup Lookup) []model.PortfolioEntry {
	held := replay(trades)
	entries := make([]model.PortfolioEntry, 0, len(held))
	for sym, p := range held {
		qty := decimal.NewFromInt(p.qty)
		e := model.PortfolioEntry{
			Symbol:       sym,
			DisplayName:  sym,
			Quantity:     p.qty,
			AvgPrice:     p.avg.Round(AvgScale),
			CurrentPrice: p.avg.Round(AvgScale),
		}
		if in, ok := lookup(sym); ok {
			e.DisplayName = in.DisplayName
			e.CurrentPrice = in.Price
		}
		e.MarketValue = e.CurrentPrice.Mul(qty)
		e.UnrealizedPnL = e.MarketValue.Sub(e.AvgPrice.Mul(qty))
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Symbol < entries[j].Symbol })
	return entries
}

// TradeSource loads a user's trades and balance.
type TradeSource interface {
	Trades(ctx context.Context, userID string) ([]model.Trade, error)
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
}

// InstrumentSource lists the catalog.
type InstrumentSource interface {
	List(ctx context.Context) ([]model.Instrument, error)
}

// Service projects portfolios from the ledger and catalog.
type Service struct {
	trades  TradeSource
	catalog InstrumentSource
}

// NewService creates a portfolio service.
func NewService(trades TradeSource, catalog InstrumentSource) *Service {
	return &Service{trades: trades, catalog: catalog}
}

// Project returns the user's derived portfolio.
func (s *Service) Project(ctx context.Context, userID string) (model.Portfolio, error) {
	trades, err := s.trades.Trades(ctx, userID)
	if err != nil {
		return model.Portfolio{}, err
	}
	list, err := s.catalog.List(ctx)
	if err != nil {
		return model.Portfolio{}, err
	}
	bal, err := s.trades.Balance(ctx, userID)
	if err != nil {
		return model.Portfolio{}, err
	}

	bySymbol := make(map[string]model.Instrument, len(list))
	for _, in := range list {
		bySymbol[in.Symbol] = in
	}
	entries := Project(trades, func(sym string) (model.Instrument, bool) {
		in, ok := bySymbol[sym]
		return in, ok
	})

	p := model.Portfolio{
		UserID:     userID,
		Balance:    bal,
		Entries:    entries,
		TotalValue: decimal.Zero,
		TotalPnL:   decimal.Zero,
	}
	for _, e := range entries {
		p.TotalValue = p.TotalValue.Add(e.MarketValue)
		p.TotalPnL = p.TotalPnL.Add(e.UnrealizedPnL)
	}
	return p, nil
}

// Holdings returns the user's open quantity per symbol.
func (s *Service) Holdings(ctx context.Context, userID string) (map[string]int64, error) {
	trades, err := s.trades.Trades(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for sym, p := range replay(trades) {
		out[sym] = p.qty
	}
	return out, nil
}
