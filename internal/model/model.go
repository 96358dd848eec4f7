// Package model defines the core domain types shared across the market engine.
// All prices and credit amounts use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a trade from the acting user's point of view.
type Direction string

const (
	Acquire Direction = "acquire"
	Release Direction = "release"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == Acquire || d == Release
}

// Category is the tier of an athlete profile. Each tier has its own base price.
type Category string

const (
	CategoryLegend Category = "legend"
	CategoryElite  Category = "elite"
	CategoryPro    Category = "pro"
	CategoryRising Category = "rising"
	CategoryRookie Category = "rookie"
)

// PriceSample is one point of an instrument's price history.
// Volume is the instrument's cumulative traded volume when the sample was taken.
type PriceSample struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
}

// Instrument is a tradable unit tied to one athlete profile.
//
// Price always equals the price of the last History sample. History is
// ordered by timestamp and only ever trimmed from the front.
type Instrument struct {
	Symbol      string          `json:"symbol"`
	DisplayName string          `json:"display_name"`
	Category    Category        `json:"category"`
	OwnerUserID string          `json:"owner_user_id,omitempty"` // athlete account linked to this instrument
	Price       decimal.Decimal `json:"price"`
	History     []PriceSample   `json:"history"`
	Volume      decimal.Decimal `json:"volume"`  // cumulative subtotal traded, both directions
	Holders     int64           `json:"holders"` // +1 per acquire, -1 per release, floored at 0

	// Pinned instruments use BaseOverride instead of their category's base price.
	Pinned       bool            `json:"pinned"`
	BaseOverride decimal.Decimal `json:"base_override"`

	// LastSimBucket is the last simulator bucket applied to this instrument.
	LastSimBucket int64 `json:"last_sim_bucket"`

	NextMatch *MatchForecast `json:"next_match,omitempty"`
	LastMatch *MatchReport   `json:"last_match,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy so callers can mutate it without touching shared state.
func (in Instrument) Clone() Instrument {
	out := in
	out.History = append([]PriceSample(nil), in.History...)
	if in.NextMatch != nil {
		nm := *in.NextMatch
		out.NextMatch = &nm
	}
	if in.LastMatch != nil {
		lm := *in.LastMatch
		out.LastMatch = &lm
	}
	return out
}

// Trade is an immutable record of one executed action.
// Once created, trades are never modified or deleted.
type Trade struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Direction Direction       `json:"direction"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Fee       decimal.Decimal `json:"fee"`
	Total     decimal.Decimal `json:"total"` // debited on acquire, credited on release
	Timestamp time.Time       `json:"timestamp"`
}

// Subtotal is quantity × unit price, before fees.
func (t Trade) Subtotal() decimal.Decimal {
	return t.UnitPrice.Mul(decimal.NewFromInt(t.Quantity))
}

// BalanceDelta is the signed change this trade applies to the user's balance.
func (t Trade) BalanceDelta() decimal.Decimal {
	if t.Direction == Acquire {
		return t.Total.Neg()
	}
	return t.Total
}

// PortfolioEntry is one derived holding. It is recomputed from the trade log
// on every read and is never a source of truth.
type PortfolioEntry struct {
	Symbol        string          `json:"symbol"`
	DisplayName   string          `json:"display_name"`
	Quantity      int64           `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Portfolio aggregates a user's derived holdings with their demo balance.
type Portfolio struct {
	UserID     string           `json:"user_id"`
	Balance    decimal.Decimal  `json:"balance"`
	Entries    []PortfolioEntry `json:"entries"`
	TotalValue decimal.Decimal  `json:"total_value"`
	TotalPnL   decimal.Decimal  `json:"total_pnl"`
}
