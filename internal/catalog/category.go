package catalog

import (
	"github.com/shopspring/decimal"

	"github.com/fanunits/market-engine/internal/model"
)

// HistoryCap is the number of most recent price samples kept per instrument.
const HistoryCap = 200

var (
	// MinBaseOverride and MaxBaseOverride bound any pinned base price.
	MinBaseOverride = decimal.RequireFromString("0.001")
	MaxBaseOverride = decimal.NewFromInt(2)

	// EventCeiling is the absolute ceiling for event-driven prices.
	EventCeiling = decimal.NewFromInt(5)

	bandLow  = decimal.NewFromFloat(0.6)
	bandHigh = decimal.NewFromFloat(1.4)
)

var categoryBase = map[model.Category]decimal.Decimal{
	model.CategoryLegend: decimal.NewFromInt(1),
	model.CategoryElite:  decimal.RequireFromString("0.50"),
	model.CategoryPro:    decimal.RequireFromString("0.25"),
	model.CategoryRising: decimal.RequireFromString("0.10"),
	model.CategoryRookie: decimal.RequireFromString("0.05"),
}

// CategoryBase returns the base price of a category.
func CategoryBase(c model.Category) (decimal.Decimal, bool) {
	b, ok := categoryBase[c]
	return b, ok
}

// ValidCategory reports whether c is a known tier.
func ValidCategory(c model.Category) bool {
	_, ok := categoryBase[c]
	return ok
}

// ClampBase clamps an externally supplied base price to
// [MinBaseOverride, MaxBaseOverride].
func ClampBase(p decimal.Decimal) decimal.Decimal {
	return clamp(p, MinBaseOverride, MaxBaseOverride)
}

// EffectiveBase is the pinned override when set, otherwise the category base.
func EffectiveBase(in model.Instrument) decimal.Decimal {
	if in.Pinned {
		return ClampBase(in.BaseOverride)
	}
	b, _ := CategoryBase(in.Category)
	return b
}

func clamp(p, lo, hi decimal.Decimal) decimal.Decimal {
	if p.LessThan(lo) {
		return lo
	}
	if p.GreaterThan(hi) {
		return hi
	}
	return p
}
