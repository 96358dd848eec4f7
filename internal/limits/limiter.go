// Package limits implements the caller-side holding checks that run before a
// trade reaches the ledger.
//
// The ledger itself never checks what a user holds. Before a release the
// caller confirms the user holds enough units, and before an acquire it
// enforces optional caps on units per instrument and on units across all
// instruments of one category, since athletes in a tier tend to move
// together.
package limits

import (
	"errors"
	"fmt"

	"github.com/fanunits/market-engine/internal/model"
)

var (
	// ErrPerInstrumentLimitExceeded is returned when an acquire would push a
	// single instrument's holding beyond the per-instrument maximum.
	ErrPerInstrumentLimitExceeded = errors.New("limits: per-instrument holding limit exceeded")

	// ErrCategoryLimitExceeded is returned when an acquire would push the
	// total units held across one category beyond the category maximum.
	ErrCategoryLimitExceeded = errors.New("limits: category holding limit exceeded")
)

// Limiter enforces holding checks. A zero maximum disables that cap.
type Limiter struct {
	// MaxPerInstrument is the maximum number of units of any one instrument.
	MaxPerInstrument int64

	// MaxPerCategory is the maximum number of units across all instruments
	// of one category.
	MaxPerCategory int64
}

// NewLimiter creates a limiter with the given caps.
func NewLimiter(maxPerInstrument, maxPerCategory int64) *Limiter {
	if maxPerInstrument < 0 {
		maxPerInstrument = 0
	}
	if maxPerCategory < 0 {
		maxPerCategory = 0
	}
	return &Limiter{
		MaxPerInstrument: maxPerInstrument,
		MaxPerCategory:   maxPerCategory,
	}
}

// CheckLimit validates a trade against the user's current holdings.
//
// Parameters:
//   - target: the instrument being traded
//   - dir, quantity: the trade
//   - holdings: symbol → units the user currently holds
//   - categories: symbol → category for every listed instrument
//
// Returns nil if the trade is allowed.
func (l *Limiter) CheckLimit(
	target model.Instrument,
	dir model.Direction,
	quantity int64,
	holdings map[string]int64,
	categories map[string]model.Category,
) error {
	held := holdings[target.Symbol]

	// 1. Releases only need enough units.
	if dir == model.Release {
		if quantity > held {
			return fmt.Errorf("%w: %s holds %d, releasing %d", model.ErrInsufficientHoldings, target.Symbol, held, quantity)
		}
		return nil
	}

	// 2. Per-instrument cap.
	newHolding := held + quantity
	if l.MaxPerInstrument > 0 && newHolding > l.MaxPerInstrument {
		return ErrPerInstrumentLimitExceeded
	}

	// 3. Category cap: sum units across instruments sharing the category.
	if l.MaxPerCategory == 0 {
		return nil
	}
	total := newHolding
	for sym, qty := range holdings {
		if sym == target.Symbol {
			continue // already counted via newHolding above
		}
		if categories[sym] == target.Category {
			total += qty
		}
	}
	if total > l.MaxPerCategory {
		return ErrCategoryLimitExceeded
	}
	return nil
}
