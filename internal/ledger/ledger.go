// Package ledger executes trades against the catalog's current price and
// keeps demo balances and the append-only trade log consistent.
//
// A trade's balance adjustment, trade record and catalog volume update are
// applied as one unit: the first two share a ledger transaction and the
// catalog update runs inside it, so a failure at any step leaves no partial
// state behind.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fanunits/market-engine/internal/clock"
	"github.com/fanunits/market-engine/internal/metrics"
	"github.com/fanunits/market-engine/internal/model"
	"github.com/fanunits/market-engine/internal/store"
)

// FeeRate is the trading fee as a fraction of the subtotal.
var FeeRate = decimal.RequireFromString("0.05")

// Catalog is the part of the catalog the ledger needs.
type Catalog interface {
	Get(ctx context.Context, symbol string) (model.Instrument, error)
	RecordTrade(ctx context.Context, symbol string, dir model.Direction, subtotal decimal.Decimal) error
	RevertTrade(ctx context.Context, symbol string, dir model.Direction, subtotal decimal.Decimal) error
}

// Request is one trade to execute. Trades always execute at the
// instrument's current catalog price. A non-zero UnitPrice is the price the
// caller was quoted and must equal it.
type Request struct {
	UserID    string
	Symbol    string
	Direction model.Direction
	Quantity  int64
	UnitPrice decimal.Decimal
}

// Ledger executes trades. Executions are serialized within the process.
type Ledger struct {
	store   store.LedgerStore
	catalog Catalog
	clock   clock.Clock

	mu sync.Mutex
}

// New creates a ledger.
func New(st store.LedgerStore, cat Catalog, clk clock.Clock) *Ledger {
	return &Ledger{store: st, catalog: cat, clock: clk}
}

// Quote returns the fee and total for quantity units at price.
func Quote(dir model.Direction, quantity int64, price decimal.Decimal) (subtotal, fee, total decimal.Decimal) {
	subtotal = price.Mul(decimal.NewFromInt(quantity))
	fee = subtotal.Mul(FeeRate)
	if dir == model.Acquire {
		return subtotal, fee, subtotal.Add(fee)
	}
	return subtotal, fee, subtotal.Sub(fee)
}

// Execute runs one trade. Validation, unknown-instrument, self-trade and
// balance failures are returned before anything is written.
func (l *Ledger) Execute(ctx context.Context, req Request) (model.Trade, error) {
	start := time.Now()

	if err := validate(req); err != nil {
		reject("validation")
		return model.Trade{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	in, err := l.catalog.Get(ctx, req.Symbol)
	if err != nil {
		if errors.Is(err, model.ErrUnknownInstrument) {
			reject("unknown_instrument")
		}
		return model.Trade{}, err
	}
	if in.OwnerUserID != "" && in.OwnerUserID == req.UserID {
		reject("self_trade")
		return model.Trade{}, fmt.Errorf("%s: %w", req.Symbol, model.ErrSelfTrade)
	}

	price := in.Price
	if !req.UnitPrice.IsZero() && !req.UnitPrice.Equal(price) {
		reject("price_changed")
		return model.Trade{}, fmt.Errorf("%w: quoted %s, current %s", model.ErrPriceChanged, req.UnitPrice.String(), price.String())
	}
	subtotal, fee, total := Quote(req.Direction, req.Quantity, price)
	trade := model.Trade{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Symbol:    req.Symbol,
		Direction: req.Direction,
		Quantity:  req.Quantity,
		UnitPrice: price,
		Fee:       fee,
		Total:     total,
		Timestamp: l.clock.Now(),
	}

	recorded := false
	err = l.store.WithinTx(ctx, func(tx store.LedgerTx) error {
		bal, err := tx.Balance(ctx, req.UserID)
		if err != nil {
			return err
		}
		if req.Direction == model.Acquire && bal.LessThan(total) {
			return fmt.Errorf("%w: need %s, have %s", model.ErrInsufficientBalance, total.String(), bal.String())
		}
		if _, err := tx.AdjustBalance(ctx, req.UserID, trade.BalanceDelta()); err != nil {
			return err
		}
		if err := tx.AppendTrade(ctx, trade); err != nil {
			return err
		}
		if err := l.catalog.RecordTrade(ctx, req.Symbol, req.Direction, subtotal); err != nil {
			return err
		}
		recorded = true
		return nil
	})
	if err != nil {
		if recorded {
			// The catalog took the volume but the ledger did not commit.
			if rerr := l.catalog.RevertTrade(ctx, req.Symbol, req.Direction, subtotal); rerr != nil {
				slog.Error("trade volume compensation failed",
					"symbol", req.Symbol,
					"subtotal", subtotal.String(),
					"err", rerr,
				)
			}
		}
		if errors.Is(err, model.ErrInsufficientBalance) {
			reject("insufficient_balance")
			return model.Trade{}, err
		}
		return model.Trade{}, storageErr(err)
	}

	dir := string(req.Direction)
	metrics.TradesTotal.WithLabelValues(dir).Inc()
	metrics.TradeVolume.WithLabelValues(dir).Add(subtotal.InexactFloat64())
	metrics.TradeLatency.WithLabelValues(dir).Observe(time.Since(start).Seconds())

	slog.Info("trade executed",
		"trade_id", trade.ID,
		"user", trade.UserID,
		"symbol", trade.Symbol,
		"direction", dir,
		"qty", trade.Quantity,
		"unit_price", price.String(),
		"fee", fee.String(),
		"total", total.String(),
	)
	return trade, nil
}

// Balance returns the user's demo balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	bal, err := l.store.Balance(ctx, userID)
	if err != nil {
		return decimal.Zero, storageErr(err)
	}
	return bal, nil
}

// Trades returns the user's trades in execution order.
func (l *Ledger) Trades(ctx context.Context, userID string) ([]model.Trade, error) {
	trades, err := l.store.LoadTradesFor(ctx, userID)
	if err != nil {
		return nil, storageErr(err)
	}
	return trades, nil
}

func validate(req Request) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user_id is required", model.ErrValidation)
	}
	if !req.Direction.Valid() {
		return fmt.Errorf("%w: unknown direction %q", model.ErrValidation, req.Direction)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be a positive integer", model.ErrValidation)
	}
	if req.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price must not be negative", model.ErrValidation)
	}
	return nil
}

func reject(reason string) {
	metrics.TradeRejections.WithLabelValues(reason).Inc()
}

func storageErr(err error) error {
	if errors.Is(err, model.ErrStorageUnavailable) || errors.Is(err, model.ErrUnknownInstrument) {
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
}
