package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fanunits/market-engine/internal/clock"
	"github.com/fanunits/market-engine/internal/event"
	"github.com/fanunits/market-engine/internal/metrics"
	"github.com/fanunits/market-engine/internal/model"
	"github.com/fanunits/market-engine/internal/pricing"
	"github.com/fanunits/market-engine/internal/store"
)

var (
	// ErrInstrumentExists is returned when listing a symbol that is already listed.
	ErrInstrumentExists = errors.New("catalog: instrument already listed")

	// ErrTooManyConflicts is returned when a mutation keeps losing the
	// revision race after every retry.
	ErrTooManyConflicts = errors.New("catalog: too many snapshot conflicts")
)

// Update kinds passed to listeners and used as metric labels.
const (
	KindSimulator   = "simulator"
	KindEvent       = "event"
	KindPerformance = "performance"
	KindTrade       = "trade"
	KindAdmin       = "admin"
)

// Listener is notified with the instruments a committed update changed.
type Listener func(kind string, changed []model.Instrument)

// Service runs catalog operations against a SnapshotStore. Each operation
// loads the snapshot, mutates a copy and saves it at the loaded revision;
// a revision conflict reloads and retries with doubling backoff.
type Service struct {
	store store.SnapshotStore
	sim   *pricing.Simulator
	clock clock.Clock
	noise event.Noise

	maxAttempts int
	backoff     time.Duration

	mu        sync.RWMutex
	listeners []Listener
}

// Option configures a Service.
type Option func(*Service)

// WithNoise sets the noise source for performance ticks.
func WithNoise(n event.Noise) Option {
	return func(s *Service) { s.noise = n }
}

// WithRetry sets the number of save attempts and the initial backoff.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
		s.backoff = backoff
	}
}

// NewService creates a catalog service.
func NewService(st store.SnapshotStore, sim *pricing.Simulator, clk clock.Clock, opts ...Option) *Service {
	s := &Service{
		store:       st,
		sim:         sim,
		clock:       clk,
		noise:       event.DefaultNoise(),
		maxAttempts: 8,
		backoff:     5 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers a listener for committed updates.
func (s *Service) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Simulator returns the price simulator the service ticks with.
func (s *Service) Simulator() *pricing.Simulator { return s.sim }

// --- Reads ---

// List returns all instruments sorted by symbol.
func (s *Service) List(ctx context.Context) ([]model.Instrument, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	list := snap.Instruments
	if list == nil {
		list = []model.Instrument{}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Symbol < list[j].Symbol })
	return list, nil
}

// Get returns one instrument or model.ErrUnknownInstrument.
func (s *Service) Get(ctx context.Context, symbol string) (model.Instrument, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return model.Instrument{}, err
	}
	i := Find(snap.Instruments, symbol)
	if i < 0 {
		return model.Instrument{}, fmt.Errorf("%s: %w", symbol, model.ErrUnknownInstrument)
	}
	return snap.Instruments[i], nil
}

// Simulated returns the simulator series for symbol over [from, to] at the
// instrument's effective base.
func (s *Service) Simulated(ctx context.Context, symbol string, from, to time.Time) ([]pricing.Point, error) {
	in, err := s.Get(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return s.sim.Series(symbol, EffectiveBase(in), from, to)
}

// --- Ticks ---

// SimulatorTick applies the simulator to every instrument whose current
// bucket has not been applied yet.
func (s *Service) SimulatorTick(ctx context.Context) ([]model.Instrument, error) {
	return s.update(ctx, KindSimulator, func(list []model.Instrument, now time.Time) ([]model.Instrument, []string, error) {
		return list, ApplySimulatorTick(list, s.sim, now), nil
	})
}

// ApplyEvent runs an event-score tick on one instrument.
func (s *Service) ApplyEvent(ctx context.Context, symbol string, forecast *model.MatchForecast, report *model.MatchReport) (model.Instrument, error) {
	changed, err := s.update(ctx, KindEvent, func(list []model.Instrument, now time.Time) ([]model.Instrument, []string, error) {
		if !ApplyEventScoreTick(list, symbol, forecast, report, now) {
			return nil, nil, fmt.Errorf("%s: %w", symbol, model.ErrUnknownInstrument)
		}
		return list, []string{symbol}, nil
	})
	if err != nil {
		return model.Instrument{}, err
	}
	slog.Info("event applied",
		"symbol", symbol,
		"score", event.Score(forecast, report),
		"reason", event.Reason(forecast, report),
		"price", changed[0].Price.String(),
	)
	return changed[0], nil
}

// ApplyPerformance runs a performance tick on one instrument.
func (s *Service) ApplyPerformance(ctx context.Context, symbol string, report model.PerformanceReport) (model.Instrument, error) {
	changed, err := s.update(ctx, KindPerformance, func(list []model.Instrument, now time.Time) ([]model.Instrument, []string, error) {
		if !ApplyPerformanceTick(list, symbol, report, s.noise, now) {
			return nil, nil, fmt.Errorf("%s: %w", symbol, model.ErrUnknownInstrument)
		}
		return list, []string{symbol}, nil
	})
	if err != nil {
		return model.Instrument{}, err
	}
	slog.Info("performance applied", "symbol", symbol, "price", changed[0].Price.String())
	return changed[0], nil
}

// RecordTrade applies a trade's volume and holder change.
func (s *Service) RecordTrade(ctx context.Context, symbol string, dir model.Direction, subtotal decimal.Decimal) error {
	_, err := s.update(ctx, KindTrade, func(list []model.Instrument, _ time.Time) ([]model.Instrument, []string, error) {
		if !ApplyTradeVolume(list, symbol, dir, subtotal) {
			return nil, nil, fmt.Errorf("%s: %w", symbol, model.ErrUnknownInstrument)
		}
		return list, []string{symbol}, nil
	})
	return err
}

// RevertTrade undoes RecordTrade. A symbol removed in the meantime is skipped.
func (s *Service) RevertTrade(ctx context.Context, symbol string, dir model.Direction, subtotal decimal.Decimal) error {
	_, err := s.update(ctx, KindTrade, func(list []model.Instrument, _ time.Time) ([]model.Instrument, []string, error) {
		if !RevertTradeVolume(list, symbol, dir, subtotal) {
			return list, nil, nil
		}
		return list, []string{symbol}, nil
	})
	return err
}

// --- Administration ---

// Add lists a new instrument priced at its category base.
func (s *Service) Add(ctx context.Context, n NewInstrument) (model.Instrument, error) {
	sym, err := model.NormalizeSymbol(n.Symbol)
	if err != nil {
		return model.Instrument{}, err
	}
	if !ValidCategory(n.Category) {
		return model.Instrument{}, fmt.Errorf("%w: unknown category %q", model.ErrValidation, n.Category)
	}
	n.Symbol = sym
	if n.DisplayName == "" {
		n.DisplayName = sym
	}

	changed, err := s.update(ctx, KindAdmin, func(list []model.Instrument, now time.Time) ([]model.Instrument, []string, error) {
		if Find(list, sym) >= 0 {
			return nil, nil, fmt.Errorf("%s: %w", sym, ErrInstrumentExists)
		}
		return append(list, List(n, now)), []string{sym}, nil
	})
	if err != nil {
		return model.Instrument{}, err
	}
	slog.Info("instrument listed", "symbol", sym, "category", n.Category)
	return changed[0], nil
}

// Seed lists every instrument that is not listed yet and returns the
// symbols it added. Invalid entries are skipped with a warning.
func (s *Service) Seed(ctx context.Context, seeds []NewInstrument) ([]string, error) {
	var added []string
	_, err := s.update(ctx, KindAdmin, func(list []model.Instrument, now time.Time) ([]model.Instrument, []string, error) {
		added = added[:0]
		for _, n := range seeds {
			sym, err := model.NormalizeSymbol(n.Symbol)
			if err != nil || !ValidCategory(n.Category) {
				slog.Warn("skipping invalid seed instrument", "symbol", n.Symbol, "category", n.Category)
				continue
			}
			if Find(list, sym) >= 0 {
				continue
			}
			n.Symbol = sym
			if n.DisplayName == "" {
				n.DisplayName = sym
			}
			list = append(list, List(n, now))
			added = append(added, sym)
		}
		return list, added, nil
	})
	return added, err
}

// Remove delists an instrument.
func (s *Service) Remove(ctx context.Context, symbol string) error {
	_, err := s.update(ctx, KindAdmin, func(list []model.Instrument, _ time.Time) ([]model.Instrument, []string, error) {
		next, ok := Remove(list, symbol)
		if !ok {
			return nil, nil, fmt.Errorf("%s: %w", symbol, model.ErrUnknownInstrument)
		}
		return next, nil, nil
	})
	if err == nil {
		metrics.InstrumentPrice.DeleteLabelValues(symbol)
		slog.Info("instrument removed", "symbol", symbol)
	}
	return err
}

// PinBase sets or clears an instrument's base override. A nil override unpins.
func (s *Service) PinBase(ctx context.Context, symbol string, override *decimal.Decimal) (model.Instrument, error) {
	changed, err := s.update(ctx, KindAdmin, func(list []model.Instrument, _ time.Time) ([]model.Instrument, []string, error) {
		if !Pin(list, symbol, override) {
			return nil, nil, fmt.Errorf("%s: %w", symbol, model.ErrUnknownInstrument)
		}
		return list, []string{symbol}, nil
	})
	if err != nil {
		return model.Instrument{}, err
	}
	return changed[0], nil
}

// --- Commit loop ---

type mutation func(list []model.Instrument, now time.Time) ([]model.Instrument, []string, error)

// update loads the snapshot, applies fn to a copy and saves it at the loaded
// revision. It returns the changed instruments as saved.
func (s *Service) update(ctx context.Context, kind string, fn mutation) ([]model.Instrument, error) {
	backoff := s.backoff
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		snap, err := s.load(ctx)
		if err != nil {
			return nil, err
		}

		next, symbols, err := fn(snap.Instruments, s.clock.Now())
		if err != nil {
			return nil, err
		}
		if len(symbols) == 0 && len(next) == len(snap.Instruments) {
			return nil, nil
		}

		err = s.store.Save(ctx, store.Snapshot{Revision: snap.Revision, Instruments: next})
		if err == nil {
			changed := pick(next, symbols)
			s.committed(kind, next, changed)
			return changed, nil
		}
		if !errors.Is(err, model.ErrSnapshotConflict) {
			return nil, storageErr(err)
		}

		metrics.SnapshotConflicts.Inc()
		slog.Debug("catalog snapshot conflict, retrying", "kind", kind, "attempt", attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, ErrTooManyConflicts
}

func (s *Service) load(ctx context.Context) (store.Snapshot, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return store.Snapshot{}, storageErr(err)
	}
	return snap, nil
}

func (s *Service) committed(kind string, all, changed []model.Instrument) {
	metrics.CatalogTicks.WithLabelValues(kind).Inc()
	metrics.Instruments.Set(float64(len(all)))
	for _, in := range changed {
		metrics.InstrumentPrice.WithLabelValues(in.Symbol).Set(in.Price.InexactFloat64())
	}
	if len(changed) == 0 {
		return
	}

	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, l := range listeners {
		l(kind, changed)
	}
}

// pick returns copies of the instruments named by symbols, in that order.
func pick(list []model.Instrument, symbols []string) []model.Instrument {
	out := make([]model.Instrument, 0, len(symbols))
	for _, sym := range symbols {
		if i := Find(list, sym); i >= 0 {
			out = append(out, list[i].Clone())
		}
	}
	return out
}

func storageErr(err error) error {
	if errors.Is(err, model.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
}
