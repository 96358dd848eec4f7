// Package catalog holds the authoritative per-instrument price state.
//
// Every price change goes through one commit path: clamp to the band of the
// driver that produced it, append a history sample, set the current price to
// that sample, and trim history to HistoryCap. The functions in this file are
// pure operations over a list of instruments; Service runs them against a
// SnapshotStore.
package catalog

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fanunits/market-engine/internal/event"
	"github.com/fanunits/market-engine/internal/model"
	"github.com/fanunits/market-engine/internal/pricing"
)

// NewInstrument describes an instrument to list.
type NewInstrument struct {
	Symbol      string         `json:"symbol" yaml:"symbol"`
	DisplayName string         `json:"display_name" yaml:"display_name"`
	Category    model.Category `json:"category" yaml:"category"`
	OwnerUserID string         `json:"owner_user_id,omitempty" yaml:"owner_user_id"`
}

// List creates an instrument priced at its category base with a single
// history sample at now.
func List(n NewInstrument, now time.Time) model.Instrument {
	base, _ := CategoryBase(n.Category)
	return model.Instrument{
		Symbol:      n.Symbol,
		DisplayName: n.DisplayName,
		Category:    n.Category,
		OwnerUserID: n.OwnerUserID,
		Price:       base,
		History:     []model.PriceSample{{Timestamp: now, Price: base, Volume: decimal.Zero}},
		Volume:      decimal.Zero,
		CreatedAt:   now,
	}
}

// Find returns the index of symbol in list, or -1.
func Find(list []model.Instrument, symbol string) int {
	for i := range list {
		if list[i].Symbol == symbol {
			return i
		}
	}
	return -1
}

// Commit clamps price to [lo, hi], appends it to the history and makes it
// the current price. The sample is never stamped earlier than the previous
// one.
func Commit(in *model.Instrument, price, lo, hi decimal.Decimal, at time.Time) {
	p := clamp(price.Round(pricing.PriceScale), lo, hi)
	if n := len(in.History); n > 0 && at.Before(in.History[n-1].Timestamp) {
		at = in.History[n-1].Timestamp
	}
	in.History = append(in.History, model.PriceSample{Timestamp: at, Price: p, Volume: in.Volume})
	in.Price = p
	trim(in)
}

// trim drops the oldest samples beyond HistoryCap.
func trim(in *model.Instrument) {
	if over := len(in.History) - HistoryCap; over > 0 {
		in.History = append([]model.PriceSample(nil), in.History[over:]...)
	}
}

// ApplySimulatorTick advances every instrument whose current bucket has not
// been applied yet. An instrument that was never ticked, or was re-pinned,
// takes the simulated price at now. Otherwise the bucket's walk step is
// applied to the current price, so event and performance moves carry over.
// The band is widened to the current price so a price already outside it is
// only walked back, never snapped. It returns the symbols that changed.
func ApplySimulatorTick(list []model.Instrument, sim *pricing.Simulator, now time.Time) []string {
	bucket := sim.BucketIndex(now)
	var changed []string
	for i := range list {
		in := &list[i]
		if in.LastSimBucket == bucket {
			continue
		}
		base := EffectiveBase(*in)
		lo, hi := base.Mul(bandLow), base.Mul(bandHigh)
		if in.LastSimBucket == 0 {
			Commit(in, sim.PriceAt(in.Symbol, base, now), lo, hi, now)
		} else {
			step := decimal.NewFromFloat(1 + pricing.Delta(in.Symbol, bucket))
			Commit(in, in.Price.Mul(step), decimal.Min(lo, in.Price), decimal.Max(hi, in.Price), now)
		}
		in.LastSimBucket = bucket
		changed = append(changed, in.Symbol)
	}
	return changed
}

// ApplyEventScoreTick moves the instrument's price by the event score of the
// forecast and report, clamped to [category base, EventCeiling]. Present
// halves are recorded as the instrument's next and last match. An unknown
// symbol is a no-op and returns false.
func ApplyEventScoreTick(list []model.Instrument, symbol string, forecast *model.MatchForecast, report *model.MatchReport, now time.Time) bool {
	i := Find(list, symbol)
	if i < 0 {
		return false
	}
	in := &list[i]
	score := event.Score(forecast, report)
	commitEvent(in, in.Price.Mul(event.Multiplier(score)), now)
	if forecast != nil {
		f := *forecast
		in.NextMatch = &f
	}
	if report != nil {
		r := *report
		in.LastMatch = &r
	}
	return true
}

// ApplyPerformanceTick moves the instrument's price by exp(delta/Damping)
// for the performance delta. An unknown symbol is a no-op and returns false.
func ApplyPerformanceTick(list []model.Instrument, symbol string, report model.PerformanceReport, noise event.Noise, now time.Time) bool {
	i := Find(list, symbol)
	if i < 0 {
		return false
	}
	in := &list[i]
	delta := event.PerformanceDelta(report, noise)
	commitEvent(in, in.Price.Mul(event.DeltaMultiplier(delta)), now)
	last := report.MatchReport()
	in.LastMatch = &last
	return true
}

func commitEvent(in *model.Instrument, price decimal.Decimal, now time.Time) {
	floor, ok := CategoryBase(in.Category)
	if !ok {
		floor = MinBaseOverride
	}
	Commit(in, price, floor, EventCeiling, now)
}

// ApplyTradeVolume adds the trade subtotal to the instrument's volume and
// moves the holder count: +1 on acquire, -1 floored at zero on release. An
// unknown symbol is a no-op and returns false.
func ApplyTradeVolume(list []model.Instrument, symbol string, dir model.Direction, subtotal decimal.Decimal) bool {
	i := Find(list, symbol)
	if i < 0 {
		return false
	}
	in := &list[i]
	in.Volume = in.Volume.Add(subtotal.Abs())
	switch dir {
	case model.Acquire:
		in.Holders++
	case model.Release:
		if in.Holders > 0 {
			in.Holders--
		}
	}
	return true
}

// RevertTradeVolume undoes ApplyTradeVolume for a trade whose ledger write
// did not commit.
func RevertTradeVolume(list []model.Instrument, symbol string, dir model.Direction, subtotal decimal.Decimal) bool {
	i := Find(list, symbol)
	if i < 0 {
		return false
	}
	in := &list[i]
	in.Volume = in.Volume.Sub(subtotal.Abs())
	if in.Volume.IsNegative() {
		in.Volume = decimal.Zero
	}
	switch dir {
	case model.Acquire:
		if in.Holders > 0 {
			in.Holders--
		}
	case model.Release:
		in.Holders++
	}
	return true
}

// Remove deletes symbol from the list. It returns the new list and whether
// the symbol was present.
func Remove(list []model.Instrument, symbol string) ([]model.Instrument, bool) {
	i := Find(list, symbol)
	if i < 0 {
		return list, false
	}
	return append(list[:i], list[i+1:]...), true
}

// Pin sets or clears the instrument's base override. A nil override unpins.
// The override is clamped to [MinBaseOverride, MaxBaseOverride].
func Pin(list []model.Instrument, symbol string, override *decimal.Decimal) bool {
	i := Find(list, symbol)
	if i < 0 {
		return false
	}
	in := &list[i]
	if override == nil {
		in.Pinned = false
		in.BaseOverride = decimal.Zero
	} else {
		in.Pinned = true
		in.BaseOverride = ClampBase(*override)
	}
	// Let the next simulator tick reprice against the new base.
	in.LastSimBucket = 0
	return true
}
