// Package pricing implements the synthetic price feed: a bounded, seeded
// random walk over fixed-width time buckets.
//
// The walk is replayable. A bucket's price depends only on the previous
// bucket's price and a draw that is a pure function of (symbol, bucket), so
// any evaluator that knows the origin, the bucket width and the base price
// derives the same price for the same instant without stored state.
//
// The walk runs in float64 and results are converted to decimal rounded to
// PriceScale places, the same way the catalog stores prices.
package pricing

import (
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidBucket is returned when the bucket width is not a positive
	// whole number of seconds.
	ErrInvalidBucket = errors.New("pricing: bucket width must be a positive number of seconds")

	// ErrRangeTooLarge is returned when a series request spans more than
	// MaxSeriesPoints buckets.
	ErrRangeTooLarge = errors.New("pricing: requested range spans too many buckets")

	// DefaultOrigin is the shared anchor instant for bucket numbering.
	DefaultOrigin = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	// DefaultBucket is the default bucket width.
	DefaultBucket = time.Hour

	// PriceScale is the number of decimal places for simulated prices.
	PriceScale int32 = 8
)

const (
	// BandLow and BandHigh bound every simulated price to
	// [BandLow × base, BandHigh × base].
	BandLow  = 0.6
	BandHigh = 1.4

	// Per-bucket move: a randomized amplitude in [minAmplitude, maxAmplitude]
	// with a random sign, plus a symmetric wobble in [-wobble, +wobble].
	minAmplitude = 0.002
	maxAmplitude = 0.025
	wobble       = 0.003

	// MaxSeriesPoints caps the number of points a single Series call returns.
	MaxSeriesPoints = 10000
)

// Point is one bucket of a simulated series.
type Point struct {
	Timestamp time.Time       `json:"timestamp"`
	Bucket    int64           `json:"bucket"`
	Price     decimal.Decimal `json:"price"`
}

// Simulator derives prices for any instant. It is safe for concurrent use.
type Simulator struct {
	origin       time.Time
	width        int64 // bucket width in seconds
	originBucket int64

	mu   sync.Mutex
	memo map[memoKey]memoEntry
}

// memoKey identifies one walk. The memo only lets a later call resume from
// a bucket already computed; it never changes the result.
type memoKey struct {
	symbol string
	base   string
}

type memoEntry struct {
	bucket int64
	price  float64
}

// NewSimulator creates a simulator anchored at origin with the given bucket width.
func NewSimulator(origin time.Time, bucket time.Duration) (*Simulator, error) {
	width := int64(bucket / time.Second)
	if width <= 0 || bucket%time.Second != 0 {
		return nil, ErrInvalidBucket
	}
	s := &Simulator{
		origin: origin.UTC(),
		width:  width,
		memo:   make(map[memoKey]memoEntry),
	}
	s.originBucket = s.BucketIndex(origin)
	return s, nil
}

// Origin returns the anchor instant.
func (s *Simulator) Origin() time.Time { return s.origin }

// Bucket returns the bucket width.
func (s *Simulator) Bucket() time.Duration { return time.Duration(s.width) * time.Second }

// BucketIndex returns floor(unixSeconds(t) / width).
func (s *Simulator) BucketIndex(t time.Time) int64 {
	sec := t.Unix()
	idx := sec / s.width
	if sec%s.width != 0 && sec < 0 {
		idx--
	}
	return idx
}

// BucketStart returns the first instant of bucket idx.
func (s *Simulator) BucketStart(idx int64) time.Time {
	return time.Unix(idx*s.width, 0).UTC()
}

// PriceAt returns the simulated price of symbol at instant t.
// At or before the origin bucket the price is exactly base.
func (s *Simulator) PriceAt(symbol string, base decimal.Decimal, t time.Time) decimal.Decimal {
	target := s.BucketIndex(t)
	if target <= s.originBucket {
		return base
	}
	return toDecimal(s.walk(symbol, base, target))
}

// Series returns one point per bucket overlapping [from, to]. The first point
// is stamped at from when from falls inside a bucket, so the last point
// always carries PriceAt(to). An inverted range yields an empty series.
func (s *Simulator) Series(symbol string, base decimal.Decimal, from, to time.Time) ([]Point, error) {
	if to.Before(from) {
		return []Point{}, nil
	}
	first, last := s.BucketIndex(from), s.BucketIndex(to)
	if last-first+1 > MaxSeriesPoints {
		return nil, ErrRangeTooLarge
	}

	points := make([]Point, 0, last-first+1)
	b := base.InexactFloat64()
	lo, hi := BandLow*b, BandHigh*b
	seed := seedOf(symbol)

	// Walk from the origin (or the first requested bucket, whichever is
	// later) and emit once inside the window.
	price := b
	k := s.originBucket
	if first > k {
		price = s.walk(symbol, base, first-1)
		k = first - 1
	}
	for idx := first; idx <= last; idx++ {
		var p decimal.Decimal
		if idx <= s.originBucket {
			p = base
		} else {
			for k < idx {
				k++
				price = step(seed, k, price, lo, hi)
			}
			p = toDecimal(price)
		}
		ts := s.BucketStart(idx)
		if ts.Before(from) {
			ts = from.UTC()
		}
		points = append(points, Point{Timestamp: ts, Bucket: idx, Price: p})
	}
	return points, nil
}

// Delta returns the relative move applied when entering bucket idx.
func Delta(symbol string, idx int64) float64 {
	return draw(seedOf(symbol), idx)
}

// walk replays the random walk from the origin up to and including target.
func (s *Simulator) walk(symbol string, base decimal.Decimal, target int64) float64 {
	b := base.InexactFloat64()
	if target <= s.originBucket {
		return b
	}
	lo, hi := BandLow*b, BandHigh*b
	key := memoKey{symbol: symbol, base: base.String()}

	start, price := s.originBucket, b
	s.mu.Lock()
	if e, ok := s.memo[key]; ok && e.bucket <= target {
		start, price = e.bucket, e.price
	}
	s.mu.Unlock()

	seed := seedOf(symbol)
	for k := start + 1; k <= target; k++ {
		price = step(seed, k, price, lo, hi)
	}

	s.mu.Lock()
	if e, ok := s.memo[key]; !ok || e.bucket < target {
		s.memo[key] = memoEntry{bucket: target, price: price}
	}
	s.mu.Unlock()
	return price
}

func step(seed uint64, idx int64, prev, lo, hi float64) float64 {
	next := prev * (1 + draw(seed, idx))
	if next < lo {
		next = lo
	}
	if next > hi {
		next = hi
	}
	return next
}

// draw is a pure function of (seed, idx).
func draw(seed uint64, idx int64) float64 {
	r := rand.New(rand.NewPCG(seed, uint64(idx)))
	amp := minAmplitude + r.Float64()*(maxAmplitude-minAmplitude)
	sign := 1.0
	if r.Float64() < 0.5 {
		sign = -1.0
	}
	w := (r.Float64()*2 - 1) * wobble
	return sign*amp + w
}

func seedOf(symbol string) uint64 {
	return xxhash.Sum64String(symbol)
}

func toDecimal(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(PriceScale)
}
