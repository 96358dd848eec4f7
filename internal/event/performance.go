package event

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/fanunits/market-engine/internal/model"
)

// Weights for free-form performance submissions.
const (
	minutesWeight  = 0.8 // applied to the fraction of a full match played
	perGoal        = 0.6
	perAssist      = 0.35
	injuryCost     = 1.0
	fullMatch      = 90.0
	noiseAmplitude = 0.15

	// Damping divides the delta before it is exponentiated into a multiplier.
	Damping = 10.0
)

var performanceResultWeights = map[model.Result]float64{
	model.ResultWin:  0.4,
	model.ResultDraw: 0.1,
	model.ResultLoss: -0.4,
}

// Noise yields a uniform value in [0, 1). *rand.Rand satisfies it.
type Noise interface {
	Float64() float64
}

// DefaultNoise returns a noise source seeded from the runtime's random state.
// It is safe for concurrent use.
func DefaultNoise() Noise {
	return &lockedNoise{r: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

type lockedNoise struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (n *lockedNoise) Float64() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.r.Float64()
}

// PerformanceDelta computes the continuous delta for a performance report.
// The noise term is bounded to [-noiseAmplitude, +noiseAmplitude]; a nil
// noise source means no noise.
func PerformanceDelta(r model.PerformanceReport, noise Noise) float64 {
	frac := float64(r.Minutes) / fullMatch
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}

	delta := minutesWeight*frac +
		perGoal*float64(r.Goals) +
		perAssist*float64(r.Assists) +
		performanceResultWeights[r.Result]
	if r.Injured {
		delta -= injuryCost
	}
	if noise != nil {
		delta += (noise.Float64()*2 - 1) * noiseAmplitude
	}
	return delta
}

// DeltaMultiplier returns exp(delta / Damping).
func DeltaMultiplier(delta float64) decimal.Decimal {
	return decimal.NewFromFloat(math.Exp(delta / Damping))
}
