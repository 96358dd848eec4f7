package event

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fanunits/market-engine/internal/model"
)

type fixedNoise float64

func (f fixedNoise) Float64() float64 { return float64(f) }

func TestScore_LossWithZeroMinutes(t *testing.T) {
	got := Score(nil, &model.MatchReport{Result: model.ResultLoss, Minutes: model.Minutes0})
	if got != -6 {
		t.Errorf("expected -4 + -2 = -6, got %d", got)
	}
}

func TestScore_NothingPresent(t *testing.T) {
	if got := Score(nil, nil); got != 0 {
		t.Errorf("expected 0 for no input, got %d", got)
	}
	if got := Score(&model.MatchForecast{}, &model.MatchReport{}); got != 0 {
		t.Errorf("expected 0 for empty input, got %d", got)
	}
}

func TestScore_Table(t *testing.T) {
	tests := []struct {
		name     string
		forecast *model.MatchForecast
		report   *model.MatchReport
		want     int
	}{
		{
			name: "starter home fit cup",
			forecast: &model.MatchForecast{
				Role: model.RoleStarter, Venue: model.VenueHome,
				Condition: model.ConditionFit, Importance: model.ImportanceCup,
			},
			want: 3 + 1 + 2 + 2,
		},
		{
			name: "unselected away impaired friendly",
			forecast: &model.MatchForecast{
				Role: model.RoleUnselected, Venue: model.VenueAway,
				Condition: model.ConditionImpaired, Importance: model.ImportanceFriendly,
			},
			want: -2 + 0 - 2 + 0,
		},
		{
			name:   "win full match brace and assist",
			report: &model.MatchReport{Result: model.ResultWin, Minutes: model.Minutes61To90, Goals: 2, Assists: 1},
			want:   3 + 3 + 4 + 1,
		},
		{
			name:   "draw short cameo injured",
			report: &model.MatchReport{Result: model.ResultDraw, Minutes: model.Minutes1To30, Injured: true},
			want:   1 + 1 - 3,
		},
		{
			name:     "both halves sum",
			forecast: &model.MatchForecast{Role: model.RoleBench, Importance: model.ImportanceLeague},
			report:   &model.MatchReport{Result: model.ResultLoss, Minutes: model.Minutes31To60},
			want:     1 + 1 - 4 + 2,
		},
		{
			name:     "unknown values ignored",
			forecast: &model.MatchForecast{Role: "captain", Venue: "neutral"},
			report:   &model.MatchReport{Result: "abandoned", Minutes: "120"},
			want:     0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.forecast, tt.report); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestScore_WeightOrdering(t *testing.T) {
	role := func(r model.Role) int { return Score(&model.MatchForecast{Role: r}, nil) }
	if !(role(model.RoleStarter) > role(model.RoleBench) && role(model.RoleBench) > role(model.RoleUnselected)) {
		t.Error("expected starter > bench > unselected")
	}
	result := func(r model.Result) int { return Score(nil, &model.MatchReport{Result: r}) }
	if !(result(model.ResultWin) > result(model.ResultDraw) && result(model.ResultDraw) > result(model.ResultLoss)) {
		t.Error("expected win > draw > loss")
	}
	if Score(nil, &model.MatchReport{Minutes: model.Minutes0}) >= 0 {
		t.Error("zero minutes should score negative")
	}
}

func TestMultiplier(t *testing.T) {
	if !Multiplier(-6).Equal(decimal.NewFromFloat(0.94)) {
		t.Errorf("expected 0.94, got %s", Multiplier(-6))
	}
	if !Multiplier(0).Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected 1, got %s", Multiplier(0))
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		name     string
		forecast *model.MatchForecast
		report   *model.MatchReport
		want     string
	}{
		{
			name:     "report wins over forecast",
			forecast: &model.MatchForecast{Role: model.RoleStarter},
			report:   &model.MatchReport{Result: model.ResultWin, Minutes: model.Minutes61To90, Goals: 1, Assists: 2},
			want:     "Last match: win, 61-90 min (1 goal, 2 assists)",
		},
		{
			name:   "injury noted",
			report: &model.MatchReport{Result: model.ResultLoss, Minutes: model.Minutes0, Injured: true},
			want:   "Last match: loss, 0 min (injured)",
		},
		{
			name:     "forecast only",
			forecast: &model.MatchForecast{Role: model.RoleBench, Venue: model.VenueAway, Importance: model.ImportanceCup},
			want:     "Next match: bench, away, cup",
		},
		{
			name: "fallback",
			want: "Market update",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Reason(tt.forecast, tt.report); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestPerformanceDelta(t *testing.T) {
	r := model.PerformanceReport{Minutes: 90, Goals: 1, Assists: 1, Result: model.ResultWin}
	// Noise 0.5 maps to a zero perturbation.
	got := PerformanceDelta(r, fixedNoise(0.5))
	want := 0.8 + 0.6 + 0.35 + 0.4
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("expected %v, got %v", want, got)
	}

	injured := PerformanceDelta(model.PerformanceReport{Minutes: 200, Injured: true, Result: model.ResultLoss}, nil)
	if math.Abs(injured-(0.8-0.4-1.0)) > 1e-12 {
		t.Errorf("minutes should cap at a full match, got %v", injured)
	}
}

func TestPerformanceDelta_NoiseBounded(t *testing.T) {
	r := model.PerformanceReport{Minutes: 45}
	base := PerformanceDelta(r, nil)
	for _, n := range []float64{0, 0.25, 0.999999} {
		got := PerformanceDelta(r, fixedNoise(n))
		if math.Abs(got-base) > noiseAmplitude {
			t.Errorf("noise %v moved delta by %v", n, got-base)
		}
	}
}

func TestDeltaMultiplier(t *testing.T) {
	if !DeltaMultiplier(0).Equal(decimal.NewFromInt(1)) {
		t.Errorf("zero delta should not move price, got %s", DeltaMultiplier(0))
	}
	if !DeltaMultiplier(1).GreaterThan(decimal.NewFromInt(1)) {
		t.Error("positive delta should raise price")
	}
	if !DeltaMultiplier(-1).LessThan(decimal.NewFromInt(1)) {
		t.Error("negative delta should lower price")
	}
}
