// Package event converts real-world match updates into price moves.
//
// Structured forecasts and reports map to an integer event score through a
// fixed weight table. Free-form performance submissions map to a continuous
// delta with a small bounded noise term.
package event

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fanunits/market-engine/internal/model"
)

// ScoreScale converts one unit of event score into a relative price move.
var ScoreScale = decimal.NewFromFloat(0.01)

var roleWeights = map[model.Role]int{
	model.RoleStarter:    3,
	model.RoleBench:      1,
	model.RoleUnselected: -2,
}

var venueWeights = map[model.Venue]int{
	model.VenueHome: 1,
	model.VenueAway: 0,
}

var conditionWeights = map[model.Condition]int{
	model.ConditionFit:      2,
	model.ConditionMinor:    0,
	model.ConditionImpaired: -2,
}

var importanceWeights = map[model.Importance]int{
	model.ImportanceCup:      2,
	model.ImportanceLeague:   1,
	model.ImportanceFriendly: 0,
}

var resultWeights = map[model.Result]int{
	model.ResultWin:  3,
	model.ResultDraw: 1,
	model.ResultLoss: -4,
}

var minutesWeights = map[model.MinutesBucket]int{
	model.Minutes0:      -2,
	model.Minutes1To30:  1,
	model.Minutes31To60: 2,
	model.Minutes61To90: 3,
}

const (
	goalWeight    = 2
	assistWeight  = 1
	injuryPenalty = -3
)

// Score sums the weights of every present field. A nil forecast or report
// contributes zero; unknown categorical values contribute zero.
func Score(forecast *model.MatchForecast, report *model.MatchReport) int {
	total := 0
	if forecast != nil {
		total += roleWeights[forecast.Role]
		total += venueWeights[forecast.Venue]
		total += conditionWeights[forecast.Condition]
		total += importanceWeights[forecast.Importance]
	}
	if report != nil {
		total += resultWeights[report.Result]
		total += minutesWeights[report.Minutes]
		total += goalWeight * report.Goals
		total += assistWeight * report.Assists
		if report.Injured {
			total += injuryPenalty
		}
	}
	return total
}

// Multiplier returns 1 + ScoreScale × score.
func Multiplier(score int) decimal.Decimal {
	return decimal.NewFromInt(1).Add(ScoreScale.Mul(decimal.NewFromInt(int64(score))))
}

// Reason renders a short justification. The last-match report wins over the
// next-match forecast.
func Reason(forecast *model.MatchForecast, report *model.MatchReport) string {
	if report != nil && (report.Result != "" || report.Minutes != "") {
		var b strings.Builder
		fmt.Fprintf(&b, "Last match: %s", orUnknown(string(report.Result)))
		if report.Minutes != "" {
			fmt.Fprintf(&b, ", %s min", report.Minutes)
		}
		var extras []string
		if report.Goals > 0 {
			extras = append(extras, plural(report.Goals, "goal"))
		}
		if report.Assists > 0 {
			extras = append(extras, plural(report.Assists, "assist"))
		}
		if report.Injured {
			extras = append(extras, "injured")
		}
		if len(extras) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(extras, ", "))
		}
		return b.String()
	}
	if forecast != nil && (forecast.Role != "" || forecast.Importance != "") {
		parts := []string{orUnknown(string(forecast.Role))}
		if forecast.Venue != "" {
			parts = append(parts, string(forecast.Venue))
		}
		if forecast.Condition != "" {
			parts = append(parts, string(forecast.Condition))
		}
		if forecast.Importance != "" {
			parts = append(parts, string(forecast.Importance))
		}
		return "Next match: " + strings.Join(parts, ", ")
	}
	return "Market update"
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}
