package model

// Role is the expected squad role for an upcoming match.
type Role string

const (
	RoleStarter    Role = "starter"
	RoleBench      Role = "bench"
	RoleUnselected Role = "unselected"
)

// Venue is where an upcoming match is played.
type Venue string

const (
	VenueHome Venue = "home"
	VenueAway Venue = "away"
)

// Condition is the athlete's physical condition before a match.
type Condition string

const (
	ConditionFit      Condition = "fit"
	ConditionMinor    Condition = "minor"
	ConditionImpaired Condition = "impaired"
)

// Importance is the competition weight of a match.
type Importance string

const (
	ImportanceCup      Importance = "cup"
	ImportanceLeague   Importance = "league"
	ImportanceFriendly Importance = "friendly"
)

// Result is the outcome of a completed match.
type Result string

const (
	ResultWin  Result = "win"
	ResultDraw Result = "draw"
	ResultLoss Result = "loss"
)

// MinutesBucket is a coarse range of minutes played.
type MinutesBucket string

const (
	Minutes0      MinutesBucket = "0"
	Minutes1To30  MinutesBucket = "1-30"
	Minutes31To60 MinutesBucket = "31-60"
	Minutes61To90 MinutesBucket = "61-90"
)

// MatchForecast is a forward-looking update about the next match.
type MatchForecast struct {
	Role       Role       `json:"role,omitempty"`
	Venue      Venue      `json:"venue,omitempty"`
	Condition  Condition  `json:"condition,omitempty"`
	Importance Importance `json:"importance,omitempty"`
}

// MatchReport is a backward-looking update about the last match.
type MatchReport struct {
	Result  Result        `json:"result,omitempty"`
	Minutes MinutesBucket `json:"minutes,omitempty"`
	Goals   int           `json:"goals"`
	Assists int           `json:"assists"`
	Injured bool          `json:"injured"`
}

// PerformanceReport is a free-form performance submission with exact minutes.
type PerformanceReport struct {
	Minutes int    `json:"minutes"`
	Goals   int    `json:"goals"`
	Assists int    `json:"assists"`
	Result  Result `json:"result,omitempty"`
	Injured bool   `json:"injured"`
}

// BucketMinutes maps exact minutes played to their bucket. Anything past
// regulation time lands in the top bucket.
func BucketMinutes(minutes int) MinutesBucket {
	switch {
	case minutes <= 0:
		return Minutes0
	case minutes <= 30:
		return Minutes1To30
	case minutes <= 60:
		return Minutes31To60
	default:
		return Minutes61To90
	}
}

// MatchReport condenses the submission into the structured last-match form
// stored on the instrument.
func (r PerformanceReport) MatchReport() MatchReport {
	return MatchReport{
		Result:  r.Result,
		Minutes: BucketMinutes(r.Minutes),
		Goals:   r.Goals,
		Assists: r.Assists,
		Injured: r.Injured,
	}
}
