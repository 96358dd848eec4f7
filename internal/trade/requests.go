package trade

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fanunits/market-engine/internal/catalog"
	"github.com/fanunits/market-engine/internal/model"
)

// validate checks request bodies. Custom tags: direction, category.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("direction", validateDirection)
	_ = v.RegisterValidation("category", validateCategory)
	return v
}

func validateDirection(fl validator.FieldLevel) bool {
	return model.Direction(fl.Field().String()).Valid()
}

func validateCategory(fl validator.FieldLevel) bool {
	return catalog.ValidCategory(model.Category(fl.Field().String()))
}

// describe turns validator errors into one readable line.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// TradeRequest is the JSON body for POST /trades. Trades execute at the
// catalog's current price; unit_price, when sent, is the quote the client saw
// and the trade is refused if the price has moved since.
type TradeRequest struct {
	UserID    string          `json:"user_id" validate:"required,max=128"`
	Symbol    string          `json:"symbol" validate:"required"`
	Direction string          `json:"direction" validate:"required,direction"`
	Quantity  int64           `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CreateInstrumentRequest is the JSON body for POST /instruments.
type CreateInstrumentRequest struct {
	Symbol      string `json:"symbol" validate:"required"`
	DisplayName string `json:"display_name" validate:"max=64"`
	Category    string `json:"category" validate:"required,category"`
	OwnerUserID string `json:"owner_user_id" validate:"max=128"`
}

// PinBaseRequest is the JSON body for PUT /instruments/{symbol}/base.
type PinBaseRequest struct {
	Base *decimal.Decimal `json:"base"`
}

// ForecastRequest describes the next match.
type ForecastRequest struct {
	Role       string `json:"role" validate:"omitempty,oneof=starter bench unselected"`
	Venue      string `json:"venue" validate:"omitempty,oneof=home away"`
	Condition  string `json:"condition" validate:"omitempty,oneof=fit minor impaired"`
	Importance string `json:"importance" validate:"omitempty,oneof=cup league friendly"`
}

// ReportRequest describes the last match.
type ReportRequest struct {
	Result  string `json:"result" validate:"omitempty,oneof=win draw loss"`
	Minutes string `json:"minutes" validate:"omitempty,oneof=0 1-30 31-60 61-90"`
	Goals   int    `json:"goals" validate:"gte=0,lte=20"`
	Assists int    `json:"assists" validate:"gte=0,lte=20"`
	Injured bool   `json:"injured"`
}

// EventRequest is the JSON body for POST /instruments/{symbol}/events.
// Either half may be omitted.
type EventRequest struct {
	NextMatch *ForecastRequest `json:"next_match"`
	LastMatch *ReportRequest   `json:"last_match"`
}

func (r EventRequest) toModel() (*model.MatchForecast, *model.MatchReport) {
	var f *model.MatchForecast
	if r.NextMatch != nil {
		f = &model.MatchForecast{
			Role:       model.Role(r.NextMatch.Role),
			Venue:      model.Venue(r.NextMatch.Venue),
			Condition:  model.Condition(r.NextMatch.Condition),
			Importance: model.Importance(r.NextMatch.Importance),
		}
	}
	var rep *model.MatchReport
	if r.LastMatch != nil {
		rep = &model.MatchReport{
			Result:  model.Result(r.LastMatch.Result),
			Minutes: model.MinutesBucket(r.LastMatch.Minutes),
			Goals:   r.LastMatch.Goals,
			Assists: r.LastMatch.Assists,
			Injured: r.LastMatch.Injured,
		}
	}
	return f, rep
}

// PerformanceRequest is the JSON body for POST /instruments/{symbol}/performance.
type PerformanceRequest struct {
	Minutes int    `json:"minutes" validate:"gte=0,lte=130"`
	Goals   int    `json:"goals" validate:"gte=0,lte=20"`
	Assists int    `json:"assists" validate:"gte=0,lte=20"`
	Result  string `json:"result" validate:"omitempty,oneof=win draw loss"`
	Injured bool   `json:"injured"`
}

func (r PerformanceRequest) toModel() model.PerformanceReport {
	return model.PerformanceReport{
		Minutes: r.Minutes,
		Goals:   r.Goals,
		Assists: r.Assists,
		Result:  model.Result(r.Result),
		Injured: r.Injured,
	}
}
