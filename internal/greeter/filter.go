package greeter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/RezaEskandarii/notifire/internal/engine"
	"github.com/RezaEskandarii/notifire/internal/record"
	"github.com/RezaEskandarii/notifire/internal/record/postgres"
)

// Params are the scan parameters of a greeter run.
type Params struct {
	// ServerSendTime is the run's as-of time in UTC.
	ServerSendTime string `json:"serverSendTime" validate:"required,datetime=2006-01-02 15:04:05"`
	// ScheduledSendTime is the local wall clock time greetings go out at.
	ScheduledSendTime string `json:"scheduledSendTime" validate:"required,datetime=15:04"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// birthdayClause matches users whose birthday at the scheduled local time
// falls on the server send time seen from their own time zone.
const birthdayClause = `to_char(birth_date + $1::time, 'MM-DD HH24:MI') = ` +
	`to_char(($2::timestamp AT TIME ZONE 'UTC') AT TIME ZONE location, 'MM-DD HH24:MI')`

func ParseParams(raw json.RawMessage) (Params, error) {
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode greeter params: %w", err)
	}
	if err := validate.Struct(p); err != nil {
		return p, fmt.Errorf("invalid greeter params: %w", err)
	}
	return p, nil
}

// BuildFilter turns raw params into a users predicate.
func BuildFilter(raw json.RawMessage) (record.Filter, error) {
	p, err := ParseParams(raw)
	if err != nil {
		return nil, err
	}
	return postgres.Predicate{
		Clause: birthdayClause,
		Args:   []any{p.ScheduledSendTime, p.ServerSendTime},
	}, nil
}

// NewParams builds the params of a run as of t.
func NewParams(asOf time.Time, scheduledSendTime string) (json.RawMessage, error) {
	return json.Marshal(Params{
		ServerSendTime:    engine.FormatAsOf(asOf),
		ScheduledSendTime: scheduledSendTime,
	})
}
