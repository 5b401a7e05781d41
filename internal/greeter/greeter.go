// Package greeter is the birthday greeting job: every quarter hour it sends a
// greeting to each user whose local birthday morning starts at that moment.
package greeter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/RezaEskandarii/notifire/internal/engine"
	"github.com/RezaEskandarii/notifire/internal/record"
	"github.com/RezaEskandarii/notifire/internal/record/postgres"
)

const (
	JobName = "birthday-greeter-send"
	// Scope prefixes the greeter's checkpoint and lease keys.
	Scope = "birthday-greeter"

	DefaultScheduledSendTime = "09:00"
	DefaultRecurringSchedule = "*/15 * * * *"
	DefaultRetryDelay        = 300 * time.Second
	DefaultHTTPTimeout       = 30 * time.Second
)

type Config struct {
	MailProviderURL   string
	RecipientEmail    string
	ScheduledSendTime string
	RecurringSchedule string
	RetryDelay        time.Duration
	HTTPTimeout       time.Duration
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, email, message string) (bool, error)
}

type Job struct {
	cfg    Config
	sender Sender
	logger *slog.Logger
}

var _ engine.Job[Recipient] = (*Job)(nil)

func NewJob(cfg Config, sender Sender, logger *slog.Logger) *Job {
	if cfg.ScheduledSendTime == "" {
		cfg.ScheduledSendTime = DefaultScheduledSendTime
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{cfg: cfg, sender: sender, logger: logger.With("job", JobName)}
}

// NewSource scans the users table.
func NewSource(db *sql.DB) *postgres.Source[Recipient] {
	return postgres.NewSource[Recipient](db, UsersTable, ScanRecipient)
}

// Message is the greeting text for a recipient.
func Message(firstName string) string {
	return fmt.Sprintf("Hey, %s it’s your birthday.", firstName)
}

func (j *Job) Name() string { return JobName }

func (j *Job) SendOne(ctx context.Context, r Recipient) (bool, error) {
	return j.sender.Send(ctx, j.cfg.RecipientEmail, Message(r.FirstName))
}

func (j *Job) BuildFilter(params json.RawMessage) (record.Filter, error) {
	return BuildFilter(params)
}

func (j *Job) DefaultParams(asOf time.Time) (json.RawMessage, error) {
	return NewParams(asOf, j.cfg.ScheduledSendTime)
}

func (j *Job) RetryDelay() time.Duration { return j.cfg.RetryDelay }

func (j *Job) OnExhaustedRetries(ctx context.Context, runID string) {
	j.logger.ErrorContext(ctx, "birthday greeter gave up on run, some users were not greeted", "run_id", runID)
}
