package jobmanager

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RezaEskandarii/notifire/app"
	"github.com/RezaEskandarii/notifire/custom_errors"
	"github.com/RezaEskandarii/notifire/internal/greeter"
	"github.com/RezaEskandarii/notifire/internal/store"
	"github.com/RezaEskandarii/notifire/types/config"
)

type stubSender struct{}

func (stubSender) Send(ctx context.Context, email, message string) (bool, error) { return true, nil }

type payloadArg string

func (p payloadArg) Match(v driver.Value) bool {
	b, ok := v.([]byte)
	return ok && string(b) == string(p)
}

func newTestContainer(t *testing.T) (*app.Container, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mr := miniredis.RunT(t)

	cfg, err := config.NewNotifireConfig("test-instance", config.WithGreeterConfig(greeter.Config{
		MailProviderURL:   "http://mail.test/send",
		ScheduledSendTime: "09:00",
	}))
	require.NoError(t, err)

	c, err := app.NewContainer(context.Background(), cfg,
		app.WithDB(db),
		app.WithRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()})),
		app.WithSender(stubSender{}),
		app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return c, mock
}

func TestTriggerSend_ExplicitTime(t *testing.T) {
	c, mock := newTestContainer(t)

	want := `{"scanParameters":{"serverSendTime":"2025-06-21 09:15:00","scheduledSendTime":"09:00"}}`
	mock.ExpectQuery("INSERT INTO notifire.enqueued_jobs").
		WithArgs(sqlmock.AnyArg(), greeter.JobName, payloadArg(want), sqlmock.AnyArg(), 3).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	runID, err := TriggerSend(context.Background(), c, "2025-06-21 09:15:00", time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTriggerSend_DefaultsToCurrentAsOf(t *testing.T) {
	c, mock := newTestContainer(t)

	want := `{"scanParameters":{"serverSendTime":"2025-06-21 10:00:00","scheduledSendTime":"09:00"}}`
	mock.ExpectQuery("INSERT INTO notifire.enqueued_jobs").
		WithArgs(sqlmock.AnyArg(), greeter.JobName, payloadArg(want), sqlmock.AnyArg(), 3).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))

	now := time.Date(2025, 6, 21, 10, 7, 42, 0, time.UTC)
	_, err := TriggerSend(context.Background(), c, "", now)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTriggerSend_RejectsMalformedTime(t *testing.T) {
	c, mock := newTestContainer(t)

	_, err := TriggerSend(context.Background(), c, "2025-06-21T09:15", time.Now())
	assert.ErrorContains(t, err, "expected YYYY-MM-DD HH:MM:00")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_StopsWhenMigrationFails(t *testing.T) {
	c, mock := newTestContainer(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	err := Run(context.Background(), c)
	assert.ErrorContains(t, err, "migrate")
}

var enqueuedJobColumns = []string{
	"id", "job_key", "name", "payload", "status", "attempts", "max_attempts",
	"scheduled_at", "executed_at", "finished_at", "last_error", "locked_by", "locked_at", "created_at",
}

func TestRunJob_UnknownID(t *testing.T) {
	c, mock := newTestContainer(t)
	mock.ExpectQuery("SELECT .* FROM notifire.enqueued_jobs WHERE id = \\$1").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows(enqueuedJobColumns))

	err := RunJob(context.Background(), c, 42)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorContains(t, err, "run job 42")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunJob_NoHandlerForJob(t *testing.T) {
	c, mock := newTestContainer(t)
	now := time.Now()
	mock.ExpectQuery("SELECT .* FROM notifire.enqueued_jobs WHERE id = \\$1").
		WithArgs(43).
		WillReturnRows(sqlmock.NewRows(enqueuedJobColumns).
			AddRow(43, "key-43", "not-registered", nil, "queued", 0, 3, now, nil, nil, nil, nil, nil, now))

	err := RunJob(context.Background(), c, 43)
	assert.ErrorIs(t, err, custom_errors.ErrHandlerNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
