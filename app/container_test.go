package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RezaEskandarii/notifire/internal/greeter"
	"github.com/RezaEskandarii/notifire/types"
	"github.com/RezaEskandarii/notifire/types/config"
)

type stubSender struct{}

func (stubSender) Send(ctx context.Context, email, message string) (bool, error) { return true, nil }

func testConfig(t *testing.T, opts ...config.ContainerOption) *config.NotifireConfig {
	t.Helper()
	opts = append([]config.ContainerOption{
		config.WithGreeterConfig(greeter.Config{
			MailProviderURL: "http://mail.test/send",
			RecipientEmail:  "test@digitalenvision.com.au",
		}),
	}, opts...)
	cfg, err := config.NewNotifireConfig("test-instance", opts...)
	require.NoError(t, err)
	return cfg
}

func testOptions(t *testing.T) ([]ContainerOption, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return []ContainerOption{
		WithDB(db),
		WithRedis(rdb),
		WithSender(stubSender{}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, mock
}

func TestNewContainer_WiresGreeter(t *testing.T) {
	opts, mock := testOptions(t)
	c, err := NewContainer(context.Background(), testConfig(t), opts...)
	require.NoError(t, err)

	assert.NotNil(t, c.Greeter)
	assert.NotNil(t, c.Checkpoints)
	assert.NotNil(t, c.RunLease)
	assert.Nil(t, c.MessageBroker)
	assert.True(t, c.JobHandler.Exists(greeter.JobName))
	assert.Equal(t, []string{greeter.JobName}, c.JobHandler.List())

	mock.ExpectClose()
	require.NoError(t, c.Close(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewContainer_RegistersExtraHandlers(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, cfg.RegisterHandler(config.MethodHandler{
		JobName: "cleanup",
		Func:    func(ctx context.Context, job types.EnqueuedJob) error { return nil },
	}))

	opts, _ := testOptions(t)
	c, err := NewContainer(context.Background(), cfg, opts...)
	require.NoError(t, err)

	assert.True(t, c.JobHandler.Exists("cleanup"))
	assert.True(t, c.JobHandler.Exists(greeter.JobName))
}

func TestNewContainer_HandlerNameClashesWithGreeter(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, cfg.RegisterHandler(config.MethodHandler{
		JobName: greeter.JobName,
		Func:    func(ctx context.Context, job types.EnqueuedJob) error { return nil },
	}))

	opts, _ := testOptions(t)
	_, err := NewContainer(context.Background(), cfg, opts...)
	assert.Error(t, err)
}

func TestNewContainer_RequiresRedisAddress(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewContainer(context.Background(), testConfig(t), WithDB(db), WithSender(stubSender{}))
	assert.ErrorContains(t, err, "redis address is required")
}
