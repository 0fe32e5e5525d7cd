package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/StricklySoft/stricklysoft-authz/internal/testutil"
	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

type mockCmdable struct {
	mock.Mock
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	args := m.Called(ctx, key, value, expiration)
	return args.Get(0).(*redis.BoolCmd)
}

func (m *mockCmdable) Ping(ctx context.Context) *redis.StatusCmd {
	args := m.Called(ctx)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *mockCmdable) Close() error {
	return m.Called().Error(0)
}

func boolCmd(val bool, err error) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(context.Background())
	if err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(val)
	}
	return cmd
}

func statusCmd(err error) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(context.Background())
	if err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal("PONG")
	}
	return cmd
}

var ctxArg = mock.Anything

func TestClient_SetNX_PrefixesKey(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("SetNX", ctxArg, "authz:jwks-refresh", "replica-a", time.Minute).Return(boolCmd(true, nil)).Once()
	m.On("SetNX", ctxArg, "authz:jwks-refresh", "replica-b", time.Minute).Return(boolCmd(false, nil)).Once()

	c := NewFromClient(m, &Config{KeyPrefix: "authz:"})

	ok, err := c.SetNX(context.Background(), "jwks-refresh", "replica-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(context.Background(), "jwks-refresh", "replica-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	m.AssertExpectations(t)
}

func TestClient_SetNX_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		cause error
		code  sserr.Code
	}{
		{"deadline", context.DeadlineExceeded, sserr.CodeTimeoutDependency},
		{"canceled", context.Canceled, sserr.CodeInternalCache},
		{"connection", errors.New("dial tcp: connection refused"), sserr.CodeInternalCache},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := &mockCmdable{}
			m.On("SetNX", ctxArg, "k", "v", time.Second).Return(boolCmd(false, tt.cause))

			ok, err := NewFromClient(m, nil).SetNX(context.Background(), "k", "v", time.Second)
			assert.False(t, ok)
			testutil.AssertErrorCode(t, err, tt.code)
			assert.ErrorIs(t, err, tt.cause)
		})
	}
}

func TestClient_Health(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Ping", ctxArg).Return(statusCmd(nil)).Once()
	m.On("Ping", ctxArg).Return(statusCmd(errors.New("connection refused"))).Once()
	c := NewFromClient(m, nil)

	require.NoError(t, c.Health(context.Background()))
	err := c.Health(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeUnavailableDependency)
	assert.True(t, sserr.IsRetryable(err))
}

func TestClient_HealthAppliesDeadline(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Ping", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	})).Return(statusCmd(nil))

	require.NoError(t, NewFromClient(m, nil).Health(context.Background()))
	m.AssertExpectations(t)
}

func TestClient_Close(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Close").Return(nil)
	require.NoError(t, NewFromClient(m, nil).Close())
	m.AssertExpectations(t)
}

func TestClient_SetNXSpan(t *testing.T) {
	t.Parallel()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	m := &mockCmdable{}
	m.On("SetNX", ctxArg, "authz:lock", "me", time.Minute).Return(boolCmd(true, nil))

	_, err := NewFromClient(m, &Config{KeyPrefix: "authz:", DB: 2}, WithTracerProvider(tp)).
		SetNX(context.Background(), "lock", "me", time.Minute)
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "redis.SetNX", spans[0].Name)
	assert.Contains(t, spans[0].Attributes, attribute.Bool("redis.acquired", true))
	assert.Contains(t, spans[0].Attributes, attribute.Int("db.redis.database_index", 2))
	assert.Contains(t, spans[0].Attributes, attribute.String("db.statement", "SETNX authz:lock"))
}
