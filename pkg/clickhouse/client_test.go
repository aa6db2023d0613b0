package clickhouse

import (
	"errors"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ava-labs/near-relayer/pkg/clickhouse/mocks"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Enabled)
	assert.Equal(t, []string{"localhost:9000"}, cfg.Hosts)
	assert.Equal(t, "default", cfg.Database)
	assert.Equal(t, "relayer_transfers", cfg.TransfersTable)
	assert.Equal(t, 2, cfg.MaxOpenConns)
	assert.Equal(t, "near-relayer", cfg.ClientName)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("CLICKHOUSE_ENABLED", "true")
	t.Setenv("CLICKHOUSE_HOSTS", "ch-1:9000,ch-2:9000")
	t.Setenv("CLICKHOUSE_DATABASE", "bridge")
	t.Setenv("CLICKHOUSE_USERNAME", "relayer")
	t.Setenv("CLICKHOUSE_PASSWORD", "secret")
	t.Setenv("CLICKHOUSE_TRANSFERS_TABLE", "transfers_v2")
	t.Setenv("CLICKHOUSE_DIAL_TIMEOUT", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Enabled)
	assert.Equal(t, []string{"ch-1:9000", "ch-2:9000"}, cfg.Hosts)
	assert.Equal(t, "bridge", cfg.Database)
	assert.Equal(t, "relayer", cfg.Username)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, "transfers_v2", cfg.TransfersTable)
	assert.Equal(t, 5, cfg.DialTimeout)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("CLICKHOUSE_MAX_OPEN_CONNS", "many")

	_, err := Load()
	require.ErrorContains(t, err, "parse clickhouse config")
}

func TestOptions(t *testing.T) {
	cfg := ClickhouseConfig{
		Hosts:                []string{"ch:9000"},
		Database:             "bridge",
		Username:             "relayer",
		Password:             "secret",
		MaxExecutionTime:     60,
		DialTimeout:          3,
		MaxOpenConns:         4,
		MaxIdleConns:         1,
		ConnMaxLifetime:      10,
		MaxCompressionBuffer: 2048,
		ClientName:           "near-relayer",
		ClientVersion:        "1.0",
		InsecureSkipVerify:   true,
	}

	opts := Options(cfg, nil)

	assert.Equal(t, cfg.Hosts, opts.Addr)
	assert.Equal(t, "bridge", opts.Auth.Database)
	assert.Equal(t, "relayer", opts.Auth.Username)
	assert.Equal(t, "secret", opts.Auth.Password)
	assert.Equal(t, 3*time.Second, opts.DialTimeout)
	assert.Equal(t, 10*time.Minute, opts.ConnMaxLifetime)
	assert.Equal(t, 4, opts.MaxOpenConns)
	assert.Equal(t, 1, opts.MaxIdleConns)
	assert.Equal(t, 60, opts.Settings[maxExecutionTime])
	assert.Equal(t, clickhouse.CompressionLZ4, opts.Compression.Method)
	require.Len(t, opts.ClientInfo.Products, 1)
	assert.Equal(t, "near-relayer", opts.ClientInfo.Products[0].Name)
	assert.True(t, opts.TLS.InsecureSkipVerify)
	assert.Nil(t, opts.Debugf)
}

func TestOptions_DebugUsesLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	opts := Options(ClickhouseConfig{Debug: true}, zap.New(core).Sugar())
	require.NotNil(t, opts.Debugf)
	opts.Debugf("sent %d rows", 3)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "sent 3 rows", logs.All()[0].Message)
}

func TestNew_NoHosts(t *testing.T) {
	client, err := New(t.Context(), ClickhouseConfig{}, zap.NewNop().Sugar())

	require.ErrorContains(t, err, "no clickhouse hosts")
	assert.Nil(t, client)
}

func TestClient_Conn(t *testing.T) {
	conn := &mocks.MockConn{}
	client := NewWithConn(conn, nil)

	assert.Same(t, conn, client.Conn())
}

func TestClient_Ping(t *testing.T) {
	conn := &mocks.MockConn{}
	conn.On("Ping", mock.Anything).Return(nil)

	client := NewWithConn(conn, zap.NewNop().Sugar())

	require.NoError(t, client.Ping(t.Context()))
	conn.AssertExpectations(t)
}

func TestClient_PingException(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	exception := &clickhouse.Exception{Code: 516, Message: "Authentication failed"}

	conn := &mocks.MockConn{}
	conn.On("Ping", mock.Anything).Return(exception)

	client := NewWithConn(conn, zap.New(core).Sugar())
	err := client.Ping(t.Context())

	var got *clickhouse.Exception
	require.ErrorAs(t, err, &got)
	assert.Equal(t, int32(516), got.Code)

	entries := logs.FilterMessage("failed to ping ClickHouse").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int32(516), entries[0].ContextMap()["code"])
}

func TestClient_PingError(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	pingErr := errors.New("connection refused")

	conn := &mocks.MockConn{}
	conn.On("Ping", mock.Anything).Return(pingErr)

	client := NewWithConn(conn, zap.New(core).Sugar())
	err := client.Ping(t.Context())

	require.ErrorIs(t, err, pingErr)
	assert.Equal(t, 1, logs.FilterMessage("failed to ping ClickHouse").Len())
}

func TestClient_Close(t *testing.T) {
	conn := &mocks.MockConn{}
	conn.On("Close").Return(nil)

	client := NewWithConn(conn, nil)

	require.NoError(t, client.Close())
	conn.AssertExpectations(t)
}
