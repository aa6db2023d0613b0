package clickhouse

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ClickhouseConfig holds the configuration for the transfer history sink.
// History is optional; nothing connects to ClickHouse unless Enabled is set.
type ClickhouseConfig struct {
	Enabled              bool     `env:"CLICKHOUSE_ENABLED" envDefault:"false"`
	Hosts                []string `env:"CLICKHOUSE_HOSTS" envSeparator:"," envDefault:"localhost:9000"`
	Database             string   `env:"CLICKHOUSE_DATABASE" envDefault:"default"`
	Username             string   `env:"CLICKHOUSE_USERNAME" envDefault:"default"`
	Password             string   `env:"CLICKHOUSE_PASSWORD" envDefault:""`
	TransfersTable       string   `env:"CLICKHOUSE_TRANSFERS_TABLE" envDefault:"relayer_transfers"`
	Debug                bool     `env:"CLICKHOUSE_DEBUG" envDefault:"false"`
	InsecureSkipVerify   bool     `env:"CLICKHOUSE_INSECURE_SKIP_VERIFY" envDefault:"true"`
	MaxExecutionTime     int      `env:"CLICKHOUSE_MAX_EXECUTION_TIME" envDefault:"60"` // seconds
	DialTimeout          int      `env:"CLICKHOUSE_DIAL_TIMEOUT" envDefault:"30"`       // seconds
	MaxOpenConns         int      `env:"CLICKHOUSE_MAX_OPEN_CONNS" envDefault:"2"`
	MaxIdleConns         int      `env:"CLICKHOUSE_MAX_IDLE_CONNS" envDefault:"2"`
	ConnMaxLifetime      int      `env:"CLICKHOUSE_CONN_MAX_LIFETIME" envDefault:"10"`         // minutes
	MaxCompressionBuffer int      `env:"CLICKHOUSE_MAX_COMPRESSION_BUFFER" envDefault:"10240"` // bytes
	ClientName           string   `env:"CLICKHOUSE_CLIENT_NAME" envDefault:"near-relayer"`
	ClientVersion        string   `env:"CLICKHOUSE_CLIENT_VERSION" envDefault:"1.0"`
}

// Load reads the ClickHouse configuration from environment variables.
func Load() (ClickhouseConfig, error) {
	var cfg ClickhouseConfig
	if err := env.Parse(&cfg); err != nil {
		return ClickhouseConfig{}, fmt.Errorf("parse clickhouse config: %w", err)
	}
	return cfg, nil
}
