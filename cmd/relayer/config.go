package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/ava-labs/near-relayer/pkg/backoff"
	"github.com/ava-labs/near-relayer/pkg/clickhouse"
	"github.com/ava-labs/near-relayer/pkg/queue"
	ptypes "github.com/ava-labs/near-relayer/pkg/types"
)

// BridgeConfig describes the deployed bridge. It comes from the environment
// and can be overridden per invocation by flags.
type BridgeConfig struct {
	NearNodeURL      string        `env:"NEAR_NODE_URL" envDefault:"https://rpc.testnet.near.org"`
	NearNetworkID    string        `env:"NEAR_NETWORK_ID" envDefault:"testnet"`
	NearPollInterval time.Duration `env:"NEAR_POLL_INTERVAL" envDefault:"1s"`

	EthNodeURL        string `env:"ETH_NODE_URL" envDefault:"http://localhost:8545"`
	EthMasterSK       string `env:"ETH_MASTER_SK"`
	EthClientAddress  string `env:"ETH_CLIENT_ADDRESS"`
	EthProverAddress  string `env:"ETH_PROVER_ADDRESS"`
	EthLockerAddress  string `env:"ETH_LOCKER_ADDRESS"`
	EthGasMultiplier  uint64 `env:"ETH_GAS_MULTIPLIER" envDefault:"1"`
	EthUnlockGasLimit uint64 `env:"ETH_UNLOCK_GAS_LIMIT" envDefault:"5000000"`
	DefaultTokenAcct  string `env:"NEAR_TOKEN_ACCOUNT"`
	DefaultTokenAddr  string `env:"ETH_TOKEN_ADDRESS"`

	// Tokens maps a token name to "nearAccount:0xaddress".
	Tokens map[string]string `env:"TOKENS" envSeparator:"," envKeyValSeparator:"="`

	RPCMaxAttempts  int           `env:"RPC_MAX_ATTEMPTS" envDefault:"10"`
	RPCInitialDelay time.Duration `env:"RPC_INITIAL_DELAY" envDefault:"500ms"`
	RPCMaxDelay     time.Duration `env:"RPC_MAX_DELAY" envDefault:"30s"`
}

// LoadBridge reads the bridge configuration from the environment.
func LoadBridge() (BridgeConfig, error) {
	var cfg BridgeConfig
	if err := env.Parse(&cfg); err != nil {
		return BridgeConfig{}, fmt.Errorf("parse bridge config: %w", err)
	}
	return cfg, nil
}

// Token resolves a token name to its NEAR account and Ethereum address. The
// empty name selects the default token.
func (b BridgeConfig) Token(name string) (account, address string, err error) {
	if name == "" {
		if b.DefaultTokenAcct == "" || b.DefaultTokenAddr == "" {
			return "", "", errors.New("no default token: set NEAR_TOKEN_ACCOUNT and ETH_TOKEN_ADDRESS or pass --token-name")
		}
		return b.DefaultTokenAcct, b.DefaultTokenAddr, nil
	}
	entry, ok := b.Tokens[name]
	if !ok {
		known := make([]string, 0, len(b.Tokens))
		for k := range b.Tokens {
			known = append(known, k)
		}
		sort.Strings(known)
		return "", "", fmt.Errorf("unknown token %q (known: %s)", name, strings.Join(known, ", "))
	}
	account, address, ok = strings.Cut(entry, ":")
	if !ok || account == "" || address == "" {
		return "", "", fmt.Errorf("token %q: want nearAccount:0xaddress, got %q", name, entry)
	}
	return account, address, nil
}

// RetryPolicy is the policy wrapped around chain reads.
func (b BridgeConfig) RetryPolicy() backoff.Policy {
	p := backoff.DefaultPolicy()
	p.MaxAttempts = b.RPCMaxAttempts
	p.InitialDelay = b.RPCInitialDelay
	p.MaxDelay = b.RPCMaxDelay
	return p
}

func (b BridgeConfig) Validate() error {
	var errs []error
	if b.NearNodeURL == "" {
		errs = append(errs, errors.New("near node url is required"))
	}
	if b.EthNodeURL == "" {
		errs = append(errs, errors.New("eth node url is required"))
	}
	for name, addr := range map[string]string{
		"eth client address": b.EthClientAddress,
		"eth prover address": b.EthProverAddress,
		"eth locker address": b.EthLockerAddress,
	} {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Errorf("invalid %s %q", name, addr))
		}
	}
	if b.RPCMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("rpc max attempts must be at least 1, got %d", b.RPCMaxAttempts))
	}
	return errors.Join(errs...)
}

// Config holds all configuration for one relayer invocation
type Config struct {
	Verbose     bool
	JournalPath string

	// Transfer request
	Sender     string
	SenderKey  string
	Amount     string
	TokenName  string
	Recipient  string
	WithdrawTx *ptypes.CryptoHash
	Force      bool

	Bridge     BridgeConfig
	ClickHouse clickhouse.ClickhouseConfig
	Kafka      queue.KafkaConfig

	// Metrics settings
	MetricsHost   string
	MetricsPort   int
	Environment   string
	Region        string
	CloudProvider string
}

// MetricsAddr returns the formatted metrics address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// Request builds the transfer request, resolving the token through the registry.
func (c *Config) Request() (ptypes.TransferRequest, error) {
	account, address, err := c.Bridge.Token(c.TokenName)
	if err != nil {
		return ptypes.TransferRequest{}, err
	}
	return ptypes.NewTransferRequest(c.Sender, c.Amount, c.TokenName, account, address, c.Recipient)
}

// buildConfig builds a Config from the environment and CLI flags. Flags that
// were set explicitly win over the environment.
func buildConfig(c *cli.Context) (*Config, error) {
	bridge, err := LoadBridge()
	if err != nil {
		return nil, err
	}
	overrideString(c, "near-node-url", &bridge.NearNodeURL)
	overrideString(c, "eth-node-url", &bridge.EthNodeURL)
	overrideString(c, "eth-master-sk", &bridge.EthMasterSK)
	if c.IsSet("eth-gas-multiplier") {
		bridge.EthGasMultiplier = c.Uint64("eth-gas-multiplier")
	}
	if err := bridge.Validate(); err != nil {
		return nil, err
	}

	chCfg, err := clickhouse.Load()
	if err != nil {
		return nil, err
	}
	kafkaCfg, err := queue.LoadKafkaConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Verbose:       c.Bool("verbose"),
		JournalPath:   c.String("journal"),
		Sender:        c.String("sender"),
		SenderKey:     c.String("near-sender-sk"),
		Amount:        c.String("amount"),
		TokenName:     c.String("token-name"),
		Recipient:     c.String("recipient"),
		Force:         c.Bool("force"),
		Bridge:        bridge,
		ClickHouse:    chCfg,
		Kafka:         kafkaCfg,
		MetricsHost:   c.String("metrics-host"),
		MetricsPort:   c.Int("metrics-port"),
		Environment:   c.String("environment"),
		Region:        c.String("region"),
		CloudProvider: c.String("cloud-provider"),
	}
	if s := c.String("withdraw-tx"); s != "" {
		h, err := ptypes.ParseCryptoHash(s)
		if err != nil {
			return nil, fmt.Errorf("invalid --withdraw-tx: %w", err)
		}
		cfg.WithdrawTx = &h
	}
	return cfg, nil
}

func overrideString(c *cli.Context, flag string, dst *string) {
	if c.IsSet(flag) {
		*dst = c.String(flag)
	}
}
