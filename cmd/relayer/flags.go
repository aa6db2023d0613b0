package main

import "github.com/urfave/cli/v2"

// secretFlags never appear in the printed resume command.
var secretFlags = []string{"near-sender-sk", "eth-master-sk"}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
			EnvVars: []string{"VERBOSE"},
		},
		&cli.StringFlag{
			Name:    "journal",
			Usage:   "Path of the transfer journal",
			EnvVars: []string{"RELAYER_JOURNAL"},
			Value:   "near2eth-transfer.json",
		},
	}
}

func transferFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "sender",
			Aliases:  []string{"near-sender-account"},
			Usage:    "NEAR account burning the tokens",
			EnvVars:  []string{"NEAR_SENDER_ACCOUNT"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "near-sender-sk",
			Usage:   "NEAR secret key of the sender (ed25519:...). Prefer the environment variable, the flag is not repeated in the resume command",
			EnvVars: []string{"NEAR_SENDER_SK"},
		},
		&cli.StringFlag{
			Name:     "amount",
			Usage:    "Amount to transfer, in token base units",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "recipient",
			Aliases:  []string{"eth-receiver-address"},
			Usage:    "Ethereum address receiving the unlocked tokens",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "token-name",
			Usage: "Token from the TOKENS registry; the default token when empty",
		},
		&cli.StringFlag{
			Name:  "withdraw-tx",
			Usage: "Hash of a withdrawal that was broadcast but never recorded; recovers it instead of withdrawing again",
		},
		&cli.BoolFlag{
			Name:  "force",
			Usage: "Discard a journal that belongs to a different transfer",
		},
		// Bridge overrides
		&cli.StringFlag{
			Name:  "near-node-url",
			Usage: "NEAR JSON-RPC endpoint (overrides NEAR_NODE_URL)",
		},
		&cli.StringFlag{
			Name:  "eth-node-url",
			Usage: "Ethereum JSON-RPC endpoint (overrides ETH_NODE_URL)",
		},
		&cli.StringFlag{
			Name:  "eth-master-sk",
			Usage: "Ethereum key paying for the unlock (overrides ETH_MASTER_SK)",
		},
		&cli.Uint64Flag{
			Name:  "eth-gas-multiplier",
			Usage: "Multiplier applied to the suggested gas price (overrides ETH_GAS_MULTIPLIER)",
		},
		// Metrics
		&cli.StringFlag{
			Name:    "metrics-host",
			Usage:   "Host for Prometheus metrics server (empty for all interfaces)",
			EnvVars: []string{"METRICS_HOST"},
			Value:   "",
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Usage:   "Port for Prometheus metrics server; 0 disables it",
			EnvVars: []string{"METRICS_PORT"},
			Value:   9090,
		},
		&cli.StringFlag{
			Name:    "environment",
			Usage:   "Deployment environment label for metrics",
			EnvVars: []string{"ENVIRONMENT"},
		},
		&cli.StringFlag{
			Name:    "region",
			Usage:   "Cloud region label for metrics",
			EnvVars: []string{"REGION"},
		},
		&cli.StringFlag{
			Name:    "cloud-provider",
			Usage:   "Cloud provider label for metrics",
			EnvVars: []string{"CLOUD_PROVIDER"},
		},
	}
}
