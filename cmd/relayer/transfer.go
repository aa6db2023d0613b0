package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ava-labs/near-relayer/internal/chainclient/ethereum"
	"github.com/ava-labs/near-relayer/internal/chainclient/near"
	"github.com/ava-labs/near-relayer/pkg/clickhouse"
	"github.com/ava-labs/near-relayer/pkg/data/clickhouse/transfers"
	"github.com/ava-labs/near-relayer/pkg/journal"
	"github.com/ava-labs/near-relayer/pkg/lightclient"
	"github.com/ava-labs/near-relayer/pkg/metrics"
	"github.com/ava-labs/near-relayer/pkg/proof"
	"github.com/ava-labs/near-relayer/pkg/queue"
	"github.com/ava-labs/near-relayer/pkg/source"
	"github.com/ava-labs/near-relayer/pkg/transfer"
	"github.com/ava-labs/near-relayer/pkg/unlock"
	"github.com/ava-labs/near-relayer/pkg/utils"
)

const shutdownTimeout = 10 * time.Second

func transferAction(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}
	req, err := cfg.Request()
	if err != nil {
		return fmt.Errorf("invalid transfer request: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(utils.LoggerConfig{
		Verbose:     cfg.Verbose,
		Command:     c.Command.Name,
		NetworkID:   cfg.Bridge.NearNetworkID,
		Environment: cfg.Environment,
	})
	if err != nil {
		return err
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"journal", cfg.JournalPath,
		"sender", req.Sender,
		"amount", req.Amount,
		"tokenAccount", req.TokenAccount,
		"tokenAddress", req.TokenAddress,
		"recipient", req.Recipient,
		"force", cfg.Force,
		"nearNodeURL", cfg.Bridge.NearNodeURL,
		"nearNetworkID", cfg.Bridge.NearNetworkID,
		"ethNodeURL", cfg.Bridge.EthNodeURL,
		"ethGasMultiplier", cfg.Bridge.EthGasMultiplier,
		"kafkaEnabled", cfg.Kafka.Enabled(),
		"clickhouseEnabled", cfg.ClickHouse.Enabled,
		"metricsPort", cfg.MetricsPort,
	)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithLabels(registry, metrics.Labels{
		NearNetwork:   cfg.Bridge.NearNetworkID,
		Environment:   cfg.Environment,
		Region:        cfg.Region,
		CloudProvider: cfg.CloudProvider,
	})
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	machine, cleanup, err := buildMachine(ctx, cfg, m, sugar)
	if err != nil {
		return err
	}
	defer cleanup()

	out := runWithMetricsServer(ctx, cfg, registry, sugar, func(ctx context.Context) transfer.Outcome {
		return machine.Run(ctx, transfer.Invocation{
			Request:    req,
			Args:       resumeArgs(os.Args),
			Force:      cfg.Force,
			WithdrawTx: cfg.WithdrawTx,
		})
	})
	return report(c.App.Writer, c.App.ErrWriter, out)
}

// buildMachine connects to both chains and the optional sinks. cleanup
// releases everything buildMachine opened.
func buildMachine(
	ctx context.Context,
	cfg *Config,
	m *metrics.Metrics,
	sugar *zap.SugaredLogger,
) (*transfer.Machine, func(), error) {
	var closers []func()
	cleanup := func() {
		for _, fn := range slices.Backward(closers) {
			fn()
		}
	}
	fail := func(err error) (*transfer.Machine, func(), error) {
		cleanup()
		return nil, nil, err
	}

	retry := cfg.Bridge.RetryPolicy()

	nearClient := near.New(cfg.Bridge.NearNodeURL, near.WithMetrics(m))
	srcOpts := []source.Option{
		source.WithMetrics(m),
		source.WithRetryPolicy(retry),
		source.WithPollInterval(cfg.Bridge.NearPollInterval),
	}
	if cfg.SenderKey != "" {
		key, err := near.ParseKeyPair(cfg.SenderKey)
		if err != nil {
			return fail(fmt.Errorf("invalid near sender key: %w", err))
		}
		srcOpts = append(srcOpts, source.WithSigner(key))
	}
	src := source.New(nearClient, sugar, srcOpts...)

	ethOpts := []ethereum.Option{
		ethereum.WithMetrics(m),
		ethereum.WithGasLimit(cfg.Bridge.EthUnlockGasLimit),
	}
	if cfg.Bridge.EthMasterSK != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Bridge.EthMasterSK, "0x"))
		if err != nil {
			return fail(fmt.Errorf("invalid eth master key: %w", err))
		}
		ethOpts = append(ethOpts, ethereum.WithSigner(key))
	}
	ethClient, err := ethereum.Dial(ctx, cfg.Bridge.EthNodeURL, ethereum.Contracts{
		LightClient: common.HexToAddress(cfg.Bridge.EthClientAddress),
		Prover:      common.HexToAddress(cfg.Bridge.EthProverAddress),
		Locker:      common.HexToAddress(cfg.Bridge.EthLockerAddress),
	}, ethOpts...)
	if err != nil {
		return fail(fmt.Errorf("failed to connect to ethereum: %w", err))
	}
	closers = append(closers, ethClient.Close)
	sugar.Infow("connected to ethereum", "chainID", ethClient.ChainID(), "sender", ethClient.Sender())

	light := lightclient.New(ethClient, sugar, lightclient.WithMetrics(m), lightclient.WithRetryPolicy(retry))
	proofs := proof.New(nearClient, sugar, proof.WithMetrics(m), proof.WithRetryPolicy(retry))
	unlocker := unlock.New(ethClient, sugar,
		unlock.WithMetrics(m),
		unlock.WithRetryPolicy(retry),
		unlock.WithGasMultiplier(cfg.Bridge.EthGasMultiplier),
	)

	opts := []transfer.Option{transfer.WithMetrics(m)}

	if cfg.Kafka.Enabled() {
		kafkaConf, err := cfg.Kafka.ConfigMap()
		if err != nil {
			return fail(fmt.Errorf("invalid kafka config: %w", err))
		}
		publisher, err := queue.NewKafkaPublisher(ctx, kafkaConf, sugar)
		if err != nil {
			return fail(fmt.Errorf("failed to create kafka publisher: %w", err))
		}
		closers = append(closers, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			publisher.Close(closeCtx)
		})
		go logPublisherErrors(publisher, sugar)
		if cfg.Kafka.CreateTopic {
			if err := publisher.EnsureTopic(ctx, cfg.Kafka.EventsTopic()); err != nil {
				return fail(fmt.Errorf("failed to ensure events topic: %w", err))
			}
		}
		opts = append(opts, transfer.WithEventPublisher(transfer.NewQueueEvents(publisher, cfg.Kafka.Topic)))
		sugar.Infow("publishing transfer events", "topic", cfg.Kafka.Topic)
	}

	if cfg.ClickHouse.Enabled {
		// History is best effort: an unreachable ClickHouse does not block the transfer.
		history, closeHistory, err := openHistory(ctx, cfg.ClickHouse, sugar)
		if err != nil {
			sugar.Warnw("transfer history disabled", "error", err)
		} else {
			closers = append(closers, closeHistory)
			opts = append(opts, transfer.WithHistory(history))
		}
	}

	machine, err := transfer.New(journal.NewFileJournal(cfg.JournalPath), src, light, proofs, unlocker, sugar, opts...)
	if err != nil {
		return fail(err)
	}
	return machine, cleanup, nil
}

func openHistory(ctx context.Context, cfg clickhouse.ClickhouseConfig, sugar *zap.SugaredLogger) (*transfers.History, func(), error) {
	client, err := clickhouse.New(ctx, cfg, sugar)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create ClickHouse client: %w", err)
	}
	table := cfg.Database + "." + cfg.TransfersTable
	repo, err := transfers.NewTransfers(ctx, client, table)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to create transfers repository: %w", err)
	}
	sugar.Infow("transfers table ready", "table", table)
	return transfers.NewHistory(repo), func() { client.Close() }, nil
}

func logPublisherErrors(p *queue.KafkaPublisher, sugar *zap.SugaredLogger) {
	for err := range p.Errors() {
		sugar.Errorw("kafka publisher failed, events will not be delivered", "error", err)
	}
}

// runWithMetricsServer runs fn beside the metrics server. The server stops
// once fn returns; a server failure is logged and does not stop fn.
func runWithMetricsServer(
	ctx context.Context,
	cfg *Config,
	gatherer prometheus.Gatherer,
	sugar *zap.SugaredLogger,
	fn func(ctx context.Context) transfer.Outcome,
) transfer.Outcome {
	if cfg.MetricsPort == 0 {
		return fn(ctx)
	}

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	server := metrics.NewServer(cfg.MetricsAddr(), gatherer, func() error {
		return ctx.Err()
	})

	var out transfer.Outcome
	g := new(errgroup.Group)
	g.Go(func() error {
		defer stopServer()
		out = fn(ctx)
		return nil
	})
	g.Go(func() error {
		return serveMetrics(serverCtx, server, cfg.MetricsAddr(), sugar)
	})
	if err := g.Wait(); err != nil {
		sugar.Warnw("metrics server failed", "error", err)
	}
	return out
}

func serveMetrics(ctx context.Context, server *metrics.Server, addr string, sugar *zap.SugaredLogger) error {
	errCh := server.Start()
	sugar.Infof("metrics server listening on http://%s/metrics", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

// resumeArgs is the command line printed for resuming, without secrets.
func resumeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		name, hasValue := flagName(args[i])
		if !slices.Contains(secretFlags, name) {
			out = append(out, args[i])
			continue
		}
		if !hasValue {
			i++ // skip the separate value
		}
	}
	return out
}

// flagName returns the name of a --flag or -flag argument and whether its
// value is attached with '='.
func flagName(arg string) (string, bool) {
	if !strings.HasPrefix(arg, "-") {
		return "", false
	}
	name := strings.TrimLeft(arg, "-")
	name, _, hasValue := strings.Cut(name, "=")
	return name, hasValue
}

// report prints the outcome. Any run that did not complete prints the command
// that resumes it and exits with status 1.
func report(stdout, w io.Writer, out transfer.Outcome) error {
	if out.OK() {
		fmt.Fprintln(stdout, "Transfer completed.")
		return nil
	}
	fmt.Fprintf(w, "Transfer stopped after stage %s (%s, %s): %v\n", out.Stage, out.Status, out.Class, out.Err)
	if out.ResumeHint != "" {
		fmt.Fprintln(w, "Retry with command:")
		fmt.Fprintln(w, out.ResumeHint)
	}
	return cli.Exit("", 1)
}
