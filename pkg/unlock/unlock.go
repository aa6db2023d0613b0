// Package unlock submits canonical proofs to the Ethereum prover and releases
// the locked ERC20 tokens through the token locker.
package unlock

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/ava-labs/near-relayer/internal/chainclient/ethereum"
	"github.com/ava-labs/near-relayer/pkg/backoff"
	"github.com/ava-labs/near-relayer/pkg/metrics"
	ptypes "github.com/ava-labs/near-relayer/pkg/types"
)

// DefaultGasMultiplier scales the node's suggested gas price.
const DefaultGasMultiplier = 1

// Contracts is the prover and locker surface.
type Contracts interface {
	ProveOutcome(ctx context.Context, proof []byte, height uint64) (bool, error)
	UnlockToken(ctx context.Context, proof []byte, height uint64, gasPrice *big.Int) (*gethtypes.Receipt, error)
	UnlockedEvents(receipt *gethtypes.Receipt) ([]ethereum.Unlocked, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

type Adapter struct {
	contracts     Contracts
	sugar         *zap.SugaredLogger
	metrics       *metrics.Metrics
	retry         backoff.Policy
	gasMultiplier uint64
}

type Option func(*Adapter)

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

func WithRetryPolicy(p backoff.Policy) Option {
	return func(a *Adapter) {
		a.retry = p
	}
}

// WithGasMultiplier sets the factor applied to the suggested gas price. Zero
// is ignored.
func WithGasMultiplier(m uint64) Option {
	return func(a *Adapter) {
		if m > 0 {
			a.gasMultiplier = m
		}
	}
}

func New(contracts Contracts, sugar *zap.SugaredLogger, opts ...Option) *Adapter {
	a := &Adapter{
		contracts:     contracts,
		sugar:         sugar.With("component", "unlock"),
		retry:         backoff.DefaultPolicy(),
		gasMultiplier: DefaultGasMultiplier,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func retry[T any](ctx context.Context, a *Adapter, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	p := a.retry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		a.sugar.Warnw("retrying ethereum call", "operation", op, "attempt", attempt, "delay", delay, "error", err)
		a.metrics.IncRetry(op)
	}
	return backoff.Retry(ctx, p, fn)
}

// VerifyProof checks the proof against the prover. A revert or a false result
// is an on-chain rejection.
func (a *Adapter) VerifyProof(ctx context.Context, proof []byte, height uint64) error {
	ok, err := retry(ctx, a, "proveOutcome", func(ctx context.Context) (bool, error) {
		ok, err := a.contracts.ProveOutcome(ctx, proof, height)
		if errors.Is(err, ethereum.ErrReverted) {
			return false, backoff.Permanent(fmt.Errorf("%w: %w", ptypes.ErrOnChainRejection, err))
		}
		return ok, err
	})
	if err != nil {
		return fmt.Errorf("verify proof at height %d: %w", height, err)
	}
	if !ok {
		return fmt.Errorf("%w: prover returned false at height %d", ptypes.ErrOnChainRejection, height)
	}
	a.sugar.Infow("proof verified", "height", height, "size", len(proof))
	return nil
}

// Unlock submits unlockToken and waits for it to be mined. The transaction
// itself is sent once; only the reads around it are retried. Recipient
// balances are logged, not checked.
func (a *Adapter) Unlock(ctx context.Context, proof []byte, height uint64, token, recipient common.Address) (*gethtypes.Receipt, error) {
	before := a.balance(ctx, token, recipient)
	a.sugar.Infow("recipient balance before unlock", "recipient", recipient, "token", token, "balance", before)

	base, err := retry(ctx, a, "eth_gasPrice", a.contracts.SuggestGasPrice)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	gasPrice := new(big.Int).Mul(base, new(big.Int).SetUint64(a.gasMultiplier))

	receipt, err := a.contracts.UnlockToken(ctx, proof, height, gasPrice)
	if err != nil {
		if errors.Is(err, ethereum.ErrReverted) {
			return receipt, fmt.Errorf("%w: unlock at height %d: %w", ptypes.ErrOnChainRejection, height, err)
		}
		return receipt, fmt.Errorf("unlock at height %d: %w", height, err)
	}
	a.sugar.Infow("unlock mined",
		"tx", receipt.TxHash,
		"block", receipt.BlockNumber,
		"gasUsed", receipt.GasUsed,
		"gasPrice", gasPrice,
	)

	events, err := a.contracts.UnlockedEvents(receipt)
	if err != nil {
		a.sugar.Warnw("failed to decode unlock events", "tx", receipt.TxHash, "error", err)
	}
	for _, ev := range events {
		a.sugar.Infow("tokens unlocked", "amount", ev.Amount, "recipient", ev.Recipient)
	}

	after := a.balance(ctx, token, recipient)
	a.sugar.Infow("recipient balance after unlock", "recipient", recipient, "token", token, "balance", after)
	return receipt, nil
}

// balance returns nil when the balance cannot be read.
func (a *Adapter) balance(ctx context.Context, token, owner common.Address) *big.Int {
	v, err := retry(ctx, a, "balanceOf", func(ctx context.Context) (*big.Int, error) {
		return a.contracts.TokenBalance(ctx, token, owner)
	})
	if err != nil {
		a.sugar.Warnw("failed to read recipient balance", "recipient", owner, "error", err)
		return nil
	}
	return v
}
