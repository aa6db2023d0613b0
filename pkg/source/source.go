// Package source talks to the NEAR side of the bridge: it burns the bridged
// tokens, finds the receipt whose outcome is proven on Ethereum and tracks NEAR
// finality.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/ava-labs/near-relayer/internal/chainclient"
	"github.com/ava-labs/near-relayer/internal/chainclient/near"
	"github.com/ava-labs/near-relayer/internal/types"
	"github.com/ava-labs/near-relayer/pkg/backoff"
	"github.com/ava-labs/near-relayer/pkg/journal"
	"github.com/ava-labs/near-relayer/pkg/metrics"
	ptypes "github.com/ava-labs/near-relayer/pkg/types"
)

const (
	// WithdrawGas is the gas attached to the withdraw call (300 Tgas).
	WithdrawGas uint64 = 300_000_000_000_000

	DefaultPollInterval = time.Second
)

var ErrNoSigner = errors.New("no signing key configured")

// UnconfirmedWithdrawalError is returned when a signed withdrawal was handed
// to the node but its outcome never came back. The withdrawal may have
// executed; TxHash lets the operator recover it instead of withdrawing twice.
type UnconfirmedWithdrawalError struct {
	TxHash ptypes.CryptoHash
	Err    error
}

func (e *UnconfirmedWithdrawalError) Error() string {
	return fmt.Sprintf("withdrawal %s unconfirmed: %v", e.TxHash, e.Err)
}

func (e *UnconfirmedWithdrawalError) Unwrap() error {
	return e.Err
}

// Adapter is the NEAR side of a transfer.
type Adapter struct {
	client  chainclient.NearClient
	signer  *near.KeyPair
	sugar   *zap.SugaredLogger
	metrics *metrics.Metrics
	retry   backoff.Policy
	poll    time.Duration
}

type Option func(*Adapter)

// WithSigner sets the access key used to sign the withdrawal.
func WithSigner(k *near.KeyPair) Option {
	return func(a *Adapter) {
		a.signer = k
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

// WithRetryPolicy sets the policy wrapped around every read.
func WithRetryPolicy(p backoff.Policy) Option {
	return func(a *Adapter) {
		a.retry = p
	}
}

// WithPollInterval sets the delay between final block polls.
func WithPollInterval(d time.Duration) Option {
	return func(a *Adapter) {
		a.poll = d
	}
}

func New(client chainclient.NearClient, sugar *zap.SugaredLogger, opts ...Option) *Adapter {
	a := &Adapter{
		client: client,
		sugar:  sugar.With("component", "source"),
		retry:  backoff.DefaultPolicy(),
		poll:   DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func retry[T any](ctx context.Context, a *Adapter, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	p := a.retry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		a.sugar.Warnw("retrying near read", "operation", op, "attempt", attempt, "delay", delay, "error", err)
		a.metrics.IncRetry(op)
	}
	return backoff.Retry(ctx, p, fn)
}

// VerifyAccount checks that the account exists on chain.
func (a *Adapter) VerifyAccount(ctx context.Context, accountID string) error {
	_, err := retry(ctx, a, "view_account", func(ctx context.Context) (*types.Account, error) {
		acc, err := a.client.ViewAccount(ctx, accountID)
		if errors.Is(err, near.ErrUnknown) {
			return nil, backoff.Permanent(err)
		}
		return acc, err
	})
	if err != nil {
		return fmt.Errorf("verify account %s: %w", accountID, err)
	}
	return nil
}

// Withdraw burns req.Amount of the bridged token in favor of req.Recipient and
// blocks until NEAR reports the final outcome. The broadcast itself is never
// retried: a lost response does not mean the withdrawal did not happen.
func (a *Adapter) Withdraw(ctx context.Context, req ptypes.TransferRequest) (*journal.Withdrawn, error) {
	if a.signer == nil {
		return nil, ErrNoSigner
	}
	pub := a.signer.PublicKeyString()

	ak, err := retry(ctx, a, "view_access_key", func(ctx context.Context) (*types.AccessKey, error) {
		return a.client.ViewAccessKey(ctx, req.Sender, pub)
	})
	if err != nil {
		return nil, fmt.Errorf("load nonce: %w", err)
	}
	head, err := a.FinalBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("load recent block hash: %w", err)
	}

	args, err := json.Marshal(map[string]string{
		"amount":    req.Amount,
		"recipient": req.Recipient,
	})
	if err != nil {
		return nil, fmt.Errorf("encode withdraw args: %w", err)
	}
	tx := &near.Transaction{
		SignerID:   req.Sender,
		PublicKey:  a.signer.PublicKey(),
		Nonce:      ak.Nonce + 1,
		ReceiverID: req.TokenAccount,
		BlockHash:  head.Header.Hash,
		Actions: []near.FunctionCall{{
			MethodName: "withdraw",
			Args:       args,
			Gas:        WithdrawGas,
			Deposit:    new(big.Int),
		}},
	}
	signed, txHash, err := tx.Sign(a.signer)
	if err != nil {
		return nil, fmt.Errorf("sign withdrawal: %w", err)
	}

	a.sugar.Infow("broadcasting withdrawal",
		"txHash", txHash,
		"sender", req.Sender,
		"token", req.TokenAccount,
		"amount", req.Amount,
		"recipient", req.Recipient,
		"nonce", tx.Nonce,
	)
	out, err := a.client.BroadcastTxCommit(ctx, signed)
	if errors.Is(err, near.ErrInvalidTransaction) {
		return nil, fmt.Errorf("%w: withdrawal %s: %w", ptypes.ErrOnChainRejection, txHash, err)
	}
	if err != nil {
		return nil, &UnconfirmedWithdrawalError{TxHash: txHash, Err: err}
	}
	return toWithdrawn(out)
}

// OutcomeByHash loads the outcome of an already broadcast withdrawal.
func (a *Adapter) OutcomeByHash(ctx context.Context, txHash ptypes.CryptoHash, sender string) (*journal.Withdrawn, error) {
	out, err := retry(ctx, a, "tx", func(ctx context.Context) (*types.FinalExecutionOutcome, error) {
		return a.client.TxStatus(ctx, txHash, sender)
	})
	if err != nil {
		return nil, fmt.Errorf("load withdrawal %s: %w", txHash, err)
	}
	return toWithdrawn(out)
}

func toWithdrawn(out *types.FinalExecutionOutcome) (*journal.Withdrawn, error) {
	txHash := out.Transaction.Hash
	if txHash.IsZero() {
		txHash = out.TransactionOutcome.ID
	}
	switch out.Status.Kind {
	case types.StatusFailure:
		return nil, fmt.Errorf("%w: withdrawal %s failed: %s", ptypes.ErrOnChainRejection, txHash, out.Status.Failure)
	case types.StatusUnknown:
		return nil, fmt.Errorf("%w: withdrawal %s has not finished executing", ptypes.ErrProtocolViolation, txHash)
	}

	w := &journal.Withdrawn{
		TxHash:     journal.Binary(txHash[:]),
		ReceiptIDs: make([]journal.Binary, 0, len(out.TransactionOutcome.Outcome.ReceiptIDs)),
		Receipts:   make([]journal.ReceiptOutcome, 0, len(out.ReceiptsOutcome)),
	}
	for _, id := range out.TransactionOutcome.Outcome.ReceiptIDs {
		w.ReceiptIDs = append(w.ReceiptIDs, journal.Binary(id[:]))
	}
	for _, r := range out.ReceiptsOutcome {
		ro := journal.ReceiptOutcome{
			ID:        journal.Binary(r.ID[:]),
			BlockHash: journal.Binary(r.BlockHash[:]),
		}
		if r.Outcome.Status.Kind == types.StatusSuccessReceiptID {
			next := r.Outcome.Status.SuccessReceiptID
			ro.SuccessReceiptID = journal.Binary(next[:])
		}
		w.Receipts = append(w.Receipts, ro)
	}
	return w, nil
}

// BlockByHash returns the block with hash h.
func (a *Adapter) BlockByHash(ctx context.Context, h ptypes.CryptoHash) (*types.Block, error) {
	return retry(ctx, a, "block", func(ctx context.Context) (*types.Block, error) {
		return a.client.Block(ctx, types.BlockByHash(h))
	})
}

// FinalBlock returns the latest final block.
func (a *Adapter) FinalBlock(ctx context.Context) (*types.Block, error) {
	return retry(ctx, a, "block", func(ctx context.Context) (*types.Block, error) {
		return a.client.Block(ctx, types.FinalBlock())
	})
}

// AwaitFinalBlockAbove polls until NEAR finalizes a block strictly higher than
// height and returns it. Read failures are logged and polling continues; only
// ctx ends the wait early.
func (a *Adapter) AwaitFinalBlockAbove(ctx context.Context, height uint64) (*types.Block, error) {
	for {
		b, err := a.FinalBlock(ctx)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			a.sugar.Warnw("failed to read final block", "target", height, "error", err)
		case b.Header.Height > height:
			return b, nil
		default:
			a.sugar.Debugw("waiting for finality", "finalHeight", b.Header.Height, "target", height)
		}
		if err := backoff.Sleep(ctx, a.poll); err != nil {
			return nil, err
		}
	}
}

// Balance returns the token balance of owner on the NEAR token contract.
func (a *Adapter) Balance(ctx context.Context, tokenAccount, owner string) (*big.Int, error) {
	raw, err := retry(ctx, a, "get_balance", func(ctx context.Context) ([]byte, error) {
		return a.client.CallView(ctx, tokenAccount, "get_balance", map[string]string{"owner_id": owner})
	})
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", owner, err)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode balance %q: %w", raw, err)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("decode balance %q", s)
	}
	return v, nil
}
