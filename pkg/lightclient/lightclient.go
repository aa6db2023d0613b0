// Package lightclient waits for the NEAR light client replicated on Ethereum
// to accept a NEAR block past a given height. Only history the light client
// has accepted can be proven on Ethereum.
package lightclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ava-labs/near-relayer/internal/chainclient/ethereum"
	"github.com/ava-labs/near-relayer/pkg/backoff"
	"github.com/ava-labs/near-relayer/pkg/metrics"
	ptypes "github.com/ava-labs/near-relayer/pkg/types"
)

// Contract is the light client contract surface.
type Contract interface {
	BridgeState(ctx context.Context) (ethereum.BridgeState, error)
	BlockHash(ctx context.Context, height uint64) ([32]byte, error)
	LockDuration(ctx context.Context) (uint64, error)
	LatestBlockTime(ctx context.Context) (uint64, error)
}

// Snapshot is a point-in-time view of the light client. It is never persisted.
type Snapshot struct {
	CurrentHeight uint64
	NextValidAt   uint64 // 0 when no header is waiting for its challenge period
	LockDuration  uint64 // seconds
	ChainTime     uint64 // latest Ethereum block timestamp, seconds
}

// PollDelay returns how long to wait before the light client may have
// advanced: the remaining challenge period of the pending header, or the
// full lock duration when none is pending. Never less than one second.
func (s Snapshot) PollDelay() time.Duration {
	var secs uint64
	if s.NextValidAt == 0 {
		secs = s.LockDuration
	} else if s.NextValidAt > s.ChainTime {
		secs = s.NextValidAt - s.ChainTime
	}
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// Head is the light client head at the moment it passed the target height.
type Head struct {
	Height uint64
	Hash   ptypes.CryptoHash
}

type Adapter struct {
	contract Contract
	sugar    *zap.SugaredLogger
	metrics  *metrics.Metrics
	retry    backoff.Policy
	sleep    func(ctx context.Context, d time.Duration) error

	lockOnce     sync.Mutex
	lockDuration *uint64
}

type Option func(*Adapter)

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

// WithRetryPolicy sets the policy wrapped around every contract read.
func WithRetryPolicy(p backoff.Policy) Option {
	return func(a *Adapter) {
		a.retry = p
	}
}

// WithSleep replaces the cancellable sleep between polls.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Adapter) {
		a.sleep = fn
	}
}

func New(contract Contract, sugar *zap.SugaredLogger, opts ...Option) *Adapter {
	a := &Adapter{
		contract: contract,
		sugar:    sugar.With("component", "lightclient"),
		retry:    backoff.DefaultPolicy(),
		sleep:    backoff.Sleep,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func retry[T any](ctx context.Context, a *Adapter, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	p := a.retry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		a.sugar.Warnw("retrying light client read", "operation", op, "attempt", attempt, "delay", delay, "error", err)
		a.metrics.IncRetry(op)
	}
	return backoff.Retry(ctx, p, fn)
}

func (a *Adapter) getLockDuration(ctx context.Context) (uint64, error) {
	a.lockOnce.Lock()
	defer a.lockOnce.Unlock()
	if a.lockDuration != nil {
		return *a.lockDuration, nil
	}
	d, err := retry(ctx, a, "lockDuration", a.contract.LockDuration)
	if err != nil {
		return 0, err
	}
	a.lockDuration = &d
	return d, nil
}

// Snapshot reads the current light client state. The lock duration is
// immutable and read once.
func (a *Adapter) Snapshot(ctx context.Context) (Snapshot, error) {
	state, err := retry(ctx, a, "bridgeState", a.contract.BridgeState)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read bridge state: %w", err)
	}
	lock, err := a.getLockDuration(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read lock duration: %w", err)
	}
	now, err := retry(ctx, a, "latestBlockTime", a.contract.LatestBlockTime)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read ethereum time: %w", err)
	}
	return Snapshot{
		CurrentHeight: state.CurrentHeight,
		NextValidAt:   state.NextValidAt,
		LockDuration:  lock,
		ChainTime:     now,
	}, nil
}

// readFailureDelay is how long AwaitHeightAbove waits after a read that
// exhausted its retries.
const readFailureDelay = 5 * time.Second

// AwaitHeightAbove polls until the light client height is strictly greater
// than target and returns its head. The loop has no attempt limit; each read
// inside it is retried with the adapter's policy, and a read that still fails
// is logged and polled again. Only ctx ends the wait early.
func (a *Adapter) AwaitHeightAbove(ctx context.Context, target uint64) (Head, error) {
	for {
		head, delay, err := a.poll(ctx, target)
		switch {
		case ctx.Err() != nil:
			return Head{}, ctx.Err()
		case err != nil:
			a.sugar.Warnw("failed to read light client", "target", target, "error", err)
			delay = readFailureDelay
		case head != nil:
			return *head, nil
		}
		if err := a.sleep(ctx, delay); err != nil {
			return Head{}, err
		}
	}
}

// poll returns the head once the light client is above target, or the delay
// before the next poll.
func (a *Adapter) poll(ctx context.Context, target uint64) (*Head, time.Duration, error) {
	snap, err := a.Snapshot(ctx)
	if err != nil {
		return nil, 0, err
	}
	a.metrics.UpdateLightClient(snap.CurrentHeight, target)

	if snap.CurrentHeight > target {
		raw, err := retry(ctx, a, "blockHashes", func(ctx context.Context) ([32]byte, error) {
			return a.contract.BlockHash(ctx, snap.CurrentHeight)
		})
		if err != nil {
			return nil, 0, fmt.Errorf("read light client block hash at %d: %w", snap.CurrentHeight, err)
		}
		head := &Head{Height: snap.CurrentHeight, Hash: ptypes.CryptoHash(raw)}
		a.sugar.Infow("light client passed target",
			"height", head.Height,
			"hash", head.Hash,
			"target", target,
		)
		return head, 0, nil
	}

	delay := snap.PollDelay()
	a.metrics.IncLightClientWait()
	a.sugar.Infow("light client behind target, sleeping",
		"height", snap.CurrentHeight,
		"target", target,
		"nextValidAt", snap.NextValidAt,
		"delay", delay,
	)
	return nil, delay, nil
}
