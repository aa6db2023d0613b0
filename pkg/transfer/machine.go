// Package transfer drives one NEAR to Ethereum transfer through its stages,
// recording a checkpoint after every stage so that an interrupted or failed
// run resumes at the first stage that has not completed.
//
// Stages run strictly in order:
//
//	withdrawn         burn the tokens on NEAR
//	receipt-located   find the receipt to prove and the block executing it
//	client-caught-up  wait for NEAR finality, then for the Ethereum light client
//	proof-obtained    fetch the inclusion proof anchored at the light client head
//	completed         verify the proof on Ethereum and unlock the tokens
//
// A stage's side effect happens before its checkpoint is written, so a crash
// between the two re-executes the stage on resume. Checkpoints are written even
// after ctx is cancelled. Withdrawal is the only stage where a lost checkpoint
// matters; see source.UnconfirmedWithdrawalError.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/ava-labs/near-relayer/internal/types"
	"github.com/ava-labs/near-relayer/pkg/journal"
	"github.com/ava-labs/near-relayer/pkg/lightclient"
	"github.com/ava-labs/near-relayer/pkg/metrics"
	"github.com/ava-labs/near-relayer/pkg/proof"
	ptypes "github.com/ava-labs/near-relayer/pkg/types"
)

// SourceChain is the NEAR side of a transfer.
type SourceChain interface {
	VerifyAccount(ctx context.Context, accountID string) error
	Withdraw(ctx context.Context, req ptypes.TransferRequest) (*journal.Withdrawn, error)
	OutcomeByHash(ctx context.Context, txHash ptypes.CryptoHash, sender string) (*journal.Withdrawn, error)
	BlockByHash(ctx context.Context, h ptypes.CryptoHash) (*types.Block, error)
	AwaitFinalBlockAbove(ctx context.Context, height uint64) (*types.Block, error)
	Balance(ctx context.Context, tokenAccount, owner string) (*big.Int, error)
}

// LightClient waits for the Ethereum light client to pass a NEAR height.
type LightClient interface {
	AwaitHeightAbove(ctx context.Context, target uint64) (lightclient.Head, error)
}

// ProofService fetches raw inclusion proofs.
type ProofService interface {
	Request(ctx context.Context, req proof.Request) ([]byte, error)
}

// Unlocker verifies proofs and releases tokens on Ethereum.
type Unlocker interface {
	VerifyProof(ctx context.Context, proof []byte, height uint64) error
	Unlock(ctx context.Context, proof []byte, height uint64, token, recipient common.Address) (*gethtypes.Receipt, error)
}

// quarantiner is implemented by journals that can set a corrupt file aside.
type quarantiner interface {
	Quarantine(ctx context.Context) (string, error)
}

// Invocation is one request to run a transfer, as given by the operator.
type Invocation struct {
	Request ptypes.TransferRequest
	// Args is the command line that started the run, used for the resume hint.
	Args []string
	// Force discards a journal that belongs to a different request.
	Force bool
	// WithdrawTx recovers a withdrawal that was broadcast but never recorded.
	// It is only used when the journal is empty.
	WithdrawTx *ptypes.CryptoHash
}

type Machine struct {
	journal  journal.Journal
	source   SourceChain
	light    LightClient
	proofs   ProofService
	unlocker Unlocker

	events  EventPublisher  // nil if disabled
	history HistoryRecorder // nil if disabled
	sugar   *zap.SugaredLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Machine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(mc *Machine) {
		mc.metrics = m
	}
}

func WithEventPublisher(p EventPublisher) Option {
	return func(mc *Machine) {
		mc.events = p
	}
}

func WithHistory(h HistoryRecorder) Option {
	return func(mc *Machine) {
		mc.history = h
	}
}

func WithClock(now func() time.Time) Option {
	return func(mc *Machine) {
		mc.now = now
	}
}

func New(
	j journal.Journal,
	src SourceChain,
	light LightClient,
	proofs ProofService,
	unlocker Unlocker,
	sugar *zap.SugaredLogger,
	opts ...Option,
) (*Machine, error) {
	switch {
	case j == nil:
		return nil, errors.New("journal is required")
	case src == nil:
		return nil, errors.New("source chain is required")
	case light == nil:
		return nil, errors.New("light client is required")
	case proofs == nil:
		return nil, errors.New("proof service is required")
	case unlocker == nil:
		return nil, errors.New("unlocker is required")
	}
	m := &Machine{
		journal:  j,
		source:   src,
		light:    light,
		proofs:   proofs,
		unlocker: unlocker,
		sugar:    sugar.With("component", "transfer"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// run is the state of one Run call.
type run struct {
	inv       Invocation
	cp        journal.Checkpoint
	startedAt time.Time
	resumed   bool
	unlockTx  string
	// pending is a checkpoint whose side effect happened but that is not
	// recorded yet.
	pending *journal.Checkpoint
	sugar   *zap.SugaredLogger
}

// Run executes the transfer from the last recorded stage to completion.
func (m *Machine) Run(ctx context.Context, inv Invocation) Outcome {
	r := &run{
		inv:       inv,
		cp:        journal.Checkpoint{Stage: journal.StageNone, Request: inv.Request},
		startedAt: m.now(),
		sugar: m.sugar.With(
			"sender", inv.Request.Sender,
			"recipient", inv.Request.Recipient,
			"amount", inv.Request.Amount,
		),
	}

	if err := m.load(ctx, r); err != nil {
		return m.finish(ctx, r, journal.StageNone, err)
	}
	if r.cp.Stage == journal.StageCompleted {
		r.sugar.Infow("transfer already completed, removing journal")
		if err := m.deleteJournal(ctx); err != nil {
			return m.finish(ctx, r, journal.StageCompleted, fmt.Errorf("%w: %w", errJournal, err))
		}
		return m.finish(ctx, r, journal.StageCompleted, nil)
	}

	for r.cp.Stage != journal.StageCompleted {
		stage := r.cp.Stage.Next()
		if err := ctx.Err(); err != nil {
			return m.finish(ctx, r, stage, err)
		}
		start := m.now()
		r.sugar.Infow("starting stage", "stage", stage)

		next, err := m.step(ctx, r, stage)
		if err != nil {
			return m.finish(ctx, r, stage, err)
		}
		r.pending = &next
		if err := m.recordCheckpoint(ctx, &next); err != nil {
			return m.finish(ctx, r, stage, fmt.Errorf("%w: record %s: %w", errJournal, stage, err))
		}
		r.cp, r.pending = next, nil

		elapsed := m.now().Sub(start)
		m.metrics.RecordStageCompleted(stage.String(), stage.Index(), elapsed.Seconds())
		r.sugar.Infow("stage completed", "stage", stage, "duration", elapsed)
		m.publish(ctx, r, EventStageCompleted, nil)
	}

	if err := m.deleteJournal(ctx); err != nil {
		return m.finish(ctx, r, journal.StageCompleted, fmt.Errorf("%w: delete: %w", errJournal, err))
	}
	return m.finish(ctx, r, journal.StageCompleted, nil)
}

// persistTimeout bounds journal writes that follow a confirmed side effect.
const persistTimeout = 10 * time.Second

// recordCheckpoint writes cp even when ctx is already cancelled: the stage's
// side effect has happened and must not be repeated on resume.
func (m *Machine) recordCheckpoint(ctx context.Context, cp *journal.Checkpoint) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	return m.journal.Record(ctx, cp)
}

func (m *Machine) deleteJournal(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	return m.journal.Delete(ctx)
}

// load restores the checkpoint of a previous run, if any.
func (m *Machine) load(ctx context.Context, r *run) error {
	cp, err := m.journal.Load(ctx)
	if errors.Is(err, journal.ErrCorrupt) {
		q, ok := m.journal.(quarantiner)
		if !ok {
			return fmt.Errorf("%w: %w", errJournal, err)
		}
		moved, qerr := q.Quarantine(ctx)
		if qerr != nil {
			return fmt.Errorf("%w: quarantine: %w", errJournal, errors.Join(err, qerr))
		}
		r.sugar.Warnw("journal corrupt, moved aside and starting fresh", "movedTo", moved, "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: load: %w", errJournal, err)
	}
	if cp == nil {
		return nil
	}

	if cp.Request != r.inv.Request {
		if !r.inv.Force {
			return fmt.Errorf("%w: journal has %s of %s from %s, stage %s",
				journal.ErrRequestMismatch, cp.Request.Amount, cp.Request.TokenAccount, cp.Request.Sender, cp.Stage)
		}
		r.sugar.Warnw("discarding journal of a different transfer",
			"journalSender", cp.Request.Sender,
			"journalAmount", cp.Request.Amount,
			"journalStage", cp.Stage,
		)
		if err := m.journal.Delete(ctx); err != nil {
			return fmt.Errorf("%w: delete: %w", errJournal, err)
		}
		return nil
	}

	r.cp = *cp
	r.resumed = true
	m.metrics.IncResume()
	m.metrics.SetCurrentStage(cp.Stage.Index())
	if r.inv.WithdrawTx != nil {
		r.sugar.Warnw("ignoring withdrawal hash, journal already past withdrawal", "withdrawTx", r.inv.WithdrawTx)
	}
	r.sugar.Infow("resuming transfer", "stage", cp.Stage, "recordedAt", cp.RecordedAt)
	return nil
}

// finish builds the outcome and reports it.
func (m *Machine) finish(ctx context.Context, r *run, attempted journal.Stage, err error) Outcome {
	status, class := classify(err)
	out := Outcome{
		Status: status,
		Class:  class,
		Stage:  r.cp.Stage,
		Err:    err,
	}
	if err != nil {
		out.Failed = attempted
		out.ResumeHint = resumeHint(r.inv.Args, err, unrecordedWithdrawTx(r))
		m.metrics.RecordStageFailure(attempted.String(), string(class))
		r.sugar.Errorw("transfer stopped",
			"stage", attempted,
			"recorded", r.cp.Stage,
			"status", status,
			"class", class,
			"error", err,
		)
		m.publish(ctx, r, EventTransferFailed, &out)
	} else {
		out.Stage = journal.StageCompleted
		r.sugar.Infow("transfer completed", "duration", m.now().Sub(r.startedAt), "unlockTx", r.unlockTx)
		m.publish(ctx, r, EventTransferCompleted, nil)
	}
	m.metrics.RecordTransfer(status.String(), string(class))
	m.record(ctx, r, out)
	return out
}

// reportTimeout bounds best-effort reporting, which also runs after ctx was
// cancelled.
const reportTimeout = 10 * time.Second

func (m *Machine) publish(ctx context.Context, r *run, typ string, out *Outcome) {
	if m.events == nil {
		return
	}
	ev := Event{
		Type:       typ,
		Stage:      r.cp.Stage,
		Sender:     r.inv.Request.Sender,
		Recipient:  r.inv.Request.Recipient,
		Token:      r.inv.Request.TokenAccount,
		Amount:     r.inv.Request.Amount,
		WithdrawTx: withdrawTx(r.cp),
		At:         m.now().UTC(),
	}
	if out != nil {
		ev.Class = out.Class
		if out.Err != nil {
			ev.Error = out.Err.Error()
		}
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	err := m.events.PublishEvent(ctx, ev)
	m.metrics.RecordEventPublished(err)
	if err != nil {
		r.sugar.Warnw("failed to publish transfer event", "type", typ, "error", err)
	}
}

func (m *Machine) record(ctx context.Context, r *run, out Outcome) {
	if m.history == nil {
		return
	}
	s := Summary{
		StartedAt:    r.startedAt.UTC(),
		FinishedAt:   m.now().UTC(),
		Sender:       r.inv.Request.Sender,
		TokenAccount: r.inv.Request.TokenAccount,
		TokenAddress: r.inv.Request.TokenAddress,
		Recipient:    r.inv.Request.Recipient,
		Amount:       r.inv.Request.Amount,
		Status:       out.Status,
		Class:        out.Class,
		Stage:        out.Stage,
		Resumed:      r.resumed,
		WithdrawTx:   withdrawTx(r.cp),
		UnlockTx:     r.unlockTx,
	}
	if out.Err != nil {
		s.Error = out.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	err := m.history.RecordRun(ctx, s)
	m.metrics.RecordHistoryWrite(err)
	if err != nil {
		r.sugar.Warnw("failed to record transfer history", "error", err)
	}
}

// unrecordedWithdrawTx returns the hash of a withdrawal that happened in this
// run but never reached the journal.
func unrecordedWithdrawTx(r *run) string {
	if r.pending == nil || r.cp.Stages.Withdrawn != nil {
		return ""
	}
	return withdrawTx(*r.pending)
}

func withdrawTx(cp journal.Checkpoint) string {
	if cp.Stages.Withdrawn == nil {
		return ""
	}
	h, err := cp.Stages.Withdrawn.TxHash.Hash()
	if err != nil {
		return ""
	}
	return h.String()
}
