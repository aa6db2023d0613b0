package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ava-labs/near-relayer/internal/chainclient"
	"github.com/ava-labs/near-relayer/internal/chainclient/ethereum"
	"github.com/ava-labs/near-relayer/internal/chainclient/near"
	"github.com/ava-labs/near-relayer/internal/types"
	"github.com/ava-labs/near-relayer/pkg/backoff"
	"github.com/ava-labs/near-relayer/pkg/journal"
	"github.com/ava-labs/near-relayer/pkg/lightclient"
	"github.com/ava-labs/near-relayer/pkg/metrics"
	"github.com/ava-labs/near-relayer/pkg/proof"
	"github.com/ava-labs/near-relayer/pkg/source"
	ptypes "github.com/ava-labs/near-relayer/pkg/types"
	"github.com/ava-labs/near-relayer/pkg/unlock"
)

func hashOf(b byte) ptypes.CryptoHash {
	var h ptypes.CryptoHash
	for i := range h {
		h[i] = b
	}
	return h
}

func bin(h ptypes.CryptoHash) journal.Binary {
	return journal.Binary(h[:])
}

// headHash is the light client's block hash at height.
func headHash(height uint64) ptypes.CryptoHash {
	var h ptypes.CryptoHash
	h[0] = 0xee
	h[1] = byte(height)
	h[2] = byte(height >> 8)
	return h
}

var (
	withdrawTxHash = hashOf(0x01)
	firstReceipt   = hashOf(0x10)
	provenReceipt  = hashOf(0x11)
	firstBlock     = hashOf(0x20)
	receiptBlock   = hashOf(0x21)

	tokenAddress = "0x1111111111111111111111111111111111111111"
	recipient    = "abcabcabcabcabcabcabcabcabcabcabcabcabca"
	testArgs     = []string{"relayer", "transfer", "--sender", "alice.near", "--amount", "100"}
)

func testRequest(t *testing.T) ptypes.TransferRequest {
	t.Helper()
	req, err := ptypes.NewTransferRequest("alice.near", "100", "", "token.bridge.near", tokenAddress, "0x"+recipient)
	require.NoError(t, err)
	return req
}

func withdrawal() *journal.Withdrawn {
	return &journal.Withdrawn{
		TxHash:     bin(withdrawTxHash),
		ReceiptIDs: []journal.Binary{bin(firstReceipt)},
		Receipts: []journal.ReceiptOutcome{
			{ID: bin(firstReceipt), BlockHash: bin(firstBlock), SuccessReceiptID: bin(provenReceipt)},
			{ID: bin(provenReceipt), BlockHash: bin(receiptBlock)},
		},
	}
}

type fakeSource struct {
	mu           sync.Mutex
	withdrawn    *journal.Withdrawn
	withdrawErr  error
	withdrawals  int
	recoveries   int
	blocks       map[ptypes.CryptoHash]uint64
	finalHeight  uint64
	awaitedAbove []uint64
	onAwait      func()
	onWithdraw   func()
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		withdrawn:   withdrawal(),
		blocks:      map[ptypes.CryptoHash]uint64{receiptBlock: 500},
		finalHeight: 501,
	}
}

func (f *fakeSource) VerifyAccount(context.Context, string) error { return nil }

func (f *fakeSource) Withdraw(context.Context, ptypes.TransferRequest) (*journal.Withdrawn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdrawals++
	if f.withdrawErr != nil {
		return nil, f.withdrawErr
	}
	if f.onWithdraw != nil {
		f.onWithdraw()
	}
	return f.withdrawn, nil
}

func (f *fakeSource) OutcomeByHash(_ context.Context, h ptypes.CryptoHash, _ string) (*journal.Withdrawn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recoveries++
	if h != withdrawTxHash {
		return nil, near.ErrUnknown
	}
	return f.withdrawn, nil
}

func (f *fakeSource) BlockByHash(_ context.Context, h ptypes.CryptoHash) (*types.Block, error) {
	height, ok := f.blocks[h]
	if !ok {
		return nil, near.ErrUnknown
	}
	return &types.Block{Header: types.BlockHeader{Height: height, Hash: h}}, nil
}

func (f *fakeSource) AwaitFinalBlockAbove(ctx context.Context, height uint64) (*types.Block, error) {
	f.mu.Lock()
	f.awaitedAbove = append(f.awaitedAbove, height)
	onAwait := f.onAwait
	f.mu.Unlock()
	if onAwait != nil {
		onAwait()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &types.Block{Header: types.BlockHeader{Height: f.finalHeight}}, nil
}

func (f *fakeSource) Balance(context.Context, string, string) (*big.Int, error) {
	return big.NewInt(5000), nil
}

// fakeLightClient advances through heights on every bridgeState read.
type fakeLightClient struct {
	mu      sync.Mutex
	heights []uint64
	reads   int
}

func (f *fakeLightClient) BridgeState(context.Context) (ethereum.BridgeState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	h := f.heights[0]
	if len(f.heights) > 1 {
		f.heights = f.heights[1:]
	}
	return ethereum.BridgeState{CurrentHeight: h}, nil
}

func (f *fakeLightClient) BlockHash(_ context.Context, height uint64) ([32]byte, error) {
	return headHash(height), nil
}

func (f *fakeLightClient) LockDuration(context.Context) (uint64, error) { return 30, nil }

func (f *fakeLightClient) LatestBlockTime(context.Context) (uint64, error) { return 1_700_000_000, nil }

// fakeProofNode serves light_client_proof for the proven receipt only.
type fakeProofNode struct {
	chainclient.NearClient
	raw    []byte
	mu     sync.Mutex
	params []map[string]any
}

func (f *fakeProofNode) LightClientProof(_ context.Context, params map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, params)
	if params["receipt_id"] != provenReceipt.String() || params["light_client_head"] != headHash(502).String() {
		return nil, near.ErrUnknown
	}
	return f.raw, nil
}

type proveCall struct {
	proof  []byte
	height uint64
}

// fakeEthereum is the prover, locker and token. Unlocking credits the
// recipient with the transfer amount.
type fakeEthereum struct {
	mu           sync.Mutex
	validProof   []byte
	recipient    common.Address
	amount       *big.Int
	balances     map[common.Address]*big.Int
	proveCalls   []proveCall
	unlocks      int
	revertUnlock bool
	onUnlock     func()
}

func (f *fakeEthereum) ProveOutcome(_ context.Context, p []byte, height uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proveCalls = append(f.proveCalls, proveCall{proof: bytes.Clone(p), height: height})
	return height == 502 && bytes.Equal(p, f.validProof), nil
}

func (f *fakeEthereum) UnlockToken(context.Context, []byte, uint64, *big.Int) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revertUnlock {
		return &gethtypes.Receipt{Status: gethtypes.ReceiptStatusFailed}, ethereum.ErrReverted
	}
	f.unlocks++
	f.balances[f.recipient] = new(big.Int).Add(f.balances[f.recipient], f.amount)
	if f.onUnlock != nil {
		f.onUnlock()
	}
	return &gethtypes.Receipt{
		Status:      gethtypes.ReceiptStatusSuccessful,
		TxHash:      common.HexToHash("0xfeed"),
		BlockNumber: big.NewInt(19),
	}, nil
}

func (f *fakeEthereum) UnlockedEvents(*gethtypes.Receipt) ([]ethereum.Unlocked, error) {
	return []ethereum.Unlocked{{Amount: f.amount, Recipient: f.recipient}}, nil
}

func (f *fakeEthereum) TokenBalance(_ context.Context, _, owner common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.balances[owner]), nil
}

func (f *fakeEthereum) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(10), nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (f *fakeEvents) PublishEvent(_ context.Context, ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

type fakeHistory struct {
	mu   sync.Mutex
	runs []Summary
}

func (f *fakeHistory) RecordRun(_ context.Context, s Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, s)
	return nil
}

// recordingJournal keeps every checkpoint written.
type recordingJournal struct {
	*journal.FileJournal
	recorded  []journal.Checkpoint
	recordErr error
}

func (j *recordingJournal) Record(ctx context.Context, cp *journal.Checkpoint) error {
	if j.recordErr != nil {
		return j.recordErr
	}
	if err := j.FileJournal.Record(ctx, cp); err != nil {
		return err
	}
	j.recorded = append(j.recorded, *cp)
	return nil
}

func rawProof(t *testing.T) []byte {
	t.Helper()
	p := types.LightClientProof{
		OutcomeProof: types.OutcomeProof{
			Proof:     []types.MerklePathItem{{Hash: hashOf(0x30), Direction: types.DirectionRight}},
			BlockHash: receiptBlock,
			ID:        provenReceipt,
			Outcome: types.ExecutionOutcome{
				Logs:        []string{},
				ReceiptIDs:  []ptypes.CryptoHash{},
				GasBurnt:    1,
				TokensBurnt: "0",
				ExecutorID:  "token.bridge.near",
				Status:      types.ExecutionStatus{Kind: types.StatusSuccessValue, SuccessValue: []byte(`"100"`)},
			},
		},
		OutcomeRootProof: []types.MerklePathItem{},
		BlockHeaderLite: types.LightClientBlockLite{
			InnerLite: types.BlockHeaderInnerLite{Height: 500, Timestamp: 1},
		},
		BlockProof: []types.MerklePathItem{{Hash: hashOf(0x31), Direction: types.DirectionLeft}},
	}
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return raw
}

type harness struct {
	path    string
	req     ptypes.TransferRequest
	journal *recordingJournal
	src     *fakeSource
	light   *fakeLightClient
	node    *fakeProofNode
	eth     *fakeEthereum
	events  *fakeEvents
	history *fakeHistory
	machine *Machine
}

func newHarness(t *testing.T, path string) *harness {
	t.Helper()
	raw := rawProof(t)
	canonical, err := proof.Canonicalize(raw)
	require.NoError(t, err)

	req := testRequest(t)
	h := &harness{
		path:    path,
		req:     req,
		journal: &recordingJournal{FileJournal: journal.NewFileJournal(path)},
		src:     newFakeSource(),
		light:   &fakeLightClient{heights: []uint64{480, 490, 502}},
		node:    &fakeProofNode{raw: raw},
		eth: &fakeEthereum{
			validProof: canonical,
			recipient:  req.RecipientAddress(),
			amount:     big.NewInt(100),
			balances:   map[common.Address]*big.Int{req.RecipientAddress(): big.NewInt(1000)},
		},
		events:  &fakeEvents{},
		history: &fakeHistory{},
	}

	sugar := zaptest.NewLogger(t).Sugar()
	policy := backoff.Fixed(2, time.Millisecond)
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	lc := lightclient.New(h.light, sugar,
		lightclient.WithRetryPolicy(policy),
		lightclient.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	ps := proof.New(h.node, sugar, proof.WithRetryPolicy(policy))
	ul := unlock.New(h.eth, sugar, unlock.WithRetryPolicy(policy), unlock.WithGasMultiplier(2))

	h.machine, err = New(h.journal, h.src, lc, ps, ul, sugar,
		WithMetrics(m),
		WithEventPublisher(h.events),
		WithHistory(h.history),
	)
	require.NoError(t, err)
	return h
}

func (h *harness) run(ctx context.Context) Outcome {
	return h.machine.Run(ctx, Invocation{Request: h.req, Args: testArgs})
}

func journalPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "transfer.json")
}

func stagesOf(cps []journal.Checkpoint) []journal.Stage {
	var out []journal.Stage
	for _, cp := range cps {
		out = append(out, cp.Stage)
	}
	return out
}

func TestMachine_EndToEnd(t *testing.T) {
	t.Parallel()
	h := newHarness(t, journalPath(t))

	out := h.run(t.Context())
	require.NoError(t, out.Err)
	assert.True(t, out.OK())
	assert.Equal(t, journal.StageCompleted, out.Stage)
	assert.Empty(t, out.ResumeHint)

	assert.Equal(t, 1, h.src.withdrawals)
	assert.Equal(t, []uint64{500}, h.src.awaitedAbove)
	assert.Equal(t, 3, h.light.reads)

	require.Len(t, h.node.params, 1)
	assert.Equal(t, map[string]any{
		"type":              "receipt",
		"receipt_id":        provenReceipt.String(),
		"receiver_id":       "alice.near",
		"light_client_head": headHash(502).String(),
	}, h.node.params[0])

	require.Len(t, h.eth.proveCalls, 1)
	assert.Equal(t, uint64(502), h.eth.proveCalls[0].height)
	assert.Equal(t, h.eth.validProof, h.eth.proveCalls[0].proof)
	assert.Equal(t, 1, h.eth.unlocks)
	assert.Equal(t, int64(1100), h.eth.balances[h.req.RecipientAddress()].Int64())

	assert.Equal(t, []journal.Stage{
		journal.StageWithdrawn,
		journal.StageReceiptLocated,
		journal.StageClientCaughtUp,
		journal.StageProofObtained,
		journal.StageCompleted,
	}, stagesOf(h.journal.recorded))

	caught := h.journal.recorded[2].Stages.ClientCaughtUp
	assert.Equal(t, uint64(501), caught.TargetHeight)
	assert.Equal(t, uint64(502), caught.HeadHeight)
	located := h.journal.recorded[1].Stages.ReceiptLocated
	assert.Equal(t, bin(provenReceipt), located.ReceiptID)
	assert.Equal(t, uint64(500), located.BlockHeight)

	_, err := os.Stat(h.path)
	require.ErrorIs(t, err, os.ErrNotExist)

	require.Len(t, h.events.events, 6)
	assert.Equal(t, EventTransferCompleted, h.events.events[5].Type)
	assert.Equal(t, withdrawTxHash.String(), h.events.events[5].WithdrawTx)

	require.Len(t, h.history.runs, 1)
	run := h.history.runs[0]
	assert.Equal(t, StatusSuccess, run.Status)
	assert.False(t, run.Resumed)
	assert.Equal(t, common.HexToHash("0xfeed").Hex(), run.UnlockTx)
}

func TestMachine_ResumeFromEveryStage(t *testing.T) {
	t.Parallel()
	full := newHarness(t, journalPath(t))
	require.True(t, full.run(t.Context()).OK())
	require.Len(t, full.journal.recorded, 5)

	for _, cp := range full.journal.recorded[:4] {
		t.Run(cp.Stage.String(), func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, journalPath(t))
			require.NoError(t, journal.NewFileJournal(h.path).Record(t.Context(), &cp))

			out := h.run(t.Context())
			require.NoError(t, out.Err)
			assert.True(t, out.OK())

			assert.Zero(t, h.src.withdrawals, "withdrawal must not repeat")
			assert.Equal(t, full.eth.proveCalls, h.eth.proveCalls)
			assert.Equal(t, int64(1100), h.eth.balances[h.req.RecipientAddress()].Int64())

			// Stages at or before the checkpoint are not executed again.
			if cp.Stage.Index() >= journal.StageClientCaughtUp.Index() {
				assert.Zero(t, h.light.reads)
				assert.Empty(t, h.src.awaitedAbove)
			}
			if cp.Stage.Index() >= journal.StageProofObtained.Index() {
				assert.Empty(t, h.node.params)
			}

			want := full.journal.recorded[cp.Stage.Index():]
			assert.Equal(t, stagesOf(want), stagesOf(h.journal.recorded))

			_, err := os.Stat(h.path)
			require.ErrorIs(t, err, os.ErrNotExist)
			require.Len(t, h.history.runs, 1)
			assert.True(t, h.history.runs[0].Resumed)
		})
	}
}

func TestMachine_CompletedJournalIsDeleted(t *testing.T) {
	t.Parallel()
	full := newHarness(t, journalPath(t))
	require.True(t, full.run(t.Context()).OK())
	completed := full.journal.recorded[4]

	h := newHarness(t, journalPath(t))
	require.NoError(t, journal.NewFileJournal(h.path).Record(t.Context(), &completed))

	out := h.run(t.Context())
	assert.True(t, out.OK())
	assert.Zero(t, h.eth.unlocks)
	assert.Empty(t, h.journal.recorded)
	_, err := os.Stat(h.path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestMachine_UnlockRevertThenResume(t *testing.T) {
	t.Parallel()
	path := journalPath(t)
	h := newHarness(t, path)
	h.eth.revertUnlock = true

	out := h.run(t.Context())
	assert.Equal(t, StatusFatal, out.Status)
	assert.Equal(t, ClassOnChainRejection, out.Class)
	assert.Equal(t, journal.StageProofObtained, out.Stage)
	assert.Equal(t, journal.StageCompleted, out.Failed)
	assert.Equal(t, "relayer transfer --sender alice.near --amount 100", out.ResumeHint)
	require.ErrorIs(t, out.Err, ptypes.ErrOnChainRejection)

	cp, err := journal.NewFileJournal(path).Load(t.Context())
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, journal.StageProofObtained, cp.Stage)

	last := h.events.events[len(h.events.events)-1]
	assert.Equal(t, EventTransferFailed, last.Type)
	assert.Equal(t, ClassOnChainRejection, last.Class)

	again := newHarness(t, path)
	out = again.run(t.Context())
	require.NoError(t, out.Err)
	assert.Zero(t, again.src.withdrawals)
	assert.Equal(t, 1, again.eth.unlocks)
}

func TestMachine_ReceiptCardinalityViolation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, journalPath(t))
	w := withdrawal()
	w.ReceiptIDs = append(w.ReceiptIDs, bin(hashOf(0x12)))
	h.src.withdrawn = w

	out := h.run(t.Context())
	assert.Equal(t, StatusFatal, out.Status)
	assert.Equal(t, ClassProtocolViolation, out.Class)
	assert.Equal(t, journal.StageWithdrawn, out.Stage)
	assert.Equal(t, journal.StageReceiptLocated, out.Failed)
	assert.Empty(t, h.src.awaitedAbove)
}

func TestMachine_UnconfirmedWithdrawalRecovery(t *testing.T) {
	t.Parallel()
	path := journalPath(t)
	h := newHarness(t, path)
	h.src.withdrawErr = &source.UnconfirmedWithdrawalError{TxHash: withdrawTxHash, Err: errors.New("timeout")}

	out := h.run(t.Context())
	assert.Equal(t, StatusFatal, out.Status)
	assert.Equal(t, journal.StageNone, out.Stage)
	assert.Equal(t, "relayer transfer --sender alice.near --amount 100 --withdraw-tx "+withdrawTxHash.String(), out.ResumeHint)
	_, err := os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)

	again := newHarness(t, path)
	tx := withdrawTxHash
	out = again.machine.Run(t.Context(), Invocation{Request: again.req, Args: testArgs, WithdrawTx: &tx})
	require.NoError(t, out.Err)
	assert.Zero(t, again.src.withdrawals)
	assert.Equal(t, 1, again.src.recoveries)
	assert.Equal(t, 1, again.eth.unlocks)
}

func TestMachine_CancelledWhileWaiting(t *testing.T) {
	t.Parallel()
	path := journalPath(t)
	h := newHarness(t, path)
	ctx, cancel := context.WithCancel(t.Context())
	h.src.onAwait = cancel

	out := h.run(ctx)
	assert.Equal(t, StatusRetryable, out.Status)
	assert.Equal(t, ClassCancelled, out.Class)
	assert.Equal(t, journal.StageReceiptLocated, out.Stage)
	assert.Equal(t, journal.StageClientCaughtUp, out.Failed)
	assert.NotEmpty(t, out.ResumeHint)

	// Reporting still happens after cancellation.
	require.Len(t, h.history.runs, 1)
	assert.Equal(t, StatusRetryable, h.history.runs[0].Status)

	again := newHarness(t, path)
	require.True(t, again.run(t.Context()).OK())
	assert.Zero(t, again.src.withdrawals)
}

func TestMachine_CancelledAfterWithdrawal(t *testing.T) {
	t.Parallel()
	path := journalPath(t)
	h := newHarness(t, path)
	ctx, cancel := context.WithCancel(t.Context())
	h.src.onWithdraw = cancel

	out := h.run(ctx)
	assert.Equal(t, StatusRetryable, out.Status)
	assert.Equal(t, ClassCancelled, out.Class)
	assert.Equal(t, journal.StageWithdrawn, out.Stage)
	assert.Equal(t, journal.StageReceiptLocated, out.Failed)

	cp, err := journal.NewFileJournal(path).Load(t.Context())
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, journal.StageWithdrawn, cp.Stage)

	again := newHarness(t, path)
	require.True(t, again.run(t.Context()).OK())
	assert.Zero(t, again.src.withdrawals, "withdrawal must not repeat")
	assert.Equal(t, 1, again.eth.unlocks)
}

func TestMachine_CancelledAfterUnlock(t *testing.T) {
	t.Parallel()
	path := journalPath(t)
	h := newHarness(t, path)
	ctx, cancel := context.WithCancel(t.Context())
	h.eth.onUnlock = cancel

	out := h.run(ctx)
	require.NoError(t, out.Err)
	assert.True(t, out.OK())
	assert.Equal(t, 1, h.eth.unlocks)
	_, err := os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestMachine_UnrecordedWithdrawalHint(t *testing.T) {
	t.Parallel()
	path := journalPath(t)
	h := newHarness(t, path)
	h.journal.recordErr = errors.New("disk full")

	out := h.run(t.Context())
	assert.Equal(t, StatusFatal, out.Status)
	assert.Equal(t, ClassResource, out.Class)
	assert.Equal(t, journal.StageNone, out.Stage)
	assert.Equal(t, "relayer transfer --sender alice.near --amount 100 --withdraw-tx "+withdrawTxHash.String(), out.ResumeHint)

	again := newHarness(t, path)
	tx := withdrawTxHash
	out = again.machine.Run(t.Context(), Invocation{Request: again.req, Args: testArgs, WithdrawTx: &tx})
	require.NoError(t, out.Err)
	assert.Zero(t, again.src.withdrawals)
	assert.Equal(t, 1, again.src.recoveries)
}

func TestMachine_RequestMismatch(t *testing.T) {
	t.Parallel()
	path := journalPath(t)
	h := newHarness(t, path)

	other := h.req
	other.Amount = "200"
	cp := journal.Checkpoint{Request: other}.Advance(journal.StageWithdrawn, func(p *journal.Payloads) {
		p.Withdrawn = withdrawal()
	})
	require.NoError(t, journal.NewFileJournal(path).Record(t.Context(), &cp))

	out := h.run(t.Context())
	assert.Equal(t, StatusFatal, out.Status)
	assert.Equal(t, ClassConflict, out.Class)
	require.ErrorIs(t, out.Err, journal.ErrRequestMismatch)
	assert.Zero(t, h.src.withdrawals)
	_, err := os.Stat(path)
	require.NoError(t, err, "journal of the other transfer is kept")

	forced := newHarness(t, path)
	out = forced.machine.Run(t.Context(), Invocation{Request: forced.req, Args: testArgs, Force: true})
	require.NoError(t, out.Err)
	assert.Equal(t, 1, forced.src.withdrawals)
}

func TestMachine_CorruptJournalQuarantined(t *testing.T) {
	t.Parallel()
	path := journalPath(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"stage":`), 0o600))
	h := newHarness(t, path)

	out := h.run(t.Context())
	require.NoError(t, out.Err)
	assert.Equal(t, 1, h.src.withdrawals)

	moved, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	assert.Len(t, moved, 1)
}

func TestMachine_EventFailureDoesNotFailTransfer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, journalPath(t))
	h.events.err = errors.New("broker down")

	out := h.run(t.Context())
	require.NoError(t, out.Err)
	assert.Len(t, h.events.events, 6)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	sugar := zaptest.NewLogger(t).Sugar()
	_, err := New(nil, newFakeSource(), nil, nil, nil, sugar)
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		err    error
		status Status
		class  Class
	}{
		{"nil", nil, StatusSuccess, ClassNone},
		{"cancelled", context.Canceled, StatusRetryable, ClassCancelled},
		{"deadline", context.DeadlineExceeded, StatusRetryable, ClassCancelled},
		{"protocol", ptypes.ErrProtocolViolation, StatusFatal, ClassProtocolViolation},
		{"rejection", ptypes.ErrOnChainRejection, StatusFatal, ClassOnChainRejection},
		{"exhausted", &backoff.ExhaustedError{Attempts: 3, Err: errors.New("eof")}, StatusFatal, ClassTransientExhausted},
		{"journal", errJournal, StatusFatal, ClassResource},
		{"mismatch", journal.ErrRequestMismatch, StatusFatal, ClassConflict},
		{"other", errors.New("boom"), StatusFatal, ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			status, class := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.class, class)
		})
	}
}
