package unlock

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ava-labs/near-relayer/internal/chainclient/ethereum"
	"github.com/ava-labs/near-relayer/pkg/backoff"
	ptypes "github.com/ava-labs/near-relayer/pkg/types"
)

type mockContracts struct {
	mock.Mock
}

func (m *mockContracts) ProveOutcome(ctx context.Context, proof []byte, height uint64) (bool, error) {
	args := m.Called(ctx, proof, height)
	return args.Bool(0), args.Error(1)
}

func (m *mockContracts) UnlockToken(ctx context.Context, proof []byte, height uint64, gasPrice *big.Int) (*gethtypes.Receipt, error) {
	args := m.Called(ctx, proof, height, gasPrice)
	r, _ := args.Get(0).(*gethtypes.Receipt)
	return r, args.Error(1)
}

func (m *mockContracts) UnlockedEvents(receipt *gethtypes.Receipt) ([]ethereum.Unlocked, error) {
	args := m.Called(receipt)
	ev, _ := args.Get(0).([]ethereum.Unlocked)
	return ev, args.Error(1)
}

func (m *mockContracts) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	args := m.Called(ctx, token, owner)
	v, _ := args.Get(0).(*big.Int)
	return v, args.Error(1)
}

func (m *mockContracts) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	v, _ := args.Get(0).(*big.Int)
	return v, args.Error(1)
}

var (
	token     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	recipient = common.HexToAddress("0xabcabcabcabcabcabcabcabcabcabcabcabcabca")
	proof     = []byte{1, 2, 3}
)

func newTestAdapter(c Contracts, opts ...Option) (*Adapter, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	opts = append([]Option{WithRetryPolicy(backoff.Fixed(3, time.Millisecond))}, opts...)
	return New(c, zap.New(core).Sugar(), opts...), logs
}

func TestVerifyProof(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		ok      bool
		err     error
		wantErr error
	}{
		{name: "accepted", ok: true},
		{name: "prover returns false", ok: false, wantErr: ptypes.ErrOnChainRejection},
		{name: "prover reverts", err: ethereum.ErrReverted, wantErr: ptypes.ErrOnChainRejection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &mockContracts{}
			c.On("ProveOutcome", mock.Anything, proof, uint64(502)).Return(tt.ok, tt.err).Once()
			a, _ := newTestAdapter(c)

			err := a.VerifyProof(t.Context(), proof, 502)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			c.AssertExpectations(t)
		})
	}
}

func TestVerifyProof_RetriesTransientErrors(t *testing.T) {
	t.Parallel()
	c := &mockContracts{}
	c.On("ProveOutcome", mock.Anything, proof, uint64(502)).Return(false, errors.New("connection reset")).Twice()
	c.On("ProveOutcome", mock.Anything, proof, uint64(502)).Return(true, nil).Once()
	a, _ := newTestAdapter(c)

	require.NoError(t, a.VerifyProof(t.Context(), proof, 502))
	c.AssertNumberOfCalls(t, "ProveOutcome", 3)
}

func TestUnlock(t *testing.T) {
	t.Parallel()
	c := &mockContracts{}
	receipt := &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(9), GasUsed: 90_000}
	c.On("TokenBalance", mock.Anything, token, recipient).Return(big.NewInt(1000), nil).Once()
	c.On("TokenBalance", mock.Anything, token, recipient).Return(big.NewInt(1100), nil).Once()
	c.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(20), nil)
	c.On("UnlockToken", mock.Anything, proof, uint64(502), big.NewInt(60)).Return(receipt, nil).Once()
	c.On("UnlockedEvents", receipt).Return([]ethereum.Unlocked{{Amount: big.NewInt(100), Recipient: recipient}}, nil)
	a, logs := newTestAdapter(c, WithGasMultiplier(3))

	got, err := a.Unlock(t.Context(), proof, 502, token, recipient)
	require.NoError(t, err)
	assert.Same(t, receipt, got)
	c.AssertExpectations(t)

	before := logs.FilterMessage("recipient balance before unlock").All()
	after := logs.FilterMessage("recipient balance after unlock").All()
	require.Len(t, before, 1)
	require.Len(t, after, 1)
	assert.Equal(t, "1000", before[0].ContextMap()["balance"])
	assert.Equal(t, "1100", after[0].ContextMap()["balance"])
	assert.Equal(t, 1, logs.FilterMessage("tokens unlocked").Len())
}

func TestUnlock_Reverted(t *testing.T) {
	t.Parallel()
	c := &mockContracts{}
	c.On("TokenBalance", mock.Anything, token, recipient).Return(big.NewInt(1000), nil)
	c.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(20), nil)
	c.On("UnlockToken", mock.Anything, proof, uint64(502), big.NewInt(20)).
		Return(&gethtypes.Receipt{Status: gethtypes.ReceiptStatusFailed}, ethereum.ErrReverted).Once()
	a, _ := newTestAdapter(c)

	_, err := a.Unlock(t.Context(), proof, 502, token, recipient)
	require.ErrorIs(t, err, ptypes.ErrOnChainRejection)
	c.AssertNumberOfCalls(t, "UnlockToken", 1)
}

func TestUnlock_TransportErrorNotRetried(t *testing.T) {
	t.Parallel()
	c := &mockContracts{}
	c.On("TokenBalance", mock.Anything, token, recipient).Return(nil, errors.New("balance unavailable"))
	c.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(20), nil)
	c.On("UnlockToken", mock.Anything, proof, uint64(502), big.NewInt(20)).Return(nil, errors.New("connection reset")).Once()
	a, _ := newTestAdapter(c)

	_, err := a.Unlock(t.Context(), proof, 502, token, recipient)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ptypes.ErrOnChainRejection)
	c.AssertNumberOfCalls(t, "UnlockToken", 1)
}
