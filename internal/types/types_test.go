package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/near-relayer/pkg/types"
)

func hashOf(b byte) types.CryptoHash {
	var h types.CryptoHash
	for i := range h {
		h[i] = b
	}
	return h
}

func TestExecutionStatus_UnmarshalJSON(t *testing.T) {
	receipt := hashOf(3)

	tests := []struct {
		name    string
		input   string
		want    ExecutionStatus
		wantErr bool
	}{
		{
			name:  "bare string",
			input: `"Started"`,
			want:  ExecutionStatus{Kind: StatusUnknown},
		},
		{
			name:  "success value",
			input: `{"SuccessValue":"IjEwMCI="}`,
			want:  ExecutionStatus{Kind: StatusSuccessValue, SuccessValue: []byte(`"100"`)},
		},
		{
			name:  "empty success value",
			input: `{"SuccessValue":""}`,
			want:  ExecutionStatus{Kind: StatusSuccessValue, SuccessValue: []byte{}},
		},
		{
			name:  "success receipt id",
			input: `{"SuccessReceiptId":"` + receipt.String() + `"}`,
			want:  ExecutionStatus{Kind: StatusSuccessReceiptID, SuccessReceiptID: receipt},
		},
		{
			name:  "failure",
			input: `{"Failure":{"ActionError":{"index":0}}}`,
			want:  ExecutionStatus{Kind: StatusFailure, Failure: json.RawMessage(`{"ActionError":{"index":0}}`)},
		},
		{
			name:    "no variant",
			input:   `{}`,
			wantErr: true,
		},
		{
			name:    "bad base64",
			input:   `{"SuccessValue":"%%%"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ExecutionStatus
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecutionStatus_MarshalJSON(t *testing.T) {
	out, err := json.Marshal(ExecutionStatus{Kind: StatusSuccessValue, SuccessValue: []byte("ok")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"SuccessValue":"b2s="}`, string(out))

	out, err = json.Marshal(ExecutionStatus{})
	require.NoError(t, err)
	assert.Equal(t, `"Unknown"`, string(out))
}

func TestFinalExecutionOutcome_ReceiptOutcome(t *testing.T) {
	o := &FinalExecutionOutcome{
		ReceiptsOutcome: []ExecutionOutcomeWithID{
			{ID: hashOf(1), BlockHash: hashOf(10)},
			{ID: hashOf(2), BlockHash: hashOf(20)},
		},
	}

	got, ok := o.ReceiptOutcome(hashOf(2))
	require.True(t, ok)
	assert.Equal(t, hashOf(20), got.BlockHash)

	_, ok = o.ReceiptOutcome(hashOf(3))
	assert.False(t, ok)
}

func TestBlockRef_Params(t *testing.T) {
	assert.Equal(t, map[string]any{"finality": "final"}, FinalBlock().Params())
	assert.Equal(t, "final", FinalBlock().String())

	h := hashOf(7)
	ref := BlockByHash(h)
	assert.Equal(t, map[string]any{"block_id": h.String()}, ref.Params())
	assert.Equal(t, h.String(), ref.String())
}

func TestBlockHeaderInnerLite_Nanos(t *testing.T) {
	h := BlockHeaderInnerLite{Timestamp: 1_600_000_000_000_000_000}
	got, err := h.Nanos()
	require.NoError(t, err)
	assert.Equal(t, uint64(1_600_000_000_000_000_000), got)

	h.TimestampNanosec = "1600000000123456789"
	got, err = h.Nanos()
	require.NoError(t, err)
	assert.Equal(t, uint64(1_600_000_000_123_456_789), got)

	h.TimestampNanosec = "soon"
	_, err = h.Nanos()
	require.Error(t, err)
}

func TestParseLightClientProof(t *testing.T) {
	_, err := ParseLightClientProof([]byte(`{"outcome_proof":`))
	require.ErrorContains(t, err, "decode light client proof")

	p, err := ParseLightClientProof([]byte(`{"block_header_lite":{"inner_lite":{"height":42}}}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), p.BlockHeaderLite.InnerLite.Height)
}
