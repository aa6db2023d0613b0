package proof

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/near/borsh-go"

	"github.com/ava-labs/near-relayer/internal/types"
	ptypes "github.com/ava-labs/near-relayer/pkg/types"
)

// Canonicalize re-encodes a raw light_client_proof response into the Borsh
// layout the prover contract decodes. Identical input yields identical output.
func Canonicalize(raw []byte) ([]byte, error) {
	p, err := types.ParseLightClientProof(raw)
	if err != nil {
		return nil, err
	}
	return Encode(p)
}

// Borsh schema of the prover input, in field order.
type (
	fullOutcomeProof struct {
		OutcomeProof     outcomeProof
		OutcomeRootProof []merklePathItem
		BlockHeaderLite  blockHeaderLite
		BlockProof       []merklePathItem
	}

	outcomeProof struct {
		Proof     []merklePathItem
		BlockHash ptypes.CryptoHash
		ID        ptypes.CryptoHash
		Outcome   executionOutcome
	}

	merklePathItem struct {
		Hash      ptypes.CryptoHash
		Direction uint8
	}

	executionOutcome struct {
		Logs        []string
		ReceiptIDs  []ptypes.CryptoHash
		GasBurnt    uint64
		TokensBurnt ptypes.U128
		ExecutorID  string
		Status      executionStatus
	}

	// executionStatus variants are indexed as in nearcore.
	executionStatus struct {
		Enum             borsh.Enum `borsh_enum:"true"`
		Unknown          statusUnknown
		Failure          statusFailure
		SuccessValue     statusSuccessValue
		SuccessReceiptID statusSuccessReceiptID
	}
	statusUnknown          struct{}
	statusFailure          struct{}
	statusSuccessValue     struct{ Value []byte }
	statusSuccessReceiptID struct{ ID ptypes.CryptoHash }

	blockHeaderLite struct {
		PrevBlockHash ptypes.CryptoHash
		InnerRestHash ptypes.CryptoHash
		InnerLite     blockHeaderInnerLite
	}

	blockHeaderInnerLite struct {
		Height          uint64
		EpochID         ptypes.CryptoHash
		NextEpochID     ptypes.CryptoHash
		PrevStateRoot   ptypes.CryptoHash
		OutcomeRoot     ptypes.CryptoHash
		Timestamp       uint64
		NextBPHash      ptypes.CryptoHash
		BlockMerkleRoot ptypes.CryptoHash
	}
)

const (
	statusSuccessValueIndex     borsh.Enum = 2
	statusSuccessReceiptIDIndex borsh.Enum = 3
)

// Encode writes p in prover order: outcome proof, outcome root proof, block
// header lite, block proof.
func Encode(p *types.LightClientProof) ([]byte, error) {
	outcomePath, err := path(p.OutcomeProof.Proof)
	if err != nil {
		return nil, fmt.Errorf("outcome proof: %w", err)
	}
	outcome, err := convertOutcome(p.OutcomeProof.Outcome)
	if err != nil {
		return nil, fmt.Errorf("outcome: %w", err)
	}
	rootPath, err := path(p.OutcomeRootProof)
	if err != nil {
		return nil, fmt.Errorf("outcome root proof: %w", err)
	}
	blockPath, err := path(p.BlockProof)
	if err != nil {
		return nil, fmt.Errorf("block proof: %w", err)
	}

	hdr := p.BlockHeaderLite
	inner := hdr.InnerLite
	ts, err := inner.Nanos()
	if err != nil {
		return nil, err
	}

	return borsh.Serialize(fullOutcomeProof{
		OutcomeProof: outcomeProof{
			Proof:     outcomePath,
			BlockHash: p.OutcomeProof.BlockHash,
			ID:        p.OutcomeProof.ID,
			Outcome:   outcome,
		},
		OutcomeRootProof: rootPath,
		BlockHeaderLite: blockHeaderLite{
			PrevBlockHash: hdr.PrevBlockHash,
			InnerRestHash: hdr.InnerRestHash,
			InnerLite: blockHeaderInnerLite{
				Height:          inner.Height,
				EpochID:         inner.EpochID,
				NextEpochID:     inner.NextEpochID,
				PrevStateRoot:   inner.PrevStateRoot,
				OutcomeRoot:     inner.OutcomeRoot,
				Timestamp:       ts,
				NextBPHash:      inner.NextBPHash,
				BlockMerkleRoot: inner.BlockMerkleRoot,
			},
		},
		BlockProof: blockPath,
	})
}

func path(items []types.MerklePathItem) ([]merklePathItem, error) {
	out := make([]merklePathItem, len(items))
	for i, item := range items {
		out[i].Hash = item.Hash
		switch item.Direction {
		case types.DirectionLeft:
			out[i].Direction = 0
		case types.DirectionRight:
			out[i].Direction = 1
		default:
			return nil, fmt.Errorf("item %d: unknown direction %q", i, item.Direction)
		}
	}
	return out, nil
}

func convertOutcome(o types.ExecutionOutcome) (executionOutcome, error) {
	burnt, ok := new(big.Int).SetString(o.TokensBurnt, 10)
	if !ok {
		return executionOutcome{}, fmt.Errorf("tokens burnt %q is not an integer", o.TokensBurnt)
	}
	tokensBurnt, err := ptypes.NewU128(burnt)
	if err != nil {
		return executionOutcome{}, fmt.Errorf("tokens burnt: %w", err)
	}

	out := executionOutcome{
		Logs:        o.Logs,
		ReceiptIDs:  o.ReceiptIDs,
		GasBurnt:    o.GasBurnt,
		TokensBurnt: tokensBurnt,
		ExecutorID:  o.ExecutorID,
	}

	switch o.Status.Kind {
	case types.StatusSuccessValue:
		out.Status.Enum = statusSuccessValueIndex
		out.Status.SuccessValue.Value = o.Status.SuccessValue
	case types.StatusSuccessReceiptID:
		out.Status.Enum = statusSuccessReceiptIDIndex
		out.Status.SuccessReceiptID.ID = o.Status.SuccessReceiptID
	case types.StatusFailure:
		return executionOutcome{}, errors.New("cannot prove a failed outcome")
	default:
		return executionOutcome{}, fmt.Errorf("cannot prove outcome with status %s", o.Status.Kind)
	}
	return out, nil
}
