package types

import (
	"encoding/json"
	"fmt"

	"github.com/ava-labs/near-relayer/pkg/types"
)

// Direction is the side of a merkle path item relative to the running hash.
type Direction string

const (
	DirectionLeft  Direction = "Left"
	DirectionRight Direction = "Right"
)

type MerklePathItem struct {
	Hash      types.CryptoHash `json:"hash"`
	Direction Direction        `json:"direction"`
}

// OutcomeProof is the outcome_proof part of a light_client_proof response.
type OutcomeProof struct {
	Proof     []MerklePathItem `json:"proof"`
	BlockHash types.CryptoHash `json:"block_hash"`
	ID        types.CryptoHash `json:"id"`
	Outcome   ExecutionOutcome `json:"outcome"`
}

// BlockHeaderInnerLite is the light client view of a block header.
type BlockHeaderInnerLite struct {
	Height           uint64           `json:"height"`
	EpochID          types.CryptoHash `json:"epoch_id"`
	NextEpochID      types.CryptoHash `json:"next_epoch_id"`
	PrevStateRoot    types.CryptoHash `json:"prev_state_root"`
	OutcomeRoot      types.CryptoHash `json:"outcome_root"`
	Timestamp        uint64           `json:"timestamp"`
	TimestampNanosec string           `json:"timestamp_nanosec,omitempty"`
	NextBPHash       types.CryptoHash `json:"next_bp_hash"`
	BlockMerkleRoot  types.CryptoHash `json:"block_merkle_root"`
}

// Nanos returns the header timestamp, preferring the string form which never
// loses precision in JSON tooling.
func (h BlockHeaderInnerLite) Nanos() (uint64, error) {
	if h.TimestampNanosec == "" {
		return h.Timestamp, nil
	}
	var v uint64
	if _, err := fmt.Sscan(h.TimestampNanosec, &v); err != nil {
		return 0, fmt.Errorf("timestamp_nanosec %q: %w", h.TimestampNanosec, err)
	}
	return v, nil
}

type LightClientBlockLite struct {
	PrevBlockHash types.CryptoHash     `json:"prev_block_hash"`
	InnerRestHash types.CryptoHash     `json:"inner_rest_hash"`
	InnerLite     BlockHeaderInnerLite `json:"inner_lite"`
}

// LightClientProof is the decoded light_client_proof response.
type LightClientProof struct {
	OutcomeProof     OutcomeProof         `json:"outcome_proof"`
	OutcomeRootProof []MerklePathItem     `json:"outcome_root_proof"`
	BlockHeaderLite  LightClientBlockLite `json:"block_header_lite"`
	BlockProof       []MerklePathItem     `json:"block_proof"`
}

// ParseLightClientProof decodes a raw light_client_proof response.
func ParseLightClientProof(raw []byte) (*LightClientProof, error) {
	var p LightClientProof
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode light client proof: %w", err)
	}
	return &p, nil
}
