package types

import (
	"github.com/ava-labs/near-relayer/pkg/types"
)

// BlockHeader is the subset of a NEAR block header the relayer reads.
type BlockHeader struct {
	Height    uint64           `json:"height"`
	Hash      types.CryptoHash `json:"hash"`
	PrevHash  types.CryptoHash `json:"prev_hash"`
	EpochID   types.CryptoHash `json:"epoch_id"`
	Timestamp uint64           `json:"timestamp"`
}

type Block struct {
	Author string      `json:"author"`
	Header BlockHeader `json:"header"`
}

// BlockRef selects a block either by hash or by finality tag. Exactly one of
// the fields is set.
type BlockRef struct {
	Hash     *types.CryptoHash
	Finality string
}

func FinalBlock() BlockRef {
	return BlockRef{Finality: "final"}
}

func BlockByHash(h types.CryptoHash) BlockRef {
	return BlockRef{Hash: &h}
}

// Params renders the ref as NEAR "block" RPC params.
func (r BlockRef) Params() map[string]any {
	if r.Hash != nil {
		return map[string]any{"block_id": r.Hash.String()}
	}
	return map[string]any{"finality": r.Finality}
}

func (r BlockRef) String() string {
	if r.Hash != nil {
		return r.Hash.String()
	}
	return r.Finality
}

// AccessKey is the view_access_key result.
type AccessKey struct {
	Nonce       uint64           `json:"nonce"`
	BlockHeight uint64           `json:"block_height"`
	BlockHash   types.CryptoHash `json:"block_hash"`
}

// Account is the view_account result.
type Account struct {
	Amount        string `json:"amount"`
	Locked        string `json:"locked"`
	StorageUsage  uint64 `json:"storage_usage"`
	BlockHeight   uint64 `json:"block_height"`
	CodeHash      string `json:"code_hash"`
	StoragePaidAt uint64 `json:"storage_paid_at"`
}
