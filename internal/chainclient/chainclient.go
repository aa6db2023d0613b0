package chainclient

import (
	"context"
	"encoding/json"

	"github.com/ava-labs/near-relayer/internal/types"
	ptypes "github.com/ava-labs/near-relayer/pkg/types"
)

// NearClient is the NEAR JSON-RPC surface used by the relayer.
type NearClient interface {
	Block(ctx context.Context, ref types.BlockRef) (*types.Block, error)
	ViewAccessKey(ctx context.Context, accountID, publicKey string) (*types.AccessKey, error)
	ViewAccount(ctx context.Context, accountID string) (*types.Account, error)
	CallView(ctx context.Context, contractID, method string, args any) ([]byte, error)
	BroadcastTxCommit(ctx context.Context, signedTx []byte) (*types.FinalExecutionOutcome, error)
	TxStatus(ctx context.Context, txHash ptypes.CryptoHash, senderID string) (*types.FinalExecutionOutcome, error)
	LightClientProof(ctx context.Context, params map[string]any) (json.RawMessage, error)
}
