package source

import (
	"bytes"
	"fmt"

	"github.com/ava-labs/near-relayer/pkg/journal"
	ptypes "github.com/ava-labs/near-relayer/pkg/types"
)

// Located identifies the receipt whose execution outcome is proven on Ethereum.
type Located struct {
	ReceiptID ptypes.CryptoHash
	Kind      ptypes.IDKind
	BlockHash ptypes.CryptoHash
}

// LocateReceipt finds the downstream receipt of a withdrawal. The withdraw
// call must produce exactly one receipt, whose successful outcome hands off to
// a second receipt; that second receipt and the block executing it are returned.
func LocateReceipt(w *journal.Withdrawn) (Located, error) {
	if w == nil {
		return Located{}, fmt.Errorf("%w: no withdrawal outcome", ptypes.ErrProtocolViolation)
	}
	if len(w.ReceiptIDs) != 1 {
		return Located{}, fmt.Errorf("%w: withdrawal produced %d receipts, want exactly 1",
			ptypes.ErrProtocolViolation, len(w.ReceiptIDs))
	}

	first, ok := findReceipt(w.Receipts, w.ReceiptIDs[0])
	if !ok {
		return Located{}, fmt.Errorf("%w: no outcome for receipt %s", ptypes.ErrProtocolViolation, hashString(w.ReceiptIDs[0]))
	}
	if len(first.SuccessReceiptID) == 0 {
		return Located{}, fmt.Errorf("%w: receipt %s did not hand off to a successor receipt",
			ptypes.ErrProtocolViolation, hashString(first.ID))
	}

	next, ok := findReceipt(w.Receipts, first.SuccessReceiptID)
	if !ok {
		return Located{}, fmt.Errorf("%w: no outcome for successor receipt %s",
			ptypes.ErrProtocolViolation, hashString(first.SuccessReceiptID))
	}

	id, err := next.ID.Hash()
	if err != nil {
		return Located{}, fmt.Errorf("%w: receipt id: %w", ptypes.ErrProtocolViolation, err)
	}
	block, err := next.BlockHash.Hash()
	if err != nil {
		return Located{}, fmt.Errorf("%w: receipt block hash: %w", ptypes.ErrProtocolViolation, err)
	}
	return Located{ReceiptID: id, Kind: ptypes.IDKindReceipt, BlockHash: block}, nil
}

func findReceipt(receipts []journal.ReceiptOutcome, id journal.Binary) (journal.ReceiptOutcome, bool) {
	for _, r := range receipts {
		if bytes.Equal(r.ID, id) {
			return r, true
		}
	}
	return journal.ReceiptOutcome{}, false
}

func hashString(b journal.Binary) string {
	h, err := b.Hash()
	if err != nil {
		return fmt.Sprintf("%x", []byte(b))
	}
	return h.String()
}
