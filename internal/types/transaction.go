package types

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ava-labs/near-relayer/pkg/types"
)

// StatusKind discriminates an execution status.
type StatusKind int

const (
	StatusUnknown StatusKind = iota
	StatusFailure
	StatusSuccessValue
	StatusSuccessReceiptID
)

func (k StatusKind) String() string {
	switch k {
	case StatusFailure:
		return "Failure"
	case StatusSuccessValue:
		return "SuccessValue"
	case StatusSuccessReceiptID:
		return "SuccessReceiptId"
	default:
		return "Unknown"
	}
}

// ExecutionStatus is the status of a transaction or receipt outcome. The RPC
// sends either a bare string ("Unknown", "NotStarted", "Started") or an object
// with exactly one of SuccessValue, SuccessReceiptId or Failure.
type ExecutionStatus struct {
	Kind             StatusKind
	SuccessValue     []byte
	SuccessReceiptID types.CryptoHash
	Failure          json.RawMessage
}

type executionStatusJSON struct {
	SuccessValue     *string           `json:"SuccessValue,omitempty"`
	SuccessReceiptID *types.CryptoHash `json:"SuccessReceiptId,omitempty"`
	Failure          json.RawMessage   `json:"Failure,omitempty"`
}

func (s *ExecutionStatus) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		*s = ExecutionStatus{Kind: StatusUnknown}
		return nil
	}

	var raw executionStatusJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("execution status: %w", err)
	}
	switch {
	case raw.SuccessValue != nil:
		v, err := base64.StdEncoding.DecodeString(*raw.SuccessValue)
		if err != nil {
			return fmt.Errorf("execution status value: %w", err)
		}
		*s = ExecutionStatus{Kind: StatusSuccessValue, SuccessValue: v}
	case raw.SuccessReceiptID != nil:
		*s = ExecutionStatus{Kind: StatusSuccessReceiptID, SuccessReceiptID: *raw.SuccessReceiptID}
	case raw.Failure != nil:
		*s = ExecutionStatus{Kind: StatusFailure, Failure: raw.Failure}
	default:
		return errors.New("execution status: no known variant")
	}
	return nil
}

func (s ExecutionStatus) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case StatusSuccessValue:
		v := base64.StdEncoding.EncodeToString(s.SuccessValue)
		return json.Marshal(executionStatusJSON{SuccessValue: &v})
	case StatusSuccessReceiptID:
		id := s.SuccessReceiptID
		return json.Marshal(executionStatusJSON{SuccessReceiptID: &id})
	case StatusFailure:
		return json.Marshal(executionStatusJSON{Failure: s.Failure})
	default:
		return json.Marshal("Unknown")
	}
}

// ExecutionOutcome is the effect of executing one transaction or receipt.
type ExecutionOutcome struct {
	Logs        []string           `json:"logs"`
	ReceiptIDs  []types.CryptoHash `json:"receipt_ids"`
	GasBurnt    uint64             `json:"gas_burnt"`
	TokensBurnt string             `json:"tokens_burnt"`
	ExecutorID  string             `json:"executor_id"`
	Status      ExecutionStatus    `json:"status"`
}

// ExecutionOutcomeWithID pairs an outcome with the id it belongs to and the
// block it was executed in.
type ExecutionOutcomeWithID struct {
	ID        types.CryptoHash `json:"id"`
	BlockHash types.CryptoHash `json:"block_hash"`
	Outcome   ExecutionOutcome `json:"outcome"`
	Proof     []MerklePathItem `json:"proof,omitempty"`
}

// SignedTransactionView is the transaction echoed back by broadcast_tx_commit and tx.
type SignedTransactionView struct {
	Hash       types.CryptoHash `json:"hash"`
	SignerID   string           `json:"signer_id"`
	ReceiverID string           `json:"receiver_id"`
	Nonce      uint64           `json:"nonce"`
}

// FinalExecutionOutcome is returned once a transaction and all of its receipts
// have executed.
type FinalExecutionOutcome struct {
	Status             ExecutionStatus          `json:"status"`
	Transaction        SignedTransactionView    `json:"transaction"`
	TransactionOutcome ExecutionOutcomeWithID   `json:"transaction_outcome"`
	ReceiptsOutcome    []ExecutionOutcomeWithID `json:"receipts_outcome"`
}

// ReceiptOutcome returns the outcome entry for receipt id, if present.
func (o *FinalExecutionOutcome) ReceiptOutcome(id types.CryptoHash) (ExecutionOutcomeWithID, bool) {
	for _, r := range o.ReceiptsOutcome {
		if r.ID == id {
			return r, true
		}
	}
	return ExecutionOutcomeWithID{}, false
}
