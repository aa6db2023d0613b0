package journal

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ava-labs/near-relayer/pkg/types"
)

// Stage is the last transfer step whose side effect is known to have succeeded.
type Stage string

const (
	StageNone           Stage = ""
	StageWithdrawn      Stage = "withdrawn"
	StageReceiptLocated Stage = "receipt-located"
	StageClientCaughtUp Stage = "client-caught-up"
	StageProofObtained  Stage = "proof-obtained"
	StageCompleted      Stage = "completed"
)

var stageOrder = []Stage{
	StageNone,
	StageWithdrawn,
	StageReceiptLocated,
	StageClientCaughtUp,
	StageProofObtained,
	StageCompleted,
}

// Index returns the position of s in the stage ordering, or -1 for an unknown stage.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the stage that follows s. Completed and unknown stages have no successor.
func (s Stage) Next() Stage {
	i := s.Index()
	if i < 0 || i == len(stageOrder)-1 {
		return s
	}
	return stageOrder[i+1]
}

func (s Stage) String() string {
	if s == StageNone {
		return "none"
	}
	return string(s)
}

func (s *Stage) UnmarshalText(text []byte) error {
	st := Stage(text)
	if st.Index() < 0 {
		return fmt.Errorf("unknown stage %q", string(text))
	}
	*s = st
	return nil
}

const binaryType = "base64"

// Binary is a byte string persisted as {"type":"base64","data":"..."} so it decodes
// back to the exact original bytes.
type Binary []byte

type binaryEnvelope struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func (b Binary) MarshalJSON() ([]byte, error) {
	return json.Marshal(binaryEnvelope{Type: binaryType, Data: base64.StdEncoding.EncodeToString(b)})
}

func (b *Binary) UnmarshalJSON(data []byte) error {
	var env binaryEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("binary value: %w", err)
	}
	if env.Type != binaryType {
		return fmt.Errorf("binary value has type %q, want %q", env.Type, binaryType)
	}
	raw, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return fmt.Errorf("binary value: %w", err)
	}
	*b = raw
	return nil
}

// Hash converts a 32-byte binary value to a CryptoHash.
func (b Binary) Hash() (types.CryptoHash, error) {
	return types.HashFromBytes(b)
}

// ReceiptOutcome is one entry of the withdrawal's receipts_outcome list.
type ReceiptOutcome struct {
	ID               Binary `json:"id"`
	BlockHash        Binary `json:"block_hash"`
	SuccessReceiptID Binary `json:"success_receipt_id,omitempty"`
}

// Withdrawn records the outcome of the withdrawal transaction.
type Withdrawn struct {
	TxHash     Binary           `json:"tx_hash"`
	ReceiptIDs []Binary         `json:"receipt_ids"`
	Receipts   []ReceiptOutcome `json:"receipts"`
}

// ReceiptLocated records the receipt whose outcome will be proven on Ethereum.
type ReceiptLocated struct {
	ReceiptID   Binary       `json:"receipt_id"`
	Kind        types.IDKind `json:"kind"`
	BlockHash   Binary       `json:"block_hash"`
	BlockHeight uint64       `json:"block_height"`
}

// ClientCaughtUp records the light client head that is past the finalized target.
type ClientCaughtUp struct {
	TargetHeight uint64 `json:"target_height"`
	HeadHeight   uint64 `json:"head_height"`
	HeadHash     Binary `json:"head_hash"`
}

// ProofObtained records the raw light_client_proof response.
type ProofObtained struct {
	RawProof     Binary `json:"raw_proof"`
	AnchorHeight uint64 `json:"anchor_height"`
}

// Payloads holds the payload of every stage reached so far.
type Payloads struct {
	Withdrawn      *Withdrawn      `json:"withdrawn,omitempty"`
	ReceiptLocated *ReceiptLocated `json:"receipt_located,omitempty"`
	ClientCaughtUp *ClientCaughtUp `json:"client_caught_up,omitempty"`
	ProofObtained  *ProofObtained  `json:"proof_obtained,omitempty"`
}

// Checkpoint is the persisted progress of one transfer.
type Checkpoint struct {
	Stage      Stage                 `json:"stage"`
	RecordedAt time.Time             `json:"recorded_at"`
	Request    types.TransferRequest `json:"request"`
	Stages     Payloads              `json:"stages"`
}

// Advance returns a copy of c moved to stage with the payloads mutated by set.
func (c Checkpoint) Advance(stage Stage, set func(p *Payloads)) Checkpoint {
	next := c
	next.Stage = stage
	if set != nil {
		set(&next.Stages)
	}
	return next
}

// Validate checks that every payload up to and including Stage is present and complete.
func (c *Checkpoint) Validate() error {
	idx := c.Stage.Index()
	if idx < 0 {
		return fmt.Errorf("unknown stage %q", c.Stage)
	}
	var errs []error
	if idx >= StageWithdrawn.Index() {
		errs = append(errs, validateWithdrawn(c.Stages.Withdrawn))
	}
	if idx >= StageReceiptLocated.Index() {
		errs = append(errs, validateReceiptLocated(c.Stages.ReceiptLocated))
	}
	if idx >= StageClientCaughtUp.Index() {
		errs = append(errs, validateClientCaughtUp(c.Stages.ClientCaughtUp))
	}
	if idx >= StageProofObtained.Index() {
		errs = append(errs, validateProofObtained(c.Stages.ProofObtained))
	}
	return errors.Join(errs...)
}

func validateWithdrawn(p *Withdrawn) error {
	if p == nil {
		return errors.New("withdrawn payload missing")
	}
	if len(p.TxHash) != 32 {
		return fmt.Errorf("withdrawn: tx hash has %d bytes", len(p.TxHash))
	}
	if p.ReceiptIDs == nil {
		return errors.New("withdrawn: receipt id list missing")
	}
	return nil
}

func validateReceiptLocated(p *ReceiptLocated) error {
	switch {
	case p == nil:
		return errors.New("receipt-located payload missing")
	case len(p.ReceiptID) != 32:
		return fmt.Errorf("receipt-located: receipt id has %d bytes", len(p.ReceiptID))
	case !p.Kind.Valid():
		return fmt.Errorf("receipt-located: invalid id kind %q", p.Kind)
	case len(p.BlockHash) != 32:
		return fmt.Errorf("receipt-located: block hash has %d bytes", len(p.BlockHash))
	}
	return nil
}

func validateClientCaughtUp(p *ClientCaughtUp) error {
	switch {
	case p == nil:
		return errors.New("client-caught-up payload missing")
	case p.HeadHeight <= p.TargetHeight:
		return fmt.Errorf("client-caught-up: head %d is not above target %d", p.HeadHeight, p.TargetHeight)
	case len(p.HeadHash) != 32:
		return fmt.Errorf("client-caught-up: head hash has %d bytes", len(p.HeadHash))
	}
	return nil
}

func validateProofObtained(p *ProofObtained) error {
	switch {
	case p == nil:
		return errors.New("proof-obtained payload missing")
	case len(p.RawProof) == 0:
		return errors.New("proof-obtained: empty proof")
	case p.AnchorHeight == 0:
		return errors.New("proof-obtained: anchor height missing")
	}
	return nil
}
