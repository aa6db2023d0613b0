package near

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"

	ptypes "github.com/ava-labs/near-relayer/pkg/types"
)

const (
	ed25519Prefix  = "ed25519:"
	keyTypeED25519 = 0

	// Action enum index of FunctionCall in the NEAR transaction schema.
	actionFunctionCall borsh.Enum = 2
)

// KeyPair is an ed25519 NEAR access key.
type KeyPair struct {
	priv ed25519.PrivateKey
}

// ParseKeyPair parses "ed25519:<base58>" where the payload is either the
// 64-byte expanded secret key or the 32-byte seed.
func ParseKeyPair(s string) (*KeyPair, error) {
	if !strings.HasPrefix(s, ed25519Prefix) {
		return nil, fmt.Errorf("secret key must start with %q", ed25519Prefix)
	}
	raw, err := base58.Decode(strings.TrimPrefix(s, ed25519Prefix))
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return &KeyPair{priv: ed25519.PrivateKey(raw)}, nil
	case ed25519.SeedSize:
		return &KeyPair{priv: ed25519.NewKeyFromSeed(raw)}, nil
	default:
		return nil, fmt.Errorf("secret key has %d bytes", len(raw))
	}
}

func (k *KeyPair) PublicKey() ed25519.PublicKey {
	return k.priv.Public().(ed25519.PublicKey)
}

// PublicKeyString returns the key in the "ed25519:<base58>" form used by the RPC.
func (k *KeyPair) PublicKeyString() string {
	return ed25519Prefix + base58.Encode(k.PublicKey())
}

// FunctionCall is a single contract call action.
type FunctionCall struct {
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    *big.Int
}

// Transaction is an unsigned NEAR transaction with function call actions.
type Transaction struct {
	SignerID   string
	PublicKey  ed25519.PublicKey
	Nonce      uint64
	ReceiverID string
	BlockHash  ptypes.CryptoHash
	Actions    []FunctionCall
}

// Borsh schema of a signed NEAR transaction.
type (
	borshPublicKey struct {
		KeyType uint8
		Data    [ed25519.PublicKeySize]byte
	}

	borshSignature struct {
		KeyType uint8
		Data    [ed25519.SignatureSize]byte
	}

	// borshAction variants are indexed as in nearcore; only function calls
	// are ever built.
	borshAction struct {
		Enum           borsh.Enum `borsh_enum:"true"`
		CreateAccount  createAccountAction
		DeployContract deployContractAction
		FunctionCall   functionCallAction
	}
	createAccountAction  struct{}
	deployContractAction struct{ Code []byte }
	functionCallAction   struct {
		MethodName string
		Args       []byte
		Gas        uint64
		Deposit    ptypes.U128
	}

	borshTransaction struct {
		SignerID   string
		PublicKey  borshPublicKey
		Nonce      uint64
		ReceiverID string
		BlockHash  ptypes.CryptoHash
		Actions    []borshAction
	}

	borshSignedTransaction struct {
		Transaction borshTransaction
		Signature   borshSignature
	}
)

func (tx *Transaction) schema() (borshTransaction, error) {
	out := borshTransaction{
		SignerID:   tx.SignerID,
		PublicKey:  borshPublicKey{KeyType: keyTypeED25519},
		Nonce:      tx.Nonce,
		ReceiverID: tx.ReceiverID,
		BlockHash:  tx.BlockHash,
		Actions:    make([]borshAction, len(tx.Actions)),
	}
	if len(tx.PublicKey) != ed25519.PublicKeySize {
		return out, fmt.Errorf("public key has %d bytes", len(tx.PublicKey))
	}
	copy(out.PublicKey.Data[:], tx.PublicKey)

	for i, a := range tx.Actions {
		deposit, err := ptypes.NewU128(a.Deposit)
		if err != nil {
			return out, fmt.Errorf("deposit: %w", err)
		}
		out.Actions[i] = borshAction{
			Enum: actionFunctionCall,
			FunctionCall: functionCallAction{
				MethodName: a.MethodName,
				Args:       a.Args,
				Gas:        a.Gas,
				Deposit:    deposit,
			},
		}
	}
	return out, nil
}

func (tx *Transaction) encode() ([]byte, error) {
	body, err := tx.schema()
	if err != nil {
		return nil, err
	}
	return borsh.Serialize(body)
}

// Sign returns the Borsh-encoded signed transaction and its hash. The hash is
// known before broadcast, which lets callers log it for recovery.
func (tx *Transaction) Sign(key *KeyPair) ([]byte, ptypes.CryptoHash, error) {
	body, err := tx.schema()
	if err != nil {
		return nil, ptypes.CryptoHash{}, err
	}
	encoded, err := borsh.Serialize(body)
	if err != nil {
		return nil, ptypes.CryptoHash{}, fmt.Errorf("encode transaction: %w", err)
	}
	hash := sha256.Sum256(encoded)

	signed := borshSignedTransaction{
		Transaction: body,
		Signature:   borshSignature{KeyType: keyTypeED25519},
	}
	copy(signed.Signature.Data[:], ed25519.Sign(key.priv, hash[:]))
	out, err := borsh.Serialize(signed)
	if err != nil {
		return nil, ptypes.CryptoHash{}, fmt.Errorf("encode signed transaction: %w", err)
	}
	return out, ptypes.CryptoHash(hash), nil
}
