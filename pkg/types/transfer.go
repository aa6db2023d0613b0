package types

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// IDKind tells the proof RPC whether an identifier is a transaction hash or a
// receipt id.
type IDKind string

const (
	IDKindTransaction IDKind = "transaction"
	IDKindReceipt     IDKind = "receipt"
)

func (k IDKind) Valid() bool {
	return k == IDKindTransaction || k == IDKindReceipt
}

// TransferRequest is the immutable input of one NEAR -> Ethereum transfer.
type TransferRequest struct {
	Sender       string `json:"sender"`               // NEAR account burning the tokens
	Amount       string `json:"amount"`               // base units, decimal
	TokenName    string `json:"token_name,omitempty"` // registry name, empty for the default token
	TokenAccount string `json:"token_account"`        // NEAR bridged token contract
	TokenAddress string `json:"token_address"`        // Ethereum ERC20 address
	Recipient    string `json:"recipient"`            // Ethereum address, hex without 0x
}

// NewTransferRequest builds a validated request. The recipient may be given
// with or without the 0x prefix.
func NewTransferRequest(sender, amount, tokenName, tokenAccount, tokenAddress, recipient string) (TransferRequest, error) {
	req := TransferRequest{
		Sender:       strings.TrimSpace(sender),
		Amount:       strings.TrimSpace(amount),
		TokenName:    tokenName,
		TokenAccount: strings.TrimSpace(tokenAccount),
		TokenAddress: strings.TrimSpace(tokenAddress),
		Recipient:    strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(recipient), "0x"), "0X"),
	}
	if err := req.Validate(); err != nil {
		return TransferRequest{}, err
	}
	return req, nil
}

func (r TransferRequest) Validate() error {
	var errs []error
	if r.Sender == "" {
		errs = append(errs, errors.New("sender account is required"))
	}
	if r.TokenAccount == "" {
		errs = append(errs, errors.New("token account is required"))
	}
	if !common.IsHexAddress(r.TokenAddress) {
		errs = append(errs, fmt.Errorf("invalid token address %q", r.TokenAddress))
	}
	if !common.IsHexAddress(r.Recipient) {
		errs = append(errs, fmt.Errorf("invalid recipient address %q", r.Recipient))
	}
	if _, err := r.AmountInt(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// AmountInt parses Amount as a positive integer.
func (r TransferRequest) AmountInt() (*big.Int, error) {
	v, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", r.Amount)
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %s", r.Amount)
	}
	return v, nil
}

func (r TransferRequest) RecipientAddress() common.Address {
	return common.HexToAddress(r.Recipient)
}

func (r TransferRequest) TokenContract() common.Address {
	return common.HexToAddress(r.TokenAddress)
}
