package ethereum

import (
	"context"
	"crypto/ecdsa"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ava-labs/near-relayer/pkg/metrics"
)

var (
	//go:embed abi/lightclient.json
	lightClientABIJSON string
	//go:embed abi/prover.json
	proverABIJSON string
	//go:embed abi/locker.json
	lockerABIJSON string
	//go:embed abi/erc20.json
	erc20ABIJSON string
)

// DefaultUnlockGasLimit is the gas limit of the unlockToken transaction.
const DefaultUnlockGasLimit = 5_000_000

var (
	// ErrReverted is wrapped into errors of calls and transactions the EVM reverted.
	ErrReverted = errors.New("execution reverted")
	ErrNoSigner = errors.New("no ethereum signing key configured")
)

// Backend is what the client needs from an Ethereum node connection.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Contracts holds the bridge contract addresses.
type Contracts struct {
	LightClient common.Address
	Prover      common.Address
	Locker      common.Address
}

// BridgeState is the light client's bridgeState() result.
type BridgeState struct {
	CurrentHeight     uint64
	NextTimestamp     uint64
	NextValidAt       uint64
	NumBlockProducers uint64
}

// Unlocked is the token locker's Unlocked event.
type Unlocked struct {
	Amount    *big.Int
	Recipient common.Address
}

// Client wraps an Ethereum node and the bridge contracts deployed on it.
type Client struct {
	backend  Backend
	closer   func()
	chainID  *big.Int
	signer   *ecdsa.PrivateKey
	gasLimit uint64
	metrics  *metrics.Metrics // nil if metrics disabled

	lightClient *bind.BoundContract
	prover      *bind.BoundContract
	locker      *bind.BoundContract
	lockerABI   abi.ABI
	erc20ABI    abi.ABI
}

// Option configures the Client.
type Option func(*Client)

// WithMetrics enables metrics collection for the client.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithSigner sets the key paying for the unlock transaction.
func WithSigner(key *ecdsa.PrivateKey) Option {
	return func(c *Client) {
		c.signer = key
	}
}

func WithGasLimit(limit uint64) Option {
	return func(c *Client) {
		c.gasLimit = limit
	}
}

// Dial connects to the node at url.
func Dial(ctx context.Context, url string, contracts Contracts, opts ...Option) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum rpc: %w", err)
	}
	chainID, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	c, err := NewWithBackend(ec, chainID, contracts, opts...)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.closer = ec.Close
	return c, nil
}

// NewWithBackend creates a client over an existing backend.
func NewWithBackend(backend Backend, chainID *big.Int, contracts Contracts, opts ...Option) (*Client, error) {
	lightClientABI, err := abi.JSON(strings.NewReader(lightClientABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse light client abi: %w", err)
	}
	proverABI, err := abi.JSON(strings.NewReader(proverABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse prover abi: %w", err)
	}
	lockerABI, err := abi.JSON(strings.NewReader(lockerABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse locker abi: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	c := &Client{
		backend:     backend,
		chainID:     chainID,
		gasLimit:    DefaultUnlockGasLimit,
		lightClient: bind.NewBoundContract(contracts.LightClient, lightClientABI, backend, backend, backend),
		prover:      bind.NewBoundContract(contracts.Prover, proverABI, backend, backend, backend),
		locker:      bind.NewBoundContract(contracts.Locker, lockerABI, backend, backend, backend),
		lockerABI:   lockerABI,
		erc20ABI:    erc20ABI,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Sender returns the address paying for transactions, or the zero address
// without a signer.
func (c *Client) Sender() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(c.signer.PublicKey)
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

func (c *Client) track(method string, fn func() error) error {
	start := time.Now()

	c.metrics.IncRPCInFlight(metrics.ChainEthereum)
	defer c.metrics.DecRPCInFlight(metrics.ChainEthereum)

	err := fn()

	c.metrics.RecordRPCCall(metrics.ChainEthereum, method, err, time.Since(start).Seconds())

	if err != nil {
		return classify(method, err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, contract *bind.BoundContract, method string, params ...any) ([]any, error) {
	var out []any
	err := c.track(method, func() error {
		return contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...)
	})
	return out, err
}

func classify(method string, err error) error {
	if !strings.Contains(strings.ToLower(err.Error()), "revert") {
		return fmt.Errorf("%s: %w", method, err)
	}
	var de rpc.DataError
	if errors.As(err, &de) {
		if data, ok := de.ErrorData().(string); ok {
			if reason, uerr := abi.UnpackRevert(common.FromHex(data)); uerr == nil {
				return fmt.Errorf("%s: %w: %s", method, ErrReverted, reason)
			}
		}
	}
	return fmt.Errorf("%s: %w: %w", method, ErrReverted, err)
}

func outputAt[T any](out []any, i int, method string) (T, error) {
	var zero T
	if i >= len(out) {
		return zero, fmt.Errorf("%s: missing output %d", method, i)
	}
	v, ok := out[i].(T)
	if !ok {
		return zero, fmt.Errorf("%s: output %d has type %T", method, i, out[i])
	}
	return v, nil
}

func uint64At(out []any, i int, method string) (uint64, error) {
	v, err := outputAt[*big.Int](out, i, method)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%s: output %d = %s overflows uint64", method, i, v)
	}
	return v.Uint64(), nil
}

func (c *Client) BridgeState(ctx context.Context) (BridgeState, error) {
	const method = "bridgeState"
	out, err := c.call(ctx, c.lightClient, method)
	if err != nil {
		return BridgeState{}, err
	}
	var (
		s    BridgeState
		errs []error
	)
	s.CurrentHeight, err = uint64At(out, 0, method)
	errs = append(errs, err)
	s.NextTimestamp, err = uint64At(out, 1, method)
	errs = append(errs, err)
	s.NextValidAt, err = uint64At(out, 2, method)
	errs = append(errs, err)
	s.NumBlockProducers, err = uint64At(out, 3, method)
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return BridgeState{}, err
	}
	return s, nil
}

// BlockHash returns the NEAR block hash the light client stores for height.
func (c *Client) BlockHash(ctx context.Context, height uint64) ([32]byte, error) {
	const method = "blockHashes"
	out, err := c.call(ctx, c.lightClient, method, height)
	if err != nil {
		return [32]byte{}, err
	}
	return outputAt[[32]byte](out, 0, method)
}

// LockDuration returns the light client's challenge period in seconds.
func (c *Client) LockDuration(ctx context.Context) (uint64, error) {
	const method = "lockDuration"
	out, err := c.call(ctx, c.lightClient, method)
	if err != nil {
		return 0, err
	}
	return uint64At(out, 0, method)
}

// LatestBlockTime returns the timestamp of the latest Ethereum block in seconds.
func (c *Client) LatestBlockTime(ctx context.Context) (uint64, error) {
	var header *gethtypes.Header
	err := c.track("eth_getBlockByNumber", func() error {
		var err error
		header, err = c.backend.HeaderByNumber(ctx, nil)
		return err
	})
	if err != nil {
		return 0, err
	}
	return header.Time, nil
}

// ProveOutcome runs the prover's proveOutcome as an eth_call.
func (c *Client) ProveOutcome(ctx context.Context, proof []byte, height uint64) (bool, error) {
	const method = "proveOutcome"
	out, err := c.call(ctx, c.prover, method, proof, height)
	if err != nil {
		return false, err
	}
	return outputAt[bool](out, 0, method)
}

// TokenBalance returns the ERC20 balance of owner.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	const method = "balanceOf"
	erc20 := bind.NewBoundContract(token, c.erc20ABI, c.backend, c.backend, c.backend)
	out, err := c.call(ctx, erc20, method, owner)
	if err != nil {
		return nil, err
	}
	return outputAt[*big.Int](out, 0, method)
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.track("eth_gasPrice", func() error {
		var err error
		price, err = c.backend.SuggestGasPrice(ctx)
		return err
	})
	return price, err
}

// UnlockToken submits unlockToken with a legacy gas price and waits until it
// is mined. A mined transaction with a failed status is reported as ErrReverted.
func (c *Client) UnlockToken(ctx context.Context, proof []byte, height uint64, gasPrice *big.Int) (*gethtypes.Receipt, error) {
	if c.signer == nil {
		return nil, ErrNoSigner
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.signer, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("create transactor: %w", err)
	}
	opts.Context = ctx
	opts.GasLimit = c.gasLimit
	opts.GasPrice = gasPrice

	var tx *gethtypes.Transaction
	err = c.track("unlockToken", func() error {
		var err error
		tx, err = c.locker.Transact(opts, "unlockToken", proof, height)
		return err
	})
	if err != nil {
		return nil, err
	}

	var receipt *gethtypes.Receipt
	err = c.track("waitMined", func() error {
		var err error
		receipt, err = bind.WaitMined(ctx, c.backend, tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("wait for unlock tx %s: %w", tx.Hash(), err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: unlock tx %s failed in block %s", ErrReverted, tx.Hash(), receipt.BlockNumber)
	}
	return receipt, nil
}

// UnlockedEvents decodes the locker's Unlocked events from a receipt.
func (c *Client) UnlockedEvents(receipt *gethtypes.Receipt) ([]Unlocked, error) {
	ev, ok := c.lockerABI.Events["Unlocked"]
	if !ok {
		return nil, errors.New("locker abi has no Unlocked event")
	}
	var events []Unlocked
	for _, l := range receipt.Logs {
		if len(l.Topics) == 0 || l.Topics[0] != ev.ID {
			continue
		}
		values, err := ev.Inputs.Unpack(l.Data)
		if err != nil {
			return nil, fmt.Errorf("decode Unlocked event: %w", err)
		}
		amount, err := outputAt[*big.Int](values, 0, "Unlocked")
		if err != nil {
			return nil, err
		}
		recipient, err := outputAt[common.Address](values, 1, "Unlocked")
		if err != nil {
			return nil, err
		}
		events = append(events, Unlocked{Amount: amount, Recipient: recipient})
	}
	return events, nil
}
