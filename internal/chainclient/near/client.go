package near

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ybbus/jsonrpc/v3"

	"github.com/ava-labs/near-relayer/internal/chainclient"
	"github.com/ava-labs/near-relayer/internal/types"
	"github.com/ava-labs/near-relayer/pkg/metrics"
	ptypes "github.com/ava-labs/near-relayer/pkg/types"
)

var (
	// ErrUnknown is wrapped into errors for identifiers (transactions,
	// receipts, accounts) the node does not know about. Unknown blocks are
	// not included: a lagging node learns about them later.
	ErrUnknown = errors.New("unknown to node")

	// ErrInvalidTransaction is wrapped into errors for transactions the node
	// rejected before executing them, such as a bad nonce or signature.
	ErrInvalidTransaction = errors.New("transaction rejected by node")
)

// Cause names of structured NEAR RPC errors.
const (
	causeUnknownTransaction = "UNKNOWN_TRANSACTION"
	causeUnknownReceipt     = "UNKNOWN_RECEIPT"
	causeUnknownAccount     = "UNKNOWN_ACCOUNT"
	causeUnknownAccessKey   = "UNKNOWN_ACCESS_KEY"
	causeInvalidAccount     = "INVALID_ACCOUNT"
	causeInvalidTransaction = "INVALID_TRANSACTION"
)

// broadcast_tx_commit blocks until the transaction and its receipts executed.
const defaultTimeout = 60 * time.Second

// Client wraps a NEAR JSON-RPC endpoint.
type Client struct {
	rpc        jsonrpc.RPCClient
	httpClient *http.Client
	metrics    *metrics.Metrics // nil if metrics disabled
}

var _ chainclient.NearClient = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithMetrics enables metrics collection for the client.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client for the NEAR node at url.
func New(url string, opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	hc := *client.httpClient
	hc.Transport = causeTransport{base: hc.Transport}
	client.rpc = jsonrpc.NewClientWithOpts(url, &jsonrpc.RPCClientOpts{
		HTTPClient:         &hc,
		AllowUnknownFields: true,
	})
	return client
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	start := time.Now()

	c.metrics.IncRPCInFlight(metrics.ChainNear)
	defer c.metrics.DecRPCInFlight(metrics.ChainNear)

	cause := &errorCause{}
	err := c.rpc.CallFor(context.WithValue(ctx, causeKey{}, cause), out, method, params)

	c.metrics.RecordRPCCall(metrics.ChainNear, method, err, time.Since(start).Seconds())

	if err != nil {
		return classify(method, err, cause)
	}
	return nil
}

func classify(method string, err error, cause *errorCause) error {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) || cause.Cause.Name == "" {
		return fmt.Errorf("near %s: %w", method, err)
	}
	switch cause.Cause.Name {
	case causeUnknownTransaction, causeUnknownReceipt, causeUnknownAccount, causeUnknownAccessKey, causeInvalidAccount:
		return fmt.Errorf("near %s: %s: %w: %w", method, cause.Cause.Name, ErrUnknown, err)
	case causeInvalidTransaction:
		return fmt.Errorf("near %s: %s %s: %w: %w", method, cause.Cause.Name, cause.Cause.Info, ErrInvalidTransaction, err)
	default:
		return fmt.Errorf("near %s: %s: %w", method, cause.Cause.Name, err)
	}
}

// legacyQueryUnknown matches the in-result errors of nodes that predate
// structured query errors.
func legacyQueryUnknown(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "doesn't exist")
}

func (c *Client) Block(ctx context.Context, ref types.BlockRef) (*types.Block, error) {
	var b types.Block
	if err := c.call(ctx, "block", ref.Params(), &b); err != nil {
		return nil, fmt.Errorf("get block %s: %w", ref, err)
	}
	return &b, nil
}

// queryResult carries the legacy in-result error that some nodes return for
// failed view queries instead of a JSON-RPC error.
type queryResult struct {
	Error string `json:"error,omitempty"`
}

func (c *Client) query(ctx context.Context, params map[string]any, out any) error {
	var raw json.RawMessage
	if err := c.call(ctx, "query", params, &raw); err != nil {
		return err
	}
	var qr queryResult
	if err := json.Unmarshal(raw, &qr); err != nil {
		return fmt.Errorf("decode query result: %w", err)
	}
	if qr.Error != "" {
		if legacyQueryUnknown(qr.Error) {
			return fmt.Errorf("near query: %s: %w", qr.Error, ErrUnknown)
		}
		return fmt.Errorf("near query: %s", qr.Error)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode query result: %w", err)
	}
	return nil
}

func (c *Client) ViewAccessKey(ctx context.Context, accountID, publicKey string) (*types.AccessKey, error) {
	var ak types.AccessKey
	err := c.query(ctx, map[string]any{
		"request_type": "view_access_key",
		"finality":     "final",
		"account_id":   accountID,
		"public_key":   publicKey,
	}, &ak)
	if err != nil {
		return nil, fmt.Errorf("view access key %s of %s: %w", publicKey, accountID, err)
	}
	return &ak, nil
}

func (c *Client) ViewAccount(ctx context.Context, accountID string) (*types.Account, error) {
	var acc types.Account
	err := c.query(ctx, map[string]any{
		"request_type": "view_account",
		"finality":     "final",
		"account_id":   accountID,
	}, &acc)
	if err != nil {
		return nil, fmt.Errorf("view account %s: %w", accountID, err)
	}
	return &acc, nil
}

// CallView runs a read-only contract method with JSON args and returns the raw
// result bytes.
func (c *Client) CallView(ctx context.Context, contractID, method string, args any) ([]byte, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s args: %w", method, err)
	}
	var res struct {
		Result []byte   `json:"result"`
		Logs   []string `json:"logs"`
	}
	err = c.query(ctx, map[string]any{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   contractID,
		"method_name":  method,
		"args_base64":  base64.StdEncoding.EncodeToString(encoded),
	}, &res)
	if err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", contractID, method, err)
	}
	return res.Result, nil
}

func (c *Client) BroadcastTxCommit(ctx context.Context, signedTx []byte) (*types.FinalExecutionOutcome, error) {
	var out types.FinalExecutionOutcome
	params := []string{base64.StdEncoding.EncodeToString(signedTx)}
	if err := c.call(ctx, "broadcast_tx_commit", params, &out); err != nil {
		return nil, fmt.Errorf("broadcast transaction: %w", err)
	}
	return &out, nil
}

func (c *Client) TxStatus(ctx context.Context, txHash ptypes.CryptoHash, senderID string) (*types.FinalExecutionOutcome, error) {
	var out types.FinalExecutionOutcome
	if err := c.call(ctx, "tx", []string{txHash.String(), senderID}, &out); err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", txHash, err)
	}
	return &out, nil
}

// LightClientProof returns the proof response undecoded so it can be stored as-is.
func (c *Client) LightClientProof(ctx context.Context, params map[string]any) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.call(ctx, "light_client_proof", params, &out); err != nil {
		return nil, fmt.Errorf("light client proof: %w", err)
	}
	return out, nil
}
