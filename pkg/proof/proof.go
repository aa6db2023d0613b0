// Package proof requests NEAR inclusion proofs anchored at a light client head
// and re-encodes them into the Borsh layout verified by the Ethereum prover.
package proof

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ava-labs/near-relayer/internal/chainclient"
	"github.com/ava-labs/near-relayer/internal/chainclient/near"
	"github.com/ava-labs/near-relayer/pkg/backoff"
	"github.com/ava-labs/near-relayer/pkg/metrics"
	ptypes "github.com/ava-labs/near-relayer/pkg/types"
)

// ErrUnknownIdentifier means the node does not know the transaction or
// receipt at the requested light client head.
var ErrUnknownIdentifier = fmt.Errorf("%w: identifier unknown at light client head", ptypes.ErrProtocolViolation)

// Request names what to prove and the head to anchor the proof at.
type Request struct {
	Kind            ptypes.IDKind
	ID              ptypes.CryptoHash
	ReceiverID      string // receiver of a receipt, or signer of a transaction
	LightClientHead ptypes.CryptoHash
}

// Params builds the light_client_proof request parameters.
func (r Request) Params() (map[string]any, error) {
	switch r.Kind {
	case ptypes.IDKindTransaction:
		return map[string]any{
			"type":              string(r.Kind),
			"transaction_hash":  r.ID.String(),
			"sender_id":         r.ReceiverID,
			"light_client_head": r.LightClientHead.String(),
		}, nil
	case ptypes.IDKindReceipt:
		return map[string]any{
			"type":              string(r.Kind),
			"receipt_id":        r.ID.String(),
			"receiver_id":       r.ReceiverID,
			"light_client_head": r.LightClientHead.String(),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported id kind %q", r.Kind)
	}
}

type Service struct {
	client  chainclient.NearClient
	sugar   *zap.SugaredLogger
	metrics *metrics.Metrics
	retry   backoff.Policy
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithRetryPolicy(p backoff.Policy) Option {
	return func(s *Service) {
		s.retry = p
	}
}

func New(client chainclient.NearClient, sugar *zap.SugaredLogger, opts ...Option) *Service {
	s := &Service{
		client: client,
		sugar:  sugar.With("component", "proof"),
		retry:  backoff.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request fetches the raw proof. The response is returned undecoded so it can
// be journaled byte for byte; it is checked to parse before returning.
func (s *Service) Request(ctx context.Context, req Request) ([]byte, error) {
	params, err := req.Params()
	if err != nil {
		return nil, err
	}

	p := s.retry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		s.sugar.Warnw("retrying proof request", "attempt", attempt, "delay", delay, "error", err)
		s.metrics.IncRetry("lightClientProof")
	}
	raw, err := backoff.Retry(ctx, p, func(ctx context.Context) ([]byte, error) {
		raw, err := s.client.LightClientProof(ctx, params)
		if errors.Is(err, near.ErrUnknown) {
			return nil, backoff.Permanent(fmt.Errorf("%w: %s %s: %w", ErrUnknownIdentifier, req.Kind, req.ID, err))
		}
		return raw, err
	})
	if err != nil {
		return nil, fmt.Errorf("request proof for %s %s: %w", req.Kind, req.ID, err)
	}

	if _, err := Canonicalize(raw); err != nil {
		return nil, fmt.Errorf("%w: proof for %s %s: %w", ptypes.ErrProtocolViolation, req.Kind, req.ID, err)
	}
	s.sugar.Infow("obtained proof",
		"kind", req.Kind,
		"id", req.ID,
		"head", req.LightClientHead,
		"size", len(raw),
	)
	return raw, nil
}
