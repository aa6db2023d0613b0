package types

import "errors"

var (
	// ErrProtocolViolation means the chain answered in a shape the relayer does not
	// expect from the bridge contracts (for example a withdrawal producing more than
	// one receipt). Retrying cannot fix it.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrOnChainRejection means a submitted transaction or verification call reverted.
	ErrOnChainRejection = errors.New("rejected on chain")
)
