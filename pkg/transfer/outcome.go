package transfer

import (
	"context"
	"errors"
	"strings"

	"github.com/ava-labs/near-relayer/pkg/backoff"
	"github.com/ava-labs/near-relayer/pkg/journal"
	"github.com/ava-labs/near-relayer/pkg/source"
	ptypes "github.com/ava-labs/near-relayer/pkg/types"
	"github.com/ava-labs/near-relayer/pkg/utils"
)

// Status is the result of one Run.
type Status int

const (
	// StatusSuccess means the tokens were unlocked and the journal deleted.
	StatusSuccess Status = iota
	// StatusRetryable means the run was interrupted and re-running the same
	// command continues where it stopped.
	StatusRetryable
	// StatusFatal means a stage failed in a way retrying within the run
	// cannot fix. The journal still holds the last completed stage.
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRetryable:
		return "retryable"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Class groups failures for operators and metrics.
type Class string

const (
	ClassNone               Class = ""
	ClassCancelled          Class = "cancelled"
	ClassTransientExhausted Class = "transient-exhausted"
	ClassProtocolViolation  Class = "protocol-violation"
	ClassOnChainRejection   Class = "on-chain-rejection"
	ClassResource           Class = "resource"
	ClassConflict           Class = "journal-conflict"
	ClassUnknown            Class = "unknown"
)

// errJournal marks failures to read or write the journal.
var errJournal = errors.New("journal unavailable")

// Outcome reports how a Run ended.
type Outcome struct {
	Status Status
	Class  Class
	// Stage is the last stage recorded in the journal.
	Stage journal.Stage
	// Failed is the stage that was being attempted when the run stopped.
	Failed journal.Stage
	Err    error
	// ResumeHint is the command line that resumes the transfer. Empty on success.
	ResumeHint string
}

func (o Outcome) OK() bool {
	return o.Status == StatusSuccess
}

// classify maps a stage error to the outcome status and class.
func classify(err error) (Status, Class) {
	switch {
	case err == nil:
		return StatusSuccess, ClassNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusRetryable, ClassCancelled
	case errors.Is(err, journal.ErrRequestMismatch):
		return StatusFatal, ClassConflict
	case errors.Is(err, errJournal):
		return StatusFatal, ClassResource
	case errors.Is(err, ptypes.ErrProtocolViolation):
		return StatusFatal, ClassProtocolViolation
	case errors.Is(err, ptypes.ErrOnChainRejection):
		return StatusFatal, ClassOnChainRejection
	case errors.Is(err, backoff.ErrExhausted):
		return StatusFatal, ClassTransientExhausted
	default:
		return StatusFatal, ClassUnknown
	}
}

// resumeHint returns the command that resumes the transfer. When the
// withdrawal was broadcast but never confirmed, or confirmed but never
// recorded, its transaction hash is added so the next run recovers it instead
// of withdrawing again.
func resumeHint(args []string, err error, unrecordedTx string) string {
	hint := append([]string(nil), args...)
	txHash := unrecordedTx
	var unconfirmed *source.UnconfirmedWithdrawalError
	if errors.As(err, &unconfirmed) {
		txHash = unconfirmed.TxHash.String()
	}
	if txHash != "" && !hasFlag(hint, withdrawTxFlag) {
		hint = append(hint, withdrawTxFlag, txHash)
	}
	return utils.QuoteArgs(hint)
}

const withdrawTxFlag = "--withdraw-tx"

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag || strings.HasPrefix(a, flag+"=") {
			return true
		}
	}
	return false
}
