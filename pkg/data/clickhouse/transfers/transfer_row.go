package transfers

import (
	"time"

	"github.com/ava-labs/near-relayer/pkg/transfer"
)

// TransferRow is one relayer invocation as stored in ClickHouse.
type TransferRow struct {
	StartedAt    time.Time
	FinishedAt   time.Time
	Sender       string
	TokenAccount string
	TokenAddress string // hex
	Recipient    string // hex
	Amount       string // decimal
	Status       string
	FailureClass string
	Stage        string
	Resumed      bool
	WithdrawTx   string // base58, empty before withdrawal
	UnlockTx     string // hex, empty unless the unlock landed
	Error        string
}

// RowFromSummary maps a run summary onto a row.
func RowFromSummary(s transfer.Summary) *TransferRow {
	return &TransferRow{
		StartedAt:    s.StartedAt.UTC(),
		FinishedAt:   s.FinishedAt.UTC(),
		Sender:       s.Sender,
		TokenAccount: s.TokenAccount,
		TokenAddress: s.TokenAddress,
		Recipient:    s.Recipient,
		Amount:       s.Amount,
		Status:       s.Status.String(),
		FailureClass: string(s.Class),
		Stage:        string(s.Stage),
		Resumed:      s.Resumed,
		WithdrawTx:   s.WithdrawTx,
		UnlockTx:     s.UnlockTx,
		Error:        s.Error,
	}
}
