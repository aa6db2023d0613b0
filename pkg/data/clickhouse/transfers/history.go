package transfers

import (
	"context"

	"github.com/ava-labs/near-relayer/pkg/transfer"
)

// History adapts a Transfers repository to transfer.HistoryRecorder.
type History struct {
	repo Transfers
}

var _ transfer.HistoryRecorder = (*History)(nil)

func NewHistory(repo Transfers) *History {
	return &History{repo: repo}
}

func (h *History) RecordRun(ctx context.Context, s transfer.Summary) error {
	return h.repo.WriteTransfer(ctx, RowFromSummary(s))
}
