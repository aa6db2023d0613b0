// Package transfers stores relayer run history in ClickHouse.
package transfers

import (
	"context"
	"fmt"

	"github.com/ava-labs/near-relayer/pkg/clickhouse"
	"github.com/ava-labs/near-relayer/pkg/utils"
)

// Transfers provides methods to write transfer runs to ClickHouse
type Transfers interface {
	CreateTableIfNotExists(ctx context.Context) error
	WriteTransfer(ctx context.Context, row *TransferRow) error
}

type transfers struct {
	client    clickhouse.Client
	tableName string
}

// NewTransfers creates the repository and initializes the table.
func NewTransfers(ctx context.Context, client clickhouse.Client, tableName string) (Transfers, error) {
	repo := &transfers{client: client, tableName: tableName}
	if err := repo.CreateTableIfNotExists(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize transfers table: %w", err)
	}
	return repo, nil
}

// CreateTableIfNotExists creates the transfers table if it doesn't exist
func (r *transfers) CreateTableIfNotExists(ctx context.Context) error {
	if err := r.client.Conn().Exec(ctx, CreateTableQuery(r.tableName)); err != nil {
		return fmt.Errorf("failed to create transfers table: %w", err)
	}
	return nil
}

// WriteTransfer inserts a single run.
func (r *transfers) WriteTransfer(ctx context.Context, row *TransferRow) error {
	tokenBytes, err := utils.HexToBytes20(row.TokenAddress)
	if err != nil {
		return fmt.Errorf("failed to convert token address to bytes: %w", err)
	}
	recipientBytes, err := utils.HexToBytes20(row.Recipient)
	if err != nil {
		return fmt.Errorf("failed to convert recipient to bytes: %w", err)
	}

	// Nullable unlock_tx
	var unlockTx interface{}
	if row.UnlockTx != "" {
		b, err := utils.HexToBytes32(row.UnlockTx)
		if err != nil {
			return fmt.Errorf("failed to convert unlock tx to bytes: %w", err)
		}
		unlockTx = string(b[:])
	}

	amount := row.Amount
	if amount == "" {
		amount = "0"
	}

	err = r.client.Conn().Exec(ctx, InsertQuery(r.tableName),
		row.StartedAt,
		row.FinishedAt,
		row.Sender,
		row.TokenAccount,
		string(tokenBytes[:]),
		string(recipientBytes[:]),
		amount, // UInt128 as decimal string
		row.Status,
		row.FailureClass,
		row.Stage,
		row.Resumed,
		row.WithdrawTx,
		unlockTx,
		row.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transfer: %w", err)
	}
	return nil
}
