package transfers

const (
	// transferColumns is the column list for the transfers table (14 columns)
	transferColumns = `started_at, finished_at, sender, token_account, token_address, recipient,
		amount, status, failure_class, stage, resumed, withdraw_tx, unlock_tx, error`

	transferValuesPlaceholders = `?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`
)

// InsertQuery returns the INSERT query for the transfers table.
// The query expects 14 parameters in the order of transferColumns.
func InsertQuery(tableName string) string {
	return `INSERT INTO ` + tableName + ` (` + transferColumns + `) VALUES (` + transferValuesPlaceholders + `)`
}

// CreateTableQuery returns the CREATE TABLE query for the transfers table.
// Runs are append-only; a resumed transfer produces one row per invocation.
func CreateTableQuery(tableName string) string {
	return `CREATE TABLE IF NOT EXISTS ` + tableName + ` (
		started_at DateTime64(3, 'UTC'),
		finished_at DateTime64(3, 'UTC'),
		sender String,
		token_account String,
		token_address FixedString(20),
		recipient FixedString(20),
		amount UInt128,
		status LowCardinality(String),
		failure_class LowCardinality(String),
		stage LowCardinality(String),
		resumed Bool,
		withdraw_tx String,
		unlock_tx Nullable(FixedString(32)),
		error String
	)
	ENGINE = MergeTree
	PARTITION BY toYYYYMM(started_at)
	ORDER BY (sender, started_at)`
}
