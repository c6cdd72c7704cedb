package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists entities in PostgreSQL. Writes are full-row upserts;
// the indexer always does read-merge-write, so overwriting is consistent.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS offramp_requests (
    id TEXT PRIMARY KEY,
    user_address TEXT NOT NULL,
    requested_amount TEXT NOT NULL,
    requested_amount_real_world TEXT NOT NULL,
    channel_account TEXT NOT NULL,
    channel_id TEXT NOT NULL,
    block_number BIGINT NOT NULL,
    block_timestamp BIGINT NOT NULL,
    transaction_hash TEXT NOT NULL,
    status TEXT NOT NULL,
    receiver TEXT NOT NULL DEFAULT '',
    proof TEXT NOT NULL DEFAULT '',
    reclaim_proof TEXT NOT NULL DEFAULT '',
    fill_block_number BIGINT NOT NULL DEFAULT 0,
    fill_block_timestamp BIGINT NOT NULL DEFAULT 0,
    fill_transaction_hash TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS onramp_requests (
    id TEXT PRIMARY KEY,
    buyer TEXT NOT NULL DEFAULT '',
    amount TEXT NOT NULL DEFAULT '',
    seller TEXT NOT NULL DEFAULT '',
    channel_id TEXT NOT NULL DEFAULT '',
    receipt_id TEXT NOT NULL DEFAULT '',
    completed_tx_hash TEXT NOT NULL DEFAULT '',
    legacy_status TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    task_index BIGINT NOT NULL,
    channel_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    request_offramp_id TEXT NOT NULL,
    receiver TEXT NOT NULL,
    task_created_block BIGINT NOT NULL,
    status TEXT NOT NULL,
    operator TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL,
    responded_at BIGINT NOT NULL DEFAULT 0,
    transaction_hash TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS operators (
    address TEXT PRIMARY KEY,
    total_tasks_completed BIGINT NOT NULL,
    last_active_timestamp BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_entries (
    kind TEXT NOT NULL,
    id TEXT NOT NULL,
    user_address TEXT NOT NULL DEFAULT '',
    from_address TEXT NOT NULL DEFAULT '',
    to_address TEXT NOT NULL DEFAULT '',
    provider TEXT NOT NULL DEFAULT '',
    amount TEXT NOT NULL,
    block_number BIGINT NOT NULL,
    block_timestamp BIGINT NOT NULL,
    transaction_hash TEXT NOT NULL,
    PRIMARY KEY (kind, id)
);
CREATE TABLE IF NOT EXISTS applied_events (
    key TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS responder_checkpoints (
    request_id TEXT PRIMARY KEY,
    next_step TEXT NOT NULL,
    attempts INT NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    done BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects using the DSN and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) GetOffRamp(ctx context.Context, id string) (*OffRampRequest, error) {
	row := p.pool.QueryRow(ctx, `
SELECT id, user_address, requested_amount, requested_amount_real_world, channel_account,
       channel_id, block_number, block_timestamp, transaction_hash, status, receiver,
       proof, reclaim_proof, fill_block_number, fill_block_timestamp, fill_transaction_hash
FROM offramp_requests WHERE id = $1
`, id)
	var e OffRampRequest
	if err := row.Scan(&e.ID, &e.User, &e.RequestedAmount, &e.RequestedAmountRealWorld,
		&e.ChannelAccount, &e.ChannelID, &e.BlockNumber, &e.BlockTimestamp,
		&e.TransactionHash, &e.Status, &e.Receiver, &e.Proof, &e.ReclaimProof,
		&e.FillBlockNumber, &e.FillBlockTimestamp, &e.FillTransactionHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (p *PostgresStore) PutOffRamp(ctx context.Context, e *OffRampRequest) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO offramp_requests (id, user_address, requested_amount, requested_amount_real_world,
    channel_account, channel_id, block_number, block_timestamp, transaction_hash, status,
    receiver, proof, reclaim_proof, fill_block_number, fill_block_timestamp, fill_transaction_hash)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    receiver = EXCLUDED.receiver,
    proof = EXCLUDED.proof,
    reclaim_proof = EXCLUDED.reclaim_proof,
    fill_block_number = EXCLUDED.fill_block_number,
    fill_block_timestamp = EXCLUDED.fill_block_timestamp,
    fill_transaction_hash = EXCLUDED.fill_transaction_hash
`, e.ID, e.User, e.RequestedAmount, e.RequestedAmountRealWorld, e.ChannelAccount,
		e.ChannelID, e.BlockNumber, e.BlockTimestamp, e.TransactionHash, e.Status,
		e.Receiver, e.Proof, e.ReclaimProof, e.FillBlockNumber, e.FillBlockTimestamp,
		e.FillTransactionHash)
	return err
}

func (p *PostgresStore) ListOffRamps(ctx context.Context, f Filter) ([]*OffRampRequest, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, user_address, requested_amount, requested_amount_real_world, channel_account,
       channel_id, block_number, block_timestamp, transaction_hash, status, receiver,
       proof, reclaim_proof, fill_block_number, fill_block_timestamp, fill_transaction_hash
FROM offramp_requests
WHERE ($1 = '' OR lower(user_address) = lower($1))
ORDER BY block_timestamp DESC
`, f.User)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*OffRampRequest
	for rows.Next() {
		var e OffRampRequest
		if err := rows.Scan(&e.ID, &e.User, &e.RequestedAmount, &e.RequestedAmountRealWorld,
			&e.ChannelAccount, &e.ChannelID, &e.BlockNumber, &e.BlockTimestamp,
			&e.TransactionHash, &e.Status, &e.Receiver, &e.Proof, &e.ReclaimProof,
			&e.FillBlockNumber, &e.FillBlockTimestamp, &e.FillTransactionHash); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetOnRamp(ctx context.Context, id string) (*OnRampRequest, error) {
	row := p.pool.QueryRow(ctx, `
SELECT id, buyer, amount, seller, channel_id, receipt_id, completed_tx_hash, legacy_status
FROM onramp_requests WHERE id = $1
`, id)
	var e OnRampRequest
	if err := row.Scan(&e.ID, &e.Buyer, &e.Amount, &e.Seller, &e.ChannelID,
		&e.ReceiptID, &e.CompletedTxHash, &e.LegacyStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (p *PostgresStore) PutOnRamp(ctx context.Context, e *OnRampRequest) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO onramp_requests (id, buyer, amount, seller, channel_id, receipt_id, completed_tx_hash, legacy_status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
    buyer = EXCLUDED.buyer,
    amount = EXCLUDED.amount,
    seller = EXCLUDED.seller,
    channel_id = EXCLUDED.channel_id,
    receipt_id = EXCLUDED.receipt_id,
    completed_tx_hash = EXCLUDED.completed_tx_hash,
    legacy_status = EXCLUDED.legacy_status
`, e.ID, e.Buyer, e.Amount, e.Seller, e.ChannelID, e.ReceiptID, e.CompletedTxHash, e.LegacyStatus)
	return err
}

func (p *PostgresStore) ListOnRamps(ctx context.Context, f Filter) ([]*OnRampRequest, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, buyer, amount, seller, channel_id, receipt_id, completed_tx_hash, legacy_status
FROM onramp_requests
WHERE ($1 = '' OR lower(buyer) = lower($1) OR lower(seller) = lower($1))
ORDER BY id DESC
`, f.User)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*OnRampRequest
	for rows.Next() {
		var e OnRampRequest
		if err := rows.Scan(&e.ID, &e.Buyer, &e.Amount, &e.Seller, &e.ChannelID,
			&e.ReceiptID, &e.CompletedTxHash, &e.LegacyStatus); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetTask(ctx context.Context, id string) (*Task, error) {
	row := p.pool.QueryRow(ctx, `
SELECT id, task_index, channel_id, transaction_id, request_offramp_id, receiver,
       task_created_block, status, operator, created_at, responded_at, transaction_hash
FROM tasks WHERE id = $1
`, id)
	var e Task
	if err := row.Scan(&e.ID, &e.TaskIndex, &e.ChannelID, &e.TransactionID,
		&e.RequestOfframpID, &e.Receiver, &e.TaskCreatedBlock, &e.Status,
		&e.Operator, &e.CreatedAt, &e.RespondedAt, &e.TransactionHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (p *PostgresStore) PutTask(ctx context.Context, e *Task) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO tasks (id, task_index, channel_id, transaction_id, request_offramp_id, receiver,
    task_created_block, status, operator, created_at, responded_at, transaction_hash)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    operator = EXCLUDED.operator,
    responded_at = EXCLUDED.responded_at
`, e.ID, e.TaskIndex, e.ChannelID, e.TransactionID, e.RequestOfframpID, e.Receiver,
		e.TaskCreatedBlock, e.Status, e.Operator, e.CreatedAt, e.RespondedAt, e.TransactionHash)
	return err
}

func (p *PostgresStore) ListTasks(ctx context.Context, f Filter) ([]*Task, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, task_index, channel_id, transaction_id, request_offramp_id, receiver,
       task_created_block, status, operator, created_at, responded_at, transaction_hash
FROM tasks
WHERE ($1 = '' OR lower(receiver) = lower($1))
ORDER BY created_at DESC
`, f.User)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		var e Task
		if err := rows.Scan(&e.ID, &e.TaskIndex, &e.ChannelID, &e.TransactionID,
			&e.RequestOfframpID, &e.Receiver, &e.TaskCreatedBlock, &e.Status,
			&e.Operator, &e.CreatedAt, &e.RespondedAt, &e.TransactionHash); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetOperator(ctx context.Context, address string) (*Operator, error) {
	row := p.pool.QueryRow(ctx, `
SELECT address, total_tasks_completed, last_active_timestamp
FROM operators WHERE address = $1
`, normalizeAddress(address))
	var e Operator
	if err := row.Scan(&e.Address, &e.TotalTasksCompleted, &e.LastActiveTimestamp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (p *PostgresStore) PutOperator(ctx context.Context, e *Operator) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO operators (address, total_tasks_completed, last_active_timestamp)
VALUES ($1,$2,$3)
ON CONFLICT (address) DO UPDATE SET
    total_tasks_completed = EXCLUDED.total_tasks_completed,
    last_active_timestamp = EXCLUDED.last_active_timestamp
`, normalizeAddress(e.Address), e.TotalTasksCompleted, e.LastActiveTimestamp)
	return err
}

func (p *PostgresStore) ListOperators(ctx context.Context) ([]*Operator, error) {
	rows, err := p.pool.Query(ctx, `
SELECT address, total_tasks_completed, last_active_timestamp
FROM operators ORDER BY last_active_timestamp DESC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Operator
	for rows.Next() {
		var e Operator
		if err := rows.Scan(&e.Address, &e.TotalTasksCompleted, &e.LastActiveTimestamp); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) InsertLedger(ctx context.Context, kind LedgerKind, e *LedgerEntry) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO ledger_entries (kind, id, user_address, from_address, to_address, provider,
    amount, block_number, block_timestamp, transaction_hash)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (kind, id) DO NOTHING
`, kind, e.ID, e.User, e.From, e.To, e.Provider, e.Amount, e.BlockNumber,
		e.BlockTimestamp, e.TransactionHash)
	return err
}

func (p *PostgresStore) ListLedger(ctx context.Context, kind LedgerKind, f Filter) ([]*LedgerEntry, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, user_address, from_address, to_address, provider, amount,
       block_number, block_timestamp, transaction_hash
FROM ledger_entries
WHERE kind = $1
  AND ($2 = '' OR lower(user_address) = lower($2) OR lower(from_address) = lower($2) OR lower(to_address) = lower($2))
ORDER BY block_timestamp DESC
`, kind, f.User)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.User, &e.From, &e.To, &e.Provider, &e.Amount,
			&e.BlockNumber, &e.BlockTimestamp, &e.TransactionHash); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) HasEvent(ctx context.Context, key string) (bool, error) {
	row := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM applied_events WHERE key = $1)`, key)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("check applied event: %w", err)
	}
	return exists, nil
}

func (p *PostgresStore) MarkEvent(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO applied_events (key) VALUES ($1) ON CONFLICT (key) DO NOTHING`, key)
	return err
}

func (p *PostgresStore) GetCheckpoint(ctx context.Context, requestID string) (*Checkpoint, error) {
	row := p.pool.QueryRow(ctx, `
SELECT request_id, next_step, attempts, last_error, done, updated_at
FROM responder_checkpoints WHERE request_id = $1
`, requestID)
	var c Checkpoint
	if err := row.Scan(&c.RequestID, &c.NextStep, &c.Attempts, &c.LastError, &c.Done, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (p *PostgresStore) PutCheckpoint(ctx context.Context, c *Checkpoint) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO responder_checkpoints (request_id, next_step, attempts, last_error, done, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (request_id) DO UPDATE SET
    next_step = EXCLUDED.next_step,
    attempts = EXCLUDED.attempts,
    last_error = EXCLUDED.last_error,
    done = EXCLUDED.done,
    updated_at = EXCLUDED.updated_at
`, c.RequestID, c.NextStep, c.Attempts, c.LastError, c.Done, c.UpdatedAt)
	return err
}

func (p *PostgresStore) ListCheckpoints(ctx context.Context) ([]*Checkpoint, error) {
	rows, err := p.pool.Query(ctx, `
SELECT request_id, next_step, attempts, last_error, done, updated_at
FROM responder_checkpoints ORDER BY request_id
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		var c Checkpoint
		if err := rows.Scan(&c.RequestID, &c.NextStep, &c.Attempts, &c.LastError, &c.Done, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
