package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a room has no ledger record, i.e. the room is
// ephemeral rather than ledger-backed.
var ErrNotFound = errors.New("ledger record not found")

// Record is the off-chain mirror of an on-chain room account. Its presence
// marks a room as ledger-backed; fund movement itself happens on chain.
type Record struct {
	RoomID          string
	ContractAddress string
	EntryFee        uint64
	Currency        string
	HostFeeBps      int
	PrizePoolBps    int
	CharityName     string
	CharityMemo     string
	CreatedAt       time.Time
}

// Store is the interface the room server consumes. Kept small so tests can
// substitute an in-memory fake.
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	GetByRoom(ctx context.Context, roomID string) (Record, error)
	Delete(ctx context.Context, roomID string) error
}

// Repository is the Postgres-backed Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository connects a repository to an existing pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Connect opens a pgx pool for the given DSN and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

const upsertQuery = `
INSERT INTO room_ledger (
	room_id, contract_address, entry_fee, currency,
	host_fee_bps, prize_pool_bps, charity_name, charity_memo, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (room_id) DO UPDATE SET
	contract_address = EXCLUDED.contract_address,
	entry_fee        = EXCLUDED.entry_fee,
	currency         = EXCLUDED.currency,
	host_fee_bps     = EXCLUDED.host_fee_bps,
	prize_pool_bps   = EXCLUDED.prize_pool_bps,
	charity_name     = EXCLUDED.charity_name,
	charity_memo     = EXCLUDED.charity_memo`

// Upsert writes or replaces the ledger record for a room.
func (r *Repository) Upsert(ctx context.Context, rec Record) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, upsertQuery,
		rec.RoomID, rec.ContractAddress, rec.EntryFee, rec.Currency,
		rec.HostFeeBps, rec.PrizePoolBps, rec.CharityName, rec.CharityMemo, createdAt,
	)
	if err != nil {
		return fmt.Errorf("upsert ledger record: %w", err)
	}
	return nil
}

const getQuery = `
SELECT room_id, contract_address, entry_fee, currency,
	host_fee_bps, prize_pool_bps, charity_name, charity_memo, created_at
FROM room_ledger WHERE room_id = $1`

// GetByRoom fetches the ledger record for a room, or ErrNotFound.
func (r *Repository) GetByRoom(ctx context.Context, roomID string) (Record, error) {
	var rec Record
	err := r.pool.QueryRow(ctx, getQuery, roomID).Scan(
		&rec.RoomID, &rec.ContractAddress, &rec.EntryFee, &rec.Currency,
		&rec.HostFeeBps, &rec.PrizePoolBps, &rec.CharityName, &rec.CharityMemo, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get ledger record: %w", err)
	}
	return rec, nil
}

// Delete removes the ledger record for a room.
func (r *Repository) Delete(ctx context.Context, roomID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM room_ledger WHERE room_id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("delete ledger record: %w", err)
	}
	return nil
}
