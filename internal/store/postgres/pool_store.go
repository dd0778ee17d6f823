package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// PoolStore implements domain.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *pgxpool.Pool
}

var _ domain.PoolStore = (*PoolStore)(nil)

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// SavePool replaces the snapshot of a pool together with its ranking and bet
// rows in one transaction.
func (s *PoolStore) SavePool(ctx context.Context, snap domain.PoolSnapshot) error {
	addr := snap.Address.Hex()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("postgres: marshal pool %s: %w", addr, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save pool %s: %w", addr, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsert = `
		INSERT INTO pools (
			address, name, creator, state, total_prize, bets, closing_time, snapshot, updated_at
		) VALUES (
			$1, $2, $3, $4, $5::numeric, $6, $7, $8, NOW()
		)
		ON CONFLICT (address) DO UPDATE SET
			state       = EXCLUDED.state,
			total_prize = EXCLUDED.total_prize,
			bets        = EXCLUDED.bets,
			snapshot    = EXCLUDED.snapshot,
			updated_at  = NOW()`
	if _, err := tx.Exec(ctx, upsert,
		addr, snap.Name, snap.Creator.Hex(), snap.State.String(),
		snap.TotalPrize().String(), len(snap.Bets), snap.ClosingTime, data,
	); err != nil {
		return fmt.Errorf("postgres: upsert pool %s: %w", addr, err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM pool_ranking WHERE pool = $1`, addr)
	for i, e := range snap.Ranking {
		batch.Queue(`INSERT INTO pool_ranking (pool, rank_index, token_id, score, claimed) VALUES ($1, $2, $3, $4, $5)`,
			addr, i, int64(e.TokenID), int32(e.Score), e.Claimed)
	}
	const upsertBet = `
		INSERT INTO pool_bets (pool, token_id, owner, score, claimed, burned)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pool, token_id) DO UPDATE SET
			owner   = EXCLUDED.owner,
			score   = EXCLUDED.score,
			claimed = EXCLUDED.claimed,
			burned  = EXCLUDED.burned`
	for _, b := range snap.Bets {
		var score *int32
		if b.Score != nil {
			v := int32(*b.Score)
			score = &v
		}
		batch.Queue(upsertBet, addr, int64(b.TokenID), b.Owner.Hex(), score, b.Claimed, b.Burned)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: save pool %s rows, item %d: %w", addr, i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close batch for pool %s: %w", addr, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit pool %s: %w", addr, err)
	}
	return nil
}

// GetPool returns the latest snapshot of a pool.
func (s *PoolStore) GetPool(ctx context.Context, addr common.Address) (domain.PoolSnapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM pools WHERE address = $1`, addr.Hex()).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PoolSnapshot{}, domain.ErrNotFound
		}
		return domain.PoolSnapshot{}, fmt.Errorf("postgres: get pool %s: %w", addr.Hex(), err)
	}
	var snap domain.PoolSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("postgres: unmarshal pool %s: %w", addr.Hex(), err)
	}
	return snap, nil
}

// ListPools returns snapshots ordered by most recent update.
func (s *PoolStore) ListPools(ctx context.Context, opts domain.ListOpts) ([]domain.PoolSnapshot, error) {
	query := `SELECT snapshot FROM pools WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.State != nil {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, opts.State.String())
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND updated_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND updated_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY updated_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools: %w", err)
	}
	defer rows.Close()

	var out []domain.PoolSnapshot
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		var snap domain.PoolSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal pool: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pools rows: %w", err)
	}
	return out, nil
}
