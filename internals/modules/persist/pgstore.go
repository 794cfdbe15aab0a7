package persist

import (
	"context"
	"watchpost/internals/modules/target"
	"watchpost/pkg/utils"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PgStore backs the persistence gateway with Postgres. The same query set
// runs either on the pool (fallback path) or inside a pgx transaction.
type PgStore struct {
	pool   *pgxpool.Pool
	logger *zerolog.Logger
}

func NewPgStore(pool *pgxpool.Pool, logger *zerolog.Logger) *PgStore {
	return &PgStore{pool: pool, logger: logger}
}

func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PgStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{ops: ops{db: tx, logger: s.logger}, tx: tx}, nil
}

func (s *PgStore) InsertTick(ctx context.Context, t target.Tick) error {
	return ops{db: s.pool, logger: s.logger}.InsertTick(ctx, t)
}

func (s *PgStore) LinkTick(ctx context.Context, t target.Tick, ownerID uuid.UUID, guarded bool) (bool, error) {
	return ops{db: s.pool, logger: s.logger}.LinkTick(ctx, t, ownerID, guarded)
}

func (s *PgStore) AddReward(ctx context.Context, agentID uuid.UUID, amount int64) (int64, error) {
	return ops{db: s.pool, logger: s.logger}.AddReward(ctx, agentID, amount)
}

type pgTx struct {
	ops
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

type ops struct {
	db     target.DBTX
	logger *zerolog.Logger
}

func (o ops) InsertTick(ctx context.Context, t target.Tick) error {
	const op string = "repo.persist.insert_tick"

	_, err := o.db.Exec(ctx, `
		INSERT INTO ticks (id, target_id, validator_id, status, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.TargetID, t.ValidatorID, string(t.Status), t.LatencyMS, t.CreatedAt,
	)
	if err != nil {
		return utils.WrapRepoError(op, err, false, o.logger)
	}
	return nil
}

func (o ops) LinkTick(ctx context.Context, t target.Tick, ownerID uuid.UUID, guarded bool) (bool, error) {
	const op string = "repo.persist.link_tick"

	query := `
		UPDATE targets
		SET latest_tick_id = $1, latest_status = $2, last_checked_at = $3
		WHERE id = $4`
	args := []any{t.ID, string(t.Status), t.CreatedAt, t.TargetID}

	if guarded {
		query += ` AND owner_id = $5`
		args = append(args, ownerID)
	}

	tag, err := o.db.Exec(ctx, query, args...)
	if err != nil {
		return false, utils.WrapRepoError(op, err, false, o.logger)
	}
	return tag.RowsAffected() > 0, nil
}

func (o ops) AddReward(ctx context.Context, agentID uuid.UUID, amount int64) (int64, error) {
	const op string = "repo.persist.add_reward"

	var balance int64
	err := o.db.QueryRow(ctx, `
		UPDATE validators
		SET pending_payout = pending_payout + $2
		WHERE id = $1
		RETURNING pending_payout`,
		agentID, amount,
	).Scan(&balance)
	if err != nil {
		return 0, utils.WrapRepoError(op, err, true, o.logger)
	}
	return balance, nil
}
