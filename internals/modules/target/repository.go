package target

import (
	"context"
	"time"
	"watchpost/pkg/utils"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

type Repository struct {
	db     DBTX
	logger *zerolog.Logger
}

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx alike.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func NewRepository(db DBTX, logger *zerolog.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

const targetColumns = `id, owner_id, url, alert_email, enabled, last_alert_at, cooldown_min, alert_after`

func (r *Repository) Create(ctx context.Context, cmd CreateTargetCmd) (uuid.UUID, error) {
	const op string = "repo.target.create"

	id := uuid.New()
	_, err := r.db.Exec(ctx, `
		INSERT INTO targets (id, owner_id, url, alert_email, enabled, cooldown_min, alert_after)
		VALUES ($1, $2, $3, $4, true, $5, $6)`,
		id, cmd.OwnerID, cmd.URL, utils.ToPgText(cmd.AlertEmail), cmd.CooldownMin, cmd.AlertAfter,
	)
	if err != nil {
		return uuid.Nil, utils.WrapRepoError(op, err, false, r.logger)
	}
	return id, nil
}

func (r *Repository) Get(ctx context.Context, targetID uuid.UUID) (Target, error) {
	const op string = "repo.target.get"

	row := r.db.QueryRow(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE id = $1`, targetID)

	t, err := scanTarget(row)
	if err != nil {
		return Target{}, utils.WrapRepoError(op, err, true, r.logger)
	}
	return t, nil
}

func (r *Repository) ListEnabled(ctx context.Context) ([]Target, error) {
	const op string = "repo.target.list_enabled"

	rows, err := r.db.Query(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, utils.WrapRepoError(op, err, false, r.logger)
	}
	defer rows.Close()

	var out []Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, utils.WrapRepoError(op, err, false, r.logger)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.WrapRepoError(op, err, false, r.logger)
	}
	return out, nil
}

func (r *Repository) SetEnabled(ctx context.Context, targetID uuid.UUID, enabled bool) (bool, error) {
	const op string = "repo.target.set_enabled"

	tag, err := r.db.Exec(ctx,
		`UPDATE targets SET enabled = $2 WHERE id = $1`, targetID, enabled)
	if err != nil {
		return false, utils.WrapRepoError(op, err, false, r.logger)
	}
	return tag.RowsAffected() > 0, nil
}

// TouchLastAlert records that an alert was just dispatched for the target.
func (r *Repository) TouchLastAlert(ctx context.Context, targetID uuid.UUID, at time.Time) error {
	const op string = "repo.target.touch_last_alert"

	_, err := r.db.Exec(ctx,
		`UPDATE targets SET last_alert_at = $2 WHERE id = $1`, targetID, at)
	if err != nil {
		return utils.WrapRepoError(op, err, false, r.logger)
	}
	return nil
}

// RecentTicks returns the newest ticks for a target, newest first.
func (r *Repository) RecentTicks(ctx context.Context, targetID uuid.UUID, limit int) ([]Tick, error) {
	const op string = "repo.target.recent_ticks"

	rows, err := r.db.Query(ctx, `
		SELECT id, target_id, validator_id, status, latency_ms, created_at
		FROM ticks
		WHERE target_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		targetID, limit,
	)
	if err != nil {
		return nil, utils.WrapRepoError(op, err, false, r.logger)
	}
	defer rows.Close()

	var out []Tick
	for rows.Next() {
		var t Tick
		var status string
		if err := rows.Scan(&t.ID, &t.TargetID, &t.ValidatorID, &status, &t.LatencyMS, &t.CreatedAt); err != nil {
			return nil, utils.WrapRepoError(op, err, false, r.logger)
		}
		t.Status = Status(status)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.WrapRepoError(op, err, false, r.logger)
	}
	return out, nil
}

func scanTarget(row pgx.Row) (Target, error) {
	var t Target
	var alertEmail *string
	var lastAlertAt *time.Time

	err := row.Scan(&t.ID, &t.OwnerID, &t.URL, &alertEmail, &t.Enabled, &lastAlertAt, &t.CooldownMin, &t.AlertAfter)
	if err != nil {
		return Target{}, err
	}
	if alertEmail != nil {
		t.AlertEmail = *alertEmail
	}
	if lastAlertAt != nil {
		t.LastAlertAt = *lastAlertAt
	}
	return t, nil
}
