package validator

import (
	"context"
	"watchpost/internals/modules/target"
	"watchpost/pkg/utils"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

type Repository struct {
	db     target.DBTX
	logger *zerolog.Logger
}

func NewRepository(db target.DBTX, logger *zerolog.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

const validatorColumns = `id, public_key, endpoint, pending_payout, created_at`

// GetOrCreate looks up a validator by public key, registering it on first
// contact. The upsert keeps concurrent first registrations idempotent.
func (r *Repository) GetOrCreate(ctx context.Context, publicKey, endpoint string) (Validator, error) {
	const op string = "repo.validator.get_or_create"

	row := r.db.QueryRow(ctx, `
		INSERT INTO validators (id, public_key, endpoint)
		VALUES ($1, $2, $3)
		ON CONFLICT (public_key) DO UPDATE SET endpoint = COALESCE(NULLIF(EXCLUDED.endpoint, ''), validators.endpoint)
		RETURNING `+validatorColumns,
		uuid.New(), publicKey, endpoint,
	)

	v, err := scanValidator(row)
	if err != nil {
		return Validator{}, utils.WrapRepoError(op, err, false, r.logger)
	}
	return v, nil
}

func (r *Repository) GetByPublicKey(ctx context.Context, publicKey string) (Validator, error) {
	const op string = "repo.validator.get_by_public_key"

	row := r.db.QueryRow(ctx,
		`SELECT `+validatorColumns+` FROM validators WHERE public_key = $1`, publicKey)

	v, err := scanValidator(row)
	if err != nil {
		return Validator{}, utils.WrapRepoError(op, err, true, r.logger)
	}
	return v, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Validator, error) {
	const op string = "repo.validator.get_by_id"

	row := r.db.QueryRow(ctx,
		`SELECT `+validatorColumns+` FROM validators WHERE id = $1`, id)

	v, err := scanValidator(row)
	if err != nil {
		return Validator{}, utils.WrapRepoError(op, err, true, r.logger)
	}
	return v, nil
}

func scanValidator(row pgx.Row) (Validator, error) {
	var v Validator
	var endpoint *string

	err := row.Scan(&v.ID, &v.PublicKey, &endpoint, &v.PendingPayout, &v.CreatedAt)
	if err != nil {
		return Validator{}, err
	}
	if endpoint != nil {
		v.Endpoint = *endpoint
	}
	return v, nil
}
