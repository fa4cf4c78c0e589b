package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/license-service/internal/domain"
)

// LicenseWithHolder joins a license with its holder for listings and export.
type LicenseWithHolder struct {
	domain.License
	HolderName  string
	HolderEmail string
}

// LicenseRepository encapsulates license persistence. Mutating lifecycle
// operations run inside WithinTx with GetByKeyForUpdate so two concurrent
// activations of the same key cannot interleave between read and write.
type LicenseRepository interface {
	Create(ctx context.Context, license *domain.License) error
	Update(ctx context.Context, license *domain.License) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*domain.License, error)
	GetByKey(ctx context.Context, key string) (*domain.License, error)
	GetByKeyForUpdate(ctx context.Context, key string) (*domain.License, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.License, error)
	ListWithHolder(ctx context.Context, limit, offset int) ([]LicenseWithHolder, error)
	CountAll(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context, status domain.LicenseStatus) (int64, error)
	CountExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	WithinTx(ctx context.Context, fn func(LicenseRepository) error) error
}

type licenseRepository struct {
	db   querier
	pool *pgxpool.Pool
}

// NewLicenseRepository instantiates the Postgres-backed repository.
func NewLicenseRepository(pool *pgxpool.Pool) LicenseRepository {
	return &licenseRepository{db: pool, pool: pool}
}

const licenseColumns = `id, key, type, status, hardware_id, activated_at, last_validated_at,
               expiration_date, notes, user_id, creator_id, created_at, updated_at`

// WithinTx runs fn against a transaction-scoped repository. Nested calls reuse
// the enclosing transaction.
func (r *licenseRepository) WithinTx(ctx context.Context, fn func(LicenseRepository) error) error {
	if r.pool == nil {
		return fn(r)
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&licenseRepository{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *licenseRepository) Create(ctx context.Context, license *domain.License) error {
	const query = `
        INSERT INTO licenses (key, type, status, hardware_id, activated_at, last_validated_at,
                              expiration_date, notes, user_id, creator_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		license.Key,
		license.Type,
		license.Status,
		license.HardwareID,
		license.ActivatedAt,
		license.LastValidatedAt,
		license.ExpirationDate,
		license.Notes,
		license.UserID,
		license.CreatorID,
	).Scan(&license.ID, &license.CreatedAt, &license.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *licenseRepository) Update(ctx context.Context, license *domain.License) error {
	const query = `
        UPDATE licenses SET type=$1, status=$2, hardware_id=$3, activated_at=$4,
            last_validated_at=$5, expiration_date=$6, notes=$7, user_id=$8, updated_at=NOW()
        WHERE id=$9`

	cmd, err := r.db.Exec(ctx, query,
		license.Type,
		license.Status,
		license.HardwareID,
		license.ActivatedAt,
		license.LastValidatedAt,
		license.ExpirationDate,
		license.Notes,
		license.UserID,
		license.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *licenseRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM licenses WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *licenseRepository) GetByID(ctx context.Context, id string) (*domain.License, error) {
	const query = `SELECT ` + licenseColumns + ` FROM licenses WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *licenseRepository) GetByKey(ctx context.Context, key string) (*domain.License, error) {
	const query = `SELECT ` + licenseColumns + ` FROM licenses WHERE key=$1`
	return r.fetchSingle(ctx, query, key)
}

// GetByKeyForUpdate locks the row for the duration of the enclosing
// transaction. Outside a transaction the lock is released immediately, so
// callers must pair this with WithinTx.
func (r *licenseRepository) GetByKeyForUpdate(ctx context.Context, key string) (*domain.License, error) {
	const query = `SELECT ` + licenseColumns + ` FROM licenses WHERE key=$1 FOR UPDATE`
	return r.fetchSingle(ctx, query, key)
}

func (r *licenseRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.License, error) {
	var license domain.License
	if err := r.db.QueryRow(ctx, query, arg).Scan(
		&license.ID,
		&license.Key,
		&license.Type,
		&license.Status,
		&license.HardwareID,
		&license.ActivatedAt,
		&license.LastValidatedAt,
		&license.ExpirationDate,
		&license.Notes,
		&license.UserID,
		&license.CreatorID,
		&license.CreatedAt,
		&license.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &license, nil
}

func (r *licenseRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.License, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	const query = `SELECT ` + licenseColumns + `
        FROM licenses WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLicenses(rows)
}

func (r *licenseRepository) ListWithHolder(ctx context.Context, limit, offset int) ([]LicenseWithHolder, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	const query = `
        SELECT l.id, l.key, l.type, l.status, l.hardware_id, l.activated_at, l.last_validated_at,
               l.expiration_date, l.notes, l.user_id, l.creator_id, l.created_at, l.updated_at,
               u.name, u.email
        FROM licenses l
        JOIN users u ON u.id = l.user_id
        ORDER BY l.created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []LicenseWithHolder
	for rows.Next() {
		var item LicenseWithHolder
		if err := rows.Scan(
			&item.ID,
			&item.Key,
			&item.Type,
			&item.Status,
			&item.HardwareID,
			&item.ActivatedAt,
			&item.LastValidatedAt,
			&item.ExpirationDate,
			&item.Notes,
			&item.UserID,
			&item.CreatorID,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.HolderName,
			&item.HolderEmail,
		); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

func (r *licenseRepository) CountAll(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM licenses`).Scan(&count)
	return count, err
}

func (r *licenseRepository) CountByStatus(ctx context.Context, status domain.LicenseStatus) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM licenses WHERE status=$1`, status).Scan(&count)
	return count, err
}

// CountExpired counts licenses that already carry EXPIRED status or whose
// expiration date has passed but has not been lazily corrected yet.
func (r *licenseRepository) CountExpired(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM licenses WHERE status=$1 OR expiration_date < $2`,
		domain.LicenseStatusExpired, now,
	).Scan(&count)
	return count, err
}

func (r *licenseRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	cmd, err := r.db.Exec(ctx,
		`DELETE FROM licenses WHERE status=$1 OR expiration_date < $2`,
		domain.LicenseStatusExpired, now,
	)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanLicenses(rows pgx.Rows) ([]domain.License, error) {
	var result []domain.License
	for rows.Next() {
		var license domain.License
		if err := rows.Scan(
			&license.ID,
			&license.Key,
			&license.Type,
			&license.Status,
			&license.HardwareID,
			&license.ActivatedAt,
			&license.LastValidatedAt,
			&license.ExpirationDate,
			&license.Notes,
			&license.UserID,
			&license.CreatorID,
			&license.CreatedAt,
			&license.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, license)
	}
	return result, rows.Err()
}
