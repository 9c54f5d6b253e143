package settings

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context) (*Settings, error) {
	s := &Settings{}
	query := `SELECT id, gemini_api_key, default_top_k FROM settings WHERE id = 1`
	if err := r.db.QueryRowContext(ctx, query).Scan(&s.ID, &s.GeminiAPIKey, &s.DefaultTopK); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepo) Update(ctx context.Context, s *Settings) error {
	query := `
		UPDATE settings
		SET gemini_api_key = $1, default_top_k = $2, updated_at = NOW()
		WHERE id = 1
	`
	_, err := r.db.ExecContext(ctx, query, s.GeminiAPIKey, s.DefaultTopK)
	return err
}

// GetTenant returns the tenant's overrides. A tenant without a row gets zero
// overrides, not an error.
func (r *PostgresRepo) GetTenant(ctx context.Context, tenantID string) (*TenantSettings, error) {
	s := &TenantSettings{TenantID: tenantID}
	query := `SELECT default_top_k, updated_at FROM tenant_settings WHERE tenant_id = $1`
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(&s.DefaultTopK, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepo) UpsertTenant(ctx context.Context, s *TenantSettings) error {
	query := `
		INSERT INTO tenant_settings (tenant_id, default_top_k, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET default_top_k = EXCLUDED.default_top_k, updated_at = NOW()
		RETURNING updated_at
	`
	var updated time.Time
	if err := r.db.QueryRowContext(ctx, query, s.TenantID, s.DefaultTopK).Scan(&updated); err != nil {
		return err
	}
	s.UpdatedAt = updated
	return nil
}
