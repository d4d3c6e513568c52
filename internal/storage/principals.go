package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/zeus-ia/zeus/internal/model"
)

// GetPrincipal looks up an API principal by email.
func (db *DB) GetPrincipal(ctx context.Context, email string) (model.Principal, error) {
	var (
		p    model.Principal
		role string
	)
	err := db.pool.QueryRow(ctx,
		`SELECT email, company_id, role, api_key_hash, created_at
		 FROM principals WHERE email = $1`, email,
	).Scan(&p.Email, &p.CompanyID, &role, &p.APIKeyHash, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Principal{}, ErrNotFound
	}
	if err != nil {
		return model.Principal{}, fmt.Errorf("storage: get principal: %w", err)
	}
	p.Role = model.Role(role)
	return p, nil
}

// UpsertPrincipal creates or replaces a principal. Used to seed the admin
// superuser at startup.
func (db *DB) UpsertPrincipal(ctx context.Context, p model.Principal) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO principals (email, company_id, role, api_key_hash)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO UPDATE
		 SET company_id = EXCLUDED.company_id,
		     role = EXCLUDED.role,
		     api_key_hash = EXCLUDED.api_key_hash`,
		p.Email, p.CompanyID, string(p.Role), p.APIKeyHash,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert principal: %w", err)
	}
	return nil
}
