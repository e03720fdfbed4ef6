package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"remedyboard/internal/config"
	"remedyboard/internal/domain"
)

// EnsureOrg inserts the org if it does not exist yet.
func (r Repo) EnsureOrg(ctx context.Context, tx *sql.Tx, id, name, createdAt string) error {
	if name == "" {
		name = id
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO orgs(id,name,created_at) VALUES (?,?,?) ON CONFLICT(id) DO NOTHING`, id, name, createdAt)
	return err
}

func (r Repo) GetOrg(ctx context.Context, id string) (domain.Org, error) {
	var o domain.Org
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM orgs WHERE id=?`, id).Scan(&o.ID, &o.Name, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return o, ErrNotFound
	}
	return o, err
}

// SingleOrg returns the only org in the database, for CLI defaults.
func (r Repo) SingleOrg(ctx context.Context) (domain.Org, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM orgs ORDER BY id LIMIT 2`)
	if err != nil {
		return domain.Org{}, err
	}
	defer rows.Close()
	var orgs []domain.Org
	for rows.Next() {
		var o domain.Org
		if err := rows.Scan(&o.ID, &o.Name, &o.CreatedAt); err != nil {
			return domain.Org{}, err
		}
		orgs = append(orgs, o)
	}
	if len(orgs) == 0 {
		return domain.Org{}, ErrNotFound
	}
	if len(orgs) > 1 {
		return domain.Org{}, fmt.Errorf("multiple orgs exist; specify --org")
	}
	return orgs[0], nil
}

func (r Repo) UpsertOrgConfig(ctx context.Context, orgID string, cfg *config.Config) error {
	return upsertOrgConfig(ctx, r.DB, nil, orgID, cfg)
}

func (r Repo) UpsertOrgConfigTx(ctx context.Context, tx *sql.Tx, orgID string, cfg *config.Config) error {
	return upsertOrgConfig(ctx, nil, tx, orgID, cfg)
}

func upsertOrgConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, orgID string, cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	const q = `INSERT INTO org_configs(org_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(org_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`
	if tx != nil {
		_, err = tx.ExecContext(ctx, q, orgID, string(data), now, now)
	} else {
		_, err = db.ExecContext(ctx, q, orgID, string(data), now, now)
	}
	return err
}

func (r Repo) GetOrgConfig(ctx context.Context, orgID string) (*config.Config, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM org_configs WHERE org_id=?`, orgID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("decode config for org %s: %w", orgID, err)
	}
	return &cfg, nil
}

// UpsertUser adds or renames a directory entry.
func (r Repo) UpsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO users(org_id,id,name,email,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(org_id,id) DO UPDATE SET name=excluded.name, email=excluded.email`,
		u.OrgID, u.ID, u.Name, nullable(u.Email), u.CreatedAt)
	return err
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, orgID, id string) (domain.User, error) {
	var u domain.User
	var email sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT org_id,id,name,email,created_at FROM users WHERE org_id=? AND id=?`, orgID, id).
		Scan(&u.OrgID, &u.ID, &u.Name, &email, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	u.Email = email.String
	return u, err
}

func (r Repo) ListUsers(ctx context.Context, orgID string) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT org_id,id,name,email,created_at FROM users WHERE org_id=? ORDER BY name, id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.User{}
	for rows.Next() {
		var u domain.User
		var email sql.NullString
		if err := rows.Scan(&u.OrgID, &u.ID, &u.Name, &email, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Email = email.String
		res = append(res, u)
	}
	return res, rows.Err()
}
