package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"remedyboard/internal/config"
	"remedyboard/internal/domain"
	"remedyboard/internal/events"
	"remedyboard/internal/repo"
	"remedyboard/internal/session"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Live
	Now    func() time.Time
	Logger *slog.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: config.NewLive(cfg),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// cfg returns the live config; the zero Config behaves as the defaults.
func (e Engine) cfg() *config.Config {
	if c := e.Config.Load(); c != nil {
		return c
	}
	return config.Default("")
}

func (e Engine) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return tx, nil
}

// InitOrg creates the org, stores its config and seeds the user directory.
func (e Engine) InitOrg(ctx context.Context, cfg *config.Config) (domain.Org, error) {
	if cfg == nil {
		return domain.Org{}, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return domain.Org{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Org{}, err
	}
	defer tx.Rollback()

	createdAt := e.now().Format(time.RFC3339)
	o := domain.Org{ID: cfg.Org.ID, Name: cfg.Org.Name, CreatedAt: createdAt}
	if err := e.Repo.EnsureOrg(ctx, tx, o.ID, o.Name, createdAt); err != nil {
		return domain.Org{}, fmt.Errorf("insert org: %w", err)
	}
	if err := e.Repo.UpsertOrgConfigTx(ctx, tx, o.ID, cfg); err != nil {
		return domain.Org{}, fmt.Errorf("store org config: %w", err)
	}
	for _, du := range cfg.Directory.Users {
		u := domain.User{ID: du.ID, OrgID: o.ID, Name: du.Name, Email: du.Email, CreatedAt: createdAt}
		if err := e.Repo.UpsertUser(ctx, tx, u); err != nil {
			return domain.Org{}, fmt.Errorf("seed user %s: %w", du.ID, err)
		}
	}
	if err := e.Events.Append(ctx, tx, events.OrgInit, o.ID, "org", o.ID, session.Actor(ctx),
		events.EventPayload{"users": len(cfg.Directory.Users)}); err != nil {
		return domain.Org{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Org{}, err
	}
	return o, nil
}

// ImportConfig replaces the stored org config and makes it live.
func (e Engine) ImportConfig(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertOrgConfigTx(ctx, tx, cfg.Org.ID, cfg); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ConfigImported, cfg.Org.ID, "org", cfg.Org.ID, session.Actor(ctx),
		events.EventPayload{"transitions": cfg.Workflow.Transitions}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if e.Config != nil {
		e.Config.Store(cfg)
	}
	e.logger().Info("org config imported", "org", cfg.Org.ID, "transitions", cfg.Workflow.Transitions)
	return nil
}

// AddUser registers a user in the org directory.
func (e Engine) AddUser(ctx context.Context, orgID string, u domain.User) (domain.User, error) {
	u.ID = strings.TrimSpace(u.ID)
	u.Name = strings.TrimSpace(u.Name)
	if u.ID == "" {
		return domain.User{}, domain.ValidationError{Field: "id", Reason: "is required"}
	}
	if u.Name == "" {
		u.Name = u.ID
	}
	u.OrgID = orgID
	u.CreatedAt = e.now().Format(time.RFC3339)
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertUser(ctx, tx, u); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e Engine) ListUsers(ctx context.Context, orgID string) ([]domain.User, error) {
	return e.Repo.ListUsers(ctx, orgID)
}

// OrgEvents tails the event ledger of one org, newest first.
func (e Engine) OrgEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	if f.OrgID == "" {
		return nil, domain.ValidationError{Field: "org_id", Reason: "is required"}
	}
	return e.Repo.LatestEvents(ctx, f)
}

// notFound converts the storage sentinel into the typed domain error.
func notFound(err error, kind, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return domain.NotFoundError{Kind: kind, ID: id}
	}
	return err
}
