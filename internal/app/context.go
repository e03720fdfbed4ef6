package app

import (
	"context"
	"errors"
	"fmt"

	"remedyboard/internal/config"
	"remedyboard/internal/engine"
	"remedyboard/internal/repo"
)

// ResolveOrgAndConfig picks the active org and makes sure it exists in the
// DB together with a stored config. It prefers the override, then the org
// named by the workspace remedyboard.yml, then a single-org DB. A missing
// org is initialized on the fly from the workspace file or the defaults.
// The resolved config is made live on e.
func ResolveOrgAndConfig(ctx context.Context, workspace, orgOverride string, e engine.Engine) (string, *config.Config, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, fmt.Errorf("load %s: %w", config.Path(workspace), err)
	}
	orgID := orgOverride
	if orgID == "" && fileCfg != nil {
		orgID = fileCfg.Org.ID
	}
	if orgID == "" {
		o, err := e.Repo.SingleOrg(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("org not specified; use --org")
		}
		orgID = o.ID
	}

	seedCfg := config.Default(orgID)
	if fileCfg != nil && fileCfg.Org.ID == orgID {
		seedCfg = fileCfg
	}
	if _, err := e.Repo.GetOrg(ctx, orgID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if _, err := e.InitOrg(ctx, seedCfg); err != nil {
			return "", nil, fmt.Errorf("init org %s: %w", orgID, err)
		}
	}
	cfg, err := e.Repo.GetOrgConfig(ctx, orgID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := e.Repo.UpsertOrgConfig(ctx, orgID, seedCfg); err != nil {
			return "", nil, fmt.Errorf("seed org config: %w", err)
		}
		cfg = seedCfg
	}
	cfg.Org.ID = orgID
	if e.Config != nil {
		e.Config.Store(cfg)
	}
	return orgID, cfg, nil
}
