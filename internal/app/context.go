// Package app resolves which workspace a command acts on and makes sure its
// config exists, seeding the default catalog on first use.
package app

import (
	"context"
	"errors"
	"fmt"

	"quoteline/internal/config"
	"quoteline/internal/repo"
)

// ResolveWorkspaceConfig picks the active workspace and loads its config from
// the DB, seeding the default one if missing. An explicit override wins;
// otherwise a DB with exactly one workspace selects it.
func ResolveWorkspaceConfig(ctx context.Context, workspaceOverride string, r repo.Repo) (string, *config.Config, error) {
	workspaceID := workspaceOverride
	if workspaceID == "" {
		ids, err := r.ListWorkspaces(ctx)
		if err != nil {
			return "", nil, err
		}
		if len(ids) != 1 {
			return "", nil, fmt.Errorf("workspace not specified; use --workspace")
		}
		workspaceID = ids[0]
	}

	cfg, err := r.GetWorkspaceConfig(ctx, workspaceID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		cfg = config.Default(workspaceID)
		if err := r.UpsertWorkspaceConfig(ctx, workspaceID, cfg); err != nil {
			return "", nil, fmt.Errorf("seed workspace config: %w", err)
		}
	}
	cfg.Workspace.ID = workspaceID
	return workspaceID, cfg, nil
}
