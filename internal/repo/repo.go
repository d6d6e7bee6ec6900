package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quoteline/internal/config"
	"quoteline/internal/domain"
	"quoteline/internal/workspace"
)

// Repo persists workspace documents, configs, events and API keys in sqlite.
// Each workspace is a single JSON document row, written atomically.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// GetWorkspace loads and rehydrates a workspace document.
func (r Repo) GetWorkspace(ctx context.Context, id string) (*workspace.Workspace, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT doc_json FROM workspaces WHERE id=?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeWorkspace(payload)
}

// LoadOrInit returns the stored document or a fresh empty one.
func (r Repo) LoadOrInit(ctx context.Context, id string) (*workspace.Workspace, error) {
	ws, err := r.GetWorkspace(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return workspace.New(), nil
	}
	return ws, err
}

// SaveWorkspaceTx upserts the whole document inside the caller's transaction.
func (r Repo) SaveWorkspaceTx(ctx context.Context, tx *sql.Tx, id string, ws *workspace.Workspace) error {
	payload, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("marshal workspace %s: %w", id, err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `INSERT INTO workspaces(id,doc_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET doc_json=excluded.doc_json, updated_at=excluded.updated_at`, id, string(payload), now, now)
	return err
}

// ListWorkspaces returns the known workspace ids.
func (r Repo) ListWorkspaces(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM workspaces ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func decodeWorkspace(payload string) (*workspace.Workspace, error) {
	var ws workspace.Workspace
	if err := json.Unmarshal([]byte(payload), &ws); err != nil {
		return nil, fmt.Errorf("decode workspace document: %w", err)
	}
	if ws.SchemaVersion == 0 {
		ws.SchemaVersion = workspace.SchemaVersion
	}
	if ws.SchemaVersion != workspace.SchemaVersion {
		return nil, fmt.Errorf("unsupported workspace schema version %d", ws.SchemaVersion)
	}
	if ws.Quotes == nil {
		ws.Quotes = map[int]*domain.Quote{}
	}
	if ws.NextID == 0 {
		ws.NextID = 1
	}
	return &ws, nil
}

// UpsertWorkspaceConfig stores the per-workspace config document.
func (r Repo) UpsertWorkspaceConfig(ctx context.Context, workspaceID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Workspace.ID = workspaceID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO workspace_configs(workspace_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(workspace_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, workspaceID, string(payload), now, now)
	return err
}

// GetWorkspaceConfig loads the stored config for a workspace.
func (r Repo) GetWorkspaceConfig(ctx context.Context, workspaceID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM workspace_configs WHERE workspace_id=?`, workspaceID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Workspace.ID == "" {
		cfg.Workspace.ID = workspaceID
	}
	return &cfg, cfg.Validate()
}

// LatestEvents returns the most recent events for a workspace, newest first.
func (r Repo) LatestEvents(ctx context.Context, limit int, workspaceID, evtType, quoteID string) ([]domain.Event, error) {
	query := `SELECT id,ts,type,COALESCE(workspace_id,''),COALESCE(quote_id,''),actor_id,payload_json FROM events WHERE 1=1`
	var args []any
	if workspaceID != "" {
		query += ` AND workspace_id=?`
		args = append(args, workspaceID)
	}
	if evtType != "" {
		query += ` AND type=?`
		args = append(args, evtType)
	}
	if quoteID != "" {
		query += ` AND quote_id=?`
		args = append(args, quoteID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.WorkspaceID, &e.QuoteID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
