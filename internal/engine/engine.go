// Package engine orchestrates the quote workflow: parse, validate, persist,
// render. It owns the per-workspace concurrency rules (one in-flight add,
// serialized document writes) and treats the store as the source of truth,
// with the display surface as a best-effort projection.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"quoteline/internal/config"
	"quoteline/internal/domain"
	"quoteline/internal/events"
	"quoteline/internal/parser"
	"quoteline/internal/render"
	"quoteline/internal/repo"
	"quoteline/internal/surface"
	"quoteline/internal/workspace"
)

// ErrAddInFlight rejects a second concurrent add for the same workspace.
var ErrAddInFlight = errors.New("another add is already in flight for this workspace")

// ErrAwaitTimeout reports that no follow-up text arrived in time.
var ErrAwaitTimeout = errors.New("timed out waiting for quote text")

// ValidationError is a business-rule failure beyond parse shape.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UnknownFieldError rejects an edit selector outside the allow-list.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q", e.Field)
}

// UnknownCategoryError rejects a commission selector for a missing category.
type UnknownCategoryError struct {
	Category string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown category %q", e.Category)
}

// RenderError signals that the store mutation committed but the external
// rendering could not be updated. The quote carried alongside is valid.
type RenderError struct {
	QuoteID int
	Err     error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("quote %d saved but not displayed: %v", e.QuoteID, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// InputSource supplies an awaited follow-up text block.
type InputSource interface {
	Await(ctx context.Context) (string, error)
}

// Engine is the workflow service.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Surface surface.Surface
	Now     func() time.Time

	mu     sync.Mutex
	guards map[string]*guard
}

// guard serializes document writes per workspace and caps adds at one.
type guard struct {
	mu      sync.Mutex
	addSlot chan struct{}
}

func New(db *sql.DB, cfg *config.Config, surf surface.Surface) *Engine {
	return &Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Config:  cfg,
		Surface: surf,
		Now:     time.Now,
		guards:  map[string]*guard{},
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) guard(workspaceID string) *guard {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.guards[workspaceID]
	if !ok {
		g = &guard{addSlot: make(chan struct{}, 1)}
		e.guards[workspaceID] = g
	}
	return g
}

func (g *guard) tryAdd() bool {
	select {
	case g.addSlot <- struct{}{}:
		return true
	default:
		return false
	}
}

func (g *guard) endAdd() {
	<-g.addSlot
}

// AddOptions are parameters for creating a quote.
type AddOptions struct {
	WorkspaceID string
	Text        string
	Channel     string
	ActorID     string
	Input       InputSource
}

// Add runs the full add flow: await text if none supplied, parse, validate,
// render a placeholder, insert, re-render. At most one add per workspace is
// in flight at a time; a losing second call gets ErrAddInFlight.
func (e *Engine) Add(ctx context.Context, opts AddOptions) (domain.Quote, error) {
	if e.Config == nil {
		return domain.Quote{}, errors.New("config not loaded")
	}
	text := strings.TrimSpace(opts.Text)
	if text == "" {
		if opts.Input == nil {
			return domain.Quote{}, &ValidationError{Field: "text", Reason: "no quote text supplied"}
		}
		awaited, err := e.awaitText(ctx, opts.Channel, opts.Input)
		if err != nil {
			return domain.Quote{}, err
		}
		text = strings.TrimSpace(awaited)
		if text == "" {
			return domain.Quote{}, &ValidationError{Field: "text", Reason: "empty follow-up message"}
		}
	}

	q, err := parser.Parse(text, e.Config.Categories, e.now())
	if err != nil {
		return domain.Quote{}, err
	}
	if err := validateQuote(q); err != nil {
		return domain.Quote{}, err
	}

	g := e.guard(opts.WorkspaceID)
	if !g.tryAdd() {
		return domain.Quote{}, ErrAddInFlight
	}
	defer g.endAdd()

	channel, err := e.renderChannel(ctx, opts.WorkspaceID, opts.Channel)
	if err != nil {
		return domain.Quote{}, err
	}

	// The ref must exist before insertion: the stored record points at it.
	ref, err := e.Surface.CreatePlaceholder(ctx, channel)
	if err != nil {
		return domain.Quote{}, err
	}
	q.ExternalMessageRef = ref

	g.mu.Lock()
	ws, err := e.Repo.LoadOrInit(ctx, opts.WorkspaceID)
	if err != nil {
		g.mu.Unlock()
		_ = e.Surface.Delete(ctx, ref)
		return domain.Quote{}, err
	}
	id := ws.Insert(q, e.now().Unix())
	err = e.commit(ctx, opts.WorkspaceID, ws, "quote.created", id, opts.ActorID, events.EventPayload{
		"status":   q.Status.String(),
		"customer": q.Customer.Name,
	})
	if err != nil {
		g.mu.Unlock()
		// nothing committed, so the provisional slot must not linger
		_ = e.Surface.Delete(ctx, ref)
		return domain.Quote{}, err
	}
	stored, _ := ws.Get(id)
	g.mu.Unlock()

	doc := render.Render(stored, e.Config.Categories, false)
	if err := e.Surface.Update(ctx, ref, doc); err != nil {
		e.noteRenderFailure(ctx, opts.WorkspaceID, id, opts.ActorID, err)
		return stored, &RenderError{QuoteID: id, Err: err}
	}
	return stored, nil
}

// awaitText prompts for and waits on one follow-up text block. On timeout no
// store mutation has happened and the prompt is cleaned up.
func (e *Engine) awaitText(ctx context.Context, channel string, input InputSource) (string, error) {
	promptRef := ""
	if ref, err := e.Surface.CreatePlaceholder(ctx, channel); err == nil {
		_ = e.Surface.Update(ctx, ref, render.Prompt(parser.Template(e.Config.Categories)))
		promptRef = ref
	}
	waitCtx, cancel := context.WithTimeout(ctx, e.Config.AwaitTimeout())
	defer cancel()
	text, err := input.Await(waitCtx)
	if promptRef != "" {
		_ = e.Surface.Delete(ctx, promptRef)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", ErrAwaitTimeout
		}
		return "", err
	}
	return text, nil
}

func validateQuote(q domain.Quote) error {
	if strings.TrimSpace(q.Customer.Name) == "" {
		return &ValidationError{Field: parser.LabelCustomerName, Reason: "must not be blank"}
	}
	if strings.TrimSpace(q.Customer.ContactInfo) == "" {
		return &ValidationError{Field: parser.LabelContactInfo, Reason: "must not be blank"}
	}
	return nil
}

// renderChannel prefers the workspace's configured channel over the
// originating one.
func (e *Engine) renderChannel(ctx context.Context, workspaceID, fallback string) (string, error) {
	ws, err := e.Repo.LoadOrInit(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	if ws.RenderChannelRef != "" {
		return ws.RenderChannelRef, nil
	}
	return fallback, nil
}

// commit saves the document and appends one event in a single transaction.
func (e *Engine) commit(ctx context.Context, workspaceID string, ws *workspace.Workspace, evtType string, quoteID int, actorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveWorkspaceTx(ctx, tx, workspaceID, ws); err != nil {
		return fmt.Errorf("save workspace %s: %w", workspaceID, err)
	}
	qid := ""
	if quoteID > 0 {
		qid = strconv.Itoa(quoteID)
	}
	if err := e.Events.Append(ctx, tx, evtType, workspaceID, qid, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func (e *Engine) noteRenderFailure(ctx context.Context, workspaceID string, quoteID int, actorID string, cause error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "quote.render.failed", workspaceID, strconv.Itoa(quoteID), actorID, events.EventPayload{
		"error": cause.Error(),
	}); err != nil {
		return
	}
	_ = tx.Commit()
}

// Info returns a quote and its rendered document.
func (e *Engine) Info(ctx context.Context, workspaceID string, id int, detail bool) (domain.Quote, render.Document, error) {
	ws, err := e.Repo.LoadOrInit(ctx, workspaceID)
	if err != nil {
		return domain.Quote{}, render.Document{}, err
	}
	q, err := ws.Get(id)
	if err != nil {
		return domain.Quote{}, render.Document{}, err
	}
	return q, render.Render(q, e.Config.Categories, detail), nil
}

// Summary is the bucket overview of one workspace.
type Summary struct {
	Counts           map[string]int `json:"counts"`
	Pending          []int          `json:"pending"`
	Ongoing          []int          `json:"ongoing"`
	Finished         []int          `json:"finished"`
	Cancelled        []int          `json:"cancelled"`
	NextID           int            `json:"next_id"`
	LastGlobalUpdate int64          `json:"last_global_update"`
	RenderChannelRef string         `json:"render_channel_ref,omitempty"`
}

// List returns the workspace bucket overview.
func (e *Engine) List(ctx context.Context, workspaceID string) (Summary, error) {
	ws, err := e.Repo.LoadOrInit(ctx, workspaceID)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Counts:           ws.Counts(),
		Pending:          ws.Bucket(domain.StatusPending),
		Ongoing:          ws.Bucket(domain.StatusOngoing),
		Finished:         ws.Bucket(domain.StatusFinished),
		Cancelled:        ws.Bucket(domain.StatusCancelled),
		NextID:           ws.NextID,
		LastGlobalUpdate: ws.LastGlobalUpdate,
		RenderChannelRef: ws.RenderChannelRef,
	}, nil
}

// Refresh replays the rendering from current store state. A lost message ref
// is replaced with a fresh placeholder so record and rendering reconverge.
func (e *Engine) Refresh(ctx context.Context, workspaceID string, id int, channel, actorID string) (domain.Quote, error) {
	g := e.guard(workspaceID)
	g.mu.Lock()
	ws, err := e.Repo.LoadOrInit(ctx, workspaceID)
	if err != nil {
		g.mu.Unlock()
		return domain.Quote{}, err
	}
	q, err := ws.Get(id)
	if err != nil {
		g.mu.Unlock()
		return domain.Quote{}, err
	}
	target := q.ExternalMessageRef
	if ws.RenderChannelRef != "" {
		channel = ws.RenderChannelRef
	}
	g.mu.Unlock()

	doc := render.Render(q, e.Config.Categories, false)
	if target == "" {
		err = &surface.Error{Kind: surface.KindRefNotFound, Err: errors.New("no message ref stored")}
	} else {
		err = e.Surface.Update(ctx, target, doc)
	}
	if err == nil {
		return q, nil
	}
	var surfErr *surface.Error
	if !errors.As(err, &surfErr) || surfErr.Kind != surface.KindRefNotFound {
		e.noteRenderFailure(ctx, workspaceID, id, actorID, err)
		return q, &RenderError{QuoteID: id, Err: err}
	}

	// The old slot is gone: allocate a new one and repoint the record.
	ref, createErr := e.Surface.CreatePlaceholder(ctx, channel)
	if createErr != nil {
		return q, &RenderError{QuoteID: id, Err: createErr}
	}
	g.mu.Lock()
	ws, err = e.Repo.LoadOrInit(ctx, workspaceID)
	if err == nil {
		err = ws.Update(id, e.now().Unix(), func(q *domain.Quote) error {
			q.ExternalMessageRef = ref
			return nil
		})
	}
	if err == nil {
		err = e.commit(ctx, workspaceID, ws, "quote.updated", id, actorID, events.EventPayload{"field": "external_message_ref"})
	}
	if err != nil {
		g.mu.Unlock()
		return q, err
	}
	q, _ = ws.Get(id)
	g.mu.Unlock()

	doc = render.Render(q, e.Config.Categories, false)
	if err := e.Surface.Update(ctx, ref, doc); err != nil {
		e.noteRenderFailure(ctx, workspaceID, id, actorID, err)
		return q, &RenderError{QuoteID: id, Err: err}
	}
	return q, nil
}

// Reset clears the whole workspace atomically, counter included.
func (e *Engine) Reset(ctx context.Context, workspaceID, actorID string) error {
	g := e.guard(workspaceID)
	g.mu.Lock()
	defer g.mu.Unlock()
	ws := workspace.New()
	return e.commit(ctx, workspaceID, ws, "workspace.reset", 0, actorID, nil)
}

// SetRenderChannel points new renders at a channel; empty clears it so adds
// fall back to their originating channel.
func (e *Engine) SetRenderChannel(ctx context.Context, workspaceID, channel, actorID string) error {
	g := e.guard(workspaceID)
	g.mu.Lock()
	defer g.mu.Unlock()
	ws, err := e.Repo.LoadOrInit(ctx, workspaceID)
	if err != nil {
		return err
	}
	ws.RenderChannelRef = channel
	ws.LastGlobalUpdate = e.now().Unix()
	return e.commit(ctx, workspaceID, ws, "workspace.channel.set", 0, actorID, events.EventPayload{"channel": channel})
}
