package engine

import (
	"context"
	"strconv"
	"strings"

	"quoteline/internal/domain"
	"quoteline/internal/events"
	"quoteline/internal/parser"
	"quoteline/internal/render"
)

// EditOptions are parameters for a single-field edit.
type EditOptions struct {
	WorkspaceID string
	ID          int
	Field       string
	Value       string
	ActorID     string
}

// Edit applies one field mutation to a stored quote, persists it, and
// re-renders. The selector vocabulary is fixed; category attributes use
// `<category>.count|price|stage`.
func (e *Engine) Edit(ctx context.Context, opts EditOptions) (domain.Quote, error) {
	g := e.guard(opts.WorkspaceID)
	g.mu.Lock()
	ws, err := e.Repo.LoadOrInit(ctx, opts.WorkspaceID)
	if err != nil {
		g.mu.Unlock()
		return domain.Quote{}, err
	}
	before, err := ws.Get(opts.ID)
	if err != nil {
		g.mu.Unlock()
		return domain.Quote{}, err
	}
	err = ws.Update(opts.ID, e.now().Unix(), func(q *domain.Quote) error {
		return e.applyField(q, opts.Field, opts.Value)
	})
	if err != nil {
		g.mu.Unlock()
		return domain.Quote{}, err
	}
	after, _ := ws.Get(opts.ID)

	evtType := "quote.updated"
	payload := events.EventPayload{"field": opts.Field, "value": opts.Value}
	if after.Status != before.Status {
		evtType = "quote.status.moved"
		payload["from"] = before.Status.String()
		payload["to"] = after.Status.String()
	}
	if err := e.commit(ctx, opts.WorkspaceID, ws, evtType, opts.ID, opts.ActorID, payload); err != nil {
		g.mu.Unlock()
		return domain.Quote{}, err
	}
	g.mu.Unlock()

	if after.ExternalMessageRef != "" {
		doc := render.Render(after, e.Config.Categories, false)
		if err := e.Surface.Update(ctx, after.ExternalMessageRef, doc); err != nil {
			e.noteRenderFailure(ctx, opts.WorkspaceID, opts.ID, opts.ActorID, err)
			return after, &RenderError{QuoteID: opts.ID, Err: err}
		}
	}
	return after, nil
}

// Shortcut maps a keyword from the configured vocabulary onto an edit. Status
// keywords move the quote; stage keywords need a category argument.
func (e *Engine) Shortcut(ctx context.Context, workspaceID string, id int, keyword, category, actorID string) (domain.Quote, error) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if target, ok := e.Config.Shortcuts.Status[keyword]; ok {
		return e.Edit(ctx, EditOptions{
			WorkspaceID: workspaceID,
			ID:          id,
			Field:       "status",
			Value:       target,
			ActorID:     actorID,
		})
	}
	if target, ok := e.Config.Shortcuts.Stage[keyword]; ok {
		if strings.TrimSpace(category) == "" {
			return domain.Quote{}, &ValidationError{Field: "category", Reason: "stage shortcut needs a category"}
		}
		return e.Edit(ctx, EditOptions{
			WorkspaceID: workspaceID,
			ID:          id,
			Field:       category + ".stage",
			Value:       target,
			ActorID:     actorID,
		})
	}
	return domain.Quote{}, &UnknownFieldError{Field: keyword}
}

func (e *Engine) applyField(q *domain.Quote, field, value string) error {
	field = strings.ToLower(strings.TrimSpace(field))
	value = strings.TrimSpace(value)
	switch field {
	case parser.LabelCustomerName:
		if value == "" {
			return &ValidationError{Field: field, Reason: "must not be blank"}
		}
		q.Customer.Name = value
	case parser.LabelContactMethod:
		q.Customer.Contact = value
	case parser.LabelContactInfo:
		if value == "" {
			return &ValidationError{Field: field, Reason: "must not be blank"}
		}
		q.Customer.ContactInfo = value
	case parser.LabelPaymentMethod:
		n, err := strconv.Atoi(value)
		if err != nil || !domain.PaymentMethod(n).Valid() {
			return &ValidationError{Field: field, Reason: "not a known payment method"}
		}
		q.Customer.PaymentMethod = domain.PaymentMethod(n)
	case parser.LabelPaymentReceived:
		switch value {
		case "0":
			q.PaymentReceived = false
		case "1":
			q.PaymentReceived = true
		default:
			return &ValidationError{Field: field, Reason: "must be 0 or 1"}
		}
	case parser.LabelEstimateStartDate:
		q.EstimateStartDate = value
	case parser.LabelComment:
		q.Comment = value
	case "status":
		status, err := parseStatus(value)
		if err != nil {
			return err
		}
		q.Status = status
	default:
		return e.applyCategoryField(q, field, value)
	}
	return nil
}

func (e *Engine) applyCategoryField(q *domain.Quote, field, value string) error {
	idx := strings.LastIndex(field, ".")
	if idx <= 0 {
		return &UnknownFieldError{Field: field}
	}
	key, attr := field[:idx], field[idx+1:]
	if _, ok := e.Config.CategoryByKey(key); !ok {
		return &UnknownCategoryError{Category: key}
	}
	item := q.Item(key)
	if item == nil {
		return &UnknownCategoryError{Category: key}
	}
	switch attr {
	case "count":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return &ValidationError{Field: field, Reason: "must be a non-negative integer"}
		}
		item.Count = n
	case "price":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return &ValidationError{Field: field, Reason: "must be a non-negative integer"}
		}
		item.UnitPrice = n
	case "stage":
		stage, err := parseStage(value)
		if err != nil {
			return err
		}
		item.Stage = stage
		// Work started on any ordered item moves a waiting quote forward.
		if stage.Active() && item.Ordered() && q.Status == domain.StatusPending {
			q.Status = domain.StatusOngoing
		}
	default:
		return &UnknownFieldError{Field: field}
	}
	return nil
}

func parseStatus(value string) (domain.Status, error) {
	if n, err := strconv.Atoi(value); err == nil {
		if s := domain.Status(n); s.Valid() {
			return s, nil
		}
		return 0, &ValidationError{Field: "status", Reason: "not a known status code"}
	}
	if s, ok := domain.StatusFromName(strings.ToLower(value)); ok {
		return s, nil
	}
	return 0, &ValidationError{Field: "status", Reason: "not a known status"}
}

func parseStage(value string) (domain.Stage, error) {
	if n, err := strconv.Atoi(value); err == nil {
		if s := domain.Stage(n); s.Valid() {
			return s, nil
		}
		return 0, &ValidationError{Field: "stage", Reason: "not a known stage code"}
	}
	if s, ok := domain.StageFromName(strings.ToLower(value)); ok {
		return s, nil
	}
	return 0, &ValidationError{Field: "stage", Reason: "not a known stage"}
}
