package surface

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"quoteline/internal/render"
)

// Webhook posts rendered documents to a chat-style message webhook:
// POST /messages creates a slot, PATCH and DELETE address it by ref.
type Webhook struct {
	client *resty.Client
}

func NewWebhook(baseURL string) *Webhook {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &Webhook{client: client}
}

type messageBody struct {
	Channel string `json:"channel,omitempty"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}

type messageRef struct {
	Ref string `json:"ref"`
}

func (w *Webhook) CreatePlaceholder(ctx context.Context, channel string) (string, error) {
	placeholder := render.Placeholder()
	var out messageRef
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(messageBody{Channel: channel, Title: placeholder.Title, Body: placeholder.Body}).
		SetResult(&out).
		Post("/messages")
	if err := classify("", resp, err); err != nil {
		return "", err
	}
	if out.Ref == "" {
		return "", &Error{Kind: KindTransient, Err: errors.New("webhook returned no ref")}
	}
	return out.Ref, nil
}

func (w *Webhook) Update(ctx context.Context, ref string, doc render.Document) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(messageBody{Title: doc.Title, Body: doc.Body}).
		SetPathParam("ref", ref).
		Patch("/messages/{ref}")
	return classify(ref, resp, err)
}

func (w *Webhook) Delete(ctx context.Context, ref string) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetPathParam("ref", ref).
		Delete("/messages/{ref}")
	return classify(ref, resp, err)
}

func classify(ref string, resp *resty.Response, err error) error {
	if err != nil {
		return &Error{Kind: KindTransient, Ref: ref, Err: err}
	}
	code := resp.StatusCode()
	switch {
	case code < 300:
		return nil
	case code == http.StatusNotFound:
		return &Error{Kind: KindRefNotFound, Ref: ref, Err: fmt.Errorf("status %d", code)}
	case code == http.StatusForbidden || code == http.StatusUnauthorized:
		return &Error{Kind: KindForbidden, Ref: ref, Err: fmt.Errorf("status %d", code)}
	default:
		return &Error{Kind: KindTransient, Ref: ref, Err: fmt.Errorf("status %d: %s", code, resp.String())}
	}
}
