// Package quotelinesdk is a minimal client for the Quoteline HTTP API.
package quotelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Quoteline HTTP API client.
type Client struct {
	BaseURL     string
	WorkspaceID string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, workspaceID string) *Client {
	return &Client{
		BaseURL:     baseURL,
		WorkspaceID: workspaceID,
		Timeout:     10 * time.Second,
	}
}

// Commission is one category line on a quote.
type Commission struct {
	Kind      string `json:"kind"`
	Count     int    `json:"count"`
	UnitPrice int    `json:"unit_price"`
	Stage     string `json:"stage"`
	Subtotal  int    `json:"subtotal"`
}

// Quote is the API quote model.
type Quote struct {
	ID                int          `json:"id"`
	Status            string       `json:"status"`
	CustomerName      string       `json:"customer_name"`
	Contact           string       `json:"contact"`
	ContactInfo       string       `json:"contact_info"`
	PaymentMethod     string       `json:"payment_method"`
	PaymentReceived   bool         `json:"payment_received"`
	EstimateStartDate string       `json:"estimated_start_date"`
	Items             []Commission `json:"items"`
	Total             int          `json:"total"`
	Unpriced          bool         `json:"unpriced"`
	Comment           string       `json:"comment,omitempty"`
	Rendered          bool         `json:"rendered"`
}

// Summary is the workspace bucket overview.
type Summary struct {
	Counts           map[string]int `json:"counts"`
	Pending          []int          `json:"pending"`
	Ongoing          []int          `json:"ongoing"`
	Finished         []int          `json:"finished"`
	Cancelled        []int          `json:"cancelled"`
	NextID           int            `json:"next_id"`
	LastGlobalUpdate int64          `json:"last_global_update"`
}

// Workspace wraps the overview response.
type Workspace struct {
	ID      string  `json:"id"`
	Summary Summary `json:"summary"`
}

// Event is a log entry.
type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts"`
	Type        string `json:"type"`
	WorkspaceID string `json:"workspace_id"`
	QuoteID     string `json:"quote_id,omitempty"`
	ActorID     string `json:"actor_id,omitempty"`
	Payload     string `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// AddQuote creates a quote from a labelled text block.
func (c *Client) AddQuote(ctx context.Context, text, channel string) (Quote, error) {
	body := map[string]any{"text": text}
	if channel != "" {
		body["channel"] = channel
	}
	var resp Quote
	err := c.do(ctx, http.MethodPost, c.workspacePath("quotes"), body, &resp)
	return resp, err
}

// GetQuote fetches one quote.
func (c *Client) GetQuote(ctx context.Context, id int) (Quote, error) {
	var resp Quote
	err := c.do(ctx, http.MethodGet, c.workspacePath(fmt.Sprintf("quotes/%d", id)), nil, &resp)
	return resp, err
}

// EditQuote applies one field edit.
func (c *Client) EditQuote(ctx context.Context, id int, field, value string) (Quote, error) {
	body := map[string]any{"field": field, "value": value}
	var resp Quote
	err := c.do(ctx, http.MethodPatch, c.workspacePath(fmt.Sprintf("quotes/%d", id)), body, &resp)
	return resp, err
}

// Shortcut applies a keyword shortcut; category is needed for stage words.
func (c *Client) Shortcut(ctx context.Context, id int, keyword, category string) (Quote, error) {
	body := map[string]any{"keyword": keyword}
	if category != "" {
		body["category"] = category
	}
	var resp Quote
	err := c.do(ctx, http.MethodPost, c.workspacePath(fmt.Sprintf("quotes/%d/shortcut", id)), body, &resp)
	return resp, err
}

// RefreshQuote replays the rendering from store state.
func (c *Client) RefreshQuote(ctx context.Context, id int, channel string) (Quote, error) {
	body := map[string]any{}
	if channel != "" {
		body["channel"] = channel
	}
	var resp Quote
	err := c.do(ctx, http.MethodPost, c.workspacePath(fmt.Sprintf("quotes/%d/refresh", id)), body, &resp)
	return resp, err
}

// Overview returns the workspace bucket overview.
func (c *Client) Overview(ctx context.Context) (Workspace, error) {
	var resp Workspace
	err := c.do(ctx, http.MethodGet, c.workspacePath(""), nil, &resp)
	return resp, err
}

// Reset clears the workspace.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, c.workspacePath(""), nil, nil)
}

// SetChannel points new renders at a channel.
func (c *Client) SetChannel(ctx context.Context, channel string) error {
	return c.do(ctx, http.MethodPut, c.workspacePath("channel"), map[string]any{"channel": channel}, nil)
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.workspacePath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) workspacePath(p string) string {
	ws := url.PathEscape(c.WorkspaceID)
	if p == "" {
		return fmt.Sprintf("v1/workspaces/%s", ws)
	}
	return fmt.Sprintf("v1/workspaces/%s/%s", ws, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
