package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quoteline/internal/config"
	"quoteline/internal/db"
	"quoteline/internal/engine"
	"quoteline/internal/migrate"
	"quoteline/internal/render"
	"quoteline/internal/server"
	"quoteline/internal/surface"
)

// memSurface keeps rendered documents in memory.
type memSurface struct {
	refs int
	docs map[string]render.Document
}

func (m *memSurface) CreatePlaceholder(ctx context.Context, channel string) (string, error) {
	m.refs++
	ref := fmt.Sprintf("%s/m%d", channel, m.refs)
	m.docs[ref] = render.Placeholder()
	return ref, nil
}

func (m *memSurface) Update(ctx context.Context, ref string, doc render.Document) error {
	m.docs[ref] = doc
	return nil
}

func (m *memSurface) Delete(ctx context.Context, ref string) error {
	delete(m.docs, ref)
	return nil
}

var _ surface.Surface = (*memSurface)(nil)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("ws-1"), &memSurface{docs: map[string]render.Document{}})
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	// no JWT secret: dev mode, requests run as "anonymous"
	handler, err := server.New(server.Config{Engine: eng})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func quoteText() string {
	return strings.Join([]string{
		"customer-name: Jane",
		"contact-method: email",
		"contact-info: jane@example.com",
		"payment-method: 3",
		"estimated-start-date: 2026-10-01",
		"order-status: 1",
		"payment-received: 0",
		"custom-sticker: 1",
		"sub-badge: 0",
		"bit-emote: 0",
		"info-panel: 0",
		"stream-overlay: 0",
		"other: 0",
		"comment: hi",
	}, "\n")
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("body %v", body)
	}
}

func TestQuoteLifecycle(t *testing.T) {
	ts := newTestServer(t)
	base := ts.URL + "/v1/workspaces/ws-1"

	resp, body := doJSON(t, http.MethodPost, base+"/quotes", map[string]any{
		"text":    quoteText(),
		"channel": "chan-a",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add status %d: %v", resp.StatusCode, body)
	}
	if body["id"] != float64(1) || body["status"] != "pending" {
		t.Fatalf("add body %v", body)
	}
	if body["rendered"] != true {
		t.Fatalf("expected rendered=true: %v", body)
	}

	resp, body = doJSON(t, http.MethodGet, base+"/quotes/1", nil)
	if resp.StatusCode != http.StatusOK || body["customer_name"] != "Jane" {
		t.Fatalf("get status %d body %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPatch, base+"/quotes/1", map[string]any{
		"field": "status", "value": "ongoing",
	})
	if resp.StatusCode != http.StatusOK || body["status"] != "ongoing" {
		t.Fatalf("edit status %d body %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, base+"/quotes/1/shortcut", map[string]any{
		"keyword": "done",
	})
	if resp.StatusCode != http.StatusOK || body["status"] != "finished" {
		t.Fatalf("shortcut status %d body %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, base, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("overview status %d", resp.StatusCode)
	}
	summary, _ := body["summary"].(map[string]any)
	if summary == nil {
		t.Fatalf("no summary in %v", body)
	}
	finished, _ := summary["finished"].([]any)
	if len(finished) != 1 {
		t.Fatalf("finished bucket %v", summary)
	}

	resp, _ = doJSON(t, http.MethodDelete, base, nil)
	if resp.StatusCode >= 300 {
		t.Fatalf("reset status %d", resp.StatusCode)
	}
	resp, body = doJSON(t, http.MethodGet, base, nil)
	summary, _ = body["summary"].(map[string]any)
	if summary["next_id"] != float64(1) {
		t.Fatalf("counter not reset: %v", summary)
	}
}

func TestParseErrorEnvelope(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/workspaces/ws-1/quotes", map[string]any{
		"text": "customer-name: Jane",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	envelope, _ := body["error"].(map[string]any)
	if envelope == nil || envelope["code"] != "missing_field" {
		t.Fatalf("envelope %v", body)
	}
}

func TestUnknownQuoteIs404(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/workspaces/ws-1/quotes/42", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	envelope, _ := body["error"].(map[string]any)
	if envelope == nil || envelope["code"] != "not_found" {
		t.Fatalf("envelope %v", body)
	}
}

func TestUnknownEditFieldIs400(t *testing.T) {
	ts := newTestServer(t)
	base := ts.URL + "/v1/workspaces/ws-1"
	resp, _ := doJSON(t, http.MethodPost, base+"/quotes", map[string]any{"text": quoteText(), "channel": "c"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add status %d", resp.StatusCode)
	}
	resp, body := doJSON(t, http.MethodPatch, base+"/quotes/1", map[string]any{
		"field": "favorite-color", "value": "blue",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	envelope, _ := body["error"].(map[string]any)
	if envelope == nil || envelope["code"] != "unknown_field" {
		t.Fatalf("envelope %v", body)
	}
}

func TestSetChannelAndConfig(t *testing.T) {
	ts := newTestServer(t)
	base := ts.URL + "/v1/workspaces/ws-1"
	resp, _ := doJSON(t, http.MethodPut, base+"/channel", map[string]any{"channel": "board"})
	if resp.StatusCode >= 300 {
		t.Fatalf("set channel status %d", resp.StatusCode)
	}
	resp, body := doJSON(t, http.MethodGet, base+"/config", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("config status %d", resp.StatusCode)
	}
	cats, _ := body["categories"].([]any)
	if len(cats) != 6 {
		t.Fatalf("want 6 categories, got %v", body)
	}
	if body["await_seconds"] != float64(180) {
		t.Fatalf("await seconds %v", body["await_seconds"])
	}
}
