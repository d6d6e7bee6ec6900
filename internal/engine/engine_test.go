package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"quoteline/internal/config"
	"quoteline/internal/db"
	"quoteline/internal/domain"
	"quoteline/internal/engine"
	"quoteline/internal/migrate"
	"quoteline/internal/render"
	"quoteline/internal/surface"
)

// fakeSurface records calls and can be told to fail.
type fakeSurface struct {
	mu           sync.Mutex
	refs         int
	docs         map[string]render.Document
	deleted      []string
	failUpdate   error
	blockCreate  chan struct{}
	missingRefs  map[string]bool
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{docs: map[string]render.Document{}, missingRefs: map[string]bool{}}
}

func (f *fakeSurface) CreatePlaceholder(ctx context.Context, channel string) (string, error) {
	if f.blockCreate != nil {
		<-f.blockCreate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs++
	ref := fmt.Sprintf("%s/msg-%d", channel, f.refs)
	f.docs[ref] = render.Placeholder()
	return ref, nil
}

func (f *fakeSurface) Update(ctx context.Context, ref string, doc render.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missingRefs[ref] {
		return &surface.Error{Kind: surface.KindRefNotFound, Ref: ref, Err: errors.New("gone")}
	}
	if f.failUpdate != nil {
		return f.failUpdate
	}
	f.docs[ref] = doc
	return nil
}

func (f *fakeSurface) Delete(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, ref)
	f.deleted = append(f.deleted, ref)
	return nil
}

type staticInput struct {
	text string
	err  error
}

func (s staticInput) Await(ctx context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

type blockedInput struct{}

func (blockedInput) Await(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type testEnv struct {
	Engine  *engine.Engine
	Surface *fakeSurface
	Ctx     context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	surf := newFakeSurface()
	cfg := config.Default("ws-1")
	eng := engine.New(conn, cfg, surf)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Surface: surf, Ctx: context.Background()}
}

func quoteText() string {
	return `customer-name: Jane
contact-method: email
contact-info: jane@example.com
payment-method: 3
estimated-start-date: 2026-10-01
order-status: 1
payment-received: 0
custom-sticker: 2
sub-badge: 0
bit-emote: 0
info-panel: 0
stream-overlay: 0
other: 0
comment: no rush`
}

func TestAddStoresAndRenders(t *testing.T) {
	env := newTestEnv(t)
	q, err := env.Engine.Add(env.Ctx, engine.AddOptions{
		WorkspaceID: "ws-1",
		Text:        quoteText(),
		Channel:     "chan-a",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if q.ID != 1 {
		t.Fatalf("want id 1, got %d", q.ID)
	}
	if q.ExternalMessageRef == "" {
		t.Fatal("no message ref assigned")
	}
	doc, ok := env.Surface.docs[q.ExternalMessageRef]
	if !ok {
		t.Fatal("nothing rendered at ref")
	}
	if !strings.Contains(doc.Title, "Jane") {
		t.Fatalf("rendered title %q missing customer", doc.Title)
	}

	summary, err := env.Engine.List(env.Ctx, "ws-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summary.Pending) != 1 || summary.Pending[0] != 1 {
		t.Fatalf("pending bucket wrong: %v", summary.Pending)
	}

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "ws-1", "quote.created", "")
	if err != nil || len(evts) != 1 {
		t.Fatalf("want one quote.created event, got %d (%v)", len(evts), err)
	}
}

func TestAddRejectsBlankName(t *testing.T) {
	env := newTestEnv(t)
	text := strings.Replace(quoteText(), "customer-name: Jane", "customer-name: ", 1)
	_, err := env.Engine.Add(env.Ctx, engine.AddOptions{WorkspaceID: "ws-1", Text: text, ActorID: "tester"})
	var ve *engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %v", err)
	}
}

func TestAddAwaitedInput(t *testing.T) {
	env := newTestEnv(t)
	q, err := env.Engine.Add(env.Ctx, engine.AddOptions{
		WorkspaceID: "ws-1",
		Channel:     "chan-a",
		ActorID:     "tester",
		Input:       staticInput{text: quoteText()},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if q.ID != 1 {
		t.Fatalf("want id 1, got %d", q.ID)
	}
	// the prompt placeholder must be cleaned up
	if len(env.Surface.deleted) != 1 {
		t.Fatalf("prompt not deleted: %v", env.Surface.deleted)
	}
}

func TestAddAwaitTimeoutLeavesStoreUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Await.Seconds = 0
	ctx, cancel := context.WithTimeout(env.Ctx, 50*time.Millisecond)
	defer cancel()
	// zero config seconds falls back to the default; bound via ctx instead
	_, err := env.Engine.Add(ctx, engine.AddOptions{
		WorkspaceID: "ws-1",
		ActorID:     "tester",
		Input:       blockedInput{},
	})
	if !errors.Is(err, engine.ErrAwaitTimeout) && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want timeout, got %v", err)
	}
	summary, listErr := env.Engine.List(env.Ctx, "ws-1")
	if listErr != nil {
		t.Fatalf("list: %v", listErr)
	}
	if summary.NextID != 1 {
		t.Fatalf("store mutated on timeout: next id %d", summary.NextID)
	}
	if len(env.Surface.deleted) != 1 {
		t.Fatalf("prompt placeholder not deleted: %v", env.Surface.deleted)
	}
	if len(env.Surface.docs) != 0 {
		t.Fatalf("documents left on surface: %v", env.Surface.docs)
	}
}

func TestAddCommitFailureCleansPlaceholder(t *testing.T) {
	env := newTestEnv(t)
	// break the event append so the commit fails after the placeholder exists
	if _, err := env.Engine.DB.Exec(`DROP TABLE events`); err != nil {
		t.Fatalf("drop events: %v", err)
	}
	_, err := env.Engine.Add(env.Ctx, engine.AddOptions{
		WorkspaceID: "ws-1",
		Text:        quoteText(),
		Channel:     "chan-a",
		ActorID:     "tester",
	})
	if err == nil {
		t.Fatal("want commit error")
	}
	if len(env.Surface.deleted) != 1 {
		t.Fatalf("provisional placeholder not deleted: %v", env.Surface.deleted)
	}
	if len(env.Surface.docs) != 0 {
		t.Fatalf("documents left on surface: %v", env.Surface.docs)
	}
}

func TestConcurrentAddSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	env.Surface.blockCreate = make(chan struct{})

	type result struct {
		q   domain.Quote
		err error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			q, err := env.Engine.Add(env.Ctx, engine.AddOptions{
				WorkspaceID: "ws-1",
				Text:        quoteText(),
				Channel:     "chan-a",
				ActorID:     "tester",
			})
			results <- result{q, err}
		}()
	}

	// let the loser hit the busy add slot, then release the winner
	var first result
	select {
	case first = <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("no rejection before release")
	}
	if !errors.Is(first.err, engine.ErrAddInFlight) {
		t.Fatalf("want ErrAddInFlight first, got %v", first.err)
	}
	close(env.Surface.blockCreate)
	second := <-results
	if second.err != nil {
		t.Fatalf("winner failed: %v", second.err)
	}
	if second.q.ID != 1 {
		t.Fatalf("want exactly one id issued, got %d", second.q.ID)
	}
}

func TestEditStatusMovesBuckets(t *testing.T) {
	env := newTestEnv(t)
	q, err := env.Engine.Add(env.Ctx, engine.AddOptions{WorkspaceID: "ws-1", Text: quoteText(), Channel: "c", ActorID: "tester"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	q, err = env.Engine.Edit(env.Ctx, engine.EditOptions{
		WorkspaceID: "ws-1", ID: q.ID, Field: "status", Value: "ongoing", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if q.Status != domain.StatusOngoing {
		t.Fatalf("want ongoing, got %s", q.Status)
	}
	summary, _ := env.Engine.List(env.Ctx, "ws-1")
	if len(summary.Pending) != 0 || len(summary.Ongoing) != 1 {
		t.Fatalf("buckets wrong: pending=%v ongoing=%v", summary.Pending, summary.Ongoing)
	}
	evts, _ := env.Engine.Repo.LatestEvents(env.Ctx, 10, "ws-1", "quote.status.moved", "")
	if len(evts) != 1 {
		t.Fatalf("want one status.moved event, got %d", len(evts))
	}
}

func TestEditUnknownField(t *testing.T) {
	env := newTestEnv(t)
	q, _ := env.Engine.Add(env.Ctx, engine.AddOptions{WorkspaceID: "ws-1", Text: quoteText(), Channel: "c", ActorID: "tester"})
	_, err := env.Engine.Edit(env.Ctx, engine.EditOptions{WorkspaceID: "ws-1", ID: q.ID, Field: "favorite-color", Value: "blue", ActorID: "tester"})
	var uf *engine.UnknownFieldError
	if !errors.As(err, &uf) {
		t.Fatalf("want UnknownFieldError, got %v", err)
	}
	_, err = env.Engine.Edit(env.Ctx, engine.EditOptions{WorkspaceID: "ws-1", ID: q.ID, Field: "nonexistent.count", Value: "1", ActorID: "tester"})
	var uc *engine.UnknownCategoryError
	if !errors.As(err, &uc) {
		t.Fatalf("want UnknownCategoryError, got %v", err)
	}
}

func TestStagePromotionToOngoing(t *testing.T) {
	env := newTestEnv(t)
	q, _ := env.Engine.Add(env.Ctx, engine.AddOptions{WorkspaceID: "ws-1", Text: quoteText(), Channel: "c", ActorID: "tester"})
	q, err := env.Engine.Edit(env.Ctx, engine.EditOptions{
		WorkspaceID: "ws-1", ID: q.ID, Field: "custom-sticker.stage", Value: "draft", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if q.Status != domain.StatusOngoing {
		t.Fatalf("active stage should promote pending to ongoing, got %s", q.Status)
	}
}

func TestShortcutDoneForcesStages(t *testing.T) {
	env := newTestEnv(t)
	q, _ := env.Engine.Add(env.Ctx, engine.AddOptions{WorkspaceID: "ws-1", Text: quoteText(), Channel: "c", ActorID: "tester"})
	q, err := env.Engine.Shortcut(env.Ctx, "ws-1", q.ID, "done", "", "tester")
	if err != nil {
		t.Fatalf("shortcut: %v", err)
	}
	if q.Status != domain.StatusFinished {
		t.Fatalf("want finished, got %s", q.Status)
	}
	for _, item := range q.Items {
		if item.Ordered() && item.Stage != domain.StageComplete {
			t.Fatalf("ordered item %s not complete: %s", item.Kind, item.Stage)
		}
	}
}

func TestShortcutStageNeedsCategory(t *testing.T) {
	env := newTestEnv(t)
	q, _ := env.Engine.Add(env.Ctx, engine.AddOptions{WorkspaceID: "ws-1", Text: quoteText(), Channel: "c", ActorID: "tester"})
	_, err := env.Engine.Shortcut(env.Ctx, "ws-1", q.ID, "draft", "", "tester")
	var ve *engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %v", err)
	}
}

func TestSurfaceFailureKeepsStoreCommitted(t *testing.T) {
	env := newTestEnv(t)
	env.Surface.failUpdate = &surface.Error{Kind: surface.KindTransient, Err: errors.New("boom")}
	q, err := env.Engine.Add(env.Ctx, engine.AddOptions{WorkspaceID: "ws-1", Text: quoteText(), Channel: "c", ActorID: "tester"})
	var re *engine.RenderError
	if !errors.As(err, &re) {
		t.Fatalf("want RenderError, got %v", err)
	}
	if q.ID != 1 {
		t.Fatalf("committed quote missing: %+v", q)
	}
	summary, _ := env.Engine.List(env.Ctx, "ws-1")
	if len(summary.Pending) != 1 {
		t.Fatal("store not committed")
	}
	evts, _ := env.Engine.Repo.LatestEvents(env.Ctx, 10, "ws-1", "quote.render.failed", "")
	if len(evts) != 1 {
		t.Fatalf("want render.failed event, got %d", len(evts))
	}

	// refresh reconciles once the surface recovers
	env.Surface.failUpdate = nil
	q, err = env.Engine.Refresh(env.Ctx, "ws-1", q.ID, "c", "tester")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, ok := env.Surface.docs[q.ExternalMessageRef]; !ok {
		t.Fatal("refresh did not render")
	}
}

func TestRefreshReplacesLostRef(t *testing.T) {
	env := newTestEnv(t)
	q, err := env.Engine.Add(env.Ctx, engine.AddOptions{WorkspaceID: "ws-1", Text: quoteText(), Channel: "c", ActorID: "tester"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	oldRef := q.ExternalMessageRef
	env.Surface.missingRefs[oldRef] = true

	q, err = env.Engine.Refresh(env.Ctx, "ws-1", q.ID, "c", "tester")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if q.ExternalMessageRef == oldRef {
		t.Fatal("lost ref not replaced")
	}
	if _, ok := env.Surface.docs[q.ExternalMessageRef]; !ok {
		t.Fatal("new ref not rendered")
	}
}

func TestResetClearsWorkspaceAndCounter(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Add(env.Ctx, engine.AddOptions{WorkspaceID: "ws-1", Text: quoteText(), Channel: "c", ActorID: "tester"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := env.Engine.Reset(env.Ctx, "ws-1", "tester"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	summary, _ := env.Engine.List(env.Ctx, "ws-1")
	if len(summary.Pending) != 0 || summary.NextID != 1 {
		t.Fatalf("workspace not cleared: %+v", summary)
	}

	q, err := env.Engine.Add(env.Ctx, engine.AddOptions{WorkspaceID: "ws-1", Text: quoteText(), Channel: "c", ActorID: "tester"})
	if err != nil {
		t.Fatalf("add after reset: %v", err)
	}
	if q.ID != 1 {
		t.Fatalf("counter not reset, got id %d", q.ID)
	}
}

func TestRenderChannelPreferred(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.SetRenderChannel(env.Ctx, "ws-1", "board", "tester"); err != nil {
		t.Fatalf("set channel: %v", err)
	}
	q, err := env.Engine.Add(env.Ctx, engine.AddOptions{WorkspaceID: "ws-1", Text: quoteText(), Channel: "origin", ActorID: "tester"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.HasPrefix(q.ExternalMessageRef, "board/") {
		t.Fatalf("render went to %s, want the configured channel", q.ExternalMessageRef)
	}
}

func TestRoundTripThroughStore(t *testing.T) {
	env := newTestEnv(t)
	added, err := env.Engine.Add(env.Ctx, engine.AddOptions{WorkspaceID: "ws-1", Text: quoteText(), Channel: "c", ActorID: "tester"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	loaded, _, err := env.Engine.Info(env.Ctx, "ws-1", added.ID, true)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if loaded.Customer != added.Customer || loaded.Comment != added.Comment || len(loaded.Items) != len(added.Items) {
		t.Fatalf("round trip mismatch:\nadded:  %+v\nloaded: %+v", added, loaded)
	}
	for i := range loaded.Items {
		if loaded.Items[i] != added.Items[i] {
			t.Fatalf("item %d mismatch: %+v vs %+v", i, loaded.Items[i], added.Items[i])
		}
	}
}
