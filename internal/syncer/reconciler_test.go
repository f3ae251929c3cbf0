package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/emberchat/ember-core/internal/breaker"
	"github.com/emberchat/ember-core/internal/entity"
	"github.com/emberchat/ember-core/internal/remote"
	"github.com/emberchat/ember-core/internal/repo"
	"github.com/emberchat/ember-core/internal/store"
)

// fakeClient is an in-memory remote that records calls and can inject
// failures and conflicts.
type fakeClient struct {
	mu      sync.Mutex
	records map[entity.Type]map[string]remote.Record

	// assignIDs makes Create mint server-side ids, exercising adoption.
	assignIDs bool

	// conflictWith, when set for an id, makes non-forced updates fail
	// with a version conflict carrying this server record.
	conflictWith map[string]remote.Record

	// failWith makes every call fail until cleared; failPushes only
	// affects Create and Update, failDeletes only Delete.
	failWith    error
	failPushes  error
	failDeletes error

	createCalls, updateCalls, listCalls, deleteCalls int
	lastSince                                        map[entity.Type]time.Time
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		records:      make(map[entity.Type]map[string]remote.Record),
		conflictWith: make(map[string]remote.Record),
		lastSince:    make(map[entity.Type]time.Time),
	}
}

func (c *fakeClient) bucket(typ entity.Type) map[string]remote.Record {
	if c.records[typ] == nil {
		c.records[typ] = make(map[string]remote.Record)
	}
	return c.records[typ]
}

func (c *fakeClient) List(ctx context.Context, typ entity.Type, since time.Time) ([]remote.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listCalls++
	c.lastSince[typ] = since
	if c.failWith != nil {
		return nil, c.failWith
	}
	var out []remote.Record
	for _, rec := range c.bucket(typ) {
		if rec.UpdatedAt.After(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (c *fakeClient) Create(ctx context.Context, typ entity.Type, rec remote.Record) (remote.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createCalls++
	if c.failWith != nil {
		return remote.Record{}, c.failWith
	}
	if c.failPushes != nil {
		return remote.Record{}, c.failPushes
	}
	if c.assignIDs {
		rec = rewriteID(rec, "srv-"+rec.ID)
	}
	c.bucket(typ)[rec.ID] = rec
	return rec, nil
}

func (c *fakeClient) Update(ctx context.Context, typ entity.Type, rec remote.Record, force bool) (remote.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateCalls++
	if c.failWith != nil {
		return remote.Record{}, c.failWith
	}
	if c.failPushes != nil {
		return remote.Record{}, c.failPushes
	}
	if server, ok := c.conflictWith[rec.ID]; ok && !force {
		return remote.Record{}, &remote.ConflictError{Server: server}
	}
	delete(c.conflictWith, rec.ID)
	c.bucket(typ)[rec.ID] = rec
	return rec, nil
}

func (c *fakeClient) Delete(ctx context.Context, typ entity.Type, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteCalls++
	if c.failWith != nil {
		return c.failWith
	}
	if c.failDeletes != nil {
		return c.failDeletes
	}
	if _, ok := c.bucket(typ)[id]; !ok {
		return remote.ErrNotFound
	}
	delete(c.bucket(typ), id)
	return nil
}

// rewriteID renames a record and patches the id inside its payload so the
// fake behaves like a real server assigning canonical ids.
func rewriteID(rec remote.Record, id string) remote.Record {
	var payload map[string]any
	_ = json.Unmarshal(rec.Payload, &payload)
	payload["id"] = id
	data, _ := json.Marshal(payload)
	return remote.Record{ID: id, UpdatedAt: rec.UpdatedAt, Payload: data}
}

func serverRecord(t *testing.T, c *entity.Conversation) remote.Record {
	t.Helper()
	payload, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return remote.Record{ID: c.ID, UpdatedAt: c.UpdatedAt, Payload: payload}
}

type fixture struct {
	db       *store.DB
	convs    *repo.Conversations
	client   *fakeClient
	breakers *breaker.Registry
	rec      *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	convs := repo.NewConversations(db)
	client := newFakeClient()
	breakers := breaker.NewRegistry(breaker.Options{FailureThreshold: 5})
	logger := log.New(nullWriter{}, "", 0)
	return &fixture{
		db:       db,
		convs:    convs,
		client:   client,
		breakers: breakers,
		rec:      New(db, client, breakers, []Source{ForRepo(convs.Repo)}, logger),
	}
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

func mustCreate(t *testing.T, convs *repo.Conversations, title string) *entity.Conversation {
	t.Helper()
	c, err := convs.Create(context.Background(), &entity.Conversation{OwnerID: "u1", Title: title})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	return c
}

func TestReconciler_PushCreates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := mustCreate(t, f.convs, "first chat")

	stats, err := f.rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if stats.Pushed != 1 {
		t.Errorf("pushed = %d, want 1", stats.Pushed)
	}
	if f.client.createCalls != 1 {
		t.Errorf("create calls = %d, want 1", f.client.createCalls)
	}

	got, err := f.convs.Fetch(ctx, local.ID)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if got.SyncState != entity.SyncSynced {
		t.Errorf("state = %q, want synced", got.SyncState)
	}
	if got.ServerVersion == 0 {
		t.Error("server version still 0 after acknowledgment")
	}

	// An immediate second pass has nothing to push.
	stats, err = f.rec.Run(ctx)
	if err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}
	if stats.Pushed != 0 {
		t.Errorf("second pass pushed = %d, want 0", stats.Pushed)
	}
}

func TestReconciler_AdoptsServerAssignedID(t *testing.T) {
	f := newFixture(t)
	f.client.assignIDs = true
	ctx := context.Background()

	local := mustCreate(t, f.convs, "chat")

	if _, err := f.rec.Run(ctx); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if _, err := f.convs.Fetch(ctx, local.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("local id still present after adoption: %v", err)
	}
	got, err := f.convs.Fetch(ctx, "srv-"+local.ID)
	if err != nil {
		t.Fatalf("Fetch(server id) failed: %v", err)
	}
	if got.SyncState != entity.SyncSynced {
		t.Errorf("state = %q, want synced", got.SyncState)
	}
}

func TestReconciler_PushUpdatesKnownRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := mustCreate(t, f.convs, "chat")
	if _, err := f.rec.Run(ctx); err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}

	if _, err := f.convs.SetTitle(ctx, local.ID, "renamed"); err != nil {
		t.Fatalf("SetTitle() failed: %v", err)
	}

	creates := f.client.createCalls
	if _, err := f.rec.Run(ctx); err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}
	if f.client.createCalls != creates {
		t.Error("previously-synced row was re-created instead of updated")
	}
	if f.client.updateCalls == 0 {
		t.Error("no update call issued")
	}
}

func TestReconciler_ConflictLocalNewerWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := mustCreate(t, f.convs, "chat")
	if _, err := f.rec.Run(ctx); err != nil {
		t.Fatalf("seed Run() failed: %v", err)
	}
	local, err := f.convs.SetTitle(ctx, local.ID, "local edit")
	if err != nil {
		t.Fatalf("SetTitle() failed: %v", err)
	}

	// The server diverged, but earlier than the local edit.
	server := *local
	server.Title = "server edit"
	server.UpdatedAt = local.UpdatedAt.Add(-time.Minute)
	f.client.conflictWith[local.ID] = serverRecord(t, &server)

	stats, err := f.rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if stats.Conflicts == 0 {
		t.Error("conflict was not counted")
	}

	got, err := f.convs.Fetch(ctx, local.ID)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if got.Title != "local edit" {
		t.Errorf("title = %q, want the newer local edit", got.Title)
	}
	if got.SyncState != entity.SyncSynced {
		t.Errorf("state = %q, want synced", got.SyncState)
	}
	// The forced write must have landed on the server.
	if srv := f.client.records[entity.TypeConversation][local.ID]; srv.ID == "" {
		t.Error("forced update never reached the server")
	}
}

func TestReconciler_ConflictServerNewerWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := mustCreate(t, f.convs, "chat")
	if _, err := f.rec.Run(ctx); err != nil {
		t.Fatalf("seed Run() failed: %v", err)
	}
	local, err := f.convs.SetTitle(ctx, local.ID, "local edit")
	if err != nil {
		t.Fatalf("SetTitle() failed: %v", err)
	}

	server := *local
	server.Title = "server edit"
	server.UpdatedAt = local.UpdatedAt.Add(time.Minute)
	server.ServerVersion = 7
	f.client.conflictWith[local.ID] = serverRecord(t, &server)

	if _, err := f.rec.Run(ctx); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	got, err := f.convs.Fetch(ctx, local.ID)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if got.Title != "server edit" {
		t.Errorf("title = %q, want the newer server edit", got.Title)
	}
	if got.SyncState != entity.SyncSynced {
		t.Errorf("state = %q, want synced", got.SyncState)
	}
}

func TestReconciler_ConflictsLeaveCircuitClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var locals []*entity.Conversation
	for i := 0; i < 6; i++ {
		locals = append(locals, mustCreate(t, f.convs, fmt.Sprintf("chat %d", i)))
	}
	if _, err := f.rec.Run(ctx); err != nil {
		t.Fatalf("seed Run() failed: %v", err)
	}

	// Every row diverged, and the server's copies are newer. Six 409s
	// exceed the failure threshold of five, but a healthy server saying
	// "no" is not an outage.
	for i, local := range locals {
		edited, err := f.convs.SetTitle(ctx, local.ID, "local edit")
		if err != nil {
			t.Fatalf("SetTitle() failed: %v", err)
		}
		server := *edited
		server.Title = fmt.Sprintf("server edit %d", i)
		server.UpdatedAt = edited.UpdatedAt.Add(time.Minute)
		server.ServerVersion = 2
		f.client.conflictWith[local.ID] = serverRecord(t, &server)
	}

	lists := f.client.listCalls
	stats, err := f.rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if stats.Failures != 0 {
		t.Errorf("failures = %d, want 0", stats.Failures)
	}
	if state := f.breakers.Get(string(entity.TypeConversation)).State(); state != breaker.StateClosed {
		t.Errorf("breaker state = %v, want closed", state)
	}
	// The pull phase must still have run.
	if f.client.listCalls != lists+1 {
		t.Errorf("list calls = %d, want %d", f.client.listCalls, lists+1)
	}

	for i, local := range locals {
		got, err := f.convs.Fetch(ctx, local.ID)
		if err != nil {
			t.Fatalf("Fetch(%s) failed: %v", local.ID, err)
		}
		if want := fmt.Sprintf("server edit %d", i); got.Title != want {
			t.Errorf("title = %q, want %q", got.Title, want)
		}
		if got.SyncState != entity.SyncSynced {
			t.Errorf("state = %q, want synced", got.SyncState)
		}
	}
}

func TestReconciler_PushesHardDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := mustCreate(t, f.convs, "doomed chat")
	if _, err := f.rec.Run(ctx); err != nil {
		t.Fatalf("seed Run() failed: %v", err)
	}

	if err := f.convs.Delete(ctx, local.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	pending, err := f.db.PendingDeletions(ctx, entity.TypeConversation)
	if err != nil {
		t.Fatalf("PendingDeletions() failed: %v", err)
	}
	if len(pending) != 1 || pending[0] != local.ID {
		t.Fatalf("journal = %v, want [%s]", pending, local.ID)
	}

	stats, err := f.rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if f.client.deleteCalls != 1 {
		t.Errorf("delete calls = %d, want 1", f.client.deleteCalls)
	}
	if _, ok := f.client.records[entity.TypeConversation][local.ID]; ok {
		t.Error("server still holds the deleted record")
	}
	if stats.Pulled != 0 {
		t.Errorf("pulled = %d, want 0", stats.Pulled)
	}

	pending, err = f.db.PendingDeletions(ctx, entity.TypeConversation)
	if err != nil {
		t.Fatalf("PendingDeletions() failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("journal = %v, want empty after acknowledgment", pending)
	}

	// A later pass must not pull the row back.
	if _, err := f.rec.Run(ctx); err != nil {
		t.Fatalf("third Run() failed: %v", err)
	}
	if _, err := f.convs.Fetch(ctx, local.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Fetch() = %v, want ErrNotFound", err)
	}
}

func TestReconciler_PendingDeleteShadowsPull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := mustCreate(t, f.convs, "doomed chat")
	if _, err := f.rec.Run(ctx); err != nil {
		t.Fatalf("seed Run() failed: %v", err)
	}

	// The server's copy moved on, so the next pull would list it.
	srv := f.client.records[entity.TypeConversation][local.ID]
	srv.UpdatedAt = srv.UpdatedAt.Add(time.Minute)
	f.client.records[entity.TypeConversation][local.ID] = srv

	if err := f.convs.Delete(ctx, local.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	// While the delete cannot be delivered, the pull must not resurrect
	// the row.
	f.client.failDeletes = errors.New("connection refused")
	stats, err := f.rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if stats.Failures == 0 {
		t.Error("failed delete not counted")
	}
	if stats.Pulled != 0 {
		t.Errorf("pulled = %d, want 0", stats.Pulled)
	}
	if _, err := f.convs.Fetch(ctx, local.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Fetch() = %v, want ErrNotFound", err)
	}

	// Once the network recovers the delete lands.
	f.client.failDeletes = nil
	if _, err := f.rec.Run(ctx); err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}
	if _, ok := f.client.records[entity.TypeConversation][local.ID]; ok {
		t.Error("server still holds the deleted record")
	}
}

func TestReconciler_UnauthorizedHaltsPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := mustCreate(t, f.convs, "chat")
	f.client.failWith = fmt.Errorf("credential: %w", remote.ErrUnauthorized)

	_, err := f.rec.Run(ctx)
	if !errors.Is(err, remote.ErrUnauthorized) {
		t.Fatalf("Run() = %v, want ErrUnauthorized", err)
	}

	// The row stays queued for when credentials recover.
	got, err := f.convs.Fetch(ctx, local.ID)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if got.SyncState != entity.SyncPending {
		t.Errorf("state = %q, want pending-push", got.SyncState)
	}
}

func TestReconciler_OpenCircuitDefersRows(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	convs := repo.NewConversations(db)
	client := newFakeClient()
	client.failWith = errors.New("connection refused")
	breakers := breaker.NewRegistry(breaker.Options{FailureThreshold: 1, ResetTimeout: time.Hour})
	rec := New(db, client, breakers, []Source{ForRepo(convs.Repo)}, log.New(nullWriter{}, "", 0))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		mustCreate(t, convs, fmt.Sprintf("chat %d", i))
	}

	stats, err := rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if stats.Pushed != 0 {
		t.Errorf("pushed = %d, want 0", stats.Pushed)
	}
	if stats.Failures == 0 {
		t.Error("failures not counted")
	}
	// Only the first row's call reached the network; the opened circuit
	// short-circuited the rest of the type.
	if client.createCalls != 1 {
		t.Errorf("create calls = %d, want 1", client.createCalls)
	}

	counts, err := convs.CountBySyncState(ctx)
	if err != nil {
		t.Fatalf("CountBySyncState() failed: %v", err)
	}
	if counts[entity.SyncPending] != 3 {
		t.Errorf("pending = %d, want all 3 kept for retry", counts[entity.SyncPending])
	}
}

func TestReconciler_PullAdvancesCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	older := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	for i, at := range []time.Time{older, newer} {
		c := &entity.Conversation{OwnerID: "u1", Title: fmt.Sprintf("server chat %d", i)}
		c.ID = fmt.Sprintf("srv-c%d", i)
		c.CreatedAt = at
		c.UpdatedAt = at
		c.ServerVersion = 1
		f.client.bucket(entity.TypeConversation)[c.ID] = serverRecord(t, c)
	}

	stats, err := f.rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if stats.Pulled != 2 {
		t.Errorf("pulled = %d, want 2", stats.Pulled)
	}

	got, err := f.convs.Fetch(ctx, "srv-c1")
	if err != nil {
		t.Fatalf("Fetch(pulled) failed: %v", err)
	}
	if got.SyncState != entity.SyncSynced {
		t.Errorf("pulled state = %q, want synced", got.SyncState)
	}

	checkpoint, err := f.db.Checkpoint(ctx, entity.TypeConversation)
	if err != nil {
		t.Fatalf("Checkpoint() failed: %v", err)
	}
	if !checkpoint.Equal(newer) {
		t.Errorf("checkpoint = %v, want %v", checkpoint, newer)
	}

	// The next pass lists only past the watermark, pulling nothing new.
	stats, err = f.rec.Run(ctx)
	if err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}
	if !f.client.lastSince[entity.TypeConversation].Equal(newer) {
		t.Errorf("since = %v, want %v", f.client.lastSince[entity.TypeConversation], newer)
	}
	if stats.Pulled != 0 {
		t.Errorf("second pass pulled = %d, want 0", stats.Pulled)
	}
}

func TestReconciler_PullSkipsNewerLocalMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The push fails, leaving an unpushed local edit in place when the
	// pull delivers an older copy of the same row.
	f.client.failPushes = errors.New("connection refused")
	local := mustCreate(t, f.convs, "local title")

	stale := *local
	stale.Title = "stale server title"
	stale.UpdatedAt = local.UpdatedAt.Add(-time.Hour)
	f.client.bucket(entity.TypeConversation)[stale.ID] = serverRecord(t, &stale)

	stats, err := f.rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if stats.Pulled != 0 {
		t.Errorf("pulled = %d, want 0 (stale row skipped)", stats.Pulled)
	}

	got, err := f.convs.Fetch(ctx, local.ID)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if got.Title != "local title" {
		t.Errorf("title = %q, want local title preserved", got.Title)
	}
	if got.SyncState != entity.SyncPending {
		t.Errorf("state = %q, want still pending-push", got.SyncState)
	}
}

func TestReconciler_ContextCancelledBetweenTypes(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.rec.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}

func TestReconciler_EmitsEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mustCreate(t, f.convs, "chat")

	var events []Event
	f.rec.OnEvent(func(ev Event) { events = append(events, ev) })

	if _, err := f.rec.Run(ctx); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 (one registered source)", len(events))
	}
	if events[0].Type != entity.TypeConversation || events[0].Pushed != 1 {
		t.Errorf("event = %+v", events[0])
	}
}
