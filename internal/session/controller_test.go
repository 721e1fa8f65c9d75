package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/syab/docsync/internal/errors"
	"github.com/syab/docsync/internal/models"
)

type mockStore struct {
	mu          sync.Mutex
	doc         *models.DocumentSnapshot
	getCalls    int
	editCalls   int
	createCalls int
	getErr      error
	editErr     error
	lastEdit    models.EditEvent
}

func (m *mockStore) CreateDocument(_ context.Context, title, ownerID string) (*models.DocumentSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	m.doc = &models.DocumentSnapshot{ID: "doc-new", Title: title, OwnerID: ownerID, UpdatedAt: time.Now()}
	return m.doc.Clone(), nil
}

func (m *mockStore) EditDocument(_ context.Context, id, userID, content string, kind models.ChangeKind) (*models.DocumentSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.editCalls++
	m.lastEdit = models.EditEvent{DocumentID: id, UserID: userID, Content: content, Kind: kind}
	if m.editErr != nil {
		return nil, m.editErr
	}
	m.doc.Content = content
	m.doc.UpdatedAt = time.Now()
	return m.doc.Clone(), nil
}

func (m *mockStore) GetDocument(_ context.Context, id string) (*models.DocumentSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.doc.Clone(), nil
}

func (m *mockStore) CreateVersion(_ context.Context, id, userID, content, label string) (*models.VersionRecord, error) {
	return &models.VersionRecord{ID: "v1", DocumentID: id, UserID: userID, Content: content, Label: label}, nil
}

func (m *mockStore) edits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.editCalls
}

func (m *mockStore) gets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

func (m *mockStore) lastEditEvent() models.EditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastEdit
}

type mockChannel struct {
	mu         sync.Mutex
	alive      bool
	connectErr error
	sent       []models.EditEvent
	events     chan models.ChangeEnvelope
	closed     bool
}

func newMockChannel() *mockChannel {
	return &mockChannel{events: make(chan models.ChangeEnvelope, 16)}
}

func (m *mockChannel) Connect(_ context.Context, _, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return m.connectErr
	}
	m.alive = true
	return nil
}

func (m *mockChannel) Send(event models.EditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.alive {
		return errors.New(errors.ErrChannelUnavailable, "not connected")
	}
	m.sent = append(m.sent, event)
	return nil
}

func (m *mockChannel) Events() <-chan models.ChangeEnvelope { return m.events }

func (m *mockChannel) Alive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive
}

func (m *mockChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.alive = false
	return nil
}

func (m *mockChannel) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockChannel) push(env models.ChangeEnvelope) {
	m.events <- env
}

type mockProfiles struct {
	mu       sync.Mutex
	profiles map[string]string
	err      error
	calls    int
}

func (m *mockProfiles) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	name, ok := m.profiles[userID]
	if !ok {
		return nil, errors.New(errors.ErrProfileLookupFailed, "unknown user")
	}
	return &models.Profile{ID: userID, Username: name}, nil
}

func testConfig() Config {
	return Config{
		SaveInterval:      30 * time.Millisecond,
		BroadcastInterval: 20 * time.Millisecond,
		PollInterval:      25 * time.Millisecond,
	}
}

// slowConfig keeps every timer out of the way so tests drive the loop
// explicitly.
func slowConfig() Config {
	return Config{
		SaveInterval:      time.Hour,
		BroadcastInterval: time.Hour,
		PollInterval:      time.Hour,
	}
}

func newOpenSession(t *testing.T, cfg Config) (*Controller, *mockStore, *mockChannel) {
	t.Helper()
	store := &mockStore{doc: &models.DocumentSnapshot{ID: "doc-1", Title: "Notes", Content: "Hello", OwnerID: "user-a"}}
	ch := newMockChannel()
	ctrl := NewController(store, ch, &mockProfiles{profiles: map[string]string{}}, "user-a", "alice", cfg)
	if err := ctrl.Open(context.Background(), "doc-1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { ctrl.Close() })
	return ctrl, store, ch
}

func waitUntil(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitNotify(t *testing.T, ctrl *Controller, want NotificationType) Notification {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-ctrl.Notifications():
			if n.Type == want {
				return n
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s notification", want)
		}
	}
}

func foreignChange(content, authorID string) models.ChangeEnvelope {
	change := models.NewEditEvent("doc-1", authorID, content, models.ChangeKindUpdate)
	return models.ChangeEnvelope{
		Type:     models.EnvelopeChange,
		Document: &models.DocumentSnapshot{ID: "doc-1", Title: "Notes", Content: content},
		Change:   &change,
	}
}

func presenceEnvelope(userID, username string, status models.PresenceStatus) models.ChangeEnvelope {
	return models.ChangeEnvelope{
		Type:     models.EnvelopePresence,
		Presence: &models.PresenceEvent{UserID: userID, Username: username, Status: status},
	}
}

func TestOpen_seedsStateFromStore(t *testing.T) {
	ctrl, store, ch := newOpenSession(t, slowConfig())

	st := ctrl.State()
	if st.LocalContent != "Hello" || st.LastSynced != "Hello" {
		t.Errorf("state = %q/%q, want Hello/Hello", st.LocalContent, st.LastSynced)
	}
	if st.Dirty {
		t.Error("fresh session should not be dirty")
	}
	if !st.ChannelAlive || !ch.Alive() {
		t.Error("channel should be connected")
	}
	if store.gets() != 1 {
		t.Errorf("get calls = %d, want 1", store.gets())
	}
}

func TestOpen_secondOpenRejected(t *testing.T) {
	ctrl, _, _ := newOpenSession(t, slowConfig())

	err := ctrl.Open(context.Background(), "doc-1")
	if !errors.Is(err, errors.ErrSessionAlreadyOpen) {
		t.Errorf("err = %v, want SESSION_ALREADY_OPEN", err)
	}
}

func TestOpen_documentNotFound(t *testing.T) {
	store := &mockStore{doc: nil, getErr: errors.New(errors.ErrDocumentNotFound, "no such document")}
	ctrl := NewController(store, newMockChannel(), nil, "user-a", "alice", slowConfig())

	err := ctrl.Open(context.Background(), "missing")
	if !errors.Is(err, errors.ErrDocumentNotFound) {
		t.Errorf("err = %v, want DOCUMENT_NOT_FOUND", err)
	}
}

func TestOpen_degradesWhenChannelUnavailable(t *testing.T) {
	store := &mockStore{doc: &models.DocumentSnapshot{ID: "doc-1", Content: "Hello"}}
	ch := newMockChannel()
	ch.connectErr = errors.New(errors.ErrChannelUnavailable, "relay down")
	ctrl := NewController(store, ch, nil, "user-a", "alice", slowConfig())

	if err := ctrl.Open(context.Background(), "doc-1"); err != nil {
		t.Fatalf("open should tolerate a dead channel, got %v", err)
	}
	defer ctrl.Close()

	if ctrl.State().ChannelAlive {
		t.Error("state should report the channel down")
	}
}

func TestCreate_firstSaveIsCreate(t *testing.T) {
	store := &mockStore{}
	ctrl := NewController(store, newMockChannel(), nil, "user-a", "alice", slowConfig())

	snap, err := ctrl.Create(context.Background(), "Fresh")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer ctrl.Close()
	if snap.Title != "Fresh" || snap.OwnerID != "user-a" {
		t.Errorf("snapshot = %+v, want title Fresh owned by user-a", snap)
	}

	ctrl.Edit("first draft")
	if err := ctrl.Save(context.Background()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if got := store.lastEditEvent().Kind; got != models.ChangeKindCreate {
		t.Errorf("first save kind = %q, want CREATE", got)
	}

	ctrl.Edit("second draft")
	if err := ctrl.Save(context.Background()); err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	if got := store.lastEditEvent().Kind; got != models.ChangeKindUpdate {
		t.Errorf("second save kind = %q, want UPDATE", got)
	}
}

func TestEdit_autosaveCommitsAfterQuietPeriod(t *testing.T) {
	ctrl, store, _ := newOpenSession(t, testConfig())

	ctrl.Edit("Hello there")

	waitUntil(t, func() bool { return store.edits() == 1 }, "autosave commit")
	waitUntil(t, func() bool { return !ctrl.State().Dirty }, "state to settle")

	edit := store.lastEditEvent()
	if edit.Content != "Hello there" || edit.UserID != "user-a" {
		t.Errorf("persisted edit = %+v, want 'Hello there' by user-a", edit)
	}
}

func TestEdit_rapidEditsCollapseToOneCommit(t *testing.T) {
	ctrl, store, _ := newOpenSession(t, testConfig())

	for _, text := range []string{"H", "He", "Hel", "Hell", "Hello!"} {
		ctrl.Edit(text)
		time.Sleep(5 * time.Millisecond)
	}

	waitUntil(t, func() bool { return store.edits() >= 1 }, "autosave commit")
	time.Sleep(80 * time.Millisecond)

	if n := store.edits(); n != 1 {
		t.Errorf("edit calls = %d, want 1 for a rapid burst", n)
	}
	if got := store.lastEditEvent().Content; got != "Hello!" {
		t.Errorf("persisted content = %q, want final text", got)
	}
}

func TestSave_manualBypassesDebounce(t *testing.T) {
	ctrl, store, _ := newOpenSession(t, slowConfig())

	ctrl.Edit("manual save content")
	if err := ctrl.Save(context.Background()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if store.edits() != 1 {
		t.Errorf("edit calls = %d, want 1", store.edits())
	}
	if ctrl.State().Dirty {
		t.Error("state should be clean after a manual save")
	}
}

func TestSave_emptyContentRejected(t *testing.T) {
	ctrl, store, _ := newOpenSession(t, slowConfig())

	ctrl.Edit("   \n\t ")
	err := ctrl.Save(context.Background())
	if !errors.Is(err, errors.ErrEmptyContent) {
		t.Errorf("err = %v, want EMPTY_CONTENT", err)
	}
	if store.edits() != 0 {
		t.Errorf("edit calls = %d, want 0 for blank content", store.edits())
	}
}

func TestSave_persistenceFailureKeepsLocalEdits(t *testing.T) {
	ctrl, store, _ := newOpenSession(t, slowConfig())
	store.editErr = errors.New(errors.ErrDatabase, "disk full")

	ctrl.Edit("doomed edit")
	err := ctrl.Save(context.Background())
	if err == nil {
		t.Fatal("save should fail")
	}

	st := ctrl.State()
	if !st.Dirty || st.LocalContent != "doomed edit" {
		t.Errorf("state = %+v, want dirty with local edit preserved", st)
	}

	// Retry after the store recovers.
	store.mu.Lock()
	store.editErr = nil
	store.mu.Unlock()
	if err := ctrl.Save(context.Background()); err != nil {
		t.Fatalf("retry save failed: %v", err)
	}
	if ctrl.State().Dirty {
		t.Error("state should be clean after the retry")
	}
}

func TestBroadcast_draftSentAfterQuietPeriod(t *testing.T) {
	cfg := slowConfig()
	cfg.BroadcastInterval = 20 * time.Millisecond
	ctrl, _, ch := newOpenSession(t, cfg)

	ctrl.Edit("draft in progress")

	waitUntil(t, func() bool { return ch.sentCount() == 1 }, "draft broadcast")

	ch.mu.Lock()
	sent := ch.sent[0]
	ch.mu.Unlock()
	if sent.Content != "draft in progress" || sent.UserID != "user-a" {
		t.Errorf("broadcast = %+v, want local draft by user-a", sent)
	}
}

func TestRemoteChange_silentAdoptionWhenClean(t *testing.T) {
	ctrl, _, ch := newOpenSession(t, slowConfig())

	ch.push(foreignChange("Hello world", "user-b"))

	waitUntil(t, func() bool { return ctrl.State().LocalContent == "Hello world" }, "silent adoption")

	st := ctrl.State()
	if st.Dirty || st.Conflict != nil {
		t.Errorf("state = %+v, want clean adoption with no conflict", st)
	}
}

func TestRemoteChange_duplicateIsNoop(t *testing.T) {
	ctrl, _, ch := newOpenSession(t, slowConfig())

	ctrl.Edit("Hello typed ahead")
	waitUntil(t, func() bool { return ctrl.State().Dirty }, "edit to land")

	// Same content the session already synced: must not disturb the edit.
	ch.push(foreignChange("Hello", "user-b"))
	time.Sleep(30 * time.Millisecond)

	st := ctrl.State()
	if st.LocalContent != "Hello typed ahead" || st.Conflict != nil {
		t.Errorf("state = %+v, want local edit untouched and no conflict", st)
	}
}

func TestRemoteChange_selfEchoSuppressed(t *testing.T) {
	ctrl, _, ch := newOpenSession(t, slowConfig())

	ctrl.Edit("Hello again")
	waitUntil(t, func() bool { return ctrl.State().Dirty }, "edit to land")

	// Echo of this client's own earlier save arriving late.
	ch.push(foreignChange("Hello saved", "user-a"))

	waitUntil(t, func() bool { return ctrl.State().LastSynced == "Hello saved" }, "baseline to advance")

	st := ctrl.State()
	if st.LocalContent != "Hello again" || st.Conflict != nil {
		t.Errorf("state = %+v, want local typing preserved with no conflict", st)
	}
}

func TestRemoteChange_conflictResolution(t *testing.T) {
	t.Run("accept adopts remote content", func(t *testing.T) {
		ctrl, _, ch := newOpenSession(t, slowConfig())

		ctrl.Edit("Hello there")
		waitUntil(t, func() bool { return ctrl.State().Dirty }, "edit to land")

		ch.push(foreignChange("Hello world", "user-b"))
		n := waitNotify(t, ctrl, NotifyConflict)
		if n.Conflict.IncomingContent != "Hello world" || n.Conflict.AuthorID != "user-b" {
			t.Fatalf("conflict = %+v, want user-b's content", n.Conflict)
		}

		ctrl.Resolve(true)
		waitUntil(t, func() bool { return ctrl.State().LocalContent == "Hello world" }, "accept to apply")
		if st := ctrl.State(); st.Dirty || st.Conflict != nil {
			t.Errorf("state = %+v, want clean with conflict cleared", st)
		}
	})

	t.Run("reject keeps local edits", func(t *testing.T) {
		ctrl, _, ch := newOpenSession(t, slowConfig())

		ctrl.Edit("Hello there")
		waitUntil(t, func() bool { return ctrl.State().Dirty }, "edit to land")

		ch.push(foreignChange("Hello world", "user-b"))
		waitNotify(t, ctrl, NotifyConflict)

		ctrl.Resolve(false)
		waitUntil(t, func() bool { return ctrl.State().Conflict == nil }, "conflict to clear")
		if got := ctrl.State().LocalContent; got != "Hello there" {
			t.Errorf("local content = %q, want the rejected edit kept", got)
		}
	})
}

func TestConflictAttribution_fromPresence(t *testing.T) {
	ctrl, _, ch := newOpenSession(t, slowConfig())

	ch.push(presenceEnvelope("user-b", "bob", models.PresenceJoined))
	waitNotify(t, ctrl, NotifyPresence)

	ctrl.Edit("Hello there")
	waitUntil(t, func() bool { return ctrl.State().Dirty }, "edit to land")

	ch.push(foreignChange("Hello world", "user-b"))
	n := waitNotify(t, ctrl, NotifyConflict)
	if n.Conflict.AuthorName != "bob" {
		t.Errorf("author name = %q, want 'bob' from presence", n.Conflict.AuthorName)
	}
}

func TestConflictAttribution_profileLookupFallback(t *testing.T) {
	store := &mockStore{doc: &models.DocumentSnapshot{ID: "doc-1", Content: "Hello"}}
	ch := newMockChannel()
	profiles := &mockProfiles{profiles: map[string]string{"user-c": "carol"}}
	ctrl := NewController(store, ch, profiles, "user-a", "alice", slowConfig())
	if err := ctrl.Open(context.Background(), "doc-1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer ctrl.Close()

	ctrl.Edit("Hello there")
	waitUntil(t, func() bool { return ctrl.State().Dirty }, "edit to land")

	ch.push(foreignChange("Hello world", "user-c"))

	// First notification carries the unattributed conflict; a second follows
	// once the async lookup resolves.
	first := waitNotify(t, ctrl, NotifyConflict)
	if first.Conflict.AuthorName == "" {
		attributed := waitNotify(t, ctrl, NotifyConflict)
		first = attributed
	}
	if first.Conflict.AuthorName != "carol" {
		t.Errorf("author name = %q, want 'carol' from profile lookup", first.Conflict.AuthorName)
	}
}

func TestPresence_listTracksJoinsAndLeaves(t *testing.T) {
	ctrl, _, ch := newOpenSession(t, slowConfig())

	ch.push(presenceEnvelope("user-b", "bob", models.PresenceJoined))
	n := waitNotify(t, ctrl, NotifyPresence)
	if len(n.Presence) != 1 || n.Presence[0].Username != "bob" {
		t.Errorf("presence = %+v, want bob present", n.Presence)
	}

	ch.push(presenceEnvelope("user-b", "bob", models.PresenceLeft))
	n = waitNotify(t, ctrl, NotifyPresence)
	if len(n.Presence) != 0 {
		t.Errorf("presence = %+v, want empty after leave", n.Presence)
	}
}

func TestPolling_refreshesWhenChannelDown(t *testing.T) {
	cfg := slowConfig()
	cfg.PollInterval = 20 * time.Millisecond
	store := &mockStore{doc: &models.DocumentSnapshot{ID: "doc-1", Content: "Hello"}}
	ch := newMockChannel()
	ch.connectErr = errors.New(errors.ErrChannelUnavailable, "relay down")
	ctrl := NewController(store, ch, nil, "user-a", "alice", cfg)
	if err := ctrl.Open(context.Background(), "doc-1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer ctrl.Close()

	store.mu.Lock()
	store.doc.Content = "Hello from elsewhere"
	store.mu.Unlock()

	waitUntil(t, func() bool { return ctrl.State().LocalContent == "Hello from elsewhere" }, "poll to adopt the remote content")
	if store.gets() < 2 {
		t.Errorf("get calls = %d, want the poller to have fetched", store.gets())
	}
}

func TestSetAutosaveEnabled_suspendsBackgroundSaves(t *testing.T) {
	ctrl, store, _ := newOpenSession(t, testConfig())

	ctrl.SetAutosaveEnabled(false)
	time.Sleep(10 * time.Millisecond)
	ctrl.Edit("not autosaved")
	time.Sleep(100 * time.Millisecond)

	if n := store.edits(); n != 0 {
		t.Errorf("edit calls = %d, want 0 while autosave is off", n)
	}

	// Manual save still works.
	if err := ctrl.Save(context.Background()); err != nil {
		t.Fatalf("manual save failed: %v", err)
	}
	if store.edits() != 1 {
		t.Errorf("edit calls = %d, want 1 after manual save", store.edits())
	}
}

func TestClose_flushesUnsavedEdits(t *testing.T) {
	store := &mockStore{doc: &models.DocumentSnapshot{ID: "doc-1", Content: "Hello"}}
	ch := newMockChannel()
	ctrl := NewController(store, ch, nil, "user-a", "alice", slowConfig())
	if err := ctrl.Open(context.Background(), "doc-1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	ctrl.Edit("unsaved before close")
	waitUntil(t, func() bool { return ctrl.State().Dirty }, "edit to land")

	if err := ctrl.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if store.edits() != 1 {
		t.Errorf("edit calls = %d, want a final flush on close", store.edits())
	}
	ch.mu.Lock()
	closed := ch.closed
	ch.mu.Unlock()
	if !closed {
		t.Error("channel should be closed with the session")
	}

	if err := ctrl.Edit("after close"); !errors.Is(err, errors.ErrSessionClosed) {
		t.Errorf("edit after close: err = %v, want SESSION_CLOSED", err)
	}
}

// blockingStore holds every EditDocument call until its gate is released.
type blockingStore struct {
	mockStore
	gate chan struct{}
}

func (b *blockingStore) EditDocument(_ context.Context, id, userID, content string, kind models.ChangeKind) (*models.DocumentSnapshot, error) {
	b.mu.Lock()
	b.editCalls++
	b.mu.Unlock()
	<-b.gate
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doc.Content = content
	return b.doc.Clone(), nil
}

func TestClose_discardsInFlightCommit(t *testing.T) {
	bs := &blockingStore{
		mockStore: mockStore{doc: &models.DocumentSnapshot{ID: "doc-1", Content: "Hello"}},
		gate:      make(chan struct{}),
	}
	cfg := slowConfig()
	cfg.SaveInterval = 10 * time.Millisecond
	ctrl := NewController(bs, newMockChannel(), nil, "user-a", "alice", cfg)
	if err := ctrl.Open(context.Background(), "doc-1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	ctrl.Edit("stuck in flight")
	waitUntil(t, func() bool { return bs.edits() == 1 }, "commit to start")

	// Close must not wait for the hung store call.
	done := make(chan struct{})
	go func() {
		ctrl.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close blocked on the in-flight commit")
	}

	close(bs.gate)
	time.Sleep(20 * time.Millisecond) // late completion must be a no-op
	if bs.edits() != 1 {
		t.Errorf("edit calls = %d, want no retry after close", bs.edits())
	}
}

// Full collaborative scenario: clean adoption, then concurrent typing, then
// an echoed duplicate, then a genuine divergence resolved both ways.
func TestSession_collaborativeScenario(t *testing.T) {
	ctrl, _, ch := newOpenSession(t, slowConfig())

	// A collaborator saves while this client is idle: adopt silently.
	ch.push(foreignChange("Hello world", "user-b"))
	waitUntil(t, func() bool { return ctrl.State().LocalContent == "Hello world" }, "adoption")

	// This client types ahead.
	ctrl.Edit("Hello world, dear reader")
	waitUntil(t, func() bool { return ctrl.State().Dirty }, "edit to land")

	// A stale duplicate of the already-synced content arrives: no-op.
	ch.push(foreignChange("Hello world", "user-b"))
	time.Sleep(30 * time.Millisecond)
	if st := ctrl.State(); st.Conflict != nil || st.LocalContent != "Hello world, dear reader" {
		t.Fatalf("state = %+v, want duplicate ignored", st)
	}

	// A genuinely divergent save lands: conflict, rejected.
	ch.push(foreignChange("Hello world!", "user-b"))
	waitNotify(t, ctrl, NotifyConflict)
	ctrl.Resolve(false)
	waitUntil(t, func() bool { return ctrl.State().Conflict == nil }, "rejection")
	if got := ctrl.State().LocalContent; got != "Hello world, dear reader" {
		t.Fatalf("local content = %q, want the user's edit to win locally", got)
	}

	// The same divergence returns; this time accept it.
	ch.push(foreignChange("Hello world!", "user-b"))
	waitNotify(t, ctrl, NotifyConflict)
	ctrl.Resolve(true)
	waitUntil(t, func() bool { return ctrl.State().LocalContent == "Hello world!" }, "acceptance")
	if st := ctrl.State(); st.Dirty {
		t.Fatalf("state = %+v, want clean after accepting", st)
	}
}
