// Package session implements the document session controller: the single
// owner of one open document's lifecycle. It wires the reconciliation
// engine, the autosave and broadcast debounce policies, the change channel,
// and the presence tracker together, and serializes every input through one
// event loop so the document state needs no locking.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/syab/docsync/internal/autosave"
	"github.com/syab/docsync/internal/errors"
	"github.com/syab/docsync/internal/logging"
	"github.com/syab/docsync/internal/models"
	"github.com/syab/docsync/internal/presence"
	"github.com/syab/docsync/internal/reconcile"
)

// Channel is the push transport collaborator for remote change and presence
// envelopes. A session tolerates a channel that never connects; it degrades
// to pull-based refresh.
type Channel interface {
	Connect(ctx context.Context, documentID, userID, username string) error
	Send(event models.EditEvent) error
	Events() <-chan models.ChangeEnvelope
	Alive() bool
	Close() error
}

// ProfileLookup resolves user IDs to display profiles for conflict
// attribution. Lookups are best effort.
type ProfileLookup interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// Config carries the session timing policy.
type Config struct {
	SaveInterval      time.Duration
	BroadcastInterval time.Duration
	PollInterval      time.Duration
}

// DefaultConfig returns the standard timing policy: 2s autosave debounce,
// 600ms broadcast debounce, 5s polling fallback.
func DefaultConfig() Config {
	return Config{
		SaveInterval:      autosave.DefaultSaveInterval,
		BroadcastInterval: autosave.DefaultBroadcastInterval,
		PollInterval:      5 * time.Second,
	}
}

// NotificationType classifies a session notification.
type NotificationType string

const (
	// NotifyState signals that the reconciliation state changed.
	NotifyState NotificationType = "state"
	// NotifyConflict signals a new or newly attributed pending conflict.
	NotifyConflict NotificationType = "conflict"
	// NotifyPresence signals a change to the document's viewer set.
	NotifyPresence NotificationType = "presence"
	// NotifySaveError signals a failed background save.
	NotifySaveError NotificationType = "save_error"
)

// Notification is a session event surfaced to the embedding UI. Delivery is
// best effort: slow consumers lose notifications, never block the loop.
type Notification struct {
	Type     NotificationType
	State    State
	Conflict *models.ConflictRecord
	Presence []models.PresenceEntry
	Err      error
}

// State is the observable session state, published after every loop step
// that changes it.
type State struct {
	Document     *models.DocumentSnapshot
	LocalContent string
	LastSynced   string
	Dirty        bool
	Saving       bool
	Conflict     *models.ConflictRecord
	Presence     []models.PresenceEntry
	ChannelAlive bool
}

// loop input events
type (
	evEdit        struct{ text string }
	evSave        struct{ reply chan error }
	evCommitDone  struct {
		content string
		snap    *models.DocumentSnapshot
		err     error
		reply   chan error
	}
	evAutosaveFire  struct{}
	evBroadcastFire struct{}
	evResolve       struct{ accept bool }
	evSetAutosave   struct{ enabled bool }
	evAttribution   struct{ authorID, name string }
	evSnapshot      struct{ snap *models.DocumentSnapshot }
)

// Controller manages one open document session. All mutating calls are
// enqueued onto the loop; only State and Notifications are safe to call from
// any goroutine at any time.
type Controller struct {
	userID   string
	username string
	cfg      Config

	persistence reconcile.Persistence
	channel     Channel
	profiles    ProfileLookup

	engine  *reconcile.Engine
	tracker *presence.Tracker

	saveTimer      *autosave.Scheduler
	broadcastTimer *autosave.Scheduler

	queue         chan interface{}
	notifications chan Notification
	stopCh        chan struct{}
	wg            sync.WaitGroup

	mu     sync.Mutex
	open   bool
	closed bool
	state  State

	pollInFlight bool
}

// NewController creates a Controller for the given user identity. Open or
// Create must be called before anything else.
func NewController(persistence reconcile.Persistence, channel Channel, profiles ProfileLookup, userID, username string, cfg Config) *Controller {
	c := &Controller{
		userID:        userID,
		username:      username,
		cfg:           cfg,
		persistence:   persistence,
		channel:       channel,
		profiles:      profiles,
		engine:        reconcile.NewEngine(persistence, userID),
		tracker:       presence.NewTracker(userID),
		queue:         make(chan interface{}, 128),
		notifications: make(chan Notification, 64),
		stopCh:        make(chan struct{}),
	}
	c.saveTimer = autosave.New(cfg.SaveInterval, func() { c.enqueue(evAutosaveFire{}) })
	c.broadcastTimer = autosave.New(cfg.BroadcastInterval, func() { c.enqueue(evBroadcastFire{}) })
	return c
}

// Open fetches an existing document, seeds the engine, connects the change
// channel and starts the event loop. A failed channel connect is tolerated:
// the session opens in degraded mode and falls back to polling.
func (c *Controller) Open(ctx context.Context, documentID string) error {
	c.mu.Lock()
	if c.open || c.closed {
		c.mu.Unlock()
		return errors.New(errors.ErrSessionAlreadyOpen, "session already open")
	}
	c.mu.Unlock()

	snap, err := c.persistence.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if err := c.engine.LoadInitial(snap); err != nil {
		return err
	}
	c.start(ctx, snap)
	return nil
}

// Create makes a new document owned by the session user and opens it. The
// first save of the session is recorded as a CREATE change.
func (c *Controller) Create(ctx context.Context, title string) (*models.DocumentSnapshot, error) {
	c.mu.Lock()
	if c.open || c.closed {
		c.mu.Unlock()
		return nil, errors.New(errors.ErrSessionAlreadyOpen, "session already open")
	}
	c.mu.Unlock()

	snap, err := c.persistence.CreateDocument(ctx, title, c.userID)
	if err != nil {
		return nil, err
	}
	if err := c.engine.LoadNew(snap); err != nil {
		return nil, err
	}
	c.start(ctx, snap)
	return snap.Clone(), nil
}

func (c *Controller) start(ctx context.Context, snap *models.DocumentSnapshot) {
	if c.channel != nil {
		if err := c.channel.Connect(ctx, snap.ID, c.userID, c.username); err != nil {
			logging.Warn("change channel unavailable, session degrading to polling",
				map[string]interface{}{
					"document_id": snap.ID,
					"error":       err.Error(),
				})
		}
	}

	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	c.publishState()

	c.wg.Add(1)
	go c.run()

	logging.Info("document session opened",
		map[string]interface{}{
			"document_id": snap.ID,
			"user_id":     c.userID,
		})
}

// Edit records a keystroke flush and re-arms both debounce policies.
func (c *Controller) Edit(text string) error {
	return c.submit(evEdit{text: text})
}

// Save requests an immediate commit, bypassing the autosave debounce, and
// reports its outcome. Returns EMPTY_CONTENT for blank content,
// SAVE_IN_PROGRESS when a commit is already in flight, PERSISTENCE_FAILURE
// when the store call fails.
func (c *Controller) Save(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := c.submit(evSave{reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopCh:
		return errors.New(errors.ErrSessionClosed, "session closed")
	}
}

// Resolve settles the pending conflict: accept adopts the remote content,
// reject keeps the local edits.
func (c *Controller) Resolve(accept bool) error {
	return c.submit(evResolve{accept: accept})
}

// SetAutosaveEnabled toggles the background save policy. Manual Save still
// works while autosave is off.
func (c *Controller) SetAutosaveEnabled(enabled bool) error {
	return c.submit(evSetAutosave{enabled: enabled})
}

// Notifications returns the session notification stream.
func (c *Controller) Notifications() <-chan Notification {
	return c.notifications
}

// State returns a copy of the last published session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneState(c.state)
}

// Close stops the loop and releases the channel. If unsaved local edits
// remain and no commit is in flight, a final synchronous flush is attempted
// so no work is silently lost.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wasOpen := c.open
	c.open = false
	c.mu.Unlock()

	if !wasOpen {
		return nil
	}

	close(c.stopCh)
	c.wg.Wait()
	c.saveTimer.Cancel()
	c.broadcastTimer.Cancel()

	if c.engine.Dirty() && !c.engine.Saving() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := c.engine.CommitLocalEdit(ctx); err != nil && !errors.Is(err, errors.ErrEmptyContent) {
			logging.Error("final flush on close failed", err,
				map[string]interface{}{"user_id": c.userID})
		}
	}

	if c.channel != nil {
		return c.channel.Close()
	}
	return nil
}

func (c *Controller) submit(ev interface{}) error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return errors.New(errors.ErrSessionClosed, "session is not open")
	}
	c.mu.Unlock()

	select {
	case c.queue <- ev:
		return nil
	case <-c.stopCh:
		return errors.New(errors.ErrSessionClosed, "session closed")
	}
}

// enqueue is the fire-and-forget variant used by timer callbacks; a closed
// session just drops the event.
func (c *Controller) enqueue(ev interface{}) {
	select {
	case c.queue <- ev:
	case <-c.stopCh:
	}
}

// run is the session event loop. It is the only goroutine that touches the
// engine and the tracker after startup.
func (c *Controller) run() {
	defer c.wg.Done()

	var chEvents <-chan models.ChangeEnvelope
	if c.channel != nil {
		chEvents = c.channel.Events()
	}

	poll := time.NewTicker(c.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case ev := <-c.queue:
			c.handle(ev)
		case env := <-chEvents:
			c.handleEnvelope(env)
		case <-poll.C:
			c.pollIfDegraded()
		}
	}
}

func (c *Controller) handle(ev interface{}) {
	switch ev := ev.(type) {
	case evEdit:
		c.engine.ApplyLocalEdit(ev.text)
		c.saveTimer.Reset()
		c.broadcastTimer.Reset()
		c.publishState()

	case evSave:
		c.beginCommit(ev.reply)

	case evAutosaveFire:
		c.beginCommit(nil)

	case evBroadcastFire:
		c.broadcastDraft()

	case evCommitDone:
		c.finishCommit(ev)

	case evResolve:
		c.engine.ResolveConflict(ev.accept)
		if ev.accept {
			// Adopted content needs no save; cancel any pending autosave of it.
			c.saveTimer.Cancel()
		}
		c.publishState()

	case evSetAutosave:
		c.saveTimer.SetEnabled(ev.enabled)
		logging.Info("autosave toggled",
			map[string]interface{}{"enabled": ev.enabled})

	case evAttribution:
		if conflict := c.engine.AttributeConflict(ev.authorID, ev.name); conflict != nil {
			c.notify(Notification{Type: NotifyConflict, Conflict: conflict})
			c.publishState()
		}

	case evSnapshot:
		c.pollInFlight = false
		if ev.snap != nil {
			c.handleEnvelope(models.ChangeEnvelope{
				Type:     models.EnvelopeChange,
				Document: ev.snap,
			})
		}
	}
}

// beginCommit captures content on the loop and runs the store call off it.
// reply is non-nil for manual saves and receives the final outcome.
func (c *Controller) beginCommit(reply chan error) {
	content, kind, err := c.engine.BeginCommit()
	if err != nil {
		if reply != nil {
			reply <- err
		} else if !errors.Is(err, errors.ErrSaveInProgress) && !errors.Is(err, errors.ErrEmptyContent) {
			c.notify(Notification{Type: NotifySaveError, Err: err})
		}
		return
	}
	c.publishState()

	docID := c.engine.Snapshot().ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		snap, saveErr := c.persistence.EditDocument(ctx, docID, c.userID, content, kind)
		c.enqueue(evCommitDone{content: content, snap: snap, err: saveErr, reply: reply})
	}()
}

func (c *Controller) finishCommit(ev evCommitDone) {
	err := c.engine.FinishCommit(ev.content, ev.snap, ev.err)
	if ev.reply != nil {
		ev.reply <- err
	}
	if err != nil {
		logging.Error("background save failed", err,
			map[string]interface{}{"user_id": c.userID})
		if ev.reply == nil {
			c.notify(Notification{Type: NotifySaveError, Err: err})
		}
		c.publishState()
		return
	}
	c.publishState()
}

// broadcastDraft sends the current local content over the change channel,
// advisory only. Failures are ignored; the durable path is the commit.
func (c *Controller) broadcastDraft() {
	if c.channel == nil || !c.channel.Alive() {
		return
	}
	snap := c.engine.Snapshot()
	if snap == nil {
		return
	}
	event := models.NewEditEvent(snap.ID, c.userID, c.engine.State().LocalContent, models.ChangeKindUpdate)
	if err := c.channel.Send(event); err != nil {
		logging.Warn("draft broadcast failed",
			map[string]interface{}{"document_id": snap.ID, "error": err.Error()})
	}
}

func (c *Controller) handleEnvelope(env models.ChangeEnvelope) {
	if env.Type == models.EnvelopePresence {
		if env.Presence == nil {
			return
		}
		if _, changed := c.tracker.Apply(*env.Presence); changed {
			c.notify(Notification{Type: NotifyPresence, Presence: c.tracker.List()})
			c.publishState()
		}
		return
	}

	conflict := c.engine.OnRemoteUpdate(env)
	if conflict == nil {
		c.publishState()
		return
	}

	// Attribute from presence first; fall back to an async profile lookup.
	if entry, ok := c.tracker.Lookup(conflict.AuthorID); ok {
		conflict = c.engine.AttributeConflict(conflict.AuthorID, entry.Username)
	} else if c.profiles != nil && conflict.AuthorID != "" {
		go c.lookupAuthor(conflict.AuthorID)
	}

	c.notify(Notification{Type: NotifyConflict, Conflict: conflict})
	c.publishState()
}

func (c *Controller) lookupAuthor(authorID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	profile, err := c.profiles.GetProfile(ctx, authorID)
	if err != nil || profile == nil {
		logging.Warn("conflict author lookup failed",
			map[string]interface{}{"author_id": authorID})
		return
	}
	c.enqueue(evAttribution{authorID: authorID, name: profile.Username})
}

// pollIfDegraded fetches the persisted snapshot when the push channel is
// down, feeding it through the same reconciliation path as channel events.
func (c *Controller) pollIfDegraded() {
	if c.channel != nil && c.channel.Alive() {
		return
	}
	if c.pollInFlight {
		return
	}
	c.pollInFlight = true

	docID := c.engine.Snapshot().ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		snap, err := c.persistence.GetDocument(ctx, docID)
		if err != nil {
			logging.Warn("poll refresh failed",
				map[string]interface{}{"document_id": docID, "error": err.Error()})
			snap = nil
		}
		c.enqueue(evSnapshot{snap: snap})
	}()
}

func (c *Controller) publishState() {
	st := c.buildState()
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
	c.notify(Notification{Type: NotifyState, State: cloneState(st)})
}

func (c *Controller) buildState() State {
	es := c.engine.State()
	alive := false
	if c.channel != nil {
		alive = c.channel.Alive()
	}
	return State{
		Document:     c.engine.Snapshot(),
		LocalContent: es.LocalContent,
		LastSynced:   es.LastSyncedContent,
		Dirty:        es.Dirty(),
		Saving:       c.engine.Saving(),
		Conflict:     es.PendingConflict,
		Presence:     c.tracker.List(),
		ChannelAlive: alive,
	}
}

func (c *Controller) notify(n Notification) {
	select {
	case c.notifications <- n:
	default:
	}
}

func cloneState(st State) State {
	cp := st
	cp.Document = st.Document.Clone()
	cp.Conflict = st.Conflict.Clone()
	cp.Presence = append([]models.PresenceEntry(nil), st.Presence...)
	return cp
}
