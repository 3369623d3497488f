// Package hub runs sessions. Each session is owned by one goroutine that
// applies its messages and clock ticks one at a time, so a session is
// never touched concurrently while different sessions proceed in
// parallel. Routed messages fan out to in-process sinks, the event bus
// and the journal.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/agrathwohl/pvp/internal/events"
	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/protocol"
	"github.com/agrathwohl/pvp/internal/router"
	"github.com/agrathwohl/pvp/internal/session"
	"github.com/agrathwohl/pvp/internal/store"
)

// ErrClosed is returned once the hub has shut down.
var ErrClosed = errors.New("hub closed")

const (
	defaultTickInterval = time.Second
	defaultInboxSize    = 64
	journalTimeout      = 5 * time.Second
)

// Sink receives every routed broadcast of every session, in order per
// session. Deliver is called from the session's goroutine and must not
// block.
type Sink interface {
	Deliver(b router.Broadcast)
}

// Options configures a Hub. Router is required.
type Options struct {
	Router       *router.Router
	TickInterval time.Duration
	// Now is the clock. Defaults to time.Now.
	Now       func() time.Time
	Publisher events.Publisher
	// Journal records broadcasts when set.
	Journal   store.Store
	Sinks     []Sink
	Logger    *slog.Logger
	InboxSize int
}

// Receipt acknowledges a submitted message.
type Receipt struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	// Held is set when the message waits for causal dependencies.
	Held bool `json:"held,omitempty"`
}

// Summary describes a live session.
type Summary struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	ParentID     string `json:"parent_id,omitempty"`
	State        string `json:"state"`
	Participants int    `json:"participants"`
	Seq          uint64 `json:"seq"`
}

// Hub owns the live sessions.
type Hub struct {
	router    *router.Router
	tick      time.Duration
	now       func() time.Time
	publisher events.Publisher
	journal   store.Store
	sinks     []Sink
	logger    *slog.Logger
	inboxSize int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*actor
	closed   bool
}

// New returns a running Hub. Call Close to stop its goroutines.
func New(opts Options) *Hub {
	h := &Hub{
		router:    opts.Router,
		tick:      opts.TickInterval,
		now:       opts.Now,
		publisher: opts.Publisher,
		journal:   opts.Journal,
		sinks:     opts.Sinks,
		logger:    opts.Logger,
		inboxSize: opts.InboxSize,
		sessions:  make(map[string]*actor),
	}
	if h.tick <= 0 {
		h.tick = defaultTickInterval
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.publisher == nil {
		h.publisher = &events.NoopPublisher{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.inboxSize <= 0 {
		h.inboxSize = defaultInboxSize
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	return h
}

// AddSink registers s for broadcasts routed after the call.
func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

// Run blocks until ctx is cancelled and then closes the hub.
func (h *Hub) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-h.ctx.Done():
	}
	h.Close()
	return nil
}

// Close stops every session goroutine and waits for them to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
}

// Submit routes env. session.create starts a new session; every other
// type goes to the goroutine of the session it names. A rejected message
// returns the *model.Error that was also delivered to its sender.
func (h *Hub) Submit(ctx context.Context, env *protocol.Envelope) (Receipt, error) {
	if env.Type == protocol.TypeSessionCreate {
		return h.create(env)
	}
	a, err := h.lookup(env.SessionID)
	if err != nil {
		return Receipt{}, err
	}
	var out router.Outcome
	err = a.do(ctx, func(s *session.Session) {
		out = h.router.Route(s, env, h.now())
		h.dispatch(s.ID, env, out)
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{SessionID: env.SessionID, MessageID: env.ID, Held: out.Held}, out.Err
}

// Ingest adapts Submit to events.SubmitFunc.
func (h *Hub) Ingest(ctx context.Context, env *protocol.Envelope) (events.Ack, error) {
	rc, err := h.Submit(ctx, env)
	return events.Ack{SessionID: rc.SessionID, MessageID: rc.MessageID, Held: rc.Held}, err
}

// Disconnect marks participantID disconnected in sessionID after its
// transport went away.
func (h *Hub) Disconnect(ctx context.Context, sessionID, participantID string) error {
	a, err := h.lookup(sessionID)
	if err != nil {
		return err
	}
	return a.do(ctx, func(s *session.Session) {
		h.dispatch(s.ID, nil, h.router.Disconnect(s, participantID, h.now()))
	})
}

// Sessions lists live sessions ordered by id.
func (h *Hub) Sessions(ctx context.Context) ([]Summary, error) {
	h.mu.RLock()
	actors := make([]*actor, 0, len(h.sessions))
	for _, a := range h.sessions {
		actors = append(actors, a)
	}
	h.mu.RUnlock()

	out := make([]Summary, 0, len(actors))
	for _, a := range actors {
		var sum Summary
		err := a.do(ctx, func(s *session.Session) {
			info := s.Info()
			sum = Summary{
				ID:           info.ID,
				Name:         info.Name,
				ParentID:     info.ParentID,
				State:        info.State,
				Participants: s.Len(),
				Seq:          info.Seq,
			}
		})
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Snapshot returns sessionID as participantID sees it.
func (h *Hub) Snapshot(ctx context.Context, sessionID, participantID string) (protocol.SessionState, error) {
	a, err := h.lookup(sessionID)
	if err != nil {
		return protocol.SessionState{}, err
	}
	var st protocol.SessionState
	var member bool
	err = a.do(ctx, func(s *session.Session) {
		if _, member = s.Participant(participantID); member {
			st = s.Snapshot(participantID)
		}
	})
	if err != nil {
		return protocol.SessionState{}, err
	}
	if !member {
		return protocol.SessionState{}, model.Errorf(model.CodeUnauthorized, "%s is not a participant of session %s", participantID, sessionID)
	}
	return st, nil
}

func (h *Hub) create(env *protocol.Envelope) (Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return Receipt{}, ErrClosed
	}
	if _, exists := h.sessions[env.SessionID]; exists && env.SessionID != "" {
		err := model.Errorf(model.CodeInvalidPayload, "session %s already exists", env.SessionID)
		h.logReject(env, err)
		return Receipt{}, err
	}
	s, out := h.router.Create(env, h.now())
	if s == nil {
		h.logReject(env, out.Err)
		return Receipt{}, out.Err
	}
	h.startLocked(s)
	h.dispatchLocked(s.ID, env, out)
	h.logger.Info("session created", "session_id", s.ID, "created_by", env.SenderID)
	return Receipt{SessionID: s.ID, MessageID: env.ID}, nil
}

func (h *Hub) lookup(id string) (*actor, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrClosed
	}
	a, ok := h.sessions[id]
	if !ok {
		return nil, model.Errorf(model.CodeNotFound, "session %q not found", id)
	}
	return a, nil
}

// startLocked spawns the goroutine owning s. h.mu must be held.
func (h *Hub) startLocked(s *session.Session) {
	a := &actor{
		session: s,
		inbox:   make(chan func(*session.Session), h.inboxSize),
		done:    h.ctx.Done(),
	}
	h.sessions[s.ID] = a
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		a.loop(h)
	}()
}

// register adopts a session branched off by a fork.
func (h *Hub) register(s *session.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if _, exists := h.sessions[s.ID]; exists {
		h.logger.Error("fork id collision", "session_id", s.ID)
		return
	}
	h.startLocked(s)
	h.logger.Info("session forked", "session_id", s.ID, "parent_id", s.ParentID)
}

// dispatch fans out one outcome. It runs on the session's goroutine.
func (h *Hub) dispatch(sessionID string, env *protocol.Envelope, out router.Outcome) {
	if out.Fork != nil {
		h.register(out.Fork)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.dispatchLocked(sessionID, env, out)
}

func (h *Hub) dispatchLocked(sessionID string, env *protocol.Envelope, out router.Outcome) {
	if out.Err != nil && env != nil {
		h.logReject(env, out.Err)
	}
	if len(out.Broadcasts) == 0 {
		return
	}
	for _, b := range out.Broadcasts {
		for _, s := range h.sinks {
			s.Deliver(b)
		}
		if err := events.PublishDelivery(h.ctx, h.publisher, b.Message, b.Recipients); err != nil {
			h.logger.Warn("publish delivery", "session_id", sessionID, "id", b.Message.ID, "err", err)
		}
	}
	h.record(sessionID, out.Broadcasts)
}

// record journals broadcasts. Failures are logged and otherwise ignored.
func (h *Hub) record(sessionID string, bs []router.Broadcast) {
	if h.journal == nil {
		return
	}
	entries, err := JournalEntries(bs)
	if err != nil {
		h.logger.Error("encode journal entries", "session_id", sessionID, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := h.journal.Append(ctx, entries...); err != nil {
		h.logger.Warn("journal append", "session_id", sessionID, "entries", len(entries), "err", err)
	}
}

func (h *Hub) logReject(env *protocol.Envelope, err error) {
	h.logger.Warn("message rejected",
		"session_id", env.SessionID,
		"sender_id", env.SenderID,
		"type", env.Type,
		"code", model.CodeOf(err),
		"err", err)
}

// actor is the goroutine that owns one session.
type actor struct {
	session *session.Session
	inbox   chan func(*session.Session)
	done    <-chan struct{}
}

// do runs fn on the actor's goroutine and waits for it to finish.
func (a *actor) do(ctx context.Context, fn func(*session.Session)) error {
	finished := make(chan struct{})
	job := func(s *session.Session) {
		defer close(finished)
		fn(s)
	}
	select {
	case a.inbox <- job:
	case <-a.done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("submit to session %s: %w", a.session.ID, ctx.Err())
	}
	select {
	case <-finished:
		return nil
	case <-a.done:
		return ErrClosed
	case <-ctx.Done():
		// The job still runs; only the caller stops waiting.
		return fmt.Errorf("wait for session %s: %w", a.session.ID, ctx.Err())
	}
}

func (a *actor) loop(h *Hub) {
	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return
		case job := <-a.inbox:
			job(a.session)
		case <-ticker.C:
			h.dispatch(a.session.ID, nil, h.router.Tick(a.session, h.now()))
		}
	}
}
