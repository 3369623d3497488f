package hub

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/agrathwohl/pvp/internal/idgen"
	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/protocol"
	"github.com/agrathwohl/pvp/internal/router"
	"github.com/agrathwohl/pvp/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSink collects broadcasts.
type recordingSink struct {
	mu  sync.Mutex
	got []router.Broadcast
}

func (s *recordingSink) Deliver(b router.Broadcast) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, b)
}

func (s *recordingSink) find(typ protocol.Type, recipient string) (router.Broadcast, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.got {
		if b.Message.Type == typ && slices.Contains(b.Recipients, recipient) {
			return b, true
		}
	}
	return router.Broadcast{}, false
}

// waitFor polls until a broadcast of typ reaches recipient.
func (s *recordingSink) waitFor(t *testing.T, typ protocol.Type, recipient string) router.Broadcast {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if b, ok := s.find(typ, recipient); ok {
			return b
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s delivered to %s", typ, recipient)
	return router.Broadcast{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// memJournal is an in-memory store.Store.
type memJournal struct {
	mu      sync.Mutex
	entries []*model.JournalEntry
	fail    bool
}

var _ store.Store = (*memJournal)(nil)

func (j *memJournal) Append(_ context.Context, entries ...*model.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail {
		return errors.New("journal offline")
	}
	for _, e := range entries {
		e.ID = int64(len(j.entries) + 1)
		j.entries = append(j.entries, e)
	}
	return nil
}

func (j *memJournal) ListSession(_ context.Context, sessionID string, afterID int64, limit int) ([]*model.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*model.JournalEntry
	for _, e := range j.entries {
		if e.SessionID == sessionID && e.ID > afterID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *memJournal) ListAll(_ context.Context, afterID int64, limit int) ([]*model.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.entries), nil
}

func (j *memJournal) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(j)
}

func (j *memJournal) Close() error { return nil }

func (j *memJournal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

type fixture struct {
	hub     *Hub
	sink    *recordingSink
	pub     *recordingPublisher
	journal *memJournal
	clock   *clock
	n       int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sink:    &recordingSink{},
		pub:     &recordingPublisher{},
		journal: &memJournal{},
		clock:   &clock{now: t0},
	}
	f.hub = New(Options{
		Router:       router.New(router.Options{IDs: idgen.Generator{}, GateExpiry: 10 * time.Minute}),
		TickInterval: 5 * time.Millisecond,
		Now:          f.clock.Now,
		Publisher:    f.pub,
		Journal:      f.journal,
		Sinks:        []Sink{f.sink},
	})
	t.Cleanup(f.hub.Close)
	return f
}

func (f *fixture) envelope(t *testing.T, sessionID, sender string, typ protocol.Type, payload any) *protocol.Envelope {
	t.Helper()
	f.n++
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	id, err := idgen.MessageID()
	if err != nil {
		t.Fatalf("message id: %v", err)
	}
	return &protocol.Envelope{
		ID: id, Type: typ, SessionID: sessionID, SenderID: sender,
		Timestamp: f.clock.Now(), Payload: raw,
	}
}

func (f *fixture) create(t *testing.T) string {
	t.Helper()
	rc, err := f.hub.Submit(context.Background(), f.envelope(t, "", "alice", protocol.TypeSessionCreate, protocol.SessionCreate{Name: "pair"}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rc.SessionID == "" {
		t.Fatal("create returned no session id")
	}
	return rc.SessionID
}

func (f *fixture) submit(t *testing.T, sessionID, sender string, typ protocol.Type, payload any) error {
	t.Helper()
	_, err := f.hub.Submit(context.Background(), f.envelope(t, sessionID, sender, typ, payload))
	return err
}

func TestSubmit_CreateAndJoinFanOut(t *testing.T) {
	f := newFixture(t)
	sid := f.create(t)

	f.sink.waitFor(t, protocol.TypeSessionCreated, "alice")
	if err := f.submit(t, sid, "bob", protocol.TypeSessionJoin, protocol.SessionJoin{JoinSpec: protocol.JoinSpec{Name: "Bob"}}); err != nil {
		t.Fatalf("join: %v", err)
	}
	joined := f.sink.waitFor(t, protocol.TypeSessionJoined, "bob")
	if !slices.Contains(joined.Recipients, "alice") {
		t.Errorf("session.joined recipients = %v", joined.Recipients)
	}
	state := f.sink.waitFor(t, protocol.TypeSessionState, "bob")
	if len(state.Recipients) != 1 {
		t.Errorf("session.state should reach only the joiner: %v", state.Recipients)
	}

	if f.journal.len() < 4 {
		t.Errorf("journal has %d entries, want at least 4", f.journal.len())
	}
	f.pub.mu.Lock()
	topics := slices.Clone(f.pub.topics)
	f.pub.mu.Unlock()
	if !slices.Contains(topics, "pvp.session."+sid+".session.joined") {
		t.Errorf("published topics = %v", topics)
	}
}

func TestSubmit_Rejections(t *testing.T) {
	f := newFixture(t)
	sid := f.create(t)

	err := f.submit(t, "ses-missing", "alice", protocol.TypeHeartbeat, protocol.Heartbeat{})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown session: err = %v", err)
	}

	dup := f.envelope(t, sid, "carol", protocol.TypeSessionCreate, protocol.SessionCreate{})
	if _, err := f.hub.Submit(context.Background(), dup); !errors.Is(err, model.ErrInvalidPayload) {
		t.Errorf("duplicate create: err = %v", err)
	}

	err = f.submit(t, sid, "mallory", protocol.TypeHeartbeat, protocol.Heartbeat{})
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("non-member: err = %v", err)
	}
	b := f.sink.waitFor(t, protocol.TypeError, "mallory")
	if len(b.Recipients) != 1 {
		t.Errorf("error recipients = %v", b.Recipients)
	}
}

func TestIngest_Acks(t *testing.T) {
	f := newFixture(t)
	create := f.envelope(t, "", "alice", protocol.TypeSessionCreate, protocol.SessionCreate{Name: "pair"})
	ack, err := f.hub.Ingest(context.Background(), create)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ack.SessionID == "" || ack.MessageID != create.ID || ack.Code != "" {
		t.Errorf("create ack = %+v", ack)
	}

	_, err = f.hub.Ingest(context.Background(), f.envelope(t, ack.SessionID, "mallory", protocol.TypeHeartbeat, protocol.Heartbeat{}))
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("non-member: err = %v", err)
	}
}

func TestTick_PresenceSweep(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	f.clock.Advance(90 * time.Second)
	b := f.sink.waitFor(t, protocol.TypePresenceChanged, "alice")
	var pc protocol.PresenceChanged
	if err := b.Message.Unmarshal(&pc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if pc.ParticipantID != "alice" || pc.To != model.PresenceIdle {
		t.Errorf("presence.changed = %+v", pc)
	}
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t)
	sid := f.create(t)
	if err := f.submit(t, sid, "bob", protocol.TypeSessionJoin, protocol.SessionJoin{}); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := f.hub.Disconnect(context.Background(), sid, "bob"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	b := f.sink.waitFor(t, protocol.TypePresenceChanged, "alice")
	var pc protocol.PresenceChanged
	if err := b.Message.Unmarshal(&pc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if pc.ParticipantID != "bob" || pc.To != model.PresenceDisconnected {
		t.Errorf("presence.changed = %+v", pc)
	}

	if err := f.hub.Disconnect(context.Background(), "ses-missing", "bob"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown session: err = %v", err)
	}
}

func TestFork_RegistersSession(t *testing.T) {
	f := newFixture(t)
	sid := f.create(t)

	if err := f.submit(t, sid, "alice", protocol.TypeForkCreate, protocol.ForkCreate{Name: "experiment"}); err != nil {
		t.Fatalf("fork: %v", err)
	}
	f.sink.waitFor(t, protocol.TypeForkCreated, "alice")

	sessions, err := f.hub.Sessions(context.Background())
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %+v", sessions)
	}
	var fork Summary
	for _, s := range sessions {
		if s.ID != sid {
			fork = s
		}
	}
	if fork.ParentID != sid || fork.Participants != 1 {
		t.Errorf("fork summary = %+v", fork)
	}

	// The fork accepts messages of its own.
	if err := f.submit(t, fork.ID, "alice", protocol.TypeHeartbeat, protocol.Heartbeat{}); err != nil {
		t.Errorf("heartbeat on fork: %v", err)
	}
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)
	sid := f.create(t)

	st, err := f.hub.Snapshot(context.Background(), sid, "alice")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if st.Session.ID != sid || len(st.Participants) != 1 {
		t.Errorf("snapshot = %+v", st)
	}
	if _, err := f.hub.Snapshot(context.Background(), sid, "bob"); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("non-member snapshot: err = %v", err)
	}
}

func TestJournalFailureDoesNotBlockRouting(t *testing.T) {
	f := newFixture(t)
	f.journal.fail = true
	sid := f.create(t)
	if err := f.submit(t, sid, "bob", protocol.TypeSessionJoin, protocol.SessionJoin{}); err != nil {
		t.Fatalf("join with failing journal: %v", err)
	}
	f.sink.waitFor(t, protocol.TypeSessionJoined, "bob")
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	sid := f.create(t)
	f.hub.Close()
	f.hub.Close()

	if err := f.submit(t, sid, "alice", protocol.TypeHeartbeat, protocol.Heartbeat{}); !errors.Is(err, ErrClosed) {
		t.Errorf("submit after close: err = %v", err)
	}
	_, err := f.hub.Submit(context.Background(), f.envelope(t, "", "alice", protocol.TypeSessionCreate, protocol.SessionCreate{}))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("create after close: err = %v", err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.hub.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestSubmit_ContextCancelled(t *testing.T) {
	f := newFixture(t)
	sid := f.create(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Either the job was queued before the cancel was observed or the
	// caller gave up; both are fine as long as nothing hangs.
	_, err := f.hub.Submit(ctx, f.envelope(t, sid, "alice", protocol.TypeHeartbeat, protocol.Heartbeat{}))
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestJournalEntries(t *testing.T) {
	msg := protocol.New("m1", protocol.TypeGateResolved, "ses-1", protocol.SystemSender, t0,
		protocol.GateResolved{GateID: "gate-1", State: model.GateExpired})
	msg.Seq = 7
	entries, err := JournalEntries([]router.Broadcast{{Message: msg, Recipients: []string{"alice"}}})
	if err != nil {
		t.Fatalf("JournalEntries: %v", err)
	}
	e := entries[0]
	if e.MessageID != "m1" || e.Seq != 7 || e.Type != "gate.resolved" || e.SenderID != protocol.SystemSender {
		t.Errorf("entry = %+v", e)
	}
	var back protocol.Envelope
	if err := json.Unmarshal(e.Envelope, &back); err != nil || back.ID != "m1" {
		t.Errorf("envelope round trip = %+v, %v", back, err)
	}
}
