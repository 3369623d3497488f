package router

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/protocol"
	"github.com/agrathwohl/pvp/internal/session"
)

// seqIDs numbers each kind of id independently.
type seqIDs struct {
	counts map[string]int
}

func (g *seqIDs) next(prefix string) string {
	if g.counts == nil {
		g.counts = make(map[string]int)
	}
	g.counts[prefix]++
	return fmt.Sprintf("%s%d", prefix, g.counts[prefix])
}

func (g *seqIDs) Session() string  { return g.next("ses-") }
func (g *seqIDs) Context() string  { return g.next("ctx-") }
func (g *seqIDs) Gate() string     { return g.next("gate-") }
func (g *seqIDs) Proposal() string { return g.next("prop-") }
func (g *seqIDs) Message() string  { return g.next("msg-") }

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	t   *testing.T
	r   *Router
	s   *session.Session
	now time.Time
	n   int
}

func newRouter(opts Options) *Router {
	if opts.IDs == nil {
		opts.IDs = &seqIDs{}
	}
	return New(opts)
}

// newHarness creates a session owned by alice (driver, admin).
func newHarness(t *testing.T, cfg *model.SessionConfigPatch) *harness {
	t.Helper()
	return newHarnessWith(t, Options{GateExpiry: 10 * time.Minute, CausalHold: 30 * time.Second}, cfg)
}

func newHarnessWith(t *testing.T, opts Options, cfg *model.SessionConfigPatch) *harness {
	t.Helper()
	h := &harness{t: t, r: newRouter(opts), now: t0}
	env := h.envelope("alice", protocol.TypeSessionCreate, protocol.SessionCreate{Name: "pair", Config: cfg})
	env.SessionID = ""
	s, out := h.r.Create(env, h.now)
	if out.Err != nil {
		t.Fatalf("Create: %v", out.Err)
	}
	h.s = s
	return h
}

func (h *harness) envelope(sender string, typ protocol.Type, payload any, deps ...string) *protocol.Envelope {
	h.t.Helper()
	h.n++
	raw, err := json.Marshal(payload)
	if err != nil {
		h.t.Fatalf("marshal payload: %v", err)
	}
	sid := ""
	if h.s != nil {
		sid = h.s.ID
	}
	return &protocol.Envelope{
		ID:        fmt.Sprintf("in-%d", h.n),
		Type:      typ,
		SessionID: sid,
		SenderID:  sender,
		Timestamp: h.now,
		DependsOn: deps,
		Payload:   raw,
	}
}

func (h *harness) send(sender string, typ protocol.Type, payload any, deps ...string) Outcome {
	h.t.Helper()
	return h.r.Route(h.s, h.envelope(sender, typ, payload, deps...), h.now)
}

func (h *harness) ok(sender string, typ protocol.Type, payload any, deps ...string) Outcome {
	h.t.Helper()
	out := h.send(sender, typ, payload, deps...)
	if out.Err != nil {
		h.t.Fatalf("%s from %s: %v", typ, sender, out.Err)
	}
	return out
}

func (h *harness) join(id string, roles ...model.Role) {
	h.t.Helper()
	h.ok(id, protocol.TypeSessionJoin, protocol.SessionJoin{JoinSpec: protocol.JoinSpec{Name: id, Roles: roles}})
}

// promote joins id as an observer and then grants roles through alice.
func (h *harness) promote(id string, roles ...model.Role) {
	h.t.Helper()
	h.join(id)
	h.ok("alice", protocol.TypeRoleChange, protocol.RoleChange{ParticipantID: id, Roles: roles})
}

func (h *harness) participant(id string) *model.Participant {
	h.t.Helper()
	p, ok := h.s.Participant(id)
	if !ok {
		h.t.Fatalf("participant %s missing", id)
	}
	return p
}

func types(out Outcome) []protocol.Type {
	var ts []protocol.Type
	for _, b := range out.Broadcasts {
		ts = append(ts, b.Message.Type)
	}
	return ts
}

func find(t *testing.T, out Outcome, typ protocol.Type) Broadcast {
	t.Helper()
	for _, b := range out.Broadcasts {
		if b.Message.Type == typ {
			return b
		}
	}
	t.Fatalf("no %s broadcast in %v", typ, types(out))
	return Broadcast{}
}

func has(out Outcome, typ protocol.Type) bool {
	for _, b := range out.Broadcasts {
		if b.Message.Type == typ {
			return true
		}
	}
	return false
}

func decode[T any](t *testing.T, b Broadcast) T {
	t.Helper()
	var v T
	if err := b.Message.Unmarshal(&v); err != nil {
		t.Fatalf("decode %s: %v", b.Message.Type, err)
	}
	return v
}

// wantRejected checks out is a single error addressed to sender.
func wantRejected(t *testing.T, out Outcome, sender string, code model.Code) {
	t.Helper()
	if model.CodeOf(out.Err) != code {
		t.Fatalf("Err = %v, want %s", out.Err, code)
	}
	if len(out.Broadcasts) != 1 {
		t.Fatalf("broadcasts = %v, want a single error", types(out))
	}
	b := out.Broadcasts[0]
	if b.Message.Type != protocol.TypeError || len(b.Recipients) != 1 || b.Recipients[0] != sender {
		t.Fatalf("error delivered as %s to %v", b.Message.Type, b.Recipients)
	}
	if b.Message.Seq != 0 {
		t.Fatalf("error carries seq %d", b.Message.Seq)
	}
	if got := decode[protocol.Error](t, b); got.Code != code {
		t.Fatalf("error payload code = %s, want %s", got.Code, code)
	}
}

func ptr[T any](v T) *T { return &v }
