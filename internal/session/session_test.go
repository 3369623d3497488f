package session

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/agrathwohl/pvp/internal/gate"
	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/sharedctx"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSession(t *testing.T, mut func(*model.SessionConfig)) *Session {
	t.Helper()
	cfg := model.DefaultSessionConfig()
	if mut != nil {
		mut(&cfg)
	}
	s, err := New("ses-1", "pair", cfg, t0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func participant(id string, joined time.Time, roles ...model.Role) *model.Participant {
	return &model.Participant{ID: id, Kind: model.KindHuman, Roles: roles, Presence: model.PresenceActive, JoinedAt: joined, LastHeartbeat: joined}
}

func TestNew_ValidatesConfig(t *testing.T) {
	cfg := model.DefaultSessionConfig()
	cfg.MaxParticipants = 0
	_, err := New("ses-1", "", cfg, t0)
	if model.CodeOf(err) != model.CodeInvalidPayload {
		t.Fatalf("New = %v, want invalid_payload", err)
	}
}

func TestLifecycle(t *testing.T) {
	s := newSession(t, nil)
	if s.State() != StateCreated {
		t.Fatalf("state = %s", s.State())
	}
	if err := s.Join(participant("alice", t0, model.RoleDriver)); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if s.State() != StateActive {
		t.Fatalf("state after join = %s", s.State())
	}
	if err := s.End(t0.Add(time.Minute)); err != nil {
		t.Fatalf("End: %v", err)
	}

	for name, err := range map[string]error{
		"join":    s.Join(participant("bob", t0)),
		"end":     s.End(t0),
		"context": s.AddContext(&model.ContextItem{ID: "ctx-1"}),
		"config":  s.SetConfig(model.DefaultSessionConfig()),
	} {
		if !errors.Is(err, model.ErrSessionEnded) {
			t.Errorf("%s after end = %v, want session_ended", name, err)
		}
	}
	if _, err := s.Fork("ses-2", "", "alice", t0); !errors.Is(err, model.ErrSessionEnded) {
		t.Errorf("fork after end = %v", err)
	}
}

func TestJoin_Capacity(t *testing.T) {
	s := newSession(t, func(c *model.SessionConfig) { c.MaxParticipants = 2 })
	for _, id := range []string{"a", "b"} {
		if err := s.Join(participant(id, t0)); err != nil {
			t.Fatalf("Join(%s): %v", id, err)
		}
	}
	if err := s.Join(participant("c", t0)); !errors.Is(err, model.ErrCapacityExceeded) {
		t.Fatalf("third join = %v, want capacity_exceeded", err)
	}
	if s.Len() != 2 {
		t.Fatalf("roster size = %d", s.Len())
	}
}

func TestJoin_Duplicate(t *testing.T) {
	s := newSession(t, nil)
	_ = s.Join(participant("a", t0))
	if err := s.Join(participant("a", t0)); !errors.Is(err, model.ErrInvalidPayload) {
		t.Fatalf("duplicate join = %v, want invalid_payload", err)
	}
}

func TestSetConfig_RejectsShrinkBelowRoster(t *testing.T) {
	s := newSession(t, nil)
	_ = s.Join(participant("a", t0))
	_ = s.Join(participant("b", t0))
	cfg := s.Config()
	cfg.MaxParticipants = 1
	if err := s.SetConfig(cfg); !errors.Is(err, model.ErrInvalidPayload) {
		t.Fatalf("SetConfig = %v", err)
	}
	if s.Config().MaxParticipants != 10 {
		t.Fatal("rejected config was applied")
	}
}

func TestSeq_Monotonic(t *testing.T) {
	s := newSession(t, nil)
	var last uint64
	for i := 0; i < 5; i++ {
		n := s.NextSeq()
		if n <= last {
			t.Fatalf("seq %d after %d", n, last)
		}
		last = n
	}
	if s.Seq() != 5 {
		t.Fatalf("Seq = %d", s.Seq())
	}
}

func TestParticipants_JoinOrder(t *testing.T) {
	s := newSession(t, nil)
	_ = s.Join(participant("zed", t0))
	_ = s.Join(participant("amy", t0.Add(time.Second)))
	_ = s.Join(participant("bob", t0))
	if diff := cmp.Diff([]string{"bob", "zed", "amy"}, s.ParticipantIDs()); diff != "" {
		t.Fatalf("order (-want +got):\n%s", diff)
	}
}

func TestFork_IsIndependent(t *testing.T) {
	s := newSession(t, nil)
	_ = s.Join(participant("alice", t0, model.RoleDriver))
	item, err := sharedctx.Create("ctx-1", sharedctx.Payload{Content: "v1", Visibility: model.PublicVisibility()}, "alice", t0)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.AddContext(item)
	g := gate.New("gate-1", "prop-1", "m1", model.AnyOf(1), t0)
	_ = s.AddProposal(&model.Proposal{ID: "prop-1", Status: model.ProposalPending}, g)

	f, err := s.Fork("ses-2", "branch", "alice", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if f.ParentID != "ses-1" || f.State() != StateActive || f.Seq() != 0 {
		t.Fatalf("fork = parent %q state %s seq %d", f.ParentID, f.State(), f.Seq())
	}
	if len(f.Gates()) != 0 || len(f.Proposals()) != 0 {
		t.Fatal("fork carried gates or proposals")
	}

	fi, _ := f.ContextItem("ctx-1")
	sharedctx.UpdateContent(fi, "v2", t0.Add(2*time.Minute))
	fp, _ := f.Participant("alice")
	fp.Roles[0] = model.RoleObserver
	_ = f.RemoveContext("ctx-1")

	pi, err := s.ContextItem("ctx-1")
	if err != nil {
		t.Fatalf("parent lost context: %v", err)
	}
	if pi.Content != "v1" || pi.Hash != sharedctx.Hash([]byte("v1")) {
		t.Fatalf("parent context mutated: %+v", pi)
	}
	pp, _ := s.Participant("alice")
	if !pp.HasRole(model.RoleDriver) {
		t.Fatal("parent roles mutated through fork")
	}
	if diff := cmp.Diff([]string{"ses-2"}, s.Forks()); diff != "" {
		t.Fatalf("forks (-want +got):\n%s", diff)
	}
}

func TestSnapshot_FiltersPrivateContext(t *testing.T) {
	s := newSession(t, nil)
	for _, id := range []string{"alice", "bob", "carol"} {
		_ = s.Join(participant(id, t0))
	}
	pub, _ := sharedctx.Create("ctx-pub", sharedctx.Payload{Content: "all", Visibility: model.PublicVisibility()}, "alice", t0)
	priv, _ := sharedctx.Create("ctx-priv", sharedctx.Payload{Content: "secret", Visibility: model.PrivateTo("bob")}, "alice", t0)
	_ = s.AddContext(pub)
	_ = s.AddContext(priv)

	for _, tc := range []struct {
		viewer string
		want   int
	}{
		{"alice", 2},
		{"bob", 2},
		{"carol", 1},
	} {
		if got := len(s.Snapshot(tc.viewer).Context); got != tc.want {
			t.Errorf("%s sees %d items, want %d", tc.viewer, got, tc.want)
		}
	}
	st := s.Snapshot("carol")
	if len(st.Participants) != 3 || st.Session.ID != "ses-1" {
		t.Fatalf("snapshot = %+v", st.Session)
	}
}
