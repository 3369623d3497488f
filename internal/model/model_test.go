package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseQuorumRule(t *testing.T) {
	tests := []struct {
		in      string
		want    QuorumRule
		wantErr bool
	}{
		{"any", AnyOf(1), false},
		{"any:3", AnyOf(3), false},
		{" all ", All(), false},
		{"majority", Majority(), false},
		{"any:0", QuorumRule{}, true},
		{"any:x", QuorumRule{}, true},
		{"all:2", QuorumRule{}, true},
		{"most", QuorumRule{}, true},
		{"", QuorumRule{}, true},
	}
	for _, tt := range tests {
		got, err := ParseQuorumRule(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseQuorumRule(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseQuorumRule(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestQuorumRule_String(t *testing.T) {
	tests := []struct {
		q    QuorumRule
		want string
	}{
		{AnyOf(1), "any"},
		{AnyOf(2), "any:2"},
		{All(), "all"},
		{Majority(), "majority"},
	}
	for _, tt := range tests {
		if got := tt.q.String(); got != tt.want {
			t.Errorf("%+v.String() = %q, want %q", tt.q, got, tt.want)
		}
	}
}

func TestQuorumRule_JSONText(t *testing.T) {
	b, err := json.Marshal(struct {
		Q QuorumRule `json:"q"`
	}{AnyOf(2)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"q":"any:2"}` {
		t.Errorf("marshal = %s", b)
	}

	var out struct {
		Q QuorumRule `json:"q"`
	}
	if err := json.Unmarshal([]byte(`{"q":"majority"}`), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Q != Majority() {
		t.Errorf("unmarshal = %+v", out.Q)
	}
	if err := json.Unmarshal([]byte(`{"q":"none"}`), &out); err == nil {
		t.Error("unknown quorum kind accepted")
	}
}

func TestEnums_IsValid(t *testing.T) {
	tests := []struct {
		name string
		got  bool
		want bool
	}{
		{"ordering causal", OrderingCausal.IsValid(), true},
		{"ordering strict", OrderingStrict.IsValid(), true},
		{"ordering empty", OrderingMode("").IsValid(), false},
		{"timeout skip", TimeoutSkip.IsValid(), true},
		{"timeout block", TimeoutBlock.IsValid(), true},
		{"timeout other", TimeoutPolicy("wait").IsValid(), false},
		{"capability approve", CapApprove.IsValid(), true},
		{"capability other", Capability("admin").IsValid(), false},
		{"presence away", PresenceAway.IsValid(), true},
		{"presence other", Presence("busy").IsValid(), false},
		{"kind agent", KindAgent.IsValid(), true},
		{"kind other", ParticipantKind("bot").IsValid(), false},
		{"context note", ContextNote.IsValid(), true},
		{"context other", ContextKind("image").IsValid(), false},
		{"decision reject", DecisionReject.IsValid(), true},
		{"decision other", Decision("abstain").IsValid(), false},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: IsValid = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestAllCapabilitiesValid(t *testing.T) {
	for _, c := range AllCapabilities {
		if !c.IsValid() {
			t.Errorf("capability %q listed but not valid", c)
		}
	}
}

func TestPresence_Unreachable(t *testing.T) {
	for p, want := range map[Presence]bool{
		PresenceActive:       false,
		PresenceIdle:         false,
		PresenceAway:         true,
		PresenceDisconnected: true,
	} {
		if got := p.Unreachable(); got != want {
			t.Errorf("%s.Unreachable() = %v, want %v", p, got, want)
		}
	}
}

func TestProposalStatusFor(t *testing.T) {
	for s, want := range map[GateState]ProposalStatus{
		GatePending:  ProposalPending,
		GateApproved: ProposalApproved,
		GateRejected: ProposalRejected,
		GateExpired:  ProposalExpired,
	} {
		if got := ProposalStatusFor(s); got != want {
			t.Errorf("ProposalStatusFor(%s) = %s, want %s", s, got, want)
		}
		if s.Terminal() == (s == GatePending) {
			t.Errorf("%s.Terminal() = %v", s, s.Terminal())
		}
	}
}

func TestClonesAreDeep(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	g := &Gate{ID: "gate-1", Votes: map[string]Decision{"alice": DecisionApprove}, ResolvedAt: &now}
	gc := g.Clone()
	gc.Votes["bob"] = DecisionReject
	*gc.ResolvedAt = now.Add(time.Hour)
	if len(g.Votes) != 1 || !g.ResolvedAt.Equal(now) {
		t.Error("Gate.Clone shares state with the original")
	}

	p := &Participant{ID: "alice", Roles: []Role{RoleDriver}}
	pc := p.Clone()
	pc.Roles[0] = RoleObserver
	if !p.HasRole(RoleDriver) || p.HasRole(RoleObserver) {
		t.Error("Participant.Clone shares roles with the original")
	}

	c := &ContextItem{ID: "ctx-1", Visibility: PrivateTo("alice")}
	cc := c.Clone()
	cc.Visibility.Participants[0] = "mallory"
	if c.Visibility.Participants[0] != "alice" {
		t.Error("ContextItem.Clone shares visibility with the original")
	}
}

func TestVisibilityConstructors(t *testing.T) {
	if v := PublicVisibility(); !v.Public || len(v.Participants) != 0 {
		t.Errorf("PublicVisibility = %+v", v)
	}
	ids := []string{"alice", "bob"}
	v := PrivateTo(ids...)
	ids[0] = "mallory"
	if v.Public || v.Participants[0] != "alice" {
		t.Errorf("PrivateTo = %+v", v)
	}
}
