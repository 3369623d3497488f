package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/agrathwohl/pvp/internal/model"
)

func env(typ Type, payload string) *Envelope {
	return &Envelope{
		ID:        "m1",
		Type:      typ,
		SessionID: "ses-1",
		SenderID:  "alice",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:   json.RawMessage(payload),
	}
}

func TestDecode_TaggedPayloads(t *testing.T) {
	for _, tc := range []struct {
		typ     Type
		payload string
		want    Payload
	}{
		{TypeSessionJoin, `{"name":"Alice","kind":"human","roles":["navigator"]}`,
			SessionJoin{JoinSpec{Name: "Alice", Kind: model.KindHuman, Roles: []model.Role{model.RoleNavigator}}}},
		{TypeHeartbeat, ``, Heartbeat{}},
		{TypePresenceUpdate, `{"status":"away"}`, PresenceUpdate{Status: model.PresenceAway}},
		{TypeGateApprove, `{"gate_id":"gate-1"}`, GateVote{GateID: "gate-1"}},
		{TypeGateReject, `{"gate_id":"gate-1","comment":"no"}`, GateVote{GateID: "gate-1", Comment: "no"}},
		{TypeToolPropose, `{"tool":"bash","category":"shell_execute","quorum":"any:2"}`,
			ToolPropose{Tool: "bash", Category: "shell_execute", Quorum: &model.QuorumRule{Kind: model.QuorumAny, Count: 2}}},
		{TypeContextAdd, `{"content":"hi","visibility":{"participants":["bob"]}}`,
			ContextAdd{Content: "hi", Visibility: &model.Visibility{Participants: []string{"bob"}}}},
		{TypeToolResult, `{"proposal_id":"prop-1","success":true}`, ToolResult{ProposalID: "prop-1", Success: true}},
	} {
		t.Run(string(tc.typ), func(t *testing.T) {
			got, err := Decode(env(tc.typ, tc.payload))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("payload mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	for _, tc := range []struct {
		name string
		mut  func(*Envelope)
	}{
		{"missing id", func(e *Envelope) { e.ID = "" }},
		{"unknown type", func(e *Envelope) { e.Type = "tool.explode" }},
		{"outbound type", func(e *Envelope) { e.Type = TypeGateResolved }},
		{"missing sender", func(e *Envelope) { e.SenderID = "" }},
		{"reserved sender", func(e *Envelope) { e.SenderID = SystemSender }},
		{"missing session", func(e *Envelope) { e.SessionID = "" }},
		{"bad json", func(e *Envelope) { e.Payload = json.RawMessage(`{"status":`) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := env(TypePresenceUpdate, `{"status":"idle"}`)
			tc.mut(e)
			if _, err := Decode(e); !errors.Is(err, model.ErrInvalidPayload) {
				t.Fatalf("Decode = %v, want invalid_payload", err)
			}
		})
	}
}

func TestDecode_CreateNeedsNoSession(t *testing.T) {
	e := env(TypeSessionCreate, `{"name":"pair","config":{"ordering":"strict"}}`)
	e.SessionID = ""
	p, err := Decode(e)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	sc := p.(SessionCreate)
	if sc.Config == nil || sc.Config.Ordering == nil || *sc.Config.Ordering != model.OrderingStrict {
		t.Fatalf("config patch = %+v", sc.Config)
	}
}

func TestNew_EncodesPayload(t *testing.T) {
	now := time.Now().UTC()
	e := New("m2", TypeGateResolved, "ses-1", SystemSender, now, GateResolved{GateID: "g", ProposalID: "p", State: model.GateExpired})
	var got GateResolved
	if err := e.Unmarshal(&got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.State != model.GateExpired || got.GateID != "g" {
		t.Fatalf("round trip = %+v", got)
	}

	cp := e.Clone()
	cp.Payload[0] = 'x'
	if e.Payload[0] == 'x' {
		t.Fatal("Clone shares payload bytes")
	}
}
