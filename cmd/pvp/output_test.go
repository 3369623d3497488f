package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/protocol"
)

func outbound(typ protocol.Type, payload any) *protocol.Envelope {
	return protocol.New("m1", typ, "ses-1", "alice", time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC), payload)
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		env  *protocol.Envelope
		want string
	}{
		{"prompt", outbound(protocol.TypePromptSubmitted, protocol.PromptSubmitted{Content: "fix the tests"}), "fix the tests"},
		{"joined", outbound(protocol.TypeSessionJoined, protocol.SessionJoined{Participant: model.Participant{ID: "bob", Roles: []model.Role{model.RoleNavigator, model.RoleApprover}}}), "bob joined as approver,navigator"},
		{"presence", outbound(protocol.TypePresenceChanged, protocol.PresenceChanged{ParticipantID: "bob", From: model.PresenceActive, To: model.PresenceIdle}), "bob active -> idle"},
		{"vote", outbound(protocol.TypeGateVote, protocol.GateVoteCast{GateID: "gate-1", VoterID: "bob", Decision: model.DecisionApprove, Approvals: 1}), "bob approve gate-1 (1/0)"},
		{"resolved", outbound(protocol.TypeGateResolved, protocol.GateResolved{GateID: "gate-1", State: model.GateApproved}), "gate-1 approved"},
		{"expired", outbound(protocol.TypeGateResolved, protocol.GateResolved{GateID: "gate-1", State: model.GateExpired}), "gate-1 expired"},
		{"fork", outbound(protocol.TypeForkCreated, protocol.ForkCreated{ParentID: "ses-1", ForkID: "ses-2"}), "ses-1 -> ses-2"},
		{"error", outbound(protocol.TypeError, protocol.Error{Code: model.CodeUnauthorized, Message: "missing capability vote"}), "unauthorized: missing capability vote"},
		{"relayed", outbound(protocol.TypeInterrupt, protocol.Interrupt{Reason: "stop"}), `{"reason":"stop"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := summarize(tt.env); got != tt.want {
				t.Errorf("summarize = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintEnvelope(t *testing.T) {
	env := outbound(protocol.TypePromptSubmitted, protocol.PromptSubmitted{Content: "hello"})
	env.Seq = 12

	var out bytes.Buffer
	printEnvelope(&out, env)
	line := out.String()
	for _, want := range []string{"#12", "prompt.submitted", "alice", "hello"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestPrintState(t *testing.T) {
	st := &protocol.SessionState{
		Session: protocol.SessionInfo{ID: "ses-1", Name: "pairing", State: "active", Seq: 3, Config: model.DefaultSessionConfig()},
		Participants: []model.Participant{
			{ID: "alice", Kind: model.KindHuman, Roles: []model.Role{model.RoleAdmin, model.RoleDriver}, Presence: model.PresenceActive},
		},
		Context: []model.ContextItem{
			{ID: "ctx-1", Kind: model.ContextNote, Name: "plan", Visibility: model.Visibility{Participants: []string{"alice"}}},
		},
		Gates: []model.Gate{
			{ID: "gate-1", ProposalID: "prop-1", Quorum: model.AnyOf(1), State: model.GatePending},
			{ID: "gate-0", ProposalID: "prop-0", Quorum: model.AnyOf(1), State: model.GateApproved},
		},
	}

	var out bytes.Buffer
	printStateTo(&out, st)
	got := out.String()
	for _, want := range []string{"ses-1 (pairing)", "seq 3", "alice", "admin,driver", "ctx-1", "visible to alice", "Pending gate gate-1"} {
		if !strings.Contains(got, want) {
			t.Errorf("state output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "gate-0") {
		t.Errorf("resolved gate listed as pending:\n%s", got)
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	addConfigFlags(cmd)
	return cmd
}

func TestConfigPatch(t *testing.T) {
	cmd := newConfigCmd()
	if err := cmd.Flags().Parse([]string{"--quorum", "any:2", "--ordering", "strict", "--max-participants", "4", "--allow-forks=false"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	p, err := configPatch(cmd)
	if err != nil {
		t.Fatalf("configPatch: %v", err)
	}
	if p.DefaultGateQuorum == nil || *p.DefaultGateQuorum != model.AnyOf(2) {
		t.Errorf("quorum = %v", p.DefaultGateQuorum)
	}
	if p.Ordering == nil || *p.Ordering != model.OrderingStrict {
		t.Errorf("ordering = %v", p.Ordering)
	}
	if p.MaxParticipants == nil || *p.MaxParticipants != 4 {
		t.Errorf("max participants = %v", p.MaxParticipants)
	}
	if p.AllowForks == nil || *p.AllowForks {
		t.Errorf("allow forks = %v", p.AllowForks)
	}
	if p.RequireApprovalFor != nil || p.IdleTimeoutSeconds != nil {
		t.Errorf("unset flags leaked into patch: %+v", p)
	}
}

func TestConfigPatch_Invalid(t *testing.T) {
	for _, args := range [][]string{
		{"--quorum", "some"},
		{"--ordering", "random"},
		{"--on-timeout", "wait"},
	} {
		cmd := newConfigCmd()
		if err := cmd.Flags().Parse(args); err != nil {
			t.Fatalf("parse %v: %v", args, err)
		}
		if _, err := configPatch(cmd); err == nil {
			t.Errorf("configPatch(%v) = nil error", args)
		}
	}
}

func TestConfigPatch_Empty(t *testing.T) {
	p, err := configPatch(newConfigCmd())
	if err != nil {
		t.Fatalf("configPatch: %v", err)
	}
	if !p.IsEmpty() {
		t.Errorf("patch = %+v, want empty", p)
	}
}
