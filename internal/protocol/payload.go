package protocol

import (
	"encoding/json"

	"github.com/agrathwohl/pvp/internal/model"
)

// Payload is implemented by every inbound payload shape.
type Payload interface {
	isPayload()
}

// JoinSpec describes the participant joining or creating a session.
type JoinSpec struct {
	Name  string                `json:"name,omitempty"`
	Kind  model.ParticipantKind `json:"kind,omitempty"`
	Roles []model.Role          `json:"roles,omitempty"`
}

type SessionCreate struct {
	Name        string                    `json:"name,omitempty"`
	Config      *model.SessionConfigPatch `json:"config,omitempty"`
	Participant JoinSpec                  `json:"participant"`
}

type SessionJoin struct {
	JoinSpec
}

// SessionLeave removes ParticipantID, or the sender when it is empty.
type SessionLeave struct {
	ParticipantID string `json:"participant_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type SessionEnd struct {
	Reason string `json:"reason,omitempty"`
}

type SessionConfigUpdate struct {
	Config model.SessionConfigPatch `json:"config"`
}

type RoleChange struct {
	ParticipantID string       `json:"participant_id"`
	Roles         []model.Role `json:"roles"`
}

type Heartbeat struct{}

type PresenceUpdate struct {
	Status model.Presence `json:"status"`
}

// ContextAdd carries inline content or a content reference. A nil
// visibility means public.
type ContextAdd struct {
	Kind       model.ContextKind `json:"kind,omitempty"`
	Name       string            `json:"name,omitempty"`
	Content    string            `json:"content,omitempty"`
	ContentRef string            `json:"content_ref,omitempty"`
	Visibility *model.Visibility `json:"visibility,omitempty"`
}

type ContextUpdate struct {
	ContextID  string `json:"context_id"`
	Content    string `json:"content,omitempty"`
	ContentRef string `json:"content_ref,omitempty"`
}

type ContextRemove struct {
	ContextID string `json:"context_id"`
}

type PromptSubmit struct {
	Content     string   `json:"content"`
	ContextRefs []string `json:"context_refs,omitempty"`
}

// ToolPropose asks for a tool invocation. Quorum overrides the session
// default when the category needs approval.
type ToolPropose struct {
	Tool        string            `json:"tool"`
	Category    string            `json:"category"`
	Arguments   json.RawMessage   `json:"arguments,omitempty"`
	Description string            `json:"description,omitempty"`
	Quorum      *model.QuorumRule `json:"quorum,omitempty"`
}

// GateVote is the payload of both gate.approve and gate.reject.
type GateVote struct {
	GateID  string `json:"gate_id"`
	Comment string `json:"comment,omitempty"`
}

type Interrupt struct {
	Target string `json:"target,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type ForkCreate struct {
	Name string `json:"name,omitempty"`
}

type ToolResult struct {
	ProposalID string `json:"proposal_id"`
	Success    bool   `json:"success"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (SessionCreate) isPayload() {}
func (SessionJoin) isPayload() {}
func (SessionLeave) isPayload() {}
func (SessionEnd) isPayload() {}
func (SessionConfigUpdate) isPayload() {}
func (RoleChange) isPayload() {}
func (Heartbeat) isPayload() {}
func (PresenceUpdate) isPayload() {}
func (ContextAdd) isPayload() {}
func (ContextUpdate) isPayload() {}
func (ContextRemove) isPayload() {}
func (PromptSubmit) isPayload() {}
func (ToolPropose) isPayload() {}
func (GateVote) isPayload() {}
func (Interrupt) isPayload() {}
func (ForkCreate) isPayload() {}
func (ToolResult) isPayload() {}
