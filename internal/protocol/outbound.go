package protocol

import (
	"github.com/agrathwohl/pvp/internal/model"
)

// SessionInfo summarises a session for created/state messages.
type SessionInfo struct {
	ID        string              `json:"id"`
	Name      string              `json:"name,omitempty"`
	ParentID  string              `json:"parent_id,omitempty"`
	State     string              `json:"state"`
	Config    model.SessionConfig `json:"config"`
	Seq       uint64              `json:"seq"`
	CreatedBy string              `json:"created_by,omitempty"`
}

type SessionCreated struct {
	Session SessionInfo `json:"session"`
}

type SessionJoined struct {
	Participant model.Participant `json:"participant"`
}

type SessionLeft struct {
	ParticipantID string `json:"participant_id"`
	RemovedBy     string `json:"removed_by,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// SessionState is the snapshot a joiner receives. Context holds only the
// items visible to the recipient.
type SessionState struct {
	Session      SessionInfo         `json:"session"`
	Participants []model.Participant `json:"participants"`
	Context      []model.ContextItem `json:"context"`
	Gates        []model.Gate        `json:"gates"`
	Proposals    []model.Proposal    `json:"proposals"`
}

type SessionEnded struct {
	EndedBy string `json:"ended_by"`
	Reason  string `json:"reason,omitempty"`
}

type SessionConfigUpdated struct {
	Config model.SessionConfig `json:"config"`
}

type RoleChanged struct {
	ParticipantID string       `json:"participant_id"`
	Old           []model.Role `json:"old"`
	New           []model.Role `json:"new"`
}

type PresenceChanged struct {
	ParticipantID string         `json:"participant_id"`
	From          model.Presence `json:"from"`
	To            model.Presence `json:"to"`
}

type ContextAdded struct {
	Item model.ContextItem `json:"item"`
}

type ContextUpdated struct {
	Item model.ContextItem `json:"item"`
}

type ContextRemoved struct {
	ContextID string `json:"context_id"`
}

type PromptSubmitted struct {
	Content     string   `json:"content"`
	ContextRefs []string `json:"context_refs,omitempty"`
}

type ToolProposed struct {
	Proposal    model.Proposal `json:"proposal"`
	Description string         `json:"description,omitempty"`
}

// GateRequest announces a gate with the voters eligible when it opened.
type GateRequest struct {
	Gate     model.Gate     `json:"gate"`
	Proposal model.Proposal `json:"proposal"`
	Eligible []string       `json:"eligible"`
}

type GateVoteCast struct {
	GateID     string         `json:"gate_id"`
	VoterID    string         `json:"voter_id"`
	Decision   model.Decision `json:"decision"`
	Comment    string         `json:"comment,omitempty"`
	Approvals  int            `json:"approvals"`
	Rejections int            `json:"rejections"`
}

type GateResolved struct {
	GateID     string          `json:"gate_id"`
	ProposalID string          `json:"proposal_id"`
	State      model.GateState `json:"state"`
}

// ToolExecute hands an approved proposal to tool executors.
type ToolExecute struct {
	Proposal model.Proposal `json:"proposal"`
}

type ForkCreated struct {
	ParentID string `json:"parent_id"`
	ForkID   string `json:"fork_id"`
	Name     string `json:"name,omitempty"`
}

// Error is sent to the originator of a rejected message only.
type Error struct {
	Code      model.Code `json:"code"`
	Message   string     `json:"message"`
	InReplyTo string     `json:"in_reply_to,omitempty"`
}
