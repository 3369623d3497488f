package model

import (
	"encoding/json"
	"maps"
	"time"
)

// GateState is the lifecycle state of a gate.
type GateState string

const (
	GatePending  GateState = "pending"
	GateApproved GateState = "approved"
	GateRejected GateState = "rejected"
	GateExpired  GateState = "expired"
)

// Terminal reports whether the state is final.
func (s GateState) Terminal() bool {
	return s != GatePending
}

// Decision is a single vote.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// IsValid checks whether the decision is a known value.
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Gate is an approval checkpoint for one proposal. Once State is terminal
// the Votes ledger is frozen.
type Gate struct {
	ID         string              `json:"id"`
	ProposalID string              `json:"proposal_id"`
	RequestMsg string              `json:"request_message_id"`
	Quorum     QuorumRule          `json:"quorum"`
	Votes      map[string]Decision `json:"votes"`
	State      GateState           `json:"state"`
	CreatedAt  time.Time           `json:"created_at"`
	ResolvedAt *time.Time          `json:"resolved_at,omitempty"`
}

// Clone returns a deep copy of the gate.
func (g *Gate) Clone() *Gate {
	cp := *g
	cp.Votes = maps.Clone(g.Votes)
	if g.ResolvedAt != nil {
		t := *g.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// ProposalStatus tracks a tool proposal through approval and execution.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
	ProposalExpired  ProposalStatus = "expired"
	ProposalExecuted ProposalStatus = "executed"
)

// Proposal is a proposed tool action.
type Proposal struct {
	ID         string          `json:"id"`
	MessageID  string          `json:"message_id"`
	ProposedBy string          `json:"proposed_by"`
	Tool       string          `json:"tool"`
	Category   string          `json:"category"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	GateID     string          `json:"gate_id,omitempty"`
	Status     ProposalStatus  `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ProposalStatusFor maps a terminal gate state onto the proposal status.
func ProposalStatusFor(s GateState) ProposalStatus {
	switch s {
	case GateApproved:
		return ProposalApproved
	case GateRejected:
		return ProposalRejected
	case GateExpired:
		return ProposalExpired
	}
	return ProposalPending
}
