package protocol

import "slices"

// Type names a message kind.
type Type string

// Inbound message types.
const (
	TypeSessionCreate       Type = "session.create"
	TypeSessionJoin         Type = "session.join"
	TypeSessionLeave        Type = "session.leave"
	TypeSessionEnd          Type = "session.end"
	TypeSessionConfigUpdate Type = "session.config_update"
	TypeRoleChange          Type = "role.change"
	TypeHeartbeat           Type = "heartbeat"
	TypePresenceUpdate      Type = "presence.update"
	TypeContextAdd          Type = "context.add"
	TypeContextUpdate       Type = "context.update"
	TypeContextRemove       Type = "context.remove"
	TypePromptSubmit        Type = "prompt.submit"
	TypeToolPropose         Type = "tool.propose"
	TypeGateApprove         Type = "gate.approve"
	TypeGateReject          Type = "gate.reject"
	TypeInterrupt           Type = "interrupt"
	TypeForkCreate          Type = "fork.create"
	TypeToolResult          Type = "tool.result"
)

// Outbound message types. interrupt and tool.result are relayed under
// their inbound names.
const (
	TypeSessionCreated       Type = "session.created"
	TypeSessionJoined        Type = "session.joined"
	TypeSessionLeft          Type = "session.left"
	TypeSessionState         Type = "session.state"
	TypeSessionEnded         Type = "session.ended"
	TypeSessionConfigUpdated Type = "session.config_updated"
	TypeRoleChanged          Type = "role.changed"
	TypePresenceChanged      Type = "presence.changed"
	TypeContextAdded         Type = "context.added"
	TypeContextUpdated       Type = "context.updated"
	TypeContextRemoved       Type = "context.removed"
	TypePromptSubmitted      Type = "prompt.submitted"
	TypeToolProposed         Type = "tool.proposed"
	TypeGateRequest          Type = "gate.request"
	TypeGateVote             Type = "gate.vote"
	TypeGateResolved         Type = "gate.resolved"
	TypeToolExecute          Type = "tool.execute"
	TypeForkCreated          Type = "fork.created"
	TypeError                Type = "error"
)

var inbound = []Type{
	TypeSessionCreate, TypeSessionJoin, TypeSessionLeave, TypeSessionEnd,
	TypeSessionConfigUpdate, TypeRoleChange, TypeHeartbeat, TypePresenceUpdate,
	TypeContextAdd, TypeContextUpdate, TypeContextRemove, TypePromptSubmit,
	TypeToolPropose, TypeGateApprove, TypeGateReject, TypeInterrupt,
	TypeForkCreate, TypeToolResult,
}

// InboundTypes lists every type the router accepts.
func InboundTypes() []Type { return slices.Clone(inbound) }

// Inbound reports whether t is a type the router accepts.
func (t Type) Inbound() bool { return slices.Contains(inbound, t) }

func (t Type) String() string { return string(t) }
