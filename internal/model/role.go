package model

// Role is a named bundle of capabilities assigned to a participant.
// The role-to-capability mapping lives in capability.Table, not here.
type Role string

const (
	RoleDriver    Role = "driver"
	RoleNavigator Role = "navigator"
	RoleAdviser   Role = "adviser"
	RoleObserver  Role = "observer"
	RoleApprover  Role = "approver"
	RoleAdmin     Role = "admin"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Capability is a single permission derived from a participant's roles.
type Capability string

const (
	CapApprove            Capability = "approve"
	CapPrompt             Capability = "prompt"
	CapInterrupt          Capability = "interrupt"
	CapFork               Capability = "fork"
	CapAddContext         Capability = "add_context"
	CapManageParticipants Capability = "manage_participants"
	CapEndSession         Capability = "end_session"
)

// AllCapabilities lists every capability the engine knows about.
var AllCapabilities = []Capability{
	CapApprove,
	CapPrompt,
	CapInterrupt,
	CapFork,
	CapAddContext,
	CapManageParticipants,
	CapEndSession,
}

// IsValid checks whether the capability is a known value.
func (c Capability) IsValid() bool {
	switch c {
	case CapApprove, CapPrompt, CapInterrupt, CapFork, CapAddContext, CapManageParticipants, CapEndSession:
		return true
	}
	return false
}

// Presence is a participant's liveness state.
type Presence string

const (
	PresenceActive       Presence = "active"
	PresenceIdle         Presence = "idle"
	PresenceAway         Presence = "away"
	PresenceDisconnected Presence = "disconnected"
)

// String returns the string representation of the presence state.
func (p Presence) String() string {
	return string(p)
}

// IsValid checks whether the presence state is a known value.
func (p Presence) IsValid() bool {
	switch p {
	case PresenceActive, PresenceIdle, PresenceAway, PresenceDisconnected:
		return true
	}
	return false
}

// Unreachable reports whether the participant should be treated as unable
// to respond (away or disconnected).
func (p Presence) Unreachable() bool {
	return p == PresenceAway || p == PresenceDisconnected
}

// ParticipantKind distinguishes humans from autonomous agents.
type ParticipantKind string

const (
	KindHuman ParticipantKind = "human"
	KindAgent ParticipantKind = "agent"
)

// IsValid checks whether the kind is a known value.
func (k ParticipantKind) IsValid() bool {
	switch k {
	case KindHuman, KindAgent:
		return true
	}
	return false
}
