package model

import (
	"slices"
	"time"
)

// Participant is one connected identity in a session. Capabilities are
// never stored here; they are derived from Roles on every query.
type Participant struct {
	ID            string          `json:"id"`
	Name          string          `json:"name,omitempty"`
	Kind          ParticipantKind `json:"kind"`
	Roles         []Role          `json:"roles"`
	Presence      Presence        `json:"presence"`
	LastHeartbeat time.Time       `json:"last_heartbeat"`
	JoinedAt      time.Time       `json:"joined_at"`
}

// HasRole reports whether the participant currently holds role r.
func (p *Participant) HasRole(r Role) bool {
	return slices.Contains(p.Roles, r)
}

// Clone returns a deep copy of the participant.
func (p *Participant) Clone() *Participant {
	cp := *p
	cp.Roles = slices.Clone(p.Roles)
	return &cp
}
