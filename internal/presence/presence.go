// Package presence advances participant liveness from heartbeats and
// external clock ticks.
//
//	active --no heartbeat within idle timeout--> idle
//	idle   --no heartbeat within away timeout--> away
//	away   --transport disconnect-------------> disconnected
//
// A fresh heartbeat returns an idle, away or disconnected participant to
// active. Nothing here reads the wall clock; callers pass now.
package presence

import (
	"sort"
	"time"

	"github.com/agrathwohl/pvp/internal/model"
)

// Thresholds are measured from a participant's last heartbeat.
type Thresholds struct {
	Idle time.Duration
	Away time.Duration
}

// ThresholdsFor extracts the presence thresholds from a session config.
func ThresholdsFor(cfg model.SessionConfig) Thresholds {
	return Thresholds{Idle: cfg.IdleTimeout(), Away: cfg.AwayTimeout()}
}

// Transition records a presence change.
type Transition struct {
	ParticipantID string         `json:"participant_id"`
	From          model.Presence `json:"from"`
	To            model.Presence `json:"to"`
}

// Unreachable reports whether the transition made the participant
// unreachable, which is what forces gate re-evaluation.
func (t Transition) Unreachable() bool {
	return t.To.Unreachable() && !t.From.Unreachable()
}

// Heartbeat records liveness at now.
func Heartbeat(p *model.Participant, now time.Time) (Transition, bool) {
	if now.After(p.LastHeartbeat) {
		p.LastHeartbeat = now
	}
	return Set(p, model.PresenceActive)
}

// Set forces a presence state, e.g. from a presence.update message or a
// transport disconnect.
func Set(p *model.Participant, to model.Presence) (Transition, bool) {
	if p.Presence == to {
		return Transition{}, false
	}
	tr := Transition{ParticipantID: p.ID, From: p.Presence, To: to}
	p.Presence = to
	return tr, true
}

// Sweep applies timeout transitions to every participant and returns the
// changes in roster order. Disconnected participants are left alone, and
// away is the furthest a timeout alone can take someone.
func Sweep(roster []*model.Participant, th Thresholds, now time.Time) []Transition {
	var out []Transition
	for _, p := range roster {
		next := timeoutState(p, th, now)
		if next == p.Presence {
			continue
		}
		tr, _ := Set(p, next)
		out = append(out, tr)
	}
	return out
}

func timeoutState(p *model.Participant, th Thresholds, now time.Time) model.Presence {
	silent := now.Sub(p.LastHeartbeat)
	switch p.Presence {
	case model.PresenceActive:
		if th.Away > 0 && silent > th.Away {
			return model.PresenceAway
		}
		if th.Idle > 0 && silent > th.Idle {
			return model.PresenceIdle
		}
	case model.PresenceIdle:
		if th.Away > 0 && silent > th.Away {
			return model.PresenceAway
		}
	}
	return p.Presence
}

// Entry is a read-only roster view of one participant.
type Entry struct {
	ParticipantID string                `json:"participant_id"`
	Name          string                `json:"name,omitempty"`
	Kind          model.ParticipantKind `json:"kind"`
	Roles         []model.Role          `json:"roles"`
	Presence      model.Presence        `json:"presence"`
	LastHeartbeat time.Time             `json:"last_heartbeat"`
	IdleSecs      float64               `json:"idle_secs"`
}

// Roster returns entries sorted by most recent heartbeat first.
func Roster(participants []*model.Participant, now time.Time) []Entry {
	entries := make([]Entry, 0, len(participants))
	for _, p := range participants {
		entries = append(entries, Entry{
			ParticipantID: p.ID,
			Name:          p.Name,
			Kind:          p.Kind,
			Roles:         append([]model.Role(nil), p.Roles...),
			Presence:      p.Presence,
			LastHeartbeat: p.LastHeartbeat,
			IdleSecs:      now.Sub(p.LastHeartbeat).Seconds(),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LastHeartbeat.After(entries[j].LastHeartbeat)
	})
	return entries
}
