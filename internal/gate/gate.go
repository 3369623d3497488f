// Package gate implements the approval-quorum state machine for proposals.
//
// A gate moves pending -> approved | rejected | expired exactly once. The
// tally is re-run after every vote and after every change to the set of
// eligible voters (presence transitions, role changes, departures).
package gate

import (
	"time"

	"github.com/agrathwohl/pvp/internal/capability"
	"github.com/agrathwohl/pvp/internal/model"
)

// New opens a pending gate.
func New(id, proposalID, requestMsgID string, quorum model.QuorumRule, now time.Time) *model.Gate {
	return &model.Gate{
		ID:         id,
		ProposalID: proposalID,
		RequestMsg: requestMsgID,
		Quorum:     quorum,
		Votes:      make(map[string]model.Decision),
		State:      model.GatePending,
		CreatedAt:  now,
	}
}

// Eligible returns the ids of participants who may decide a gate: they
// hold the approve capability and, under the skip policy, are reachable.
func Eligible(roster []*model.Participant, table capability.Table, policy model.TimeoutPolicy) map[string]bool {
	out := make(map[string]bool, len(roster))
	for _, p := range roster {
		if !table.HasCapability(p, model.CapApprove) {
			continue
		}
		if excluded(p.Presence, policy) {
			continue
		}
		out[p.ID] = true
	}
	return out
}

func excluded(presence model.Presence, policy model.TimeoutPolicy) bool {
	switch policy {
	case model.TimeoutSkip:
		return presence.Unreachable()
	case model.TimeoutBlock:
		return false
	}
	return false
}

// RecordVote applies a vote and re-evaluates the gate. canApprove is the
// voter's current approve capability. It reports whether the vote resolved
// the gate. A failed vote leaves the gate untouched.
func RecordVote(g *model.Gate, voterID string, canApprove bool, d model.Decision, eligible map[string]bool, now time.Time) (bool, error) {
	if !canApprove {
		return false, model.Errorf(model.CodeUnauthorized, "participant %s lacks approve capability", voterID)
	}
	if g.State.Terminal() {
		return false, model.Errorf(model.CodeGateResolved, "gate %s is already %s", g.ID, g.State)
	}
	if !d.IsValid() {
		return false, model.Errorf(model.CodeInvalidPayload, "unknown decision %q", d)
	}
	g.Votes[voterID] = d
	return Evaluate(g, eligible, now), nil
}

// Tally summarises a gate's ledger against an electorate.
type Tally struct {
	Approvals   int
	Rejections  int
	Outstanding int // eligible voters with no recorded vote
	Denominator int // eligible voters plus anyone who has voted
}

// Count tallies the ledger. Votes from participants who are no longer
// eligible still count.
func Count(g *model.Gate, eligible map[string]bool) Tally {
	var t Tally
	for id, d := range g.Votes {
		switch d {
		case model.DecisionApprove:
			t.Approvals++
		case model.DecisionReject:
			t.Rejections++
		}
		if !eligible[id] {
			t.Denominator++
		}
	}
	for id := range eligible {
		t.Denominator++
		if _, voted := g.Votes[id]; !voted {
			t.Outstanding++
		}
	}
	return t
}

// Outcome computes the state the ledger implies without mutating g.
func Outcome(g *model.Gate, eligible map[string]bool) model.GateState {
	t := Count(g, eligible)
	switch g.Quorum.Kind {
	case model.QuorumAny:
		if t.Approvals >= g.Quorum.Count {
			return model.GateApproved
		}
		if t.Approvals+t.Outstanding < g.Quorum.Count {
			return model.GateRejected
		}
	case model.QuorumAll:
		if t.Rejections > 0 {
			return model.GateRejected
		}
		if t.Approvals > 0 && t.Outstanding == 0 {
			return model.GateApproved
		}
	case model.QuorumMajority:
		if t.Denominator == 0 {
			return model.GatePending
		}
		if 2*t.Approvals > t.Denominator {
			return model.GateApproved
		}
		if 2*t.Rejections >= t.Denominator {
			return model.GateRejected
		}
	}
	return model.GatePending
}

// Evaluate resolves g if its ledger now satisfies the quorum rule and
// reports whether a transition happened. Terminal gates are never changed.
func Evaluate(g *model.Gate, eligible map[string]bool, now time.Time) bool {
	if g.State.Terminal() {
		return false
	}
	next := Outcome(g, eligible)
	if next == model.GatePending {
		return false
	}
	resolve(g, next, now)
	return true
}

// Expire moves a pending gate older than maxAge to expired. A zero or
// negative maxAge disables expiry.
func Expire(g *model.Gate, maxAge time.Duration, now time.Time) bool {
	if g.State.Terminal() || maxAge <= 0 {
		return false
	}
	if now.Sub(g.CreatedAt) < maxAge {
		return false
	}
	resolve(g, model.GateExpired, now)
	return true
}

func resolve(g *model.Gate, state model.GateState, now time.Time) {
	g.State = state
	at := now
	g.ResolvedAt = &at
}
