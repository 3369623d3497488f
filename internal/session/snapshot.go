package session

import (
	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/protocol"
	"github.com/agrathwohl/pvp/internal/sharedctx"
)

// Info summarises the session.
func (s *Session) Info() protocol.SessionInfo {
	return protocol.SessionInfo{
		ID:        s.ID,
		Name:      s.Name,
		ParentID:  s.ParentID,
		State:     string(s.state),
		Config:    s.Config(),
		Seq:       s.seq,
		CreatedBy: s.CreatedBy,
	}
}

// Snapshot is the state as seen by one participant: private context
// items they may not see are left out.
func (s *Session) Snapshot(participantID string) protocol.SessionState {
	st := protocol.SessionState{
		Session:      s.Info(),
		Participants: []model.Participant{},
		Context:      []model.ContextItem{},
		Gates:        []model.Gate{},
		Proposals:    []model.Proposal{},
	}
	for _, p := range s.Participants() {
		st.Participants = append(st.Participants, *p.Clone())
	}
	for _, item := range sharedctx.FilterVisible(s.context, participantID) {
		st.Context = append(st.Context, *item.Clone())
	}
	for _, g := range s.PendingGates() {
		st.Gates = append(st.Gates, *g.Clone())
	}
	for _, p := range s.Proposals() {
		st.Proposals = append(st.Proposals, *p)
	}
	return st
}
