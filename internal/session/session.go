// Package session holds the aggregate root of one collaboration: its
// roster, context store, gates, proposals and sequence counter.
//
// A Session is not safe for concurrent use. Callers serialize access, one
// message or tick at a time.
package session

import (
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/ordering"
	"github.com/agrathwohl/pvp/internal/protocol"
)

// State is the session lifecycle state.
type State string

const (
	StateCreated State = "created"
	StateActive  State = "active"
	StateEnded   State = "ended"
)

// Session is one collaboration instance.
type Session struct {
	ID        string
	Name      string
	ParentID  string
	CreatedBy string
	CreatedAt time.Time
	EndedAt   *time.Time

	state        State
	config       model.SessionConfig
	seq          uint64
	participants map[string]*model.Participant
	context      map[string]*model.ContextItem
	gates        map[string]*model.Gate
	proposals    map[string]*model.Proposal
	forks        []string
	causal       *ordering.CausalBuffer[*protocol.Envelope]
}

// New returns a session in the created state. The config is validated.
func New(id, name string, cfg model.SessionConfig, now time.Time) (*Session, error) {
	if id == "" {
		return nil, model.Errorf(model.CodeInvalidPayload, "session id is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		ID:           id,
		Name:         name,
		CreatedAt:    now,
		state:        StateCreated,
		config:       cfg.Clone(),
		participants: make(map[string]*model.Participant),
		context:      make(map[string]*model.ContextItem),
		gates:        make(map[string]*model.Gate),
		proposals:    make(map[string]*model.Proposal),
		causal:       ordering.NewCausalBuffer[*protocol.Envelope](0),
	}, nil
}

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// Ended reports whether the session is terminal.
func (s *Session) Ended() bool { return s.state == StateEnded }

// CheckMutable fails with session_ended once the session is terminal.
func (s *Session) CheckMutable() error {
	if s.Ended() {
		return model.Errorf(model.CodeSessionEnded, "session %s has ended", s.ID)
	}
	return nil
}

// End moves the session to its terminal state and drops held messages.
func (s *Session) End(now time.Time) error {
	if err := s.CheckMutable(); err != nil {
		return err
	}
	s.state = StateEnded
	s.EndedAt = &now
	s.causal = ordering.NewCausalBuffer[*protocol.Envelope](s.causal.Limit())
	return nil
}

// Config returns a copy of the session configuration.
func (s *Session) Config() model.SessionConfig { return s.config.Clone() }

// SetConfig replaces the configuration after validating it against the
// current roster.
func (s *Session) SetConfig(cfg model.SessionConfig) error {
	if err := s.CheckMutable(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.MaxParticipants < len(s.participants) {
		return model.Errorf(model.CodeInvalidPayload,
			"max_participants %d is below the current roster size %d", cfg.MaxParticipants, len(s.participants))
	}
	s.config = cfg.Clone()
	return nil
}

// Seq returns the last assigned sequence number.
func (s *Session) Seq() uint64 { return s.seq }

// NextSeq assigns the next sequence number.
func (s *Session) NextSeq() uint64 {
	s.seq++
	return s.seq
}

// Causal returns the delivered-id set and hold buffer.
func (s *Session) Causal() *ordering.CausalBuffer[*protocol.Envelope] { return s.causal }

// Join adds p to the roster and activates a freshly created session.
func (s *Session) Join(p *model.Participant) error {
	if err := s.CheckMutable(); err != nil {
		return err
	}
	if p.ID == "" {
		return model.Errorf(model.CodeInvalidPayload, "participant id is required")
	}
	if _, ok := s.participants[p.ID]; ok {
		return model.Errorf(model.CodeInvalidPayload, "participant %s already joined", p.ID)
	}
	if len(s.participants) >= s.config.MaxParticipants {
		return model.Errorf(model.CodeCapacityExceeded, "session %s is full (%d participants)", s.ID, s.config.MaxParticipants)
	}
	s.participants[p.ID] = p
	if s.state == StateCreated {
		s.state = StateActive
	}
	return nil
}

// Remove takes a participant off the roster.
func (s *Session) Remove(id string) (*model.Participant, error) {
	if err := s.CheckMutable(); err != nil {
		return nil, err
	}
	p, ok := s.participants[id]
	if !ok {
		return nil, model.Errorf(model.CodeNotFound, "participant %s not found", id)
	}
	delete(s.participants, id)
	return p, nil
}

// Participant looks up a roster member.
func (s *Session) Participant(id string) (*model.Participant, bool) {
	p, ok := s.participants[id]
	return p, ok
}

// Participants returns the roster ordered by join time.
func (s *Session) Participants() []*model.Participant {
	out := slices.Collect(maps.Values(s.participants))
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ParticipantIDs returns the roster ids ordered by join time.
func (s *Session) ParticipantIDs() []string {
	ps := s.Participants()
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

// Len returns the roster size.
func (s *Session) Len() int { return len(s.participants) }

// AddContext stores a new item.
func (s *Session) AddContext(item *model.ContextItem) error {
	if err := s.CheckMutable(); err != nil {
		return err
	}
	if _, ok := s.context[item.ID]; ok {
		return model.Errorf(model.CodeInvalidPayload, "context %s already exists", item.ID)
	}
	s.context[item.ID] = item
	return nil
}

// ContextItem looks up an item.
func (s *Session) ContextItem(id string) (*model.ContextItem, error) {
	item, ok := s.context[id]
	if !ok {
		return nil, model.Errorf(model.CodeNotFound, "context %s not found", id)
	}
	return item, nil
}

// RemoveContext deletes an item.
func (s *Session) RemoveContext(id string) error {
	if err := s.CheckMutable(); err != nil {
		return err
	}
	if _, ok := s.context[id]; !ok {
		return model.Errorf(model.CodeNotFound, "context %s not found", id)
	}
	delete(s.context, id)
	return nil
}

// ContextStore exposes the live context map for visibility filtering.
func (s *Session) ContextStore() map[string]*model.ContextItem { return s.context }

// AddProposal stores a proposal and, when it is gated, its gate.
func (s *Session) AddProposal(p *model.Proposal, g *model.Gate) error {
	if err := s.CheckMutable(); err != nil {
		return err
	}
	if g != nil {
		p.GateID = g.ID
		s.gates[g.ID] = g
	}
	s.proposals[p.ID] = p
	return nil
}

// Gate looks up a gate.
func (s *Session) Gate(id string) (*model.Gate, error) {
	g, ok := s.gates[id]
	if !ok {
		return nil, model.Errorf(model.CodeNotFound, "gate %s not found", id)
	}
	return g, nil
}

// PendingGates returns unresolved gates, oldest first.
func (s *Session) PendingGates() []*model.Gate {
	var out []*model.Gate
	for _, g := range s.gates {
		if !g.State.Terminal() {
			out = append(out, g)
		}
	}
	sortGates(out)
	return out
}

// Gates returns every gate, oldest first.
func (s *Session) Gates() []*model.Gate {
	out := slices.Collect(maps.Values(s.gates))
	sortGates(out)
	return out
}

func sortGates(gs []*model.Gate) {
	sort.Slice(gs, func(i, j int) bool {
		if !gs[i].CreatedAt.Equal(gs[j].CreatedAt) {
			return gs[i].CreatedAt.Before(gs[j].CreatedAt)
		}
		return gs[i].ID < gs[j].ID
	})
}

// Proposal looks up a proposal.
func (s *Session) Proposal(id string) (*model.Proposal, error) {
	p, ok := s.proposals[id]
	if !ok {
		return nil, model.Errorf(model.CodeNotFound, "proposal %s not found", id)
	}
	return p, nil
}

// Proposals returns every proposal, oldest first.
func (s *Session) Proposals() []*model.Proposal {
	out := slices.Collect(maps.Values(s.proposals))
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Forks returns the ids of sessions branched from this one.
func (s *Session) Forks() []string { return slices.Clone(s.forks) }

// Fork branches a new, independent session from the current roster,
// context and configuration. Gates and proposals stay with the parent.
func (s *Session) Fork(id, name, forkedBy string, now time.Time) (*Session, error) {
	if err := s.CheckMutable(); err != nil {
		return nil, err
	}
	f, err := New(id, name, s.config, now)
	if err != nil {
		return nil, err
	}
	f.ParentID = s.ID
	f.CreatedBy = forkedBy
	for pid, p := range s.participants {
		f.participants[pid] = p.Clone()
	}
	for cid, item := range s.context {
		f.context[cid] = item.Clone()
	}
	if len(f.participants) > 0 {
		f.state = StateActive
	}
	s.forks = append(s.forks, id)
	return f, nil
}
