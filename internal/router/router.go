// Package router validates, authorizes and applies inbound protocol
// messages against a Session and returns the messages to deliver.
//
// The router performs no I/O and reads no clock. Every call takes the
// current time and returns an Outcome listing each outbound message with
// its recipients.
package router

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/agrathwohl/pvp/internal/capability"
	"github.com/agrathwohl/pvp/internal/gate"
	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/presence"
	"github.com/agrathwohl/pvp/internal/protocol"
	"github.com/agrathwohl/pvp/internal/session"
)

// IDs generates identifiers for new entities and outbound messages.
type IDs interface {
	Session() string
	Context() string
	Gate() string
	Proposal() string
	Message() string
}

// Options configures a Router.
type Options struct {
	// Table maps roles to capabilities. Zero means capability.DefaultTable.
	Table capability.Table
	IDs   IDs
	// Defaults are the session settings session.create overrides.
	Defaults model.SessionConfig
	// GateExpiry is the age at which a pending gate expires. Zero disables.
	GateExpiry time.Duration
	// CausalHold is how long a message may wait for its dependencies.
	// Zero holds indefinitely.
	CausalHold time.Duration
	// DeliveredLimit is how many delivered message ids each session
	// remembers for dependency and duplicate checks. Zero means
	// ordering.DefaultDeliveredLimit.
	DeliveredLimit int
}

// Router applies messages to sessions.
type Router struct {
	table      capability.Table
	ids        IDs
	defaults   model.SessionConfig
	gateExpiry time.Duration
	causalHold time.Duration
	delivered  int
}

// New returns a Router.
func New(opts Options) *Router {
	r := &Router{
		table:      opts.Table,
		ids:        opts.IDs,
		defaults:   opts.Defaults,
		gateExpiry: opts.GateExpiry,
		causalHold: opts.CausalHold,
		delivered:  opts.DeliveredLimit,
	}
	if len(r.table.Roles()) == 0 {
		r.table = capability.DefaultTable()
	}
	if r.defaults.MaxParticipants == 0 {
		r.defaults = model.DefaultSessionConfig()
	}
	return r
}

// Table returns the capability table in use.
func (r *Router) Table() capability.Table { return r.table }

// Broadcast is one outbound message and the participants it goes to.
type Broadcast struct {
	Message    *protocol.Envelope
	Recipients []string
}

// Outcome is the result of routing one message or tick.
type Outcome struct {
	Broadcasts []Broadcast
	// Fork is the session branched by a fork.create, for the caller to
	// register.
	Fork *session.Session
	// Held is set when the message waits for causal dependencies.
	Held bool
	// Err is the rejection of the routed message itself. The same error
	// is also among Broadcasts, addressed to the sender.
	Err error
}

// Route applies env to s. Failed messages leave s unchanged.
func (r *Router) Route(s *session.Session, env *protocol.Envelope, now time.Time) Outcome {
	o := &outbox{r: r, s: s, now: now}
	if err := r.accept(o, env); err != nil {
		o.err = err
		o.reject(env, err)
	}
	r.release(o)
	return o.outcome()
}

func (r *Router) accept(o *outbox, env *protocol.Envelope) error {
	payload, err := protocol.Decode(env)
	if err != nil {
		return err
	}
	s := o.s
	if env.SessionID != s.ID {
		return model.Errorf(model.CodeInvalidPayload, "message for session %s routed to %s", env.SessionID, s.ID)
	}
	if err := s.CheckMutable(); err != nil {
		return err
	}
	if s.Causal().Delivered(env.ID) || s.Causal().Held(env.ID) {
		return duplicate(env)
	}
	if s.Config().Ordering == model.OrderingCausal && len(s.Causal().Missing(env.DependsOn)) > 0 {
		s.Causal().Hold(env.ID, env.DependsOn, env.Clone(), o.now)
		o.held = true
		return nil
	}
	return r.apply(o, env, payload)
}

func duplicate(env *protocol.Envelope) error {
	return model.Errorf(model.CodeInvalidPayload, "duplicate message id %s", env.ID)
}

// apply runs one decoded message and marks it delivered on success.
// Liveness messages are never marked, so they cannot crowd dependency
// targets out of the delivered set.
func (r *Router) apply(o *outbox, env *protocol.Envelope, payload protocol.Payload) error {
	if err := o.s.CheckMutable(); err != nil {
		return err
	}
	if o.s.Causal().Delivered(env.ID) {
		return duplicate(env)
	}
	if err := r.dispatch(o, env, payload); err != nil {
		return err
	}
	switch env.Type {
	case protocol.TypeHeartbeat, protocol.TypePresenceUpdate:
	default:
		o.s.Causal().MarkDelivered(env.ID)
	}
	return nil
}

// release applies held messages whose dependencies are now delivered, in
// dependency order.
func (r *Router) release(o *outbox) {
	for {
		env, ok := o.s.Causal().NextReady()
		if !ok {
			return
		}
		payload, err := protocol.Decode(env)
		if err == nil {
			err = r.apply(o, env, payload)
		}
		if err != nil {
			o.reject(env, err)
		}
	}
}

// Create handles session.create: it builds the session and joins the
// creator. The returned session is nil when the request is rejected.
func (r *Router) Create(env *protocol.Envelope, now time.Time) (*session.Session, Outcome) {
	s, err := r.create(env, now)
	if err != nil {
		msg := protocol.New(r.ids.Message(), protocol.TypeError, env.SessionID, protocol.SystemSender, now, errorPayload(env, err))
		return nil, Outcome{
			Broadcasts: []Broadcast{{Message: msg, Recipients: []string{env.SenderID}}},
			Err:        err,
		}
	}
	o := &outbox{r: r, s: s, now: now}
	creator, _ := s.Participant(env.SenderID)
	o.all(protocol.TypeSessionCreated, env.SenderID, protocol.SessionCreated{Session: s.Info()})
	o.all(protocol.TypeSessionJoined, env.SenderID, protocol.SessionJoined{Participant: *creator.Clone()})
	s.Causal().MarkDelivered(env.ID)
	return s, o.outcome()
}

func (r *Router) create(env *protocol.Envelope, now time.Time) (*session.Session, error) {
	if env.Type != protocol.TypeSessionCreate {
		return nil, model.Errorf(model.CodeInvalidPayload, "expected %s, got %s", protocol.TypeSessionCreate, env.Type)
	}
	payload, err := protocol.Decode(env)
	if err != nil {
		return nil, err
	}
	p := payload.(protocol.SessionCreate)

	cfg := r.defaults.Clone()
	if p.Config != nil {
		cfg = p.Config.Apply(cfg)
	}
	roles := p.Participant.Roles
	if len(roles) == 0 {
		roles = []model.Role{model.RoleDriver, model.RoleAdmin}
	}
	if err := r.table.ValidateRoles(roles); err != nil {
		return nil, err
	}
	kind, err := participantKind(p.Participant.Kind)
	if err != nil {
		return nil, err
	}

	id := env.SessionID
	if id == "" {
		id = r.ids.Session()
	}
	s, err := session.New(id, p.Name, cfg, now)
	if err != nil {
		return nil, err
	}
	s.CreatedBy = env.SenderID
	s.Causal().SetLimit(r.delivered)
	creator := &model.Participant{
		ID:            env.SenderID,
		Name:          p.Participant.Name,
		Kind:          kind,
		Roles:         capability.Normalize(roles),
		Presence:      model.PresenceActive,
		LastHeartbeat: now,
		JoinedAt:      now,
	}
	if err := s.Join(creator); err != nil {
		return nil, err
	}
	return s, nil
}

// Tick advances time-driven state: presence timeouts, gate expiry and
// causal hold expiry.
func (r *Router) Tick(s *session.Session, now time.Time) Outcome {
	o := &outbox{r: r, s: s, now: now}
	if s.Ended() {
		return o.outcome()
	}
	cfg := s.Config()
	transitions := presence.Sweep(s.Participants(), presence.ThresholdsFor(cfg), now)
	for _, tr := range transitions {
		o.all(protocol.TypePresenceChanged, protocol.SystemSender, presenceChanged(tr))
	}
	if len(transitions) > 0 {
		r.reevaluate(o)
	}
	for _, g := range s.PendingGates() {
		if gate.Expire(g, r.gateExpiry, now) {
			r.resolved(o, g)
		}
	}
	for _, env := range s.Causal().Expire(r.causalHold, now) {
		missing := s.Causal().Missing(env.DependsOn)
		o.reject(env, model.Errorf(model.CodeNotFound,
			"dependencies never delivered: %s", strings.Join(missing, ", ")))
	}
	return o.outcome()
}

// Disconnect marks a participant disconnected after its transport closed.
func (r *Router) Disconnect(s *session.Session, participantID string, now time.Time) Outcome {
	o := &outbox{r: r, s: s, now: now}
	if s.Ended() {
		return o.outcome()
	}
	p, ok := s.Participant(participantID)
	if !ok {
		return o.outcome()
	}
	if tr, changed := presence.Set(p, model.PresenceDisconnected); changed {
		o.all(protocol.TypePresenceChanged, protocol.SystemSender, presenceChanged(tr))
		r.reevaluate(o)
	}
	return o.outcome()
}

// reevaluate re-runs every pending gate against the current electorate.
func (r *Router) reevaluate(o *outbox) {
	eligible := r.eligible(o.s)
	for _, g := range o.s.PendingGates() {
		if gate.Evaluate(g, eligible, o.now) {
			r.resolved(o, g)
		}
	}
}

// resolved announces a gate that just reached a terminal state and, when
// approved, hands its proposal to executors.
func (r *Router) resolved(o *outbox, g *model.Gate) {
	prop, err := o.s.Proposal(g.ProposalID)
	if err != nil {
		return
	}
	prop.Status = model.ProposalStatusFor(g.State)
	o.all(protocol.TypeGateResolved, protocol.SystemSender,
		protocol.GateResolved{GateID: g.ID, ProposalID: prop.ID, State: g.State}, g.RequestMsg)
	if g.State == model.GateApproved {
		o.all(protocol.TypeToolExecute, protocol.SystemSender, protocol.ToolExecute{Proposal: *prop}, g.RequestMsg)
	}
}

func (r *Router) eligible(s *session.Session) map[string]bool {
	return gate.Eligible(s.Participants(), r.table, s.Config().OnParticipantTimeout)
}

func presenceChanged(tr presence.Transition) protocol.PresenceChanged {
	return protocol.PresenceChanged{ParticipantID: tr.ParticipantID, From: tr.From, To: tr.To}
}

// outbox accumulates the broadcasts of one routing call.
type outbox struct {
	r    *Router
	s    *session.Session
	now  time.Time
	out  []Broadcast
	fork *session.Session
	held bool
	err  error
}

// all sends to the whole roster and assigns the next sequence number.
func (o *outbox) all(typ protocol.Type, sender string, payload any, deps ...string) *protocol.Envelope {
	return o.shared(o.s.ParticipantIDs(), typ, sender, payload, deps...)
}

func (o *outbox) shared(recipients []string, typ protocol.Type, sender string, payload any, deps ...string) *protocol.Envelope {
	return o.sharedWithID(o.r.ids.Message(), recipients, typ, sender, payload, deps...)
}

func (o *outbox) sharedWithID(id string, recipients []string, typ protocol.Type, sender string, payload any, deps ...string) *protocol.Envelope {
	e := o.build(id, typ, sender, payload, deps)
	e.Seq = o.s.NextSeq()
	o.emit(e, recipients)
	return e
}

// to sends to a subset of the roster. Such messages are outside the
// shared sequence.
func (o *outbox) to(recipients []string, typ protocol.Type, sender string, payload any, deps ...string) *protocol.Envelope {
	e := o.build(o.r.ids.Message(), typ, sender, payload, deps)
	o.emit(e, recipients)
	return e
}

func (o *outbox) build(id string, typ protocol.Type, sender string, payload any, deps []string) *protocol.Envelope {
	e := protocol.New(id, typ, o.s.ID, sender, o.now, payload)
	if len(deps) > 0 {
		e.DependsOn = slices.Clone(deps)
	}
	return e
}

func (o *outbox) emit(e *protocol.Envelope, recipients []string) {
	o.out = append(o.out, Broadcast{Message: e, Recipients: slices.Clone(recipients)})
	o.s.Causal().MarkDelivered(e.ID)
}

// reject reports err to the sender of env only.
func (o *outbox) reject(env *protocol.Envelope, err error) {
	o.to([]string{env.SenderID}, protocol.TypeError, protocol.SystemSender, errorPayload(env, err))
}

func (o *outbox) outcome() Outcome {
	return Outcome{Broadcasts: o.out, Fork: o.fork, Held: o.held, Err: o.err}
}

func errorPayload(env *protocol.Envelope, err error) protocol.Error {
	msg := err.Error()
	var me *model.Error
	if errors.As(err, &me) && me.Message != "" {
		msg = me.Message
	}
	return protocol.Error{Code: model.CodeOf(err), Message: msg, InReplyTo: env.ID}
}

func participantKind(k model.ParticipantKind) (model.ParticipantKind, error) {
	if k == "" {
		return model.KindHuman, nil
	}
	if !k.IsValid() {
		return "", model.Errorf(model.CodeInvalidPayload, "unknown participant kind %q", k)
	}
	return k, nil
}
