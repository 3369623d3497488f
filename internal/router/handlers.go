package router

import (
	"slices"
	"sort"

	"github.com/agrathwohl/pvp/internal/capability"
	"github.com/agrathwohl/pvp/internal/gate"
	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/presence"
	"github.com/agrathwohl/pvp/internal/protocol"
	"github.com/agrathwohl/pvp/internal/sharedctx"
)

func (r *Router) dispatch(o *outbox, env *protocol.Envelope, payload protocol.Payload) error {
	if env.Type == protocol.TypeSessionJoin {
		return r.join(o, env, payload.(protocol.SessionJoin))
	}
	sender, err := r.member(o, env.SenderID)
	if err != nil {
		return err
	}
	switch p := payload.(type) {
	case protocol.SessionCreate:
		return model.Errorf(model.CodeInvalidPayload, "session %s already exists", o.s.ID)
	case protocol.SessionLeave:
		return r.leave(o, sender, p)
	case protocol.SessionEnd:
		return r.end(o, sender, p)
	case protocol.SessionConfigUpdate:
		return r.configUpdate(o, sender, p)
	case protocol.RoleChange:
		return r.roleChange(o, sender, p)
	case protocol.Heartbeat:
		return r.heartbeat(o, sender)
	case protocol.PresenceUpdate:
		return r.presenceUpdate(o, sender, p)
	case protocol.ContextAdd:
		return r.contextAdd(o, sender, p)
	case protocol.ContextUpdate:
		return r.contextUpdate(o, sender, p)
	case protocol.ContextRemove:
		return r.contextRemove(o, sender, p)
	case protocol.PromptSubmit:
		return r.prompt(o, sender, p)
	case protocol.ToolPropose:
		return r.propose(o, env, sender, p)
	case protocol.GateVote:
		d := model.DecisionApprove
		if env.Type == protocol.TypeGateReject {
			d = model.DecisionReject
		}
		return r.vote(o, sender, p, d)
	case protocol.Interrupt:
		return r.interrupt(o, sender, p)
	case protocol.ForkCreate:
		return r.fork(o, sender, p)
	case protocol.ToolResult:
		return r.toolResult(o, sender, p)
	}
	return model.Errorf(model.CodeInvalidPayload, "unsupported message type %q", env.Type)
}

func (r *Router) member(o *outbox, id string) (*model.Participant, error) {
	p, ok := o.s.Participant(id)
	if !ok {
		return nil, model.Errorf(model.CodeUnauthorized, "%s is not a participant of session %s", id, o.s.ID)
	}
	return p, nil
}

func (r *Router) require(p *model.Participant, c model.Capability) error {
	if !r.table.HasCapability(p, c) {
		return model.Errorf(model.CodeUnauthorized, "participant %s lacks %s capability", p.ID, c)
	}
	return nil
}

func (r *Router) join(o *outbox, env *protocol.Envelope, p protocol.SessionJoin) error {
	s := o.s
	if _, ok := s.Participant(env.SenderID); ok {
		return model.Errorf(model.CodeInvalidPayload, "participant %s already joined", env.SenderID)
	}
	roles := p.Roles
	if len(roles) == 0 {
		roles = []model.Role{model.RoleObserver}
	}
	if err := r.table.ValidateRoles(roles); err != nil {
		return err
	}
	if s.Len() > 0 && slices.Contains(r.table.Capabilities(roles), model.CapManageParticipants) {
		return model.Errorf(model.CodeUnauthorized, "roles granting %s are assigned with role.change", model.CapManageParticipants)
	}
	kind, err := participantKind(p.Kind)
	if err != nil {
		return err
	}
	part := &model.Participant{
		ID:            env.SenderID,
		Name:          p.Name,
		Kind:          kind,
		Roles:         capability.Normalize(roles),
		Presence:      model.PresenceActive,
		LastHeartbeat: o.now,
		JoinedAt:      o.now,
	}
	if err := s.Join(part); err != nil {
		return err
	}
	o.all(protocol.TypeSessionJoined, part.ID, protocol.SessionJoined{Participant: *part.Clone()})
	o.to([]string{part.ID}, protocol.TypeSessionState, protocol.SystemSender, s.Snapshot(part.ID))
	return nil
}

func (r *Router) leave(o *outbox, sender *model.Participant, p protocol.SessionLeave) error {
	s := o.s
	target := p.ParticipantID
	if target == "" {
		target = sender.ID
	}
	left := protocol.SessionLeft{ParticipantID: target, Reason: p.Reason}
	if target != sender.ID {
		if err := r.require(sender, model.CapManageParticipants); err != nil {
			return err
		}
		left.RemovedBy = sender.ID
	}
	recipients := s.ParticipantIDs()
	if _, err := s.Remove(target); err != nil {
		return err
	}
	o.shared(recipients, protocol.TypeSessionLeft, sender.ID, left)
	r.reevaluate(o)
	return nil
}

func (r *Router) end(o *outbox, sender *model.Participant, p protocol.SessionEnd) error {
	if err := r.require(sender, model.CapEndSession); err != nil {
		return err
	}
	if err := o.s.End(o.now); err != nil {
		return err
	}
	o.all(protocol.TypeSessionEnded, sender.ID, protocol.SessionEnded{EndedBy: sender.ID, Reason: p.Reason})
	return nil
}

func (r *Router) configUpdate(o *outbox, sender *model.Participant, p protocol.SessionConfigUpdate) error {
	if err := r.require(sender, model.CapManageParticipants); err != nil {
		return err
	}
	if p.Config.IsEmpty() {
		return model.Errorf(model.CodeInvalidPayload, "config update changes nothing")
	}
	cfg := p.Config.Apply(o.s.Config())
	if err := o.s.SetConfig(cfg); err != nil {
		return err
	}
	o.all(protocol.TypeSessionConfigUpdated, sender.ID, protocol.SessionConfigUpdated{Config: o.s.Config()})
	r.reevaluate(o)
	return nil
}

func (r *Router) roleChange(o *outbox, sender *model.Participant, p protocol.RoleChange) error {
	if err := r.require(sender, model.CapManageParticipants); err != nil {
		return err
	}
	target, ok := o.s.Participant(p.ParticipantID)
	if !ok {
		return model.Errorf(model.CodeNotFound, "participant %s not found", p.ParticipantID)
	}
	change, err := r.table.ChangeRoles(target, p.Roles)
	if err != nil {
		return err
	}
	o.all(protocol.TypeRoleChanged, sender.ID, protocol.RoleChanged{
		ParticipantID: target.ID,
		Old:           change.Old,
		New:           change.New,
	})
	r.reevaluate(o)
	return nil
}

func (r *Router) heartbeat(o *outbox, sender *model.Participant) error {
	if tr, changed := presence.Heartbeat(sender, o.now); changed {
		o.all(protocol.TypePresenceChanged, sender.ID, presenceChanged(tr))
		r.reevaluate(o)
	}
	return nil
}

func (r *Router) presenceUpdate(o *outbox, sender *model.Participant, p protocol.PresenceUpdate) error {
	if !p.Status.IsValid() {
		return model.Errorf(model.CodeInvalidPayload, "unknown presence %q", p.Status)
	}
	if p.Status == model.PresenceActive {
		return r.heartbeat(o, sender)
	}
	if tr, changed := presence.Set(sender, p.Status); changed {
		o.all(protocol.TypePresenceChanged, sender.ID, presenceChanged(tr))
		r.reevaluate(o)
	}
	return nil
}

func (r *Router) contextAdd(o *outbox, sender *model.Participant, p protocol.ContextAdd) error {
	if err := r.require(sender, model.CapAddContext); err != nil {
		return err
	}
	vis := model.PublicVisibility()
	if p.Visibility != nil {
		vis = *p.Visibility
	}
	item, err := sharedctx.Create(o.r.ids.Context(), sharedctx.Payload{
		Kind:       p.Kind,
		Name:       p.Name,
		Content:    p.Content,
		ContentRef: p.ContentRef,
		Visibility: vis,
	}, sender.ID, o.now)
	if err != nil {
		return err
	}
	if err := o.s.AddContext(item); err != nil {
		return err
	}
	r.scoped(o, item, o.s.ParticipantIDs(), protocol.TypeContextAdded, sender.ID, protocol.ContextAdded{Item: *item.Clone()})
	return nil
}

// editable finds a context item the sender may see and modify.
func (r *Router) editable(o *outbox, sender *model.Participant, id string) (*model.ContextItem, error) {
	item, err := o.s.ContextItem(id)
	if err != nil {
		return nil, err
	}
	if !sharedctx.IsVisibleTo(item, sender.ID) {
		return nil, model.Errorf(model.CodeNotFound, "context %s not found", id)
	}
	if item.AddedBy != sender.ID && !r.table.HasCapability(sender, model.CapManageParticipants) {
		return nil, model.Errorf(model.CodeUnauthorized, "context %s was added by %s", id, item.AddedBy)
	}
	return item, nil
}

func (r *Router) contextUpdate(o *outbox, sender *model.Participant, p protocol.ContextUpdate) error {
	item, err := r.editable(o, sender, p.ContextID)
	if err != nil {
		return err
	}
	switch {
	case p.Content == "" && p.ContentRef == "":
		return model.Errorf(model.CodeInvalidPayload, "context update requires content or content_ref")
	case p.Content != "" && p.ContentRef != "":
		return model.Errorf(model.CodeInvalidPayload, "context update takes content or content_ref, not both")
	case p.ContentRef != "":
		if !sharedctx.ValidRef(p.ContentRef) {
			return model.Errorf(model.CodeInvalidPayload, "malformed content_ref %q", p.ContentRef)
		}
		sharedctx.UpdateContentRef(item, p.ContentRef, o.now)
	default:
		sharedctx.UpdateContent(item, p.Content, o.now)
	}
	r.scoped(o, item, o.s.ParticipantIDs(), protocol.TypeContextUpdated, sender.ID, protocol.ContextUpdated{Item: *item.Clone()})
	return nil
}

func (r *Router) contextRemove(o *outbox, sender *model.Participant, p protocol.ContextRemove) error {
	item, err := r.editable(o, sender, p.ContextID)
	if err != nil {
		return err
	}
	roster := o.s.ParticipantIDs()
	if err := o.s.RemoveContext(item.ID); err != nil {
		return err
	}
	r.scoped(o, item, roster, protocol.TypeContextRemoved, sender.ID, protocol.ContextRemoved{ContextID: item.ID})
	return nil
}

// scoped delivers a context message only to those who may see the item.
func (r *Router) scoped(o *outbox, item *model.ContextItem, roster []string, typ protocol.Type, sender string, payload any) {
	if item.Visibility.Public {
		o.shared(roster, typ, sender, payload)
		return
	}
	o.to(sharedctx.Audience(item, roster), typ, sender, payload)
}

func (r *Router) prompt(o *outbox, sender *model.Participant, p protocol.PromptSubmit) error {
	if err := r.require(sender, model.CapPrompt); err != nil {
		return err
	}
	if p.Content == "" {
		return model.Errorf(model.CodeInvalidPayload, "prompt content is required")
	}
	for _, ref := range p.ContextRefs {
		item, err := o.s.ContextItem(ref)
		if err != nil {
			return err
		}
		if !sharedctx.IsVisibleTo(item, sender.ID) {
			return model.Errorf(model.CodeNotFound, "context %s not found", ref)
		}
	}
	o.all(protocol.TypePromptSubmitted, sender.ID, protocol.PromptSubmitted{Content: p.Content, ContextRefs: p.ContextRefs})
	return nil
}

func (r *Router) propose(o *outbox, env *protocol.Envelope, sender *model.Participant, p protocol.ToolPropose) error {
	if err := r.require(sender, model.CapPrompt); err != nil {
		return err
	}
	if p.Tool == "" {
		return model.Errorf(model.CodeInvalidPayload, "tool is required")
	}
	if p.Category == "" {
		return model.Errorf(model.CodeInvalidPayload, "category is required")
	}
	cfg := o.s.Config()
	quorum := cfg.DefaultGateQuorum
	if p.Quorum != nil {
		if err := p.Quorum.Validate(); err != nil {
			return model.Errorf(model.CodeInvalidPayload, "quorum: %v", err)
		}
		quorum = *p.Quorum
	}
	prop := &model.Proposal{
		ID:         o.r.ids.Proposal(),
		MessageID:  env.ID,
		ProposedBy: sender.ID,
		Tool:       p.Tool,
		Category:   p.Category,
		Arguments:  p.Arguments,
		Status:     model.ProposalPending,
		CreatedAt:  o.now,
	}

	if !cfg.RequiresApproval(p.Category) {
		prop.Status = model.ProposalApproved
		if err := o.s.AddProposal(prop, nil); err != nil {
			return err
		}
		proposed := o.all(protocol.TypeToolProposed, sender.ID, protocol.ToolProposed{Proposal: *prop, Description: p.Description})
		o.all(protocol.TypeToolExecute, protocol.SystemSender, protocol.ToolExecute{Proposal: *prop}, proposed.ID)
		return nil
	}

	g := gate.New(o.r.ids.Gate(), prop.ID, o.r.ids.Message(), quorum, o.now)
	if err := o.s.AddProposal(prop, g); err != nil {
		return err
	}
	proposed := o.all(protocol.TypeToolProposed, sender.ID, protocol.ToolProposed{Proposal: *prop, Description: p.Description})
	eligible := r.eligible(o.s)
	o.sharedWithID(g.RequestMsg, o.s.ParticipantIDs(), protocol.TypeGateRequest, protocol.SystemSender,
		protocol.GateRequest{Gate: *g.Clone(), Proposal: *prop, Eligible: sortedIDs(eligible)}, proposed.ID)
	// An electorate that can never reach the quorum rejects at once.
	if gate.Evaluate(g, eligible, o.now) {
		r.resolved(o, g)
	}
	return nil
}

func (r *Router) vote(o *outbox, sender *model.Participant, p protocol.GateVote, d model.Decision) error {
	g, err := o.s.Gate(p.GateID)
	if err != nil {
		return err
	}
	eligible := r.eligible(o.s)
	canApprove := r.table.HasCapability(sender, model.CapApprove)
	resolved, err := gate.RecordVote(g, sender.ID, canApprove, d, eligible, o.now)
	if err != nil {
		return err
	}
	t := gate.Count(g, eligible)
	o.all(protocol.TypeGateVote, sender.ID, protocol.GateVoteCast{
		GateID:     g.ID,
		VoterID:    sender.ID,
		Decision:   d,
		Comment:    p.Comment,
		Approvals:  t.Approvals,
		Rejections: t.Rejections,
	}, g.RequestMsg)
	if resolved {
		r.resolved(o, g)
	}
	return nil
}

func (r *Router) interrupt(o *outbox, sender *model.Participant, p protocol.Interrupt) error {
	if err := r.require(sender, model.CapInterrupt); err != nil {
		return err
	}
	if p.Target != "" {
		if _, ok := o.s.Participant(p.Target); !ok {
			return model.Errorf(model.CodeNotFound, "participant %s not found", p.Target)
		}
	}
	o.all(protocol.TypeInterrupt, sender.ID, p)
	return nil
}

func (r *Router) fork(o *outbox, sender *model.Participant, p protocol.ForkCreate) error {
	if err := r.require(sender, model.CapFork); err != nil {
		return err
	}
	if !o.s.Config().AllowForks {
		return model.Errorf(model.CodeUnauthorized, "forks are disabled for session %s", o.s.ID)
	}
	f, err := o.s.Fork(o.r.ids.Session(), p.Name, sender.ID, o.now)
	if err != nil {
		return err
	}
	f.Causal().SetLimit(r.delivered)
	o.fork = f
	o.all(protocol.TypeForkCreated, sender.ID, protocol.ForkCreated{ParentID: o.s.ID, ForkID: f.ID, Name: p.Name})
	return nil
}

func (r *Router) toolResult(o *outbox, sender *model.Participant, p protocol.ToolResult) error {
	prop, err := o.s.Proposal(p.ProposalID)
	if err != nil {
		return err
	}
	if prop.Status != model.ProposalApproved {
		return model.Errorf(model.CodeInvalidPayload, "proposal %s is %s, not approved", prop.ID, prop.Status)
	}
	prop.Status = model.ProposalExecuted
	o.all(protocol.TypeToolResult, sender.ID, p, prop.MessageID)
	return nil
}

func sortedIDs(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
