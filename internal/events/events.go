// Package events carries session traffic over the message bus: every
// delivered message is published for out-of-process consumers such as
// tool executors, and inbound envelopes can be submitted over the bus as
// an alternative to HTTP.
package events

import (
	"context"
	"slices"
	"strings"

	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/protocol"
)

// Subject layout.
const (
	// SessionPrefix roots every published delivery:
	// pvp.session.<session-id>.<message-type>.
	SessionPrefix = "pvp.session"
	// InboundPrefix roots inbound envelopes: pvp.inbound.<session-id>,
	// or pvp.inbound.new for session.create.
	InboundPrefix = "pvp.inbound"
	// InboundAll matches every inbound subject.
	InboundAll = InboundPrefix + ".>"

	inboundNew = InboundPrefix + ".new"
)

// SessionTopic returns the subject a delivery of typ in sessionID is
// published on. Message types contain dots, so subscribers can match
// families such as pvp.session.*.gate.>.
func SessionTopic(sessionID string, typ protocol.Type) string {
	return SessionPrefix + "." + sessionID + "." + string(typ)
}

// SessionAll matches every delivery of one session.
func SessionAll(sessionID string) string {
	return SessionPrefix + "." + sessionID + ".>"
}

// InboundTopic returns the subject to submit env on.
func InboundTopic(env *protocol.Envelope) string {
	if env.Type == protocol.TypeSessionCreate || env.SessionID == "" {
		return inboundNew
	}
	return InboundPrefix + "." + env.SessionID
}

// inboundSession returns the session an inbound subject addresses. isNew
// is set for pvp.inbound.new.
func inboundSession(subject string) (id string, isNew bool, ok bool) {
	if subject == inboundNew {
		return "", true, true
	}
	id, found := strings.CutPrefix(subject, InboundPrefix+".")
	if !found || id == "" || strings.Contains(id, ".") {
		return "", false, false
	}
	return id, false, true
}

// Ack answers an inbound envelope submitted by request/reply. Code and
// Error are set when the envelope was rejected.
type Ack struct {
	SessionID string     `json:"session_id,omitempty"`
	MessageID string     `json:"message_id,omitempty"`
	Held      bool       `json:"held,omitempty"`
	Code      model.Code `json:"code,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Delivery is the event published for each outbound message.
type Delivery struct {
	Recipients []string           `json:"recipients"`
	Message    *protocol.Envelope `json:"message"`
}

// For reports whether participantID is among the recipients.
func (d Delivery) For(participantID string) bool {
	return slices.Contains(d.Recipients, participantID)
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// PublishDelivery publishes one outbound message on its session subject.
func PublishDelivery(ctx context.Context, p Publisher, msg *protocol.Envelope, recipients []string) error {
	return p.Publish(ctx, SessionTopic(msg.SessionID, msg.Type), Delivery{Recipients: recipients, Message: msg})
}
