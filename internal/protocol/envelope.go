// Package protocol defines the message envelope exchanged with session
// participants and one payload shape per message type.
package protocol

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// SystemSender is the sender id of messages the engine originates on its
// own, such as presence transitions or gate expiry.
const SystemSender = "system"

// Envelope is the unit of exchange. Seq is zero on inbound messages and on
// outbound messages addressed to a subset of the roster.
type Envelope struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	SessionID string          `json:"session_id"`
	SenderID  string          `json:"sender_id"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       uint64          `json:"seq,omitempty"`
	DependsOn []string        `json:"depends_on,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// New builds an outbound envelope around payload.
func New(id string, typ Type, sessionID, senderID string, now time.Time, payload any) *Envelope {
	return &Envelope{
		ID:        id,
		Type:      typ,
		SessionID: sessionID,
		SenderID:  senderID,
		Timestamp: now,
		Payload:   encode(payload),
	}
}

// encode marshals one of the payload structs in this package. Those are
// plain data, and embedded raw arguments were validated when decoded.
func encode(payload any) json.RawMessage {
	if payload == nil {
		return nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("protocol: encode %T: %v", payload, err))
	}
	return b
}

// Clone returns a deep copy.
func (e *Envelope) Clone() *Envelope {
	cp := *e
	cp.DependsOn = slices.Clone(e.DependsOn)
	cp.Payload = slices.Clone(e.Payload)
	return &cp
}

// Unmarshal decodes the payload into v.
func (e *Envelope) Unmarshal(v any) error {
	if len(e.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Payload, v)
}
