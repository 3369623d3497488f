package protocol

import (
	"github.com/agrathwohl/pvp/internal/model"
)

// Validate checks the envelope fields every inbound message needs.
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return model.Errorf(model.CodeInvalidPayload, "message id is required")
	}
	if !e.Type.Inbound() {
		return model.Errorf(model.CodeInvalidPayload, "unsupported message type %q", e.Type)
	}
	if e.SenderID == "" {
		return model.Errorf(model.CodeInvalidPayload, "sender_id is required")
	}
	if e.SenderID == SystemSender {
		return model.Errorf(model.CodeInvalidPayload, "sender_id %q is reserved", SystemSender)
	}
	if e.SessionID == "" && e.Type != TypeSessionCreate {
		return model.Errorf(model.CodeInvalidPayload, "session_id is required")
	}
	return nil
}

// Decode validates the envelope and returns its typed payload.
func Decode(e *Envelope) (Payload, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	var p Payload
	var err error
	switch e.Type {
	case TypeSessionCreate:
		p, err = decodeAs[SessionCreate](e)
	case TypeSessionJoin:
		p, err = decodeAs[SessionJoin](e)
	case TypeSessionLeave:
		p, err = decodeAs[SessionLeave](e)
	case TypeSessionEnd:
		p, err = decodeAs[SessionEnd](e)
	case TypeSessionConfigUpdate:
		p, err = decodeAs[SessionConfigUpdate](e)
	case TypeRoleChange:
		p, err = decodeAs[RoleChange](e)
	case TypeHeartbeat:
		p, err = decodeAs[Heartbeat](e)
	case TypePresenceUpdate:
		p, err = decodeAs[PresenceUpdate](e)
	case TypeContextAdd:
		p, err = decodeAs[ContextAdd](e)
	case TypeContextUpdate:
		p, err = decodeAs[ContextUpdate](e)
	case TypeContextRemove:
		p, err = decodeAs[ContextRemove](e)
	case TypePromptSubmit:
		p, err = decodeAs[PromptSubmit](e)
	case TypeToolPropose:
		p, err = decodeAs[ToolPropose](e)
	case TypeGateApprove, TypeGateReject:
		p, err = decodeAs[GateVote](e)
	case TypeInterrupt:
		p, err = decodeAs[Interrupt](e)
	case TypeForkCreate:
		p, err = decodeAs[ForkCreate](e)
	case TypeToolResult:
		p, err = decodeAs[ToolResult](e)
	default:
		return nil, model.Errorf(model.CodeInvalidPayload, "unsupported message type %q", e.Type)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func decodeAs[T Payload](e *Envelope) (Payload, error) {
	var v T
	if err := e.Unmarshal(&v); err != nil {
		return nil, model.Errorf(model.CodeInvalidPayload, "decode %s payload: %v", e.Type, err)
	}
	return v, nil
}
