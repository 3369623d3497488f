package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/protocol"
)

// SubmitFunc hands one inbound envelope to the session runtime.
type SubmitFunc func(ctx context.Context, env *protocol.Envelope) (Ack, error)

// Ingress feeds envelopes published on the inbound subjects into a
// session runtime. Requests get an Ack back on their reply subject.
type Ingress struct {
	submit SubmitFunc
	logger *slog.Logger
}

// NewIngress returns an Ingress that passes envelopes to submit.
func NewIngress(submit SubmitFunc, logger *slog.Logger) *Ingress {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingress{submit: submit, logger: logger}
}

// Run subscribes to every inbound subject and submits what arrives, one
// envelope at a time. It blocks until ctx is cancelled or the
// subscription closes.
func (in *Ingress) Run(ctx context.Context, sub Subscriber) error {
	ch, cancel, err := sub.Subscribe(InboundAll)
	if err != nil {
		return fmt.Errorf("ingress: subscribe: %w", err)
	}
	defer cancel()

	in.logger.Info("ingress: subscriber started", "subject", InboundAll)

	for {
		select {
		case <-ctx.Done():
			in.logger.Info("ingress: subscriber stopping")
			return nil
		case msg, ok := <-ch:
			if !ok {
				in.logger.Info("ingress: subscription channel closed")
				return nil
			}
			in.reply(msg, in.handle(ctx, msg))
		}
	}
}

func (in *Ingress) handle(ctx context.Context, msg Message) Ack {
	var env protocol.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		in.logger.Warn("ingress: bad envelope", "subject", msg.Subject, "err", err)
		return rejected(&env, model.Errorf(model.CodeInvalidPayload, "malformed envelope: %v", err))
	}
	if err := checkSubject(msg.Subject, &env); err != nil {
		in.logger.Warn("ingress: subject mismatch", "subject", msg.Subject, "id", env.ID, "session_id", env.SessionID)
		return rejected(&env, err)
	}

	ack, err := in.submit(ctx, &env)
	if err != nil {
		code := model.CodeOf(err)
		if code == model.CodeInternal {
			in.logger.Error("ingress: submit failed", "id", env.ID, "err", err)
		} else {
			// The sender also got a targeted error message in the session.
			in.logger.Debug("ingress: message rejected", "id", env.ID, "code", code)
		}
		return rejected(&env, err)
	}
	return ack
}

// checkSubject makes sure an envelope is routed to the session its
// subject names. An envelope without a session id takes it from the
// subject.
func checkSubject(subject string, env *protocol.Envelope) error {
	id, isNew, ok := inboundSession(subject)
	switch {
	case !ok:
		return model.Errorf(model.CodeInvalidPayload, "subject %q is not an inbound subject", subject)
	case isNew:
		if env.Type != protocol.TypeSessionCreate {
			return model.Errorf(model.CodeInvalidPayload, "%s only accepts %s, got %s", subject, protocol.TypeSessionCreate, env.Type)
		}
		return nil
	case env.Type == protocol.TypeSessionCreate:
		return model.Errorf(model.CodeInvalidPayload, "%s must be submitted on %s", protocol.TypeSessionCreate, inboundNew)
	case env.SessionID == "":
		env.SessionID = id
		return nil
	case env.SessionID != id:
		return model.Errorf(model.CodeInvalidPayload, "envelope session %q does not match subject %q", env.SessionID, subject)
	}
	return nil
}

func rejected(env *protocol.Envelope, err error) Ack {
	ack := Ack{SessionID: env.SessionID, MessageID: env.ID, Code: model.CodeOf(err), Error: err.Error()}
	var e *model.Error
	if errors.As(err, &e) {
		ack.Error = e.Message
	}
	return ack
}

func (in *Ingress) reply(msg Message, ack Ack) {
	if msg.Reply == nil {
		return
	}
	data, err := json.Marshal(ack)
	if err != nil {
		in.logger.Error("ingress: marshal ack", "id", ack.MessageID, "err", err)
		return
	}
	if err := msg.Reply(data); err != nil {
		in.logger.Warn("ingress: reply failed", "subject", msg.Subject, "id", ack.MessageID, "err", err)
	}
}
