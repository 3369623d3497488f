package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/protocol"
)

// Headers set on every published Delivery so bus consumers can route
// without decoding the body.
const (
	HeaderSession   = "Pvp-Session"
	HeaderType      = "Pvp-Type"
	HeaderSeq       = "Pvp-Seq"
	HeaderRecipient = "Pvp-Recipient"
)

const (
	// defaultSubmitTimeout bounds Submit when ctx carries no deadline.
	defaultSubmitTimeout = 10 * time.Second

	// Pending limits of an ingress subscription. Messages queue here while
	// the consumer is busy; beyond them the client reports a slow consumer.
	inboundPendingMsgs  = 1 << 16
	inboundPendingBytes = 64 << 20
)

// NATSPublisher publishes session deliveries to NATS subjects and
// submits inbound envelopes by request/reply.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

// Publish JSON-encodes event onto topic. A Delivery also carries its
// session, type, sequence and recipients as headers.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	msg := nats.NewMsg(topic)
	msg.Data = data
	if d, ok := event.(Delivery); ok {
		d.header(msg.Header)
	}
	return p.conn.PublishMsg(msg)
}

func (d Delivery) header(h nats.Header) {
	if d.Message != nil {
		h.Set(HeaderSession, d.Message.SessionID)
		h.Set(HeaderType, string(d.Message.Type))
		if d.Message.Seq > 0 {
			h.Set(HeaderSeq, strconv.FormatUint(d.Message.Seq, 10))
		}
	}
	for _, r := range d.Recipients {
		h.Add(HeaderRecipient, r)
	}
}

// Submit sends env on its inbound subject and waits for the ingress to
// acknowledge it. A rejected envelope returns the coded error together
// with the ack.
func (p *NATSPublisher) Submit(ctx context.Context, env *protocol.Envelope) (Ack, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return Ack{}, fmt.Errorf("marshaling envelope: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultSubmitTimeout)
		defer cancel()
	}
	reply, err := p.conn.RequestWithContext(ctx, InboundTopic(env), data)
	if err != nil {
		return Ack{}, fmt.Errorf("submit %s: %w", env.ID, err)
	}
	var ack Ack
	if err := json.Unmarshal(reply.Data, &ack); err != nil {
		return Ack{}, fmt.Errorf("decoding ack for %s: %w", env.ID, err)
	}
	if ack.Code != "" {
		return ack, &model.Error{Code: ack.Code, Message: ack.Error}
	}
	return ack, nil
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber subscribes to messages from NATS subjects.
type NATSSubscriber struct {
	conn *nats.Conn
}

// NewNATSSubscriber connects to NATS with automatic reconnection support.
// Slow-consumer and other async errors are logged. Extra nats.Option
// values (e.g. disconnect/reconnect handlers) can be appended.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.ErrorHandler(logAsyncError),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSubscriber{conn: nc}, nil
}

func logAsyncError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub == nil {
		slog.Error("nats async error", "err", err)
		return
	}
	if errors.Is(err, nats.ErrSlowConsumer) {
		dropped, _ := sub.Dropped()
		slog.Error("nats slow consumer: inbound messages dropped", "subject", sub.Subject, "dropped", dropped)
		return
	}
	slog.Error("nats subscription error", "subject", sub.Subject, "err", err)
}

// Subscribe returns a channel that receives messages for the given topic
// (supports NATS wildcards like "pvp.inbound.>"). Each message is handed
// over synchronously: while the consumer is busy, later messages wait in
// the subscription's pending queue. Call the returned cancel function to
// unsubscribe and close the channel.
func (s *NATSSubscriber) Subscribe(topic string) (<-chan Message, func(), error) {
	ch := make(chan Message)
	done := make(chan struct{})

	var (
		mu     sync.RWMutex
		closed bool
		once   sync.Once
	)

	sub, err := s.conn.Subscribe(topic, func(msg *nats.Msg) {
		mu.RLock()
		defer mu.RUnlock()
		if closed {
			return
		}
		m := Message{Subject: msg.Subject, Data: msg.Data}
		if msg.Reply != "" {
			m.Reply = msg.Respond
		}
		select {
		case ch <- m:
		case <-done:
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	if err := sub.SetPendingLimits(inboundPendingMsgs, inboundPendingBytes); err != nil {
		_ = sub.Unsubscribe()
		close(ch)
		return nil, nil, fmt.Errorf("setting pending limits on %s: %w", topic, err)
	}
	// Flush ensures the subscription is registered on the server before
	// returning, so that messages published on other connections are routed.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		close(ch)
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			// Release a callback blocked on send, then wait for it.
			close(done)
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}

	return ch, cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
