package events

// Message is one payload received from the bus.
type Message struct {
	Subject string
	Data    []byte
	// Reply answers a request. It is nil when the publisher expects no
	// answer.
	Reply func(data []byte) error
}

// Subscriber receives messages from the event bus.
type Subscriber interface {
	// Subscribe delivers messages on the returned channel. Delivery blocks
	// until the consumer receives, so nothing is discarded while the
	// consumer is busy. Call the returned cancel function to unsubscribe
	// and close the channel.
	Subscribe(topic string) (<-chan Message, func(), error)
	Close() error
}
