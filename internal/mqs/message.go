package mqs

import (
	"sync"

	"github.com/hookdeck/mqbridge/internal/idgen"
)

// MetadataKeyID carries the message id on transports that only have
// string attributes.
const MetadataKeyID = "mqbridge-message-id"

// Message is the opaque envelope moved between sockets. Body is never
// interpreted.
type Message struct {
	ID       string
	Body     []byte
	Metadata map[string]string

	settle sync.Once
	ack    func()
	nack   func()
}

func NewMessage(body []byte, metadata map[string]string) *Message {
	return &Message{
		ID:       idgen.Message(),
		Body:     body,
		Metadata: metadata,
	}
}

// Ack acknowledges the message on the socket it was received from. Only the
// first Ack or Nack has an effect.
func (m *Message) Ack() {
	m.settle.Do(func() {
		if m.ack != nil {
			m.ack()
		}
	})
}

// Nack hands the message back to the transport for redelivery where the
// transport supports it.
func (m *Message) Nack() {
	m.settle.Do(func() {
		if m.nack != nil {
			m.nack()
		}
	})
}

// OnSettle sets the hooks run by Ack and Nack. Sockets call it on the
// messages they hand out; nil hooks are no-ops.
func (m *Message) OnSettle(ack, nack func()) *Message {
	m.ack = ack
	m.nack = nack
	return m
}

// attributes returns the metadata with the message id folded in.
func (m *Message) attributes() map[string]string {
	attrs := make(map[string]string, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		attrs[k] = v
	}
	if m.ID != "" {
		attrs[MetadataKeyID] = m.ID
	}
	return attrs
}

// messageFromAttributes is the inverse of attributes.
func messageFromAttributes(body []byte, attrs map[string]string) *Message {
	msg := &Message{Body: body}
	if len(attrs) > 0 {
		msg.Metadata = make(map[string]string, len(attrs))
		for k, v := range attrs {
			if k == MetadataKeyID {
				msg.ID = v
				continue
			}
			msg.Metadata[k] = v
		}
		if len(msg.Metadata) == 0 {
			msg.Metadata = nil
		}
	}
	if msg.ID == "" {
		msg.ID = idgen.Message()
	}
	return msg
}
