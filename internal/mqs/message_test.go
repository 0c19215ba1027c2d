package mqs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage_Settle(t *testing.T) {
	t.Parallel()

	t.Run("first settlement wins", func(t *testing.T) {
		t.Parallel()

		acks, nacks := 0, 0
		msg := NewMessage([]byte("x"), nil).OnSettle(func() { acks++ }, func() { nacks++ })
		msg.Ack()
		msg.Nack()
		msg.Ack()
		assert.Equal(t, 1, acks)
		assert.Equal(t, 0, nacks)
	})

	t.Run("nil hooks", func(t *testing.T) {
		t.Parallel()

		msg := NewMessage(nil, nil)
		assert.NotPanics(t, msg.Ack)
		assert.NotPanics(t, msg.Nack)
	})
}

func TestMessage_Attributes(t *testing.T) {
	t.Parallel()

	msg := NewMessage([]byte("body"), map[string]string{"trace": "abc"})
	assert.NotEmpty(t, msg.ID)

	attrs := msg.attributes()
	assert.Equal(t, msg.ID, attrs[MetadataKeyID])
	assert.NotContains(t, msg.Metadata, MetadataKeyID, "attributes must not modify the message")

	restored := messageFromAttributes(msg.Body, attrs)
	assert.Equal(t, msg.ID, restored.ID)
	assert.Equal(t, msg.Metadata, restored.Metadata)

	t.Run("missing id is generated", func(t *testing.T) {
		restored := messageFromAttributes([]byte("body"), nil)
		assert.NotEmpty(t, restored.ID)
		assert.Nil(t, restored.Metadata)
	})

	t.Run("id only", func(t *testing.T) {
		restored := messageFromAttributes(nil, map[string]string{MetadataKeyID: "abc"})
		assert.Equal(t, "abc", restored.ID)
		assert.Nil(t, restored.Metadata)
	})
}
