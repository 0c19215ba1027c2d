package testutil

import (
	"github.com/brianvoe/gofakeit/v6"
)

// Payload is the raw content of a test message.
type Payload struct {
	Body     []byte
	Metadata map[string]string
}

var PayloadFactory = &mockPayloadFactory{}

type mockPayloadFactory struct{}

func (f *mockPayloadFactory) Any(opts ...func(*Payload)) Payload {
	payload := Payload{
		Body: []byte(gofakeit.Sentence(12)),
		Metadata: map[string]string{
			"source": gofakeit.AppName(),
			"trace":  gofakeit.UUID(),
		},
	}

	for _, opt := range opts {
		opt(&payload)
	}

	return payload
}

// Many returns n distinct payloads.
func (f *mockPayloadFactory) Many(n int, opts ...func(*Payload)) []Payload {
	payloads := make([]Payload, n)
	for i := range payloads {
		payloads[i] = f.Any(opts...)
	}
	return payloads
}

// WithSize replaces the body with size random bytes.
func (f *mockPayloadFactory) WithSize(size int) func(*Payload) {
	return func(payload *Payload) {
		payload.Body = []byte(gofakeit.LetterN(uint(size)))
	}
}
