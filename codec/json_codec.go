package codec

import (
	"encoding/json"

	"github.com/mouadino/lymph/message"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
// Pros: human-readable, cross-language, easy to debug.
// Cons: slower due to reflection + string parsing, larger payload (field
// names repeated).
type JSONCodec struct{}

type jsonMessage struct {
	Type    message.Type      `json:"type"`
	ID      string            `json:"id"`
	Subject string            `json:"subject"`
	Source  string            `json:"source"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

func (c *JSONCodec) Encode(m *message.Message) ([]byte, error) {
	return json.Marshal(jsonMessage{
		Type:    m.Type,
		ID:      m.ID,
		Subject: m.Subject,
		Source:  m.Source,
		Headers: m.Headers,
		Body:    m.Body,
	})
}

func (c *JSONCodec) Decode(data []byte, m *message.Message) error {
	var jm jsonMessage
	if err := json.Unmarshal(data, &jm); err != nil {
		return err
	}
	m.Type = jm.Type
	m.ID = jm.ID
	m.Subject = jm.Subject
	m.Source = jm.Source
	m.Headers = jm.Headers
	m.Body = jm.Body
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
