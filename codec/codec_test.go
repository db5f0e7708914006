package codec

import (
	"testing"

	"github.com/mouadino/lymph/message"
)

func roundTrip(t *testing.T, c Codec) {
	t.Helper()
	original := &message.Message{
		Type:    message.REQ,
		ID:      message.NewID(),
		Subject: "echo.upper",
		Source:  "tcp://127.0.0.1:9000",
		Headers: map[string]string{message.TraceIDHeader: "trace-123", "extra": "value"},
		Body:    []byte(`{"text":"foo"}`),
	}

	data, err := c.Encode(original)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var decoded message.Message
	if err := c.Decode(data, &decoded); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decoded.Type != original.Type {
		t.Errorf("Type mismatch: got %v, want %v", decoded.Type, original.Type)
	}
	if decoded.ID != original.ID {
		t.Errorf("ID mismatch: got %s, want %s", decoded.ID, original.ID)
	}
	if decoded.Subject != original.Subject {
		t.Errorf("Subject mismatch: got %s, want %s", decoded.Subject, original.Subject)
	}
	if decoded.Source != original.Source {
		t.Errorf("Source mismatch: got %s, want %s", decoded.Source, original.Source)
	}
	if string(decoded.Body) != string(original.Body) {
		t.Errorf("Body mismatch: got %s, want %s", decoded.Body, original.Body)
	}
	for k, v := range original.Headers {
		if decoded.Headers[k] != v {
			t.Errorf("Header %s mismatch: got %s, want %s", k, decoded.Headers[k], v)
		}
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	roundTrip(t, &JSONCodec{})
}

func TestBinaryCodecRoundTrip(t *testing.T) {
	roundTrip(t, &BinaryCodec{})
}

func TestNegotiatePicksHighestPriorityCommonType(t *testing.T) {
	got, ok := Negotiate(DefaultContentTypes, []CodecType{CodecTypeJSON, CodecTypeBinary})
	if !ok || got != CodecTypeBinary {
		t.Fatalf("expected binary (priority 10) to win, got %v ok=%v", got, ok)
	}
}

func TestNegotiateFailsWithNoCommonType(t *testing.T) {
	_, ok := Negotiate([]CodecType{CodecTypeBinary}, []CodecType{CodecType(99)})
	if ok {
		t.Fatalf("expected negotiation to fail with no common content type")
	}
}
