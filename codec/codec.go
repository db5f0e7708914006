// Package codec provides the serialization layer for the runtime's wire
// protocol.
//
// It defines a pluggable Codec interface with two implementations:
//   - BinaryCodec: compact binary format, the higher-priority default.
//   - JSONCodec:   human-readable, easy to debug, lower priority.
//
// Content-type negotiation (SPEC_FULL.md §6) picks the first type that both
// caller and callee advertise, lowest priority number winning; this package
// is the registry callers and ServiceInstances consult to find common
// ground.
package codec

import (
	"sort"

	"github.com/mouadino/lymph/message"
)

// CodecType identifies the serialization format, stored as 1 byte in the
// frame header.
type CodecType byte

const (
	CodecTypeBinary CodecType = 0
	CodecTypeJSON   CodecType = 1
)

// Codec is the interface for serialization/deserialization of a Message.
// Implementing this interface allows adding new wire formats without
// changing any other layer.
type Codec interface {
	Encode(m *message.Message) ([]byte, error)
	Decode(data []byte, m *message.Message) error
	Type() CodecType
}

// Priority returns the negotiation priority of a content type; lower wins.
// These values mirror SPEC_FULL.md §6's default set exactly.
func (t CodecType) Priority() int {
	switch t {
	case CodecTypeBinary:
		return 10
	case CodecTypeJSON:
		return 20
	default:
		return 1 << 30
	}
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeBinary:
		return "binary"
	case CodecTypeJSON:
		return "json"
	default:
		return "unknown"
	}
}

// GetCodec is a factory function that returns the appropriate codec by type.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}
	return &BinaryCodec{}
}

// DefaultContentTypes is the priority-ordered list of content types this
// runtime supports out of the box, per SPEC_FULL.md §6.
var DefaultContentTypes = []CodecType{CodecTypeBinary, CodecTypeJSON}

// ParseContentTypes maps the string content-type names a ServiceInstance
// advertises (registry.Instance.ContentTypes) back to CodecTypes, skipping
// any name this runtime doesn't recognize.
func ParseContentTypes(names []string) []CodecType {
	out := make([]CodecType, 0, len(names))
	for _, name := range names {
		switch name {
		case CodecTypeBinary.String():
			out = append(out, CodecTypeBinary)
		case CodecTypeJSON.String():
			out = append(out, CodecTypeJSON)
		}
	}
	return out
}

// Negotiate returns the first content type in preferred that also appears
// in supported, where preferred is already priority-sorted. If supported is
// empty, the caller's own highest-priority type wins (a peer advertising no
// preference is assumed to accept whatever the caller natively speaks).
func Negotiate(preferred, supported []CodecType) (CodecType, bool) {
	if len(supported) == 0 && len(preferred) > 0 {
		return preferred[0], true
	}
	set := make(map[CodecType]bool, len(supported))
	for _, t := range supported {
		set[t] = true
	}
	sorted := append([]CodecType(nil), preferred...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })
	for _, t := range sorted {
		if set[t] {
			return t, true
		}
	}
	return 0, false
}
