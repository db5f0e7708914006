// Package protocol implements the fixed-header, length-prefixed frame
// protocol the transport uses to solve TCP's sticky-packet problem: the
// receiver reads a small fixed header first to learn the body length, then
// reads exactly that many bytes.
//
// The body carries a codec-encoded message.Message (the full envelope —
// type, id, subject, source, headers, body), not a raw RPC payload; message
// framing (REQ vs REP vs heartbeat) lives in message.Type, not in this
// frame header, since the Message already declares its own type.
//
// Frame format:
//
//	0      3  4  5         9
//	┌──────┬──┬──┬─────────┬───────────────┐
//	│magic │v │ct│ bodyLen │    body ...    │
//	│ lym  │01│  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic number bytes: "lym" (lymph). Used to quickly identify whether the
// incoming data is a valid frame, rejecting non-protocol connections.
const (
	MagicNumber byte = 0x6c // 'l'
	MagicByte2  byte = 0x79 // 'y'
	MagicByte3  byte = 0x6d // 'm'
	Version     byte = 0x01
	HeaderSize  int  = 9 // 3 (magic) + 1 (version) + 1 (codec) + 4 (bodyLen)
)

// Codec type constants, mirrored from the codec package to avoid a
// circular import (codec imports message, protocol stays a leaf).
const (
	CodecTypeBinary byte = 0
	CodecTypeJSON   byte = 1
)

// Header represents the fixed 9-byte frame header.
type Header struct {
	CodecType byte   // Serialization format of the body: 0=binary, 1=json
	BodyLen   uint32 // Body length in bytes
}

// Encode writes a complete frame (header + body) to w.
// The caller must hold a write lock if multiple goroutines share the same
// writer, otherwise frames from different sends will interleave and
// corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize)

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	binary.BigEndian.PutUint32(buf[5:9], h.BodyLen)

	if _, err := w.Write(buf); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads a complete frame (header + body) from r. It validates the
// magic number, version, and codec type. Uses io.ReadFull to guarantee
// exactly N bytes are read, preventing partial reads from desynchronizing
// the stream.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeBinary && headerBuf[4] != CodecTypeJSON {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}

	bodyLen := binary.BigEndian.Uint32(headerBuf[5:9])

	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, nil, err
		}
	}

	return &Header{
		CodecType: headerBuf[4],
		BodyLen:   bodyLen,
	}, body, nil
}
