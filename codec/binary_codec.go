package codec

import (
	"encoding/binary"
	"errors"

	"github.com/mouadino/lymph/message"
)

// BinaryCodec implements a compact binary serialization for Message.
//
// Binary format:
//
//	┌──────┬─────────┬────┬──────────┬────┬─────────┬────┬────────┬───────┬──────────┬─────────┐
//	│Type  │ IDLen(2)│ ID │SubjLen(2)│Subj│SrcLen(2)│Src │HdrCnt(2)│Headers│BodyLen(4)│  Body   │
//	│ (1)  │         │    │          │    │         │    │         │  ...  │          │         │
//	└──────┴─────────┴────┴──────────┴────┴─────────┴────┴────────┴───────┴──────────┴─────────┘
//
// Each header entry is KeyLen(2) Key ValLen(2) Val. The performance gain
// over JSON comes from encoding envelope fields without field names or
// string escaping; the body itself may hold any payload the service
// author chooses to serialize separately.
type BinaryCodec struct{}

func putStr(buf []byte, offset int, s string) int {
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(s)))
	offset += 2
	copy(buf[offset:offset+len(s)], s)
	return offset + len(s)
}

func readStr(data []byte, offset int) (string, int) {
	n := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	s := string(data[offset : offset+n])
	return s, offset + n
}

func (c *BinaryCodec) Encode(m *message.Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("BinaryCodec: m must not be nil")
	}

	total := 1 + 2 + len(m.ID) + 2 + len(m.Subject) + 2 + len(m.Source) + 2
	for k, v := range m.Headers {
		total += 2 + len(k) + 2 + len(v)
	}
	total += 4 + len(m.Body)

	buf := make([]byte, total)
	offset := 0

	buf[offset] = byte(m.Type)
	offset++

	offset = putStr(buf, offset, m.ID)
	offset = putStr(buf, offset, m.Subject)
	offset = putStr(buf, offset, m.Source)

	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(m.Headers)))
	offset += 2
	for k, v := range m.Headers {
		offset = putStr(buf, offset, k)
		offset = putStr(buf, offset, v)
	}

	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(m.Body)))
	offset += 4
	copy(buf[offset:offset+len(m.Body)], m.Body)

	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, m *message.Message) error {
	if m == nil {
		return errors.New("BinaryCodec: m must not be nil")
	}
	if len(data) < 1 {
		return errors.New("BinaryCodec: truncated frame")
	}

	offset := 0
	m.Type = message.Type(data[offset])
	offset++

	m.ID, offset = readStr(data, offset)
	m.Subject, offset = readStr(data, offset)
	m.Source, offset = readStr(data, offset)

	hdrCount := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	headers := make(map[string]string, hdrCount)
	for i := 0; i < hdrCount; i++ {
		var k, v string
		k, offset = readStr(data, offset)
		v, offset = readStr(data, offset)
		headers[k] = v
	}
	m.Headers = headers

	bodyLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4
	body := make([]byte, bodyLen)
	copy(body, data[offset:offset+bodyLen])
	m.Body = body

	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
