package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	header := Header{CodecType: CodecTypeJSON, BodyLen: 11}
	body := []byte("hello world")

	var buf bytes.Buffer
	if err := Encode(&buf, &header, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decodedHeader, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decodedHeader.CodecType != header.CodecType {
		t.Errorf("CodecType mismatch: got %d, want %d", decodedHeader.CodecType, header.CodecType)
	}
	if decodedHeader.BodyLen != header.BodyLen {
		t.Errorf("BodyLen mismatch: got %d, want %d", decodedHeader.BodyLen, header.BodyLen)
	}
	if !bytes.Equal(decodedBody, body) {
		t.Errorf("Body mismatch: got %s, want %s", decodedBody, body)
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	invalidHeader := []byte{0x00, 0x00, 0x00, Version, CodecTypeJSON, 0x00, 0x00, 0x00, 0x0B}
	var buf bytes.Buffer
	buf.Write(invalidHeader)
	buf.Write([]byte("hello world"))

	_, _, err := Decode(&buf)
	if err == nil {
		t.Fatal("expected error for invalid magic number, got nil")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("invalid magic number")) {
		t.Errorf("error message should mention invalid magic number, got: %v", err)
	}
}

func TestDecodeInvalidVersion(t *testing.T) {
	invalidFrame := []byte{
		MagicNumber, MagicByte2, MagicByte3,
		0xFF, // bad version
		CodecTypeJSON,
		0, 0, 0, 0,
	}
	var buf bytes.Buffer
	buf.Write(invalidFrame)

	_, _, err := Decode(&buf)
	if err == nil {
		t.Fatal("expected error for invalid version, got nil")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("unsupported version")) {
		t.Errorf("error message should mention unsupported version, got: %v", err)
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	header := Header{CodecType: CodecTypeBinary, BodyLen: 0}
	var buf bytes.Buffer
	if err := Encode(&buf, &header, nil); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decodedHeader, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decodedHeader.BodyLen != 0 {
		t.Errorf("BodyLen mismatch: got %d, want 0", decodedHeader.BodyLen)
	}
	if len(decodedBody) != 0 {
		t.Errorf("expected empty body, got length %d", len(decodedBody))
	}
}

func TestDecodeLargeBody(t *testing.T) {
	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	header := &Header{CodecType: CodecTypeBinary, BodyLen: uint32(len(largeBody))}

	var buf bytes.Buffer
	if err := Encode(&buf, header, largeBody); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	_, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decodedBody, largeBody) {
		t.Errorf("large body content mismatch")
	}
}
