package wiremessage

import (
	"bytes"
	"testing"
)

func TestAppendHeaderReadHeaderRoundTrip(t *testing.T) {
	h := Header{MessageLength: 42, RequestID: 7, ResponseTo: 0, OpCode: OpMsg}
	buf := AppendHeader(nil, h)
	got, err := ReadHeader(buf)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestAppendMsgParseMsgBody(t *testing.T) {
	body := []byte{5, 0, 0, 0, 0} // empty BSON document
	msg := AppendMsg(11, body)

	h, err := ReadHeader(msg)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.OpCode != OpMsg {
		t.Fatalf("OpCode = %v, want OpMsg", h.OpCode)
	}
	if int(h.MessageLength) != len(msg) {
		t.Fatalf("MessageLength = %d, want %d", h.MessageLength, len(msg))
	}

	got, err := ParseMsgBody(msg[HeaderLen:])
	if err != nil {
		t.Fatalf("ParseMsgBody: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("got %v, want %v", got, body)
	}
}

func TestParseMsgBodyRejectsUnsupportedSectionKind(t *testing.T) {
	payload := []byte{0, 0, 0, 0, 1} // flagBits=0, kind=1 (document sequence)
	if _, err := ParseMsgBody(payload); err == nil {
		t.Fatal("expected error for unsupported section kind")
	}
}

func TestAppendCompressedParseCompressedRoundTrip(t *testing.T) {
	compressed := []byte{1, 2, 3, 4}
	msg := AppendCompressed(3, OpMsg, 99, CompressorSnappy, compressed)

	h, err := ReadHeader(msg)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.OpCode != OpCompressed {
		t.Fatalf("OpCode = %v, want OpCompressed", h.OpCode)
	}

	got, err := ParseCompressed(msg[HeaderLen:])
	if err != nil {
		t.Fatalf("ParseCompressed: %v", err)
	}
	if got.OriginalOpCode != OpMsg || got.UncompressedSize != 99 || got.CompressorID != CompressorSnappy {
		t.Fatalf("got %+v", got)
	}
	if !bytes.Equal(got.CompressedBytes, compressed) {
		t.Fatalf("CompressedBytes = %v, want %v", got.CompressedBytes, compressed)
	}
}

func TestIDGeneratorMonotonicAndWraps(t *testing.T) {
	var g IDGenerator
	first := g.Next()
	second := g.Next()
	if second != first+1 {
		t.Fatalf("expected strictly increasing ids, got %d then %d", first, second)
	}

	g.next.Store((1 << 31) - 1)
	wrapped := g.Next()
	if wrapped != 1 {
		t.Fatalf("expected wrap to 1, got %d", wrapped)
	}
}
