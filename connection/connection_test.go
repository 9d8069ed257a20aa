package connection

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kovergo/kover/internal/compressor"
	"github.com/kovergo/kover/wiremessage"
)

// fakeServer replies to the first request read from conn with replyBody,
// setting responseTo to the request's requestID. It stops after one
// exchange unless loop is true.
func fakeServer(t *testing.T, conn net.Conn, replyBody []byte, loop bool) {
	t.Helper()
	go func() {
		for {
			headerBuf := make([]byte, wiremessage.HeaderLen)
			if _, err := readFull(conn, headerBuf); err != nil {
				return
			}
			h, err := wiremessage.ReadHeader(headerBuf)
			if err != nil {
				return
			}
			body := make([]byte, int(h.MessageLength)-wiremessage.HeaderLen)
			if _, err := readFull(conn, body); err != nil {
				return
			}

			reply := wiremessage.AppendMsg(h.RequestID, replyBody)
			// AppendMsg sets responseTo to 0; patch it to the request id.
			copy(reply[8:12], headerBuf[4:8])
			if _, err := conn.Write(reply); err != nil {
				return
			}
			if !loop {
				return
			}
		}
	}()
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func emptyBSONDoc() []byte {
	return []byte{5, 0, 0, 0, 0}
}

func TestRoundTripMatchesResponseTo(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fakeServer(t, server, emptyBSONDoc(), false)

	c := &Connection{conn: client, inComp: make(map[wiremessage.CompressorID]compressor.Compressor)}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := c.RoundTrip(ctx, emptyBSONDoc())
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d bytes, want 5", len(got))
	}
}

func TestRoundTripRequestIDsAreMonotonic(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fakeServer(t, server, emptyBSONDoc(), true)

	c := &Connection{conn: client, inComp: make(map[wiremessage.CompressorID]compressor.Compressor)}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		if _, err := c.RoundTrip(ctx, emptyBSONDoc()); err != nil {
			t.Fatalf("RoundTrip %d: %v", i, err)
		}
	}
	if c.ids.Next() != 4 {
		t.Fatalf("expected 3 requests issued before this call, got id %d", c.ids.Next())
	}
}

func TestRoundTripPoisonsOnShortRead(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	// Server reads the request, then writes a header claiming a body larger
	// than it actually sends and closes — simulating a truncated reply.
	go func() {
		reqHeader := make([]byte, wiremessage.HeaderLen)
		readFull(server, reqHeader)
		req, _ := wiremessage.ReadHeader(reqHeader)
		readFull(server, make([]byte, int(req.MessageLength)-wiremessage.HeaderLen))
		h := wiremessage.Header{MessageLength: 1000, RequestID: 99, ResponseTo: 1, OpCode: wiremessage.OpMsg}
		server.Write(wiremessage.AppendHeader(nil, h))
		server.Close()
	}()

	c := &Connection{conn: client, inComp: make(map[wiremessage.CompressorID]compressor.Compressor)}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.RoundTrip(ctx, emptyBSONDoc())
	if err == nil {
		t.Fatal("expected error from truncated reply")
	}
	if c.Alive() {
		t.Fatal("connection should be poisoned after a fatal transport error")
	}

	if _, err := c.RoundTrip(ctx, emptyBSONDoc()); err == nil {
		t.Fatal("expected poisoned connection to reject further round trips")
	}
}

func TestRoundTripDetectsResponseToMismatch(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		headerBuf := make([]byte, wiremessage.HeaderLen)
		readFull(server, headerBuf)
		h, _ := wiremessage.ReadHeader(headerBuf)
		body := make([]byte, int(h.MessageLength)-wiremessage.HeaderLen)
		readFull(server, body)

		reply := wiremessage.AppendMsg(h.RequestID, emptyBSONDoc())
		// Deliberately leave responseTo as 0, which will never match a
		// positive requestID.
		server.Write(reply)
	}()

	c := &Connection{conn: client, inComp: make(map[wiremessage.CompressorID]compressor.Compressor)}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.RoundTrip(ctx, emptyBSONDoc())
	if err == nil {
		t.Fatal("expected responseTo mismatch to be a fatal error")
	}
	var protoErr *ProtocolError
	if !asProtocolError(err, &protoErr) {
		t.Fatalf("expected ProtocolError, got %T: %v", err, err)
	}
}

func asProtocolError(err error, target **ProtocolError) bool {
	pe, ok := err.(*ProtocolError)
	if ok {
		*target = pe
	}
	return ok
}
