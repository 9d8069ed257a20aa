package connection

import "fmt"

// TransportError reports a fatal failure at the byte-stream level: a closed
// socket, a short read, or a TLS handshake failure. The connection that
// produced a TransportError is poisoned; no further operation on it will
// succeed.
type TransportError struct {
	Op      string
	Wrapped error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("connection: %s: %s", e.Op, e.Wrapped)
}

func (e *TransportError) Unwrap() error { return e.Wrapped }

// ProtocolError reports a fatal wire-framing failure: a request/response id
// mismatch, an unsupported opcode, or a decompression failure. Like
// TransportError, it poisons the connection.
type ProtocolError struct {
	Op      string
	Wrapped error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("connection: %s: %s", e.Op, e.Wrapped)
}

func (e *ProtocolError) Unwrap() error { return e.Wrapped }
