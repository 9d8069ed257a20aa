// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package connection implements the single-socket Transport described in
// the core design: one TCP (optionally TLS) connection, a write mutex that
// serializes full request/response exchanges, and a length-prefixed read
// loop. There is no pooling and no reconnection; a failed exchange poisons
// the connection permanently, per the design's single-connection model.
package connection

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kovergo/kover/internal/compressor"
	"github.com/kovergo/kover/wiremessage"
)

// compressThreshold is the minimum outbound body size, in bytes, before the
// driver bothers wrapping a request in OP_COMPRESSED.
const compressThreshold = 512

// Config holds transport-level dial options, assembled via Option.
type Config struct {
	TLS         *tls.Config
	DialTimeout time.Duration
}

// Option configures a Config.
type Option func(*Config)

// WithTLS enables TLS using the given configuration. A nil cfg is
// equivalent to not calling WithTLS.
func WithTLS(cfg *tls.Config) Option {
	return func(c *Config) { c.TLS = cfg }
}

// WithDialTimeout bounds how long Dial will wait to establish the TCP (and,
// if configured, TLS) connection.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) { c.DialTimeout = d }
}

// Connection is a single live link to a mongod/mongos. It is safe for
// concurrent use in the narrow sense required by the design: RoundTrip calls
// serialize against each other, but nothing about a Connection may be used
// concurrently with Close.
type Connection struct {
	addr    string
	conn    net.Conn
	mu      sync.Mutex
	ids     wiremessage.IDGenerator
	dead    atomic.Bool
	outComp atomic.Pointer[compressor.Compressor]
	inComp  map[wiremessage.CompressorID]compressor.Compressor
}

// Dial opens a TCP connection to addr ("host:port"), optionally upgrading
// to TLS, and returns an unauthenticated Connection. Callers perform the
// hello handshake and SCRAM authentication separately.
func Dial(ctx context.Context, addr string, opts ...Option) (*Connection, error) {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}

	dialer := &net.Dialer{}
	if cfg.DialTimeout > 0 {
		dialer.Timeout = cfg.DialTimeout
	}

	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{Op: "dial", Wrapped: err}
	}

	if cfg.TLS != nil {
		tlsConn := tls.Client(nc, cfg.TLS)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, &TransportError{Op: "tls handshake", Wrapped: err}
		}
		nc = tlsConn
	}

	return &Connection{
		addr:   addr,
		conn:   nc,
		inComp: make(map[wiremessage.CompressorID]compressor.Compressor),
	}, nil
}

// New wraps an already-established net.Conn (for example a *net.TCPConn a
// caller dialed and TLS-upgraded itself, or a test double) as a Connection.
// Most callers want Dial instead.
func New(addr string, conn net.Conn) *Connection {
	return &Connection{
		addr:   addr,
		conn:   conn,
		inComp: make(map[wiremessage.CompressorID]compressor.Compressor),
	}
}

// Alive reports whether the connection has not yet been poisoned by a fatal
// error.
func (c *Connection) Alive() bool { return !c.dead.Load() }

// Close tears down the underlying socket. It is idempotent.
func (c *Connection) Close() error {
	c.dead.Store(true)
	return c.conn.Close()
}

// SetOutboundCompressor selects the compressor used to wrap requests larger
// than the compression threshold. It is called once after the hello
// handshake negotiates a compressor; passing nil disables compression.
func (c *Connection) SetOutboundCompressor(cm compressor.Compressor) {
	if cm == nil {
		c.outComp.Store(nil)
		return
	}
	c.outComp.Store(&cm)
	c.inComp[cm.ID()] = cm
}

// RegisterInboundCompressor teaches the connection how to decompress a
// given compressor id even if it isn't the negotiated outbound one (the
// server is free to use any compressor it was offered).
func (c *Connection) RegisterInboundCompressor(cm compressor.Compressor) {
	c.inComp[cm.ID()] = cm
}

// poison marks the connection dead; once poisoned every subsequent
// RoundTrip fails immediately without touching the socket.
func (c *Connection) poison() {
	c.dead.Store(true)
}

// RoundTrip sends a single OP_MSG request carrying bodyBSON as its kind-0
// body section and returns the reply's kind-0 body. It acquires the write
// lock for the full send-then-receive sequence, so concurrent callers
// complete in strict FIFO order and never observe each other's replies.
//
// A context cancellation or deadline that fires while the lock is held
// poisons the connection: reply ordering on a single socket cannot be
// recovered once a request has been written without also reading its
// response.
func (c *Connection) RoundTrip(ctx context.Context, bodyBSON []byte) ([]byte, error) {
	if !c.Alive() {
		return nil, &TransportError{Op: "round trip", Wrapped: fmt.Errorf("connection is dead")}
	}

	requestID := c.ids.Next()
	msg := wiremessage.AppendMsg(requestID, bodyBSON)

	outbound := msg
	if cmPtr := c.outComp.Load(); cmPtr != nil && len(bodyBSON) > compressThreshold {
		cm := *cmPtr
		payload := msg[wiremessage.HeaderLen:]
		compressed, err := cm.Compress(payload)
		if err != nil {
			return nil, &ProtocolError{Op: "compress", Wrapped: err}
		}
		outbound = wiremessage.AppendCompressed(requestID, wiremessage.OpMsg, int32(len(payload)), cm.ID(), compressed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	} else {
		c.conn.SetDeadline(time.Time{})
	}

	// A cancellation that fires mid-exchange forces the pending socket
	// operation to fail; once it has fired the connection is poisoned.
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Now()) })
	defer func() {
		if !stop() {
			c.poison()
		}
	}()

	if err := c.write(outbound); err != nil {
		c.poison()
		return nil, err
	}

	headerBuf, err := c.readExactly(wiremessage.HeaderLen)
	if err != nil {
		c.poison()
		return nil, err
	}
	header, err := wiremessage.ReadHeader(headerBuf)
	if err != nil {
		c.poison()
		return nil, &ProtocolError{Op: "read header", Wrapped: err}
	}

	bodyLen := int(header.MessageLength) - wiremessage.HeaderLen
	if bodyLen < 0 {
		c.poison()
		return nil, &ProtocolError{Op: "read header", Wrapped: fmt.Errorf("negative body length %d", bodyLen)}
	}
	body, err := c.readExactly(bodyLen)
	if err != nil {
		c.poison()
		return nil, err
	}

	if header.ResponseTo != requestID {
		c.poison()
		return nil, &ProtocolError{Op: "verify response", Wrapped: fmt.Errorf(
			"responseTo %d does not match requestID %d", header.ResponseTo, requestID)}
	}

	opCode := header.OpCode
	payload := body
	if opCode == wiremessage.OpCompressed {
		compressed, err := wiremessage.ParseCompressed(body)
		if err != nil {
			c.poison()
			return nil, &ProtocolError{Op: "parse OP_COMPRESSED", Wrapped: err}
		}
		cm, ok := c.inComp[compressed.CompressorID]
		if !ok {
			c.poison()
			return nil, &ProtocolError{Op: "decompress", Wrapped: fmt.Errorf(
				"unsupported compressor id %d", compressed.CompressorID)}
		}
		payload, err = cm.Decompress(compressed.CompressedBytes, compressed.UncompressedSize)
		if err != nil {
			c.poison()
			return nil, &ProtocolError{Op: "decompress", Wrapped: err}
		}
		opCode = compressed.OriginalOpCode
	}

	if opCode != wiremessage.OpMsg {
		c.poison()
		return nil, &ProtocolError{Op: "decode reply", Wrapped: fmt.Errorf("unsupported opcode %v", opCode)}
	}

	doc, err := wiremessage.ParseMsgBody(payload)
	if err != nil {
		c.poison()
		return nil, &ProtocolError{Op: "decode reply", Wrapped: err}
	}
	return doc, nil
}

func (c *Connection) write(b []byte) error {
	if _, err := c.conn.Write(b); err != nil {
		return &TransportError{Op: "write", Wrapped: err}
	}
	return nil
}

func (c *Connection) readExactly(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return nil, &TransportError{Op: "read", Wrapped: err}
	}
	return buf, nil
}
