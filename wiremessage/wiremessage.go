// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package wiremessage frames MongoDB wire-protocol OP_MSG requests and
// replies and wraps/unwraps the OP_COMPRESSED envelope. It does not know
// about sockets or BSON document semantics beyond a single kind-0 body
// section; that is the Transport and Command Dispatcher's job respectively.
package wiremessage

import (
	"encoding/binary"
	"fmt"
)

// OpCode identifies a wire-protocol message kind.
type OpCode int32

// The two opcodes this driver speaks. Legacy opcodes (OP_QUERY, OP_REPLY,
// OP_INSERT, ...) are out of scope: every server this driver targets
// understands OP_MSG.
const (
	OpMsg        OpCode = 2013
	OpCompressed OpCode = 2012
)

func (c OpCode) String() string {
	switch c {
	case OpMsg:
		return "OP_MSG"
	case OpCompressed:
		return "OP_COMPRESSED"
	default:
		return fmt.Sprintf("OpCode(%d)", int32(c))
	}
}

// HeaderLen is the fixed size of a wire-protocol message header.
const HeaderLen = 16

// msgSectionKindBody is the section kind byte of an OP_MSG body section.
// The flagBits field that precedes the sections is always written as zero:
// this driver never sets checksumPresent, moreToCome, or exhaustAllowed.
const msgSectionKindBody = 0

// Header is the 16-byte prefix of every wire-protocol message.
type Header struct {
	MessageLength int32
	RequestID     int32
	ResponseTo    int32
	OpCode        OpCode
}

// AppendHeader appends the wire encoding of h to dst.
func AppendHeader(dst []byte, h Header) []byte {
	dst = appendInt32(dst, h.MessageLength)
	dst = appendInt32(dst, h.RequestID)
	dst = appendInt32(dst, h.ResponseTo)
	dst = appendInt32(dst, int32(h.OpCode))
	return dst
}

// ReadHeader decodes the header at the front of src. src must be at least
// HeaderLen bytes long.
func ReadHeader(src []byte) (Header, error) {
	if len(src) < HeaderLen {
		return Header{}, fmt.Errorf("wiremessage: header requires %d bytes, got %d", HeaderLen, len(src))
	}
	return Header{
		MessageLength: readInt32(src[0:4]),
		RequestID:     readInt32(src[4:8]),
		ResponseTo:    readInt32(src[8:12]),
		OpCode:        OpCode(readInt32(src[12:16])),
	}, nil
}

// AppendMsg builds a complete OP_MSG wire message around a single kind-0
// body section containing bodyDoc (an already-marshaled BSON document).
func AppendMsg(requestID int32, bodyDoc []byte) []byte {
	msg := make([]byte, HeaderLen, HeaderLen+4+1+len(bodyDoc))
	msg = append(msg, 0, 0, 0, 0) // flagBits
	msg = append(msg, msgSectionKindBody)
	msg = append(msg, bodyDoc...)

	h := Header{
		MessageLength: int32(len(msg)),
		RequestID:     requestID,
		ResponseTo:    0,
		OpCode:        OpMsg,
	}
	copy(msg[0:HeaderLen], AppendHeader(nil, h))
	return msg
}

// ParseMsgBody extracts the kind-0 body document from the payload of an
// OP_MSG message (the bytes following the header, i.e. flagBits + sections).
// Only a single kind-0 section is supported; any other section kind, or a
// payload too short to contain flagBits, is a protocol error.
func ParseMsgBody(payload []byte) ([]byte, error) {
	if len(payload) < 5 {
		return nil, fmt.Errorf("wiremessage: OP_MSG payload too short (%d bytes)", len(payload))
	}
	// flagBits (4 bytes) is currently ignored: this driver never negotiates
	// checksumPresent/moreToCome/exhaustAllowed on outbound requests and
	// tolerates servers that don't set them either.
	body := payload[4:]
	if len(body) == 0 {
		return nil, fmt.Errorf("wiremessage: OP_MSG has no sections")
	}
	kind := body[0]
	if kind != msgSectionKindBody {
		return nil, fmt.Errorf("wiremessage: unsupported OP_MSG section kind %d", kind)
	}
	return body[1:], nil
}

// CompressorID identifies the negotiated OP_COMPRESSED payload codec.
type CompressorID uint8

const (
	CompressorNoop   CompressorID = 0
	CompressorSnappy CompressorID = 1
	CompressorZlib   CompressorID = 2
	CompressorZstd   CompressorID = 3
)

// compressedHeaderLen is the length of the OP_COMPRESSED-specific fields
// that follow the 16-byte message header: originalOpcode, uncompressedSize,
// compressorId.
const compressedHeaderLen = 9

// AppendCompressed builds an OP_COMPRESSED message around compressed, the
// compressed form of an original message's bytes after its 16-byte header;
// uncompressedSize is the length of those bytes before compression.
func AppendCompressed(requestID int32, originalOpCode OpCode, uncompressedSize int32, id CompressorID, compressed []byte) []byte {
	msg := make([]byte, HeaderLen, HeaderLen+compressedHeaderLen+len(compressed))
	msg = append(msg, make([]byte, compressedHeaderLen)...)
	msg = append(msg, compressed...)

	binary.LittleEndian.PutUint32(msg[HeaderLen:], uint32(originalOpCode))
	binary.LittleEndian.PutUint32(msg[HeaderLen+4:], uint32(uncompressedSize))
	msg[HeaderLen+8] = byte(id)

	h := Header{
		MessageLength: int32(len(msg)),
		RequestID:     requestID,
		ResponseTo:    0,
		OpCode:        OpCompressed,
	}
	copy(msg[0:HeaderLen], AppendHeader(nil, h))
	return msg
}

// Compressed is the decoded form of an OP_COMPRESSED payload (the bytes
// following the 16-byte header).
type Compressed struct {
	OriginalOpCode   OpCode
	UncompressedSize int32
	CompressorID     CompressorID
	CompressedBytes  []byte
}

// ParseCompressed decodes the OP_COMPRESSED-specific fields and compressed
// payload from the bytes following the message header.
func ParseCompressed(payload []byte) (Compressed, error) {
	if len(payload) < compressedHeaderLen {
		return Compressed{}, fmt.Errorf("wiremessage: OP_COMPRESSED payload too short (%d bytes)", len(payload))
	}
	return Compressed{
		OriginalOpCode:   OpCode(readInt32(payload[0:4])),
		UncompressedSize: readInt32(payload[4:8]),
		CompressorID:     CompressorID(payload[8]),
		CompressedBytes:  payload[compressedHeaderLen:],
	}, nil
}

func appendInt32(dst []byte, v int32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return append(dst, b[:]...)
}

func readInt32(b []byte) int32 {
	return int32(binary.LittleEndian.Uint32(b))
}
