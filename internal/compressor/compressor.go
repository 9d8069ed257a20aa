// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package compressor wraps the OP_MSG payload codecs negotiated during the
// hello handshake: snappy, zlib and zstd.
package compressor

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/kovergo/kover/wiremessage"
)

// Compressor compresses and decompresses OP_MSG bodies for one negotiated
// algorithm.
type Compressor interface {
	ID() wiremessage.CompressorID
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte, uncompressedSize int32) ([]byte, error)
}

// ByName returns the Compressor for a negotiated compressor name
// ("snappy", "zlib", "zstd"), or false if the name isn't recognized.
func ByName(name string) (Compressor, bool) {
	switch name {
	case "snappy":
		return snappyCompressor{}, true
	case "zlib":
		return zlibCompressor{}, true
	case "zstd":
		return zstdCompressor{}, true
	default:
		return nil, false
	}
}

// ByID returns the Compressor for a wire CompressorID, or false if it's
// CompressorNoop or unrecognized.
func ByID(id wiremessage.CompressorID) (Compressor, bool) {
	switch id {
	case wiremessage.CompressorSnappy:
		return snappyCompressor{}, true
	case wiremessage.CompressorZlib:
		return zlibCompressor{}, true
	case wiremessage.CompressorZstd:
		return zstdCompressor{}, true
	default:
		return nil, false
	}
}

type snappyCompressor struct{}

func (snappyCompressor) ID() wiremessage.CompressorID { return wiremessage.CompressorSnappy }
func (snappyCompressor) Name() string                 { return "snappy" }

func (snappyCompressor) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyCompressor) Decompress(src []byte, uncompressedSize int32) ([]byte, error) {
	dst := make([]byte, uncompressedSize)
	return snappy.Decode(dst, src)
}

type zlibCompressor struct{}

func (zlibCompressor) ID() wiremessage.CompressorID { return wiremessage.CompressorZlib }
func (zlibCompressor) Name() string                 { return "zlib" }

func (zlibCompressor) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (zlibCompressor) Decompress(src []byte, uncompressedSize int32) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	dst := make([]byte, 0, uncompressedSize)
	buf := bytes.NewBuffer(dst)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type zstdCompressor struct{}

func (zstdCompressor) ID() wiremessage.CompressorID { return wiremessage.CompressorZstd }
func (zstdCompressor) Name() string                 { return "zstd" }

func (zstdCompressor) Compress(src []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(src, nil), nil
}

func (zstdCompressor) Decompress(src []byte, uncompressedSize int32) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := dec.DecodeAll(src, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("compressor: zstd decompress: %w", err)
	}
	return out, nil
}
