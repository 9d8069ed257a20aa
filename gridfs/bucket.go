// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package gridfs implements a chunked large-object store on top of two
// collections, "<prefix>.files" and "<prefix>.chunks", with SHA-1 integrity
// checking on read.
package gridfs

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kovergo/kover/mongo"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// DefaultChunkSize is used when Put isn't given an explicit chunk size.
const DefaultChunkSize = 255 * 1024

// ErrFileNotFound is returned by GetByFileID/GetByFilename when no matching
// file record exists.
var ErrFileNotFound = errors.New("gridfs: no file with that id or name found")

// IntegrityError reports a SHA-1 mismatch between a file's stored digest
// and its reassembled chunk data.
type IntegrityError struct {
	FileID bson.ObjectID
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("gridfs: sha1 mismatch for file %s", e.FileID.Hex())
}

// File is the metadata record stored once per uploaded blob.
type File struct {
	ID        bson.ObjectID `bson:"_id"`
	Length    int64         `bson:"length"`
	ChunkSize int32         `bson:"chunkSize"`
	UploadDate time.Time    `bson:"uploadDate"`
	Filename  string        `bson:"filename,omitempty"`
	Metadata  bson.D        `bson:"metadata"`
}

// chunk is one slice of a blob, stored in "<prefix>.chunks".
type chunk struct {
	FilesID bson.ObjectID `bson:"files_id"`
	N       int32         `bson:"n"`
	Data    []byte        `bson:"data"`
}

// Bucket is a GridFS store scoped to one database and collection prefix
// (default "fs", giving "fs.files"/"fs.chunks").
type Bucket struct {
	files  *mongo.Collection
	chunks *mongo.Collection
}

// NewBucket returns a Bucket backed by "<prefix>.files" and
// "<prefix>.chunks" in db. An empty prefix defaults to "fs".
func NewBucket(db *mongo.Database, prefix string) *Bucket {
	if prefix == "" {
		prefix = "fs"
	}
	return &Bucket{
		files:  db.Collection(prefix + ".files"),
		chunks: db.Collection(prefix + ".chunks"),
	}
}

// CreateIndexes builds the standard GridFS indexes: a non-unique
// {filename:1, uploadDate:1} index on the files collection and a unique
// {files_id:1, n:1} index on the chunks collection. Call once per bucket
// before first use.
func (b *Bucket) CreateIndexes(ctx context.Context) error {
	if err := b.chunks.CreateIndexes(ctx, []mongo.Index{
		{Keys: bson.D{{Key: "files_id", Value: 1}, {Key: "n", Value: 1}}, Name: "_chunks_idx", Unique: true},
	}); err != nil {
		return err
	}
	return b.files.CreateIndexes(ctx, []mongo.Index{
		{Keys: bson.D{{Key: "filename", Value: 1}, {Key: "uploadDate", Value: 1}}, Name: "_fs_idx"},
	})
}

// PutOptions configures a Put call.
type PutOptions struct {
	Filename string
	ChunkSize int32
	// DisableSHA1 opts out of the default behavior of storing a sha1 hex
	// digest of the whole blob in the file's metadata.
	DisableSHA1 bool
	Metadata    bson.D
}

// Put splits data into contiguous chunks and stores them, inserting chunks
// before the file metadata record so that any reader observing the file
// record also observes all of its chunks. It returns the assigned file _id.
func (b *Bucket) Put(ctx context.Context, data io.Reader, opts *PutOptions) (bson.ObjectID, error) {
	if opts == nil {
		opts = &PutOptions{}
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	addSHA1 := !opts.DisableSHA1

	buf, err := io.ReadAll(data)
	if err != nil {
		return bson.ObjectID{}, fmt.Errorf("gridfs: read input: %w", err)
	}

	fileID := bson.NewObjectID()

	n := int32(0)
	var models []mongo.WriteModel
	for offset := 0; offset < len(buf); offset += int(chunkSize) {
		end := offset + int(chunkSize)
		if end > len(buf) {
			end = len(buf)
		}
		payload := append([]byte(nil), buf[offset:end]...)
		doc, _ := bson.Marshal(chunk{FilesID: fileID, N: n, Data: payload})
		var chunkDoc bson.D
		bson.Unmarshal(doc, &chunkDoc)
		models = append(models, mongo.InsertOneModel{Document: chunkDoc})
		n++
	}
	if len(models) > 0 {
		if _, err := b.chunks.BulkWrite(ctx, models, nil); err != nil {
			return bson.ObjectID{}, fmt.Errorf("gridfs: insert chunks: %w", err)
		}
	}

	metadata := bson.D{}
	if addSHA1 {
		sum := sha1.Sum(buf)
		metadata = append(metadata, bson.E{Key: "sha1", Value: hex.EncodeToString(sum[:])})
	}
	metadata = append(metadata, opts.Metadata...)

	fileDoc := bson.D{
		{Key: "_id", Value: fileID},
		{Key: "length", Value: int64(len(buf))},
		{Key: "chunkSize", Value: chunkSize},
		{Key: "uploadDate", Value: time.Now()},
		{Key: "metadata", Value: metadata},
	}
	if opts.Filename != "" {
		fileDoc = append(fileDoc, bson.E{Key: "filename", Value: opts.Filename})
	}
	if _, err := b.files.InsertOne(ctx, fileDoc, nil); err != nil {
		return bson.ObjectID{}, fmt.Errorf("gridfs: insert file record: %w", err)
	}

	return fileID, nil
}

// PutBytes is a convenience wrapper around Put for in-memory data.
func (b *Bucket) PutBytes(ctx context.Context, data []byte, opts *PutOptions) (bson.ObjectID, error) {
	return b.Put(ctx, bytes.NewReader(data), opts)
}

// findFileRecord runs filter against the files collection and returns the
// first match's raw document, preserving _id (unlike Collection.FindOne,
// which unsets it for general-purpose ergonomic use).
func (b *Bucket) findFileRecord(ctx context.Context, filter bson.D) (bson.Raw, error) {
	cur, err := b.files.Find(ctx, filter, &mongo.FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	ok, err := cur.Next(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return cur.Current(), nil
}

// GetByFileID fetches a file and reassembles its chunk data in n order. If
// checkSHA1 is true and the file's metadata carries a sha1 digest, the
// reassembled data is verified against it.
func (b *Bucket) GetByFileID(ctx context.Context, fileID bson.ObjectID, checkSHA1 bool) (*File, []byte, error) {
	raw, err := b.findFileRecord(ctx, bson.D{{Key: "_id", Value: fileID}})
	if err != nil {
		return nil, nil, err
	}
	if raw == nil {
		return nil, nil, ErrFileNotFound
	}
	var file File
	if err := bson.Unmarshal(raw, &file); err != nil {
		return nil, nil, fmt.Errorf("gridfs: decode file record: %w", err)
	}

	cur, err := b.chunks.Find(ctx, bson.D{{Key: "files_id", Value: fileID}}, &mongo.FindOptions{
		Sort: bson.D{{Key: "n", Value: 1}},
	})
	if err != nil {
		return nil, nil, err
	}
	defer cur.Close(ctx)

	var out bytes.Buffer
	err = cur.All(ctx, func(raw bson.Raw) error {
		var c chunk
		if err := bson.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("gridfs: decode chunk: %w", err)
		}
		out.Write(c.Data)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if checkSHA1 {
		if stored, ok := sha1FromMetadata(file.Metadata); ok {
			sum := sha1.Sum(out.Bytes())
			if hex.EncodeToString(sum[:]) != stored {
				return nil, nil, &IntegrityError{FileID: fileID}
			}
		}
	}

	return &file, out.Bytes(), nil
}

// GetByFilename finds the file record with the given filename and delegates
// to GetByFileID.
func (b *Bucket) GetByFilename(ctx context.Context, filename string, checkSHA1 bool) (*File, []byte, error) {
	raw, err := b.findFileRecord(ctx, bson.D{{Key: "filename", Value: filename}})
	if err != nil {
		return nil, nil, err
	}
	if raw == nil {
		return nil, nil, ErrFileNotFound
	}
	var file File
	if err := bson.Unmarshal(raw, &file); err != nil {
		return nil, nil, fmt.Errorf("gridfs: decode file record: %w", err)
	}
	return b.GetByFileID(ctx, file.ID, checkSHA1)
}

// Delete removes a file's metadata record and, only if that record
// existed, its chunks.
func (b *Bucket) Delete(ctx context.Context, fileID bson.ObjectID) (bool, error) {
	removed, err := b.files.DeleteOne(ctx, bson.D{{Key: "_id", Value: fileID}}, nil)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}
	if _, err := b.chunks.DeleteMany(ctx, bson.D{{Key: "files_id", Value: fileID}}, 0, nil); err != nil {
		return true, err
	}
	return true, nil
}

// List returns every file record in the bucket.
func (b *Bucket) List(ctx context.Context) ([]File, error) {
	cur, err := b.files.Find(ctx, bson.D{}, nil)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var files []File
	err = cur.All(ctx, func(raw bson.Raw) error {
		var f File
		if err := bson.Unmarshal(raw, &f); err != nil {
			return err
		}
		files = append(files, f)
		return nil
	})
	return files, err
}

// Exists reports whether a file record with the given id exists.
func (b *Bucket) Exists(ctx context.Context, fileID bson.ObjectID) (bool, error) {
	raw, err := b.findFileRecord(ctx, bson.D{{Key: "_id", Value: fileID}})
	if err != nil {
		return false, err
	}
	return raw != nil, nil
}

func sha1FromMetadata(metadata bson.D) (string, bool) {
	for _, e := range metadata {
		if e.Key == "sha1" {
			if s, ok := e.Value.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}
