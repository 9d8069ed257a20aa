// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package cursor implements lazy, batched result iteration over a find or
// aggregate command: a local buffer refilled by getMore, closed by
// killCursors.
package cursor

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Runner is the minimal capability a Cursor needs: running a command and
// getting back its raw reply. driver.Dispatcher satisfies this.
type Runner interface {
	RunCommand(ctx context.Context, dbName string, cmd bson.D) (bson.Raw, error)
}

type cursorBody struct {
	ID         int64      `bson:"id"`
	NS         string     `bson:"ns"`
	FirstBatch []bson.Raw `bson:"firstBatch"`
	NextBatch  []bson.Raw `bson:"nextBatch"`
}

type findReply struct {
	Cursor cursorBody `bson:"cursor"`
}

// Cursor buffers documents returned by find/aggregate and fetches
// continuation batches with getMore until the server reports the cursor
// exhausted (id == 0).
type Cursor struct {
	runner     Runner
	dbName     string
	collection string
	batchSize  int32

	id     int64
	buffer []bson.Raw
	closed bool
}

// Open sends the initial command (typically a find or aggregate document
// built by the caller) and returns a Cursor positioned at its first batch.
func Open(ctx context.Context, runner Runner, dbName, collection string, cmd bson.D, batchSize int32) (*Cursor, error) {
	reply, err := runner.RunCommand(ctx, dbName, cmd)
	if err != nil {
		return nil, err
	}

	var fr findReply
	if err := bson.Unmarshal(reply, &fr); err != nil {
		return nil, fmt.Errorf("cursor: decode first batch: %w", err)
	}

	return &Cursor{
		runner:     runner,
		dbName:     dbName,
		collection: collection,
		batchSize:  batchSize,
		id:         fr.Cursor.ID,
		buffer:     fr.Cursor.FirstBatch,
	}, nil
}

// ID returns the server-assigned cursor id; 0 means exhausted.
func (c *Cursor) ID() int64 { return c.id }

// Next reports whether a document is available, fetching the next batch via
// getMore if the local buffer is empty and the cursor isn't exhausted.
// After a true return, Decode reads and advances past the front document;
// Current reads it without advancing.
func (c *Cursor) Next(ctx context.Context) (bool, error) {
	if len(c.buffer) > 0 {
		return true, nil
	}
	if c.id == 0 {
		return false, nil
	}
	if err := c.fetchMore(ctx); err != nil {
		return false, err
	}
	return len(c.buffer) > 0, nil
}

// Current returns the document at the front of the buffer without
// consuming it. Call only after Next returned true.
func (c *Cursor) Current() bson.Raw {
	return c.buffer[0]
}

// Decode unmarshals the front of the buffer into v and advances past it.
// Call only after Next returned true.
func (c *Cursor) Decode(v any) error {
	doc := c.buffer[0]
	c.buffer = c.buffer[1:]
	return bson.Unmarshal(doc, v)
}

// All drains the cursor, decoding every remaining document with decodeOne.
func (c *Cursor) All(ctx context.Context, decodeOne func(bson.Raw) error) error {
	for {
		ok, err := c.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		doc := c.buffer[0]
		c.buffer = c.buffer[1:]
		if err := decodeOne(doc); err != nil {
			return err
		}
	}
}

func (c *Cursor) fetchMore(ctx context.Context) error {
	cmd := bson.D{
		{Key: "getMore", Value: c.id},
		{Key: "collection", Value: c.collection},
	}
	if c.batchSize > 0 {
		cmd = append(cmd, bson.E{Key: "batchSize", Value: c.batchSize})
	}

	reply, err := c.runner.RunCommand(ctx, c.dbName, cmd)
	if err != nil {
		return err
	}
	var fr findReply
	if err := bson.Unmarshal(reply, &fr); err != nil {
		return fmt.Errorf("cursor: decode getMore batch: %w", err)
	}
	c.id = fr.Cursor.ID
	c.buffer = append(c.buffer, fr.Cursor.NextBatch...)
	return nil
}

// Close is idempotent. It sends killCursors best-effort when the server
// cursor is still open (id != 0); errors from that best-effort call are
// returned but the Cursor is always marked closed.
func (c *Cursor) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.id == 0 {
		return nil
	}

	cmd := bson.D{
		{Key: "killCursors", Value: c.collection},
		{Key: "cursors", Value: bson.A{c.id}},
	}
	_, err := c.runner.RunCommand(ctx, c.dbName, cmd)
	c.id = 0
	return err
}
