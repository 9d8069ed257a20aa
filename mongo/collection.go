// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/kovergo/kover/cursor"
	"github.com/kovergo/kover/session"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ErrEmptyDocuments is returned by InsertMany when given an empty slice.
var ErrEmptyDocuments = errors.New("mongo: insert_many requires at least one document")

// Collection is a value object naming one collection in the owning
// Database; it performs no I/O itself.
type Collection struct {
	name string
	db   *Database
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

func (c *Collection) command(ctx context.Context, cmd bson.D, txn *session.Transaction) (bson.Raw, error) {
	return c.db.Command(ctx, cmd, txn)
}

// CollMod runs collMod with the given parameters.
func (c *Collection) CollMod(ctx context.Context, params bson.D) error {
	cmd := append(bson.D{{Key: "collMod", Value: c.name}}, params...)
	_, err := c.command(ctx, cmd, nil)
	return err
}

// InsertOne assigns an _id if doc doesn't already carry one and inserts it,
// returning the assigned _id.
func (c *Collection) InsertOne(ctx context.Context, doc bson.D, txn *session.Transaction) (bson.ObjectID, error) {
	id, doc := ensureID(doc)
	cmd := bson.D{
		{Key: "insert", Value: c.name},
		{Key: "ordered", Value: true},
		{Key: "documents", Value: bson.A{doc}},
	}
	_, err := c.command(ctx, cmd, txn)
	if err != nil {
		return bson.ObjectID{}, err
	}
	return id, nil
}

// InsertMany assigns an _id to every document that doesn't already carry
// one and inserts them in one batch, returning the assigned _ids in input
// order. An empty docs slice is a usage error.
func (c *Collection) InsertMany(ctx context.Context, docs []bson.D, txn *session.Transaction) ([]bson.ObjectID, error) {
	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}
	ids := make([]bson.ObjectID, 0, len(docs))
	stamped := make(bson.A, 0, len(docs))
	for _, doc := range docs {
		id, d := ensureID(doc)
		ids = append(ids, id)
		stamped = append(stamped, d)
	}
	cmd := bson.D{
		{Key: "insert", Value: c.name},
		{Key: "ordered", Value: true},
		{Key: "documents", Value: stamped},
	}
	if _, err := c.command(ctx, cmd, txn); err != nil {
		return nil, err
	}
	return ids, nil
}

func ensureID(doc bson.D) (bson.ObjectID, bson.D) {
	for _, e := range doc {
		if e.Key == "_id" {
			if oid, ok := e.Value.(bson.ObjectID); ok {
				return oid, doc
			}
		}
	}
	id := bson.NewObjectID()
	out := make(bson.D, 0, len(doc)+1)
	out = append(out, bson.E{Key: "_id", Value: id})
	out = append(out, doc...)
	return id, out
}

type nModifiedReply struct {
	NModified int32 `bson:"nModified"`
}

type nReply struct {
	N int32 `bson:"n"`
}

// UpdateOne applies mods (e.g. a document with a $set) to the first
// document matching filter, returning the number of documents modified.
func (c *Collection) UpdateOne(ctx context.Context, filter, mods bson.D, upsert bool, txn *session.Transaction) (int32, error) {
	return c.update(ctx, filter, mods, false, upsert, txn)
}

// UpdateMany applies mods to every document matching filter, returning the
// number of documents modified.
func (c *Collection) UpdateMany(ctx context.Context, filter, mods bson.D, upsert bool, txn *session.Transaction) (int32, error) {
	return c.update(ctx, filter, mods, true, upsert, txn)
}

func (c *Collection) update(ctx context.Context, filter, mods bson.D, multi, upsert bool, txn *session.Transaction) (int32, error) {
	cmd := bson.D{
		{Key: "update", Value: c.name},
		{Key: "ordered", Value: true},
		{Key: "updates", Value: bson.A{
			bson.D{
				{Key: "q", Value: filter},
				{Key: "u", Value: mods},
				{Key: "multi", Value: multi},
				{Key: "upsert", Value: upsert},
			},
		}},
	}
	reply, err := c.command(ctx, cmd, txn)
	if err != nil {
		return 0, err
	}
	var out nModifiedReply
	if err := bson.Unmarshal(reply, &out); err != nil {
		return 0, fmt.Errorf("mongo: decode update reply: %w", err)
	}
	return out.NModified, nil
}

// DeleteOne removes at most one document matching filter, returning whether
// a document was removed.
func (c *Collection) DeleteOne(ctx context.Context, filter bson.D, txn *session.Transaction) (bool, error) {
	n, err := c.delete(ctx, filter, 1, txn)
	return n > 0, err
}

// DeleteMany removes documents matching filter (limit 0 means unbounded),
// returning the number removed.
func (c *Collection) DeleteMany(ctx context.Context, filter bson.D, limit int32, txn *session.Transaction) (int32, error) {
	return c.delete(ctx, filter, limit, txn)
}

func (c *Collection) delete(ctx context.Context, filter bson.D, limit int32, txn *session.Transaction) (int32, error) {
	cmd := bson.D{
		{Key: "delete", Value: c.name},
		{Key: "ordered", Value: true},
		{Key: "deletes", Value: bson.A{
			bson.D{{Key: "q", Value: filter}, {Key: "limit", Value: limit}},
		}},
	}
	reply, err := c.command(ctx, cmd, txn)
	if err != nil {
		return 0, err
	}
	var out nReply
	if err := bson.Unmarshal(reply, &out); err != nil {
		return 0, fmt.Errorf("mongo: decode delete reply: %w", err)
	}
	return out.N, nil
}

// FindOptions configures a Find call.
type FindOptions struct {
	Projection bson.D
	Sort       bson.D
	Skip       int64
	Limit      int64
	BatchSize  int32
	Comment    string
}

// Find returns a lazy Cursor over documents matching filter.
func (c *Collection) Find(ctx context.Context, filter bson.D, opts *FindOptions) (*cursor.Cursor, error) {
	if filter == nil {
		filter = bson.D{}
	}
	if opts == nil {
		opts = &FindOptions{}
	}
	cmd := bson.D{{Key: "find", Value: c.name}, {Key: "filter", Value: filter}}
	if opts.Projection != nil {
		cmd = append(cmd, bson.E{Key: "projection", Value: opts.Projection})
	}
	if opts.Sort != nil {
		cmd = append(cmd, bson.E{Key: "sort", Value: opts.Sort})
	}
	if opts.Skip != 0 {
		cmd = append(cmd, bson.E{Key: "skip", Value: opts.Skip})
	}
	if opts.Limit != 0 {
		cmd = append(cmd, bson.E{Key: "limit", Value: opts.Limit})
	}
	if opts.BatchSize != 0 {
		cmd = append(cmd, bson.E{Key: "batchSize", Value: opts.BatchSize})
	}
	if opts.Comment != "" {
		cmd = append(cmd, bson.E{Key: "comment", Value: opts.Comment})
	}
	return cursor.Open(ctx, c.db.client.dispatch, c.db.name, c.name, cmd, opts.BatchSize)
}

// FindOne returns the first document matching filter with _id unset, or nil
// if none matched.
func (c *Collection) FindOne(ctx context.Context, filter bson.D) (bson.Raw, error) {
	if filter == nil {
		filter = bson.D{}
	}
	pipeline := bson.A{
		bson.D{{Key: "$match", Value: filter}},
		bson.D{{Key: "$limit", Value: 1}},
		bson.D{{Key: "$unset", Value: "_id"}},
	}
	batch, err := c.Aggregate(ctx, pipeline, nil)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, nil
	}
	return batch[0], nil
}

// Aggregate runs pipeline and returns only the first batch; callers needing
// further pagination should drive getMore themselves via Find's Cursor.
func (c *Collection) Aggregate(ctx context.Context, pipeline bson.A, txn *session.Transaction) ([]bson.Raw, error) {
	cmd := bson.D{
		{Key: "aggregate", Value: c.name},
		{Key: "pipeline", Value: pipeline},
		{Key: "cursor", Value: bson.D{}},
	}
	reply, err := c.command(ctx, cmd, txn)
	if err != nil {
		return nil, err
	}
	var out struct {
		Cursor struct {
			FirstBatch []bson.Raw `bson:"firstBatch"`
		} `bson:"cursor"`
	}
	if err := bson.Unmarshal(reply, &out); err != nil {
		return nil, fmt.Errorf("mongo: decode aggregate reply: %w", err)
	}
	return out.Cursor.FirstBatch, nil
}

// Distinct returns the distinct values of key among documents matching
// query.
func (c *Collection) Distinct(ctx context.Context, key string, query bson.D) ([]any, error) {
	if query == nil {
		query = bson.D{}
	}
	cmd := bson.D{{Key: "distinct", Value: c.name}, {Key: "key", Value: key}, {Key: "query", Value: query}}
	reply, err := c.command(ctx, cmd, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Values []any `bson:"values"`
	}
	if err := bson.Unmarshal(reply, &out); err != nil {
		return nil, fmt.Errorf("mongo: decode distinct reply: %w", err)
	}
	return out.Values, nil
}

// CountOptions configures a Count call.
type CountOptions struct {
	Limit     int64
	Skip      int64
	Hint      string
	Collation bson.D
}

// Count returns the number of documents matching query.
func (c *Collection) Count(ctx context.Context, query bson.D, opts *CountOptions) (int64, error) {
	if query == nil {
		query = bson.D{}
	}
	if opts == nil {
		opts = &CountOptions{}
	}
	cmd := bson.D{{Key: "count", Value: c.name}, {Key: "query", Value: query}}
	if opts.Limit != 0 {
		cmd = append(cmd, bson.E{Key: "limit", Value: opts.Limit})
	}
	if opts.Skip != 0 {
		cmd = append(cmd, bson.E{Key: "skip", Value: opts.Skip})
	}
	if opts.Hint != "" {
		cmd = append(cmd, bson.E{Key: "hint", Value: opts.Hint})
	}
	if opts.Collation != nil {
		cmd = append(cmd, bson.E{Key: "collation", Value: opts.Collation})
	}
	reply, err := c.command(ctx, cmd, nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		N int64 `bson:"n"`
	}
	if err := bson.Unmarshal(reply, &out); err != nil {
		return 0, fmt.Errorf("mongo: decode count reply: %w", err)
	}
	return out.N, nil
}
