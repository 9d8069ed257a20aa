// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"fmt"

	"github.com/kovergo/kover/session"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// WriteModel is one operation in a BulkWrite call.
type WriteModel interface {
	kind() string
}

// InsertOneModel inserts a single document. An _id is assigned if absent.
type InsertOneModel struct{ Document bson.D }

func (InsertOneModel) kind() string { return "insert" }

// UpdateOneModel updates at most one document matching Filter.
type UpdateOneModel struct {
	Filter bson.D
	Update bson.D
	Upsert bool
}

func (UpdateOneModel) kind() string { return "update" }

// UpdateManyModel updates every document matching Filter.
type UpdateManyModel struct {
	Filter bson.D
	Update bson.D
	Upsert bool
}

func (UpdateManyModel) kind() string { return "update" }

// DeleteOneModel deletes at most one document matching Filter.
type DeleteOneModel struct{ Filter bson.D }

func (DeleteOneModel) kind() string { return "delete" }

// DeleteManyModel deletes every document matching Filter.
type DeleteManyModel struct{ Filter bson.D }

func (DeleteManyModel) kind() string { return "delete" }

// BulkWriteResult aggregates the counts reported across every command
// BulkWrite compiled and sent.
type BulkWriteResult struct {
	InsertedIDs   []bson.ObjectID
	ModifiedCount int32
	DeletedCount  int32
}

// BulkWrite compiles ops into per-namespace insert/update/delete commands,
// one command per maximal run of same-kind operations in input order, and
// sends them in that order.
func (c *Collection) BulkWrite(ctx context.Context, ops []WriteModel, txn *session.Transaction) (*BulkWriteResult, error) {
	result := &BulkWriteResult{}

	i := 0
	for i < len(ops) {
		kind := ops[i].kind()
		j := i + 1
		for j < len(ops) && ops[j].kind() == kind {
			j++
		}
		run := ops[i:j]

		switch kind {
		case "insert":
			docs := make([]bson.D, 0, len(run))
			for _, m := range run {
				docs = append(docs, m.(InsertOneModel).Document)
			}
			ids, err := c.InsertMany(ctx, docs, txn)
			if err != nil {
				return result, err
			}
			result.InsertedIDs = append(result.InsertedIDs, ids...)

		case "update":
			updates := make(bson.A, 0, len(run))
			for _, m := range run {
				switch u := m.(type) {
				case UpdateOneModel:
					updates = append(updates, bson.D{
						{Key: "q", Value: u.Filter}, {Key: "u", Value: u.Update},
						{Key: "multi", Value: false}, {Key: "upsert", Value: u.Upsert},
					})
				case UpdateManyModel:
					updates = append(updates, bson.D{
						{Key: "q", Value: u.Filter}, {Key: "u", Value: u.Update},
						{Key: "multi", Value: true}, {Key: "upsert", Value: u.Upsert},
					})
				}
			}
			cmd := bson.D{{Key: "update", Value: c.name}, {Key: "ordered", Value: true}, {Key: "updates", Value: updates}}
			reply, err := c.command(ctx, cmd, txn)
			if err != nil {
				return result, err
			}
			var out nModifiedReply
			if err := bson.Unmarshal(reply, &out); err != nil {
				return result, fmt.Errorf("mongo: decode bulk update reply: %w", err)
			}
			result.ModifiedCount += out.NModified

		case "delete":
			deletes := make(bson.A, 0, len(run))
			for _, m := range run {
				switch d := m.(type) {
				case DeleteOneModel:
					deletes = append(deletes, bson.D{{Key: "q", Value: d.Filter}, {Key: "limit", Value: 1}})
				case DeleteManyModel:
					deletes = append(deletes, bson.D{{Key: "q", Value: d.Filter}, {Key: "limit", Value: 0}})
				}
			}
			cmd := bson.D{{Key: "delete", Value: c.name}, {Key: "ordered", Value: true}, {Key: "deletes", Value: deletes}}
			reply, err := c.command(ctx, cmd, txn)
			if err != nil {
				return result, err
			}
			var out nReply
			if err := bson.Unmarshal(reply, &out); err != nil {
				return result, fmt.Errorf("mongo: decode bulk delete reply: %w", err)
			}
			result.DeletedCount += out.N
		}

		i = j
	}

	return result, nil
}
