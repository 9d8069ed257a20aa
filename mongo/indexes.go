// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Index describes one index specification for createIndexes.
type Index struct {
	Keys    bson.D
	Name    string
	Unique  bool
	Sparse  bool
	Options bson.D
}

func (i Index) toDocument() bson.D {
	doc := bson.D{{Key: "key", Value: i.Keys}}
	if i.Name != "" {
		doc = append(doc, bson.E{Key: "name", Value: i.Name})
	}
	if i.Unique {
		doc = append(doc, bson.E{Key: "unique", Value: true})
	}
	if i.Sparse {
		doc = append(doc, bson.E{Key: "sparse", Value: true})
	}
	doc = append(doc, i.Options...)
	return doc
}

// CreateIndexes builds the given indexes on the collection.
func (c *Collection) CreateIndexes(ctx context.Context, indexes []Index) error {
	specs := make(bson.A, 0, len(indexes))
	for _, idx := range indexes {
		specs = append(specs, idx.toDocument())
	}
	cmd := bson.D{{Key: "createIndexes", Value: c.name}, {Key: "indexes", Value: specs}}
	_, err := c.command(ctx, cmd, nil)
	return err
}

// ListIndexes returns the raw index specification documents currently
// defined on the collection.
func (c *Collection) ListIndexes(ctx context.Context) ([]bson.Raw, error) {
	reply, err := c.command(ctx, bson.D{{Key: "listIndexes", Value: c.name}}, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Cursor struct {
			FirstBatch []bson.Raw `bson:"firstBatch"`
		} `bson:"cursor"`
	}
	if err := bson.Unmarshal(reply, &out); err != nil {
		return nil, fmt.Errorf("mongo: decode listIndexes reply: %w", err)
	}
	return out.Cursor.FirstBatch, nil
}

// DropIndexes drops the named indexes, or every index but _id_ when names
// is "*".
func (c *Collection) DropIndexes(ctx context.Context, names string) error {
	cmd := bson.D{{Key: "dropIndexes", Value: c.name}, {Key: "index", Value: names}}
	_, err := c.command(ctx, cmd, nil)
	return err
}
