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

// Database is a value object naming one database on the owning Client; it
// performs no I/O itself.
type Database struct {
	name   string
	client *Client
}

// Name returns the database name.
func (d *Database) Name() string { return d.name }

// Collection returns a value object for the named collection.
func (d *Database) Collection(name string) *Collection {
	return &Collection{name: name, db: d}
}

// Command runs a raw command against this database, applying txn's envelope
// metadata when txn is non-nil and active.
func (d *Database) Command(ctx context.Context, cmd bson.D, txn *session.Transaction) (bson.Raw, error) {
	return d.client.dispatch.Run(ctx, d.name, cmd, txn)
}

// CollectionNames lists the collections that currently exist in this
// database.
func (d *Database) CollectionNames(ctx context.Context) ([]string, error) {
	reply, err := d.Command(ctx, bson.D{{Key: "listCollections", Value: 1.0}}, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Cursor struct {
			FirstBatch []struct {
				Name string `bson:"name"`
			} `bson:"firstBatch"`
		} `bson:"cursor"`
	}
	if err := bson.Unmarshal(reply, &out); err != nil {
		return nil, fmt.Errorf("mongo: decode listCollections reply: %w", err)
	}
	names := make([]string, 0, len(out.Cursor.FirstBatch))
	for _, c := range out.Cursor.FirstBatch {
		names = append(names, c.Name)
	}
	return names, nil
}

// CreateCollection creates a collection with the given creation options
// (e.g. capped, size, validator) and returns a handle to it.
func (d *Database) CreateCollection(ctx context.Context, name string, params bson.D) (*Collection, error) {
	cmd := append(bson.D{{Key: "create", Value: name}}, params...)
	if _, err := d.Command(ctx, cmd, nil); err != nil {
		return nil, err
	}
	return d.Collection(name), nil
}

// DropCollection drops the named collection.
func (d *Database) DropCollection(ctx context.Context, name string) error {
	_, err := d.Command(ctx, bson.D{{Key: "drop", Value: name}}, nil)
	return err
}

// CreateUser creates a database user scoped to this database.
func (d *Database) CreateUser(ctx context.Context, username, password string, roles bson.A, mechanisms ...string) error {
	if len(mechanisms) == 0 {
		mechanisms = []string{"SCRAM-SHA-1", "SCRAM-SHA-256"}
	}
	mechArray := make(bson.A, 0, len(mechanisms))
	for _, m := range mechanisms {
		mechArray = append(mechArray, m)
	}
	cmd := bson.D{
		{Key: "createUser", Value: username},
		{Key: "pwd", Value: password},
		{Key: "roles", Value: roles},
		{Key: "mechanisms", Value: mechArray},
	}
	_, err := d.Command(ctx, cmd, nil)
	return err
}

// DropUser drops the named database user.
func (d *Database) DropUser(ctx context.Context, username string) error {
	_, err := d.Command(ctx, bson.D{{Key: "dropUser", Value: username}}, nil)
	return err
}

// UsersInfo reports info for the given database users (empty means all).
func (d *Database) UsersInfo(ctx context.Context, usernames ...string) (bson.Raw, error) {
	var selector any = 1.0
	if len(usernames) > 0 {
		arr := make(bson.A, 0, len(usernames))
		for _, u := range usernames {
			arr = append(arr, u)
		}
		selector = arr
	}
	return d.Command(ctx, bson.D{{Key: "usersInfo", Value: selector}}, nil)
}

// GrantRolesToUser grants additional roles to an existing user.
func (d *Database) GrantRolesToUser(ctx context.Context, username string, roles bson.A) error {
	cmd := bson.D{{Key: "grantRolesToUser", Value: username}, {Key: "roles", Value: roles}}
	_, err := d.Command(ctx, cmd, nil)
	return err
}

// ListUsers returns the raw system.users documents for this database, via a
// find rather than the privileged usersInfo command.
func (d *Database) ListUsers(ctx context.Context) ([]bson.Raw, error) {
	reply, err := d.Command(ctx, bson.D{{Key: "find", Value: "system.users"}, {Key: "filter", Value: bson.D{}}}, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Cursor struct {
			FirstBatch []bson.Raw `bson:"firstBatch"`
		} `bson:"cursor"`
	}
	if err := bson.Unmarshal(reply, &out); err != nil {
		return nil, fmt.Errorf("mongo: decode find reply: %w", err)
	}
	return out.Cursor.FirstBatch, nil
}
