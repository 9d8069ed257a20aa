// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"

	"github.com/kovergo/kover/driver"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// DropDatabase drops the named database.
func (c *Client) DropDatabase(ctx context.Context, name string) error {
	_, err := c.dispatch.RunCommand(ctx, name, bson.D{{Key: "dropDatabase", Value: 1.0}})
	return err
}

// GetLog retrieves the named in-memory log buffer ("global", "rs", or
// "startupWarnings").
func (c *Client) GetLog(ctx context.Context, name string) ([]string, error) {
	reply, err := c.dispatch.RunCommand(ctx, "admin", bson.D{{Key: "getLog", Value: name}})
	if err != nil {
		return nil, err
	}
	var out struct {
		Log []string `bson:"log"`
	}
	if err := bson.Unmarshal(reply, &out); err != nil {
		return nil, err
	}
	return out.Log, nil
}

// Fsync flushes pending writes to disk, optionally locking the server
// against further writes until FsyncUnlock is called.
func (c *Client) Fsync(ctx context.Context, lock bool) error {
	cmd := bson.D{{Key: "fsync", Value: 1.0}}
	if lock {
		cmd = append(cmd, bson.E{Key: "lock", Value: true})
	}
	_, err := c.dispatch.RunCommand(ctx, "admin", cmd)
	return err
}

// FsyncUnlock releases a lock taken by Fsync(ctx, true).
func (c *Client) FsyncUnlock(ctx context.Context) error {
	_, err := c.dispatch.RunCommand(ctx, "admin", bson.D{{Key: "fsyncUnlock", Value: 1.0}})
	return err
}

// RenameCollection renames a collection, identified by full "db.collection"
// namespaces.
func (c *Client) RenameCollection(ctx context.Context, from, to string, dropTarget bool) error {
	cmd := bson.D{
		{Key: "renameCollection", Value: from},
		{Key: "to", Value: to},
		{Key: "dropTarget", Value: dropTarget},
	}
	_, err := c.dispatch.RunCommand(ctx, "admin", cmd)
	return err
}

// Shutdown asks the server to shut down. The server typically closes the
// connection without replying, so a transport-level error from the
// in-flight request is expected and not returned; only a classified
// OperationFailure (meaning the server rejected the request outright) is.
func (c *Client) Shutdown(ctx context.Context, force bool) error {
	cmd := bson.D{{Key: "shutdown", Value: 1.0}}
	if force {
		cmd = append(cmd, bson.E{Key: "force", Value: true})
	}
	_, err := c.dispatch.RunCommand(ctx, "admin", cmd)
	if _, ok := err.(*driver.OperationFailure); ok {
		return err
	}
	return nil
}

// ReplSetInitiate initializes a new replica set with the given
// configuration document.
func (c *Client) ReplSetInitiate(ctx context.Context, config bson.D) error {
	_, err := c.dispatch.RunCommand(ctx, "admin", bson.D{{Key: "replSetInitiate", Value: config}})
	return err
}

// ReplSetReconfig applies a new configuration document to an existing
// replica set.
func (c *Client) ReplSetReconfig(ctx context.Context, config bson.D, force bool) error {
	cmd := bson.D{{Key: "replSetReconfig", Value: config}}
	if force {
		cmd = append(cmd, bson.E{Key: "force", Value: true})
	}
	_, err := c.dispatch.RunCommand(ctx, "admin", cmd)
	return err
}

// ReplSetGetStatus returns the raw replica set status document.
func (c *Client) ReplSetGetStatus(ctx context.Context) (bson.Raw, error) {
	return c.dispatch.RunCommand(ctx, "admin", bson.D{{Key: "replSetGetStatus", Value: 1.0}})
}

// SetUserWriteBlockMode enables or disables the cluster-wide user write
// block.
func (c *Client) SetUserWriteBlockMode(ctx context.Context, block bool) error {
	cmd := bson.D{{Key: "setUserWriteBlockMode", Value: 1.0}, {Key: "global", Value: block}}
	_, err := c.dispatch.RunCommand(ctx, "admin", cmd)
	return err
}
