// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package driver assembles command envelopes, sends them over a Connection,
// and classifies the reply into a decoded document or a typed
// OperationFailure. It is the one place that knows about both wire bytes and
// document semantics: everything below it (wiremessage, connection) is
// BSON-agnostic, and everything above it (mongo, gridfs, cursor) only ever
// sees RunCommand's decoded-document-or-error contract.
package driver

import (
	"context"

	"github.com/kovergo/kover/connection"
	"github.com/kovergo/kover/session"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Dispatcher wraps a single Connection with envelope assembly and reply
// classification. It implements the CommandRunner interface both the auth
// and session packages declare independently, so it can drive SCRAM
// handshakes and commit/abort without either package importing driver.
type Dispatcher struct {
	conn *connection.Connection
}

// New wraps an already-dialed Connection.
func New(conn *connection.Connection) *Dispatcher {
	return &Dispatcher{conn: conn}
}

// RunCommand sends cmd against dbName with no transaction attached. It
// satisfies auth.CommandRunner and session.CommandRunner.
func (d *Dispatcher) RunCommand(ctx context.Context, dbName string, cmd bson.D) (bson.Raw, error) {
	return d.Run(ctx, dbName, cmd, nil)
}

// Run sends cmd against dbName, applying txn's envelope metadata when txn is
// non-nil and active. On success, if txn is attached its action count is
// incremented. On failure, if txn is attached it is marked ABORTED with the
// captured error before the error is returned to the caller.
func (d *Dispatcher) Run(ctx context.Context, dbName string, cmd bson.D, txn *session.Transaction) (bson.Raw, error) {
	envelope := withDB(cmd, dbName)
	if txn != nil && txn.IsActive() {
		envelope = txn.ApplyTo(envelope)
	}

	raw, err := bson.Marshal(envelope)
	if err != nil {
		return nil, err
	}

	replyBytes, err := d.conn.RoundTrip(ctx, raw)
	if err != nil {
		if txn != nil {
			txn.MarkAborted(err)
		}
		return nil, err
	}

	reply := bson.Raw(replyBytes)
	opErr := classify(reply)
	if opErr != nil {
		if txn != nil {
			txn.MarkAborted(opErr)
		}
		return nil, opErr
	}

	if txn != nil {
		txn.RecordSuccess()
	}
	return reply, nil
}

func withDB(cmd bson.D, dbName string) bson.D {
	out := make(bson.D, 0, len(cmd)+1)
	out = append(out, cmd...)
	out = append(out, bson.E{Key: "$db", Value: dbName})
	return out
}

// replyEnvelope decodes only the fields classification needs; the caller
// gets the full raw reply back for its own typed decoding.
type replyEnvelope struct {
	OK           float64        `bson:"ok"`
	Code         int32          `bson:"code"`
	CodeName     string         `bson:"codeName"`
	ErrMsg       string         `bson:"errmsg"`
	ErrorLabels  []string       `bson:"errorLabels"`
	WriteErrors  []writeErrDoc  `bson:"writeErrors"`
	WriteConcern *writeErrDoc   `bson:"writeConcernError"`
}

type writeErrDoc struct {
	Code     int32  `bson:"code"`
	CodeName string `bson:"codeName"`
	ErrMsg   string `bson:"errmsg"`
}

// classify implements the reply classification rules: a writeErrors entry
// (first one) or a writeConcernError takes precedence over a failing
// top-level ok, which in turn takes precedence over success. Returns nil for
// a clean ok:1 reply with no writeErrors.
func classify(reply bson.Raw) *OperationFailure {
	var env replyEnvelope
	if err := bson.Unmarshal(reply, &env); err != nil {
		return newOperationFailure(0, "", "malformed reply: "+err.Error(), nil)
	}

	if len(env.WriteErrors) > 0 {
		first := env.WriteErrors[0]
		return newOperationFailure(first.Code, first.CodeName, first.ErrMsg, env.ErrorLabels)
	}

	if env.WriteConcern != nil {
		return newOperationFailure(env.WriteConcern.Code, env.WriteConcern.CodeName, env.WriteConcern.ErrMsg, env.ErrorLabels)
	}

	if env.OK == 1.0 {
		return nil
	}

	return newOperationFailure(env.Code, env.CodeName, env.ErrMsg, env.ErrorLabels)
}
