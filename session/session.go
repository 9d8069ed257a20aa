// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package session implements the logical Session and the Transaction state
// machine described in the core design: a Session holds the server-assigned
// lsid; a Transaction owned by a Session drives NONE -> STARTED ->
// {COMMITTED, ABORTED}.
package session

import (
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Session is a server-tracked logical session. Sessions are owned by the
// scope that created them and are not safe to share across concurrent
// goroutines.
type Session struct {
	id            bson.Raw
	lastTxnNumber atomic.Int64
}

// New wraps the lsid document returned by a startSession command.
func New(id bson.Raw) *Session {
	return &Session{id: id}
}

// Document returns the lsid document to embed as "lsid" in commands issued
// on behalf of this session.
func (s *Session) Document() bson.Raw {
	return s.id
}

// StartTransaction returns a fresh, not-yet-started Transaction scoped to
// this session. Call Start (or use WithTransaction) to enter it.
func (s *Session) StartTransaction() *Transaction {
	return &Transaction{session: s}
}

// nextTxnNumber returns a transaction number that is guaranteed to be
// strictly greater than any previously issued for this session. Seeding
// from a monotonic counter rather than wall-clock avoids ever handing out
// a duplicate or decreasing number even across rapid successive calls.
func (s *Session) nextTxnNumber() int64 {
	return s.lastTxnNumber.Add(1)
}
