// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package auth implements the SCRAM-SHA-1 / SCRAM-SHA-256 handshake
// described in RFC 5802, adapted to MongoDB's saslStart/saslContinue
// commands.
package auth

import "os"

// Credentials identifies a user to authenticate as. It is immutable once
// constructed and is consumed, never mutated, by the Auth Engine.
type Credentials struct {
	Username string
	Password string
	// AuthSource is the database the credentials are defined in. Defaults
	// to "admin" when empty.
	AuthSource string
}

// Source returns the authentication database, defaulting to "admin".
func (c Credentials) Source() string {
	if c.AuthSource == "" {
		return "admin"
	}
	return c.AuthSource
}

// FromEnvironment builds Credentials from MONGO_USER, MONGO_PASSWORD and
// MONGO_DB (defaulting AuthSource to "admin" per spec when MONGO_DB is
// unset). It returns false if MONGO_USER is not set.
func FromEnvironment() (Credentials, bool) {
	user, ok := os.LookupEnv("MONGO_USER")
	if !ok || user == "" {
		return Credentials{}, false
	}
	return Credentials{
		Username:   user,
		Password:   os.Getenv("MONGO_PASSWORD"),
		AuthSource: os.Getenv("MONGO_DB"),
	}, true
}
