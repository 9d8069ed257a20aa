// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/kovergo/kover/auth"
)

// UsageError reports a malformed connection string or an invalid call
// argument at the mongo package's public surface.
type UsageError struct {
	Reason string
}

func (e *UsageError) Error() string { return "mongo: " + e.Reason }

// ParsedURI is the result of parsing a mongodb:// connection string: just
// enough to dial and authenticate, per the core design's scope (no replica
// set member lists, no read preference, no write concern parsing).
type ParsedURI struct {
	Host        string
	Credentials *auth.Credentials
	TLS         bool
	Compressors []string
}

// Addr returns "host:port" suitable for connection.Dial.
func (p *ParsedURI) Addr() string { return p.Host }

// ParseURI parses a mongodb://[user[:pass]@]host[:port][/db][?option=value]
// connection string. Only the core's recognized options are honored:
// tls, compressors, authsource; maxpoolsize is accepted and ignored since
// this driver is always a single connection.
func ParseURI(uri string) (*ParsedURI, error) {
	if !strings.HasPrefix(uri, "mongodb://") {
		return nil, &UsageError{Reason: fmt.Sprintf("unsupported scheme in %q, expected mongodb://", uri)}
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, &UsageError{Reason: "malformed URI: " + err.Error()}
	}
	if u.Host == "" {
		return nil, &UsageError{Reason: "missing host"}
	}

	host := u.Host
	if !strings.Contains(host, ":") {
		host += ":27017"
	}

	result := &ParsedURI{Host: host}

	authSource := "admin"
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		authSource = db
	}

	if u.User != nil {
		username := u.User.Username()
		password, _ := u.User.Password()
		result.Credentials = &auth.Credentials{
			Username:   username,
			Password:   password,
			AuthSource: authSource,
		}
	}

	q := u.Query()
	if v := q.Get("authsource"); v != "" && result.Credentials != nil {
		result.Credentials.AuthSource = v
	}
	if v := q.Get("tls"); v != "" {
		switch v {
		case "true":
			result.TLS = true
		case "false":
			result.TLS = false
		default:
			return nil, &UsageError{Reason: fmt.Sprintf("invalid tls option %q, expected true or false", v)}
		}
	}
	if v := q.Get("compressors"); v != "" {
		result.Compressors = strings.Split(v, ",")
	}

	return result, nil
}
