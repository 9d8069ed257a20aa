// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package mongo is the typed, user-facing layer: Client, Database, and
// Collection wrap the driver package's dispatcher with the CRUD, index,
// and admin command contracts.
package mongo

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/kovergo/kover/auth"
	"github.com/kovergo/kover/connection"
	"github.com/kovergo/kover/driver"
	"github.com/kovergo/kover/internal/compressor"
	"github.com/kovergo/kover/session"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Config holds connection-level options assembled via Option.
type Config struct {
	TLS         *tls.Config
	Credentials *auth.Credentials
	Compressors []string
	AppName     string
}

// Option configures a Config.
type Option func(*Config)

// WithTLS enables TLS using the given configuration.
func WithTLS(cfg *tls.Config) Option {
	return func(c *Config) { c.TLS = cfg }
}

// WithCredentials authenticates the connection after the hello handshake.
func WithCredentials(creds auth.Credentials) Option {
	return func(c *Config) { c.Credentials = &creds }
}

// WithCompressors sets the compressor names, in preference order, that
// Connect may use for outbound requests. Supported names: "snappy", "zlib",
// "zstd". The names are not sent in the hello command; Connect picks the
// first of them that the server's hello reply lists under "compression".
func WithCompressors(names ...string) Option {
	return func(c *Config) { c.Compressors = names }
}

// WithAppName records an application name in Config. Connect does not send
// it to the server; the hello command carries no client metadata.
func WithAppName(name string) Option {
	return func(c *Config) { c.AppName = name }
}

// Client is a single authenticated connection to one mongod/mongos,
// matching the core design's single-connection scope (no pooling, no
// topology discovery).
type Client struct {
	conn      *connection.Connection
	dispatch  *driver.Dispatcher
	signature []byte
}

// Connect dials addr ("host:port"), runs the hello handshake, negotiates a
// compressor, and authenticates via SCRAM if credentials were supplied.
func Connect(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}

	var connOpts []connection.Option
	if cfg.TLS != nil {
		connOpts = append(connOpts, connection.WithTLS(cfg.TLS))
	}

	conn, err := connection.Dial(ctx, addr, connOpts...)
	if err != nil {
		return nil, err
	}

	dispatch := driver.New(conn)

	username := ""
	if cfg.Credentials != nil {
		username = cfg.Credentials.Username
	}
	hello, err := dispatch.Hello(ctx, username)
	if err != nil {
		conn.Close()
		return nil, err
	}

	negotiateCompressor(conn, cfg.Compressors, hello.Compression)

	client := &Client{conn: conn, dispatch: dispatch}

	if cfg.Credentials != nil {
		mechanism, err := auth.SelectMechanism(hello.SaslSupportedMechs)
		if err != nil {
			conn.Close()
			return nil, err
		}
		sig, err := auth.Authenticate(ctx, dispatch, *cfg.Credentials, mechanism)
		if err != nil {
			conn.Close()
			return nil, err
		}
		client.signature = sig
	}

	return client, nil
}

// negotiateCompressor picks the first of wanted that the server also
// offered and sets it as the connection's outbound compressor.
func negotiateCompressor(conn *connection.Connection, wanted, offered []string) {
	offeredSet := make(map[string]bool, len(offered))
	for _, o := range offered {
		offeredSet[o] = true
	}
	for _, name := range wanted {
		if !offeredSet[name] {
			continue
		}
		if cm, ok := compressor.ByName(name); ok {
			conn.SetOutboundCompressor(cm)
			return
		}
	}
}

// NewClient wraps an already-dialed (and, if needed, already-authenticated)
// Connection as a Client, skipping the hello/compressor/SCRAM orchestration
// Connect performs. Most callers want Connect instead; this is for callers
// that manage the handshake themselves.
func NewClient(conn *connection.Connection) *Client {
	return &Client{conn: conn, dispatch: driver.New(conn)}
}

// Database returns a value object for the named database; it does not
// perform any I/O.
func (c *Client) Database(name string) *Database {
	return &Database{name: name, client: c}
}

// RunCommand runs a raw admin-level command with no transaction attached.
func (c *Client) RunCommand(ctx context.Context, dbName string, cmd bson.D) (bson.Raw, error) {
	return c.dispatch.RunCommand(ctx, dbName, cmd)
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// StartSession begins a new logical session.
func (c *Client) StartSession(ctx context.Context) (*session.Session, error) {
	reply, err := c.dispatch.RunCommand(ctx, "admin", bson.D{{Key: "startSession", Value: 1.0}})
	if err != nil {
		return nil, err
	}
	var out struct {
		ID bson.Raw `bson:"id"`
	}
	if err := bson.Unmarshal(reply, &out); err != nil {
		return nil, fmt.Errorf("mongo: decode startSession reply: %w", err)
	}
	return session.New(out.ID), nil
}

// RefreshSessions extends the server-side lifetime of the given sessions.
func (c *Client) RefreshSessions(ctx context.Context, sessions []*session.Session) error {
	docs := make(bson.A, 0, len(sessions))
	for _, s := range sessions {
		docs = append(docs, s.Document())
	}
	_, err := c.dispatch.RunCommand(ctx, "admin", bson.D{{Key: "refreshSessions", Value: docs}})
	return err
}

// EndSessions releases the given sessions server-side.
func (c *Client) EndSessions(ctx context.Context, sessions []*session.Session) error {
	docs := make(bson.A, 0, len(sessions))
	for _, s := range sessions {
		docs = append(docs, s.Document())
	}
	_, err := c.dispatch.RunCommand(ctx, "admin", bson.D{{Key: "endSessions", Value: docs}})
	return err
}

// Logout ends the authenticated session established by Connect.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.dispatch.RunCommand(ctx, "admin", bson.D{{Key: "logout", Value: 1.0}})
	return err
}

// ListDatabaseNames returns the names of every database visible to the
// current credentials.
func (c *Client) ListDatabaseNames(ctx context.Context) ([]string, error) {
	reply, err := c.dispatch.RunCommand(ctx, "admin", bson.D{
		{Key: "listDatabases", Value: 1.0},
		{Key: "nameOnly", Value: true},
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Databases []struct {
			Name string `bson:"name"`
		} `bson:"databases"`
	}
	if err := bson.Unmarshal(reply, &out); err != nil {
		return nil, fmt.Errorf("mongo: decode listDatabases reply: %w", err)
	}
	names := make([]string, 0, len(out.Databases))
	for _, d := range out.Databases {
		names = append(names, d.Name)
	}
	return names, nil
}

// BuildInfo reports the server's build metadata.
type BuildInfo struct {
	Version           string   `bson:"version"`
	GitVersion        string   `bson:"gitVersion"`
	Allocator         string   `bson:"allocator"`
	JavascriptEngine  string   `bson:"javascriptEngine"`
	VersionArray      []int32  `bson:"versionArray"`
	Debug             bool     `bson:"debug"`
	MaxBSONObjectSize int32    `bson:"maxBsonObjectSize"`
	StorageEngines    []string `bson:"storageEngines"`
}

// BuildInfo runs the buildInfo command.
func (c *Client) BuildInfo(ctx context.Context) (*BuildInfo, error) {
	reply, err := c.dispatch.RunCommand(ctx, "admin", bson.D{{Key: "buildInfo", Value: 1.0}})
	if err != nil {
		return nil, err
	}
	var info BuildInfo
	if err := bson.Unmarshal(reply, &info); err != nil {
		return nil, fmt.Errorf("mongo: decode buildInfo reply: %w", err)
	}
	return &info, nil
}
