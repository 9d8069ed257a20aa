// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// HelloResult captures the server capabilities a client needs after the
// initial handshake: which compressors it will accept, which SCRAM
// mechanisms a given user supports, and basic identifying metadata.
type HelloResult struct {
	SaslSupportedMechs []string  `bson:"saslSupportedMechs"`
	Compression        []string  `bson:"compression"`
	ConnectionID       int32     `bson:"connectionId"`
	LocalTime          time.Time `bson:"localTime"`
	ReadOnly           bool      `bson:"readOnly"`
	MaxWireVersion     int32     `bson:"maxWireVersion"`
	MaxBSONObjectSize  int32     `bson:"maxBsonObjectSize"`
	MaxMessageSizeBytes int32    `bson:"maxMessageSizeBytes"`
}

// Hello runs the initial handshake command. When username is non-empty the
// server is asked to include saslSupportedMechs for that user in the reply,
// so the caller can select a SCRAM mechanism before authenticating.
func (d *Dispatcher) Hello(ctx context.Context, username string) (*HelloResult, error) {
	cmd := bson.D{{Key: "hello", Value: 1}}
	if username != "" {
		cmd = append(cmd, bson.E{Key: "saslSupportedMechs", Value: "admin." + username})
	}

	reply, err := d.RunCommand(ctx, "admin", cmd)
	if err != nil {
		return nil, err
	}

	var result HelloResult
	if err := bson.Unmarshal(reply, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
