// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"fmt"

	"github.com/kovergo/kover/driver/codes"
)

// TransientTransactionErrorLabel marks an OperationFailure that the server
// attached to a failed command inside an active transaction, telling the
// caller the transaction was aborted server-side and may be retried on a
// fresh attempt.
const TransientTransactionErrorLabel = "TransientTransactionError"

// OperationFailure is returned by Dispatcher.RunCommand when a command
// reply is not ok:1, either from a writeErrors entry or the reply's
// top-level code/errmsg.
type OperationFailure struct {
	Code     int32
	CodeName string
	Message  string
	Labels   []string
}

func (e *OperationFailure) Error() string {
	if e.CodeName != "" {
		return fmt.Sprintf("server returned error %d (%s): %s", e.Code, e.CodeName, e.Message)
	}
	return fmt.Sprintf("server returned error %d: %s", e.Code, e.Message)
}

// HasLabel reports whether the error carries the given error label.
func (e *OperationFailure) HasLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// newOperationFailure attaches a symbolic name to code, preferring one the
// server already sent (codeNameHint) and falling back to the static codes
// table when the server omitted it.
func newOperationFailure(code int32, codeNameHint, message string, labels []string) *OperationFailure {
	name := codeNameHint
	if name == "" {
		name = codes.Name(code)
	}
	return &OperationFailure{
		Code:     code,
		CodeName: name,
		Message:  message,
		Labels:   labels,
	}
}
