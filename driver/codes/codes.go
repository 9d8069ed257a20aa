// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package codes holds the static numeric-code to symbolic-name table used to
// classify server error replies. The table is read-only after init.
package codes

// Name returns the symbolic name for a MongoDB server error code, or the
// empty string if the code isn't in the table.
func Name(code int32) string {
	return table[code]
}

// table is a subset of MongoDB's error_codes.yml covering the codes this
// driver's own operations are expected to surface. It is not exhaustive of
// every server error code that exists.
var table = map[int32]string{
	0:     "OK",
	1:     "InternalError",
	2:     "BadValue",
	6:     "HostUnreachable",
	9:     "FailedToParse",
	10:    "UserNotFound",
	11:    "UnsupportedFormat",
	13:    "Unauthorized",
	18:    "AuthenticationFailed",
	20:    "IllegalOperation",
	26:    "NamespaceNotFound",
	31:    "NamespaceExists",
	43:    "CursorNotFound",
	50:    "MaxTimeMSExpired",
	59:    "CommandNotFound",
	61:    "ShardKeyNotFound",
	72:    "InvalidOptions",
	73:    "InvalidNamespace",
	79:    "IndexNotFound",
	85:    "IndexOptionsConflict",
	86:    "IndexKeySpecsConflict",
	89:    "NetworkTimeout",
	91:    "ShutdownInProgress",
	96:    "OperationFailed",
	112:   "WriteConflict",
	133:   "FailedToSatisfyReadPreference",
	189:   "PrimarySteppedDown",
	211:   "KeyNotFound",
	225:   "TransactionTooOld",
	244:   "TransactionAborted",
	246:   "TransactionCommitted",
	249:   "TransactionCoordinatorSteppedDown",
	250:   "TransactionExceededLifetimeLimit",
	251:   "NoSuchTransaction",
	256:   "TransactionTooLargeForCache",
	257:   "AtomicityFailure",
	261:   "RequestAlreadyFulfilled",
	264:   "PreparedTransactionInProgress",
	267:   "CannotDowngrade",
	11000: "DuplicateKey",
	11600: "InterruptedAtShutdown",
	11601: "Interrupted",
	10107: "NotPrimary",
	13435: "NotPrimaryNoSecondaryOk",
	13436: "NotPrimaryOrSecondary",
}
