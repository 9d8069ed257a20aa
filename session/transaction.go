package session

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// State is one of the Transaction state machine's four states.
type State int

const (
	None State = iota
	Started
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case None:
		return "NONE"
	case Started:
		return "STARTED"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// ErrAlreadyUsed is returned by Start when a Transaction has already left
// the NONE state; re-entry is forbidden.
var ErrAlreadyUsed = errors.New("session: transaction already started or ended")

// CommandRunner is the minimal capability Commit/Abort need: running one
// command against the owning session's connection. driver.Dispatcher
// satisfies this structurally.
type CommandRunner interface {
	RunCommand(ctx context.Context, dbName string, cmd bson.D) (bson.Raw, error)
}

// Transaction is one multi-statement unit on a Session. It is exclusively
// owned by the scope that entered it via Start or WithTransaction.
type Transaction struct {
	session     *Session
	txnNumber   int64
	state       State
	actionCount int
	err         error
}

// State returns the transaction's current state.
func (t *Transaction) State() State { return t.state }

// Err returns the failure captured when the transaction was aborted, or
// nil if it committed cleanly or hasn't ended.
func (t *Transaction) Err() error { return t.err }

// TxnNumber returns the transaction number assigned at Start.
func (t *Transaction) TxnNumber() int64 { return t.txnNumber }

// IsActive reports whether the transaction is in the STARTED state.
func (t *Transaction) IsActive() bool { return t.state == Started }

// IsEnded reports whether the transaction has reached a terminal state.
func (t *Transaction) IsEnded() bool { return t.state == Committed || t.state == Aborted }

// Start transitions NONE -> STARTED, assigning a fresh, session-monotonic
// txnNumber. Calling Start on a transaction that isn't in NONE is an error:
// re-entry is forbidden.
func (t *Transaction) Start() error {
	if t.state != None {
		return ErrAlreadyUsed
	}
	t.txnNumber = t.session.nextTxnNumber()
	t.state = Started
	return nil
}

// ApplyTo stamps cmd with this transaction's lsid/txnNumber/autocommit
// fields, appending startTransaction:true only when no command has yet
// completed successfully on this transaction (actionCount == 0). It is
// idempotent: calling it twice with the same actionCount produces the same
// metadata. It does not itself advance actionCount; the dispatcher does
// that only after a command completes successfully.
func (t *Transaction) ApplyTo(cmd bson.D) bson.D {
	out := make(bson.D, 0, len(cmd)+4)
	out = append(out, cmd...)
	if t.actionCount == 0 {
		out = append(out, bson.E{Key: "startTransaction", Value: true})
	}
	out = append(out,
		bson.E{Key: "txnNumber", Value: t.txnNumber},
		bson.E{Key: "autocommit", Value: false},
		bson.E{Key: "lsid", Value: t.session.Document()},
	)
	return out
}

// RecordSuccess increments the action count after a command attached to
// this transaction completes successfully.
func (t *Transaction) RecordSuccess() {
	t.actionCount++
}

// MarkAborted transitions the transaction to ABORTED and captures the
// failing error, without sending abortTransaction. The dispatcher calls
// this immediately when a command attached to an active transaction fails,
// per the design's "abort on first failing command" rule; the scope exit
// still issues the abortTransaction RPC if actionCount > 0.
func (t *Transaction) MarkAborted(err error) {
	if t.IsEnded() {
		return
	}
	t.state = Aborted
	t.err = err
}

// Commit sends commitTransaction and transitions to COMMITTED. It is a
// no-op if the transaction has already ended; if the transaction never
// issued a command it moves to COMMITTED without sending anything.
func (t *Transaction) Commit(ctx context.Context, runner CommandRunner) error {
	if !t.IsActive() {
		return nil
	}
	if t.actionCount == 0 {
		t.state = Committed
		return nil
	}
	cmd := bson.D{
		{Key: "commitTransaction", Value: 1},
		{Key: "lsid", Value: t.session.Document()},
		{Key: "txnNumber", Value: t.txnNumber},
		{Key: "autocommit", Value: false},
	}
	_, err := runner.RunCommand(ctx, "admin", cmd)
	if err != nil {
		t.state = Aborted
		t.err = err
		return err
	}
	t.state = Committed
	return nil
}

// Abort sends abortTransaction (iff the transaction issued at least one
// command) and transitions to ABORTED. It is a no-op if the transaction has
// already ended.
func (t *Transaction) Abort(ctx context.Context, runner CommandRunner) error {
	if !t.IsActive() {
		return nil
	}
	if t.actionCount == 0 {
		t.state = Aborted
		return nil
	}
	cmd := bson.D{
		{Key: "abortTransaction", Value: 1},
		{Key: "lsid", Value: t.session.Document()},
		{Key: "txnNumber", Value: t.txnNumber},
		{Key: "autocommit", Value: false},
	}
	_, err := runner.RunCommand(ctx, "admin", cmd)
	t.state = Aborted
	return err
}

// WithTransaction starts a transaction on s, runs fn, and commits or aborts
// it on exit according to whether fn returned an error: success with
// actionCount > 0 commits; success with no command issued ends ABORTED
// without an RPC; failure, or a transaction already marked
// ABORTED by a failing command inside fn, aborts. The original error from
// fn is suppressed — callers inspect the returned Transaction's State and
// Err, matching the semantics of a scoped transaction context that doesn't
// need distinct commit/abort call sites at the use site.
func WithTransaction(ctx context.Context, runner CommandRunner, s *Session, fn func(ctx context.Context, txn *Transaction) error) *Transaction {
	txn := s.StartTransaction()
	if err := txn.Start(); err != nil {
		txn.err = err
		return txn
	}

	fnErr := fn(ctx, txn)

	if txn.IsEnded() {
		// fn (or a command it issued) already aborted the transaction via
		// MarkAborted; still need to flush the abortTransaction RPC if a
		// command had succeeded before the failure.
		if txn.state == Aborted && txn.actionCount > 0 {
			cmd := bson.D{
				{Key: "abortTransaction", Value: 1},
				{Key: "lsid", Value: txn.session.Document()},
				{Key: "txnNumber", Value: txn.txnNumber},
				{Key: "autocommit", Value: false},
			}
			runner.RunCommand(ctx, "admin", cmd)
		}
		return txn
	}

	if fnErr != nil {
		txn.err = fnErr
		txn.Abort(ctx, runner)
		return txn
	}

	if txn.actionCount == 0 {
		txn.state = Aborted
		return txn
	}

	txn.Commit(ctx, runner)
	return txn
}
