package session

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type recordingRunner struct {
	commands []bson.D
	fail     bool
}

func (r *recordingRunner) RunCommand(_ context.Context, _ string, cmd bson.D) (bson.Raw, error) {
	r.commands = append(r.commands, cmd)
	if r.fail {
		return nil, errors.New("boom")
	}
	return bson.Raw{}, nil
}

func newTestSession() *Session {
	id, _ := bson.Marshal(bson.D{{Key: "id", Value: "fake-uuid"}})
	return New(id)
}

func TestTransactionZeroActionsNoRPC(t *testing.T) {
	s := newTestSession()
	runner := &recordingRunner{}

	txn := WithTransaction(context.Background(), runner, s, func(ctx context.Context, txn *Transaction) error {
		return nil
	})

	if txn.State() != Aborted {
		t.Fatalf("zero-action scope exit should abort without RPC, got state %v", txn.State())
	}
	if len(runner.commands) != 0 {
		t.Fatalf("expected no commands sent, got %d", len(runner.commands))
	}
}

func TestTransactionCommitsOnSuccess(t *testing.T) {
	s := newTestSession()
	runner := &recordingRunner{}

	txn := WithTransaction(context.Background(), runner, s, func(ctx context.Context, txn *Transaction) error {
		txn.RecordSuccess()
		return nil
	})

	if txn.State() != Committed {
		t.Fatalf("expected COMMITTED, got %v", txn.State())
	}
	if len(runner.commands) != 1 {
		t.Fatalf("expected 1 commitTransaction RPC, got %d", len(runner.commands))
	}
	if runner.commands[0][0].Key != "commitTransaction" {
		t.Fatalf("expected commitTransaction, got %v", runner.commands[0][0].Key)
	}
}

func TestTransactionAbortsOnError(t *testing.T) {
	s := newTestSession()
	runner := &recordingRunner{}

	wantErr := errors.New("application failure")
	txn := WithTransaction(context.Background(), runner, s, func(ctx context.Context, txn *Transaction) error {
		txn.RecordSuccess()
		return wantErr
	})

	if txn.State() != Aborted {
		t.Fatalf("expected ABORTED, got %v", txn.State())
	}
	if txn.Err() != wantErr {
		t.Fatalf("expected captured error %v, got %v", wantErr, txn.Err())
	}
	if len(runner.commands) != 1 || runner.commands[0][0].Key != "abortTransaction" {
		t.Fatalf("expected 1 abortTransaction RPC, got %v", runner.commands)
	}
}

func TestTransactionMarkAbortedByFailingCommandFlushesAbortRPC(t *testing.T) {
	s := newTestSession()
	runner := &recordingRunner{}

	txn := WithTransaction(context.Background(), runner, s, func(ctx context.Context, txn *Transaction) error {
		txn.RecordSuccess()
		failure := errors.New("duplicate key")
		txn.MarkAborted(failure)
		return failure
	})

	if txn.State() != Aborted {
		t.Fatalf("expected ABORTED, got %v", txn.State())
	}
	if len(runner.commands) != 1 || runner.commands[0][0].Key != "abortTransaction" {
		t.Fatalf("expected abortTransaction flush, got %v", runner.commands)
	}
}

func TestApplyToSetsStartTransactionOnlyOnFirstCommand(t *testing.T) {
	s := newTestSession()
	txn := s.StartTransaction()
	if err := txn.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	first := txn.ApplyTo(bson.D{{Key: "insert", Value: "coll"}})
	if !hasKey(first, "startTransaction") {
		t.Fatalf("first command should carry startTransaction: %v", first)
	}

	txn.RecordSuccess()

	second := txn.ApplyTo(bson.D{{Key: "insert", Value: "coll"}})
	if hasKey(second, "startTransaction") {
		t.Fatalf("second command should not carry startTransaction: %v", second)
	}
}

func TestStartRejectsReentry(t *testing.T) {
	s := newTestSession()
	txn := s.StartTransaction()
	if err := txn.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := txn.Start(); err != ErrAlreadyUsed {
		t.Fatalf("expected ErrAlreadyUsed on re-entry, got %v", err)
	}
}

func TestTxnNumberNeverDecreasesAcrossTransactions(t *testing.T) {
	s := newTestSession()
	t1 := s.StartTransaction()
	t1.Start()
	t2 := s.StartTransaction()
	t2.Start()
	if t2.TxnNumber() <= t1.TxnNumber() {
		t.Fatalf("txnNumber should strictly increase: %d then %d", t1.TxnNumber(), t2.TxnNumber())
	}
}

func hasKey(d bson.D, key string) bool {
	for _, e := range d {
		if e.Key == key {
			return true
		}
	}
	return false
}
