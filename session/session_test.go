package session

import (
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestDocumentReturnsStoredLsid(t *testing.T) {
	id, _ := bson.Marshal(bson.D{{Key: "id", Value: "abc"}})
	s := New(id)
	if string(s.Document()) != string(id) {
		t.Fatalf("Document() did not round-trip the lsid")
	}
}

func TestNextTxnNumberStrictlyIncreases(t *testing.T) {
	s := newTestSession()
	prev := s.nextTxnNumber()
	for i := 0; i < 100; i++ {
		next := s.nextTxnNumber()
		if next <= prev {
			t.Fatalf("txnNumber did not strictly increase: %d then %d", prev, next)
		}
		prev = next
	}
}

func TestStartTransactionReturnsUnstartedTransaction(t *testing.T) {
	s := newTestSession()
	txn := s.StartTransaction()
	if txn.State() != None {
		t.Fatalf("fresh transaction should be NONE, got %v", txn.State())
	}
}
