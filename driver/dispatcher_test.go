package driver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kovergo/kover/connection"
	"github.com/kovergo/kover/session"
	"github.com/kovergo/kover/wiremessage"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// fakeServer reads one OP_MSG request per call to next and writes back
// whatever BSON document next returns, matching responseTo to the request.
func fakeServer(t *testing.T, conn net.Conn, next func(requestDoc bson.Raw) bson.D) {
	t.Helper()
	go func() {
		for {
			headerBuf := make([]byte, wiremessage.HeaderLen)
			if _, err := readFull(conn, headerBuf); err != nil {
				return
			}
			h, err := wiremessage.ReadHeader(headerBuf)
			if err != nil {
				return
			}
			body := make([]byte, int(h.MessageLength)-wiremessage.HeaderLen)
			if _, err := readFull(conn, body); err != nil {
				return
			}
			reqDoc, err := wiremessage.ParseMsgBody(body)
			if err != nil {
				return
			}

			replyDoc := next(reqDoc)
			replyBSON, err := bson.Marshal(replyDoc)
			if err != nil {
				return
			}
			reply := wiremessage.AppendMsg(h.RequestID, replyBSON)
			copy(reply[8:12], headerBuf[4:8])
			if _, err := conn.Write(reply); err != nil {
				return
			}
		}
	}()
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func newTestDispatcher(t *testing.T, next func(bson.Raw) bson.D) (*Dispatcher, func()) {
	t.Helper()
	client, server := net.Pipe()
	fakeServer(t, server, next)
	conn := connection.New("fake", client)
	return New(conn), func() { client.Close(); server.Close() }
}

func TestRunCommandSuccessDecodesReply(t *testing.T) {
	d, cleanup := newTestDispatcher(t, func(bson.Raw) bson.D {
		return bson.D{{Key: "ok", Value: 1.0}, {Key: "n", Value: int32(1)}}
	})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := d.RunCommand(ctx, "test", bson.D{{Key: "ping", Value: 1}})
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	var out struct {
		N int32 `bson:"n"`
	}
	if err := bson.Unmarshal(reply, &out); err != nil {
		t.Fatalf("Unmarshal reply: %v", err)
	}
	if out.N != 1 {
		t.Fatalf("n = %d, want 1", out.N)
	}
}

func TestRunCommandStampsDB(t *testing.T) {
	var seenDB string
	d, cleanup := newTestDispatcher(t, func(req bson.Raw) bson.D {
		var env struct {
			DB string `bson:"$db"`
		}
		bson.Unmarshal(req, &env)
		seenDB = env.DB
		return bson.D{{Key: "ok", Value: 1.0}}
	})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := d.RunCommand(ctx, "mydb", bson.D{{Key: "ping", Value: 1}}); err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if seenDB != "mydb" {
		t.Fatalf("$db = %q, want mydb", seenDB)
	}
}

func TestRunCommandClassifiesTopLevelError(t *testing.T) {
	d, cleanup := newTestDispatcher(t, func(bson.Raw) bson.D {
		return bson.D{
			{Key: "ok", Value: 0.0},
			{Key: "code", Value: int32(26)},
			{Key: "codeName", Value: "NamespaceNotFound"},
			{Key: "errmsg", Value: "ns not found"},
		}
	})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := d.RunCommand(ctx, "test", bson.D{{Key: "find", Value: "coll"}})
	opErr, ok := err.(*OperationFailure)
	if !ok {
		t.Fatalf("expected *OperationFailure, got %T: %v", err, err)
	}
	if opErr.Code != 26 || opErr.CodeName != "NamespaceNotFound" {
		t.Fatalf("got %+v", opErr)
	}
}

func TestRunCommandClassifiesWriteErrors(t *testing.T) {
	d, cleanup := newTestDispatcher(t, func(bson.Raw) bson.D {
		return bson.D{
			{Key: "ok", Value: 1.0},
			{Key: "writeErrors", Value: bson.A{
				bson.D{{Key: "code", Value: int32(11000)}, {Key: "errmsg", Value: "E11000 duplicate key"}},
			}},
		}
	})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := d.RunCommand(ctx, "test", bson.D{{Key: "insert", Value: "coll"}})
	opErr, ok := err.(*OperationFailure)
	if !ok {
		t.Fatalf("expected *OperationFailure, got %T: %v", err, err)
	}
	if opErr.Code != 11000 || opErr.CodeName != "DuplicateKey" {
		t.Fatalf("got %+v", opErr)
	}
}

func TestRunTransactionAppliesEnvelopeAndMarksAborted(t *testing.T) {
	var sawStartTransaction bool
	d, cleanup := newTestDispatcher(t, func(req bson.Raw) bson.D {
		var env struct {
			StartTransaction bool `bson:"startTransaction"`
		}
		bson.Unmarshal(req, &env)
		sawStartTransaction = env.StartTransaction
		return bson.D{
			{Key: "ok", Value: 0.0},
			{Key: "code", Value: int32(251)},
			{Key: "errmsg", Value: "no such transaction"},
			{Key: "errorLabels", Value: bson.A{"TransientTransactionError"}},
		}
	})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	id, _ := bson.Marshal(bson.D{{Key: "id", Value: "fake"}})
	s := session.New(id)
	txn := s.StartTransaction()
	txn.Start()

	_, err := d.Run(ctx, "test", bson.D{{Key: "insert", Value: "coll"}}, txn)
	if err == nil {
		t.Fatal("expected error")
	}
	if !sawStartTransaction {
		t.Fatal("expected first command to carry startTransaction:true")
	}
	if txn.State() != session.Aborted {
		t.Fatalf("expected transaction to be ABORTED after failure, got %v", txn.State())
	}
	opErr := txn.Err().(*OperationFailure)
	if !opErr.HasLabel(TransientTransactionErrorLabel) {
		t.Fatalf("expected TransientTransactionError label, got %v", opErr.Labels)
	}
}
