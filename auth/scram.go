package auth

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/xdg-go/scram"
	"github.com/xdg-go/stringprep"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// AuthenticationError reports a SCRAM verification failure or an
// unsupported mechanism request. It is fatal to the authentication attempt
// but, unlike TransportError/ProtocolError, does not poison the connection:
// the caller may retry with different credentials.
type AuthenticationError struct {
	Mechanism string
	Reason    string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("auth: %s: %s", e.Mechanism, e.Reason)
}

// MechanismSHA1 and MechanismSHA256 are the two mechanisms this engine supports, matching the
// wire names the server reports in saslSupportedMechs / hello.
const (
	MechanismSHA1   = "SCRAM-SHA-1"
	MechanismSHA256 = "SCRAM-SHA-256"
)

// SelectMechanism applies the spec's tie-break: prefer SCRAM-SHA-256 when
// the server offers both.
func SelectMechanism(serverMechanisms []string) (string, error) {
	has := func(name string) bool {
		for _, m := range serverMechanisms {
			if m == name {
				return true
			}
		}
		return false
	}
	switch {
	case has(MechanismSHA256):
		return MechanismSHA256, nil
	case has(MechanismSHA1):
		return MechanismSHA1, nil
	default:
		return "", &AuthenticationError{Reason: fmt.Sprintf("no supported SCRAM mechanism in %v", serverMechanisms)}
	}
}

// CommandRunner is the minimal capability the SCRAM engine needs from a
// connection: running one admin command and getting back its raw BSON
// reply. driver.Dispatcher satisfies this structurally.
type CommandRunner interface {
	RunCommand(ctx context.Context, dbName string, cmd bson.D) (bson.Raw, error)
}

// saslReply mirrors the shape of saslStart/saslContinue command replies.
type saslReply struct {
	ConversationID int    `bson:"conversationId"`
	Done           bool   `bson:"done"`
	Payload        []byte `bson:"payload"`
}

// Authenticate runs the full SCRAM conversation against runner for creds
// using mechanism, and returns the server's final SCRAM message, the
// "v=<base64 server signature>" payload that was verified (stored so a
// later logout can be gated on authenticated state, per the spec).
func Authenticate(ctx context.Context, runner CommandRunner, creds Credentials, mechanism string) ([]byte, error) {
	client, err := newSCRAMClient(mechanism, creds)
	if err != nil {
		return nil, err
	}
	conv := client.NewConversation()

	clientFirst, err := conv.Step("")
	if err != nil {
		return nil, &AuthenticationError{Mechanism: mechanism, Reason: err.Error()}
	}

	startCmd := bson.D{
		{Key: "saslStart", Value: 1},
		{Key: "mechanism", Value: mechanism},
		{Key: "payload", Value: []byte(clientFirst)},
	}
	rawReply, err := runner.RunCommand(ctx, creds.Source(), startCmd)
	if err != nil {
		return nil, err
	}
	var reply saslReply
	if err := bson.Unmarshal(rawReply, &reply); err != nil {
		return nil, &AuthenticationError{Mechanism: mechanism, Reason: "malformed saslStart reply: " + err.Error()}
	}

	clientFinal, err := conv.Step(string(reply.Payload))
	if err != nil {
		return nil, &AuthenticationError{Mechanism: mechanism, Reason: err.Error()}
	}

	continueCmd := bson.D{
		{Key: "saslContinue", Value: 1},
		{Key: "conversationId", Value: reply.ConversationID},
		{Key: "payload", Value: []byte(clientFinal)},
	}
	rawReply, err = runner.RunCommand(ctx, creds.Source(), continueCmd)
	if err != nil {
		return nil, err
	}
	if err := bson.Unmarshal(rawReply, &reply); err != nil {
		return nil, &AuthenticationError{Mechanism: mechanism, Reason: "malformed saslContinue reply: " + err.Error()}
	}

	// Final client step verifies the server signature embedded in the
	// server's last message (the "v=" field the scram package parses
	// internally). A mismatch surfaces here as a non-nil error.
	if _, err := conv.Step(string(reply.Payload)); err != nil {
		return nil, &AuthenticationError{Mechanism: mechanism, Reason: "server signature mismatch: " + err.Error()}
	}
	serverSignature := append([]byte(nil), reply.Payload...)

	if !reply.Done {
		finalCmd := bson.D{
			{Key: "saslContinue", Value: 1},
			{Key: "conversationId", Value: reply.ConversationID},
			{Key: "payload", Value: []byte{}},
		}
		rawReply, err = runner.RunCommand(ctx, creds.Source(), finalCmd)
		if err != nil {
			return nil, err
		}
		if err := bson.Unmarshal(rawReply, &reply); err != nil {
			return nil, &AuthenticationError{Mechanism: mechanism, Reason: "malformed final saslContinue reply: " + err.Error()}
		}
		if !reply.Done {
			return nil, &AuthenticationError{Mechanism: mechanism, Reason: "server did not complete SASL conversation"}
		}
	}

	return serverSignature, nil
}

func newSCRAMClient(mechanism string, creds Credentials) (*scram.Client, error) {
	switch mechanism {
	case MechanismSHA1:
		client, err := scram.SHA1.NewClient(creds.Username, mongoSHA1PasswordDigest(creds.Username, creds.Password), "")
		if err != nil {
			return nil, &AuthenticationError{Mechanism: mechanism, Reason: err.Error()}
		}
		return client, nil
	case MechanismSHA256:
		normalized, err := stringprep.SASLprep.Prepare(creds.Password)
		if err != nil {
			// Passwords that aren't SASLprep-compliant are used as-is, per
			// the SCRAM-SHA-256 MongoDB spec's fallback behavior.
			normalized = creds.Password
		}
		client, err := scram.SHA256.NewClient(creds.Username, normalized, "")
		if err != nil {
			return nil, &AuthenticationError{Mechanism: mechanism, Reason: err.Error()}
		}
		return client, nil
	default:
		return nil, &AuthenticationError{Mechanism: mechanism, Reason: "unsupported mechanism"}
	}
}

// mongoSHA1PasswordDigest implements the MongoDB-specific SCRAM-SHA-1
// password pre-hash: HEX(MD5(user + ":mongo:" + password)).
func mongoSHA1PasswordDigest(username, password string) string {
	h := md5.New()
	h.Write([]byte(username + ":mongo:" + password))
	return hex.EncodeToString(h.Sum(nil))
}
