// Package wa wraps the whatsmeow client behind the narrow surface the
// session manager needs: provision a per-session credential store, open a
// connection on it, request a pairing code, observe connection-state events.
package wa

import (
	"context"
)

// EventKind classifies connection-state changes.
type EventKind string

const (
	// EventOpen fires when the client is logged in and the socket is up.
	EventOpen EventKind = "open"
	// EventPairSuccess fires when the user confirmed the pairing code.
	EventPairSuccess EventKind = "pair_success"
	// EventClosed fires when the transport dropped.
	EventClosed EventKind = "closed"
	// EventLoggedOut fires when the account unlinked this device.
	EventLoggedOut EventKind = "logged_out"
	// EventConnectFailure fires when the server rejected the connection.
	EventConnectFailure EventKind = "connect_failure"
)

type Event struct {
	Kind EventKind
	Err  error
}

// CredStore is a durable credential store scoped to one session.
type CredStore interface {
	Path() string
	// Release closes the store. With deleteFiles it also removes the
	// on-disk database.
	Release(deleteFiles bool) error
}

// Client is one connection to the pairing service.
//
// Events never closes; consumers stop reading when they tear the session
// down. The channel is buffered and events are dropped with a warning if
// the consumer falls behind, so the underlying client's dispatch loop is
// never stalled.
type Client interface {
	Connect() error
	PairPhone(ctx context.Context, phoneNumber string) (string, error)
	Events() <-chan Event
	IsLoggedIn() bool
	Disconnect()
}

// Gateway provisions credential stores and dials clients bound to them.
type Gateway interface {
	Provision(ctx context.Context, sessionID string) (CredStore, error)
	Dial(ctx context.Context, creds CredStore) (Client, error)
}
