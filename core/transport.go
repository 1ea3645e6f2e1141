package core

import (
	"context"

	"echostream/message"
)

// Transport moves messages between a Session and its peer.
//
// Connect establishes the connection (if needed) and starts delivering every decoded inbound
// message to r.Dispatch, reporting fatal read failures through r.Fail. It must return without
// waiting for the delivery loop to finish.
//
// Write sends one message and is safe for concurrent use. Close releases the connection;
// it must not wait for an in-progress Dispatch, since the Session may close from inside one.
type Transport interface {
	Connect(ctx context.Context, r Receiver) error
	Write(msg message.Message) error
	Close() error
}

// Receiver is the inbound side of a Session as seen by its Transport.
type Receiver interface {
	Dispatch(ctx context.Context, msg message.Message) error
	Fail(err error)
}
