// Package transport defines the uniform byte/framing contract between
// peers (spec.md §4.3) and implements it over stdio, HTTP+SSE,
// WebSocket, and a content-adaptive streaming HTTP variant.
//
// Generalized from richard-senior-mcp/pkg/transport/transport.go, whose
// Transport interface was a synchronous, stdio-only ReadRequest/
// WriteResponse pair. Here the contract is split into a client side and
// a server side, and framing is decoupled from any single wire format.
package transport

import (
	"context"

	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
)

// ClientTransport is the contract a peer uses to talk to the other side
// of a connection it initiated. Send operations are serialized per
// transport; receive delivers frames in arrival order; Close is
// idempotent.
type ClientTransport interface {
	// SendRequest writes req and blocks until the correlated response
	// arrives, ctx is cancelled, or the transport fails.
	SendRequest(ctx context.Context, req protocol.Request) (protocol.Frame, error)

	// SendNotification writes a fire-and-forget frame.
	SendNotification(ctx context.Context, n protocol.Notification) error

	// ReceiveNotification returns the next out-of-band notification
	// pushed by the remote side. It blocks until one arrives, ctx is
	// cancelled, or the transport closes.
	ReceiveNotification(ctx context.Context) (*protocol.Notification, error)

	// Close shuts the transport down. Idempotent.
	Close() error
}

// RequestHandler is the server-side hook a ServerTransport calls for
// every inbound request frame it decodes. It returns the Frame to write
// back (a Response or ErrorResponse), or nil for frames needing no reply
// (notifications).
type RequestHandler func(ctx context.Context, req protocol.Request) protocol.Frame

// NotificationHandler is the server-side hook called for inbound
// notification frames.
type NotificationHandler func(ctx context.Context, n protocol.Notification)

// ServerTransport is the contract a peer uses to accept connections and
// dispatch inbound frames to an injectable handler.
type ServerTransport interface {
	// SetRequestHandler installs the callback invoked for inbound
	// requests. Must be called before Start.
	SetRequestHandler(h RequestHandler)

	// SetNotificationHandler installs the callback invoked for inbound
	// notifications. Must be called before Start.
	SetNotificationHandler(h NotificationHandler)

	// Bind prepares the transport to accept connections (e.g. opening a
	// listening socket) without yet blocking to serve them.
	Bind(ctx context.Context) error

	// Start blocks, serving connections until ctx is cancelled or Stop
	// is called.
	Start(ctx context.Context) error

	// Stop gracefully shuts the transport down. Idempotent.
	Stop(ctx context.Context) error

	// SendNotification pushes an out-of-band notification to connected
	// clients (e.g. over the SSE stream or WS connections).
	SendNotification(ctx context.Context, n protocol.Notification) error
}

// Recoverable is implemented by client transports that classify their
// own connection loss as retryable. pkg/session does not consult it; its
// reconnect policy classifies errors with mcperr.Recoverable.
type Recoverable interface {
	Recoverable() bool
}
