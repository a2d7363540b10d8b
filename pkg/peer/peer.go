// Package peer implements a bidirectional MCP JSON-RPC endpoint: the
// monotonic id counter, the pending-request table, capability
// negotiation, the inbound handler table, and typed wrappers for every
// MCP method (spec.md §4.2).
//
// Grounded on richard-senior-mcp/pkg/server/server.go's handler-table
// dispatch (handlers map[string]HandlerFunc, handleRequest), generalized
// from a server-only handler into a symmetric Peer usable from either
// role: a client Peer both sends requests (tools/list, ...) and answers
// inbound ones (sampling/createMessage, roots/list, elicitation/create);
// a server Peer does the reverse.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/richard-senior/go-mcp-runtime/internal/logger"
	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
	"github.com/richard-senior/go-mcp-runtime/pkg/transport"
)

// Role distinguishes which side of the handshake a Peer plays.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

var errNotServerPeer = fmt.Errorf("peer: not constructed with NewServerPeer")

// Handler answers one inbound request method. It receives the raw
// params and returns a result value (marshaled by the Peer) or an
// error, which the Peer translates to the matching JSON-RPC error code.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// NotificationListener is invoked, in registration order, for every
// inbound notification. Listeners run on a background goroutine, never
// on the transport's receive loop, per spec.md §4.2/§5.
type NotificationListener func(ctx context.Context, n protocol.Notification)

// pendingEntry tracks one in-flight outbound request so a matching
// notifications/cancelled can abort it and Close can guarantee no entry
// outlives the transport (P1, P6). The actual response value is
// delivered synchronously through ClientTransport.SendRequest's return;
// this entry exists purely for cancellation and cleanup bookkeeping.
type pendingEntry struct {
	cancel context.CancelFunc
}

// Config bundles the client-config fields of spec.md §6 that govern a
// Peer's send-side behavior.
type Config struct {
	RequestTimeout    time.Duration
	ValidateRequests  bool
	ValidateResponses bool
}

// DefaultConfig matches the defaults enumerated in spec.md §6.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:    30 * time.Second,
		ValidateRequests:  true,
		ValidateResponses: true,
	}
}

// Peer owns a transport, the outbound id counter and pending table, the
// negotiated capability pair, and the inbound handler/listener tables.
// A client Peer's transport is a transport.ClientTransport; a server
// Peer instead drives a transport.ServerTransport and is driven by its
// RequestHandler/NotificationHandler callbacks — see NewServerPeer.
type Peer struct {
	role            Role
	cfg             Config
	client          transport.ClientTransport
	serverTransport transport.ServerTransport

	nextID int64

	mu      sync.Mutex
	pending map[int64]*pendingEntry

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	listenersMu sync.Mutex
	listeners   []NotificationListener

	initMu      sync.Mutex
	initialized bool

	capsMu       sync.RWMutex
	clientCaps   protocol.ClientCapabilities
	serverCaps   protocol.ServerCapabilities
	peerInfo     protocol.Implementation
	selfInfo     protocol.Implementation

	notifyWG sync.WaitGroup
	closed   atomic.Bool
	closeCh  chan struct{}
}

// NewClientPeer builds a Peer that drives an outbound connection over a
// client transport. Call Initialize to perform the initialize handshake.
func NewClientPeer(t transport.ClientTransport, cfg Config, selfInfo protocol.Implementation) *Peer {
	p := &Peer{
		role:     RoleClient,
		cfg:      cfg,
		client:   t,
		pending:  make(map[int64]*pendingEntry),
		handlers: make(map[string]Handler),
		selfInfo: selfInfo,
		closeCh:  make(chan struct{}),
	}
	p.installDefaultHandlers()
	go p.notificationPump()
	return p
}

// notificationPump drains ClientTransport.ReceiveNotification in a loop
// and fans inbound notifications out to registered listeners. It is the
// "one task owns the read side" invariant of spec.md §5.
func (p *Peer) notificationPump() {
	if p.client == nil {
		return
	}
	for {
		select {
		case <-p.closeCh:
			return
		default:
		}
		n, err := p.client.ReceiveNotification(context.Background())
		if err != nil {
			if p.closed.Load() {
				return
			}
			logger.Warn("peer: notification pump error", err)
			return
		}
		if n == nil {
			continue
		}
		p.dispatchNotification(*n)
	}
}

// dispatchNotification fans n out to every listener on its own
// goroutine per listener call, in registration order of scheduling but
// without blocking on any one listener (spec.md §4.2: "a slow handler
// degrades only its own delivery stream").
func (p *Peer) dispatchNotification(n protocol.Notification) {
	if n.Method == string(protocol.NotifyCancelled) {
		p.handleCancelled(n)
	}

	p.listenersMu.Lock()
	listeners := append([]NotificationListener(nil), p.listeners...)
	p.listenersMu.Unlock()

	for _, l := range listeners {
		l := l
		p.notifyWG.Add(1)
		go func() {
			defer p.notifyWG.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Error("peer: notification listener panicked", fmt.Sprintf("%v", r))
				}
			}()
			l(context.Background(), n)
		}()
	}
}

func (p *Peer) handleCancelled(n protocol.Notification) {
	var params protocol.CancelledParams
	if len(n.Params) == 0 {
		return
	}
	if err := json.Unmarshal(n.Params, &params); err != nil {
		return
	}
	key, ok := idKey(params.RequestID)
	if !ok {
		return
	}
	p.mu.Lock()
	entry, ok := p.pending[key]
	p.mu.Unlock()
	if ok && entry.cancel != nil {
		entry.cancel()
	}
}

// OnNotification registers a listener invoked for every inbound
// notification, in registration order.
func (p *Peer) OnNotification(l NotificationListener) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	p.listeners = append(p.listeners, l)
}

// Handle installs the handler for an inbound request method, overwriting
// any previous registration for that method.
func (p *Peer) Handle(method string, h Handler) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.handlers[method] = h
}

// allocateID returns the next monotonically increasing outbound id
// (P2). int64 rather than int avoids platform-size ambiguity across
// 2^31 requests.
func (p *Peer) allocateID() int64 {
	return atomic.AddInt64(&p.nextID, 1)
}

func idKey(id protocol.ID) (int64, bool) {
	// Only integer ids are used for outbound requests by this peer, so
	// matching a notifications/cancelled requestId only needs the int
	// path; a string id could never match one of ours.
	data, err := json.Marshal(id)
	if err != nil {
		return 0, false
	}
	var i int64
	if err := json.Unmarshal(data, &i); err != nil {
		return 0, false
	}
	return i, true
}

// Close shuts the underlying transport down and fails every pending
// request with a connection error, satisfying P1/P6/"no leaks on close".
func (p *Peer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.closeCh)

	var errs []error
	if p.client != nil {
		if cerr := p.client.Close(); cerr != nil {
			errs = append(errs, cerr)
		}
	}
	if p.serverTransport != nil {
		if serr := p.serverTransport.Stop(context.Background()); serr != nil {
			errs = append(errs, serr)
		}
	}

	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[int64]*pendingEntry)
	p.mu.Unlock()

	// Cancelling every pending entry's context unblocks its Call, which
	// sees the peer closed and returns a connection error — no pending
	// entry survives past this point (P6).
	for _, entry := range pending {
		if entry.cancel != nil {
			entry.cancel()
		}
	}

	p.notifyWG.Wait()
	return errors.Join(errs...)
}

// Capabilities returns the negotiated (post-initialize) capability pair.
// Read-only and frozen once initialization completes, per spec.md §3.
func (p *Peer) Capabilities() (protocol.ClientCapabilities, protocol.ServerCapabilities) {
	p.capsMu.RLock()
	defer p.capsMu.RUnlock()
	return p.clientCaps, p.serverCaps
}

func (p *Peer) PeerInfo() protocol.Implementation {
	p.capsMu.RLock()
	defer p.capsMu.RUnlock()
	return p.peerInfo
}
