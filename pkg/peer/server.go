package peer

import (
	"context"
	"encoding/json"

	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
	"github.com/richard-senior/go-mcp-runtime/pkg/transport"
)

// NewServerPeer builds a Peer that answers inbound connections over a
// server transport. It wires the transport's RequestHandler/
// NotificationHandler callbacks to this peer's dispatch and installs the
// default `initialize`/`ping` handlers.
func NewServerPeer(t transport.ServerTransport, cfg Config, selfInfo protocol.Implementation) *Peer {
	p := &Peer{
		role:     RoleServer,
		cfg:      cfg,
		pending:  make(map[int64]*pendingEntry),
		handlers: make(map[string]Handler),
		selfInfo: selfInfo,
		closeCh:  make(chan struct{}),
	}
	p.installDefaultHandlers()

	t.SetRequestHandler(func(ctx context.Context, req protocol.Request) protocol.Frame {
		return p.HandleInbound(ctx, req)
	})
	t.SetNotificationHandler(func(ctx context.Context, n protocol.Notification) {
		p.HandleInboundNotification(ctx, n)
	})

	p.serverTransport = t
	return p
}

// Bind prepares the server transport to accept connections.
func (p *Peer) Bind(ctx context.Context) error {
	if p.serverTransport == nil {
		return errNotServerPeer
	}
	return p.serverTransport.Bind(ctx)
}

// Serve blocks, accepting and dispatching connections until ctx is
// cancelled or Close is called.
func (p *Peer) Serve(ctx context.Context) error {
	if p.serverTransport == nil {
		return errNotServerPeer
	}
	return p.serverTransport.Start(ctx)
}

// PushNotification sends a server->client out-of-band notification
// (e.g. over SSE or WS) to every connected client.
func (p *Peer) PushNotification(ctx context.Context, method string, params any) error {
	if p.serverTransport == nil {
		return errNotServerPeer
	}
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	return p.serverTransport.SendNotification(ctx, n)
}

// installDefaultHandlers registers the handlers every role answers
// without further application wiring: initialize (server-side only),
// ping (both roles), and a roots/list default that returns an empty
// list when no application handler overrides it (SPEC_FULL.md §8).
func (p *Peer) installDefaultHandlers() {
	p.Handle(string(protocol.MethodPing), func(ctx context.Context, params json.RawMessage) (any, error) {
		return protocol.PingResult{}, nil
	})

	if p.role == RoleServer {
		p.Handle(string(protocol.MethodInitialize), p.handleInitializeServer)
	}

	if p.role == RoleClient {
		p.Handle(string(protocol.MethodRootsList), func(ctx context.Context, params json.RawMessage) (any, error) {
			return protocol.RootsListResult{Roots: []protocol.Root{}}, nil
		})
	}
}

func (p *Peer) handleInitializeServer(ctx context.Context, params json.RawMessage) (any, error) {
	var req protocol.InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
	}

	p.capsMu.Lock()
	p.clientCaps = req.Capabilities
	p.peerInfo = req.ClientInfo
	serverCaps := p.serverCaps
	self := p.selfInfo
	p.capsMu.Unlock()

	return protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities:    serverCaps,
		ServerInfo:      self,
	}, nil
}
