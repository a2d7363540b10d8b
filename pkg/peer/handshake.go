package peer

import (
	"context"

	"github.com/richard-senior/go-mcp-runtime/pkg/mcperr"
	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
)

// SetClientCapabilities records the capabilities this peer will offer
// during Initialize, before the handshake runs.
func (p *Peer) SetClientCapabilities(c protocol.ClientCapabilities) {
	p.capsMu.Lock()
	p.clientCaps = c
	p.capsMu.Unlock()
}

// SetServerCapabilities records the capabilities a server-role peer will
// offer in its initialize result.
func (p *Peer) SetServerCapabilities(c protocol.ServerCapabilities) {
	p.capsMu.Lock()
	p.serverCaps = c
	p.capsMu.Unlock()
}

// Initialize performs the client side of the handshake: send
// `initialize`, store the negotiated capabilities, then emit
// `notifications/initialized`. Per spec.md's scenario 1.
func (p *Peer) Initialize(ctx context.Context) (protocol.InitializeResult, error) {
	p.capsMu.RLock()
	clientCaps := p.clientCaps
	self := p.selfInfo
	p.capsMu.RUnlock()

	params := protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities:    clientCaps,
		ClientInfo:      self,
	}

	var result protocol.InitializeResult
	if err := p.Call(ctx, string(protocol.MethodInitialize), params, &result); err != nil {
		return result, err
	}

	p.capsMu.Lock()
	p.serverCaps = result.Capabilities
	p.peerInfo = result.ServerInfo
	p.capsMu.Unlock()

	if err := p.Notify(ctx, string(protocol.NotifyInitialized), map[string]any{}); err != nil {
		return result, mcperr.Wrap(mcperr.KindTransport, err, "failed to send notifications/initialized")
	}

	p.MarkInitialized()
	return result, nil
}

// Ping issues the `ping` request, valid at any point in the handshake.
func (p *Peer) Ping(ctx context.Context) error {
	var result protocol.PingResult
	return p.Call(ctx, string(protocol.MethodPing), map[string]any{}, &result)
}
