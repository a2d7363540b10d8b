package peer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/richard-senior/go-mcp-runtime/pkg/mcperr"
	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
)

// Call sends method with params and waits for the correlated response,
// honoring p.cfg.RequestTimeout unless ctx already carries a deadline.
// This is the Outbound dispatch algorithm of spec.md §4.1: allocate id,
// insert the pending sink before the bytes hit the wire, hand off to the
// transport, await under a timeout, and clean the pending entry up on
// every exit path (success, error, cancellation, or timeout) so P1 holds.
func (p *Peer) Call(ctx context.Context, method string, params any, result any) error {
	if p.client == nil {
		return mcperr.New(mcperr.KindInternal, "peer has no client transport")
	}

	id := protocol.NewIntID(p.allocateID())
	req, err := protocol.NewRequest(method, params, id)
	if err != nil {
		return mcperr.Wrap(mcperr.KindSerialization, err, "marshal request params")
	}

	if p.cfg.ValidateRequests {
		if err := protocol.ValidateFrame(req); err != nil {
			return err
		}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && p.cfg.RequestTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	entry := &pendingEntry{cancel: cancel}
	key, _ := idKey(id)

	// Insert before the transport call returns, never after, so a
	// response that races ahead of our own bookkeeping is never lost.
	p.mu.Lock()
	p.pending[key] = entry
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, key)
		p.mu.Unlock()
	}()

	frame, err := p.client.SendRequest(callCtx, req)
	if p.closed.Load() {
		// Close cancelled this call's context and tore the transport down.
		return mcperr.Newf(mcperr.KindConnection, "%s aborted: peer closed", method)
	}
	if err != nil {
		select {
		case <-callCtx.Done():
			return mcperr.Wrap(mcperr.KindTimeout, callCtx.Err(), fmt.Sprintf("%s timed out", method))
		default:
			return mcperr.Wrap(mcperr.KindTransport, err, fmt.Sprintf("%s failed", method))
		}
	}

	return p.resolveResult(frame, result)
}

func (p *Peer) resolveResult(frame protocol.Frame, result any) error {
	switch f := frame.(type) {
	case protocol.Response:
		if result == nil || len(f.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(f.Result, result); err != nil {
			return mcperr.Wrap(mcperr.KindSerialization, err, "unmarshal result")
		}
		return nil
	case protocol.ErrorResponse:
		return errorFromPayload(f.Error)
	default:
		return mcperr.Newf(mcperr.KindProtocol, "unexpected frame type %T for response", frame)
	}
}

func errorFromPayload(e *protocol.ErrorPayload) error {
	if e == nil {
		return mcperr.New(mcperr.KindInternal, "nil error payload")
	}
	kind := mcperr.KindInternal
	switch e.Code {
	case protocol.CodeMethodNotFound:
		kind = mcperr.KindMethodNotFound
	case protocol.CodeInvalidParams:
		kind = mcperr.KindInvalidParams
	case protocol.CodeToolNotFound:
		kind = mcperr.KindToolNotFound
	case protocol.CodeResourceNotFound:
		kind = mcperr.KindResourceNotFound
	case protocol.CodePromptNotFound:
		kind = mcperr.KindPromptNotFound
	case protocol.CodeInvalidRequest, protocol.CodeParseError:
		kind = mcperr.KindProtocol
	}
	return mcperr.New(kind, e.Message)
}

// Notify sends a fire-and-forget notification.
func (p *Peer) Notify(ctx context.Context, method string, params any) error {
	if p.client == nil {
		return mcperr.New(mcperr.KindInternal, "peer has no client transport")
	}
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperr.Wrap(mcperr.KindSerialization, err, "marshal notification params")
	}
	if err := p.client.SendNotification(ctx, n); err != nil {
		return mcperr.Wrap(mcperr.KindTransport, err, "notify failed")
	}
	return nil
}

// HandleInbound processes one inbound request frame and returns the
// Frame to send back, dispatching to the registered Handler for
// req.Method. This is the Inbound half of spec.md §4.1's dispatch
// algorithm for the request case; response correlation (for a client
// Peer receiving a Response to its own outbound call) is handled
// directly by the transport plumbing the Response back through Call.
func (p *Peer) HandleInbound(ctx context.Context, req protocol.Request) protocol.Frame {
	if p.cfg.ValidateRequests {
		if err := protocol.ValidateFrame(req); err != nil {
			return protocol.NewErrorResponse(protocol.CodeInvalidRequest, err.Error(), nil, req.ID)
		}
	}

	if err := p.guardHandshake(req.Method); err != nil {
		return protocol.NewErrorResponse(protocol.CodeMethodNotFound, err.Error(), nil, req.ID)
	}

	p.handlersMu.RLock()
	h, ok := p.handlers[req.Method]
	p.handlersMu.RUnlock()

	if !ok {
		return protocol.NewErrorResponse(protocol.CodeMethodNotFound,
			fmt.Sprintf("Method not found: %s", req.Method), nil, req.ID)
	}

	result, err := h(ctx, req.Params)
	if err != nil {
		return protocol.NewErrorResponse(codeForHandlerError(err), err.Error(), nil, req.ID)
	}
	resp, merr := protocol.NewResponse(result, req.ID)
	if merr != nil {
		return protocol.NewErrorResponse(protocol.CodeInternalError, merr.Error(), nil, req.ID)
	}
	return resp
}

func codeForHandlerError(err error) int {
	switch mcperr.KindOf(err) {
	case mcperr.KindToolNotFound:
		return protocol.CodeToolNotFound
	case mcperr.KindResourceNotFound:
		return protocol.CodeResourceNotFound
	case mcperr.KindPromptNotFound:
		return protocol.CodePromptNotFound
	case mcperr.KindInvalidParams:
		return protocol.CodeInvalidParams
	default:
		return protocol.CodeInternalError
	}
}

// HandleInboundNotification processes one inbound notification frame:
// notifications/initialized flips the handshake-complete flag; every
// notification (including that one) is then fanned out to listeners.
func (p *Peer) HandleInboundNotification(ctx context.Context, n protocol.Notification) {
	if n.Method == string(protocol.NotifyInitialized) {
		p.initMu.Lock()
		p.initialized = true
		p.initMu.Unlock()
	}
	p.dispatchNotification(n)
}

// guardHandshake implements P5: any MCP request other than
// initialize/ping sent before initialize completes must be rejected
// without being dispatched to a handler, and initialize itself must be
// rejected once the handshake is already complete.
func (p *Peer) guardHandshake(method string) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	if method == string(protocol.MethodInitialize) {
		if p.initialized {
			return fmt.Errorf("initialize already completed")
		}
		return nil
	}
	if method == string(protocol.MethodPing) {
		return nil
	}
	if !p.initialized {
		return fmt.Errorf("Method not found: %s (handshake not complete)", method)
	}
	return nil
}

// MarkInitialized is called by the server-side handshake completion
// path (after sending the initialize result) and by the client-side path
// once it has both received the result and emitted
// notifications/initialized.
func (p *Peer) MarkInitialized() {
	p.initMu.Lock()
	p.initialized = true
	p.initMu.Unlock()
}
