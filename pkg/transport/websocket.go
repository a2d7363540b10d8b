package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/richard-senior/go-mcp-runtime/internal/logger"
	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// WebSocketClientTransport implements ClientTransport over a single
// full-duplex WebSocket connection: each text frame carries exactly one
// JSON-RPC object, per spec.md §4.3. WS-layer ping/pong runs
// independently of MCP's own `ping` method.
//
// Grounded on ruaan-deysel-unraid-management-agent/daemon/services/api/
// websocket.go's WSHub/WSClient structure: a hub-owned write mutex plus
// per-connection read/write pumps, generalized here to a single client
// connection with request/response correlation by id (the teacher's hub
// only ever broadcasts, it never correlates).
type WebSocketClientTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan protocol.Frame

	notifyCh chan *protocol.Notification
	closeCh  chan struct{}
	closed   sync.Once
}

// DialWebSocketClientTransport connects to url (ws:// or wss://) and
// starts the read pump.
func DialWebSocketClientTransport(ctx context.Context, url string, header http.Header) (*WebSocketClientTransport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("websocket transport: dial: %w", err)
	}
	return newWebSocketClientTransport(conn), nil
}

func newWebSocketClientTransport(conn *websocket.Conn) *WebSocketClientTransport {
	t := &WebSocketClientTransport{
		conn:     conn,
		pending:  make(map[string]chan protocol.Frame),
		notifyCh: make(chan *protocol.Notification, 256),
		closeCh:  make(chan struct{}),
	}
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go t.readPump()
	go t.pingPump()
	return t
}

func (t *WebSocketClientTransport) readPump() {
	defer t.Close()
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket transport: read error", err)
			}
			return
		}
		frame, err := protocol.ParseFrame(data)
		if err != nil {
			logger.Warn("websocket transport: discarding malformed frame", err)
			continue
		}
		t.routeInbound(frame)
	}
}

func (t *WebSocketClientTransport) routeInbound(frame protocol.Frame) {
	switch f := frame.(type) {
	case protocol.Response:
		t.deliver(f.ID, f)
	case protocol.ErrorResponse:
		t.deliver(f.ID, f)
	case protocol.Notification:
		select {
		case t.notifyCh <- &f:
		case <-t.closeCh:
		default:
			logger.Warn("websocket transport: notification queue full, dropping", fmt.Errorf("method=%s", f.Method))
		}
	}
}

func (t *WebSocketClientTransport) deliver(id protocol.ID, frame protocol.Frame) {
	key := id.String()
	t.pendingMu.Lock()
	ch, ok := t.pending[key]
	if ok {
		delete(t.pending, key)
	}
	t.pendingMu.Unlock()
	if ok {
		ch <- frame
	}
}

// pingPump issues WebSocket-layer pings independently of MCP's own ping
// method, per spec.md §4.3.
func (t *WebSocketClientTransport) pingPump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-t.closeCh:
			return
		}
	}
}

func (t *WebSocketClientTransport) SendRequest(ctx context.Context, req protocol.Request) (protocol.Frame, error) {
	ch := make(chan protocol.Frame, 1)
	key := req.ID.String()

	t.pendingMu.Lock()
	t.pending[key] = ch
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, key)
		t.pendingMu.Unlock()
	}()

	if err := t.write(req); err != nil {
		return nil, err
	}

	select {
	case frame := <-ch:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closeCh:
		return nil, fmt.Errorf("websocket transport: closed")
	}
}

func (t *WebSocketClientTransport) SendNotification(ctx context.Context, n protocol.Notification) error {
	return t.write(n)
}

func (t *WebSocketClientTransport) ReceiveNotification(ctx context.Context) (*protocol.Notification, error) {
	select {
	case n := <-t.notifyCh:
		return n, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closeCh:
		return nil, fmt.Errorf("websocket transport: closed")
	}
}

func (t *WebSocketClientTransport) write(f protocol.Frame) error {
	data, err := protocol.Marshal(f)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WebSocketClientTransport) Close() error {
	var err error
	t.closed.Do(func() {
		close(t.closeCh)
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

// Recoverable classifies WebSocket connection loss as retryable; a
// reconnectable wrapper (pkg/session) re-dials on top of this.
func (t *WebSocketClientTransport) Recoverable() bool { return true }
