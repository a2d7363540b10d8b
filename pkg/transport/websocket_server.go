package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/richard-senior/go-mcp-runtime/internal/logger"
	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// wsServerClient is one accepted WebSocket connection on the server
// side. Grounded directly on
// ruaan-deysel-unraid-management-agent/daemon/services/api/websocket.go's
// WSClient: a send channel drained by a dedicated write pump, a read
// pump that forwards decoded frames to the hub.
type wsServerClient struct {
	conn *WebSocketServerTransport
	ws   *websocket.Conn
	send chan protocol.Frame
}

// WebSocketServerTransport implements ServerTransport by upgrading every
// incoming HTTP connection on its handler to a WebSocket and running the
// MCP peer protocol over it. Notifications pushed via SendNotification
// fan out to every currently-connected client, matching WSHub.Broadcast.
type WebSocketServerTransport struct {
	reqHandler    RequestHandler
	notifyHandler NotificationHandler

	mu      sync.RWMutex
	clients map[*wsServerClient]bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewWebSocketServerTransport() *WebSocketServerTransport {
	return &WebSocketServerTransport{
		clients: make(map[*wsServerClient]bool),
		stopCh:  make(chan struct{}),
	}
}

func (s *WebSocketServerTransport) SetRequestHandler(h RequestHandler)           { s.reqHandler = h }
func (s *WebSocketServerTransport) SetNotificationHandler(h NotificationHandler) { s.notifyHandler = h }

func (s *WebSocketServerTransport) Bind(ctx context.Context) error { return nil }

// Start blocks until ctx is cancelled and then calls Stop. Connections
// are accepted as HTTP requests reach ServeHTTP, which httpserver.go's
// mux routes to this transport.
func (s *WebSocketServerTransport) Start(ctx context.Context) error {
	<-ctx.Done()
	return s.Stop(context.Background())
}

func (s *WebSocketServerTransport) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		for c := range s.clients {
			close(c.send)
			delete(s.clients, c)
		}
		s.mu.Unlock()
	})
	return nil
}

func (s *WebSocketServerTransport) SendNotification(ctx context.Context, n protocol.Notification) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- n:
		default:
			logger.Warn("websocket server: client send buffer full, dropping notification", nil)
		}
	}
	return nil
}

// ServeHTTP upgrades the connection and runs its read/write pumps until
// the client disconnects or Stop is called.
func (s *WebSocketServerTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket server: upgrade failed", err)
		return
	}

	client := &wsServerClient{ws: ws, send: make(chan protocol.Frame, 64)}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	go s.writePump(client)
	s.readPump(client)
}

func (s *WebSocketServerTransport) writePump(c *wsServerClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := protocol.Marshal(frame)
			if err != nil {
				continue
			}
			c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WebSocketServerTransport) readPump(c *wsServerClient) {
	defer func() {
		s.mu.Lock()
		if _, ok := s.clients[c]; ok {
			delete(s.clients, c)
			close(c.send)
		}
		s.mu.Unlock()
		_ = c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		frame, err := protocol.ParseFrame(data)
		if err != nil {
			logger.Warn("websocket server: discarding malformed frame", err)
			continue
		}
		switch f := frame.(type) {
		case protocol.Request:
			if s.reqHandler == nil {
				continue
			}
			resp := s.reqHandler(context.Background(), f)
			if resp == nil {
				continue
			}
			select {
			case c.send <- resp:
			default:
				logger.Warn("websocket server: client send buffer full, dropping response", nil)
			}
		case protocol.Notification:
			if s.notifyHandler != nil {
				s.notifyHandler(context.Background(), f)
			}
		}
	}
}
