package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/richard-senior/go-mcp-runtime/internal/logger"
	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
)

// HTTPServerTransport implements ServerTransport over the route set of
// spec.md §4.3: POST /mcp, POST /mcp/notify, GET /mcp/events (SSE),
// GET /health, plus POST /mcp/stream and POST /mcp/compressed for the
// streaming client's chunked/compressed strategies. A GET on /mcp/ws
// is delegated to an embedded WebSocketServerTransport so a single HTTP
// listener serves the HTTP+SSE, streaming HTTP and WebSocket clients.
//
// Grounded on richard-senior-mcp/pkg/server/server.go's HandlerFunc
// table, routed here with github.com/gorilla/mux (as used for HTTP
// routing in ruaan-deysel-unraid-management-agent) instead of the
// teacher's bare stdio loop.
type HTTPServerTransport struct {
	addr   string
	router *mux.Router
	srv    *http.Server

	reqHandler    RequestHandler
	notifyHandler NotificationHandler

	ws *WebSocketServerTransport

	sseMu      sync.Mutex
	sseClients map[chan protocol.Notification]struct{}
}

// NewHTTPServerTransport builds a server bound to addr (e.g. ":8080").
func NewHTTPServerTransport(addr string) *HTTPServerTransport {
	t := &HTTPServerTransport{
		addr:       addr,
		router:     mux.NewRouter(),
		ws:         NewWebSocketServerTransport(),
		sseClients: make(map[chan protocol.Notification]struct{}),
	}
	t.routes()
	return t
}

func (t *HTTPServerTransport) SetRequestHandler(h RequestHandler) {
	t.reqHandler = h
	t.ws.SetRequestHandler(h)
}

func (t *HTTPServerTransport) SetNotificationHandler(h NotificationHandler) {
	t.notifyHandler = h
	t.ws.SetNotificationHandler(h)
}

func (t *HTTPServerTransport) routes() {
	t.router.HandleFunc("/mcp", t.handleRequest).Methods(http.MethodPost)
	t.router.HandleFunc("/mcp/stream", t.handleRequest).Methods(http.MethodPost)
	t.router.HandleFunc("/mcp/compressed", t.handleRequest).Methods(http.MethodPost)
	t.router.HandleFunc("/mcp/notify", t.handleNotify).Methods(http.MethodPost)
	t.router.HandleFunc("/mcp/events", t.handleEvents).Methods(http.MethodGet)
	t.router.HandleFunc("/mcp/ws", t.ws.ServeHTTP).Methods(http.MethodGet)
	t.router.HandleFunc("/health", t.handleHealth).Methods(http.MethodGet)
	t.router.Use(corsMiddleware)
}

// corsMiddleware applies spec.md §4.3's "CORS is permissive by default".
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Content-Encoding")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleRequest decodes one JSON-RPC request (optionally Content-Encoding
// compressed) and writes back the Response/ErrorResponse. Per spec.md
// §4.3, a request with no installed handler MUST respond with a
// JSON-RPC METHOD_NOT_FOUND error, never HTTP 500 — that guarantee is
// enforced here, not left to the peer: decode failures, not just
// missing-handler cases, are reported as JSON-RPC errors over HTTP 200.
func (t *HTTPServerTransport) handleRequest(w http.ResponseWriter, r *http.Request) {
	reader, err := DecodeBody(r.Header.Get("Content-Encoding"), r.Body)
	if err != nil {
		writeProtocolError(w, protocol.CodeParseError, err.Error())
		return
	}
	defer reader.Close()

	var body []byte
	body, err = io.ReadAll(reader)
	if err != nil {
		writeProtocolError(w, protocol.CodeParseError, err.Error())
		return
	}

	frame, err := protocol.ParseFrame(body)
	if err != nil {
		writeProtocolError(w, protocol.CodeParseError, err.Error())
		return
	}

	req, ok := frame.(protocol.Request)
	if !ok {
		writeProtocolError(w, protocol.CodeInvalidRequest, "expected a request frame on /mcp")
		return
	}

	if t.reqHandler == nil {
		resp := protocol.NewErrorResponse(protocol.CodeMethodNotFound, "No request handler configured", nil, req.ID)
		writeFrame(w, resp)
		return
	}

	resp := t.reqHandler(r.Context(), req)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeFrame(w, resp)
}

func (t *HTTPServerTransport) handleNotify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeProtocolError(w, protocol.CodeParseError, err.Error())
		return
	}
	frame, err := protocol.ParseFrame(body)
	if err != nil {
		writeProtocolError(w, protocol.CodeParseError, err.Error())
		return
	}
	if n, ok := frame.(protocol.Notification); ok && t.notifyHandler != nil {
		t.notifyHandler(r.Context(), n)
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleEvents serves the SSE notification stream. Each connected client
// gets its own channel buffered to 64 notifications; SendNotification
// drops a notification for a client whose buffer is full. The client
// table itself has no size cap.
func (t *HTTPServerTransport) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan protocol.Notification, 64)
	t.sseMu.Lock()
	t.sseClients[ch] = struct{}{}
	t.sseMu.Unlock()
	defer func() {
		t.sseMu.Lock()
		delete(t.sseClients, ch)
		t.sseMu.Unlock()
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case n := <-ch:
			data, err := protocol.Marshal(n)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (t *HTTPServerTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "healthy",
		"transport": "http",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (t *HTTPServerTransport) Bind(ctx context.Context) error {
	t.srv = &http.Server{Addr: t.addr, Handler: t.router}
	return nil
}

func (t *HTTPServerTransport) Start(ctx context.Context) error {
	if t.srv == nil {
		if err := t.Bind(ctx); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- t.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return t.Stop(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (t *HTTPServerTransport) Stop(ctx context.Context) error {
	if t.srv == nil {
		return nil
	}
	return t.srv.Shutdown(ctx)
}

// SendNotification fans n out to every connected SSE client and every
// connected WebSocket client.
func (t *HTTPServerTransport) SendNotification(ctx context.Context, n protocol.Notification) error {
	t.sseMu.Lock()
	for ch := range t.sseClients {
		select {
		case ch <- n:
		default:
			logger.Warn("http server transport: SSE client buffer full, dropping notification")
		}
	}
	t.sseMu.Unlock()
	return t.ws.SendNotification(ctx, n)
}

func writeFrame(w http.ResponseWriter, f protocol.Frame) {
	data, err := protocol.Marshal(f)
	if err != nil {
		writeProtocolError(w, protocol.CodeInternalError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func writeProtocolError(w http.ResponseWriter, code int, message string) {
	resp := protocol.NewErrorResponse(code, message, nil, protocol.NilID())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	data, _ := protocol.Marshal(resp)
	_, _ = w.Write(data)
}
