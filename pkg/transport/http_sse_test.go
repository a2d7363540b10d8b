package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSSEServer(t *testing.T, eventLines []string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		frame, err := protocol.ParseFrame(body)
		require.NoError(t, err)
		req, ok := frame.(protocol.Request)
		require.True(t, ok)
		resp, err := protocol.NewResponse(map[string]any{"echo": req.Method}, req.ID)
		require.NoError(t, err)
		data, err := protocol.Marshal(resp)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	})
	mux.HandleFunc("/mcp/notify", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/mcp/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range eventLines {
			fmt.Fprintln(w, line)
			flusher.Flush()
		}
		<-r.Context().Done()
	})
	return httptest.NewServer(mux)
}

func TestHTTPSSERequestResponse(t *testing.T) {
	srv := newSSEServer(t, nil)
	defer srv.Close()

	transport, err := NewHTTPSSEClientTransport(context.Background(), srv.URL+"/mcp", HTTPClientConfig{})
	require.NoError(t, err)
	defer transport.Close()

	req, err := protocol.NewRequest("ping", map[string]any{}, protocol.NewIntID(1))
	require.NoError(t, err)

	frame, err := transport.SendRequest(context.Background(), req)
	require.NoError(t, err)
	resp, ok := frame.(protocol.Response)
	require.True(t, ok)
	assert.Contains(t, string(resp.Result), "ping")
}

func TestHTTPSSENotificationStreamTolerance(t *testing.T) {
	n := protocol.Notification{JSONRPC: protocol.JSONRPCVersion, Method: "notifications/message"}
	data, err := protocol.Marshal(n)
	require.NoError(t, err)

	srv := newSSEServer(t, []string{
		": this is a comment, ignore it",
		"event: message",
		"data: " + string(data),
		"",
	})
	defer srv.Close()

	transport, err := NewHTTPSSEClientTransport(context.Background(), srv.URL+"/mcp", HTTPClientConfig{})
	require.NoError(t, err)
	defer transport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	got, err := transport.ReceiveNotification(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "notifications/message", got.Method)
}
