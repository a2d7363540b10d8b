package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPServerTransportRequestResponse(t *testing.T) {
	server := NewHTTPServerTransport(":0")
	server.SetRequestHandler(func(ctx context.Context, req protocol.Request) protocol.Frame {
		resp, err := protocol.NewResponse(map[string]any{"echo": req.Method}, req.ID)
		require.NoError(t, err)
		return resp
	})

	httpSrv := httptest.NewServer(server.router)
	defer httpSrv.Close()

	client, err := NewHTTPSSEClientTransport(context.Background(), httpSrv.URL+"/mcp", HTTPClientConfig{})
	require.NoError(t, err)
	defer client.Close()

	req, err := protocol.NewRequest("ping", map[string]any{}, protocol.NewIntID(1))
	require.NoError(t, err)

	frame, err := client.SendRequest(context.Background(), req)
	require.NoError(t, err)
	resp, ok := frame.(protocol.Response)
	require.True(t, ok)
	assert.Contains(t, string(resp.Result), "ping")
}

func TestHTTPServerTransportMethodNotFoundNotHTTP500(t *testing.T) {
	server := NewHTTPServerTransport(":0")
	// deliberately no SetRequestHandler call.

	httpSrv := httptest.NewServer(server.router)
	defer httpSrv.Close()

	client, err := NewHTTPSSEClientTransport(context.Background(), httpSrv.URL+"/mcp", HTTPClientConfig{})
	require.NoError(t, err)
	defer client.Close()

	req, err := protocol.NewRequest("ping", map[string]any{}, protocol.NewIntID(1))
	require.NoError(t, err)

	frame, err := client.SendRequest(context.Background(), req)
	require.NoError(t, err)
	errResp, ok := frame.(protocol.ErrorResponse)
	require.True(t, ok, "expected a JSON-RPC error frame, not an HTTP failure")
	assert.Equal(t, protocol.CodeMethodNotFound, errResp.Error.Code)
	assert.Equal(t, "No request handler configured", errResp.Error.Message)
}

func TestHTTPServerTransportHealthEndpoint(t *testing.T) {
	server := NewHTTPServerTransport(":0")
	httpSrv := httptest.NewServer(server.router)
	defer httpSrv.Close()

	resp, err := http.Get(httpSrv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPServerTransportSSENotification(t *testing.T) {
	server := NewHTTPServerTransport(":0")
	httpSrv := httptest.NewServer(server.router)
	defer httpSrv.Close()

	client, err := NewHTTPSSEClientTransport(context.Background(), httpSrv.URL+"/mcp", HTTPClientConfig{})
	require.NoError(t, err)
	defer client.Close()

	// give the SSE client a moment to register before pushing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, server.SendNotification(context.Background(), protocol.Notification{
		JSONRPC: protocol.JSONRPCVersion,
		Method:  "notifications/message",
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := client.ReceiveNotification(ctx)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "notifications/message", n.Method)
}

func TestHTTPServerTransportCORSPreflight(t *testing.T) {
	server := NewHTTPServerTransport(":0")
	httpSrv := httptest.NewServer(server.router)
	defer httpSrv.Close()

	req, err := http.NewRequest(http.MethodOptions, httpSrv.URL+"/mcp", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
