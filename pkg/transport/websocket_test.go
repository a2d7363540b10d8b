package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketRequestResponseAndNotification(t *testing.T) {
	server := NewWebSocketServerTransport()
	server.SetRequestHandler(func(ctx context.Context, req protocol.Request) protocol.Frame {
		resp, err := protocol.NewResponse(map[string]any{"echo": req.Method}, req.ID)
		require.NoError(t, err)
		return resp
	})

	httpSrv := httptest.NewServer(server)
	defer httpSrv.Close()
	defer server.Stop(context.Background())

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	client, err := DialWebSocketClientTransport(context.Background(), wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	req, err := protocol.NewRequest("ping", map[string]any{}, protocol.NewIntID(1))
	require.NoError(t, err)

	frame, err := client.SendRequest(context.Background(), req)
	require.NoError(t, err)
	resp, ok := frame.(protocol.Response)
	require.True(t, ok)
	assert.Contains(t, string(resp.Result), "ping")

	// give the server a moment to register the client before pushing a
	// server->client notification.
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
