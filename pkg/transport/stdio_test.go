package transport

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipePair wires a StdioClientTransport to a StdioServerTransport through
// in-memory pipes, so the wire format and dispatch can be exercised
// without a real subprocess.
func pipePair(t *testing.T) (*StdioClientTransport, *StdioServerTransport) {
	t.Helper()
	c2s_r, c2s_w := io.Pipe()
	s2c_r, s2c_w := io.Pipe()

	server := NewStdioServerTransport(c2s_r, s2c_w)
	client := NewStdioClientTransport(s2c_r, c2s_w)
	return client, server
}

func TestStdioRequestResponseRoundTrip(t *testing.T) {
	client, server := pipePair(t)
	server.SetRequestHandler(func(ctx context.Context, req protocol.Request) protocol.Frame {
		resp, err := protocol.NewResponse(map[string]any{"ok": true}, req.ID)
		require.NoError(t, err)
		return resp
	})

	go func() { _ = server.Start(context.Background()) }()

	req, err := protocol.NewRequest("ping", map[string]any{}, protocol.NewIntID(1))
	require.NoError(t, err)

	frame, err := client.SendRequest(context.Background(), req)
	require.NoError(t, err)
	resp, ok := frame.(protocol.Response)
	require.True(t, ok)
	assert.Contains(t, string(resp.Result), "true")
}

func TestStdioNotificationDelivery(t *testing.T) {
	client, server := pipePair(t)
	server.SetRequestHandler(func(ctx context.Context, req protocol.Request) protocol.Frame { return nil })
	go func() { _ = server.Start(context.Background()) }()

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

func TestStdioMalformedLineIgnoredThenValidFrameDelivered(t *testing.T) {
	r, w := io.Pipe()
	client := NewStdioClientTransport(r, io.Discard)
	defer client.Close()

	go func() {
		_, _ = w.Write([]byte("not json at all\n"))
		n := protocol.Notification{JSONRPC: protocol.JSONRPCVersion, Method: "notifications/message"}
		data, _ := protocol.Marshal(n)
		_, _ = w.Write(append(data, '\n'))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := client.ReceiveNotification(ctx)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "notifications/message", n.Method)
}
