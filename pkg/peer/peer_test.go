package peer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/richard-senior/go-mcp-runtime/pkg/mcperr"
	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
	"github.com/richard-senior/go-mcp-runtime/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackTransport wires a client Peer directly to a server Peer's
// dispatch functions in-process, standing in for a real wire transport
// in unit tests.
type loopbackTransport struct {
	mu        sync.Mutex
	reqHandle transport_reqHandler
	notifyCh  chan protocol.Notification
	closed    bool
}

type transport_reqHandler func(ctx context.Context, req protocol.Request) protocol.Frame

func newLoopback() *loopbackTransport {
	return &loopbackTransport{notifyCh: make(chan protocol.Notification, 16)}
}

func (l *loopbackTransport) SendRequest(ctx context.Context, req protocol.Request) (protocol.Frame, error) {
	l.mu.Lock()
	h := l.reqHandle
	l.mu.Unlock()
	if h == nil {
		return nil, context.DeadlineExceeded
	}
	return h(ctx, req), nil
}

func (l *loopbackTransport) SendNotification(ctx context.Context, n protocol.Notification) error {
	return nil
}

func (l *loopbackTransport) ReceiveNotification(ctx context.Context) (*protocol.Notification, error) {
	select {
	case n, ok := <-l.notifyCh:
		if !ok {
			return nil, context.Canceled
		}
		return &n, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *loopbackTransport) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.notifyCh)
	}
	return nil
}

func TestInitializeHandshake(t *testing.T) {
	lb := newLoopback()
	server := NewServerPeer(&fakeServerTransport{}, DefaultConfig(), protocol.Implementation{Name: "s", Version: "1.0.0"})
	server.SetServerCapabilities(protocol.ServerCapabilities{Tools: &protocol.ListChangedCapability{}})

	lb.reqHandle = func(ctx context.Context, req protocol.Request) protocol.Frame {
		return server.HandleInbound(ctx, req)
	}

	client := NewClientPeer(lb, DefaultConfig(), protocol.Implementation{Name: "c", Version: "1.0.0"})
	defer client.Close()

	result, err := client.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.ProtocolVersion, result.ProtocolVersion)
	assert.Equal(t, "s", result.ServerInfo.Name)
}

func TestCallBeforeInitializeRejected(t *testing.T) {
	server := NewServerPeer(&fakeServerTransport{}, DefaultConfig(), protocol.Implementation{Name: "s", Version: "1.0.0"})

	req, err := protocol.NewRequest(string(protocol.MethodToolsList), map[string]any{}, protocol.NewIntID(1))
	require.NoError(t, err)

	frame := server.HandleInbound(context.Background(), req)
	errResp, ok := frame.(protocol.ErrorResponse)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeMethodNotFound, errResp.Error.Code)
}

func TestToolNotFoundMapsToDashCode(t *testing.T) {
	server := NewServerPeer(&fakeServerTransport{}, DefaultConfig(), protocol.Implementation{Name: "s", Version: "1.0.0"})
	server.MarkInitialized()
	server.Handle(string(protocol.MethodToolsCall), func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, protocolToolNotFound("nope")
	})

	req, err := protocol.NewRequest(string(protocol.MethodToolsCall), protocol.ToolsCallParams{Name: "nope"}, protocol.NewIntID(1))
	require.NoError(t, err)

	frame := server.HandleInbound(context.Background(), req)
	errResp, ok := frame.(protocol.ErrorResponse)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeToolNotFound, errResp.Error.Code)
}

func TestClosePendingRequestsFailWithConnectionError(t *testing.T) {
	lb := newLoopback()
	lb.reqHandle = func(ctx context.Context, req protocol.Request) protocol.Frame {
		<-ctx.Done()
		return nil
	}
	client := NewClientPeer(lb, Config{RequestTimeout: 2 * time.Second}, protocol.Implementation{Name: "c", Version: "1"})

	done := make(chan error, 1)
	go func() {
		done <- client.Call(context.Background(), "ping", map[string]any{}, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, client.Close())

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, mcperr.Is(err, mcperr.KindConnection))
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not unblock after Close")
	}

	client.mu.Lock()
	assert.Empty(t, client.pending)
	client.mu.Unlock()
}

// fakeServerTransport satisfies transport.ServerTransport minimally for
// tests that only need a Peer constructed in server role.
type fakeServerTransport struct{}

func (f *fakeServerTransport) SetRequestHandler(h transport.RequestHandler) {
}
func (f *fakeServerTransport) SetNotificationHandler(h transport.NotificationHandler) {
}
func (f *fakeServerTransport) Bind(ctx context.Context) error  { return nil }
func (f *fakeServerTransport) Start(ctx context.Context) error { return nil }
func (f *fakeServerTransport) Stop(ctx context.Context) error  { return nil }
func (f *fakeServerTransport) SendNotification(ctx context.Context, n protocol.Notification) error {
	return nil
}

func protocolToolNotFound(name string) error {
	return mcperr.Newf(mcperr.KindToolNotFound, "tool not found: %s", name)
}
