package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
	"github.com/richard-senior/go-mcp-runtime/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport answers `initialize` and `ping` in-process, and can be
// made to fail pings on demand to drive the session's heartbeat/reconnect
// paths without a real network transport.
type fakeTransport struct {
	mu       sync.Mutex
	failPing bool
	closed   bool
}

func (f *fakeTransport) SendRequest(ctx context.Context, req protocol.Request) (protocol.Frame, error) {
	switch req.Method {
	case string(protocol.MethodInitialize):
		result := protocol.InitializeResult{
			ProtocolVersion: protocol.ProtocolVersion,
			ServerInfo:      protocol.Implementation{Name: "fake", Version: "1.0.0"},
		}
		resp, err := protocol.NewResponse(result, req.ID)
		return resp, err
	case string(protocol.MethodPing):
		f.mu.Lock()
		fail := f.failPing
		f.mu.Unlock()
		if fail {
			return nil, &dialError{"connection reset"}
		}
		resp, err := protocol.NewResponse(protocol.PingResult{}, req.ID)
		return resp, err
	default:
		return protocol.NewErrorResponse(protocol.CodeMethodNotFound, "unhandled in test", nil, req.ID), nil
	}
}

func (f *fakeTransport) SendNotification(ctx context.Context, n protocol.Notification) error {
	return nil
}

func (f *fakeTransport) ReceiveNotification(ctx context.Context) (*protocol.Notification, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) setFailPing(v bool) {
	f.mu.Lock()
	f.failPing = v
	f.mu.Unlock()
}

func TestConnectTransitionsToConnected(t *testing.T) {
	ft := &fakeTransport{}
	sess := New(func(ctx context.Context) (transport.ClientTransport, error) { return ft, nil }, DefaultConfig())
	watch := sess.Watch()

	require.NoError(t, sess.Connect(context.Background()))
	assert.Equal(t, StateConnected, sess.State())

	transitions := drain(watch, 2)
	require.Len(t, transitions, 2)
	assert.Equal(t, StateConnecting, transitions[0].To)
	assert.Equal(t, StateConnected, transitions[1].To)

	require.NoError(t, sess.Close())
	assert.Equal(t, StateDisconnected, sess.State())
}

func TestConnectFailureTransitionsToFailed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConnectionTimeout = 50 * time.Millisecond
	sess := New(func(ctx context.Context) (transport.ClientTransport, error) {
		return nil, assertErr
	}, cfg)

	err := sess.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, sess.State())
	assert.Equal(t, err, sess.LastError())
}

func TestDoubleConnectRejected(t *testing.T) {
	ft := &fakeTransport{}
	sess := New(func(ctx context.Context) (transport.ClientTransport, error) { return ft, nil }, DefaultConfig())
	require.NoError(t, sess.Connect(context.Background()))
	defer sess.Close()

	err := sess.Connect(context.Background())
	assert.Error(t, err)
}

func TestHeartbeatFailureDrivesReconnect(t *testing.T) {
	first := &fakeTransport{}
	second := &fakeTransport{}
	dialCount := 0
	var mu sync.Mutex

	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.HeartbeatTimeout = 20 * time.Millisecond
	cfg.Retry.InitialDelay = 5 * time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.ConnectionTimeout = 200 * time.Millisecond

	sess := New(func(ctx context.Context) (transport.ClientTransport, error) {
		mu.Lock()
		defer mu.Unlock()
		dialCount++
		if dialCount == 1 {
			return first, nil
		}
		return second, nil
	}, cfg)

	watch := sess.Watch()
	require.NoError(t, sess.Connect(context.Background()))
	first.setFailPing(true)

	deadline := time.After(3 * time.Second)
	sawReconnecting := false
	sawConnectedAgain := false
	connectedCount := 0
	for !sawConnectedAgain {
		select {
		case tr := <-watch:
			if tr.To == StateReconnecting {
				sawReconnecting = true
			}
			if tr.To == StateConnected {
				connectedCount++
				if sawReconnecting && connectedCount >= 2 {
					sawConnectedAgain = true
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for reconnect")
		}
	}

	assert.True(t, sawReconnecting)
	require.NoError(t, sess.Close())
}

func drain(ch <-chan Transition, n int) []Transition {
	out := make([]Transition, 0, n)
	for i := 0; i < n; i++ {
		select {
		case t := <-ch:
			out = append(out, t)
		case <-time.After(time.Second):
			return out
		}
	}
	return out
}

var assertErr = &dialError{"dial failed"}

type dialError struct{ msg string }

func (e *dialError) Error() string { return e.msg }
