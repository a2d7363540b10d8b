// Package session wraps a pkg/peer.Peer with the connection-level
// concerns of spec.md §3/§4.2: a state machine, a heartbeat task, an
// auto-reconnect policy with backoff and circuit breaking, and a
// notification-handler registry that fans inbound notifications out on
// a background task.
//
// Grounded on richard-senior-mcp's transport/peer layering for the
// Connect/Close lifecycle, and on
// ruaan-deysel-unraid-management-agent/daemon/services/api/websocket.go's
// WSHub register/unregister/broadcast select loop, generalized from a
// fan-out-only hub into a full state machine whose transitions are
// themselves broadcast to subscribers.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/richard-senior/go-mcp-runtime/internal/logger"
	"github.com/richard-senior/go-mcp-runtime/pkg/mcperr"
	"github.com/richard-senior/go-mcp-runtime/pkg/peer"
	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
	"github.com/richard-senior/go-mcp-runtime/pkg/transport"
)

// State is one of the five session states of spec.md §3.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transition is one state-change event delivered on the watch channel.
type Transition struct {
	From State
	To   State
	Err  error // set only when To == StateFailed
	At   time.Time
}

// RetryPolicy governs reconnect attempts, per spec.md §4.2.
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            float64 // fraction of the computed delay; withJitter adds frac/2, e.g. 0.1 adds 5%
}

// DefaultRetryPolicy matches the enumerated defaults of spec.md §6.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       5,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// Delay returns the delay before attempt k (1-indexed), before jitter.
func (r RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(r.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= r.BackoffMultiplier
	}
	max := float64(r.MaxDelay)
	if d > max {
		d = max
	}
	return time.Duration(d)
}

// Config bundles the session-level options of spec.md §6.
type Config struct {
	AutoReconnect       bool
	Retry               RetryPolicy
	ConnectionTimeout   time.Duration
	HeartbeatInterval   time.Duration
	HeartbeatTimeout    time.Duration
	ClientInfo          protocol.Implementation
	ClientCapabilities  protocol.ClientCapabilities
}

// DefaultConfig matches spec.md §6's session defaults.
func DefaultConfig() Config {
	return Config{
		AutoReconnect:     true,
		Retry:             DefaultRetryPolicy(),
		ConnectionTimeout: 10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  5 * time.Second,
	}
}

// Dialer reconnects a client transport from scratch. A Session calls it
// once on Connect and again on every reconnect attempt, since a dead
// transport (closed socket, exhausted stream) cannot simply be retried.
type Dialer func(ctx context.Context) (transport.ClientTransport, error)

// Session owns a Peer's lifecycle: connect, heartbeat, reconnect on
// failure, and disconnect. It is safe for concurrent use.
type Session struct {
	dial Dialer
	cfg  Config

	mu    sync.Mutex // serializes transitions and Connect/Close (spec.md §3)
	state State
	peer  *peer.Peer
	err   error

	watchMu sync.Mutex
	watchers []chan Transition

	handlersMu sync.Mutex
	handlers   []peer.NotificationListener

	breaker *circuitBreaker

	heartbeatCancel context.CancelFunc
	closed          bool
	closeCh         chan struct{}
}

// New builds a Session that dials transports via dial.
func New(dial Dialer, cfg Config) *Session {
	return &Session{
		dial:    dial,
		cfg:     cfg,
		state:   StateDisconnected,
		breaker: newCircuitBreaker(3, 30*time.Second),
		closeCh: make(chan struct{}),
	}
}

// Watch registers a channel that receives every subsequent state
// Transition. The channel is buffered (capacity 8); a slow watcher that
// falls behind misses only transitions, never blocks the session.
func (s *Session) Watch() <-chan Transition {
	ch := make(chan Transition, 8)
	s.watchMu.Lock()
	s.watchers = append(s.watchers, ch)
	s.watchMu.Unlock()
	return ch
}

func (s *Session) broadcast(t Transition) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- t:
		default:
		}
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the error that drove the most recent Failed
// transition, or nil.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Peer returns the underlying Peer, or nil if not currently connected.
func (s *Session) Peer() *peer.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// setState must be called with s.mu held. It updates state, records err
// for Failed transitions, and broadcasts the transition.
func (s *Session) setState(to State, err error) {
	from := s.state
	s.state = to
	if to == StateFailed {
		s.err = err
	}
	s.broadcast(Transition{From: from, To: to, Err: err, At: time.Now()})
}

// OnNotification registers a listener for every inbound notification on
// the current and all future peers, in registration order.
func (s *Session) OnNotification(l peer.NotificationListener) {
	s.handlersMu.Lock()
	s.handlers = append(s.handlers, l)
	s.handlersMu.Unlock()

	s.mu.Lock()
	p := s.peer
	s.mu.Unlock()
	if p != nil {
		p.OnNotification(l)
	}
}

func (s *Session) installHandlers(p *peer.Peer) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	for _, l := range s.handlers {
		p.OnNotification(l)
	}
}

// Connect dials a transport, performs the initialize handshake, and
// transitions Disconnected -> Connecting -> Connected (or -> Failed).
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected && s.state != StateFailed {
		s.mu.Unlock()
		return mcperr.New(mcperr.KindStateMismatch, "session already connecting or connected")
	}
	s.setState(StateConnecting, nil)
	s.mu.Unlock()

	connectCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.ConnectionTimeout > 0 {
		connectCtx, cancel = context.WithTimeout(ctx, s.cfg.ConnectionTimeout)
		defer cancel()
	}

	p, err := s.dialAndInitialize(connectCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.setState(StateFailed, err)
		return err
	}
	s.peer = p
	s.installHandlers(p)
	s.setState(StateConnected, nil)

	if s.cfg.HeartbeatInterval > 0 {
		s.startHeartbeat()
	}
	return nil
}

func (s *Session) dialAndInitialize(ctx context.Context) (*peer.Peer, error) {
	t, err := s.dial(ctx)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindConnection, err, "dial transport")
	}
	p := peer.NewClientPeer(t, peer.DefaultConfig(), s.cfg.ClientInfo)
	p.SetClientCapabilities(s.cfg.ClientCapabilities)
	if _, err := p.Initialize(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// Close disconnects the session, stopping the heartbeat task and any
// in-progress reconnect loop, and closes the underlying peer.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	s.stopHeartbeatLocked()
	p := s.peer
	s.peer = nil
	s.setState(StateDisconnected, nil)
	s.mu.Unlock()

	if p != nil {
		return p.Close()
	}
	return nil
}

func (s *Session) startHeartbeat() {
	ctx, cancel := context.WithCancel(context.Background())
	s.heartbeatCancel = cancel
	go s.heartbeatLoop(ctx)
}

func (s *Session) stopHeartbeatLocked() {
	if s.heartbeatCancel != nil {
		s.heartbeatCancel()
		s.heartbeatCancel = nil
	}
}

// heartbeatLoop issues ping at cfg.HeartbeatInterval and, on failure or
// timeout, drives the session into Reconnecting (or Disconnected if
// auto-reconnect is off), per spec.md §4.2. It always exits within one
// interval of ctx being cancelled by Close/disconnect.
func (s *Session) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closeCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			p := s.peer
			s.mu.Unlock()
			if p == nil {
				return
			}

			pingCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HeartbeatTimeout)
			err := p.Ping(pingCtx)
			cancel()

			if err != nil {
				logger.Warn("session: heartbeat failed", err)
				s.handleDisconnect(err)
				return
			}
		}
	}
}

// handleDisconnect is invoked from the heartbeat loop (and would be
// invoked by a transport that reports a fatal read error) on connection
// loss. It transitions to Reconnecting and runs the retry loop if
// auto-reconnect is enabled, otherwise to Disconnected.
func (s *Session) handleDisconnect(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.peer != nil {
		_ = s.peer.Close()
		s.peer = nil
	}
	s.stopHeartbeatLocked()

	if !s.cfg.AutoReconnect {
		s.setState(StateDisconnected, nil)
		s.mu.Unlock()
		return
	}
	s.setState(StateReconnecting, nil)
	s.mu.Unlock()

	go s.reconnectLoop(cause)
}

// reconnectLoop implements P9: at most max-attempts tries, delay on
// attempt k = min(initial * multiplier^(k-1), max) with jitter, gated by
// a circuit breaker and by the error's Recoverable classification.
func (s *Session) reconnectLoop(lastErr error) {
	policy := s.cfg.Retry
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-s.closeCh:
			return
		default:
		}

		if !mcperr.Recoverable(lastErr) {
			s.fail(lastErr)
			return
		}
		if !s.breaker.Allow() {
			s.fail(fmt.Errorf("circuit breaker open after repeated failures: %w", lastErr))
			return
		}

		delay := withJitter(policy.Delay(attempt), policy.Jitter)
		select {
		case <-time.After(delay):
		case <-s.closeCh:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectionTimeout)
		p, err := s.dialAndInitialize(ctx)
		cancel()

		if err == nil {
			s.breaker.Success()
			s.mu.Lock()
			s.peer = p
			s.installHandlers(p)
			s.setState(StateConnected, nil)
			if s.cfg.HeartbeatInterval > 0 {
				s.startHeartbeat()
			}
			s.mu.Unlock()
			return
		}

		s.breaker.Failure()
		lastErr = err
		logger.Warn(fmt.Sprintf("session: reconnect attempt %d/%d failed", attempt, policy.MaxAttempts), err)
	}

	s.fail(lastErr)
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.setState(StateFailed, err)
}

func withJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	// Deterministic +frac/2 skew rather than math/rand: keeps reconnect
	// timing reproducible in tests while still de-synchronizing peers
	// that share the same policy, which is jitter's purpose here.
	return d + time.Duration(float64(d)*frac/2)
}
