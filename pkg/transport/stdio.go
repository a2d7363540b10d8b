package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/richard-senior/go-mcp-runtime/internal/logger"
	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
)

// StdioClientTransport speaks newline-delimited JSON-RPC over a pair of
// io.Reader/io.Writer, typically a spawned subprocess's stdout/stdin.
// Grounded on richard-senior-mcp/pkg/transport/transport.go's
// ReadRequest/WriteResponse pair, generalized into the bidirectional
// ClientTransport contract and a dedicated reader goroutine so responses
// and out-of-band notifications can be demultiplexed by id presence.
type StdioClientTransport struct {
	w      io.Writer
	cmd    *exec.Cmd
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan protocol.Frame

	notifyCh chan *protocol.Notification
	closeCh  chan struct{}
	closed   sync.Once
	readErr  error
}

// NewStdioClientTransport wires up a transport over an already-running
// pair of pipes (e.g. os.Stdin/os.Stdout when this process itself is
// driven by a parent MCP client).
func NewStdioClientTransport(r io.Reader, w io.Writer) *StdioClientTransport {
	t := &StdioClientTransport{
		w:        w,
		pending:  make(map[string]chan protocol.Frame),
		notifyCh: make(chan *protocol.Notification, 64),
		closeCh:  make(chan struct{}),
	}
	go t.readLoop(r)
	return t
}

// SpawnStdioClientTransport starts name(args...) as a subprocess and
// wires a transport to its stdin/stdout, per spec.md §4.3's stdio
// transport ("spawned subprocess").
func SpawnStdioClientTransport(ctx context.Context, name string, args ...string) (*StdioClientTransport, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio transport: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio transport: stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("stdio transport: start subprocess: %w", err)
	}

	t := NewStdioClientTransport(stdout, stdin)
	t.cmd = cmd
	return t, nil
}

// readLoop owns the read side exclusively: it scans newline-delimited
// frames, correlating responses to pending Call()s by id and routing
// notifications to notifyCh; an inbound request is logged and dropped
// (see routeInbound). No partial line is ever
// retained across a reconnect — a fresh transport gets a fresh scanner.
func (t *StdioClientTransport) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame, err := protocol.ParseFrame(line)
		if err != nil {
			logger.Warn("stdio transport: discarding malformed frame", err)
			continue
		}
		t.routeInbound(frame)
	}
	t.readErr = scanner.Err()
	if t.readErr == nil {
		t.readErr = io.EOF
	}
	t.shutdown()
}

func (t *StdioClientTransport) routeInbound(frame protocol.Frame) {
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
			logger.Warn("stdio transport: notification queue full, dropping", fmt.Errorf("method=%s", f.Method))
		}
	case protocol.Request:
		// A request arriving on a client transport is a server->client
		// call (sampling/createMessage, roots/list, elicitation/create);
		// this transport alone cannot answer it without a handler wired
		// in, so it is surfaced as a notification-shaped envelope is
		// inappropriate. Real bidirectional use goes through
		// StdioServerTransport instead; log and drop defensively.
		logger.Warn("stdio transport: unexpected inbound request on client transport", fmt.Errorf("method=%s", f.Method))
	}
}

func (t *StdioClientTransport) deliver(id protocol.ID, frame protocol.Frame) {
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

func (t *StdioClientTransport) SendRequest(ctx context.Context, req protocol.Request) (protocol.Frame, error) {
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
		return nil, fmt.Errorf("stdio transport: closed: %w", t.readErr)
	}
}

func (t *StdioClientTransport) SendNotification(ctx context.Context, n protocol.Notification) error {
	return t.write(n)
}

func (t *StdioClientTransport) ReceiveNotification(ctx context.Context) (*protocol.Notification, error) {
	select {
	case n := <-t.notifyCh:
		return n, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closeCh:
		return nil, fmt.Errorf("stdio transport: closed: %w", t.readErr)
	}
}

func (t *StdioClientTransport) write(f protocol.Frame) error {
	data, err := protocol.Marshal(f)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.w.Write(data)
	return err
}

func (t *StdioClientTransport) Close() error {
	t.shutdown()
	if t.cmd != nil && t.cmd.Process != nil {
		return t.cmd.Process.Kill()
	}
	return nil
}

func (t *StdioClientTransport) shutdown() {
	t.closed.Do(func() {
		close(t.closeCh)
	})
}

// Recoverable reports a closed stdio pipe as retryable, matching how
// other transports classify connection loss (implements
// transport.Recoverable).
func (t *StdioClientTransport) Recoverable() bool { return true }
