package transport

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/richard-senior/go-mcp-runtime/internal/logger"
	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
)

// StdioServerTransport runs an MCP server over its own stdin/stdout: one
// request per line in, one response per line out, server->client
// notifications interleaved on the same writer. There is exactly one
// peer per process, matching how a subprocess-spawned MCP server is
// used in practice.
type StdioServerTransport struct {
	r io.Reader
	w io.Writer

	writeMu sync.Mutex

	reqHandler    RequestHandler
	notifyHandler NotificationHandler

	stopCh chan struct{}
	stopOnce sync.Once
}

func NewStdioServerTransport(r io.Reader, w io.Writer) *StdioServerTransport {
	return &StdioServerTransport{r: r, w: w, stopCh: make(chan struct{})}
}

func (t *StdioServerTransport) SetRequestHandler(h RequestHandler)           { t.reqHandler = h }
func (t *StdioServerTransport) SetNotificationHandler(h NotificationHandler) { t.notifyHandler = h }

func (t *StdioServerTransport) Bind(ctx context.Context) error { return nil }

// Start reads newline-delimited frames until ctx is cancelled or Stop is
// called, dispatching each to the request or notification handler and,
// for requests, writing the reply back on the same stream.
func (t *StdioServerTransport) Start(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(t.r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			lineCopy := append([]byte(nil), line...)
			frame, err := protocol.ParseFrame(lineCopy)
			if err != nil {
				logger.Warn("stdio server: discarding malformed frame", err)
				continue
			}
			t.dispatch(ctx, frame)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stopCh:
		return nil
	case <-done:
		return io.EOF
	}
}

func (t *StdioServerTransport) dispatch(ctx context.Context, frame protocol.Frame) {
	switch f := frame.(type) {
	case protocol.Request:
		if t.reqHandler == nil {
			return
		}
		resp := t.reqHandler(ctx, f)
		if resp == nil {
			return
		}
		if err := t.write(resp); err != nil {
			logger.Warn("stdio server: write response failed", err)
		}
	case protocol.Notification:
		if t.notifyHandler != nil {
			t.notifyHandler(ctx, f)
		}
	}
}

func (t *StdioServerTransport) Stop(ctx context.Context) error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	return nil
}

func (t *StdioServerTransport) SendNotification(ctx context.Context, n protocol.Notification) error {
	return t.write(n)
}

func (t *StdioServerTransport) write(f protocol.Frame) error {
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
