package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/net/http2"
	"golang.org/x/sync/semaphore"

	"github.com/richard-senior/go-mcp-runtime/internal/logger"
	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
)

// Strategy is one of the per-request send strategies of spec.md §4.3.
type Strategy int

const (
	StrategyTraditional Strategy = iota
	StrategyChunked
	StrategyCompressed
	StrategyH2ServerPush
	StrategyH2Multiplexed
)

func (s Strategy) String() string {
	switch s {
	case StrategyChunked:
		return "chunked"
	case StrategyCompressed:
		return "compressed"
	case StrategyH2ServerPush:
		return "h2-server-push"
	case StrategyH2Multiplexed:
		return "h2-multiplexed"
	default:
		return "traditional"
	}
}

// fallbackOrder is the order the transport degrades through on failure,
// per spec.md §4.3: "H2Multiplexed -> H2ServerPush -> Chunked -> Traditional".
var fallbackOrder = []Strategy{StrategyH2Multiplexed, StrategyH2ServerPush, StrategyChunked, StrategyTraditional}

// CompressionType enumerates spec.md §6's streaming compression options.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionGzip
	CompressionBrotli
	CompressionZstd
)

// StreamingConfig bundles the streaming-HTTP-specific options of
// spec.md §6.
type StreamingConfig struct {
	ChunkThreshold       int
	ChunkSize            int
	EnableCompression    bool
	CompressionType      CompressionType
	EnableHTTP2ServerPush bool
	EnableHTTP2          bool
	MaxConcurrentChunks  int64
	BackpressureThreshold int64
	AdaptiveChunkSizing  bool
}

// DefaultStreamingConfig matches reasonable defaults implied by
// spec.md §6 (chunk size 16 KiB, compress over 1 KiB, 4 chunks in flight).
func DefaultStreamingConfig() StreamingConfig {
	return StreamingConfig{
		ChunkThreshold:        1024,
		ChunkSize:             16 * 1024,
		EnableCompression:     true,
		CompressionType:       CompressionGzip,
		EnableHTTP2ServerPush: false,
		EnableHTTP2:           false,
		MaxConcurrentChunks:   4,
		BackpressureThreshold: 4 * 1024 * 1024,
		AdaptiveChunkSizing:   true,
	}
}

// contentAnalysis is the output of analyzeContent, used to pick a
// strategy advisorily (spec.md §4.3: "the selection is advisory").
type contentAnalysis struct {
	estimatedSize    int
	hasLargeString   bool
	hasBinaryIndicator bool
	nestingDepth     int
}

// analyzeContent performs the lightweight heuristic scan spec.md §4.3
// describes: size, large-string-field presence, base64-like binary
// indicators, and JSON nesting depth. It never fully parses the payload
// into a tree — a shallow scan is enough for an advisory decision.
func analyzeContent(data []byte) contentAnalysis {
	a := contentAnalysis{estimatedSize: len(data)}

	depth, maxDepth := 0, 0
	inString := false
	escaped := false
	runStart := -1
	longestRun := 0

	for i, b := range data {
		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch b {
			case '\\':
				escaped = true
			case '"':
				inString = false
				if i-runStart > longestRun {
					longestRun = i - runStart
				}
			}
			continue
		}
		switch b {
		case '"':
			inString = true
			runStart = i + 1
		case '{', '[':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case '}', ']':
			depth--
		}
	}

	a.nestingDepth = maxDepth
	a.hasLargeString = longestRun > 256
	a.hasBinaryIndicator = looksBase64ish(data)
	return a
}

// looksBase64ish is a cheap heuristic, not a validator: a long run of
// base64-alphabet bytes inside a string value suggests embedded binary
// data (images, blobs) rather than ordinary JSON text.
func looksBase64ish(data []byte) bool {
	run := 0
	for _, b := range data {
		switch {
		case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9', b == '+', b == '/', b == '=':
			run++
			if run > 512 {
				return true
			}
		default:
			run = 0
		}
	}
	return false
}

// selectStrategy picks the advisory strategy for one payload, per
// spec.md §4.3's analyzer description.
func selectStrategy(a contentAnalysis, cfg StreamingConfig, http2Available bool) Strategy {
	if http2Available && cfg.EnableHTTP2 {
		if a.estimatedSize > cfg.ChunkThreshold*4 {
			return StrategyH2Multiplexed
		}
		if cfg.EnableHTTP2ServerPush {
			return StrategyH2ServerPush
		}
	}
	if cfg.EnableCompression && (a.estimatedSize > cfg.ChunkThreshold || a.hasLargeString) && !a.hasBinaryIndicator {
		return StrategyCompressed
	}
	if a.estimatedSize > cfg.ChunkThreshold || a.nestingDepth > 8 {
		return StrategyChunked
	}
	return StrategyTraditional
}

// chunkMetrics tracks adaptive chunk sizing state, per spec.md §4.3:
// "doubling, capped at 64 KiB... halved under high latency, floor 1 KiB".
type chunkMetrics struct {
	mu   sync.Mutex
	size int
}

func newChunkMetrics(initial int) *chunkMetrics {
	return &chunkMetrics{size: initial}
}

func (c *chunkMetrics) current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *chunkMetrics) observe(rtt, threshold time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case rtt < threshold/2 && c.size < 64*1024:
		c.size *= 2
		if c.size > 64*1024 {
			c.size = 64 * 1024
		}
	case rtt > threshold && c.size > 1024:
		c.size /= 2
		if c.size < 1024 {
			c.size = 1024
		}
	}
}

// StreamingHTTPClientTransport is the content-adaptive streaming HTTP
// transport of spec.md §4.3. Notification delivery and Close reuse
// HTTPSSEClientTransport's SSE machinery unchanged; only outbound
// request encoding differs by selected strategy.
type StreamingHTTPClientTransport struct {
	*HTTPSSEClientTransport

	cfg          StreamingConfig
	chunkMetrics *chunkMetrics
	chunkSem     *semaphore.Weighted
	http2Client  *http.Client
}

// NewStreamingHTTPClientTransport builds a transport over baseURL
// ("http://host:port/mcp") with the given streaming and HTTP client
// configuration. If cfg.EnableHTTP2 is set, a separate HTTP/2-enabled
// client is built by applying golang.org/x/net/http2's ConfigureTransport
// to a standard http.Transport. The H2Multiplexed and H2ServerPush
// strategies each send one ordinary request through that client; there
// is no stream manager and no push-promise handling.
func NewStreamingHTTPClientTransport(ctx context.Context, baseURL string, httpCfg HTTPClientConfig, streamCfg StreamingConfig, opts ...HTTPSSEOption) (*StreamingHTTPClientTransport, error) {
	base, err := NewHTTPSSEClientTransport(ctx, baseURL, httpCfg, opts...)
	if err != nil {
		return nil, err
	}

	t := &StreamingHTTPClientTransport{
		HTTPSSEClientTransport: base,
		cfg:                    streamCfg,
		chunkMetrics:           newChunkMetrics(streamCfg.ChunkSize),
		chunkSem:               semaphore.NewWeighted(maxInt64(streamCfg.MaxConcurrentChunks, 1)),
	}

	if streamCfg.EnableHTTP2 {
		h2Transport := &http.Transport{}
		if err := http2.ConfigureTransport(h2Transport); err != nil {
			logger.Warn("streaming http transport: http2 configuration failed, falling back", err)
		} else {
			t.http2Client = &http.Client{Transport: h2Transport, Timeout: httpCfg.Timeout}
		}
	}

	return t, nil
}

func maxInt64(v int64, floor int64) int64 {
	if v <= 0 {
		return floor
	}
	return v
}

// SendRequest selects a strategy and sends req, falling back through
// fallbackOrder on failure starting from the selected strategy's
// position in that order (spec.md §4.3). Compressed, which fallbackOrder
// does not list, is tried first and then falls back to Chunked and
// Traditional.
func (t *StreamingHTTPClientTransport) SendRequest(ctx context.Context, req protocol.Request) (protocol.Frame, error) {
	body, err := protocol.Marshal(req)
	if err != nil {
		return nil, err
	}

	analysis := analyzeContent(body)
	strategy := selectStrategy(analysis, t.cfg, t.http2Client != nil)

	start := 0
	for i, s := range fallbackOrder {
		if s == strategy {
			start = i
			break
		}
	}

	order := fallbackOrder[start:]
	if strategy == StrategyCompressed {
		order = []Strategy{StrategyCompressed, StrategyChunked, StrategyTraditional}
	}

	var lastErr error
	for _, s := range order {
		frame, err := t.sendWithStrategy(ctx, s, body, req.ID)
		if err == nil {
			return frame, nil
		}
		lastErr = err
		logger.Warn(fmt.Sprintf("streaming http transport: strategy %s failed, falling back", s), err)
	}
	return nil, fmt.Errorf("streaming http transport: all strategies exhausted: %w", lastErr)
}

func (t *StreamingHTTPClientTransport) sendWithStrategy(ctx context.Context, s Strategy, body []byte, id protocol.ID) (protocol.Frame, error) {
	switch s {
	case StrategyH2Multiplexed, StrategyH2ServerPush:
		if t.http2Client == nil {
			return nil, fmt.Errorf("http2 not enabled")
		}
		return t.sendHTTP2(ctx, body)
	case StrategyCompressed:
		return t.sendCompressed(ctx, body)
	case StrategyChunked:
		return t.sendChunked(ctx, body)
	default:
		return t.sendTraditional(ctx, body)
	}
}

func (t *StreamingHTTPClientTransport) sendTraditional(ctx context.Context, body []byte) (protocol.Frame, error) {
	resp, err := t.doJSON(ctx, t.baseURL, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := t.readBody(resp)
	if err != nil {
		return nil, err
	}
	return protocol.ParseFrame(data)
}

func (t *StreamingHTTPClientTransport) sendHTTP2(ctx context.Context, body []byte) (protocol.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.authorize != nil {
		if err := t.authorize(ctx, req, false); err != nil {
			return nil, err
		}
	}
	resp, err := t.http2Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http2 transport: status %d", resp.StatusCode)
	}
	data, err := t.readBody(resp)
	if err != nil {
		return nil, err
	}
	return protocol.ParseFrame(data)
}

func (t *StreamingHTTPClientTransport) sendCompressed(ctx context.Context, body []byte) (protocol.Frame, error) {
	var buf bytes.Buffer
	var encoding string

	switch t.cfg.CompressionType {
	case CompressionBrotli:
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		encoding = "br"
	case CompressionZstd:
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		encoding = "zstd"
	default: // Gzip
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		encoding = "gzip"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", encoding)
	if t.authorize != nil {
		if err := t.authorize(ctx, req, false); err != nil {
			return nil, err
		}
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("compressed transport: status %d", resp.StatusCode)
	}
	data, err := t.readBody(resp)
	if err != nil {
		return nil, err
	}
	return protocol.ParseFrame(data)
}

// sendChunked streams body as Transfer-Encoding: chunked, writing at
// most chunkMetrics.current() bytes per write, bounded by chunkSem so
// at most cfg.MaxConcurrentChunks writers are in flight across all
// concurrent sendChunked calls on this transport.
func (t *StreamingHTTPClientTransport) sendChunked(ctx context.Context, body []byte) (protocol.Frame, error) {
	if err := t.chunkSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer t.chunkSem.Release(1)

	start := time.Now()
	pr, pw := io.Pipe()
	go func() {
		chunkSize := t.chunkMetrics.current()
		defer pw.Close()
		for off := 0; off < len(body); off += chunkSize {
			end := off + chunkSize
			if end > len(body) {
				end = len(body)
			}
			if _, err := pw.Write(body[off:end]); err != nil {
				return
			}
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Transfer-Encoding", "chunked")
	req.ContentLength = -1
	if t.authorize != nil {
		if err := t.authorize(ctx, req, false); err != nil {
			return nil, err
		}
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if t.cfg.AdaptiveChunkSizing {
		t.chunkMetrics.observe(time.Since(start), 200*time.Millisecond)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("chunked transport: status %d", resp.StatusCode)
	}
	data, err := t.readBody(resp)
	if err != nil {
		return nil, err
	}
	return protocol.ParseFrame(data)
}
