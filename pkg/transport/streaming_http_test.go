package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeContentDetectsLargeStringAndDepth(t *testing.T) {
	body := []byte(`{"a":{"b":{"c":"` + strings.Repeat("x", 400) + `"}}}`)
	a := analyzeContent(body)
	assert.True(t, a.hasLargeString)
	assert.GreaterOrEqual(t, a.nestingDepth, 3)
}

func TestSelectStrategyFallsBackToTraditionalForSmallPlainPayload(t *testing.T) {
	cfg := DefaultStreamingConfig()
	a := analyzeContent([]byte(`{"a":1}`))
	assert.Equal(t, StrategyTraditional, selectStrategy(a, cfg, false))
}

func TestSelectStrategyPicksCompressedForLargePayload(t *testing.T) {
	cfg := DefaultStreamingConfig()
	big := strings.Repeat("a ", cfg.ChunkThreshold)
	a := analyzeContent([]byte(`{"data":"` + big + `"}`))
	assert.Equal(t, StrategyCompressed, selectStrategy(a, cfg, false))
}

func TestStreamingHTTPSendRequestDecompressesServerSide(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		reader, err := DecodeBody(r.Header.Get("Content-Encoding"), r.Body)
		require.NoError(t, err)
		data, err := io.ReadAll(reader)
		require.NoError(t, err)
		frame, err := protocol.ParseFrame(data)
		require.NoError(t, err)
		req, ok := frame.(protocol.Request)
		require.True(t, ok)
		resp, err := protocol.NewResponse(map[string]any{"echo": req.Method}, req.ID)
		require.NoError(t, err)
		out, err := protocol.Marshal(resp)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(out)
	})
	mux.HandleFunc("/mcp/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	streamCfg := DefaultStreamingConfig()
	streamCfg.ChunkThreshold = 1 // force Compressed for any non-binary payload

	transport, err := NewStreamingHTTPClientTransport(context.Background(), srv.URL+"/mcp", HTTPClientConfig{}, streamCfg)
	require.NoError(t, err)
	defer transport.Close()

	req, err := protocol.NewRequest("big_method_name_for_testing", map[string]any{"payload": strings.Repeat("y ", 1024)}, protocol.NewIntID(1))
	require.NoError(t, err)

	frame, err := transport.SendRequest(context.Background(), req)
	require.NoError(t, err)
	resp, ok := frame.(protocol.Response)
	require.True(t, ok)
	assert.Contains(t, string(resp.Result), "big_method_name_for_testing")
}
