package transport

import (
	"compress/flate"
	"compress/gzip"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/richard-senior/go-mcp-runtime/internal/logger"
)

// HTTPClientConfig controls the shared HTTP client used by the HTTP+SSE
// and streaming HTTP transports. Generalized from
// richard-senior-mcp/pkg/transport/httpclient.go's GetCustomHTTPClient,
// which hardcoded a one-off Zscaler CA bundle path; here any extra root
// CA can be supplied by the caller (e.g. from a config file) instead of
// a fixed filesystem path.
type HTTPClientConfig struct {
	// ExtraRootCAPEM, if non-empty, is appended to the system cert pool.
	ExtraRootCAPEM []byte
	Timeout        time.Duration
	MaxRedirects   int
}

// NewHTTPClient builds an *http.Client per cfg, falling back to sane
// defaults (30s timeout, 10 redirects, system cert pool, environment
// proxy) when cfg is the zero value.
func NewHTTPClient(cfg HTTPClientConfig) (*http.Client, error) {
	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		logger.Warn("Failed to get system cert pool", err)
		rootCAs = x509.NewCertPool()
	}

	if len(cfg.ExtraRootCAPEM) > 0 {
		if ok := rootCAs.AppendCertsFromPEM(cfg.ExtraRootCAPEM); !ok {
			logger.Warn("Failed to append extra root CA certificate")
		} else {
			logger.Info("Added extra root CA certificate to pool")
		}
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxRedirects := cfg.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = 10
	}

	customTransport := &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: rootCAs},
		Proxy:           http.ProxyFromEnvironment,
	}

	client := &http.Client{
		Transport: customTransport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return client, nil
}

// DecodeBody wraps body in the appropriate decompressing reader for the
// given Content-Encoding header value, used by the streaming HTTP
// transport and the HTTP+SSE transport's response handling.
func DecodeBody(contentEncoding string, body io.ReadCloser) (io.ReadCloser, error) {
	switch contentEncoding {
	case "", "identity":
		return body, nil
	case "gzip":
		return NewGzipReader(body)
	case "deflate":
		return NewDeflateReader(body)
	case "br":
		return NewBrotliReader(body)
	case "zstd":
		return NewZstdReader(body)
	default:
		logger.Warn("Unknown content encoding:", contentEncoding)
		return body, nil
	}
}

// NewGzipReader creates a gzip reader from the provided io.ReadCloser.
func NewGzipReader(r io.ReadCloser) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// NewDeflateReader creates a deflate reader from the provided io.ReadCloser.
func NewDeflateReader(r io.ReadCloser) (io.ReadCloser, error) {
	return flate.NewReader(r), nil
}

// NewBrotliReader creates a brotli reader from the provided io.ReadCloser.
func NewBrotliReader(r io.ReadCloser) (io.ReadCloser, error) {
	return io.NopCloser(brotli.NewReader(r)), nil
}

// NewZstdReader creates a zstd reader from the provided io.ReadCloser.
func NewZstdReader(r io.ReadCloser) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}
