package webex

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Transport performs one authenticated POST of an XML payload to the vendor
// endpoint. TLS certificate and hostname verification stay enabled; the
// bounded client timeout is the only limit on call duration.
type Transport struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewTransport creates a connector for the given service URL.
func NewTransport(serviceURL string, timeout time.Duration, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Transport{
		url:    serviceURL,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Post sends the wrapped XML document and returns the raw response body.
func (t *Transport) Post(ctx context.Context, payload string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, strings.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "post", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: "post", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read response", Err: err}
	}
	t.logger.Debug("vendor call",
		zap.Duration("latency", time.Since(start)),
		zap.Int("response_bytes", len(body)),
	)
	return body, nil
}
