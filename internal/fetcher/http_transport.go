package fetcher

import (
	"compress/gzip"
	"context"
	"io"
	"net"
	"net/http"

	"practo-harvester/internal/config"
	"practo-harvester/internal/observability"
)

// HTTPTransport: одна попытка через net/http с ручной распаковкой gzip
type HTTPTransport struct {
	client *http.Client
	logger *observability.Logger
}

func NewHTTPTransport(cfg *config.Config, logger *observability.Logger) *HTTPTransport {
	dialer := &net.Dialer{Timeout: cfg.GetConnectTimeout()}
	client := &http.Client{
		Timeout: cfg.GetTotalTimeout(),
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConns:        cfg.HTTP.MaxIdleConnections,
			MaxIdleConnsPerHost: cfg.HTTP.MaxIdleConnectionsPerHost,
			IdleConnTimeout:     cfg.GetIdleConnectionTimeout(),
		},
	}
	return NewHTTPTransportWithClient(client, logger)
}

// NewHTTPTransportWithClient: для тестов и своих http.Client
func NewHTTPTransportWithClient(client *http.Client, logger *observability.Logger) *HTTPTransport {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &HTTPTransport{client: client, logger: logger}
}

func (t *HTTPTransport) Do(ctx context.Context, r *Request) (*FetchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, err
	}

	for k, vals := range r.Header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Connection", "keep-alive")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.logger.Warn("Failed to close response body", "url", r.URL, "error", err.Error())
		}
	}()

	reader := resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer func() { _ = gzipReader.Close() }()
		reader = gzipReader
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	return &FetchResponse{
		StatusCode: resp.StatusCode,
		Body:       body,
		URL:        resp.Request.URL.String(),
		Headers:    resp.Header,
	}, nil
}
