package kurirgo

import (
	"net/http"
	"time"
)

// HTTPTransport is the default Transport, a thin wrapper around net/http.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport wraps an http.Client. A nil client gets a 30s timeout
// default.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTransport{client: client}
}

// Send performs the request on the underlying client.
func (t *HTTPTransport) Send(req *http.Request) (*http.Response, error) {
	return t.client.Do(req)
}
