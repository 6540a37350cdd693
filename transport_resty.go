package kurirgo

import (
	"bytes"
	"io"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// RestyTransport is an alternative Transport backed by a resty client, for
// codebases already standardized on resty's connection settings. Resty's
// own retry machinery is disabled: the pipeline owns retry semantics.
type RestyTransport struct {
	client *resty.Client
}

// NewRestyTransport wraps a resty client, creating one when nil.
func NewRestyTransport(client *resty.Client) *RestyTransport {
	if client == nil {
		client = resty.New()
	}
	client.SetRetryCount(0)
	return &RestyTransport{client: client}
}

// Send executes the request through resty and converts the response back
// to the net/http shape the pipeline operates on.
func (t *RestyTransport) Send(req *http.Request) (*http.Response, error) {
	r := t.client.R().SetContext(req.Context())
	r.SetHeaderMultiValues(req.Header)

	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		r.SetBody(body)
	}

	resp, err := r.Execute(req.Method, req.URL.String())
	if err != nil {
		return nil, err
	}

	return &http.Response{
		Status:     resp.Status(),
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       io.NopCloser(bytes.NewReader(resp.Body())),
		Request:    req,
	}, nil
}
