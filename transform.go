package kurirgo

import (
	"bytes"
	"io"
	"net/http"
)

// applyRequestTransform runs the outbound body hook. It reads the body via
// GetBody so the request remains replayable, hands the bytes to the hook
// and installs the transformed body. A nil hook is a pass-through.
func applyRequestTransform(hook RequestTransform, endpoint string, req *http.Request) error {
	if hook == nil {
		return nil
	}

	var body []byte
	if req.Body != nil && req.GetBody != nil {
		reader, err := req.GetBody()
		if err != nil {
			return err
		}
		body, err = io.ReadAll(reader)
		reader.Close()
		if err != nil {
			return err
		}
	}

	transformed, err := hook(endpoint, body, req)
	if err != nil {
		return err
	}
	if bytes.Equal(transformed, body) {
		return nil
	}

	setRequestBody(req, transformed)
	return nil
}

// applyResponseTransform runs the inbound body hook. The hook sees the
// response with a readable body; its return value replaces the body while
// status, headers and every other envelope field are preserved unchanged.
// A nil hook is a pass-through.
func applyResponseTransform(hook ResponseTransform, endpoint string, resp *http.Response) error {
	if hook == nil || resp == nil {
		return nil
	}

	transformed, err := hook(endpoint, resp)
	if err != nil {
		return err
	}
	if transformed != nil {
		resp.Body = io.NopCloser(bytes.NewReader(transformed))
		resp.ContentLength = int64(len(transformed))
	}
	return nil
}

// setRequestBody installs body on the request with a matching GetBody so
// downstream stages (auth replay, retries) can re-read it.
func setRequestBody(req *http.Request, body []byte) {
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
}
