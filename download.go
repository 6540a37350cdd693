package kurirgo

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// minDownloadTimeout is the timeout floor for downloads; per-request
// timeouts above the floor still win.
const minDownloadTimeout = 5 * time.Minute

// DownloadInfo describes a completed download.
type DownloadInfo struct {
	Path       string
	Size       int64
	StatusCode int
}

// Download streams a GET response body to destPath. Downloads bypass the
// response cache, deduplication and body transforms; the retry, auth and
// connectivity stages still apply. WithProgress reports receive progress.
// A failed transfer removes the partial file.
func (c *Client) Download(ctx context.Context, endpoint, destPath string, opts ...RequestOption) Result[*DownloadInfo] {
	rc := &requestContext{id: c.newRequestID()}

	if c.validationError != nil {
		return Err[*DownloadInfo](&Failure{
			Kind:      KindUnexpected,
			Message:   "client configuration is invalid",
			Cause:     c.validationError,
			RequestID: rc.id,
			Timestamp: time.Now(),
		})
	}

	ro := newRequestOptions()
	ro.skipCache = true
	ro.skipDedup = true
	ro.skipTransform = true
	ro.minTimeout = minDownloadTimeout
	for _, opt := range opts {
		opt(ro)
	}

	target, err := c.buildURL(endpoint, ro.query)
	if err != nil {
		return Err[*DownloadInfo](&Failure{
			Kind:      KindUnexpected,
			Message:   "building request URL",
			Cause:     err,
			RequestID: rc.id,
			Method:    http.MethodGet,
			URL:       endpoint,
			Timestamp: time.Now(),
		})
	}

	timeout := c.timeout
	if ro.timeout > 0 {
		timeout = ro.timeout
	}
	if timeout < ro.minTimeout {
		timeout = ro.minTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Err[*DownloadInfo](&Failure{
			Kind:      KindUnexpected,
			Message:   "building request",
			Cause:     err,
			RequestID: rc.id,
			Method:    http.MethodGet,
			URL:       target,
			Timestamp: time.Now(),
		})
	}
	for key, values := range c.defaultHeaders {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	for key, values := range ro.headers {
		req.Header.Del(key)
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := c.do(req, ro, rc)
	if err != nil {
		return Err[*DownloadInfo](c.asFailure(req, rc, err))
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		failure := c.newFailure(failureKindForStatus(resp.StatusCode), http.StatusText(resp.StatusCode), nil, req, rc)
		failure.StatusCode = resp.StatusCode
		failure.Body = body
		return Err[*DownloadInfo](failure)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return Err[*DownloadInfo](c.newFailure(KindUnexpected, "creating destination directory", err, req, rc))
	}
	file, err := os.Create(destPath)
	if err != nil {
		return Err[*DownloadInfo](c.newFailure(KindUnexpected, "creating destination file", err, req, rc))
	}

	var src io.Reader = resp.Body
	if ro.progress != nil {
		total := resp.ContentLength
		src = &progressReader{rc: io.NopCloser(resp.Body), total: total, fn: ro.progress}
	}

	size, copyErr := io.Copy(file, src)
	closeErr := file.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(destPath)
		return Err[*DownloadInfo](c.newFailure(classifyTransportError(copyErr), "streaming download body", copyErr, req, rc))
	}

	return Ok(&DownloadInfo{
		Path:       destPath,
		Size:       size,
		StatusCode: resp.StatusCode,
	})
}
