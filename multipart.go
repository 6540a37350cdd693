package kurirgo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

// minMultipartTimeout is the timeout floor for multipart uploads. Large
// uploads routinely outlive the client default; per-request timeouts above
// the floor still win.
const minMultipartTimeout = 2 * time.Minute

// ProgressFunc reports transfer progress. total is -1 when the size is
// unknown.
type ProgressFunc func(transferred, total int64)

// MultipartFile is one file part of a multipart form.
type MultipartFile struct {
	FieldName   string
	FileName    string
	ContentType string
	Reader      io.Reader
}

// MultipartForm is the payload of a multipart request: plain fields plus
// file parts.
type MultipartForm struct {
	Fields map[string]string
	Files  []MultipartFile
}

// encode renders the form into a multipart body and its content type.
func (f *MultipartForm) encode() ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for key, value := range f.Fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("writing form field %q: %w", key, err)
		}
	}
	for _, file := range f.Files {
		var part io.Writer
		var err error
		if file.ContentType != "" {
			header := textproto.MIMEHeader{}
			header.Set("Content-Disposition",
				fmt.Sprintf(`form-data; name=%q; filename=%q`, file.FieldName, file.FileName))
			header.Set("Content-Type", file.ContentType)
			part, err = writer.CreatePart(header)
		} else {
			part, err = writer.CreateFormFile(file.FieldName, file.FileName)
		}
		if err != nil {
			return nil, "", fmt.Errorf("creating form file %q: %w", file.FieldName, err)
		}
		if _, err := io.Copy(part, file.Reader); err != nil {
			return nil, "", fmt.Errorf("writing form file %q: %w", file.FieldName, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

// MultipartPost uploads a multipart form with POST. The multipart content
// type always wins over configured headers, and the request timeout is
// floored at minMultipartTimeout.
func (c *Client) MultipartPost(ctx context.Context, endpoint string, form *MultipartForm, opts ...RequestOption) Result[*RawResponse] {
	return c.multipart(ctx, http.MethodPost, endpoint, form, opts)
}

// MultipartPatch uploads a multipart form with PATCH.
func (c *Client) MultipartPatch(ctx context.Context, endpoint string, form *MultipartForm, opts ...RequestOption) Result[*RawResponse] {
	return c.multipart(ctx, http.MethodPatch, endpoint, form, opts)
}

func (c *Client) multipart(ctx context.Context, method, endpoint string, form *MultipartForm, opts []RequestOption) Result[*RawResponse] {
	body, contentType, err := form.encode()
	if err != nil {
		return Err[*RawResponse](&Failure{
			Kind:      KindUnexpected,
			Message:   "encoding multipart form",
			Cause:     err,
			Method:    method,
			URL:       endpoint,
			Timestamp: time.Now(),
		})
	}

	opts = append(opts, func(ro *requestOptions) {
		ro.forcedContentType = contentType
		if ro.minTimeout < minMultipartTimeout {
			ro.minTimeout = minMultipartTimeout
		}
	})
	return c.run(ctx, method, endpoint, body, contentType, opts)
}

// attachProgress wraps the request body so reads report send progress.
// GetBody is wrapped too, so a retried or replayed upload restarts its
// progress reporting.
func attachProgress(req *http.Request, fn ProgressFunc) {
	total := req.ContentLength
	if req.Body != nil {
		req.Body = &progressReader{rc: req.Body, total: total, fn: fn}
	}
	if base := req.GetBody; base != nil {
		req.GetBody = func() (io.ReadCloser, error) {
			rc, err := base()
			if err != nil {
				return nil, err
			}
			return &progressReader{rc: rc, total: total, fn: fn}, nil
		}
	}
}

type progressReader struct {
	rc          io.ReadCloser
	total       int64
	transferred int64
	fn          ProgressFunc
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if n > 0 {
		r.transferred += int64(n)
		r.fn(r.transferred, r.total)
	}
	return n, err
}

func (r *progressReader) Close() error { return r.rc.Close() }
