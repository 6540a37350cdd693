package kurirgo

import (
	"encoding/json"
	"fmt"
)

// BaseResponse is the typed payload every request resolves to on success.
type BaseResponse[T any] struct {
	StatusCode int
	Success    bool
	Data       T
	Message    string
	Meta       map[string]any
}

// IsSuccess reports whether the response is a success: the success flag is
// set and the status code is in the 2xx range.
func (b *BaseResponse[T]) IsSuccess() bool {
	return b.Success && b.StatusCode >= 200 && b.StatusCode < 300
}

// RawResponse is the parse target before typed decoding: data is kept as
// raw JSON for DecodeData to interpret.
type RawResponse = BaseResponse[json.RawMessage]

// ResponseParser turns a status code and body into a RawResponse. Parsers
// exist because APIs disagree on body shape: some wrap payloads in an
// envelope, some return the payload bare.
type ResponseParser interface {
	Parse(statusCode int, body []byte) (*RawResponse, error)
}

// EnvelopeParser is the default parser. It expects an envelope with
// success/data/message/meta keys; missing keys fall back to status-derived
// values.
type EnvelopeParser struct{}

type envelopeShape struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Meta    map[string]any  `json:"meta"`
}

// Parse decodes an envelope-shaped body.
func (EnvelopeParser) Parse(statusCode int, body []byte) (*RawResponse, error) {
	out := &RawResponse{
		StatusCode: statusCode,
		Success:    statusCode >= 200 && statusCode < 300,
	}
	if len(body) == 0 {
		return out, nil
	}

	var env envelopeShape
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding response envelope: %w", err)
	}
	if env.Success != nil {
		out.Success = *env.Success
	}
	out.Data = env.Data
	out.Message = env.Message
	out.Meta = env.Meta
	return out, nil
}

// BareParser supports APIs that return the payload directly, with no
// envelope: the whole body becomes the data.
type BareParser struct{}

// Parse wraps a bare body.
func (BareParser) Parse(statusCode int, body []byte) (*RawResponse, error) {
	out := &RawResponse{
		StatusCode: statusCode,
		Success:    statusCode >= 200 && statusCode < 300,
	}
	if len(body) > 0 {
		if !json.Valid(body) {
			return nil, fmt.Errorf("decoding bare response: body is not valid JSON")
		}
		out.Data = json.RawMessage(body)
	}
	return out, nil
}

// DecodeData decodes the raw data of a parsed response into T. An absent
// payload yields the zero value of T.
func DecodeData[T any](raw *RawResponse) (*BaseResponse[T], error) {
	out := &BaseResponse[T]{
		StatusCode: raw.StatusCode,
		Success:    raw.Success,
		Message:    raw.Message,
		Meta:       raw.Meta,
	}
	if len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, &out.Data); err != nil {
			return nil, fmt.Errorf("decoding response data: %w", err)
		}
	}
	return out, nil
}

// decodeResult lifts DecodeData over a Result, converting decode errors to
// BadResponse failures.
func decodeResult[T any](r Result[*RawResponse]) Result[*BaseResponse[T]] {
	raw, failure := r.Get()
	if failure != nil {
		return Err[*BaseResponse[T]](failure)
	}
	typed, err := DecodeData[T](raw)
	if err != nil {
		return Err[*BaseResponse[T]](&Failure{
			Kind:       KindBadResponse,
			Message:    "response data did not match the expected shape",
			Cause:      err,
			StatusCode: raw.StatusCode,
		})
	}
	return Ok(typed)
}
