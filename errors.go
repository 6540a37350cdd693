package kurirgo

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// FailureKind identifies one variant of the closed failure taxonomy.
type FailureKind string

const (
	KindConnectionTimeout   FailureKind = "ConnectionTimeout"
	KindSendTimeout         FailureKind = "SendTimeout"
	KindReceiveTimeout      FailureKind = "ReceiveTimeout"
	KindConnectionError     FailureKind = "ConnectionError"
	KindBadResponse         FailureKind = "BadResponse"
	KindBadCertificate      FailureKind = "BadCertificate"
	KindUnauthorized        FailureKind = "Unauthorized"
	KindBadRequest          FailureKind = "BadRequest"
	KindInternalServerError FailureKind = "InternalServerError"
	KindServiceUnavailable  FailureKind = "ServiceUnavailable"
	KindNotFound            FailureKind = "NotFound"
	KindNoInternet          FailureKind = "NoInternet"
	KindCancelled           FailureKind = "Cancelled"
	KindUnexpected          FailureKind = "Unexpected"
)

// Failure is the single error value surfaced across the public boundary.
// It is never mutated after construction.
type Failure struct {
	Kind       FailureKind
	Message    string
	Cause      error
	RequestID  string
	Method     string
	URL        string
	StatusCode int
	Body       []byte
	Attempt    int
	Timestamp  time.Time
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", f.Kind, f.Message)
	if f.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, f.Cause)
	}
	if f.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", f.RequestID, msg)
	}
	if f.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d)", msg, f.Attempt)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Cause
}

// Is compares failure kinds for errors.Is.
func (f *Failure) Is(target error) bool {
	if f == nil {
		return false
	}
	if other, ok := target.(*Failure); ok {
		return f.Kind == other.Kind
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (f *Failure) DebugInfo() string {
	if f == nil {
		return "Failure: <nil>"
	}
	info := fmt.Sprintf("Failure Kind: %s\n", f.Kind)
	info += fmt.Sprintf("Message: %s\n", f.Message)
	if f.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", f.RequestID)
	}
	if f.Method != "" {
		info += fmt.Sprintf("Method: %s\n", f.Method)
	}
	if f.URL != "" {
		info += fmt.Sprintf("URL: %s\n", f.URL)
	}
	if f.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", f.StatusCode)
	}
	if f.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d\n", f.Attempt)
	}
	if !f.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", f.Timestamp.Format(time.RFC3339))
	}
	if f.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", f.Cause)
	}
	return info
}

// IsTransient reports whether a failure represents a condition that might
// succeed on retry: timeouts, connection errors and 5xx responses. Client
// errors, certificate errors and cancellations are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var f *Failure
	if errors.As(err, &f) {
		switch f.Kind {
		case KindConnectionTimeout, KindSendTimeout, KindReceiveTimeout,
			KindConnectionError, KindInternalServerError, KindServiceUnavailable:
			return true
		default:
			return false
		}
	}
	return false
}

// classifyTransportError maps a transport-level error onto the failure
// taxonomy. Cancellation takes precedence over everything else so that a
// cancelled request is never mistaken for a timeout.
func classifyTransportError(err error) FailureKind {
	if err == nil {
		return KindUnexpected
	}

	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	var certInvalid x509.CertificateInvalidError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var certVerify *tls.CertificateVerificationError
	if errors.As(err, &certInvalid) || errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostnameErr) || errors.As(err, &certVerify) {
		return KindBadCertificate
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindReceiveTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			switch opErr.Op {
			case "dial":
				return KindConnectionTimeout
			case "write":
				return KindSendTimeout
			case "read":
				return KindReceiveTimeout
			}
		}
		return KindReceiveTimeout
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindConnectionError
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnectionError
	}

	return KindConnectionError
}

// failureKindForStatus maps an HTTP status code onto the failure taxonomy
// used by the facade's status validation.
func failureKindForStatus(statusCode int) FailureKind {
	switch statusCode {
	case 400, 422:
		return KindBadRequest
	case 401, 403:
		return KindUnauthorized
	case 404:
		return KindNotFound
	case 500:
		return KindInternalServerError
	case 503:
		return KindServiceUnavailable
	default:
		return KindBadResponse
	}
}
