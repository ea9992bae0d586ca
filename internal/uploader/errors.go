package uploader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorType represents a category of upload error.
type ErrorType string

const (
	// ErrorTypeNetwork represents network-level errors (DNS, connection refused, etc.)
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeServerError represents server-side errors (5xx status codes)
	ErrorTypeServerError ErrorType = "server_error"
	// ErrorTypeClientError represents client-side rejections (4xx other than 429)
	ErrorTypeClientError ErrorType = "client_error"
	// ErrorTypeAuth represents authentication/authorization errors (401, 403)
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeRateLimit represents rate limiting errors (429)
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeUnknown represents unclassified errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// Retryable reports whether the same request may succeed if retried.
func (t ErrorType) Retryable() bool {
	switch t {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServerError, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// UploadError is the terminal error returned by Upload. It carries the
// classification of the last observed failure and how many attempts were
// consumed before giving up.
type UploadError struct {
	// Err is the underlying transport error, if any.
	Err error
	// Type is the classified error type of the last attempt.
	Type ErrorType
	// StatusCode is the last HTTP status code (0 for network errors).
	StatusCode int
	// Message is the response body or error detail from the backend.
	Message string
	// Attempts is the number of network calls performed.
	Attempts int
}

// Error implements the error interface.
func (e *UploadError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upload failed: type=%s status=%d attempts=%d: %s",
			e.Type, e.StatusCode, e.Attempts, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("upload failed: type=%s attempts=%d: %v", e.Type, e.Attempts, e.Err)
	}
	return fmt.Sprintf("upload failed: type=%s status=%d attempts=%d", e.Type, e.StatusCode, e.Attempts)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *UploadError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error was of a retryable kind. A terminal
// UploadError with Retryable()==true means the retry budget was exhausted.
func (e *UploadError) Retryable() bool {
	return e.Type.Retryable()
}

// classifyError categorizes a transport error into a low-cardinality type.
func classifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return ErrorTypeTimeout
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"):
		return ErrorTypeNetwork
	}

	return ErrorTypeUnknown
}

// classifyStatusCode categorizes an HTTP status code into an error type.
func classifyStatusCode(statusCode int) ErrorType {
	switch {
	case statusCode == 401 || statusCode == 403:
		return ErrorTypeAuth
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorTypeClientError
	case statusCode >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnknown
	}
}

// statusHint returns operator guidance for well-known rejection codes.
func statusHint(statusCode int) string {
	switch statusCode {
	case 400:
		return "server returned 400, check your API key"
	case 404:
		return "server returned 404, check your endpoint path"
	default:
		return ""
	}
}
