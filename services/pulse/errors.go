package pulse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Error codes produced on the client side.
const (
	CodeNetworkError = "NETWORK_ERROR"
	CodeDecodeError  = "DECODE_ERROR"
	CodeNotFound     = "NOT_FOUND"
)

// ErrStreamAbandoned is returned by StreamClient.Run once reconnect retries
// are exhausted.
var ErrStreamAbandoned = errors.New("stream reconnection abandoned")

// APIError is a failed API call: a machine code, the HTTP status (0 when no
// response arrived) and a message.
type APIError struct {
	Code    string           `json:"code"`
	Status  int              `json:"status"`
	Message string           `json:"message"`
	Details []map[string]any `json:"details,omitempty"`

	err error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.err
}

// IsNotFound reports whether err is an APIError for a missing resource.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusNotFound || apiErr.Code == CodeNotFound
}

// IsRetryable reports whether a failed call may succeed when repeated.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	switch {
	case apiErr.Status == 0:
		return true
	case apiErr.Status == http.StatusTooManyRequests:
		return true
	case apiErr.Status >= 500:
		return true
	default:
		return false
	}
}

// NetworkError wraps a transport failure that produced no response.
func NetworkError(err error) *APIError {
	return &APIError{Code: CodeNetworkError, Message: err.Error(), err: err}
}

// DecodeError wraps a response body that could not be decoded.
func DecodeError(status int, err error) *APIError {
	return &APIError{Code: CodeDecodeError, Status: status, Message: err.Error(), err: err}
}

type errorEnvelope struct {
	Error *struct {
		Code    string           `json:"code"`
		Message string           `json:"message"`
		Details []map[string]any `json:"details"`
	} `json:"error"`
}

// ErrorFromResponse builds an APIError from a non-2xx response, preferring
// the {"error": {...}} envelope when the body carries one.
func ErrorFromResponse(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Code != "" {
		return &APIError{
			Code:    env.Error.Code,
			Status:  resp.StatusCode,
			Message: env.Error.Message,
			Details: env.Error.Details,
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{
		Code:    fmt.Sprintf("HTTP_%d", resp.StatusCode),
		Status:  resp.StatusCode,
		Message: msg,
	}
}
