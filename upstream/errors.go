package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnexpectedShape means the body matched none of the envelopes the API is known to send.
var ErrUnexpectedShape = errors.New("unexpected response shape")

// APIError is a non-2xx answer from the SimplERP API.
type APIError struct {
	StatusCode int    `json:"statusCode"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Temporary reports whether a retry could succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func newAPIError(method, path string, statusCode int, body []byte) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Method:     method,
		Path:       path,
		Message:    errorMessage(statusCode, body),
	}
}

func errorMessage(statusCode int, body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, msg := range []string{parsed.Message, parsed.Detail, parsed.Error} {
			if strings.TrimSpace(msg) != "" {
				return strings.TrimSpace(msg)
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return http.StatusText(statusCode)
	}
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}
