package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrMalformedResponse is returned when a response body has none of the
// shapes the client knows how to read.
var ErrMalformedResponse = errors.New("malformed response")

// Backend error codes with dedicated user messages.
const (
	CodeFileTooLarge      = "file_too_large"
	CodeInvalidFile       = "invalid_file"
	CodeParseError        = "parse_error"
	CodeAIQuotaExceeded   = "ai_quota_exceeded"
	CodeNetworkError      = "network_error"
	CodeTimeout           = "timeout"
	CodeUnsupportedFormat = "unsupported_format"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("api error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
}

// HTTPStatus exposes the status code to the retry classifier.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ErrorCode returns the backend error code carried by err, if any.
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// parseAPIError reads the error body. The backend answers with either
// {"error": {"code", "message"}}, {"error": "text"}, {"code", "message"}
// or {"detail": "text"}.
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var raw struct {
		Error   json.RawMessage `json:"error"`
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}
	apiErr.Code = raw.Code
	apiErr.Message = raw.Message

	if len(raw.Error) > 0 {
		var nested struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		var text string
		if json.Unmarshal(raw.Error, &nested) == nil {
			apiErr.Code = firstNonEmpty(nested.Code, apiErr.Code)
			apiErr.Message = firstNonEmpty(nested.Message, apiErr.Message)
		} else if json.Unmarshal(raw.Error, &text) == nil {
			apiErr.Message = firstNonEmpty(apiErr.Message, text)
		}
	}

	if apiErr.Message == "" && len(raw.Detail) > 0 {
		var text string
		var nested struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw.Detail, &text) == nil {
			apiErr.Message = text
		} else if json.Unmarshal(raw.Detail, &nested) == nil {
			apiErr.Code = firstNonEmpty(apiErr.Code, nested.Code)
			apiErr.Message = nested.Message
		}
	}
	return apiErr
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
