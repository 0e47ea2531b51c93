package saxo_openapi

import (
	"encoding/json"
	"errors"
	"fmt"
)

// saxoErrorBody is the JSON error document returned by the gateway.
type saxoErrorBody struct {
	MessageID  string              `json:"MessageId,omitempty"`
	ErrorCode  string              `json:"ErrorCode,omitempty"` // e.g. "IllegalInputArgument"
	Message    string              `json:"Message,omitempty"`
	ModelState map[string][]string `json:"ModelState,omitempty"`
}

// OpenAPIError is a non-2xx answer from the Saxo OpenAPI.
type OpenAPIError struct {
	Code         int    // HTTP status code
	Reason       string // HTTP status line
	RawContent   string
	MessageID    string
	ErrorCode    string
	ErrorMessage string
}

func (e *OpenAPIError) Error() string {
	msg := e.ErrorMessage
	if msg == "" {
		msg = e.RawContent
		if len(msg) > 100 {
			msg = msg[:100] + "..."
		}
	}
	if e.ErrorCode != "" {
		return fmt.Sprintf("Saxo OpenAPI Error (HTTP %d %s): %s - ErrorCode: %s", e.Code, e.Reason, msg, e.ErrorCode)
	}
	return fmt.Sprintf("Saxo OpenAPI Error (HTTP %d %s): %s", e.Code, e.Reason, msg)
}

// NewOpenAPIError builds an OpenAPIError, picking up the Saxo error fields when the body is JSON.
func NewOpenAPIError(code int, reason string, rawContent string) *OpenAPIError {
	e := &OpenAPIError{Code: code, Reason: reason, RawContent: rawContent}
	var body saxoErrorBody
	if err := json.Unmarshal([]byte(rawContent), &body); err == nil {
		e.MessageID = body.MessageID
		e.ErrorCode = body.ErrorCode
		e.ErrorMessage = body.Message
	}
	return e
}

// StatusCode returns the HTTP status of err if it wraps an OpenAPIError, or 0.
func StatusCode(err error) int {
	var apiErr *OpenAPIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
