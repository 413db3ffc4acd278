package llm

import (
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cie-bench/harness/pkg/retry"
)

// AsStatusError converts go-openai HTTP errors into *retry.StatusError so the
// shared retry policy sees the status code. Error bodies delivered with a 2xx
// status surface as *PayloadError, or as a StatusError when they carry an HTTP
// error code. Other errors are returned as is.
func AsStatusError(err error) error {
	var payloadErr *PayloadError
	if errors.As(err, &payloadErr) {
		if payloadErr.Code >= 400 && payloadErr.Code < 600 {
			return &retry.StatusError{StatusCode: payloadErr.Code, Body: payloadErr.Message}
		}
		return payloadErr
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &retry.StatusError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &retry.StatusError{StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return err
}
