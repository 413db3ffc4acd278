package llm

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// PayloadError is an error object returned inside a 2xx response body.
type PayloadError struct {
	Code    int
	Message string
}

func (e *PayloadError) Error() string {
	return "API error: " + e.Message
}

// embeddedErrorTransport fails 2xx responses whose JSON body carries a
// top-level "error" member, which some OpenAI-compatible gateways use in
// place of an HTTP error status.
type embeddedErrorTransport struct {
	base http.RoundTripper
}

func (t *embeddedErrorTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, err
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if perr := parseEmbeddedError(body); perr != nil {
		return nil, perr
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

// WithEmbeddedErrors returns a copy of c whose transport reports 2xx error
// bodies as *PayloadError. A nil c starts from an empty client.
func WithEmbeddedErrors(c *http.Client) *http.Client {
	var cp http.Client
	if c != nil {
		cp = *c
	}
	base := cp.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	cp.Transport = &embeddedErrorTransport{base: base}
	return &cp
}

func parseEmbeddedError(body []byte) *PayloadError {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil
	}
	raw := bytes.TrimSpace(envelope.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return &PayloadError{Message: text}
	}

	var obj struct {
		Message string          `json:"message"`
		Code    json.RawMessage `json:"code"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return &PayloadError{Message: string(raw)}
	}
	perr := &PayloadError{Message: obj.Message}
	if perr.Message == "" {
		perr.Message = string(trimmed)
	}
	if code, err := strconv.Atoi(strings.Trim(string(obj.Code), `"`)); err == nil {
		perr.Code = code
	}
	return perr
}
