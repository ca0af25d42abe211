package common

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// HTTPResponse carries the status code together with the raw body so callers
// can classify 401/429/5xx outcomes instead of only seeing decode errors.
type HTTPResponse struct {
	StatusCode int
	Body       []byte
}

// IsSuccess reports whether the status code is in the 2xx range.
func (r *HTTPResponse) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the response body into v.
func (r *HTTPResponse) Decode(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// GetJSON sends a GET request to the specified URL with the given headers.
func GetJSON(ctx context.Context, rawURL string, headers map[string]string) (*HTTPResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return doRequest(req)
}

// PostJSON sends a POST request with a JSON-encoded payload and the given headers.
func PostJSON(ctx context.Context, rawURL string, payload interface{}, headers map[string]string) (*HTTPResponse, error) {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return doRequest(req)
}

// PostForm sends a POST request with an x-www-form-urlencoded body.
func PostForm(ctx context.Context, rawURL string, data url.Values) (*HTTPResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return doRequest(req)
}

func doRequest(req *http.Request) (*HTTPResponse, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &HTTPResponse{StatusCode: resp.StatusCode, Body: body}, nil
}
