// Package peerclient requests signatures from peer validators' signing
// endpoints.
package peerclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxResponseSize bounds a peer's response body.
const maxResponseSize = 64 << 10

// Requester is the transport used by the quorum collector.
type Requester interface {
	RequestSignature(ctx context.Context, baseURL string, p Payload) (string, error)
}

// StatusError is returned when a peer answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("peer returned %d: %s", e.Code, e.Body)
}

// Client posts typed signing requests over HTTPS.
//
// Peer certificates are not verified: validators are authenticated by the
// address that signed the returned message, not by their TLS identity.
type Client struct {
	http *http.Client
}

// New creates a client with the given request timeout, 10 seconds if not
// positive.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// RequestSignature posts p to baseURL + p.Endpoint() and returns the
// validated signature.
func (c *Client) RequestSignature(ctx context.Context, baseURL string, p Payload) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(baseURL, "/") + p.Endpoint()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var sr SignatureResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if err := sr.Validate(); err != nil {
		return "", err
	}
	return sr.Signature, nil
}
