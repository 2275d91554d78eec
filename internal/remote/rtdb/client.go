// Package rtdb provides a realtime database client speaking the
// Firebase-style REST protocol.
//
// Records are addressed as JSON documents under {base}/{path}.json.
// Mutations use plain REST verbs; subscriptions use the streaming
// protocol (Server-Sent Events), from which the client materializes a
// full collection snapshot after every change.
package rtdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// Client talks to one realtime database instance.
type Client struct {
	baseURL string
	auth    string
	http    *http.Client
	logger  *log.Logger
}

// New creates a client for the database at baseURL
// (e.g. "https://myapp.firebaseio.example.com").
//
// auth, when non-empty, is sent as the auth query parameter on every
// request; the backend's security rules evaluate it. If logger is nil,
// a default logger writing to stderr is used.
func New(baseURL, auth string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(os.Stderr, "[rtdb] ", log.LstdFlags)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		// No overall timeout: the same client serves long-lived
		// streaming requests.
		http:   &http.Client{},
		logger: logger,
	}
}

// Write replaces the record at path.
func (c *Client) Write(ctx context.Context, path string, value map[string]any) error {
	return c.do(ctx, http.MethodPut, path, value)
}

// Patch merges the given keys into the record at path.
func (c *Client) Patch(ctx context.Context, path string, value map[string]any) error {
	return c.do(ctx, http.MethodPatch, path, value)
}

// Delete removes the record at path.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, value map[string]any) error {
	var body io.Reader
	if value != nil {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, nil), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: backend returned %s: %s", method, path, resp.Status, strings.TrimSpace(string(snippet)))
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// endpoint builds the REST URL for a database path.
func (c *Client) endpoint(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	if c.auth != "" {
		query.Set("auth", c.auth)
	}

	u := c.baseURL + "/" + strings.Trim(path, "/") + ".json"
	if encoded := query.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}
