/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Spaces Community
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package spacessdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// Logger is the interface for SDK logging. Any logger that implements Printf
// (such as the standard library's *log.Logger) can be used.
type Logger interface {
	Printf(format string, v ...any)
}

// Client is the shared core used by every Spaces SDK plugin. It holds the
// HTTP client, the gateway/API endpoints, and the negotiated credential that
// is attached to every request.
type Client struct {
	// HTTP client used to communicate with the gateway and REST services
	httpClient *http.Client

	// HTTP client for long-poll requests. Shares the transport with
	// httpClient but carries no client-level timeout; the server's max-wait
	// (and the request context) bound these requests instead.
	pollClient *http.Client

	// Base URL of the SFU gateway (Janus-style HTTP long-poll endpoint)
	GatewayURL *url.URL

	// Credential sent as the authorization header on every request
	credential string

	// Configuration for the client
	Config *Config

	// Logger for SDK operations
	logger Logger
}

// Config holds the configuration for the Spaces client
type Config struct {
	// GatewayURL is the base URL of the SFU gateway
	GatewayURL string

	// APIBaseURL is the base URL for the broadcast REST service
	APIBaseURL string

	// ChatURL is the websocket URL of the chat/control-plane service
	ChatURL string

	// AuthorizationHeader is the header name the credential is sent under.
	// Default: "Authorization".
	AuthorizationHeader string

	// Timeout for plain API requests. Long-poll requests bypass this and
	// are bounded by the server's max-wait and the request context.
	Timeout time.Duration

	// Default headers to include in every request
	DefaultHeaders map[string]string

	// Custom HTTP client to use instead of the default one.
	// If nil, a default client will be created with the specified Timeout.
	HttpClient *http.Client

	// Logger is the logger for SDK operations. If nil, the standard
	// library's default logger (log.Default()) is used.
	Logger Logger
}

// DefaultConfig returns a default configuration for the Spaces client
func DefaultConfig() *Config {
	return &Config{
		AuthorizationHeader: "Authorization",
		Timeout:             30 * time.Second,
		DefaultHeaders:      make(map[string]string),
	}
}

// NewClient creates a new Spaces client with the given credential and
// optional configuration.
func NewClient(credential string, config *Config) (*Client, error) {
	if credential == "" {
		return nil, fmt.Errorf("credential cannot be empty")
	}

	if config == nil {
		config = DefaultConfig()
	}
	if config.AuthorizationHeader == "" {
		config.AuthorizationHeader = "Authorization"
	}

	gatewayURL, err := url.Parse(config.GatewayURL)
	if err != nil {
		return nil, err
	}

	httpClient := config.HttpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
		}
	}
	pollClient := &http.Client{
		Transport: httpClient.Transport,
		Jar:       httpClient.Jar,
	}

	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Client{
		httpClient: httpClient,
		pollClient: pollClient,
		GatewayURL: gatewayURL,
		credential: credential,
		Config:     config,
		logger:     logger,
	}, nil
}

// GetCredential returns the credential used for authorization
func (c *Client) GetCredential() string {
	return c.credential
}

// GetHTTPClient returns the HTTP client used for requests
func (c *Client) GetHTTPClient() *http.Client {
	return c.httpClient
}

// GetLogger returns the logger used by the SDK.
func (c *Client) GetLogger() Logger {
	return c.logger
}

// RequestJSON performs an HTTP request to a full URL with a JSON body and the
// credential header applied. There is no retry at this layer — retry policy
// belongs to callers. The caller is responsible for closing the response body.
func (c *Client) RequestJSON(ctx context.Context, method, fullURL string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set(c.Config.AuthorizationHeader, c.credential)
	req.Header.Set("Content-Type", "application/json")

	for k, v := range c.Config.DefaultHeaders {
		req.Header.Set(k, v)
	}

	return c.httpClient.Do(req)
}

// RequestLongPoll performs a GET against a long-poll endpoint with the
// credential header applied. Unlike RequestJSON, the request does not carry
// the client-level Timeout: the server holds the connection up to its own
// max-wait, and aborting early would consume an event server-side without
// ever delivering it. Cancellation is the request context's job.
func (c *Client) RequestLongPoll(ctx context.Context, fullURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set(c.Config.AuthorizationHeader, c.credential)
	for k, v := range c.Config.DefaultHeaders {
		req.Header.Set(k, v)
	}

	return c.pollClient.Do(req)
}

// ParseResponse parses an HTTP response body into v. Non-2xx responses are
// converted into the typed error taxonomy (see errors.go).
func ParseResponse(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return NewAPIError(resp, body)
	}

	if v == nil {
		return nil
	}
	return json.Unmarshal(body, v)
}
