// Copyright 2024 Ragline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ragline

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ragline/ragline/session"
)

// ClientOptionFunc is a type that represents functions that modify the
// Client config
type ClientOptionFunc func(*Client)

// WithAPIKey specifies the API key used for bearer authentication
func WithAPIKey(apiKey string) ClientOptionFunc {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}

// WithTokenProvider specifies a token provider used for authentication
// instead of an API key
func WithTokenProvider(provider TokenProvider) ClientOptionFunc {
	return func(c *Client) {
		c.tokenProvider = provider
	}
}

// WithHTTPClient specifies the HTTP client to use. If none is provided, one
// will be created
func WithHTTPClient(httpClient *http.Client) ClientOptionFunc {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHTTPTimeout specifies the per-request HTTP timeout
func WithHTTPTimeout(timeout time.Duration) ClientOptionFunc {
	return func(c *Client) {
		c.httpTimeout = timeout
	}
}

// WithInsecureSkipVerify disables TLS certificate verification for both the
// HTTP and chat surfaces. This is intended for self-signed or test
// deployments
func WithInsecureSkipVerify(skip bool) ClientOptionFunc {
	return func(c *Client) {
		c.insecureSkipVerify = skip
	}
}

// WithLogger specifies the logger to use. If none is provided, logging is
// disabled
func WithLogger(logger *slog.Logger) ClientOptionFunc {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithQueryDefaults specifies default query options applied to every query
// issued on sessions created by this client
func WithQueryDefaults(defaults session.QueryOptions) ClientOptionFunc {
	return func(c *Client) {
		c.queryDefaults = defaults
	}
}
