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

package session

import (
	"log/slog"
	"time"

	"github.com/jinzhu/copier"
)

// DefaultQueryTimeout is the inactivity-free deadline for a single query
// when no explicit timeout is given.
const DefaultQueryTimeout = 1000 * time.Second

// QueryOptions holds the optional generation parameters for one query.
// Structured parameters (LLMArgs and the config maps) are opaque to the
// client and passed to the server as JSON string sub-encodings.
type QueryOptions struct {
	SystemPrompt         *string
	PrePromptQuery       *string
	PromptQuery          *string
	PrePromptSummary     *string
	PromptSummary        *string
	LLM                  any // model name (string) or index (int)
	LLMArgs              map[string]any
	SelfReflectionConfig map[string]any
	RAGConfig            map[string]any
	Timeout              time.Duration
}

// QueryOptionFunc is a function that modifies the QueryOptions for one query
type QueryOptionFunc func(*QueryOptions)

// WithSystemPrompt specifies the system prompt sent with the query
func WithSystemPrompt(prompt string) QueryOptionFunc {
	return func(o *QueryOptions) {
		o.SystemPrompt = &prompt
	}
}

// WithPrePromptQuery specifies the text prepended before the contextual
// document chunks
func WithPrePromptQuery(prompt string) QueryOptionFunc {
	return func(o *QueryOptions) {
		o.PrePromptQuery = &prompt
	}
}

// WithPromptQuery specifies the text prepended to the user's message
func WithPromptQuery(prompt string) QueryOptionFunc {
	return func(o *QueryOptions) {
		o.PromptQuery = &prompt
	}
}

// WithPrePromptSummary specifies the pre-prompt used for summarization
func WithPrePromptSummary(prompt string) QueryOptionFunc {
	return func(o *QueryOptions) {
		o.PrePromptSummary = &prompt
	}
}

// WithPromptSummary specifies the prompt used for summarization
func WithPromptSummary(prompt string) QueryOptionFunc {
	return func(o *QueryOptions) {
		o.PromptSummary = &prompt
	}
}

// WithLLM selects the model by name or index
func WithLLM(llm any) QueryOptionFunc {
	return func(o *QueryOptions) {
		o.LLM = llm
	}
}

// WithLLMArgs specifies extra arguments passed through to the model
func WithLLMArgs(args map[string]any) QueryOptionFunc {
	return func(o *QueryOptions) {
		o.LLMArgs = args
	}
}

// WithSelfReflectionConfig specifies the self-reflection configuration
func WithSelfReflectionConfig(cfg map[string]any) QueryOptionFunc {
	return func(o *QueryOptions) {
		o.SelfReflectionConfig = cfg
	}
}

// WithRAGConfig specifies the retrieval configuration
func WithRAGConfig(cfg map[string]any) QueryOptionFunc {
	return func(o *QueryOptions) {
		o.RAGConfig = cfg
	}
}

// WithQueryTimeout specifies the deadline for this query
func WithQueryTimeout(timeout time.Duration) QueryOptionFunc {
	return func(o *QueryOptions) {
		o.Timeout = timeout
	}
}

// resolveOptions copies the session-level defaults and applies the per-call
// option functions on top. Copying keeps callers from mutating shared
// defaults through the returned maps.
func resolveOptions(
	defaults QueryOptions,
	options []QueryOptionFunc,
) QueryOptions {
	var opts QueryOptions
	_ = copier.CopyWithOption(
		&opts,
		&defaults,
		copier.Option{DeepCopy: true},
	)
	for _, option := range options {
		option(&opts)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultQueryTimeout
	}
	return opts
}

// SessionOptionFunc is a function that modifies the session configuration
type SessionOptionFunc func(*sessionConfig)

type sessionConfig struct {
	logger   *slog.Logger
	defaults QueryOptions
}

// WithLogger specifies the logger to use. If none is provided, logging is
// disabled
func WithLogger(logger *slog.Logger) SessionOptionFunc {
	return func(c *sessionConfig) {
		c.logger = logger
	}
}

// WithQueryDefaults specifies session-level default query options, applied
// beneath any per-call options
func WithQueryDefaults(defaults QueryOptions) SessionOptionFunc {
	return func(c *sessionConfig) {
		c.defaults = defaults
	}
}

func newSessionConfig(options []SessionOptionFunc) sessionConfig {
	var cfg sessionConfig
	// Apply provided options functions
	for _, option := range options {
		option(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	return cfg
}
