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
	"encoding/json"
	"fmt"
	"strings"
)

// Wire frame tags. A transport message holds one or more newline-joined JSON
// objects, each tagged with one of these values in its "t" field.
const (
	TagQuery    = "cq"
	TagAck      = "cx"
	TagResponse = "ca"
	TagPartial  = "cp"
	TagError    = "ce"
)

// Frame is the closed set of inbound frame kinds. Every frame carries the
// chat session id it belongs to.
type Frame interface {
	isFrame()
	// SessionID returns the chat session the frame belongs to
	SessionID() string
}

// Ack confirms receipt of a query and assigns it a durable message id. It is
// delivered at most once per query, strictly before any frame referencing
// the assigned id.
type Ack struct {
	Tag           string `json:"t"`
	ChatSessionID string `json:"session_id"`
	CorrelationID string `json:"correlation_id"`
	MessageID     string `json:"message_id"`
}

func (*Ack) isFrame() {}

func (a *Ack) SessionID() string { return a.ChatSessionID }

// Response carries the terminal content for one query.
type Response struct {
	Tag           string `json:"t"`
	ChatSessionID string `json:"session_id"`
	MessageID     string `json:"message_id"`
	ReplyToID     string `json:"reply_to_id"`
	Body          string `json:"body"`
	Error         string `json:"error"`
}

func (*Response) isFrame() {}

func (r *Response) SessionID() string { return r.ChatSessionID }

// Partial carries an incremental snapshot of an in-progress answer. Each
// partial supersedes the previous one; content is replaced, never appended.
type Partial struct {
	Tag           string `json:"t"`
	ChatSessionID string `json:"session_id"`
	MessageID     string `json:"message_id"`
	ReplyToID     string `json:"reply_to_id"`
	Body          string `json:"body"`
}

func (*Partial) isFrame() {}

func (p *Partial) SessionID() string { return p.ChatSessionID }

// ErrorFrame carries the terminal failure for one query.
type ErrorFrame struct {
	Tag           string `json:"t"`
	ChatSessionID string `json:"session_id"`
	ReplyToID     string `json:"reply_to_id"`
	Error         string `json:"error"`
}

func (*ErrorFrame) isFrame() {}

func (e *ErrorFrame) SessionID() string { return e.ChatSessionID }

// queryFrame is the outgoing chat-query frame. Optional generation
// parameters are serialized as explicit nulls when absent, matching the
// server's expectations.
type queryFrame struct {
	Tag                  string  `json:"t"`
	Mode                 string  `json:"mode"`
	SessionID            string  `json:"session_id"`
	CorrelationID        string  `json:"correlation_id"`
	Body                 string  `json:"body"`
	SystemPrompt         *string `json:"system_prompt"`
	PrePromptQuery       *string `json:"pre_prompt_query"`
	PromptQuery          *string `json:"prompt_query"`
	PrePromptSummary     *string `json:"pre_prompt_summary"`
	PromptSummary        *string `json:"prompt_summary"`
	LLM                  any     `json:"llm"`
	LLMArgs              *string `json:"llm_args"`
	SelfReflectionConfig *string `json:"self_reflection_config"`
	RAGConfig            *string `json:"rag_config"`
}

// queryModeSemantic selects semantic retrieval on the server
const queryModeSemantic = "s"

// EncodeQuery serializes an outgoing query into a single cq frame
func EncodeQuery(
	chatSessionID string,
	correlationID string,
	message string,
	opts QueryOptions,
) (string, error) {
	frame := queryFrame{
		Tag:              TagQuery,
		Mode:             queryModeSemantic,
		SessionID:        chatSessionID,
		CorrelationID:    correlationID,
		Body:             message,
		SystemPrompt:     opts.SystemPrompt,
		PrePromptQuery:   opts.PrePromptQuery,
		PromptQuery:      opts.PromptQuery,
		PrePromptSummary: opts.PrePromptSummary,
		PromptSummary:    opts.PromptSummary,
		LLM:              opts.LLM,
	}
	var err error
	if frame.LLMArgs, err = encodeSubConfig(opts.LLMArgs); err != nil {
		return "", fmt.Errorf("session: encode llm_args: %w", err)
	}
	if frame.SelfReflectionConfig, err = encodeSubConfig(opts.SelfReflectionConfig); err != nil {
		return "", fmt.Errorf("session: encode self_reflection_config: %w", err)
	}
	if frame.RAGConfig, err = encodeSubConfig(opts.RAGConfig); err != nil {
		return "", fmt.Errorf("session: encode rag_config: %w", err)
	}
	data, err := json.Marshal(&frame)
	if err != nil {
		return "", fmt.Errorf("session: encode query: %w", err)
	}
	return string(data), nil
}

// encodeSubConfig serializes an opaque structured parameter to its JSON
// string sub-encoding, or nil when the parameter is absent
func encodeSubConfig(cfg map[string]any) (*string, error) {
	if cfg == nil {
		return nil, nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

// DecodeFrame parses a single JSON frame into one of the four inbound frame
// kinds. Unrecognized tags are a protocol error.
func DecodeFrame(line string) (Frame, error) {
	var probe struct {
		Tag string `json:"t"`
	}
	if err := json.Unmarshal([]byte(line), &probe); err != nil {
		return nil, &ProtocolError{Err: err}
	}
	var frame Frame
	switch probe.Tag {
	case TagAck:
		frame = &Ack{}
	case TagResponse:
		frame = &Response{}
	case TagPartial:
		frame = &Partial{}
	case TagError:
		frame = &ErrorFrame{}
	default:
		return nil, &ProtocolError{Tag: probe.Tag}
	}
	if err := json.Unmarshal([]byte(line), frame); err != nil {
		return nil, &ProtocolError{Tag: probe.Tag, Err: err}
	}
	return frame, nil
}

// DecodeFrames parses a raw transport payload that may contain multiple
// newline-joined frames. Frames are returned in arrival order.
func DecodeFrames(payload string) ([]Frame, error) {
	var frames []Frame
	for line := range strings.Lines(payload) {
		line = strings.TrimRight(line, "\n")
		if line == "" {
			continue
		}
		frame, err := DecodeFrame(line)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}
