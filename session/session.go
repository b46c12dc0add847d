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

// Package session implements the duplex chat session protocol. A session
// sends tagged query frames over a persistent channel and demultiplexes the
// interleaved acknowledgement, partial, final and error frames the server
// returns, keyed by correlation id and server-assigned message id.
//
// Two variants are provided: Session issues one blocking query at a time,
// while ConcurrentSession multiplexes many in-flight queries over one shared
// channel. Frames addressed to a different chat session id are ignored by
// both variants, so multiple logical sessions may share a transport.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ragline/ragline/transport"
)

// Session is the single-query-at-a-time variant of the chat protocol. A
// query occupies the channel until it reaches a terminal frame or its
// deadline passes. Session is not safe for concurrent use; see
// ConcurrentSession for overlapping queries.
type Session struct {
	channel       transport.Channel
	chatSessionID string
	logger        *slog.Logger
	defaults      QueryOptions
	newID         func() string
}

// New returns a Session speaking the chat protocol over the given channel,
// scoped to one chat session id. The caller retains responsibility for
// closing the session on every exit path.
func New(
	channel transport.Channel,
	chatSessionID string,
	options ...SessionOptionFunc,
) *Session {
	cfg := newSessionConfig(options)
	return &Session{
		channel:       channel,
		chatSessionID: chatSessionID,
		logger:        cfg.logger,
		defaults:      cfg.defaults,
		newID:         uuid.NewString,
	}
}

// QueryBlocking sends a retrieval-augmented query and blocks until the
// terminal answer arrives. It returns a TimeoutError if no terminal frame
// arrives before the deadline and a SessionError if the server reports a
// failure for this query.
func (s *Session) QueryBlocking(
	message string,
	options ...QueryOptionFunc,
) (*ChatMessage, error) {
	return s.query(message, nil, options)
}

// QueryStreaming sends a retrieval-augmented query and invokes sink with
// each partial snapshot and the final answer as they arrive. The final
// answer is also returned.
func (s *Session) QueryStreaming(
	message string,
	sink StreamFunc,
	options ...QueryOptionFunc,
) (*ChatMessage, error) {
	if sink == nil {
		return nil, errors.New("session: nil streaming sink")
	}
	return s.query(message, sink, options)
}

// Close releases the underlying channel. It is idempotent.
func (s *Session) Close() error {
	return s.channel.Close()
}

func (s *Session) query(
	message string,
	sink StreamFunc,
	options []QueryOptionFunc,
) (*ChatMessage, error) {
	opts := resolveOptions(s.defaults, options)
	correlationID := s.newID()
	payload, err := EncodeQuery(s.chatSessionID, correlationID, message, opts)
	if err != nil {
		return nil, err
	}
	if err := s.channel.Send(payload); err != nil {
		return nil, fmt.Errorf("session: send query: %w", err)
	}
	s.logger.Debug(
		"query sent",
		"component", "session",
		"correlation_id", correlationID,
	)
	deadline := time.Now().Add(opts.Timeout)
	// The server-assigned message id, known once our ack arrives
	queryID := ""
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &TimeoutError{
				CorrelationID: correlationID,
				Timeout:       opts.Timeout,
			}
		}
		data, err := s.channel.Receive(remaining)
		if err != nil {
			if errors.Is(err, transport.ErrReceiveTimeout) {
				return nil, &TimeoutError{
					CorrelationID: correlationID,
					Timeout:       opts.Timeout,
				}
			}
			return nil, fmt.Errorf("session: receive: %w", err)
		}
		frames, err := DecodeFrames(data)
		if err != nil {
			return nil, err
		}
		for _, frame := range frames {
			if frame.SessionID() != s.chatSessionID {
				// Foreign-session frames are not ours to interpret
				s.logger.Debug(
					"ignoring frame for foreign session",
					"component", "session",
					"session_id", frame.SessionID(),
				)
				continue
			}
			switch frame := frame.(type) {
			case *Ack:
				if frame.CorrelationID == correlationID {
					queryID = frame.MessageID
				}
			case *Partial:
				if !matchesQuery(frame.ReplyToID, queryID) {
					continue
				}
				if sink != nil {
					sink(StreamEvent{
						MessageID: frame.MessageID,
						Content:   frame.Body,
					})
				}
			case *Response:
				if !matchesQuery(frame.ReplyToID, queryID) {
					continue
				}
				if frame.Error != "" {
					return nil, &SessionError{Message: frame.Error}
				}
				msg := &ChatMessage{
					ID:        frame.MessageID,
					Content:   frame.Body,
					ReplyTo:   frame.ReplyToID,
					CreatedAt: time.Now(),
				}
				if sink != nil {
					sink(StreamEvent{
						MessageID: frame.MessageID,
						Content:   frame.Body,
						Final:     true,
					})
				}
				return msg, nil
			case *ErrorFrame:
				if !matchesQuery(frame.ReplyToID, queryID) {
					continue
				}
				return nil, &SessionError{Message: frame.Error}
			}
		}
	}
}

// matchesQuery reports whether a reply-to id belongs to the single in-flight
// query. An empty reply-to id is accepted as a compatibility shim for
// servers that omit it on the very first frame. Deliberate asymmetry with
// ConcurrentSession: there the shim also adopts a mismatching non-empty id
// when exactly one non-abandoned query is in flight, whereas here a non-empty
// mismatch always means a stale reply from an earlier query on the same
// connection and is discarded.
func matchesQuery(replyToID string, queryID string) bool {
	return replyToID == queryID || replyToID == ""
}
