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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ragline/ragline/transport"
)

// ConcurrentSession supports multiple overlapping queries over one shared
// channel. A single background receive loop demultiplexes inbound frames to
// the right in-flight query by correlation id and server-assigned message
// id; each query call awaits only its own record and is cancellable
// independently without disturbing the others.
type ConcurrentSession struct {
	channel       transport.Channel
	chatSessionID string
	logger        *slog.Logger
	defaults      QueryOptions
	newID         func() string

	sendMutex sync.Mutex // writes on the shared channel are serialized

	stateMutex sync.Mutex
	inFlight   map[string]*inFlightQuery // keyed by correlation id
	abandoned  map[string]struct{}       // ids of locally timed-out queries
	failed     error                     // set when the channel dies

	errorChan chan error
	doneChan  chan struct{}
	onceClose sync.Once
	waitGroup sync.WaitGroup
}

// NewConcurrent returns a ConcurrentSession over the given channel, scoped
// to one chat session id, and starts its receive loop. The session must be
// closed to release the channel and stop the loop.
func NewConcurrent(
	channel transport.Channel,
	chatSessionID string,
	options ...SessionOptionFunc,
) *ConcurrentSession {
	cfg := newSessionConfig(options)
	s := &ConcurrentSession{
		channel:       channel,
		chatSessionID: chatSessionID,
		logger:        cfg.logger,
		defaults:      cfg.defaults,
		newID:         uuid.NewString,
		inFlight:      make(map[string]*inFlightQuery),
		abandoned:     make(map[string]struct{}),
		errorChan:     make(chan error, 10),
		doneChan:      make(chan struct{}),
	}
	s.waitGroup.Add(1)
	go s.recvLoop()
	return s
}

// ErrorChan returns the channel for asynchronous errors, such as protocol
// violations observed by the receive loop. The channel is closed when the
// session shuts down.
func (s *ConcurrentSession) ErrorChan() <-chan error {
	return s.errorChan
}

// QueryBlocking sends a query and blocks until its terminal answer arrives,
// the context is cancelled, or the query deadline passes. Other in-flight
// queries are unaffected by this call's outcome.
func (s *ConcurrentSession) QueryBlocking(
	ctx context.Context,
	message string,
	options ...QueryOptionFunc,
) (*ChatMessage, error) {
	return s.query(ctx, message, nil, options)
}

// QueryStreaming sends a query and invokes sink with each partial snapshot
// and the final answer. Sink runs on the calling goroutine, so a slow sink
// delays only this query, never dispatch to others.
func (s *ConcurrentSession) QueryStreaming(
	ctx context.Context,
	message string,
	sink StreamFunc,
	options ...QueryOptionFunc,
) (*ChatMessage, error) {
	if sink == nil {
		return nil, errors.New("session: nil streaming sink")
	}
	return s.query(ctx, message, sink, options)
}

// Close shuts down the receive loop, fails any still-pending queries, and
// releases the channel. It is idempotent.
func (s *ConcurrentSession) Close() error {
	var err error
	s.onceClose.Do(func() {
		close(s.doneChan)
		err = s.channel.Close()
		s.waitGroup.Wait()
		s.failAll(ErrSessionClosed)
		close(s.errorChan)
	})
	return err
}

func (s *ConcurrentSession) query(
	ctx context.Context,
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
	query := newInFlightQuery(correlationID)
	if err := s.register(query); err != nil {
		return nil, err
	}
	s.sendMutex.Lock()
	err = s.channel.Send(payload)
	s.sendMutex.Unlock()
	if err != nil {
		s.unregister(query, false)
		return nil, fmt.Errorf("session: send query: %w", err)
	}
	s.logger.Debug(
		"query sent",
		"component", "session",
		"correlation_id", correlationID,
	)
	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()
	for {
		select {
		case <-query.notify:
			event, pending, done, err := query.snapshot()
			if err != nil {
				s.unregister(query, false)
				return nil, err
			}
			if pending && sink != nil {
				sink(event)
			}
			if done {
				s.unregister(query, false)
				return &ChatMessage{
					ID:        event.MessageID,
					Content:   event.Content,
					ReplyTo:   correlationID,
					CreatedAt: time.Now(),
				}, nil
			}
		case <-timer.C:
			// Abandon locally; the server is not notified and may still
			// deliver frames for this query, which the loop must discard
			s.unregister(query, true)
			return nil, &TimeoutError{
				CorrelationID: correlationID,
				Timeout:       opts.Timeout,
			}
		case <-ctx.Done():
			s.unregister(query, true)
			return nil, ctx.Err()
		case <-s.doneChan:
			return nil, ErrSessionClosed
		}
	}
}

func (s *ConcurrentSession) register(query *inFlightQuery) error {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	if s.failed != nil {
		return s.failed
	}
	select {
	case <-s.doneChan:
		return ErrSessionClosed
	default:
	}
	s.inFlight[query.correlationID] = query
	return nil
}

// unregister prunes a completed or abandoned query. Abandoned queries leave
// a tombstone so late server frames are discarded instead of reported as
// protocol violations.
func (s *ConcurrentSession) unregister(query *inFlightQuery, abandon bool) {
	correlationID, queryID, messageID := query.ids()
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	delete(s.inFlight, correlationID)
	if abandon {
		s.abandoned[correlationID] = struct{}{}
		if queryID != "" {
			s.abandoned[queryID] = struct{}{}
		}
		if messageID != "" {
			s.abandoned[messageID] = struct{}{}
		}
	}
}

func (s *ConcurrentSession) recvLoop() {
	defer s.waitGroup.Done()
	for {
		data, err := s.channel.Receive(0)
		if err != nil {
			select {
			case <-s.doneChan:
				return
			default:
			}
			err = fmt.Errorf("session: receive: %w", err)
			s.failAll(err)
			s.reportError(err)
			return
		}
		frames, err := DecodeFrames(data)
		if err != nil {
			// Malformed input is fatal to this receive step but not to the
			// in-flight queries; resync on the next transport message
			s.reportError(err)
			continue
		}
		for _, frame := range frames {
			s.dispatch(frame)
		}
	}
}

// dispatch routes one inbound frame to its in-flight query. Frames are
// processed strictly in arrival order; the per-query handoff never blocks,
// so one caller's consumption cannot delay another's dispatch.
func (s *ConcurrentSession) dispatch(frame Frame) {
	if frame.SessionID() != s.chatSessionID {
		s.logger.Debug(
			"ignoring frame for foreign session",
			"component", "session",
			"session_id", frame.SessionID(),
		)
		return
	}
	switch frame := frame.(type) {
	case *Ack:
		s.dispatchAck(frame)
	case *Partial:
		s.dispatchContent(frame.ReplyToID, frame.MessageID, frame.Body, false, nil)
	case *Response:
		var failure *SessionError
		if frame.Error != "" {
			failure = &SessionError{Message: frame.Error}
		}
		s.dispatchContent(frame.ReplyToID, frame.MessageID, frame.Body, true, failure)
	case *ErrorFrame:
		// An error frame is terminal failure even when its text is empty
		s.dispatchContent(frame.ReplyToID, "", "", true, &SessionError{Message: frame.Error})
	}
}

func (s *ConcurrentSession) dispatchAck(frame *Ack) {
	s.stateMutex.Lock()
	query, ok := s.inFlight[frame.CorrelationID]
	_, wasAbandoned := s.abandoned[frame.CorrelationID]
	if wasAbandoned {
		// Remember the id the server assigned so later frames for the
		// abandoned query are recognized and discarded too
		s.abandoned[frame.MessageID] = struct{}{}
	}
	expected := s.expectedCorrelationIDs()
	s.stateMutex.Unlock()
	if ok {
		query.setAcked(frame.MessageID)
		return
	}
	if wasAbandoned {
		return
	}
	s.reportError(&ViolationError{
		ID:       frame.CorrelationID,
		Expected: expected,
	})
}

func (s *ConcurrentSession) dispatchContent(
	replyToID string,
	messageID string,
	body string,
	terminal bool,
	failure *SessionError,
) {
	s.stateMutex.Lock()
	// Frames for locally abandoned queries are discarded outright; they must
	// never reach the single-inflight fallback below
	_, wasAbandoned := s.abandoned[replyToID]
	if !wasAbandoned && messageID != "" {
		_, wasAbandoned = s.abandoned[messageID]
	}
	if wasAbandoned {
		s.stateMutex.Unlock()
		return
	}
	var query *inFlightQuery
	for _, candidate := range s.inFlight {
		if candidate.matches(replyToID, messageID) {
			query = candidate
			break
		}
	}
	if query == nil && len(s.inFlight) == 1 {
		// Compatibility shim for servers that omit reply_to_id on the very
		// first frame; only valid when the frame cannot be ambiguous
		for _, candidate := range s.inFlight {
			query = candidate
		}
	}
	expected := s.expectedMessageIDs()
	s.stateMutex.Unlock()
	if query == nil {
		s.reportError(&ViolationError{
			ID:       replyToID,
			Expected: expected,
		})
		return
	}
	if failure != nil {
		query.fail(failure)
		return
	}
	query.setContent(messageID, body, terminal)
}

// expectedCorrelationIDs returns the correlation ids currently in flight.
// Callers must hold stateMutex.
func (s *ConcurrentSession) expectedCorrelationIDs() []string {
	ids := make([]string, 0, len(s.inFlight))
	for id := range s.inFlight {
		ids = append(ids, id)
	}
	return ids
}

// expectedMessageIDs returns the acked message ids currently in flight.
// Callers must hold stateMutex.
func (s *ConcurrentSession) expectedMessageIDs() []string {
	ids := make([]string, 0, len(s.inFlight))
	for _, query := range s.inFlight {
		_, queryID, _ := query.ids()
		if queryID != "" {
			ids = append(ids, queryID)
		}
	}
	return ids
}

// failAll terminates every in-flight query with the given error
func (s *ConcurrentSession) failAll(err error) {
	s.stateMutex.Lock()
	if s.failed == nil {
		s.failed = err
	}
	pending := make([]*inFlightQuery, 0, len(s.inFlight))
	for id, query := range s.inFlight {
		pending = append(pending, query)
		delete(s.inFlight, id)
	}
	s.stateMutex.Unlock()
	for _, query := range pending {
		query.fail(err)
	}
}

func (s *ConcurrentSession) reportError(err error) {
	select {
	case s.errorChan <- err:
	case <-s.doneChan:
	}
}
