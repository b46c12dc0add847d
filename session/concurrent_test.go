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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ragline/ragline/transport"
)

func newTestConcurrentSession(
	channel transport.Channel,
) *ConcurrentSession {
	s := NewConcurrent(channel, "s1")
	var mu sync.Mutex
	next := 0
	s.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("c%d", next)
	}
	return s
}

type queryResult struct {
	msg *ChatMessage
	err error
}

func TestConcurrentOutOfOrderAcks(t *testing.T) {
	defer goleak.VerifyNone(t)
	channel := newMockChannel()
	s := newTestConcurrentSession(channel)
	defer s.Close()

	result1 := make(chan queryResult, 1)
	result2 := make(chan queryResult, 1)
	go func() {
		msg, err := s.QueryBlocking(context.Background(), "first")
		result1 <- queryResult{msg, err}
	}()
	channel.waitSent(t, 1)
	go func() {
		msg, err := s.QueryBlocking(context.Background(), "second")
		result2 <- queryResult{msg, err}
	}()
	channel.waitSent(t, 2)

	// Acks arrive out of order: c2 is acknowledged before c1
	channel.deliver(
		ackFrame("s1", "c2", "m2"),
		ackFrame("s1", "c1", "m1"),
		// The reply to m1 must resolve the first call, not the second
		responseFrame("s1", "m1", "m1", "answer one"),
		responseFrame("s1", "m2", "m2", "answer two"),
	)

	res1 := <-result1
	require.NoError(t, res1.err)
	assert.Equal(t, "answer one", res1.msg.Content)
	res2 := <-result2
	require.NoError(t, res2.err)
	assert.Equal(t, "answer two", res2.msg.Content)
}

func TestConcurrentStreamingDoesNotBlockDispatch(t *testing.T) {
	defer goleak.VerifyNone(t)
	channel := newMockChannel()
	s := newTestConcurrentSession(channel)
	defer s.Close()

	release := make(chan struct{})
	slowStarted := make(chan struct{}, 1)
	slowResult := make(chan queryResult, 1)
	go func() {
		msg, err := s.QueryStreaming(
			context.Background(),
			"slow",
			func(ev StreamEvent) {
				select {
				case slowStarted <- struct{}{}:
				default:
				}
				if !ev.Final {
					<-release
				}
			},
		)
		slowResult <- queryResult{msg, err}
	}()
	channel.waitSent(t, 1)
	fastResult := make(chan queryResult, 1)
	go func() {
		msg, err := s.QueryBlocking(context.Background(), "fast")
		fastResult <- queryResult{msg, err}
	}()
	channel.waitSent(t, 2)

	channel.deliver(
		ackFrame("s1", "c1", "m1"),
		ackFrame("s1", "c2", "m2"),
		partialFrame("s1", "m1", "m1", "thinking"),
	)
	<-slowStarted
	// The slow consumer is stuck in its sink; the fast query must still
	// resolve
	channel.deliver(responseFrame("s1", "m2", "m2", "fast answer"))
	select {
	case res := <-fastResult:
		require.NoError(t, res.err)
		assert.Equal(t, "fast answer", res.msg.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("fast query blocked behind slow consumer")
	}

	close(release)
	channel.deliver(responseFrame("s1", "m1", "m1", "slow answer"))
	res := <-slowResult
	require.NoError(t, res.err)
	assert.Equal(t, "slow answer", res.msg.Content)
}

func TestConcurrentServerError(t *testing.T) {
	defer goleak.VerifyNone(t)
	channel := newMockChannel()
	s := newTestConcurrentSession(channel)
	defer s.Close()

	result := make(chan queryResult, 1)
	go func() {
		msg, err := s.QueryBlocking(context.Background(), "hi")
		result <- queryResult{msg, err}
	}()
	channel.waitSent(t, 1)
	channel.deliver(
		ackFrame("s1", "c1", "m1"),
		errorFrame("s1", "m1", "LLM timeout"),
	)
	res := <-result
	var sessionErr *SessionError
	require.True(t, errors.As(res.err, &sessionErr))
	assert.Equal(t, "LLM timeout", sessionErr.Error())
}

func TestConcurrentFallbackSingleInFlight(t *testing.T) {
	defer goleak.VerifyNone(t)
	channel := newMockChannel()
	s := newTestConcurrentSession(channel)
	defer s.Close()

	result := make(chan queryResult, 1)
	go func() {
		msg, err := s.QueryBlocking(context.Background(), "hi")
		result <- queryResult{msg, err}
	}()
	channel.waitSent(t, 1)
	// Server omits reply_to_id entirely; with a single query in flight the
	// frame is assumed to belong to it
	channel.deliver(responseFrame("s1", "m1", "", "answer"))
	res := <-result
	require.NoError(t, res.err)
	assert.Equal(t, "answer", res.msg.Content)
}

func TestConcurrentFallbackUnreachableWithTwoInFlight(t *testing.T) {
	defer goleak.VerifyNone(t)
	channel := newMockChannel()
	s := newTestConcurrentSession(channel)
	defer s.Close()

	result1 := make(chan queryResult, 1)
	result2 := make(chan queryResult, 1)
	go func() {
		msg, err := s.QueryBlocking(context.Background(), "first")
		result1 <- queryResult{msg, err}
	}()
	channel.waitSent(t, 1)
	go func() {
		msg, err := s.QueryBlocking(context.Background(), "second")
		result2 <- queryResult{msg, err}
	}()
	channel.waitSent(t, 2)

	channel.deliver(
		ackFrame("s1", "c1", "m1"),
		ackFrame("s1", "c2", "m2"),
		// A frame matching neither query must NOT be assumed to belong to
		// either of them
		responseFrame("s1", "m9", "m9", "orphan"),
	)
	select {
	case err := <-s.ErrorChan():
		var violation *ViolationError
		require.True(t, errors.As(err, &violation))
		assert.Equal(t, "m9", violation.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a protocol violation for the orphan frame")
	}
	select {
	case res := <-result1:
		t.Fatalf("first query resolved unexpectedly: %+v", res)
	case res := <-result2:
		t.Fatalf("second query resolved unexpectedly: %+v", res)
	default:
	}

	channel.deliver(
		responseFrame("s1", "m1", "m1", "answer one"),
		responseFrame("s1", "m2", "m2", "answer two"),
	)
	res1 := <-result1
	require.NoError(t, res1.err)
	assert.Equal(t, "answer one", res1.msg.Content)
	res2 := <-result2
	require.NoError(t, res2.err)
	assert.Equal(t, "answer two", res2.msg.Content)
}

func TestConcurrentUnmatchedAckViolation(t *testing.T) {
	defer goleak.VerifyNone(t)
	channel := newMockChannel()
	s := newTestConcurrentSession(channel)
	defer s.Close()

	result := make(chan queryResult, 1)
	go func() {
		msg, err := s.QueryBlocking(context.Background(), "hi")
		result <- queryResult{msg, err}
	}()
	channel.waitSent(t, 1)
	channel.deliver(ackFrame("s1", "c9", "m9"))
	select {
	case err := <-s.ErrorChan():
		var violation *ViolationError
		require.True(t, errors.As(err, &violation))
		assert.Equal(t, "c9", violation.ID)
		assert.Contains(t, violation.Expected, "c1")
	case <-time.After(2 * time.Second):
		t.Fatal("expected a protocol violation for the unknown ack")
	}
	// The pending query is unaffected
	channel.deliver(
		ackFrame("s1", "c1", "m1"),
		responseFrame("s1", "m1", "m1", "answer"),
	)
	res := <-result
	require.NoError(t, res.err)
	assert.Equal(t, "answer", res.msg.Content)
}

func TestConcurrentTimeoutDiscardsLateFrames(t *testing.T) {
	defer goleak.VerifyNone(t)
	channel := newMockChannel()
	s := newTestConcurrentSession(channel)
	defer s.Close()

	_, err := s.QueryBlocking(
		context.Background(),
		"hi",
		WithQueryTimeout(50*time.Millisecond),
	)
	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))

	// The server was never told about the abandonment and still answers;
	// those frames are discarded without raising a violation
	channel.deliver(
		ackFrame("s1", "c1", "m1"),
		partialFrame("s1", "m1", "m1", "late"),
		responseFrame("s1", "m1", "m1", "late answer"),
	)
	select {
	case err := <-s.ErrorChan():
		t.Fatalf("unexpected error for abandoned query frames: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConcurrentAbandonedFrameNotAdoptedByFallback(t *testing.T) {
	defer goleak.VerifyNone(t)
	channel := newMockChannel()
	s := newTestConcurrentSession(channel)
	defer s.Close()

	// c1 times out and is abandoned before the server says anything about it
	_, err := s.QueryBlocking(
		context.Background(),
		"first",
		WithQueryTimeout(50*time.Millisecond),
	)
	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))

	result := make(chan queryResult, 1)
	go func() {
		msg, err := s.QueryBlocking(context.Background(), "second")
		result <- queryResult{msg, err}
	}()
	channel.waitSent(t, 2)
	channel.deliver(
		ackFrame("s1", "c1", "m1"),
		ackFrame("s1", "c2", "m2"),
		// The late answer to the abandoned query must be discarded, not
		// routed to the sole live query
		responseFrame("s1", "m1", "m1", "stale answer"),
	)
	select {
	case res := <-result:
		t.Fatalf("live query resolved with abandoned content: %+v", res)
	case err := <-s.ErrorChan():
		t.Fatalf("unexpected error for abandoned query frame: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	channel.deliver(responseFrame("s1", "m2", "m2", "live answer"))
	res := <-result
	require.NoError(t, res.err)
	assert.Equal(t, "live answer", res.msg.Content)
}

func TestConcurrentServerErrorEmptyText(t *testing.T) {
	defer goleak.VerifyNone(t)
	channel := newMockChannel()
	s := newTestConcurrentSession(channel)
	defer s.Close()

	result := make(chan queryResult, 1)
	go func() {
		msg, err := s.QueryBlocking(context.Background(), "hi")
		result <- queryResult{msg, err}
	}()
	channel.waitSent(t, 1)
	// An error frame is a failure even when the server gives no text
	channel.deliver(
		ackFrame("s1", "c1", "m1"),
		errorFrame("s1", "m1", ""),
	)
	res := <-result
	var sessionErr *SessionError
	require.True(t, errors.As(res.err, &sessionErr))
	assert.Nil(t, res.msg)
}

func TestConcurrentContextCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)
	channel := newMockChannel()
	s := newTestConcurrentSession(channel)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan queryResult, 1)
	go func() {
		msg, err := s.QueryBlocking(ctx, "hi")
		result <- queryResult{msg, err}
	}()
	channel.waitSent(t, 1)
	cancel()
	res := <-result
	assert.ErrorIs(t, res.err, context.Canceled)
}

func TestConcurrentChannelFailureFailsAllInFlight(t *testing.T) {
	defer goleak.VerifyNone(t)
	channel := newMockChannel()
	s := newTestConcurrentSession(channel)
	defer s.Close()

	result1 := make(chan queryResult, 1)
	result2 := make(chan queryResult, 1)
	go func() {
		msg, err := s.QueryBlocking(context.Background(), "first")
		result1 <- queryResult{msg, err}
	}()
	channel.waitSent(t, 1)
	go func() {
		msg, err := s.QueryBlocking(context.Background(), "second")
		result2 <- queryResult{msg, err}
	}()
	channel.waitSent(t, 2)

	// Simulate the peer dropping the connection
	require.NoError(t, channel.Close())
	res1 := <-result1
	assert.ErrorIs(t, res1.err, transport.ErrChannelClosed)
	res2 := <-result2
	assert.ErrorIs(t, res2.err, transport.ErrChannelClosed)
}

func TestConcurrentQueryAfterCloseFails(t *testing.T) {
	defer goleak.VerifyNone(t)
	channel := newMockChannel()
	s := newTestConcurrentSession(channel)
	require.NoError(t, s.Close())
	_, err := s.QueryBlocking(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestConcurrentCloseIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	channel := newMockChannel()
	s := newTestConcurrentSession(channel)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
