// Copyright 2025 Antfly, Inc.
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

package hornet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic/encoder"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultMaxConcurrent is how many requests run inference at once.
	DefaultMaxConcurrent = 4
	// DefaultMaxQueue bounds how many requests may wait for a slot.
	DefaultMaxQueue = 100
	// DefaultQueueTimeout bounds how long a request waits for a slot.
	DefaultQueueTimeout = 30 * time.Second
)

var (
	// ErrQueueFull is returned when the wait queue is at capacity.
	ErrQueueFull = errors.New("request queue full")
	// ErrRequestTimeout is returned when a request waited too long for
	// a processing slot.
	ErrRequestTimeout = errors.New("request timed out waiting in queue")
)

// RequestQueue applies backpressure to inference endpoints: at most
// maxConcurrent requests hold a processing slot, at most maxQueue wait
// for one, and no request waits longer than the timeout.
type RequestQueue struct {
	sem           *semaphore.Weighted
	maxConcurrent int
	maxQueue      int64
	timeout       time.Duration

	queued    atomic.Int64
	active    atomic.Int64
	processed atomic.Uint64
	rejected  atomic.Uint64
	timedOut  atomic.Uint64
}

// QueueStats is a snapshot of queue state.
type QueueStats struct {
	CurrentQueued  int64  `json:"current_queued"`
	CurrentActive  int64  `json:"current_active"`
	MaxConcurrent  int    `json:"max_concurrent"`
	MaxQueue       int    `json:"max_queue"`
	TotalProcessed uint64 `json:"total_processed"`
	TotalRejected  uint64 `json:"total_rejected"`
	TotalTimedOut  uint64 `json:"total_timed_out"`
}

// NewRequestQueue creates a queue with the given limits; non-positive
// values fall back to the defaults.
func NewRequestQueue(maxConcurrent, maxQueue int, timeout time.Duration) *RequestQueue {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if maxQueue <= 0 {
		maxQueue = DefaultMaxQueue
	}
	if timeout <= 0 {
		timeout = DefaultQueueTimeout
	}
	return &RequestQueue{
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		maxConcurrent: maxConcurrent,
		maxQueue:      int64(maxQueue),
		timeout:       timeout,
	}
}

// Acquire blocks until a processing slot is free and returns a release
// function. It fails with ErrQueueFull when too many requests are
// already waiting, ErrRequestTimeout when the wait exceeds the queue
// timeout, or the context's error when the caller goes away first.
func (q *RequestQueue) Acquire(ctx context.Context) (func(), error) {
	if q.queued.Add(1) > q.maxQueue {
		q.queued.Add(-1)
		q.rejected.Add(1)
		return nil, ErrQueueFull
	}

	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	err := q.sem.Acquire(waitCtx, 1)
	q.queued.Add(-1)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		q.timedOut.Add(1)
		return nil, ErrRequestTimeout
	}

	RecordQueueWaitTime(time.Since(start).Seconds())
	q.active.Add(1)

	var once sync.Once
	release := func() {
		once.Do(func() {
			q.active.Add(-1)
			q.processed.Add(1)
			q.sem.Release(1)
		})
	}
	return release, nil
}

// Stats returns a snapshot of queue counters.
func (q *RequestQueue) Stats() QueueStats {
	return QueueStats{
		CurrentQueued:  q.queued.Load(),
		CurrentActive:  q.active.Load(),
		MaxConcurrent:  q.maxConcurrent,
		MaxQueue:       int(q.maxQueue),
		TotalProcessed: q.processed.Load(),
		TotalRejected:  q.rejected.Load(),
		TotalTimedOut:  q.timedOut.Load(),
	}
}

// WriteQueueFullResponse answers a rejected request with 429 and a
// Retry-After hint.
func WriteQueueFullResponse(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = encoder.NewStreamEncoder(w).Encode(map[string]string{
		"error": "server overloaded, retry later",
	})
}

// WriteTimeoutResponse answers a request that timed out waiting for a
// processing slot.
func WriteTimeoutResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = encoder.NewStreamEncoder(w).Encode(map[string]string{
		"error": "timed out waiting for processing slot",
	})
}
