// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package frame drives per-refresh scene updates: a display refresh source
// (Choreographer) fires one-shot callbacks, and the Scheduler turns each one
// into a policy update followed by a render.
package frame

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/heading_viewer/internal/scene"
)

// FrameCallback is invoked once per posting with the frame timestamp in
// monotonic nanoseconds (scene.Nanotime). Implementations must be comparable,
// typically pointers.
type FrameCallback interface {
	DoFrame(frameTimeNanos int64)
}

// Choreographer delivers display refresh ticks. Callbacks are one-shot: a
// callback that wants the next frame must post itself again. Implementations
// must not invoke the callback from within PostFrameCallback.
type Choreographer interface {
	PostFrameCallback(cb FrameCallback)
	RemoveFrameCallback(cb FrameCallback)
}

// CallbackQueue holds the callbacks posted for the next frame. It is the
// building block of every Choreographer in this repo.
type CallbackQueue struct {
	mu      sync.Mutex
	pending []FrameCallback
}

// Post queues cb for the next Dispatch. Posting the same callback twice
// before a dispatch delivers it once.
func (q *CallbackQueue) Post(cb FrameCallback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.pending {
		if p == cb {
			return
		}
	}
	q.pending = append(q.pending, cb)
}

// Remove drops cb if it is pending.
func (q *CallbackQueue) Remove(cb FrameCallback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.pending {
		if p == cb {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// Len returns the number of pending callbacks.
func (q *CallbackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Dispatch runs the callbacks pending at call time, in posting order.
// Callbacks posted while dispatching wait for the next frame.
func (q *CallbackQueue) Dispatch(frameTimeNanos int64) int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, cb := range batch {
		cb.DoFrame(frameTimeNanos)
	}
	return len(batch)
}

// TickerChoreographer emits frames from a time.Ticker on the goroutine
// calling Run.
type TickerChoreographer struct {
	Interval time.Duration

	queue CallbackQueue
	// now is replaced in tests.
	now func() int64
}

// NewTickerChoreographer ticks at refreshHz frames per second; 60 when
// refreshHz is not positive.
func NewTickerChoreographer(refreshHz int) *TickerChoreographer {
	if refreshHz <= 0 {
		refreshHz = 60
	}
	return &TickerChoreographer{
		Interval: time.Second / time.Duration(refreshHz),
		now:      scene.Nanotime,
	}
}

func (c *TickerChoreographer) PostFrameCallback(cb FrameCallback) { c.queue.Post(cb) }

func (c *TickerChoreographer) RemoveFrameCallback(cb FrameCallback) { c.queue.Remove(cb) }

// Run dispatches frames until ctx is done. It returns ctx.Err().
func (c *TickerChoreographer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", c.Interval).Msg("choreographer: started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("choreographer: stopped")
			return ctx.Err()
		case <-ticker.C:
			c.queue.Dispatch(c.now())
		}
	}
}
