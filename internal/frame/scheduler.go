// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package frame

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/heading_viewer/internal/scene"
)

// Renderer consumes one frame. Errors are reported, never retried.
type Renderer interface {
	Render(frameTimeNanos int64) error
}

// HeadingSource provides the latest compass heading, if any.
type HeadingSource interface {
	CurrentHeading() (float64, bool)
}

// State of a Scheduler.
type State int32

const (
	Idle State = iota
	Scheduled
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	}
	return "unknown"
}

// Config wires a Scheduler.
type Config struct {
	Choreographer Choreographer
	Policy        scene.Policy
	Renderer      Renderer
	// Heading may be nil; policies then never see a heading.
	Heading HeadingSource
	// Clock defaults to a clock started at NewScheduler.
	Clock *scene.FrameClock
}

// Scheduler runs policy update and render once per display refresh while
// started. Frames are handled on the choreographer goroutine; Start and Stop
// may be called from anywhere.
type Scheduler struct {
	choreographer Choreographer
	renderer      Renderer
	heading       HeadingSource
	clock         scene.FrameClock
	log           zerolog.Logger

	mu     sync.Mutex
	state  State
	policy scene.Policy
	// restartClock moves the clock origin to the next frame after SetPolicy.
	restartClock bool

	frames       atomic.Uint64
	renderErrors atomic.Uint64
}

// NewScheduler returns an idle scheduler.
func NewScheduler(cfg Config) *Scheduler {
	clock := scene.NewFrameClock()
	if cfg.Clock != nil {
		clock = *cfg.Clock
	}
	policy := cfg.Policy
	if policy == nil {
		policy = scene.Static{}
	}
	return &Scheduler{
		choreographer: cfg.Choreographer,
		renderer:      cfg.Renderer,
		heading:       cfg.Heading,
		clock:         clock,
		policy:        policy,
		log:           log.With().Str("component", "scheduler").Logger(),
	}
}

// Start posts the first frame callback. It does nothing if already started.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return
	}
	s.state = Scheduled
	s.choreographer.PostFrameCallback(s)
	s.log.Debug().Str("policy", string(s.policy.Kind())).Msg("scheduler: started")
}

// Stop withdraws the pending callback. Safe before Start and when already
// stopped. A frame already being handled on another goroutine completes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Idle {
		return
	}
	s.state = Idle
	s.choreographer.RemoveFrameCallback(s)
	s.log.Debug().Uint64("frames", s.frames.Load()).Msg("scheduler: stopped")
}

// DoFrame implements FrameCallback. The next frame is requested before the
// update so that a slow update or render never skips a refresh.
func (s *Scheduler) DoFrame(frameTimeNanos int64) {
	s.mu.Lock()
	if s.state != Scheduled {
		s.mu.Unlock()
		return
	}
	s.state = Running
	s.choreographer.PostFrameCallback(s)
	s.state = Scheduled
	policy := s.policy
	if s.restartClock {
		s.clock = scene.FrameClockAt(frameTimeNanos)
		s.restartClock = false
	}
	clock := s.clock
	s.mu.Unlock()

	var heading float64
	var haveHeading bool
	if s.heading != nil {
		heading, haveHeading = s.heading.CurrentHeading()
	}
	policy.Update(clock.Elapsed(frameTimeNanos), heading, haveHeading)
	s.frames.Add(1)

	if s.renderer == nil {
		return
	}
	if err := s.renderer.Render(frameTimeNanos); err != nil {
		// Only the first failure and every 600th after are logged.
		if n := s.renderErrors.Add(1); n == 1 || n%600 == 0 {
			s.log.Error().Err(err).Uint64("failures", n).Msg("scheduler: render failed")
		}
	}
}

// SetPolicy replaces the update policy from the next frame on. Elapsed time
// restarts at zero on that frame, so an animation clip plays from its start.
func (s *Scheduler) SetPolicy(p scene.Policy) {
	if p == nil {
		p = scene.Static{}
	}
	s.mu.Lock()
	s.policy = p
	s.restartClock = true
	s.mu.Unlock()
}

// Policy returns the active update policy.
func (s *Scheduler) Policy() scene.Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// State returns the current scheduler state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Frames returns the number of frames handled since creation.
func (s *Scheduler) Frames() uint64 { return s.frames.Load() }

// RenderErrors returns the number of failed renders since creation.
func (s *Scheduler) RenderErrors() uint64 { return s.renderErrors.Load() }
