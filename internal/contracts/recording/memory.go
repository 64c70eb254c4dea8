// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package recording

import (
	"context"
	"slices"
	"sync"

	"github.com/samber/oops"
)

var _ Recorder = (*Memory)(nil)

type session struct {
	header  Header
	frames  []Frame
	stopped bool
}

// Memory is an in-process Recorder. Stopped sessions stay readable.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// NewMemory creates an empty in-memory recorder.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*session)}
}

// Start implements Recorder.
func (m *Memory) Start(_ context.Context, h Header) error {
	if h.Session == "" {
		return oops.Code(CodeInvalidPayload).In("recording").
			Wrapf(ErrInvalidPayload, "session is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[h.Session]; ok {
		return oops.Code(CodeSessionExists).In("recording").
			With("session", h.Session).
			Wrapf(ErrSessionExists, "start %s", h.Session)
	}
	m.sessions[h.Session] = &session{header: h}
	return nil
}

// Record implements Recorder.
func (m *Memory) Record(_ context.Context, f Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.session(f.Session, "record")
	if err != nil {
		return err
	}
	if s.stopped {
		return oops.Code(CodeSessionStopped).In("recording").
			With("session", f.Session).
			Wrapf(ErrSessionStopped, "record %s", f.Session)
	}
	s.frames = append(s.frames, f)
	return nil
}

// Stop implements Recorder. Stopping twice is not an error.
func (m *Memory) Stop(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.session(id, "stop")
	if err != nil {
		return err
	}
	s.stopped = true
	return nil
}

// Frames implements Recorder.
func (m *Memory) Frames(_ context.Context, id string) (<-chan Frame, error) {
	m.mu.RLock()
	s, err := m.session(id, "frames")
	var frames []Frame
	if err == nil {
		frames = slices.Clone(s.frames)
	}
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return emit(frames), nil
}

// Header returns the header a session was started with.
func (m *Memory) Header(id string) (Header, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Header{}, false
	}
	return s.header, true
}

// session looks up a session. Caller holds mu.
func (m *Memory) session(id, operation string) (*session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, oops.Code(CodeUnknownSession).In("recording").
			With("session", id).
			Wrapf(ErrUnknownSession, "%s %s", operation, id)
	}
	return s, nil
}

// emit returns a closed channel holding frames.
func emit(frames []Frame) <-chan Frame {
	ch := make(chan Frame, len(frames))
	for _, f := range frames {
		ch <- f
	}
	close(ch)
	return ch
}
