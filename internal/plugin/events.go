// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package plugin

import (
	"log/slog"
	"sync"
	"time"
)

// Event reports one lifecycle transition.
type Event struct {
	Plugin   string
	Instance string
	From     State
	To       State
	// Err is set when To is StateFailed.
	Err error
	At  time.Time
}

// Handler receives lifecycle events.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// subscribers delivers events synchronously, in subscription order, outside
// every lifecycle lock. A handler that panics is logged and skipped.
type subscribers struct {
	mu     sync.RWMutex
	next   uint64
	subs   []subscription
	logger *slog.Logger
}

func (s *subscribers) subscribe(h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := s.next
	s.subs = append(s.subs, subscription{id: id, handler: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *subscribers) publish(ev Event) {
	s.mu.RLock()
	subs := s.subs
	s.mu.RUnlock()

	for _, sub := range subs {
		s.deliver(sub, ev)
	}
}

func (s *subscribers) deliver(sub subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("lifecycle event handler panicked",
				"plugin", ev.Plugin,
				"instance", ev.Instance,
				"to", ev.To.String(),
				"panic", r)
		}
	}()
	sub.handler(ev)
}
