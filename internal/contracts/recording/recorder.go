// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

// Package recording defines the Recorder contract: terminal session
// recording in asciicast style, as a stream of timed frames.
//
// Recorder implementations live behind plugin boundaries, so the contract's
// registered handle is a contract.Invoker speaking a small JSON protocol.
// NewService serves a Go Recorder over that protocol and Proxy consumes it.
package recording

import (
	"context"
	"errors"
	"time"

	"github.com/wingedbean/wingedbean/pkg/contract"
)

// ContractID is the id Recorder implementations register under.
const ContractID contract.ID = "Recorder"

// Key is the typed key for Recorder registrations.
var Key = contract.NewKey[contract.Invoker](ContractID)

// Protocol methods.
const (
	MethodStart  = "start"
	MethodRecord = "record"
	MethodStop   = "stop"
	MethodFrames = "frames"
)

// Frame kinds.
const (
	KindOutput = "o"
	KindInput  = "i"
)

// Header describes a recording session.
type Header struct {
	Session string            `json:"session"`
	Width   int               `json:"width,omitempty"`
	Height  int               `json:"height,omitempty"`
	Title   string            `json:"title,omitempty"`
	Started time.Time         `json:"started"`
	Env     map[string]string `json:"env,omitempty"`
}

// Frame is one timed chunk of terminal data.
type Frame struct {
	Session string `json:"session"`
	// Offset is seconds since the session started.
	Offset float64 `json:"offset"`
	Kind   string  `json:"kind"`
	Data   string  `json:"data"`
}

// Recorder records terminal sessions.
type Recorder interface {
	Start(ctx context.Context, h Header) error
	Record(ctx context.Context, f Frame) error
	Stop(ctx context.Context, session string) error
	// Frames streams a session's frames in recording order. The channel is
	// closed after the last frame or when ctx is done.
	Frames(ctx context.Context, session string) (<-chan Frame, error)
}

// Error codes.
const (
	CodeUnknownSession = "UNKNOWN_SESSION"
	CodeSessionExists  = "SESSION_EXISTS"
	CodeSessionStopped = "SESSION_STOPPED"
	CodeUnknownMethod  = "UNKNOWN_METHOD"
	CodeInvalidPayload = "INVALID_PAYLOAD"
)

// Sentinel errors.
var (
	ErrUnknownSession = errors.New("unknown recording session")
	ErrSessionExists  = errors.New("recording session already started")
	ErrSessionStopped = errors.New("recording session stopped")
	ErrUnknownMethod  = errors.New("unknown recorder method")
	ErrInvalidPayload = errors.New("invalid recorder payload")
)
