// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package recording_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wingedbean/wingedbean/internal/contracts/recording"
	"github.com/wingedbean/wingedbean/internal/proxy"
	"github.com/wingedbean/wingedbean/internal/registry"
	"github.com/wingedbean/wingedbean/pkg/contract"
	"github.com/wingedbean/wingedbean/pkg/errutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func collect(t *testing.T, ch <-chan recording.Frame) []recording.Frame {
	t.Helper()
	var frames []recording.Frame
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return frames
			}
			frames = append(frames, f)
		case <-timeout:
			t.Fatal("frame stream did not close")
		}
	}
}

func frame(session string, offset float64, data string) recording.Frame {
	return recording.Frame{Session: session, Offset: offset, Kind: recording.KindOutput, Data: data}
}

func TestMemory_Session(t *testing.T) {
	ctx := context.Background()
	m := recording.NewMemory()

	h := recording.Header{Session: "s1", Width: 80, Height: 24, Title: "demo"}
	require.NoError(t, m.Start(ctx, h))
	require.NoError(t, m.Record(ctx, frame("s1", 0.1, "$ ls\r\n")))
	require.NoError(t, m.Record(ctx, frame("s1", 0.4, "README.md\r\n")))
	require.NoError(t, m.Stop(ctx, "s1"))
	require.NoError(t, m.Stop(ctx, "s1"), "stopping twice is allowed")

	got, ok := m.Header("s1")
	require.True(t, ok)
	assert.Equal(t, h, got)

	ch, err := m.Frames(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []recording.Frame{frame("s1", 0.1, "$ ls\r\n"), frame("s1", 0.4, "README.md\r\n")}, collect(t, ch))
}

func TestMemory_Errors(t *testing.T) {
	ctx := context.Background()
	m := recording.NewMemory()
	require.NoError(t, m.Start(ctx, recording.Header{Session: "s1"}))
	require.NoError(t, m.Stop(ctx, "s1"))

	tests := []struct {
		name string
		call func() error
		code string
	}{
		{"empty session", func() error { return m.Start(ctx, recording.Header{}) }, recording.CodeInvalidPayload},
		{"duplicate start", func() error { return m.Start(ctx, recording.Header{Session: "s1"}) }, recording.CodeSessionExists},
		{"record after stop", func() error { return m.Record(ctx, frame("s1", 1, "x")) }, recording.CodeSessionStopped},
		{"record unknown", func() error { return m.Record(ctx, frame("nope", 1, "x")) }, recording.CodeUnknownSession},
		{"stop unknown", func() error { return m.Stop(ctx, "nope") }, recording.CodeUnknownSession},
		{"frames unknown", func() error { _, err := m.Frames(ctx, "nope"); return err }, recording.CodeUnknownSession},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errutil.AssertErrorCode(t, tt.call(), tt.code)
		})
	}
}

func TestService_Protocol(t *testing.T) {
	ctx := context.Background()
	svc := recording.NewService(recording.NewMemory())

	_, err := svc.Invoke(ctx, recording.MethodStart, []byte(`{"session":"s1","width":80}`))
	require.NoError(t, err)
	_, err = svc.Invoke(ctx, recording.MethodRecord, []byte(`{"session":"s1","offset":0.5,"kind":"o","data":"hi"}`))
	require.NoError(t, err)

	out, err := svc.Invoke(ctx, recording.MethodFrames, []byte(`{"session":"s1"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"session":"s1","offset":0.5,"kind":"o","data":"hi"}]`, string(out))

	_, err = svc.Invoke(ctx, "rewind", nil)
	assert.ErrorIs(t, err, recording.ErrUnknownMethod)

	_, err = svc.Invoke(ctx, recording.MethodRecord, []byte(`not json`))
	assert.ErrorIs(t, err, recording.ErrInvalidPayload)

	_, err = svc.Invoke(ctx, recording.MethodStop, []byte(`{"session":"nope"}`))
	assert.ErrorIs(t, err, recording.ErrUnknownSession)
}

func register(t *testing.T, r *registry.Registry, owner string, priority int, rec recording.Recorder) {
	t.Helper()
	require.NoError(t, r.Register(owner, registry.Registration{
		Contract: recording.ContractID,
		Handle:   recording.NewService(rec),
		Priority: priority,
	}))
}

func TestProxy_DelegatesToSelected(t *testing.T) {
	ctx := context.Background()
	r := registry.New()
	p := recording.NewProxy(r)

	assert.False(t, p.Available())
	err := p.Start(ctx, recording.Header{Session: "s1"})
	require.ErrorIs(t, err, registry.ErrNotFound)

	low, high := recording.NewMemory(), recording.NewMemory()
	register(t, r, "low", 10, low)
	register(t, r, "high", 50, high)
	assert.True(t, p.Available())

	require.NoError(t, p.Start(ctx, recording.Header{Session: "s1"}))
	require.NoError(t, p.Record(ctx, frame("s1", 0, "a")))
	require.NoError(t, p.Stop(ctx, "s1"))

	_, ok := high.Header("s1")
	assert.True(t, ok, "the highest priority recorder is selected")
	_, ok = low.Header("s1")
	assert.False(t, ok)

	ch, err := p.Frames(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []recording.Frame{frame("s1", 0, "a")}, collect(t, ch))

	r.Deregister("high")
	_, err = p.Frames(ctx, "s1")
	assert.ErrorIs(t, err, recording.ErrUnknownSession, "the next call follows the registry")
}

func TestProxy_AllPolicyFansOut(t *testing.T) {
	ctx := context.Background()
	r := registry.New(registry.WithPolicies(map[contract.ID]registry.Policy{recording.ContractID: registry.All}))
	p := recording.NewProxy(r)

	a, b := recording.NewMemory(), recording.NewMemory()
	register(t, r, "a", 10, a)
	register(t, r, "b", 20, b)

	require.NoError(t, p.Start(ctx, recording.Header{Session: "s1"}))
	require.NoError(t, p.Record(ctx, frame("s1", 0, "x")))

	for _, m := range []*recording.Memory{a, b} {
		ch, err := m.Frames(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, collect(t, ch), 1)
	}
}

func TestProxy_FramesFiltersForeignSessions(t *testing.T) {
	ctx := context.Background()
	r := registry.New()
	require.NoError(t, r.Register("lua", registry.Registration{
		Contract: recording.ContractID,
		Handle: contract.InvokerFunc(func(_ context.Context, method string, _ []byte) ([]byte, error) {
			return []byte(`[{"session":"s1","data":"mine"},{"session":"s2","data":"theirs"}]`), nil
		}),
	}))

	ch, err := recording.NewProxy(r).Frames(ctx, "s1")
	require.NoError(t, err)
	frames := collect(t, ch)
	require.Len(t, frames, 1)
	assert.Equal(t, "mine", frames[0].Data)
}

func TestProxy_FramesHoldsLease(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := registry.New()
	m := recording.NewMemory()
	register(t, r, "mem", 0, m)
	require.NoError(t, m.Start(ctx, recording.Header{Session: "s1"}))
	for i := range 3 {
		require.NoError(t, m.Record(ctx, frame("s1", float64(i), "x")))
	}

	ch, err := recording.NewProxy(r, proxy.WithPolicy(registry.One)).Frames(ctx, "s1")
	require.NoError(t, err)
	r.Deregister("mem")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer drainCancel()
	assert.ErrorIs(t, r.Drain(drainCtx, "mem"), context.DeadlineExceeded, "an open stream keeps the recorder leased")

	assert.Len(t, collect(t, ch), 3)
	require.NoError(t, r.Drain(context.Background(), "mem"))
}
