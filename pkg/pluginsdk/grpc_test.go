// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package pluginsdk_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedbean/wingedbean/pkg/pluginsdk"
)

// fakeBinary is the plugin-side implementation under test. The relay
// method forwards its payload to the host's Clock contract.
type fakeBinary struct {
	mu          sync.Mutex
	activated   pluginsdk.ActivateRequest
	host        pluginsdk.Host
	deactivated bool
	failInvoke  bool
	cancelled   chan struct{}
}

func (f *fakeBinary) Activate(ctx context.Context, req pluginsdk.ActivateRequest, host pluginsdk.Host) ([]pluginsdk.Offer, error) {
	f.mu.Lock()
	f.activated = req
	f.host = host
	f.mu.Unlock()
	if req.PluginID == "needs-clock" {
		if _, err := host.Invoke(ctx, "Clock", "now", nil); err != nil {
			return nil, err
		}
	}
	return []pluginsdk.Offer{
		{Contract: "Echo", Name: "echo", Properties: map[string]string{"lang": "go"}},
		{Contract: "Clock", Priority: 7, HasPriority: true, Shared: true},
	}, nil
}

func (f *fakeBinary) Deactivate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = true
	return nil
}

func (f *fakeBinary) Invoke(ctx context.Context, contract, method string, payload []byte) ([]byte, error) {
	switch {
	case method == "block":
		<-ctx.Done()
		close(f.cancelled)
		return nil, ctx.Err()
	case method == "relay":
		f.mu.Lock()
		host := f.host
		f.mu.Unlock()
		return host.Invoke(ctx, "Clock", "now", payload)
	case f.failInvoke:
		return nil, errors.New("invoke failed")
	}
	return []byte(contract + "." + method + ":" + string(payload)), nil
}

// fakeHost answers the plugin's callbacks.
type fakeHost struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (h *fakeHost) Invoke(_ context.Context, contract, method string, payload []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, contract+"."+method)
	if h.err != nil {
		return nil, h.err
	}
	return append([]byte("12:00 "), payload...), nil
}

func (h *fakeHost) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func dispense(t *testing.T, impl pluginsdk.Binary) pluginsdk.Binary {
	t.Helper()
	client, server := hashiplug.TestPluginGRPCConn(t, false, pluginsdk.PluginMap(impl))
	t.Cleanup(func() {
		_ = client.Close()
		server.Stop()
	})

	raw, err := client.Dispense(pluginsdk.PluginName)
	require.NoError(t, err)
	bin, ok := raw.(pluginsdk.Binary)
	require.True(t, ok, "dispensed %T", raw)
	return bin
}

func TestGRPC_ActivateInvokeDeactivate(t *testing.T) {
	impl := &fakeBinary{}
	bin := dispense(t, impl)
	ctx := context.Background()

	offers, err := bin.Activate(ctx, pluginsdk.ActivateRequest{PluginID: "echo", InstanceID: "inst-1"}, &fakeHost{})
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, pluginsdk.Offer{Contract: "Echo", Name: "echo", Properties: map[string]string{"lang": "go"}}, offers[0])
	assert.Equal(t, pluginsdk.Offer{Contract: "Clock", Priority: 7, HasPriority: true, Shared: true}, offers[1])
	impl.mu.Lock()
	assert.Equal(t, pluginsdk.ActivateRequest{PluginID: "echo", InstanceID: "inst-1"}, impl.activated)
	impl.mu.Unlock()

	out, err := bin.Invoke(ctx, "Echo", "say", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "Echo.say:hi", string(out))

	require.NoError(t, bin.Deactivate(ctx))
	impl.mu.Lock()
	defer impl.mu.Unlock()
	assert.True(t, impl.deactivated)
}

func TestGRPC_PluginCallsHost(t *testing.T) {
	bin := dispense(t, &fakeBinary{})
	host := &fakeHost{}
	ctx := context.Background()

	_, err := bin.Activate(ctx, pluginsdk.ActivateRequest{PluginID: "needs-clock", InstanceID: "inst-1"}, host)
	require.NoError(t, err)
	assert.Equal(t, []string{"Clock.now"}, host.Calls(), "the host is reachable during activation")

	out, err := bin.Invoke(ctx, "Echo", "relay", []byte("utc"))
	require.NoError(t, err)
	assert.Equal(t, "12:00 utc", string(out))
	assert.Len(t, host.Calls(), 2)

	require.NoError(t, bin.Deactivate(ctx))
}

func TestGRPC_HostErrorFailsActivation(t *testing.T) {
	bin := dispense(t, &fakeBinary{})
	host := &fakeHost{err: errors.New("no provider for Clock")}

	_, err := bin.Activate(context.Background(), pluginsdk.ActivateRequest{PluginID: "needs-clock"}, host)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no provider for Clock")
}

func TestGRPC_InvokeErrorCrossesBoundary(t *testing.T) {
	bin := dispense(t, &fakeBinary{failInvoke: true})

	_, err := bin.Invoke(context.Background(), "Echo", "say", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invoke failed")
}

func TestGRPC_CancellationReachesPlugin(t *testing.T) {
	impl := &fakeBinary{cancelled: make(chan struct{})}
	bin := dispense(t, impl)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := bin.Invoke(ctx, "Echo", "block", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-impl.cancelled:
	case <-time.After(time.Second):
		t.Fatal("the plugin never saw the call's context end")
	}
}
