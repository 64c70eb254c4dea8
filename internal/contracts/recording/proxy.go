// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package recording

import (
	"context"

	"github.com/wingedbean/wingedbean/internal/proxy"
	"github.com/wingedbean/wingedbean/pkg/contract"
)

var _ Recorder = (*Proxy)(nil)

// Proxy is a Recorder that delegates every call to the Recorder currently
// selected in the registry. Under the All policy Start, Record and Stop fan
// out to every recorder while Frames reads from the first.
type Proxy struct {
	p *proxy.Proxy[contract.Invoker]
}

// NewProxy returns a Recorder proxy backed by src.
func NewProxy(src proxy.Source, opts ...proxy.Option) *Proxy {
	return &Proxy{p: proxy.New(src, Key, opts...)}
}

// Available reports whether a recorder is registered.
func (r *Proxy) Available() bool { return r.p.Available() }

// Start implements Recorder.
func (r *Proxy) Start(ctx context.Context, h Header) error {
	return r.send(ctx, MethodStart, h)
}

// Record implements Recorder.
func (r *Proxy) Record(ctx context.Context, f Frame) error {
	return r.send(ctx, MethodRecord, f)
}

// Stop implements Recorder.
func (r *Proxy) Stop(ctx context.Context, session string) error {
	return r.send(ctx, MethodStop, stopRequest{Session: session})
}

// Frames implements Recorder. The selected recorder stays leased until the
// returned channel is drained or ctx is done. Recorders that keep every
// session in one list may return foreign frames; they are filtered out.
func (r *Proxy) Frames(ctx context.Context, session string) (<-chan Frame, error) {
	payload, err := encode(MethodFrames, stopRequest{Session: session})
	if err != nil {
		return nil, err
	}
	return proxy.Stream(ctx, r.p, func(ctx context.Context, inv contract.Invoker) (<-chan Frame, error) {
		out, err := inv.Invoke(ctx, MethodFrames, payload)
		if err != nil {
			return nil, err
		}
		var frames []Frame
		if err := decode(MethodFrames, out, &frames); err != nil {
			return nil, err
		}
		kept := frames[:0]
		for _, f := range frames {
			if f.Session == session {
				kept = append(kept, f)
			}
		}
		return emit(kept), nil
	})
}

func (r *Proxy) send(ctx context.Context, method string, v any) error {
	payload, err := encode(method, v)
	if err != nil {
		return err
	}
	return r.p.Do(ctx, func(ctx context.Context, inv contract.Invoker) error {
		_, err := inv.Invoke(ctx, method, payload)
		return err
	})
}
