// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

// Package proxy gives consumers one stable handle per contract.
//
// A Proxy never caches an implementation. Every call resolves the contract
// against the registry, leases the selected entry for the duration of the
// call, and forwards to it. Replacing, reloading, or removing a plugin is
// therefore visible on the next call without the consumer re-acquiring
// anything, and a plugin being deactivated waits for calls already inside it.
package proxy

import (
	"context"
	"errors"

	"github.com/wingedbean/wingedbean/internal/registry"
	"github.com/wingedbean/wingedbean/pkg/contract"
)

// Source resolves and leases contract implementations. *registry.Registry
// implements it.
type Source interface {
	Acquire(id contract.ID, policy registry.Policy) ([]*registry.Lease, error)
	AcquireAll(id contract.ID) []*registry.Lease
	PolicyFor(id contract.ID) registry.Policy
}

// Proxy delegates calls on a contract to its currently selected implementation.
// Proxy is safe for concurrent use.
type Proxy[T any] struct {
	src    Source
	id     contract.ID
	policy registry.Policy
	fixed  bool
}

// Option configures a Proxy.
type Option func(*options)

type options struct {
	policy *registry.Policy
}

// WithPolicy overrides the contract's configured selection policy.
func WithPolicy(policy registry.Policy) Option {
	return func(o *options) {
		o.policy = &policy
	}
}

// New returns a proxy for key backed by src.
func New[T any](src Source, key contract.Key[T], opts ...Option) *Proxy[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	p := &Proxy[T]{src: src, id: key.ID()}
	if o.policy != nil {
		p.policy = *o.policy
		p.fixed = true
	}
	return p
}

// Contract returns the proxied contract.
func (p *Proxy[T]) Contract() contract.ID { return p.id }

// Policy returns the policy the next call will resolve with.
func (p *Proxy[T]) Policy() registry.Policy {
	if p.fixed {
		return p.policy
	}
	return p.src.PolicyFor(p.id)
}

// Available reports whether a call made now would find an implementation.
func (p *Proxy[T]) Available() bool {
	leases, err := p.src.Acquire(p.id, p.Policy())
	if err != nil {
		return false
	}
	release(leases)
	return true
}

// acquire leases the target of a single-target call. Under All the first
// entry of the ordered sequence is the target.
func (p *Proxy[T]) acquire() (T, *registry.Lease, error) {
	var zero T
	leases, err := p.src.Acquire(p.id, p.Policy())
	if err != nil {
		return zero, nil, err
	}
	release(leases[1:])
	lease := leases[0]
	impl, ok := lease.Handle().(T)
	if !ok {
		lease.Release()
		return zero, nil, typeMismatchError[T](lease.Entry())
	}
	return impl, lease, nil
}

// Do calls fn with the selected implementation. Under the All policy Do
// behaves like Each.
func (p *Proxy[T]) Do(ctx context.Context, fn func(context.Context, T) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.Policy() == registry.All {
		return p.Each(ctx, fn)
	}
	impl, lease, err := p.acquire()
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(ctx, impl)
}

// Call calls fn with the selected implementation and returns its result.
// Under the All policy the highest ordered implementation is called.
func Call[T, R any](ctx context.Context, p *Proxy[T], fn func(context.Context, T) (R, error)) (R, error) {
	var zero R
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	impl, lease, err := p.acquire()
	if err != nil {
		return zero, err
	}
	defer lease.Release()
	return fn(ctx, impl)
}

// Each calls fn on every implementation, highest priority first. Every
// implementation is called even if an earlier one fails; the failures are
// joined. No implementations is not an error.
func (p *Proxy[T]) Each(ctx context.Context, fn func(context.Context, T) error) error {
	leases := p.src.AcquireAll(p.id)
	defer release(leases)

	var errs []error
	for _, lease := range leases {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		impl, ok := lease.Handle().(T)
		if !ok {
			errs = append(errs, typeMismatchError[T](lease.Entry()))
			continue
		}
		if err := fn(ctx, impl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stream opens a stream on the selected implementation and forwards it. The
// lease is held until the upstream channel closes or ctx is done, so the
// implementation cannot be deactivated mid-stream. Upstream producers must
// stop when ctx is done.
func Stream[T, E any](ctx context.Context, p *Proxy[T], open func(context.Context, T) (<-chan E, error)) (<-chan E, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	impl, lease, err := p.acquire()
	if err != nil {
		return nil, err
	}
	upstream, err := open(ctx, impl)
	if err != nil {
		lease.Release()
		return nil, err
	}

	out := make(chan E)
	go func() {
		defer close(out)
		defer lease.Release()
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-upstream:
				if !ok {
					return
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func release(leases []*registry.Lease) {
	for _, l := range leases {
		l.Release()
	}
}
