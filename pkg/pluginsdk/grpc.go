// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package pluginsdk

import (
	"context"
	"errors"
	"sync"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Offer is a contract a binary plugin serves.
type Offer struct {
	Contract string
	// Priority overrides the manifest priority when HasPriority is set.
	Priority    int
	HasPriority bool
	Shared      bool
	Name        string
	Properties  map[string]string
}

// ActivateRequest identifies the instance being activated.
type ActivateRequest struct {
	PluginID   string
	InstanceID string
}

// Host is a binary plugin's channel back to the host. Calls reach the
// contracts the plugin declared in requires and hold the provider's lease
// until they return.
type Host interface {
	Invoke(ctx context.Context, contract, method string, payload []byte) ([]byte, error)
}

// Binary is the interface binary plugins implement. Every contract a binary
// plugin offers is exposed to the host as a contract.Invoker.
type Binary interface {
	// Activate returns the plugin's offers. host stays usable until
	// Deactivate returns.
	Activate(ctx context.Context, req ActivateRequest, host Host) ([]Offer, error)
	Deactivate(ctx context.Context) error
	Invoke(ctx context.Context, contract, method string, payload []byte) ([]byte, error)
}

// GRPCPlugin implements go-plugin's GRPCPlugin interface for binary plugins.
type GRPCPlugin struct {
	hashiplug.NetRPCUnsupportedPlugin
	// Impl is only set in the plugin process.
	Impl Binary
}

// GRPCServer registers the plugin server (called by plugin process).
func (p *GRPCPlugin) GRPCServer(broker *hashiplug.GRPCBroker, s *grpc.Server) error {
	if p.Impl == nil {
		return errors.New("pluginsdk: plugin implementation is nil")
	}
	s.RegisterService(&pluginServiceDesc, &pluginServer{impl: p.Impl, broker: broker})
	return nil
}

// GRPCClient returns the host's Binary view of the plugin (called by host
// process).
func (p *GRPCPlugin) GRPCClient(_ context.Context, broker *hashiplug.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	return &grpcClient{broker: broker, conn: c}, nil
}

// pluginServer adapts Binary to the Plugin service. It runs in the plugin
// process and dials the host's callback server on activation.
type pluginServer struct {
	impl   Binary
	broker *hashiplug.GRPCBroker

	mu       sync.Mutex
	hostConn *grpc.ClientConn
}

// Activate implements pluginService.
func (s *pluginServer) Activate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, brokerID := activateRequestFromProto(in)
	conn, err := s.broker.Dial(brokerID)
	if err != nil {
		return nil, toStatus(oops.In("pluginsdk").
			With("plugin", req.PluginID).
			With("broker_id", brokerID).
			Wrapf(err, "dial host"))
	}
	s.swapHostConn(conn)

	offers, err := s.impl.Activate(ctx, req, &hostClient{conn: conn})
	if err != nil {
		s.swapHostConn(nil)
		return nil, toStatus(err)
	}
	out, err := offersToProto(offers)
	if err != nil {
		return nil, toStatus(err)
	}
	return out, nil
}

// Deactivate implements pluginService.
func (s *pluginServer) Deactivate(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	err := s.impl.Deactivate(ctx)
	s.swapHostConn(nil)
	if err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Invoke implements pluginService.
func (s *pluginServer) Invoke(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	contract, method, err := invokeTarget(ctx)
	if err != nil {
		return nil, err
	}
	out, err := s.impl.Invoke(ctx, contract, method, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(out), nil
}

func (s *pluginServer) swapHostConn(conn *grpc.ClientConn) {
	s.mu.Lock()
	prev := s.hostConn
	s.hostConn = conn
	s.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
}

// hostClient implements Host over the broker connection.
type hostClient struct {
	conn *grpc.ClientConn
}

// Invoke implements Host.
func (c *hostClient) Invoke(ctx context.Context, contract, method string, payload []byte) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	err := c.conn.Invoke(invokeContext(ctx, contract, method), hostInvokeMethod, wrapperspb.Bytes(payload), out)
	if err != nil {
		return nil, fromStatus(ctx, err)
	}
	return out.GetValue(), nil
}

// hostServer adapts Host to the Host service. It runs in the host process.
type hostServer struct {
	impl Host
}

// Invoke implements hostService.
func (s *hostServer) Invoke(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	contract, method, err := invokeTarget(ctx)
	if err != nil {
		return nil, err
	}
	out, err := s.impl.Invoke(ctx, contract, method, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(out), nil
}

// grpcClient implements Binary by calling a plugin process. Cancelling a
// call's context cancels it in the plugin too.
type grpcClient struct {
	broker *hashiplug.GRPCBroker
	conn   *grpc.ClientConn

	mu     sync.Mutex
	bridge *hostBridge
}

// Activate implements Binary. It serves host on a broker connection for the
// plugin to dial, until Deactivate.
func (c *grpcClient) Activate(ctx context.Context, req ActivateRequest, host Host) ([]Offer, error) {
	bridge := &hostBridge{host: host}
	id := c.broker.NextId()
	go c.broker.AcceptAndServe(id, bridge.serve)
	c.swapBridge(bridge)

	in, err := activateRequestToProto(req, id)
	if err != nil {
		c.swapBridge(nil)
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, pluginActivateMethod, in, out); err != nil {
		c.swapBridge(nil)
		return nil, fromStatus(ctx, err)
	}
	return offersFromProto(out), nil
}

// Deactivate implements Binary.
func (c *grpcClient) Deactivate(ctx context.Context) error {
	defer c.swapBridge(nil)
	if err := c.conn.Invoke(ctx, pluginDeactivateMethod, &emptypb.Empty{}, new(emptypb.Empty)); err != nil {
		return fromStatus(ctx, err)
	}
	return nil
}

// Invoke implements Binary.
func (c *grpcClient) Invoke(ctx context.Context, contract, method string, payload []byte) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	err := c.conn.Invoke(invokeContext(ctx, contract, method), pluginInvokeMethod, wrapperspb.Bytes(payload), out)
	if err != nil {
		return nil, fromStatus(ctx, err)
	}
	return out.GetValue(), nil
}

func (c *grpcClient) swapBridge(b *hostBridge) {
	c.mu.Lock()
	prev := c.bridge
	c.bridge = b
	c.mu.Unlock()
	if prev != nil {
		prev.stop()
	}
}

// hostBridge is the host's callback server for one activation. The broker
// builds the server asynchronously, so stop may run before serve.
type hostBridge struct {
	host Host

	mu      sync.Mutex
	server  *grpc.Server
	stopped bool
}

func (b *hostBridge) serve(opts []grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	s.RegisterService(&hostServiceDesc, &hostServer{impl: b.host})

	b.mu.Lock()
	defer b.mu.Unlock()
	b.server = s
	if b.stopped {
		s.Stop()
	}
	return s
}

func (b *hostBridge) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.server != nil {
		b.server.Stop()
	}
}
