// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package pluginsdk

import (
	"context"
	"errors"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The wire protocol is two gRPC services built from protobuf well-known
// types. The plugin process serves Plugin; the host serves Host over a
// go-plugin broker connection so plugins can call their dependencies.
const (
	pluginServiceName = "wingedbean.plugin.v1.Plugin"
	hostServiceName   = "wingedbean.plugin.v1.Host"

	pluginActivateMethod   = "/" + pluginServiceName + "/Activate"
	pluginDeactivateMethod = "/" + pluginServiceName + "/Deactivate"
	pluginInvokeMethod     = "/" + pluginServiceName + "/Invoke"
	hostInvokeMethod       = "/" + hostServiceName + "/Invoke"

	// Invoke carries the target in metadata and the payload as the message.
	contractMetadataKey = "wingedbean-contract"
	methodMetadataKey   = "wingedbean-method"
)

// pluginService is the server side of the Plugin service.
type pluginService interface {
	Activate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Deactivate(ctx context.Context, in *emptypb.Empty) (*emptypb.Empty, error)
	Invoke(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// hostService is the server side of the Host service.
type hostService interface {
	Invoke(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

var pluginServiceDesc = grpc.ServiceDesc{
	ServiceName: pluginServiceName,
	HandlerType: (*pluginService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Activate",
			Handler: unaryHandler(pluginActivateMethod, func(srv any, ctx context.Context, in *structpb.Struct) (any, error) {
				return srv.(pluginService).Activate(ctx, in)
			}),
		},
		{
			MethodName: "Deactivate",
			Handler: unaryHandler(pluginDeactivateMethod, func(srv any, ctx context.Context, in *emptypb.Empty) (any, error) {
				return srv.(pluginService).Deactivate(ctx, in)
			}),
		},
		{
			MethodName: "Invoke",
			Handler: unaryHandler(pluginInvokeMethod, func(srv any, ctx context.Context, in *wrapperspb.BytesValue) (any, error) {
				return srv.(pluginService).Invoke(ctx, in)
			}),
		},
	},
}

var hostServiceDesc = grpc.ServiceDesc{
	ServiceName: hostServiceName,
	HandlerType: (*hostService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Invoke",
			Handler: unaryHandler(hostInvokeMethod, func(srv any, ctx context.Context, in *wrapperspb.BytesValue) (any, error) {
				return srv.(hostService).Invoke(ctx, in)
			}),
		},
	},
}

// unaryHandler builds a grpc.MethodHandler the way generated service code
// does: decode the request, then run it through the interceptor if any.
func unaryHandler[Req any, PReq interface{ *Req }](fullMethod string, call func(srv any, ctx context.Context, in PReq) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PReq(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv, ctx, req.(PReq))
		})
	}
}

// invokeContext attaches an Invoke target to an outgoing call.
func invokeContext(ctx context.Context, contract, method string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, contractMetadataKey, contract, methodMetadataKey, method)
}

// invokeTarget reads the Invoke target of an incoming call.
func invokeTarget(ctx context.Context) (contract, method string, err error) {
	md, _ := metadata.FromIncomingContext(ctx)
	contract, method = first(md.Get(contractMetadataKey)), first(md.Get(methodMetadataKey))
	if contract == "" || method == "" {
		return "", "", status.Error(codes.InvalidArgument, "invoke without contract and method")
	}
	return contract, method, nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// toStatus converts an implementation error for the wire. Context errors
// keep their gRPC codes so the caller sees cancellation as cancellation.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Unknown, err.Error())
}

// fromStatus converts a wire error back into a Go error.
func fromStatus(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Canceled:
		return oops.In("pluginsdk").Wrapf(context.Canceled, "%s", st.Message())
	case codes.DeadlineExceeded:
		return oops.In("pluginsdk").Wrapf(context.DeadlineExceeded, "%s", st.Message())
	}
	return oops.In("pluginsdk").With("code", st.Code().String()).Errorf("%s", st.Message())
}

func activateRequestToProto(req ActivateRequest, hostBrokerID uint32) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"plugin_id":      req.PluginID,
		"instance_id":    req.InstanceID,
		"host_broker_id": float64(hostBrokerID),
	})
}

func activateRequestFromProto(in *structpb.Struct) (ActivateRequest, uint32) {
	f := in.GetFields()
	req := ActivateRequest{
		PluginID:   f["plugin_id"].GetStringValue(),
		InstanceID: f["instance_id"].GetStringValue(),
	}
	return req, uint32(f["host_broker_id"].GetNumberValue())
}

func offersToProto(offers []Offer) (*structpb.Struct, error) {
	list := make([]any, len(offers))
	for i, o := range offers {
		props := make(map[string]any, len(o.Properties))
		for k, v := range o.Properties {
			props[k] = v
		}
		entry := map[string]any{
			"contract":   o.Contract,
			"shared":     o.Shared,
			"name":       o.Name,
			"properties": props,
		}
		if o.HasPriority {
			entry["priority"] = float64(o.Priority)
		}
		list[i] = entry
	}
	return structpb.NewStruct(map[string]any{"offers": list})
}

func offersFromProto(in *structpb.Struct) []Offer {
	values := in.GetFields()["offers"].GetListValue().GetValues()
	offers := make([]Offer, 0, len(values))
	for _, v := range values {
		f := v.GetStructValue().GetFields()
		o := Offer{
			Contract: f["contract"].GetStringValue(),
			Shared:   f["shared"].GetBoolValue(),
			Name:     f["name"].GetStringValue(),
		}
		if p, ok := f["priority"]; ok {
			o.Priority = int(p.GetNumberValue())
			o.HasPriority = true
		}
		if props := f["properties"].GetStructValue().GetFields(); len(props) > 0 {
			o.Properties = make(map[string]string, len(props))
			for k, pv := range props {
				o.Properties[k] = pv.GetStringValue()
			}
		}
		offers = append(offers, o)
	}
	return offers
}
