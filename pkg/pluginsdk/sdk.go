// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

// Package pluginsdk provides the SDK for building WingedBean plugins.
//
// In-process plugins implement Module and register contract implementations
// from Activate. Binary plugins run as a separate process, implement Binary,
// and communicate with the host over gRPC using the HashiCorp go-plugin
// framework. The Host passed to Activate reaches the plugin's declared
// dependencies through a go-plugin broker connection.
//
// Example binary plugin:
//
//	package main
//
//	import (
//		"context"
//		"github.com/wingedbean/wingedbean/pkg/pluginsdk"
//	)
//
//	type Echo struct{}
//
//	func (Echo) Activate(context.Context, pluginsdk.ActivateRequest, pluginsdk.Host) ([]pluginsdk.Offer, error) {
//		return []pluginsdk.Offer{{Contract: "Echo"}}, nil
//	}
//
//	func (Echo) Deactivate(context.Context) error { return nil }
//
//	func (Echo) Invoke(_ context.Context, _, _ string, payload []byte) ([]byte, error) {
//		return payload, nil
//	}
//
//	func main() {
//		pluginsdk.Serve(&pluginsdk.ServeConfig{Plugin: Echo{}})
//	}
package pluginsdk

import (
	hashiplug "github.com/hashicorp/go-plugin"
)

// PluginName is the name binary plugins are dispensed under.
const PluginName = "module"

// HandshakeConfig is the go-plugin handshake configuration.
// Both host and plugins must use the same values.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "WINGEDBEAN_PLUGIN",
	MagicCookieValue: "wingedbean-v1",
}

// PluginMap is the plugin set shared by host and plugin processes.
func PluginMap(impl Binary) map[string]hashiplug.Plugin {
	return map[string]hashiplug.Plugin{
		PluginName: &GRPCPlugin{Impl: impl},
	}
}

// ServeConfig configures the plugin server.
type ServeConfig struct {
	// Plugin is the binary plugin implementation.
	// Required; Serve will panic if nil.
	Plugin Binary
}

// Serve starts the plugin server. This should be called from main().
// It blocks and never returns under normal operation.
func Serve(config *ServeConfig) {
	if config == nil {
		panic("pluginsdk: config cannot be nil")
	}
	if config.Plugin == nil {
		panic("pluginsdk: config.Plugin cannot be nil")
	}
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins:         PluginMap(config.Plugin),
		GRPCServer:      hashiplug.DefaultGRPCServer,
	})
}
