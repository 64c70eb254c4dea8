// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

// Package main implements the echo binary plugin. It offers the Echo
// contract, which returns payloads unchanged or transformed.
//
// Build into the plugin directory:
//
//	go build -o plugins/echo/echo ./plugins/echo
package main

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/samber/oops"

	"github.com/wingedbean/wingedbean/pkg/pluginsdk"
)

// Echo implements pluginsdk.Binary.
type Echo struct {
	calls atomic.Int64
}

// Activate offers the Echo contract.
func (e *Echo) Activate(context.Context, pluginsdk.ActivateRequest, pluginsdk.Host) ([]pluginsdk.Offer, error) {
	return []pluginsdk.Offer{{
		Contract:   "Echo",
		Name:       "echo",
		Properties: map[string]string{"methods": "echo,upper,reverse,calls"},
	}}, nil
}

// Deactivate resets the call counter.
func (e *Echo) Deactivate(context.Context) error {
	e.calls.Store(0)
	return nil
}

// Invoke handles Echo methods.
func (e *Echo) Invoke(_ context.Context, contract, method string, payload []byte) ([]byte, error) {
	if contract != "Echo" {
		return nil, oops.Code("UNKNOWN_CONTRACT").With("contract", contract).Errorf("echo does not serve %s", contract)
	}
	n := e.calls.Add(1)
	switch method {
	case "echo":
		return payload, nil
	case "upper":
		return []byte(strings.ToUpper(string(payload))), nil
	case "reverse":
		r := []rune(string(payload))
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		return []byte(string(r)), nil
	case "calls":
		return []byte(strconv.FormatInt(n, 10)), nil
	default:
		return nil, oops.Code("UNKNOWN_METHOD").With("method", method).Errorf("Echo has no method %q", method)
	}
}

func main() {
	pluginsdk.Serve(&pluginsdk.ServeConfig{Plugin: &Echo{}})
}
