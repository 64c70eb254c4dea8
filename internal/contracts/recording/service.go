// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package recording

import (
	"context"
	"encoding/json"

	"github.com/samber/oops"

	"github.com/wingedbean/wingedbean/pkg/contract"
)

type stopRequest struct {
	Session string `json:"session"`
}

// NewService serves rec over the Recorder protocol:
//
//	start  Header     -> empty
//	record Frame      -> empty
//	stop   {session}  -> empty
//	frames {session}  -> []Frame
func NewService(rec Recorder) contract.Invoker {
	return contract.InvokerFunc(func(ctx context.Context, method string, payload []byte) ([]byte, error) {
		switch method {
		case MethodStart:
			var h Header
			if err := decode(method, payload, &h); err != nil {
				return nil, err
			}
			return nil, rec.Start(ctx, h)
		case MethodRecord:
			var f Frame
			if err := decode(method, payload, &f); err != nil {
				return nil, err
			}
			return nil, rec.Record(ctx, f)
		case MethodStop:
			var req stopRequest
			if err := decode(method, payload, &req); err != nil {
				return nil, err
			}
			return nil, rec.Stop(ctx, req.Session)
		case MethodFrames:
			var req stopRequest
			if err := decode(method, payload, &req); err != nil {
				return nil, err
			}
			ch, err := rec.Frames(ctx, req.Session)
			if err != nil {
				return nil, err
			}
			frames := []Frame{}
			for f := range ch {
				frames = append(frames, f)
			}
			return encode(method, frames)
		default:
			return nil, oops.Code(CodeUnknownMethod).In("recording").
				With("method", method).
				Wrapf(ErrUnknownMethod, "%s", method)
		}
	})
}

func decode(method string, payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return oops.Code(CodeInvalidPayload).In("recording").
			With("method", method).
			Wrapf(ErrInvalidPayload, "%s: %v", method, err)
	}
	return nil
}

func encode(method string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, oops.In("recording").With("method", method).Wrap(err)
	}
	return data, nil
}
