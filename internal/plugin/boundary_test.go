// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package plugin_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedbean/wingedbean/internal/plugin"
	"github.com/wingedbean/wingedbean/pkg/errutil"
	"github.com/wingedbean/wingedbean/pkg/pluginsdk"
)

var _ pluginsdk.Scope = (*plugin.Arena)(nil)

func TestArena_ReleaseRunsInReverseOrder(t *testing.T) {
	arena := plugin.NewArena("rec", "01J", nil)
	assert.Equal(t, "rec", arena.PluginID())
	assert.Equal(t, "01J", arena.InstanceID())
	require.NotNil(t, arena.Logger())

	var order []int
	for i := range 3 {
		require.NoError(t, arena.Own(func(context.Context) error {
			order = append(order, i)
			return nil
		}))
	}

	require.NoError(t, arena.Release(context.Background()))
	assert.Equal(t, []int{2, 1, 0}, order)
	assert.True(t, arena.Released())
}

func TestArena_ReleaseJoinsErrors(t *testing.T) {
	arena := plugin.NewArena("rec", "01J", nil)
	errA := errors.New("close file")
	errB := errors.New("stop timer")
	ran := 0
	require.NoError(t, arena.Own(func(context.Context) error { ran++; return errA }))
	require.NoError(t, arena.Own(func(context.Context) error { ran++; return nil }))
	require.NoError(t, arena.Own(func(context.Context) error { ran++; return errB }))

	err := arena.Release(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, 3, ran, "every release function runs even after a failure")
}

func TestArena_ReleaseIsIdempotent(t *testing.T) {
	arena := plugin.NewArena("rec", "01J", nil)
	calls := 0
	require.NoError(t, arena.Own(func(context.Context) error { calls++; return nil }))

	require.NoError(t, arena.Release(context.Background()))
	require.NoError(t, arena.Release(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestArena_OwnAfterRelease(t *testing.T) {
	arena := plugin.NewArena("rec", "01J", nil)
	require.NoError(t, arena.Release(context.Background()))

	err := arena.Own(func(context.Context) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrBoundaryReleased)
	errutil.AssertErrorCode(t, err, plugin.CodeBoundaryReleased)
}
