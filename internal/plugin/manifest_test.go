// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package plugin_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedbean/wingedbean/internal/plugin"
)

func TestParseManifest_LuaPlugin(t *testing.T) {
	yaml := `
name: asciinema-recorder
version: 1.2.0
type: lua
priority: 50
provides:
  - Recorder
requires:
  - contract: Clock
    optional: true
    version: ">=1.0.0"
profiles: [console]
quiesce-timeout: 5s
lua-plugin:
  entry: main.lua
`
	m, err := plugin.ParseManifest([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, "asciinema-recorder", m.Name)
	assert.Equal(t, "1.2.0", m.Version)
	assert.Equal(t, plugin.TypeLua, m.Type)
	assert.Equal(t, 50, m.Priority)
	assert.Equal(t, []string{"Recorder"}, m.Provides)
	require.Len(t, m.Requires, 1)
	assert.Equal(t, "Clock", m.Requires[0].Contract)
	assert.True(t, m.Requires[0].Optional)
	assert.Equal(t, ">=1.0.0", m.Requires[0].Version)
	assert.Equal(t, []string{"console"}, m.Profiles)
	assert.Equal(t, "5s", m.QuiesceTimeout)
	require.NotNil(t, m.LuaPlugin)
	assert.Equal(t, "main.lua", m.LuaPlugin.Entry)
}

func TestParseManifest_BinaryPlugin(t *testing.T) {
	yaml := `
name: echo
version: 2.1.0
type: binary
provides:
  - echo.*
binary-plugin:
  executable: echo-plugin
`
	m, err := plugin.ParseManifest([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, plugin.TypeBinary, m.Type)
	require.NotNil(t, m.BinaryPlugin)
	assert.Equal(t, "echo-plugin", m.BinaryPlugin.Executable)
}

func TestParseManifest_BuiltinPlugin(t *testing.T) {
	yaml := `
name: null-recorder
version: 0.1.0
type: builtin
provides: [Recorder]
builtin-plugin:
  entry: null-recorder
`
	m, err := plugin.ParseManifest([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, plugin.TypeBuiltin, m.Type)
	require.NotNil(t, m.BuiltinPlugin)
	assert.Equal(t, "null-recorder", m.BuiltinPlugin.Entry)
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "empty",
			yaml:    ``,
			wantErr: "empty",
		},
		{
			name:    "bad yaml",
			yaml:    "name: [",
			wantErr: "invalid YAML",
		},
		{
			name: "uppercase name",
			yaml: `
name: Recorder
version: 1.0.0
type: lua
lua-plugin: {entry: main.lua}
`,
			wantErr: "name",
		},
		{
			name: "trailing hyphen",
			yaml: `
name: recorder-
version: 1.0.0
type: lua
lua-plugin: {entry: main.lua}
`,
			wantErr: "name",
		},
		{
			name: "name too long",
			yaml: "name: " + strings.Repeat("a", 65) + `
version: 1.0.0
type: lua
lua-plugin: {entry: main.lua}
`,
			wantErr: "64 characters",
		},
		{
			name: "missing version",
			yaml: `
name: rec
type: lua
lua-plugin: {entry: main.lua}
`,
			wantErr: "version is required",
		},
		{
			name: "loose version",
			yaml: `
name: rec
version: v1
type: lua
lua-plugin: {entry: main.lua}
`,
			wantErr: "semantic version",
		},
		{
			name: "bad provides pattern",
			yaml: `
name: rec
version: 1.0.0
type: lua
provides: ["Rec[order"]
lua-plugin: {entry: main.lua}
`,
			wantErr: "provides[0]",
		},
		{
			name: "bad requires contract",
			yaml: `
name: rec
version: 1.0.0
type: lua
requires:
  - contract: "9lives"
lua-plugin: {entry: main.lua}
`,
			wantErr: "requires[0]",
		},
		{
			name: "bad version constraint",
			yaml: `
name: rec
version: 1.0.0
type: lua
requires:
  - contract: Clock
    version: "not-a-version"
lua-plugin: {entry: main.lua}
`,
			wantErr: "version constraint",
		},
		{
			name: "empty profile",
			yaml: `
name: rec
version: 1.0.0
type: lua
profiles: [""]
lua-plugin: {entry: main.lua}
`,
			wantErr: "profiles[0]",
		},
		{
			name: "bad quiesce timeout",
			yaml: `
name: rec
version: 1.0.0
type: lua
quiesce-timeout: soon
lua-plugin: {entry: main.lua}
`,
			wantErr: "quiesce-timeout",
		},
		{
			name: "negative quiesce timeout",
			yaml: `
name: rec
version: 1.0.0
type: lua
quiesce-timeout: -1s
lua-plugin: {entry: main.lua}
`,
			wantErr: "negative",
		},
		{
			name: "unknown type",
			yaml: `
name: rec
version: 1.0.0
type: wasm
`,
			wantErr: "type must be",
		},
		{
			name: "lua without section",
			yaml: `
name: rec
version: 1.0.0
type: lua
`,
			wantErr: "lua-plugin is required",
		},
		{
			name: "binary without executable",
			yaml: `
name: rec
version: 1.0.0
type: binary
binary-plugin: {}
`,
			wantErr: "binary-plugin.executable",
		},
		{
			name: "builtin without entry",
			yaml: `
name: rec
version: 1.0.0
type: builtin
builtin-plugin: {}
`,
			wantErr: "builtin-plugin.entry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := plugin.ParseManifest([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseManifest_NameBoundaries(t *testing.T) {
	for _, name := range []string{"a", "a1", "recorder-lua", strings.Repeat("a", 64)} {
		t.Run(name, func(t *testing.T) {
			m := &plugin.Manifest{
				Name:      name,
				Version:   "1.0.0",
				Type:      plugin.TypeLua,
				LuaPlugin: &plugin.LuaConfig{Entry: "main.lua"},
			}
			assert.NoError(t, m.Validate())
		})
	}
}
