// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

//go:build integration

package host_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/wingedbean/wingedbean/internal/contracts/recording"
	"github.com/wingedbean/wingedbean/internal/plugin"
	"github.com/wingedbean/wingedbean/internal/plugin/builtin"
	pluginlua "github.com/wingedbean/wingedbean/internal/plugin/lua"
	"github.com/wingedbean/wingedbean/internal/registry"
	"github.com/wingedbean/wingedbean/pkg/contract"
	"github.com/wingedbean/wingedbean/pkg/pluginsdk"
)

const journalScript = `
local journal = {}

function journal:write(payload)
  return host.invoke("Recorder", "record", payload)
end

function activate(h)
  local _, err = h.invoke("Recorder", "start", '{"session":"journal"}')
  if err then
    return false, err
  end
  h.register("Journal", journal, { name = "journal" })
end
`

const brokenScript = `
function activate(h)
  return false, "refusing to start"
end
`

// hostEnv is a manager wired the way the host wires it, with plugins
// discovered from a temp directory.
type hostEnv struct {
	dir      string
	reg      *registry.Registry
	mgr      *plugin.Manager
	memory   *recording.Memory
	mu       sync.Mutex
	events   []plugin.Event
	unsubber func()
}

func newHostEnv(policies map[contract.ID]registry.Policy) *hostEnv {
	env := &hostEnv{
		dir:    GinkgoT().TempDir(),
		memory: recording.NewMemory(),
	}

	catalog := builtin.NewCatalog()
	catalog.MustAdd("memory-recorder", func(context.Context, pluginsdk.Scope) (pluginsdk.Module, error) {
		return pluginsdk.ModuleFuncs{
			OnActivate: func(_ context.Context, reg pluginsdk.Registrar, _ pluginsdk.Dependencies) error {
				return reg.Register(recording.ContractID, recording.NewService(env.memory),
					pluginsdk.WithName("in-memory recorder"))
			},
		}, nil
	})

	env.reg = registry.New(registry.WithPolicies(policies))
	env.mgr = plugin.NewManager(env.reg,
		plugin.WithRuntime(catalog),
		plugin.WithRuntime(pluginlua.NewRuntime()),
		plugin.WithLogger(slog.New(slog.DiscardHandler)),
		plugin.WithHookTimeout(5*time.Second),
		plugin.WithQuiesceTimeout(time.Second),
	)
	env.unsubber = env.mgr.Subscribe(func(ev plugin.Event) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.events = append(env.events, ev)
	})
	return env
}

func (e *hostEnv) writeLua(name, manifest, script string) {
	dir := filepath.Join(e.dir, name)
	Expect(os.MkdirAll(dir, 0o750)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, plugin.ManifestFile), []byte(manifest), 0o600)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, "main.lua"), []byte(script), 0o600)).To(Succeed())
}

func (e *hostEnv) copyBundled(name string) {
	src := filepath.Join("..", "..", "..", "plugins", name)
	manifest, err := os.ReadFile(filepath.Join(src, plugin.ManifestFile))
	Expect(err).NotTo(HaveOccurred())
	script, err := os.ReadFile(filepath.Join(src, "main.lua"))
	Expect(err).NotTo(HaveOccurred())
	e.writeLua(name, string(manifest), string(script))
}

func (e *hostEnv) discover(ctx context.Context) {
	memory, err := plugin.NewDescriptor(&plugin.Manifest{
		Name:          "memory-recorder",
		Version:       "1.0.0",
		Type:          plugin.TypeBuiltin,
		Priority:      -100,
		Provides:      []string{string(recording.ContractID)},
		BuiltinPlugin: &plugin.BuiltinConfig{Entry: "memory-recorder"},
	}, "")
	Expect(err).NotTo(HaveOccurred())

	_, err = e.mgr.Discover(ctx,
		plugin.StaticSource{memory},
		plugin.DirSource{Dir: e.dir, Logger: slog.New(slog.DiscardHandler)},
	)
	Expect(err).NotTo(HaveOccurred())
}

// activations returns plugin ids in the order they reached Activated.
func (e *hostEnv) activations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, ev := range e.events {
		if ev.To == plugin.StateActivated {
			out = append(out, ev.Plugin)
		}
	}
	return out
}

func (e *hostEnv) state(pluginID string) plugin.State {
	inst, ok := e.mgr.Instance(pluginID)
	Expect(ok).To(BeTrue(), "no instance for %s", pluginID)
	return inst.State()
}

// hasSession reports whether the builtin recorder saw a session.
func (e *hostEnv) hasSession(id string) bool {
	_, ok := e.memory.Header(id)
	return ok
}

func (e *hostEnv) close(ctx context.Context) {
	Expect(e.mgr.Shutdown(ctx)).To(Succeed())
	e.unsubber()
}

func invoke(reg *registry.Registry, id contract.ID, method, payload string) (string, error) {
	sel, err := reg.Resolve(id, registry.HighestPriority)
	if err != nil {
		return "", err
	}
	inv, ok := sel.Entry().Handle.(contract.Invoker)
	Expect(ok).To(BeTrue(), "%s handle is %T", id, sel.Entry().Handle)
	out, err := inv.Invoke(context.Background(), method, []byte(payload))
	return string(out), err
}

var _ = Describe("Plugin host", func() {
	var (
		ctx context.Context
		env *hostEnv
	)

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("startup ordering", func() {
		BeforeEach(func() {
			env = newHostEnv(nil)
			env.writeLua("journal",
				"name: journal\nversion: 1.0.0\ntype: lua\nprovides: [Journal]\nrequires:\n  - contract: Recorder\nlua-plugin:\n  entry: main.lua\n",
				journalScript)
			env.discover(ctx)
		})

		AfterEach(func() {
			env.close(ctx)
		})

		It("activates providers before the plugins that require them", func() {
			Expect(env.mgr.Start(ctx)).To(Succeed())
			Expect(env.activations()).To(Equal([]string{"memory-recorder", "journal"}))
			Expect(env.hasSession("journal")).To(BeTrue())
		})

		It("routes a consumer's calls through the registry", func() {
			Expect(env.mgr.Start(ctx)).To(Succeed())

			_, err := invoke(env.reg, "Journal", "write", `{"session":"journal","offset":1,"kind":"o","data":"hi"}`)
			Expect(err).NotTo(HaveOccurred())

			frames, err := env.memory.Frames(ctx, "journal")
			Expect(err).NotTo(HaveOccurred())
			Eventually(frames).Should(Receive(HaveField("Data", "hi")))
		})

		It("refuses to deactivate a provider while a dependent is active", func() {
			Expect(env.mgr.Start(ctx)).To(Succeed())

			err := env.mgr.Disable(ctx, "memory-recorder")
			Expect(err).To(MatchError(plugin.ErrDependentsStillActive))
			Expect(env.state("memory-recorder")).To(Equal(plugin.StateActivated))
		})

		It("deactivates dependents before providers on shutdown", func() {
			Expect(env.mgr.Start(ctx)).To(Succeed())
			Expect(env.mgr.Shutdown(ctx)).To(Succeed())

			env.mu.Lock()
			var order []string
			for _, ev := range env.events {
				if ev.To == plugin.StateDeactivated {
					order = append(order, ev.Plugin)
				}
			}
			env.mu.Unlock()
			Expect(order).To(Equal([]string{"journal", "memory-recorder"}))
			Expect(env.reg.Len()).To(BeZero())
		})
	})

	Describe("recorder selection", func() {
		It("prefers the Lua recorder over the builtin fallback", func() {
			env = newHostEnv(nil)
			env.copyBundled("recorder-lua")
			env.discover(ctx)
			defer env.close(ctx)

			Expect(env.mgr.Start(ctx)).To(Succeed())

			rec := recording.NewProxy(env.reg)
			Expect(rec.Start(ctx, recording.Header{Session: "s1"})).To(Succeed())
			Expect(rec.Record(ctx, recording.Frame{Session: "s1", Kind: recording.KindOutput, Data: "lua"})).To(Succeed())

			Expect(env.hasSession("s1")).To(BeFalse(), "builtin recorder should not see the session")

			frames, err := rec.Frames(ctx, "s1")
			Expect(err).NotTo(HaveOccurred())
			Eventually(frames).Should(Receive(HaveField("Data", "lua")))
		})

		It("falls back to the builtin recorder once the Lua recorder is disabled", func() {
			env = newHostEnv(nil)
			env.copyBundled("recorder-lua")
			env.discover(ctx)
			defer env.close(ctx)

			Expect(env.mgr.Start(ctx)).To(Succeed())
			rec := recording.NewProxy(env.reg)

			Expect(env.mgr.Disable(ctx, "recorder-lua")).To(Succeed())
			Expect(rec.Start(ctx, recording.Header{Session: "s2"})).To(Succeed())
			Expect(env.hasSession("s2")).To(BeTrue())
		})

		It("fans writes out to every recorder under the All policy", func() {
			env = newHostEnv(map[contract.ID]registry.Policy{recording.ContractID: registry.All})
			env.copyBundled("recorder-lua")
			env.discover(ctx)
			defer env.close(ctx)

			Expect(env.mgr.Start(ctx)).To(Succeed())
			rec := recording.NewProxy(env.reg)

			Expect(rec.Start(ctx, recording.Header{Session: "s3"})).To(Succeed())
			Expect(rec.Record(ctx, recording.Frame{Session: "s3", Kind: recording.KindOutput, Data: "both"})).To(Succeed())

			Expect(env.hasSession("s3")).To(BeTrue())
			out, err := invoke(env.reg, recording.ContractID, recording.MethodFrames, `{"session":"s3"}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring(`"both"`))
		})
	})

	Describe("reload", func() {
		It("swaps in a fresh instance that serves the same contract", func() {
			env = newHostEnv(nil)
			env.copyBundled("recorder-lua")
			env.discover(ctx)
			defer env.close(ctx)

			Expect(env.mgr.Start(ctx)).To(Succeed())
			rec := recording.NewProxy(env.reg)
			Expect(rec.Start(ctx, recording.Header{Session: "old"})).To(Succeed())

			old, ok := env.mgr.Instance("recorder-lua")
			Expect(ok).To(BeTrue())
			fresh, err := env.mgr.Reload(ctx, old)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh.ID()).NotTo(Equal(old.ID()))
			Expect(old.State()).To(Equal(plugin.StateUnloaded))
			Expect(fresh.State()).To(Equal(plugin.StateActivated))

			_, err = rec.Frames(ctx, "old")
			Expect(err).To(HaveOccurred(), "session state does not survive a reload")
			Expect(rec.Start(ctx, recording.Header{Session: "old"})).To(Succeed())
		})
	})

	Describe("failure isolation", func() {
		It("keeps healthy plugins running when one fails to activate", func() {
			env = newHostEnv(nil)
			env.copyBundled("recorder-lua")
			env.writeLua("broken", "name: broken\nversion: 0.1.0\ntype: lua\nlua-plugin:\n  entry: main.lua\n", brokenScript)
			env.discover(ctx)
			defer env.close(ctx)

			err := env.mgr.Start(ctx)
			Expect(err).To(MatchError(plugin.ErrActivationFailed))

			Expect(env.state("broken")).To(Equal(plugin.StateFailed))
			Expect(env.state("recorder-lua")).To(Equal(plugin.StateActivated))
			Expect(env.state("memory-recorder")).To(Equal(plugin.StateActivated))
			Expect(env.reg.ResolveAll(recording.ContractID)).To(HaveLen(2))
		})

		It("fails a dependent whose provider is missing", func() {
			env = newHostEnv(nil)
			env.writeLua("journal",
				"name: journal\nversion: 1.0.0\ntype: lua\nprovides: [Journal]\nrequires:\n  - contract: Transcript\nlua-plugin:\n  entry: main.lua\n",
				journalScript)
			env.discover(ctx)
			defer env.close(ctx)

			err := env.mgr.Start(ctx)
			Expect(err).To(MatchError(plugin.ErrDependencyUnresolved))
			Expect(env.state("journal")).To(Equal(plugin.StateFailed))
		})
	})
})
