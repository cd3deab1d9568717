// Package plugins owns the set of loaded plugin instances and the command
// table derived from them. Plugins are keyed by a stable module id and
// kept in registration order for deterministic listing.
package plugins

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"mucbot/contract"
	"mucbot/domain"
)

// Mode selects between a first-time load and an in-place reload.
type Mode int

const (
	Init Mode = iota
	Reload
)

// Registry holds the loaded plugins and the command table built from
// them. The table is rebuilt in full on every load and replaced as one
// reference, so concurrent readers always see a complete snapshot, old
// or new, never a half-swapped one.
type Registry struct {
	mu      sync.RWMutex
	log     *slog.Logger
	order   []string
	plugins map[string]contract.Plugin
	table   map[string]domain.Command
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:     log,
		plugins: make(map[string]contract.Plugin),
		table:   make(map[string]domain.Command),
	}
}

// Load instantiates plugins from specs against their config sections.
//
// Init clears any prior state and constructs every plugin in declaration
// order. Reload first drops every registered module absent from specs,
// then constructs new modules with reinit=false and reconstructs
// surviving ones with reinit=true. A constructor failure is logged and
// the plugin omitted; it never aborts the load. The command table is
// rebuilt unconditionally afterwards.
func (r *Registry) Load(bot contract.BotContext, config map[string]map[string]string, specs []contract.PluginSpec, mode Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if mode == Init {
		r.order = nil
		r.plugins = make(map[string]contract.Plugin)
	} else {
		wanted := lo.SliceToMap(specs, func(s contract.PluginSpec) (string, struct{}) {
			return s.Module, struct{}{}
		})
		for _, module := range r.order {
			if _, ok := wanted[module]; !ok {
				r.log.Info("Disabling plugin", "module", module)
				delete(r.plugins, module)
			}
		}
		r.order = lo.Filter(r.order, func(module string, _ int) bool {
			_, ok := r.plugins[module]
			return ok
		})
	}

	for _, spec := range specs {
		_, registered := r.plugins[spec.Module]
		reinit := mode == Reload && registered

		if reinit {
			r.log.Info("Reloading plugin", "module", spec.Module)
			delete(r.plugins, spec.Module)
		} else {
			r.log.Info("Initializing plugin", "module", spec.Module)
		}

		instance, err := spec.New(bot, config[spec.Section], reinit)
		if err != nil {
			r.log.Error("Could not load plugin", "module", spec.Module, "error", err)
			if registered {
				r.order = lo.Filter(r.order, func(module string, _ int) bool {
					return module != spec.Module
				})
			}
			continue
		}

		if !registered {
			r.order = append(r.order, spec.Module)
		}
		r.plugins[spec.Module] = instance
	}

	r.rebuildTableLocked()
}

// rebuildTableLocked recomputes the command table from scratch, so no
// residue from a removed plugin can survive.
func (r *Registry) rebuildTableLocked() {
	table := make(map[string]domain.Command)

	for _, module := range r.order {
		for _, cmd := range r.plugins[module].Commands() {
			if prev, ok := table[cmd.Name]; ok {
				r.log.Warn("Command name collision, later plugin shadows earlier one",
					"command", cmd.Name, "previous", prev.Module, "module", cmd.Module)
			}
			table[cmd.Name] = cmd
		}
	}

	r.table = table

	if len(table) == 0 {
		r.log.Warn("NO commands registered")
	} else {
		r.log.Info(fmt.Sprintf("Registered %d commands", len(table)))
	}
}

// Lookup resolves a command name against the current table snapshot.
func (r *Registry) Lookup(name string) (domain.Command, bool) {
	r.mu.RLock()
	table := r.table
	r.mu.RUnlock()

	cmd, ok := table[name]
	return cmd, ok
}

// Commands lists the registered commands in registration then declaration
// order. Shadowed duplicates are skipped so the listing matches what the
// table actually dispatches.
func (r *Registry) Commands() []domain.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []domain.Command
	for _, module := range r.order {
		for _, cmd := range r.plugins[module].Commands() {
			if _, ok := r.table[cmd.Name]; !ok {
				continue
			}
			if r.table[cmd.Name].Module != cmd.Module {
				continue // shadowed by a later plugin
			}
			if _, dup := seen[cmd.Name]; dup {
				continue
			}
			seen[cmd.Name] = struct{}{}
			out = append(out, cmd)
		}
	}
	return out
}

// Modules returns the loaded module ids in registration order.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Display returns one line per plugin for status listings.
func (r *Registry) Display() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, module := range r.order {
		plugin := r.plugins[module]
		names := lo.Map(plugin.Commands(), func(cmd domain.Command, _ int) string {
			return cmd.Name
		})
		out = append(out, fmt.Sprintf("%s %s: %v", module, plugin.Version(), names))
	}
	return out
}

// Len reports how many plugins are loaded.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}
