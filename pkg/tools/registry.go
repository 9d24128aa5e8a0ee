package tools

import (
	"log/slog"
	"slices"
)

// Registry holds builders under full names "{pkg}.{name}". A short name
// resolves to its full name as long as exactly one package registered it;
// on a collision the shortcut is dropped and callers must use full names.
type Registry struct {
	logger    *slog.Logger
	builders  map[string]Builder
	order     []string
	shortcuts map[string]string
	collided  map[string]bool
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:    logger,
		builders:  make(map[string]Builder),
		shortcuts: make(map[string]string),
		collided:  make(map[string]bool),
	}
}

// Add registers b under pkg. Adding the same full name again replaces the
// earlier builder.
func (r *Registry) Add(pkg string, b Builder) {
	short := b.Name()
	full := pkg + "." + short
	if _, ok := r.builders[full]; ok {
		r.logger.Warn("tools: overwriting registration", "tool", full)
	} else {
		r.order = append(r.order, full)
	}
	r.builders[full] = b

	switch prev, ok := r.shortcuts[short]; {
	case r.collided[short]:
	case !ok || prev == full:
		r.shortcuts[short] = full
	default:
		r.logger.Warn("tools: name collision, use the full name", "name", short, "first", prev, "second", full)
		delete(r.shortcuts, short)
		r.collided[short] = true
	}
}

// Names lists full names in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Resolve maps a full or short name to a full name.
func (r *Registry) Resolve(name string) (string, bool) {
	if _, ok := r.builders[name]; ok {
		return name, true
	}
	full, ok := r.shortcuts[name]
	return full, ok
}

// BuildAll builds every registered tool in registration order.
func (r *Registry) BuildAll(c Context) []*Tool {
	r.logger.Info("tools: building", "count", len(r.order))
	var out []*Tool
	for _, full := range r.order {
		out = r.build(full, c, out)
	}
	return out
}

// BuildSelected builds the named tools in the given order. Unknown names
// are logged and skipped.
func (r *Registry) BuildSelected(names []string, c Context) []*Tool {
	var out []*Tool
	for _, name := range names {
		full, ok := r.Resolve(name)
		if !ok {
			r.logger.Error("tools: requested tool not found", "name", name)
			continue
		}
		out = r.build(full, c, out)
	}
	return out
}

func (r *Registry) build(full string, c Context, out []*Tool) []*Tool {
	t, err := r.builders[full].Build(c)
	switch {
	case err != nil:
		r.logger.Error("tools: build failed", "tool", full, "error", err)
	case t == nil:
		r.logger.Warn("tools: skipped, missing configuration", "tool", full)
	default:
		r.logger.Debug("tools: loaded", "tool", full)
		out = append(out, t)
	}
	return out
}
