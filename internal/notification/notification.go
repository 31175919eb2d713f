// Package notification holds the notification plugins and their registry.
// Plugins are long-lived, concurrency-safe, and instantiated once at
// startup from configuration.
package notification

import (
	"context"
	"fmt"
	"sync"

	"github.com/joshwilsdon-forks/sdc-amon/pkg/logger"
)

// Plugin delivers notifications over one medium.
type Plugin interface {
	// AcceptsMedium reports whether this plugin handles addresses stored
	// under the named user attribute.
	AcceptsMedium(attrName string) bool
	// Notify delivers message for probeName to address.
	Notify(ctx context.Context, probeName, address, message string) error
}

// Registry is the process-wide plugin registry. It is populated from
// configuration before the server starts serving and read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]Plugin
	ordered []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Plugin)}
}

// Register adds a named plugin. Registration order decides medium
// resolution precedence.
func (r *Registry) Register(name string, p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		r.ordered = append(r.ordered, name)
	}
	r.byName[name] = p
}

// Plugin returns a plugin by medium name.
func (r *Registry) Plugin(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// MediumFor asks each plugin in registration order whether it accepts the
// attribute name; the first acceptor wins.
func (r *Registry) MediumFor(attrName string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.ordered {
		if r.byName[name].AcceptsMedium(attrName) {
			return name, true
		}
	}
	return "", false
}

// Names lists registered plugins in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.ordered...)
}

// PluginSpec is the configuration for one plugin instance.
type PluginSpec struct {
	Name   string
	Kind   string
	Config map[string]string
}

// BuildRegistry instantiates every configured plugin.
func BuildRegistry(specs []PluginSpec, log *logger.Logger) (*Registry, error) {
	if log == nil {
		log = logger.NewDefault("notification")
	}
	reg := NewRegistry()
	for _, spec := range specs {
		var p Plugin
		var err error
		switch spec.Kind {
		case "email":
			p, err = NewEmail(spec.Config, log)
		case "sms":
			p, err = NewSMS(spec.Config, log)
		case "webhook":
			p = NewWebhook(spec.Config, log)
		default:
			err = fmt.Errorf("unknown notification plugin kind %q", spec.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", spec.Name, err)
		}
		reg.Register(spec.Name, p)
		log.WithField("plugin", spec.Name).WithField("kind", spec.Kind).Info("notification plugin registered")
	}
	return reg, nil
}
