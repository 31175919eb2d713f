// Package probe implements the probe and probe-group models: validation,
// persistence in the directory, and authorization of mutations.
package probe

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// Type is one registered probe kind. The master never executes probes; it
// only needs each kind's placement rules and config validation.
type Type interface {
	Name() string
	// RunLocally kinds execute on the machine they watch, so agent and
	// machine coincide.
	RunLocally() bool
	// RunInVMHost kinds execute on the physical host of the VM they watch.
	RunInVMHost() bool
	// ValidateConfig checks the kind-specific opaque config object.
	ValidateConfig(config []byte) error
}

// Registry maps kind names to Type instances. Populated once at startup,
// read-only afterwards.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Type
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Type)}
}

// Register adds a kind. Re-registering a name replaces it.
func (r *Registry) Register(t Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[t.Name()] = t
}

// Lookup returns the kind by name.
func (r *Registry) Lookup(name string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.kinds[name]
	return t, ok
}

// Names lists registered kinds, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry holding the built-in probe kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(logScanType{})
	r.Register(machineUpType{})
	r.Register(httpType{})
	r.Register(icmpType{})
	r.Register(processUpType{})
	r.Register(diskUsageType{})
	return r
}

func requireJSON(config []byte) (gjson.Result, error) {
	if len(config) == 0 {
		return gjson.Result{}, fmt.Errorf("config is required")
	}
	if !gjson.ValidBytes(config) {
		return gjson.Result{}, fmt.Errorf("config is not valid JSON")
	}
	return gjson.ParseBytes(config), nil
}

// logScanType tails a log file looking for a pattern.
type logScanType struct{}

func (logScanType) Name() string      { return "log-scan" }
func (logScanType) RunLocally() bool  { return true }
func (logScanType) RunInVMHost() bool { return false }

func (logScanType) ValidateConfig(config []byte) error {
	cfg, err := requireJSON(config)
	if err != nil {
		return err
	}
	path := cfg.Get("path")
	if path.Type != gjson.String || path.String() == "" {
		return fmt.Errorf("config.path (string) is required")
	}
	pattern := cfg.Get("regex")
	if pattern.Type != gjson.String || pattern.String() == "" {
		return fmt.Errorf("config.regex (string) is required")
	}
	if _, err := regexp.Compile(pattern.String()); err != nil {
		return fmt.Errorf("config.regex does not compile: %v", err)
	}
	if th := cfg.Get("threshold"); th.Exists() && th.Int() < 1 {
		return fmt.Errorf("config.threshold must be >= 1")
	}
	if p := cfg.Get("period"); p.Exists() && p.Int() < 1 {
		return fmt.Errorf("config.period must be >= 1 (seconds)")
	}
	return nil
}

// machineUpType watches a VM from its physical host.
type machineUpType struct{}

func (machineUpType) Name() string      { return "machine-up" }
func (machineUpType) RunLocally() bool  { return false }
func (machineUpType) RunInVMHost() bool { return true }

func (machineUpType) ValidateConfig(config []byte) error {
	if len(config) == 0 {
		return nil
	}
	if !gjson.ValidBytes(config) {
		return fmt.Errorf("config is not valid JSON")
	}
	return nil
}

// httpType polls an HTTP endpoint.
type httpType struct{}

func (httpType) Name() string      { return "http" }
func (httpType) RunLocally() bool  { return true }
func (httpType) RunInVMHost() bool { return false }

func (httpType) ValidateConfig(config []byte) error {
	cfg, err := requireJSON(config)
	if err != nil {
		return err
	}
	url := cfg.Get("url")
	if url.Type != gjson.String || url.String() == "" {
		return fmt.Errorf("config.url (string) is required")
	}
	if !strings.HasPrefix(url.String(), "http://") && !strings.HasPrefix(url.String(), "https://") {
		return fmt.Errorf("config.url must be http or https")
	}
	if m := cfg.Get("method"); m.Exists() {
		switch strings.ToUpper(m.String()) {
		case "GET", "HEAD", "POST":
		default:
			return fmt.Errorf("config.method %q not supported", m.String())
		}
	}
	return nil
}

// icmpType pings a host.
type icmpType struct{}

func (icmpType) Name() string      { return "icmp" }
func (icmpType) RunLocally() bool  { return true }
func (icmpType) RunInVMHost() bool { return false }

func (icmpType) ValidateConfig(config []byte) error {
	cfg, err := requireJSON(config)
	if err != nil {
		return err
	}
	host := cfg.Get("host")
	if host.Type != gjson.String || host.String() == "" {
		return fmt.Errorf("config.host (string) is required")
	}
	return nil
}

// processUpType checks that a named process is alive.
type processUpType struct{}

func (processUpType) Name() string      { return "process-up" }
func (processUpType) RunLocally() bool  { return true }
func (processUpType) RunInVMHost() bool { return false }

func (processUpType) ValidateConfig(config []byte) error {
	cfg, err := requireJSON(config)
	if err != nil {
		return err
	}
	name := cfg.Get("process")
	if name.Type != gjson.String || name.String() == "" {
		return fmt.Errorf("config.process (string) is required")
	}
	return nil
}

// diskUsageType alerts when a filesystem crosses a usage threshold.
type diskUsageType struct{}

func (diskUsageType) Name() string      { return "disk-usage" }
func (diskUsageType) RunLocally() bool  { return true }
func (diskUsageType) RunInVMHost() bool { return false }

func (diskUsageType) ValidateConfig(config []byte) error {
	cfg, err := requireJSON(config)
	if err != nil {
		return err
	}
	path := cfg.Get("path")
	if path.Type != gjson.String || path.String() == "" {
		return fmt.Errorf("config.path (string) is required")
	}
	th := cfg.Get("threshold")
	if !th.Exists() {
		return fmt.Errorf("config.threshold (percent) is required")
	}
	if th.Int() < 1 || th.Int() > 100 {
		return fmt.Errorf("config.threshold must be in [1, 100]")
	}
	return nil
}
