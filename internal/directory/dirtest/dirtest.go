// Package dirtest provides an in-memory Directory for tests.
package dirtest

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/joshwilsdon-forks/sdc-amon/internal/directory"
)

// Memory is a Directory backed by a map. The filter matcher understands
// the equality and AND filters the master issues.
type Memory struct {
	mu      sync.Mutex
	entries map[string]map[string][]string

	// Err, when set, is returned by every operation.
	Err error
}

var _ directory.Directory = (*Memory)(nil)

// New creates an empty in-memory directory.
func New() *Memory {
	return &Memory{entries: make(map[string]map[string][]string)}
}

// Get implements Directory.
func (m *Memory) Get(ctx context.Context, dn string) (*directory.Entry, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	attrs, ok := m.entries[normDN(dn)]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return &directory.Entry{DN: dn, Attributes: copyAttrs(attrs)}, nil
}

// Search implements Directory.
func (m *Memory) Search(ctx context.Context, baseDN, filter string, scope directory.Scope) ([]*directory.Entry, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	conds, err := parseFilter(filter)
	if err != nil {
		return nil, err
	}
	base := normDN(baseDN)

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*directory.Entry
	for dn, attrs := range m.entries {
		if !inScope(dn, base, scope) {
			continue
		}
		if matches(attrs, conds) {
			out = append(out, &directory.Entry{DN: dn, Attributes: copyAttrs(attrs)})
		}
	}
	return out, nil
}

// Put implements Directory.
func (m *Memory) Put(ctx context.Context, dn string, attrs map[string][]string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[normDN(dn)] = copyAttrs(attrs)
	return nil
}

// Del implements Directory.
func (m *Memory) Del(ctx context.Context, dn string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, normDN(dn))
	return nil
}

// Len returns the entry count.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func normDN(dn string) string {
	parts := strings.Split(dn, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return strings.ToLower(strings.Join(parts, ","))
}

func inScope(dn, base string, scope directory.Scope) bool {
	switch scope {
	case directory.ScopeBase:
		return dn == base
	case directory.ScopeOne:
		i := strings.Index(dn, ",")
		return i > 0 && dn[i+1:] == base
	default:
		return dn == base || strings.HasSuffix(dn, ","+base)
	}
}

var condRe = regexp.MustCompile(`\(([a-zA-Z0-9]+)=([^()]*)\)`)

type cond struct{ name, value string }

func parseFilter(filter string) ([]cond, error) {
	ms := condRe.FindAllStringSubmatch(filter, -1)
	conds := make([]cond, 0, len(ms))
	for _, m := range ms {
		conds = append(conds, cond{name: strings.ToLower(m[1]), value: m[2]})
	}
	return conds, nil
}

func matches(attrs map[string][]string, conds []cond) bool {
	for _, c := range conds {
		if c.value == "*" {
			continue
		}
		found := false
		for name, vals := range attrs {
			if strings.ToLower(name) != c.name {
				continue
			}
			for _, v := range vals {
				if v == c.value {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func copyAttrs(attrs map[string][]string) map[string][]string {
	out := make(map[string][]string, len(attrs))
	for k, v := range attrs {
		out[k] = append([]string(nil), v...)
	}
	return out
}
