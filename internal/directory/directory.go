// Package directory adapts the external hierarchical directory that holds
// users, probes and probe groups. Entries are addressed by distinguished
// names built deterministically from entity UUIDs.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-ldap/ldap/v3"

	"github.com/joshwilsdon-forks/sdc-amon/pkg/logger"
)

// ErrNotFound reports a clean miss: the addressed entry does not exist.
var ErrNotFound = errors.New("directory: entry not found")

// Scope selects how far below the base DN a search descends.
type Scope int

const (
	ScopeBase Scope = iota
	ScopeOne
	ScopeSub
)

// Entry is a directory entry: a DN plus multi-valued attributes.
type Entry struct {
	DN         string
	Attributes map[string][]string
}

// Attr returns the first value of a named attribute, or "".
func (e *Entry) Attr(name string) string {
	if vals := e.Attributes[name]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// HasObjectClass reports whether the entry carries the given object class.
func (e *Entry) HasObjectClass(class string) bool {
	for _, v := range e.Attributes["objectclass"] {
		if v == class {
			return true
		}
	}
	return false
}

// Directory is the adapter contract the rest of the master consumes.
type Directory interface {
	Get(ctx context.Context, dn string) (*Entry, error)
	Search(ctx context.Context, baseDN, filter string, scope Scope) ([]*Entry, error)
	Put(ctx context.Context, dn string, attrs map[string][]string) error
	Del(ctx context.Context, dn string) error
}

// Config carries the directory endpoint and administrative bind.
type Config struct {
	URL      string
	BindDN   string
	Password string
}

// Client talks LDAP to the directory. The connection is bound once with
// administrative credentials at startup and re-bound after a connection or
// authentication failure.
type Client struct {
	cfg Config
	log *logger.Logger

	mu   sync.Mutex
	conn *ldap.Conn
}

var _ Directory = (*Client)(nil)

// NewClient connects and binds. The caller owns Close.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.NewDefault("directory")
	}
	c := &Client{cfg: cfg, log: log}
	if err := c.rebind(); err != nil {
		return nil, err
	}
	return c, nil
}

// Close shuts the underlying connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) rebind() error {
	conn, err := ldap.DialURL(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("directory dial %s: %w", c.cfg.URL, err)
	}
	if err := conn.Bind(c.cfg.BindDN, c.cfg.Password); err != nil {
		conn.Close()
		return fmt.Errorf("directory bind as %s: %w", c.cfg.BindDN, err)
	}
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *Client) current() *ldap.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// do runs op, re-binding once when the connection has gone stale or the
// server dropped our authentication.
func (c *Client) do(ctx context.Context, op func(conn *ldap.Conn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := op(c.current())
	if err == nil {
		return nil
	}
	if ldap.IsErrorWithCode(err, ldap.ErrorNetwork) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
		c.log.WithError(err).Warn("directory connection lost, re-binding")
		if rerr := c.rebind(); rerr != nil {
			return rerr
		}
		return op(c.current())
	}
	return err
}

// Get fetches a single entry by DN.
func (c *Client) Get(ctx context.Context, dn string) (*Entry, error) {
	entries, err := c.Search(ctx, dn, "(objectclass=*)", ScopeBase)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries[0], nil
}

// Search collects the result stream under baseDN and returns the complete
// list. A non-zero terminal status surfaces as an error.
func (c *Client) Search(ctx context.Context, baseDN, filter string, scope Scope) ([]*Entry, error) {
	var out []*Entry
	err := c.do(ctx, func(conn *ldap.Conn) error {
		req := ldap.NewSearchRequest(
			baseDN,
			ldapScope(scope),
			ldap.NeverDerefAliases,
			0, 0, false,
			filter,
			nil,
			nil,
		)
		res, err := conn.Search(req)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, raw := range res.Entries {
			out = append(out, fromLDAP(raw))
		}
		return nil
	})
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return out, nil
}

// Put writes an entry: add when absent, replace attributes when present.
func (c *Client) Put(ctx context.Context, dn string, attrs map[string][]string) error {
	err := c.do(ctx, func(conn *ldap.Conn) error {
		add := ldap.NewAddRequest(dn, nil)
		for _, name := range sortedKeys(attrs) {
			add.Attribute(name, attrs[name])
		}
		return conn.Add(add)
	})
	if err == nil {
		return nil
	}
	if !ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists) {
		return err
	}
	return c.do(ctx, func(conn *ldap.Conn) error {
		mod := ldap.NewModifyRequest(dn, nil)
		for _, name := range sortedKeys(attrs) {
			if name == "objectclass" {
				continue
			}
			mod.Replace(name, attrs[name])
		}
		return conn.Modify(mod)
	})
}

// Del removes an entry. Deleting an absent entry is not an error.
func (c *Client) Del(ctx context.Context, dn string) error {
	err := c.do(ctx, func(conn *ldap.Conn) error {
		return conn.Del(ldap.NewDelRequest(dn, nil))
	})
	if err != nil && ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
		return nil
	}
	return err
}

func ldapScope(s Scope) int {
	switch s {
	case ScopeOne:
		return ldap.ScopeSingleLevel
	case ScopeSub:
		return ldap.ScopeWholeSubtree
	default:
		return ldap.ScopeBaseObject
	}
}

func fromLDAP(raw *ldap.Entry) *Entry {
	attrs := make(map[string][]string, len(raw.Attributes))
	for _, a := range raw.Attributes {
		attrs[a.Name] = a.Values
	}
	return &Entry{DN: raw.DN, Attributes: attrs}
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
