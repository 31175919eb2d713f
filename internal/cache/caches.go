package cache

import "time"

// Standard cache names. Each entity kind has a List cache (cleared whole on
// any write of that kind) and a Get cache (invalidated per DN).
const (
	UserGet       = "UserGet"
	ProbeList     = "ProbeList"
	ProbeGet      = "ProbeGet"
	ProbeGroupGet = "ProbeGroupGet"
	ProbeGroupAll = "ProbeGroupList"
	AgentProbes   = "AgentProbes"
)

// Sizing describes a cache's bound and TTL as provided by configuration.
type Sizing struct {
	Capacity int
	TTL      time.Duration
}

// Caches bundles the master's named caches and enforces the write-time
// invalidation rules in one place.
type Caches struct {
	User        *Cache
	ProbeL      *Cache
	ProbeG      *Cache
	GroupL      *Cache
	GroupG      *Cache
	AgentProbeC *Cache
}

// NewCaches builds all named caches. sizing maps a cache name to its
// configured bound; missing names fall back to def. The AgentProbes cache
// is always unbounded per the relay polling contract.
func NewCaches(sizing map[string]Sizing, def Sizing, disabled bool) *Caches {
	mk := func(name string, forceUnbounded bool) *Cache {
		s, ok := sizing[name]
		if !ok {
			s = def
		}
		capacity := s.Capacity
		if forceUnbounded {
			capacity = 0
		}
		return New(name, capacity, s.TTL, disabled)
	}
	return &Caches{
		User:        mk(UserGet, false),
		ProbeL:      mk(ProbeList, false),
		ProbeG:      mk(ProbeGet, false),
		GroupL:      mk(ProbeGroupAll, false),
		GroupG:      mk(ProbeGroupGet, false),
		AgentProbeC: mk(AgentProbes, true),
	}
}

// InvalidateProbe applies the probe write/delete rule: the probe list cache
// is cleared whole, the per-DN entry is dropped, and the agent manifest for
// every touched agent is forgotten.
func (c *Caches) InvalidateProbe(dn string, agentUUIDs ...string) {
	c.ProbeL.Reset()
	c.ProbeG.Del(dn)
	for _, agent := range agentUUIDs {
		if agent != "" {
			c.AgentProbeC.Del(agent)
		}
	}
}

// InvalidateProbeGroup applies the probe-group write/delete rule.
func (c *Caches) InvalidateProbeGroup(dn string) {
	c.GroupL.Reset()
	c.GroupG.Del(dn)
}
