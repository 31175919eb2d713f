package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestCacheHitAndMiss(t *testing.T) {
	c := New("test", 10, time.Minute, false)

	if _, ok := c.Get("absent"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set("k", "v")
	got, ok := c.Get("k")
	if !ok || got.(string) != "v" {
		t.Fatalf("Get = (%v, %v), want (v, true)", got, ok)
	}
}

func TestCacheNegativeResult(t *testing.T) {
	c := New("test", 10, time.Minute, false)

	c.Set("missing-entity", nil)
	got, ok := c.Get("missing-entity")
	if !ok {
		t.Fatal("negative result should be a hit")
	}
	if got != nil {
		t.Fatalf("negative result value = %v, want nil", got)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := New("test", 10, 10*time.Millisecond, false)

	c.Set("k", "v")
	time.Sleep(25 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c := New("test", 2, time.Minute, false)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	if _, ok := c.Get("a"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("newest entry should be present")
	}
}

func TestCacheUnbounded(t *testing.T) {
	c := New("test", 0, time.Minute, false)
	for i := 0; i < 5000; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	if c.Len() != 5000 {
		t.Fatalf("Len = %d, want 5000", c.Len())
	}
}

func TestCacheDisabledSentinel(t *testing.T) {
	c := New("test", 10, time.Minute, true)

	c.Set("k", "v")
	if _, ok := c.Get("k"); ok {
		t.Fatal("disabled cache must always miss")
	}
	if c.Len() != 0 {
		t.Fatalf("disabled cache Len = %d, want 0", c.Len())
	}
}

func TestCacheDelAndReset(t *testing.T) {
	c := New("test", 10, time.Minute, false)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Del("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("deleted entry should miss")
	}
	c.Reset()
	if _, ok := c.Get("b"); ok {
		t.Fatal("reset cache should miss")
	}
}

func TestInvalidateProbeClearsListAndAgent(t *testing.T) {
	def := Sizing{Capacity: 10, TTL: time.Minute}
	cs := NewCaches(nil, def, false)

	cs.ProbeL.Set("user-1", []string{"p1"})
	cs.ProbeG.Set("dn-1", "probe")
	cs.ProbeG.Set("dn-2", "other")
	cs.AgentProbeC.Set("agent-1", "manifest")
	cs.AgentProbeC.Set("agent-2", "manifest")

	cs.InvalidateProbe("dn-1", "agent-1")

	if _, ok := cs.ProbeL.Get("user-1"); ok {
		t.Fatal("probe list should be cleared entirely")
	}
	if _, ok := cs.ProbeG.Get("dn-1"); ok {
		t.Fatal("probe get entry should be removed")
	}
	if _, ok := cs.ProbeG.Get("dn-2"); !ok {
		t.Fatal("unrelated probe get entry should survive")
	}
	if _, ok := cs.AgentProbeC.Get("agent-1"); ok {
		t.Fatal("agent manifest should be invalidated")
	}
	if _, ok := cs.AgentProbeC.Get("agent-2"); !ok {
		t.Fatal("unrelated agent manifest should survive")
	}
}
