package maintenance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/joshwilsdon-forks/sdc-amon/internal/database"
)

const userUUID = "11111111-1111-4111-8111-111111111111"

func newEngine(t *testing.T) (*Engine, *database.KV) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv := database.NewFromClient(client, nil)
	t.Cleanup(func() { kv.Close() })
	e := NewEngine(kv, nil, nil)
	t.Cleanup(e.Stop)
	return e, kv
}

func allScopeWindow(start, end int64) *Window {
	return &Window{User: userUUID, Start: start, End: end, All: true}
}

func TestCreateAssignsStrictlyIncreasingIDs(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 3; i++ {
		w := allScopeWindow(1_000_000, 4_600_000)
		if err := e.Create(ctx, w); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if w.ID <= last {
			t.Fatalf("id %d not strictly increasing after %d", w.ID, last)
		}
		last = w.ID
	}
	if last != 3 {
		t.Fatalf("final id = %d, want 3", last)
	}
}

func TestCreateWritesAllThreeStructures(t *testing.T) {
	e, kv := newEngine(t)
	ctx := context.Background()

	w := allScopeWindow(1_000_000, 4_600_000)
	if err := e.Create(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}

	ids, err := kv.SMembers(ctx, userSetKey(userUUID))
	if err != nil || len(ids) != 1 || ids[0] != "1" {
		t.Fatalf("set members = (%v, %v), want [1]", ids, err)
	}
	members, err := kv.ZRangeWithScores(ctx, byEndKey, 0, -1)
	if err != nil || len(members) != 1 {
		t.Fatalf("index members = (%v, %v)", members, err)
	}
	if members[0].Member != w.Key() || int64(members[0].Score) != 4_600_000 {
		t.Fatalf("index entry = %+v, want (%s, 4600000)", members[0], w.Key())
	}
	h, err := kv.HGetAll(ctx, w.Key())
	if err != nil || len(h) == 0 {
		t.Fatalf("hash = (%v, %v), want non-empty", h, err)
	}
}

func TestDeleteRemovesAllThreeStructures(t *testing.T) {
	e, kv := newEngine(t)
	ctx := context.Background()

	w := allScopeWindow(1_000_000, 4_600_000)
	if err := e.Create(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}
	deleted, err := e.Delete(ctx, userUUID, w.ID)
	if err != nil || !deleted {
		t.Fatalf("delete = (%v, %v), want (true, nil)", deleted, err)
	}

	if ids, _ := kv.SMembers(ctx, userSetKey(userUUID)); len(ids) != 0 {
		t.Fatalf("set still has %v", ids)
	}
	if members, _ := kv.ZRange(ctx, byEndKey, 0, -1); len(members) != 0 {
		t.Fatalf("index still has %v", members)
	}
	if h, _ := kv.HGetAll(ctx, w.Key()); len(h) != 0 {
		t.Fatalf("hash still has %v", h)
	}

	// Deleting again observes the same absent state.
	deleted, err = e.Delete(ctx, userUUID, w.ID)
	if err != nil || deleted {
		t.Fatalf("second delete = (%v, %v), want (false, nil)", deleted, err)
	}
}

func TestDeletedIDsNeverRecur(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	w := allScopeWindow(1_000_000, 4_600_000)
	if err := e.Create(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.Delete(ctx, userUUID, w.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	current, err := e.CurrentID(ctx, userUUID)
	if err != nil {
		t.Fatalf("current id: %v", err)
	}
	if current != 1 {
		t.Fatalf("counter = %d, want 1 after delete", current)
	}

	w2 := allScopeWindow(1_000_000, 4_600_000)
	if err := e.Create(ctx, w2); err != nil {
		t.Fatalf("second create: %v", err)
	}
	if w2.ID != 2 {
		t.Fatalf("id %d reused after delete, want 2", w2.ID)
	}
}

func TestListParallelAndSorted(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := e.Create(ctx, allScopeWindow(1_000_000, int64(4_600_000+i))); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	windows, err := e.List(ctx, userUUID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(windows) != 4 {
		t.Fatalf("list returned %d windows, want 4", len(windows))
	}
	for i, w := range windows {
		if w.ID != int64(i+1) {
			t.Fatalf("windows not sorted by id: %+v", windows)
		}
	}
}

func TestListHealsBogusRecord(t *testing.T) {
	e, kv := newEngine(t)
	ctx := context.Background()

	if err := e.Create(ctx, allScopeWindow(1_000_000, 4_600_000)); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Corrupt a second record: id issued, hash present but scope-less.
	if err := kv.SAdd(ctx, userSetKey(userUUID), 2); err != nil {
		t.Fatalf("sadd: %v", err)
	}
	key := WindowKey(userUUID, 2)
	if err := kv.ZAdd(ctx, byEndKey, 5_000_000, key); err != nil {
		t.Fatalf("zadd: %v", err)
	}
	if err := kv.HSet(ctx, key, "id", "2", "user", userUUID, "start", "1", "end", "2"); err != nil {
		t.Fatalf("hset: %v", err)
	}

	windows, err := e.List(ctx, userUUID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(windows) != 1 || windows[0].ID != 1 {
		t.Fatalf("bogus record not dropped: %+v", windows)
	}

	// The heal runs in the background and removes the dangling state.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h, _ := kv.HGetAll(ctx, key)
		if len(h) == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("bogus record was not healed")
}

func TestIsEventInMaintenance(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	probeUUID := "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"
	groupUUID := "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb"
	machine := "cccccccc-cccc-4ccc-8ccc-cccccccccccc"

	byProbe := &Window{User: userUUID, Start: 1_000, End: 2_000, Probes: []string{probeUUID}}
	if err := e.Create(ctx, byProbe); err != nil {
		t.Fatalf("create: %v", err)
	}
	byMachine := &Window{User: userUUID, Start: 5_000, End: 6_000, Machines: []string{machine}}
	if err := e.Create(ctx, byMachine); err != nil {
		t.Fatalf("create: %v", err)
	}

	w, err := e.IsEventInMaintenance(ctx, userUUID, 1_500, probeUUID, "", "")
	if err != nil || w == nil || w.ID != byProbe.ID {
		t.Fatalf("probe-scoped match = (%+v, %v)", w, err)
	}
	w, err = e.IsEventInMaintenance(ctx, userUUID, 5_500, "", "", machine)
	if err != nil || w == nil || w.ID != byMachine.ID {
		t.Fatalf("machine-scoped match = (%+v, %v)", w, err)
	}
	// Group scope does not match a probe window.
	w, err = e.IsEventInMaintenance(ctx, userUUID, 1_500, "", groupUUID, "")
	if err != nil || w != nil {
		t.Fatalf("unexpected match = (%+v, %v)", w, err)
	}
	// Bounds are strict.
	if w, _ = e.IsEventInMaintenance(ctx, userUUID, 1_000, probeUUID, "", ""); w != nil {
		t.Fatal("event at start must not match")
	}
	if w, _ = e.IsEventInMaintenance(ctx, userUUID, 2_000, probeUUID, "", ""); w != nil {
		t.Fatal("event at end must not match")
	}
}

func TestReaperExpiresWindow(t *testing.T) {
	e, kv := newEngine(t)
	ctx := context.Background()

	var mu sync.Mutex
	var ended []*Window
	e.SetEndHook(func(ctx context.Context, w *Window) {
		mu.Lock()
		ended = append(ended, w)
		mu.Unlock()
	})

	now := time.Now().UnixMilli()
	w := allScopeWindow(now-1_000, now+300)
	if err := e.Create(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		h, _ := kv.HGetAll(ctx, w.Key())
		if len(h) == 0 {
			mu.Lock()
			n := len(ended)
			mu.Unlock()
			if n != 1 {
				t.Fatalf("end hook ran %d times, want 1", n)
			}
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("reaper did not expire the window")
}
