package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/joshwilsdon-forks/sdc-amon/internal/account"
	"github.com/joshwilsdon-forks/sdc-amon/internal/cache"
	"github.com/joshwilsdon-forks/sdc-amon/internal/database"
	"github.com/joshwilsdon-forks/sdc-amon/internal/directory"
	"github.com/joshwilsdon-forks/sdc-amon/internal/directory/dirtest"
	"github.com/joshwilsdon-forks/sdc-amon/internal/httputil"
	"github.com/joshwilsdon-forks/sdc-amon/internal/maintenance"
	"github.com/joshwilsdon-forks/sdc-amon/internal/notification"
	"github.com/joshwilsdon-forks/sdc-amon/internal/probe"
	"github.com/joshwilsdon-forks/sdc-amon/internal/vmapi"
)

const (
	ownerUUID   = "11111111-1111-4111-8111-111111111111"
	machineUUID = "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb"
	eventUUID   = "dddddddd-dddd-4ddd-8ddd-dddddddddddd"
)

// recorder is a notification plugin that records deliveries.
type recorder struct {
	accepts string
	fail    bool

	mu    sync.Mutex
	calls []string
}

func (r *recorder) AcceptsMedium(attr string) bool { return attr == r.accepts }

func (r *recorder) Notify(ctx context.Context, probeName, address, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("delivery failed")
	}
	r.calls = append(r.calls, address)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fakeVMs struct{}

func (fakeVMs) GetVM(ctx context.Context, vmUUID string) (*vmapi.VM, error) {
	return &vmapi.VM{UUID: vmUUID, OwnerUUID: ownerUUID, ServerUUID: vmUUID}, nil
}

type fakeServers struct{}

func (fakeServers) ServerExists(ctx context.Context, serverUUID string) (bool, error) {
	return false, nil
}

type fixture struct {
	router *Router
	probes *probe.Service
	maint  *maintenance.Engine
	email  *recorder
	sms    *recorder
	owner  *account.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := dirtest.New()
	ctx := context.Background()
	if err := dir.Put(ctx, directory.UserDN(ownerUUID), map[string][]string{
		"objectclass": {directory.ObjectClassUser},
		"uuid":        {ownerUUID},
		"login":       {"bob"},
		"email":       {"bob@example.com"},
		"phone":       {"+15550001111"},
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	caches := cache.NewCaches(nil, cache.Sizing{Capacity: 100, TTL: time.Minute}, false)
	users := account.NewResolver(dir, caches.User, nil)
	probes := probe.NewService(dir, probe.DefaultRegistry(), caches, fakeVMs{}, fakeServers{}, "", nil)

	mr := miniredis.RunT(t)
	kv := database.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil)
	t.Cleanup(func() { kv.Close() })
	maint := maintenance.NewEngine(kv, nil, nil)
	t.Cleanup(maint.Stop)

	email := &recorder{accepts: "email"}
	sms := &recorder{accepts: "phone"}
	plugins := notification.NewRegistry()
	plugins.Register("email", email)
	plugins.Register("sms", sms)

	r := New(probes, maint, users, plugins, nil)
	maint.SetEndHook(r.HandleMaintenanceEnd)
	return &fixture{
		router: r,
		probes: probes,
		maint:  maint,
		email:  email,
		sms:    sms,
		owner:  &account.User{UUID: ownerUUID, Login: "bob"},
	}
}

func (f *fixture) seedProbe(t *testing.T, contacts []string) *probe.Probe {
	t.Helper()
	p := &probe.Probe{
		User:     ownerUUID,
		Type:     "log-scan",
		Agent:    machineUUID,
		Machine:  machineUUID,
		Name:     "app errors",
		Contacts: contacts,
		Config:   json.RawMessage(`{"path":"/var/log/app.log","regex":"ERROR"}`),
	}
	if err := f.probes.Put(context.Background(), f.owner, p, false); err != nil {
		t.Fatalf("seed probe: %v", err)
	}
	return p
}

func event(probeUUID string, at int64) Event {
	return Event{
		UUID:      eventUUID,
		Version:   1,
		User:      ownerUUID,
		Time:      at,
		Machine:   machineUUID,
		ProbeUUID: probeUUID,
		Type:      "probe",
		Status:    "error",
	}
}

func TestProcessEventNotifiesContacts(t *testing.T) {
	f := newFixture(t)
	p := f.seedProbe(t, []string{"email", "phone"})

	err := f.router.ProcessEvents(context.Background(), []Event{event(p.UUID, 2_000_000)})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.email.count() != 1 || f.sms.count() != 1 {
		t.Fatalf("notifications = (email %d, sms %d), want (1, 1)", f.email.count(), f.sms.count())
	}
}

func TestProcessEventSuppressedByMaintenance(t *testing.T) {
	f := newFixture(t)
	p := f.seedProbe(t, []string{"email"})

	win := &maintenance.Window{User: ownerUUID, Start: 1_000_000, End: 4_600_000, All: true}
	if err := f.maint.Create(context.Background(), win); err != nil {
		t.Fatalf("create window: %v", err)
	}

	err := f.router.ProcessEvents(context.Background(), []Event{event(p.UUID, 2_000_000)})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.email.count() != 0 {
		t.Fatalf("suppressed event produced %d notifications", f.email.count())
	}

	// Remove the window and the same event notifies.
	if _, err := f.maint.Delete(context.Background(), ownerUUID, win.ID); err != nil {
		t.Fatalf("delete window: %v", err)
	}
	if err := f.router.ProcessEvents(context.Background(), []Event{event(p.UUID, 2_000_000)}); err != nil {
		t.Fatalf("process after delete: %v", err)
	}
	if f.email.count() != 1 {
		t.Fatalf("post-maintenance event produced %d notifications, want 1", f.email.count())
	}
}

func TestProcessEventDeduplicatesGroupContacts(t *testing.T) {
	f := newFixture(t)
	g := &probe.Group{User: ownerUUID, Name: "web", Contacts: []string{"email", "phone"}}
	if err := f.probes.PutGroup(context.Background(), f.owner, g); err != nil {
		t.Fatalf("put group: %v", err)
	}
	p := &probe.Probe{
		User:     ownerUUID,
		Type:     "log-scan",
		Agent:    machineUUID,
		Machine:  machineUUID,
		Group:    g.UUID,
		Contacts: []string{"email"},
		Config:   json.RawMessage(`{"path":"/var/log/app.log","regex":"ERROR"}`),
	}
	if err := f.probes.Put(context.Background(), f.owner, p, false); err != nil {
		t.Fatalf("put probe: %v", err)
	}

	if err := f.router.ProcessEvents(context.Background(), []Event{event(p.UUID, 2_000_000)}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.email.count() != 1 {
		t.Fatalf("email notified %d times, want 1 (deduplicated)", f.email.count())
	}
	if f.sms.count() != 1 {
		t.Fatalf("sms notified %d times, want 1 (inherited from group)", f.sms.count())
	}
}

func TestProcessEventUnknownProbeFails(t *testing.T) {
	f := newFixture(t)

	err := f.router.ProcessEvents(context.Background(), []Event{event("eeeeeeee-eeee-4eee-8eee-eeeeeeeeeeee", 2_000_000)})
	if err == nil {
		t.Fatal("unknown probe should fail the event")
	}
	rerr := httputil.AsRestError(err)
	if rerr.Code != "ResourceNotFound" {
		t.Fatalf("code = %s, want ResourceNotFound", rerr.Code)
	}
}

func TestProcessEventsCollectsIndependentFailures(t *testing.T) {
	f := newFixture(t)
	p := f.seedProbe(t, []string{"email"})

	bad := event("eeeeeeee-eeee-4eee-8eee-eeeeeeeeeeee", 2_000_000)
	good := event(p.UUID, 2_000_000)
	worse := Event{UUID: "not-a-uuid", Version: 1, User: ownerUUID, Time: 1, Type: "probe", Status: "ok", ProbeUUID: p.UUID}

	err := f.router.ProcessEvents(context.Background(), []Event{bad, good, worse})
	if err == nil {
		t.Fatal("expected aggregated failure")
	}
	rerr := httputil.AsRestError(err)
	if rerr.Code != "MultiError" {
		t.Fatalf("code = %s, want MultiError", rerr.Code)
	}
	// The healthy sibling still notified.
	if f.email.count() != 1 {
		t.Fatalf("good event notified %d times, want 1", f.email.count())
	}
}

func TestPluginFailureAbsorbed(t *testing.T) {
	f := newFixture(t)
	f.email.fail = true
	p := f.seedProbe(t, []string{"email"})

	if err := f.router.ProcessEvents(context.Background(), []Event{event(p.UUID, 2_000_000)}); err != nil {
		t.Fatalf("plugin failure must not fail the event: %v", err)
	}
}

func TestConfigAlarmOnMissingAddress(t *testing.T) {
	f := newFixture(t)
	// "pager" is not accepted by any plugin: resolution fails, the owner
	// gets a config alarm over email instead.
	p := f.seedProbe(t, []string{"pager"})

	if err := f.router.ProcessEvents(context.Background(), []Event{event(p.UUID, 2_000_000)}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.email.count() != 1 {
		t.Fatalf("config alarm emails = %d, want 1", f.email.count())
	}
}
