package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joshwilsdon-forks/sdc-amon/internal/cache"
	"github.com/joshwilsdon-forks/sdc-amon/internal/directory"
	"github.com/joshwilsdon-forks/sdc-amon/internal/directory/dirtest"
)

const (
	bobUUID = "11111111-1111-4111-8111-111111111111"
	opUUID  = "22222222-2222-4222-8222-222222222222"
)

func seedUsers(t *testing.T) *dirtest.Memory {
	t.Helper()
	dir := dirtest.New()
	ctx := context.Background()

	if err := dir.Put(ctx, directory.UserDN(bobUUID), map[string][]string{
		"objectclass": {directory.ObjectClassUser},
		"uuid":        {bobUUID},
		"login":       {"bob"},
		"email":       {"bob@example.com"},
		"phone":       {"+15551234567"},
	}); err != nil {
		t.Fatalf("seed bob: %v", err)
	}
	if err := dir.Put(ctx, directory.UserDN(opUUID), map[string][]string{
		"objectclass": {directory.ObjectClassUser},
		"uuid":        {opUUID},
		"login":       {"opal"},
		"email":       {"opal@example.com"},
	}); err != nil {
		t.Fatalf("seed opal: %v", err)
	}
	if err := dir.Put(ctx, directory.OperatorsDN, map[string][]string{
		"objectclass":  {"groupofuniquenames"},
		"uniquemember": {directory.UserDN(opUUID)},
	}); err != nil {
		t.Fatalf("seed operators: %v", err)
	}
	return dir
}

func newResolver(dir directory.Directory) *Resolver {
	return NewResolver(dir, cache.New(cache.UserGet, 100, time.Minute, false), nil)
}

func TestValidLogin(t *testing.T) {
	valid := []string{"bob", "a1", "jane.doe", "x_y@z"}
	for _, s := range valid {
		if !ValidLogin(s) {
			t.Errorf("ValidLogin(%q) = false, want true", s)
		}
	}
	invalid := []string{"", "b", "1bob", "_bob", "bo b", "bob!"}
	for _, s := range invalid {
		if ValidLogin(s) {
			t.Errorf("ValidLogin(%q) = true, want false", s)
		}
	}
}

func TestResolveByUUIDAndLogin(t *testing.T) {
	r := newResolver(seedUsers(t))
	ctx := context.Background()

	byUUID, err := r.Resolve(ctx, bobUUID)
	if err != nil {
		t.Fatalf("resolve by uuid: %v", err)
	}
	if byUUID == nil || byUUID.Login != "bob" {
		t.Fatalf("resolve by uuid = %+v, want bob", byUUID)
	}

	byLogin, err := r.Resolve(ctx, "bob")
	if err != nil {
		t.Fatalf("resolve by login: %v", err)
	}
	if byLogin == nil || byLogin.UUID != bobUUID {
		t.Fatalf("resolve by login = %+v, want %s", byLogin, bobUUID)
	}
	if byLogin.ContactAttr("phone") != "+15551234567" {
		t.Fatalf("phone attr = %q", byLogin.ContactAttr("phone"))
	}
}

func TestResolveOperatorFlag(t *testing.T) {
	r := newResolver(seedUsers(t))
	ctx := context.Background()

	op, err := r.Resolve(ctx, opUUID)
	if err != nil {
		t.Fatalf("resolve operator: %v", err)
	}
	if !op.Operator {
		t.Fatal("opal should be an operator")
	}

	bob, err := r.Resolve(ctx, bobUUID)
	if err != nil {
		t.Fatalf("resolve bob: %v", err)
	}
	if bob.Operator {
		t.Fatal("bob should not be an operator")
	}
}

func TestResolveMalformedSkipsLookup(t *testing.T) {
	dir := seedUsers(t)
	dir.Err = errors.New("directory should not be queried")
	r := newResolver(dir)

	user, err := r.Resolve(context.Background(), "1notalogin")
	if err != nil {
		t.Fatalf("malformed identifier should not error: %v", err)
	}
	if user != nil {
		t.Fatalf("malformed identifier resolved to %+v", user)
	}
}

func TestResolveMemoizesBothKeys(t *testing.T) {
	dir := seedUsers(t)
	r := newResolver(dir)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, "bob"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	// Break the directory; both keys must now serve from cache.
	dir.Err = errors.New("directory down")
	byUUID, err := r.Resolve(ctx, bobUUID)
	if err != nil || byUUID == nil {
		t.Fatalf("uuid key not memoized: (%+v, %v)", byUUID, err)
	}
	byLogin, err := r.Resolve(ctx, "bob")
	if err != nil || byLogin == nil {
		t.Fatalf("login key not memoized: (%+v, %v)", byLogin, err)
	}
}

func TestResolveNegativeAndErrorCaching(t *testing.T) {
	dir := seedUsers(t)
	r := newResolver(dir)
	ctx := context.Background()

	missing := "33333333-3333-4333-8333-333333333333"
	user, err := r.Resolve(ctx, missing)
	if user != nil || err != nil {
		t.Fatalf("expected clean miss, got (%+v, %v)", user, err)
	}
	// The miss is cached: a directory outage must not surface.
	dir.Err = errors.New("directory down")
	if user, err = r.Resolve(ctx, missing); user != nil || err != nil {
		t.Fatalf("negative result not cached: (%+v, %v)", user, err)
	}

	// A fresh failing key caches the error.
	other := "44444444-4444-4444-8444-444444444444"
	if _, err = r.Resolve(ctx, other); err == nil {
		t.Fatal("expected lookup failure")
	}
	dir.Err = nil
	if _, err = r.Resolve(ctx, other); err == nil {
		t.Fatal("lookup error should be served from cache")
	}
}
