package contact

import (
	"context"
	"testing"

	"github.com/joshwilsdon-forks/sdc-amon/internal/account"
	"github.com/joshwilsdon-forks/sdc-amon/internal/notification"
)

type acceptPrefix struct{ prefix string }

func (a acceptPrefix) AcceptsMedium(attr string) bool {
	return len(attr) >= len(a.prefix) && attr[:len(a.prefix)] == a.prefix
}

func (a acceptPrefix) Notify(ctx context.Context, probeName, address, message string) error {
	return nil
}

func testRegistry() *notification.Registry {
	reg := notification.NewRegistry()
	reg.Register("email", acceptPrefix{prefix: "email"})
	reg.Register("sms", acceptPrefix{prefix: "phone"})
	reg.Register("webhook", acceptPrefix{prefix: "webhook"})
	return reg
}

func testUser() *account.User {
	return &account.User{
		UUID:  "11111111-1111-4111-8111-111111111111",
		Login: "bob",
		Email: "bob@example.com",
		ContactAttrs: map[string]string{
			"phone":   "work=+15550001111;home=+15550002222",
			"webhook": "https://hooks.example.com/bob",
		},
	}
}

func TestParseURN(t *testing.T) {
	attr, sub := ParseURN("email")
	if attr != "email" || sub != "" {
		t.Fatalf("ParseURN(email) = (%s, %s)", attr, sub)
	}
	attr, sub = ParseURN("phone:work")
	if attr != "phone" || sub != "work" {
		t.Fatalf("ParseURN(phone:work) = (%s, %s)", attr, sub)
	}
}

func TestResolveEmail(t *testing.T) {
	c, err := Resolve(testUser(), "email", testRegistry())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if c.Medium != "email" || c.Address != "bob@example.com" {
		t.Fatalf("contact = %+v", c)
	}
}

func TestResolveSubKey(t *testing.T) {
	c, err := Resolve(testUser(), "phone:home", testRegistry())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if c.Medium != "sms" || c.Address != "+15550002222" {
		t.Fatalf("contact = %+v", c)
	}

	c, err = Resolve(testUser(), "phone:pager", testRegistry())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if c.Address != "" {
		t.Fatalf("unknown sub-key resolved address %q", c.Address)
	}
}

func TestResolveMissingAttribute(t *testing.T) {
	user := testUser()
	delete(user.ContactAttrs, "webhook")
	c, err := Resolve(user, "webhook", testRegistry())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if c.Address != "" {
		t.Fatalf("missing attribute resolved address %q", c.Address)
	}
	if c.Medium != "webhook" {
		t.Fatalf("medium = %q", c.Medium)
	}
}

func TestResolveNoAcceptor(t *testing.T) {
	if _, err := Resolve(testUser(), "carrierpigeon", testRegistry()); err == nil {
		t.Fatal("unaccepted medium should fail")
	}
}

func TestMediumDeterministic(t *testing.T) {
	reg := testRegistry()
	first, _ := reg.MediumFor("phone")
	for i := 0; i < 10; i++ {
		got, ok := reg.MediumFor("phone")
		if !ok || got != first {
			t.Fatalf("MediumFor changed: %s -> %s", first, got)
		}
	}
}
