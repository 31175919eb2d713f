// Package contact resolves contact URNs into deliverable addresses by
// looking up attributes on a user record.
package contact

import (
	"strings"

	"github.com/joshwilsdon-forks/sdc-amon/internal/account"
	"github.com/joshwilsdon-forks/sdc-amon/internal/httputil"
	"github.com/joshwilsdon-forks/sdc-amon/internal/notification"
)

// Contact is a resolved (medium, address) pair. Address is empty when the
// user record has no value for the named attribute; callers raise a config
// alarm to the probe owner in that case.
type Contact struct {
	URN     string
	Medium  string
	Address string
}

// ParseURN splits a contact URN of the form "<medium>" or
// "<medium>:<sub-key>" into the attribute name and the optional sub-key.
func ParseURN(urn string) (attrName, subKey string) {
	if i := strings.IndexByte(urn, ':'); i >= 0 {
		return urn[:i], urn[i+1:]
	}
	return urn, ""
}

// Resolve reads the URN's attribute off the user record and derives the
// notification medium by asking each registered plugin; the first acceptor
// wins. No acceptor is an invalid-argument failure.
func Resolve(user *account.User, urn string, plugins *notification.Registry) (*Contact, error) {
	attrName, subKey := ParseURN(urn)
	if attrName == "" {
		return nil, httputil.InvalidArgumentError("empty contact urn")
	}

	medium, ok := plugins.MediumFor(attrName)
	if !ok {
		return nil, httputil.InvalidArgumentError("no notification plugin accepts contact %q", urn)
	}

	address := user.ContactAttr(attrName)
	if address != "" && subKey != "" {
		address = pickSubKey(address, subKey)
	}
	if attrName == "email" && address == "" {
		address = user.Email
	}
	return &Contact{URN: urn, Medium: medium, Address: address}, nil
}

// pickSubKey selects one entry from a multi-valued attribute stored as
// "key1=val1;key2=val2". A plain value ignores the sub-key.
func pickSubKey(value, subKey string) string {
	if !strings.Contains(value, "=") {
		return value
	}
	for _, part := range strings.Split(value, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 && kv[0] == subKey {
			return kv[1]
		}
	}
	return ""
}
