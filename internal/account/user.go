// Package account resolves users from the external directory. Users are
// never created by the master; the directory is the source of truth.
package account

import (
	"github.com/joshwilsdon-forks/sdc-amon/internal/directory"
)

// User is a directory person. ContactAttrs carries every extra single
// attribute on the entry so contact URNs can be resolved against it.
type User struct {
	UUID         string `json:"uuid"`
	Login        string `json:"login"`
	Email        string `json:"email"`
	FirstName    string `json:"firstName,omitempty"`
	LastName     string `json:"lastName,omitempty"`
	Operator     bool   `json:"-"`
	ContactAttrs map[string]string `json:"-"`
}

// ContactAttr returns the value of a named contact attribute, or "".
func (u *User) ContactAttr(name string) string {
	return u.ContactAttrs[name]
}

// wellKnown attributes are kept out of ContactAttrs; every other attribute,
// email included, lands there.
var wellKnown = map[string]bool{
	"objectclass": true,
	"uuid":        true,
	"login":       true,
	"cn":          true,
	"sn":          true,
	"userpassword": true,
	"memberof":    true,
	"dn":          true,
}

// UserFromEntry builds a User from an sdcperson directory entry.
func UserFromEntry(e *directory.Entry) *User {
	u := &User{
		UUID:         e.Attr("uuid"),
		Login:        e.Attr("login"),
		Email:        e.Attr("email"),
		FirstName:    e.Attr("cn"),
		LastName:     e.Attr("sn"),
		ContactAttrs: make(map[string]string),
	}
	for name, vals := range e.Attributes {
		if wellKnown[name] || len(vals) == 0 {
			continue
		}
		u.ContactAttrs[name] = vals[0]
	}
	return u
}
