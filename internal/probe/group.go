package probe

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/joshwilsdon-forks/sdc-amon/internal/directory"
	"github.com/joshwilsdon-forks/sdc-amon/internal/httputil"
)

// Group is a named collection of probes sharing contacts. A probe that
// references a group inherits the group's contacts.
type Group struct {
	UUID     string   `json:"uuid"`
	User     string   `json:"user"`
	Name     string   `json:"name"`
	Contacts []string `json:"contacts,omitempty"`
	Disabled bool     `json:"disabled"`
}

// DN returns the group's directory address.
func (g *Group) DN() string {
	return directory.ProbeGroupDN(g.User, g.UUID)
}

// Validate checks the group fields.
func (g *Group) Validate() error {
	if g.User == "" {
		return httputil.MissingParameterError("user is required")
	}
	if _, err := uuid.Parse(g.User); err != nil {
		return httputil.InvalidArgumentError("user %q is not a UUID", g.User)
	}
	if g.UUID != "" {
		if _, err := uuid.Parse(g.UUID); err != nil {
			return httputil.InvalidArgumentError("uuid %q is not a UUID", g.UUID)
		}
	}
	if g.Name == "" {
		return httputil.MissingParameterError("name is required")
	}
	if len(g.Name) > MaxNameLength {
		return httputil.InvalidArgumentError("name exceeds %d characters", MaxNameLength)
	}
	return nil
}

func (g *Group) toAttributes() map[string][]string {
	attrs := map[string][]string{
		"objectclass": {directory.ObjectClassProbeGroup},
		"uuid":        {g.UUID},
		"user":        {g.User},
		"name":        {g.Name},
		"disabled":    {strconv.FormatBool(g.Disabled)},
	}
	if len(g.Contacts) > 0 {
		attrs["contact"] = append([]string(nil), g.Contacts...)
	}
	return attrs
}

func groupFromEntry(e *directory.Entry) (*Group, error) {
	if !e.HasObjectClass(directory.ObjectClassProbeGroup) {
		return nil, fmt.Errorf("entry %s is not an %s", e.DN, directory.ObjectClassProbeGroup)
	}
	g := &Group{
		UUID: e.Attr("uuid"),
		User: e.Attr("user"),
		Name: e.Attr("name"),
	}
	if vals := e.Attributes["contact"]; len(vals) > 0 {
		g.Contacts = append([]string(nil), vals...)
	}
	g.Disabled, _ = strconv.ParseBool(e.Attr("disabled"))
	if g.UUID == "" || g.User == "" {
		return nil, fmt.Errorf("entry %s is missing uuid or user", e.DN)
	}
	return g, nil
}
