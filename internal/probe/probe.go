package probe

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/joshwilsdon-forks/sdc-amon/internal/directory"
	"github.com/joshwilsdon-forks/sdc-amon/internal/httputil"
)

// MaxNameLength bounds probe and probe-group names.
const MaxNameLength = 512

// Probe is a recurring check owned by a user, uniquely addressed by
// (user, uuid).
type Probe struct {
	UUID        string
	User        string
	Name        string
	Type        string
	Agent       string
	Machine     string
	Group       string
	Contacts    []string
	Config      json.RawMessage
	Disabled    bool
	RunInVMHost bool
}

// PublicView is the serialization for the external /pub API.
type PublicView struct {
	UUID     string          `json:"uuid"`
	User     string          `json:"user"`
	Name     string          `json:"name,omitempty"`
	Type     string          `json:"type"`
	Agent    string          `json:"agent"`
	Machine  string          `json:"machine,omitempty"`
	Group    string          `json:"group,omitempty"`
	Contacts []string        `json:"contacts,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"`
	Disabled bool            `json:"disabled"`
}

// InternalView adds the fields relays and agents need.
type InternalView struct {
	PublicView
	RunInVMHost bool `json:"runInVmHost,omitempty"`
}

// Public returns the external serialization.
func (p *Probe) Public() PublicView {
	return PublicView{
		UUID:     p.UUID,
		User:     p.User,
		Name:     p.Name,
		Type:     p.Type,
		Agent:    p.Agent,
		Machine:  p.Machine,
		Group:    p.Group,
		Contacts: p.Contacts,
		Config:   p.Config,
		Disabled: p.Disabled,
	}
}

// Internal returns the serialization for relays and agents.
func (p *Probe) Internal() InternalView {
	return InternalView{PublicView: p.Public(), RunInVMHost: p.RunInVMHost}
}

// DN returns the probe's directory address.
func (p *Probe) DN() string {
	return directory.ProbeDN(p.User, p.UUID)
}

// Validate normalizes and checks the probe against its registered kind.
// It is enforced on create and on every subsequent PUT.
func (p *Probe) Validate(reg *Registry) error {
	if p.User == "" {
		return httputil.MissingParameterError("user is required")
	}
	if _, err := uuid.Parse(p.User); err != nil {
		return httputil.InvalidArgumentError("user %q is not a UUID", p.User)
	}
	if p.UUID != "" {
		if _, err := uuid.Parse(p.UUID); err != nil {
			return httputil.InvalidArgumentError("uuid %q is not a UUID", p.UUID)
		}
	}
	if p.Type == "" {
		return httputil.MissingParameterError("type is required")
	}
	kind, ok := reg.Lookup(p.Type)
	if !ok {
		return httputil.InvalidArgumentError("unknown probe type %q", p.Type)
	}

	if kind.RunLocally() {
		// Agent and machine coincide; either may be omitted and inferred.
		switch {
		case p.Agent == "" && p.Machine == "":
			return httputil.MissingParameterError("agent or machine is required for %q probes", p.Type)
		case p.Agent == "":
			p.Agent = p.Machine
		case p.Machine == "":
			p.Machine = p.Agent
		case p.Agent != p.Machine:
			return httputil.InvalidArgumentError("agent %q and machine %q must be equal for %q probes", p.Agent, p.Machine, p.Type)
		}
	}
	if kind.RunInVMHost() {
		if p.Machine == "" {
			return httputil.MissingParameterError("machine is required for %q probes", p.Type)
		}
		p.RunInVMHost = true
	}

	// For runInVmHost kinds the agent may be omitted; authorization fills
	// it in once the VM's physical host is known.
	if p.Agent == "" && !kind.RunInVMHost() {
		return httputil.MissingParameterError("agent is required")
	}
	if p.Agent != "" {
		if _, err := uuid.Parse(p.Agent); err != nil {
			return httputil.InvalidArgumentError("agent %q is not a UUID", p.Agent)
		}
	}
	if p.Machine != "" {
		if _, err := uuid.Parse(p.Machine); err != nil {
			return httputil.InvalidArgumentError("machine %q is not a UUID", p.Machine)
		}
	}
	if p.Group != "" {
		if _, err := uuid.Parse(p.Group); err != nil {
			return httputil.InvalidArgumentError("group %q is not a UUID", p.Group)
		}
	}
	if len(p.Name) > MaxNameLength {
		return httputil.InvalidArgumentError("name exceeds %d characters", MaxNameLength)
	}
	if err := kind.ValidateConfig(p.Config); err != nil {
		return httputil.InvalidArgumentError("invalid %q config: %v", p.Type, err)
	}
	return nil
}

// toAttributes flattens the probe into directory attributes.
func (p *Probe) toAttributes() map[string][]string {
	attrs := map[string][]string{
		"objectclass": {directory.ObjectClassProbe},
		"uuid":        {p.UUID},
		"user":        {p.User},
		"type":        {p.Type},
		"agent":       {p.Agent},
		"disabled":    {strconv.FormatBool(p.Disabled)},
	}
	if p.Name != "" {
		attrs["name"] = []string{p.Name}
	}
	if p.Machine != "" {
		attrs["machine"] = []string{p.Machine}
	}
	if p.Group != "" {
		attrs["group"] = []string{p.Group}
	}
	if len(p.Contacts) > 0 {
		attrs["contact"] = append([]string(nil), p.Contacts...)
	}
	if len(p.Config) > 0 {
		attrs["config"] = []string{string(p.Config)}
	}
	if p.RunInVMHost {
		attrs["runinvmhost"] = []string{"true"}
	}
	return attrs
}

// probeFromEntry rebuilds a probe from its directory entry.
func probeFromEntry(e *directory.Entry) (*Probe, error) {
	if !e.HasObjectClass(directory.ObjectClassProbe) {
		return nil, fmt.Errorf("entry %s is not an %s", e.DN, directory.ObjectClassProbe)
	}
	p := &Probe{
		UUID:    e.Attr("uuid"),
		User:    e.Attr("user"),
		Name:    e.Attr("name"),
		Type:    e.Attr("type"),
		Agent:   e.Attr("agent"),
		Machine: e.Attr("machine"),
		Group:   e.Attr("group"),
	}
	if vals := e.Attributes["contact"]; len(vals) > 0 {
		p.Contacts = append([]string(nil), vals...)
	}
	if cfg := e.Attr("config"); cfg != "" {
		p.Config = json.RawMessage(cfg)
	}
	p.Disabled, _ = strconv.ParseBool(e.Attr("disabled"))
	p.RunInVMHost, _ = strconv.ParseBool(e.Attr("runinvmhost"))
	if p.UUID == "" || p.User == "" {
		return nil, fmt.Errorf("entry %s is missing uuid or user", e.DN)
	}
	return p, nil
}
