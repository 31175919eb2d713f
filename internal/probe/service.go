package probe

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/joshwilsdon-forks/sdc-amon/internal/account"
	"github.com/joshwilsdon-forks/sdc-amon/internal/cache"
	"github.com/joshwilsdon-forks/sdc-amon/internal/cnapi"
	"github.com/joshwilsdon-forks/sdc-amon/internal/directory"
	"github.com/joshwilsdon-forks/sdc-amon/internal/httputil"
	"github.com/joshwilsdon-forks/sdc-amon/internal/vmapi"
	"github.com/joshwilsdon-forks/sdc-amon/pkg/logger"
)

// Service persists and authorizes probes and probe groups.
type Service struct {
	dir       directory.Directory
	registry  *Registry
	caches    *cache.Caches
	vms       vmapi.Metadata
	servers   cnapi.Inventory
	adminUUID string
	log       *logger.Logger
}

// NewService wires the probe model.
func NewService(dir directory.Directory, registry *Registry, caches *cache.Caches,
	vms vmapi.Metadata, servers cnapi.Inventory, adminUUID string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("probe")
	}
	return &Service{
		dir:       dir,
		registry:  registry,
		caches:    caches,
		vms:       vms,
		servers:   servers,
		adminUUID: adminUUID,
		log:       log,
	}
}

// Registry exposes the probe-kind registry.
func (s *Service) Registry() *Registry { return s.registry }

// List returns the user's probes, sorted by uuid.
func (s *Service) List(ctx context.Context, userUUID string) ([]*Probe, error) {
	if cached, ok := s.caches.ProbeL.Get(userUUID); ok {
		return cached.([]*Probe), nil
	}
	filter := fmt.Sprintf("(objectclass=%s)", directory.ObjectClassProbe)
	entries, err := s.dir.Search(ctx, directory.UserDN(userUUID), filter, directory.ScopeOne)
	if err != nil && !errors.Is(err, directory.ErrNotFound) {
		s.log.WithError(err).WithField("user", userUUID).Error("probe list failed")
		return nil, httputil.InternalError(err, "")
	}
	probes := make([]*Probe, 0, len(entries))
	for _, e := range entries {
		p, perr := probeFromEntry(e)
		if perr != nil {
			s.log.WithError(perr).WithField("dn", e.DN).Warn("skipping malformed probe entry")
			continue
		}
		probes = append(probes, p)
	}
	sort.Slice(probes, func(i, j int) bool { return probes[i].UUID < probes[j].UUID })
	s.caches.ProbeL.Set(userUUID, probes)
	return probes, nil
}

// Get fetches one probe. Returns (nil, nil) when absent; the miss is
// cached.
func (s *Service) Get(ctx context.Context, userUUID, probeUUID string) (*Probe, error) {
	dn := directory.ProbeDN(userUUID, probeUUID)
	if cached, ok := s.caches.ProbeG.Get(dn); ok {
		p, _ := cached.(*Probe)
		return p, nil
	}
	entry, err := s.dir.Get(ctx, dn)
	if errors.Is(err, directory.ErrNotFound) {
		s.caches.ProbeG.Set(dn, (*Probe)(nil))
		return nil, nil
	}
	if err != nil {
		s.log.WithError(err).WithField("dn", dn).Error("probe get failed")
		return nil, httputil.InternalError(err, "")
	}
	p, perr := probeFromEntry(entry)
	if perr != nil {
		s.log.WithError(perr).WithField("dn", dn).Error("malformed probe entry")
		return nil, httputil.InternalError(perr, "")
	}
	s.caches.ProbeG.Set(dn, p)
	return p, nil
}

// Put validates, authorizes and persists a probe, then invalidates the
// affected caches. skipAuthz is the bootstrap escape hatch and is honored
// only when the owner is the configured admin user.
func (s *Service) Put(ctx context.Context, actor *account.User, p *Probe, skipAuthz bool) error {
	if p.UUID == "" {
		p.UUID = uuid.NewString()
	}
	if err := p.Validate(s.registry); err != nil {
		return err
	}
	if p.Group != "" {
		g, err := s.GetGroup(ctx, p.User, p.Group)
		if err != nil {
			return err
		}
		if g == nil {
			return httputil.InvalidArgumentError("probe group %q does not exist", p.Group)
		}
	}

	// Capture the prior agent so a PUT that moves the probe invalidates
	// both manifests.
	var priorAgent string
	if prior, err := s.Get(ctx, p.User, p.UUID); err == nil && prior != nil {
		priorAgent = prior.Agent
	}

	if err := s.authorizePut(ctx, actor, p, skipAuthz); err != nil {
		return err
	}

	if err := s.dir.Put(ctx, p.DN(), p.toAttributes()); err != nil {
		s.log.WithError(err).WithField("dn", p.DN()).Error("probe put failed")
		return httputil.InternalError(err, "")
	}
	s.caches.InvalidateProbe(p.DN(), p.Agent, priorAgent)
	s.log.WithField("probe", p.UUID).
		WithField("user", p.User).
		WithField("agent", p.Agent).
		Info("probe written")
	return nil
}

// Delete removes a probe. The actor must be the owner or an operator.
func (s *Service) Delete(ctx context.Context, actor *account.User, userUUID, probeUUID string) error {
	p, err := s.Get(ctx, userUUID, probeUUID)
	if err != nil {
		return err
	}
	if p == nil {
		return httputil.ResourceNotFoundError("probe %s not found", probeUUID)
	}
	if actor.UUID != p.User && !actor.Operator {
		return httputil.InvalidArgumentError("not authorized to delete probe %s", probeUUID)
	}
	if err := s.dir.Del(ctx, p.DN()); err != nil {
		s.log.WithError(err).WithField("dn", p.DN()).Error("probe delete failed")
		return httputil.InternalError(err, "")
	}
	s.caches.InvalidateProbe(p.DN(), p.Agent)
	s.log.WithField("probe", probeUUID).WithField("user", userUUID).Info("probe deleted")
	return nil
}

// authorizePut walks the write-authorization decision tree. Each rule
// authorizes, denies, or falls through to the next; a failed external
// lookup is an internal error rather than a denial.
func (s *Service) authorizePut(ctx context.Context, actor *account.User, p *Probe, skipAuthz bool) error {
	// Rule 1: bootstrap escape hatch, admin user only.
	if skipAuthz && s.adminUUID != "" && p.User == s.adminUUID {
		return nil
	}

	// Rule 2: a probe on a physical server is an operator action.
	if p.Agent != "" {
		exists, err := s.servers.ServerExists(ctx, p.Agent)
		if err != nil {
			s.log.WithError(err).WithField("server", p.Agent).Error("server inventory lookup failed")
			return httputil.InternalError(err, "")
		}
		if exists {
			if actor.Operator {
				return nil
			}
			return httputil.InvalidArgumentError("agent %q is a physical server: operator privileges required", p.Agent)
		}
	}

	// Rules 3 and 4 need the VM record.
	if p.Machine != "" {
		vm, err := s.vms.GetVM(ctx, p.Machine)
		if err != nil && !errors.Is(err, vmapi.ErrVMNotFound) {
			s.log.WithError(err).WithField("machine", p.Machine).Error("vm metadata lookup failed")
			return httputil.InternalError(err, "")
		}
		if vm != nil {
			// Rule 3: own VM.
			if vm.OwnerUUID == actor.UUID {
				s.placeOnVM(p, vm)
				return nil
			}
			// Rule 4: operators may watch foreign VMs with host-side kinds.
			if p.RunInVMHost && actor.Operator {
				s.placeOnVM(p, vm)
				return nil
			}
		}
	}

	// Rule 5: out of options.
	return httputil.InvalidArgumentError("machine %q does not exist or is not owned by %s", p.Machine, actor.UUID)
}

// placeOnVM pins a host-side probe to the VM's physical server.
func (s *Service) placeOnVM(p *Probe, vm *vmapi.VM) {
	if p.RunInVMHost && vm.ServerUUID != "" {
		p.Agent = vm.ServerUUID
	}
}
