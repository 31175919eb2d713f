package probe

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/joshwilsdon-forks/sdc-amon/internal/account"
	"github.com/joshwilsdon-forks/sdc-amon/internal/directory"
	"github.com/joshwilsdon-forks/sdc-amon/internal/httputil"
)

// ListGroups returns the user's probe groups, sorted by uuid.
func (s *Service) ListGroups(ctx context.Context, userUUID string) ([]*Group, error) {
	if cached, ok := s.caches.GroupL.Get(userUUID); ok {
		return cached.([]*Group), nil
	}
	filter := fmt.Sprintf("(objectclass=%s)", directory.ObjectClassProbeGroup)
	entries, err := s.dir.Search(ctx, directory.UserDN(userUUID), filter, directory.ScopeOne)
	if err != nil && !errors.Is(err, directory.ErrNotFound) {
		s.log.WithError(err).WithField("user", userUUID).Error("probe group list failed")
		return nil, httputil.InternalError(err, "")
	}
	groups := make([]*Group, 0, len(entries))
	for _, e := range entries {
		g, gerr := groupFromEntry(e)
		if gerr != nil {
			s.log.WithError(gerr).WithField("dn", e.DN).Warn("skipping malformed probe group entry")
			continue
		}
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].UUID < groups[j].UUID })
	s.caches.GroupL.Set(userUUID, groups)
	return groups, nil
}

// GetGroup fetches one probe group. Returns (nil, nil) when absent; the
// miss is cached.
func (s *Service) GetGroup(ctx context.Context, userUUID, groupUUID string) (*Group, error) {
	dn := directory.ProbeGroupDN(userUUID, groupUUID)
	if cached, ok := s.caches.GroupG.Get(dn); ok {
		g, _ := cached.(*Group)
		return g, nil
	}
	entry, err := s.dir.Get(ctx, dn)
	if errors.Is(err, directory.ErrNotFound) {
		s.caches.GroupG.Set(dn, (*Group)(nil))
		return nil, nil
	}
	if err != nil {
		s.log.WithError(err).WithField("dn", dn).Error("probe group get failed")
		return nil, httputil.InternalError(err, "")
	}
	g, gerr := groupFromEntry(entry)
	if gerr != nil {
		s.log.WithError(gerr).WithField("dn", dn).Error("malformed probe group entry")
		return nil, httputil.InternalError(gerr, "")
	}
	s.caches.GroupG.Set(dn, g)
	return g, nil
}

// PutGroup validates and persists a probe group. Groups never reference
// machines, so the only authorization is owner-or-operator.
func (s *Service) PutGroup(ctx context.Context, actor *account.User, g *Group) error {
	if g.UUID == "" {
		g.UUID = uuid.NewString()
	}
	if err := g.Validate(); err != nil {
		return err
	}
	if actor.UUID != g.User && !actor.Operator {
		return httputil.InvalidArgumentError("not authorized to modify probe group %s", g.UUID)
	}
	if err := s.dir.Put(ctx, g.DN(), g.toAttributes()); err != nil {
		s.log.WithError(err).WithField("dn", g.DN()).Error("probe group put failed")
		return httputil.InternalError(err, "")
	}
	s.caches.InvalidateProbeGroup(g.DN())
	s.log.WithField("group", g.UUID).WithField("user", g.User).Info("probe group written")
	return nil
}

// DeleteGroup removes a probe group after checking no probe references it.
func (s *Service) DeleteGroup(ctx context.Context, actor *account.User, userUUID, groupUUID string) error {
	g, err := s.GetGroup(ctx, userUUID, groupUUID)
	if err != nil {
		return err
	}
	if g == nil {
		return httputil.ResourceNotFoundError("probe group %s not found", groupUUID)
	}
	if actor.UUID != g.User && !actor.Operator {
		return httputil.InvalidArgumentError("not authorized to delete probe group %s", groupUUID)
	}
	probes, err := s.List(ctx, userUUID)
	if err != nil {
		return err
	}
	for _, p := range probes {
		if p.Group == groupUUID {
			return httputil.InvalidArgumentError("probe group %s is referenced by probe %s", groupUUID, p.UUID)
		}
	}
	if err := s.dir.Del(ctx, g.DN()); err != nil {
		s.log.WithError(err).WithField("dn", g.DN()).Error("probe group delete failed")
		return httputil.InternalError(err, "")
	}
	s.caches.InvalidateProbeGroup(g.DN())
	s.log.WithField("group", groupUUID).WithField("user", userUUID).Info("probe group deleted")
	return nil
}
