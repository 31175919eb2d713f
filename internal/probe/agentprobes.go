package probe

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/joshwilsdon-forks/sdc-amon/internal/directory"
	"github.com/joshwilsdon-forks/sdc-amon/internal/httputil"
)

// Manifest is the per-agent probe manifest served to relays, with the
// content digest relays poll against.
type Manifest struct {
	Probes []InternalView
	Body   []byte
	Digest string
}

// AgentProbes builds the manifest for an agent: every probe whose agent
// field matches, serialized with private fields, plus the Content-MD5
// digest of the body. Served from the dedicated unbounded cache keyed by
// agent uuid; probe writes touching the agent invalidate it.
func (s *Service) AgentProbes(ctx context.Context, agentUUID string) (*Manifest, error) {
	if cached, ok := s.caches.AgentProbeC.Get(agentUUID); ok {
		return cached.(*Manifest), nil
	}

	filter := fmt.Sprintf("(&(objectclass=%s)(agent=%s))", directory.ObjectClassProbe, agentUUID)
	entries, err := s.dir.Search(ctx, directory.UsersBaseDN, filter, directory.ScopeSub)
	if err != nil && !errors.Is(err, directory.ErrNotFound) {
		s.log.WithError(err).WithField("agent", agentUUID).Error("agent probes search failed")
		return nil, httputil.InternalError(err, "")
	}

	views := make([]InternalView, 0, len(entries))
	for _, e := range entries {
		p, perr := probeFromEntry(e)
		if perr != nil {
			s.log.WithError(perr).WithField("dn", e.DN).Warn("skipping malformed probe entry")
			continue
		}
		views = append(views, p.Internal())
	}
	// Stable order keeps the digest stable between writes.
	sort.Slice(views, func(i, j int) bool { return views[i].UUID < views[j].UUID })

	body, err := json.Marshal(views)
	if err != nil {
		return nil, httputil.InternalError(err, "")
	}
	sum := md5.Sum(body)
	m := &Manifest{
		Probes: views,
		Body:   body,
		Digest: base64.StdEncoding.EncodeToString(sum[:]),
	}
	s.caches.AgentProbeC.Set(agentUUID, m)
	return m, nil
}
