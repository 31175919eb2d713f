package router

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/joshwilsdon-forks/sdc-amon/internal/account"
	"github.com/joshwilsdon-forks/sdc-amon/internal/contact"
	"github.com/joshwilsdon-forks/sdc-amon/internal/httputil"
	"github.com/joshwilsdon-forks/sdc-amon/internal/maintenance"
	"github.com/joshwilsdon-forks/sdc-amon/internal/notification"
	"github.com/joshwilsdon-forks/sdc-amon/internal/probe"
	"github.com/joshwilsdon-forks/sdc-amon/pkg/logger"
	"github.com/joshwilsdon-forks/sdc-amon/pkg/metrics"
)

// Router processes events: probe resolution, maintenance suppression and
// contact fan-out.
type Router struct {
	probes  *probe.Service
	maint   *maintenance.Engine
	users   *account.Resolver
	plugins *notification.Registry
	log     *logger.Logger
}

// New wires the event router.
func New(probes *probe.Service, maint *maintenance.Engine, users *account.Resolver,
	plugins *notification.Registry, log *logger.Logger) *Router {
	if log == nil {
		log = logger.NewDefault("router")
	}
	return &Router{
		probes:  probes,
		maint:   maint,
		users:   users,
		plugins: plugins,
		log:     log,
	}
}

// ProcessEvents handles a batch. Each event is processed independently;
// per-event failures are collected and do not abort siblings. Returns nil
// when every event succeeded, the single error when one failed, and a
// MultiError otherwise.
func (r *Router) ProcessEvents(ctx context.Context, events []Event) error {
	var merr *multierror.Error
	for i := range events {
		metrics.RecordEventReceived()
		if err := r.processEvent(ctx, &events[i]); err != nil {
			metrics.RecordEventFailed()
			merr = multierror.Append(merr, err)
		}
	}
	if merr == nil {
		return nil
	}
	return httputil.NewMultiError(merr.WrappedErrors())
}

func (r *Router) processEvent(ctx context.Context, ev *Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.ProbeUUID == "" {
		return httputil.MissingParameterError("event probeUuid is required")
	}

	p, err := r.probes.Get(ctx, ev.User, ev.ProbeUUID)
	if err != nil {
		return err
	}
	if p == nil {
		return httputil.ResourceNotFoundError("probe %s not found for user %s", ev.ProbeUUID, ev.User)
	}

	var group *probe.Group
	if p.Group != "" {
		group, err = r.probes.GetGroup(ctx, ev.User, p.Group)
		if err != nil {
			return err
		}
	}

	groupUUID := ""
	if group != nil {
		groupUUID = group.UUID
	}
	win, err := r.maint.IsEventInMaintenance(ctx, ev.User, ev.Time, ev.ProbeUUID, groupUUID, ev.Machine)
	if err != nil {
		// A broken maintenance lookup must not turn into a page storm;
		// the event still routes.
		r.log.WithError(err).WithField("event", ev.UUID).Error("maintenance check failed, routing anyway")
	}
	if win != nil {
		metrics.RecordEventSuppressed()
		r.log.WithField("event", ev.UUID).
			WithField("user", ev.User).
			WithField("maintenance", win.ID).
			Info("event suppressed by maintenance window")
		return nil
	}

	// Steps 1-2 resolved; notification failures below are absorbed.
	r.notifyContacts(ctx, ev, p, group)
	return nil
}

// notifyContacts resolves the de-duplicated contact union and dispatches.
func (r *Router) notifyContacts(ctx context.Context, ev *Event, p *probe.Probe, group *probe.Group) {
	owner, err := r.users.Resolve(ctx, ev.User)
	if err != nil || owner == nil {
		r.log.WithError(err).WithField("user", ev.User).Error("cannot resolve event owner for notification")
		return
	}

	urns := make([]string, 0, len(p.Contacts))
	seen := make(map[string]bool)
	for _, urn := range p.Contacts {
		if !seen[urn] {
			seen[urn] = true
			urns = append(urns, urn)
		}
	}
	if group != nil {
		for _, urn := range group.Contacts {
			if !seen[urn] {
				seen[urn] = true
				urns = append(urns, urn)
			}
		}
	}

	message := renderMessage(ev, p)
	probeName := p.Name
	if probeName == "" {
		probeName = p.UUID
	}

	for _, urn := range urns {
		c, err := contact.Resolve(owner, urn, r.plugins)
		if err != nil {
			r.log.WithError(err).WithField("urn", urn).WithField("user", owner.UUID).Warn("contact resolution failed")
			r.configAlarm(ctx, owner, p, urn)
			continue
		}
		if c.Address == "" {
			r.configAlarm(ctx, owner, p, urn)
			continue
		}
		plugin, ok := r.plugins.Plugin(c.Medium)
		if !ok {
			r.log.WithField("medium", c.Medium).Error("no plugin for resolved medium")
			continue
		}
		nerr := plugin.Notify(ctx, probeName, c.Address, message)
		metrics.RecordNotification(c.Medium, nerr)
		if nerr != nil {
			r.log.WithError(nerr).
				WithField("medium", c.Medium).
				WithField("probe", p.UUID).
				Error("notification failed")
			continue
		}
		r.log.WithField("medium", c.Medium).
			WithField("probe", p.UUID).
			WithField("event", ev.UUID).
			Info("notification sent")
	}
}

// configAlarm flags a contact that cannot be delivered to. The owner gets
// told over email when that is resolvable; the alarm is always logged and
// counted.
func (r *Router) configAlarm(ctx context.Context, owner *account.User, p *probe.Probe, urn string) {
	metrics.RecordConfigAlarm()
	r.log.WithField("user", owner.UUID).
		WithField("probe", p.UUID).
		WithField("urn", urn).
		Warn("config alarm: contact has no deliverable address")

	if owner.Email == "" {
		return
	}
	medium, ok := r.plugins.MediumFor("email")
	if !ok {
		return
	}
	plugin, _ := r.plugins.Plugin(medium)
	msg := fmt.Sprintf("Monitoring config alarm: probe %q references contact %q, which has no deliverable address on your account.", p.UUID, urn)
	if err := plugin.Notify(ctx, "config-alarm", owner.Email, msg); err != nil {
		r.log.WithError(err).WithField("user", owner.UUID).Error("config alarm delivery failed")
	}
}

// HandleMaintenanceEnd runs when a maintenance window is removed. Alarms
// raised during the window are not re-evaluated here.
// TODO(event-replay): replay suppressed transitions that are still current
// once alarm state is persisted.
func (r *Router) HandleMaintenanceEnd(ctx context.Context, w *maintenance.Window) {
	metrics.RecordMaintenance("ended")
	r.log.WithField("user", w.User).
		WithField("id", w.ID).
		Info("maintenance window ended, notifications resume")
}

func renderMessage(ev *Event, p *probe.Probe) string {
	name := p.Name
	if name == "" {
		name = p.UUID
	}
	target := ev.Machine
	if target == "" {
		target = p.Machine
	}
	if target != "" {
		return fmt.Sprintf("Probe %q on machine %s reported %s (%s).", name, target, ev.Status, ev.Type)
	}
	return fmt.Sprintf("Probe %q reported %s (%s).", name, ev.Status, ev.Type)
}
