package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// reapTimeout bounds one reap action's KV work.
const reapTimeout = 30 * time.Second

// Start arms the reaper and the safety sweep. The sweep periodically
// re-arms the reaper so a timer lost to a KV outage cannot silence expiry
// forever.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.sweep == nil {
		e.sweep = cron.New()
		e.sweep.Start()
	}
	c := e.sweep
	e.mu.Unlock()

	if _, err := c.AddFunc("@every 5m", func() {
		sctx, cancel := context.WithTimeout(context.Background(), reapTimeout)
		defer cancel()
		e.Poke(sctx)
	}); err != nil {
		return err
	}
	e.Poke(ctx)
	return nil
}

// Stop cancels the reaper timer and the sweep.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	c := e.sweep
	e.sweep = nil
	e.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

// Poke re-arms the reaper at the next window to expire. Re-arming is
// idempotent: any prior timer is cancelled first. Called after every
// create, delete and heal.
func (e *Engine) Poke(ctx context.Context) {
	head, err := e.kv.ZRangeWithScores(ctx, byEndKey, 0, 0)
	if err != nil {
		e.log.WithError(err).Error("reaper poke failed, retrying later")
		e.armAfter(e.errRetry)
		return
	}
	if len(head) == 0 {
		e.disarm()
		return
	}
	end := time.UnixMilli(int64(head[0].Score))
	delay := end.Sub(e.now())
	if delay < e.minGap {
		delay = e.minGap
	}
	e.armAfter(delay)
}

func (e *Engine) armAfter(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(d, e.reap)
}

func (e *Engine) disarm() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// reap fires when the soonest window should have expired. At most one reap
// action is in flight: the timer is one-shot and only re-armed here or by
// Poke.
func (e *Engine) reap() {
	ctx, cancel := context.WithTimeout(context.Background(), reapTimeout)
	defer cancel()

	head, err := e.kv.ZRangeWithScores(ctx, byEndKey, 0, 0)
	if err != nil {
		e.log.WithError(err).Error("reap query failed, retrying later")
		e.armAfter(e.errRetry)
		return
	}
	if len(head) == 0 {
		return
	}

	end := time.UnixMilli(int64(head[0].Score))
	if end.After(e.now()) {
		// Not due yet (a newer, later window replaced the head).
		e.Poke(ctx)
		return
	}

	user, id, ok := parseWindowKey(head[0].Member)
	if !ok {
		e.log.WithField("key", head[0].Member).Warn("reaper removing bogus time-index member")
		if err := e.kv.ZRem(ctx, byEndKey, head[0].Member); err != nil {
			e.log.WithError(err).Error("bogus index member removal failed, retrying later")
			e.armAfter(e.errRetry)
			return
		}
		e.Poke(ctx)
		return
	}

	w, err := e.Get(ctx, user, id)
	if err != nil {
		e.armAfter(e.errRetry)
		return
	}
	if w == nil {
		// The hash vanished under the index entry; drop the dangling
		// references and move on.
		if err := e.remove(ctx, user, id); err != nil {
			e.armAfter(e.errRetry)
			return
		}
		e.Poke(ctx)
		return
	}

	e.log.WithField("user", user).WithField("id", id).Info("maintenance window expired")
	if _, err := e.Delete(ctx, user, id); err != nil {
		e.armAfter(e.errRetry)
		return
	}
	// Delete re-armed the reaper via Poke.
}
