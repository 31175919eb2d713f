package maintenance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/joshwilsdon-forks/sdc-amon/internal/database"
	"github.com/joshwilsdon-forks/sdc-amon/internal/httputil"
	"github.com/joshwilsdon-forks/sdc-amon/pkg/logger"
)

// EndHook is invoked after a window is removed, by DELETE or by the
// reaper, so the event router can react to the end of suppression.
type EndHook func(ctx context.Context, w *Window)

// Engine owns maintenance windows and the expiry reaper.
type Engine struct {
	kv    *database.KV
	log   *logger.Logger
	onEnd EndHook

	minGap   time.Duration
	errRetry time.Duration
	now      func() time.Time

	// Reaper state: a process-wide singleton timer pointing at the next
	// window to expire. Guarded by mu; re-arming cancels any prior timer.
	mu    sync.Mutex
	timer *time.Timer
	sweep *cron.Cron
}

const (
	// minReaperGap guards against hot loops on skewed clocks.
	minReaperGap   = 100 * time.Millisecond
	reaperErrRetry = 5 * time.Minute
)

// NewEngine builds the engine. onEnd may be nil.
func NewEngine(kv *database.KV, onEnd EndHook, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("maintenance")
	}
	return &Engine{
		kv:       kv,
		log:      log,
		onEnd:    onEnd,
		minGap:   minReaperGap,
		errRetry: reaperErrRetry,
		now:      time.Now,
	}
}

// SetEndHook installs the end-of-suppression hook. Must be called before
// Start.
func (e *Engine) SetEndHook(h EndHook) { e.onEnd = h }

// Create assigns the next per-user id and persists the window atomically:
// id into the per-user set, the key into the global time index scored by
// end, and the hash. The reaper is poked on success.
func (e *Engine) Create(ctx context.Context, w *Window) error {
	id, err := e.kv.HIncrBy(ctx, idsKey, w.User, 1)
	if err != nil {
		e.log.WithError(err).WithField("user", w.User).Error("maintenance id allocation failed")
		return httputil.InternalError(err, "")
	}
	w.ID = id
	if err := w.Validate(); err != nil {
		return err
	}

	key := w.Key()
	_, err = e.kv.Tx(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, userSetKey(w.User), w.ID)
		pipe.ZAdd(ctx, byEndKey, &redis.Z{Score: float64(w.End), Member: key})
		pipe.HSet(ctx, key, w.toHash()...)
		return nil
	})
	if err != nil {
		e.log.WithError(err).WithField("key", key).Error("maintenance create failed")
		return httputil.InternalError(err, "")
	}
	e.log.WithField("user", w.User).
		WithField("id", w.ID).
		WithField("end", w.End).
		Info("maintenance window created")
	e.Poke(ctx)
	return nil
}

// Get fetches one window. Returns (nil, nil) when absent.
func (e *Engine) Get(ctx context.Context, user string, id int64) (*Window, error) {
	h, err := e.kv.HGetAll(ctx, WindowKey(user, id))
	if err != nil {
		e.log.WithError(err).WithField("user", user).WithField("id", id).Error("maintenance get failed")
		return nil, httputil.InternalError(err, "")
	}
	if len(h) == 0 {
		return nil, nil
	}
	w, werr := windowFromHash(h)
	if werr != nil {
		e.log.WithError(werr).WithField("user", user).WithField("id", id).Warn("healing bogus maintenance record")
		e.healAsync(user, id)
		return nil, nil
	}
	return w, nil
}

// CurrentID returns the user's id counter (0 when none issued). Ids at or
// below it that are absent respond 410 Gone, never 404.
func (e *Engine) CurrentID(ctx context.Context, user string) (int64, error) {
	val, ok, err := e.kv.HGet(ctx, idsKey, user)
	if err != nil {
		return 0, httputil.InternalError(err, "")
	}
	if !ok {
		return 0, nil
	}
	id := int64(0)
	for _, c := range val {
		if c < '0' || c > '9' {
			return 0, nil
		}
		id = id*10 + int64(c-'0')
	}
	return id, nil
}

// List returns the user's windows sorted by id. Window hashes are fetched
// in parallel; entries that fail validation are dropped and healed in the
// background so the reaper cannot spin on them.
func (e *Engine) List(ctx context.Context, user string) ([]*Window, error) {
	ids, err := e.kv.SMembers(ctx, userSetKey(user))
	if err != nil {
		e.log.WithError(err).WithField("user", user).Error("maintenance list failed")
		return nil, httputil.InternalError(err, "")
	}

	var mu sync.Mutex
	windows := make([]*Window, 0, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for _, rawID := range ids {
		rawID := rawID
		g.Go(func() error {
			var id int64
			for _, c := range rawID {
				if c < '0' || c > '9' {
					e.log.WithField("user", user).WithField("id", rawID).Warn("healing bogus maintenance id")
					go func() {
						hctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
						defer cancel()
						if err := e.kv.SRem(hctx, userSetKey(user), rawID); err != nil {
							e.log.WithError(err).WithField("user", user).WithField("id", rawID).Error("bogus maintenance id heal failed")
						}
					}()
					return nil
				}
				id = id*10 + int64(c-'0')
			}
			w, err := e.Get(gctx, user, id)
			if err != nil {
				return err
			}
			if w == nil {
				return nil
			}
			mu.Lock()
			windows = append(windows, w)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].ID < windows[j].ID })
	return windows, nil
}

// ListAll walks the time index and returns every window, soonest-ending
// first. Operator surface.
func (e *Engine) ListAll(ctx context.Context) ([]*Window, error) {
	keys, err := e.kv.ZRange(ctx, byEndKey, 0, -1)
	if err != nil {
		e.log.WithError(err).Error("maintenance list-all failed")
		return nil, httputil.InternalError(err, "")
	}
	windows := make([]*Window, 0, len(keys))
	for _, key := range keys {
		user, id, ok := parseWindowKey(key)
		if !ok {
			e.log.WithField("key", key).Warn("dropping bogus time-index member")
			continue
		}
		w, err := e.Get(ctx, user, id)
		if err != nil {
			return nil, err
		}
		if w != nil {
			windows = append(windows, w)
		}
	}
	return windows, nil
}

// Delete removes a window atomically from the per-user set, the time index
// and the hash. Returns false when the window was not present. On success
// the end hook runs and the reaper is re-armed.
func (e *Engine) Delete(ctx context.Context, user string, id int64) (bool, error) {
	w, err := e.Get(ctx, user, id)
	if err != nil {
		return false, err
	}
	if err := e.remove(ctx, user, id); err != nil {
		return false, err
	}
	if w == nil {
		return false, nil
	}
	e.log.WithField("user", user).WithField("id", id).Info("maintenance window deleted")
	if e.onEnd != nil {
		e.onEnd(ctx, w)
	}
	e.Poke(ctx)
	return true, nil
}

// remove is the bare multi-op removal, shared by Delete and healing.
func (e *Engine) remove(ctx context.Context, user string, id int64) error {
	key := WindowKey(user, id)
	_, err := e.kv.Tx(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, userSetKey(user), id)
		pipe.ZRem(ctx, byEndKey, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		e.log.WithError(err).WithField("key", key).Error("maintenance remove failed")
		return httputil.InternalError(err, "")
	}
	return nil
}

// healAsync schedules removal of a bogus record so the reaper cannot spin
// on it.
func (e *Engine) healAsync(user string, id int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.remove(ctx, user, id); err != nil {
			e.log.WithError(err).WithField("user", user).WithField("id", id).Error("bogus maintenance heal failed")
			return
		}
		e.Poke(ctx)
	}()
}

// IsEventInMaintenance returns a window covering the event, or nil. Any
// one match suffices. The linear scan over the owner's windows is O(W);
// W is small in practice.
func (e *Engine) IsEventInMaintenance(ctx context.Context, user string, eventTime int64, probeUUID, groupUUID, machine string) (*Window, error) {
	windows, err := e.List(ctx, user)
	if err != nil {
		return nil, err
	}
	for _, w := range windows {
		if eventTime <= w.Start || eventTime >= w.End {
			continue
		}
		switch {
		case w.All:
			return w, nil
		case groupUUID != "" && containsStr(w.ProbeGroups, groupUUID):
			return w, nil
		case probeUUID != "" && containsStr(w.Probes, probeUUID):
			return w, nil
		case machine != "" && containsStr(w.Machines, machine):
			return w, nil
		}
	}
	return nil, nil
}

func containsStr(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
