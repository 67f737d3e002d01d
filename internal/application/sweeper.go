package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/presence-service/internal/heartbeat"
)

// Sweep modes.
const (
	SweepModeThread   = "thread"
	SweepModeDisabled = "disabled"
)

// SweepLockName is the distributed lock serialising shared sweeps.
const SweepLockName = "presence:sweep"

const minLocalPruneAge = 60 * time.Second

// SweepConfig holds the already clamped sweep settings.
type SweepConfig struct {
	Enabled         bool
	Mode            string
	Interval        time.Duration
	OnlineThreshold time.Duration
	Grace           time.Duration
}

// Cutoff returns the instant before which an online user counts as stale.
func (c SweepConfig) Cutoff(now time.Time) time.Time {
	return now.Add(-(c.OnlineThreshold + c.Grace))
}

// LocalPruneAge bounds the age of local tracker entries. It trails the
// shared cutoff by a wide margin so local pruning never races the grace period.
func (c SweepConfig) LocalPruneAge() time.Duration {
	age := (c.OnlineThreshold + c.Grace) * 12
	if age < minLocalPruneAge {
		return minLocalPruneAge
	}
	return age
}

// SweepStatus tags the result of a sweep tick.
type SweepStatus string

// Sweep statuses.
const (
	SweepOK      SweepStatus = "ok"
	SweepSkipped SweepStatus = "skipped"
	SweepFailed  SweepStatus = "failed"
)

// Skip reasons.
const (
	SkipReasonDisabled = "disabled"
	SkipReasonLockBusy = "lock busy"
)

// Sweep backends.
const (
	SweepBackendShared   = "shared"
	SweepBackendFallback = "fallback"
)

// SweepOutcome reports what a single sweep tick did, or why it did nothing.
type SweepOutcome struct {
	Status   SweepStatus
	Reason   string
	Err      error
	Backend  string
	Cutoff   time.Time
	Pruned   int
	Demoted  int64
	Duration time.Duration
}

// Ticker abstracts time.Ticker so tests can drive the loop by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker wraps time.NewTicker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// SweeperDeps captures the collaborators of a PresenceSweeper. Stale selects
// the shared backend; when nil the sweeper walks Directory instead and takes
// no lock.
type SweeperDeps struct {
	Tracker         *heartbeat.Tracker
	Directory       UserDirectory
	Stale           StalePresenceStore
	Lock            DistributedLock
	Instrumentation Instrumentation
	Logger          *slog.Logger
	Now             func() time.Time
	NewTicker       func(time.Duration) Ticker
}

// PresenceSweeper periodically demotes stale online users.
type PresenceSweeper struct {
	cfg       SweepConfig
	tracker   *heartbeat.Tracker
	directory UserDirectory
	stale     StalePresenceStore
	lock      DistributedLock
	metrics   Instrumentation
	logger    *slog.Logger
	now       func() time.Time
	newTicker func(time.Duration) Ticker

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPresenceSweeper wires a sweeper. It does not start the loop.
func NewPresenceSweeper(cfg SweepConfig, deps SweeperDeps) *PresenceSweeper {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	newTicker := deps.NewTicker
	if newTicker == nil {
		newTicker = NewTimeTicker
	}
	tracker := deps.Tracker
	if tracker == nil {
		tracker = heartbeat.NewTracker(now)
	}
	return &PresenceSweeper{
		cfg:       cfg,
		tracker:   tracker,
		directory: deps.Directory,
		stale:     deps.Stale,
		lock:      deps.Lock,
		metrics:   defaultInstrumentation(deps.Instrumentation),
		logger:    defaultLogger(deps.Logger),
		now:       now,
		newTicker: newTicker,
	}
}

// Backend reports whether ticks use the shared store or the fallback walk.
func (s *PresenceSweeper) Backend() string {
	if s.stale != nil {
		return SweepBackendShared
	}
	return SweepBackendFallback
}

// SweepOnce runs a single tick. It never panics and never returns an error;
// failures are reported through the outcome.
func (s *PresenceSweeper) SweepOnce(ctx context.Context) (outcome SweepOutcome) {
	start := s.now()
	outcome.Backend = s.Backend()
	logger := serviceLogger(ctx, s.logger, "PresenceSweeper", "SweepOnce", "backend", outcome.Backend)

	defer func() {
		if r := recover(); r != nil {
			outcome.Status = SweepFailed
			outcome.Err = fmt.Errorf("sweep panic: %v", r)
		}
		outcome.Duration = s.now().Sub(start)
		s.metrics.SweepFinished(outcome)
		s.metrics.TrackerSize(s.tracker.Len())

		switch outcome.Status {
		case SweepFailed:
			logger.ErrorContext(ctx, "presence sweep failed", "error", outcome.Err, "error_kind", ErrorKind(outcome.Err))
		case SweepSkipped:
			logger.DebugContext(ctx, "presence sweep skipped", "reason", outcome.Reason)
		default:
			level := slog.LevelDebug
			if outcome.Demoted > 0 {
				level = slog.LevelInfo
			}
			logger.Log(ctx, level, "presence sweep finished",
				"cutoff", outcome.Cutoff,
				"pruned", outcome.Pruned,
				"demoted", outcome.Demoted,
				"duration", outcome.Duration,
			)
		}
	}()

	if !s.cfg.Enabled {
		outcome.Status = SweepSkipped
		outcome.Reason = SkipReasonDisabled
		return outcome
	}

	outcome.Cutoff = s.cfg.Cutoff(start)
	outcome.Pruned = s.tracker.PruneStale(s.cfg.LocalPruneAge())

	var err error
	if s.stale != nil {
		var acquired bool
		acquired, outcome.Demoted, err = s.sweepShared(ctx, outcome.Cutoff, logger)
		if err == nil && !acquired {
			outcome.Status = SweepSkipped
			outcome.Reason = SkipReasonLockBusy
			return outcome
		}
	} else {
		outcome.Demoted, err = s.sweepFallback(ctx, outcome.Cutoff)
	}

	if err != nil {
		outcome.Status = SweepFailed
		outcome.Err = err
		return outcome
	}
	outcome.Status = SweepOK
	return outcome
}

func (s *PresenceSweeper) sweepShared(ctx context.Context, cutoff time.Time, logger *slog.Logger) (bool, int64, error) {
	if s.lock != nil {
		acquired, err := s.lock.TryAcquire(ctx, SweepLockName)
		if err != nil {
			return false, 0, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !acquired {
			return false, 0, nil
		}
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx), SweepLockName); err != nil {
				logger.WarnContext(ctx, "failed to release sweep lock", "error", err)
			}
		}()
	}

	demoted, err := s.stale.MarkStaleOffline(ctx, cutoff)
	if err != nil {
		return true, 0, err
	}
	return true, demoted, nil
}

func (s *PresenceSweeper) sweepFallback(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.directory == nil {
		return 0, errors.New("user directory not configured")
	}
	users, err := s.directory.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	var (
		demoted int64
		errs    []error
	)
	for _, user := range users {
		if !user.IsOnline || user.LastSeenAt == nil || !user.LastSeenAt.Before(cutoff) {
			continue
		}
		user.IsOnline = false
		if err := s.directory.UpdateUser(ctx, user); err != nil {
			errs = append(errs, fmt.Errorf("demote %s: %w", user.ID, err))
			continue
		}
		demoted++
	}
	return demoted, errors.Join(errs...)
}

// Start launches the background loop unless the mode is disabled. Only the
// first concurrent call starts a loop; it reports whether this call did.
func (s *PresenceSweeper) Start(ctx context.Context) bool {
	logger := serviceLogger(ctx, s.logger, "PresenceSweeper", "Start")
	if s.cfg.Mode == SweepModeDisabled {
		logger.InfoContext(ctx, "presence sweep loop disabled; relying on an external scheduler")
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(loopCtx)

	logger.InfoContext(ctx, "presence sweep loop started",
		"interval", s.cfg.Interval,
		"online_threshold", s.cfg.OnlineThreshold,
		"grace", s.cfg.Grace,
		"backend", s.Backend(),
	)
	return true
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (s *PresenceSweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.running.Store(false)
}

// Running reports whether the loop is active.
func (s *PresenceSweeper) Running() bool {
	return s.running.Load()
}

func (s *PresenceSweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := s.newTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.SweepOnce(ctx)
		}
	}
}
