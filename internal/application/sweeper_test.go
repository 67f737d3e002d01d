package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/presence-service/internal/heartbeat"
)

var sweepNow = time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

func testSweepConfig() SweepConfig {
	return SweepConfig{
		Enabled:         true,
		Mode:            SweepModeThread,
		Interval:        60 * time.Second,
		OnlineThreshold: 300 * time.Second,
		Grace:           30 * time.Second,
	}
}

func sweepFixture() *directoryStub {
	stale := sweepNow.Add(-331 * time.Second)
	fresh := sweepNow.Add(-329 * time.Second)
	return newDirectoryStub(
		User{ID: "stale", IsOnline: true, LastSeenAt: timePtr(stale)},
		User{ID: "fresh", IsOnline: true, LastSeenAt: timePtr(fresh)},
		User{ID: "offline", IsOnline: false, LastSeenAt: timePtr(stale)},
		User{ID: "never-seen", IsOnline: true},
	)
}

func TestSweepConfig(t *testing.T) {
	t.Parallel()

	cfg := testSweepConfig()
	if got, want := cfg.Cutoff(sweepNow), sweepNow.Add(-330*time.Second); !got.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", got, want)
	}
	if got := cfg.LocalPruneAge(); got != 330*time.Second*12 {
		t.Fatalf("local prune age = %v", got)
	}

	short := SweepConfig{OnlineThreshold: time.Second, Grace: 0}
	if got := short.LocalPruneAge(); got != time.Minute {
		t.Fatalf("expected one minute floor, got %v", got)
	}
}

func TestPresenceSweeper_SweepOnce(t *testing.T) {
	t.Parallel()

	t.Run("disabled sweeps are skipped without I/O", func(t *testing.T) {
		t.Parallel()
		dir := sweepFixture()
		lock := &lockStub{}
		cfg := testSweepConfig()
		cfg.Enabled = false
		sweeper := NewPresenceSweeper(cfg, SweeperDeps{Directory: dir, Stale: dir, Lock: lock, Now: func() time.Time { return sweepNow }})

		outcome := sweeper.SweepOnce(context.Background())
		if outcome.Status != SweepSkipped || outcome.Reason != SkipReasonDisabled {
			t.Fatalf("unexpected outcome: %+v", outcome)
		}
		if lock.acquired != 0 || !dir.get("stale").IsOnline {
			t.Fatalf("disabled sweep must not touch the lock or the store")
		}
	})

	for _, shared := range []bool{true, false} {
		shared := shared
		name := "fallback demotes only users past the cutoff"
		if shared {
			name = "shared demotes only users past the cutoff"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			dir := sweepFixture()
			lock := &lockStub{}
			deps := SweeperDeps{Directory: dir, Lock: lock, Now: func() time.Time { return sweepNow }}
			if shared {
				deps.Stale = dir
			}
			sweeper := NewPresenceSweeper(testSweepConfig(), deps)

			outcome := sweeper.SweepOnce(context.Background())
			if outcome.Status != SweepOK {
				t.Fatalf("expected ok outcome, got %+v", outcome)
			}
			if outcome.Demoted != 1 {
				t.Fatalf("expected one demotion, got %d", outcome.Demoted)
			}
			if dir.get("stale").IsOnline {
				t.Fatalf("expected stale user to be demoted")
			}
			if !dir.get("fresh").IsOnline {
				t.Fatalf("expected fresh user to stay online")
			}
			if dir.get("offline").IsOnline {
				t.Fatalf("sweep must never promote a user")
			}
			if !dir.get("never-seen").IsOnline {
				t.Fatalf("users without a last-seen time are left alone")
			}

			if shared {
				if sweeper.Backend() != SweepBackendShared || lock.acquired != 1 || lock.released != 1 {
					t.Fatalf("expected one lock round-trip, got acquired=%d released=%d", lock.acquired, lock.released)
				}
			} else if sweeper.Backend() != SweepBackendFallback || lock.acquired != 0 {
				t.Fatalf("fallback must not take the lock")
			}
		})
	}

	t.Run("busy lock skips the tick", func(t *testing.T) {
		t.Parallel()
		dir := sweepFixture()
		lock := &lockStub{busy: true}
		sweeper := NewPresenceSweeper(testSweepConfig(), SweeperDeps{Directory: dir, Stale: dir, Lock: lock, Now: func() time.Time { return sweepNow }})

		outcome := sweeper.SweepOnce(context.Background())
		if outcome.Status != SweepSkipped || outcome.Reason != SkipReasonLockBusy {
			t.Fatalf("unexpected outcome: %+v", outcome)
		}
		if !dir.get("stale").IsOnline {
			t.Fatalf("skipped tick must not demote")
		}
		if lock.released != 0 {
			t.Fatalf("an unacquired lock must not be released")
		}
	})

	t.Run("store failures are reported and the lock released", func(t *testing.T) {
		t.Parallel()
		dir := sweepFixture()
		dir.staleErr = errors.New("database is locked")
		lock := &lockStub{}
		sweeper := NewPresenceSweeper(testSweepConfig(), SweeperDeps{Directory: dir, Stale: dir, Lock: lock, Now: func() time.Time { return sweepNow }})

		outcome := sweeper.SweepOnce(context.Background())
		if outcome.Status != SweepFailed || !errors.Is(outcome.Err, dir.staleErr) {
			t.Fatalf("unexpected outcome: %+v", outcome)
		}
		if lock.released != 1 {
			t.Fatalf("expected lock release after failure")
		}
	})

	t.Run("lock errors fail the tick", func(t *testing.T) {
		t.Parallel()
		dir := sweepFixture()
		lock := &lockStub{acquireErr: errors.New("connection refused")}
		sweeper := NewPresenceSweeper(testSweepConfig(), SweeperDeps{Directory: dir, Stale: dir, Lock: lock, Now: func() time.Time { return sweepNow }})

		outcome := sweeper.SweepOnce(context.Background())
		if outcome.Status != SweepFailed || !errors.Is(outcome.Err, lock.acquireErr) {
			t.Fatalf("unexpected outcome: %+v", outcome)
		}
	})

	t.Run("panics become failed outcomes and release the lock", func(t *testing.T) {
		t.Parallel()
		lock := &lockStub{}
		sweeper := NewPresenceSweeper(testSweepConfig(), SweeperDeps{Stale: panicStale{}, Lock: lock})

		outcome := sweeper.SweepOnce(context.Background())
		if outcome.Status != SweepFailed || outcome.Err == nil {
			t.Fatalf("expected failed outcome, got %+v", outcome)
		}
		if lock.released != 1 {
			t.Fatalf("expected lock release during panic unwinding")
		}
	})

	t.Run("fallback keeps demoting after a failed update", func(t *testing.T) {
		t.Parallel()
		dir := sweepFixture()
		dir.updateErr = errors.New("read-only")
		sweeper := NewPresenceSweeper(testSweepConfig(), SweeperDeps{Directory: dir, Now: func() time.Time { return sweepNow }})

		outcome := sweeper.SweepOnce(context.Background())
		if outcome.Status != SweepFailed || !errors.Is(outcome.Err, dir.updateErr) {
			t.Fatalf("unexpected outcome: %+v", outcome)
		}
	})

	t.Run("prunes local entries and reports metrics", func(t *testing.T) {
		t.Parallel()
		clock := sweepNow
		tracker := heartbeat.NewTracker(func() time.Time { return clock })
		tracker.RecordPing("old", heartbeat.KindHeartbeat, nil)
		clock = clock.Add(2 * time.Hour)
		tracker.RecordPing("new", heartbeat.KindHeartbeat, nil)

		metrics := &recordingInstrumentation{}
		sweeper := NewPresenceSweeper(testSweepConfig(), SweeperDeps{
			Tracker:         tracker,
			Directory:       newDirectoryStub(),
			Instrumentation: metrics,
			Now:             func() time.Time { return clock },
		})

		outcome := sweeper.SweepOnce(context.Background())
		if outcome.Pruned != 1 {
			t.Fatalf("expected one pruned entry, got %d", outcome.Pruned)
		}
		if _, ok := tracker.Get("old"); ok {
			t.Fatalf("expected old entry to be pruned")
		}
		if metrics.sweepCount() != 1 || metrics.lastSize != 1 {
			t.Fatalf("unexpected metrics: sweeps=%d size=%d", metrics.sweepCount(), metrics.lastSize)
		}
	})
}

func TestPresenceSweeper_Lifecycle(t *testing.T) {
	t.Parallel()

	t.Run("disabled mode never starts the loop", func(t *testing.T) {
		t.Parallel()
		cfg := testSweepConfig()
		cfg.Mode = SweepModeDisabled
		sweeper := NewPresenceSweeper(cfg, SweeperDeps{Directory: newDirectoryStub()})
		if sweeper.Start(context.Background()) {
			t.Fatalf("expected disabled mode to refuse to start")
		}
		if sweeper.Running() {
			t.Fatalf("expected sweeper to stay idle")
		}
		sweeper.Stop()
	})

	t.Run("concurrent starts create a single loop", func(t *testing.T) {
		t.Parallel()
		var (
			mu      sync.Mutex
			tickers []*manualTicker
		)
		metrics := &recordingInstrumentation{}
		sweeper := NewPresenceSweeper(testSweepConfig(), SweeperDeps{
			Directory:       sweepFixture(),
			Instrumentation: metrics,
			Now:             func() time.Time { return sweepNow },
			NewTicker: func(time.Duration) Ticker {
				mu.Lock()
				defer mu.Unlock()
				tk := newManualTicker()
				tickers = append(tickers, tk)
				return tk
			},
		})

		var (
			wg      sync.WaitGroup
			startMu sync.Mutex
			started int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if sweeper.Start(context.Background()) {
					startMu.Lock()
					started++
					startMu.Unlock()
				}
			}()
		}
		wg.Wait()
		if started != 1 {
			t.Fatalf("expected exactly one successful start, got %d", started)
		}
		if !sweeper.Running() {
			t.Fatalf("expected sweeper to be running")
		}

		var ticker *manualTicker
		deadline := time.Now().Add(2 * time.Second)
		for ticker == nil {
			mu.Lock()
			if len(tickers) > 0 {
				ticker = tickers[0]
			}
			mu.Unlock()
			if time.Now().After(deadline) {
				t.Fatalf("loop never created its ticker")
			}
			time.Sleep(time.Millisecond)
		}

		ticker.ch <- sweepNow
		ticker.ch <- sweepNow
		sweeper.Stop()

		if sweeper.Running() {
			t.Fatalf("expected sweeper to stop")
		}
		select {
		case <-ticker.stopped:
		default:
			t.Fatalf("expected ticker to be stopped")
		}
		if got := metrics.sweepCount(); got < 1 || got > 2 {
			t.Fatalf("expected ticks to drive sweeps, got %d", got)
		}
		mu.Lock()
		defer mu.Unlock()
		if len(tickers) != 1 {
			t.Fatalf("expected a single ticker, got %d", len(tickers))
		}
	})

	t.Run("a failed tick does not stop the loop", func(t *testing.T) {
		t.Parallel()
		dir := sweepFixture()
		dir.staleErr = errors.New("transient")
		ticker := newManualTicker()
		metrics := &recordingInstrumentation{}
		sweeper := NewPresenceSweeper(testSweepConfig(), SweeperDeps{
			Directory:       dir,
			Stale:           dir,
			Lock:            &lockStub{},
			Instrumentation: metrics,
			Now:             func() time.Time { return sweepNow },
			NewTicker:       func(time.Duration) Ticker { return ticker },
		})
		sweeper.Start(context.Background())
		defer sweeper.Stop()

		ticker.ch <- sweepNow
		ticker.ch <- sweepNow
		ticker.ch <- sweepNow
		if !sweeper.Running() {
			t.Fatalf("expected loop to survive failed ticks")
		}
		if metrics.sweepCount() < 2 {
			t.Fatalf("expected the loop to keep sweeping, got %d", metrics.sweepCount())
		}
	})
}
