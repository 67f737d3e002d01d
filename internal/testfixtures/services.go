package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/presence-service/internal/application"
	"github.com/example/presence-service/internal/heartbeat"
)

// ServiceFactory assists tests with constructing presence services that share
// a tracker and a controllable clock.
type ServiceFactory struct {
	Clock   *Clock
	Tracker *heartbeat.Tracker
	Logger  *slog.Logger
	Sweep   application.SweepConfig
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults matching the
// production configuration.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock: NewClock(time.Time{}),
		Sweep: application.SweepConfig{
			Enabled:         true,
			Mode:            application.SweepModeThread,
			Interval:        60 * time.Second,
			OnlineThreshold: 300 * time.Second,
			Grace:           30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.Tracker == nil {
		factory.Tracker = heartbeat.NewTracker(factory.Clock.NowFunc())
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithLogger sets the logger handed to every service.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Logger = logger
	}
}

// WithSweepConfig overrides the sweep settings.
func WithSweepConfig(cfg application.SweepConfig) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Sweep = cfg
	}
}

// NewPresenceService builds a presence service on the shared tracker.
func (f *ServiceFactory) NewPresenceService(directory application.UserDirectory) *application.PresenceService {
	return application.NewPresenceService(application.PresenceServiceDeps{
		Tracker:         f.Tracker,
		Directory:       directory,
		OnlineThreshold: f.Sweep.OnlineThreshold,
		Logger:          f.Logger,
		Now:             f.Clock.NowFunc(),
	})
}

// NewActivityService builds an activity service whose long-poll waits advance
// the factory clock instead of sleeping.
func (f *ServiceFactory) NewActivityService(directory application.UserDirectory) *application.ActivityService {
	return application.NewActivityService(application.ActivityServiceDeps{
		Directory: directory,
		Logger:    f.Logger,
		Now:       f.Clock.NowFunc(),
		After:     f.Clock.After,
	})
}

// SweeperDeps captures the store-side collaborators of a sweeper.
type SweeperDeps struct {
	Directory application.UserDirectory
	Stale     application.StalePresenceStore
	Lock      application.DistributedLock
}

// NewSweeper builds a sweeper on the shared tracker.
func (f *ServiceFactory) NewSweeper(deps SweeperDeps) *application.PresenceSweeper {
	return application.NewPresenceSweeper(f.Sweep, application.SweeperDeps{
		Tracker:   f.Tracker,
		Directory: deps.Directory,
		Stale:     deps.Stale,
		Lock:      deps.Lock,
		Logger:    f.Logger,
		Now:       f.Clock.NowFunc(),
	})
}
