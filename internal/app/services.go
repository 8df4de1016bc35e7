package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roompaneld/internal/animator"
	"github.com/dokzlo13/roompaneld/internal/automation"
	"github.com/dokzlo13/roompaneld/internal/config"
	"github.com/dokzlo13/roompaneld/internal/dispatch"
	"github.com/dokzlo13/roompaneld/internal/layer"
	"github.com/dokzlo13/roompaneld/internal/observer"
	"github.com/dokzlo13/roompaneld/internal/panel"
	"github.com/dokzlo13/roompaneld/internal/registry"
	"github.com/dokzlo13/roompaneld/internal/remote"
	"github.com/dokzlo13/roompaneld/internal/script"
	"github.com/dokzlo13/roompaneld/internal/status"
	"github.com/dokzlo13/roompaneld/internal/store"
	"github.com/dokzlo13/roompaneld/internal/switcher"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB       *store.DB
	Ledger   *store.Ledger
	State    *store.StateStore
	Loop     *dispatch.Loop
	Schedule *dispatch.LoopScheduler

	// Collaborators
	Remote    *RemoteService
	Discovery *registry.DiscoveryCache
	Switcher  *switcher.Adapter
	Bridge    *automation.Bridge
	Animator  *animator.Animator
	Script    *script.Runtime

	Machine   *panel.Machine
	Observers *observer.Registry
	Status    *status.Server

	ready       atomic.Bool
	started     bool
	cleanupTask dispatch.Task
	redetecting atomic.Bool
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Ledger = store.NewLedger(database.DB)
	s.State = store.NewStateStore(database.DB)

	s.Loop = dispatch.NewLoop(cfg.Panel.QueueSize)
	s.Schedule = dispatch.NewLoopScheduler(s.Loop)
	s.Observers = observer.NewRegistry()

	if cfg.MQTT.Enabled {
		s.Remote = NewRemoteService(cfg)
	}

	s.Discovery = registry.NewDiscoveryCache(s.buildLister(), cfg.Discovery.TTL.Duration())

	switcherOpts := switcher.Options{
		Cache:     s.Discovery,
		Variables: switcher.VariableMap(cfg.Switcher.Variables),
		Mapping:   switcher.Mapping(cfg.Switcher.Mapping),
		Store:     s.State,
	}
	if s.Remote != nil {
		switcherOpts.Resolver = s.Remote.Devices
	}
	s.Switcher = switcher.New(switcherOpts)

	s.Bridge = automation.NewBridge(s.bridgeOptions())

	overrides, err := cfg.Panel.TransitionOverrides()
	if err != nil {
		s.Close()
		return nil, err
	}
	layout := layer.DefaultLayout()
	layout.Transition = cfg.Panel.Transition

	// The animator navigates through the machine and the machine starts the
	// animator, so the machine is bound after both exist.
	var machine *panel.Machine
	s.Animator = animator.New(animator.Options{
		Scheduler: s.Schedule,
		Timing:    s.Bridge,
		Progress:  s.progressSurface(),
		Navigate: func(target layer.Layer) {
			machine.RequestTransition(target)
		},
		Timeout: cfg.Animator.Timeout.Duration(),
	})

	visual, buttons := s.panelSurfaces()
	machine = panel.New(panel.Options{
		Page:        cfg.Panel.Page,
		Layout:      &layout,
		Transitions: layer.DefaultTransitions().Merge(overrides),
		Visual:      visual,
		Buttons:     buttons,
		Bridge:      s.Bridge,
		Animator:    s.Animator,
		Router:      s.Switcher,
		Observers:   s.Observers,
	})
	s.Machine = machine

	if cfg.Script != "" {
		s.Script = script.NewRuntime(machine, s.Loop)
	}

	if cfg.Status.Enabled {
		s.Status = status.NewServer(status.Options{
			Host:            cfg.Status.Host,
			Port:            cfg.Status.Port,
			ShutdownTimeout: cfg.ShutdownTimeout.Duration(),
			RequestRate:     cfg.Status.RequestRate,
			Panel:           machine,
			Animator:        s.Animator,
			Switcher:        s.Switcher,
			Dispatcher:      s.Loop,
			Ready:           s.ready.Load,
		})
	}

	if err := s.registerObservers(); err != nil {
		s.Close()
		return nil, err
	}

	if s.Remote != nil && cfg.Discovery.Announcements {
		s.Remote.Announcements.OnChange(s.scheduleRedetect)
	}

	return s, nil
}

func (s *Services) buildLister() registry.Lister {
	var listers registry.MultiLister
	if len(s.cfg.Discovery.Components) > 0 {
		listers = append(listers, registry.StaticLister(s.cfg.Discovery.Components))
	}
	if s.Remote != nil && s.cfg.Discovery.Announcements {
		listers = append(listers, s.Remote.Announcements)
	}
	if s.cfg.Discovery.MDNS.Enabled {
		listers = append(listers, registry.NewMDNSLister(s.cfg.Discovery.MDNS.Service, s.cfg.Discovery.MDNS.Timeout.Duration()))
	}
	return listers
}

func (s *Services) bridgeOptions() automation.Options {
	opts := automation.Options{
		Recorder:      s.Ledger,
		LocalWarmup:   s.cfg.Automation.Warmup.Duration(),
		LocalCooldown: s.cfg.Automation.Cooldown.Duration(),
	}
	if s.Remote == nil {
		return opts
	}
	if name := s.cfg.Automation.Component; name != "" {
		component := s.Remote.Component(name)
		opts.Component = component
		opts.Timing = component
	}
	if name := s.cfg.Automation.LocalDevice; name != "" {
		opts.Local = lazyPowerSwitch{devices: s.Remote.Devices, name: name}
	}
	return opts
}

func (s *Services) panelSurfaces() (panel.VisualSurface, panel.ButtonSurface) {
	if s.Remote != nil {
		return s.Remote.Surface, s.Remote.Surface
	}
	return remote.LogSurface{}, remote.LogSurface{}
}

func (s *Services) progressSurface() animator.ProgressSurface {
	if s.Remote != nil {
		return s.Remote.Surface
	}
	return remote.LogSurface{}
}

type registration struct {
	category observer.Category
	observer observer.Observer
}

func (s *Services) registerObservers() error {
	regs := []registration{{observer.CategoryRemote, s.Ledger}}
	if s.Remote != nil {
		regs = append(regs, registration{observer.CategoryRemote, s.Remote.Feed})
	}
	if s.Status != nil {
		regs = append(regs, registration{observer.CategoryRemote, s.Status.Hub()})
	}
	if s.Script != nil {
		regs = append(regs, registration{observer.CategoryRoom, s.Script})
	}

	for _, r := range regs {
		if _, err := s.Observers.Register(r.category, r.observer); err != nil {
			return fmt.Errorf("failed to register observer: %w", err)
		}
	}
	return nil
}

// redetectDelay lets a burst of retained announcements settle before the
// registry is enumerated again.
const redetectDelay = 250 * time.Millisecond

// scheduleRedetect runs on the MQTT client goroutine for every change to the
// announced components. Bursts collapse into one pass on the dispatcher that
// drops the cached enumeration and re-runs switcher detection if disabled.
func (s *Services) scheduleRedetect() {
	if !s.redetecting.CompareAndSwap(false, true) {
		return
	}
	s.Schedule.After(redetectDelay, func() {
		s.redetecting.Store(false)
		s.Discovery.Clear()
		s.Switcher.Redetect(context.Background())
	})
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a background service fails.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	s.started = true
	go s.Loop.Run(ctx)

	if last, ok, err := s.Ledger.LastLayer(); err != nil {
		log.Warn().Err(err).Msg("Failed to read last recorded layer")
	} else if ok {
		log.Info().Str("layer", last.String()).Msg("Last recorded layer before restart, booting on Start")
	}

	if s.Remote != nil {
		if err := s.Remote.Start(s.Machine, s.Loop); err != nil {
			return err
		}
	}

	// Everything below touches dispatcher-owned state.
	err := s.Loop.DoWait(ctx, func(workCtx context.Context) error {
		if s.Script != nil {
			if err := s.Script.LoadScript(s.cfg.Script); err != nil {
				return err
			}
			if s.Script.HasController() {
				s.Bridge.SetController(s.Script)
			}
		}

		state := s.Switcher.Initialize(workCtx)
		log.Info().Str("state", state.String()).Msg("Switcher initialized")

		s.Machine.Boot()
		return nil
	})
	if err != nil {
		return err
	}

	s.startLedgerCleanup()

	if s.Status != nil {
		go func() {
			if err := s.Status.Run(ctx); err != nil {
				onFatalError(fmt.Errorf("status server: %w", err))
			}
		}()
	}

	s.ready.Store(true)
	return nil
}

func (s *Services) startLedgerCleanup() {
	retention := s.cfg.Ledger.Retention()
	s.cleanupTask = s.Schedule.Every(s.cfg.Ledger.CleanupInterval.Duration(), func() {
		deleted, err := s.Ledger.DeleteOlderThan(retention)
		if err != nil {
			log.Warn().Err(err).Msg("Ledger cleanup failed")
			return
		}
		if deleted > 0 {
			log.Info().Int64("deleted", deleted).Msg("Ledger cleanup")
		}
	})
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.ready.Store(false)
	if s.cleanupTask != nil {
		s.cleanupTask.Stop()
	}
	s.Loop.Close()
	if s.started {
		<-s.Loop.Done()
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Remote != nil {
		s.Remote.Close()
	}
	if s.Script != nil {
		s.Script.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
