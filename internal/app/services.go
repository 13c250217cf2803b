package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/smartbrite/brited/internal/config"
	"github.com/smartbrite/brited/internal/db"
	"github.com/smartbrite/brited/internal/dispatch"
	"github.com/smartbrite/brited/internal/engine"
	"github.com/smartbrite/brited/internal/eventbus"
	"github.com/smartbrite/brited/internal/led"
	"github.com/smartbrite/brited/internal/ledger"
	"github.com/smartbrite/brited/internal/light"
	"github.com/smartbrite/brited/internal/schedule"
	"github.com/smartbrite/brited/internal/storage"
	"github.com/smartbrite/brited/internal/transport"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Store  *storage.Store
	Bus    *eventbus.Bus

	// Command engine
	Table      *schedule.Table
	Lights     *light.Machine
	Engine     *engine.Engine
	Dispatcher *dispatch.Dispatcher

	// Boundaries
	Driver    led.Driver
	Renderer  *led.Renderer
	Transport *transport.Server

	group *errgroup.Group
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize ledger and persistence store
	s.Ledger = ledger.New(database.DB)
	s.Store = storage.New(database.DB)

	// Initialize event bus
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	// Schedule table in the configured timezone
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Table = schedule.NewTable(loc)

	// Light machine with its output wired to the LED boundary
	s.Driver = led.LogDriver{}
	s.Lights = light.NewMachine(led.Sink(s.Driver, s.Bus))
	s.Renderer = led.NewRenderer(s.Lights, nil, cfg.Render.Interval.Duration())

	// Scheduler engine and command dispatcher share the table and machine
	s.Engine = engine.New(s.Table, s.Lights, s.Bus, s.Ledger, nil, cfg.Scheduler.TickInterval.Duration())
	s.Dispatcher = dispatch.New(s.Lights, s.Table, s.Bus, nil)

	// Websocket command transport
	if cfg.Transport.Enabled {
		s.Transport = transport.NewServer(transport.Config{
			Host:    cfg.Transport.Host,
			Port:    cfg.Transport.Port,
			SendBuf: cfg.Transport.SendBuf,
		}, s.Dispatcher, s.Bus)
	}

	return s, nil
}

// Start restores persisted state, wires persistence subscribers and launches
// all background loops. The onFatalError callback fires when a loop exits
// with an error other than context cancellation.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	if err := s.restoreState(); err != nil {
		return err
	}
	s.subscribePersistence()

	s.group, ctx = errgroup.WithContext(ctx)
	launch := func(name string, run func(context.Context) error) {
		s.group.Go(func() error {
			err := run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("service", name).Msg("Service failed")
				onFatalError(err)
				return err
			}
			return nil
		})
	}

	launch("engine", s.Engine.Run)
	launch("renderer", s.Renderer.Run)
	if s.Transport != nil {
		launch("transport", s.Transport.Run)
	}
	launch("ledger-cleanup", s.runLedgerCleanup)

	return nil
}

// restoreState loads the persisted snapshot and schedule into the machine
// and table. Missing or partially corrupt state is tolerated: the defaults
// stand in for whatever could not be loaded.
func (s *Services) restoreState() error {
	now := time.Now()

	snap, err := s.Store.LoadSnapshot()
	if err != nil {
		return err
	}
	switch {
	case snap != nil:
		if err := s.Lights.Restore(*snap, now); err != nil {
			log.Warn().Err(err).Msg("Ignoring unusable persisted light state")
		} else {
			log.Info().Bool("power", snap.Power).Msg("Restored light state")
		}
	default:
		// First boot: apply the configured defaults.
		if err := s.Lights.SetBrightness(s.cfg.Light.GetBrightness(), now); err != nil {
			log.Warn().Err(err).Msg("Ignoring invalid configured brightness")
		}
		s.Lights.SetPower(s.cfg.Light.Power, now)
	}

	entries, skipped, err := s.Store.LoadEntries()
	if err != nil {
		return err
	}
	loaded, invalid := s.Table.Restore(entries, now)
	skipped += invalid
	if loaded > 0 || skipped > 0 {
		log.Info().Int("loaded", loaded).Int("skipped", skipped).Msg("Restored schedule")
	}
	return nil
}

// subscribePersistence saves state as it changes. Both the dispatcher and
// the engine announce changes on the bus, so one subscriber covers commands
// and scheduled firings alike.
func (s *Services) subscribePersistence() {
	s.Bus.Subscribe(eventbus.TypeState, func(e eventbus.Event) {
		snap, ok := e.Payload.(light.Snapshot)
		if !ok {
			return
		}
		if err := s.Store.SaveSnapshot(snap); err != nil {
			log.Error().Err(err).Msg("Failed to persist light state")
		}
	})
	s.Bus.Subscribe(eventbus.TypeScheduleChanged, func(e eventbus.Event) {
		entries, ok := e.Payload.([]schedule.Entry)
		if !ok {
			return
		}
		if err := s.Store.SaveEntries(entries); err != nil {
			log.Error().Err(err).Msg("Failed to persist schedule")
		}
	})
}

// runLedgerCleanup prunes old fired-occurrence rows on the configured
// interval so the ledger does not grow without bound.
func (s *Services) runLedgerCleanup(ctx context.Context) error {
	interval := s.cfg.Ledger.CleanupInterval.Duration()
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			deleted, err := s.Ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Ledger cleanup failed")
				continue
			}
			if deleted > 0 {
				log.Info().Int64("deleted", deleted).Msg("Pruned fired-occurrence ledger")
			}
		}
	}
}

// ClearState drops all persisted state.
func (s *Services) ClearState() error {
	return s.Store.Clear()
}

// Stop waits for background loops to exit, then releases resources.
func (s *Services) Stop() error {
	if s.group != nil {
		_ = s.group.Wait()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
	defer cancel()
	s.Bus.Close(shutdownCtx)

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Driver != nil {
		if err := s.Driver.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close LED driver")
		}
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
