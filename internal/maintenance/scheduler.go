// Package maintenance runs periodic SQLite housekeeping on a cron schedule.
package maintenance

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/lighter/internal/config"
)

const (
	OptimizeScheduleSetting = "maintenance.optimize_schedule"
	VacuumScheduleSetting   = "maintenance.vacuum_schedule"

	DefaultOptimizeSchedule = "@daily"
	DefaultVacuumSchedule   = "@weekly"

	// ScheduleOff disables a task
	ScheduleOff = "off"
)

// Store is the database housekeeping surface
type Store interface {
	Optimize() error
	Vacuum() error
	Checkpoint() error
}

// Status reports the next planned runs
type Status struct {
	Running      bool       `json:"running"`
	NextOptimize *time.Time `json:"next_optimize,omitempty"`
	NextVacuum   *time.Time `json:"next_vacuum,omitempty"`
}

// Scheduler runs optimize and vacuum tasks against a Store
type Scheduler struct {
	store  Store
	loader *config.Loader
	cron   *cron.Cron

	optimizeEntry cron.EntryID
	vacuumEntry   cron.EntryID

	mu      sync.RWMutex
	running bool
}

// NewScheduler creates a scheduler reading its schedules through loader
func NewScheduler(store Store, loader *config.Loader) *Scheduler {
	return &Scheduler{
		store:  store,
		loader: loader,
		cron:   cron.New(),
	}
}

// Start registers the configured schedules and starts the cron runner. An
// invalid schedule is an error and nothing is started.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	optimizeSchedule := s.loader.String(OptimizeScheduleSetting, DefaultOptimizeSchedule)
	vacuumSchedule := s.loader.String(VacuumScheduleSetting, DefaultVacuumSchedule)

	id, err := s.addTask(optimizeSchedule, "optimize", s.RunOptimize)
	if err != nil {
		return err
	}
	s.optimizeEntry = id

	id, err = s.addTask(vacuumSchedule, "vacuum", s.RunVacuum)
	if err != nil {
		s.removeEntries()
		return err
	}
	s.vacuumEntry = id

	s.cron.Start()
	s.running = true

	log.Info().
		Str("optimize", optimizeSchedule).
		Str("vacuum", vacuumSchedule).
		Msg("Maintenance scheduler started")

	return nil
}

// Stop stops the scheduler and waits for a running task to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.removeEntries()
	s.running = false
	log.Info().Msg("Maintenance scheduler stopped")
}

// Status returns the current scheduler status
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{Running: s.running}
	status.NextOptimize = s.next(s.optimizeEntry)
	status.NextVacuum = s.next(s.vacuumEntry)
	return status
}

// Preview reports when the configured tasks would next run after now,
// without starting the scheduler.
func (s *Scheduler) Preview(now time.Time) (Status, error) {
	var status Status
	for _, task := range []struct {
		key, fallback string
		next          **time.Time
	}{
		{OptimizeScheduleSetting, DefaultOptimizeSchedule, &status.NextOptimize},
		{VacuumScheduleSetting, DefaultVacuumSchedule, &status.NextVacuum},
	} {
		expr := s.loader.String(task.key, task.fallback)
		if expr == ScheduleOff {
			continue
		}
		schedule, err := cron.ParseStandard(expr)
		if err != nil {
			return Status{}, fmt.Errorf("invalid schedule %q for %s: %w", expr, task.key, err)
		}
		next := schedule.Next(now)
		*task.next = &next
	}
	return status, nil
}

// RunOptimize refreshes planner statistics and checkpoints the WAL
func (s *Scheduler) RunOptimize() error {
	start := time.Now()
	if err := s.store.Optimize(); err != nil {
		return err
	}
	if err := s.store.Checkpoint(); err != nil {
		return err
	}
	log.Info().Dur("duration", time.Since(start)).Msg("Database optimized")
	return nil
}

// RunVacuum rebuilds the database file
func (s *Scheduler) RunVacuum() error {
	start := time.Now()
	if err := s.store.Vacuum(); err != nil {
		return err
	}
	log.Info().Dur("duration", time.Since(start)).Msg("Database vacuumed")
	return nil
}

func (s *Scheduler) addTask(schedule, name string, run func() error) (cron.EntryID, error) {
	if schedule == ScheduleOff {
		log.Debug().Str("task", name).Msg("Maintenance task disabled")
		return 0, nil
	}
	id, err := s.cron.AddFunc(schedule, func() {
		if err := run(); err != nil {
			log.Error().Err(err).Str("task", name).Msg("Scheduled maintenance failed")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("invalid %s schedule %q: %w", name, schedule, err)
	}
	return id, nil
}

func (s *Scheduler) removeEntries() {
	if s.optimizeEntry != 0 {
		s.cron.Remove(s.optimizeEntry)
		s.optimizeEntry = 0
	}
	if s.vacuumEntry != 0 {
		s.cron.Remove(s.vacuumEntry)
		s.vacuumEntry = 0
	}
}

func (s *Scheduler) next(id cron.EntryID) *time.Time {
	if id == 0 {
		return nil
	}
	entry := s.cron.Entry(id)
	if entry.Next.IsZero() {
		return nil
	}
	next := entry.Next
	return &next
}
