package modhost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
)

// SupervisorConfig configures the failure supervisor.
type SupervisorConfig struct {
	// Schedule is a cron expression or descriptor such as "@every 30s".
	Schedule string `yaml:"schedule" toml:"schedule" env:"SCHEDULE" default:"@every 30s"`

	// InitialInterval is the wait before the first retry of a module.
	InitialInterval time.Duration `yaml:"initial_interval" toml:"initial_interval" env:"INITIAL_INTERVAL" default:"10s"`

	// MaxInterval caps the exponential growth of the wait.
	MaxInterval time.Duration `yaml:"max_interval" toml:"max_interval" env:"MAX_INTERVAL" default:"5m"`

	// MaxAttempts bounds how often a module's wait is extended; the module
	// gets MaxAttempts+1 tries in total. Zero retries forever.
	MaxAttempts uint64 `yaml:"max_attempts" toml:"max_attempts" env:"MAX_ATTEMPTS"`
}

type retryState struct {
	backoff  backoff.BackOff
	next     time.Time
	attempts int
	gaveUp   bool
}

// Supervisor periodically retries the start of modules whose last start
// failed. Each module is spaced out by its own exponential backoff, so a
// module that keeps failing is retried less and less often.
type Supervisor struct {
	host   *Host
	cfg    SupervisorConfig
	logger Logger
	now    func() time.Time

	cron  *cron.Cron
	entry cron.EntryID

	passMu sync.Mutex

	mu      sync.Mutex
	retries map[string]*retryState
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewSupervisor creates a supervisor for h.
func NewSupervisor(h *Host, cfg SupervisorConfig) *Supervisor {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 30s"
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 10 * time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Minute
	}
	return &Supervisor{
		host:    h,
		cfg:     cfg,
		logger:  h.logger,
		now:     time.Now,
		cron:    cron.New(),
		retries: make(map[string]*retryState),
	}
}

// Start schedules the retry pass.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	entry, err := s.cron.AddFunc(s.cfg.Schedule, func() { s.RunOnce(s.ctx) })
	if err != nil {
		s.cancel()
		return fmt.Errorf("scheduling supervisor %q: %w", s.cfg.Schedule, err)
	}
	s.entry = entry
	s.cron.Start()
	s.running = true
	s.logger.Info("Supervisor started", "schedule", s.cfg.Schedule)
	return nil
}

// Stop unschedules the retry pass and waits for a running pass to finish
// or ctx to end.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cron.Remove(s.entry)
	s.cancel()
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("Supervisor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce retries every due module once and returns how many were attempted.
func (s *Supervisor) RunOnce(ctx context.Context) int {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	failures := s.host.Failures()
	failing := make(map[string]bool, len(failures))
	now := s.now()
	attempted := 0

	for _, f := range failures {
		if f.Phase != PhaseStart {
			continue
		}
		state, ok := s.host.State(f.ModuleID)
		if !ok || state == StateStarted || state == StateDisabled {
			continue
		}
		failing[f.ModuleID] = true

		attempts, due := s.claimAttempt(f.ModuleID, now)
		if !due {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		attempted++
		state, err := s.host.Start(ctx, f.ModuleID)
		if err == nil && state == StateStarted {
			s.logger.Info("Supervisor restarted module", "module", f.ModuleID, "attempts", attempts)
			s.forget(f.ModuleID)
			continue
		}
		s.scheduleNext(f.ModuleID, now, err)
	}

	s.mu.Lock()
	for id := range s.retries {
		if !failing[id] {
			delete(s.retries, id)
		}
	}
	s.mu.Unlock()
	return attempted
}

// Attempts returns how many retries were made for a module since it last failed fresh.
func (s *Supervisor) Attempts(moduleID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs, ok := s.retries[moduleID]; ok {
		return rs.attempts
	}
	return 0
}

// claimAttempt reports whether a module is due and counts the attempt.
func (s *Supervisor) claimAttempt(id string, now time.Time) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.retryStateLocked(id, now)
	if rs.gaveUp || now.Before(rs.next) {
		return rs.attempts, false
	}
	rs.attempts++
	return rs.attempts, true
}

func (s *Supervisor) scheduleNext(id string, now time.Time, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.retryStateLocked(id, now)
	wait := rs.backoff.NextBackOff()
	if wait == backoff.Stop {
		rs.gaveUp = true
		s.logger.Warn("Supervisor gave up on module", "module", id, "attempts", rs.attempts)
		return
	}
	rs.next = now.Add(wait)
	s.logger.Debug("Supervisor retry scheduled", "module", id, "in", wait, "error", cause)
}

func (s *Supervisor) retryStateLocked(id string, now time.Time) *retryState {
	if rs, ok := s.retries[id]; ok {
		return rs
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.cfg.InitialInterval
	eb.MaxInterval = s.cfg.MaxInterval
	eb.MaxElapsedTime = 0
	eb.RandomizationFactor = 0
	eb.Reset()

	var b backoff.BackOff = eb
	if s.cfg.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(eb, s.cfg.MaxAttempts)
	}
	rs := &retryState{backoff: b, next: now}
	s.retries[id] = rs
	return rs
}

func (s *Supervisor) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.retries, id)
}
