package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"farewatch/internal/config"
	"farewatch/internal/runstate"
	"farewatch/internal/service"
	"farewatch/internal/storage"
)

// Trigger statuses.
const (
	StatusStarted        = "started"
	StatusDone           = "done"
	StatusAlreadyRunning = "already_running"
)

// TriggerResult is the outcome of one external trigger.
type TriggerResult struct {
	Status string               `json:"status"`
	Result *storage.CheckResult `json:"result,omitempty"`
}

// Runner is the part of the checker the schedulers drive.
type Runner interface {
	RunCheck(ctx context.Context) (service.Outcome, bool)
	TryStart(ctx context.Context) bool
	State() *runstate.State
}

// Scheduler decides when checks run.
type Scheduler interface {
	Mode() string
	// Run blocks until ctx is cancelled.
	Run(ctx context.Context) error
	// Trigger requests one check now.
	Trigger(ctx context.Context) TriggerResult
}

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	PollInterval time.Duration
}

// New picks the strategy for mode.
func New(mode string, runner Runner, opts Options, logger zerolog.Logger) (Scheduler, error) {
	switch mode {
	case config.ModePersistent:
		return NewPersistent(runner, opts, logger), nil
	case config.ModeTriggered:
		return NewTriggered(runner, logger), nil
	default:
		return nil, fmt.Errorf("unknown scheduler mode %q", mode)
	}
}

// Persistent self-schedules checks from a background loop. The first check
// runs one interval after start, never immediately.
type Persistent struct {
	runner Runner
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// NewPersistent constructs the self-scheduling strategy.
func NewPersistent(runner Runner, opts Options, logger zerolog.Logger) *Persistent {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.PollInterval <= 0 || opts.PollInterval > opts.Interval {
		opts.PollInterval = opts.Interval
	}
	return &Persistent{
		runner: runner,
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Str("mode", config.ModePersistent).Logger(),
		now:    time.Now,
	}
}

func (p *Persistent) Mode() string { return config.ModePersistent }

// Run polls until the interval elapses, runs a check, and repeats.
func (p *Persistent) Run(ctx context.Context) error {
	state := p.runner.State()
	next := p.schedule(state)

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			state.SetNextCheckAt(nil)
			return ctx.Err()
		case <-ticker.C:
		}

		if p.now().Before(next) {
			continue
		}

		p.logger.Info().Time("due", next).Msg("executing scheduled check")
		if _, ran := p.runner.RunCheck(ctx); !ran {
			p.logger.Info().Msg("scheduled check skipped, another check is running")
		}
		next = p.schedule(state)
	}
}

func (p *Persistent) schedule(state *runstate.State) time.Time {
	next := p.now().Add(p.opts.Interval)
	state.SetNextCheckAt(&next)
	p.logger.Debug().Time("next_check_at", next).Msg("next check scheduled")
	return next
}

// Trigger launches a check in the background and returns immediately.
func (p *Persistent) Trigger(ctx context.Context) TriggerResult {
	if !p.runner.TryStart(ctx) {
		return TriggerResult{Status: StatusAlreadyRunning}
	}
	p.logger.Info().Msg("manual check started")
	return TriggerResult{Status: StatusStarted}
}

// Triggered has no background loop; every external invocation runs one
// check synchronously.
type Triggered struct {
	runner Runner
	logger zerolog.Logger
}

// NewTriggered constructs the externally triggered strategy.
func NewTriggered(runner Runner, logger zerolog.Logger) *Triggered {
	return &Triggered{
		runner: runner,
		logger: logger.With().Str("component", "scheduler").Str("mode", config.ModeTriggered).Logger(),
	}
}

func (t *Triggered) Mode() string { return config.ModeTriggered }

// Run only waits for shutdown.
func (t *Triggered) Run(ctx context.Context) error {
	t.runner.State().SetNextCheckAt(nil)
	<-ctx.Done()
	return ctx.Err()
}

// Trigger blocks until the check completes.
func (t *Triggered) Trigger(ctx context.Context) TriggerResult {
	outcome, ran := t.runner.RunCheck(ctx)
	if !ran {
		return TriggerResult{Status: StatusAlreadyRunning}
	}
	result := outcome.Result
	return TriggerResult{Status: StatusDone, Result: &result}
}

var (
	_ Scheduler = (*Persistent)(nil)
	_ Scheduler = (*Triggered)(nil)
	_ Runner    = (*service.Checker)(nil)
)
