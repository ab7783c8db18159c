// Package simulator drives synthetic operations through a registry. It backs
// `progressctl simulate` and doubles as a load generator for the broadcast path.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"progresshub/internal/infrastructure"
	"progresshub/internal/operations"
	"progresshub/pkg/contracts/domain"
)

// ErrSimulatedFailure is the cause of every injected failure
var ErrSimulatedFailure = errors.New("simulated failure")

// Config shapes a simulation run
type Config struct {
	Operations        int
	Steps             int
	TicksPerStep      int
	TickInterval      time.Duration
	Concurrency       int
	LaunchRate        float64 // operations started per second, 0 for no limit
	CancelProbability float64
	FailProbability   float64
	OperationType     string
	Seed              uint64
}

// DefaultConfig returns a short, visible run
func DefaultConfig() Config {
	return Config{
		Operations:        5,
		Steps:             4,
		TicksPerStep:      5,
		TickInterval:      200 * time.Millisecond,
		Concurrency:       3,
		LaunchRate:        2,
		CancelProbability: 0.1,
		FailProbability:   0.1,
		OperationType:     "simulation",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Operations <= 0 {
		c.Operations = d.Operations
	}
	if c.Steps <= 0 {
		c.Steps = d.Steps
	}
	if c.TicksPerStep <= 0 {
		c.TicksPerStep = d.TicksPerStep
	}
	if c.TickInterval < 0 {
		c.TickInterval = 0
	}
	if c.Concurrency <= 0 {
		c.Concurrency = c.Operations
	}
	if c.OperationType == "" {
		c.OperationType = d.OperationType
	}
	c.CancelProbability = min(max(c.CancelProbability, 0), 1)
	c.FailProbability = min(max(c.FailProbability, 0), 1)
	return c
}

// Summary counts how each simulated operation ended
type Summary struct {
	Started   int
	Completed int
	Failed    int
	Canceled  int
}

func (s *Summary) record(status domain.OperationStatus) {
	switch status {
	case domain.OperationStatusCompleted:
		s.Completed++
	case domain.OperationStatusFailed:
		s.Failed++
	case domain.OperationStatusCanceled:
		s.Canceled++
	}
}

// Registry is the part of operations.Registry the simulator drives
type Registry interface {
	NewOperation(ctx context.Context, opType, name string, opts ...operations.ReporterOption) (*operations.Reporter, error)
	CancelOperation(ctx context.Context, id string) bool
}

// Simulator runs synthetic operations
type Simulator struct {
	registry Registry
	cfg      Config
	logger   *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a simulator. A zero Seed picks a random one.
func New(registry Registry, cfg Config, logger *slog.Logger) *Simulator {
	cfg = cfg.withDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Simulator{
		registry: registry,
		cfg:      cfg,
		logger:   infrastructure.ComponentLogger(logger, "simulator"),
		rng:      rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

// plan is decided up front so a seeded run is reproducible regardless of scheduling
type plan struct {
	cancelAt int // tick index, -1 for never
	failAt   int
}

func (s *Simulator) plan() plan {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.cfg.Steps * s.cfg.TicksPerStep
	p := plan{cancelAt: -1, failAt: -1}
	if s.rng.Float64() < s.cfg.CancelProbability {
		p.cancelAt = s.rng.IntN(total)
	} else if s.rng.Float64() < s.cfg.FailProbability {
		p.failAt = s.rng.IntN(total)
	}
	return p
}

// Run starts every operation and waits until all of them are terminal or ctx ends
func (s *Simulator) Run(ctx context.Context) (Summary, error) {
	var (
		summary Summary
		mu      sync.Mutex
	)

	limit := rate.Inf
	if s.cfg.LaunchRate > 0 {
		limit = rate.Limit(s.cfg.LaunchRate)
	}
	launcher := rate.NewLimiter(limit, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i := range s.cfg.Operations {
		if err := launcher.Wait(gctx); err != nil {
			break
		}

		p := s.plan()
		name := fmt.Sprintf("%s #%d", s.cfg.OperationType, i+1)
		g.Go(func() error {
			reporter, err := s.registry.NewOperation(gctx, s.cfg.OperationType, name)
			if err != nil {
				return fmt.Errorf("create %s: %w", name, err)
			}

			mu.Lock()
			summary.Started++
			mu.Unlock()

			// simulated failures are outcomes, not run errors
			_ = operations.Track(gctx, reporter, func(ctx context.Context, r *operations.Reporter) error {
				return s.work(ctx, r, p)
			})

			mu.Lock()
			summary.record(reporter.Status())
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	s.logger.InfoContext(ctx, "simulation finished",
		slog.Int("started", summary.Started),
		slog.Int("completed", summary.Completed),
		slog.Int("failed", summary.Failed),
		slog.Int("canceled", summary.Canceled))

	return summary, err
}

func (s *Simulator) work(ctx context.Context, r *operations.Reporter, p plan) error {
	steps := s.cfg.Steps
	ticks := s.cfg.TicksPerStep
	total := float64(steps * ticks)

	var timer *time.Ticker
	if s.cfg.TickInterval > 0 {
		timer = time.NewTicker(s.cfg.TickInterval)
		defer timer.Stop()
	}

	for tick := range steps * ticks {
		step := fmt.Sprintf("step %d", tick/ticks+1)

		if tick == p.cancelAt {
			s.registry.CancelOperation(ctx, r.ID())
		}
		if r.ShouldCancel() {
			return nil
		}
		if tick == p.failAt {
			return operations.NewExecutionError(step, ErrSimulatedFailure, false)
		}

		// stop short of 100 so Track decides the final status
		overall := min(float64(tick+1)/total*100, 99.9)
		r.ReportProgress(ctx, overall,
			operations.WithStep(step),
			operations.WithTotalSteps(steps),
			operations.WithStepProgress(float64(tick%ticks+1)/float64(ticks)*100),
		)

		if timer == nil {
			continue
		}
		select {
		case <-ctx.Done():
			r.ReportCanceled(context.WithoutCancel(ctx), map[string]any{"reason": "simulation stopped"})
			return nil
		case <-timer.C:
		}
	}
	return nil
}
