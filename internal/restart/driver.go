// Package restart runs seed-then-search cycles from independent seeds and keeps
// the best solution across them.
package restart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"towerplan/internal/coverage"
	"towerplan/internal/grid"
	"towerplan/internal/search"
	"towerplan/internal/seed"
)

var ErrAllRestartsFailed = errors.New("restart: every restart failed")

// Status is how a run ended.
type Status string

const (
	TargetMet       Status = "target_met"
	BudgetExhausted Status = "budget_exhausted"
	Cancelled       Status = "cancelled"
)

// Outcome of a single restart.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Seeder is the part of seed.Seeder the driver needs.
type Seeder interface {
	SeedFrom(ctx context.Context, f *seed.Formulation, s int64) (coverage.Solution, seed.Stats, error)
}

type RestartReport struct {
	Index    int            `json:"index"`
	Seed     int64          `json:"seed"`
	Outcome  Outcome        `json:"outcome"`
	Error    string         `json:"error,omitempty"`
	SeedInfo seed.Stats     `json:"seedStats"`
	Search   search.Metrics `json:"search"`
	Score    Score          `json:"score"`
	Improved bool           `json:"improved"`
	Elapsed  time.Duration  `json:"elapsed"`
}

// Event is emitted whenever the shared best improves.
type Event struct {
	Restart  int               `json:"restart"`
	Seed     int64             `json:"seed"`
	Score    Score             `json:"score"`
	Solution coverage.Solution `json:"solution"`
	Elapsed  time.Duration     `json:"elapsed"`
}

type Options struct {
	Restarts   int
	Workers    int
	BaseSeed   int64
	Seeds      []int64 // overrides Restarts and BaseSeed when set
	Target     Target
	Policy     Policy
	TimeBudget time.Duration
	Search     search.Options
	Penalty    coverage.PenaltyFunc

	// Callbacks are serialised by the driver.
	OnImprove func(Event)
	OnRestart func(RestartReport)
}

type Result struct {
	Best        coverage.Solution `json:"best"`
	Score       Score             `json:"score"`
	BestRestart int               `json:"bestRestart"` // -1 without a best
	Status      Status            `json:"status"`
	TargetMet   bool              `json:"targetMet"`
	Restarts    int               `json:"restarts"`
	Failures    int               `json:"failures"`
	Reports     []RestartReport   `json:"reports"`
	Elapsed     time.Duration     `json:"elapsed"`
}

type Driver struct {
	seeder Seeder
}

func NewDriver(s Seeder) *Driver {
	return &Driver{seeder: s}
}

// Run executes restarts until the target is met, the restart or time budget
// is spent, or ctx is done. The returned Result carries the best feasible
// solution found so far even when err is non-nil.
func (d *Driver) Run(ctx context.Context, inst *grid.Instance, opts Options) (Result, error) {
	start := time.Now()
	if err := inst.Validate(); err != nil {
		return Result{}, err
	}
	f, err := seed.Formulate(inst)
	if err != nil {
		return Result{}, err
	}
	seeds := opts.Seeds
	if len(seeds) == 0 {
		n := opts.Restarts
		if n <= 0 {
			n = 1
		}
		seeds = SeedsFor(opts.BaseSeed, n)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, len(seeds))
	policy := opts.Policy
	if policy == nil {
		policy = Lexicographic{}
	}

	oracle := coverage.NewOracle(inst, opts.Penalty)
	engine := search.NewEngine(oracle, opts.Search)
	best := NewBest(policy)

	budgetCtx := ctx
	if opts.TimeBudget > 0 {
		var cancel context.CancelFunc
		budgetCtx, cancel = context.WithTimeout(ctx, opts.TimeBudget)
		defer cancel()
	}
	runCtx, stop := context.WithCancel(budgetCtx)
	defer stop()

	var (
		mu        sync.Mutex // guards reports, failures, targetMet and the callbacks
		reports   []RestartReport
		failures  int
		targetMet bool
	)
	finish := func(r RestartReport) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, r)
		if r.Outcome == OutcomeFailed {
			failures++
		}
		if opts.OnRestart != nil {
			opts.OnRestart(r)
		}
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(workers)
launch:
	for i, s := range seeds {
		mu.Lock()
		done := targetMet
		mu.Unlock()
		if done || gctx.Err() != nil {
			break launch
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			rs := time.Now()
			rep := RestartReport{Index: i, Seed: s}
			sol, st, err := d.seeder.SeedFrom(gctx, f, s)
			rep.SeedInfo = st
			if err != nil {
				rep.Elapsed = time.Since(rs)
				rep.Error = err.Error()
				switch {
				case errors.Is(err, seed.ErrInfeasible):
					rep.Outcome = OutcomeFailed
					finish(rep)
					return fmt.Errorf("restart %d: %w", i, err)
				case gctx.Err() != nil:
					rep.Outcome = OutcomeCancelled
				default:
					rep.Outcome = OutcomeFailed
					log.Printf("restart %d (seed %d) failed: %v", i, s, err)
				}
				finish(rep)
				return nil
			}

			rng := rand.New(rand.NewSource(deriveSeed(s, 1)))
			m, err := engine.Run(gctx, &sol, rng)
			rep.Search = m
			rep.Outcome = OutcomeOK
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					// the seeder verified coverage, so this is a programming error
					rep.Outcome = OutcomeFailed
					rep.Error = err.Error()
					rep.Elapsed = time.Since(rs)
					log.Printf("restart %d (seed %d) search failed: %v", i, s, err)
					finish(rep)
					return nil
				}
				rep.Outcome = OutcomeCancelled
			}

			canon := sol.Sorted()
			score := Score{Towers: canon.Len(), Penalty: oracle.Penalty(canon)}
			rep.Score = score
			rep.Improved = best.Offer(i, canon, score)
			rep.Elapsed = time.Since(rs)
			if rep.Improved {
				mu.Lock()
				if opts.Target.Set() && opts.Target.Met(policy, score) {
					targetMet = true
					stop()
				}
				if opts.OnImprove != nil {
					opts.OnImprove(Event{Restart: i, Seed: s, Score: score, Solution: canon, Elapsed: time.Since(start)})
				}
				mu.Unlock()
			}
			finish(rep)
			return nil
		})
	}
	werr := g.Wait()

	sort.Slice(reports, func(a, b int) bool { return reports[a].Index < reports[b].Index })
	res := Result{
		Restarts:  len(reports),
		Failures:  failures,
		Reports:   reports,
		TargetMet: targetMet,
		Elapsed:   time.Since(start),
	}
	var ok bool
	res.Best, res.Score, ok = best.Get()
	res.BestRestart = -1
	if ok {
		res.BestRestart = best.Restart()
	}
	switch {
	case targetMet:
		res.Status = TargetMet
	case ctx.Err() != nil:
		res.Status = Cancelled
	default:
		res.Status = BudgetExhausted
	}

	if werr != nil {
		return res, werr
	}
	if !ok {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if failures > 0 {
			return res, fmt.Errorf("%w: %d of %d", ErrAllRestartsFailed, failures, len(reports))
		}
		return res, fmt.Errorf("%w: time budget spent before any restart finished", ErrAllRestartsFailed)
	}
	log.Printf("restart: %s after %d restarts (%d failed): %s", res.Status, res.Restarts, res.Failures, res.Score)
	return res, nil
}
