package api

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"towerplan/internal/config"
	"towerplan/internal/coverage"
	"towerplan/internal/grid"
	"towerplan/internal/metrics"
	"towerplan/internal/model"
	"towerplan/internal/restart"
	"towerplan/internal/search"
	"towerplan/internal/seed"
	"towerplan/internal/store"
	"towerplan/internal/webhooks"
)

var ErrBusy = errors.New("api: too many active runs")

// Runner executes solver runs in the background and tracks the active ones
// so they can be cancelled.
type Runner struct {
	store    store.Store
	broker   EventBroker
	pub      *webhooks.Publisher
	defaults config.Solver

	mu     sync.Mutex
	active map[string]context.CancelFunc
	slots  chan struct{}
	wg     sync.WaitGroup
}

func NewRunner(s store.Store, b EventBroker, pub *webhooks.Publisher, defaults config.Solver, maxRuns int) *Runner {
	if maxRuns <= 0 {
		maxRuns = 1
	}
	return &Runner{
		store:    s,
		broker:   b,
		pub:      pub,
		defaults: defaults,
		active:   map[string]context.CancelFunc{},
		slots:    make(chan struct{}, maxRuns),
	}
}

// resolve fills unset params from the server defaults.
func (rn *Runner) resolve(p model.SolverParams) model.SolverParams {
	d := rn.defaults
	if p.Backend == "" {
		p.Backend = d.Backend
	}
	if p.Policy == "" {
		p.Policy = d.Policy
	}
	if p.Restarts == 0 && len(p.Seeds) == 0 {
		p.Restarts = d.Restarts
	}
	if p.Workers == 0 {
		p.Workers = d.Workers
	}
	if p.BaseSeed == 0 {
		p.BaseSeed = d.BaseSeed
	}
	if p.Relocation == "" {
		p.Relocation = d.Relocation
	}
	if p.RelocationRadius == 0 {
		p.RelocationRadius = d.RelocationRadius
	}
	if p.SeedTimeoutMs == 0 {
		p.SeedTimeoutMs = int(d.SeedTimeout / time.Millisecond)
	}
	if p.TimeBudgetMs == 0 {
		p.TimeBudgetMs = int(d.TimeBudget / time.Millisecond)
	}
	return p
}

func driverOptions(p model.SolverParams) (restart.Options, *seed.Seeder, error) {
	backend, err := seed.BackendByName(p.Backend)
	if err != nil {
		return restart.Options{}, nil, err
	}
	policy, err := restart.PolicyByName(p.Policy)
	if err != nil {
		return restart.Options{}, nil, err
	}
	mode, err := search.ModeByName(p.Relocation)
	if err != nil {
		return restart.Options{}, nil, err
	}
	opts := restart.Options{
		Restarts:   p.Restarts,
		Workers:    p.Workers,
		BaseSeed:   p.BaseSeed,
		Seeds:      p.Seeds,
		Policy:     policy,
		TimeBudget: time.Duration(p.TimeBudgetMs) * time.Millisecond,
		Search: search.Options{
			RelocationRadius: p.RelocationRadius,
			Mode:             mode,
			MaxIterations:    p.MaxIterations,
		},
	}
	if p.TargetTowers != nil {
		opts.Target.Towers, opts.Target.HasTowers = *p.TargetTowers, true
	}
	if p.TargetPenalty != nil {
		opts.Target.Penalty, opts.Target.HasPenalty = *p.TargetPenalty, true
	}
	return opts, seed.New(backend, time.Duration(p.SeedTimeoutMs)*time.Millisecond), nil
}

// Start records a new run and solves it in the background.
func (rn *Runner) Start(ctx context.Context, owner string, inst *grid.Instance, p model.SolverParams) (model.Run, error) {
	p = rn.resolve(p)
	opts, seeder, err := driverOptions(p)
	if err != nil {
		return model.Run{}, err
	}
	select {
	case rn.slots <- struct{}{}:
	default:
		return model.Run{}, ErrBusy
	}
	run, err := rn.store.CreateRun(ctx, model.Run{
		Owner:         owner,
		Status:        model.RunRunning,
		Dim:           inst.Dim,
		Cities:        len(inst.Cities),
		ServiceRadius: inst.ServiceRadius,
		PenaltyRadius: inst.PenaltyRadius,
		Params:        p,
		BestRestart:   -1,
	})
	if err != nil {
		<-rn.slots
		return model.Run{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rn.mu.Lock()
	rn.active[run.ID] = cancel
	rn.mu.Unlock()
	rn.wg.Add(1)
	metrics.ActiveRuns.Inc()
	go func() {
		defer func() {
			cancel()
			rn.mu.Lock()
			delete(rn.active, run.ID)
			rn.mu.Unlock()
			metrics.ActiveRuns.Dec()
			<-rn.slots
			rn.wg.Done()
		}()
		rn.execute(runCtx, run, inst, opts, seeder)
	}()
	return run, nil
}

// Cancel stops an active run. It reports false when the run is not active
// on this replica.
func (rn *Runner) Cancel(id string) bool {
	rn.mu.Lock()
	cancel, ok := rn.active[id]
	rn.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Shutdown cancels every active run and waits for them to be recorded, or
// for ctx to expire.
func (rn *Runner) Shutdown(ctx context.Context) error {
	rn.mu.Lock()
	for _, cancel := range rn.active {
		cancel()
	}
	rn.mu.Unlock()
	done := make(chan struct{})
	go func() {
		rn.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rn *Runner) execute(ctx context.Context, run model.Run, inst *grid.Instance, opts restart.Options, seeder *seed.Seeder) {
	opts.OnImprove = func(ev restart.Event) {
		rn.broker.Publish(run.ID, SSEEvent{Type: EventRunImproved, Data: map[string]any{
			"runId":     run.ID,
			"restart":   ev.Restart,
			"seed":      ev.Seed,
			"towers":    ev.Score.Towers,
			"penalty":   ev.Score.Penalty,
			"elapsedMs": ev.Elapsed.Milliseconds(),
		}})
	}
	opts.OnRestart = func(rep restart.RestartReport) {
		metrics.ObserveRestart(string(rep.Outcome), rep.SeedInfo.Backend, rep.SeedInfo.Elapsed.Seconds(), rep.Search.Removals, rep.Search.Relocations)
		rn.broker.Publish(run.ID, SSEEvent{Type: EventRestartFinished, Data: map[string]any{
			"runId":   run.ID,
			"index":   rep.Index,
			"outcome": string(rep.Outcome),
			"towers":  rep.Score.Towers,
			"penalty": rep.Score.Penalty,
		}})
	}

	res, err := restart.NewDriver(seeder).Run(ctx, inst, opts)

	finished := time.Now().UTC()
	run.Status = string(res.Status)
	run.Restarts = res.Restarts
	run.Failures = res.Failures
	run.ElapsedMs = res.Elapsed.Milliseconds()
	run.FinishedAt = &finished
	if err != nil {
		run.Error = err.Error()
		if !errors.Is(err, context.Canceled) {
			run.Status = model.RunFailed
		}
	} else {
		run.Towers = res.Score.Towers
		run.Penalty = res.Score.Penalty
		run.Solution = pointsOut(res.Best)
		run.BestRestart = res.BestRestart
	}

	// the run context may be cancelled already
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	views := make([]model.RestartView, 0, len(res.Reports))
	for _, rep := range res.Reports {
		views = append(views, restartView(rep))
	}
	if err := rn.store.SaveRestarts(sctx, run.ID, views); err != nil {
		log.Printf("run %s: save restarts: %v", run.ID, err)
	}
	if err := rn.store.UpdateRun(sctx, run); err != nil {
		log.Printf("run %s: update: %v", run.ID, err)
	}
	metrics.ObserveRun(run.Status, err == nil, run.Towers, run.Penalty)

	event := webhooks.EventRunFinished
	if err != nil {
		event = webhooks.EventRunFailed
	}
	if _, werr := rn.pub.Emit(sctx, event, run.ID, run); werr != nil {
		log.Printf("run %s: enqueue webhook: %v", run.ID, werr)
	}
	rn.broker.Publish(run.ID, finishedEvent(run))
	log.Printf("run %s: %s (%d towers, penalty %.2f, %d restarts)", run.ID, run.Status, run.Towers, run.Penalty, run.Restarts)
}

func finishedEvent(run model.Run) SSEEvent {
	return SSEEvent{Type: EventRunFinished, Data: map[string]any{
		"runId":   run.ID,
		"status":  run.Status,
		"error":   run.Error,
		"towers":  run.Towers,
		"penalty": run.Penalty,
	}}
}

func pointsOut(sol coverage.Solution) []model.PointIn {
	out := make([]model.PointIn, len(sol.Towers))
	for i, t := range sol.Towers {
		out[i] = model.PointIn{X: t.X, Y: t.Y}
	}
	return out
}

func restartView(rep restart.RestartReport) model.RestartView {
	return model.RestartView{
		Index:       rep.Index,
		Seed:        rep.Seed,
		Outcome:     string(rep.Outcome),
		Error:       rep.Error,
		Backend:     rep.SeedInfo.Backend,
		Optimal:     rep.SeedInfo.Optimal,
		SeedTowers:  rep.SeedInfo.Towers,
		SeedMs:      rep.SeedInfo.Elapsed.Milliseconds(),
		Towers:      rep.Score.Towers,
		Penalty:     rep.Score.Penalty,
		Removals:    rep.Search.Removals,
		Relocations: rep.Search.Relocations,
		Iterations:  rep.Search.Iterations,
		Improved:    rep.Improved,
		ElapsedMs:   rep.Elapsed.Milliseconds(),
	}
}
