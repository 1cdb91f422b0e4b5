// Command towerplan solves a tower placement instance from the command line
// and keeps the best solution found in the output file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"towerplan/internal/buildinfo"
	"towerplan/internal/config"
	"towerplan/internal/instio"
	"towerplan/internal/restart"
	"towerplan/internal/scoreboard"
	"towerplan/internal/search"
	"towerplan/internal/seed"
)

func main() {
	var (
		in            = flag.String("in", "", "instance file (required)")
		out           = flag.String("out", "", "solution file; only replaced by a better solution")
		cfgPath       = flag.String("config", os.Getenv("CONFIG"), "path to a YAML config file")
		restarts      = flag.Int("restarts", 0, "number of restarts (default from config)")
		workers       = flag.Int("workers", -1, "parallel restarts, 0 means GOMAXPROCS")
		baseSeed      = flag.Int64("seed", 0, "base seed (default from config)")
		timeout       = flag.Duration("timeout", 0, "per-restart seeding timeout")
		timeBudget    = flag.Duration("time-budget", 0, "wall clock budget for the whole run")
		backend       = flag.String("backend", "", "seeding backend: sat or greedy")
		policy        = flag.String("policy", "", "ranking policy: lexicographic or penalty")
		relocation    = flag.String("relocation", "", "relocation mode: best or sampled")
		targetTowers  = flag.Int("target-towers", -1, "stop once a solution has at most this many towers")
		targetPenalty = flag.Float64("target-penalty", -1, "stop once a solution has at most this penalty")
		ref           = flag.String("scoreboard", "", "leaderboard reference size/n; its best score becomes the penalty target")
		version       = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()
	if *version {
		fmt.Println(buildinfo.String())
		return
	}
	if *in == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	sc := cfg.Solver
	if *restarts > 0 {
		sc.Restarts = *restarts
	}
	if *workers >= 0 {
		sc.Workers = *workers
	}
	if *baseSeed != 0 {
		sc.BaseSeed = *baseSeed
	}
	if *timeout > 0 {
		sc.SeedTimeout = *timeout
	}
	if *timeBudget > 0 {
		sc.TimeBudget = *timeBudget
	}
	if *backend != "" {
		sc.Backend = *backend
	}
	if *policy != "" {
		sc.Policy = *policy
	}
	if *relocation != "" {
		sc.Relocation = *relocation
	}

	inst, err := instio.ReadInstanceFile(*in)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, seeder, err := options(sc)
	if err != nil {
		log.Fatal(err)
	}
	if *targetTowers >= 0 {
		opts.Target.Towers, opts.Target.HasTowers = *targetTowers, true
	}
	if *targetPenalty >= 0 {
		opts.Target.Penalty, opts.Target.HasPenalty = *targetPenalty, true
	}

	var board *scoreboard.Client
	size, num := "", 0
	if *ref != "" {
		if cfg.Scoreboard.URL == "" {
			log.Fatal("-scoreboard needs scoreboard.url in the config or SCOREBOARD_URL")
		}
		size, num, err = scoreboard.ParseRef(*ref)
		if err != nil {
			log.Fatal(err)
		}
		board = scoreboard.New(cfg.Scoreboard.URL, cfg.Scoreboard.RPS)
		best, err := board.Best(ctx, size, num)
		switch {
		case errors.Is(err, scoreboard.ErrNoEntries):
			log.Printf("scoreboard %s: no entries yet", *ref)
		case err != nil:
			log.Printf("scoreboard %s: %v", *ref, err)
		case !opts.Target.HasPenalty:
			opts.Target.Penalty, opts.Target.HasPenalty = best, true
			log.Printf("scoreboard %s: targeting penalty %.6f", *ref, best)
		}
	}

	opts.OnImprove = func(ev restart.Event) {
		log.Printf("restart %d (seed %d): new best %s after %v", ev.Restart, ev.Seed, ev.Score, ev.Elapsed.Round(time.Millisecond))
	}

	log.Printf("%s: %d cities on %dx%d, service radius %d, penalty radius %d", *in, len(inst.Cities), inst.Dim, inst.Dim, inst.ServiceRadius, inst.PenaltyRadius)
	res, err := restart.NewDriver(seeder).Run(ctx, inst, opts)
	if err != nil {
		log.Fatalf("solve: %v", err)
	}
	log.Printf("%s: best %s from restart %d in %v", res.Status, res.Score, res.BestRestart, res.Elapsed.Round(time.Millisecond))

	if *out == "" {
		if err := instio.WriteSolution(os.Stdout, res.Best, res.Score.Penalty); err != nil {
			log.Fatal(err)
		}
	} else {
		wrote, err := instio.WriteSolutionIfBetter(*out, res.Best, res.Score.Penalty)
		if err != nil {
			log.Fatal(err)
		}
		if wrote {
			log.Printf("wrote %s", *out)
		} else {
			log.Printf("kept %s: existing solution is at least as good", *out)
		}
	}

	if board != nil {
		// the run may have taken long enough for the leaderboard to move
		best, err := board.Best(context.Background(), size, num)
		if err != nil {
			log.Printf("scoreboard %s: %v", *ref, err)
			return
		}
		cmp := scoreboard.Comparison{Instance: num, Ours: res.Score.Penalty, Best: best}
		switch {
		case cmp.Better():
			log.Printf("scoreboard %s: ahead of the best by %.6f", *ref, -cmp.Diff())
		case cmp.Worse():
			log.Printf("scoreboard %s: behind the best by %.6f", *ref, cmp.Diff())
		default:
			log.Printf("scoreboard %s: tied with the best", *ref)
		}
	}
}

func options(sc config.Solver) (restart.Options, *seed.Seeder, error) {
	b, err := seed.BackendByName(sc.Backend)
	if err != nil {
		return restart.Options{}, nil, err
	}
	p, err := restart.PolicyByName(sc.Policy)
	if err != nil {
		return restart.Options{}, nil, err
	}
	mode, err := search.ModeByName(sc.Relocation)
	if err != nil {
		return restart.Options{}, nil, err
	}
	return restart.Options{
		Restarts:   sc.Restarts,
		Workers:    sc.Workers,
		BaseSeed:   sc.BaseSeed,
		Policy:     p,
		TimeBudget: sc.TimeBudget,
		Search: search.Options{
			RelocationRadius: sc.RelocationRadius,
			Mode:             mode,
		},
	}, seed.New(b, sc.SeedTimeout), nil
}
