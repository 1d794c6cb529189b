// Command labrun drives an experiment to completion without the HTTP
// surface: create, arm, then for each variant reseed the world under
// the variant's seed and tick until the lifecycle stops the clock.
// Decisions come from the heuristic fallback only, so two runs with the
// same seeds produce the same event digests.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"

	"vivarium/internal/adapter/backend/scripted"
	"vivarium/internal/adapter/exec"
	metricsinmem "vivarium/internal/adapter/metrics/inmemory"
	"vivarium/internal/adapter/observe"
	gormrepo "vivarium/internal/adapter/repo/gorm"
	memrepo "vivarium/internal/adapter/repo/memory"
	"vivarium/internal/adapter/snapshot"
	"vivarium/internal/app/dispatch"
	"vivarium/internal/app/gestation"
	"vivarium/internal/app/lab"
	"vivarium/internal/app/ports"
	"vivarium/internal/app/replay"
	"vivarium/internal/app/seed"
	"vivarium/internal/app/tick"
	"vivarium/internal/config"
	"vivarium/internal/domain/world"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	driver := flag.String("driver", config.DriverMemory, "storage driver: memory, sqlite or postgres")
	name := flag.String("name", "batch", "experiment name")
	variantsFlag := flag.String("variants", "", "variants as name:duration[:seed], comma separated")
	stride := flag.Int64("stride", 0, "snapshot stride in ticks, 0 for the default")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *driver != "" {
		cfg.Storage.Driver = *driver
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	specs, err := parseVariants(*variantsFlag)
	if err != nil {
		log.Fatalf("variants: %v", err)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(context.Background(), cfg, logger, *name, specs, *stride); err != nil {
		logger.Fatal("batch run failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, name string, specs []lab.VariantSpec, stride int64) error {
	repos, err := buildRepos(cfg)
	if err != nil {
		return err
	}

	recorder := metricsinmem.NewRecorder()
	geo := world.Geography{Width: cfg.Engine.WorldWidth, Height: cfg.Engine.WorldHeight}
	observer := observe.NewBuilder(cfg.Decay)
	observer.VisionRadius = cfg.Engine.VisionRadius
	observer.EventWindow = cfg.Engine.EventWindow

	// Batch runs never call a backend; the same seeds must always
	// yield the same digests.
	disp := dispatch.New(scripted.New(), logger)
	disp.Workers = cfg.Engine.Workers
	disp.Offline = true
	disp.Metrics = recorder

	labCtl := &lab.Controller{
		Experiments: repos.experiments,
		Agents:      repos.agents,
		Snapshots:   snapshot.NewWriter(cfg.Snapshots.Dir),
		Tx:          repos.tx,
		Log:         logger,
	}

	sch := &tick.Scheduler{
		Agents:     repos.agents,
		Events:     repos.events,
		Clock:      repos.clock,
		Observer:   observer,
		Executor:   exec.New(repos.agents),
		Dispatcher: disp,
		Gestation: &gestation.Scheduler{
			Agents:     repos.agents,
			Gestations: repos.gestations,
			Lineages:   repos.lineages,
			Tx:         repos.tx,
			Geography:  geo,
			Log:        logger,
		},
		Lab: labCtl,
		Seeder: &seed.Seeder{
			Agents:     repos.agents,
			Events:     repos.events,
			Gestations: repos.gestations,
			Lineages:   repos.lineages,
			Clock:      repos.clock,
			Tx:         repos.tx,
			Geography:  geo,
			Log:        logger,
		},
		Geography:   geo,
		Tuning:      cfg.Decay,
		BatchBudget: cfg.Engine.BatchBudget(),
		Metrics:     recorder,
		Log:         logger,
	}

	exp, variants, err := labCtl.CreateExperiment(ctx, name, specs)
	if err != nil {
		return err
	}
	fmt.Printf("experiment %s (%s): %d variants\n", exp.Name, exp.ID, len(variants))

	if _, err := sch.AttachExperiment(ctx, exp.ID, stride); err != nil {
		return err
	}

	replayUC := replay.UseCase{Events: repos.events}
	for sch.ExperimentContext() != nil {
		next, err := repos.experiments.NextPendingVariant(ctx, exp.ID)
		if errors.Is(err, ports.ErrNotFound) {
			break
		}
		if err != nil {
			return err
		}

		sch.Pause()
		if _, err := sch.ResetWorld(ctx, next.WorldSeed, cfg.Engine.Founders, cfg.Engine.Brain()); err != nil {
			return fmt.Errorf("reseed for variant %s: %w", next.ID, err)
		}
		sch.Resume()

		// The lifecycle pauses the clock again once the variant has
		// run its duration.
		for !sch.IsPaused() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := sch.ProcessTick(ctx); err != nil {
				return fmt.Errorf("tick %d: %w", sch.CurrentTick(), err)
			}
		}

		if err := reportVariant(ctx, repos, replayUC, next.Name, sch.CurrentTick()); err != nil {
			return err
		}
	}

	kpi := recorder.Snapshot()
	fmt.Printf("done: %d ticks, %d actions, %d deaths, %d births, %d fallbacks\n",
		kpi.TicksProcessed, kpi.ActionsExecuted, kpi.Deaths, kpi.Births, kpi.Fallbacks)
	return nil
}

func reportVariant(ctx context.Context, repos repoSet, replayUC replay.UseCase, name string, endTick int64) error {
	all, err := repos.agents.ListAll(ctx)
	if err != nil {
		return err
	}
	alive := 0
	for _, ag := range all {
		if ag.Alive() {
			alive++
		}
	}
	digest, err := replayUC.DigestRange(ctx, 0, endTick)
	if err != nil {
		return err
	}
	fmt.Printf("variant %s: ticks 1-%d, alive %d, dead %d, events %d, digest %s\n",
		name, endTick, alive, len(all)-alive, digest.EventCount, digest.Digest)
	return nil
}

type repoSet struct {
	agents      ports.AgentRepository
	events      ports.EventLog
	clock       ports.ClockStateRepository
	experiments ports.ExperimentRepository
	gestations  ports.GestationRepository
	lineages    ports.LineageRepository
	tx          ports.TxManager
}

func buildRepos(cfg config.Config) (repoSet, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres, config.DriverSQLite:
		open := gormrepo.OpenSQLite
		if cfg.Storage.Driver == config.DriverPostgres {
			open = gormrepo.OpenPostgres
		}
		db, err := open(cfg.Storage.DSN)
		if err != nil {
			return repoSet{}, fmt.Errorf("open %s: %w", cfg.Storage.Driver, err)
		}
		if err := gormrepo.Migrate(db); err != nil {
			return repoSet{}, fmt.Errorf("migrate: %w", err)
		}
		return repoSet{
			agents:      gormrepo.NewAgentRepo(db),
			events:      gormrepo.NewEventLog(db),
			clock:       gormrepo.NewClockRepo(db),
			experiments: gormrepo.NewExperimentRepo(db),
			gestations:  gormrepo.NewGestationRepo(db),
			lineages:    gormrepo.NewLineageRepo(db),
			tx:          gormrepo.NewTxManager(db),
		}, nil
	case config.DriverMemory:
		store := memrepo.NewStore()
		return repoSet{
			agents:      memrepo.NewAgentRepo(store),
			events:      memrepo.NewEventLog(store),
			clock:       memrepo.NewClockRepo(store),
			experiments: memrepo.NewExperimentRepo(store),
			gestations:  memrepo.NewGestationRepo(store),
			lineages:    memrepo.NewLineageRepo(store),
			tx:          memrepo.NewTxManager(store),
		}, nil
	default:
		return repoSet{}, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// parseVariants turns "control:200,greedy:200:7" into variant specs.
// Each entry is name:durationTicks[:worldSeed]; a missing seed defaults
// to the variant's position in the list.
func parseVariants(raw string) ([]lab.VariantSpec, error) {
	var specs []lab.VariantSpec
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("variant %q: want name:duration[:seed]", entry)
		}
		dur, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || dur <= 0 {
			return nil, fmt.Errorf("variant %q: duration must be a positive integer", entry)
		}
		seedVal := int64(len(specs) + 1)
		if len(parts) == 3 {
			seedVal, err = strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("variant %q: seed must be an integer", entry)
			}
		}
		specs = append(specs, lab.VariantSpec{
			Name:          strings.TrimSpace(parts[0]),
			DurationTicks: dur,
			WorldSeed:     seedVal,
		})
	}
	if len(specs) == 0 {
		return nil, errors.New("at least one variant is required, e.g. -variants control:200")
	}
	return specs, nil
}
