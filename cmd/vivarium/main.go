package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vivarium/internal/adapter/backend/llm"
	"vivarium/internal/adapter/backend/scripted"
	"vivarium/internal/adapter/exec"
	httpadapter "vivarium/internal/adapter/http"
	metricsinmem "vivarium/internal/adapter/metrics/inmemory"
	"vivarium/internal/adapter/observe"
	gormrepo "vivarium/internal/adapter/repo/gorm"
	memrepo "vivarium/internal/adapter/repo/memory"
	"vivarium/internal/adapter/snapshot"
	"vivarium/internal/adapter/stream/ws"
	"vivarium/internal/app/dispatch"
	"vivarium/internal/app/gestation"
	"vivarium/internal/app/lab"
	"vivarium/internal/app/ports"
	"vivarium/internal/app/replay"
	"vivarium/internal/app/seed"
	"vivarium/internal/app/tick"
	"vivarium/internal/app/worldview"
	"vivarium/internal/config"
	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/world"

	"github.com/cloudwego/hertz/pkg/app/server"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	repos, err := buildRepos(cfg)
	if err != nil {
		logger.Fatal("open storage", zap.Error(err))
	}

	recorder := metricsinmem.NewRecorder()
	hub := ws.NewHub(logger)
	defer hub.Close()
	view := worldview.NewCache()
	geo := world.Geography{Width: cfg.Engine.WorldWidth, Height: cfg.Engine.WorldHeight}

	observer := observe.NewBuilder(cfg.Decay)
	observer.VisionRadius = cfg.Engine.VisionRadius
	observer.EventWindow = cfg.Engine.EventWindow

	disp := dispatch.New(scripted.New(), logger)
	disp.Workers = cfg.Engine.Workers
	disp.PerJobTimeout = cfg.Engine.PerJobTimeout()
	disp.MaxAttempts = cfg.Engine.MaxAttempts
	disp.Backoff = cfg.Engine.Backoff()
	disp.Offline = cfg.Engine.Offline
	disp.Metrics = recorder
	if cfg.LLM.APIKey != "" {
		disp.Backends = map[agent.Brain]ports.DecisionBackend{
			agent.BrainLLM: llm.New(llm.Config{
				APIKey:    cfg.LLM.APIKey,
				Model:     cfg.LLM.Model,
				BaseURL:   cfg.LLM.BaseURL,
				MaxTokens: cfg.LLM.MaxTokens,
			}, logger),
		}
	}

	labCtl := &lab.Controller{
		Experiments: repos.experiments,
		Agents:      repos.agents,
		Snapshots:   snapshot.NewWriter(cfg.Snapshots.Dir),
		Tx:          repos.tx,
		Log:         logger,
	}

	sch := &tick.Scheduler{
		Agents:    repos.agents,
		Events:    repos.events,
		Clock:     repos.clock,
		Observer:  observer,
		Executor:  exec.New(repos.agents),
		Publisher: hub,

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
		View: view,

		Geography: geo,
		Tuning:    cfg.Decay,

		BatchBudget:       cfg.Engine.BatchBudget(),
		RecentEventWindow: cfg.Engine.EventWindow,

		Metrics: recorder,
		Log:     logger,
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := sch.Restore(ctx); err != nil {
		logger.Fatal("restore clock", zap.Error(err))
	}
	if err := seedIfFresh(ctx, sch, repos.agents, cfg); err != nil {
		logger.Fatal("seed founders", zap.Error(err))
	}

	runner := tick.NewRunner(sch, cfg.Engine.TickInterval(), logger)
	runner.Start()
	defer runner.Stop()

	startStreamServer(ctx, ws.NewServer(hub, logger), cfg.Server.StreamAddr, logger)

	h := httpadapter.Handler{
		Scheduler:  sch,
		Runner:     runner,
		Lab:        labCtl,
		Agents:     repos.agents,
		Events:     repos.events,
		ReplayUC:   replay.UseCase{Events: repos.events},
		View:       view,
		KPI:        recorder,
		ResetBrain: cfg.Engine.Brain(),
	}
	s := server.Default(server.WithHostPorts(cfg.Server.OpsAddr))
	h.RegisterRoutes(s)

	logger.Info("vivarium engine up",
		zap.String("ops_addr", cfg.Server.OpsAddr),
		zap.String("stream_addr", cfg.Server.StreamAddr),
		zap.String("storage", cfg.Storage.Driver),
		zap.Int64("tick", sch.CurrentTick()))
	s.Spin()
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
		var (
			db  *gorm.DB
			err error
		)
		if cfg.Storage.Driver == config.DriverPostgres {
			db, err = gormrepo.OpenPostgres(cfg.Storage.DSN)
		} else {
			db, err = gormrepo.OpenSQLite(cfg.Storage.DSN)
		}
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

func buildLogger(level string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	switch level {
	case "debug":
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zc.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}
	return zc.Build()
}

// seedIfFresh plants founders on an empty store so a bare binary comes
// up with a living world. Restored worlds keep their population.
func seedIfFresh(ctx context.Context, sch *tick.Scheduler, agents ports.AgentRepository, cfg config.Config) error {
	if sch.CurrentTick() != 0 {
		return nil
	}
	existing, err := agents.ListAll(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	sch.Pause()
	if _, err := sch.ResetWorld(ctx, cfg.Engine.WorldSeed, cfg.Engine.Founders, cfg.Engine.Brain()); err != nil {
		return err
	}
	sch.Resume()
	return nil
}

// startStreamServer serves the websocket feed on its own listener so a
// stalled subscriber can never back-pressure the ops API.
func startStreamServer(ctx context.Context, srv *ws.Server, addr string, logger *zap.Logger) {
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutCtx)
	}()
	go func() {
		logger.Info("event stream listening", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("event stream server", zap.Error(err))
		}
	}()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
