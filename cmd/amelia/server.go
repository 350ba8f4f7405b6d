package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amelia-run/amelia/agent"
	"github.com/amelia-run/amelia/api"
	"github.com/amelia-run/amelia/config"
	"github.com/amelia-run/amelia/driver"
	"github.com/amelia-run/amelia/eventbus"
	"github.com/amelia-run/amelia/pipeline"
	"github.com/amelia-run/amelia/scheduler"
	"github.com/amelia-run/amelia/store"
	"github.com/amelia-run/amelia/telemetry"
)

// runServer implements `amelia server [--port N] [--bind-all]`: it wires
// every package built for this orchestrator into one process and serves
// until terminated.
func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	port := fs.Int("port", 0, "override AMELIA_PORT")
	bindAll := fs.Bool("bind-all", false, "bind 0.0.0.0 instead of AMELIA_HOST")
	if err := fs.Parse(args); err != nil {
		return err
	}

	boot := config.FromEnv()
	if *port != 0 {
		boot.Port = *port
	}
	host := boot.Host
	if *bindAll {
		host = "0.0.0.0"
	}
	if boot.DatabaseURL == "" {
		return fmt.Errorf("AMELIA_DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telem := telemetry.Provider{
		Log:     telemetry.NewClueLogger(),
		Metrics: telemetry.NewClueMetrics(),
		Tracer:  telemetry.NewClueTracer(),
	}

	st, err := store.Open(ctx, boot.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Pool.Close()

	settings, err := st.Settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	bus := eventbus.NewBus()
	sequencer := eventbus.NewSequencer(st.Events)
	recorder := eventbus.NewRecorder(sequencer, st.Events, bus)

	var crossNode *eventbus.CrossNodePublisher
	if redisURL := os.Getenv("AMELIA_REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return fmt.Errorf("parse AMELIA_REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		crossNode, err = eventbus.NewCrossNodePublisher(eventbus.CrossNodeOptions{Redis: rdb})
		if err != nil {
			return fmt.Errorf("wire cross-node publisher: %w", err)
		}
		if _, err := bus.Register(crossNode); err != nil {
			return fmt.Errorf("register cross-node publisher: %w", err)
		}
	}

	d, err := buildDriver()
	if err != nil {
		return fmt.Errorf("build agent driver: %w", err)
	}
	agents, err := buildAgents(d, recorder)
	if err != nil {
		return fmt.Errorf("build agents: %w", err)
	}
	oracle := buildOracleClient(d)

	checkpoints := pipeline.NewStore(st.Checkpoints)
	emitter := scheduler.NewStageEmitter(pipeline.NewLogEmitter(telem.Log), recorder)

	sched := scheduler.New(st.Workflows, st.Profiles, checkpoints, recorder, emitter, agents, d, settings, telem.Log)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srv := api.NewServer(sched, st, bus, crossNode, oracle, settings, telem)

	addr := net.JoinHostPort(host, strconv.Itoa(boot.Port))
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, addr) }()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(settings.RequestTimeoutSec)*time.Second)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		telem.Log.Error(shutdownCtx, "scheduler shutdown error", "error", err)
	}
	return <-errc
}

// buildAgents wraps d once per role, sharing recorder so every role's
// turns land in the same workflow event timeline.
func buildAgents(d driver.Driver, recorder *eventbus.Recorder) (scheduler.Agents, error) {
	architect, err := agent.NewArchitect(d, recorder)
	if err != nil {
		return scheduler.Agents{}, fmt.Errorf("build architect: %w", err)
	}
	planValidator := agent.NewPlanValidator(recorder)
	reviewer, err := agent.NewReviewer(d, recorder)
	if err != nil {
		return scheduler.Agents{}, fmt.Errorf("build reviewer: %w", err)
	}
	evaluator, err := agent.NewEvaluator(d, recorder)
	if err != nil {
		return scheduler.Agents{}, fmt.Errorf("build evaluator: %w", err)
	}
	return scheduler.Agents{
		Architect:     architect,
		PlanValidator: planValidator,
		Developer:     agent.NewDeveloper(d, recorder),
		Reviewer:      reviewer,
		Evaluator:     evaluator,
	}, nil
}
