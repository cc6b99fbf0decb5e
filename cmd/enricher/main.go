package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/enricher/internal/config"
	"github.com/nexus-trading/enricher/internal/enrich"
	"github.com/nexus-trading/enricher/internal/observability"
	"github.com/nexus-trading/enricher/internal/sources"
	"github.com/nexus-trading/enricher/internal/store"
	"github.com/nexus-trading/enricher/internal/token"
)

const (
	exitOK     = 0
	exitFatal  = 1
	exitUsage  = 2
	stopGrace  = 30 * time.Second
	serviceTag = "enricher"
)

type flags struct {
	configPath  string
	database    string
	create      bool
	source      string
	batchSize   int
	interval    int
	cron        string
	strategy    string
	minHours    float64
	singleCycle bool
	testToken   string
	verbose     bool
	httpAddr    string

	set map[string]bool
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.configPath, "config", "", "Path to YAML configuration file (optional)")
	flag.StringVar(&f.database, "database", "", "Path to the SQLite token database")
	flag.BoolVar(&f.create, "create", false, "Create the database if it does not exist")
	flag.StringVar(&f.source, "source", "", "Comma-separated sources to run (dexscreener,pump_fun,jupiter,solscan,rugcheck)")
	flag.IntVar(&f.batchSize, "batch-size", 0, "Tokens per cycle")
	flag.IntVar(&f.interval, "interval", 0, "Minutes between cycles")
	flag.StringVar(&f.cron, "cron", "", "Cron schedule instead of a fixed interval")
	flag.StringVar(&f.strategy, "strategy", "", "Selection strategy: oldest|never_updated|recent|random|force_all")
	flag.Float64Var(&f.minHours, "min-hours", 0, "Skip tokens updated within this many hours")
	flag.BoolVar(&f.singleCycle, "single-cycle", false, "Run one cycle per pipeline and exit")
	flag.StringVar(&f.testToken, "test-token", "", "Enrich a single token address and print the result")
	flag.BoolVar(&f.verbose, "verbose", false, "Debug logging")
	flag.StringVar(&f.httpAddr, "http-addr", "", "Serve health, metrics and status on this address")
	flag.Parse()

	f.set = make(map[string]bool)
	flag.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f
}

func main() {
	os.Exit(run(parseFlags()))
}

func run(f *flags) int {
	// 1. Configuration.
	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return exitUsage
	}
	setupLogging(cfg.General)

	pipelines := cfg.Enabled()
	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("database", cfg.Database.Path).
		Int("pipelines", len(pipelines)).
		Bool("single_cycle", f.singleCycle).
		Msg("enricher: starting")

	// 2. Store.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.Database.Path, store.Options{
		Create:       cfg.Database.Create,
		BusyTimeout:  cfg.Database.BusyTimeout,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		Weights:      cfg.Scoring,
	})
	if err != nil {
		log.Error().Err(err).Str("path", cfg.Database.Path).Msg("enricher: cannot open token store")
		return exitFatal
	}
	defer st.Close()

	// 3. Observability.
	metrics := observability.NewMetrics(cfg.HTTP.MetricsNamespace)
	health := observability.NewHealthMonitor()
	health.Register("store", observability.PingCheck(st.Ping))
	observer := enrich.Observers(metrics, health)

	// 4. Pipelines.
	orchestrators := make([]*enrich.Orchestrator, 0, len(pipelines))
	var reporters []sources.StatsReporter
	for _, p := range pipelines {
		client, err := sources.New(p.Source, cfg.Sources[p.Source])
		if err != nil {
			log.Error().Err(err).Msg("enricher: build source client")
			return exitFatal
		}
		if r, ok := client.(sources.StatsReporter); ok {
			reporters = append(reporters, r)
		}
		orchestrators = append(orchestrators, enrich.NewOrchestrator(cfg.Orchestrator(p), client, st, observer))
	}
	if err := metrics.WatchSources(cfg.HTTP.MetricsNamespace, reporters...); err != nil {
		log.Warn().Err(err).Msg("enricher: source metrics not registered")
	}

	if f.testToken != "" {
		return testToken(ctx, st, orchestrators, f.testToken)
	}
	if f.singleCycle {
		return singleCycle(ctx, orchestrators)
	}

	// 5. Loops.
	loops := make([]*enrich.Loop, 0, len(orchestrators))
	for i, o := range orchestrators {
		p := pipelines[i]
		loop, err := enrich.NewLoop(o, p.Loop())
		if err != nil {
			log.Error().Err(err).Msg("enricher: invalid schedule")
			return exitFatal
		}
		loops = append(loops, loop)
		health.TrackPipeline(p.Source, p.Strategy, expectedPeriod(p))
	}
	stopAll := func() {
		for _, l := range loops {
			l.Stop()
		}
	}

	// First signal stops the loops after the token in flight; a second one,
	// or the grace period running out, cancels outstanding requests.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("enricher: stopping pipelines")
		stopAll()
		select {
		case <-sigCh:
			log.Warn().Msg("enricher: second signal, cancelling in-flight work")
		case <-time.After(stopGrace):
			log.Warn().Dur("grace", stopGrace).Msg("enricher: grace period over, cancelling in-flight work")
		case <-ctx.Done():
		}
		cancel()
	}()

	if cfg.HTTP.Enabled {
		srv := observability.NewServer(cfg.HTTP.Addr, observability.ServerDeps{
			Health:  health,
			Metrics: metrics,
			Store:   st,
			Stop:    stopAll,
		})
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error().Err(err).Msg("enricher: status server failed")
			}
		}()
	}

	pool := pond.NewPool(len(loops))
	group := pool.NewGroupContext(ctx)
	for _, l := range loops {
		group.SubmitErr(func() error { return l.Run(ctx) })
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		log.Error().Err(err).Msg("enricher: pipeline failed")
	}
	cancel()
	pool.StopAndWait()

	for _, p := range health.Pipelines() {
		log.Info().
			Str("source", string(p.Source)).
			Int64("cycles", p.Cycles).
			Int64("last_processed", p.Processed).
			Int64("last_successful", p.Successful).
			Float64("last_success_rate", p.SuccessRate).
			Msg("enricher: final statistics")
	}
	log.Info().Msg("enricher: shutdown complete")
	return exitOK
}

// loadConfig reads the file (or the built-in defaults) and applies the
// command-line overrides.
func loadConfig(f *flags) (*config.Config, error) {
	var cfg *config.Config
	if f.configPath != "" {
		c, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		if err := config.LoadDotEnv(".env"); err != nil {
			return nil, err
		}
		cfg = config.Default()
	}

	if f.database != "" {
		cfg.Database.Path = f.database
	}
	if f.create {
		cfg.Database.Create = true
	}
	if f.verbose {
		cfg.General.LogLevel = "debug"
	}
	if f.httpAddr != "" {
		cfg.HTTP.Enabled = true
		cfg.HTTP.Addr = f.httpAddr
	}

	if f.source != "" {
		want := make(map[token.Source]bool)
		for _, name := range strings.Split(f.source, ",") {
			src, err := token.ParseSource(name)
			if err != nil {
				return nil, fmt.Errorf("--source: %w", err)
			}
			want[src] = true
		}
		var selected []config.PipelineConfig
		for _, p := range cfg.Pipelines {
			if want[p.Source] {
				p.Disabled = false
				selected = append(selected, p)
				delete(want, p.Source)
			}
		}
		for _, src := range token.AllSources() {
			if want[src] {
				selected = append(selected, config.PipelineConfig{Source: src})
			}
		}
		cfg.Pipelines = selected
	}

	for i := range cfg.Pipelines {
		p := &cfg.Pipelines[i]
		if f.set["batch-size"] {
			p.BatchSize = f.batchSize
		}
		if f.set["interval"] {
			p.Interval = time.Duration(f.interval) * time.Minute
			p.Cron = ""
		}
		if f.set["cron"] {
			p.Cron = f.cron
		}
		if f.set["strategy"] {
			p.Strategy = token.Strategy(f.strategy)
		}
		if f.set["min-hours"] {
			p.MinStaleness = time.Duration(f.minHours * float64(time.Hour))
			if p.MinStaleness == 0 {
				// Zero would fall back to the policy default.
				p.MinStaleness = time.Nanosecond
			}
		}
	}

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	if len(cfg.Enabled()) == 0 {
		return nil, errors.New("config: no enabled pipelines")
	}
	return cfg, nil
}

// testToken enriches one address through every enabled pipeline and prints
// the outcome as JSON.
func testToken(ctx context.Context, st *store.Store, orchestrators []*enrich.Orchestrator, address string) int {
	address = strings.TrimSpace(address)
	if err := token.ValidateAddress(address); err != nil {
		log.Error().Err(err).Msg("enricher: invalid test token")
		return exitUsage
	}
	created, err := st.EnsureToken(ctx, address)
	if err != nil {
		log.Error().Err(err).Msg("enricher: register test token")
		return exitFatal
	}
	log.Info().Str("token", address).Bool("created", created).Msg("enricher: testing token")

	type report struct {
		Source   token.Source   `json:"source"`
		Outcome  enrich.Outcome `json:"outcome"`
		Status   token.Status   `json:"status,omitempty"`
		Failures int            `json:"failures"`
		Duration string         `json:"duration"`
		Error    string         `json:"error,omitempty"`
	}
	var reports []report
	for _, o := range orchestrators {
		res := o.EnrichToken(ctx, address)
		r := report{
			Source:   o.Source(),
			Outcome:  res.Outcome,
			Status:   res.Status,
			Failures: res.Failures,
			Duration: res.Duration.Round(time.Millisecond).String(),
		}
		if res.Err != nil {
			r.Error = res.Err.Error()
		}
		reports = append(reports, r)
	}

	final, err := st.Get(ctx, address)
	if err != nil {
		log.Error().Err(err).Msg("enricher: read test token")
		return exitFatal
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{"results": reports, "token": final}); err != nil {
		return exitFatal
	}
	return exitOK
}

// singleCycle runs one cycle of every pipeline concurrently. It fails only
// when no pipeline completed its cycle.
func singleCycle(ctx context.Context, orchestrators []*enrich.Orchestrator) int {
	pool := pond.NewPool(len(orchestrators))
	defer pool.StopAndWait()

	var failed atomic.Int64
	group := pool.NewGroup()
	for _, o := range orchestrators {
		group.Submit(func() {
			if _, err := o.RunCycle(ctx); err != nil {
				failed.Add(1)
				log.Error().Err(err).Str("source", string(o.Source())).Msg("enricher: cycle failed")
			}
		})
	}
	if err := group.Wait(); err != nil {
		log.Error().Err(err).Msg("enricher: cycle group failed")
		return exitFatal
	}
	if int(failed.Load()) == len(orchestrators) {
		return exitFatal
	}
	return exitOK
}

// expectedPeriod is the gap between two cycles used by the health check.
func expectedPeriod(p config.PipelineConfig) time.Duration {
	if p.Cron == "" {
		return p.Interval
	}
	sched, err := enrich.ParseCron(p.Cron)
	if err != nil {
		return 0
	}
	next := sched.Next(time.Now())
	return sched.Next(next).Sub(next)
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", serviceTag).
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", serviceTag).
			Str("instance", general.InstanceID).Logger()
	}
}
