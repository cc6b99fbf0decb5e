package enrich

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/enricher/internal/token"
)

// Cycler runs one enrichment cycle. *Orchestrator implements it.
type Cycler interface {
	Source() token.Source
	RunCycle(ctx context.Context) (*CycleStats, error)
}

// LoopConfig schedules a pipeline. Cron, when set, wins over Interval.
type LoopConfig struct {
	Interval time.Duration `yaml:"interval"`
	Cron     string        `yaml:"cron"`

	// Tick is the granularity at which the sleep checks for a stop request.
	Tick time.Duration `yaml:"-"`
}

// cronParser accepts an optional leading seconds field and descriptors like @hourly.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron validates a cron expression.
func ParseCron(spec string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("enrich: cron %q: %w", spec, err)
	}
	return sched, nil
}

// Loop repeats cycles of one pipeline until stopped.
type Loop struct {
	cycler   Cycler
	config   LoopConfig
	schedule cron.Schedule

	stopped atomic.Bool
	cycles  atomic.Int64
	now     func() time.Time
}

// NewLoop builds a loop. It fails on an invalid cron spec or when neither a
// cron spec nor a positive interval is given.
func NewLoop(cycler Cycler, config LoopConfig) (*Loop, error) {
	if config.Tick <= 0 {
		config.Tick = time.Second
	}
	l := &Loop{cycler: cycler, config: config, now: time.Now}
	if config.Cron != "" {
		sched, err := ParseCron(config.Cron)
		if err != nil {
			return nil, err
		}
		l.schedule = sched
	} else if config.Interval <= 0 {
		return nil, fmt.Errorf("enrich: %s loop needs an interval or a cron spec", cycler.Source())
	}
	return l, nil
}

// Stop asks the loop to exit; it takes effect within one tick. An in-flight
// cycle finishes its current token first.
func (l *Loop) Stop() {
	l.stopped.Store(true)
	if i, ok := l.cycler.(interface{ Interrupt() }); ok {
		i.Interrupt()
	}
}

// Cycles returns the number of completed cycles.
func (l *Loop) Cycles() int64 { return l.cycles.Load() }

// RunOnce runs a single cycle.
func (l *Loop) RunOnce(ctx context.Context) (*CycleStats, error) {
	stats, err := l.cycler.RunCycle(ctx)
	if err == nil {
		l.cycles.Add(1)
	}
	return stats, err
}

// Run cycles until ctx is cancelled or Stop is called. A failed cycle is
// logged and the loop sleeps as usual. Returns nil on a graceful stop.
func (l *Loop) Run(ctx context.Context) error {
	src := l.cycler.Source()
	log.Info().
		Str("source", string(src)).
		Dur("interval", l.config.Interval).
		Str("cron", l.config.Cron).
		Msg("enrich: loop started")

	for !l.done(ctx) {
		if _, err := l.RunOnce(ctx); err != nil {
			log.Error().Err(err).Str("source", string(src)).Msg("enrich: cycle failed")
		}
		if l.done(ctx) {
			break
		}

		next := l.next()
		log.Debug().Str("source", string(src)).Time("next_run", next).Msg("enrich: sleeping")
		l.sleepUntil(ctx, next)
	}

	log.Info().Str("source", string(src)).Int64("cycles", l.Cycles()).Msg("enrich: loop stopped")
	return nil
}

func (l *Loop) next() time.Time {
	now := l.now()
	if l.schedule != nil {
		return l.schedule.Next(now)
	}
	return now.Add(l.config.Interval)
}

func (l *Loop) done(ctx context.Context) bool {
	return l.stopped.Load() || ctx.Err() != nil
}

// sleepUntil sleeps in Tick steps so a stop request is honoured promptly.
func (l *Loop) sleepUntil(ctx context.Context, until time.Time) {
	for {
		if l.done(ctx) {
			return
		}
		remaining := until.Sub(l.now())
		if remaining <= 0 {
			return
		}
		if sleepCtx(ctx, min(remaining, l.config.Tick)) != nil {
			return
		}
	}
}
