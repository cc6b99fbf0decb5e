package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nexus-trading/enricher/internal/enrich"
	"github.com/nexus-trading/enricher/internal/sources"
	"github.com/nexus-trading/enricher/internal/token"
)

// Config is the root configuration of the enricher.
type Config struct {
	General   GeneralConfig                   `yaml:"general"`
	Database  DatabaseConfig                  `yaml:"database"`
	Pipelines []PipelineConfig                `yaml:"pipelines"`
	Sources   map[token.Source]sources.Config `yaml:"sources"`
	Policy    token.Policy                    `yaml:"policy"`
	Scoring   token.ScoreWeights              `yaml:"scoring"`
	HTTP      HTTPConfig                      `yaml:"http"`
}

type GeneralConfig struct {
	InstanceID string `yaml:"instance_id"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // json|text
}

type DatabaseConfig struct {
	Path         string        `yaml:"path"`
	Create       bool          `yaml:"create"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
}

// PipelineConfig is one source enricher. Zero values inherit the defaults.
type PipelineConfig struct {
	Source          token.Source   `yaml:"source"`
	Disabled        bool           `yaml:"disabled"`
	Strategy        token.Strategy `yaml:"strategy"`
	BatchSize       int            `yaml:"batch_size"`
	Interval        time.Duration  `yaml:"interval"`
	Cron            string         `yaml:"cron"`
	MinStaleness    time.Duration  `yaml:"min_staleness"`
	InterTokenDelay time.Duration  `yaml:"inter_token_delay"`
	AllowedStatuses []token.Status `yaml:"allowed_statuses"`
	SkipHistory     bool           `yaml:"skip_history"`
}

type HTTPConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Addr             string `yaml:"addr"`
	MetricsNamespace string `yaml:"metrics_namespace"`
}

// Secrets read from the environment when the file leaves them empty.
const (
	EnvSolscanAPIKey  = "SOLSCAN_API_KEY"
	EnvRugCheckAPIKey = "RUGCHECK_API_KEY"
	EnvDatabasePath   = "ENRICHER_DATABASE"
)

// Default returns the built-in configuration: one pipeline per source.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML configuration file. A .env file next to the
// process, when present, is loaded first so ${VAR} references resolve.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := normalize(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize maps source spellings ("pumpfun", "jup") to canonical names.
func normalize(cfg *Config) error {
	for i := range cfg.Pipelines {
		src, err := token.ParseSource(string(cfg.Pipelines[i].Source))
		if err != nil {
			return fmt.Errorf("config: pipelines[%d]: %w", i, err)
		}
		cfg.Pipelines[i].Source = src
	}
	if len(cfg.Sources) == 0 {
		return nil
	}
	canonical := make(map[token.Source]sources.Config, len(cfg.Sources))
	for name, sc := range cfg.Sources {
		src, err := token.ParseSource(string(name))
		if err != nil {
			return fmt.Errorf("config: sources: %w", err)
		}
		if _, dup := canonical[src]; dup {
			return fmt.Errorf("config: sources: %s configured twice", src)
		}
		canonical[src] = sc
	}
	cfg.Sources = canonical
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs without overriding the environment. A
// missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "enricher-1"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = os.Getenv(EnvDatabasePath)
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/tokens.db"
	}
	if cfg.Database.BusyTimeout == 0 {
		cfg.Database.BusyTimeout = 5 * time.Second
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 4
	}

	def := token.DefaultPolicy()
	if cfg.Policy.InactiveAfter == 0 {
		cfg.Policy.InactiveAfter = def.InactiveAfter
	}
	if cfg.Policy.ArchiveAfterAge == 0 {
		cfg.Policy.ArchiveAfterAge = def.ArchiveAfterAge
	}
	if cfg.Policy.FailureWindow == 0 {
		cfg.Policy.FailureWindow = def.FailureWindow
	}
	if cfg.Policy.MinStaleness == 0 {
		cfg.Policy.MinStaleness = def.MinStaleness
	}
	if cfg.Scoring == (token.ScoreWeights{}) {
		cfg.Scoring = token.DefaultScoreWeights()
	}

	if len(cfg.Pipelines) == 0 {
		for _, src := range token.AllSources() {
			cfg.Pipelines = append(cfg.Pipelines, PipelineConfig{Source: src})
		}
	}
	for i := range cfg.Pipelines {
		p := &cfg.Pipelines[i]
		if p.Strategy == "" {
			p.Strategy = token.StrategyOldest
		}
		if p.BatchSize == 0 {
			p.BatchSize = 50
		}
		if p.Interval == 0 && p.Cron == "" {
			p.Interval = 10 * time.Minute
		}
		if p.MinStaleness == 0 {
			p.MinStaleness = cfg.Policy.MinStaleness
		}
		if p.InterTokenDelay == 0 {
			p.InterTokenDelay = defaultDelay(p.Source)
		}
	}

	if cfg.Sources == nil {
		cfg.Sources = make(map[token.Source]sources.Config)
	}
	for _, src := range token.AllSources() {
		if _, ok := cfg.Sources[src]; !ok {
			cfg.Sources[src] = sources.DefaultConfig(src)
		}
	}
	applySecret(cfg, token.SourceSolscan, EnvSolscanAPIKey)
	applySecret(cfg, token.SourceRugCheck, EnvRugCheckAPIKey)

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":9095"
	}
	if cfg.HTTP.MetricsNamespace == "" {
		cfg.HTTP.MetricsNamespace = "enricher"
	}
}

func applySecret(cfg *Config, src token.Source, env string) {
	sc := cfg.Sources[src]
	if sc.APIKey == "" {
		sc.APIKey = os.Getenv(env)
		cfg.Sources[src] = sc
	}
}

// defaultDelay is the courtesy pause between tokens, tuned per upstream.
func defaultDelay(src token.Source) time.Duration {
	switch src {
	case token.SourcePumpFun:
		return time.Second
	case token.SourceSolscan, token.SourceRugCheck:
		return 500 * time.Millisecond
	default:
		return 200 * time.Millisecond
	}
}

// Validate rejects unknown sources, strategies and statuses, duplicate
// pipelines and unparsable cron specs.
func (c *Config) Validate() error {
	switch c.General.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: log_format %q: want json or text", c.General.LogFormat)
	}
	if c.Policy.InactiveAfter < 1 {
		return fmt.Errorf("config: policy.inactive_after must be >= 1")
	}

	seen := make(map[token.Source]bool)
	for i, p := range c.Pipelines {
		if _, err := token.ParseSource(string(p.Source)); err != nil {
			return fmt.Errorf("config: pipelines[%d]: %w", i, err)
		}
		if seen[p.Source] {
			return fmt.Errorf("config: pipelines[%d]: duplicate source %s", i, p.Source)
		}
		seen[p.Source] = true

		if _, err := token.ParseStrategy(string(p.Strategy)); err != nil {
			return fmt.Errorf("config: pipelines[%d]: %w", i, err)
		}
		for _, s := range p.AllowedStatuses {
			if _, err := token.ParseStatus(string(s)); err != nil {
				return fmt.Errorf("config: pipelines[%d]: %w", i, err)
			}
		}
		if p.BatchSize < 0 {
			return fmt.Errorf("config: pipelines[%d]: negative batch_size", i)
		}
		if p.Cron != "" {
			if _, err := enrich.ParseCron(p.Cron); err != nil {
				return fmt.Errorf("config: pipelines[%d]: %w", i, err)
			}
		}
	}
	for src := range c.Sources {
		if _, err := token.ParseSource(string(src)); err != nil {
			return fmt.Errorf("config: sources: %w", err)
		}
	}
	return nil
}

// Enabled returns the pipelines that are not disabled.
func (c *Config) Enabled() []PipelineConfig {
	var out []PipelineConfig
	for _, p := range c.Pipelines {
		if !p.Disabled {
			out = append(out, p)
		}
	}
	return out
}

// Orchestrator builds the orchestrator configuration of a pipeline.
func (c *Config) Orchestrator(p PipelineConfig) enrich.Config {
	policy := c.Policy
	policy.MinStaleness = p.MinStaleness
	return enrich.Config{
		Strategy:        p.Strategy,
		BatchSize:       p.BatchSize,
		AllowedStatuses: p.AllowedStatuses,
		InterTokenDelay: p.InterTokenDelay,
		RecordHistory:   !p.SkipHistory,
		Policy:          policy,
	}
}

// Loop builds the schedule of a pipeline.
func (p PipelineConfig) Loop() enrich.LoopConfig {
	return enrich.LoopConfig{Interval: p.Interval, Cron: p.Cron}
}

// Finalize re-applies normalization, defaults and validation after the
// caller changed the configuration (command-line overrides).
func (c *Config) Finalize() error {
	if err := normalize(c); err != nil {
		return err
	}
	applyDefaults(c)
	return c.Validate()
}
