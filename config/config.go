package config

/*

	A study file names the model, how to sample it, how to run it
	and where results go. JSON or YAML, chosen by file extension.
	FMDRISK_* environment variables override the file.

*/

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/maroda/fmdrisk/models"
	Fo "github.com/maroda/fmdrisk/obvy"
	Fx "github.com/maroda/fmdrisk/plugin"
	Fp "github.com/maroda/fmdrisk/propagate"
	Fr "github.com/maroda/fmdrisk/risk"
	Fs "github.com/maroda/fmdrisk/sample"
	Ft "github.com/maroda/fmdrisk/types"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Model      string             `json:"model" yaml:"model"`
	Classifier string             `json:"classifier" yaml:"classifier"`
	Life       float64            `json:"life" yaml:"life"`   // overrides the mission life when positive
	Rates      map[string]float64 `json:"rates" yaml:"rates"` // merged over the default rate key
	Sampling   SamplingConfig     `json:"sampling" yaml:"sampling"`
	Engine     EngineConfig       `json:"engine" yaml:"engine"`
	Severities []Ft.Severity      `json:"severities" yaml:"severities"`
	Output     OutputConfig       `json:"output" yaml:"output"`
	Server     ServerConfig       `json:"server" yaml:"server"`
	Tracing    string             `json:"tracing" yaml:"tracing"`
}

// StrategyConfig is the file form of Fs.Params.
type StrategyConfig struct {
	Strategy       string  `json:"strategy" yaml:"strategy"`
	Points         int     `json:"points" yaml:"points"`
	Representative string  `json:"representative" yaml:"representative"`
	Tolerance      float64 `json:"tolerance" yaml:"tolerance"`
	MinSamples     int     `json:"min_samples" yaml:"min_samples"`
}

type SamplingConfig struct {
	StrategyConfig `yaml:",inline"`
	Phases         map[string]StrategyConfig `json:"phases" yaml:"phases"` // per-phase overrides
	Modes          map[string][]string       `json:"modes" yaml:"modes"`   // function to modes, empty means all
	Joint          bool                      `json:"joint" yaml:"joint"`
	PruneTol       float64                   `json:"prune_tolerance" yaml:"prune_tolerance"`
}

type EngineConfig struct {
	Tolerance  float64 `json:"tolerance" yaml:"tolerance"`
	MaxIter    int     `json:"max_iter" yaml:"max_iter"`
	SinglePass bool    `json:"single_pass" yaml:"single_pass"`
	Staged     bool    `json:"staged" yaml:"staged"`
	Snapshots  string  `json:"snapshots" yaml:"snapshots"`
	Workers    int     `json:"workers" yaml:"workers"`
}

type OutputConfig struct {
	Type      string `json:"type" yaml:"type"`     // empty for none
	Target    string `json:"target" yaml:"target"` // directory or DSN
	Table     string `json:"table" yaml:"table"`
	BatchSize int    `json:"batch_size" yaml:"batch_size"`
}

type ServerConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Interval string `json:"interval" yaml:"interval"` // rerun period, empty runs once
	Terminal bool   `json:"terminal" yaml:"terminal"`
}

// LoadConfigFileName pulls a given filename config off local disk
// Validation is performed on the file before opening
func LoadConfigFileName(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	// validation
	err = validateLoad(file)
	if err != nil {
		slog.Error("Validation failed", slog.Any("error", err))
		return nil, err
	}

	return LoadConfig(file)
}

func validateLoad(file *os.File) error {
	info, err := file.Stat()
	if err != nil {
		slog.Error("could not stat file")
		return err
	}

	if info.Size() == 0 {
		slog.Error("file is empty")
		return errors.New("file is empty")
	}

	return nil
}

// LoadConfig decodes file by its extension, then applies defaults,
// environment overrides and validation.
func LoadConfig(file *os.File) (*Config, error) {
	cf, err := os.Open(file.Name())
	if err != nil {
		slog.Error("could not open file")
		return nil, err
	}
	defer cf.Close()

	var cfg Config
	switch strings.ToLower(filepath.Ext(cf.Name())) {
	case ".yaml", ".yml":
		err = yaml.NewDecoder(cf).Decode(&cfg)
	default:
		err = json.NewDecoder(cf).Decode(&cfg)
	}
	if err != nil {
		slog.Error("could not decode file", slog.String("file", cf.Name()))
		return nil, fmt.Errorf("decode %s: %w", cf.Name(), err)
	}

	return finish(&cfg)
}

// Default is the configuration of a bare run of model.
func Default(model string) (*Config, error) {
	return finish(&Config{Model: model})
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Classifier == "" {
		c.Classifier = "cost_model"
	}
	if c.Sampling.Strategy == "" {
		c.Sampling.Strategy = Fs.SinglePoint.String()
	}
	if c.Engine.Snapshots == "" {
		c.Engine.Snapshots = Fp.SnapshotNone.String()
	}
	if c.Severities == nil {
		c.Severities = []Ft.Severity{
			{Name: "hazardous", MinCost: Fr.DefaultCostKey["major"]},
			{Name: "minor", MinCost: Fr.DefaultCostKey["minor"]},
		}
	}
	if c.Output.Table == "" {
		c.Output.Table = "endclasses"
	}
	if c.Output.BatchSize == 0 {
		c.Output.BatchSize = 100
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Tracing == "" {
		c.Tracing = Fo.TraceNone
	}
}

func (c *Config) applyEnv() {
	for env, field := range map[string]*string{
		"FMDRISK_MODEL":         &c.Model,
		"FMDRISK_CLASSIFIER":    &c.Classifier,
		"FMDRISK_STRATEGY":      &c.Sampling.Strategy,
		"FMDRISK_SNAPSHOTS":     &c.Engine.Snapshots,
		"FMDRISK_OUTPUT":        &c.Output.Type,
		"FMDRISK_OUTPUT_TARGET": &c.Output.Target,
		"FMDRISK_ADDR":          &c.Server.Addr,
		"FMDRISK_INTERVAL":      &c.Server.Interval,
		"FMDRISK_TRACING":       &c.Tracing,
	} {
		if v := FillEnvVar(env); v != "ENOENT" {
			*field = v
		}
	}
	c.Sampling.Points = FillEnvVarInt("FMDRISK_POINTS", c.Sampling.Points)
	c.Engine.Workers = FillEnvVarInt("FMDRISK_WORKERS", c.Engine.Workers)
}

func (c *Config) validate() error {
	if c.Model == "" {
		return errors.New("model is required")
	}
	if _, err := models.Lookup(c.Model); err != nil {
		return err
	}
	if _, ok := Fx.Classifiers[c.Classifier]; !ok {
		return fmt.Errorf("unknown classifier: %s", c.Classifier)
	}
	if _, err := c.Sampling.Params(); err != nil {
		return err
	}
	for phase, p := range c.Sampling.Phases {
		if _, err := p.Params(); err != nil {
			return fmt.Errorf("sampling.phases.%s: %w", phase, err)
		}
	}
	if _, ok := Fp.ParseSnapshotPolicy(c.Engine.Snapshots); !ok {
		return fmt.Errorf("engine.snapshots: unknown policy %q", c.Engine.Snapshots)
	}
	if c.Output.Type != "" {
		if _, ok := Fx.Outputs[c.Output.Type]; !ok {
			return fmt.Errorf("unknown output: %s", c.Output.Type)
		}
		if c.Output.Target == "" {
			return errors.New("output.target is required")
		}
	}
	if _, err := c.RerunInterval(); err != nil {
		return err
	}
	for class, rate := range c.Rates {
		if rate < 0 {
			return fmt.Errorf("rates.%s: negative rate %g", class, rate)
		}
	}
	switch c.Tracing {
	case Fo.TraceNone, Fo.TraceHoneycomb, Fo.TraceOTLP:
	default:
		return fmt.Errorf("unknown tracing backend: %s", c.Tracing)
	}
	return nil
}

// Params converts the file form into sampler parameters.
func (s StrategyConfig) Params() (Fs.Params, error) {
	strategy, ok := Fs.ParseStrategy(s.Strategy)
	if !ok {
		return Fs.Params{}, fmt.Errorf("unknown sampling strategy %q", s.Strategy)
	}
	return Fs.Params{
		Strategy:       strategy,
		Points:         s.Points,
		Representative: s.Representative,
		Tolerance:      s.Tolerance,
		MinSamples:     s.MinSamples,
	}, nil
}

// Options lists the sampler options: mode selection in function
// order, phase overrides, joint sampling.
func (s SamplingConfig) Options() ([]Fs.Option, error) {
	var opts []Fs.Option

	functions := make([]string, 0, len(s.Modes))
	for fn := range s.Modes {
		functions = append(functions, fn)
	}
	sort.Strings(functions)
	for _, fn := range functions {
		opts = append(opts, Fs.WithModes(fn, s.Modes[fn]...))
	}

	for phase, sc := range s.Phases {
		p, err := sc.Params()
		if err != nil {
			return nil, fmt.Errorf("sampling.phases.%s: %w", phase, err)
		}
		opts = append(opts, Fs.WithPhaseParams(phase, p))
	}

	if s.Joint {
		opts = append(opts, Fs.WithJoint())
	}
	return opts, nil
}

// RateTable is the default rate key with the configured classes merged in.
func (c *Config) RateTable() Fs.Rates {
	rates := make(Fs.Rates, len(Fs.DefaultRates)+len(c.Rates))
	for class, r := range Fs.DefaultRates {
		rates[class] = r
	}
	for class, r := range c.Rates {
		rates[class] = r
	}
	return rates
}

// EngineConfig builds the engine setup over the mission times.
func (c *Config) EngineConfig(times []float64) (Fp.Config, error) {
	policy, ok := Fp.ParseSnapshotPolicy(c.Engine.Snapshots)
	if !ok {
		return Fp.Config{}, fmt.Errorf("engine.snapshots: unknown policy %q", c.Engine.Snapshots)
	}
	return Fp.Config{
		Times:      times,
		Tolerance:  c.Engine.Tolerance,
		MaxIter:    c.Engine.MaxIter,
		SinglePass: c.Engine.SinglePass,
		Staged:     c.Engine.Staged,
		Snapshots:  policy,
		Workers:    c.Engine.Workers,
	}, nil
}

// RerunInterval is zero when the study runs once.
func (c *Config) RerunInterval() (time.Duration, error) {
	if c.Server.Interval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Server.Interval)
	if err != nil {
		return 0, fmt.Errorf("server.interval: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("server.interval: negative duration %s", d)
	}
	return d, nil
}
