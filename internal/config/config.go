package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shirou/gopsutil/v3/cpu"
	"gopkg.in/yaml.v3"

	"evolution/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. EVOLUTION_SCAPE.
const EnvPrefix = "EVOLUTION_"

// Mutation holds the structural mutation policy of a run.
type Mutation struct {
	SplitEdge        float64 `yaml:"split_edge"`
	AddEdge          float64 `yaml:"add_edge"`
	ChangeActivation float64 `yaml:"change_activation"`
	Scope            string  `yaml:"scope"`
	PerGeneration    int     `yaml:"per_generation"`
	PerturbScale     float64 `yaml:"perturb_scale"`
}

// Run is the full configuration of an evolution run plus the surfaces around
// it (storage, artifacts, metrics, logging).
type Run struct {
	Scape         string   `yaml:"scape"`
	Population    int      `yaml:"population"`
	Generations   int      `yaml:"generations"`
	Ticks         int      `yaml:"ticks"`
	Seed          int64    `yaml:"seed"`
	Workers       int      `yaml:"workers"`
	Selection     string   `yaml:"selection"`
	GroupSize     int      `yaml:"group_size"`
	Elitism       bool     `yaml:"elitism"`
	Paired        bool     `yaml:"paired"`
	Postprocessor string   `yaml:"postprocessor"`
	FitnessGoal   *float64 `yaml:"fitness_goal"`
	Mutation      Mutation `yaml:"mutation"`
	SnapshotEvery int      `yaml:"snapshot_every"`

	Store        string `yaml:"store"`
	DBPath       string `yaml:"db_path"`
	ArtifactsDir string `yaml:"artifacts_dir"`
	MetricsAddr  string `yaml:"metrics_addr"`
	LogFormat    string `yaml:"log_format"`
	LogLevel     string `yaml:"log_level"`
}

func Default() Run {
	return Run{
		Scape:         "xor",
		Population:    64,
		Generations:   100,
		Seed:          1,
		Workers:       DefaultWorkers(),
		Selection:     "tournament",
		GroupSize:     16,
		Postprocessor: "none",
		Mutation: Mutation{
			SplitEdge:        0.3125,
			AddEdge:          0.1875,
			ChangeActivation: 0.5,
			Scope:            "all",
			PerGeneration:    1,
			PerturbScale:     0.1,
		},
		SnapshotEvery: 10,
		Store:         storage.KindMemory,
		DBPath:        "evolution.db",
		ArtifactsDir:  "evolution_runs",
		LogFormat:     "text",
		LogLevel:      "info",
	}
}

// DefaultWorkers is the number of logical CPUs, as reported by gopsutil with
// a runtime fallback.
func DefaultWorkers() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Load reads a YAML file over the defaults.
func Load(path string) (Run, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Run{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Run{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv loads the given .env files, ignoring missing ones, and then applies
// EVOLUTION_* overrides from the process environment.
func ApplyEnv(cfg *Run, envFiles ...string) error {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}

	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}

	str("SCAPE", &cfg.Scape)
	integer("POPULATION", &cfg.Population)
	integer("GENERATIONS", &cfg.Generations)
	integer("TICKS", &cfg.Ticks)
	if v, ok := lookup("SEED"); ok {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSEED: %w", EnvPrefix, err))
		} else {
			cfg.Seed = seed
		}
	}
	integer("WORKERS", &cfg.Workers)
	str("SELECTION", &cfg.Selection)
	integer("GROUP_SIZE", &cfg.GroupSize)
	boolean("ELITISM", &cfg.Elitism)
	boolean("PAIRED", &cfg.Paired)
	str("POSTPROCESSOR", &cfg.Postprocessor)
	if v, ok := lookup("FITNESS_GOAL"); ok {
		goal, err := strconv.ParseFloat(v, 64)
		switch {
		case v == "":
			cfg.FitnessGoal = nil
		case err != nil:
			errs = append(errs, fmt.Errorf("%sFITNESS_GOAL: %w", EnvPrefix, err))
		default:
			cfg.FitnessGoal = &goal
		}
	}
	float("SPLIT_EDGE", &cfg.Mutation.SplitEdge)
	float("ADD_EDGE", &cfg.Mutation.AddEdge)
	float("CHANGE_ACTIVATION", &cfg.Mutation.ChangeActivation)
	str("MUTATION_SCOPE", &cfg.Mutation.Scope)
	integer("MUTATIONS", &cfg.Mutation.PerGeneration)
	float("PERTURB_SCALE", &cfg.Mutation.PerturbScale)
	integer("SNAPSHOT_EVERY", &cfg.SnapshotEvery)
	str("STORE", &cfg.Store)
	str("DB_PATH", &cfg.DBPath)
	str("ARTIFACTS_DIR", &cfg.ArtifactsDir)
	str("METRICS_ADDR", &cfg.MetricsAddr)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("LOG_LEVEL", &cfg.LogLevel)
	return errors.Join(errs...)
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.Scape) == "" {
		return errors.New("scape is required")
	}
	if r.Population <= 0 {
		return fmt.Errorf("population must be > 0, got %d", r.Population)
	}
	if r.Generations <= 0 {
		return fmt.Errorf("generations must be > 0, got %d", r.Generations)
	}
	if r.Ticks < 0 {
		return fmt.Errorf("ticks must be >= 0, got %d", r.Ticks)
	}
	if r.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", r.Workers)
	}
	if r.GroupSize < 0 {
		return fmt.Errorf("group size must be >= 0, got %d", r.GroupSize)
	}
	if r.SnapshotEvery < 0 {
		return fmt.Errorf("snapshot interval must be >= 0, got %d", r.SnapshotEvery)
	}
	m := r.Mutation
	if m.SplitEdge < 0 || m.AddEdge < 0 || m.ChangeActivation < 0 {
		return errors.New("mutation weights must be >= 0")
	}
	if m.PerGeneration < 0 {
		return fmt.Errorf("mutations per generation must be >= 0, got %d", m.PerGeneration)
	}
	if m.PerturbScale < 0 {
		return fmt.Errorf("perturb scale must be >= 0, got %f", m.PerturbScale)
	}
	switch strings.ToLower(strings.TrimSpace(r.Store)) {
	case "", storage.KindMemory, storage.KindSQLite:
	default:
		return fmt.Errorf("unsupported store backend: %s", r.Store)
	}
	switch strings.ToLower(r.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %s", r.LogFormat)
	}
	return nil
}
