package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"evolution/internal/config"
)

// bindRunFlags registers the run flags on fs. The returned config only holds
// flag values; resolveRunConfig copies the ones set on the command line.
func bindRunFlags(fs *flag.FlagSet) *config.Run {
	cfg := config.Default()
	fs.StringVar(&cfg.Scape, "scape", cfg.Scape, "scape name")
	fs.IntVar(&cfg.Population, "pop", cfg.Population, "population size")
	fs.IntVar(&cfg.Generations, "gens", cfg.Generations, "generation count")
	fs.IntVar(&cfg.Ticks, "ticks", cfg.Ticks, "tick budget for timed scapes (0 keeps the scape default)")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "rng seed")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "evaluation worker count")
	fs.StringVar(&cfg.Selection, "selection", cfg.Selection, "selection: tournament|produce|reduce")
	fs.IntVar(&cfg.GroupSize, "group-size", cfg.GroupSize, "tournament group size")
	fs.BoolVar(&cfg.Elitism, "elitism", cfg.Elitism, "keep the champion in its slot during tournament and produce selection")
	fs.BoolVar(&cfg.Paired, "paired", cfg.Paired, "evaluate networks in pairs (duel scapes)")
	fs.StringVar(&cfg.Postprocessor, "postprocessor", cfg.Postprocessor, "reward postprocessor: none|size_proportional")
	fs.Func("fitness-goal", "stop once the best reward reaches this value (unset disables)", func(v string) error {
		goal, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return err
		}
		cfg.FitnessGoal = &goal
		return nil
	})
	fs.Float64Var(&cfg.Mutation.SplitEdge, "split-edge", cfg.Mutation.SplitEdge, "split edge mutation weight")
	fs.Float64Var(&cfg.Mutation.AddEdge, "add-edge", cfg.Mutation.AddEdge, "add edge mutation weight")
	fs.Float64Var(&cfg.Mutation.ChangeActivation, "change-activation", cfg.Mutation.ChangeActivation, "change activation mutation weight")
	fs.StringVar(&cfg.Mutation.Scope, "mutation-scope", cfg.Mutation.Scope, "mutated share of the next generation: all|half")
	fs.IntVar(&cfg.Mutation.PerGeneration, "mutations", cfg.Mutation.PerGeneration, "structural mutations per network per generation")
	fs.Float64Var(&cfg.Mutation.PerturbScale, "perturb-scale", cfg.Mutation.PerturbScale, "weight perturbation scale")
	fs.IntVar(&cfg.SnapshotEvery, "snapshot-every", cfg.SnapshotEvery, "save a population snapshot every N generations (0 saves at the end)")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "store backend: memory|sqlite")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "sqlite database path")
	fs.StringVar(&cfg.ArtifactsDir, "artifacts-dir", cfg.ArtifactsDir, "run artifacts directory")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve prometheus metrics on this address during the run")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text|json")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug|info|warn|error")
	return &cfg
}

// resolveRunConfig layers defaults, the YAML file, the dotenv file and the
// environment, then the flags given on the command line.
func resolveRunConfig(fs *flag.FlagSet, configPath, envFile string, flagged *config.Run) (config.Run, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return config.Run{}, err
		}
		cfg = loaded
	}
	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	if err := config.ApplyEnv(&cfg, envFiles...); err != nil {
		return config.Run{}, err
	}

	var unknown error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "scape":
			cfg.Scape = flagged.Scape
		case "pop":
			cfg.Population = flagged.Population
		case "gens":
			cfg.Generations = flagged.Generations
		case "ticks":
			cfg.Ticks = flagged.Ticks
		case "seed":
			cfg.Seed = flagged.Seed
		case "workers":
			cfg.Workers = flagged.Workers
		case "selection":
			cfg.Selection = flagged.Selection
		case "group-size":
			cfg.GroupSize = flagged.GroupSize
		case "elitism":
			cfg.Elitism = flagged.Elitism
		case "paired":
			cfg.Paired = flagged.Paired
		case "postprocessor":
			cfg.Postprocessor = flagged.Postprocessor
		case "fitness-goal":
			cfg.FitnessGoal = flagged.FitnessGoal
		case "split-edge":
			cfg.Mutation.SplitEdge = flagged.Mutation.SplitEdge
		case "add-edge":
			cfg.Mutation.AddEdge = flagged.Mutation.AddEdge
		case "change-activation":
			cfg.Mutation.ChangeActivation = flagged.Mutation.ChangeActivation
		case "mutation-scope":
			cfg.Mutation.Scope = flagged.Mutation.Scope
		case "mutations":
			cfg.Mutation.PerGeneration = flagged.Mutation.PerGeneration
		case "perturb-scale":
			cfg.Mutation.PerturbScale = flagged.Mutation.PerturbScale
		case "snapshot-every":
			cfg.SnapshotEvery = flagged.SnapshotEvery
		case "store":
			cfg.Store = flagged.Store
		case "db-path":
			cfg.DBPath = flagged.DBPath
		case "artifacts-dir":
			cfg.ArtifactsDir = flagged.ArtifactsDir
		case "metrics-addr":
			cfg.MetricsAddr = flagged.MetricsAddr
		case "log-format":
			cfg.LogFormat = flagged.LogFormat
		case "log-level":
			cfg.LogLevel = flagged.LogLevel
		case "config", "env-file", "run-id", "continue", "json":
		default:
			unknown = fmt.Errorf("unhandled run flag: %s", f.Name)
		}
	})
	if unknown != nil {
		return config.Run{}, unknown
	}
	if err := cfg.Validate(); err != nil {
		return config.Run{}, err
	}
	return cfg, nil
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
