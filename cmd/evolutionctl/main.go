package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"

	"evolution/internal/config"
	"evolution/internal/evo"
	evoapi "evolution/pkg/evolution"
)

const exportsDir = "exports"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "scapes":
		return runScapes(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "fitness":
		return runFitness(ctx, args[1:])
	case "diagnostics":
		return runDiagnostics(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "inspect":
		return runInspect(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// storeFlags are shared by every command that opens a client.
type storeFlags struct {
	store        *string
	dbPath       *string
	artifactsDir *string
	logFormat    *string
	logLevel     *string
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	defaults := config.Default()
	return storeFlags{
		store:        fs.String("store", defaults.Store, "store backend: memory|sqlite"),
		dbPath:       fs.String("db-path", defaults.DBPath, "sqlite database path"),
		artifactsDir: fs.String("artifacts-dir", defaults.ArtifactsDir, "run artifacts directory"),
		logFormat:    fs.String("log-format", defaults.LogFormat, "log format: text|json"),
		logLevel:     fs.String("log-level", defaults.LogLevel, "log level: debug|info|warn|error"),
	}
}

func (f storeFlags) open() (*evoapi.Client, error) {
	logger, err := newLogger(os.Stderr, *f.logFormat, *f.logLevel)
	if err != nil {
		return nil, err
	}
	return evoapi.New(evoapi.Options{
		StoreKind:    *f.store,
		DBPath:       *f.dbPath,
		ArtifactsDir: *f.artifactsDir,
		ExportsDir:   exportsDir,
		Logger:       logger,
	})
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := sf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *sf.store)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := sf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Reset(ctx); err != nil {
		return err
	}

	fmt.Printf("reset store=%s\n", *sf.store)
	return nil
}

func runScapes(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scapes", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := sf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	names, err := client.Scapes(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional run config YAML path")
	envFile := fs.String("env-file", ".env", "dotenv file applied before flags (missing file is ignored)")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	continueRunID := fs.String("continue", "", "continue from the latest population snapshot of this run id")
	jsonOut := fs.Bool("json", false, "emit run summary as JSON")
	flagged := bindRunFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := resolveRunConfig(fs, *configPath, *envFile, flagged)
	if err != nil {
		return err
	}
	if *continueRunID != "" && !isFlagSet(fs, "pop") {
		// Adopt the stored population size unless one was asked for.
		cfg.Population = 0
	}

	logger, err := newLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	client, err := evoapi.New(evoapi.Options{
		StoreKind:    cfg.Store,
		DBPath:       cfg.DBPath,
		ArtifactsDir: cfg.ArtifactsDir,
		ExportsDir:   exportsDir,
		Logger:       logger,
		MetricsAddr:  cfg.MetricsAddr,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	req := evoapi.RunRequestFromConfig(cfg)
	req.RunID = *runID
	req.ContinueRunID = *continueRunID
	req.Control = make(chan evo.Command, 4)
	stopOnInterrupt := forwardInterrupt(req.Control)
	defer stopOnInterrupt()

	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	fmt.Printf("run_id=%s scape=%s status=%s generations=%d goal_reached=%t best_reward=%.6f best_complexity=%d artifacts=%s\n",
		summary.RunID,
		cfg.Scape,
		summary.Status,
		summary.Generations,
		summary.GoalReached,
		summary.FinalBestReward,
		summary.BestComplexity,
		summary.ArtifactsDir,
	)
	return nil
}

// forwardInterrupt turns the first interrupt into a graceful stop command.
func forwardInterrupt(control chan<- evo.Command) func() {
	sigs := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigs, os.Interrupt)
	go func() {
		select {
		case <-sigs:
			select {
			case control <- evo.CommandStop:
			default:
			}
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := sf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	items, err := client.Runs(ctx, evoapi.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	for _, item := range items {
		fmt.Printf("run_id=%s created_at=%s scape=%s pop=%d gens=%d seed=%d status=%s best_reward=%.6f\n",
			item.RunID,
			item.CreatedAtUTC,
			item.Scape,
			item.Population,
			item.Generations,
			item.Seed,
			item.Status,
			item.FinalBestReward,
		)
	}
	return nil
}

func runFitness(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fitness", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show fitness history for the most recent run from run index")
	limit := fs.Int("limit", 50, "max generations to print (0 for all)")
	jsonOut := fs.Bool("json", false, "emit fitness history as JSON")
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := sf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	history, err := client.FitnessHistory(ctx, evoapi.FitnessHistoryRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  max(*limit, 0),
	})
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Println("no fitness history")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(history)
	}
	for i, best := range history {
		fmt.Printf("generation=%d best_reward=%.6f\n", i+1, best)
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show diagnostics for the most recent run from run index")
	limit := fs.Int("limit", 50, "max generations to print (0 for all)")
	jsonOut := fs.Bool("json", false, "emit diagnostics as JSON")
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := sf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	diagnostics, err := client.Diagnostics(ctx, evoapi.DiagnosticsRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  max(*limit, 0),
	})
	if err != nil {
		return err
	}
	if len(diagnostics) == 0 {
		fmt.Println("no diagnostics")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(diagnostics)
	}
	for _, d := range diagnostics {
		fmt.Printf("generation=%d best=%.6f mean=%.6f min=%.6f best_complexity=%d max_complexity=%d mean_hidden=%.2f evaluations=%d split_edge=%d add_edge=%d change_activation=%d\n",
			d.Generation,
			d.BestReward,
			d.MeanReward,
			d.MinReward,
			d.BestComplexity,
			d.MaxComplexity,
			d.MeanHidden,
			d.Evaluations,
			d.SplitEdge,
			d.AddEdge,
			d.ChangeActivation,
		)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id to export")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "output directory for exported run artifacts")
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := sf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	exported, err := client.Export(ctx, evoapi.ExportRequest{
		RunID:  *runID,
		Latest: *latest,
		OutDir: *outDir,
	})
	if err != nil {
		return err
	}

	fmt.Printf("exported run_id=%s dir=%s\n", exported.RunID, exported.Directory)
	return nil
}

func runInspect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	file := fs.String("file", "", "binary network file to inspect")
	runID := fs.String("run-id", "", "inspect the best network of this run")
	latest := fs.Bool("latest", false, "inspect the best network of the most recent run")
	inputs := fs.String("inputs", "", "comma separated inputs to evaluate once, e.g. 1,0")
	jsonOut := fs.Bool("json", false, "emit the summary as JSON")
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	values, err := parseInputs(*inputs)
	if err != nil {
		return err
	}

	client, err := sf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	summary, err := client.Inspect(ctx, evoapi.InspectRequest{
		Path:   *file,
		RunID:  *runID,
		Latest: *latest,
		Inputs: values,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Printf("inputs=%d outputs=%d nodes=%d hidden=%d edges=%d complexity=%d depth=%d\n",
		summary.Inputs,
		summary.Outputs,
		summary.Nodes,
		summary.Hidden,
		summary.Edges,
		summary.Complexity,
		summary.Depth,
	)
	names := make([]string, 0, len(summary.Activations))
	for name := range summary.Activations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("activation=%s count=%d\n", name, summary.Activations[name])
	}
	if summary.Evaluated != nil {
		fmt.Printf("outputs=%v\n", summary.Evaluated)
	}
	return nil
}

func parseInputs(raw string) ([]float32, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	values := make([]float32, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("parse input %q: %w", part, err)
		}
		values = append(values, float32(v))
	}
	return values, nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: evolutionctl <init|reset|scapes|run|runs|fitness|diagnostics|export|inspect> [flags]", msg)
}
