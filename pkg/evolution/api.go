// Package evolution is the public client for running and inspecting
// neuroevolution runs.
package evolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"evolution/internal/config"
	"evolution/internal/evo"
	"evolution/internal/metrics"
	"evolution/internal/model"
	"evolution/internal/nn"
	"evolution/internal/platform"
	"evolution/internal/stats"
	"evolution/internal/storage"
)

const (
	defaultArtifactsDir = "evolution_runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "evolution.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
	// MetricsAddr starts a /metrics server with the polis when set.
	MetricsAddr string
}

type Client struct {
	store   storage.Store
	polis   *platform.Polis
	logger  *slog.Logger
	metrics *metrics.Recorder
	modules []platform.SupportModule

	artifactsDir string
	exportsDir   string
}

type RunRequest struct {
	RunID         string
	ContinueRunID string
	Scape         string
	Ticks         int
	Population    int
	Generations   int
	Seed          int64
	Workers       int
	Selection     string
	GroupSize     int
	Elitism       bool
	Paired        bool
	Postprocessor string
	// FitnessGoal ends the run early once a generation reaches it. Nil
	// disables the check.
	FitnessGoal   *float64
	SnapshotEvery int

	SplitEdge        float64
	AddEdge          float64
	ChangeActivation float64
	MutationScope    string
	// Mutations is the number of structural mutations per individual per
	// generation; zero disables structural mutation.
	Mutations    int
	PerturbScale float64

	Control chan evo.Command
}

type RunSummary struct {
	RunID            string
	Status           string
	ArtifactsDir     string
	Generations      int
	GoalReached      bool
	BestByGeneration []float64
	FinalBestReward  float64
	BestComplexity   int
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID           string
	CreatedAtUTC    string
	Scape           string
	Seed            int64
	Population      int
	Generations     int
	Status          string
	FinalBestReward float64
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type FitnessHistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type DiagnosticsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

// InspectRequest names a network file, or the best network of a run.
// Inputs, when set, are fed through the network once.
type InspectRequest struct {
	Path   string
	RunID  string
	Latest bool
	Inputs []float32
}

type NetworkSummary struct {
	Inputs      int            `json:"inputs"`
	Outputs     int            `json:"outputs"`
	Nodes       int            `json:"nodes"`
	Hidden      int            `json:"hidden"`
	Edges       int            `json:"edges"`
	Complexity  int            `json:"complexity"`
	Depth       int            `json:"depth"`
	Activations map[string]int `json:"activations"`
	Evaluated   []float32      `json:"evaluated,omitempty"`
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.KindMemory
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	client := &Client{
		store:        store,
		logger:       logger,
		metrics:      opts.Metrics,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}
	if opts.MetricsAddr != "" {
		if client.metrics == nil {
			client.metrics = metrics.NewRecorder()
		}
		client.modules = append(client.modules, platform.NewMetricsServer(opts.MetricsAddr, client.metrics, logger))
	}
	return client, nil
}

// RunRequestFromConfig maps a run configuration onto a request.
func RunRequestFromConfig(cfg config.Run) RunRequest {
	return RunRequest{
		Scape:            cfg.Scape,
		Ticks:            cfg.Ticks,
		Population:       cfg.Population,
		Generations:      cfg.Generations,
		Seed:             cfg.Seed,
		Workers:          cfg.Workers,
		Selection:        cfg.Selection,
		GroupSize:        cfg.GroupSize,
		Elitism:          cfg.Elitism,
		Paired:           cfg.Paired,
		Postprocessor:    cfg.Postprocessor,
		FitnessGoal:      cfg.FitnessGoal,
		SnapshotEvery:    cfg.SnapshotEvery,
		SplitEdge:        cfg.Mutation.SplitEdge,
		AddEdge:          cfg.Mutation.AddEdge,
		ChangeActivation: cfg.Mutation.ChangeActivation,
		MutationScope:    cfg.Mutation.Scope,
		Mutations:        cfg.Mutation.PerGeneration,
		PerturbScale:     cfg.Mutation.PerturbScale,
	}
}

func (c *Client) Close() error {
	if c.polis != nil {
		c.polis.Stop(context.Background())
	}
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensurePolis(ctx)
	return err
}

// Reset drops stored runs. Artifact files are left in place.
func (c *Client) Reset(ctx context.Context) error {
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return err
	}
	return p.Reset(ctx)
}

func (c *Client) Scapes(ctx context.Context) ([]string, error) {
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return nil, err
	}
	return p.RegisteredScapes(), nil
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.Scape == "" {
		req.Scape = "xor"
	}
	if req.Population <= 0 && req.ContinueRunID == "" {
		req.Population = 64
	}
	if req.Generations <= 0 {
		req.Generations = 100
	}
	step, err := stepConfigFromRequest(req)
	if err != nil {
		return RunSummary{}, err
	}
	postprocessor, err := evo.PostprocessorByName(req.Postprocessor)
	if err != nil {
		return RunSummary{}, err
	}

	p, err := c.ensurePolis(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	result, runErr := p.RunEvolution(ctx, platform.EvolutionConfig{
		RunID:          req.RunID,
		ContinueRunID:  req.ContinueRunID,
		ScapeName:      req.Scape,
		Ticks:          req.Ticks,
		PopulationSize: req.Population,
		Generations:    req.Generations,
		Workers:        req.Workers,
		Seed:           req.Seed,
		Paired:         req.Paired,
		Step:           step,
		Postprocessor:  postprocessor,
		FitnessGoal:    req.FitnessGoal,
		SnapshotEvery:  req.SnapshotEvery,
		Control:        req.Control,
	})
	if result.Run.ID == "" {
		return RunSummary{}, runErr
	}

	run := result.Run
	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:           run.ID,
			ContinuedFrom:   run.ContinuedFrom,
			StartGeneration: result.StartGeneration,
			Scape:           run.Scape,
			Ticks:           req.Ticks,
			PopulationSize:  run.PopulationSize,
			Generations:     req.Generations,
			Seed:            req.Seed,
			Workers:         req.Workers,
			Selection:       string(step.Selection),
			GroupSize:       step.GroupSize,
			Elitism:         step.Elitism,
			Paired:          req.Paired,
			Postprocessor:   postprocessor.Name(),
			FitnessGoal:     req.FitnessGoal,
			SplitEdge:       step.Weights.SplitEdge,
			AddEdge:         step.Weights.AddEdge,
			ChangeActivate:  step.Weights.ChangeActivation,
			MutationScope:   step.Scope.String(),
			Mutations:       step.Mutations,
			PerturbScale:    float64(step.PerturbScale),
			SnapshotEvery:   req.SnapshotEvery,
		},
		BestByGeneration: result.BestByGeneration,
		FinalBestReward:  run.BestReward,
		Diagnostics:      result.Diagnostics,
		Best:             result.Best,
	})
	if err != nil {
		return RunSummary{}, errors.Join(runErr, err)
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:           run.ID,
		Scape:           run.Scape,
		PopulationSize:  run.PopulationSize,
		Generations:     run.Generations,
		Seed:            run.Seed,
		Workers:         req.Workers,
		Status:          string(run.Status),
		FinalBestReward: run.BestReward,
		CreatedAtUTC:    run.CreatedAt.UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return RunSummary{}, errors.Join(runErr, err)
	}

	summary := RunSummary{
		RunID:            run.ID,
		Status:           string(run.Status),
		ArtifactsDir:     filepath.Clean(runDir),
		Generations:      run.Generations,
		GoalReached:      result.GoalReached,
		BestByGeneration: append([]float64(nil), result.BestByGeneration...),
		FinalBestReward:  run.BestReward,
	}
	if result.Best != nil {
		summary.BestComplexity = result.Best.Complexity()
	}
	return summary, runErr
}

func stepConfigFromRequest(req RunRequest) (evo.StepConfig, error) {
	selection, err := evo.ParseSelection(req.Selection)
	if err != nil {
		return evo.StepConfig{}, err
	}
	scope, err := evo.ParseScope(req.MutationScope)
	if err != nil {
		return evo.StepConfig{}, err
	}
	weights := nn.MutationWeights{
		SplitEdge:        req.SplitEdge,
		AddEdge:          req.AddEdge,
		ChangeActivation: req.ChangeActivation,
	}
	if weights == (nn.MutationWeights{}) {
		weights = nn.DefaultMutationWeights()
	}
	step := evo.StepConfig{
		Selection:    selection,
		GroupSize:    req.GroupSize,
		Elitism:      req.Elitism,
		Weights:      weights,
		Scope:        scope,
		Mutations:    req.Mutations,
		PerturbScale: float32(req.PerturbScale),
	}
	if step.GroupSize <= 0 {
		step.GroupSize = evo.DefaultGroupSize
	}
	return step, step.Validate()
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:           e.RunID,
			CreatedAtUTC:    e.CreatedAtUTC,
			Scape:           e.Scape,
			Seed:            e.Seed,
			Population:      e.PopulationSize,
			Generations:     e.Generations,
			Status:          e.Status,
			FinalBestReward: e.FinalBestReward,
		})
	}
	return out, nil
}

// StoredRuns lists the run records of the store, newest first.
func (c *Client) StoredRuns(ctx context.Context) ([]model.RunRecord, error) {
	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	slices.Reverse(runs)
	return runs, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// FitnessHistory reads the best reward per generation from the store, falling
// back to the run's artifact files.
func (c *Client) FitnessHistory(ctx context.Context, req FitnessHistoryRequest) ([]float64, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "fitness history")
	if err != nil {
		return nil, err
	}

	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetFitnessHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		history, ok, err = stats.ReadFitnessSeries(c.artifactsDir, runID)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("fitness history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) Diagnostics(ctx context.Context, req DiagnosticsRequest) ([]model.GenerationDiagnostics, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "diagnostics")
	if err != nil {
		return nil, err
	}

	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		diagnostics, ok, err = stats.ReadGenerationDiagnostics(c.artifactsDir, runID)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	out := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(out, diagnostics)
	return out, nil
}

// Inspect decodes a binary network record and summarizes its structure.
func (c *Client) Inspect(_ context.Context, req InspectRequest) (NetworkSummary, error) {
	var (
		net *nn.Network
		err error
	)
	if req.Path != "" {
		if req.RunID != "" || req.Latest {
			return NetworkSummary{}, errors.New("use either a path or a run")
		}
		net, err = stats.ReadNetworkFile(req.Path)
		if err != nil {
			return NetworkSummary{}, err
		}
	} else {
		runID, err := c.resolveRunID(req.RunID, req.Latest, "inspect")
		if err != nil {
			return NetworkSummary{}, err
		}
		var ok bool
		net, ok, err = stats.ReadBestNetwork(c.artifactsDir, runID)
		if err != nil {
			return NetworkSummary{}, err
		}
		if !ok {
			return NetworkSummary{}, fmt.Errorf("best network not found for run id: %s", runID)
		}
	}
	return summarizeNetwork(net, req.Inputs)
}

func summarizeNetwork(net *nn.Network, inputs []float32) (NetworkSummary, error) {
	depth, err := net.Depth()
	if err != nil {
		return NetworkSummary{}, err
	}
	summary := NetworkSummary{
		Inputs:      net.InputCount(),
		Outputs:     net.OutputCount(),
		Nodes:       net.NodeCount(),
		Hidden:      net.HiddenCount(),
		Edges:       net.EdgeCount(),
		Complexity:  net.Complexity(),
		Depth:       depth,
		Activations: make(map[string]int),
	}
	for i := net.InputCount(); i < net.NodeCount(); i++ {
		summary.Activations[net.Node(i).Activation.String()]++
	}
	if inputs != nil {
		if err := net.SetInputs(inputs); err != nil {
			return NetworkSummary{}, err
		}
		net.Evaluate()
		summary.Evaluated = net.ReadOutputs(nil)
	}
	return summary, nil
}

func (c *Client) PauseRun(ctx context.Context, runID string) error {
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return err
	}
	return p.PauseRun(runID)
}

func (c *Client) ContinueRun(ctx context.Context, runID string) error {
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return err
	}
	return p.ContinueRun(runID)
}

func (c *Client) StopRun(ctx context.Context, runID string) error {
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return err
	}
	return p.StopRun(runID)
}

func (c *Client) resolveRunID(runID string, latest bool, action string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", fmt.Errorf("%s requires run id or latest", action)
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func (c *Client) ensurePolis(ctx context.Context) (*platform.Polis, error) {
	if c.polis != nil {
		return c.polis, nil
	}
	p := platform.NewPolis(platform.Config{
		Store:          c.store,
		SupportModules: c.modules,
		Logger:         c.logger,
		Metrics:        c.metrics,
	})
	if err := p.Init(ctx); err != nil {
		return nil, err
	}
	c.polis = p
	return c.polis, nil
}
