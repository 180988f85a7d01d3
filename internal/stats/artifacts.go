package stats

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"evolution/internal/model"
	"evolution/internal/nn"
)

const (
	runIndexFile          = "run_index.json"
	configFile            = "config.json"
	fitnessHistoryFile    = "fitness_history.json"
	diagnosticsFile       = "generation_diagnostics.json"
	fitnessSeriesFile     = "fitness_series.csv"
	BestNetworkFile       = "best.brain"
	artifactFilePerm      = 0o644
	artifactDirectoryPerm = 0o755
)

type RunConfig struct {
	RunID           string   `json:"run_id"`
	ContinuedFrom   string   `json:"continued_from,omitempty"`
	StartGeneration int      `json:"start_generation"`
	Scape           string   `json:"scape"`
	Ticks           int      `json:"ticks,omitempty"`
	PopulationSize  int      `json:"population_size"`
	Generations     int      `json:"generations"`
	Seed            int64    `json:"seed"`
	Workers         int      `json:"workers"`
	Selection       string   `json:"selection"`
	GroupSize       int      `json:"group_size"`
	Elitism         bool     `json:"elitism"`
	Paired          bool     `json:"paired"`
	Postprocessor   string   `json:"postprocessor"`
	FitnessGoal     *float64 `json:"fitness_goal,omitempty"`
	SplitEdge       float64  `json:"split_edge"`
	AddEdge         float64  `json:"add_edge"`
	ChangeActivate  float64  `json:"change_activation"`
	MutationScope   string   `json:"mutation_scope"`
	Mutations       int      `json:"mutations"`
	PerturbScale    float64  `json:"perturb_scale"`
	SnapshotEvery   int      `json:"snapshot_every"`
}

type RunArtifacts struct {
	Config           RunConfig
	BestByGeneration []float64
	FinalBestReward  float64
	Diagnostics      []model.GenerationDiagnostics
	// Best is written as a binary network record when set.
	Best *nn.Network
}

type RunIndexEntry struct {
	RunID           string  `json:"run_id"`
	Scape           string  `json:"scape"`
	PopulationSize  int     `json:"population_size"`
	Generations     int     `json:"generations"`
	Seed            int64   `json:"seed"`
	Workers         int     `json:"workers"`
	Status          string  `json:"status"`
	FinalBestReward float64 `json:"final_best_reward"`
	CreatedAtUTC    string  `json:"created_at_utc"`
}

type fitnessHistory struct {
	BestByGeneration []float64 `json:"best_by_generation"`
	FinalBestReward  float64   `json:"final_best_reward"`
}

// WriteRunArtifacts writes the run's files under baseDir/<run id> and returns
// that directory. Every file is replaced atomically.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, artifactDirectoryPerm); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	history := fitnessHistory{BestByGeneration: artifacts.BestByGeneration, FinalBestReward: artifacts.FinalBestReward}
	if history.BestByGeneration == nil {
		history.BestByGeneration = []float64{}
	}
	if err := writeJSON(filepath.Join(runDir, fitnessHistoryFile), history); err != nil {
		return "", err
	}
	diagnostics := artifacts.Diagnostics
	if diagnostics == nil {
		diagnostics = []model.GenerationDiagnostics{}
	}
	if err := writeJSON(filepath.Join(runDir, diagnosticsFile), diagnostics); err != nil {
		return "", err
	}
	if err := WriteFitnessSeries(runDir, artifacts.BestByGeneration); err != nil {
		return "", err
	}
	if artifacts.Best != nil {
		data, err := artifacts.Best.MarshalBinary()
		if err != nil {
			return "", fmt.Errorf("encode best network: %w", err)
		}
		if err := writeFileAtomic(filepath.Join(runDir, BestNetworkFile), data); err != nil {
			return "", err
		}
	}

	return runDir, nil
}

// AppendRunIndex adds entry to the index, replacing an entry with the same
// run id.
func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, artifactDirectoryPerm); err != nil {
		return err
	}

	index, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Later appends win ties.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ExportRunArtifacts copies a run's files into outDir/<run id>.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, artifactDirectoryPerm); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, fitnessHistoryFile, diagnosticsFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{fitnessSeriesFile, BestNetworkFile} {
		err := copyFile(filepath.Join(src, file), filepath.Join(dst, file))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func ReadGenerationDiagnostics(baseDir, runID string) ([]model.GenerationDiagnostics, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, diagnosticsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var diagnostics []model.GenerationDiagnostics
	if err := json.Unmarshal(data, &diagnostics); err != nil {
		return nil, false, err
	}
	return diagnostics, true, nil
}

// ReadBestNetwork decodes the best network file of a run.
func ReadBestNetwork(baseDir, runID string) (*nn.Network, bool, error) {
	net, err := ReadNetworkFile(filepath.Join(baseDir, runID, BestNetworkFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return net, true, nil
}

// ReadNetworkFile decodes a binary network record from path.
func ReadNetworkFile(path string) (*nn.Network, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	// Arity is replaced by the decoded record.
	net, err := nn.NewNetwork(1, 1)
	if err != nil {
		return nil, err
	}
	if _, err := net.ReadFrom(file); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return net, nil
}

// WriteNetworkFile writes net's binary record to path atomically.
func WriteNetworkFile(path string, net *nn.Network) error {
	data, err := net.MarshalBinary()
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

func WriteFitnessSeries(runDir string, bestByGeneration []float64) error {
	return writeAtomic(filepath.Join(runDir, fitnessSeriesFile), func(w io.Writer) error {
		writer := csv.NewWriter(w)
		if err := writer.Write([]string{"generation", "best_reward"}); err != nil {
			return err
		}
		for i, best := range bestByGeneration {
			if err := writer.Write([]string{
				strconv.Itoa(i + 1),
				strconv.FormatFloat(best, 'f', -1, 64),
			}); err != nil {
				return err
			}
		}
		writer.Flush()
		return writer.Error()
	})
}

func ReadFitnessSeries(baseDir, runID string) ([]float64, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, fitnessSeriesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("fitness series header must have at least 2 columns")
	}

	series := make([]float64, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("fitness series row must have at least 2 columns")
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	return writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// writeAtomic writes through a temp file in the target directory and renames
// it over path, so readers never see a partial file.
func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if err := write(tmp); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, artifactFilePerm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	return writeAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}
