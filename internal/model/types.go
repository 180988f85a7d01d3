package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusStopped   RunStatus = "stopped"
	RunStatusFailed    RunStatus = "failed"
)

// RunRecord describes one evolution run. Generations counts every completed
// generation, including those of the run it continued.
type RunRecord struct {
	VersionedRecord
	ID             string    `json:"id"`
	ContinuedFrom  string    `json:"continued_from,omitempty"`
	Scape          string    `json:"scape"`
	Selection      string    `json:"selection"`
	Seed           int64     `json:"seed"`
	PopulationSize int       `json:"population_size"`
	Inputs         int       `json:"inputs"`
	Outputs        int       `json:"outputs"`
	Generations    int       `json:"generations"`
	BestReward     float64   `json:"best_reward"`
	Status         RunStatus `json:"status"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	// BestNetwork is the binary network record of the best individual seen.
	BestNetwork []byte `json:"best_network,omitempty"`
}

type GenerationDiagnostics struct {
	Generation       int     `json:"generation"`
	BestReward       float64 `json:"best_reward"`
	MeanReward       float64 `json:"mean_reward"`
	MinReward        float64 `json:"min_reward"`
	BestComplexity   int     `json:"best_complexity"`
	MaxComplexity    int     `json:"max_complexity"`
	MeanComplexity   float64 `json:"mean_complexity"`
	MeanHidden       float64 `json:"mean_hidden"`
	Evaluations      int     `json:"evaluations"`
	SplitEdge        int     `json:"split_edge"`
	AddEdge          int     `json:"add_edge"`
	ChangeActivation int     `json:"change_activation"`
}

// PopulationSnapshot holds a binary population record taken after the
// given generation's step.
type PopulationSnapshot struct {
	VersionedRecord
	RunID      string    `json:"run_id"`
	Generation int       `json:"generation"`
	CreatedAt  time.Time `json:"created_at"`
	Payload    []byte    `json:"payload"`
}
