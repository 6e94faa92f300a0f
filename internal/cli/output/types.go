package output

import "time"

// AssetInfo describes one asset for JSON output.
type AssetInfo struct {
	Key          string   `json:"key"`
	Step         string   `json:"step"`
	Group        string   `json:"group"`
	Kind         string   `json:"kind"`
	Description  string   `json:"description,omitempty"`
	Deps         []string `json:"deps"`
	ExternalDeps []string `json:"external_deps,omitempty"`
}

// AssetsOutput is the JSON form of the assets command.
type AssetsOutput struct {
	Assets   []AssetInfo `json:"assets"`
	External []string    `json:"external"`
	Jobs     []JobInfo   `json:"jobs"`
}

// JobInfo describes a job.
type JobInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Selection   string `json:"selection"`
}

// DAGNode is one asset within a level.
type DAGNode struct {
	Key       string   `json:"key"`
	Step      string   `json:"step"`
	DependsOn []string `json:"depends_on"`
	UsedBy    []string `json:"used_by"`
}

// DAGLevel is one execution level of the asset graph.
type DAGLevel struct {
	Level  int       `json:"level"`
	Assets []DAGNode `json:"assets"`
}

// DAGOutput is the JSON form of the dag command.
type DAGOutput struct {
	Levels      []DAGLevel `json:"levels"`
	External    []string   `json:"external"`
	TotalAssets int        `json:"total_assets"`
	TotalEdges  int        `json:"total_edges"`
}

// DepsInfo explains the dependencies of one dbt node.
type DepsInfo struct {
	Node       string   `json:"node"`
	UniqueID   string   `json:"unique_id"`
	Defaults   []string `json:"defaults"`
	Extraction []string `json:"extraction"`
	Added      []string `json:"added"`
	Deps       []string `json:"deps"`
}

// MaterializationInfo is one asset outcome.
type MaterializationInfo struct {
	Asset      string         `json:"asset"`
	Step       string         `json:"step"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RunInfo summarizes a run.
type RunInfo struct {
	ID          string     `json:"id"`
	Job         string     `json:"job"`
	Environment string     `json:"environment"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
	Error       string     `json:"error,omitempty"`
}

// RunOutput is the JSON form of a run with its materializations.
type RunOutput struct {
	Run              RunInfo               `json:"run"`
	Materializations []MaterializationInfo `json:"materializations"`
	Summary          Summary               `json:"summary"`
}

// Summary counts asset outcomes.
type Summary struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// TableInfo is one raw table.
type TableInfo struct {
	Name string `json:"name"`
	Rows int64  `json:"rows"`
}

// TableGroupInfo is a resource and its loaded tables.
type TableGroupInfo struct {
	Resource string      `json:"resource"`
	Asset    string      `json:"asset"`
	Rows     int64       `json:"rows"`
	Tables   []TableInfo `json:"tables"`
}

// TablesOutput is the JSON form of the tables command.
type TablesOutput struct {
	Database string           `json:"database"`
	Dataset  string           `json:"dataset"`
	Groups   []TableGroupInfo `json:"groups"`
}
