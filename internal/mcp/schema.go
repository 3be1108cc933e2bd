package mcp

import (
	"time"

	"github.com/nvandessel/abm/internal/telemetry"
)

// SimulateInput defines the input for the abm_simulate tool. Zero values
// keep the defaults: 100 agents, 10 replicates, 365 iterations from begin,
// covid.
type SimulateInput struct {
	Name        string   `json:"name,omitempty" jsonschema:"Label written into every telemetry record"`
	Agents      int      `json:"agents,omitempty" jsonschema:"Population size per replicate (default 100)"`
	Replicates  int      `json:"replicates,omitempty" jsonschema:"Number of independent replicates (default 10)"`
	Begin       int      `json:"begin,omitempty" jsonschema:"First iteration (default 0)"`
	End         *int     `json:"end,omitempty" jsonschema:"Last iteration, inclusive (default begin + 365)"`
	Model       string   `json:"model,omitempty" jsonschema:"Risk matrix preset name (default covid)"`
	Params      []string `json:"params,omitempty" jsonschema:"Named overrides such as beta:0.5, contacts:20 or isolation:0.3"`
	Transitions []string `json:"transitions,omitempty" jsonschema:"Risk overrides of the form XY:value using state abbreviations SEAYHIVRD, e.g. SD:0.5"`
	Seed        *uint64  `json:"seed,omitempty" jsonschema:"Seed for a reproducible run; drawn at random when omitted"`
	Workers     int      `json:"workers,omitempty" jsonschema:"Replicate worker pool size (default one per CPU)"`
	Persist     bool     `json:"persist,omitempty" jsonschema:"Store the telemetry in the configured database"`
}

// SimulateOutput defines the output for the abm_simulate tool.
type SimulateOutput struct {
	Name       string             `json:"name" jsonschema:"Run label"`
	Seed       string             `json:"seed" jsonschema:"Seed the replicate streams were derived from (decimal uint64)"`
	RunID      string             `json:"run_id,omitempty" jsonschema:"Database run id when persisted"`
	Replicates []ReplicateSummary `json:"replicates" jsonschema:"Per-replicate outcome"`
	MeanFinal  map[string]float64 `json:"mean_final" jsonschema:"Mean final count per state across replicates"`
	StdFinal   map[string]float64 `json:"std_final" jsonschema:"Standard deviation of the final count per state"`
	Infections telemetry.Moments  `json:"infections" jsonschema:"Cumulative infections across replicates"`
	Vaccinated telemetry.Moments  `json:"vaccinations" jsonschema:"Cumulative vaccinations across replicates"`
	Message    string             `json:"message" jsonschema:"Human-readable summary"`
}

// ReplicateSummary is one replicate's outcome.
type ReplicateSummary struct {
	Replicate     int            `json:"replicate"`
	Final         map[string]int `json:"final"`
	Infections    int            `json:"infections"`
	Vaccinations  int            `json:"vaccinations"`
	PeakInfected  int            `json:"peak_infectious"`
	PeakIteration int            `json:"peak_iteration"`
}

// ValidateOutput defines the output for the abm_validate tool, which takes a
// SimulateInput.
type ValidateOutput struct {
	Valid      bool   `json:"valid" jsonschema:"Whether the configuration can be simulated"`
	Error      string `json:"error,omitempty" jsonschema:"Why the configuration was rejected"`
	Exposure   string `json:"exposure,omitempty" jsonschema:"Resolved exposure strategy"`
	Iterations int    `json:"iterations,omitempty" jsonschema:"Number of iterations each replicate advances"`
	Work       int64  `json:"work,omitempty" jsonschema:"Agent-iterations across all replicates"`
}

// PresetsInput defines the input for the abm_presets tool.
type PresetsInput struct {
	Name string `json:"name,omitempty" jsonschema:"Preset to print; lists all presets when omitted"`
}

// PresetsOutput defines the output for the abm_presets tool.
type PresetsOutput struct {
	Presets []string             `json:"presets" jsonschema:"Available preset names"`
	States  []string             `json:"states,omitempty" jsonschema:"Row and column labels of the matrix"`
	Matrix  map[string][]float64 `json:"matrix,omitempty" jsonschema:"Rows of the requested preset keyed by origin state"`
}

// RunsInput defines the input for the abm_runs tool.
type RunsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of runs to return, newest first (default 20)"`
}

// RunsOutput defines the output for the abm_runs tool.
type RunsOutput struct {
	Runs  []RunListItem `json:"runs" jsonschema:"Persisted runs"`
	Count int           `json:"count" jsonschema:"Number of runs returned"`
}

// RunListItem provides a list view of a persisted run.
type RunListItem struct {
	ID         string    `json:"run_id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	Replicates int       `json:"replicates"`
	Agents     int       `json:"agents"`
	Seed       string    `json:"seed"`
}
