package model

import "time"

// Stage is one step of the waterfall.
type Stage string

const (
	StageCache   Stage = "cache"
	StageFree    Stage = "free"
	StageCheap   Stage = "cheap"
	StagePremium Stage = "premium"
)

// Stages lists the waterfall in execution order.
var Stages = []Stage{StageCache, StageFree, StageCheap, StagePremium}

// Conflict records a value replaced during merge.
type Conflict struct {
	Field     EnrichmentField `json:"field"`
	Kept      EnrichedValue   `json:"kept"`
	Discarded EnrichedValue   `json:"discarded"`
}

// StageResult is the audit record of one attempted or skipped stage.
type StageResult struct {
	Stage        Stage            `json:"stage"`
	Provider     string           `json:"provider,omitempty"`
	Source       EnrichmentSource `json:"source,omitempty"`
	Data         EnrichmentData   `json:"data,omitempty"`
	FieldsFilled int              `json:"fields_filled"`
	CostCents    int              `json:"cost_cents"`
	DurationMs   int64            `json:"duration_ms"`
	Attempts     int              `json:"attempts"`
	Skipped      bool             `json:"skipped"`
	Error        string           `json:"error,omitempty"`
	ErrorKind    string           `json:"error_kind,omitempty"`
	Note         string           `json:"note,omitempty"`
	Conflicts    []Conflict       `json:"conflicts,omitempty"`
}

// EntityStatus is the terminal state of one entity's run.
type EntityStatus string

const (
	EntityStatusDone   EntityStatus = "done"
	EntityStatusFailed EntityStatus = "failed"
)

// EntityResult is the outcome of running the waterfall for one entity.
type EntityResult struct {
	EntityID             string            `json:"entity_id"`
	Type                 EntityType        `json:"type"`
	NormalizedIdentifier string            `json:"normalized_identifier"`
	Data                 EnrichmentData    `json:"data"`
	Gaps                 []EnrichmentField `json:"gaps"`
	CompletionPercentage int               `json:"completion_percentage"`
	CostCents            int               `json:"cost_cents"`
	RemainingBudgetCents int               `json:"remaining_budget_cents"`
	Status               EntityStatus      `json:"status"`
	Notes                []string          `json:"notes,omitempty"`
	Stages               []StageResult     `json:"stages"`
	TargetCells          []TargetCell      `json:"target_cells"`
}

// BatchResult aggregates a pipeline run.
type BatchResult struct {
	PerEntity         []EntityResult `json:"per_entity"`
	TotalCostCents    int            `json:"total_cost_cents"`
	DuplicatesAvoided int            `json:"duplicates_avoided"`
	DoneEntities      int            `json:"done_entities"`
	FailedEntities    int            `json:"failed_entities"`
	SkippedEntities   int            `json:"skipped_entities"`
	Cancelled         bool           `json:"cancelled"`
}

// JobStatus tracks a queued enrichment job.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusFailed   JobStatus = "failed"
)

// Job is a unit of work taken from a JobQueue.
type Job struct {
	ID          string       `json:"id"`
	Rows        []RowData    `json:"rows"`
	Columns     []ColumnData `json:"columns"`
	BudgetCents int          `json:"budget_cents"`
	Concurrency int          `json:"concurrency"`
	Status      JobStatus    `json:"status"`
	Progress    int          `json:"progress"`
	Result      *BatchResult `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
