package engine

import "time"

// Pipeline stage names used in trace events and metrics.
const (
	StageClusterSearch  = "cluster_search"
	StageVectorFallback = "vector_fallback"
	StageReranking      = "reranking"
	StageFinalSelection = "final_selection"
)

// TraceEventKind classifies each trace event by type.
type TraceEventKind string

const (
	// KindSessionStarted is emitted at the beginning of a retrieval session.
	KindSessionStarted TraceEventKind = "session_started"

	// KindStageCompleted is emitted once per pipeline stage with its
	// input/output counts and duration.
	KindStageCompleted TraceEventKind = "stage_completed"

	// KindCandidateScored is emitted once per candidate per stage that
	// assigned it a score.
	KindCandidateScored TraceEventKind = "candidate_scored"

	// KindCandidateDropped is emitted for every candidate discarded along
	// the way.
	KindCandidateDropped TraceEventKind = "candidate_dropped"

	// KindSelectionReturned is emitted after the final selection to record
	// the ordered entity ids handed to the prompt builder.
	KindSelectionReturned TraceEventKind = "selection_returned"
)

// TraceEvent is a single structured event emitted during a retrieval session.
type TraceEvent struct {
	// Kind identifies the event type.
	Kind TraceEventKind `json:"kind"`

	// At is the wall-clock time the event was recorded.
	At time.Time `json:"at"`

	// Stage names the pipeline stage for stage-scoped events.
	Stage string `json:"stage,omitempty"`

	// EntityID is populated for per-entity events.
	EntityID string `json:"entity_id,omitempty"`

	// Score is the stage-assigned score for candidate_scored events.
	Score float64 `json:"score,omitempty"`

	// Factors breaks a reranking score into its named components.
	Factors map[string]float64 `json:"factors,omitempty"`

	// InputCount and OutputCount record stage cardinalities for
	// stage_completed events.
	InputCount  int `json:"input_count,omitempty"`
	OutputCount int `json:"output_count,omitempty"`

	// DurationMS is the stage duration for stage_completed events.
	DurationMS int64 `json:"duration_ms,omitempty"`

	// Metadata carries stage-specific details (cluster keys, thresholds,
	// timeout markers).
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Reason is a human-readable explanation for candidate_dropped events.
	Reason string `json:"reason,omitempty"`

	// Query is the original query, populated in session_started.
	Query string `json:"query,omitempty"`

	// Scope is the detected scope, populated in session_started.
	Scope string `json:"scope,omitempty"`

	// Threshold is the cluster similarity threshold for session_started.
	Threshold float64 `json:"threshold,omitempty"`

	// EmbeddingDim is the query embedding dimension for session_started,
	// 0 when embedding failed.
	EmbeddingDim int `json:"embedding_dim,omitempty"`

	// EntityIDs lists the final ordered selection for selection_returned.
	EntityIDs []string `json:"entity_ids,omitempty"`
}

// newTraceEvent is a convenience constructor that timestamps the event.
func newTraceEvent(kind TraceEventKind) TraceEvent {
	return TraceEvent{Kind: kind, At: time.Now()}
}

// EventSessionStarted creates a session_started trace event.
func EventSessionStarted(query, scope string, threshold float64, embeddingDim int) TraceEvent {
	e := newTraceEvent(KindSessionStarted)
	e.Query = query
	e.Scope = scope
	e.Threshold = threshold
	e.EmbeddingDim = embeddingDim
	return e
}

// EventStageCompleted creates a stage_completed trace event.
func EventStageCompleted(stage string, inputCount, outputCount int, duration time.Duration, metadata map[string]interface{}) TraceEvent {
	e := newTraceEvent(KindStageCompleted)
	e.Stage = stage
	e.InputCount = inputCount
	e.OutputCount = outputCount
	e.DurationMS = duration.Milliseconds()
	e.Metadata = metadata
	return e
}

// EventCandidateScored creates a candidate_scored trace event.
func EventCandidateScored(stage, entityID string, score float64, factors map[string]float64) TraceEvent {
	e := newTraceEvent(KindCandidateScored)
	e.Stage = stage
	e.EntityID = entityID
	e.Score = score
	e.Factors = factors
	return e
}

// EventCandidateDropped creates a candidate_dropped trace event.
func EventCandidateDropped(stage, entityID, reason string) TraceEvent {
	e := newTraceEvent(KindCandidateDropped)
	e.Stage = stage
	e.EntityID = entityID
	e.Reason = reason
	return e
}

// EventSelectionReturned creates a selection_returned trace event.
func EventSelectionReturned(entityIDs []string, metadata map[string]interface{}) TraceEvent {
	e := newTraceEvent(KindSelectionReturned)
	e.Stage = StageFinalSelection
	e.EntityIDs = entityIDs
	e.OutputCount = len(entityIDs)
	e.Metadata = metadata
	return e
}
