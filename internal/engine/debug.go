package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// contextKey is an unexported type for context keys owned by this package.
type contextKey string

const traceKey contextKey = "retrieval_trace"

// TraceCollector accumulates TraceEvents for a single retrieval session.
type TraceCollector struct {
	events    []TraceEvent
	startedAt time.Time
}

// NewTraceCollector returns a fresh collector.
func NewTraceCollector() *TraceCollector {
	return &TraceCollector{startedAt: time.Now()}
}

// Emit appends an event to the collector.
func (tc *TraceCollector) Emit(e TraceEvent) {
	tc.events = append(tc.events, e)
}

// Events returns the collected events in emission order.
func (tc *TraceCollector) Events() []TraceEvent {
	return tc.events
}

// StartedAt returns when the collector was created.
func (tc *TraceCollector) StartedAt() time.Time {
	return tc.startedAt
}

// ElapsedMS returns the elapsed time since the collector was created, in milliseconds.
func (tc *TraceCollector) ElapsedMS() int64 {
	return time.Since(tc.startedAt).Milliseconds()
}

// WithTraceCollector stores a collector in the context.
func WithTraceCollector(ctx context.Context, tc *TraceCollector) context.Context {
	return context.WithValue(ctx, traceKey, tc)
}

// TraceCollectorFromContext retrieves the collector from the context.
// Returns (nil, false) if none is present.
func TraceCollectorFromContext(ctx context.Context) (*TraceCollector, bool) {
	tc, ok := ctx.Value(traceKey).(*TraceCollector)
	return tc, ok
}

// emitToContext is a helper used by the pipeline to emit an event only when
// a collector is present in the context. Untraced searches pay nothing.
func emitToContext(ctx context.Context, e TraceEvent) {
	if tc, ok := TraceCollectorFromContext(ctx); ok {
		tc.Emit(e)
	}
}

// StageTrace summarizes one completed pipeline stage.
type StageTrace struct {
	Stage       string                 `json:"stage"`
	InputCount  int                    `json:"input_count"`
	OutputCount int                    `json:"output_count"`
	DurationMS  int64                  `json:"duration_ms"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// EntityJourney follows one entity through the pipeline: the score each
// stage assigned it and where it ended up.
type EntityJourney struct {
	EntityID string `json:"entity_id"`

	// ClusterScore is the best similarity the entity arrived with from
	// cluster expansion, 0 when it never came through a cluster.
	ClusterScore float64 `json:"cluster_score"`

	// VectorScore is the best direct vector similarity, 0 when the entity
	// never went through vector search.
	VectorScore float64 `json:"vector_score"`

	// RerankScore is the final combined score from reranking.
	RerankScore float64 `json:"rerank_score"`

	// ScoreDelta is RerankScore minus VectorScore: how much the pipeline
	// moved the entity relative to raw similarity.
	ScoreDelta float64 `json:"score_delta"`

	// FinalRank is the position in the final selection, -1 when not selected.
	FinalRank int `json:"final_rank"`

	// Selected reports whether the entity made the final selection.
	Selected bool `json:"selected"`

	// DroppedStage and DropReason are set when the entity was discarded.
	DroppedStage string `json:"dropped_stage,omitempty"`
	DropReason   string `json:"drop_reason,omitempty"`
}

// SessionMetrics aggregates a session into the ratios used for tuning.
type SessionMetrics struct {
	// ClusterHitRate is the fraction of candidates that arrived through
	// cluster expansion.
	ClusterHitRate float64 `json:"cluster_hit_rate"`

	// ActiveEntityRatio is the fraction of selected entities carrying a
	// meaningful live state.
	ActiveEntityRatio float64 `json:"active_entity_ratio"`

	// PromptInclusionRate is the fraction of candidates that survived into
	// the final selection.
	PromptInclusionRate float64 `json:"prompt_inclusion_rate"`
}

// SessionTrace is the full record of one traced retrieval session.
type SessionTrace struct {
	ID           string          `json:"id"`
	Query        string          `json:"query"`
	Scope        string          `json:"scope"`
	Threshold    float64         `json:"threshold"`
	EmbeddingDim int             `json:"embedding_dim"`
	StartedAt    time.Time       `json:"started_at"`
	Stages       []StageTrace    `json:"stages"`
	Journeys     []EntityJourney `json:"journeys"`
	Selection    []string        `json:"selection"`
	Metrics      SessionMetrics  `json:"metrics"`
	TimingMS     int64           `json:"timing_ms"`
}

// BuildSessionTrace converts collected trace events into a SessionTrace.
// It tolerates malformed or partial event streams; whatever is missing
// simply stays at its zero value.
func BuildSessionTrace(id string, events []TraceEvent, startedAt time.Time, elapsedMS int64) *SessionTrace {
	trace := &SessionTrace{
		ID:        id,
		StartedAt: startedAt,
		TimingMS:  elapsedMS,
	}

	journeys := map[string]*EntityJourney{}
	var order []string
	factors := map[string]map[string]float64{}

	journey := func(entityID string) *EntityJourney {
		if j, ok := journeys[entityID]; ok {
			return j
		}
		j := &EntityJourney{EntityID: entityID, FinalRank: -1}
		journeys[entityID] = j
		order = append(order, entityID)
		return j
	}

	for _, e := range events {
		switch e.Kind {
		case KindSessionStarted:
			trace.Query = e.Query
			trace.Scope = e.Scope
			trace.Threshold = e.Threshold
			trace.EmbeddingDim = e.EmbeddingDim

		case KindStageCompleted:
			trace.Stages = append(trace.Stages, StageTrace{
				Stage:       e.Stage,
				InputCount:  e.InputCount,
				OutputCount: e.OutputCount,
				DurationMS:  e.DurationMS,
				Metadata:    e.Metadata,
			})

		case KindCandidateScored:
			if e.EntityID == "" {
				continue
			}
			j := journey(e.EntityID)
			switch e.Stage {
			case StageClusterSearch:
				if e.Score > j.ClusterScore {
					j.ClusterScore = e.Score
				}
			case StageVectorFallback:
				if e.Score > j.VectorScore {
					j.VectorScore = e.Score
				}
			case StageReranking:
				j.RerankScore = e.Score
				if e.Factors != nil {
					factors[e.EntityID] = e.Factors
				}
			}

		case KindCandidateDropped:
			if e.EntityID == "" {
				continue
			}
			j := journey(e.EntityID)
			j.DroppedStage = e.Stage
			j.DropReason = e.Reason

		case KindSelectionReturned:
			trace.Selection = e.EntityIDs
			for i, entityID := range e.EntityIDs {
				if entityID == "" {
					continue
				}
				j := journey(entityID)
				j.FinalRank = i
				j.Selected = true
			}
		}
	}

	selected := 0
	clusterHits := 0
	activeSelected := 0
	for _, entityID := range order {
		j := journeys[entityID]
		j.ScoreDelta = j.RerankScore - j.VectorScore
		if j.ClusterScore > 0 {
			clusterHits++
		}
		if j.Selected {
			selected++
			if f := factors[entityID]; f != nil && f["has_active_value"] > 0 {
				activeSelected++
			}
		}
		trace.Journeys = append(trace.Journeys, *j)
	}

	// Selected entities first in rank order, then the rest by rerank score.
	sort.SliceStable(trace.Journeys, func(i, k int) bool {
		a, b := trace.Journeys[i], trace.Journeys[k]
		if a.Selected != b.Selected {
			return a.Selected
		}
		if a.Selected {
			return a.FinalRank < b.FinalRank
		}
		return a.RerankScore > b.RerankScore
	})

	trace.Metrics = SessionMetrics{
		ClusterHitRate:      ratio(clusterHits, len(order)),
		ActiveEntityRatio:   ratio(activeSelected, selected),
		PromptInclusionRate: ratio(selected, len(order)),
	}

	// Guarantee non-nil slices for clean JSON output.
	if trace.Stages == nil {
		trace.Stages = []StageTrace{}
	}
	if trace.Journeys == nil {
		trace.Journeys = []EntityJourney{}
	}
	if trace.Selection == nil {
		trace.Selection = []string{}
	}

	return trace
}

func ratio(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}

// defaultSessionCapacity bounds how many finished traces the debugger keeps.
const defaultSessionCapacity = 50

// SearchDebugger captures traced retrieval sessions and keeps the most
// recent ones for inspection. It is purely observational: it never affects
// what the pipeline returns.
type SearchDebugger struct {
	mu        sync.RWMutex
	sessions  []*SessionTrace
	capacity  int
	onCapture func(*SessionTrace)
}

// NewSearchDebugger creates a debugger keeping up to capacity sessions.
// A non-positive capacity uses the default.
func NewSearchDebugger(capacity int) *SearchDebugger {
	if capacity <= 0 {
		capacity = defaultSessionCapacity
	}
	return &SearchDebugger{capacity: capacity}
}

// SetOnCapture sets a callback fired for every finished session. Used to
// broadcast traces to websocket listeners.
func (d *SearchDebugger) SetOnCapture(callback func(*SessionTrace)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onCapture = callback
}

// StartSession creates a collector for a new session, attaches it to the
// context, and returns both. The returned session id identifies the trace
// once finished.
func (d *SearchDebugger) StartSession(ctx context.Context) (context.Context, *TraceCollector, string) {
	tc := NewTraceCollector()
	return WithTraceCollector(ctx, tc), tc, uuid.New().String()
}

// FinishSession builds the session trace from the collector, stores it, and
// notifies any capture callback.
func (d *SearchDebugger) FinishSession(sessionID string, tc *TraceCollector) *SessionTrace {
	if tc == nil {
		return nil
	}
	trace := BuildSessionTrace(sessionID, tc.Events(), tc.StartedAt(), tc.ElapsedMS())

	d.mu.Lock()
	d.sessions = append(d.sessions, trace)
	if len(d.sessions) > d.capacity {
		d.sessions = d.sessions[len(d.sessions)-d.capacity:]
	}
	callback := d.onCapture
	d.mu.Unlock()

	if callback != nil {
		callback(trace)
	}
	return trace
}

// Recent returns up to limit finished sessions, newest first.
func (d *SearchDebugger) Recent(limit int) []*SessionTrace {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if limit <= 0 || limit > len(d.sessions) {
		limit = len(d.sessions)
	}
	out := make([]*SessionTrace, 0, limit)
	for i := len(d.sessions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, d.sessions[i])
	}
	return out
}

// Session returns a finished session by id.
func (d *SearchDebugger) Session(id string) (*SessionTrace, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, s := range d.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}
