package engine

import (
	"context"
	"testing"
	"time"
)

func sampleSessionEvents() []TraceEvent {
	return []TraceEvent{
		EventSessionStarted("turn on the kitchen lights", "micro", 0.75, 768),
		EventCandidateScored(StageClusterSearch, "light.kitchen", 0.9, nil),
		EventCandidateScored(StageVectorFallback, "sensor.kitchen_temp", 0.7, nil),
		EventStageCompleted(StageClusterSearch, 1, 1, 12*time.Millisecond, nil),
		EventCandidateScored(StageReranking, "light.kitchen", 0.82, map[string]float64{
			"base_similarity":  0.9,
			"has_active_value": 1,
		}),
		EventCandidateScored(StageReranking, "sensor.kitchen_temp", 0.55, map[string]float64{
			"base_similarity": 0.7,
		}),
		EventCandidateDropped(StageReranking, "sensor.kitchen_temp", "below selection cutoff"),
		EventSelectionReturned([]string{"light.kitchen"}, nil),
	}
}

// Test: the session trace follows each entity through the stages
func TestBuildSessionTrace_Journeys(t *testing.T) {
	trace := BuildSessionTrace("s1", sampleSessionEvents(), time.Now(), 25)

	if trace.Query != "turn on the kitchen lights" {
		t.Errorf("query not carried over, got %q", trace.Query)
	}
	if trace.Scope != "micro" || trace.Threshold != 0.75 || trace.EmbeddingDim != 768 {
		t.Errorf("session header lost: scope=%s threshold=%f dim=%d",
			trace.Scope, trace.Threshold, trace.EmbeddingDim)
	}
	if len(trace.Journeys) != 2 {
		t.Fatalf("expected 2 journeys, got %d", len(trace.Journeys))
	}

	// Selected entities sort first.
	selected := trace.Journeys[0]
	if selected.EntityID != "light.kitchen" {
		t.Fatalf("selected entity should sort first, got %s", selected.EntityID)
	}
	if selected.ClusterScore != 0.9 {
		t.Errorf("cluster score lost, got %f", selected.ClusterScore)
	}
	if selected.RerankScore != 0.82 {
		t.Errorf("rerank score lost, got %f", selected.RerankScore)
	}
	if selected.FinalRank != 0 || !selected.Selected {
		t.Errorf("selection not recorded: rank=%d selected=%v", selected.FinalRank, selected.Selected)
	}

	dropped := trace.Journeys[1]
	if dropped.EntityID != "sensor.kitchen_temp" {
		t.Fatalf("expected dropped entity second, got %s", dropped.EntityID)
	}
	// score_delta = rerank - vector = 0.55 - 0.7
	if !almostEqual(dropped.ScoreDelta, -0.15) {
		t.Errorf("expected score delta -0.15, got %f", dropped.ScoreDelta)
	}
	if dropped.FinalRank != -1 || dropped.Selected {
		t.Error("unselected entity should have rank -1")
	}
	if dropped.DroppedStage != StageReranking || dropped.DropReason == "" {
		t.Errorf("drop not recorded: stage=%s reason=%q", dropped.DroppedStage, dropped.DropReason)
	}
}

// Test: session metrics aggregate hit and inclusion ratios
func TestBuildSessionTrace_Metrics(t *testing.T) {
	trace := BuildSessionTrace("s1", sampleSessionEvents(), time.Now(), 25)

	// One of two candidates came through a cluster.
	if !almostEqual(trace.Metrics.ClusterHitRate, 0.5) {
		t.Errorf("expected cluster hit rate 0.5, got %f", trace.Metrics.ClusterHitRate)
	}
	// One of two candidates survived into the selection.
	if !almostEqual(trace.Metrics.PromptInclusionRate, 0.5) {
		t.Errorf("expected prompt inclusion rate 0.5, got %f", trace.Metrics.PromptInclusionRate)
	}
	// The selected entity carried an active value.
	if !almostEqual(trace.Metrics.ActiveEntityRatio, 1.0) {
		t.Errorf("expected active entity ratio 1.0, got %f", trace.Metrics.ActiveEntityRatio)
	}
}

// Test: stage summaries keep their order and counts
func TestBuildSessionTrace_Stages(t *testing.T) {
	trace := BuildSessionTrace("s1", sampleSessionEvents(), time.Now(), 25)

	if len(trace.Stages) != 1 {
		t.Fatalf("expected 1 stage record, got %d", len(trace.Stages))
	}
	st := trace.Stages[0]
	if st.Stage != StageClusterSearch || st.InputCount != 1 || st.OutputCount != 1 {
		t.Errorf("stage record mangled: %+v", st)
	}
	if st.DurationMS != 12 {
		t.Errorf("expected duration 12ms, got %d", st.DurationMS)
	}
}

// Test: malformed event streams never panic and produce clean zero values
func TestBuildSessionTrace_MalformedEvents(t *testing.T) {
	events := []TraceEvent{
		{Kind: KindCandidateScored}, // no entity id
		{Kind: KindCandidateDropped},
		{Kind: TraceEventKind("bogus")},
		EventSelectionReturned([]string{"", "light.a"}, nil),
	}

	trace := BuildSessionTrace("s1", events, time.Now(), 0)

	if trace == nil {
		t.Fatal("trace should never be nil")
	}
	if len(trace.Journeys) != 1 {
		t.Errorf("only the one valid entity should journey, got %d", len(trace.Journeys))
	}
	if trace.Stages == nil || trace.Selection == nil {
		t.Error("slices should be non-nil for JSON output")
	}
}

// Test: an empty event stream produces an empty but valid trace
func TestBuildSessionTrace_NoEvents(t *testing.T) {
	trace := BuildSessionTrace("s1", nil, time.Now(), 0)

	if trace.Metrics.ClusterHitRate != 0 || trace.Metrics.PromptInclusionRate != 0 {
		t.Error("zero candidates should give zero ratios")
	}
	if trace.Stages == nil || trace.Journeys == nil || trace.Selection == nil {
		t.Error("slices should be non-nil")
	}
}

// Test: the debugger keeps only the most recent sessions
func TestSearchDebugger_CapacityTrims(t *testing.T) {
	d := NewSearchDebugger(2)

	for i := 0; i < 3; i++ {
		_, tc, id := d.StartSession(context.Background())
		tc.Emit(EventSessionStarted("q", "micro", 0.75, 0))
		d.FinishSession(id, tc)
	}

	recent := d.Recent(0)
	if len(recent) != 2 {
		t.Errorf("capacity 2 should keep 2 sessions, got %d", len(recent))
	}
}

// Test: Recent returns newest first and respects the limit
func TestSearchDebugger_RecentOrder(t *testing.T) {
	d := NewSearchDebugger(10)

	var ids []string
	for i := 0; i < 3; i++ {
		_, tc, id := d.StartSession(context.Background())
		d.FinishSession(id, tc)
		ids = append(ids, id)
	}

	recent := d.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(recent))
	}
	if recent[0].ID != ids[2] || recent[1].ID != ids[1] {
		t.Error("Recent should return newest first")
	}
}

// Test: finished sessions are retrievable by id
func TestSearchDebugger_SessionLookup(t *testing.T) {
	d := NewSearchDebugger(10)

	_, tc, id := d.StartSession(context.Background())
	tc.Emit(EventSessionStarted("find me", "macro", 0.7, 0))
	d.FinishSession(id, tc)

	got, ok := d.Session(id)
	if !ok {
		t.Fatal("finished session should be retrievable")
	}
	if got.Query != "find me" {
		t.Errorf("wrong session content: %q", got.Query)
	}
	if _, ok := d.Session("nope"); ok {
		t.Error("unknown id should not resolve")
	}
}

// Test: the capture callback fires for every finished session
func TestSearchDebugger_OnCaptureCallback(t *testing.T) {
	d := NewSearchDebugger(10)

	var captured *SessionTrace
	d.SetOnCapture(func(trace *SessionTrace) { captured = trace })

	_, tc, id := d.StartSession(context.Background())
	d.FinishSession(id, tc)

	if captured == nil || captured.ID != id {
		t.Error("capture callback should receive the finished trace")
	}
}

// Test: finishing without a collector is a no-op
func TestSearchDebugger_FinishNilCollector(t *testing.T) {
	d := NewSearchDebugger(10)

	if trace := d.FinishSession("x", nil); trace != nil {
		t.Error("nil collector should produce no trace")
	}
	if len(d.Recent(0)) != 0 {
		t.Error("nothing should be stored")
	}
}

// Test: events emitted through a context land in its collector
func TestEmitToContext(t *testing.T) {
	tc := NewTraceCollector()
	ctx := WithTraceCollector(context.Background(), tc)

	emitToContext(ctx, EventCandidateScored(StageReranking, "light.a", 0.5, nil))
	emitToContext(context.Background(), EventCandidateScored(StageReranking, "light.b", 0.5, nil))

	events := tc.Events()
	if len(events) != 1 {
		t.Fatalf("only the context with a collector should record, got %d events", len(events))
	}
	if events[0].EntityID != "light.a" {
		t.Errorf("wrong event recorded: %s", events[0].EntityID)
	}
}
