package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/greenfell/hearth/internal/cluster"
	"github.com/greenfell/hearth/internal/config"
	"github.com/greenfell/hearth/internal/memory"
	"github.com/greenfell/hearth/internal/storage"
	"github.com/greenfell/hearth/pkg/types"
)

// stubEmbedder returns a fixed vector or a fixed error.
type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vec, nil
}

func (s *stubEmbedder) GetModel() string { return "stub-embed" }

// mockEntityStore implements storage.EntityStore with prepared vector matches.
type mockEntityStore struct {
	entities map[string]*types.HomeEntity
	matches  []storage.EntityMatch
}

func newMockEntityStore() *mockEntityStore {
	return &mockEntityStore{entities: make(map[string]*types.HomeEntity)}
}

func (m *mockEntityStore) UpsertEntity(ctx context.Context, entity *types.HomeEntity) error {
	m.entities[entity.EntityID] = entity
	return nil
}

func (m *mockEntityStore) GetEntity(ctx context.Context, entityID string) (*types.HomeEntity, error) {
	if e, ok := m.entities[entityID]; ok {
		return e, nil
	}
	return nil, storage.ErrNotFound
}

func (m *mockEntityStore) ListEntities(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.HomeEntity], error) {
	panic("not implemented")
}

func (m *mockEntityStore) SearchEntities(ctx context.Context, vector []float32, opts storage.VectorSearchOptions) ([]storage.EntityMatch, error) {
	if opts.Limit > 0 && len(m.matches) > opts.Limit {
		return m.matches[:opts.Limit], nil
	}
	return m.matches, nil
}

func (m *mockEntityStore) CountEntities(ctx context.Context) (int, error) {
	return len(m.entities), nil
}

func (m *mockEntityStore) Close() error { return nil }

// mockClusterStore implements storage.ClusterStore with prepared matches and
// membership joins.
type mockClusterStore struct {
	clusters    map[string]*types.Cluster
	matches     []types.ClusterMatch
	memberships []storage.MembershipEntity
}

func newMockClusterStore() *mockClusterStore {
	return &mockClusterStore{clusters: make(map[string]*types.Cluster)}
}

func (m *mockClusterStore) UpsertCluster(ctx context.Context, c *types.Cluster) error {
	m.clusters[c.Key] = c
	return nil
}

func (m *mockClusterStore) GetCluster(ctx context.Context, key string) (*types.Cluster, error) {
	if c, ok := m.clusters[key]; ok {
		return c, nil
	}
	return nil, storage.ErrNotFound
}

func (m *mockClusterStore) ListClusters(ctx context.Context) ([]*types.Cluster, error) {
	out := make([]*types.Cluster, 0, len(m.clusters))
	for _, c := range m.clusters {
		out = append(out, c)
	}
	return out, nil
}

func (m *mockClusterStore) SearchClusters(ctx context.Context, vector []float32, clusterTypes []types.ClusterType, limit int, threshold float64) ([]types.ClusterMatch, error) {
	if limit > 0 && len(m.matches) > limit {
		return m.matches[:limit], nil
	}
	return m.matches, nil
}

func (m *mockClusterStore) AddMembership(ctx context.Context, membership *types.ClusterMembership) error {
	return nil
}

func (m *mockClusterStore) Memberships(ctx context.Context, clusterKeys []string, role types.MembershipRole) ([]storage.MembershipEntity, error) {
	keys := make(map[string]struct{}, len(clusterKeys))
	for _, k := range clusterKeys {
		keys[k] = struct{}{}
	}
	var out []storage.MembershipEntity
	for _, me := range m.memberships {
		if _, ok := keys[me.Membership.ClusterKey]; !ok {
			continue
		}
		if role != "" && me.Membership.Role != role {
			continue
		}
		out = append(out, me)
	}
	return out, nil
}

func newTestHomeEntity(id, area, state string) *types.HomeEntity {
	return &types.HomeEntity{
		EntityID:  id,
		Domain:    types.DomainOf(id),
		Area:      area,
		State:     state,
		Available: true,
		UpdatedAt: time.Now(),
	}
}

// testHarness wires an engine with mock stores for pipeline tests.
type testHarness struct {
	engine   *Engine
	entities *mockEntityStore
	clusters *mockClusterStore
	memory   *memory.Service
}

func newTestHarness(t *testing.T, embedder *stubEmbedder) *testHarness {
	t.Helper()

	es := newMockEntityStore()
	cs := newMockClusterStore()
	mem := memory.NewService(storage.NewInMemoryConversationStore(), memory.ServiceConfig{TTL: time.Hour})

	cfg := &config.Config{
		Retrieval: config.RetrievalConfig{
			ClusterSearchTimeout: time.Second,
			MemoryFetchTimeout:   time.Second,
			VectorSearchTimeout:  time.Second,
		},
		Workers: config.WorkersConfig{
			NumWorkers:      1,
			QueueSize:       16,
			MaxRetries:      2,
			ShutdownTimeout: time.Second,
		},
	}

	eng, err := New(cfg, Dependencies{
		Entities: es,
		Clusters: cluster.NewManager(cs, embedder),
		Memory:   mem,
		Embedder: embedder,
	})
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("engine start failed: %v", err)
	}
	t.Cleanup(func() {
		e := eng
		e.mu.RLock()
		started := e.started
		e.mu.RUnlock()
		if started {
			_ = eng.Shutdown(context.Background())
		}
	})

	return &testHarness{engine: eng, entities: es, clusters: cs, memory: mem}
}

// seedClusterMatch prepares one cluster hit expanding into the given entities.
func (h *testHarness) seedClusterMatch(key string, similarity float64, entities ...*types.HomeEntity) {
	c := &types.Cluster{
		Key:       key,
		Type:      types.ClusterMicro,
		Scope:     types.ClusterScopeSpecific,
		Embedding: []float32{0.1, 0.2},
	}
	h.clusters.clusters[key] = c
	h.clusters.matches = append(h.clusters.matches, types.ClusterMatch{Cluster: c, Similarity: similarity})
	for _, e := range entities {
		h.entities.entities[e.EntityID] = e
		h.clusters.memberships = append(h.clusters.memberships, storage.MembershipEntity{
			Entity: e,
			Membership: types.ClusterMembership{
				ClusterKey:   key,
				EntityID:     e.EntityID,
				Label:        types.EdgeLabelContainsEntity,
				Role:         types.RolePrimary,
				Weight:       1.0,
				ContextBoost: 0.5,
			},
		})
	}
}

// Test: New rejects missing collaborators at construction
func TestNew_RequiresCollaborators(t *testing.T) {
	cfg := &config.Config{Workers: config.WorkersConfig{QueueSize: 1}}

	if _, err := New(nil, Dependencies{}); err == nil {
		t.Error("nil config should fail")
	}
	if _, err := New(cfg, Dependencies{}); err == nil {
		t.Error("missing stores should fail")
	}
}

// Test: searching an unstarted engine fails cleanly
func TestSearch_NotStarted(t *testing.T) {
	es := newMockEntityStore()
	cs := newMockClusterStore()
	embedder := &stubEmbedder{vec: []float32{0.1}}
	mem := memory.NewService(storage.NewInMemoryConversationStore(), memory.ServiceConfig{TTL: time.Hour})
	cfg := &config.Config{Workers: config.WorkersConfig{NumWorkers: 1, QueueSize: 4, ShutdownTimeout: time.Second}}

	eng, err := New(cfg, Dependencies{
		Entities: es,
		Clusters: cluster.NewManager(cs, embedder),
		Memory:   mem,
		Embedder: embedder,
	})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	if _, err := eng.Search(context.Background(), SearchRequest{Query: "anything"}); err == nil {
		t.Error("search before Start should fail")
	}
}

// Test: cluster expansion alone fills the selection when it meets k_min
func TestSearch_ClusterPathFillsSelection(t *testing.T) {
	h := newTestHarness(t, &stubEmbedder{vec: []float32{0.1, 0.2}})

	var members []*types.HomeEntity
	for i := 0; i < 6; i++ {
		members = append(members, newTestHomeEntity(
			fmt.Sprintf("light.kitchen_%d", i), "kitchen", "on"))
	}
	h.seedClusterMatch("kitchen_lights", 0.9, members...)

	resp, err := h.engine.Search(context.Background(), SearchRequest{Query: "kapcsold fel a lámpát"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	if resp.Scope.Scope != types.ScopeMicro {
		t.Errorf("expected micro scope, got %s", resp.Scope.Scope)
	}
	if resp.FromClusters != 6 {
		t.Errorf("expected 6 cluster candidates, got %d", resp.FromClusters)
	}
	if resp.FromVector != 0 {
		t.Errorf("cluster path met k_min, vector fallback should not run, got %d", resp.FromVector)
	}
	// k for this query is k_min=5.
	if len(resp.Selection) != 5 {
		t.Errorf("expected selection capped at 5, got %d", len(resp.Selection))
	}
	if resp.Selection[0].Candidate.ClusterContext == nil {
		t.Error("cluster candidates should carry cluster context")
	}
	if got := h.engine.MetricsSnapshot(); got.VectorFallbacks != 0 || got.Searches != 1 {
		t.Errorf("unexpected metrics: %+v", got)
	}
}

// Test: vector fallback tops up when cluster expansion comes up short
func TestSearch_VectorFallbackTopsUp(t *testing.T) {
	h := newTestHarness(t, &stubEmbedder{vec: []float32{0.1, 0.2}})

	// One cluster member is below micro k_min=5.
	h.seedClusterMatch("desk_lamp", 0.85, newTestHomeEntity("light.desk", "office", "off"))

	for i := 0; i < 6; i++ {
		e := newTestHomeEntity(fmt.Sprintf("light.extra_%d", i), "office", "on")
		h.entities.entities[e.EntityID] = e
		h.entities.matches = append(h.entities.matches, storage.EntityMatch{
			Entity:     e,
			Similarity: 0.8 - float64(i)*0.05,
		})
	}

	resp, err := h.engine.Search(context.Background(), SearchRequest{Query: "kapcsold fel a lámpát"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	if resp.FromClusters != 1 {
		t.Errorf("expected 1 cluster candidate, got %d", resp.FromClusters)
	}
	if resp.FromVector != 6 {
		t.Errorf("expected 6 vector candidates, got %d", resp.FromVector)
	}
	if len(resp.Selection) != 5 {
		t.Errorf("expected selection of k=5, got %d", len(resp.Selection))
	}
	if got := h.engine.MetricsSnapshot(); got.VectorFallbacks != 1 {
		t.Errorf("vector fallback should be counted once, got %d", got.VectorFallbacks)
	}
}

// Test: remembered entities join the pool and are hydrated from the store
func TestSearch_MemoryCandidatesJoin(t *testing.T) {
	h := newTestHarness(t, &stubEmbedder{vec: []float32{0.1, 0.2}})

	h.entities.entities["sensor.kitchen_temp"] = newTestHomeEntity("sensor.kitchen_temp", "kitchen", "21.5")
	ok := h.memory.Store(context.Background(), memory.StoreRequest{
		ConversationID: "conv-7",
		Entities: []memory.ObservedEntity{{
			EntityID:   "sensor.kitchen_temp",
			Relevance:  0.9,
			Similarity: 0.9,
			Area:       "kitchen",
			Domain:     "sensor",
			Context:    "21.5",
		}},
		Areas: []string{"kitchen"},
	})
	if !ok {
		t.Fatal("seeding conversation memory failed")
	}

	resp, err := h.engine.Search(context.Background(), SearchRequest{
		Query:          "what about the kitchen temperature",
		ConversationID: "conv-7",
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	if resp.FromMemory != 1 {
		t.Errorf("expected 1 remembered candidate, got %d", resp.FromMemory)
	}
	found := false
	for _, rc := range resp.Selection {
		if rc.Candidate.EntityID == "sensor.kitchen_temp" {
			found = true
			if !rc.Candidate.MemoryBoosted {
				t.Error("remembered candidate should be flagged memory-boosted")
			}
			if rc.Candidate.State != "21.5" {
				t.Errorf("candidate should be hydrated with live state, got %q", rc.Candidate.State)
			}
		}
	}
	if !found {
		t.Error("remembered entity should appear in the selection")
	}
	if got := h.engine.MetricsSnapshot(); got.MemoryHits != 1 {
		t.Errorf("memory hit should be counted, got %d", got.MemoryHits)
	}
}

// Test: embedding failure degrades to memory-only retrieval, never an error
func TestSearch_EmbeddingFailureDegrades(t *testing.T) {
	h := newTestHarness(t, &stubEmbedder{err: errors.New("provider down")})

	h.entities.entities["sensor.kitchen_temp"] = newTestHomeEntity("sensor.kitchen_temp", "kitchen", "21.5")
	h.memory.Store(context.Background(), memory.StoreRequest{
		ConversationID: "conv-8",
		Entities: []memory.ObservedEntity{{
			EntityID:  "sensor.kitchen_temp",
			Relevance: 0.9,
			Area:      "kitchen",
			Domain:    "sensor",
		}},
	})

	resp, err := h.engine.Search(context.Background(), SearchRequest{
		Query:          "what about the kitchen temperature",
		ConversationID: "conv-8",
	})
	if err != nil {
		t.Fatalf("embedding failure must not error the search: %v", err)
	}

	if resp.FromClusters != 0 || resp.FromVector != 0 {
		t.Error("no embedding means no cluster or vector candidates")
	}
	if len(resp.Selection) == 0 {
		t.Error("memory recall should still produce a selection")
	}
	if got := h.engine.MetricsSnapshot(); got.EmbeddingFailures != 1 {
		t.Errorf("embedding failure should be counted, got %d", got.EmbeddingFailures)
	}
}

// Test: nothing anywhere yields an empty selection, not an error
func TestSearch_EmptyEverything(t *testing.T) {
	h := newTestHarness(t, &stubEmbedder{vec: []float32{0.1, 0.2}})

	resp, err := h.engine.Search(context.Background(), SearchRequest{Query: "turn on the lights"})
	if err != nil {
		t.Fatalf("empty stores must not error: %v", err)
	}
	if len(resp.Selection) != 0 {
		t.Errorf("expected empty selection, got %d", len(resp.Selection))
	}
}

// Test: an explicit K overrides the scope-detected candidate count
func TestSearch_ExplicitKOverride(t *testing.T) {
	h := newTestHarness(t, &stubEmbedder{vec: []float32{0.1, 0.2}})

	var members []*types.HomeEntity
	for i := 0; i < 8; i++ {
		members = append(members, newTestHomeEntity(
			fmt.Sprintf("light.row_%d", i), "kitchen", "on"))
	}
	h.seedClusterMatch("all_lights", 0.9, members...)

	resp, err := h.engine.Search(context.Background(), SearchRequest{
		Query: "kapcsold fel a lámpát",
		K:     3,
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(resp.Selection) != 3 {
		t.Errorf("expected explicit K=3 to cap the selection, got %d", len(resp.Selection))
	}
}

// Test: a traced search produces a full session trace
func TestDebugSearch_CapturesTrace(t *testing.T) {
	h := newTestHarness(t, &stubEmbedder{vec: []float32{0.1, 0.2}})

	var members []*types.HomeEntity
	for i := 0; i < 6; i++ {
		members = append(members, newTestHomeEntity(
			fmt.Sprintf("light.kitchen_%d", i), "kitchen", "on"))
	}
	h.seedClusterMatch("kitchen_lights", 0.9, members...)

	resp, trace, err := h.engine.DebugSearch(context.Background(), SearchRequest{Query: "kapcsold fel a lámpát"})
	if err != nil {
		t.Fatalf("debug search failed: %v", err)
	}

	if resp.SessionID == "" {
		t.Error("traced search should carry a session id")
	}
	if trace == nil {
		t.Fatal("trace should not be nil")
	}
	stages := make(map[string]bool)
	for _, st := range trace.Stages {
		stages[st.Stage] = true
	}
	for _, want := range []string{StageClusterSearch, StageReranking, StageFinalSelection} {
		if !stages[want] {
			t.Errorf("trace should include stage %s, got %v", want, stages)
		}
	}
	if len(trace.Selection) != len(resp.Selection) {
		t.Errorf("trace selection (%d) should match response (%d)",
			len(trace.Selection), len(resp.Selection))
	}
	if _, ok := h.engine.Debugger().Session(resp.SessionID); !ok {
		t.Error("finished session should be retrievable from the debugger")
	}
	if trace.Metrics.PromptInclusionRate <= 0 {
		t.Error("session metrics should be computed")
	}
}

// Test: a search with a conversation id persists memory through the workers
func TestSearch_PersistsConversationMemory(t *testing.T) {
	h := newTestHarness(t, &stubEmbedder{vec: []float32{0.1, 0.2}})

	var members []*types.HomeEntity
	for i := 0; i < 6; i++ {
		members = append(members, newTestHomeEntity(
			fmt.Sprintf("light.kitchen_%d", i), "kitchen", "on"))
	}
	h.seedClusterMatch("kitchen_lights", 0.9, members...)

	stored := make(chan string, 1)
	h.engine.SetOnMemoryStored(func(conversationID string) {
		select {
		case stored <- conversationID:
		default:
		}
	})

	_, err := h.engine.Search(context.Background(), SearchRequest{
		Query:          "kapcsold fel a lámpát",
		ConversationID: "conv-42",
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	select {
	case id := <-stored:
		if id != "conv-42" {
			t.Errorf("stored callback got wrong conversation: %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("memory write did not complete in time")
	}

	doc := h.memory.Get(context.Background(), "conv-42")
	if doc == nil {
		t.Fatal("conversation memory should exist after the write")
	}
	if len(doc.Entities) == 0 {
		t.Error("persisted memory should carry the selected entities")
	}
	if doc.QueryCount != 1 {
		t.Errorf("expected query count 1, got %d", doc.QueryCount)
	}
	if doc.CurrentFocus != "kitchen" {
		t.Errorf("current focus should follow the top candidate's area, got %q", doc.CurrentFocus)
	}
	if doc.IntentPattern != string(types.ScopeMicro) {
		t.Errorf("intent pattern should record the scope, got %q", doc.IntentPattern)
	}
}

// Test: the write queue drops when full and counts the drop
func TestQueueMemoryUpdate_DropsWhenFull(t *testing.T) {
	es := newMockEntityStore()
	cs := newMockClusterStore()
	embedder := &stubEmbedder{vec: []float32{0.1}}
	mem := memory.NewService(storage.NewInMemoryConversationStore(), memory.ServiceConfig{TTL: time.Hour})
	cfg := &config.Config{
		Workers: config.WorkersConfig{
			NumWorkers:      0, // nothing drains the queue
			QueueSize:       1,
			MaxRetries:      1,
			ShutdownTimeout: time.Second,
		},
	}

	eng, err := New(cfg, Dependencies{
		Entities: es,
		Clusters: cluster.NewManager(cs, embedder),
		Memory:   mem,
		Embedder: embedder,
	})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer eng.Shutdown(context.Background())

	req := memory.StoreRequest{ConversationID: "conv-full", Entities: []memory.ObservedEntity{{EntityID: "light.a"}}}
	if !eng.QueueMemoryUpdate(req) {
		t.Error("first update should fit the queue")
	}
	if eng.QueueMemoryUpdate(req) {
		t.Error("second update should be dropped")
	}
	if got := eng.MetricsSnapshot(); got.QueueDrops != 1 {
		t.Errorf("queue drop should be counted, got %d", got.QueueDrops)
	}
}

// Test: lifecycle transitions guard double starts and use after shutdown
func TestEngine_Lifecycle(t *testing.T) {
	h := newTestHarness(t, &stubEmbedder{vec: []float32{0.1}})

	if err := h.engine.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	if err := h.engine.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if err := h.engine.Shutdown(context.Background()); err == nil {
		t.Error("second Shutdown should fail")
	}
	if _, err := h.engine.Search(context.Background(), SearchRequest{Query: "x"}); err == nil {
		t.Error("search after shutdown should fail")
	}
	if h.engine.QueueMemoryUpdate(memory.StoreRequest{ConversationID: "c"}) {
		t.Error("queueing after shutdown should report false")
	}
}

// Test: feedback teaches the expansion memory
func TestRecordFeedback_TeachesExpansion(t *testing.T) {
	h := newTestHarness(t, &stubEmbedder{vec: []float32{0.1}})

	h.engine.RecordFeedback(context.Background(), "conv-9", "movie time", 0.9, []string{"media_player.tv"})

	s := h.engine.expansion.Suggestions("movie time")
	if len(s.Entities) != 1 || s.Entities[0] != "media_player.tv" {
		t.Errorf("feedback should teach the expansion memory, got %v", s.Entities)
	}
	if !almostEqual(s.Confidence, 0.9) {
		t.Errorf("expected confidence 0.9, got %f", s.Confidence)
	}
}

// Test: swapping retrieval tuning changes detection without a restart
func TestApplyRetrieval_SwapsDetector(t *testing.T) {
	h := newTestHarness(t, &stubEmbedder{vec: []float32{0.1}})

	before, err := h.engine.Search(context.Background(), SearchRequest{Query: "zzz custom trigger"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if !before.Scope.FallbackUsed {
		t.Fatal("custom trigger should not match the defaults")
	}

	file := config.DefaultRetrievalFile()
	file.Languages = append(file.Languages, config.LanguagePack{
		Code:     "test",
		Overview: []string{`zzz\s+custom\s+trigger`},
	})
	h.engine.ApplyRetrieval(file)

	after, err := h.engine.Search(context.Background(), SearchRequest{Query: "zzz custom trigger"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if after.Scope.Scope != types.ScopeOverview || after.Scope.FallbackUsed {
		t.Errorf("swapped patterns should classify the query, got %+v", after.Scope)
	}
}
