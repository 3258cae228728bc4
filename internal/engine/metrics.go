package engine

import (
	"sync"
	"time"
)

// stageStats aggregates one pipeline stage's observations.
type stageStats struct {
	count           int64
	totalDurationMS int64
	totalResults    int64
}

// StageSnapshot is the derived per-stage view served by the stats endpoint.
type StageSnapshot struct {
	Count         int64   `json:"count"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	AvgResults    float64 `json:"avg_results"`
}

// MetricsSnapshot is a point-in-time copy of the pipeline counters.
type MetricsSnapshot struct {
	Searches          int64                    `json:"searches"`
	VectorFallbacks   int64                    `json:"vector_fallbacks"`
	MemoryHits        int64                    `json:"memory_hits"`
	EmbeddingFailures int64                    `json:"embedding_failures"`
	QueueDrops        int64                    `json:"queue_drops"`
	Stages            map[string]StageSnapshot `json:"stages"`
}

// Metrics counts pipeline activity across all searches since process start.
type Metrics struct {
	mu                sync.Mutex
	stages            map[string]*stageStats
	searches          int64
	vectorFallbacks   int64
	memoryHits        int64
	embeddingFailures int64
	queueDrops        int64
}

// NewMetrics creates an empty metrics registry.
func NewMetrics() *Metrics {
	return &Metrics{stages: make(map[string]*stageStats)}
}

// ObserveStage records one stage execution.
func (m *Metrics) ObserveStage(stage string, duration time.Duration, results int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stages[stage]
	if !ok {
		s = &stageStats{}
		m.stages[stage] = s
	}
	s.count++
	s.totalDurationMS += duration.Milliseconds()
	s.totalResults += int64(results)
}

// IncSearch counts one retrieval request.
func (m *Metrics) IncSearch() {
	m.mu.Lock()
	m.searches++
	m.mu.Unlock()
}

// IncVectorFallback counts a search whose cluster stage came up short.
func (m *Metrics) IncVectorFallback() {
	m.mu.Lock()
	m.vectorFallbacks++
	m.mu.Unlock()
}

// IncMemoryHit counts a search that recalled conversation entities.
func (m *Metrics) IncMemoryHit() {
	m.mu.Lock()
	m.memoryHits++
	m.mu.Unlock()
}

// IncEmbeddingFailure counts a search that ran without a query embedding.
func (m *Metrics) IncEmbeddingFailure() {
	m.mu.Lock()
	m.embeddingFailures++
	m.mu.Unlock()
}

// IncQueueDrop counts a memory update lost to a full write queue.
func (m *Metrics) IncQueueDrop() {
	m.mu.Lock()
	m.queueDrops++
	m.mu.Unlock()
}

// Snapshot returns a copy of all counters with per-stage averages.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		Searches:          m.searches,
		VectorFallbacks:   m.vectorFallbacks,
		MemoryHits:        m.memoryHits,
		EmbeddingFailures: m.embeddingFailures,
		QueueDrops:        m.queueDrops,
		Stages:            make(map[string]StageSnapshot, len(m.stages)),
	}
	for stage, s := range m.stages {
		out := StageSnapshot{Count: s.count}
		if s.count > 0 {
			out.AvgDurationMS = float64(s.totalDurationMS) / float64(s.count)
			out.AvgResults = float64(s.totalResults) / float64(s.count)
		}
		snap.Stages[stage] = out
	}
	return snap
}
