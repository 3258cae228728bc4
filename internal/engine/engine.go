// Package engine implements the retrieval pipeline that selects smart-home
// entities for LLM prompt injection: scope detection, cluster search with
// vector fallback, conversation memory recall, reranking, and token budget
// enforcement. Conversation memory writes run asynchronously through a
// bounded queue and worker pool so retrieval latency never waits on storage.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/greenfell/hearth/internal/cluster"
	"github.com/greenfell/hearth/internal/config"
	"github.com/greenfell/hearth/internal/llm"
	"github.com/greenfell/hearth/internal/memory"
	"github.com/greenfell/hearth/internal/storage"
)

// Engine is the core retrieval orchestrator. All collaborators are injected;
// the engine owns only the process-local intelligence layer (tracker,
// expansion memory, reranker) and the memory write worker pool.
type Engine struct {
	// Configuration
	cfg *config.Config

	// Injected collaborators
	entities storage.EntityStore
	clusters *cluster.Manager
	memory   *memory.Service
	embedder llm.EmbeddingGenerator

	// Intelligence layer
	tracker   *EntityContextTracker
	expansion *QueryExpansionMemory
	reranker  *Reranker
	tokens    *TokenCounter
	debugger  *SearchDebugger
	metrics   *Metrics

	// Hot-swappable retrieval tuning
	detectorMu sync.RWMutex
	detector   *ScopeDetector

	// Memory write pipeline
	memoryQueue     chan *MemoryWriteJob
	workerWaitGroup sync.WaitGroup
	workerCtx       context.Context
	workerCancel    context.CancelFunc

	// State management
	started      bool
	shuttingDown bool
	mu           sync.RWMutex

	// Callbacks
	onMemoryStored func(conversationID string)
}

// Dependencies carries the engine's injected collaborators.
type Dependencies struct {
	Entities storage.EntityStore
	Clusters *cluster.Manager
	Memory   *memory.Service
	Embedder llm.EmbeddingGenerator

	// Retrieval is the tuning file; nil uses the built-in defaults.
	Retrieval *config.RetrievalFile
}

// New creates a retrieval engine. Every collaborator is required; missing
// configuration fails here rather than surfacing mid-request.
func New(cfg *config.Config, deps Dependencies) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: config is required")
	}
	if deps.Entities == nil {
		return nil, fmt.Errorf("engine: entity store is required")
	}
	if deps.Clusters == nil {
		return nil, fmt.Errorf("engine: cluster manager is required")
	}
	if deps.Memory == nil {
		return nil, fmt.Errorf("engine: memory service is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("engine: embedding generator is required")
	}

	e := &Engine{
		cfg:         cfg,
		entities:    deps.Entities,
		clusters:    deps.Clusters,
		memory:      deps.Memory,
		embedder:    deps.Embedder,
		detector:    NewScopeDetector(deps.Retrieval),
		tracker:     NewEntityContextTracker(),
		expansion:   NewQueryExpansionMemory(0),
		tokens:      NewTokenCounter(),
		debugger:    NewSearchDebugger(0),
		metrics:     NewMetrics(),
		memoryQueue: make(chan *MemoryWriteJob, cfg.Workers.QueueSize),
	}
	e.reranker = NewReranker(e.tracker)

	return e, nil
}

// Start starts the engine and its memory write workers.
// This must be called before Search().
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}

	log.Println("Starting retrieval engine...")

	// Create worker context
	e.workerCtx, e.workerCancel = context.WithCancel(ctx)

	// Start worker pool
	e.startWorkerPool()

	e.started = true
	log.Println("Retrieval engine started successfully")

	return nil
}

// Shutdown gracefully shuts down the engine. It closes the memory write
// queue and waits for workers to drain, bounded by the configured timeout.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return fmt.Errorf("engine not started")
	}

	log.Println("Shutting down retrieval engine...")

	// Mark as shutting down (prevents requeueing)
	e.shuttingDown = true

	// Cancel worker context (stops workers from requeueing)
	if e.workerCancel != nil {
		e.workerCancel()
	}

	// Stop worker pool gracefully
	if err := e.stopWorkerPool(ctx); err != nil {
		log.Printf("WARNING: Worker pool shutdown had errors: %v", err)
	}

	e.started = false
	e.shuttingDown = false
	log.Println("Retrieval engine shut down successfully")

	return nil
}

// ApplyRetrieval swaps in freshly loaded tuning data: scope patterns for
// the detector and recall tables for the memory service. In-flight searches
// finish on the old data.
func (e *Engine) ApplyRetrieval(file *config.RetrievalFile) {
	detector := NewScopeDetector(file)

	e.detectorMu.Lock()
	e.detector = detector
	e.detectorMu.Unlock()

	e.memory.SetTables(memory.NewRelevanceTables(file))
	log.Println("Engine: retrieval tuning reloaded")
}

// scopeDetector returns the current detector under the swap lock.
func (e *Engine) scopeDetector() *ScopeDetector {
	e.detectorMu.RLock()
	defer e.detectorMu.RUnlock()
	return e.detector
}

// QueueMemoryUpdate queues one conversation memory update for asynchronous
// application. Returns false when the engine is not running, the update has
// no conversation, or the queue is full.
func (e *Engine) QueueMemoryUpdate(req memory.StoreRequest) bool {
	e.mu.RLock()
	canQueue := e.started && !e.shuttingDown
	e.mu.RUnlock()
	if !canQueue || req.ConversationID == "" {
		return false
	}
	if !e.queueMemoryWrite(newMemoryWriteJob(req)) {
		e.metrics.IncQueueDrop()
		return false
	}
	return true
}

// RecordFeedback folds a downstream outcome back into the learning layers:
// the expansion memory learns which entities served the query, and used
// entities get their conversation boost reinforced.
func (e *Engine) RecordFeedback(ctx context.Context, conversationID, query string, success float64, usedEntities []string) {
	e.expansion.LearnPattern(query, success, usedEntities)

	if conversationID == "" || success <= 0 {
		return
	}
	for _, entityID := range usedEntities {
		e.memory.UpdateEntityBoost(ctx, conversationID, entityID, 1.0+0.2*success)
	}
}

// SetOnMemoryStored sets a callback fired after each conversation memory
// write lands. Useful for cache invalidation and UI refresh.
func (e *Engine) SetOnMemoryStored(callback func(conversationID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMemoryStored = callback
}

// memoryStoredCallback returns the callback under the state lock.
func (e *Engine) memoryStoredCallback() func(string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.onMemoryStored
}

// Debugger exposes the session trace store for the debug endpoints.
func (e *Engine) Debugger() *SearchDebugger {
	return e.debugger
}

// MetricsSnapshot returns current pipeline counters for the stats endpoint.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// QueueDepth returns the number of memory writes waiting for a worker.
func (e *Engine) QueueDepth() int {
	return len(e.memoryQueue)
}
