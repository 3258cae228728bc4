package engine

import (
	"log"
	"time"

	"github.com/greenfell/hearth/internal/memory"
)

// MemoryWriteJob is one queued conversation memory update.
type MemoryWriteJob struct {
	Request    memory.StoreRequest
	EnqueuedAt time.Time
	Attempt    int
}

// queueMemoryWrite attempts to queue a conversation memory write.
// Returns true if the job was queued, false if the queue is full or closed.
func (e *Engine) queueMemoryWrite(job *MemoryWriteJob) bool {
	// Check if worker context is cancelled (shutdown in progress)
	if e.workerCtx != nil && e.workerCtx.Err() != nil {
		return false
	}

	// Try to queue (non-blocking)
	select {
	case e.memoryQueue <- job:
		return true
	default:
		// Queue is full or closed
		log.Printf("WARNING: Memory write queue full (size=%d), dropping update for conversation %s",
			e.cfg.Workers.QueueSize, job.Request.ConversationID)
		return false
	}
}

// newMemoryWriteJob creates a write job for one exchange's updates.
func newMemoryWriteJob(req memory.StoreRequest) *MemoryWriteJob {
	return &MemoryWriteJob{
		Request:    req,
		EnqueuedAt: time.Now(),
	}
}

// requeueMemoryWrite attempts to requeue a failed write.
// Returns true if the job was requeued, false if max retries exceeded or queue full.
func (e *Engine) requeueMemoryWrite(job *MemoryWriteJob) bool {
	// Check if worker context is cancelled (shutdown in progress)
	if e.workerCtx != nil && e.workerCtx.Err() != nil {
		log.Printf("WARNING: Failed to requeue write for conversation %s, shutdown in progress",
			job.Request.ConversationID)
		return false
	}

	// Check if max retries exceeded
	if job.Attempt >= e.cfg.Workers.MaxRetries {
		log.Printf("Max retries (%d) exceeded for conversation %s, giving up",
			e.cfg.Workers.MaxRetries, job.Request.ConversationID)
		return false
	}

	// Increment attempt counter
	job.Attempt++

	// Try to requeue (non-blocking to avoid panic on closed channel)
	select {
	case e.memoryQueue <- job:
		log.Printf("Requeued memory write for conversation %s (attempt %d/%d)",
			job.Request.ConversationID, job.Attempt, e.cfg.Workers.MaxRetries)
		return true
	case <-time.After(10 * time.Millisecond):
		// Timeout - queue might be full or closed
		log.Printf("WARNING: Failed to requeue write for conversation %s, queue timeout",
			job.Request.ConversationID)
		return false
	}
}

// queueLength returns the current number of pending writes.
func (e *Engine) queueLength() int {
	return len(e.memoryQueue)
}
