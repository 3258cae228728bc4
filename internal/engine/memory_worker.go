package engine

import (
	"context"
	"log"
	"time"
)

// memoryWorker is a worker goroutine that applies queued conversation
// memory writes. It runs until the memory queue is closed.
func (e *Engine) memoryWorker(workerID int) {
	defer e.workerWaitGroup.Done()

	log.Printf("Memory worker %d started", workerID)

	for job := range e.memoryQueue {
		e.processMemoryWrite(workerID, job)
	}

	log.Printf("Memory worker %d stopped", workerID)
}

// processMemoryWrite merges one update into its conversation document.
// Writes run on a background context so an in-flight merge survives request
// cancellation. Failed writes back off quadratically before requeueing to
// ride out transient storage trouble.
func (e *Engine) processMemoryWrite(workerID int, job *MemoryWriteJob) {
	if job.Attempt > 0 {
		backoff := time.Duration(job.Attempt*job.Attempt) * 100 * time.Millisecond // 100ms, 400ms, 900ms...
		log.Printf("Worker %d: waiting %v before retry (attempt %d)", workerID, backoff, job.Attempt)
		time.Sleep(backoff)
	}

	if ok := e.memory.Store(context.Background(), job.Request); !ok {
		log.Printf("WARNING: Worker %d memory write failed for conversation %s (attempt %d)",
			workerID, job.Request.ConversationID, job.Attempt)
		e.requeueMemoryWrite(job)
		return
	}

	if callback := e.memoryStoredCallback(); callback != nil {
		callback(job.Request.ConversationID)
	}
}

// startWorkerPool starts the memory write workers.
func (e *Engine) startWorkerPool() {
	for i := 0; i < e.cfg.Workers.NumWorkers; i++ {
		e.workerWaitGroup.Add(1)
		go e.memoryWorker(i)
	}

	log.Printf("Started %d memory write workers", e.cfg.Workers.NumWorkers)
}

// stopWorkerPool stops the workers gracefully.
func (e *Engine) stopWorkerPool(ctx context.Context) error {
	// Close the queue (no more writes)
	close(e.memoryQueue)

	// Wait for workers to drain (with timeout)
	done := make(chan struct{})
	go func() {
		e.workerWaitGroup.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All memory write workers finished gracefully")
		return nil
	case <-time.After(e.cfg.Workers.ShutdownTimeout):
		log.Printf("WARNING: Shutdown timeout reached, %d memory writes may be dropped", e.queueLength())
		return nil
	case <-ctx.Done():
		log.Printf("WARNING: Context cancelled, %d memory writes may be dropped", e.queueLength())
		return ctx.Err()
	}
}
