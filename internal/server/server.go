// Package server wires the hearth HTTP API: routing, auth, rate limiting,
// and the live trace feed.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/greenfell/hearth/internal/cluster"
	"github.com/greenfell/hearth/internal/config"
	"github.com/greenfell/hearth/internal/engine"
	"github.com/greenfell/hearth/internal/llm"
	"github.com/greenfell/hearth/internal/memory"
	"github.com/greenfell/hearth/internal/storage"
	"github.com/greenfell/hearth/web/handlers"
)

// Options carries the collaborators the HTTP layer exposes.
type Options struct {
	Engine   *engine.Engine
	Entities storage.EntityStore
	Clusters *cluster.Manager
	Memory   *memory.Service
	Embedder llm.EmbeddingGenerator
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start initializes and starts the HTTP server. Returns the actual address
// being listened on (useful for testing with port 0) and the trace feed hub.
// The server shuts down when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, opts Options) (string, *handlers.TraceHub, error) {
	mux := http.NewServeMux()

	// Trace feed: every captured debug session is pushed to subscribers.
	origins := []string{
		fmt.Sprintf("http://localhost:%d", cfg.Server.Port),
		fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
	}
	hub := handlers.NewTraceHub(origins)
	go hub.Run()
	opts.Engine.Debugger().SetOnCapture(func(trace *engine.SessionTrace) {
		hub.Broadcast(handlers.TraceMessage{Type: "search_trace", Trace: trace})
	})

	rateLimiter := handlers.NewClientRateLimiter(
		float64(cfg.Server.RateLimitPerSecond), cfg.Server.RateLimitPerSecond*2)

	searchHandler := handlers.NewSearchHandler(opts.Engine)
	debugHandler := handlers.NewDebugHandler(opts.Engine)
	entityHandler := handlers.NewEntityHandler(opts.Entities, opts.Embedder)
	clusterHandler := handlers.NewClusterHandler(opts.Clusters)
	memoryHandler := handlers.NewMemoryHandler(opts.Memory)
	statsHandler := handlers.NewStatsHandler(opts.Engine, opts.Entities, opts.Clusters)
	maintenanceHandler := handlers.NewMaintenanceHandler(opts.Entities, opts.Clusters, opts.Embedder)

	// API routes (behind bearer auth when a token is configured)
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/search", postOnly(searchHandler.Search))
	apiMux.HandleFunc("/api/feedback", postOnly(searchHandler.Feedback))
	apiMux.HandleFunc("/api/debug/search", postOnly(debugHandler.DebugSearch))
	apiMux.HandleFunc("/api/debug/traces", getOnly(debugHandler.ListTraces))
	apiMux.HandleFunc("/api/debug/traces/{id}", getOnly(debugHandler.GetTrace))
	apiMux.HandleFunc("/api/entities", getOnly(entityHandler.ListEntities))
	apiMux.HandleFunc("/api/entities/sync", postOnly(entityHandler.SyncEntities))
	apiMux.HandleFunc("/api/entities/{id}", getOnly(entityHandler.GetEntity))
	apiMux.HandleFunc("/api/clusters", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			clusterHandler.ListClusters(w, r)
		case http.MethodPost:
			clusterHandler.CreateCluster(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/clusters/{key}", getOnly(clusterHandler.GetCluster))
	apiMux.HandleFunc("/api/clusters/{key}/entities", postOnly(clusterHandler.AddMember))
	apiMux.HandleFunc("/api/conversations/{id}/memory", getOnly(memoryHandler.GetConversationMemory))
	apiMux.HandleFunc("/api/conversations/{id}/boost", postOnly(memoryHandler.BoostEntity))
	apiMux.HandleFunc("/api/memory/sweep", postOnly(memoryHandler.Sweep))
	apiMux.HandleFunc("/api/stats", getOnly(statsHandler.GetStats))
	apiMux.HandleFunc("/api/maintenance/embeddings", getOnly(maintenanceHandler.GetStatus))
	apiMux.HandleFunc("/api/maintenance/reindex", postOnly(maintenanceHandler.RunReindex))

	// Health endpoint - no auth required, used by monitoring.
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg.Server.APIToken))

	// WebSocket trace feed (no auth - origin validation handles browsers)
	mux.Handle("/ws", hub)

	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		hub.Stop()
		return "", nil, fmt.Errorf("server: failed to listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	// Graceful shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		hub.Stop()
	}()

	return actualAddr, hub, nil
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func postOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
