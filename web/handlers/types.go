package handlers

import (
	"github.com/greenfell/hearth/internal/engine"
	"github.com/greenfell/hearth/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// StatsResponse is the response format for GET /api/stats.
type StatsResponse struct {
	Entities   int                    `json:"entities"`
	Clusters   int                    `json:"clusters"`
	QueueDepth int                    `json:"queue_depth"`
	Pipeline   engine.MetricsSnapshot `json:"pipeline"`
}

// EntityListResponse is the paginated entity list response.
type EntityListResponse struct {
	Items    []types.HomeEntity `json:"items"`
	Total    int                `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	HasMore  bool               `json:"has_more"`
}

// TraceMessage is the envelope broadcast to trace feed subscribers.
type TraceMessage struct {
	Type  string               `json:"type"`
	Trace *engine.SessionTrace `json:"trace"`
}
