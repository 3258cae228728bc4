package storage

import (
	"errors"
	"time"

	"github.com/greenfell/hearth/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// PaginatedResult represents a paginated result set with type safety using generics.
type PaginatedResult[T any] struct {
	// Items is the slice of results for the current page.
	Items []T

	// Total is the total number of items across all pages.
	Total int

	// Page is the current page number (1-indexed).
	Page int

	// PageSize is the number of items per page.
	PageSize int

	// HasMore indicates whether there are more pages available.
	HasMore bool
}

// ListOptions provides pagination and filtering options for entity listing.
type ListOptions struct {
	// Page is the page number to retrieve (1-indexed, default: 1).
	Page int

	// Limit is the number of items per page (default: 25, max: 200).
	Limit int

	// SortBy specifies the field to sort by (e.g., "entity_id", "updated_at").
	SortBy string

	// SortOrder specifies the sort direction ("asc" or "desc", default: "asc").
	SortOrder string

	// Domain filters by integration domain. Empty string means no filter.
	Domain string

	// Area filters by assigned area. Empty string means no filter.
	Area string

	// OnlyAvailable excludes entities currently reported unavailable.
	OnlyAvailable bool
}

// Normalize applies defaults and validates the ListOptions.
func (o *ListOptions) Normalize() {
	// Whitelist validation for SortBy to prevent SQL injection
	allowedSortFields := map[string]bool{
		"entity_id":  true,
		"domain":     true,
		"area":       true,
		"updated_at": true,
	}

	if !allowedSortFields[o.SortBy] {
		o.SortBy = "entity_id" // Default sort field
	}

	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		o.SortOrder = "asc" // Default sort order
	}

	if o.Page < 1 {
		o.Page = 1
	}

	if o.Limit < 1 {
		o.Limit = 25 // Default limit
	}

	if o.Limit > 200 {
		o.Limit = 200 // Max limit
	}
}

// Offset calculates the offset for SQL queries based on page and limit.
func (o *ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// VectorSearchOptions provides options for vector search over entities.
type VectorSearchOptions struct {
	// Limit is the maximum number of results to return (default: 10, max: 100).
	Limit int

	// Threshold is the minimum cosine similarity (0.0 to 1.0). Results
	// below the threshold are dropped.
	Threshold float64

	// Domains restricts results to the given integration domains.
	// Empty slice means no domain filter.
	Domains []string

	// Areas restricts results to the given areas. Empty slice means no
	// area filter.
	Areas []string
}

// Normalize applies defaults and validates the VectorSearchOptions.
func (o *VectorSearchOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 10
	}

	if o.Limit > 100 {
		o.Limit = 100
	}

	if o.Threshold < 0.0 {
		o.Threshold = 0.0
	}

	if o.Threshold > 1.0 {
		o.Threshold = 1.0
	}
}

// EntityMatch is a stored entity returned by vector search with its
// cosine similarity to the query vector.
type EntityMatch struct {
	Entity     *types.HomeEntity
	Similarity float64
}

// MembershipEntity joins a cluster membership edge with the entity it
// points at. Returned by one-hop cluster expansion.
type MembershipEntity struct {
	Entity     *types.HomeEntity
	Membership types.ClusterMembership
}

// SweepResult summarizes one expiry sweep over conversation documents.
type SweepResult struct {
	// Scanned is the number of documents examined.
	Scanned int

	// Deleted is the number of expired documents removed.
	Deleted int

	// StartedAt is when the sweep began.
	StartedAt time.Time

	// Duration is how long the sweep took.
	Duration time.Duration
}
