// Package types defines the core data structures for the hearth retrieval
// bridge. These types represent home entities, entity candidates, semantic
// clusters, and per-conversation memory documents exchanged between the
// retrieval engine, the memory service, and the storage backends.
package types

// QueryScope classifies how wide a query's answer should reach.
type QueryScope string

// Query scope constants, in tie-break order: when two scopes score equally,
// the earlier one wins.
const (
	// ScopeMicro targets a single entity or a single direct action
	// ("turn on the desk lamp", "kapcsold fel a lámpát").
	ScopeMicro QueryScope = "micro"

	// ScopeMacro targets one area or one functional group
	// ("what's on in the living room?").
	ScopeMacro QueryScope = "macro"

	// ScopeOverview targets the whole home ("status of everything").
	ScopeOverview QueryScope = "overview"
)

// QueryScopes lists all scopes in declaration (tie-break) order.
var QueryScopes = []QueryScope{ScopeMicro, ScopeMacro, ScopeOverview}

// IsValidScope checks if the given scope is one of the declared scopes.
func IsValidScope(scope QueryScope) bool {
	for _, s := range QueryScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ClusterType identifies the granularity tier of a semantic cluster.
type ClusterType string

// Cluster type constants
const (
	// ClusterMicro groups a handful of closely related entities
	// (e.g. the lights of one room).
	ClusterMicro ClusterType = "micro_cluster"

	// ClusterMacro groups an area or a functional domain
	// (e.g. all climate devices).
	ClusterMacro ClusterType = "macro_cluster"

	// ClusterOverview groups home-wide summaries (e.g. every sensor
	// that belongs on a status report).
	ClusterOverview ClusterType = "overview_cluster"
)

// ValidClusterTypes is a slice of all valid cluster types for validation.
var ValidClusterTypes = []ClusterType{ClusterMicro, ClusterMacro, ClusterOverview}

// IsValidClusterType checks if the given cluster type is valid.
func IsValidClusterType(t ClusterType) bool {
	for _, validType := range ValidClusterTypes {
		if validType == t {
			return true
		}
	}
	return false
}

// ClusterScope describes the physical reach of a cluster.
type ClusterScope string

// Cluster scope constants
const (
	ClusterScopeSpecific ClusterScope = "specific"  // one or a few entities
	ClusterScopeAreaWide ClusterScope = "area_wide" // one area
	ClusterScopeGlobal   ClusterScope = "global"    // whole home
)

// ValidClusterScopes is a slice of all valid cluster scopes for validation.
var ValidClusterScopes = []ClusterScope{ClusterScopeSpecific, ClusterScopeAreaWide, ClusterScopeGlobal}

// IsValidClusterScope checks if the given cluster scope is valid.
func IsValidClusterScope(s ClusterScope) bool {
	for _, validScope := range ValidClusterScopes {
		if validScope == s {
			return true
		}
	}
	return false
}

// MembershipRole describes how strongly an entity belongs to a cluster.
type MembershipRole string

// Membership role constants
const (
	// RolePrimary marks entities the cluster is about.
	RolePrimary MembershipRole = "primary"

	// RoleRelated marks entities that provide useful context for the cluster.
	RoleRelated MembershipRole = "related"
)

// ValidMembershipRoles is a slice of all valid membership roles for validation.
var ValidMembershipRoles = []MembershipRole{RolePrimary, RoleRelated}

// IsValidMembershipRole checks if the given membership role is valid.
func IsValidMembershipRole(r MembershipRole) bool {
	for _, validRole := range ValidMembershipRoles {
		if validRole == r {
			return true
		}
	}
	return false
}

// EdgeLabelContainsEntity is the label carried by every cluster→entity edge.
const EdgeLabelContainsEntity = "contains_entity"

// ContextType classifies how central a remembered entity is to the
// conversation. There is exactly one such classification in the system;
// both the memory service and the reranker read this enum.
type ContextType string

// Context type constants
const (
	// ContextPrimary marks entities the conversation is directly about.
	ContextPrimary ContextType = "primary"

	// ContextSecondary marks entities that appeared nearby and may come up again.
	ContextSecondary ContextType = "secondary"

	// ContextHistorical marks entities that have drifted out of focus.
	ContextHistorical ContextType = "historical"
)

// ValidContextTypes is a slice of all valid context types for validation.
var ValidContextTypes = []ContextType{ContextPrimary, ContextSecondary, ContextHistorical}

// IsValidContextType checks if the given context type is valid.
func IsValidContextType(t ContextType) bool {
	for _, validType := range ValidContextTypes {
		if validType == t {
			return true
		}
	}
	return false
}

// Formatter name constants. The formatter is a downstream prompt-rendering
// hint carried by the scope decision; hearth never renders prompts itself.
const (
	FormatterDetailed     = "detailed"
	FormatterGrouped      = "grouped"
	FormatterHierarchical = "hierarchical"
)
