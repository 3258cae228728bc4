package types_test

import (
	"testing"

	"github.com/greenfell/hearth/pkg/types"
)

// TestIsValidClusterType_AllValidTypes tests that all three cluster tiers are recognized
func TestIsValidClusterType_AllValidTypes(t *testing.T) {
	validTypes := []types.ClusterType{
		types.ClusterMicro,
		types.ClusterMacro,
		types.ClusterOverview,
	}

	for _, clusterType := range validTypes {
		t.Run("valid_"+string(clusterType), func(t *testing.T) {
			if !types.IsValidClusterType(clusterType) {
				t.Errorf("IsValidClusterType(%q) = false, want true", clusterType)
			}
		})
	}
}

// TestIsValidClusterType_InvalidTypes tests that invalid cluster types are rejected
func TestIsValidClusterType_InvalidTypes(t *testing.T) {
	invalidTypes := []string{
		"",               // empty string
		"micro",          // scope name, not a cluster type
		"MICRO_CLUSTER",  // uppercase
		"micro_cluster ", // trailing whitespace
		"mega_cluster",   // unknown tier
		"cluster",        // suffix only
	}

	for _, invalidType := range invalidTypes {
		t.Run("invalid_"+invalidType, func(t *testing.T) {
			if types.IsValidClusterType(types.ClusterType(invalidType)) {
				t.Errorf("IsValidClusterType(%q) = true, want false", invalidType)
			}
		})
	}
}

// TestIsValidClusterScope tests cluster scope validation
func TestIsValidClusterScope(t *testing.T) {
	for _, scope := range []types.ClusterScope{
		types.ClusterScopeSpecific,
		types.ClusterScopeAreaWide,
		types.ClusterScopeGlobal,
	} {
		if !types.IsValidClusterScope(scope) {
			t.Errorf("IsValidClusterScope(%q) = false, want true", scope)
		}
	}

	for _, invalid := range []string{"", "room", "area", "AREA_WIDE"} {
		if types.IsValidClusterScope(types.ClusterScope(invalid)) {
			t.Errorf("IsValidClusterScope(%q) = true, want false", invalid)
		}
	}
}

// TestIsValidMembershipRole tests membership role validation
func TestIsValidMembershipRole(t *testing.T) {
	if !types.IsValidMembershipRole(types.RolePrimary) {
		t.Error("IsValidMembershipRole(primary) = false, want true")
	}
	if !types.IsValidMembershipRole(types.RoleRelated) {
		t.Error("IsValidMembershipRole(related) = false, want true")
	}

	for _, invalid := range []string{"", "owner", "PRIMARY", "secondary"} {
		if types.IsValidMembershipRole(types.MembershipRole(invalid)) {
			t.Errorf("IsValidMembershipRole(%q) = true, want false", invalid)
		}
	}
}

// TestIsValidContextType tests context type validation
func TestIsValidContextType(t *testing.T) {
	for _, contextType := range []types.ContextType{
		types.ContextPrimary,
		types.ContextSecondary,
		types.ContextHistorical,
	} {
		if !types.IsValidContextType(contextType) {
			t.Errorf("IsValidContextType(%q) = false, want true", contextType)
		}
	}

	for _, invalid := range []string{"", "tertiary", "Primary"} {
		if types.IsValidContextType(types.ContextType(invalid)) {
			t.Errorf("IsValidContextType(%q) = true, want false", invalid)
		}
	}
}

// TestQueryScopes_TieBreakOrder tests that scopes are declared narrowest first,
// which is the order scope detection breaks score ties in
func TestQueryScopes_TieBreakOrder(t *testing.T) {
	want := []types.QueryScope{types.ScopeMicro, types.ScopeMacro, types.ScopeOverview}
	if len(types.QueryScopes) != len(want) {
		t.Fatalf("QueryScopes has %d entries, want %d", len(types.QueryScopes), len(want))
	}
	for i, scope := range want {
		if types.QueryScopes[i] != scope {
			t.Errorf("QueryScopes[%d] = %q, want %q", i, types.QueryScopes[i], scope)
		}
	}

	for _, scope := range want {
		if !types.IsValidScope(scope) {
			t.Errorf("IsValidScope(%q) = false, want true", scope)
		}
	}
	if types.IsValidScope("panorama") {
		t.Error("IsValidScope(panorama) = true, want false")
	}
}
