package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/greenfell/hearth/internal/storage"
	"github.com/greenfell/hearth/pkg/types"
)

// newStoreForTest creates an in-memory SQLite store. NewStore initialises the
// full Schema, so no additional DDL is required in tests.
func newStoreForTest(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedTestEntity(t *testing.T, store *Store, entity *types.HomeEntity) {
	t.Helper()
	if err := store.UpsertEntity(context.Background(), entity); err != nil {
		t.Fatalf("UpsertEntity(%s) failed: %v", entity.EntityID, err)
	}
}

func seedTestCluster(t *testing.T, store *Store, cluster *types.Cluster) {
	t.Helper()
	if err := store.UpsertCluster(context.Background(), cluster); err != nil {
		t.Fatalf("UpsertCluster(%s) failed: %v", cluster.Key, err)
	}
}

func TestEntityRoundTrip(t *testing.T) {
	store := newStoreForTest(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	entity := &types.HomeEntity{
		EntityID:           "light.kitchen_ceiling",
		Domain:             "light",
		Area:               "kitchen",
		FriendlyName:       "Kitchen Ceiling Light",
		Description:        "Dimmable ceiling light above the kitchen island",
		State:              "on",
		Unit:               "",
		Available:          true,
		LastChanged:        now.Add(-10 * time.Minute),
		Embedding:          []float32{0.1, -0.2, 0.3, 0.4},
		EmbeddingModel:     "nomic-embed-text",
		EmbeddingDimension: 4,
		UpdatedAt:          now,
	}

	if err := store.UpsertEntity(ctx, entity); err != nil {
		t.Fatalf("UpsertEntity() failed: %v", err)
	}

	got, err := store.GetEntity(ctx, "light.kitchen_ceiling")
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}

	if got.Domain != "light" {
		t.Errorf("Domain: got %q, want %q", got.Domain, "light")
	}
	if got.Area != "kitchen" {
		t.Errorf("Area: got %q, want %q", got.Area, "kitchen")
	}
	if got.FriendlyName != entity.FriendlyName {
		t.Errorf("FriendlyName: got %q, want %q", got.FriendlyName, entity.FriendlyName)
	}
	if got.State != "on" {
		t.Errorf("State: got %q, want %q", got.State, "on")
	}
	if !got.Available {
		t.Error("Available: got false, want true")
	}
	if !got.LastChanged.Equal(entity.LastChanged) {
		t.Errorf("LastChanged: got %v, want %v", got.LastChanged, entity.LastChanged)
	}
	if len(got.Embedding) != 4 {
		t.Fatalf("Embedding length: got %d, want 4", len(got.Embedding))
	}
	for i, v := range entity.Embedding {
		if got.Embedding[i] != v {
			t.Errorf("Embedding[%d]: got %v, want %v", i, got.Embedding[i], v)
		}
	}
	if got.EmbeddingModel != "nomic-embed-text" {
		t.Errorf("EmbeddingModel: got %q, want %q", got.EmbeddingModel, "nomic-embed-text")
	}
	if got.EmbeddingDimension != 4 {
		t.Errorf("EmbeddingDimension: got %d, want 4", got.EmbeddingDimension)
	}
}

func TestUpsertEntityUpdatesInPlace(t *testing.T) {
	store := newStoreForTest(t)
	ctx := context.Background()

	seedTestEntity(t, store, &types.HomeEntity{
		EntityID: "sensor.bedroom_temp",
		State:    "21.5",
		Unit:     "°C",
	})
	seedTestEntity(t, store, &types.HomeEntity{
		EntityID: "sensor.bedroom_temp",
		State:    "22.0",
		Unit:     "°C",
	})

	count, err := store.CountEntities(ctx)
	if err != nil {
		t.Fatalf("CountEntities() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("CountEntities: got %d, want 1", count)
	}

	got, err := store.GetEntity(ctx, "sensor.bedroom_temp")
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}
	if got.State != "22.0" {
		t.Errorf("State after upsert: got %q, want %q", got.State, "22.0")
	}
}

func TestUpsertEntityDerivesDomain(t *testing.T) {
	store := newStoreForTest(t)

	seedTestEntity(t, store, &types.HomeEntity{EntityID: "climate.living_room"})

	got, err := store.GetEntity(context.Background(), "climate.living_room")
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}
	if got.Domain != "climate" {
		t.Errorf("Domain: got %q, want %q", got.Domain, "climate")
	}
}

func TestUpsertEntityValidation(t *testing.T) {
	store := newStoreForTest(t)
	ctx := context.Background()

	if err := store.UpsertEntity(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("UpsertEntity(nil): got %v, want ErrInvalidInput", err)
	}
	if err := store.UpsertEntity(ctx, &types.HomeEntity{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("UpsertEntity(empty id): got %v, want ErrInvalidInput", err)
	}
}

func TestGetEntityNotFound(t *testing.T) {
	store := newStoreForTest(t)

	_, err := store.GetEntity(context.Background(), "light.nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetEntity(missing): got %v, want ErrNotFound", err)
	}
}

func TestListEntities(t *testing.T) {
	store := newStoreForTest(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	seedTestEntity(t, store, &types.HomeEntity{
		EntityID: "light.bedroom", Area: "bedroom", Available: true, UpdatedAt: base.Add(-3 * time.Hour),
	})
	seedTestEntity(t, store, &types.HomeEntity{
		EntityID: "light.kitchen", Area: "kitchen", Available: true, UpdatedAt: base.Add(-1 * time.Hour),
	})
	seedTestEntity(t, store, &types.HomeEntity{
		EntityID: "sensor.kitchen_temp", Area: "kitchen", Available: true, UpdatedAt: base.Add(-2 * time.Hour),
	})
	seedTestEntity(t, store, &types.HomeEntity{
		EntityID: "switch.garage", Area: "garage", Available: false, UpdatedAt: base,
	})

	t.Run("default order", func(t *testing.T) {
		result, err := store.ListEntities(ctx, storage.ListOptions{})
		if err != nil {
			t.Fatalf("ListEntities() failed: %v", err)
		}
		if result.Total != 4 {
			t.Errorf("Total: got %d, want 4", result.Total)
		}
		wantOrder := []string{"light.bedroom", "light.kitchen", "sensor.kitchen_temp", "switch.garage"}
		if len(result.Items) != len(wantOrder) {
			t.Fatalf("Items: got %d, want %d", len(result.Items), len(wantOrder))
		}
		for i, want := range wantOrder {
			if result.Items[i].EntityID != want {
				t.Errorf("Items[%d]: got %q, want %q", i, result.Items[i].EntityID, want)
			}
		}
	})

	t.Run("domain filter", func(t *testing.T) {
		result, err := store.ListEntities(ctx, storage.ListOptions{Domain: "light"})
		if err != nil {
			t.Fatalf("ListEntities() failed: %v", err)
		}
		if len(result.Items) != 2 {
			t.Errorf("Items: got %d, want 2", len(result.Items))
		}
	})

	t.Run("area filter", func(t *testing.T) {
		result, err := store.ListEntities(ctx, storage.ListOptions{Area: "kitchen"})
		if err != nil {
			t.Fatalf("ListEntities() failed: %v", err)
		}
		if len(result.Items) != 2 {
			t.Errorf("Items: got %d, want 2", len(result.Items))
		}
	})

	t.Run("only available", func(t *testing.T) {
		result, err := store.ListEntities(ctx, storage.ListOptions{OnlyAvailable: true})
		if err != nil {
			t.Fatalf("ListEntities() failed: %v", err)
		}
		if len(result.Items) != 3 {
			t.Errorf("Items: got %d, want 3", len(result.Items))
		}
		for _, item := range result.Items {
			if item.EntityID == "switch.garage" {
				t.Error("unavailable entity returned with OnlyAvailable filter")
			}
		}
	})

	t.Run("pagination", func(t *testing.T) {
		page1, err := store.ListEntities(ctx, storage.ListOptions{Limit: 3, Page: 1})
		if err != nil {
			t.Fatalf("ListEntities(page 1) failed: %v", err)
		}
		if len(page1.Items) != 3 {
			t.Errorf("page 1 items: got %d, want 3", len(page1.Items))
		}
		if !page1.HasMore {
			t.Error("page 1 HasMore: got false, want true")
		}

		page2, err := store.ListEntities(ctx, storage.ListOptions{Limit: 3, Page: 2})
		if err != nil {
			t.Fatalf("ListEntities(page 2) failed: %v", err)
		}
		if len(page2.Items) != 1 {
			t.Errorf("page 2 items: got %d, want 1", len(page2.Items))
		}
		if page2.HasMore {
			t.Error("page 2 HasMore: got true, want false")
		}
	})

	t.Run("sort by updated_at desc", func(t *testing.T) {
		result, err := store.ListEntities(ctx, storage.ListOptions{SortBy: "updated_at", SortOrder: "desc"})
		if err != nil {
			t.Fatalf("ListEntities() failed: %v", err)
		}
		if len(result.Items) == 0 || result.Items[0].EntityID != "switch.garage" {
			t.Errorf("first item: got %q, want %q (most recently updated)",
				result.Items[0].EntityID, "switch.garage")
		}
	})
}

func TestSearchEntities(t *testing.T) {
	store := newStoreForTest(t)
	ctx := context.Background()

	seedTestEntity(t, store, &types.HomeEntity{
		EntityID: "light.kitchen", Area: "kitchen", Available: true,
		Embedding: []float32{1, 0, 0},
	})
	seedTestEntity(t, store, &types.HomeEntity{
		EntityID: "light.hallway", Area: "hallway", Available: true,
		Embedding: []float32{0.8, 0.6, 0},
	})
	seedTestEntity(t, store, &types.HomeEntity{
		EntityID: "sensor.kitchen_temp", Area: "kitchen", Available: true,
		Embedding: []float32{0.6, 0.8, 0},
	})
	// No embedding; must never appear in vector search results.
	seedTestEntity(t, store, &types.HomeEntity{
		EntityID: "light.cellar", Area: "cellar", Available: true,
	})

	query := []float32{1, 0, 0}

	t.Run("ranked by similarity", func(t *testing.T) {
		matches, err := store.SearchEntities(ctx, query, storage.VectorSearchOptions{Threshold: 0.5})
		if err != nil {
			t.Fatalf("SearchEntities() failed: %v", err)
		}
		wantOrder := []string{"light.kitchen", "light.hallway", "sensor.kitchen_temp"}
		if len(matches) != len(wantOrder) {
			t.Fatalf("matches: got %d, want %d", len(matches), len(wantOrder))
		}
		for i, want := range wantOrder {
			if matches[i].Entity.EntityID != want {
				t.Errorf("matches[%d]: got %q, want %q", i, matches[i].Entity.EntityID, want)
			}
		}
		if matches[0].Similarity < 0.999 {
			t.Errorf("top similarity: got %f, want ~1.0", matches[0].Similarity)
		}
		if matches[1].Similarity < matches[2].Similarity {
			t.Error("matches not sorted by similarity descending")
		}
	})

	t.Run("threshold cuts low scores", func(t *testing.T) {
		matches, err := store.SearchEntities(ctx, query, storage.VectorSearchOptions{Threshold: 0.7})
		if err != nil {
			t.Fatalf("SearchEntities() failed: %v", err)
		}
		if len(matches) != 2 {
			t.Errorf("matches: got %d, want 2", len(matches))
		}
	})

	t.Run("domain filter", func(t *testing.T) {
		matches, err := store.SearchEntities(ctx, query, storage.VectorSearchOptions{
			Threshold: 0.5, Domains: []string{"light"},
		})
		if err != nil {
			t.Fatalf("SearchEntities() failed: %v", err)
		}
		if len(matches) != 2 {
			t.Fatalf("matches: got %d, want 2", len(matches))
		}
		for _, m := range matches {
			if m.Entity.Domain != "light" {
				t.Errorf("domain filter leaked %q", m.Entity.EntityID)
			}
		}
	})

	t.Run("area filter", func(t *testing.T) {
		matches, err := store.SearchEntities(ctx, query, storage.VectorSearchOptions{
			Threshold: 0.5, Areas: []string{"kitchen"},
		})
		if err != nil {
			t.Fatalf("SearchEntities() failed: %v", err)
		}
		if len(matches) != 2 {
			t.Errorf("matches: got %d, want 2", len(matches))
		}
	})

	t.Run("limit", func(t *testing.T) {
		matches, err := store.SearchEntities(ctx, query, storage.VectorSearchOptions{
			Threshold: 0.5, Limit: 1,
		})
		if err != nil {
			t.Fatalf("SearchEntities() failed: %v", err)
		}
		if len(matches) != 1 {
			t.Fatalf("matches: got %d, want 1", len(matches))
		}
		if matches[0].Entity.EntityID != "light.kitchen" {
			t.Errorf("top match: got %q, want %q", matches[0].Entity.EntityID, "light.kitchen")
		}
	})

	t.Run("empty query vector", func(t *testing.T) {
		matches, err := store.SearchEntities(ctx, nil, storage.VectorSearchOptions{})
		if err != nil {
			t.Fatalf("SearchEntities() failed: %v", err)
		}
		if len(matches) != 0 {
			t.Errorf("matches: got %d, want 0", len(matches))
		}
	})
}

func TestClusterRoundTrip(t *testing.T) {
	store := newStoreForTest(t)
	ctx := context.Background()

	cluster := &types.Cluster{
		Key:           "living_room_lights",
		Type:          types.ClusterMicro,
		Scope:         types.ClusterScopeSpecific,
		Description:   "Lighting in the living room",
		QueryPatterns: []string{"living room light", "nappali lámpa"},
		Areas:         []string{"living_room"},
		Domains:       []string{"light"},
		Embedding:     []float32{0.5, 0.5, 0},
	}

	if err := store.UpsertCluster(ctx, cluster); err != nil {
		t.Fatalf("UpsertCluster() failed: %v", err)
	}

	got, err := store.GetCluster(ctx, "living_room_lights")
	if err != nil {
		t.Fatalf("GetCluster() failed: %v", err)
	}

	if got.Type != types.ClusterMicro {
		t.Errorf("Type: got %q, want %q", got.Type, types.ClusterMicro)
	}
	if got.Scope != types.ClusterScopeSpecific {
		t.Errorf("Scope: got %q, want %q", got.Scope, types.ClusterScopeSpecific)
	}
	if got.Description != cluster.Description {
		t.Errorf("Description: got %q, want %q", got.Description, cluster.Description)
	}
	if len(got.QueryPatterns) != 2 || got.QueryPatterns[1] != "nappali lámpa" {
		t.Errorf("QueryPatterns: got %v, want %v", got.QueryPatterns, cluster.QueryPatterns)
	}
	if len(got.Areas) != 1 || got.Areas[0] != "living_room" {
		t.Errorf("Areas: got %v, want %v", got.Areas, cluster.Areas)
	}
	if len(got.Domains) != 1 || got.Domains[0] != "light" {
		t.Errorf("Domains: got %v, want %v", got.Domains, cluster.Domains)
	}
	if !got.HasEmbedding() {
		t.Error("HasEmbedding: got false, want true")
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not populated on upsert")
	}
}

func TestUpsertClusterValidation(t *testing.T) {
	store := newStoreForTest(t)
	ctx := context.Background()

	err := store.UpsertCluster(ctx, &types.Cluster{Type: types.ClusterMicro})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("UpsertCluster(empty key): got %v, want ErrInvalidInput", err)
	}

	err = store.UpsertCluster(ctx, &types.Cluster{Key: "everything", Type: "mega_cluster"})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("UpsertCluster(bad type): got %v, want ErrInvalidInput", err)
	}
}

func TestGetClusterNotFound(t *testing.T) {
	store := newStoreForTest(t)

	_, err := store.GetCluster(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetCluster(missing): got %v, want ErrNotFound", err)
	}
}

func TestListClustersOrderedByKey(t *testing.T) {
	store := newStoreForTest(t)
	ctx := context.Background()

	for _, key := range []string{"kitchen_lights", "climate_control", "security"} {
		seedTestCluster(t, store, &types.Cluster{
			Key: key, Type: types.ClusterMacro, Scope: types.ClusterScopeGlobal, Description: key,
		})
	}

	clusters, err := store.ListClusters(ctx)
	if err != nil {
		t.Fatalf("ListClusters() failed: %v", err)
	}
	wantOrder := []string{"climate_control", "kitchen_lights", "security"}
	if len(clusters) != len(wantOrder) {
		t.Fatalf("clusters: got %d, want %d", len(clusters), len(wantOrder))
	}
	for i, want := range wantOrder {
		if clusters[i].Key != want {
			t.Errorf("clusters[%d]: got %q, want %q", i, clusters[i].Key, want)
		}
	}
}

func TestSearchClusters(t *testing.T) {
	store := newStoreForTest(t)
	ctx := context.Background()

	seedTestCluster(t, store, &types.Cluster{
		Key: "kitchen_lights", Type: types.ClusterMicro, Scope: types.ClusterScopeSpecific,
		Description: "kitchen lighting", Embedding: []float32{1, 0, 0},
	})
	seedTestCluster(t, store, &types.Cluster{
		Key: "climate_control", Type: types.ClusterMacro, Scope: types.ClusterScopeGlobal,
		Description: "heating and cooling", Embedding: []float32{0.6, 0.8, 0},
	})
	// No embedding; unreachable by vector search.
	seedTestCluster(t, store, &types.Cluster{
		Key: "unembedded", Type: types.ClusterMicro, Scope: types.ClusterScopeSpecific,
		Description: "embedding generation failed",
	})

	query := []float32{1, 0, 0}

	matches, err := store.SearchClusters(ctx, query, nil, 10, 0.5)
	if err != nil {
		t.Fatalf("SearchClusters() failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches: got %d, want 2", len(matches))
	}
	if matches[0].Cluster.Key != "kitchen_lights" {
		t.Errorf("top match: got %q, want %q", matches[0].Cluster.Key, "kitchen_lights")
	}

	matches, err = store.SearchClusters(ctx, query, []types.ClusterType{types.ClusterMacro}, 10, 0.5)
	if err != nil {
		t.Fatalf("SearchClusters(type filter) failed: %v", err)
	}
	if len(matches) != 1 || matches[0].Cluster.Key != "climate_control" {
		t.Errorf("type filter: got %v, want only climate_control", matches)
	}

	matches, err = store.SearchClusters(ctx, query, nil, 10, 0.9)
	if err != nil {
		t.Fatalf("SearchClusters(high threshold) failed: %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("high threshold matches: got %d, want 1", len(matches))
	}

	matches, err = store.SearchClusters(ctx, nil, nil, 10, 0.5)
	if err != nil {
		t.Fatalf("SearchClusters(empty vector) failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("empty vector matches: got %d, want 0", len(matches))
	}
}

func TestMemberships(t *testing.T) {
	store := newStoreForTest(t)
	ctx := context.Background()

	seedTestCluster(t, store, &types.Cluster{
		Key: "kitchen_lights", Type: types.ClusterMicro, Scope: types.ClusterScopeSpecific,
		Description: "kitchen lighting",
	})
	seedTestEntity(t, store, &types.HomeEntity{
		EntityID: "light.kitchen", Area: "kitchen", Available: true,
	})
	seedTestEntity(t, store, &types.HomeEntity{
		EntityID: "switch.kitchen_led", Area: "kitchen", Available: true,
	})

	err := store.AddMembership(ctx, &types.ClusterMembership{
		ClusterKey: "kitchen_lights", EntityID: "light.kitchen",
		Role: types.RolePrimary, Weight: 1.0, ContextBoost: 1.5,
	})
	if err != nil {
		t.Fatalf("AddMembership() failed: %v", err)
	}
	err = store.AddMembership(ctx, &types.ClusterMembership{
		ClusterKey: "kitchen_lights", EntityID: "switch.kitchen_led",
		Role: types.RoleRelated, Weight: 0.5,
	})
	if err != nil {
		t.Fatalf("AddMembership() failed: %v", err)
	}

	t.Run("joined with entities, weight descending", func(t *testing.T) {
		members, err := store.Memberships(ctx, []string{"kitchen_lights"}, "")
		if err != nil {
			t.Fatalf("Memberships() failed: %v", err)
		}
		if len(members) != 2 {
			t.Fatalf("members: got %d, want 2", len(members))
		}
		if members[0].Entity.EntityID != "light.kitchen" {
			t.Errorf("members[0]: got %q, want %q (highest weight)",
				members[0].Entity.EntityID, "light.kitchen")
		}
		if members[0].Entity.Area != "kitchen" {
			t.Errorf("joined area: got %q, want %q", members[0].Entity.Area, "kitchen")
		}
		if members[0].Membership.Label != types.EdgeLabelContainsEntity {
			t.Errorf("label: got %q, want %q", members[0].Membership.Label, types.EdgeLabelContainsEntity)
		}
		if members[0].Membership.ContextBoost != 1.5 {
			t.Errorf("context boost: got %f, want 1.5", members[0].Membership.ContextBoost)
		}
	})

	t.Run("role filter", func(t *testing.T) {
		members, err := store.Memberships(ctx, []string{"kitchen_lights"}, types.RolePrimary)
		if err != nil {
			t.Fatalf("Memberships() failed: %v", err)
		}
		if len(members) != 1 || members[0].Entity.EntityID != "light.kitchen" {
			t.Errorf("role filter: got %d members, want only light.kitchen", len(members))
		}
	})

	t.Run("upsert replaces the edge", func(t *testing.T) {
		err := store.AddMembership(ctx, &types.ClusterMembership{
			ClusterKey: "kitchen_lights", EntityID: "switch.kitchen_led",
			Role: types.RolePrimary, Weight: 0.9,
		})
		if err != nil {
			t.Fatalf("AddMembership(update) failed: %v", err)
		}

		members, err := store.Memberships(ctx, []string{"kitchen_lights"}, "")
		if err != nil {
			t.Fatalf("Memberships() failed: %v", err)
		}
		if len(members) != 2 {
			t.Fatalf("members after re-add: got %d, want 2", len(members))
		}
		if members[1].Entity.EntityID != "switch.kitchen_led" {
			t.Fatalf("members[1]: got %q, want %q", members[1].Entity.EntityID, "switch.kitchen_led")
		}
		edge := members[1].Membership
		if edge.Role != types.RolePrimary || edge.Weight != 0.9 {
			t.Errorf("edge not updated: role %q weight %f", edge.Role, edge.Weight)
		}
	})

	t.Run("empty keys", func(t *testing.T) {
		members, err := store.Memberships(ctx, nil, "")
		if err != nil {
			t.Fatalf("Memberships(nil) failed: %v", err)
		}
		if len(members) != 0 {
			t.Errorf("members: got %d, want 0", len(members))
		}
	})
}

func TestAddMembershipValidation(t *testing.T) {
	store := newStoreForTest(t)
	ctx := context.Background()

	err := store.AddMembership(ctx, &types.ClusterMembership{EntityID: "light.kitchen"})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("AddMembership(no cluster key): got %v, want ErrInvalidInput", err)
	}

	err = store.AddMembership(ctx, &types.ClusterMembership{
		ClusterKey: "kitchen_lights", EntityID: "light.kitchen", Role: "owner",
	})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("AddMembership(bad role): got %v, want ErrInvalidInput", err)
	}

	// Foreign keys are enforced; edges cannot dangle.
	err = store.AddMembership(ctx, &types.ClusterMembership{
		ClusterKey: "no_such_cluster", EntityID: "light.kitchen", Role: types.RolePrimary,
	})
	if err == nil {
		t.Error("AddMembership(missing cluster): got nil, want foreign key error")
	}
}

func TestConversationDocuments(t *testing.T) {
	store := newStoreForTest(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	doc := &types.ConversationMemory{
		Key:            types.MemoryDocKey("conv-42"),
		ConversationID: "conv-42",
		Entities: []types.RememberedEntity{
			{
				EntityID:       "light.kitchen",
				RelevanceScore: 0.9,
				MentionedAt:    now,
				BoostWeight:    1.5,
				ContextType:    types.ContextPrimary,
			},
		},
		AreasMentioned:   []string{"kitchen"},
		DomainsMentioned: []string{"light"},
		LastUpdated:      now,
		TTL:              now.Add(15 * time.Minute),
		QueryCount:       1,
		CurrentFocus:     "kitchen lighting",
	}

	if err := store.PutDocument(ctx, doc); err != nil {
		t.Fatalf("PutDocument() failed: %v", err)
	}

	got, err := store.GetDocument(ctx, doc.Key)
	if err != nil {
		t.Fatalf("GetDocument() failed: %v", err)
	}
	if got.ConversationID != "conv-42" {
		t.Errorf("ConversationID: got %q, want %q", got.ConversationID, "conv-42")
	}
	if len(got.Entities) != 1 || got.Entities[0].EntityID != "light.kitchen" {
		t.Fatalf("Entities: got %v, want light.kitchen", got.Entities)
	}
	if got.Entities[0].BoostWeight != 1.5 {
		t.Errorf("BoostWeight: got %f, want 1.5", got.Entities[0].BoostWeight)
	}
	if got.CurrentFocus != "kitchen lighting" {
		t.Errorf("CurrentFocus: got %q, want %q", got.CurrentFocus, "kitchen lighting")
	}
	if !got.TTL.Equal(doc.TTL) {
		t.Errorf("TTL: got %v, want %v", got.TTL, doc.TTL)
	}

	// Replace wholesale.
	doc.QueryCount = 2
	doc.CurrentFocus = "bedroom climate"
	if err := store.PutDocument(ctx, doc); err != nil {
		t.Fatalf("PutDocument(update) failed: %v", err)
	}
	got, err = store.GetDocument(ctx, doc.Key)
	if err != nil {
		t.Fatalf("GetDocument() failed: %v", err)
	}
	if got.QueryCount != 2 || got.CurrentFocus != "bedroom climate" {
		t.Errorf("document not replaced: count %d focus %q", got.QueryCount, got.CurrentFocus)
	}

	if err := store.DeleteDocument(ctx, doc.Key); err != nil {
		t.Fatalf("DeleteDocument() failed: %v", err)
	}
	if _, err := store.GetDocument(ctx, doc.Key); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetDocument after delete: got %v, want ErrNotFound", err)
	}

	// Deleting a missing key is not an error.
	if err := store.DeleteDocument(ctx, "conv_missing_memory"); err != nil {
		t.Errorf("DeleteDocument(missing): got %v, want nil", err)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	store := newStoreForTest(t)

	_, err := store.GetDocument(context.Background(), "conv_unknown_memory")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetDocument(missing): got %v, want ErrNotFound", err)
	}
}

func TestExpiredKeys(t *testing.T) {
	store := newStoreForTest(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	docs := []struct {
		id  string
		ttl time.Time
	}{
		{"stale", now.Add(-1 * time.Hour)},
		{"staler", now.Add(-2 * time.Hour)},
		{"live", now.Add(1 * time.Hour)},
	}
	for _, d := range docs {
		err := store.PutDocument(ctx, &types.ConversationMemory{
			Key:            types.MemoryDocKey(d.id),
			ConversationID: d.id,
			TTL:            d.ttl,
		})
		if err != nil {
			t.Fatalf("PutDocument(%s) failed: %v", d.id, err)
		}
	}

	keys, err := store.ExpiredKeys(ctx, now, 10)
	if err != nil {
		t.Fatalf("ExpiredKeys() failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expired keys: got %d, want 2", len(keys))
	}
	// Oldest ttl first.
	if keys[0] != types.MemoryDocKey("staler") || keys[1] != types.MemoryDocKey("stale") {
		t.Errorf("expired key order: got %v", keys)
	}

	keys, err = store.ExpiredKeys(ctx, now, 1)
	if err != nil {
		t.Fatalf("ExpiredKeys(limit 1) failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != types.MemoryDocKey("staler") {
		t.Errorf("limited expired keys: got %v, want [%s]", keys, types.MemoryDocKey("staler"))
	}
}

func TestEmbeddingSerializationRoundTrip(t *testing.T) {
	vec := []float32{0, 1, -1, 0.5, 3.14159, -2.71828}
	got := deserializeEmbedding(serializeEmbedding(vec))
	if len(got) != len(vec) {
		t.Fatalf("length: got %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("vec[%d]: got %v, want %v", i, got[i], vec[i])
		}
	}

	if deserializeEmbedding(nil) != nil {
		t.Error("deserializeEmbedding(nil): got non-nil, want nil")
	}
	if deserializeEmbedding([]byte{1, 2, 3}) != nil {
		t.Error("deserializeEmbedding(truncated): got non-nil, want nil")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("cosineSimilarity: got %f, want %f", got, tt.want)
			}
		})
	}
}
