package memory

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/greenfell/hearth/internal/storage"
	"github.com/greenfell/hearth/pkg/types"
)

// fakeClock lets tests move time forward deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestService(t *testing.T) (*Service, *storage.InMemoryConversationStore, *fakeClock) {
	t.Helper()
	store := storage.NewInMemoryConversationStore()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(store, ServiceConfig{Clock: clock.Now})
	return svc, store, clock
}

func TestStore_CreatesDocument(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	ok := svc.Store(ctx, StoreRequest{
		ConversationID: "abc",
		Entities: []ObservedEntity{
			{EntityID: "light.kitchen", Relevance: 0.9, Area: "kitchen", Domain: "light"},
		},
		Areas:   []string{"kitchen"},
		Domains: []string{"light"},
	})
	if !ok {
		t.Fatal("Store should succeed against a healthy store")
	}

	doc := svc.Get(ctx, "abc")
	if doc == nil {
		t.Fatal("Get should return the stored document")
	}
	if doc.Key != "conv_abc_memory" {
		t.Errorf("Document key should be conv_abc_memory, got %s", doc.Key)
	}
	if doc.QueryCount != 1 {
		t.Errorf("Query count should be 1, got %d", doc.QueryCount)
	}
	if len(doc.Entities) != 1 || doc.Entities[0].EntityID != "light.kitchen" {
		t.Errorf("Document should remember light.kitchen, got %+v", doc.Entities)
	}
	if !doc.TTL.After(doc.LastUpdated) {
		t.Errorf("TTL %v should be after last_updated %v", doc.TTL, doc.LastUpdated)
	}
	wantTTL := clock.Now().Add(DefaultTTL)
	if !doc.TTL.Equal(wantTTL) {
		t.Errorf("TTL should be now+15m (%v), got %v", wantTTL, doc.TTL)
	}
}

func TestStore_CapsEntitiesAtTwenty(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	batch := make([]ObservedEntity, 0, 25)
	for i := 0; i < 25; i++ {
		batch = append(batch, ObservedEntity{
			EntityID:  fmt.Sprintf("light.zone_%02d", i),
			Relevance: 1.0 - float64(i)*0.01,
			Position:  i,
		})
	}
	svc.Store(ctx, StoreRequest{ConversationID: "cap", Entities: batch})

	doc := svc.Get(ctx, "cap")
	if doc == nil {
		t.Fatal("Get should return the stored document")
	}
	if len(doc.Entities) != types.MaxRememberedEntities {
		t.Errorf("Working set should cap at %d entities, got %d", types.MaxRememberedEntities, len(doc.Entities))
	}
	// Highest effective score survives the cut.
	if doc.Entities[0].EntityID != "light.zone_00" {
		t.Errorf("Strongest entity should rank first, got %s", doc.Entities[0].EntityID)
	}
}

func TestStore_ClassifiesContextTypes(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	svc.Store(ctx, StoreRequest{
		ConversationID: "ctx",
		Entities: []ObservedEntity{
			{EntityID: "light.a", Relevance: 0.9, Position: 9},  // relevance wins
			{EntityID: "light.b", Relevance: 0.1, Position: 1},  // position wins
			{EntityID: "light.c", Relevance: 0.5, Position: 5},  // secondary
			{EntityID: "light.d", Relevance: 0.1, Position: 15}, // historical
		},
	})

	doc := svc.Get(ctx, "ctx")
	if doc == nil {
		t.Fatal("Get should return the stored document")
	}
	want := map[string]types.ContextType{
		"light.a": types.ContextPrimary,
		"light.b": types.ContextPrimary,
		"light.c": types.ContextSecondary,
		"light.d": types.ContextHistorical,
	}
	for id, wantType := range want {
		entity := doc.FindEntity(id)
		if entity == nil {
			t.Fatalf("Entity %s should be remembered", id)
		}
		if entity.ContextType != wantType {
			t.Errorf("Entity %s should be %s, got %s", id, wantType, entity.ContextType)
		}
	}
}

func TestStore_BoostFactorsMultiply(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	svc.Store(ctx, StoreRequest{
		ConversationID: "boost",
		Entities: []ObservedEntity{
			{EntityID: "sensor.t", Relevance: 0.9, Similarity: 0.9, Domain: "sensor", Primary: true},
			{EntityID: "light.l", Relevance: 0.5, Similarity: 0.7, Domain: "light"},
			{EntityID: "switch.s", Relevance: 0.5, Similarity: 0.3, Domain: "switch"},
		},
	})

	doc := svc.Get(ctx, "boost")
	if doc == nil {
		t.Fatal("Get should return the stored document")
	}

	// primary 1.5 × strong similarity 1.3 × sensor 1.2
	if got := doc.FindEntity("sensor.t").BoostWeight; math.Abs(got-2.34) > 0.001 {
		t.Errorf("Flagged sensor with strong match should boost to 2.34, got %f", got)
	}
	// partial similarity only
	if got := doc.FindEntity("light.l").BoostWeight; math.Abs(got-1.1) > 0.001 {
		t.Errorf("Partial match should boost to 1.1, got %f", got)
	}
	// no factor applies
	if got := doc.FindEntity("switch.s").BoostWeight; math.Abs(got-1.0) > 0.001 {
		t.Errorf("Unboosted entity should stay at 1.0, got %f", got)
	}
}

func TestStore_DecaysUnmentionedEntities(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	svc.Store(ctx, StoreRequest{
		ConversationID: "decay",
		Entities:       []ObservedEntity{{EntityID: "light.old", Relevance: 0.9}},
	})

	clock.Advance(2 * time.Minute)
	svc.Store(ctx, StoreRequest{
		ConversationID: "decay",
		Entities:       []ObservedEntity{{EntityID: "light.new", Relevance: 0.9}},
	})

	doc := svc.Get(ctx, "decay")
	old := doc.FindEntity("light.old")
	if old == nil {
		t.Fatal("Unmentioned entity should survive the merge")
	}
	// 120s elapsed: factor 1 - 120/600 = 0.8
	if math.Abs(old.BoostWeight-0.8) > 0.001 {
		t.Errorf("After 2 minutes boost should decay to 0.8, got %f", old.BoostWeight)
	}
	if fresh := doc.FindEntity("light.new"); math.Abs(fresh.BoostWeight-1.0) > 0.001 {
		t.Errorf("Fresh entity should keep boost 1.0, got %f", fresh.BoostWeight)
	}
}

func TestStore_DecayIsMonotonicWithFloor(t *testing.T) {
	gaps := []time.Duration{time.Minute, 5 * time.Minute, 9 * time.Minute, 14 * time.Minute}
	var previous float64 = 2.0

	for _, gap := range gaps {
		svc, _, clock := newTestService(t)
		ctx := context.Background()

		svc.Store(ctx, StoreRequest{
			ConversationID: "mono",
			Entities:       []ObservedEntity{{EntityID: "light.old", Relevance: 0.9}},
		})
		clock.Advance(gap)
		svc.Store(ctx, StoreRequest{
			ConversationID: "mono",
			Entities:       []ObservedEntity{{EntityID: "light.new", Relevance: 0.9}},
		})

		doc := svc.Get(ctx, "mono")
		boost := doc.FindEntity("light.old").BoostWeight
		if boost > previous {
			t.Errorf("Decay should be monotonic: gap %v gave boost %f after %f", gap, boost, previous)
		}
		if boost < 0.5-0.001 {
			t.Errorf("Decay should floor at 0.5, got %f after gap %v", boost, gap)
		}
		previous = boost
	}
	// Past the decay window the floor holds exactly.
	if math.Abs(previous-0.5) > 0.001 {
		t.Errorf("A 14 minute gap should decay to the 0.5 floor, got %f", previous)
	}
}

func TestGet_ExpiredDocumentIsDeleted(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	svc.Store(ctx, StoreRequest{
		ConversationID: "exp",
		Entities:       []ObservedEntity{{EntityID: "light.a", Relevance: 0.9}},
	})
	if store.Len() != 1 {
		t.Fatalf("Store should hold one document, got %d", store.Len())
	}

	clock.Advance(16 * time.Minute)
	if doc := svc.Get(ctx, "exp"); doc != nil {
		t.Error("Get should return nil for an expired document")
	}
	if store.Len() != 0 {
		t.Errorf("Expired document should be deleted on read, store holds %d", store.Len())
	}
	if doc := svc.Get(ctx, "exp"); doc != nil {
		t.Error("Second read after expiry should also return nil")
	}
}

func TestStore_TracksFocusHistory(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	svc.Store(ctx, StoreRequest{ConversationID: "focus", CurrentFocus: "lighting"})
	svc.Store(ctx, StoreRequest{ConversationID: "focus", CurrentFocus: "heating"})
	svc.Store(ctx, StoreRequest{ConversationID: "focus", CurrentFocus: "heating"}) // unchanged, no push

	doc := svc.Get(ctx, "focus")
	if doc.CurrentFocus != "heating" {
		t.Errorf("Current focus should be heating, got %s", doc.CurrentFocus)
	}
	if len(doc.FocusHistory) != 1 || doc.FocusHistory[0] != "lighting" {
		t.Errorf("Focus history should be [lighting], got %v", doc.FocusHistory)
	}
}

func TestStore_FocusHistoryCapped(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		svc.Store(ctx, StoreRequest{
			ConversationID: "focuscap",
			CurrentFocus:   fmt.Sprintf("topic-%d", i),
		})
	}

	doc := svc.Get(ctx, "focuscap")
	if len(doc.FocusHistory) != types.MaxFocusHistory {
		t.Errorf("Focus history should cap at %d, got %d", types.MaxFocusHistory, len(doc.FocusHistory))
	}
	// Oldest entries fall off the front.
	if doc.FocusHistory[0] != "topic-2" {
		t.Errorf("Oldest surviving focus should be topic-2, got %s", doc.FocusHistory[0])
	}
	if doc.FocusHistory[len(doc.FocusHistory)-1] != "topic-10" {
		t.Errorf("Newest history entry should be topic-10, got %s", doc.FocusHistory[len(doc.FocusHistory)-1])
	}
}

func TestStore_TopicFieldsOnlyOverwriteWhenNonEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	svc.Store(ctx, StoreRequest{
		ConversationID: "topic",
		TopicSummary:   "lights in the kitchen",
		IntentPattern:  "control",
	})
	svc.Store(ctx, StoreRequest{ConversationID: "topic"})

	doc := svc.Get(ctx, "topic")
	if doc.TopicSummary != "lights in the kitchen" {
		t.Errorf("Empty update should retain topic summary, got %q", doc.TopicSummary)
	}
	if doc.IntentPattern != "control" {
		t.Errorf("Empty update should retain intent pattern, got %q", doc.IntentPattern)
	}

	svc.Store(ctx, StoreRequest{ConversationID: "topic", TopicSummary: "heating"})
	doc = svc.Get(ctx, "topic")
	if doc.TopicSummary != "heating" {
		t.Errorf("Non-empty update should overwrite topic summary, got %q", doc.TopicSummary)
	}
}

func TestRelevantEntities_FollowUpRecall(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	// A Hungarian exchange about the living room.
	svc.Store(ctx, StoreRequest{
		ConversationID: "hu",
		Entities: []ObservedEntity{
			{EntityID: "sensor.living_room_temperature", Relevance: 0.9, Similarity: 0.85, Area: "nappali", Domain: "sensor"},
			{EntityID: "light.living_room_ceiling", Relevance: 0.8, Similarity: 0.8, Area: "nappali", Domain: "light"},
		},
		Areas:   []string{"nappali"},
		Domains: []string{"sensor", "light"},
	})

	clock.Advance(time.Minute)
	got := svc.RelevantEntities(ctx, "hu", "és a hőmérséklet?", 10)
	if len(got) == 0 {
		t.Fatal("Follow-up query should recall remembered entities")
	}
	if got[0].EntityID != "sensor.living_room_temperature" {
		t.Errorf("Temperature sensor should rank first for a temperature follow-up, got %s", got[0].EntityID)
	}
}

func TestRelevantEntities_ThresholdExcludesWeakMatches(t *testing.T) {
	store := storage.NewInMemoryConversationStore()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(store, ServiceConfig{Clock: clock.Now, TTL: time.Hour})
	ctx := context.Background()

	svc.Store(ctx, StoreRequest{
		ConversationID: "thresh",
		Entities: []ObservedEntity{
			{EntityID: "light.kitchen_ceiling", Relevance: 0.9, Area: "kitchen", Domain: "light"},
			{EntityID: "cover.garage_door", Relevance: 0.9, Area: "garage", Domain: "cover"},
		},
	})

	// Outside both recency windows the unrelated entity scores nothing.
	clock.Advance(20 * time.Minute)

	got := svc.RelevantEntities(ctx, "thresh", "kitchen light please", 10)
	for _, e := range got {
		if e.EntityID == "cover.garage_door" {
			t.Error("Unrelated entity should fall below the recall threshold")
		}
	}
	if len(got) == 0 || got[0].EntityID != "light.kitchen_ceiling" {
		t.Errorf("Kitchen light should be recalled, got %v", got)
	}
}

func TestRelevantEntities_TruncatesAtMax(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	batch := make([]ObservedEntity, 0, 8)
	for i := 0; i < 8; i++ {
		batch = append(batch, ObservedEntity{
			EntityID:  fmt.Sprintf("light.kitchen_%d", i),
			Relevance: 0.9,
			Area:      "kitchen",
			Domain:    "light",
		})
	}
	svc.Store(ctx, StoreRequest{ConversationID: "max", Entities: batch})

	got := svc.RelevantEntities(ctx, "max", "kitchen lights", 3)
	if len(got) != 3 {
		t.Errorf("Recall should truncate to max 3, got %d", len(got))
	}
}

func TestUpdateEntityBoost_MultipliesAndClamps(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	svc.Store(ctx, StoreRequest{
		ConversationID: "clamp",
		Entities:       []ObservedEntity{{EntityID: "light.a", Relevance: 0.9}},
	})

	if !svc.UpdateEntityBoost(ctx, "clamp", "light.a", 10.0) {
		t.Fatal("UpdateEntityBoost should succeed for a remembered entity")
	}
	doc := svc.Get(ctx, "clamp")
	if got := doc.FindEntity("light.a").BoostWeight; math.Abs(got-types.MaxBoostWeight) > 0.001 {
		t.Errorf("Boost should clamp to %f, got %f", types.MaxBoostWeight, got)
	}

	svc.UpdateEntityBoost(ctx, "clamp", "light.a", 0.001)
	doc = svc.Get(ctx, "clamp")
	if got := doc.FindEntity("light.a").BoostWeight; math.Abs(got-types.MinBoostWeight) > 0.001 {
		t.Errorf("Boost should clamp to %f, got %f", types.MinBoostWeight, got)
	}

	if svc.UpdateEntityBoost(ctx, "clamp", "light.unknown", 2.0) {
		t.Error("UpdateEntityBoost should report false for an unknown entity")
	}
	if svc.UpdateEntityBoost(ctx, "missing", "light.a", 2.0) {
		t.Error("UpdateEntityBoost should report false for an unknown conversation")
	}
}

func TestCleanupExpired_SweepsOnlyExpired(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	svc.Store(ctx, StoreRequest{ConversationID: "old-1"})
	svc.Store(ctx, StoreRequest{ConversationID: "old-2"})
	clock.Advance(10 * time.Minute)
	svc.Store(ctx, StoreRequest{ConversationID: "fresh"})
	clock.Advance(10 * time.Minute) // old-* now expired, fresh has 5 minutes left

	count, err := svc.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired should not fail: %v", err)
	}
	if count != 2 {
		t.Errorf("Sweep should delete 2 documents, got %d", count)
	}
	if store.Len() != 1 {
		t.Errorf("One document should survive, store holds %d", store.Len())
	}
	if svc.Get(ctx, "fresh") == nil {
		t.Error("Unexpired document should survive the sweep")
	}

	// Idempotent: a second sweep finds nothing.
	count, err = svc.CleanupExpired(ctx)
	if err != nil || count != 0 {
		t.Errorf("Second sweep should delete nothing, got count=%d err=%v", count, err)
	}
}
