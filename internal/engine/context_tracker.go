package engine

import (
	"sort"
	"sync"
	"time"
)

const (
	// importanceCarry and importanceBlend define the exponential moving
	// average over observed relevance: new = old*carry + observed*blend.
	importanceCarry = 0.7
	importanceBlend = 0.3

	// frequencyStep raises the frequency factor per extra mention, up to
	// frequencyCap.
	frequencyStep = 0.2
	frequencyCap  = 1.5

	// recencyWindowSeconds is how long it takes an untouched entity to
	// fall to the recency floor.
	recencyWindowSeconds = 900.0
	recencyFloor         = 0.5
)

// trackedEntity is the per-entity reinforcement state.
type trackedEntity struct {
	importance   float64
	mentions     int
	lastAccessed time.Time
}

// EntityContextTracker keeps process-local reinforcement state: which
// entities recent selections touched, how often, and how well they scored.
// The state is deliberately not persisted; it warms up with the process and
// resets on restart, while durable recall lives in conversation memory.
type EntityContextTracker struct {
	mu       sync.RWMutex
	entities map[string]*trackedEntity
	byArea   map[string]map[string]struct{}
	byDomain map[string]map[string]struct{}
	now      func() time.Time
}

// NewEntityContextTracker creates an empty tracker.
func NewEntityContextTracker() *EntityContextTracker {
	return &EntityContextTracker{
		entities: make(map[string]*trackedEntity),
		byArea:   make(map[string]map[string]struct{}),
		byDomain: make(map[string]map[string]struct{}),
		now:      time.Now,
	}
}

// RecordMention folds one observation into the tracker. The first mention
// seeds importance with the observed relevance; later mentions blend it in
// as an exponential moving average.
func (t *EntityContextTracker) RecordMention(entityID, area, domain string, relevance float64) {
	if entityID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entities[entityID]
	if !ok {
		e = &trackedEntity{importance: relevance}
		t.entities[entityID] = e
	} else {
		e.importance = e.importance*importanceCarry + relevance*importanceBlend
	}
	e.mentions++
	e.lastAccessed = t.now()

	if area != "" {
		if t.byArea[area] == nil {
			t.byArea[area] = make(map[string]struct{})
		}
		t.byArea[area][entityID] = struct{}{}
	}
	if domain != "" {
		if t.byDomain[domain] == nil {
			t.byDomain[domain] = make(map[string]struct{})
		}
		t.byDomain[domain][entityID] = struct{}{}
	}
}

// Boost returns importance x frequency x recency for a tracked entity and
// the neutral 1.0 for anything the tracker has never seen.
func (t *EntityContextTracker) Boost(entityID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entities[entityID]
	if !ok {
		return 1.0
	}

	frequency := 1.0 + float64(e.mentions-1)*frequencyStep
	if frequency > frequencyCap {
		frequency = frequencyCap
	}

	since := t.now().Sub(e.lastAccessed).Seconds()
	recency := 1.0 - since/recencyWindowSeconds
	if recency < recencyFloor {
		recency = recencyFloor
	}

	return e.importance * frequency * recency
}

// Mentions returns how many times an entity has been recorded.
func (t *EntityContextTracker) Mentions(entityID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if e, ok := t.entities[entityID]; ok {
		return e.mentions
	}
	return 0
}

// EntitiesInArea returns the tracked entity ids mentioned in an area,
// sorted for deterministic output.
func (t *EntityContextTracker) EntitiesInArea(area string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.byArea[area])
}

// EntitiesInDomain returns the tracked entity ids mentioned in a domain,
// sorted for deterministic output.
func (t *EntityContextTracker) EntitiesInDomain(domain string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.byDomain[domain])
}

// Len returns the number of tracked entities.
func (t *EntityContextTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entities)
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
