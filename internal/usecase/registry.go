package usecase

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// OrchestratorRegistry hands out one Orchestrator per user so that each user
// has at most one submission in flight. Idle users are evicted least recently
// used first. A busy orchestrator pushed out of the LRU is parked until its
// submission settles, so the user keeps getting the same one.
type OrchestratorRegistry struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *Orchestrator]
	parked  map[string]*Orchestrator
	factory func() *Orchestrator
}

// NewOrchestratorRegistry keeps up to size idle orchestrators built by factory.
func NewOrchestratorRegistry(size int, factory func() *Orchestrator) (*OrchestratorRegistry, error) {
	r := &OrchestratorRegistry{parked: make(map[string]*Orchestrator), factory: factory}
	entries, err := lru.NewWithEvict[string, *Orchestrator](size, r.evicted)
	if err != nil {
		return nil, err
	}
	r.entries = entries
	return r, nil
}

// evicted runs inside entries.Add, with r.mu held by Get.
func (r *OrchestratorRegistry) evicted(userID string, o *Orchestrator) {
	if o.Busy() {
		r.parked[userID] = o
	}
}

// Get returns the user's orchestrator, creating it on first use.
func (r *OrchestratorRegistry) Get(userID string) *Orchestrator {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseSettled()

	if o, ok := r.entries.Get(userID); ok {
		return o
	}
	o, ok := r.parked[userID]
	if ok {
		delete(r.parked, userID)
	} else {
		o = r.factory()
	}
	r.entries.Add(userID, o)
	return o
}

func (r *OrchestratorRegistry) releaseSettled() {
	for userID, o := range r.parked {
		if !o.Busy() {
			delete(r.parked, userID)
		}
	}
}

// Len reports how many users currently hold an orchestrator.
func (r *OrchestratorRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.Len() + len(r.parked)
}
