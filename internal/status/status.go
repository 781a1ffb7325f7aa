// file: internal/status/status.go
// version: 1.0.0
// guid: 1a2b3c4d-5e6f-7a8b-9c0d-1e2f3a4b5c6d

package status

import (
	"sync"
	"time"
)

// Snapshot is the externally-visible processing state. Observers get a copy;
// they may see it mid-batch but never torn.
type Snapshot struct {
	Active           bool      `json:"active"`
	Processed        int       `json:"processed"`
	Total            int       `json:"total"`
	Stage            string    `json:"stage"`
	CurrentBook      string    `json:"current_book"`
	CurrentAuthor    string    `json:"current_author"`
	CurrentProvider  string    `json:"current_provider"`
	CurrentStep      string    `json:"current_step"`
	ProviderChain    []string  `json:"provider_chain"`
	ProviderIndex    int       `json:"provider_index"`
	APILatencyMS     int64     `json:"api_latency_ms"`
	Confidence       int       `json:"confidence"`
	IsFreeAPI        bool      `json:"is_free_api"`
	Errors           int       `json:"errors"`
	Layer            int       `json:"layer"`
	LayerName        string    `json:"layer_name"`
	QueueRemaining   int       `json:"queue_remaining"`
	LastActivity     string    `json:"last_activity"`
	LastActivityTime time.Time `json:"last_activity_time"`
}

// Tracker is the shared processing-status record. Only the worker and the
// layer engine mutate it; any number of observers read it.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker { return &Tracker{} }

// Update applies a mutation under the lock.
func (t *Tracker) Update(fn func(*Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.snap)
}

// Activity records a human-readable progress line with its timestamp.
func (t *Tracker) Activity(msg string) {
	t.Update(func(s *Snapshot) {
		s.LastActivity = msg
		s.LastActivityTime = time.Now()
	})
}

// Get returns a copy of the current snapshot.
func (t *Tracker) Get() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := t.snap
	snap.ProviderChain = append([]string(nil), t.snap.ProviderChain...)
	return snap
}
