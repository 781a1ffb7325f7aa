// file: internal/status/status_test.go
// version: 1.0.0
// guid: 2b3c4d5e-6f7a-8b9c-0d1e-2f3a4b5c6d7e

package status

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdateAndGet(t *testing.T) {
	tr := NewTracker()
	tr.Update(func(s *Snapshot) {
		s.Active = true
		s.Stage = "processing"
		s.Layer = 3
		s.CurrentBook = "The Final Empire"
	})

	snap := tr.Get()
	assert.True(t, snap.Active)
	assert.Equal(t, "processing", snap.Stage)
	assert.Equal(t, 3, snap.Layer)
	assert.Equal(t, "The Final Empire", snap.CurrentBook)
}

func TestGetReturnsDetachedCopy(t *testing.T) {
	tr := NewTracker()
	tr.Update(func(s *Snapshot) {
		s.ProviderChain = []string{"skaldleita", "audnexus"}
	})

	snap := tr.Get()
	snap.ProviderChain[0] = "mutated"
	snap.Stage = "mutated"

	fresh := tr.Get()
	assert.Equal(t, "skaldleita", fresh.ProviderChain[0])
	assert.Empty(t, fresh.Stage)
}

func TestActivityStampsTime(t *testing.T) {
	tr := NewTracker()
	tr.Activity("scanned 42 folders")

	snap := tr.Get()
	assert.Equal(t, "scanned 42 folders", snap.LastActivity)
	assert.False(t, snap.LastActivityTime.IsZero())
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Update(func(s *Snapshot) { s.Processed = n*100 + j })
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = tr.Get()
			}
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, tr.Get().Processed, 0)
}
