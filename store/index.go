package store

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yourusername/tokengate/core"
)

// MaxSize is the largest slot count NewIndex will allocate.
const MaxSize = 1 << 24

// FNV-1a 64-bit parameters
const (
	offset64 uint64 = 14695981039346656037
	prime64  uint64 = 1099511628211
)

// Index maps identifiers to buckets through a fixed number of slots.
// Each slot holds a chain of buckets whose identifiers hash to it, so colliding
// identifiers keep independent buckets. The index owns every bucket it holds.
type Index struct {
	slots []slot
	count atomic.Int64
}

// slot is a chain of buckets guarded by its own lock
type slot struct {
	mu    sync.RWMutex
	chain []*core.Bucket
}

// Stats describes how buckets are spread across slots
type Stats struct {
	Size         int // Number of slots
	Buckets      int // Number of buckets held
	UsedSlots    int // Slots with at least one bucket
	LongestChain int // Length of the longest chain
}

// NewIndex allocates an index with size slots.
func NewIndex(size int) (*Index, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: table size must be > 0, got %d", core.ErrConfig, size)
	}
	if size > MaxSize {
		return nil, fmt.Errorf("%w: table size %d exceeds %d", core.ErrAllocation, size, MaxSize)
	}

	return &Index{slots: make([]slot, size)}, nil
}

// Hash returns the 64-bit FNV-1a hash of id.
// It is only used for slot distribution, never for security.
func Hash(id string) uint64 {
	h := offset64
	for i := 0; i < len(id); i++ {
		h ^= uint64(id[i])
		h *= prime64
	}
	return h
}

// Slot returns the slot number id maps to.
func (ix *Index) Slot(id string) int {
	return int(Hash(id) % uint64(len(ix.slots)))
}

// Size returns the number of slots.
func (ix *Index) Size() int {
	return len(ix.slots)
}

// Len returns the number of buckets currently held.
func (ix *Index) Len() int {
	return int(ix.count.Load())
}

// Get looks up the bucket for id without creating one.
func (ix *Index) Get(id string) (*core.Bucket, bool) {
	s := &ix.slots[ix.Slot(id)]

	s.mu.RLock()
	defer s.mu.RUnlock()

	b := s.find(id)
	return b, b != nil
}

// GetOrCreate returns the bucket for id, creating it with factory on first use.
// Concurrent callers racing on the same new identifier get the same bucket,
// and factory runs at most once for it. created reports whether this call
// inserted the bucket.
func (ix *Index) GetOrCreate(id string, factory func() *core.Bucket) (b *core.Bucket, created bool) {
	s := &ix.slots[ix.Slot(id)]

	// Fast path - bucket exists
	s.mu.RLock()
	b = s.find(id)
	s.mu.RUnlock()
	if b != nil {
		return b, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check: another goroutine might have created it
	if b = s.find(id); b != nil {
		return b, false
	}

	b = factory()
	s.chain = append(s.chain, b)
	ix.count.Add(1)
	return b, true
}

// Delete removes the bucket for id. It reports whether a bucket was removed.
// Callers still holding the removed bucket may finish their current check on it;
// the next check for id starts from a fresh, full bucket.
func (ix *Index) Delete(id string) bool {
	s := &ix.slots[ix.Slot(id)]

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, b := range s.chain {
		if b.ID() == id {
			s.remove(i)
			ix.count.Add(-1)
			return true
		}
	}
	return false
}

// Sweep removes buckets that have not been used since cutoff and have refilled
// to capacity by now. It returns the removed identifiers. A bucket still owed
// tokens is kept, however long it has been idle, so eviction never hands an
// identifier more tokens than refill would.
func (ix *Index) Sweep(now, cutoff time.Duration) []string {
	var removed []string

	for i := range ix.slots {
		s := &ix.slots[i]

		s.mu.Lock()
		kept := s.chain[:0]
		for _, b := range s.chain {
			if b.Expired(now, cutoff) {
				removed = append(removed, b.ID())
				continue
			}
			kept = append(kept, b)
		}
		clear(s.chain[len(kept):])
		s.chain = kept
		s.mu.Unlock()
	}

	ix.count.Add(-int64(len(removed)))
	return removed
}

// Range calls fn for every bucket until fn returns false.
// fn runs outside the slot locks and may use the bucket freely.
func (ix *Index) Range(fn func(b *core.Bucket) bool) {
	for i := range ix.slots {
		s := &ix.slots[i]

		s.mu.RLock()
		chain := make([]*core.Bucket, len(s.chain))
		copy(chain, s.chain)
		s.mu.RUnlock()

		for _, b := range chain {
			if !fn(b) {
				return
			}
		}
	}
}

// Reset drops every bucket.
func (ix *Index) Reset() {
	for i := range ix.slots {
		s := &ix.slots[i]

		s.mu.Lock()
		ix.count.Add(-int64(len(s.chain)))
		s.chain = nil
		s.mu.Unlock()
	}
}

// Stats returns the current distribution of buckets across slots.
func (ix *Index) Stats() Stats {
	st := Stats{Size: len(ix.slots)}

	for i := range ix.slots {
		s := &ix.slots[i]

		s.mu.RLock()
		n := len(s.chain)
		s.mu.RUnlock()

		st.Buckets += n
		if n > 0 {
			st.UsedSlots++
		}
		if n > st.LongestChain {
			st.LongestChain = n
		}
	}
	return st
}

// find MUST be called with s.mu held.
func (s *slot) find(id string) *core.Bucket {
	for _, b := range s.chain {
		if b.ID() == id {
			return b
		}
	}
	return nil
}

// remove MUST be called with s.mu locked.
func (s *slot) remove(i int) {
	last := len(s.chain) - 1
	s.chain[i] = s.chain[last]
	s.chain[last] = nil
	s.chain = s.chain[:last]
}
