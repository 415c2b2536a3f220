/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package txstore

import (
	"sync"
	"sync/atomic"
	"time"
)

var seqCounter uint64

func nextSeq() uint64 {
	return atomic.AddUint64(&seqCounter, 1)
}

// ring is the bounded in-memory metadata window of I3: it never holds
// more than capacity entries and eviction only drops the oldest slot —
// the durable log underneath is untouched.
type ring struct {
	mu       sync.RWMutex
	capacity int
	buf      []*Transaction
	byID     map[string]int // id -> index into buf
	next     int            // next slot to write (wraps)
	size     int            // current occupancy, <= capacity
	oldest   time.Time      // start time of the current oldest ring entry
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 10000
	}
	return &ring{
		capacity: capacity,
		buf:      make([]*Transaction, capacity),
		byID:     make(map[string]int, capacity),
	}
}

// insert adds t as the newest entry, evicting the oldest metadata slot if
// the ring is at capacity. It never deletes the evicted entry's durable
// counterpart.
func (r *ring) insert(t *Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == r.capacity {
		evicted := r.buf[r.next]
		delete(r.byID, evicted.ID)
	} else {
		r.size++
	}

	t.seq = nextSeq()
	r.buf[r.next] = t
	r.byID[t.ID] = r.next
	r.next = (r.next + 1) % r.capacity

	r.recomputeOldestLocked()
}

func (r *ring) recomputeOldestLocked() {
	var min time.Time
	for _, t := range r.buf {
		if t == nil {
			continue
		}
		if min.IsZero() || t.Start.Before(min) {
			min = t.Start
		}
	}
	r.oldest = min
}

func (r *ring) update(id string, fn func(*Transaction)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byID[id]
	if !ok {
		return false
	}
	fn(r.buf[idx])
	return true
}

func (r *ring) get(id string) (*Transaction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return r.buf[idx], true
}

// oldestStart returns the start time of the current oldest entry held in
// the ring, used by query to decide whether a page needs the durable log.
func (r *ring) oldestStart() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.oldest
}

func (r *ring) snapshot() []*Transaction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Transaction, 0, r.size)
	for _, t := range r.buf {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

func (r *ring) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

func (r *ring) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = make([]*Transaction, r.capacity)
	r.byID = make(map[string]int, r.capacity)
	r.next = 0
	r.size = 0
	r.oldest = time.Time{}
}
