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
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devproxy/interceptor/logger"
	"github.com/devproxy/interceptor/metrics"

	liberr "github.com/devproxy/interceptor/errors"
)

const DefaultInlineThreshold = 4 * 1024

// Store is the C2 entry point: insert/update/query/fetch_body/
// append_ws_message/fetch_ws_messages/clear/prune, backed by a ring for
// fast metadata queries and a durable log + body blobs for everything
// beyond the ring's horizon.
type Store struct {
	ring      *ring
	log       *durable
	bodies    *bodies
	inlineCap int64
	wsSeq     sync.Map // connID -> *uint64
	metrics   *metrics.Registry
	logf      logger.Logger
}

type Options struct {
	StorageRoot    string
	RingCapacity   int
	InlineCapBytes int64
	Metrics        *metrics.Registry
	Log            logger.Logger
}

func Open(opt Options) (*Store, liberr.Error) {
	d, err := openDurable(opt.StorageRoot)
	if err != nil {
		return nil, err
	}

	inlineCap := opt.InlineCapBytes
	if inlineCap <= 0 {
		inlineCap = DefaultInlineThreshold
	}

	s := &Store{
		ring:      newRing(opt.RingCapacity),
		log:       d,
		bodies:    newBodies(opt.StorageRoot),
		inlineCap: inlineCap,
		metrics:   opt.Metrics,
		logf:      logger.Component(opt.Log, "txstore", "store"),
	}

	if s.metrics != nil {
		s.metrics.RingCapacity.Set(float64(opt.RingCapacity))
	}

	return s, nil
}

func (s *Store) Close() {
	s.log.close()
}

// SpillBody writes raw to disk and returns a BodyRef — inline if raw is
// at or under the configured threshold, external otherwise (§4.2 body
// storage policy).
func (s *Store) SpillBody(raw []byte) (BodyRef, liberr.Error) {
	if int64(len(raw)) <= s.inlineCap {
		return BodyRef{Inline: raw, Size: int64(len(raw))}, nil
	}

	handle, err := s.bodies.put(raw)
	if err != nil {
		return BodyRef{}, err
	}
	return BodyRef{Handle: handle, Size: int64(len(raw))}, nil
}

// Insert adds t to the ring (immediately visible to Query/subscribers)
// and schedules it for durable persistence. The write to the durable log
// happens synchronously here; §4.2's "durable on return from a later
// flush" is realized by nutsdb's own fsync-on-commit semantics rather
// than a separate buffering stage, since nutsdb already batches commits.
func (s *Store) Insert(t *Transaction) liberr.Error {
	s.ring.insert(t)
	if s.metrics != nil {
		s.metrics.RingSize.Set(float64(s.ring.len()))
	}

	if err := s.log.put(t); err != nil {
		// Storage I/O degrades gracefully per §7: the transaction stays
		// visible in the ring even though durability was lost.
		s.ring.update(t.ID, func(tx *Transaction) {
			tx.State = Failed
			tx.FailKind = ErrorStorageIO
		})
		if s.metrics != nil {
			s.metrics.StorageErrors.Inc()
		}
		return err
	}

	if s.metrics != nil {
		s.metrics.StorageWrites.Inc()
	}
	return nil
}

// Update applies patch to the transaction identified by id, in the ring
// and the durable log. Last-writer-wins within a single connection (§4.2).
func (s *Store) Update(id string, patch Patch) liberr.Error {
	applied := false
	s.ring.update(id, func(t *Transaction) {
		applyPatch(t, patch)
		applied = true
	})

	t, err := s.resolveForWrite(id, applied)
	if err != nil {
		return err
	}
	if !applied {
		applyPatch(t, patch)
	}

	if err := s.log.put(t); err != nil {
		if s.metrics != nil {
			s.metrics.StorageErrors.Inc()
		}
		return err
	}
	return nil
}

// Get fetches a single transaction by id, checking the ring before
// falling back to the durable log — the same lookup order Update uses
// internally, exposed for callers (replay, the control surface) that
// only need to read one record rather than patch it.
func (s *Store) Get(id string) (*Transaction, liberr.Error) {
	if t, ok := s.ring.get(id); ok {
		return t, nil
	}
	return s.log.get(id)
}

func (s *Store) resolveForWrite(id string, alreadyInRing bool) (*Transaction, liberr.Error) {
	if alreadyInRing {
		t, _ := s.ring.get(id)
		return t, nil
	}
	return s.log.get(id)
}

func applyPatch(t *Transaction, p Patch) {
	if p.Method != nil {
		t.Method = *p.Method
	}
	if p.Path != nil {
		t.Path = *p.Path
	}
	if p.ReqHead != nil {
		t.ReqHead = p.ReqHead
	}
	if p.ReqBody != nil {
		t.ReqBody = *p.ReqBody
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Reason != nil {
		t.Reason = *p.Reason
	}
	if p.RespHead != nil {
		t.RespHead = p.RespHead
	}
	if p.RespBody != nil {
		t.RespBody = *p.RespBody
	}
	if p.Duration != nil {
		t.Duration = *p.Duration
	}
	if p.BytesIn != nil {
		t.BytesIn = *p.BytesIn
	}
	if p.BytesOut != nil {
		t.BytesOut = *p.BytesOut
	}
	if p.Timing != nil {
		t.Timing = *p.Timing
	}
	if p.State != nil {
		t.State = *p.State
	}
	if p.FailKind != nil {
		t.FailKind = *p.FailKind
	}
}

// AppendWSMessage assigns the next sequence number for connID atomically
// and persists m (§4.2, I4).
func (s *Store) AppendWSMessage(connID string, m WSMessage) (uint64, liberr.Error) {
	counter, _ := s.wsSeq.LoadOrStore(connID, new(uint64))
	seq := atomic.AddUint64(counter.(*uint64), 1)

	m.ConnID = connID
	m.Sequence = seq
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	if err := s.log.appendWS(&m); err != nil {
		return 0, err
	}
	return seq, nil
}

// FetchWSMessages returns an ordered slice of messages for connID (§4.2).
func (s *Store) FetchWSMessages(connID string, offset, limit int) ([]*WSMessage, liberr.Error) {
	return s.log.wsMessages(connID, offset, limit)
}

// FetchBody resolves the request or response body of id, reading from
// disk only when the stored ref is external (§4.2, design note "bodies
// referenced, not embedded").
func (s *Store) FetchBody(id string, kind BodyKind) ([]byte, liberr.Error) {
	t, ok := s.ring.get(id)
	if !ok {
		var err liberr.Error
		t, err = s.log.get(id)
		if err != nil {
			return nil, err
		}
	}

	ref := t.ReqBody
	if kind == ResponseBody {
		ref = t.RespBody
	}

	if ref.IsInline() {
		return ref.Inline, nil
	}
	return s.bodies.get(ref.Handle)
}

// Query returns a paginated, metadata-only page matching filter (§4.2).
// It scans the ring first; if the requested page window reaches back
// further than the ring's oldest entry, it falls back to the durable log
// for the remainder (P4, S4).
func (s *Store) Query(filter Filter, page, size int) (Page, liberr.Error) {
	matches := make([]*Transaction, 0, size*2)

	for _, t := range s.ring.snapshot() {
		if !t.Tombstoned && filter.matches(t) {
			matches = append(matches, t)
		}
	}

	oldestRing := s.ring.oldestStart()
	needsLog := oldestRing.IsZero() || filter.After.Before(oldestRing) || filter.After.IsZero()
	if needsLog {
		from := filter.After
		to := oldestRing
		if to.IsZero() {
			to = time.Now().Add(time.Second)
		}
		if !filter.Before.IsZero() && filter.Before.Before(to) {
			to = filter.Before
		}

		ids, err := s.log.rangeByTime(from, to)
		if err != nil {
			return Page{}, err
		}

		seen := make(map[string]bool, len(matches))
		for _, t := range matches {
			seen[t.ID] = true
		}

		for _, id := range ids {
			if seen[id] {
				continue
			}
			t, err := s.log.get(id)
			if err != nil || t.Tombstoned {
				continue
			}
			if filter.matches(t) {
				matches = append(matches, t)
				seen[id] = true
			}
		}
	}

	sortTransactions(matches, filter.Sort, filter.Descending)

	total := len(matches)
	start := page * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	return Page{Items: matches[start:end], TotalEstim: total}, nil
}

func sortTransactions(items []*Transaction, field SortField, desc bool) {
	// primaryLess reports whether a sorts before b on field alone; ok is
	// false when a and b tie on the primary key, so the caller falls
	// through to the insertion-order tie-break.
	primaryLess := func(a, b *Transaction) (less, ok bool) {
		switch field {
		case SortMethod:
			if a.Method != b.Method {
				return a.Method < b.Method, true
			}
		case SortHost:
			if a.Host != b.Host {
				return a.Host < b.Host, true
			}
		case SortPath:
			if a.Path != b.Path {
				return a.Path < b.Path, true
			}
		case SortStatus:
			if a.Status != b.Status {
				return a.Status < b.Status, true
			}
		case SortDuration:
			if a.Duration != b.Duration {
				return a.Duration < b.Duration, true
			}
		case SortSize:
			asz, bsz := a.BytesIn+a.BytesOut, b.BytesIn+b.BytesOut
			if asz != bsz {
				return asz < bsz, true
			}
		default: // SortStart
			if !a.Start.Equal(b.Start) {
				return a.Start.Before(b.Start), true
			}
		}
		return false, false
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if less, ok := primaryLess(a, b); ok {
			if desc {
				return !less
			}
			return less
		}
		// Tie on the primary key: ascending stable by insertion order
		// regardless of desc (§3/§4.2).
		return a.seq < b.seq
	})
}

// Clear logically deletes every record: the ring is emptied and every
// durable record is tombstoned; bodies are reclaimed on next compaction
// rather than deleted synchronously (§4.2, I6).
func (s *Store) Clear() liberr.Error {
	ids, err := s.log.rangeByTime(time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}
	for _, id := range ids {
		_ = s.log.tombstone(id)
	}
	s.ring.clear()
	if s.metrics != nil {
		s.metrics.RingSize.Set(0)
	}
	return nil
}

// Prune tombstones every record whose start time is older than now-olderThan.
func (s *Store) Prune(olderThan time.Duration) liberr.Error {
	cutoff := time.Now().Add(-olderThan)
	ids, err := s.log.rangeByTime(time.Time{}, cutoff)
	if err != nil {
		return err
	}
	for _, id := range ids {
		_ = s.log.tombstone(id)
		s.ring.update(id, func(t *Transaction) { t.Tombstoned = true })
	}
	return nil
}

// RingLen reports the current ring occupancy, for metrics and tests (P3).
func (s *Store) RingLen() int {
	return s.ring.len()
}
