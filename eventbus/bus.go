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

package eventbus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/devproxy/interceptor/txstore"
)

// subscriber holds one consumer's bounded queue and its filter. send is
// always called with mu held so drop-oldest + lag-sentinel bookkeeping
// never races with itself across publishers.
type subscriber struct {
	mu      sync.Mutex
	ch      chan Event
	filter  txstore.Filter
	dropped int
}

func (s *subscriber) send(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case s.ch <- ev:
		return
	default:
	}

	// Queue is full: drop the oldest entry to make room (§4.5 drop-oldest).
	select {
	case <-s.ch:
		s.dropped++
	default:
	}

	if s.dropped > 0 {
		select {
		case s.ch <- Event{Kind: Inserted, Lagged: s.dropped}:
			s.dropped = 0
		default:
		}
	}

	select {
	case s.ch <- ev:
	default:
		// The lag sentinel took the freed slot; count ev as dropped too,
		// it will be folded into the next delivered Lagged(n).
		s.dropped++
	}
}

// Bus is the C5 entry point.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

func New() *Bus {
	return &Bus{subs: make(map[string]*subscriber)}
}

// Subscribe registers a new consumer filtered identically to C2's query
// filter and returns its channel plus a cancel function that unregisters
// it and closes the channel.
func (b *Bus) Subscribe(filter txstore.Filter) (<-chan Event, func()) {
	id := uuid.NewString()
	sub := &subscriber{ch: make(chan Event, DefaultQueueDepth), filter: filter}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(sub.ch)
	}
	return sub.ch, cancel
}

// Publish fans ev out to every subscriber whose filter matches its
// transaction. Events with no Transaction (bare WS frames) bypass the
// transaction-shaped filter and are delivered to every subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if ev.Transaction != nil && !sub.filter.Matches(ev.Transaction) {
			continue
		}
		sub.send(ev)
	}
}

// SubscriberCount reports the current number of active subscriptions,
// for metrics and tests.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
