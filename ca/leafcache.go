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

package ca

import (
	"container/list"
	"crypto/tls"
	"sync"
)

// leafCache is a fixed-capacity, least-recently-used cache of minted leaf
// certificates keyed by SNI. Entries never expire on their own; eviction
// happens only when Put grows the cache past capacity, tie-broken by
// recency of use per §4.1.
type leafCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type leafEntry struct {
	sni  string
	cert *tls.Certificate
}

func newLeafCache(capacity int) *leafCache {
	if capacity <= 0 {
		capacity = 512
	}
	return &leafCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

func (c *leafCache) Get(sni string) (*tls.Certificate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[sni]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*leafEntry).cert, true
}

func (c *leafCache) Put(sni string, cert *tls.Certificate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[sni]; ok {
		el.Value.(*leafEntry).cert = cert
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&leafEntry{sni: sni, cert: cert})
	c.items[sni] = el

	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*leafEntry).sni)
	}
}

func (c *leafCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *leafCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll = list.New()
	c.items = make(map[string]*list.Element, c.capacity)
}
