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

// Package eventbus implements C5: a publish/subscribe fan-out over
// transaction and WebSocket-message events, with per-subscriber
// filtering and a bounded, drop-oldest queue.
package eventbus

import "github.com/devproxy/interceptor/txstore"

type Kind string

const (
	Inserted Kind = "inserted"
	Updated  Kind = "updated"
	WSFrame  Kind = "ws_frame"
)

// Event is the unit delivered to subscribers. A non-zero Lagged means
// this event is a sentinel standing in for Lagged dropped events, and
// Transaction/WSMessage are both nil.
type Event struct {
	Kind        Kind
	Transaction *txstore.Transaction
	WSMessage   *txstore.WSMessage
	Lagged      int
}

const DefaultQueueDepth = 1024
