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

// Package replay implements C6: re-issuing a stored transaction's request
// directly against its original upstream, outside the intercept path, and
// recording the result as a new child transaction.
package replay

import (
	"time"

	"github.com/devproxy/interceptor/eventbus"
	"github.com/devproxy/interceptor/logger"
	"github.com/devproxy/interceptor/metrics"
	"github.com/devproxy/interceptor/txstore"
)

// DefaultMaxBufferedBytes mirrors pipeline's own response-capture bound,
// since a replayed response is recorded the same way a forwarded one is.
const DefaultMaxBufferedBytes = 1 * 1024 * 1024

// Options configures an Engine.
type Options struct {
	Store   *txstore.Store
	Bus     *eventbus.Bus
	Metrics *metrics.Registry
	Log     logger.Logger

	ConnectTimeout   time.Duration
	HeaderTimeout    time.Duration
	MaxBufferedBytes int64
}

// Overrides carries the optional per-field replacements replay(id, overrides?)
// accepts (§4.6).
type Overrides struct {
	Method  string
	Path    string
	Headers txstore.Headers
	Body    []byte
}

// Engine is the C6 entry point.
type Engine struct {
	store   *txstore.Store
	bus     *eventbus.Bus
	metrics *metrics.Registry
	log     logger.Logger

	connectTimeout   time.Duration
	headerTimeout    time.Duration
	maxBufferedBytes int64
}

// New constructs an Engine from opt, filling in defaults for any
// zero-valued timeout or limit.
func New(opt Options) *Engine {
	connectTimeout := opt.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 15 * time.Second
	}
	headerTimeout := opt.HeaderTimeout
	if headerTimeout <= 0 {
		headerTimeout = 30 * time.Second
	}
	maxBuffered := opt.MaxBufferedBytes
	if maxBuffered <= 0 {
		maxBuffered = DefaultMaxBufferedBytes
	}

	return &Engine{
		store:            opt.Store,
		bus:              opt.Bus,
		metrics:          opt.Metrics,
		log:              logger.Component(opt.Log, "replay", "engine"),
		connectTimeout:   connectTimeout,
		headerTimeout:    headerTimeout,
		maxBufferedBytes: maxBuffered,
	}
}

func (e *Engine) publish(evKind eventbus.Kind, t *txstore.Transaction) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Kind: evKind, Transaction: t})
}

func (e *Engine) spillBody(raw []byte) txstore.BodyRef {
	if e.store == nil {
		return txstore.BodyRef{Inline: raw, Size: int64(len(raw))}
	}
	ref, err := e.store.SpillBody(raw)
	if err != nil {
		return txstore.BodyRef{Inline: raw, Size: int64(len(raw))}
	}
	return ref
}
