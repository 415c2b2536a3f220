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

// Package control implements C7: a single HTTP+SSE surface exposing every
// other component's operations (start/stop, query, subscribe, fetch_body,
// rule management, resume/abort, replay, HAR export/import, clear, and
// WebSocket connection/message listing) behind one shared bearer token.
package control

import (
	"time"

	"github.com/devproxy/interceptor/breakpoint"
	"github.com/devproxy/interceptor/eventbus"
	"github.com/devproxy/interceptor/logger"
	"github.com/devproxy/interceptor/metrics"
	"github.com/devproxy/interceptor/replay"
	"github.com/devproxy/interceptor/txstore"
)

// Options wires a Server to the components it fronts. Proxy is optional:
// when nil, start/stop report the proxy as externally managed rather than
// failing.
type Options struct {
	Store      *txstore.Store
	Breakpoint *breakpoint.Registry
	Bus        *eventbus.Bus
	Replay     *replay.Engine
	Metrics    *metrics.Registry
	Log        logger.Logger
	Proxy      *ProxyController

	// Token is the bearer credential every request and subscription must
	// present. Callers load or create it with LoadOrCreateToken (§6).
	Token string

	// DefaultRuleTimeout is applied to add_rule requests that omit their
	// own timeout, so a rule can't suspend a transaction forever by
	// accident.
	DefaultRuleTimeout time.Duration
}

// Server is the C7 entry point. Its request handlers are unexported
// handle* methods; NewRouter wraps them behind gin routes and the
// bearer-auth middleware for actual transport use.
type Server struct {
	store              *txstore.Store
	breakpoint         *breakpoint.Registry
	bus                *eventbus.Bus
	replay             *replay.Engine
	metrics            *metrics.Registry
	log                logger.Logger
	proxy              *ProxyController
	token              string
	defaultRuleTimeout time.Duration
}

// New constructs a Server from opt.
func New(opt Options) *Server {
	return &Server{
		store:              opt.Store,
		breakpoint:         opt.Breakpoint,
		bus:                opt.Bus,
		replay:             opt.Replay,
		metrics:            opt.Metrics,
		log:                logger.Component(opt.Log, "control", "server"),
		proxy:              opt.Proxy,
		token:              opt.Token,
		defaultRuleTimeout: opt.DefaultRuleTimeout,
	}
}
