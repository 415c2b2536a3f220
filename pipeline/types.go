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

// Package pipeline implements C4: the per-connection state machine that
// takes an accepted TCP connection through request parsing, CONNECT
// tunnel setup and TLS interception, upstream forwarding, and WebSocket
// frame relay, recording every transaction into C2 and publishing its
// lifecycle on C5 along the way.
package pipeline

import (
	"time"

	"github.com/devproxy/interceptor/breakpoint"
	"github.com/devproxy/interceptor/ca"
	"github.com/devproxy/interceptor/eventbus"
	"github.com/devproxy/interceptor/logger"
	"github.com/devproxy/interceptor/metrics"
	"github.com/devproxy/interceptor/txstore"
	"github.com/devproxy/interceptor/wsrelay"
)

// Timeouts bounds every stage's blocking wait (§4.4 "Timeouts").
type Timeouts struct {
	ClientIdle      time.Duration
	Handshake       time.Duration
	UpstreamConnect time.Duration
	UpstreamHeaders time.Duration
	Transaction     time.Duration
}

// Options configures a Pipeline.
type Options struct {
	CA         *ca.Store
	Store      *txstore.Store
	Breakpoint *breakpoint.Registry
	Bus        *eventbus.Bus
	Metrics    *metrics.Registry
	Log        logger.Logger

	MaxConnections   int
	MaxHeaderBytes   int64
	MaxBufferedBytes int64
	Timeouts         Timeouts
}

const (
	DefaultMaxHeaderBytes   = 64 * 1024
	DefaultMaxBufferedBytes = 1 * 1024 * 1024
)

// Pipeline is the C4 entry point: Serve runs the accept loop.
type Pipeline struct {
	ca         *ca.Store
	store      *txstore.Store
	breakpoint *breakpoint.Registry
	bus        *eventbus.Bus
	metrics    *metrics.Registry
	log        logger.Logger
	recorder   *wsrelay.Recorder

	maxHeaderBytes   int64
	maxBufferedBytes int64
	timeouts         Timeouts

	sem chan struct{}
}

// New constructs a Pipeline from opt, filling in the §4.4 stage defaults
// for any zero-valued timeout or limit.
func New(opt Options) *Pipeline {
	maxConns := opt.MaxConnections
	if maxConns <= 0 {
		maxConns = 1024
	}
	maxHeader := opt.MaxHeaderBytes
	if maxHeader <= 0 {
		maxHeader = DefaultMaxHeaderBytes
	}
	maxBuffered := opt.MaxBufferedBytes
	if maxBuffered <= 0 {
		maxBuffered = DefaultMaxBufferedBytes
	}
	t := opt.Timeouts
	if t.ClientIdle <= 0 {
		t.ClientIdle = 30 * time.Second
	}
	if t.Handshake <= 0 {
		t.Handshake = 10 * time.Second
	}
	if t.UpstreamConnect <= 0 {
		t.UpstreamConnect = 15 * time.Second
	}
	if t.UpstreamHeaders <= 0 {
		t.UpstreamHeaders = 30 * time.Second
	}
	if t.Transaction <= 0 {
		t.Transaction = 300 * time.Second
	}

	return &Pipeline{
		ca:               opt.CA,
		store:            opt.Store,
		breakpoint:       opt.Breakpoint,
		bus:              opt.Bus,
		metrics:          opt.Metrics,
		log:              logger.Component(opt.Log, "pipeline", "connection"),
		recorder:         &wsrelay.Recorder{Store: opt.Store, Bus: opt.Bus, Metrics: opt.Metrics},
		maxHeaderBytes:   maxHeader,
		maxBufferedBytes: maxBuffered,
		timeouts:         t,
		sem:              make(chan struct{}, maxConns),
	}
}

func (p *Pipeline) publish(evKind eventbus.Kind, t *txstore.Transaction) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{Kind: evKind, Transaction: t})
}
