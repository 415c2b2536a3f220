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

package main

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/devproxy/interceptor/breakpoint"
	"github.com/devproxy/interceptor/ca"
	"github.com/devproxy/interceptor/config"
	"github.com/devproxy/interceptor/control"
	"github.com/devproxy/interceptor/eventbus"
	"github.com/devproxy/interceptor/logger"
	"github.com/devproxy/interceptor/metrics"
	"github.com/devproxy/interceptor/pipeline"
	"github.com/devproxy/interceptor/replay"
	"github.com/devproxy/interceptor/txstore"
)

// bindError marks a failure to acquire a listening socket, distinct from
// a fatal init failure — main() maps the two to different exit codes.
type bindError struct{ err error }

func (b bindError) Error() string { return b.err.Error() }
func (b bindError) Unwrap() error { return b.err }

// app holds every component devproxyd wires together, assembled once in
// buildApp and handed to whichever subcommand needs it.
type app struct {
	cfg config.Config
	log logger.Logger

	ca         *ca.Store
	store      *txstore.Store
	breakpoint *breakpoint.Registry
	bus        *eventbus.Bus
	metrics    *metrics.Registry
	pipeline   *pipeline.Pipeline
	replay     *replay.Engine
	control    *control.Server
	proxy      *control.ProxyController
	token      string
}

// buildApp constructs every §4 component from cfg. It never binds a
// socket — Start does that — so a construction failure is always a
// fatal init failure (exit 1), never a bind failure (exit 2).
func buildApp(cfg config.Config) (*app, error) {
	format := logger.FormatText
	if cfg.LogFormat == "json" {
		format = logger.FormatJson
	}
	log := logger.New(cfg.LogLevel, format, nil)

	m := metrics.New(prometheus.DefaultRegisterer)

	store, err := txstore.Open(txstore.Options{
		StorageRoot:    cfg.StorageRoot,
		RingCapacity:   cfg.RingCapacity,
		InlineCapBytes: cfg.BodyInlineThreshold,
		Metrics:        m,
		Log:            log,
	})
	if err != nil {
		return nil, err
	}

	caStore := ca.NewStore(cfg.StorageRoot, cfg.LeafCacheCapacity, log)
	if cerr := caStore.EnsureRoot(); cerr != nil {
		return nil, cerr
	}

	reg := breakpoint.New(log, m)
	bus := eventbus.New()

	replayEngine := replay.New(replay.Options{
		Store:   store,
		Bus:     bus,
		Metrics: m,
		Log:     log,
	})

	pipe := pipeline.New(pipeline.Options{
		CA:               caStore,
		Store:            store,
		Breakpoint:       reg,
		Bus:              bus,
		Metrics:          m,
		Log:              log,
		MaxConnections:   cfg.MaxConnections,
		MaxBufferedBytes: cfg.ConnectionBufferCap,
		Timeouts: pipeline.Timeouts{
			ClientIdle:      cfg.IdleTimeout,
			Handshake:       cfg.HandshakeTimeout,
			UpstreamConnect: cfg.DialTimeout,
			UpstreamHeaders: cfg.DialTimeout,
			Transaction:     cfg.TransactionTimeout,
		},
	})

	proxy := control.NewProxyController(pipe, cfg.Listen, log)

	token, err := control.LoadOrCreateToken(cfg.StorageRoot)
	if err != nil {
		return nil, err
	}

	ctrl := control.New(control.Options{
		Store:              store,
		Breakpoint:         reg,
		Bus:                bus,
		Replay:             replayEngine,
		Metrics:            m,
		Log:                log,
		Proxy:              proxy,
		Token:              token,
		DefaultRuleTimeout: cfg.BreakpointDefaultTimeout,
	})

	return &app{
		cfg:        cfg,
		log:        log,
		ca:         caStore,
		store:      store,
		breakpoint: reg,
		bus:        bus,
		metrics:    m,
		pipeline:   pipe,
		replay:     replayEngine,
		control:    ctrl,
		proxy:      proxy,
		token:      token,
	}, nil
}

func (a *app) Close() {
	a.breakpoint.Close()
	a.store.Close()
}
