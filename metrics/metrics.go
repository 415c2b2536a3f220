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

// Package metrics is the ambient observability surface the control
// channel exposes on /metrics (SPEC_FULL.md §D) — ring occupancy, active
// breakpoints and in-flight connections, none of which spec.md's
// Non-goals exclude.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups every collector a component increments. Components
// hold a *Registry rather than package-level globals so tests can
// construct an isolated registry per case.
type Registry struct {
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	RingSize          prometheus.Gauge
	RingCapacity      prometheus.Gauge
	BreakpointsActive prometheus.Gauge
	BreakpointHits    prometheus.Counter
	StorageWrites     prometheus.Counter
	StorageErrors     prometheus.Counter
	ReplaysTotal      prometheus.Counter
	WSMessagesTotal   prometheus.Counter
}

// New constructs a Registry and registers every collector against reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devproxy", Subsystem: "pipeline", Name: "connections_active",
			Help: "Number of connections currently in the C4 pipeline.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devproxy", Subsystem: "pipeline", Name: "connections_total",
			Help: "Total connections accepted by the listener.",
		}),
		RingSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devproxy", Subsystem: "txstore", Name: "ring_size",
			Help: "Number of transactions currently held in the in-memory ring.",
		}),
		RingCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devproxy", Subsystem: "txstore", Name: "ring_capacity",
			Help: "Configured capacity of the in-memory ring.",
		}),
		BreakpointsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devproxy", Subsystem: "breakpoint", Name: "suspended_active",
			Help: "Number of connections currently suspended at a breakpoint.",
		}),
		BreakpointHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devproxy", Subsystem: "breakpoint", Name: "hits_total",
			Help: "Total number of times a breakpoint rule matched a transaction.",
		}),
		StorageWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devproxy", Subsystem: "txstore", Name: "writes_total",
			Help: "Total durable-log writes.",
		}),
		StorageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devproxy", Subsystem: "txstore", Name: "errors_total",
			Help: "Total durable-log write or read errors.",
		}),
		ReplaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devproxy", Subsystem: "replay", Name: "requests_total",
			Help: "Total transactions replayed through C6.",
		}),
		WSMessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devproxy", Subsystem: "wsrelay", Name: "messages_total",
			Help: "Total WebSocket frames relayed and recorded.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ConnectionsActive, m.ConnectionsTotal,
			m.RingSize, m.RingCapacity,
			m.BreakpointsActive, m.BreakpointHits,
			m.StorageWrites, m.StorageErrors,
			m.ReplaysTotal, m.WSMessagesTotal,
		)
	}

	return m
}
