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

package breakpoint

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	libatomic "github.com/devproxy/interceptor/atomic"
	liberr "github.com/devproxy/interceptor/errors"
	"github.com/devproxy/interceptor/logger"
	"github.com/devproxy/interceptor/metrics"
)

// pending is one outstanding suspension: the connection's task blocks on
// resolved until resume or abort closes it, or the rule's timeout fires.
type pending struct {
	id       string
	phase    Phase
	resolved chan Resolution
	once     sync.Once
}

func (p *pending) complete(r Resolution) bool {
	done := false
	p.once.Do(func() {
		p.resolved <- r
		close(p.resolved)
		done = true
	})
	return done
}

// cmd is a closure processed by the registry's single command goroutine,
// giving add/remove/list/set_enabled the "single fair queue" serialization
// named in §4.3 while match() stays entirely lock-free against the
// copy-on-write snapshot.
type cmd func()

// Registry is the C3 entry point.
type Registry struct {
	rules libatomic.Value[[]Rule]
	cmds  chan cmd

	mu      sync.Mutex
	pending map[string]*pending

	metrics *metrics.Registry
	log     logger.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func New(log logger.Logger, m *metrics.Registry) *Registry {
	reg := &Registry{
		rules:   libatomic.NewValue[[]Rule](),
		cmds:    make(chan cmd, 64),
		pending: make(map[string]*pending),
		metrics: m,
		log:     logger.Component(log, "breakpoint", "registry"),
		done:    make(chan struct{}),
	}
	reg.rules.Store(nil)
	go reg.loop()
	return reg
}

func (r *Registry) loop() {
	for {
		select {
		case c := <-r.cmds:
			c()
		case <-r.done:
			return
		}
	}
}

func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

// submit runs fn on the single command goroutine and blocks for its result.
func (r *Registry) submit(fn func()) {
	wait := make(chan struct{})
	r.cmds <- func() {
		fn()
		close(wait)
	}
	<-wait
}

// Add registers rule, assigning it a fresh id if none was given, and
// returns the id (§4.3 add(rule) → id).
func (r *Registry) Add(rule Rule) string {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	r.submit(func() {
		cur := r.rules.Load()
		next := make([]Rule, 0, len(cur)+1)
		next = append(next, cur...)
		next = append(next, rule)
		r.rules.Store(next)
	})

	return rule.ID
}

func (r *Registry) Remove(id string) liberr.Error {
	var found bool

	r.submit(func() {
		cur := r.rules.Load()
		next := make([]Rule, 0, len(cur))
		for _, rl := range cur {
			if rl.ID == id {
				found = true
				continue
			}
			next = append(next, rl)
		}
		r.rules.Store(next)
	})

	if !found {
		return ErrorRuleNotFound.Error()
	}
	return nil
}

func (r *Registry) List() []Rule {
	var out []Rule
	r.submit(func() {
		cur := r.rules.Load()
		out = append(out, cur...)
	})
	return out
}

func (r *Registry) SetEnabled(id string, enabled bool) liberr.Error {
	var found bool

	r.submit(func() {
		cur := r.rules.Load()
		next := make([]Rule, len(cur))
		copy(next, cur)
		for i := range next {
			if next[i].ID == id {
				next[i].Enabled = enabled
				found = true
			}
		}
		r.rules.Store(next)
	})

	if !found {
		return ErrorRuleNotFound.Error()
	}
	return nil
}

// Match evaluates the rule set against v lock-free, returning the first
// enabled matching rule if any (§4.3 match(request_view) → bool).
func (r *Registry) Match(v RequestView) (Rule, bool) {
	for _, rl := range r.rules.Load() {
		if rl.matches(v) {
			return rl, true
		}
	}
	return Rule{}, false
}

// Suspend registers id as pending for phase and blocks until Resume,
// Abort, or the matched rule's timeout elapses (§4.3 suspend). The
// caller supplies id (the transaction id); rule carries the optional
// per-rule auto-resume timeout, zero meaning wait indefinitely.
func (r *Registry) Suspend(ctx context.Context, id string, phase Phase, rule Rule) Resolution {
	p := &pending{id: id, phase: phase, resolved: make(chan Resolution, 1)}

	r.mu.Lock()
	r.pending[id] = p
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.BreakpointsActive.Inc()
	}

	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.BreakpointsActive.Dec()
		}
	}()

	var timeoutC <-chan time.Time
	if rule.Timeout > 0 {
		timer := time.NewTimer(rule.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case res := <-p.resolved:
		return res
	case <-timeoutC:
		p.complete(Resolution{TimedOut: true})
		return Resolution{TimedOut: true}
	case <-ctx.Done():
		p.complete(Resolution{Aborted: true, Reason: ctx.Err().Error()})
		return Resolution{Aborted: true, Reason: ctx.Err().Error()}
	}
}

// Resume completes the suspension for id with edited applied (§4.3
// resume(id, edited)). Edits that would produce an illegal wire message
// are rejected and the suspension remains outstanding.
func (r *Registry) Resume(id string, edited *Edit) liberr.Error {
	if err := validateEdit(edited); err != nil {
		return err
	}

	r.mu.Lock()
	p, ok := r.pending[id]
	r.mu.Unlock()
	if !ok {
		return ErrorNoPendingEdit.Error()
	}

	if !p.complete(Resolution{Edited: edited}) {
		return ErrorAlreadyResolved.Error()
	}
	return nil
}

// Abort completes the suspension for id as aborted with reason (§4.3
// abort(id, reason)).
func (r *Registry) Abort(id string, reason string) liberr.Error {
	r.mu.Lock()
	p, ok := r.pending[id]
	r.mu.Unlock()
	if !ok {
		return ErrorNoPendingEdit.Error()
	}

	if !p.complete(Resolution{Aborted: true, Reason: reason}) {
		return ErrorAlreadyResolved.Error()
	}
	return nil
}
