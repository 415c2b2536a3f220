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

// Package breakpoint implements C3: rule matching and the coordinated
// suspend/resume/abort handshake that pauses a transaction mid-flight
// for inspection or editing.
package breakpoint

import (
	"time"

	"github.com/devproxy/interceptor/txstore"
)

// Phase names which side of a transaction a suspension applies to.
type Phase string

const (
	Request  Phase = "request"
	Response Phase = "response"
)

// Rule (R) matches a request iff every present predicate holds.
type Rule struct {
	ID         string
	Enabled    bool
	Method     string
	HostSubstr string
	PathSubstr string
	Timeout    time.Duration // 0 means no auto-resume
}

func (r Rule) matches(v RequestView) bool {
	if !r.Enabled {
		return false
	}
	if r.Method != "" && r.Method != v.Method {
		return false
	}
	if r.HostSubstr != "" && !containsFold(v.Host, r.HostSubstr) {
		return false
	}
	if r.PathSubstr != "" && !containsFold(v.Path, r.PathSubstr) {
		return false
	}
	return true
}

// RequestView is the read-only projection match() evaluates rules against.
type RequestView struct {
	Method string
	Host   string
	Path   string
}

// Edit is the editable copy of a suspended transaction's request or
// response side (§3's Pending edit E).
type Edit struct {
	Method  string
	Path    string
	Headers txstore.Headers
	Body    []byte

	Status int
	Reason string
}

// Resolution is what a suspension waits for: either an edited view to
// apply, or an abort with a reason.
type Resolution struct {
	Edited   *Edit
	Aborted  bool
	Reason   string
	TimedOut bool
}
