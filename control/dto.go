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

package control

import (
	"time"

	"github.com/devproxy/interceptor/breakpoint"
	"github.com/devproxy/interceptor/txstore"
)

// queryRequest mirrors txstore.Filter plus the pagination args Query takes.
type queryRequest struct {
	Methods    []string  `json:"methods"`
	HostSubstr string    `json:"host_substr"`
	PathSubstr string    `json:"path_substr"`
	StatusMin  int       `json:"status_min"`
	StatusMax  int       `json:"status_max"`
	After      time.Time `json:"after"`
	Before     time.Time `json:"before"`
	Sort       string    `json:"sort"`
	Descending bool      `json:"descending"`
	Page       int       `json:"page"`
	Size       int       `json:"size"`
}

func (q queryRequest) filter() txstore.Filter {
	return txstore.Filter{
		Methods:    q.Methods,
		HostSubstr: q.HostSubstr,
		PathSubstr: q.PathSubstr,
		StatusMin:  q.StatusMin,
		StatusMax:  q.StatusMax,
		After:      q.After,
		Before:     q.Before,
		Sort:       txstore.SortField(q.Sort),
		Descending: q.Descending,
	}
}

// ruleRequest mirrors breakpoint.Rule for add_rule.
type ruleRequest struct {
	Enabled    bool          `json:"enabled"`
	Method     string        `json:"method"`
	HostSubstr string        `json:"host_substr"`
	PathSubstr string        `json:"path_substr"`
	Timeout    time.Duration `json:"timeout"`
}

func (r ruleRequest) rule() breakpoint.Rule {
	return breakpoint.Rule{
		Enabled:    r.Enabled,
		Method:     r.Method,
		HostSubstr: r.HostSubstr,
		PathSubstr: r.PathSubstr,
		Timeout:    r.Timeout,
	}
}

// editRequest mirrors breakpoint.Edit for resume.
type editRequest struct {
	Method  string          `json:"method"`
	Path    string          `json:"path"`
	Headers txstore.Headers `json:"headers"`
	Body    []byte          `json:"body"`
	Status  int             `json:"status"`
	Reason  string          `json:"reason"`
}

func (e editRequest) edit() *breakpoint.Edit {
	return &breakpoint.Edit{
		Method:  e.Method,
		Path:    e.Path,
		Headers: e.Headers,
		Body:    e.Body,
		Status:  e.Status,
		Reason:  e.Reason,
	}
}

// pruneRequest carries prune's retention-window argument.
type pruneRequest struct {
	OlderThan time.Duration `json:"older_than"`
}

// abortRequest carries abort's reason argument.
type abortRequest struct {
	Reason string `json:"reason"`
}

// replayRequest mirrors replay.Overrides, all fields optional.
type replayRequest struct {
	Method  string          `json:"method"`
	Path    string          `json:"path"`
	Headers txstore.Headers `json:"headers"`
	Body    []byte          `json:"body"`
}

// errorResponse is the uniform JSON body for any failed operation.
type errorResponse struct {
	Error string `json:"error"`
}
