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

// Package txstore implements C2: a hybrid transaction store combining a
// bounded in-memory ring of metadata with a durable, append-only log and
// lazily-fetched bodies on disk.
package txstore

import (
	"time"

	liberr "github.com/devproxy/interceptor/errors"
)

// State is the lifecycle state of a Transaction (§3).
type State string

const (
	Pending      State = "pending"
	Breakpointed State = "breakpointed"
	InFlight     State = "inflight"
	Completed    State = "completed"
	Failed       State = "failed"
	Aborted      State = "aborted"
)

// Header is a single ordered, duplicate-preserving request/response header.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers preserves both order and duplicate names, unlike a map.
type Headers []Header

// Get returns the first value for name (case-sensitive), or "" if absent.
func (h Headers) Get(name string) string {
	for _, kv := range h {
		if kv.Name == name {
			return kv.Value
		}
	}
	return ""
}

// BodyRef is either inline bytes or a handle to an external blob (§3, I3:
// the ring only ever holds a BodyRef, never the bytes of a spilled body).
type BodyRef struct {
	Inline   []byte `json:"inline,omitempty"`
	Handle   string `json:"handle,omitempty"`
	Size     int64  `json:"size"`
	Truncate bool   `json:"truncated,omitempty"`
}

// IsInline reports whether the body bytes are held directly in the ref.
func (b BodyRef) IsInline() bool { return b.Handle == "" }

// Timing captures the marks named in §4.4.
type Timing struct {
	Accept           time.Time `json:"accept"`
	DNSStart         time.Time `json:"dns_start,omitempty"`
	ConnectStart     time.Time `json:"connect_start,omitempty"`
	TLSStart         time.Time `json:"tls_start,omitempty"`
	RequestSent      time.Time `json:"request_sent,omitempty"`
	FirstResponse    time.Time `json:"first_response,omitempty"`
	ResponseComplete time.Time `json:"response_complete,omitempty"`
}

// Transaction (T) is the primary unit of capture (§3).
type Transaction struct {
	ID      string    `json:"id"`
	Start   time.Time `json:"start"`
	Method  string    `json:"method"`
	Scheme  string    `json:"scheme"`
	Host    string    `json:"host"`
	Port    int       `json:"port"`
	Path    string    `json:"path"`
	ReqHead Headers   `json:"req_headers"`
	ReqBody BodyRef   `json:"req_body"`

	Status   int     `json:"status,omitempty"`
	Reason   string  `json:"reason,omitempty"`
	RespHead Headers `json:"resp_headers,omitempty"`
	RespBody BodyRef `json:"resp_body"`

	Duration   time.Duration    `json:"duration"`
	BytesIn    int64            `json:"bytes_in"`
	BytesOut   int64            `json:"bytes_out"`
	Timing     Timing           `json:"timing"`
	State      State            `json:"state"`
	FailKind   liberr.CodeError `json:"fail_kind,omitempty"`
	ParentID   string           `json:"parent_id,omitempty"`
	IsWS       bool             `json:"is_ws,omitempty"`
	Tombstoned bool             `json:"tombstoned,omitempty"`

	// seq is the monotonic insertion order, used as the ascending stable
	// tie-break named in §3's sort-field rule; it is never exposed to
	// callers directly.
	seq uint64
}

// Patch carries the subset of Transaction fields update() may overwrite
// (§4.2: response, timing, state; plus the request-side fields a
// breakpoint edit applied at the Request phase, so the stored record
// reflects what was actually sent and not just what the client asked for).
type Patch struct {
	Method   *string
	Path     *string
	ReqHead  Headers
	ReqBody  *BodyRef
	Status   *int
	Reason   *string
	RespHead Headers
	RespBody *BodyRef
	Duration *time.Duration
	BytesIn  *int64
	BytesOut *int64
	Timing   *Timing
	State    *State
	FailKind *liberr.CodeError
}

// WSMessage (W) is a single captured WebSocket frame payload, child of a
// Transaction whose IsWS flag is set (§3).
type WSMessage struct {
	ConnID    string    `json:"conn_id"`
	Direction Direction `json:"direction"`
	Opcode    Opcode    `json:"opcode"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint64    `json:"sequence"`
}

type Direction string

const (
	ClientToServer Direction = "client_to_server"
	ServerToClient Direction = "server_to_client"
)

type Opcode string

const (
	OpText   Opcode = "text"
	OpBinary Opcode = "binary"
	OpPing   Opcode = "ping"
	OpPong   Opcode = "pong"
	OpClose  Opcode = "close"
)

// BodyKind selects which side of a Transaction fetch_body resolves.
type BodyKind string

const (
	RequestBody  BodyKind = "request"
	ResponseBody BodyKind = "response"
)

// SortField is one of the §3 sort fields.
type SortField string

const (
	SortStart    SortField = "start"
	SortMethod   SortField = "method"
	SortHost     SortField = "host"
	SortPath     SortField = "path"
	SortStatus   SortField = "status"
	SortDuration SortField = "duration"
	SortSize     SortField = "size"
)

// Filter is the AND-composed predicate set from §4.2; a zero-value field
// means "no constraint on this predicate".
type Filter struct {
	Methods    []string
	HostSubstr string
	PathSubstr string
	StatusMin  int
	StatusMax  int
	After      time.Time
	Before     time.Time

	Sort       SortField
	Descending bool
}

// Matches reports whether t satisfies every predicate in f — exported so
// C5's event bus can reuse C2's exact filter semantics.
func (f Filter) Matches(t *Transaction) bool {
	return f.matches(t)
}

func (f Filter) matches(t *Transaction) bool {
	if len(f.Methods) > 0 {
		ok := false
		for _, m := range f.Methods {
			if m == t.Method {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.HostSubstr != "" && !containsFold(t.Host, f.HostSubstr) {
		return false
	}
	if f.PathSubstr != "" && !containsFold(t.Path, f.PathSubstr) {
		return false
	}
	if f.StatusMin != 0 && t.Status < f.StatusMin {
		return false
	}
	if f.StatusMax != 0 && t.Status > f.StatusMax {
		return false
	}
	if !f.After.IsZero() && t.Start.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && t.Start.After(f.Before) {
		return false
	}
	return true
}

// Page is a paginated, metadata-only query result (§4.2).
type Page struct {
	Items      []*Transaction
	TotalEstim int
}
