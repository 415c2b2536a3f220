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

package pipeline

import (
	"bytes"
	"net/http"

	"github.com/devproxy/interceptor/txstore"
)

var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func removeHopByHopHeaders(h http.Header) {
	for _, k := range hopByHopHeaders {
		h.Del(k)
	}
}

func isWebSocketUpgrade(h http.Header) bool {
	return containsToken(h.Get("Connection"), "upgrade") &&
		equalFold(h.Get("Upgrade"), "websocket")
}

func containsToken(csv, token string) bool {
	for _, v := range splitAndTrim(csv, ',') {
		if equalFold(v, token) {
			return true
		}
	}
	return false
}

func splitAndTrim(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == sep {
			out = append(out, trimSpace(s[start:i]))
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// headersToStore converts a net/http header multimap into txstore's
// order-preserving Headers; net/http.Header itself is a map so any
// original duplicate-header ordering is already lost by the time the
// standard library parsed it; this is as faithful as ReadRequest allows.
func headersToStore(h http.Header) txstore.Headers {
	out := make(txstore.Headers, 0, len(h))
	for k, vv := range h {
		for _, v := range vv {
			out = append(out, txstore.Header{Name: k, Value: v})
		}
	}
	return out
}

func storeToHeaders(h txstore.Headers) http.Header {
	out := make(http.Header, len(h))
	for _, kv := range h {
		out.Add(kv.Name, kv.Value)
	}
	return out
}

// limitedBuffer is a writer that keeps capturing up to max bytes and
// silently discards (but still reports success for) anything beyond it,
// so a capture pass never blocks the forwarding it rides alongside.
type limitedBuffer struct {
	buf       *bytes.Buffer
	max       int64
	truncated bool
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if int64(l.buf.Len()) >= l.max {
		l.truncated = true
		return len(p), nil
	}
	remaining := l.max - int64(l.buf.Len())
	if int64(len(p)) > remaining {
		l.truncated = true
		_, _ = l.buf.Write(p[:remaining])
		return len(p), nil
	}
	return l.buf.Write(p)
}
