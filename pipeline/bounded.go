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
	"bufio"
	"errors"
	"io"
	"net/http"
)

var errHeaderTooLarge = errors.New("pipeline: request line and headers exceeded the configured limit")

// boundedReader caps the bytes delivered before lift is called, then
// passes every subsequent Read straight through. http.ReadRequest only
// ever reads what it needs to parse the request line and headers (plus
// whatever bufio.Reader over-reads into its own buffer), so capping
// reads up to the point ReadRequest returns bounds header size without
// limiting the body that follows (§4.4 PARSE_REQUEST, 64 KiB default).
type boundedReader struct {
	r     io.Reader
	max   int64
	n     int64
	freed bool
}

func (b *boundedReader) Read(p []byte) (int, error) {
	if b.freed {
		return b.r.Read(p)
	}
	if b.n >= b.max {
		return 0, errHeaderTooLarge
	}
	if remaining := b.max - b.n; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := b.r.Read(p)
	b.n += int64(n)
	return n, err
}

// lift disables the byte cap for all reads from here on.
func (b *boundedReader) lift() { b.freed = true }

// readBoundedRequest parses one HTTP request from conn, enforcing maxHeader
// on the request line and header block only. The *bufio.Reader passed in
// must be reused for any further requests pipelined on the same
// connection, since it may already hold read-ahead bytes.
func readBoundedRequest(br *bufio.Reader, bounded *boundedReader, maxHeader int64) (*http.Request, error) {
	bounded.max = maxHeader
	bounded.n = 0
	bounded.freed = false

	req, err := http.ReadRequest(br)
	bounded.lift()
	if err != nil {
		if err == errHeaderTooLarge {
			return nil, errHeaderTooLarge
		}
		return nil, err
	}
	return req, nil
}
