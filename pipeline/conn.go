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
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// connState threads the information PARSE_REQUEST needs across a CONNECT
// tunnel's re-entry: once TUNNEL_SETUP completes, the inner plaintext
// loop already knows it is https and which authority it tunnels to,
// since a single CONNECT pins one upstream host for its whole tunnel.
type connState struct {
	scheme string
	host   string
	port   int
}

// serveConn runs PARSE_REQUEST in a loop over conn: one pass per pipelined
// request, re-entered recursively by TUNNEL_SETUP over the freshly
// wrapped TLS connection (§4.4 state diagram).
func (p *Pipeline) serveConn(ctx context.Context, conn net.Conn, state connState) {
	defer conn.Close()

	bounded := &boundedReader{r: conn}
	br := bufio.NewReader(bounded)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(p.timeouts.ClientIdle))
		req, err := readBoundedRequest(br, bounded, p.maxHeaderBytes)
		if err != nil {
			if err == errHeaderTooLarge {
				writeSimpleError(conn, http.StatusBadRequest, "Bad Request")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Time{})

		if req.Method == http.MethodConnect {
			if state.scheme == "https" {
				writeSimpleError(conn, http.StatusBadRequest, "Bad Request")
				return
			}
			p.handleConnect(ctx, conn, req)
			return
		}

		upgraded := p.handleForward(ctx, conn, br, req, state)
		if upgraded {
			return
		}
	}
}

func writeSimpleError(w io.Writer, status int, message string) {
	body := message + "\n"
	_, _ = w.Write([]byte(
		"HTTP/1.1 " + strconv.Itoa(status) + " " + http.StatusText(status) + "\r\n" +
			"Content-Type: text/plain\r\n" +
			"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
			"Connection: close\r\n\r\n" + body))
}

// splitHostPort returns host and port from authority, applying
// defaultPort when authority carries none.
func splitHostPort(authority string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(authority)
	if err != nil {
		return authority, defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = defaultPort
	}
	return host, port
}

func requestHostPort(r *http.Request, state connState) (string, int) {
	if state.scheme == "https" {
		return state.host, state.port
	}
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	if !strings.Contains(host, ":") {
		return host, 80
	}
	return splitHostPort(host, 80)
}

func requestPath(r *http.Request) string {
	if r.URL.RawQuery != "" {
		return r.URL.Path + "?" + r.URL.RawQuery
	}
	return r.URL.Path
}
