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
	"context"
	"errors"
	"net"
)

// Serve accepts connections off ln until ctx is cancelled or the listener
// closes, bounding concurrent connections at MaxConnections and running
// each one's PARSE_REQUEST loop in its own goroutine (§5, single
// cooperative task executor: one goroutine per connection, not per
// request).
func (p *Pipeline) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if p.log != nil {
				p.log.Error("accept failed: ", err)
			}
			continue
		}

		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			_ = conn.Close()
			return nil
		}

		if p.metrics != nil {
			p.metrics.ConnectionsActive.Inc()
			p.metrics.ConnectionsTotal.Inc()
		}

		go func(c net.Conn) {
			defer func() {
				<-p.sem
				if p.metrics != nil {
					p.metrics.ConnectionsActive.Dec()
				}
			}()
			p.serveConn(ctx, c, connState{scheme: "http"})
		}(conn)
	}
}
