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
	"context"
	"net"
	"sync"

	liberr "github.com/devproxy/interceptor/errors"
	"github.com/devproxy/interceptor/kind"
	"github.com/devproxy/interceptor/logger"
	"github.com/devproxy/interceptor/pipeline"
)

// ProxyController wraps the C4 accept loop behind start()/stop(), so the
// control surface can bring the intercepting listener up or down without
// the caller needing its own supervisory goroutine.
type ProxyController struct {
	mu sync.Mutex

	pipeline *pipeline.Pipeline
	addr     string
	log      logger.Logger

	cancel  context.CancelFunc
	ln      net.Listener
	running bool
}

// NewProxyController builds a controller over pipe, binding addr on Start.
func NewProxyController(pipe *pipeline.Pipeline, addr string, log logger.Logger) *ProxyController {
	return &ProxyController{
		pipeline: pipe,
		addr:     addr,
		log:      logger.Component(log, "control", "proxy-lifecycle"),
	}
}

// Start binds the listener and runs the accept loop in the background.
// Calling Start while already running returns a BadRequest error.
func (c *ProxyController) Start(ctx context.Context) liberr.Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return kind.BadRequest.Error()
	}

	ln, err := net.Listen("tcp", c.addr)
	if err != nil {
		return kind.UpstreamUnreachable.Error(liberr.Make(err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.ln = ln
	c.cancel = cancel
	c.running = true

	go func() {
		if serr := c.pipeline.Serve(runCtx, ln); serr != nil {
			c.log.Error("accept loop stopped: ", serr)
		}
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	return nil
}

// Stop cancels the accept loop and waits for nothing — Serve closes its
// own listener on context cancellation.
func (c *ProxyController) Stop() liberr.Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return kind.BadRequest.Error()
	}
	c.cancel()
	c.running = false
	return nil
}

// Running reports whether the accept loop is currently active.
func (c *ProxyController) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
