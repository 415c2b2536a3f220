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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
)

// NewRouter assembles the gin.Engine exposing every C7 operation behind
// the bearer-auth middleware. Transport framing (HTTP verbs, JSON bodies,
// SSE for subscribe) is this package's own choice — the operations
// themselves are what §4.7 actually requires.
func (s *Server) NewRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	// /metrics is scraped by Prometheus, which doesn't carry the bearer
	// token, so it sits outside the auth middleware like every other
	// component's exposition endpoint in this stack.
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(s.bearerAuth())

	r.POST("/v1/start", s.handleStart)
	r.POST("/v1/stop", s.handleStop)
	r.POST("/v1/query", s.handleQuery)
	r.GET("/v1/subscribe", s.handleSubscribe)
	r.GET("/v1/transactions/:id/body", s.handleFetchBody)
	r.POST("/v1/rules", s.handleAddRule)
	r.DELETE("/v1/rules/:id", s.handleRemoveRule)
	r.GET("/v1/rules", s.handleListRules)
	r.POST("/v1/transactions/:id/resume", s.handleResume)
	r.POST("/v1/transactions/:id/abort", s.handleAbort)
	r.POST("/v1/transactions/:id/replay", s.handleReplay)
	r.POST("/v1/clear", s.handleClear)
	r.POST("/v1/prune", s.handlePrune)
	r.GET("/v1/har", s.handleExportHAR)
	r.POST("/v1/har", s.handleImportHAR)
	r.GET("/v1/ws/connections", s.handleListWSConnections)
	r.GET("/v1/ws/connections/:id/messages", s.handleListWSMessages)

	return r
}

// Run starts an http.Server over the router bound to addr, shutting down
// gracefully when ctx is cancelled — the same lifecycle shape the proxy's
// own accept loop follows, applied here to the control surface's listener.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.NewRouter()}
	if err := http2.ConfigureServer(srv, &http2.Server{}); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
