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
	"strconv"

	"github.com/gin-gonic/gin"

	liberr "github.com/devproxy/interceptor/errors"
	"github.com/devproxy/interceptor/har"
	"github.com/devproxy/interceptor/kind"
	"github.com/devproxy/interceptor/replay"
	"github.com/devproxy/interceptor/txstore"
)

func fail(c *gin.Context, status int, err liberr.Error) {
	c.JSON(status, errorResponse{Error: err.Error()})
}

func statusForCode(code liberr.CodeError) int {
	switch code {
	case kind.NotFound:
		return http.StatusNotFound
	case kind.Unauthorized:
		return http.StatusUnauthorized
	case kind.BadRequest, kind.InvalidEdit:
		return http.StatusBadRequest
	case kind.Timeout, kind.Cancelled:
		return http.StatusGatewayTimeout
	case kind.StorageBusy, kind.StorageFull, kind.StorageIO:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func failErr(c *gin.Context, err liberr.Error) {
	fail(c, statusForCode(err.GetCode()), err)
}

// handleStart implements start(): bring the proxy listener up.
func (s *Server) handleStart(c *gin.Context) {
	if s.proxy == nil {
		c.JSON(http.StatusOK, gin.H{"status": "externally managed"})
		return
	}
	if err := s.proxy.Start(context.WithoutCancel(c.Request.Context())); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

// handleStop implements stop().
func (s *Server) handleStop(c *gin.Context) {
	if s.proxy == nil {
		c.JSON(http.StatusOK, gin.H{"status": "externally managed"})
		return
	}
	if err := s.proxy.Stop(); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// handleQuery implements query(filter, page, size).
func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, kind.BadRequest.Error(liberr.Make(err)))
		return
	}
	page, size := req.Page, req.Size
	if size <= 0 {
		size = 50
	}

	result, err := s.store.Query(req.filter(), page, size)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleFetchBody implements fetch_body(id, side).
func (s *Server) handleFetchBody(c *gin.Context) {
	id := c.Param("id")
	side := txstore.RequestBody
	if c.Query("side") == "response" {
		side = txstore.ResponseBody
	}

	body, err := s.store.FetchBody(id, side)
	if err != nil {
		failErr(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", body)
}

// handleAddRule implements add_rule(rule).
func (s *Server) handleAddRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, kind.BadRequest.Error(liberr.Make(err)))
		return
	}
	rule := req.rule()
	if rule.Timeout <= 0 {
		rule.Timeout = s.defaultRuleTimeout
	}
	id := s.breakpoint.Add(rule)
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// handleRemoveRule implements remove_rule(id).
func (s *Server) handleRemoveRule(c *gin.Context) {
	if err := s.breakpoint.Remove(c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleListRules implements list_rules().
func (s *Server) handleListRules(c *gin.Context) {
	c.JSON(http.StatusOK, s.breakpoint.List())
}

// handleResume implements resume(id, edit).
func (s *Server) handleResume(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, kind.BadRequest.Error(liberr.Make(err)))
		return
	}
	if err := s.breakpoint.Resume(c.Param("id"), req.edit()); err != nil {
		failErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleAbort implements abort(id, reason).
func (s *Server) handleAbort(c *gin.Context) {
	var req abortRequest
	_ = c.ShouldBindJSON(&req)
	if err := s.breakpoint.Abort(c.Param("id"), req.Reason); err != nil {
		failErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleReplay implements replay(id, overrides?).
func (s *Server) handleReplay(c *gin.Context) {
	if s.replay == nil {
		fail(c, http.StatusServiceUnavailable, kind.BadRequest.Error())
		return
	}
	var req replayRequest
	_ = c.ShouldBindJSON(&req)

	var overrides *replay.Overrides
	if req.Method != "" || req.Path != "" || req.Headers != nil || req.Body != nil {
		overrides = &replay.Overrides{Method: req.Method, Path: req.Path, Headers: req.Headers, Body: req.Body}
	}

	child, err := s.replay.Replay(c.Request.Context(), c.Param("id"), overrides)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, child)
}

// handleClear implements clear().
func (s *Server) handleClear(c *gin.Context) {
	if err := s.store.Clear(); err != nil {
		failErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handlePrune implements prune(older_than): tombstones every transaction
// whose start time predates now minus the given duration.
func (s *Server) handlePrune(c *gin.Context) {
	var req pruneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, kind.BadRequest.Error(liberr.Make(err)))
		return
	}
	if err := s.store.Prune(req.OlderThan); err != nil {
		failErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleExportHAR implements export_har(filter?).
func (s *Server) handleExportHAR(c *gin.Context) {
	var req queryRequest
	_ = c.ShouldBindJSON(&req)
	size := req.Size
	if size <= 0 {
		size = 10000
	}

	page, err := s.store.Query(req.filter(), 0, size)
	if err != nil {
		failErr(c, err)
		return
	}

	limit := int64(0)
	if l, lerr := strconv.ParseInt(c.Query("body_limit"), 10, 64); lerr == nil {
		limit = l
	}

	doc, herr := har.Export(s.store, page.Items, limit)
	if herr != nil {
		failErr(c, herr)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// handleImportHAR implements import_har(document).
func (s *Server) handleImportHAR(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, kind.BadRequest.Error(liberr.Make(err)))
		return
	}

	imported, ierr := har.Import(body)
	if ierr != nil {
		fail(c, http.StatusBadRequest, kind.BadRequest.Error(liberr.Make(ierr)))
		return
	}

	for _, entry := range imported {
		if len(entry.ReqBody) > 0 {
			ref, serr := s.store.SpillBody(entry.ReqBody)
			if serr != nil {
				failErr(c, serr)
				return
			}
			entry.Txn.ReqBody = ref
		}
		if len(entry.RespBody) > 0 {
			ref, serr := s.store.SpillBody(entry.RespBody)
			if serr != nil {
				failErr(c, serr)
				return
			}
			entry.Txn.RespBody = ref
		}
		if err := s.store.Insert(entry.Txn); err != nil {
			failErr(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"imported": len(imported)})
}

// handleListWSConnections implements list_ws_connections(): every
// transaction flagged IsWS is itself a WebSocket connection, keyed by its
// own transaction ID (pipeline passes t.ID as wsrelay's connID).
func (s *Server) handleListWSConnections(c *gin.Context) {
	page, err := s.store.Query(txstore.Filter{}, 0, 10000)
	if err != nil {
		failErr(c, err)
		return
	}
	conns := make([]*txstore.Transaction, 0, len(page.Items))
	for _, t := range page.Items {
		if t.IsWS {
			conns = append(conns, t)
		}
	}
	c.JSON(http.StatusOK, conns)
}

// handleListWSMessages implements list_ws_connections's companion,
// list_ws_messages(conn_id, offset, limit).
func (s *Server) handleListWSMessages(c *gin.Context) {
	offset, _ := strconv.Atoi(c.Query("offset"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 {
		limit = 200
	}

	msgs, err := s.store.FetchWSMessages(c.Param("id"), offset, limit)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}
