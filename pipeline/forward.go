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
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/devproxy/interceptor/breakpoint"
	liberr "github.com/devproxy/interceptor/errors"
	"github.com/devproxy/interceptor/eventbus"
	"github.com/devproxy/interceptor/kind"
	"github.com/devproxy/interceptor/txstore"
	"github.com/devproxy/interceptor/wsrelay"
)

// handleForward implements FORWARD, the response path, and the handoff
// into WS_RELAY (§4.4). It returns true when the connection has been
// handed to a WebSocket relay (the caller's read loop must stop), false
// when the caller should parse another pipelined request off the same
// connection.
func (p *Pipeline) handleForward(ctx context.Context, conn net.Conn, br *bufio.Reader, req *http.Request, state connState) bool {
	// txCtx bounds the transaction's entire wall-clock lifetime (§4.4):
	// every blocking wait below, including WS_RELAY, derives from it so a
	// peer trickling bytes just inside its per-stage deadlines can't hold
	// the transaction open past p.timeouts.Transaction.
	txCtx, cancel := context.WithTimeout(ctx, p.timeouts.Transaction)
	defer cancel()
	deadline, _ := txCtx.Deadline()
	_ = conn.SetDeadline(deadline)

	host, port := requestHostPort(req, state)
	path := requestPath(req)
	scheme := "http"
	if state.scheme == "https" {
		scheme = "https"
	}

	reqBody, _, _ := readBounded(req.Body, p.maxBufferedBytes)

	reqBodyRef := p.spillBody(reqBody)
	t := &txstore.Transaction{
		ID:      newID(),
		Start:   time.Now(),
		Method:  req.Method,
		Scheme:  scheme,
		Host:    host,
		Port:    port,
		Path:    path,
		ReqHead: headersToStore(req.Header),
		ReqBody: reqBodyRef,
		State:   txstore.Pending,
		Timing:  txstore.Timing{Accept: time.Now()},
	}
	if p.store != nil {
		_ = p.store.Insert(t)
	}
	p.publish(eventbus.Inserted, t)

	view := breakpoint.RequestView{Method: t.Method, Host: t.Host, Path: t.Path}

	if aborted := p.consultBreakpoint(txCtx, t, view, breakpoint.Request, func(e *breakpoint.Edit) {
		if e.Method != "" {
			req.Method = e.Method
		}
		if e.Path != "" {
			if u, err := url.Parse(e.Path); err == nil {
				req.URL.Path = u.Path
				req.URL.RawQuery = u.RawQuery
			}
		}
		if e.Headers != nil {
			req.Header = storeToHeaders(e.Headers)
		}
		if e.Body != nil {
			reqBody = e.Body
		}

		path = requestPath(req)
		newRef := p.spillBody(reqBody)
		m, pth, rh := req.Method, path, headersToStore(req.Header)
		if p.store != nil {
			_ = p.store.Update(t.ID, txstore.Patch{Method: &m, Path: &pth, ReqHead: rh, ReqBody: &newRef})
		}
		t.Method, t.Path, t.ReqHead, t.ReqBody = m, pth, rh, newRef
	}); aborted {
		writeSimpleError(conn, http.StatusBadGateway, "Bad Gateway")
		return false
	}

	dialCtx, dialCancel := context.WithTimeout(txCtx, p.timeouts.UpstreamConnect)
	defer dialCancel()

	t.Timing.DNSStart = time.Now()
	t.Timing.ConnectStart = time.Now()
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var dialer net.Dialer
	raw, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		p.failTransaction(t, p.failKind(err, kind.UpstreamUnreachable), err)
		writeSimpleError(conn, http.StatusBadGateway, "Bad Gateway")
		return false
	}
	defer raw.Close()
	_ = raw.SetDeadline(deadline)

	var upstream net.Conn = raw
	if scheme == "https" {
		t.Timing.TLSStart = time.Now()
		tlsConn := tls.Client(raw, &tls.Config{ServerName: host, NextProtos: []string{"http/1.1"}})
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			p.failTransaction(t, p.failKind(err, kind.TlsHandshake), err)
			writeSimpleError(conn, http.StatusBadGateway, "Bad Gateway")
			return false
		}
		upstream = tlsConn
	}

	outReq := &http.Request{
		Method:        req.Method,
		URL:           &url.URL{Path: req.URL.Path, RawQuery: req.URL.RawQuery},
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Host:          host,
		ContentLength: int64(len(reqBody)),
		Body:          io.NopCloser(bytes.NewReader(reqBody)),
	}
	copyHeaders(outReq.Header, req.Header)
	removeHopByHopHeaders(outReq.Header)
	if isWebSocketUpgrade(req.Header) {
		outReq.Header.Set("Connection", "Upgrade")
		outReq.Header.Set("Upgrade", "websocket")
	}

	if err := outReq.Write(upstream); err != nil {
		p.failTransaction(t, p.failKind(err, kind.UpstreamUnreachable), err)
		writeSimpleError(conn, http.StatusBadGateway, "Bad Gateway")
		return false
	}
	t.Timing.RequestSent = time.Now()
	t.BytesIn = int64(len(reqBody))

	_ = upstream.SetReadDeadline(earlierOf(deadline, time.Now().Add(p.timeouts.UpstreamHeaders)))
	upstreamReader := bufio.NewReader(upstream)
	resp, err := http.ReadResponse(upstreamReader, outReq)
	if err != nil {
		p.failTransaction(t, p.failKind(err, kind.UpstreamProtocol), err)
		writeSimpleError(conn, http.StatusBadGateway, "Bad Gateway")
		return false
	}
	// Reading the body is bounded by the transaction deadline, not left
	// unbounded, so a slow upstream trickling bytes can't hold the
	// transaction open past p.timeouts.Transaction.
	_ = upstream.SetReadDeadline(deadline)
	t.Timing.FirstResponse = time.Now()

	status := resp.StatusCode
	reasonText := http.StatusText(status)
	respHeaders := resp.Header

	upgraded := isWebSocketUpgrade(req.Header) && status == http.StatusSwitchingProtocols

	var respBody []byte
	if !upgraded {
		var bodyErr error
		respBody, _, bodyErr = readBounded(resp.Body, p.maxBufferedBytes)
		if bodyErr != nil {
			resp.Body.Close()
			p.failTransaction(t, p.failKind(bodyErr, kind.UpstreamProtocol), bodyErr)
			writeSimpleError(conn, http.StatusBadGateway, "Bad Gateway")
			return false
		}
	}
	resp.Body.Close()

	responseView := breakpoint.RequestView{Method: t.Method, Host: t.Host, Path: t.Path}
	p.consultBreakpoint(txCtx, t, responseView, breakpoint.Response, func(e *breakpoint.Edit) {
		if e.Status != 0 {
			status = e.Status
		}
		if e.Reason != "" {
			reasonText = e.Reason
		}
		if e.Headers != nil {
			respHeaders = storeToHeaders(e.Headers)
		}
		if e.Body != nil {
			respBody = e.Body
		}
	})

	var headerBuf bytes.Buffer
	fmt.Fprintf(&headerBuf, "HTTP/1.1 %d %s\r\n", status, reasonText)
	if !upgraded {
		removeHopByHopHeaders(respHeaders)
		respHeaders.Set("Content-Length", strconv.Itoa(len(respBody)))
	}
	_ = respHeaders.Write(&headerBuf)
	headerBuf.WriteString("\r\n")

	if _, err := conn.Write(headerBuf.Bytes()); err != nil {
		p.failTransaction(t, p.failKind(err, kind.Timeout), err)
		return false
	}
	if !upgraded {
		if _, err := conn.Write(respBody); err != nil {
			p.failTransaction(t, p.failKind(err, kind.Timeout), err)
			return false
		}
	}

	t.Status = status
	t.Reason = reasonText
	t.RespHead = headersToStore(respHeaders)
	t.BytesOut = int64(len(respBody))
	t.Duration = time.Since(t.Start)
	t.Timing.ResponseComplete = time.Now()
	t.IsWS = upgraded

	respRef := p.spillBody(respBody)
	t.RespBody = respRef

	finalState := txstore.Completed
	if upgraded {
		finalState = txstore.InFlight
	}
	t.State = finalState
	if p.store != nil {
		st, status2, reason2, bytesOut, dur, tm := finalState, t.Status, t.Reason, t.BytesOut, t.Duration, t.Timing
		_ = p.store.Update(t.ID, txstore.Patch{
			State: &st, Status: &status2, Reason: &reason2,
			RespHead: t.RespHead, RespBody: &respRef,
			BytesOut: &bytesOut, Duration: &dur, Timing: &tm,
		})
	}
	p.publish(eventbus.Updated, t)

	if !upgraded {
		return false
	}

	client := &connAdapter{r: br, w: conn}
	up := &connAdapter{r: upstreamReader, w: upstream}
	relayErr := wsrelay.Relay(txCtx, t.ID, client, up, p.recorder, p.log)

	if relayErr != nil && relayErr != io.EOF {
		t.State = txstore.Failed
		t.FailKind = p.failKind(relayErr, kind.UpstreamProtocol)
	} else {
		t.State = txstore.Completed
	}
	t.Duration = time.Since(t.Start)
	if p.store != nil {
		st, dur, fkv := t.State, t.Duration, t.FailKind
		_ = p.store.Update(t.ID, txstore.Patch{State: &st, Duration: &dur, FailKind: &fkv})
	}
	p.publish(eventbus.Updated, t)

	return true
}

// connAdapter exposes a bufio.Reader (which may already hold read-ahead
// bytes from header parsing) and a net.Conn's writer as a single
// io.ReadWriter, so WS_RELAY never loses bytes the HTTP parser buffered.
type connAdapter struct {
	r io.Reader
	w io.Writer
}

func (c *connAdapter) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *connAdapter) Write(p []byte) (int, error) { return c.w.Write(p) }

// earlierOf returns whichever of a, b occurs first.
func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// failKind reports kind.Timeout when err stems from a deadline or context
// cancellation, so a failure caused by the transaction's total timeout is
// never misreported under a stage-specific kind such as UpstreamUnreachable.
func (p *Pipeline) failKind(err error, fallback liberr.CodeError) liberr.CodeError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return kind.Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return kind.Timeout
	}
	return fallback
}

func readBounded(r io.Reader, max int64) ([]byte, bool, error) {
	if r == nil {
		return nil, false, nil
	}
	var buf bytes.Buffer
	lim := &limitedBuffer{buf: &buf, max: max}
	_, err := io.Copy(lim, r)
	return buf.Bytes(), lim.truncated, err
}

func (p *Pipeline) spillBody(raw []byte) txstore.BodyRef {
	if p.store == nil {
		return txstore.BodyRef{Inline: raw, Size: int64(len(raw))}
	}
	ref, err := p.store.SpillBody(raw)
	if err != nil {
		return txstore.BodyRef{Inline: raw, Size: int64(len(raw))}
	}
	return ref
}

// consultBreakpoint matches view against the rule set and, on a match,
// suspends t for phase and applies the resolution: edits run through
// apply, aborts record t as Aborted and report true so the caller can
// short-circuit the wire response.
func (p *Pipeline) consultBreakpoint(ctx context.Context, t *txstore.Transaction, view breakpoint.RequestView, phase breakpoint.Phase, apply func(*breakpoint.Edit)) bool {
	if p.breakpoint == nil {
		return false
	}
	rule, ok := p.breakpoint.Match(view)
	if !ok {
		return false
	}

	p.updateState(t, txstore.Breakpointed)
	res := p.breakpoint.Suspend(ctx, t.ID, phase, rule)

	if res.Aborted {
		p.abortTransaction(t, res.Reason)
		return true
	}
	if res.Edited != nil {
		apply(res.Edited)
	}
	p.updateState(t, txstore.InFlight)
	return false
}
