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

package replay

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	liberr "github.com/devproxy/interceptor/errors"
	"github.com/devproxy/interceptor/eventbus"
	"github.com/devproxy/interceptor/kind"
	"github.com/devproxy/interceptor/txstore"
)

// Replay clones id's stored request, applying overrides if given, issues
// it outbound directly against the original upstream (bypassing C3
// entirely), and records the outcome as a new Transaction whose ParentID
// is id (§4.6). A failure dialing or talking to upstream is recorded on
// the returned transaction as Failed with a FORWARD-equivalent kind; only
// a failure to look up id itself or its stored request body, or to
// persist the new record, is returned as an error.
func (e *Engine) Replay(ctx context.Context, id string, overrides *Overrides) (*txstore.Transaction, liberr.Error) {
	orig, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}

	reqBody, err := e.store.FetchBody(id, txstore.RequestBody)
	if err != nil {
		return nil, err
	}

	method := orig.Method
	path := orig.Path
	headers := orig.ReqHead
	body := reqBody
	if overrides != nil {
		if overrides.Method != "" {
			method = overrides.Method
		}
		if overrides.Path != "" {
			path = overrides.Path
		}
		if overrides.Headers != nil {
			headers = overrides.Headers
		}
		if overrides.Body != nil {
			body = overrides.Body
		}
	}

	t := &txstore.Transaction{
		ID:       uuid.NewString(),
		Start:    time.Now(),
		Method:   method,
		Scheme:   orig.Scheme,
		Host:     orig.Host,
		Port:     orig.Port,
		Path:     path,
		ReqHead:  headers,
		ReqBody:  e.spillBody(body),
		ParentID: id,
		State:    txstore.Pending,
		Timing:   txstore.Timing{Accept: time.Now()},
	}
	if e.store != nil {
		if ierr := e.store.Insert(t); ierr != nil {
			return nil, ierr
		}
	}
	e.publish(eventbus.Inserted, t)

	if e.metrics != nil {
		e.metrics.ReplaysTotal.Inc()
	}

	e.issue(ctx, t, method, path, headers, body)
	return t, nil
}

// issue performs the actual dial/write/read sequence and records the
// result on t, mirroring pipeline's FORWARD stage minus any breakpoint
// consultation — replay is defined to bypass the intercept path.
func (e *Engine) issue(ctx context.Context, t *txstore.Transaction, method, path string, headers txstore.Headers, body []byte) {
	reqURL, perr := url.Parse(path)
	if perr != nil {
		reqURL = &url.URL{Path: path}
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.connectTimeout)
	defer cancel()

	t.Timing.ConnectStart = time.Now()
	addr := net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
	var dialer net.Dialer
	raw, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		e.fail(t, kind.UpstreamUnreachable, err)
		return
	}
	defer raw.Close()

	upstream := net.Conn(raw)
	if t.Scheme == "https" {
		t.Timing.TLSStart = time.Now()
		tlsConn := tls.Client(raw, &tls.Config{ServerName: t.Host})
		if herr := tlsConn.HandshakeContext(dialCtx); herr != nil {
			e.fail(t, kind.TlsHandshake, herr)
			return
		}
		upstream = tlsConn
	}

	outReq := &http.Request{
		Method:        method,
		URL:           reqURL,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        headersToHTTP(headers),
		Host:          t.Host,
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(bytes.NewReader(body)),
	}
	removeHopByHopHeaders(outReq.Header)

	if werr := outReq.Write(upstream); werr != nil {
		e.fail(t, kind.UpstreamUnreachable, werr)
		return
	}
	t.Timing.RequestSent = time.Now()
	t.BytesIn = int64(len(body))

	_ = upstream.SetReadDeadline(time.Now().Add(e.headerTimeout))
	resp, rerr := http.ReadResponse(bufio.NewReader(upstream), outReq)
	if rerr != nil {
		e.fail(t, kind.UpstreamProtocol, rerr)
		return
	}
	_ = upstream.SetReadDeadline(time.Time{})
	t.Timing.FirstResponse = time.Now()

	var respBuf bytes.Buffer
	_, _ = io.Copy(&respBuf, io.LimitReader(resp.Body, e.maxBufferedBytes))
	resp.Body.Close()

	t.Status = resp.StatusCode
	t.Reason = resp.Status
	t.RespHead = headersFromHTTP(resp.Header)
	t.RespBody = e.spillBody(respBuf.Bytes())
	t.BytesOut = int64(respBuf.Len())
	t.Duration = time.Since(t.Start)
	t.Timing.ResponseComplete = time.Now()
	t.State = txstore.Completed

	if e.store != nil {
		state, status, reason, respHead, respBody := t.State, t.Status, t.Reason, t.RespHead, t.RespBody
		bytesOut, dur, tm := t.BytesOut, t.Duration, t.Timing
		_ = e.store.Update(t.ID, txstore.Patch{
			State: &state, Status: &status, Reason: &reason,
			RespHead: respHead, RespBody: &respBody,
			BytesOut: &bytesOut, Duration: &dur, Timing: &tm,
		})
	}
	e.publish(eventbus.Updated, t)
}

func (e *Engine) fail(t *txstore.Transaction, k liberr.CodeError, cause error) {
	t.State = txstore.Failed
	t.FailKind = k
	t.Duration = time.Since(t.Start)
	if cause != nil {
		t.Reason = cause.Error()
	}
	if e.store != nil {
		state := txstore.Failed
		fk := k
		reason := t.Reason
		dur := t.Duration
		_ = e.store.Update(t.ID, txstore.Patch{State: &state, FailKind: &fk, Reason: &reason, Duration: &dur})
	}
	e.publish(eventbus.Updated, t)
}
