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
	"crypto/tls"
	"net"
	"net/http"
	"time"

	liberr "github.com/devproxy/interceptor/errors"
	"github.com/devproxy/interceptor/eventbus"
	"github.com/devproxy/interceptor/kind"
	"github.com/devproxy/interceptor/txstore"
)

// handleConnect implements TUNNEL_SETUP: answer 200, perform the inner
// TLS handshake minting a leaf for the requested authority via C1, and
// re-enter PARSE_REQUEST over the decrypted stream (§4.4).
func (p *Pipeline) handleConnect(ctx context.Context, conn net.Conn, req *http.Request) {
	host, port := splitHostPort(req.Host, 443)

	t := &txstore.Transaction{
		ID:     newID(),
		Start:  time.Now(),
		Method: http.MethodConnect,
		Scheme: "https",
		Host:   host,
		Port:   port,
		State:  txstore.InFlight,
		Timing: txstore.Timing{Accept: time.Now()},
	}
	if p.store != nil {
		_ = p.store.Insert(t)
	}
	p.publish(eventbus.Inserted, t)

	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		p.failTransaction(t, kind.Timeout, err)
		return
	}

	tlsConfig := &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
	if p.ca != nil {
		tlsConfig.GetCertificate = p.ca.GetCertificate
	}

	_ = conn.SetDeadline(time.Now().Add(p.timeouts.Handshake))
	tlsConn := tls.Server(conn, tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		p.failTransaction(t, kind.TlsHandshake, err)
		return
	}
	_ = conn.SetDeadline(time.Time{})

	t.State = txstore.Completed
	t.Duration = time.Since(t.Start)
	if p.store != nil {
		state := txstore.Completed
		_ = p.store.Update(t.ID, txstore.Patch{State: &state})
	}
	p.publish(eventbus.Updated, t)

	p.serveConn(ctx, tlsConn, connState{scheme: "https", host: host, port: port})
}

// failTransaction records t as Failed with kind k and cause, in both the
// in-memory copy and the store, then republishes it (§7 error propagation).
func (p *Pipeline) failTransaction(t *txstore.Transaction, k liberr.CodeError, cause error) {
	t.State = txstore.Failed
	t.FailKind = k
	t.Duration = time.Since(t.Start)
	if cause != nil {
		t.Reason = cause.Error()
	}
	if p.store != nil {
		state := txstore.Failed
		fk := k
		reason := t.Reason
		_ = p.store.Update(t.ID, txstore.Patch{State: &state, FailKind: &fk, Reason: &reason})
	}
	p.publish(eventbus.Updated, t)
}

// updateState moves t to state, in both the in-memory copy and the store,
// then republishes it.
func (p *Pipeline) updateState(t *txstore.Transaction, state txstore.State) {
	t.State = state
	if p.store != nil {
		_ = p.store.Update(t.ID, txstore.Patch{State: &state})
	}
	p.publish(eventbus.Updated, t)
}

// abortTransaction records t as Aborted with reason, in both the in-memory
// copy and the store, then republishes it.
func (p *Pipeline) abortTransaction(t *txstore.Transaction, reason string) {
	t.Reason = reason
	t.Duration = time.Since(t.Start)
	if p.store != nil {
		_ = p.store.Update(t.ID, txstore.Patch{Reason: &reason})
	}
	p.updateState(t, txstore.Aborted)
}
