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

package wsrelay

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/devproxy/interceptor/eventbus"
	"github.com/devproxy/interceptor/logger"
	"github.com/devproxy/interceptor/metrics"
	"github.com/devproxy/interceptor/txstore"
)

// Recorder is where relayed frames are captured: appended to C2 as
// WSMessages and, when bus is non-nil, fanned out on C5 for live
// subscribers.
type Recorder struct {
	Store   *txstore.Store
	Bus     *eventbus.Bus
	Metrics *metrics.Registry
}

func (r *Recorder) record(connID string, dir txstore.Direction, op txstore.Opcode, payload []byte) {
	if r == nil || r.Store == nil {
		return
	}
	msg := txstore.WSMessage{
		ConnID:    connID,
		Direction: dir,
		Opcode:    op,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	seq, err := r.Store.AppendWSMessage(connID, msg)
	if err != nil {
		return
	}
	if r.Metrics != nil {
		r.Metrics.WSMessagesTotal.Inc()
	}
	if r.Bus != nil {
		msg.Sequence = seq
		r.Bus.Publish(eventbus.Event{Kind: eventbus.WSFrame, WSMessage: &msg})
	}
}

// halfConn is the half of a full-duplex connection this package needs to
// relay one direction: a byte reader paired with a byte writer to the
// peer's own socket (client reads/writes its own conn, upstream likewise).
type halfConn struct {
	r io.Reader
	w io.Writer
}

// Relay copies WebSocket frames bidirectionally between client and
// upstream until either side closes or ctx is cancelled, recording every
// frame's decoded payload via rec (§4.4 WS_RELAY stage). Fragmented
// text/binary frames are forwarded frame-by-frame immediately but
// reassembled into a single recorded message on the terminating FIN
// frame, per the reassembly note in §3.
func Relay(ctx context.Context, connID string, client, upstream io.ReadWriter, rec *Recorder, log logger.Logger) error {
	log = logger.Component(log, "wsrelay", "relay")

	errCh := make(chan error, 2)
	var once sync.Once
	stop := make(chan struct{})
	stopOnce := func() { once.Do(func() { close(stop) }) }

	go func() {
		errCh <- pump(halfConn{r: client, w: client}, halfConn{r: upstream, w: upstream}, connID, txstore.ClientToServer, rec, stop)
		stopOnce()
	}()
	go func() {
		errCh <- pump(halfConn{r: upstream, w: upstream}, halfConn{r: client, w: client}, connID, txstore.ServerToClient, rec, stop)
		stopOnce()
	}()

	var first error
	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			if first == nil {
				first = err
			}
		case <-ctx.Done():
			stopOnce()
			if first == nil {
				first = ctx.Err()
			}
		}
	}
	log.Debug("websocket relay finished")
	return first
}

// pump reads frames from src.r, forwards each verbatim to dst.w, records
// the decoded payload of completed messages against connID/dir, and
// returns when a close frame is relayed, stop is closed by the peer pump,
// or a read/write error occurs.
func pump(src, dst halfConn, connID string, dir txstore.Direction, rec *Recorder, stop <-chan struct{}) error {
	var reassembly []byte
	var reassemblyOp opcode

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		f, err := readFrame(src.r)
		if err != nil {
			return err
		}

		if isControl(f.opcode) {
			rec.record(connID, dir, opcodeToTxstore(f.opcode), f.decodedPayload())
			if err := writeFrame(dst.w, f); err != nil {
				return err
			}
			if f.opcode == opClose {
				return nil
			}
			continue
		}

		if f.opcode != opContinuation {
			reassemblyOp = f.opcode
			reassembly = reassembly[:0]
		}
		reassembly = append(reassembly, f.decodedPayload()...)

		if f.fin {
			rec.record(connID, dir, opcodeToTxstore(reassemblyOp), reassembly)
			reassembly = nil
		}

		if err := writeFrame(dst.w, f); err != nil {
			return err
		}
	}
}
