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

// Package wsrelay implements the WS_RELAY stage of C4: a byte-level
// RFC 6455 frame reader/writer used to copy frames between client and
// upstream while recording decoded payloads, since the proxy needs both
// the exact wire bytes forwarded and the plaintext payload captured.
package wsrelay

import (
	"encoding/binary"
	"io"

	"github.com/devproxy/interceptor/txstore"
)

type opcode byte

const (
	opContinuation opcode = 0x0
	opText         opcode = 0x1
	opBinary       opcode = 0x2
	opClose        opcode = 0x8
	opPing         opcode = 0x9
	opPong         opcode = 0xA
)

// frame is one RFC 6455 frame as read off the wire, mask included so the
// exact bytes can be re-serialized unchanged when forwarding opaquely.
type frame struct {
	fin     bool
	opcode  opcode
	masked  bool
	maskKey [4]byte
	payload []byte
}

// readFrame parses exactly one frame from r. Extended payload lengths
// (16-bit and 64-bit, §5.2 of RFC 6455) are both handled.
func readFrame(r io.Reader) (*frame, error) {
	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}

	f := &frame{
		fin:    head[0]&0x80 != 0,
		opcode: opcode(head[0] & 0x0f),
		masked: head[1]&0x80 != 0,
	}

	length := uint64(head[1] & 0x7f)
	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, err
		}
		length = binary.BigEndian.Uint64(ext[:])
	}

	if f.masked {
		if _, err := io.ReadFull(r, f.maskKey[:]); err != nil {
			return nil, err
		}
	}

	f.payload = make([]byte, length)
	if _, err := io.ReadFull(r, f.payload); err != nil {
		return nil, err
	}

	return f, nil
}

// decodedPayload returns the payload with the RFC 6455 mask undone, the
// form this package stores and publishes — the wire copy (writeFrame)
// writes f.payload still masked, with the same f.maskKey, so what's
// forwarded is byte-identical to what was read.
func (f *frame) decodedPayload() []byte {
	if !f.masked {
		out := make([]byte, len(f.payload))
		copy(out, f.payload)
		return out
	}
	out := make([]byte, len(f.payload))
	for i, b := range f.payload {
		out[i] = b ^ f.maskKey[i%4]
	}
	return out
}

// writeFrame re-serializes f exactly as it was read (same FIN, opcode,
// mask bit and key, same masked payload bytes), so forwarding never
// alters the wire the two peers negotiated.
func writeFrame(w io.Writer, f *frame) error {
	var head [2]byte
	if f.fin {
		head[0] |= 0x80
	}
	head[0] |= byte(f.opcode) & 0x0f

	length := len(f.payload)
	var ext []byte
	switch {
	case length <= 125:
		head[1] = byte(length)
	case length <= 0xffff:
		head[1] = 126
		ext = make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(length))
	default:
		head[1] = 127
		ext = make([]byte, 8)
		binary.BigEndian.PutUint64(ext, uint64(length))
	}
	if f.masked {
		head[1] |= 0x80
	}

	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	if len(ext) > 0 {
		if _, err := w.Write(ext); err != nil {
			return err
		}
	}
	if f.masked {
		if _, err := w.Write(f.maskKey[:]); err != nil {
			return err
		}
	}
	if len(f.payload) > 0 {
		if _, err := w.Write(f.payload); err != nil {
			return err
		}
	}
	return nil
}

func opcodeToTxstore(o opcode) txstore.Opcode {
	switch o {
	case opText:
		return txstore.OpText
	case opBinary:
		return txstore.OpBinary
	case opPing:
		return txstore.OpPing
	case opPong:
		return txstore.OpPong
	case opClose:
		return txstore.OpClose
	default:
		return txstore.OpBinary
	}
}

func isControl(o opcode) bool {
	return o == opClose || o == opPing || o == opPong
}
