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

// Package kind registers the transaction failure kinds every component
// reports through, so a kind survives a goroutine boundary as a plain
// liberr.CodeError instead of a string tag that call sites might typo.
package kind

import (
	"fmt"

	liberr "github.com/devproxy/interceptor/errors"
)

const pkgName = "devproxy/kind"

const (
	BadRequest liberr.CodeError = iota + liberr.MinPkgKind
	TlsHandshake
	UpstreamUnreachable
	UpstreamProtocol
	Timeout
	InvalidEdit
	StorageIO
	StorageBusy
	StorageFull
	NotFound
	Unauthorized
	Cancelled
)

func init() {
	if liberr.ExistInMapMessage(BadRequest) {
		panic(fmt.Errorf("error code collision with package %s", pkgName))
	}
	liberr.RegisterIdFctMessage(BadRequest, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case liberr.UnknownError:
		return liberr.NullMessage
	case BadRequest:
		return "malformed request line, headers or target URI"
	case TlsHandshake:
		return "TLS handshake with client or upstream failed"
	case UpstreamUnreachable:
		return "upstream host could not be dialed"
	case UpstreamProtocol:
		return "upstream sent a response the pipeline could not parse"
	case Timeout:
		return "a connection phase exceeded its configured deadline"
	case InvalidEdit:
		return "a breakpoint edit violated the wire message contract"
	case StorageIO:
		return "durable storage read or write failed"
	case StorageBusy:
		return "durable storage is temporarily unavailable"
	case StorageFull:
		return "durable storage has reached its configured capacity"
	case NotFound:
		return "the referenced transaction, rule or body does not exist"
	case Unauthorized:
		return "control channel request presented no or an invalid token"
	case Cancelled:
		return "the operation was cancelled by its caller"
	}

	return liberr.NullMessage
}
