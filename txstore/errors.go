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

package txstore

import (
	liberr "github.com/devproxy/interceptor/errors"
)

const pkgName = "devproxy/txstore"

const (
	ErrorStorageOpen liberr.CodeError = iota + liberr.MinPkgTxStore
	ErrorStorageIO
	ErrorStorageFull
	ErrorNotFound
	ErrorBodyIO
)

func init() {
	if liberr.ExistInMapMessage(ErrorStorageOpen) {
		panic("error code collision with package " + pkgName)
	}
	liberr.RegisterIdFctMessage(ErrorStorageOpen, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case liberr.UnknownError:
		return liberr.NullMessage
	case ErrorStorageOpen:
		return "durable transaction log could not be opened"
	case ErrorStorageIO:
		return "durable transaction log read or write failed"
	case ErrorStorageFull:
		return "durable transaction log has reached its configured capacity"
	case ErrorNotFound:
		return "transaction or WebSocket message not found"
	case ErrorBodyIO:
		return "body blob could not be read or written"
	}
	return liberr.NullMessage
}
