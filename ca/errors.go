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

package ca

import (
	liberr "github.com/devproxy/interceptor/errors"
)

const pkgName = "devproxy/ca"

const (
	ErrorRootCorrupt liberr.CodeError = iota + liberr.MinPkgCA
	ErrorRootGenerate
	ErrorRootPersist
	ErrorLeafGenerate
)

func init() {
	if liberr.ExistInMapMessage(ErrorRootCorrupt) {
		panic("error code collision with package " + pkgName)
	}
	liberr.RegisterIdFctMessage(ErrorRootCorrupt, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case liberr.UnknownError:
		return liberr.NullMessage
	case ErrorRootCorrupt:
		return "root CA material on disk is present but unreadable"
	case ErrorRootGenerate:
		return "root CA key or certificate could not be generated"
	case ErrorRootPersist:
		return "root CA material could not be written to storage"
	case ErrorLeafGenerate:
		return "leaf certificate could not be minted"
	}
	return liberr.NullMessage
}
