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

package breakpoint

import (
	liberr "github.com/devproxy/interceptor/errors"
)

const pkgName = "devproxy/breakpoint"

const (
	ErrorRuleNotFound liberr.CodeError = iota + liberr.MinPkgBreakpoint
	ErrorNoPendingEdit
	ErrorInvalidEdit
	ErrorAlreadyResolved
)

func init() {
	if liberr.ExistInMapMessage(ErrorRuleNotFound) {
		panic("error code collision with package " + pkgName)
	}
	liberr.RegisterIdFctMessage(ErrorRuleNotFound, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case liberr.UnknownError:
		return liberr.NullMessage
	case ErrorRuleNotFound:
		return "breakpoint rule not found"
	case ErrorNoPendingEdit:
		return "transaction has no outstanding pending edit"
	case ErrorInvalidEdit:
		return "edit would produce an illegal wire message"
	case ErrorAlreadyResolved:
		return "pending edit was already resolved"
	}
	return liberr.NullMessage
}
