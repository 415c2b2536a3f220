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
	"io"

	"github.com/gin-gonic/gin"

	"github.com/devproxy/interceptor/eventbus"
)

// handleSubscribe implements subscribe(filter?): a Server-Sent-Events
// stream of every matching transaction/WS-frame event until the client
// disconnects or cancels (§4.7: "subscriptions stream until cancelled").
func (s *Server) handleSubscribe(c *gin.Context) {
	var req queryRequest
	_ = c.ShouldBindJSON(&req)

	ch, cancel := s.bus.Subscribe(req.filter())
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), sseBody(ev))
			return true
		}
	})
}

// sseBody picks the single non-nil payload an Event carries so subscribers
// never have to branch on which of Transaction/WSMessage is populated.
func sseBody(ev eventbus.Event) interface{} {
	if ev.Lagged > 0 {
		return gin.H{"lagged": ev.Lagged}
	}
	if ev.WSMessage != nil {
		return ev.WSMessage
	}
	return ev.Transaction
}
