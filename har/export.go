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

package har

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	liberr "github.com/devproxy/interceptor/errors"
	"github.com/devproxy/interceptor/txstore"
)

// DefaultBodyInlineLimit bounds how large a captured body can be before
// Export replaces its text with a size-only placeholder.
const DefaultBodyInlineLimit = 1 * 1024 * 1024

// Export builds a HAR log from txs, fetching each one's bodies from store.
// Bodies larger than bodyLimit (0 selects DefaultBodyInlineLimit) are
// recorded by size only, with a comment noting the omission.
func Export(store *txstore.Store, txs []*txstore.Transaction, bodyLimit int64) (Log, liberr.Error) {
	if bodyLimit <= 0 {
		bodyLimit = DefaultBodyInlineLimit
	}

	entries := make([]Entry, 0, len(txs))
	for _, t := range txs {
		entry, err := transactionToEntry(store, t, bodyLimit)
		if err != nil {
			return Log{}, err
		}
		entries = append(entries, entry)
	}

	return Log{
		Log: LogContent{
			Version: specVersion,
			Creator: Creator{Name: creatorName, Version: creatorBuild},
			Entries: entries,
		},
	}, nil
}

// Encode marshals l as indented JSON, the conventional HAR-on-disk form.
func Encode(l Log) ([]byte, error) {
	return json.MarshalIndent(l, "", "  ")
}

func transactionToEntry(store *txstore.Store, t *txstore.Transaction, bodyLimit int64) (Entry, liberr.Error) {
	reqBody, err := fetchBodyCapped(store, t.ID, txstore.RequestBody, t.ReqBody.Size, bodyLimit)
	if err != nil {
		return Entry{}, err
	}
	respBody, err := fetchBodyCapped(store, t.ID, txstore.ResponseBody, t.RespBody.Size, bodyLimit)
	if err != nil {
		return Entry{}, err
	}

	u := &url.URL{Scheme: t.Scheme, Host: hostPort(t), Path: t.Path}
	if parsed, perr := url.Parse(t.Path); perr == nil && parsed.Path != "" {
		u.Path = parsed.Path
		u.RawQuery = parsed.RawQuery
	}

	req := Request{
		Method:      t.Method,
		URL:         u.String(),
		HTTPVersion: "HTTP/1.1",
		Headers:     headersToHAR(t.ReqHead),
		QueryString: queryToHAR(u),
		HeadersSize: -1,
		BodySize:    t.ReqBody.Size,
	}
	if len(reqBody) > 0 || t.ReqBody.Size > 0 {
		req.PostData = &PostData{
			MimeType: headerValue(t.ReqHead, "Content-Type"),
			Text:     string(reqBody),
		}
	}

	resp := Response{
		Status:      t.Status,
		StatusText:  statusText(t.Status, t.Reason),
		HTTPVersion: "HTTP/1.1",
		Headers:     headersToHAR(t.RespHead),
		Content: Content{
			Size:     t.RespBody.Size,
			MimeType: headerValue(t.RespHead, "Content-Type"),
			Text:     string(respBody),
		},
		HeadersSize: -1,
		BodySize:    t.RespBody.Size,
	}

	waitMs := float64(0)
	if !t.Timing.FirstResponse.IsZero() && !t.Timing.RequestSent.IsZero() {
		waitMs = float64(t.Timing.FirstResponse.Sub(t.Timing.RequestSent).Milliseconds())
	}
	recvMs := float64(0)
	if !t.Timing.ResponseComplete.IsZero() && !t.Timing.FirstResponse.IsZero() {
		recvMs = float64(t.Timing.ResponseComplete.Sub(t.Timing.FirstResponse).Milliseconds())
	}

	comment := ""
	if t.ReqBody.Size > bodyLimit || t.RespBody.Size > bodyLimit {
		comment = "one or more bodies omitted: exceeded export body limit"
	}

	return Entry{
		ID:              t.ID,
		ParentID:        t.ParentID,
		StartedDateTime: t.Start.Format("2006-01-02T15:04:05.000Z07:00"),
		Time:            float64(t.Duration.Milliseconds()),
		Request:         req,
		Response:        resp,
		Timings:         Timings{Send: -1, Wait: waitMs, Receive: recvMs},
		Comment:         comment,
	}, nil
}

func fetchBodyCapped(store *txstore.Store, id string, kind txstore.BodyKind, size, limit int64) ([]byte, liberr.Error) {
	if store == nil || size == 0 || size > limit {
		return nil, nil
	}
	return store.FetchBody(id, kind)
}

func hostPort(t *txstore.Transaction) string {
	if t.Port == 0 || (t.Scheme == "https" && t.Port == 443) || (t.Scheme == "http" && t.Port == 80) {
		return t.Host
	}
	return t.Host + ":" + strconv.Itoa(t.Port)
}

func statusText(status int, reason string) string {
	if reason != "" {
		return reason
	}
	return http.StatusText(status)
}

func headersToHAR(h txstore.Headers) []Header {
	out := make([]Header, 0, len(h))
	for _, kv := range h {
		out = append(out, Header{Name: kv.Name, Value: kv.Value})
	}
	return out
}

func headerValue(h txstore.Headers, name string) string {
	for _, kv := range h {
		if strings.EqualFold(kv.Name, name) {
			return kv.Value
		}
	}
	return ""
}

func queryToHAR(u *url.URL) []Query {
	values := u.Query()
	out := make([]Query, 0, len(values))
	for name, vv := range values {
		for _, v := range vv {
			out = append(out, Query{Name: name, Value: v})
		}
	}
	return out
}
