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
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/devproxy/interceptor/txstore"
)

// Imported is one reconstructed transaction, with its bodies split out
// since txstore.Transaction only carries a BodyRef, not raw bytes —
// callers spill these through store.SpillBody before Insert.
type Imported struct {
	Txn      *txstore.Transaction
	ReqBody  []byte
	RespBody []byte
}

// Import parses a HAR document, producing one Imported per entry. Entry
// IDs are preserved when present so a re-imported archive keeps its
// original identity and replay lineage; otherwise a fresh ID is minted.
// Bodies are carried verbatim — the caller decides inline-vs-spill and
// any size limit when persisting them.
func Import(data []byte) ([]Imported, error) {
	var doc Log
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	out := make([]Imported, 0, len(doc.Log.Entries))
	for _, e := range doc.Log.Entries {
		imp, err := entryToImported(e)
		if err != nil {
			return nil, err
		}
		out = append(out, imp)
	}
	return out, nil
}

func entryToImported(e Entry) (Imported, error) {
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}

	started, err := time.Parse("2006-01-02T15:04:05.000Z07:00", e.StartedDateTime)
	if err != nil {
		started = time.Now()
	}

	u, perr := url.Parse(e.Request.URL)
	host, port, scheme, path := "", 0, "http", e.Request.URL
	if perr == nil {
		scheme = u.Scheme
		host = u.Hostname()
		path = u.RequestURI()
		if u.Port() != "" {
			port, _ = strconv.Atoi(u.Port())
		} else if scheme == "https" {
			port = 443
		} else {
			port = 80
		}
	}

	var reqBody, respBody []byte
	if e.Request.PostData != nil {
		reqBody = []byte(e.Request.PostData.Text)
	}
	respBody = []byte(e.Response.Content.Text)

	t := &txstore.Transaction{
		ID:       id,
		Start:    started,
		Method:   e.Request.Method,
		Scheme:   scheme,
		Host:     host,
		Port:     port,
		Path:     path,
		ReqHead:  harToHeaders(e.Request.Headers),
		Status:   e.Response.Status,
		Reason:   e.Response.StatusText,
		RespHead: harToHeaders(e.Response.Headers),
		Duration: time.Duration(e.Time) * time.Millisecond,
		ParentID: e.ParentID,
		State:    txstore.Completed,
	}

	return Imported{Txn: t, ReqBody: reqBody, RespBody: respBody}, nil
}

func harToHeaders(hs []Header) txstore.Headers {
	out := make(txstore.Headers, 0, len(hs))
	for _, h := range hs {
		out = append(out, txstore.Header{Name: h.Name, Value: h.Value})
	}
	return out
}
