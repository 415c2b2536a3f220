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
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/nutsdb/nutsdb"

	liberr "github.com/devproxy/interceptor/errors"
)

const (
	bucketTransactions = "transactions"
	bucketByTime       = "tx_by_time"
	bucketWSMessages   = "ws_messages"
)

// durable wraps the nutsdb-backed append-only log named in §6 ("any
// equivalent engine is acceptable if it preserves atomic single-record
// updates and supports range scans on start-time"). The tx_by_time bucket
// is a secondary index: key = RFC3339Nano(start)+"|"+id, value = id, so a
// range scan over that bucket gives ids in start-time order without
// deserializing every transaction body.
type durable struct {
	db *nutsdb.DB
}

func openDurable(storageRoot string) (*durable, liberr.Error) {
	dir := filepath.Join(storageRoot, "store")

	opt := nutsdb.DefaultOptions
	opt.Dir = dir

	db, err := nutsdb.Open(opt)
	if err != nil {
		return nil, ErrorStorageOpen.Error(err)
	}

	d := &durable{db: db}
	for _, b := range []string{bucketTransactions, bucketByTime, bucketWSMessages} {
		_ = db.Update(func(tx *nutsdb.Tx) error {
			e := tx.NewBucket(nutsdb.DataStructureBTree, b)
			if e != nil && e != nutsdb.ErrBucketAlreadyExist {
				return e
			}
			return nil
		})
	}

	return d, nil
}

func (d *durable) close() {
	if d.db != nil {
		_ = d.db.Close()
	}
}

func timeKey(start time.Time, id string) []byte {
	return []byte(start.UTC().Format(time.RFC3339Nano) + "|" + id)
}

func (d *durable) put(t *Transaction) liberr.Error {
	buf, err := json.Marshal(t)
	if err != nil {
		return ErrorStorageIO.Error(err)
	}

	err = d.db.Update(func(tx *nutsdb.Tx) error {
		if e := tx.Put(bucketTransactions, []byte(t.ID), buf, 0); e != nil {
			return e
		}
		return tx.Put(bucketByTime, timeKey(t.Start, t.ID), []byte(t.ID), 0)
	})
	if err != nil {
		if isFullErr(err) {
			return ErrorStorageFull.Error(err)
		}
		return ErrorStorageIO.Error(err)
	}
	return nil
}

func (d *durable) get(id string) (*Transaction, liberr.Error) {
	var out Transaction

	err := d.db.View(func(tx *nutsdb.Tx) error {
		e, err := tx.Get(bucketTransactions, []byte(id))
		if err != nil {
			return err
		}
		return json.Unmarshal(e.Value, &out)
	})
	if err != nil {
		return nil, ErrorNotFound.Error(err)
	}
	return &out, nil
}

// rangeByTime returns transaction ids whose start time falls in
// [from, to], both ends included, in ascending start-time order.
func (d *durable) rangeByTime(from, to time.Time) ([]string, liberr.Error) {
	var ids []string

	err := d.db.View(func(tx *nutsdb.Tx) error {
		entries, err := tx.RangeScan(bucketByTime, timeKey(from, ""), timeKey(to, "\xff\xff\xff\xff"))
		if err != nil {
			if err == nutsdb.ErrRangeScan || strings.Contains(err.Error(), "not found") {
				return nil
			}
			return err
		}
		for _, e := range entries {
			ids = append(ids, string(e.Value))
		}
		return nil
	})
	if err != nil {
		return nil, ErrorStorageIO.Error(err)
	}
	return ids, nil
}

func (d *durable) tombstone(id string) liberr.Error {
	t, gerr := d.get(id)
	if gerr != nil {
		return gerr
	}
	t.Tombstoned = true
	return d.put(t)
}

func (d *durable) appendWS(m *WSMessage) liberr.Error {
	buf, err := json.Marshal(m)
	if err != nil {
		return ErrorStorageIO.Error(err)
	}
	key := fmt.Sprintf("%s|%020d", m.ConnID, m.Sequence)

	err = d.db.Update(func(tx *nutsdb.Tx) error {
		return tx.Put(bucketWSMessages, []byte(key), buf, 0)
	})
	if err != nil {
		return ErrorStorageIO.Error(err)
	}
	return nil
}

func (d *durable) wsMessages(connID string, offset, limit int) ([]*WSMessage, liberr.Error) {
	var out []*WSMessage

	err := d.db.View(func(tx *nutsdb.Tx) error {
		entries, _, err := tx.PrefixScan(bucketWSMessages, []byte(connID+"|"), offset, limit)
		if err != nil {
			if strings.Contains(err.Error(), "not found") {
				return nil
			}
			return err
		}
		for _, e := range entries {
			var m WSMessage
			if uerr := json.Unmarshal(e.Value, &m); uerr != nil {
				return uerr
			}
			out = append(out, &m)
		}
		return nil
	})
	if err != nil {
		return nil, ErrorStorageIO.Error(err)
	}
	return out, nil
}

func isFullErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "full")
}
