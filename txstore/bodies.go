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
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	liberr "github.com/devproxy/interceptor/errors"
)

// bodies owns the store/bodies/<shard>/<id>.bin blobs named in §6. Bodies
// at or under the inline threshold never reach disk at all; the
// threshold is enforced by the caller (Store.SpillBody), not here.
type bodies struct {
	root string
}

func newBodies(storageRoot string) *bodies {
	return &bodies{root: filepath.Join(storageRoot, "store", "bodies")}
}

// put writes data to a new shard-sharded blob and returns its handle.
func (b *bodies) put(data []byte) (handle string, lerr liberr.Error) {
	id := uuid.NewString()
	shard := shardFor(id)

	dir := filepath.Join(b.root, shard)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", ErrorBodyIO.Error(err)
	}

	path := filepath.Join(dir, id+".bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", ErrorBodyIO.Error(err)
	}

	return shard + "/" + id, nil
}

// get streams back the bytes of handle (returned by put).
func (b *bodies) get(handle string) ([]byte, liberr.Error) {
	path := filepath.Join(b.root, filepath.FromSlash(handle)+".bin")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrorBodyIO.Error(err)
	}
	return data, nil
}

func (b *bodies) delete(handle string) liberr.Error {
	path := filepath.Join(b.root, filepath.FromSlash(handle)+".bin")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return ErrorBodyIO.Error(err)
	}
	return nil
}

// shardFor spreads blobs across 256 directories by the first byte of the
// blob id's SHA-1 digest, keeping any one directory from accumulating
// enough entries to slow down the filesystem.
func shardFor(id string) string {
	sum := sha1.Sum([]byte(id))
	return hex.EncodeToString(sum[:1])
}
