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
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
)

// tokenFileName is where the control channel's bearer credential lives
// under the storage root (§6: "a stable token read from the storage
// directory, generated on first run").
const tokenFileName = "control.token"

// tokenBytes is 256 bits of entropy, comfortably above the §6 minimum.
const tokenBytes = 32

// LoadOrCreateToken reads the bearer token from storageRoot/control.token,
// generating and persisting one with crypto/rand on first run. The file
// is written 0600 so only the process owner can read the credential back.
func LoadOrCreateToken(storageRoot string) (string, error) {
	path := filepath.Join(storageRoot, tokenFileName)

	existing, err := os.ReadFile(path)
	if err == nil {
		return string(existing), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	if err := os.MkdirAll(storageRoot, 0o700); err != nil {
		return "", err
	}

	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)

	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		return "", err
	}
	return token, nil
}
