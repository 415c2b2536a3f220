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

// Package ca implements C1: a locally-minted root certificate authority
// persisted under <storage>/ca/, plus per-SNI leaf certificates signed by
// that root and cached in a bounded LRU so repeat connections to the same
// host skip the minting cost.
package ca

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	liberr "github.com/devproxy/interceptor/errors"
	"github.com/devproxy/interceptor/logger"
)

const (
	rootCertFile = "root.crt"
	rootKeyFile  = "root.key"
	rootValidity = 10 * 365 * 24 * time.Hour
	leafValidity = 825 * 24 * time.Hour // the 825-day CA/Browser Forum ceiling, counted from NotBefore
)

// Store owns the root CA material and mints leaf certificates on demand.
// It is safe for concurrent use: root load/rotate takes the write lock,
// leaf minting takes the read lock plus the leaf cache's own lock.
type Store struct {
	mu   sync.RWMutex
	dir  string
	log  logger.Logger
	leaf *leafCache

	rootCert *x509.Certificate
	rootKey  *ecdsa.PrivateKey
	rootDER  []byte
}

// NewStore constructs a Store rooted at <storageRoot>/ca. It does not
// touch disk; call EnsureRoot before minting any leaf.
func NewStore(storageRoot string, leafCacheCapacity int, log logger.Logger) *Store {
	return &Store{
		dir:  filepath.Join(storageRoot, "ca"),
		log:  logger.Component(log, "ca", "store"),
		leaf: newLeafCache(leafCacheCapacity),
	}
}

// EnsureRoot loads root.crt/root.key from disk if both are present and
// well-formed. If neither exists, it mints a fresh root and persists it.
// If the files exist but cannot be parsed, EnsureRoot fails with
// ErrorRootCorrupt rather than silently regenerating — overwriting a
// corrupt root would invalidate every certificate a user's OS or browser
// has already trusted.
func (s *Store) EnsureRoot() liberr.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	certPath := filepath.Join(s.dir, rootCertFile)
	keyPath := filepath.Join(s.dir, rootKeyFile)

	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)

	switch {
	case certErr == nil && keyErr == nil:
		return s.loadRootLocked(certPath, keyPath)
	case os.IsNotExist(certErr) && os.IsNotExist(keyErr):
		return s.generateRootLocked()
	default:
		return ErrorRootCorrupt.Error(certErr, keyErr)
	}
}

// RotateRoot discards the current root (if any) and mints a new one,
// persisting it over the existing files. This is an explicit, named
// operation distinct from EnsureRoot (§4.1): it is the only path by which
// existing root material is ever replaced. Every cached leaf is dropped
// since leaves signed by the old root are no longer valid against it.
func (s *Store) RotateRoot() liberr.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.generateRootLocked(); err != nil {
		return err
	}
	s.leaf.Clear()
	s.log.Info("root CA rotated")
	return nil
}

// ExportRootPEM returns the PEM-encoded root certificate for installation
// into a client trust store (§6).
func (s *Store) ExportRootPEM() ([]byte, liberr.Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.rootCert == nil {
		return nil, ErrorRootCorrupt.Error(nil)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: s.rootDER}), nil
}

func (s *Store) generateRootLocked() liberr.Error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return ErrorRootGenerate.Error(err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return ErrorRootGenerate.Error(err)
	}

	now := time.Now()
	tpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"devproxy local development CA"},
			CommonName:   "devproxy root CA",
		},
		NotBefore:             now.Add(-1 * time.Hour),
		NotAfter:              now.Add(rootValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
		MaxPathLenZero:        false,
	}

	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	if err != nil {
		return ErrorRootGenerate.Error(err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return ErrorRootGenerate.Error(err)
	}

	if err := s.persistRootLocked(der, key); err != nil {
		return err
	}

	s.rootCert = cert
	s.rootKey = key
	s.rootDER = der
	s.log.Info("root CA generated")
	return nil
}

func (s *Store) persistRootLocked(der []byte, key *ecdsa.PrivateKey) liberr.Error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return ErrorRootPersist.Error(err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return ErrorRootPersist.Error(err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	if err := os.WriteFile(filepath.Join(s.dir, rootCertFile), certPEM, 0o644); err != nil {
		return ErrorRootPersist.Error(err)
	}
	// Private key permissions are the one place correctness is non-negotiable:
	// 0600 regardless of umask, written last so a partial write never leaves
	// behind a key without its certificate.
	if err := os.WriteFile(filepath.Join(s.dir, rootKeyFile), keyPEM, 0o600); err != nil {
		return ErrorRootPersist.Error(err)
	}
	return nil
}

func (s *Store) loadRootLocked(certPath, keyPath string) liberr.Error {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return ErrorRootCorrupt.Error(err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return ErrorRootCorrupt.Error(err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil || certBlock.Type != "CERTIFICATE" {
		return ErrorRootCorrupt.Error(nil)
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return ErrorRootCorrupt.Error(nil)
	}

	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return ErrorRootCorrupt.Error(err)
	}

	key, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return ErrorRootCorrupt.Error(err)
	}

	s.rootCert = cert
	s.rootKey = key
	s.rootDER = certBlock.Bytes
	s.log.Debug("root CA loaded from disk")
	return nil
}
