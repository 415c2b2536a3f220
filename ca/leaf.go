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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"time"

	liberr "github.com/devproxy/interceptor/errors"
)

// LeafFor returns a tls.Certificate for sni, minting and caching it on
// first use. Concurrent callers asking for the same SNI may each mint a
// leaf before the first one lands in the cache; that's a redundant mint,
// not a correctness problem, so no per-key lock is taken here.
func (s *Store) LeafFor(sni string) (*tls.Certificate, liberr.Error) {
	if cert, ok := s.leaf.Get(sni); ok {
		return cert, nil
	}

	s.mu.RLock()
	rootCert, rootKey := s.rootCert, s.rootKey
	s.mu.RUnlock()

	if rootCert == nil || rootKey == nil {
		return nil, ErrorRootCorrupt.Error(nil)
	}

	cert, err := mintLeaf(sni, rootCert, rootKey)
	if err != nil {
		return nil, ErrorLeafGenerate.Error(err)
	}

	s.leaf.Put(sni, cert)
	return cert, nil
}

// GetCertificate adapts LeafFor to tls.Config.GetCertificate, minting a
// leaf for the SNI the client offered during its ClientHello.
func (s *Store) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	sni := hello.ServerName
	if sni == "" {
		sni = "localhost"
	}
	cert, err := s.LeafFor(sni)
	if err != nil {
		return nil, err
	}
	return cert, nil
}

func mintLeaf(sni string, rootCert *x509.Certificate, rootKey *ecdsa.PrivateKey) (*tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	tpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: sni},
		NotBefore:    now.Add(-1 * time.Hour),
		NotAfter:     now.Add(-1 * time.Hour).Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	if ip := net.ParseIP(sni); ip != nil {
		tpl.IPAddresses = append(tpl.IPAddresses, ip)
	} else {
		tpl.DNSNames = []string{sni}
	}

	der, err := x509.CreateCertificate(rand.Reader, tpl, rootCert, &key.PublicKey, rootKey)
	if err != nil {
		return nil, err
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, rootCert.Raw},
		PrivateKey:  key,
		Leaf:        nil,
	}, nil
}
