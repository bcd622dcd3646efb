// SPDX-License-Identifier: GPL-2.0
/*
 * Copyright (c) 2023 Oracle and/or its affiliates.
 * Copyright (c) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * tlsconntest-go is free software; you can redistribute it and/or
 * modify it under the terms of the GNU General Public License as
 * published by the Free Software Foundation; version 2.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU
 * General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program; if not, write to the Free Software
 * Foundation, Inc., 51 Franklin Street, Fifth Floor, Boston, MA
 * 02110-1301, USA.
 */

// Package credentials loads certificate and private key material used as
// client or server identities.
package credentials

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"software.sslmate.com/src/go-pkcs12"
)

// CredentialError is returned when certificate or key material cannot be
// loaded, for example because the blob is corrupt or the password is wrong.
type CredentialError struct {
	Op  string
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("invalid credential: failed to %s: %v", e.Op, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// Bundle is an immutable certificate chain and its private key.
type Bundle struct {
	leaf  *x509.Certificate
	chain []*x509.Certificate
	key   crypto.Signer
}

// Load decodes a PKCS#12 (PFX) blob protected by password.
func Load(blob []byte, password string) (*Bundle, error) {
	if len(blob) == 0 {
		return nil, &CredentialError{Op: "decode PKCS#12 blob", Err: errors.New("empty blob")}
	}

	key, leaf, chain, err := pkcs12.DecodeChain(blob, password)
	if err != nil {
		return nil, &CredentialError{Op: "decode PKCS#12 blob", Err: err}
	}

	return newBundle(key, leaf, chain)
}

// LoadPEM parses a PEM encoded certificate chain and private key.
func LoadPEM(certPEM, keyPEM []byte) (*Bundle, error) {
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, &CredentialError{Op: "create X.509 key pair", Err: err}
	}

	return FromTLSCertificate(pair)
}

// FromTLSCertificate wraps an already parsed key pair.
func FromTLSCertificate(pair tls.Certificate) (*Bundle, error) {
	if len(pair.Certificate) == 0 {
		return nil, &CredentialError{Op: "parse certificate", Err: errors.New("no certificates in key pair")}
	}

	certs := make([]*x509.Certificate, 0, len(pair.Certificate))
	for _, der := range pair.Certificate {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, &CredentialError{Op: "parse certificate", Err: err}
		}
		certs = append(certs, cert)
	}

	return newBundle(pair.PrivateKey, certs[0], certs[1:])
}

// ParseCertificate parses a trust anchor in DER or PEM form.
func ParseCertificate(data []byte) (*x509.Certificate, error) {
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != "CERTIFICATE" {
			return nil, &CredentialError{Op: "parse certificate", Err: fmt.Errorf("unexpected PEM block type %q", block.Type)}
		}
		data = block.Bytes
	}

	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, &CredentialError{Op: "parse certificate", Err: err}
	}

	return cert, nil
}

func newBundle(key any, leaf *x509.Certificate, chain []*x509.Certificate) (*Bundle, error) {
	if leaf == nil {
		return nil, &CredentialError{Op: "parse certificate", Err: errors.New("no leaf certificate")}
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, &CredentialError{Op: "parse private key", Err: fmt.Errorf("unsupported private key type %T", key)}
	}

	pub, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(leaf.PublicKey) {
		return nil, &CredentialError{Op: "parse private key", Err: errors.New("private key does not match certificate")}
	}

	return &Bundle{
		leaf:  leaf,
		chain: chain,
		key:   signer,
	}, nil
}

// Leaf returns the identity certificate.
func (b *Bundle) Leaf() *x509.Certificate {
	return b.leaf
}

// Chain returns the intermediate certificates presented after the leaf.
func (b *Bundle) Chain() []*x509.Certificate {
	return append([]*x509.Certificate(nil), b.chain...)
}

// PrivateKey returns the key matching the leaf certificate.
func (b *Bundle) PrivateKey() crypto.Signer {
	return b.key
}

// RawChain returns the DER encoded leaf followed by the intermediates.
func (b *Bundle) RawChain() [][]byte {
	raw := make([][]byte, 0, 1+len(b.chain))
	raw = append(raw, b.leaf.Raw)
	for _, cert := range b.chain {
		raw = append(raw, cert.Raw)
	}
	return raw
}

// TLSCertificate returns the bundle as a crypto/tls key pair.
func (b *Bundle) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: b.RawChain(),
		PrivateKey:  b.key,
		Leaf:        b.leaf,
	}
}
