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

package util

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"
)

// KeyType selects the public key algorithm of a generated certificate.
type KeyType int

const (
	KeyTypeRSA KeyType = iota
	KeyTypeECDSA
)

const validity = 30 * 24 * time.Hour

// Authority is a certificate authority used to issue test identities.
type Authority struct {
	Certificate *x509.Certificate
	Key         crypto.Signer
}

// NewAuthority creates a self-signed root certificate authority.
func NewAuthority(commonName string) (*Authority, error) {
	key, err := GenerateKey(KeyTypeRSA)
	if err != nil {
		return nil, err
	}

	template, err := newTemplate(commonName)
	if err != nil {
		return nil, err
	}

	template.IsCA = true
	template.BasicConstraintsValid = true
	template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature

	cert, err := createCertificate(template, template, key.Public(), key)
	if err != nil {
		return nil, err
	}

	return &Authority{Certificate: cert, Key: key}, nil
}

// IssueServer issues a server certificate valid for localhost.
func (a *Authority) IssueServer(commonName string, keyType KeyType) (*x509.Certificate, crypto.Signer, error) {
	return a.issue(commonName, keyType, x509.ExtKeyUsageServerAuth)
}

// IssueClient issues a client authentication certificate.
func (a *Authority) IssueClient(commonName string, keyType KeyType) (*x509.Certificate, crypto.Signer, error) {
	return a.issue(commonName, keyType, x509.ExtKeyUsageClientAuth)
}

func (a *Authority) issue(commonName string, keyType KeyType, usage x509.ExtKeyUsage) (*x509.Certificate, crypto.Signer, error) {
	key, err := GenerateKey(keyType)
	if err != nil {
		return nil, nil, err
	}

	template, err := newTemplate(commonName)
	if err != nil {
		return nil, nil, err
	}

	template.KeyUsage = x509.KeyUsageDigitalSignature
	if keyType == KeyTypeRSA {
		// Needed by the RSA key exchange suites.
		template.KeyUsage |= x509.KeyUsageKeyEncipherment
	}
	template.ExtKeyUsage = []x509.ExtKeyUsage{usage}

	if usage == x509.ExtKeyUsageServerAuth {
		template.DNSNames = []string{"localhost"}
		template.IPAddresses = []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	}

	cert, err := createCertificate(template, a.Certificate, key.Public(), a.Key)
	if err != nil {
		return nil, nil, err
	}

	return cert, key, nil
}

// GenerateSelfSignedCert generates a self-signed RSA server key pair valid
// for localhost.
func GenerateSelfSignedCert() (tls.Certificate, error) {
	key, err := GenerateKey(KeyTypeRSA)
	if err != nil {
		return tls.Certificate{}, err
	}

	template, err := newTemplate("localhost")
	if err != nil {
		return tls.Certificate{}, err
	}

	template.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
	template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	template.DNSNames = []string{"localhost"}
	template.IPAddresses = []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}

	cert, err := createCertificate(template, template, key.Public(), key)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}

// GenerateKey generates a private key of the given type.
func GenerateKey(keyType KeyType) (crypto.Signer, error) {
	var (
		key crypto.Signer
		err error
	)

	switch keyType {
	case KeyTypeRSA:
		key, err = rsa.GenerateKey(rand.Reader, 2048)
	case KeyTypeECDSA:
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	default:
		return nil, fmt.Errorf("unsupported key type: %d", keyType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	return key, nil
}

func newTemplate(commonName string) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	return &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(validity),
	}, nil
}

func createCertificate(template, parent *x509.Certificate, pub crypto.PublicKey, signer crypto.Signer) (*x509.Certificate, error) {
	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return cert, nil
}
