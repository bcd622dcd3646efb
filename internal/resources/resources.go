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

// Package resources provides the well-known test identities used by the
// scenario catalog as password protected PKCS#12 blobs.
package resources

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"sync"

	"github.com/dpeckett/tlsconntest-go/credentials"
	"github.com/dpeckett/tlsconntest-go/internal/util"
	"software.sslmate.com/src/go-pkcs12"
)

// Password protects every blob issued by a Provider.
const Password = "monkey"

// Resource is an identity blob and the password that opens it.
type Resource struct {
	Name     string
	Blob     []byte
	Password string
}

// Load parses the resource into a new Bundle.
func (r Resource) Load() (*credentials.Bundle, error) {
	return credentials.Load(r.Blob, r.Password)
}

// Provider issues a local CA and identities signed by it. Material is
// generated on first use and never changes afterwards.
type Provider struct {
	once sync.Once
	err  error

	caDER             []byte
	serverFromCA      Resource
	ecdsaServerFromCA Resource
	selfSignedServer  Resource
	monkey            Resource
}

// NewProvider returns a Provider with its own CA.
func NewProvider() *Provider {
	return &Provider{}
}

var defaultProvider = NewProvider()

// Default returns the process wide Provider.
func Default() *Provider {
	return defaultProvider
}

// LocalCACertificate returns the DER encoded root of trust.
func (p *Provider) LocalCACertificate() ([]byte, error) {
	if err := p.init(); err != nil {
		return nil, err
	}
	return p.caDER, nil
}

// ServerCertificateFromCA is an RSA server identity signed by the local CA.
func (p *Provider) ServerCertificateFromCA() (Resource, error) {
	return p.get(&p.serverFromCA)
}

// ECDSAServerCertificateFromCA is an ECDSA server identity signed by the
// local CA.
func (p *Provider) ECDSAServerCertificateFromCA() (Resource, error) {
	return p.get(&p.ecdsaServerFromCA)
}

// SelfSignedServerCertificate is a server identity no CA vouches for.
func (p *Provider) SelfSignedServerCertificate() (Resource, error) {
	return p.get(&p.selfSignedServer)
}

// MonkeyCertificate is a client identity signed by the local CA.
func (p *Provider) MonkeyCertificate() (Resource, error) {
	return p.get(&p.monkey)
}

func (p *Provider) get(r *Resource) (Resource, error) {
	if err := p.init(); err != nil {
		return Resource{}, err
	}
	return *r, nil
}

func (p *Provider) init() error {
	p.once.Do(func() {
		p.err = p.generate()
	})
	return p.err
}

func (p *Provider) generate() error {
	ca, err := util.NewAuthority("Local Test CA")
	if err != nil {
		return fmt.Errorf("failed to create certificate authority: %w", err)
	}
	p.caDER = ca.Certificate.Raw

	cert, key, err := ca.IssueServer("localhost", util.KeyTypeRSA)
	if err != nil {
		return fmt.Errorf("failed to issue server certificate: %w", err)
	}
	if p.serverFromCA, err = encode("server-from-ca", key, cert); err != nil {
		return err
	}

	cert, key, err = ca.IssueServer("localhost", util.KeyTypeECDSA)
	if err != nil {
		return fmt.Errorf("failed to issue ECDSA server certificate: %w", err)
	}
	if p.ecdsaServerFromCA, err = encode("ecdsa-server-from-ca", key, cert); err != nil {
		return err
	}

	pair, err := util.GenerateSelfSignedCert()
	if err != nil {
		return fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	if p.selfSignedServer, err = encode("self-signed-server", pair.PrivateKey, pair.Leaf); err != nil {
		return err
	}

	cert, key, err = ca.IssueClient("monkey", util.KeyTypeRSA)
	if err != nil {
		return fmt.Errorf("failed to issue client certificate: %w", err)
	}
	if p.monkey, err = encode("monkey", key, cert); err != nil {
		return err
	}

	return nil
}

func encode(name string, key crypto.PrivateKey, cert *x509.Certificate) (Resource, error) {
	blob, err := pkcs12.Modern.Encode(key, cert, nil, Password)
	if err != nil {
		return Resource{}, fmt.Errorf("failed to encode %s: %w", name, err)
	}

	return Resource{
		Name:     name,
		Blob:     blob,
		Password: Password,
	}, nil
}
