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

package conntest

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"slices"
	"strings"

	"github.com/dpeckett/tlsconntest-go/credentials"
)

// DefaultTargetHost is the name the client expects the server certificate
// to be issued for when Parameters.TargetHost is empty.
const DefaultTargetHost = "localhost"

// ClientAuthMode is the mutual authentication policy of the server.
type ClientAuthMode int

const (
	NoClientAuth ClientAuthMode = iota
	OptionalClientAuth
	RequiredClientAuth
)

func (m ClientAuthMode) String() string {
	switch m {
	case NoClientAuth:
		return "none"
	case OptionalClientAuth:
		return "optional"
	case RequiredClientAuth:
		return "required"
	default:
		return fmt.Sprintf("ClientAuthMode(%d)", int(m))
	}
}

// CipherSuiteSet restricts the cipher suites offered by one side of a
// connection. Restricting suites also caps the protocol version, as TLS 1.3
// suites are not configurable. A zero Version caps at TLS 1.2.
type CipherSuiteSet struct {
	Version uint16
	Codes   []uint16
}

// NewCipherSuiteSet returns a set of the given codes for the protocol version.
func NewCipherSuiteSet(version uint16, codes ...uint16) *CipherSuiteSet {
	return &CipherSuiteSet{
		Version: version,
		Codes:   slices.Clone(codes),
	}
}

// MaxVersion is the highest protocol version a side restricted to s may
// negotiate.
func (s *CipherSuiteSet) MaxVersion() uint16 {
	if s.Version == 0 {
		return tls.VersionTLS12
	}
	return s.Version
}

func (s *CipherSuiteSet) String() string {
	if s == nil {
		return "default"
	}

	names := make([]string, 0, len(s.Codes))
	for _, code := range s.Codes {
		names = append(names, tls.CipherSuiteName(code))
	}

	return fmt.Sprintf("%s[%s]", tls.VersionName(s.MaxVersion()), strings.Join(names, ","))
}

// Parameters describes a single connection attempt. A Parameters value must
// be fully populated before it is handed to a Factory. Invalid combinations
// (for example a required client certificate that was never supplied) are not
// rejected here, they surface as handshake failures.
type Parameters struct {
	// VerifyPeerCertificate enables chain validation against TrustedCA on
	// both the client and, when a client certificate is requested, the server.
	VerifyPeerCertificate bool
	TrustedCA             *x509.Certificate

	// ServerCertificate is the identity presented by the server. When nil
	// the factory presents its own default identity.
	ServerCertificate *credentials.Bundle
	ClientCertificate *credentials.Bundle

	ClientAuth ClientAuthMode

	ClientCiphers *CipherSuiteSet
	ServerCiphers *CipherSuiteSet

	// TargetHost is used for SNI and server name verification.
	TargetHost string

	EnableDebugging bool
}

// AskForClientCertificate reports whether the server requests a client
// certificate. It is always true when a client certificate is required.
func (p *Parameters) AskForClientCertificate() bool {
	return p.ClientAuth != NoClientAuth
}

// SetAskForClientCertificate toggles optional mutual authentication. It has
// no effect while a client certificate is required.
func (p *Parameters) SetAskForClientCertificate(ask bool) {
	switch {
	case p.ClientAuth == RequiredClientAuth:
	case ask:
		p.ClientAuth = OptionalClientAuth
	default:
		p.ClientAuth = NoClientAuth
	}
}

// RequireClientCertificate reports whether the server fails the handshake
// when the client presents no certificate.
func (p *Parameters) RequireClientCertificate() bool {
	return p.ClientAuth == RequiredClientAuth
}

// SetRequireClientCertificate toggles required mutual authentication.
// Requiring a certificate implies asking for one, so clearing the requirement
// leaves optional mutual authentication in place.
func (p *Parameters) SetRequireClientCertificate(require bool) {
	switch {
	case require:
		p.ClientAuth = RequiredClientAuth
	case p.ClientAuth == RequiredClientAuth:
		p.ClientAuth = OptionalClientAuth
	}
}

// ServerName returns the effective target host.
func (p *Parameters) ServerName() string {
	if p.TargetHost == "" {
		return DefaultTargetHost
	}
	return p.TargetHost
}

// Clone returns a copy that can be modified without affecting p. Certificate
// material is immutable and shared.
func (p *Parameters) Clone() *Parameters {
	c := *p
	if p.ClientCiphers != nil {
		c.ClientCiphers = NewCipherSuiteSet(p.ClientCiphers.Version, p.ClientCiphers.Codes...)
	}
	if p.ServerCiphers != nil {
		c.ServerCiphers = NewCipherSuiteSet(p.ServerCiphers.Version, p.ServerCiphers.Codes...)
	}
	return &c
}

// String summarizes the parameters for diagnostics.
func (p *Parameters) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "verify=%t", p.VerifyPeerCertificate)
	fmt.Fprintf(&b, " trustedCA=%s", certName(p.TrustedCA))
	fmt.Fprintf(&b, " server=%s", bundleName(p.ServerCertificate))
	fmt.Fprintf(&b, " client=%s", bundleName(p.ClientCertificate))
	fmt.Fprintf(&b, " clientAuth=%s", p.ClientAuth)
	fmt.Fprintf(&b, " clientCiphers=%s", p.ClientCiphers)
	if p.ServerCiphers != nil {
		fmt.Fprintf(&b, " serverCiphers=%s", p.ServerCiphers)
	}
	fmt.Fprintf(&b, " host=%s", p.ServerName())
	if p.EnableDebugging {
		b.WriteString(" debug")
	}

	return b.String()
}

func certName(cert *x509.Certificate) string {
	if cert == nil {
		return "none"
	}
	return fmt.Sprintf("%q", cert.Subject.CommonName)
}

func bundleName(b *credentials.Bundle) string {
	if b == nil {
		return "none"
	}
	return certName(b.Leaf())
}
