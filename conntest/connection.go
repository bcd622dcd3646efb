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
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"slices"
)

// Side identifies one half of a connection.
type Side int

const (
	SideClient Side = iota
	SideServer
)

func (s Side) String() string {
	if s == SideServer {
		return "server"
	}
	return "client"
}

// SessionInfo is the negotiated state of a completed handshake.
type SessionInfo struct {
	Version          uint16
	CipherSuite      uint16
	ServerName       string
	PeerCertificates []*x509.Certificate
	DidResume        bool
}

// CipherSuiteName returns the standard name of the negotiated cipher suite.
func (i *SessionInfo) CipherSuiteName() string {
	return tls.CipherSuiteName(i.CipherSuite)
}

// Endpoint is one side of a started connection.
type Endpoint interface {
	Side() Side
	// Handshake waits for the handshake of this side to finish and returns
	// its result.
	Handshake(ctx context.Context) error
	// ConnectionInfo returns the negotiated session, or nil when the
	// handshake has not completed or the engine cannot introspect it.
	ConnectionInfo() *SessionInfo
	// NetConn is the application data channel of this side.
	NetConn() net.Conn
	Close() error
}

// FailureSequencer is implemented by endpoints that record when their
// handshake failed relative to the peer. Lower values failed first; zero
// means the handshake has not failed.
type FailureSequencer interface {
	HandshakeFailureSequence() uint64
}

// Connection is a client and server pair produced by a Factory. Closing the
// connection closes both sides.
type Connection interface {
	Client() Endpoint
	Server() Endpoint
	Close() error
}

// Capabilities describes what a Factory's engine supports. It is fixed when
// the factory is constructed.
type Capabilities struct {
	// HasConnectionInfo is set when endpoints can report a SessionInfo.
	HasConnectionInfo bool
	// CanSelectCiphers is set when cipher suite restrictions are honored.
	CanSelectCiphers bool
	// HandshakeOnStart is set when Start returns only once both sides have
	// finished the handshake, so session info is available to assertion
	// hooks.
	HandshakeOnStart bool
	// CipherSuites lists the restrictable suites the engine can negotiate.
	CipherSuites []uint16
}

// Requirements are the capabilities a scenario depends on.
type Requirements struct {
	ConnectionInfo  bool
	CipherSelection bool
	CipherSuites    []uint16
}

// Check returns a CapabilityUnsupportedError naming the first requirement
// the capabilities do not meet.
func (c Capabilities) Check(r Requirements) error {
	if r.ConnectionInfo {
		if !c.HasConnectionInfo {
			return &CapabilityUnsupportedError{Capability: "HasConnectionInfo"}
		}
		if !c.HandshakeOnStart {
			return &CapabilityUnsupportedError{Capability: "HandshakeOnStart"}
		}
	}

	if r.CipherSelection || len(r.CipherSuites) > 0 {
		if !c.CanSelectCiphers {
			return &CapabilityUnsupportedError{Capability: "CanSelectCiphers"}
		}
	}

	for _, code := range r.CipherSuites {
		if !slices.Contains(c.CipherSuites, code) {
			return &CapabilityUnsupportedError{Capability: "CipherSuite(" + tls.CipherSuiteName(code) + ")"}
		}
	}

	return nil
}

// Factory constructs connected client and server endpoints.
type Factory interface {
	Capabilities() Capabilities
	// Start builds both endpoints from params over a shared transport and
	// initiates the handshake. Handshake failures are not returned by Start,
	// they are reported by the endpoints.
	Start(ctx context.Context, params *Parameters) (Connection, error)
}

// SupportedCipherSuites returns the TLS 1.2 cipher suites exercised by the
// harness.
func SupportedCipherSuites() []uint16 {
	return []uint16{
		// AEAD suites with forward secrecy.
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,

		// Legacy RSA key exchange.
		tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_RSA_WITH_AES_256_GCM_SHA384,

		// CBC suites.
		tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
		tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
		tls.TLS_RSA_WITH_AES_256_CBC_SHA,
		tls.TLS_RSA_WITH_AES_128_CBC_SHA,
	}
}
