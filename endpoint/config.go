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

package endpoint

import (
	"crypto/tls"
	"crypto/x509"
	"slices"

	"github.com/dpeckett/tlsconntest-go/conntest"
	"github.com/dpeckett/tlsconntest-go/credentials"
)

func clientConfig(params *conntest.Parameters) *tls.Config {
	config := &tls.Config{
		MinVersion: tls.VersionTLS12,
		// ServerName is required for SNI (Server Name Indication).
		ServerName: params.ServerName(),
	}

	if params.VerifyPeerCertificate {
		config.RootCAs = trustPool(params.TrustedCA)
	} else {
		config.InsecureSkipVerify = true
	}

	if params.ClientCertificate != nil {
		config.Certificates = []tls.Certificate{params.ClientCertificate.TLSCertificate()}
	}

	if params.ClientCiphers != nil {
		config.CipherSuites = slices.Clone(params.ClientCiphers.Codes)
		config.MaxVersion = params.ClientCiphers.MaxVersion()
	}

	return config
}

func serverConfig(params *conntest.Parameters, identity *credentials.Bundle) *tls.Config {
	if params.ServerCertificate != nil {
		identity = params.ServerCertificate
	}

	config := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{identity.TLSCertificate()},
		CipherSuites: conntest.SupportedCipherSuites(),
		ClientAuth:   clientAuthType(params),
	}

	if params.ServerCiphers != nil {
		config.CipherSuites = slices.Clone(params.ServerCiphers.Codes)
		config.MaxVersion = params.ServerCiphers.MaxVersion()
	}

	if params.VerifyPeerCertificate && params.AskForClientCertificate() {
		config.ClientCAs = trustPool(params.TrustedCA)
	}

	return config
}

func clientAuthType(params *conntest.Parameters) tls.ClientAuthType {
	switch params.ClientAuth {
	case conntest.OptionalClientAuth:
		if params.VerifyPeerCertificate {
			return tls.VerifyClientCertIfGiven
		}
		return tls.RequestClientCert
	case conntest.RequiredClientAuth:
		if params.VerifyPeerCertificate {
			return tls.RequireAndVerifyClientCert
		}
		return tls.RequireAnyClientCert
	default:
		return tls.NoClientCert
	}
}

// trustPool never falls back to the system roots, so verification without a
// trusted CA always fails.
func trustPool(ca *x509.Certificate) *x509.CertPool {
	pool := x509.NewCertPool()
	if ca != nil {
		pool.AddCert(ca)
	}
	return pool
}

func sessionInfo(state tls.ConnectionState) *conntest.SessionInfo {
	if !state.HandshakeComplete {
		return nil
	}

	return &conntest.SessionInfo{
		Version:          state.Version,
		CipherSuite:      state.CipherSuite,
		ServerName:       state.ServerName,
		PeerCertificates: state.PeerCertificates,
		DidResume:        state.DidResume,
	}
}
