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

package util_test

import (
	"crypto/x509"
	"testing"

	"github.com/dpeckett/tlsconntest-go/internal/util"
	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := util.GenerateSelfSignedCert()
	require.NoError(t, err)

	require.NotNil(t, cert.Leaf)
	require.Len(t, cert.Certificate, 1)
	require.NoError(t, cert.Leaf.VerifyHostname("localhost"))
	require.NoError(t, cert.Leaf.VerifyHostname("127.0.0.1"))
}

func TestAuthority(t *testing.T) {
	ca, err := util.NewAuthority("Test CA")
	require.NoError(t, err)
	require.True(t, ca.Certificate.IsCA)

	roots := x509.NewCertPool()
	roots.AddCert(ca.Certificate)

	for _, keyType := range []util.KeyType{util.KeyTypeRSA, util.KeyTypeECDSA} {
		cert, key, err := ca.IssueServer("localhost", keyType)
		require.NoError(t, err)
		require.NotNil(t, key)

		_, err = cert.Verify(x509.VerifyOptions{
			DNSName: "localhost",
			Roots:   roots,
		})
		require.NoError(t, err)
	}

	cert, _, err := ca.IssueClient("monkey", util.KeyTypeRSA)
	require.NoError(t, err)

	_, err = cert.Verify(x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	require.NoError(t, err)

	_, err = util.GenerateKey(util.KeyType(42))
	require.Error(t, err)
}
