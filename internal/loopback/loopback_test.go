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

package loopback_test

import (
	"context"
	"io"
	"testing"

	"github.com/dpeckett/tlsconntest-go/internal/loopback"
	"github.com/stretchr/testify/require"
)

func TestPair(t *testing.T) {
	for _, network := range []string{"tcp", "unix"} {
		t.Run(network, func(t *testing.T) {
			client, server, err := loopback.Pair(context.Background(), network, t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() {
				_ = client.Close()
				_ = server.Close()
			})

			_, err = io.WriteString(client, "ping")
			require.NoError(t, err)

			buf := make([]byte, 4)
			_, err = io.ReadFull(server, buf)
			require.NoError(t, err)
			require.Equal(t, "ping", string(buf))
		})
	}
}

func TestPairUnsupportedNetwork(t *testing.T) {
	_, _, err := loopback.Pair(context.Background(), "udp", "")
	require.ErrorContains(t, err, "unsupported network")
}

func TestPairCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := loopback.Pair(ctx, "tcp", "")
	require.Error(t, err)
}
