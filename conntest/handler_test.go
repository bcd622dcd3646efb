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

package conntest_test

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/dpeckett/tlsconntest-go/conntest"
	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	t.Run("Done", func(t *testing.T) {
		conn := newFakeConnection(t)

		h := conntest.NewHandler(conn, nil)
		require.Equal(t, conntest.StateCreated, h.State())

		require.NoError(t, h.Run(context.Background()))
		require.Equal(t, conntest.StateDone, h.State())
		require.NoError(t, h.Err())
	})

	t.Run("HandshakeFailure", func(t *testing.T) {
		conn := newFakeConnection(t)
		conn.server.handshakeErr = errors.New("tls: bad certificate")
		conn.server.info = nil

		h := conntest.NewHandler(conn, nil)
		err := h.Run(context.Background())

		var handshakeErr *conntest.HandshakeError
		require.ErrorAs(t, err, &handshakeErr)
		require.Equal(t, conntest.SideServer, handshakeErr.Side)
		require.Nil(t, handshakeErr.Info)

		require.Equal(t, conntest.StateFailed, h.State())
		require.Equal(t, conntest.StateHandshakeInProgress, h.FailedIn())
		require.Equal(t, err, h.Err())
	})

	t.Run("EarliestHandshakeFailure", func(t *testing.T) {
		conn := newFakeConnection(t)
		conn.client.handshakeErr = errors.New("x509: certificate has expired")
		conn.client.failSeq = 1
		conn.client.handshakeDelay = 50 * time.Millisecond
		conn.server.handshakeErr = io.EOF
		conn.server.failSeq = 2

		h := conntest.NewHandler(conn, nil)
		err := h.Run(context.Background())

		var handshakeErr *conntest.HandshakeError
		require.ErrorAs(t, err, &handshakeErr)
		require.Equal(t, conntest.SideClient, handshakeErr.Side)
		require.ErrorContains(t, err, "x509")
	})

	t.Run("PeerAlertIsNotTheCause", func(t *testing.T) {
		conn := newFakeConnection(t)
		conn.client.handshakeErr = errors.New("x509: certificate signed by unknown authority")
		conn.client.failSeq = 2
		conn.client.handshakeDelay = 50 * time.Millisecond
		conn.server.handshakeErr = &net.OpError{Op: "remote error", Err: errors.New("tls: bad certificate")}
		conn.server.failSeq = 1

		h := conntest.NewHandler(conn, nil)
		err := h.Run(context.Background())

		var handshakeErr *conntest.HandshakeError
		require.ErrorAs(t, err, &handshakeErr)
		require.Equal(t, conntest.SideClient, handshakeErr.Side)
		require.ErrorContains(t, err, "unknown authority")
	})

	t.Run("UnexpectedReply", func(t *testing.T) {
		clientConn, clientPeer := net.Pipe()
		serverConn, serverPeer := net.Pipe()
		t.Cleanup(func() {
			for _, c := range []net.Conn{clientConn, clientPeer, serverConn, serverPeer} {
				_ = c.Close()
			}
		})

		// A peer that answers the client with the wrong reply.
		go func() {
			buf := make([]byte, 64)
			if _, err := clientPeer.Read(buf); err != nil {
				return
			}
			_, _ = io.WriteString(clientPeer, "SERVER NOPE\r\n")
		}()

		// A well behaved client talking to the server.
		go func() {
			if _, err := io.WriteString(serverPeer, "CLIENT HELLO\r\n"); err != nil {
				return
			}
			buf := make([]byte, 64)
			_, _ = serverPeer.Read(buf)
		}()

		conn := &fakeConnection{
			client: &fakeEndpoint{side: conntest.SideClient, conn: clientConn},
			server: &fakeEndpoint{side: conntest.SideServer, conn: serverConn},
		}

		h := conntest.NewHandler(conn, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		t.Cleanup(cancel)

		err := h.Run(ctx)

		var ioErr *conntest.IOError
		require.ErrorAs(t, err, &ioErr)
		require.Equal(t, conntest.SideClient, ioErr.Side)
		require.Equal(t, "read", ioErr.Op)
		require.Contains(t, ioErr.Error(), "SERVER NOPE")

		require.Equal(t, conntest.StateApplicationExchange, h.FailedIn())
	})

	t.Run("PeerClosed", func(t *testing.T) {
		conn := newFakeConnection(t)
		require.NoError(t, conn.server.conn.Close())

		h := conntest.NewHandler(conn, nil)
		err := h.Run(context.Background())

		var ioErr *conntest.IOError
		require.ErrorAs(t, err, &ioErr)
		require.Equal(t, conntest.StateApplicationExchange, h.FailedIn())
	})

	t.Run("RunTwice", func(t *testing.T) {
		conn := newFakeConnection(t)

		h := conntest.NewHandler(conn, nil)
		require.NoError(t, h.Run(context.Background()))
		require.Error(t, h.Run(context.Background()))
		require.Equal(t, conntest.StateDone, h.State())
	})

	t.Run("ConcurrentRun", func(t *testing.T) {
		conn := newFakeConnection(t)
		h := conntest.NewHandler(conn, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		t.Cleanup(cancel)

		errs := make(chan error, 2)
		for i := 0; i < 2; i++ {
			go func() {
				errs <- h.Run(ctx)
			}()
		}

		var succeeded int
		for i := 0; i < 2; i++ {
			if err := <-errs; err == nil {
				succeeded++
			} else {
				require.ErrorContains(t, err, "already run")
			}
		}

		require.Equal(t, 1, succeeded)
		require.Equal(t, conntest.StateDone, h.State())
	})
}
