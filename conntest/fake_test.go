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
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dpeckett/tlsconntest-go/conntest"
)

type fakeEndpoint struct {
	side           conntest.Side
	conn           net.Conn
	info           *conntest.SessionInfo
	handshakeErr   error
	blockHandshake bool
	// handshakeDelay holds back the handshake result.
	handshakeDelay time.Duration
	failSeq        uint64
}

func (e *fakeEndpoint) Side() conntest.Side { return e.side }

func (e *fakeEndpoint) Handshake(ctx context.Context) error {
	if e.blockHandshake {
		<-ctx.Done()
		return ctx.Err()
	}
	time.Sleep(e.handshakeDelay)
	return e.handshakeErr
}

func (e *fakeEndpoint) HandshakeFailureSequence() uint64 { return e.failSeq }

func (e *fakeEndpoint) ConnectionInfo() *conntest.SessionInfo { return e.info }

func (e *fakeEndpoint) NetConn() net.Conn { return e.conn }

func (e *fakeEndpoint) Close() error { return e.conn.Close() }

type fakeConnection struct {
	client *fakeEndpoint
	server *fakeEndpoint
	closes atomic.Int32
}

func newFakeConnection(t *testing.T) *fakeConnection {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
	})

	info := &conntest.SessionInfo{Version: 0x0303, CipherSuite: 0xc030}

	return &fakeConnection{
		client: &fakeEndpoint{side: conntest.SideClient, conn: clientConn, info: info},
		server: &fakeEndpoint{side: conntest.SideServer, conn: serverConn, info: info},
	}
}

func (c *fakeConnection) Client() conntest.Endpoint { return c.client }

func (c *fakeConnection) Server() conntest.Endpoint { return c.server }

func (c *fakeConnection) Close() error {
	c.closes.Add(1)
	return errors.Join(c.client.Close(), c.server.Close())
}

type fakeFactory struct {
	caps    conntest.Capabilities
	newConn func() *fakeConnection

	mu     sync.Mutex
	starts int
	params []*conntest.Parameters
	conns  []*fakeConnection
}

func (f *fakeFactory) Capabilities() conntest.Capabilities { return f.caps }

func (f *fakeFactory) Start(_ context.Context, params *conntest.Parameters) (conntest.Connection, error) {
	conn := f.newConn()

	f.mu.Lock()
	defer f.mu.Unlock()

	f.starts++
	f.params = append(f.params, params)
	f.conns = append(f.conns, conn)

	return conn, nil
}

func (f *fakeFactory) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.starts
}

type observation struct {
	name    string
	outcome conntest.Outcome
	elapsed time.Duration
}

type fakeRecorder struct {
	mu           sync.Mutex
	observations []observation
}

func (r *fakeRecorder) ObserveScenario(name string, outcome conntest.Outcome, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.observations = append(r.observations, observation{name: name, outcome: outcome, elapsed: elapsed})
}

var fullCapabilities = conntest.Capabilities{
	HasConnectionInfo: true,
	CanSelectCiphers:  true,
	HandshakeOnStart:  true,
	CipherSuites:      conntest.SupportedCipherSuites(),
}
