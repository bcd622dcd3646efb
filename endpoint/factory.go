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

// Package endpoint starts client and server endpoints on the Go TLS stack,
// connected over a local socket.
package endpoint

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dpeckett/tlsconntest-go/conntest"
	"github.com/dpeckett/tlsconntest-go/credentials"
	"github.com/dpeckett/tlsconntest-go/internal/loopback"
	"github.com/dpeckett/tlsconntest-go/internal/util"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var (
	_ conntest.Factory          = (*Factory)(nil)
	_ conntest.FailureSequencer = (*endpoint)(nil)
)

// Option configures a Factory.
type Option func(*Factory)

// WithLogger sets the logger used for endpoint events.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithDefaultServerIdentity sets the identity presented by the server when
// the parameters carry no server certificate.
func WithDefaultServerIdentity(identity *credentials.Bundle) Option {
	return func(f *Factory) {
		f.identity = identity
	}
}

// WithNetwork selects the transport, "tcp" on the loopback interface or
// "unix" with sockets created in dir.
func WithNetwork(network, dir string) Option {
	return func(f *Factory) {
		f.network = network
		f.dir = dir
	}
}

// Factory starts connections on crypto/tls. Start completes the handshake
// on both sides before returning.
type Factory struct {
	logger   *slog.Logger
	identity *credentials.Bundle
	network  string
	dir      string
}

// NewFactory creates a Factory. Without a default server identity an
// ephemeral self-signed certificate for localhost is generated.
func NewFactory(opts ...Option) (*Factory, error) {
	f := &Factory{
		logger:  slog.Default(),
		network: "tcp",
		dir:     os.TempDir(),
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.identity == nil {
		pair, err := util.GenerateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate default server identity: %w", err)
		}

		if f.identity, err = credentials.FromTLSCertificate(pair); err != nil {
			return nil, fmt.Errorf("failed to load default server identity: %w", err)
		}
	}

	return f, nil
}

// Capabilities implements conntest.Factory.
func (f *Factory) Capabilities() conntest.Capabilities {
	return conntest.Capabilities{
		HasConnectionInfo: true,
		CanSelectCiphers:  true,
		HandshakeOnStart:  true,
		CipherSuites:      conntest.SupportedCipherSuites(),
	}
}

// Start implements conntest.Factory.
func (f *Factory) Start(ctx context.Context, params *conntest.Parameters) (conntest.Connection, error) {
	clientRaw, serverRaw, err := loopback.Pair(ctx, f.network, f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to connect endpoints: %w", err)
	}

	level := slog.LevelDebug
	if params.EnableDebugging {
		level = slog.LevelInfo
	}

	conn := &connection{}
	conn.client = newEndpoint(conntest.SideClient, tls.Client(clientRaw, clientConfig(params)), &conn.failures, f.logger, level)
	conn.server = newEndpoint(conntest.SideServer, tls.Server(serverRaw, serverConfig(params, f.identity)), &conn.failures, f.logger, level)

	conn.handshake(ctx)

	return conn, nil
}

type connection struct {
	client *endpoint
	server *endpoint

	// failures orders the handshake failures of both sides.
	failures atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

func (c *connection) Client() conntest.Endpoint { return c.client }

func (c *connection) Server() conntest.Endpoint { return c.server }

// handshake runs both sides to completion. Results are kept by the
// endpoints.
func (c *connection) handshake(ctx context.Context) {
	var g errgroup.Group
	for _, ep := range []*endpoint{c.client, c.server} {
		g.Go(func() error {
			ep.handshake(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = multierr.Append(c.client.Close(), c.server.Close())
	})
	return c.closeErr
}

type endpoint struct {
	side   conntest.Side
	conn   *tls.Conn
	logger *slog.Logger
	level  slog.Level

	failures *atomic.Uint64
	done     chan struct{}
	err      error
	failSeq  uint64
}

func newEndpoint(side conntest.Side, conn *tls.Conn, failures *atomic.Uint64, logger *slog.Logger, level slog.Level) *endpoint {
	return &endpoint{
		side:     side,
		conn:     conn,
		logger:   logger.With("side", side),
		level:    level,
		failures: failures,
		done:     make(chan struct{}),
	}
}

func (e *endpoint) handshake(ctx context.Context) {
	defer close(e.done)

	if err := e.conn.HandshakeContext(ctx); err != nil {
		// Taken before the transport is closed below, so a peer that fails
		// on the closed transport is always ordered after us.
		e.failSeq = e.failures.Add(1)
		e.err = err
		e.logger.Log(ctx, e.level, "TLS handshake failed", "error", err)

		// Make sure the peer is not left waiting on a flight that will
		// never arrive.
		_ = e.conn.NetConn().Close()
		return
	}

	state := e.conn.ConnectionState()
	e.logger.Log(ctx, e.level, "TLS handshake complete",
		"version", tls.VersionName(state.Version),
		"cipherSuite", tls.CipherSuiteName(state.CipherSuite),
		"peerCertificates", len(state.PeerCertificates))
}

func (e *endpoint) Side() conntest.Side { return e.side }

func (e *endpoint) Handshake(ctx context.Context) error {
	// A finished handshake reports its own result even under a cancelled
	// context.
	select {
	case <-e.done:
		return e.err
	default:
	}

	select {
	case <-e.done:
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandshakeFailureSequence implements conntest.FailureSequencer.
func (e *endpoint) HandshakeFailureSequence() uint64 {
	select {
	case <-e.done:
		return e.failSeq
	default:
		return 0
	}
}

func (e *endpoint) ConnectionInfo() *conntest.SessionInfo {
	return sessionInfo(e.conn.ConnectionState())
}

func (e *endpoint) NetConn() net.Conn { return e.conn }

func (e *endpoint) Close() error {
	if err := e.conn.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", e.side, err)
	}
	return nil
}
