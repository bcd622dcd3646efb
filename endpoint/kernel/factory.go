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

// Package kernel starts endpoints whose record layer is offloaded to the
// Linux kernel (kTLS) once the handshake completes.
package kernel

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dpeckett/ktls"
	"github.com/dpeckett/ktls/tls"
	"github.com/dpeckett/tlsconntest-go/conntest"
	"github.com/dpeckett/tlsconntest-go/credentials"
	kernelprobe "github.com/dpeckett/tlsconntest-go/internal/kernel"
	"github.com/dpeckett/tlsconntest-go/internal/loopback"
	"github.com/dpeckett/tlsconntest-go/internal/util"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// ErrUnsupported is returned when the running kernel cannot offload TLS.
var ErrUnsupported = errors.New("kernel TLS is not supported")

var (
	_ conntest.Factory          = (*Factory)(nil)
	_ conntest.FailureSequencer = (*endpoint)(nil)
)

// offloadCipherSuites are the suites the kernel has record layer support for.
var offloadCipherSuites = []uint16{
	tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
}

// Factory starts kTLS offloaded connections over loopback TCP.
type Factory struct {
	logger   *slog.Logger
	identity *credentials.Bundle
}

// New creates a Factory. It fails with ErrUnsupported when the tls upper
// layer protocol is not available.
func New(logger *slog.Logger, identity *credentials.Bundle) (*Factory, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ok, err := kernelprobe.ULPAvailable("tls")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupported, err)
	}
	if !ok {
		return nil, ErrUnsupported
	}

	if identity == nil {
		pair, err := util.GenerateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate default server identity: %w", err)
		}

		if identity, err = credentials.FromTLSCertificate(pair); err != nil {
			return nil, fmt.Errorf("failed to load default server identity: %w", err)
		}
	}

	return &Factory{
		logger:   logger,
		identity: identity,
	}, nil
}

// Capabilities implements conntest.Factory.
func (f *Factory) Capabilities() conntest.Capabilities {
	var suites []uint16
	for _, code := range conntest.SupportedCipherSuites() {
		if slices.Contains(offloadCipherSuites, code) {
			suites = append(suites, code)
		}
	}

	return conntest.Capabilities{
		HasConnectionInfo: true,
		CanSelectCiphers:  true,
		HandshakeOnStart:  true,
		CipherSuites:      suites,
	}
}

// Start implements conntest.Factory.
func (f *Factory) Start(ctx context.Context, params *conntest.Parameters) (conntest.Connection, error) {
	clientRaw, serverRaw, err := loopback.Pair(ctx, "tcp", "")
	if err != nil {
		return nil, fmt.Errorf("failed to connect endpoints: %w", err)
	}

	level := slog.LevelDebug
	if params.EnableDebugging {
		level = slog.LevelInfo
	}

	conn := &connection{}
	conn.client = newEndpoint(conntest.SideClient, clientRaw, tls.Client(clientRaw, clientConfig(params)), &conn.failures, f.logger, level)
	conn.server = newEndpoint(conntest.SideServer, serverRaw, tls.Server(serverRaw, serverConfig(params, f.identity)), &conn.failures, f.logger, level)

	var g errgroup.Group
	for _, ep := range []*endpoint{conn.client, conn.server} {
		g.Go(func() error {
			ep.handshake(ctx)
			return nil
		})
	}
	_ = g.Wait()

	return conn, nil
}

type connection struct {
	client *endpoint
	server *endpoint

	failures atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

func (c *connection) Client() conntest.Endpoint { return c.client }

func (c *connection) Server() conntest.Endpoint { return c.server }

func (c *connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = multierr.Append(c.client.Close(), c.server.Close())
	})
	return c.closeErr
}

type endpoint struct {
	side   conntest.Side
	raw    net.Conn
	conn   *tls.Conn
	logger *slog.Logger
	level  slog.Level

	failures *atomic.Uint64
	done     chan struct{}
	err      error
	failSeq  uint64
}

func newEndpoint(side conntest.Side, raw net.Conn, conn *tls.Conn, failures *atomic.Uint64, logger *slog.Logger, level slog.Level) *endpoint {
	return &endpoint{
		side:     side,
		raw:      raw,
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
		e.failSeq = e.failures.Add(1)
		e.err = err
		e.logger.Log(ctx, e.level, "TLS handshake failed", "error", err)
		_ = e.raw.Close()
		return
	}

	e.logger.Log(ctx, e.level, "TLS handshake complete, enabling kernel TLS",
		"cipherSuite", tls.CipherSuiteName(e.conn.ConnectionState().CipherSuite))

	if err := ktls.Enable(e.conn); err != nil {
		e.failSeq = e.failures.Add(1)
		e.err = fmt.Errorf("failed to enable kernel TLS: %w", err)
		e.logger.Error("Failed to enable kernel TLS", "error", err)
		_ = e.raw.Close()
	}
}

func (e *endpoint) Side() conntest.Side { return e.side }

func (e *endpoint) Handshake(ctx context.Context) error {
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
	state := e.conn.ConnectionState()
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

// NetConn returns the socket itself, the kernel encrypts records written to
// it after offload.
func (e *endpoint) NetConn() net.Conn { return e.raw }

func (e *endpoint) Close() error {
	if err := e.raw.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", e.side, err)
	}
	return nil
}

func clientConfig(params *conntest.Parameters) *tls.Config {
	config := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: params.ServerName(),
	}

	if params.VerifyPeerCertificate {
		config.RootCAs = trustPool(params.TrustedCA)
	} else {
		config.InsecureSkipVerify = true
	}

	if params.ClientCertificate != nil {
		config.Certificates = []tls.Certificate{keyPair(params.ClientCertificate)}
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
		Certificates: []tls.Certificate{keyPair(identity)},
		CipherSuites: offloadCipherSuites,
		// Session tickets would arrive as handshake records on an offloaded
		// socket.
		SessionTicketsDisabled: true,
	}

	if params.ServerCiphers != nil {
		config.CipherSuites = slices.Clone(params.ServerCiphers.Codes)
		config.MaxVersion = params.ServerCiphers.MaxVersion()
	}

	switch params.ClientAuth {
	case conntest.OptionalClientAuth:
		config.ClientAuth = tls.RequestClientCert
		if params.VerifyPeerCertificate {
			config.ClientAuth = tls.VerifyClientCertIfGiven
		}
	case conntest.RequiredClientAuth:
		config.ClientAuth = tls.RequireAnyClientCert
		if params.VerifyPeerCertificate {
			config.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}

	if params.VerifyPeerCertificate && params.AskForClientCertificate() {
		config.ClientCAs = trustPool(params.TrustedCA)
	}

	return config
}

func keyPair(b *credentials.Bundle) tls.Certificate {
	return tls.Certificate{
		Certificate: b.RawChain(),
		PrivateKey:  b.PrivateKey(),
		Leaf:        b.Leaf(),
	}
}

func trustPool(ca *x509.Certificate) *x509.CertPool {
	pool := x509.NewCertPool()
	if ca != nil {
		pool.AddCert(ca)
	}
	return pool
}
