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

// Package loopback connects a pair of sockets through a local listener.
package loopback

import (
	"context"
	"fmt"
	"net"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Pair returns the two ends of a fresh connection. Network is "tcp", which
// listens on 127.0.0.1, or "unix", which listens on a socket inside dir.
func Pair(ctx context.Context, network, dir string) (client, server net.Conn, err error) {
	var address string
	switch network {
	case "tcp":
		address = "127.0.0.1:0"
	case "unix":
		address = filepath.Join(dir, "conntest-"+uuid.NewString()[:8]+".sock")
	default:
		return nil, nil, fmt.Errorf("unsupported network: %s", network)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, network, address)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen: %w", err)
	}
	defer ln.Close()

	g, gctx := errgroup.WithContext(ctx)

	// Closing the listener unblocks Accept if dialing fails or ctx ends.
	stop := context.AfterFunc(gctx, func() {
		_ = ln.Close()
	})
	defer stop()

	g.Go(func() error {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("failed to accept connection: %w", err)
		}
		server = conn
		return nil
	})

	g.Go(func() error {
		var d net.Dialer
		conn, err := d.DialContext(gctx, ln.Addr().Network(), ln.Addr().String())
		if err != nil {
			return fmt.Errorf("failed to dial listener: %w", err)
		}
		client = conn
		return nil
	})

	if err := g.Wait(); err != nil {
		if client != nil {
			_ = client.Close()
		}
		if server != nil {
			_ = server.Close()
		}
		return nil, nil, err
	}

	return client, server, nil
}
