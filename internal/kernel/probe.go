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

// Package kernel reports what the running kernel offers for TLS: record
// layer offload (kTLS) and the handshake upcall netlink family.
package kernel

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
)

// Support summarizes kernel TLS features.
type Support struct {
	// KernelTLS is set when the tls upper layer protocol is registered.
	KernelTLS bool
	// HandshakeUpcall is set when the handshake netlink family exists.
	HandshakeUpcall bool
	// HandshakeVersion is the version of the handshake family.
	HandshakeVersion uint8
	// TLSHDGroup is set when the family has a tlshd multicast group.
	TLSHDGroup bool
}

// Probe inspects the running kernel. Missing features are not errors, only
// failures to ask the kernel are.
func Probe(logger *slog.Logger) (Support, error) {
	var support Support

	ok, err := ULPAvailable("tls")
	if err != nil {
		return support, fmt.Errorf("failed to list upper layer protocols: %w", err)
	}
	support.KernelTLS = ok

	conn, family, err := NewNetlinkConn()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug("Handshake netlink family not found")
			return support, nil
		}
		return support, err
	}
	defer conn.Close()

	support.HandshakeUpcall = true
	support.HandshakeVersion = family.Version
	for _, group := range family.Groups {
		if group.Name == HandshakeMCGroupTLSHD {
			support.TLSHDGroup = true
		}
	}

	if family.Version != HandshakeFamilyVersion {
		logger.Warn("Unexpected handshake family version",
			"version", family.Version, "expected", HandshakeFamilyVersion)
	}

	return support, nil
}

// NewNetlinkConn opens a generic netlink connection and resolves the
// handshake family.
func NewNetlinkConn() (*genetlink.Conn, genetlink.Family, error) {
	conn, err := genetlink.Dial(&netlink.Config{Strict: true})
	if err != nil {
		return nil, genetlink.Family{}, fmt.Errorf("failed to dial generic netlink: %w", err)
	}

	family, err := conn.GetFamily(HandshakeFamilyName)
	if err != nil {
		_ = conn.Close()
		return nil, genetlink.Family{}, fmt.Errorf("failed to get %s family: %w", HandshakeFamilyName, err)
	}

	return conn, family, nil
}

// ULPAvailable reports whether the named TCP upper layer protocol is
// registered.
func ULPAvailable(name string) (bool, error) {
	data, err := os.ReadFile(ulpListPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	return slices.Contains(ParseULPs(string(data)), name), nil
}

// ParseULPs splits the contents of tcp_available_ulp.
func ParseULPs(data string) []string {
	return strings.Fields(data)
}
