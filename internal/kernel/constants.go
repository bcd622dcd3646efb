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

package kernel

// Generic netlink family used by the kernel to upcall TLS handshakes to a
// user space agent (tlshd).
const (
	HandshakeFamilyName    = "handshake"
	HandshakeFamilyVersion = 1
	HandshakeMCGroupTLSHD  = "tlshd"
)

// ulpListPath lists the TCP upper layer protocols registered with the kernel.
const ulpListPath = "/proc/sys/net/ipv4/tcp_available_ulp"
