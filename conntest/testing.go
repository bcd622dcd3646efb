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

package conntest

import "testing"

// Check reports the result of a scenario to tb. Scenarios that depend on a
// capability the engine lacks are skipped.
func Check(tb testing.TB, err error) {
	tb.Helper()

	switch OutcomeOf(err) {
	case OutcomeDone:
	case OutcomeSkipped:
		tb.Skip(err)
	case OutcomeTimeout:
		tb.Fatalf("Scenario timed out: %v", err)
	default:
		tb.Fatalf("Scenario failed: %v", err)
	}
}
