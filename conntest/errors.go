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

import (
	"errors"
	"fmt"
)

// ErrTimeout is reported when a scenario exceeds its configured timeout.
var ErrTimeout = errors.New("scenario timed out")

// HandshakeError is returned when the TLS engine rejects the negotiation.
type HandshakeError struct {
	Side Side
	// Info is the session negotiated so far, if the failing side got far
	// enough to report one.
	Info *SessionInfo
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("%s handshake failed: %v", e.Side, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// IOError is returned when the post-handshake line exchange fails.
type IOError struct {
	Side Side
	Op   string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s failed to %s line: %v", e.Side, e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// CapabilityUnsupportedError is returned when a scenario needs something the
// active engine cannot do. Such scenarios are skipped rather than failed.
type CapabilityUnsupportedError struct {
	Capability string
}

func (e *CapabilityUnsupportedError) Error() string {
	return fmt.Sprintf("capability not supported: %s", e.Capability)
}

// ScenarioError attaches diagnostic context to the cause of a scenario
// failure.
type ScenarioError struct {
	Scenario string
	Stage    string
	Params   string
	Err      error
}

func (e *ScenarioError) Error() string {
	name := e.Scenario
	if name == "" {
		name = "scenario"
	}
	return fmt.Sprintf("%s: %s: %v (%s)", name, e.Stage, e.Err, e.Params)
}

func (e *ScenarioError) Unwrap() error { return e.Err }

// Outcome is how a scenario is reported to a test runner.
type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomeFailed
	OutcomeSkipped
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// OutcomeOf classifies the error returned by a scenario run.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeDone
	}

	if errors.Is(err, ErrTimeout) {
		return OutcomeTimeout
	}

	var unsupported *CapabilityUnsupportedError
	if errors.As(err, &unsupported) {
		return OutcomeSkipped
	}

	return OutcomeFailed
}
