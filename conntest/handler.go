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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/dpeckett/tlsconntest-go/internal/linestream"
	"golang.org/x/sync/errgroup"
)

const (
	clientGreeting = "CLIENT HELLO"
	serverReply    = "SERVER OK"
)

// State is the progress of a Handler.
type State int

const (
	StateCreated State = iota
	StateHandshakeInProgress
	StateHandshakeComplete
	StateApplicationExchange
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateHandshakeInProgress:
		return "handshake"
	case StateHandshakeComplete:
		return "handshake-complete"
	case StateApplicationExchange:
		return "exchange"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handler drives a started connection through handshake completion and a
// short line exchange. Failures are never retried.
type Handler struct {
	conn   Connection
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failedIn State
	err      error
}

// NewHandler creates a Handler for conn.
func NewHandler(conn Connection, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		conn:   conn,
		logger: logger,
	}
}

// State returns the current state.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state
}

// FailedIn returns the state the handler was in when it failed.
func (h *Handler) FailedIn() State {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.failedIn
}

// Err returns the failure cause, if any.
func (h *Handler) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.err
}

// Run drives the connection to StateDone, or to StateFailed returning the
// first failure cause. A handler can only be run once.
func (h *Handler) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.state != StateCreated {
		state := h.state
		h.mu.Unlock()
		return fmt.Errorf("handler already run (state %s)", state)
	}
	h.state = StateHandshakeInProgress
	h.mu.Unlock()

	h.logger.Debug("Connection state changed", "state", StateHandshakeInProgress)

	if err := h.handshake(ctx); err != nil {
		return h.fail(err)
	}
	h.transition(StateHandshakeComplete)

	h.transition(StateApplicationExchange)
	if err := h.exchange(ctx); err != nil {
		return h.fail(err)
	}
	h.transition(StateDone)

	return nil
}

func (h *Handler) handshake(ctx context.Context) error {
	endpoints := []Endpoint{h.conn.Client(), h.conn.Server()}
	errs := make([]error, len(endpoints))

	var (
		mu      sync.Mutex
		arrival []int
	)

	g, ctx := errgroup.WithContext(ctx)

	for i, ep := range endpoints {
		g.Go(func() error {
			err := ep.Handshake(ctx)
			if err == nil {
				return nil
			}

			mu.Lock()
			errs[i] = &HandshakeError{Side: ep.Side(), Info: ep.ConnectionInfo(), Err: err}
			arrival = append(arrival, i)
			mu.Unlock()

			return errs[i]
		})
	}

	if err := g.Wait(); err == nil {
		return nil
	}

	first := arrival[0]
	for _, i := range arrival[1:] {
		if failedBefore(endpoints[i], errs[i], endpoints[first], errs[first]) {
			first = i
		}
	}

	return errs[first]
}

// failedBefore reports whether a's handshake failure caused b's. A side that
// is reacting to an alert from its peer, or to the cancellation of the stage,
// never caused the other failure. Otherwise the recorded order decides.
func failedBefore(a Endpoint, aErr error, b Endpoint, bErr error) bool {
	if aReaction, bReaction := isReaction(aErr), isReaction(bErr); aReaction != bReaction {
		return bReaction
	}

	aSeq, bSeq := failureSequence(a), failureSequence(b)
	return aSeq != 0 && bSeq != 0 && aSeq < bSeq
}

func isReaction(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}

	// Alerts received from the peer surface as remote errors.
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "remote error"
}

func failureSequence(ep Endpoint) uint64 {
	if s, ok := ep.(FailureSequencer); ok {
		return s.HandshakeFailureSequence()
	}
	return 0
}

func (h *Handler) exchange(ctx context.Context) error {
	client := linestream.New(h.conn.Client().NetConn())
	server := linestream.New(h.conn.Server().NetConn())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := client.WriteLine(ctx, clientGreeting); err != nil {
			return &IOError{Side: SideClient, Op: "write", Err: err}
		}

		line, err := client.ReadLine(ctx)
		if err != nil {
			return &IOError{Side: SideClient, Op: "read", Err: err}
		}
		if line != serverReply {
			return &IOError{Side: SideClient, Op: "read", Err: fmt.Errorf("unexpected line %q", line)}
		}

		return nil
	})

	g.Go(func() error {
		line, err := server.ReadLine(ctx)
		if err != nil {
			return &IOError{Side: SideServer, Op: "read", Err: err}
		}
		if line != clientGreeting {
			return &IOError{Side: SideServer, Op: "read", Err: fmt.Errorf("unexpected line %q", line)}
		}

		if err := server.WriteLine(ctx, serverReply); err != nil {
			return &IOError{Side: SideServer, Op: "write", Err: err}
		}

		return nil
	})

	return g.Wait()
}

func (h *Handler) transition(state State) {
	h.mu.Lock()
	h.state = state
	h.mu.Unlock()

	h.logger.Debug("Connection state changed", "state", state)
}

func (h *Handler) fail(err error) error {
	h.mu.Lock()
	failedIn := h.state
	h.failedIn = failedIn
	h.state = StateFailed
	h.err = err
	h.mu.Unlock()

	h.logger.Debug("Connection failed", "state", failedIn, "error", err)

	return err
}
