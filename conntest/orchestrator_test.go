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
	"testing"
	"time"

	"github.com/dpeckett/tlsconntest-go/conntest"
	"github.com/dpeckett/tlsconntest-go/credentials"
	"github.com/stretchr/testify/require"
)

func TestOrchestrator(t *testing.T) {
	simple := func() (*conntest.Parameters, error) {
		return &conntest.Parameters{}, nil
	}

	t.Run("Done", func(t *testing.T) {
		factory := &fakeFactory{caps: fullCapabilities, newConn: func() *fakeConnection { return newFakeConnection(t) }}
		recorder := &fakeRecorder{}

		o := conntest.NewOrchestrator(factory, conntest.Config{Metrics: recorder})

		err := o.Run(context.Background(), conntest.Scenario{
			Name:     "Simple",
			Params:   simple,
			Requires: conntest.Requirements{ConnectionInfo: true},
			Hook: func(conn conntest.Connection) error {
				require.NotNil(t, conn.Server().ConnectionInfo())
				return nil
			},
		})
		conntest.Check(t, err)

		require.Equal(t, 1, factory.Starts())
		require.Equal(t, int32(1), factory.conns[0].closes.Load())

		require.Len(t, recorder.observations, 1)
		require.Equal(t, "Simple", recorder.observations[0].name)
		require.Equal(t, conntest.OutcomeDone, recorder.observations[0].outcome)
	})

	t.Run("HandshakeFailure", func(t *testing.T) {
		factory := &fakeFactory{caps: fullCapabilities, newConn: func() *fakeConnection {
			conn := newFakeConnection(t)
			conn.client.handshakeErr = errors.New("x509: certificate signed by unknown authority")
			return conn
		}}

		o := conntest.NewOrchestrator(factory, conntest.Config{})

		err := o.Run(context.Background(), conntest.Scenario{Name: "VerifyCertificate_NoTrustedCA", Params: simple})

		var scenarioErr *conntest.ScenarioError
		require.ErrorAs(t, err, &scenarioErr)
		require.Equal(t, "VerifyCertificate_NoTrustedCA", scenarioErr.Scenario)
		require.Equal(t, "handshake", scenarioErr.Stage)
		require.Contains(t, scenarioErr.Params, "verify=false")

		var handshakeErr *conntest.HandshakeError
		require.ErrorAs(t, err, &handshakeErr)
		require.Equal(t, conntest.SideClient, handshakeErr.Side)

		require.Equal(t, conntest.OutcomeFailed, conntest.OutcomeOf(err))
		require.Equal(t, int32(1), factory.conns[0].closes.Load())
	})

	t.Run("HookError", func(t *testing.T) {
		factory := &fakeFactory{caps: fullCapabilities, newConn: func() *fakeConnection { return newFakeConnection(t) }}
		o := conntest.NewOrchestrator(factory, conntest.Config{})

		hookErr := errors.New("cipher suite mismatch")
		err := o.Run(context.Background(), conntest.Scenario{
			Name:   "CheckCipherSuite",
			Params: simple,
			Hook: func(conntest.Connection) error {
				return hookErr
			},
		})
		require.ErrorIs(t, err, hookErr)

		var scenarioErr *conntest.ScenarioError
		require.ErrorAs(t, err, &scenarioErr)
		require.Equal(t, "assertion", scenarioErr.Stage)
		require.Equal(t, int32(1), factory.conns[0].closes.Load())
	})

	t.Run("HookPanic", func(t *testing.T) {
		factory := &fakeFactory{caps: fullCapabilities, newConn: func() *fakeConnection { return newFakeConnection(t) }}
		o := conntest.NewOrchestrator(factory, conntest.Config{})

		err := o.Run(context.Background(), conntest.Scenario{
			Name:   "CheckCipherSuite",
			Params: simple,
			Hook: func(conntest.Connection) error {
				panic("unexpected nil session")
			},
		})
		require.ErrorContains(t, err, "unexpected nil session")
		require.Equal(t, conntest.OutcomeFailed, conntest.OutcomeOf(err))
		require.Equal(t, int32(1), factory.conns[0].closes.Load())
	})

	t.Run("Timeout", func(t *testing.T) {
		factory := &fakeFactory{caps: fullCapabilities, newConn: func() *fakeConnection {
			conn := newFakeConnection(t)
			conn.server.blockHandshake = true
			return conn
		}}
		recorder := &fakeRecorder{}

		o := conntest.NewOrchestrator(factory, conntest.Config{
			Timeout: 50 * time.Millisecond,
			Metrics: recorder,
		})

		err := o.Run(context.Background(), conntest.Scenario{Name: "Simple", Params: simple})
		require.ErrorIs(t, err, conntest.ErrTimeout)
		require.Equal(t, conntest.OutcomeTimeout, conntest.OutcomeOf(err))

		require.Equal(t, int32(1), factory.conns[0].closes.Load())
		require.Equal(t, conntest.OutcomeTimeout, recorder.observations[0].outcome)
	})

	t.Run("CapabilityUnsupported", func(t *testing.T) {
		factory := &fakeFactory{caps: conntest.Capabilities{}, newConn: func() *fakeConnection { return newFakeConnection(t) }}
		recorder := &fakeRecorder{}

		o := conntest.NewOrchestrator(factory, conntest.Config{Metrics: recorder})

		err := o.Run(context.Background(), conntest.Scenario{
			Name:     "CheckCipherSuite",
			Params:   simple,
			Requires: conntest.Requirements{ConnectionInfo: true},
		})
		require.Equal(t, conntest.OutcomeSkipped, conntest.OutcomeOf(err))
		require.Zero(t, factory.Starts())
		require.Equal(t, conntest.OutcomeSkipped, recorder.observations[0].outcome)
	})

	t.Run("ParametersError", func(t *testing.T) {
		factory := &fakeFactory{caps: fullCapabilities, newConn: func() *fakeConnection { return newFakeConnection(t) }}
		o := conntest.NewOrchestrator(factory, conntest.Config{})

		err := o.Run(context.Background(), conntest.Scenario{
			Name: "Simple_RequireCertificate",
			Params: func() (*conntest.Parameters, error) {
				client, err := credentials.Load([]byte("not a pfx"), "monkey")
				if err != nil {
					return nil, err
				}
				return &conntest.Parameters{ClientCertificate: client}, nil
			},
		})

		var scenarioErr *conntest.ScenarioError
		require.ErrorAs(t, err, &scenarioErr)
		require.Equal(t, "parameters", scenarioErr.Stage)

		var credErr *credentials.CredentialError
		require.ErrorAs(t, err, &credErr)
		require.Equal(t, conntest.OutcomeFailed, conntest.OutcomeOf(err))
		require.Zero(t, factory.Starts())
	})

	t.Run("DebugOverride", func(t *testing.T) {
		factory := &fakeFactory{caps: fullCapabilities, newConn: func() *fakeConnection { return newFakeConnection(t) }}
		o := conntest.NewOrchestrator(factory, conntest.Config{EnableDebugging: true})

		params := &conntest.Parameters{}
		require.NoError(t, o.RunScenario(context.Background(), params, nil))

		require.True(t, factory.params[0].EnableDebugging)
		require.False(t, params.EnableDebugging)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		factory := &fakeFactory{caps: fullCapabilities, newConn: func() *fakeConnection {
			conn := newFakeConnection(t)
			conn.client.blockHandshake = true
			return conn
		}}
		o := conntest.NewOrchestrator(factory, conntest.Config{})

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		err := o.RunScenario(ctx, &conntest.Parameters{}, nil)
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, conntest.OutcomeFailed, conntest.OutcomeOf(err))
		require.Equal(t, int32(1), factory.conns[0].closes.Load())
	})
}
