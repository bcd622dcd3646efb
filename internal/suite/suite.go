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

// Package suite is the catalog of connection scenarios run by the harness.
package suite

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dpeckett/tlsconntest-go/conntest"
	"github.com/dpeckett/tlsconntest-go/credentials"
	"github.com/dpeckett/tlsconntest-go/internal/resources"
	"golang.org/x/sync/errgroup"
)

// Expectation is the result a case must produce to pass.
type Expectation int

const (
	ExpectDone Expectation = iota
	ExpectHandshakeError
)

// Case is a scenario with its expected result.
type Case struct {
	conntest.Scenario
	Expect Expectation
}

// Result is the evaluated result of a case.
type Result struct {
	Name    string
	Outcome conntest.Outcome
	// Passed is set when the outcome met the expectation. Skipped cases
	// neither pass nor fail.
	Passed  bool
	Err     error
	Elapsed time.Duration
}

// Catalog returns every scenario, building identities from res.
func Catalog(res *resources.Provider) []Case {
	cases := []Case{
		{Scenario: conntest.Scenario{
			Name: "Simple",
			Params: func() (*conntest.Parameters, error) {
				return &conntest.Parameters{VerifyPeerCertificate: false}, nil
			},
		}},
		{Scenario: conntest.Scenario{
			Name:   "Simple_VerifyCertificate",
			Params: verified(res, nil),
		}},
		{Scenario: conntest.Scenario{
			Name: "Simple_AskForCertificate",
			Params: verified(res, func(p *conntest.Parameters) error {
				p.SetAskForClientCertificate(true)
				return nil
			}),
		}},
		{Scenario: conntest.Scenario{
			Name: "Simple_RequireCertificate",
			Params: verified(res, func(p *conntest.Parameters) (err error) {
				p.SetRequireClientCertificate(true)
				p.ClientCertificate, err = load(res.MonkeyCertificate)
				return err
			}),
		}},
		{Scenario: conntest.Scenario{
			Name: "CheckCipherSuite",
			Params: func() (*conntest.Parameters, error) {
				return &conntest.Parameters{VerifyPeerCertificate: false}, nil
			},
			Requires: conntest.Requirements{ConnectionInfo: true},
			Hook:     checkSessionAgreement,
		}},
		{Scenario: conntest.Scenario{
			Name: "VerifyCertificate_NoTrustedCA",
			Params: verified(res, func(p *conntest.Parameters) error {
				p.TrustedCA = nil
				return nil
			}),
		}, Expect: ExpectHandshakeError},
		{Scenario: conntest.Scenario{
			Name: "RequireCertificate_NoClientCertificate",
			Params: verified(res, func(p *conntest.Parameters) error {
				p.SetRequireClientCertificate(true)
				return nil
			}),
		}, Expect: ExpectHandshakeError},
	}

	for _, code := range conntest.SupportedCipherSuites() {
		cases = append(cases, CipherCase(res, code))
	}

	return cases
}

// CipherCase restricts the client to a single TLS 1.2 suite and checks the
// server negotiated it.
func CipherCase(res *resources.Provider, code uint16) Case {
	return Case{Scenario: conntest.Scenario{
		Name: "TestAllCiphers/" + tls.CipherSuiteName(code),
		Params: func() (*conntest.Parameters, error) {
			p := &conntest.Parameters{
				VerifyPeerCertificate: false,
				ClientCiphers:         conntest.NewCipherSuiteSet(tls.VersionTLS12, code),
			}

			if strings.Contains(tls.CipherSuiteName(code), "_ECDSA_") {
				var err error
				if p.ServerCertificate, err = load(res.ECDSAServerCertificateFromCA); err != nil {
					return nil, err
				}
			}

			return p, nil
		},
		Requires: conntest.Requirements{
			ConnectionInfo: true,
			CipherSuites:   []uint16{code},
		},
		Hook: expectCipher(code),
	}}
}

// Filter returns the cases whose name matches pattern, using path.Match
// syntax. An empty pattern matches everything.
func Filter(cases []Case, pattern string) ([]Case, error) {
	if pattern == "" {
		return cases, nil
	}

	var matched []Case
	for _, c := range cases {
		ok, err := path.Match(pattern, c.Name)
		if err != nil {
			return nil, fmt.Errorf("invalid filter: %w", err)
		}
		if ok {
			matched = append(matched, c)
		}
	}

	return matched, nil
}

// Run runs the cases with at most concurrency scenarios in flight. Results
// are returned in catalog order.
func Run(ctx context.Context, o *conntest.Orchestrator, cases []Case, concurrency int) []Result {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]Result, len(cases))

	var g errgroup.Group
	g.SetLimit(concurrency)

	for i, c := range cases {
		g.Go(func() error {
			start := time.Now()
			err := o.Run(ctx, c.Scenario)
			result := Evaluate(c, err)
			result.Elapsed = time.Since(start)

			results[i] = result

			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Evaluate checks err against the expectation of c.
func Evaluate(c Case, err error) Result {
	result := Result{
		Name:    c.Name,
		Outcome: conntest.OutcomeOf(err),
		Err:     err,
	}

	switch result.Outcome {
	case conntest.OutcomeSkipped:
		return result
	case conntest.OutcomeTimeout:
		return result
	}

	switch c.Expect {
	case ExpectHandshakeError:
		var handshakeErr *conntest.HandshakeError
		result.Passed = errors.As(err, &handshakeErr)
		if err == nil {
			result.Err = errors.New("expected a handshake error, but the connection succeeded")
		}
	default:
		result.Passed = err == nil
	}

	return result
}

func verified(res *resources.Provider, mutate func(p *conntest.Parameters) error) func() (*conntest.Parameters, error) {
	return func() (*conntest.Parameters, error) {
		caDER, err := res.LocalCACertificate()
		if err != nil {
			return nil, err
		}

		ca, err := credentials.ParseCertificate(caDER)
		if err != nil {
			return nil, err
		}

		server, err := load(res.ServerCertificateFromCA)
		if err != nil {
			return nil, err
		}

		p := &conntest.Parameters{
			VerifyPeerCertificate: true,
			TrustedCA:             ca,
			ServerCertificate:     server,
		}

		if mutate != nil {
			if err := mutate(p); err != nil {
				return nil, err
			}
		}

		return p, nil
	}
}

func load(get func() (resources.Resource, error)) (*credentials.Bundle, error) {
	r, err := get()
	if err != nil {
		return nil, err
	}
	return r.Load()
}

func checkSessionAgreement(conn conntest.Connection) error {
	server := conn.Server().ConnectionInfo()
	if server == nil {
		return errors.New("server reported no connection info")
	}

	client := conn.Client().ConnectionInfo()
	if client == nil {
		return errors.New("client reported no connection info")
	}

	if server.CipherSuite != client.CipherSuite {
		return fmt.Errorf("cipher suite mismatch: client %s, server %s",
			client.CipherSuiteName(), server.CipherSuiteName())
	}

	if len(client.PeerCertificates) == 0 {
		return errors.New("client saw no server certificate")
	}

	return nil
}

func expectCipher(code uint16) conntest.AssertionHook {
	return func(conn conntest.Connection) error {
		info := conn.Server().ConnectionInfo()
		if info == nil {
			return errors.New("server reported no connection info")
		}

		if info.CipherSuite != code {
			return fmt.Errorf("negotiated %s, expected %s", info.CipherSuiteName(), tls.CipherSuiteName(code))
		}

		return nil
	}
}
