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

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/dpeckett/tlsconntest-go/conntest"
	"github.com/dpeckett/tlsconntest-go/credentials"
	"github.com/dpeckett/tlsconntest-go/endpoint"
	kernelendpoint "github.com/dpeckett/tlsconntest-go/endpoint/kernel"
	"github.com/dpeckett/tlsconntest-go/internal/kernel"
	"github.com/dpeckett/tlsconntest-go/internal/keyring"
	"github.com/dpeckett/tlsconntest-go/internal/metrics"
	"github.com/dpeckett/tlsconntest-go/internal/resources"
	"github.com/dpeckett/tlsconntest-go/internal/suite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	app := &cli.App{
		Name:  "tlsconntest",
		Usage: "Run TLS connection scenarios against a local client and server",
		Flags: []cli.Flag{
			&cli.GenericFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set the log level",
				EnvVars: []string{"TLSCONNTEST_LOG_LEVEL"},
				Value:   fromLogLevel(slog.LevelInfo),
			},
		},
		Before: func(c *cli.Context) error {
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: (*slog.Level)(c.Generic("log-level").(*logLevelFlag)),
			}))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run the scenario catalog",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "engine",
						Usage:   "TLS engine to test (go, kernel)",
						EnvVars: []string{"TLSCONNTEST_ENGINE"},
						Value:   "go",
					},
					&cli.StringFlag{
						Name:  "filter",
						Usage: "Only run scenarios whose name matches this glob",
					},
					&cli.DurationFlag{
						Name:    "timeout",
						Usage:   "Timeout for each scenario",
						EnvVars: []string{"TLSCONNTEST_TIMEOUT"},
						Value:   10 * time.Second,
					},
					&cli.BoolFlag{
						Name:    "debug",
						Usage:   "Enable TLS debugging for every scenario",
						EnvVars: []string{"TLSCONNTEST_DEBUG"},
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Number of scenarios to run at once",
						Value: runtime.NumCPU(),
					},
					&cli.PathFlag{
						Name:  "metrics-file",
						Usage: "Write Prometheus metrics in text format to this file",
					},
					&cli.IntFlag{
						Name:  "server-cert-serial",
						Usage: "Keyring serial of the default server certificate",
					},
					&cli.IntFlag{
						Name:  "server-key-serial",
						Usage: "Keyring serial of the default server private key",
					},
				},
				Action: func(c *cli.Context) error {
					return runScenarios(c, logger)
				},
			},
			{
				Name:  "env",
				Usage: "Report kernel TLS support",
				Action: func(c *cli.Context) error {
					support, err := kernel.Probe(logger)
					if err != nil {
						return fmt.Errorf("failed to probe kernel: %w", err)
					}

					fmt.Fprintf(c.App.Writer, "kernel tls:        %t\n", support.KernelTLS)
					fmt.Fprintf(c.App.Writer, "handshake upcall:  %t\n", support.HandshakeUpcall)
					if support.HandshakeUpcall {
						fmt.Fprintf(c.App.Writer, "handshake version: %d\n", support.HandshakeVersion)
						fmt.Fprintf(c.App.Writer, "tlshd group:       %t\n", support.TLSHDGroup)
					}

					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error("Failed to run application", "error", err)
		os.Exit(1)
	}
}

func runScenarios(c *cli.Context, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	identity, err := serverIdentity(c)
	if err != nil {
		return err
	}

	factory, err := newFactory(c.String("engine"), logger, identity)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return err
	}

	o := conntest.NewOrchestrator(factory, conntest.Config{
		Logger:          logger,
		EnableDebugging: c.Bool("debug"),
		Timeout:         c.Duration("timeout"),
		Metrics:         collector,
	})

	cases, err := suite.Filter(suite.Catalog(resources.Default()), c.String("filter"))
	if err != nil {
		return err
	}

	if len(cases) == 0 {
		return errors.New("no scenarios matched the filter")
	}

	results := suite.Run(ctx, o, cases, c.Int("concurrency"))

	var failed int
	for _, result := range results {
		status := "PASS"
		switch {
		case result.Outcome == conntest.OutcomeSkipped:
			status = "SKIP"
		case !result.Passed:
			status = "FAIL"
			failed++
		}

		line := fmt.Sprintf("%s\t%s\t%s", status, result.Name, result.Elapsed.Round(time.Millisecond))
		if status == "FAIL" && result.Err != nil {
			line += "\t" + result.Err.Error()
		}
		fmt.Fprintln(c.App.Writer, line)
	}

	if path := c.Path("metrics-file"); path != "" {
		if err := prometheus.WriteToTextfile(path, reg); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(results))
	}

	return nil
}

func serverIdentity(c *cli.Context) (*credentials.Bundle, error) {
	certSerial := c.Int("server-cert-serial")
	keySerial := c.Int("server-key-serial")

	if certSerial == 0 && keySerial == 0 {
		return nil, nil
	}

	if certSerial == 0 || keySerial == 0 {
		return nil, errors.New("both --server-cert-serial and --server-key-serial are required")
	}

	identity, err := keyring.LoadBundle(keyring.KeySerial(certSerial), keyring.KeySerial(keySerial))
	if err != nil {
		return nil, fmt.Errorf("failed to load server identity from keyring: %w", err)
	}

	return identity, nil
}

func newFactory(engine string, logger *slog.Logger, identity *credentials.Bundle) (conntest.Factory, error) {
	switch engine {
	case "go":
		opts := []endpoint.Option{endpoint.WithLogger(logger)}
		if identity != nil {
			opts = append(opts, endpoint.WithDefaultServerIdentity(identity))
		}
		factory, err := endpoint.NewFactory(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Go TLS engine: %w", err)
		}
		return factory, nil
	case "kernel":
		factory, err := kernelendpoint.New(logger, identity)
		if err != nil {
			return nil, fmt.Errorf("failed to create kernel TLS engine: %w", err)
		}
		return factory, nil
	default:
		return nil, fmt.Errorf("unknown engine: %s", engine)
	}
}

type logLevelFlag slog.Level

func fromLogLevel(l slog.Level) *logLevelFlag {
	f := logLevelFlag(l)
	return &f
}

func (f *logLevelFlag) Set(value string) error {
	return (*slog.Level)(f).UnmarshalText([]byte(value))
}

func (f *logLevelFlag) String() string {
	return (*slog.Level)(f).String()
}
