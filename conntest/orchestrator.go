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
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder receives the outcome of every scenario.
type Recorder interface {
	ObserveScenario(name string, outcome Outcome, elapsed time.Duration)
}

// Config is the ambient configuration of an Orchestrator.
type Config struct {
	Logger *slog.Logger
	// EnableDebugging turns on debugging for every scenario, regardless of
	// the scenario's own parameters.
	EnableDebugging bool
	// Timeout bounds each scenario. Zero means no bound.
	Timeout time.Duration
	Metrics Recorder
}

// AssertionHook inspects a started connection before the handler runs.
type AssertionHook func(conn Connection) error

// Scenario is a named connection test.
type Scenario struct {
	Name string
	// Params builds fresh parameters, including certificate bundles, for
	// each run.
	Params   func() (*Parameters, error)
	Requires Requirements
	Hook     AssertionHook
}

// Orchestrator runs scenarios against a Factory.
type Orchestrator struct {
	factory Factory
	caps    Capabilities
	cfg     Config
	logger  *slog.Logger
}

// NewOrchestrator creates an Orchestrator. The factory capabilities are
// read once.
func NewOrchestrator(factory Factory, cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		factory: factory,
		caps:    factory.Capabilities(),
		cfg:     cfg,
		logger:  logger,
	}
}

// Capabilities returns the capabilities of the underlying factory.
func (o *Orchestrator) Capabilities() Capabilities {
	return o.caps
}

// Run checks the scenario requirements, builds its parameters and runs it.
// Scenarios with unmet requirements are skipped before any I/O.
func (o *Orchestrator) Run(ctx context.Context, sc Scenario) error {
	start := time.Now()
	logger := o.logger.With("scenario", sc.Name)

	if err := o.caps.Check(sc.Requires); err != nil {
		return o.finish(ctx, logger, sc.Name, "capabilities", nil, start, err)
	}

	params, err := sc.Params()
	if err != nil {
		return o.finish(ctx, logger, sc.Name, "parameters", nil, start, err)
	}

	return o.run(ctx, logger, sc.Name, params, sc.Hook)
}

// RunScenario runs a single connection attempt with params. If hook is not
// nil it is called with the live connection before the handler drives it.
func (o *Orchestrator) RunScenario(ctx context.Context, params *Parameters, hook AssertionHook) error {
	return o.run(ctx, o.logger, "", params, hook)
}

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, name string, params *Parameters, hook AssertionHook) (err error) {
	start := time.Now()
	logger = logger.With("id", uuid.NewString())

	params = params.Clone()
	if o.cfg.EnableDebugging {
		params.EnableDebugging = true
	}

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	stage := "start"
	defer func() {
		err = o.finish(ctx, logger, name, stage, params, start, err)
	}()

	logger.Debug("Starting connection", "params", params)

	conn, err := o.factory.Start(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to start connection: %w", err)
	}

	release := sync.OnceValue(conn.Close)
	stopForceClose := context.AfterFunc(ctx, func() {
		logger.Debug("Force closing connection")
		_ = release()
	})
	defer func() {
		stopForceClose()
		if err := release(); err != nil {
			logger.Debug("Failed to close connection", "error", err)
		}
	}()

	if hook != nil {
		stage = "assertion"
		if err := callHook(hook, conn); err != nil {
			return err
		}
	}

	h := NewHandler(conn, logger)
	if err := h.Run(ctx); err != nil {
		stage = h.FailedIn().String()
		return err
	}

	return nil
}

func callHook(hook AssertionHook, conn Connection) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("assertion hook panicked: %v", r)
		}
	}()

	return hook(conn)
}

func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, name, stage string, params *Parameters, start time.Time, err error) error {
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	outcome := OutcomeOf(err)
	elapsed := time.Since(start)

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.ObserveScenario(name, outcome, elapsed)
	}

	switch outcome {
	case OutcomeDone:
		logger.Info("Scenario passed", "elapsed", elapsed)
		return nil
	case OutcomeSkipped:
		logger.Info("Scenario skipped", "reason", err)
	default:
		logger.Error("Scenario failed",
			"outcome", outcome, "stage", stage,
			"errorType", fmt.Sprintf("%T", err), "error", err)
	}

	summary := "none"
	if params != nil {
		summary = params.String()
	}

	return &ScenarioError{
		Scenario: name,
		Stage:    stage,
		Params:   summary,
		Err:      err,
	}
}
