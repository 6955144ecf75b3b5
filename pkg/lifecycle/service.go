/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/usbipice/pkg/logger"
)

const defaultShutdownTimeout = 30 * time.Second

// Service is a long-running component with an explicit start and stop.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ServiceOptions controls RunService.
type ServiceOptions struct {
	Name            string
	Service         Service
	ShutdownTimeout time.Duration
	Logger          logger.Logger
}

// RunService starts the service and blocks until it exits on its own or the
// process receives SIGINT/SIGTERM, then stops it within the shutdown timeout.
func RunService(ctx context.Context, opts *ServiceOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- opts.Service.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error

	// Start may return nil right away for services that run in the background.
	select {
	case sig := <-sigCh:
		opts.Logger.Info().Str("signal", sig.String()).Str("service", opts.Name).Msg("Received shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("%s: %w", opts.Name, err)
			break
		}

		select {
		case sig := <-sigCh:
			opts.Logger.Info().Str("signal", sig.String()).Str("service", opts.Name).Msg("Received shutdown signal")
		case <-ctx.Done():
		}
	case <-ctx.Done():
	}

	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), timeout)
	defer stopCancel()

	if err := opts.Service.Stop(stopCtx); err != nil {
		opts.Logger.Error().Err(err).Str("service", opts.Name).Msg("Error stopping service")

		if runErr == nil {
			runErr = err
		}
	}

	opts.Logger.Info().Str("service", opts.Name).Msg("Service stopped")

	return runErr
}
