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

package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/carverauto/usbipice/pkg/config"
	"github.com/carverauto/usbipice/pkg/lifecycle"
	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/version"
	"github.com/carverauto/usbipice/pkg/worker"
)

var errFailedToLoadConfig = fmt.Errorf("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/usbipice/worker.json", "Path to worker config file")
	flag.Parse()

	ctx := context.Background()

	var cfg worker.Config

	if err := config.NewConfig(nil).LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	if err := lifecycle.InitializeLogger(logConfig); err != nil {
		return err
	}

	workerLogger, err := lifecycle.CreateComponentLogger("worker", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	workerLogger.Info().Str("version", version.GetFullVersion()).Msg("Starting usbipice-worker")

	srv, err := worker.New(ctx, &cfg, workerLogger)
	if err != nil {
		return err
	}

	return lifecycle.RunService(ctx, &lifecycle.ServiceOptions{
		Name:            "usbipice-worker",
		Service:         srv,
		ShutdownTimeout: cfg.ShutdownTimeout.Std(),
		Logger:          workerLogger,
	})
}
