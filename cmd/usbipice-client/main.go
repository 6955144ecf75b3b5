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
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/carverauto/usbipice/pkg/client"
	"github.com/carverauto/usbipice/pkg/config"
	"github.com/carverauto/usbipice/pkg/lifecycle"
	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/version"
)

var (
	errFailedToLoadConfig = fmt.Errorf("failed to load config")
	errNothingReserved    = errors.New("no devices were reserved")
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

// session reserves devices when started and releases them when stopped.
type session struct {
	client   *client.Client
	amount   int
	firmware []byte
	logger   logger.Logger
}

func (s *session) Start(ctx context.Context) error {
	if err := s.client.Start(ctx); err != nil {
		return err
	}

	serials, err := s.client.Reserve(ctx, s.amount)
	if err != nil {
		return err
	}

	if len(serials) == 0 {
		return errNothingReserved
	}

	s.logger.Info().Strs("serials", serials).Msg("Reserved devices")

	if len(s.firmware) > 0 {
		if failed := s.client.Flash(ctx, serials, s.firmware); len(failed) > 0 {
			s.logger.Warn().Strs("serials", failed).Msg("Flash request not sent")
		}
	}

	return nil
}

func (s *session) Stop(ctx context.Context) error {
	return s.client.Stop(ctx)
}

func run() error {
	configPath := flag.String("config", "/etc/usbipice/client.json", "Path to client config file")
	amount := flag.Int("reserve", 1, "Number of devices to reserve")
	firmwarePath := flag.String("firmware", "", "Firmware image to flash onto every reserved device")
	flag.Parse()

	ctx := context.Background()

	var cfg client.Config

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

	clientLogger, err := lifecycle.CreateComponentLogger("client", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	clientLogger.Info().Str("version", version.GetFullVersion()).Msg("Starting usbipice-client")

	var firmware []byte

	if *firmwarePath != "" {
		if firmware, err = os.ReadFile(*firmwarePath); err != nil {
			return fmt.Errorf("failed to read firmware: %w", err)
		}
	}

	c := client.New(&cfg, clientLogger)
	c.Events().AddHandler(client.NewLogHandler(clientLogger))

	return lifecycle.RunService(ctx, &lifecycle.ServiceOptions{
		Name:    "usbipice-client",
		Service: &session{client: c, amount: *amount, firmware: firmware, logger: clientLogger},
		Logger:  clientLogger,
	})
}
