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

package bootloader

import (
	"context"
	"time"

	"github.com/carverauto/usbipice/pkg/logger"
)

const (
	defaultTouchTimeout   = 2 * time.Second
	defaultUnmountTimeout = 10 * time.Second
	defaultFirmwareName   = "firmware.uf2"
)

// DefaultListing is the exact root listing of a freshly entered RP2 bootloader volume.
var DefaultListing = []string{"INDEX.HTM", "INFO_UF2.TXT"}

// TouchFunc signals a tty to reboot into its bootloader.
type TouchFunc func(ctx context.Context, path string) error

type config struct {
	mounter        Mounter
	touch          TouchFunc
	touchTimeout   time.Duration
	unmountTimeout time.Duration
	listing        []string
	firmwareName   string
	logger         logger.Logger
}

func defaultConfig() config {
	return config{
		mounter:        ExecMounter{},
		touch:          Touch1200,
		touchTimeout:   defaultTouchTimeout,
		unmountTimeout: defaultUnmountTimeout,
		listing:        DefaultListing,
		firmwareName:   defaultFirmwareName,
		logger:         logger.NewTestLogger(),
	}
}

// Option configures a UF2 protocol.
type Option func(*config)

// WithMounter replaces the mount implementation.
func WithMounter(m Mounter) Option {
	return func(c *config) {
		c.mounter = m
	}
}

// WithTouch replaces the bootloader trigger.
func WithTouch(fn TouchFunc) Option {
	return func(c *config) {
		c.touch = fn
	}
}

// WithTouchTimeout bounds the bootloader trigger.
func WithTouchTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.touchTimeout = d
		}
	}
}

// WithUnmountTimeout bounds each unmount.
func WithUnmountTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.unmountTimeout = d
		}
	}
}

// WithListing overrides the expected bootloader volume listing.
func WithListing(names ...string) Option {
	return func(c *config) {
		c.listing = names
	}
}

// WithFirmwareName sets the file name the image is written as.
func WithFirmwareName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.firmwareName = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.logger = log
		}
	}
}
