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

package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/usbipice/pkg/events"
	"github.com/carverauto/usbipice/pkg/liveness"
	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
	"github.com/carverauto/usbipice/pkg/transport/ws"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultReconnectDelay = 5 * time.Second
	defaultDedupeWindow   = 4096
)

var (
	errNameRequired       = errors.New("name is required")
	errControlURLRequired = errors.New("control_url is required")
)

// UsbipConfig selects how exported devices are attached locally.
type UsbipConfig struct {
	// Attach imports every exported device with `usbip attach`.
	Attach bool   `json:"attach"`
	Binary string `json:"binary"`
	Sudo   bool   `json:"sudo"`
	// DetectTimeouts polls `usbip port` and raises a local timeout event
	// when an attached device disappears.
	DetectTimeouts bool `json:"detect_timeouts"`
}

// Config is the client configuration.
type Config struct {
	// Name is the client id used for reservations and event sockets.
	Name       string `json:"name"`
	ControlURL string `json:"control_url"`
	APIKey     string `json:"api_key,omitempty"`

	// AutoExtend renews reservations that are about to end.
	AutoExtend bool `json:"auto_extend"`

	RequestTimeout models.Duration `json:"request_timeout"`
	ReconnectDelay models.Duration `json:"reconnect_delay"`
	DedupeWindow   int             `json:"dedupe_window"`

	Logging  *logger.Config  `json:"logging,omitempty"`
	Socket   ws.Options      `json:"socket"`
	Events   events.Config   `json:"events"`
	Liveness liveness.Config `json:"liveness"`
	Usbip    UsbipConfig     `json:"usbip"`
}

// Validate fills defaults.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errNameRequired
	}

	if c.ControlURL == "" {
		return errControlURLRequired
	}

	c.RequestTimeout = c.RequestTimeout.OrDefault(defaultRequestTimeout)
	c.ReconnectDelay = c.ReconnectDelay.OrDefault(defaultReconnectDelay)

	if c.DedupeWindow <= 0 {
		c.DedupeWindow = defaultDedupeWindow
	}

	if err := c.Socket.Validate(); err != nil {
		return fmt.Errorf("socket: %w", err)
	}

	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events: %w", err)
	}

	if err := c.Liveness.Validate(); err != nil {
		return fmt.Errorf("liveness: %w", err)
	}

	return nil
}
