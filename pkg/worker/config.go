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

package worker

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/carverauto/usbipice/pkg/device"
	"github.com/carverauto/usbipice/pkg/events"
	"github.com/carverauto/usbipice/pkg/hotplug"
	"github.com/carverauto/usbipice/pkg/liveness"
	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
	"github.com/carverauto/usbipice/pkg/reservation"
	"github.com/carverauto/usbipice/pkg/transport/ws"
)

const (
	defaultListenAddr      = ":8081"
	defaultShutdownTimeout = 30 * time.Second
)

var (
	errAdvertiseIPRequired = errors.New("advertise_ip is required when a database is configured")
	errInvalidListenAddr   = errors.New("invalid listen_addr")
)

// UsbipConfig selects how exports are bound.
type UsbipConfig struct {
	Binary    string `json:"binary"`
	Sudo      bool   `json:"sudo"`
	TCPPort   int    `json:"tcp_port"`
	SysfsRoot string `json:"sysfs_root"`
}

// VerifyConfig enables readiness checks after flashing.
type VerifyConfig struct {
	Enabled   bool   `json:"enabled"`
	Signature string `json:"signature"`
}

// Config is the worker process configuration.
type Config struct {
	Name string `json:"name"`

	ListenAddr string `json:"listen_addr"`
	// AdvertiseIP and AdvertisePort are what the control plane uses to reach
	// this worker. The port defaults to the listen port.
	AdvertiseIP   string `json:"advertise_ip"`
	AdvertisePort int    `json:"advertise_port"`

	NetlinkGroup    uint32          `json:"netlink_group"`
	ShutdownTimeout models.Duration `json:"shutdown_timeout"`

	Logging  *logger.Config  `json:"logging,omitempty"`
	Device   device.Config   `json:"device"`
	Liveness liveness.Config `json:"liveness"`
	Events   events.Config   `json:"events"`
	Socket   ws.Options      `json:"socket"`
	Usbip    UsbipConfig     `json:"usbip"`
	Verify   VerifyConfig    `json:"verify"`

	// Database and NATS are optional.
	Database *reservation.Config `json:"database,omitempty"`
	NATS     *models.NATSConfig  `json:"nats,omitempty"`
}

// Validate fills defaults and validates nested sections.
func (c *Config) Validate() error {
	if c.Name == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("name is required: %w", err)
		}

		c.Name = host
	}

	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	if c.AdvertisePort == 0 {
		_, port, err := net.SplitHostPort(c.ListenAddr)
		if err != nil {
			return fmt.Errorf("%w %q: %w", errInvalidListenAddr, c.ListenAddr, err)
		}

		if c.AdvertisePort, err = strconv.Atoi(port); err != nil {
			return fmt.Errorf("%w %q: %w", errInvalidListenAddr, c.ListenAddr, err)
		}
	}

	if c.NetlinkGroup == 0 {
		c.NetlinkGroup = hotplug.GroupUdev
	}

	c.ShutdownTimeout = c.ShutdownTimeout.OrDefault(defaultShutdownTimeout)

	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device: %w", err)
	}

	if err := c.Device.LoadDefaultFirmware(); err != nil {
		return fmt.Errorf("device: %w", err)
	}

	if err := c.Liveness.Validate(); err != nil {
		return fmt.Errorf("liveness: %w", err)
	}

	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events: %w", err)
	}

	if err := c.Socket.Validate(); err != nil {
		return fmt.Errorf("socket: %w", err)
	}

	if c.Database != nil {
		if c.AdvertiseIP == "" {
			return errAdvertiseIPRequired
		}

		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if c.NATS != nil {
		if err := c.NATS.Validate(); err != nil {
			return fmt.Errorf("nats: %w", err)
		}
	}

	return nil
}
