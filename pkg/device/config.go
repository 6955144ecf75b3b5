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

package device

import (
	"fmt"
	"os"
	"time"

	"github.com/carverauto/usbipice/pkg/models"
)

const (
	defaultMountRoot        = "/var/lib/usbipice/media"
	defaultMountTimeout     = 10 * time.Second
	defaultMaxFlashAttempts = 3
	defaultVerifyTimeout    = 30 * time.Second
	defaultInboxSize        = 64
)

// Config controls flashing and per-device queueing.
type Config struct {
	MountRoot        string          `json:"mount_root"`
	MountTimeout     models.Duration `json:"mount_timeout"`
	MaxFlashAttempts int             `json:"max_flash_attempts"`
	VerifyTimeout    models.Duration `json:"verify_timeout"`
	InboxSize        int             `json:"inbox_size"`
	Models           []string        `json:"models"`

	// DefaultFirmwarePath is flashed onto newly discovered and released
	// devices. Empty disables automatic flashing.
	DefaultFirmwarePath string `json:"default_firmware"`
	DefaultFirmware     []byte `json:"-"`
}

// Validate fills defaults.
func (c *Config) Validate() error {
	if c.MountRoot == "" {
		c.MountRoot = defaultMountRoot
	}

	c.MountTimeout = c.MountTimeout.OrDefault(defaultMountTimeout)
	c.VerifyTimeout = c.VerifyTimeout.OrDefault(defaultVerifyTimeout)

	if c.MaxFlashAttempts <= 0 {
		c.MaxFlashAttempts = defaultMaxFlashAttempts
	}

	if c.InboxSize <= 0 {
		c.InboxSize = defaultInboxSize
	}

	return nil
}

// LoadDefaultFirmware reads DefaultFirmwarePath into DefaultFirmware.
func (c *Config) LoadDefaultFirmware() error {
	if c.DefaultFirmwarePath == "" {
		return nil
	}

	data, err := os.ReadFile(c.DefaultFirmwarePath)
	if err != nil {
		return fmt.Errorf("read default firmware: %w", err)
	}

	if len(data) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyFirmware, c.DefaultFirmwarePath)
	}

	c.DefaultFirmware = data

	return nil
}
