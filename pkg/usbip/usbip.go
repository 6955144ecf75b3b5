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

// Package usbip wraps the usbip tooling used to export devices from a worker
// and attach them on a client.
package usbip

//go:generate mockgen -destination=mock_usbip.go -package=usbip github.com/carverauto/usbipice/pkg/usbip Exporter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var (
	// ErrCommand wraps a failed usbip invocation.
	ErrCommand = errors.New("usbip command failed")
	// ErrEmptyBusID is returned when no bus id is given.
	ErrEmptyBusID = errors.New("bus id is required")
)

// Status values of /sys/bus/usb/drivers/usbip-host/<bus>/usbip_status.
const (
	StatusAvailable = "1"
	StatusUsed      = "2"
	StatusError     = "3"
)

// Exporter binds device bus ids to the usbip host driver and reports which
// exports are live.
type Exporter interface {
	Bind(ctx context.Context, busID string) error
	Unbind(ctx context.Context, busID string) error
	ActiveBuses(ctx context.Context) (map[string]struct{}, error)
}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()

	return out.Bytes(), err
}

// CLI drives the usbip binary.
type CLI struct {
	// Binary defaults to "usbip".
	Binary string
	// Sudo prefixes invocations with sudo.
	Sudo bool
	// TCPPort is passed as --tcp-port when non-zero.
	TCPPort int
	// SysfsRoot defaults to /sys.
	SysfsRoot string
	// Run defaults to ExecRunner.
	Run Runner
}

var _ Exporter = (*CLI)(nil)

// Bind implements Exporter. Binding an already bound bus succeeds.
func (c *CLI) Bind(ctx context.Context, busID string) error {
	if busID == "" {
		return ErrEmptyBusID
	}

	out, err := c.run(ctx, "bind", "-b", busID)
	if err != nil && !bytes.Contains(out, []byte("already bound")) {
		return fmt.Errorf("%w: bind %s: %w: %s", ErrCommand, busID, err, strings.TrimSpace(string(out)))
	}

	return nil
}

// Unbind implements Exporter. Unbinding a bus that is not bound succeeds.
func (c *CLI) Unbind(ctx context.Context, busID string) error {
	if busID == "" {
		return ErrEmptyBusID
	}

	out, err := c.run(ctx, "unbind", "-b", busID)
	if err != nil && !bytes.Contains(out, []byte("not bound")) {
		return fmt.Errorf("%w: unbind %s: %w: %s", ErrCommand, busID, err, strings.TrimSpace(string(out)))
	}

	return nil
}

// ActiveBuses implements Exporter. A bus is active when a remote client has
// attached it, which the host driver reports as usbip_status 2.
func (c *CLI) ActiveBuses(_ context.Context) (map[string]struct{}, error) {
	root := c.SysfsRoot
	if root == "" {
		root = "/sys"
	}

	dir := filepath.Join(root, "bus", "usb", "drivers", "usbip-host")

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Driver not loaded yet means nothing is exported.
			return map[string]struct{}{}, nil
		}

		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	active := make(map[string]struct{})

	for _, e := range entries {
		status, err := os.ReadFile(filepath.Join(dir, e.Name(), "usbip_status"))
		if err != nil {
			continue
		}

		if strings.TrimSpace(string(status)) == StatusUsed {
			active[e.Name()] = struct{}{}
		}
	}

	return active, nil
}

func (c *CLI) run(ctx context.Context, args ...string) ([]byte, error) {
	binary := c.Binary
	if binary == "" {
		binary = "usbip"
	}

	if c.TCPPort != 0 {
		args = append([]string{fmt.Sprintf("--tcp-port=%d", c.TCPPort)}, args...)
	}

	if c.Sudo {
		args = append([]string{binary}, args...)
		binary = "sudo"
	}

	run := c.Run
	if run == nil {
		run = ExecRunner
	}

	return run(ctx, binary, args...)
}
