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

package usbip

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ImportedDevice is one row of `usbip port` on a client.
type ImportedDevice struct {
	Port     int
	Host     string
	HostPort int
	BusID    string
}

var (
	portLineRe   = regexp.MustCompile(`^Port\s+(\d+):`)
	remoteLineRe = regexp.MustCompile(`usbip://([^:/\s]+):(\d+)/(\S+)`)
)

// ParsePort extracts imported devices from `usbip port` output.
func ParsePort(output []byte) []ImportedDevice {
	var (
		devices []ImportedDevice
		current = -1
	)

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if m := portLineRe.FindStringSubmatch(line); m != nil {
			current, _ = strconv.Atoi(m[1])
			continue
		}

		m := remoteLineRe.FindStringSubmatch(line)
		if m == nil || current < 0 {
			continue
		}

		hostPort, _ := strconv.Atoi(m[2])

		devices = append(devices, ImportedDevice{
			Port:     current,
			Host:     m[1],
			HostPort: hostPort,
			BusID:    m[3],
		})
		current = -1
	}

	return devices
}

// Ports lists the devices this machine has attached.
func (c *CLI) Ports(ctx context.Context) ([]ImportedDevice, error) {
	out, err := c.run(ctx, "port")
	if err != nil {
		return nil, fmt.Errorf("%w: port: %w: %s", ErrCommand, err, strings.TrimSpace(string(out)))
	}

	return ParsePort(out), nil
}

// Attach imports busID from a remote worker.
func (c *CLI) Attach(ctx context.Context, host, busID string) error {
	if busID == "" {
		return ErrEmptyBusID
	}

	out, err := c.run(ctx, "attach", "-r", host, "-b", busID)
	if err != nil {
		return fmt.Errorf("%w: attach %s from %s: %w: %s", ErrCommand, busID, host, err, strings.TrimSpace(string(out)))
	}

	return nil
}

// Detach releases an imported port.
func (c *CLI) Detach(ctx context.Context, port int) error {
	out, err := c.run(ctx, "detach", "-p", strconv.Itoa(port))
	if err != nil {
		return fmt.Errorf("%w: detach port %d: %w: %s", ErrCommand, port, err, strings.TrimSpace(string(out)))
	}

	return nil
}

// ImportSource reports the remote bus ids attached on a client. It satisfies
// the export-set query used by the liveness tracker on the client side.
type ImportSource struct {
	CLI *CLI
}

// ActiveBuses returns the remote bus ids currently attached.
func (s ImportSource) ActiveBuses(ctx context.Context) (map[string]struct{}, error) {
	ports, err := s.CLI.Ports(ctx)
	if err != nil {
		return nil, err
	}

	active := make(map[string]struct{}, len(ports))
	for _, p := range ports {
		active[p.BusID] = struct{}{}
	}

	return active, nil
}
