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
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Mounter attaches and detaches a block device at a directory.
type Mounter interface {
	Mount(ctx context.Context, device, dir string) error
	Unmount(ctx context.Context, dir string) error
}

// ExecMounter shells out to mount(8) and umount(8).
type ExecMounter struct {
	// Sudo prefixes both commands with sudo for unprivileged workers.
	Sudo bool
}

// Mount implements Mounter.
func (m ExecMounter) Mount(ctx context.Context, device, dir string) error {
	if err := m.run(ctx, "mount", device, dir); err != nil {
		return fmt.Errorf("%w: %s on %s: %w", ErrMount, device, dir, err)
	}

	return nil
}

// Unmount implements Mounter.
func (m ExecMounter) Unmount(ctx context.Context, dir string) error {
	if err := m.run(ctx, "umount", dir); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnmount, dir, err)
	}

	return nil
}

func (m ExecMounter) run(ctx context.Context, name string, args ...string) error {
	if m.Sudo {
		args = append([]string{name}, args...)
		name = "sudo"
	}

	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}

		return err
	}

	return nil
}
