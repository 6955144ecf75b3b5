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

//go:build linux

package bootloader

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// Touch1200 opens the tty at 1200 baud and drops DTR. The RP2 USB stack
// treats this line coding change as a request to reboot into the bootloader.
func Touch1200(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer unix.Close(fd)

	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios %s: %w", path, err)
	}

	tio.Cflag &^= unix.CBAUD
	tio.Cflag |= unix.B1200 | unix.HUPCL | unix.CLOCAL | unix.CREAD
	tio.Ispeed = unix.B1200
	tio.Ospeed = unix.B1200

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, tio); err != nil {
		return fmt.Errorf("set 1200 baud on %s: %w", path, err)
	}

	if err := unix.IoctlSetPointerInt(fd, unix.TIOCMBIS, unix.TIOCM_DTR); err != nil {
		return fmt.Errorf("raise DTR on %s: %w", path, err)
	}

	if err := unix.IoctlSetPointerInt(fd, unix.TIOCMBIC, unix.TIOCM_DTR); err != nil {
		return fmt.Errorf("drop DTR on %s: %w", path, err)
	}

	return nil
}
