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

// Package bootloader drives the RP2 UF2 bootloader: the 1200 baud reboot
// trigger and the mass-storage firmware drop.
package bootloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// Outcome classifies an upload attempt.
type Outcome int

const (
	// Success means the image was written and the volume released.
	Success Outcome = iota
	// NotABootloader means the partition mounted but is not a fresh bootloader volume.
	NotABootloader
	// MountFailed means the partition could not be mounted in time.
	MountFailed
	// UploadFailed means a confirmed bootloader volume could not take the image.
	UploadFailed
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case NotABootloader:
		return "not_a_bootloader"
	case MountFailed:
		return "mount_failed"
	case UploadFailed:
		return "upload_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// CountsAsFailure reports whether the outcome should count toward a device's flash-failure tally.
func (o Outcome) CountsAsFailure() bool {
	return o == UploadFailed
}

// Result is the outcome of UploadFirmware plus the underlying error, if any.
type Result struct {
	Outcome Outcome
	Err     error
}

// Protocol is the firmware handshake against one physical device.
type Protocol interface {
	// EnterBootloader asks a tty to reboot into bootloader mode. It never
	// returns an error; false means the signal could not be sent.
	EnterBootloader(ctx context.Context, serialPortPath string) bool
	// UploadFirmware mounts partitionPath at mountPoint, checks the volume,
	// writes firmware, and unmounts before returning on every path.
	UploadFirmware(ctx context.Context, partitionPath, mountPoint string, firmware []byte, mountTimeout time.Duration) Result
}

// UF2 implements Protocol for boards exposing a UF2 mass-storage bootloader.
type UF2 struct {
	cfg config
}

var _ Protocol = (*UF2)(nil)

// New creates a UF2 protocol.
func New(opts ...Option) *UF2 {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &UF2{cfg: cfg}
}

// EnterBootloader implements Protocol.
func (u *UF2) EnterBootloader(ctx context.Context, serialPortPath string) bool {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.touchTimeout)
	defer cancel()

	errCh := make(chan error, 1)

	go func() {
		errCh <- u.cfg.touch(ctx, serialPortPath)
	}()

	var err error

	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if err != nil {
		u.cfg.logger.Warn().Err(err).Str("tty", serialPortPath).Msg("Failed to send bootloader signal")
		return false
	}

	u.cfg.logger.Info().Str("tty", serialPortPath).Msg("Sent bootloader signal")

	return true
}

// UploadFirmware implements Protocol.
func (u *UF2) UploadFirmware(
	ctx context.Context, partitionPath, mountPoint string, firmware []byte, mountTimeout time.Duration) Result {
	if len(firmware) == 0 {
		return Result{Outcome: UploadFailed, Err: errEmptyFirmware}
	}

	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return Result{Outcome: MountFailed, Err: fmt.Errorf("%w: %w", ErrMount, err)}
	}

	mountCtx, cancel := context.WithTimeout(ctx, mountTimeout)
	err := u.cfg.mounter.Mount(mountCtx, partitionPath, mountPoint)
	cancel()

	if err != nil {
		u.cfg.logger.Warn().Err(err).Str("partition", partitionPath).Msg("Could not mount bootloader candidate")

		// A mount that timed out may still have completed.
		if errors.Is(err, context.DeadlineExceeded) {
			_ = u.unmount(mountPoint)
		}

		return Result{Outcome: MountFailed, Err: err}
	}

	if err := u.checkListing(mountPoint); err != nil {
		if uerr := u.unmount(mountPoint); uerr != nil {
			u.cfg.logger.Error().Err(uerr).Str("mount", mountPoint).Msg("Unmount after listing mismatch failed")
		}

		u.cfg.logger.Info().Err(err).Str("partition", partitionPath).Msg("Partition is not a bootloader volume")

		return Result{Outcome: NotABootloader, Err: err}
	}

	writeErr := u.writeImage(mountPoint, firmware)
	unmountErr := u.unmount(mountPoint)

	if writeErr != nil || unmountErr != nil {
		err := errors.Join(writeErr, unmountErr)
		u.cfg.logger.Error().Err(err).Str("partition", partitionPath).Msg("Firmware upload failed")

		return Result{Outcome: UploadFailed, Err: err}
	}

	u.cfg.logger.Info().Str("partition", partitionPath).Int("bytes", len(firmware)).Msg("Firmware uploaded")

	return Result{Outcome: Success}
}

func (u *UF2) checkListing(mountPoint string) error {
	entries, err := os.ReadDir(mountPoint)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnexpectedListing, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	want := slices.Clone(u.cfg.listing)
	slices.Sort(want)

	if !slices.Equal(names, want) {
		return fmt.Errorf("%w: got %v", ErrUnexpectedListing, names)
	}

	return nil
}

func (u *UF2) writeImage(mountPoint string, firmware []byte) error {
	f, err := os.OpenFile(filepath.Join(mountPoint, u.cfg.firmwareName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	if _, err := f.Write(firmware); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	return nil
}

// unmount runs on a fresh context so a cancelled caller still releases the mount.
func (u *UF2) unmount(mountPoint string) error {
	ctx, cancel := context.WithTimeout(context.Background(), u.cfg.unmountTimeout)
	defer cancel()

	return u.cfg.mounter.Unmount(ctx, mountPoint)
}
