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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/usbipice/pkg/bootloader"
	"github.com/carverauto/usbipice/pkg/models"
)

// flash uploads the queued image to a bootloader partition.
func (d *Device) flash(ctx context.Context, partition string) {
	d.mu.Lock()

	fw := d.pendingFirmware
	if fw == nil || d.state == StateFailed || d.state == StateFlashing {
		d.mu.Unlock()
		return
	}

	seq := d.pendingSeq
	prev := d.state
	d.state = StateFlashing
	d.mu.Unlock()

	res := d.env.protocol.UploadFirmware(ctx, partition, d.mountPoint(), fw, d.env.cfg.MountTimeout.Std())

	log := d.logger.With().Str("partition", partition).Str("outcome", res.Outcome.String()).Logger()

	// Observers only see Flashing once bytes were actually written.
	switch res.Outcome {
	case bootloader.Success:
		log.Info().Int("bytes", len(fw)).Msg("Firmware written")
		d.notify(prev, StateFlashing)
		d.flashSucceeded(ctx, seq)
	case bootloader.UploadFailed:
		log.Warn().Err(res.Err).Msg("Firmware upload failed")
		d.notify(prev, StateFlashing)
		d.flashFailed(ctx, prev, res.Err)
	default:
		log.Info().Err(res.Err).Msg("Partition is not ready for flashing")

		d.mu.Lock()
		if d.state == StateFlashing {
			d.state = prev
		}
		d.mu.Unlock()
	}
}

func (d *Device) flashSucceeded(ctx context.Context, seq uint64) {
	d.mu.Lock()

	if d.pendingSeq == seq {
		d.pendingFirmware = nil
	}

	if d.pendingFirmware != nil {
		// A newer image arrived while this one was being written.
		d.state = StateBootloader
		d.mu.Unlock()
		d.notify(StateFlashing, StateBootloader)

		return
	}

	if d.env.verifier != nil {
		d.state = StateVerifying
		d.verifyGen++
		gen := d.verifyGen
		d.verifyDeadline = time.Now().Add(d.env.cfg.VerifyTimeout.Std())
		d.mu.Unlock()

		d.notify(StateFlashing, StateVerifying)
		d.scheduleVerifyTimeout(gen)

		return
	}

	d.flashFailures = 0
	to := d.settledStateLocked()
	d.state = to
	owner := d.owner
	d.mu.Unlock()

	d.notify(StateFlashing, to)
	d.announceInitialized(ctx, owner)
}

func (d *Device) flashFailed(ctx context.Context, prev State, cause error) {
	d.mu.Lock()
	d.flashFailures++
	failures := d.flashFailures
	d.mu.Unlock()

	if failures >= d.env.cfg.MaxFlashAttempts {
		d.fail(ctx, fmt.Sprintf("firmware upload failed %d times: %v", failures, cause))
		return
	}

	d.setState(prev)
}

// settledStateLocked is where a device goes once its firmware is confirmed.
func (d *Device) settledStateLocked() State {
	if d.owner != "" {
		return StateReserved
	}

	return StateReady
}

func (d *Device) announceInitialized(ctx context.Context, owner string) {
	d.send(ctx, owner, models.NewEvent(d.serial, models.EventInitialized))
}

func (d *Device) scheduleVerifyTimeout(gen uint64) {
	time.AfterFunc(d.env.cfg.VerifyTimeout.Std(), func() {
		d.post(func(ctx context.Context) { d.verifyExpired(ctx, gen) })
	})
}

// verify reads the freshly enumerated tty for the firmware signature.
func (d *Device) verify(ctx context.Context, tty string) {
	d.mu.Lock()
	if d.state != StateVerifying {
		d.mu.Unlock()
		return
	}

	gen := d.verifyGen
	deadline := d.verifyDeadline
	d.mu.Unlock()

	vctx, cancel := context.WithDeadline(ctx, deadline)
	err := d.env.verifier.Verify(vctx, tty)

	cancel()

	d.mu.Lock()
	if d.state != StateVerifying || d.verifyGen != gen {
		d.mu.Unlock()
		return
	}

	if err != nil {
		d.mu.Unlock()
		d.verificationFailed(ctx, err)

		return
	}

	d.verifyGen++
	d.flashFailures = 0
	to := d.settledStateLocked()
	d.state = to
	owner := d.owner
	d.mu.Unlock()

	d.logger.Info().Str("tty", tty).Msg("Firmware verified")
	d.notify(StateVerifying, to)
	d.announceInitialized(ctx, owner)
}

func (d *Device) verifyExpired(ctx context.Context, gen uint64) {
	d.mu.Lock()
	stale := d.verifyGen != gen || d.effectiveLocked() != StateVerifying
	d.mu.Unlock()

	if stale {
		return
	}

	d.verificationFailed(ctx, ErrVerifyTimeout)
}

// verificationFailed counts a failed confirmation and flashes the same image
// again until the attempt budget is spent.
func (d *Device) verificationFailed(ctx context.Context, cause error) {
	d.mu.Lock()
	d.verifyGen++
	d.flashFailures++
	failures := d.flashFailures

	if failures >= d.env.cfg.MaxFlashAttempts {
		d.mu.Unlock()
		d.fail(ctx, fmt.Sprintf("firmware not confirmed after %d attempts: %v", failures, cause))

		return
	}

	from := d.state
	if d.lastFirmware != nil {
		d.queueFirmwareLocked(d.lastFirmware)
	}

	d.setEffectiveLocked(StateBootloader)
	to := d.state
	connected := d.state != StateDisconnected
	d.mu.Unlock()

	if errors.Is(cause, ErrVerifyTimeout) {
		d.logger.Warn().Int("failures", failures).Msg("Firmware was not confirmed in time")
	} else {
		d.logger.Warn().Err(cause).Int("failures", failures).Msg("Firmware verification failed")
	}

	d.notify(from, to)

	if connected {
		d.startPendingFlash(ctx)
	}
}

// handleRequest applies an owner request frame.
func (d *Device) handleRequest(ctx context.Context, owner string, kind string, contents []byte) error {
	if !d.ownedBy(owner) {
		return fmt.Errorf("%w: %s", ErrNotOwner, d.serial)
	}

	switch kind {
	case RequestFlash:
		fw, err := DecodeFlashRequest(contents)
		if err != nil {
			return err
		}

		d.requestFirmware(fw)

		return nil
	case RequestUnbind:
		return d.unbindRequest(ctx, owner)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRequest, kind)
	}
}
