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
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/carverauto/usbipice/pkg/hotplug"
	"github.com/carverauto/usbipice/pkg/models"
)

// Info is a point-in-time view of one device.
type Info struct {
	Serial        string   `json:"serial"`
	State         State    `json:"state"`
	ResumeState   State    `json:"resume_state,omitempty"`
	Owner         string   `json:"owner,omitempty"`
	DevNodes      []string `json:"dev_nodes"`
	Buses         []string `json:"buses"`
	FlashFailures int      `json:"flash_failures"`
	FlashPending  bool     `json:"flash_pending"`
}

type work func(ctx context.Context)

// Device is the state machine for one physical board. All hotplug work
// for a device runs in order on its own goroutine.
type Device struct {
	serial string
	env    *environment
	logger zerolog.Logger

	mu              sync.Mutex
	state           State
	resumeState     State
	devNodes        map[string]hotplug.Properties
	buses           map[string]struct{}
	owner           string
	exportEnabled   bool
	pendingFirmware []byte
	pendingSeq      uint64
	lastFirmware    []byte
	flashFailures   int
	verifyGen       uint64
	verifyDeadline  time.Time

	inboxMu sync.RWMutex
	inbox   chan work
	closed  bool
}

func newDevice(serial string, env *environment) *Device {
	return &Device{
		serial:   serial,
		env:      env,
		logger:   env.logger.WithFields(map[string]interface{}{"serial": serial}),
		state:    StateDiscovered,
		devNodes: make(map[string]hotplug.Properties),
		buses:    make(map[string]struct{}),
		inbox:    make(chan work, env.cfg.InboxSize),
	}
}

// Serial returns the device serial.
func (d *Device) Serial() string { return d.serial }

// State returns the current state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.state
}

// Info returns a snapshot of the device.
func (d *Device) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := Info{
		Serial:        d.serial,
		State:         d.state,
		Owner:         d.owner,
		DevNodes:      make([]string, 0, len(d.devNodes)),
		Buses:         make([]string, 0, len(d.buses)),
		FlashFailures: d.flashFailures,
		FlashPending:  d.pendingFirmware != nil,
	}

	if d.state == StateDisconnected {
		info.ResumeState = d.resumeState
	}

	for name := range d.devNodes {
		info.DevNodes = append(info.DevNodes, name)
	}

	for bus := range d.buses {
		info.Buses = append(info.Buses, bus)
	}

	sort.Strings(info.DevNodes)
	sort.Strings(info.Buses)

	return info
}

func (d *Device) run(ctx context.Context) {
	for w := range d.inbox {
		d.safely(ctx, w)
	}
}

func (d *Device) safely(ctx context.Context, w work) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Recovered panic in device worker")
		}
	}()

	w(ctx)
}

// post queues w on the device goroutine. It returns false after shutdown.
func (d *Device) post(w work) bool {
	d.inboxMu.RLock()
	defer d.inboxMu.RUnlock()

	if d.closed {
		return false
	}

	d.inbox <- w

	return true
}

func (d *Device) closeInbox() {
	d.inboxMu.Lock()
	defer d.inboxMu.Unlock()

	if !d.closed {
		d.closed = true
		close(d.inbox)
	}
}

// effectiveLocked is the state the device is in or will resume into.
func (d *Device) effectiveLocked() State {
	if d.state == StateDisconnected {
		return d.resumeState
	}

	return d.state
}

func (d *Device) setEffectiveLocked(s State) {
	if d.state == StateDisconnected {
		d.resumeState = s
		return
	}

	d.state = s
}

func (d *Device) notify(from, to State) {
	if from == to {
		return
	}

	d.logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("Device state changed")

	if d.env.onState != nil {
		d.env.onState(d.serial, from, to)
	}
}

func (d *Device) setState(to State) {
	d.mu.Lock()
	from := d.state
	d.state = to
	d.mu.Unlock()

	d.notify(from, to)
}

// discoverLocked picks the state a newly discovered or reset device moves to.
func (d *Device) discoverLocked() State {
	if d.pendingFirmware == nil && d.env.cfg.DefaultFirmware != nil {
		d.queueFirmwareLocked(d.env.cfg.DefaultFirmware)
	}

	if d.pendingFirmware != nil {
		return StateBootloader
	}

	return StateReady
}

func (d *Device) queueFirmwareLocked(fw []byte) {
	d.pendingFirmware = fw
	d.lastFirmware = fw
	d.pendingSeq++
}

func (d *Device) nodeLocked(match func(hotplug.Properties) bool) string {
	names := make([]string, 0, len(d.devNodes))

	for name, props := range d.devNodes {
		if match(props) {
			names = append(names, name)
		}
	}

	if len(names) == 0 {
		return ""
	}

	sort.Strings(names)

	return names[0]
}

func (d *Device) busesLocked() []string {
	seen := make(map[string]struct{})

	for _, props := range d.devNodes {
		if bus, ok := hotplug.BusID(props.DevPath()); ok {
			seen[bus] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for bus := range seen {
		out = append(out, bus)
	}

	sort.Strings(out)

	return out
}

func (d *Device) takeBusesLocked() []string {
	out := make([]string, 0, len(d.buses))
	for bus := range d.buses {
		out = append(out, bus)
	}

	d.buses = make(map[string]struct{})

	sort.Strings(out)

	return out
}

func (d *Device) mountPoint() string {
	return filepath.Join(d.env.cfg.MountRoot, d.serial)
}

func (d *Device) send(ctx context.Context, owner string, ev models.Event) {
	if owner == "" {
		return
	}

	if !d.env.sender.Send(ctx, owner, ev) {
		d.logger.Warn().
			Str("owner", owner).
			Str("event", string(ev.Kind)).
			Msg("Event was not delivered")
	}
}

func (d *Device) handleAdd(ctx context.Context, props hotplug.Properties) {
	devname := props.DevName()
	bus, _ := hotplug.BusID(props.DevPath())

	d.mu.Lock()

	if _, exists := d.devNodes[devname]; exists {
		d.logger.Warn().Str("devname", devname).Msg("Device-file added twice")
	}

	d.devNodes[devname] = props

	from := d.state
	if d.state == StateDisconnected {
		d.state = d.resumeState
	}

	if d.state == StateDiscovered {
		d.state = d.discoverLocked()
	}

	to := d.state
	pending := d.pendingFirmware != nil && to != StateFailed && to != StateFlashing
	verifying := to == StateVerifying
	export := to == StateReserved && d.exportEnabled
	d.mu.Unlock()

	d.notify(from, to)
	d.env.liveness.DeviceEvent(d.serial)

	switch {
	case pending:
		d.startPendingFlash(ctx)
	case verifying && props.IsTTY():
		d.verify(ctx, devname)
	case export && bus != "":
		d.export(ctx, bus)
	}
}

func (d *Device) handleRemove(ctx context.Context, props hotplug.Properties) {
	devname := props.DevName()

	d.mu.Lock()

	if _, exists := d.devNodes[devname]; !exists {
		d.mu.Unlock()
		d.logger.Warn().Str("devname", devname).Msg("Removal of unknown device-file")

		return
	}

	delete(d.devNodes, devname)

	if len(d.devNodes) > 0 || d.state == StateDisconnected {
		d.mu.Unlock()
		return
	}

	// A bound export claims the board's interfaces, so its device-files vanish.
	if d.state == StateReserved && len(d.buses) > 0 {
		d.mu.Unlock()
		d.logger.Debug().Msg("Device-files claimed by export")

		return
	}

	from, owner := d.disconnectLocked()
	d.mu.Unlock()

	d.disconnected(ctx, from, owner)
}

func (d *Device) disconnectLocked() (State, string) {
	from := d.state
	d.resumeState = d.state
	d.state = StateDisconnected
	d.buses = make(map[string]struct{})

	return from, d.owner
}

func (d *Device) disconnected(ctx context.Context, from State, owner string) {
	d.notify(from, StateDisconnected)

	if from == StateReserved {
		d.send(ctx, owner, models.NewEvent(d.serial, models.EventDisconnect))
	}
}

func (d *Device) handleChange(props hotplug.Properties) {
	d.mu.Lock()
	if _, exists := d.devNodes[props.DevName()]; exists {
		d.devNodes[props.DevName()] = props
	}
	d.mu.Unlock()

	d.env.liveness.DeviceEvent(d.serial)
}

// export binds bus and announces it to the owner the first time it is bound.
func (d *Device) export(ctx context.Context, bus string) {
	d.mu.Lock()
	if d.state != StateReserved || !d.exportEnabled {
		d.mu.Unlock()
		return
	}

	_, bound := d.buses[bus]
	owner := d.owner
	d.mu.Unlock()

	if err := d.env.exporter.Bind(ctx, bus); err != nil {
		d.logger.Error().Err(err).Str("bus", bus).Msg("Failed to export device")
		return
	}

	if bound {
		return
	}

	d.mu.Lock()
	if d.state != StateReserved || d.owner != owner {
		d.mu.Unlock()
		return
	}

	d.buses[bus] = struct{}{}
	d.mu.Unlock()

	d.env.liveness.Track(d.serial, bus)
	d.logger.Info().Str("bus", bus).Str("owner", owner).Msg("Exported device")
	d.send(ctx, owner, models.NewEvent(d.serial, models.EventExport).WithBus(bus))
}

func (d *Device) unexport(ctx context.Context, buses []string) {
	for _, bus := range buses {
		if err := d.env.exporter.Unbind(ctx, bus); err != nil {
			d.logger.Warn().Err(err).Str("bus", bus).Msg("Failed to unbind export")
		}
	}

	d.env.liveness.Untrack(d.serial)
}

func (d *Device) reserve(owner string) bool {
	d.mu.Lock()
	if d.state != StateReady {
		d.mu.Unlock()
		return false
	}

	d.owner = owner
	d.exportEnabled = true
	d.state = StateReserved
	buses := d.busesLocked()
	d.mu.Unlock()

	d.notify(StateReady, StateReserved)

	d.post(func(ctx context.Context) {
		for _, bus := range buses {
			d.export(ctx, bus)
		}
	})

	return true
}

// unreserve drops the owner from a device in any state. A device that is
// mid-flash keeps flashing and settles to Ready once the image is confirmed.
func (d *Device) unreserve() bool {
	d.mu.Lock()
	if d.owner == "" {
		d.mu.Unlock()
		return false
	}

	from := d.state
	current := d.effectiveLocked()
	d.owner = ""
	d.exportEnabled = false
	buses := d.takeBusesLocked()

	if d.env.cfg.DefaultFirmware != nil {
		d.queueFirmwareLocked(d.env.cfg.DefaultFirmware)
	}

	restart := false

	switch current {
	case StateReserved:
		next := StateReady
		if d.pendingFirmware != nil {
			next = StateBootloader
			restart = true
		}

		d.setEffectiveLocked(next)
	case StateVerifying:
		// The owner's image is being checked; the default image replaces it.
		if d.env.cfg.DefaultFirmware != nil {
			d.verifyGen++
			d.setEffectiveLocked(StateBootloader)
			restart = true
		}
	}

	to := d.state
	d.mu.Unlock()

	d.notify(from, to)

	d.post(func(ctx context.Context) {
		d.unexport(ctx, buses)

		if restart {
			d.startPendingFlash(ctx)
		}
	})

	return true
}

func (d *Device) requestFirmware(fw []byte) {
	d.mu.Lock()
	d.queueFirmwareLocked(fw)
	d.mu.Unlock()

	d.post(d.startPendingFlash)
}

// startPendingFlash moves a connected device toward its bootloader when a
// firmware image is queued. Flashes in progress are left alone and pick up
// the queued image on the next partition event.
func (d *Device) startPendingFlash(ctx context.Context) {
	d.mu.Lock()

	switch d.state {
	case StateFlashing, StateFailed, StateDisconnected:
		d.mu.Unlock()
		return
	}

	if d.pendingFirmware == nil {
		d.mu.Unlock()
		return
	}

	from := d.state

	var buses []string
	if from == StateReserved {
		buses = d.takeBusesLocked()
	}

	d.state = StateBootloader
	partition := d.nodeLocked(hotplug.Properties.IsPartition)
	tty := d.nodeLocked(hotplug.Properties.IsTTY)
	d.mu.Unlock()

	d.notify(from, StateBootloader)

	if from == StateReserved {
		d.unexport(ctx, buses)
	}

	switch {
	case partition != "":
		d.flash(ctx, partition)
	case tty != "":
		d.env.protocol.EnterBootloader(ctx, tty)
	}
}

func (d *Device) fail(ctx context.Context, reason string) {
	d.mu.Lock()

	from := d.state
	if d.effectiveLocked() == StateFailed {
		d.mu.Unlock()
		return
	}

	owner := d.owner
	d.owner = ""
	d.exportEnabled = false
	d.pendingFirmware = nil
	d.verifyGen++
	buses := d.takeBusesLocked()
	d.setEffectiveLocked(StateFailed)
	to := d.state
	d.mu.Unlock()

	d.notify(from, to)
	d.unexport(ctx, buses)

	d.logger.Error().Str("reason", reason).Msg("Device failed")

	ev, err := models.NewEvent(d.serial, models.EventFailure).WithContents(map[string]string{"reason": reason})
	if err != nil {
		d.logger.Warn().Err(err).Msg("Failed to encode failure reason")
	}

	d.send(ctx, owner, ev)
}

func (d *Device) reset() bool {
	d.mu.Lock()
	if d.effectiveLocked() != StateFailed {
		d.mu.Unlock()
		return false
	}

	from := d.state
	d.flashFailures = 0
	d.setEffectiveLocked(StateDiscovered)
	to := d.state
	d.mu.Unlock()

	d.notify(from, to)

	d.post(func(ctx context.Context) {
		d.mu.Lock()
		if d.state != StateDiscovered {
			d.mu.Unlock()
			return
		}

		d.state = d.discoverLocked()
		to := d.state
		d.mu.Unlock()

		d.notify(StateDiscovered, to)

		if to == StateBootloader {
			d.startPendingFlash(ctx)
		}
	})

	return true
}

// handleTimeout reacts to an export whose client stopped using it. The bus
// is released so the board re-enumerates locally and is exported again.
func (d *Device) handleTimeout(ctx context.Context, bus string) {
	d.mu.Lock()
	if d.state != StateReserved {
		d.mu.Unlock()
		return
	}

	owner := d.owner
	delete(d.buses, bus)
	d.mu.Unlock()

	d.logger.Warn().Str("bus", bus).Msg("Export timed out")
	d.send(ctx, owner, models.NewEvent(d.serial, models.EventTimeout).WithBus(bus))

	err := d.env.exporter.Unbind(ctx, bus)
	if err == nil {
		return
	}

	d.logger.Warn().Err(err).Str("bus", bus).Msg("Failed to release timed out export")

	// The board was unplugged while exported: its device-files went with the
	// export and no remove event will follow.
	d.mu.Lock()
	if d.state != StateReserved || len(d.devNodes) > 0 || len(d.buses) > 0 {
		d.mu.Unlock()
		return
	}

	from, owner := d.disconnectLocked()
	d.mu.Unlock()

	d.env.liveness.Untrack(d.serial)
	d.disconnected(ctx, from, owner)
}

func (d *Device) unbindRequest(ctx context.Context, owner string) error {
	d.mu.Lock()
	if d.owner != owner {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotOwner, d.serial)
	}

	d.exportEnabled = false
	buses := d.takeBusesLocked()
	d.mu.Unlock()

	d.unexport(ctx, buses)

	return nil
}

func (d *Device) ownedBy(owner string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return owner != "" && d.owner == owner
}
