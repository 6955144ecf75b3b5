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

// Package device tracks physical boards through discovery, flashing,
// reservation and failure, one state machine per serial.
package device

//go:generate mockgen -destination=mock_device.go -package=device github.com/carverauto/usbipice/pkg/device Sender,Liveness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/carverauto/usbipice/pkg/bootloader"
	"github.com/carverauto/usbipice/pkg/hotplug"
	"github.com/carverauto/usbipice/pkg/lifecycle"
	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
	"github.com/carverauto/usbipice/pkg/usbip"
)

// Sender delivers events to reservation owners.
type Sender interface {
	Send(ctx context.Context, ownerID string, ev models.Event) bool
}

// Liveness watches exported buses for clients that stopped using them.
type Liveness interface {
	Track(serial, bus string)
	Untrack(serial string) bool
	DeviceEvent(serial string)
}

// Dependencies are the collaborators a Manager drives.
type Dependencies struct {
	Protocol bootloader.Protocol
	// Verifier is optional. Without it a written image is trusted.
	Verifier bootloader.Verifier
	Exporter usbip.Exporter
	Liveness Liveness
	Sender   Sender
	// OnStateChange is optional.
	OnStateChange StateFunc
}

type environment struct {
	cfg      Config
	protocol bootloader.Protocol
	verifier bootloader.Verifier
	exporter usbip.Exporter
	liveness Liveness
	sender   Sender
	onState  StateFunc
	logger   logger.Logger
}

type noopLiveness struct{}

func (noopLiveness) Track(string, string) {}
func (noopLiveness) Untrack(string) bool  { return false }
func (noopLiveness) DeviceEvent(string)   {}

type noopSender struct{}

func (noopSender) Send(context.Context, string, models.Event) bool { return false }

// Manager owns every Device seen on this host.
type Manager struct {
	env    *environment
	filter *hotplug.Filter
	logger logger.Logger

	// base outlives Stop so that in-flight flashes finish.
	base context.Context

	mu      sync.RWMutex
	devices map[string]*Device
	stopped bool

	wg sync.WaitGroup
}

var _ lifecycle.Service = (*Manager)(nil)

// NewManager creates a manager. cfg must already be validated.
func NewManager(cfg Config, deps Dependencies, log logger.Logger) *Manager {
	env := &environment{
		cfg:      cfg,
		protocol: deps.Protocol,
		verifier: deps.Verifier,
		exporter: deps.Exporter,
		liveness: deps.Liveness,
		sender:   deps.Sender,
		onState:  deps.OnStateChange,
		logger:   log,
	}

	if env.liveness == nil {
		env.liveness = noopLiveness{}
	}

	if env.sender == nil {
		env.sender = noopSender{}
	}

	if env.protocol == nil {
		env.protocol = bootloader.New(bootloader.WithLogger(log))
	}

	return &Manager{
		env:     env,
		filter:  hotplug.NewFilter(cfg.Models),
		logger:  log,
		base:    context.Background(),
		devices: make(map[string]*Device),
	}
}

// Start implements lifecycle.Service. Device workers start lazily.
func (m *Manager) Start(_ context.Context) error {
	m.logger.Info().Int("max_flash_attempts", m.env.cfg.MaxFlashAttempts).Msg("Device manager started")
	return nil
}

// Stop closes every device inbox and waits for queued work to drain.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	devices := make([]*Device, 0, len(m.devices))

	for _, d := range m.devices {
		devices = append(devices, d)
	}
	m.mu.Unlock()

	for _, d := range devices {
		d.closeInbox()
	}

	done := make(chan struct{})

	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info().Msg("Device manager stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("device manager stop: %w", ctx.Err())
	}
}

// Consume dispatches events from src until its channel closes or ctx ends.
func (m *Manager) Consume(ctx context.Context, src hotplug.Source) {
	events := src.Events()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}

			m.HandleHotplug(ev)
		}
	}
}

// HandleHotplug routes one hotplug event to its device. Events for
// unsupported boards are ignored. The call returns once the event is queued.
func (m *Manager) HandleHotplug(ev hotplug.Event) bool {
	serial, ok := m.filter.Serial(ev.Properties)
	if !ok {
		return false
	}

	var d *Device

	switch ev.Action {
	case hotplug.ActionAdd:
		d = m.getOrCreate(serial)
	case hotplug.ActionRemove, hotplug.ActionChange, hotplug.ActionBind, hotplug.ActionUnbind:
		d = m.lookup(serial)
	default:
		m.logger.Debug().Str("action", string(ev.Action)).Msg("Ignoring hotplug action")
		return false
	}

	if d == nil {
		if ev.Action == hotplug.ActionRemove {
			m.logger.Warn().Str("serial", serial).Msg("Removal for untracked device")
			return false
		}

		m.logger.Debug().Str("serial", serial).Str("action", string(ev.Action)).Msg("Event for untracked device")

		return false
	}

	props := ev.Properties.Clone()

	switch ev.Action {
	case hotplug.ActionAdd:
		return d.post(func(ctx context.Context) { d.handleAdd(ctx, props) })
	case hotplug.ActionRemove:
		return d.post(func(ctx context.Context) { d.handleRemove(ctx, props) })
	default:
		return d.post(func(context.Context) { d.handleChange(props) })
	}
}

func (m *Manager) lookup(serial string) *Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.devices[serial]
}

func (m *Manager) getOrCreate(serial string) *Device {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}

	if d, ok := m.devices[serial]; ok {
		return d
	}

	d := newDevice(serial, m.env)
	m.devices[serial] = d

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		d.run(m.base)
	}()

	m.logger.Info().Str("serial", serial).Msg("Discovered device")

	return d
}

// Reserve hands a Ready device to owner and starts exporting it.
func (m *Manager) Reserve(serial, owner string) bool {
	d := m.lookup(serial)
	if d == nil || owner == "" {
		return false
	}

	return d.reserve(owner)
}

// Unreserve releases an owned device in any state. With a default firmware
// configured the device is reflashed before returning to the pool.
func (m *Manager) Unreserve(serial string) bool {
	d := m.lookup(serial)
	if d == nil {
		return false
	}

	return d.unreserve()
}

// RequestFirmwareUpdate queues fw for serial. It is accepted in any state
// and never preempts a flash already in progress.
func (m *Manager) RequestFirmwareUpdate(serial string, fw []byte) bool {
	d := m.lookup(serial)
	if d == nil || len(fw) == 0 {
		return false
	}

	d.requestFirmware(fw)

	return true
}

// Fail moves serial to Failed and notifies its owner.
func (m *Manager) Fail(serial, reason string) bool {
	d := m.lookup(serial)
	if d == nil {
		return false
	}

	return d.post(func(ctx context.Context) { d.fail(ctx, reason) })
}

// Reset returns a Failed device to discovery.
func (m *Manager) Reset(serial string) bool {
	d := m.lookup(serial)
	if d == nil {
		return false
	}

	return d.reset()
}

// HandleTimeout is the liveness callback for an export nobody is using.
func (m *Manager) HandleTimeout(_ context.Context, serial, bus string) {
	d := m.lookup(serial)
	if d == nil {
		return
	}

	d.post(func(ctx context.Context) { d.handleTimeout(ctx, bus) })
}

// HandleRequest applies an owner request to every listed serial. Each serial
// is attempted and the errors are joined.
func (m *Manager) HandleRequest(ctx context.Context, owner string, req models.Request) error {
	m.mu.RLock()
	stopped := m.stopped
	m.mu.RUnlock()

	if stopped {
		return ErrStopped
	}

	var errs []error

	for _, serial := range req.Serial {
		d := m.lookup(serial)
		if d == nil {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownDevice, serial))
			continue
		}

		if err := d.handleRequest(ctx, owner, req.Kind, req.Contents); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// OwnedBy lists the serials currently reserved by owner.
func (m *Manager) OwnedBy(owner string) []string {
	var out []string

	for _, d := range m.snapshot() {
		if d.ownedBy(owner) {
			out = append(out, d.serial)
		}
	}

	sort.Strings(out)

	return out
}

// Devices returns a snapshot of every known device ordered by serial.
func (m *Manager) Devices() []Info {
	devices := m.snapshot()
	out := make([]Info, 0, len(devices))

	for _, d := range devices {
		out = append(out, d.Info())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })

	return out
}

// Device returns one device snapshot.
func (m *Manager) Device(serial string) (Info, bool) {
	d := m.lookup(serial)
	if d == nil {
		return Info{}, false
	}

	return d.Info(), true
}

// Available lists Ready serials.
func (m *Manager) Available() []string {
	var out []string

	for _, d := range m.snapshot() {
		if d.State() == StateReady {
			out = append(out, d.serial)
		}
	}

	sort.Strings(out)

	return out
}

func (m *Manager) snapshot() []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}

	return out
}

// flush waits until every event queued for serial before the call has run.
func (m *Manager) flush(serial string) bool {
	d := m.lookup(serial)
	if d == nil {
		return false
	}

	done := make(chan struct{})
	if !d.post(func(context.Context) { close(done) }) {
		return false
	}

	<-done

	return true
}
