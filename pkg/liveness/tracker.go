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

// Package liveness detects reserved devices that stopped carrying traffic.
package liveness

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultThreshold    = 15 * time.Second
	defaultRearmDelay   = 15 * time.Second
)

var errTrackerStarted = errors.New("tracker already started")

// Config controls polling and timeout thresholds.
type Config struct {
	PollInterval models.Duration `json:"poll_interval"`
	Threshold    models.Duration `json:"threshold"`
	RearmDelay   models.Duration `json:"rearm_delay"`
}

// Validate fills defaults.
func (c *Config) Validate() error {
	c.PollInterval = c.PollInterval.OrDefault(defaultPollInterval)
	c.Threshold = c.Threshold.OrDefault(defaultThreshold)
	c.RearmDelay = c.RearmDelay.OrDefault(defaultRearmDelay)

	return nil
}

// Tracker holds one DeviceStatus per tracked serial and polls the export set.
type Tracker struct {
	source    ExportSource
	cfg       Config
	onTimeout TimeoutFunc
	clock     Clock
	logger    logger.Logger

	mu      sync.RWMutex
	devices map[string]*DeviceStatus

	started   bool
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewTracker creates a tracker. A nil clock uses real time.
func NewTracker(src ExportSource, cfg Config, onTimeout TimeoutFunc, clock Clock, log logger.Logger) *Tracker {
	_ = cfg.Validate()

	if clock == nil {
		clock = RealClock{}
	}

	if onTimeout == nil {
		onTimeout = func(context.Context, string, string) {}
	}

	return &Tracker{
		source:    src,
		cfg:       cfg,
		onTimeout: onTimeout,
		clock:     clock,
		logger:    log,
		devices:   make(map[string]*DeviceStatus),
		done:      make(chan struct{}),
	}
}

// Track starts tracking serial on bus, or moves an existing record to bus.
func (t *Tracker) Track(serial, bus string) {
	now := t.clock.Now()

	t.mu.Lock()
	status, ok := t.devices[serial]
	if !ok {
		t.devices[serial] = newDeviceStatus(serial, bus, now, t.cfg.Threshold.Std(), t.cfg.RearmDelay.Std())
	}
	t.mu.Unlock()

	if ok {
		status.updateBus(bus, now)
		return
	}

	t.logger.Debug().Str("serial", serial).Str("bus", bus).Msg("Tracking device liveness")
}

// Untrack stops tracking serial. It returns false if serial was not tracked.
func (t *Tracker) Untrack(serial string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.devices[serial]; !ok {
		return false
	}

	delete(t.devices, serial)

	return true
}

// DeviceEvent refreshes a tracked serial after hotplug activity. Untracked serials are ignored.
func (t *Tracker) DeviceEvent(serial string) {
	t.mu.RLock()
	status, ok := t.devices[serial]
	t.mu.RUnlock()

	if ok {
		status.deviceEvent(t.clock.Now())
	}
}

// Tracked reports whether serial has a liveness record.
func (t *Tracker) Tracked(serial string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.devices[serial]

	return ok
}

// Snapshots returns copies of all records sorted by serial.
func (t *Tracker) Snapshots() []Snapshot {
	out := make([]Snapshot, 0)
	for _, s := range t.records() {
		out = append(out, s.snapshot())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })

	return out
}

func (t *Tracker) records() []*DeviceStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	records := make([]*DeviceStatus, 0, len(t.devices))
	for _, s := range t.devices {
		records = append(records, s)
	}

	return records
}

// Poll runs one cycle: query the export set, apply it to every record, and
// report each new timeout episode. A failed query skips the cycle.
func (t *Tracker) Poll(ctx context.Context) {
	active, err := t.source.ActiveBuses(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Export set query failed, skipping liveness poll")
		return
	}

	now := t.clock.Now()
	records := t.records()

	for _, s := range records {
		if s.checkTimeout(active, now) {
			t.logger.Debug().Str("serial", s.serial).Msg("Device past liveness threshold")
		}
	}

	for _, s := range records {
		if !s.hadTimeout(now) {
			continue
		}

		bus := s.currentBus()

		t.logger.Warn().Str("serial", s.serial).Str("bus", bus).Msg("Device timed out")
		t.onTimeout(ctx, s.serial, bus)
	}
}

// Start launches the poll loop.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errTrackerStarted
	}

	t.started = true
	t.mu.Unlock()

	ticker := t.clock.Ticker(t.cfg.PollInterval.Std())

	t.wg.Add(1)

	go func() {
		defer t.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.done:
				return
			case <-ticker.Chan():
				t.Poll(ctx)
			}
		}
	}()

	t.logger.Info().
		Dur("poll_interval", t.cfg.PollInterval.Std()).
		Dur("threshold", t.cfg.Threshold.Std()).
		Msg("Liveness tracker started")

	return nil
}

// Stop signals the poll loop to exit after its current iteration and waits for it.
func (t *Tracker) Stop(ctx context.Context) error {
	t.closeOnce.Do(func() { close(t.done) })

	finished := make(chan struct{})

	go func() {
		t.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
