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

package liveness

import (
	"sync"
	"time"
)

// DeviceStatus is the staleness record of one reserved device. lastEvent
// only moves forward, except that a fired timeout pushes it rearmDelay into
// the future.
type DeviceStatus struct {
	mu sync.Mutex

	serial     string
	bus        string
	lastEvent  time.Time
	threshold  time.Duration
	rearmDelay time.Duration
	timedOut   bool
	reported   bool
}

func newDeviceStatus(serial, bus string, now time.Time, threshold, rearmDelay time.Duration) *DeviceStatus {
	return &DeviceStatus{
		serial:     serial,
		bus:        bus,
		lastEvent:  now,
		threshold:  threshold,
		rearmDelay: rearmDelay,
	}
}

func (s *DeviceStatus) refreshLocked(now time.Time) {
	if now.After(s.lastEvent) {
		s.lastEvent = now
	}
}

// updateBus records a new export of the device.
func (s *DeviceStatus) updateBus(bus string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bus = bus
	s.refreshLocked(now)
}

// deviceEvent records hotplug activity.
func (s *DeviceStatus) deviceEvent(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshLocked(now)
}

// checkTimeout applies one poll snapshot and reports whether the device is
// past its threshold.
func (s *DeviceStatus) checkTimeout(active map[string]struct{}, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := active[s.bus]; ok {
		s.refreshLocked(now)
	}

	s.timedOut = now.Sub(s.lastEvent) >= s.threshold
	if !s.timedOut {
		s.reported = false
	}

	return s.timedOut
}

// hadTimeout returns true exactly once per timeout episode and re-arms the record.
func (s *DeviceStatus) hadTimeout(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.timedOut || s.reported {
		return false
	}

	s.reported = true
	s.timedOut = false
	s.lastEvent = now.Add(s.rearmDelay)

	return true
}

// Snapshot is a read-only copy of a DeviceStatus.
type Snapshot struct {
	Serial    string    `json:"serial"`
	Bus       string    `json:"bus"`
	LastEvent time.Time `json:"last_event"`
	TimedOut  bool      `json:"timed_out"`
}

func (s *DeviceStatus) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{Serial: s.serial, Bus: s.bus, LastEvent: s.lastEvent, TimedOut: s.timedOut}
}

func (s *DeviceStatus) currentBus() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.bus
}
