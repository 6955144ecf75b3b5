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
	"fmt"

	"github.com/carverauto/usbipice/pkg/models"
)

// State is a device lifecycle state.
type State int

const (
	StateDiscovered State = iota
	StateBootloader
	StateFlashing
	StateVerifying
	StateReady
	StateReserved
	StateDisconnected
	StateFailed
)

var stateNames = map[State]string{
	StateDiscovered:   "discovered",
	StateBootloader:   "bootloader",
	StateFlashing:     "flashing",
	StateVerifying:    "verifying",
	StateReady:        "ready",
	StateReserved:     "reserved",
	StateDisconnected: "disconnected",
	StateFailed:       "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StoreStatus maps a state onto the status column kept in the reservation store.
func (s State) StoreStatus() string {
	switch s {
	case StateReady:
		return models.DeviceStatusAvailable
	case StateReserved:
		return models.DeviceStatusReserved
	case StateBootloader, StateFlashing, StateVerifying, StateDiscovered:
		return models.DeviceStatusFlashing
	case StateDisconnected:
		return models.DeviceStatusDisconnect
	default:
		return models.DeviceStatusBroken
	}
}

// StateFunc observes state transitions. It is called outside device locks.
type StateFunc func(serial string, from, to State)
