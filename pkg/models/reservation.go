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

package models

import "time"

// Reservation is one device granted to a client.
type Reservation struct {
	Serial     string `json:"serial"`
	WorkerIP   string `json:"worker_ip"`
	WorkerPort int    `json:"worker_port"`
	ExportPort int    `json:"export_port"`
	Bus        string `json:"bus,omitempty"`
}

// Worker is a registered worker host.
type Worker struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// EndedReservation is a reservation the store ended, with the worker that
// still has the device exported.
type EndedReservation struct {
	Serial     string `json:"serial"`
	ClientID   string `json:"client_id"`
	WorkerIP   string `json:"worker_ip"`
	WorkerPort int    `json:"worker_port"`
}

// OwnedDevice pairs a device with the client holding it.
type OwnedDevice struct {
	Serial   string `json:"serial"`
	ClientID string `json:"client_id"`
}

// DeviceStatus values written to the store by workers.
const (
	DeviceStatusAvailable  = "available"
	DeviceStatusReserved   = "reserved"
	DeviceStatusFlashing   = "flashing"
	DeviceStatusBroken     = "broken"
	DeviceStatusDisconnect = "disconnected"
)

// ReserveRequest is the body of a control-plane reserve call.
type ReserveRequest struct {
	Amount   int    `json:"amount"`
	Name     string `json:"name"`
	OwnerURL string `json:"url,omitempty"`
}

// SerialsRequest is the body of extend/end calls.
type SerialsRequest struct {
	Name    string   `json:"name"`
	Serials []string `json:"serials"`
}

// NameRequest is the body of extendall/endall calls.
type NameRequest struct {
	Name string `json:"name"`
}

// WorkerReserveRequest is the body of a worker reserve call.
type WorkerReserveRequest struct {
	Serial string `json:"serial"`
	Owner  string `json:"owner"`
}

// WorkerUnreserveRequest is the body of a worker unreserve call.
type WorkerUnreserveRequest struct {
	Serial string `json:"serial"`
}

// Heartbeat is returned by a worker's heartbeat endpoint.
type Heartbeat struct {
	Name       string    `json:"name"`
	Version    string    `json:"version,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Devices    int       `json:"devices"`
	Available  int       `json:"available"`
	CPUPercent float64   `json:"cpu_percent"`
	MemPercent float64   `json:"mem_percent"`
	UptimeSecs uint64    `json:"uptime_secs"`
}
