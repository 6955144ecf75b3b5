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

// Package reservation persists workers, devices and reservations through
// stored procedures in PostgreSQL.
package reservation

//go:generate mockgen -destination=mock_reservation.go -package=reservation github.com/carverauto/usbipice/pkg/reservation ControlStore,WorkerStore

import (
	"context"
	"time"

	"github.com/carverauto/usbipice/pkg/models"
)

// ControlStore is used by the control plane. clientID identifies the owner
// of a reservation; it is also the id the owner's event socket registers with.
type ControlStore interface {
	Reserve(ctx context.Context, amount int, ownerURL, clientID string) ([]models.Reservation, error)
	Extend(ctx context.Context, clientID string, serials []string) ([]string, error)
	ExtendAll(ctx context.Context, clientID string) ([]string, error)
	End(ctx context.Context, clientID string, serials []string) ([]models.EndedReservation, error)
	EndAll(ctx context.Context, clientID string) ([]models.EndedReservation, error)

	ListWorkers(ctx context.Context) ([]models.Worker, error)
	RecordHeartbeat(ctx context.Context, worker string) error
	// WorkerTimeouts removes workers silent for longer than timeout and
	// returns the reserved devices they held.
	WorkerTimeouts(ctx context.Context, timeout time.Duration) ([]models.OwnedDevice, error)
	// ReservationTimeouts ends expired reservations.
	ReservationTimeouts(ctx context.Context) ([]models.EndedReservation, error)
	// ReservationsEndingSoon returns reservations ending within the window
	// that have not been reported before.
	ReservationsEndingSoon(ctx context.Context, within time.Duration) ([]models.OwnedDevice, error)
}

// WorkerStore is used by a worker to publish itself and its devices.
type WorkerStore interface {
	AddWorker(ctx context.Context, w models.Worker) error
	AddDevice(ctx context.Context, serial, worker string) error
	UpdateDeviceStatus(ctx context.Context, serial, status string) error
	// RemoveWorker deletes the worker and its devices, returning the
	// devices that were reserved.
	RemoveWorker(ctx context.Context, worker string) ([]models.OwnedDevice, error)
}
