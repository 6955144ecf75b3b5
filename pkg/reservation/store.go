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

package reservation

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
)

type executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store implements ControlStore and WorkerStore on a pgx pool.
type Store struct {
	db     executor
	logger logger.Logger
}

var (
	_ ControlStore = (*Store)(nil)
	_ WorkerStore  = (*Store)(nil)
)

// NewStore wraps db, usually a *pgxpool.Pool.
func NewStore(db executor, log logger.Logger) *Store {
	return &Store{db: db, logger: log}
}

func (s *Store) exec(ctx context.Context, name, sql string, args ...any) error {
	if _, err := s.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%w %s: %w", ErrFailedToExec, name, err)
	}

	return nil
}

func query[T any](ctx context.Context, s *Store, name, sql string, scan pgx.RowToFunc[T], args ...any) ([]T, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrFailedToQuery, name, err)
	}

	out, err := pgx.CollectRows(rows, scan)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrFailedToScan, name, err)
	}

	return out, nil
}

func scanString(row pgx.CollectableRow) (string, error) {
	var v string
	err := row.Scan(&v)

	return v, err
}

func scanReservation(row pgx.CollectableRow) (models.Reservation, error) {
	var (
		r   models.Reservation
		ip  netip.Addr
		bus pgtype.Text
	)

	if err := row.Scan(&r.Serial, &ip, &r.ExportPort, &bus, &r.WorkerPort); err != nil {
		return r, err
	}

	r.WorkerIP = ip.String()
	r.Bus = bus.String

	return r, nil
}

func scanEnded(row pgx.CollectableRow) (models.EndedReservation, error) {
	var (
		e      models.EndedReservation
		client pgtype.Text
		ip     netip.Addr
	)

	if err := row.Scan(&e.Serial, &client, &ip, &e.WorkerPort); err != nil {
		return e, err
	}

	e.ClientID = client.String
	e.WorkerIP = ip.String()

	return e, nil
}

func scanOwned(row pgx.CollectableRow) (models.OwnedDevice, error) {
	var (
		d      models.OwnedDevice
		client pgtype.Text
	)

	if err := row.Scan(&client, &d.Serial); err != nil {
		return d, err
	}

	d.ClientID = client.String

	return d, nil
}

func scanWorkerTimeout(row pgx.CollectableRow) (models.OwnedDevice, error) {
	var (
		d      models.OwnedDevice
		worker string
		client pgtype.Text
	)

	if err := row.Scan(&worker, &client, &d.Serial); err != nil {
		return d, err
	}

	d.ClientID = client.String

	return d, nil
}

func scanWorker(row pgx.CollectableRow) (models.Worker, error) {
	var (
		w  models.Worker
		ip netip.Addr
	)

	if err := row.Scan(&w.Name, &ip, &w.Port); err != nil {
		return w, err
	}

	w.IP = ip.String()

	return w, nil
}

// Reserve grants up to amount available devices to clientID.
func (s *Store) Reserve(ctx context.Context, amount int, ownerURL, clientID string) ([]models.Reservation, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	out, err := query(ctx, s, "makeReservations", makeReservationsSQL, scanReservation, amount, ownerURL, clientID)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("client_id", clientID).Int("requested", amount).Int("granted", len(out)).
		Msg("Reserved devices")

	return out, nil
}

func (s *Store) Extend(ctx context.Context, clientID string, serials []string) ([]string, error) {
	return query(ctx, s, "extendReservations", extendReservationsSQL, scanString, clientID, serials)
}

func (s *Store) ExtendAll(ctx context.Context, clientID string) ([]string, error) {
	return query(ctx, s, "extendAllReservations", extendAllReservationsSQL, scanString, clientID)
}

func (s *Store) End(ctx context.Context, clientID string, serials []string) ([]models.EndedReservation, error) {
	return query(ctx, s, "endReservations", endReservationsSQL, scanEnded, clientID, serials)
}

func (s *Store) EndAll(ctx context.Context, clientID string) ([]models.EndedReservation, error) {
	return query(ctx, s, "endAllReservations", endAllReservationsSQL, scanEnded, clientID)
}

func (s *Store) ListWorkers(ctx context.Context) ([]models.Worker, error) {
	return query(ctx, s, "getWorkers", getWorkersSQL, scanWorker)
}

func (s *Store) RecordHeartbeat(ctx context.Context, worker string) error {
	return s.exec(ctx, "heartbeatWorker", heartbeatWorkerSQL, worker)
}

func (s *Store) WorkerTimeouts(ctx context.Context, timeout time.Duration) ([]models.OwnedDevice, error) {
	return query(ctx, s, "getWorkerTimeouts", getWorkerTimeoutsSQL, scanWorkerTimeout, int(timeout.Seconds()))
}

func (s *Store) ReservationTimeouts(ctx context.Context) ([]models.EndedReservation, error) {
	return query(ctx, s, "getReservationTimeouts", getReservationTimeoutsSQL, scanEnded)
}

func (s *Store) ReservationsEndingSoon(ctx context.Context, within time.Duration) ([]models.OwnedDevice, error) {
	return query(ctx, s, "handleReservationTimeouts", handleReservationTimeoutsSQL, scanOwned, int(within.Minutes()))
}

func (s *Store) AddWorker(ctx context.Context, w models.Worker) error {
	ip, err := netip.ParseAddr(w.IP)
	if err != nil {
		return fmt.Errorf("worker %s: invalid ip %q: %w", w.Name, w.IP, err)
	}

	return s.exec(ctx, "addWorker", addWorkerSQL, w.Name, ip, w.Port)
}

func (s *Store) AddDevice(ctx context.Context, serial, worker string) error {
	return s.exec(ctx, "addDevice", addDeviceSQL, serial, worker)
}

func (s *Store) UpdateDeviceStatus(ctx context.Context, serial, status string) error {
	return s.exec(ctx, "updateDeviceStatus", updateDeviceStatusSQL, serial, status)
}

func (s *Store) RemoveWorker(ctx context.Context, worker string) ([]models.OwnedDevice, error) {
	return query(ctx, s, "removeWorker", removeWorkerSQL, scanOwned, worker)
}
