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

package control

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
	"github.com/carverauto/usbipice/pkg/reservation"
)

const heartbeatConcurrency = 16

// monitor runs the periodic checks of the control plane. Each check runs
// on its own ticker and never overlaps with itself.
type monitor struct {
	schedule Schedule
	store    reservation.ControlStore
	workers  WorkerClient
	release  func(ctx context.Context, ended models.EndedReservation)
	notify   func(ctx context.Context, clientID string, ev models.Event)
	logger   logger.Logger
}

func (m *monitor) start(ctx context.Context, wg *sync.WaitGroup) {
	loops := []struct {
		name     string
		interval time.Duration
		run      func(context.Context)
	}{
		{"heartbeat", m.schedule.HeartbeatInterval.Std(), m.heartbeatWorkers},
		{"worker_timeouts", m.schedule.WorkerTimeoutPoll.Std(), m.workerTimeouts},
		{"reservation_timeouts", m.schedule.ReservationPoll.Std(), m.reservationTimeouts},
		{"ending_soon", m.schedule.EndingSoonPoll.Std(), m.reservationsEndingSoon},
	}

	for _, l := range loops {
		l := l
		wg.Add(1)

		go func() {
			defer wg.Done()

			m.every(ctx, l.name, l.interval, l.run)
		}()
	}
}

func (m *monitor) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Debug().Str("loop", name).Dur("interval", interval).Msg("Monitor loop started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// heartbeatWorkers polls every registered worker and records the ones that
// answer.
func (m *monitor) heartbeatWorkers(ctx context.Context) {
	workers, err := m.store.ListWorkers(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to list workers")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(heartbeatConcurrency)

	for _, w := range workers {
		w := w
		g.Go(func() error {
			addr := WorkerAddr(w.IP, w.Port)

			hb, err := m.workers.Heartbeat(gctx, addr)
			if err != nil {
				m.logger.Warn().Err(err).Str("worker", w.Name).Msg("Worker failed heartbeat check")
				return nil
			}

			if err := m.store.RecordHeartbeat(gctx, w.Name); err != nil {
				m.logger.Error().Err(err).Str("worker", w.Name).Msg("Failed to record heartbeat")
				return nil
			}

			m.logger.Debug().
				Str("worker", w.Name).
				Str("version", hb.Version).
				Int("devices", hb.Devices).
				Int("available", hb.Available).
				Float64("cpu_percent", hb.CPUPercent).
				Msg("Worker heartbeat")

			return nil
		})
	}

	_ = g.Wait()
}

// workerTimeouts fails the reservations held on workers that stopped
// answering heartbeats.
func (m *monitor) workerTimeouts(ctx context.Context) {
	owned, err := m.store.WorkerTimeouts(ctx, m.schedule.WorkerTimeout.Std())
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to check worker timeouts")
		return
	}

	for _, o := range owned {
		m.logger.Warn().Str("serial", o.Serial).Str("client_id", o.ClientID).Msg("Device lost with its worker")
		m.notify(ctx, o.ClientID, models.NewEvent(o.Serial, models.EventFailure))
	}
}

func (m *monitor) reservationTimeouts(ctx context.Context) {
	ended, err := m.store.ReservationTimeouts(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to check reservation timeouts")
		return
	}

	for _, e := range ended {
		m.logger.Info().Str("serial", e.Serial).Str("client_id", e.ClientID).Msg("Reservation expired")
		m.release(ctx, e)
	}
}

func (m *monitor) reservationsEndingSoon(ctx context.Context) {
	owned, err := m.store.ReservationsEndingSoon(ctx, m.schedule.EndingSoonNotifyAt.Std())
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to check reservations ending soon")
		return
	}

	for _, o := range owned {
		m.notify(ctx, o.ClientID, models.NewEvent(o.Serial, models.EventReservationEndingSoon))
	}
}
