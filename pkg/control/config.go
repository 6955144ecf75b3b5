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
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/usbipice/pkg/events"
	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
	"github.com/carverauto/usbipice/pkg/reservation"
	"github.com/carverauto/usbipice/pkg/transport/ws"
)

const (
	defaultListenAddr         = ":8080"
	defaultShutdownTimeout    = 30 * time.Second
	defaultWorkerRequest      = 10 * time.Second
	defaultHeartbeatInterval  = 15 * time.Second
	defaultWorkerTimeoutPoll  = 15 * time.Second
	defaultWorkerTimeout      = 60 * time.Second
	defaultReservationPoll    = 30 * time.Second
	defaultEndingSoonPoll     = time.Minute
	defaultEndingSoonNotifyAt = 10 * time.Minute
	defaultMaxReserve         = 64
)

var (
	errDatabaseRequired = errors.New("database is required")
	errTimeoutTooShort  = errors.New("worker_timeout must exceed heartbeat_interval")
)

// Schedule sets how often the control plane checks workers and reservations.
type Schedule struct {
	HeartbeatInterval models.Duration `json:"heartbeat_interval"`
	WorkerTimeoutPoll models.Duration `json:"worker_timeout_poll"`
	// WorkerTimeout is how long a worker may miss heartbeats before its
	// reservations are failed.
	WorkerTimeout      models.Duration `json:"worker_timeout"`
	ReservationPoll    models.Duration `json:"reservation_poll"`
	EndingSoonPoll     models.Duration `json:"ending_soon_poll"`
	EndingSoonNotifyAt models.Duration `json:"ending_soon_notify_at"`
}

// Validate fills defaults.
func (s *Schedule) Validate() error {
	s.HeartbeatInterval = s.HeartbeatInterval.OrDefault(defaultHeartbeatInterval)
	s.WorkerTimeoutPoll = s.WorkerTimeoutPoll.OrDefault(defaultWorkerTimeoutPoll)
	s.WorkerTimeout = s.WorkerTimeout.OrDefault(defaultWorkerTimeout)
	s.ReservationPoll = s.ReservationPoll.OrDefault(defaultReservationPoll)
	s.EndingSoonPoll = s.EndingSoonPoll.OrDefault(defaultEndingSoonPoll)
	s.EndingSoonNotifyAt = s.EndingSoonNotifyAt.OrDefault(defaultEndingSoonNotifyAt)

	if s.WorkerTimeout.Std() <= s.HeartbeatInterval.Std() {
		return fmt.Errorf("%w: %s <= %s", errTimeoutTooShort, s.WorkerTimeout.Std(), s.HeartbeatInterval.Std())
	}

	return nil
}

// Config is the control plane configuration.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	// APIKey, when set, is required on every request as X-API-Key or the
	// api_key query parameter.
	APIKey string `json:"api_key,omitempty"`

	ShutdownTimeout models.Duration `json:"shutdown_timeout"`
	WorkerRequest   models.Duration `json:"worker_request_timeout"`
	MaxReserve      int             `json:"max_reserve"`

	Schedule Schedule       `json:"schedule"`
	Logging  *logger.Config `json:"logging,omitempty"`
	Events   events.Config  `json:"events"`
	Socket   ws.Options     `json:"socket"`

	Database *reservation.Config `json:"database"`
	NATS     *models.NATSConfig  `json:"nats,omitempty"`
}

// Validate fills defaults and validates nested sections.
func (c *Config) Validate() error {
	if c.Database == nil {
		return errDatabaseRequired
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	if c.MaxReserve <= 0 {
		c.MaxReserve = defaultMaxReserve
	}

	c.ShutdownTimeout = c.ShutdownTimeout.OrDefault(defaultShutdownTimeout)
	c.WorkerRequest = c.WorkerRequest.OrDefault(defaultWorkerRequest)

	if err := c.Schedule.Validate(); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}

	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events: %w", err)
	}

	if err := c.Socket.Validate(); err != nil {
		return fmt.Errorf("socket: %w", err)
	}

	if c.NATS != nil {
		if err := c.NATS.Validate(); err != nil {
			return fmt.Errorf("nats: %w", err)
		}
	}

	return nil
}
