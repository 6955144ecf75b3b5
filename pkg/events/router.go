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

// Package events routes lifecycle events to the connection of the owning
// client and to in-process handlers.
package events

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
)

// ErrConnectionClosed is returned by a Connection that can no longer send.
// The router does not retry it.
var ErrConnectionClosed = errors.New("connection closed")

const (
	defaultSendAttempts = 3
	defaultRetryBackoff = 100 * time.Millisecond
)

// Connection is a live transport to one owner.
type Connection interface {
	Send(ctx context.Context, ev models.Event) error
	Close() error
}

// Config controls delivery retries.
type Config struct {
	SendAttempts int             `json:"send_attempts"`
	RetryBackoff models.Duration `json:"retry_backoff"`
}

// Validate fills defaults.
func (c *Config) Validate() error {
	if c.SendAttempts <= 0 {
		c.SendAttempts = defaultSendAttempts
	}

	c.RetryBackoff = c.RetryBackoff.OrDefault(defaultRetryBackoff)

	return nil
}

// Router maps owner ids to their live connection. At most one connection
// is registered per owner.
type Router struct {
	cfg    Config
	logger logger.Logger

	mu    sync.RWMutex
	conns map[string]Connection

	hmu      sync.RWMutex
	handlers []Handler
}

// NewRouter creates an empty router.
func NewRouter(cfg Config, log logger.Logger) *Router {
	_ = cfg.Validate()

	return &Router{
		cfg:    cfg,
		logger: log,
		conns:  make(map[string]Connection),
	}
}

// RegisterOwner installs conn for ownerID and closes any previous connection.
// The old connection is closed outside the registry lock.
func (r *Router) RegisterOwner(ownerID string, conn Connection) {
	r.mu.Lock()
	old, ok := r.conns[ownerID]
	r.conns[ownerID] = conn
	r.mu.Unlock()

	if !ok || old == conn {
		return
	}

	if err := old.Close(); err != nil {
		r.logger.Debug().Err(err).Str("owner", ownerID).Msg("Error closing replaced connection")
	}

	r.logger.Info().Str("owner", ownerID).Msg("Replaced owner connection")
}

// UnregisterOwner removes and closes the connection for ownerID.
func (r *Router) UnregisterOwner(ownerID string) bool {
	r.mu.Lock()
	conn, ok := r.conns[ownerID]
	delete(r.conns, ownerID)
	r.mu.Unlock()

	if !ok {
		return false
	}

	_ = conn.Close()

	return true
}

// UnregisterConnection removes ownerID only while conn is still its live
// connection. A transport calls this when its socket ends so that it cannot
// evict a newer connection for the same owner.
func (r *Router) UnregisterConnection(ownerID string, conn Connection) bool {
	r.mu.Lock()
	current, ok := r.conns[ownerID]
	if !ok || current != conn {
		r.mu.Unlock()
		return false
	}

	delete(r.conns, ownerID)
	r.mu.Unlock()

	_ = conn.Close()

	return true
}

// Connected reports whether ownerID has a live connection.
func (r *Router) Connected(ownerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.conns[ownerID]

	return ok
}

// Owners returns the registered owner ids in sorted order.
func (r *Router) Owners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owners := make([]string, 0, len(r.conns))
	for id := range r.conns {
		owners = append(owners, id)
	}

	sort.Strings(owners)

	return owners
}

// Send delivers ev to ownerID. It returns false when the owner has no
// connection or every attempt failed; in the latter case the broken
// connection is dropped. Unknown owners leave the registry untouched.
func (r *Router) Send(ctx context.Context, ownerID string, ev models.Event) bool {
	r.mu.RLock()
	conn, ok := r.conns[ownerID]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug().Str("owner", ownerID).Str("serial", ev.Serial).Str("event", string(ev.Kind)).
			Msg("No connection for owner, event undeliverable")

		return false
	}

	var err error

	for attempt := 1; attempt <= r.cfg.SendAttempts; attempt++ {
		if err = conn.Send(ctx, ev); err == nil {
			return true
		}

		if errors.Is(err, ErrConnectionClosed) || attempt == r.cfg.SendAttempts {
			break
		}

		timer := time.NewTimer(time.Duration(attempt) * r.cfg.RetryBackoff.Std())

		select {
		case <-ctx.Done():
			timer.Stop()

			return false
		case <-timer.C:
		}
	}

	r.logger.Warn().Err(err).Str("owner", ownerID).Str("serial", ev.Serial).Str("event", string(ev.Kind)).
		Msg("Failed to deliver event, dropping connection")

	r.UnregisterConnection(ownerID, conn)

	return false
}

// Close closes and removes every registered connection.
func (r *Router) Close() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]Connection)
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
