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

// Package ws carries lifecycle events and owner requests over websockets.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/usbipice/pkg/events"
	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
)

const (
	defaultWriteTimeout   = 10 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 100 << 20
)

// Options tune a connection. Zero values use defaults.
type Options struct {
	WriteTimeout   models.Duration `json:"write_timeout"`
	PingInterval   models.Duration `json:"ping_interval"`
	PongWait       models.Duration `json:"pong_wait"`
	MaxMessageSize int64           `json:"max_message_size"`
}

// Validate fills defaults.
func (o *Options) Validate() error {
	o.WriteTimeout = o.WriteTimeout.OrDefault(defaultWriteTimeout)
	o.PingInterval = o.PingInterval.OrDefault(defaultPingInterval)
	o.PongWait = o.PongWait.OrDefault(defaultPongWait)

	if o.PongWait.Std() <= o.PingInterval.Std() {
		o.PongWait = models.Duration(2 * o.PingInterval.Std())
	}

	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}

	return nil
}

// Conn is one websocket peer. Writes are serialized; one goroutine reads.
type Conn struct {
	ws     *websocket.Conn
	opts   Options
	logger logger.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

var _ events.Connection = (*Conn)(nil)

func newConn(ws *websocket.Conn, opts Options, log logger.Logger) *Conn {
	_ = opts.Validate()

	ws.SetReadLimit(opts.MaxMessageSize)

	return &Conn{
		ws:     ws,
		opts:   opts,
		logger: log,
		done:   make(chan struct{}),
	}
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Send implements events.Connection.
func (c *Conn) Send(ctx context.Context, ev models.Event) error {
	return c.WriteJSON(ctx, ev)
}

// WriteJSON writes v as one text frame. A failed write leaves the websocket
// unusable, so the connection is closed and ErrConnectionClosed is returned.
func (c *Conn) WriteJSON(ctx context.Context, v interface{}) error {
	if c.closed() {
		return events.ErrConnectionClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(c.opts.WriteTimeout.Std())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		_ = c.closeLocked()
		return fmt.Errorf("%w: %w", events.ErrConnectionClosed, err)
	}

	if err := c.ws.WriteJSON(v); err != nil {
		_ = c.closeLocked()
		return fmt.Errorf("%w: %w", events.ErrConnectionClosed, err)
	}

	return nil
}

// ReadLoop delivers every text or binary frame to fn until the connection
// closes or ctx ends. It also keeps the connection alive with pings.
func (c *Conn) ReadLoop(ctx context.Context, fn func(data []byte)) error {
	pongWait := c.opts.PongWait.Std()

	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}

	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.keepAlive(ctx)

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			_ = c.Close()

			if c.expectedClose(ctx, err) {
				return nil
			}

			return fmt.Errorf("websocket read: %w", err)
		}

		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			fn(data)
		}
	}
}

func (c *Conn) expectedClose(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		c.logger.Info().
			Int("close_code", closeErr.Code).
			Str("close_text", closeErr.Text).
			Str("remote_addr", c.RemoteAddr()).
			Msg("WebSocket closed with specific code")
	}

	return errors.Is(err, websocket.ErrCloseSent)
}

func (c *Conn) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			_ = c.Close()
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout.Std()))
			c.writeMu.Unlock()

			if err != nil {
				c.logger.Warn().Err(err).Str("remote_addr", c.RemoteAddr()).Msg("Failed to send WebSocket ping")
				_ = c.Close()

				return
			}
		}
	}
}

// Close implements events.Connection. It sends a close frame when possible.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.closeLocked()
}

func (c *Conn) closeLocked() error {
	var err error

	c.closeOnce.Do(func() {
		close(c.done)

		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))

		err = c.ws.Close()
	})

	return err
}
