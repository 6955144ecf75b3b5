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

package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/carverauto/usbipice/pkg/events"
	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
	"github.com/carverauto/usbipice/pkg/transport/ws"
)

var (
	// ErrNotConnected is returned when sending to a peer with no socket.
	ErrNotConnected = errors.New("not connected")
	errServerClosed = errors.New("event server closed")
)

// socket is one peer connection. conn is replaced on reconnect.
type socket struct {
	base   string
	cancel context.CancelFunc

	mu   sync.Mutex
	conn *ws.Conn
}

func (s *socket) current() *ws.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn
}

func (s *socket) set(conn *ws.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// EventServer keeps event sockets open to the control plane and to every
// worker hosting a reserved device, and dispatches what arrives to the
// registered handlers. An event delivered twice is handled once.
type EventServer struct {
	clientID  string
	opts      ws.Options
	reconnect time.Duration
	router    *events.Router
	dedupe    *events.Deduper
	logger    logger.Logger

	mu      sync.Mutex
	sockets map[string]*socket
	closed  bool
	wg      sync.WaitGroup
}

// NewEventServer creates an event server for clientID. cfg must already be
// validated.
func NewEventServer(clientID string, cfg *Config, log logger.Logger) *EventServer {
	return &EventServer{
		clientID:  clientID,
		opts:      cfg.Socket,
		reconnect: cfg.ReconnectDelay.Std(),
		router:    events.NewRouter(cfg.Events, log),
		dedupe:    events.NewDeduper(cfg.DedupeWindow),
		logger:    log,
		sockets:   make(map[string]*socket),
	}
}

// AddHandler registers h. Handlers run in registration order.
func (e *EventServer) AddHandler(h events.Handler) {
	e.router.AddHandler(h)
}

// Dispatch hands ev to the handlers unless it was seen before.
func (e *EventServer) Dispatch(ctx context.Context, ev models.Event) {
	if e.dedupe.Seen(ev.ID) {
		e.logger.Debug().Str("id", ev.ID).Str("event", string(ev.Kind)).Msg("Duplicate event ignored")
		return
	}

	e.router.BroadcastLocal(ctx, ev)
}

// Connected reports whether a socket to base is registered.
func (e *EventServer) Connected(base string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.sockets[base]

	return ok
}

// Connect opens a socket to the events endpoint at base. It is a no-op when
// one is already open. A socket that drops is redialed until Disconnect or
// Close.
func (e *EventServer) Connect(ctx context.Context, base string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errServerClosed
	}

	if _, ok := e.sockets[base]; ok {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	conn, err := ws.Dial(ctx, base, e.clientID, e.opts, e.logger)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &socket{base: base, cancel: cancel, conn: conn}

	e.mu.Lock()
	if _, ok := e.sockets[base]; ok || e.closed {
		e.mu.Unlock()
		cancel()
		_ = conn.Close()

		return nil
	}

	e.sockets[base] = s
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.Info().Str("peer", base).Msg("Event socket connected")

	go func() {
		defer e.wg.Done()

		e.serve(runCtx, s)
	}()

	return nil
}

func (e *EventServer) serve(ctx context.Context, s *socket) {
	for {
		conn := s.current()

		err := conn.ReadLoop(ctx, func(data []byte) {
			e.handleFrame(ctx, s.base, data)
		})
		if err != nil {
			e.logger.Warn().Err(err).Str("peer", s.base).Msg("Event socket dropped")
		}

		if ctx.Err() != nil {
			return
		}

		conn, ok := e.redial(ctx, s.base)
		if !ok {
			return
		}

		s.set(conn)
	}
}

func (e *EventServer) redial(ctx context.Context, base string) (*ws.Conn, bool) {
	for {
		timer := time.NewTimer(e.reconnect)

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		case <-timer.C:
		}

		conn, err := ws.Dial(ctx, base, e.clientID, e.opts, e.logger)
		if err == nil {
			e.logger.Info().Str("peer", base).Msg("Event socket reconnected")
			return conn, true
		}

		e.logger.Warn().Err(err).Str("peer", base).Msg("Event socket reconnect failed")
	}
}

func (e *EventServer) handleFrame(ctx context.Context, base string, data []byte) {
	var ev models.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		e.logger.Warn().Err(err).Str("peer", base).Msg("Unparsable event")
		return
	}

	if err := ev.Validate(); err != nil {
		e.logger.Warn().Err(err).Str("peer", base).Msg("Invalid event")
		return
	}

	e.logger.Debug().Str("peer", base).Str("serial", ev.Serial).Str("event", string(ev.Kind)).Msg("Received event")
	e.Dispatch(ctx, ev)
}

// Send writes v on the socket to base.
func (e *EventServer) Send(ctx context.Context, base string, v interface{}) error {
	e.mu.Lock()
	s, ok := e.sockets[base]
	e.mu.Unlock()

	if !ok {
		return ErrNotConnected
	}

	return s.current().WriteJSON(ctx, v)
}

// Disconnect closes the socket to base.
func (e *EventServer) Disconnect(base string) {
	e.mu.Lock()
	s, ok := e.sockets[base]
	delete(e.sockets, base)
	e.mu.Unlock()

	if !ok {
		return
	}

	s.cancel()
	_ = s.current().Close()

	e.logger.Info().Str("peer", base).Msg("Event socket disconnected")
}

// Close disconnects every socket and waits for the readers to exit.
func (e *EventServer) Close() {
	e.mu.Lock()
	e.closed = true

	bases := make([]string, 0, len(e.sockets))
	for base := range e.sockets {
		bases = append(bases, base)
	}
	e.mu.Unlock()

	for _, base := range bases {
		e.Disconnect(base)
	}

	e.wg.Wait()
}
