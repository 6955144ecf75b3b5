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

// Package control is the reservation control plane. It hands out devices
// from the reservation store, forwards reservations to workers, watches
// worker heartbeats and expires reservations.
package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/carverauto/usbipice/pkg/events"
	uhttp "github.com/carverauto/usbipice/pkg/http"
	"github.com/carverauto/usbipice/pkg/lifecycle"
	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
	"github.com/carverauto/usbipice/pkg/natsutil"
	"github.com/carverauto/usbipice/pkg/reservation"
)

const (
	defaultReadTimeout = 10 * time.Second
	defaultIdleTimeout = 60 * time.Second
)

var errAlreadyStarted = errors.New("control server already started")

// Dependencies are the collaborators of a Server. Store is required.
type Dependencies struct {
	Store     reservation.ControlStore
	Workers   WorkerClient
	Publisher *natsutil.EventPublisher
	// Closers run last during Stop, in order.
	Closers []func()
}

// Server is the control plane service.
type Server struct {
	cfg    *Config
	logger logger.Logger

	store   reservation.ControlStore
	workers WorkerClient
	router  *events.Router
	sender  natsutil.Sender
	monitor *monitor
	closers []func()

	handler http.Handler
	http    *http.Server

	mu      sync.Mutex
	started bool
	addr    net.Addr
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ lifecycle.Service = (*Server)(nil)

// New builds a control server from cfg, connecting to the database and,
// when configured, NATS.
func New(ctx context.Context, cfg *Config, log logger.Logger) (*Server, error) {
	pool, err := reservation.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}

	deps := Dependencies{
		Store:   reservation.NewStore(pool, log),
		Closers: []func(){pool.Close},
	}

	if cfg.NATS != nil {
		publisher, nc, err := natsutil.Connect(ctx, *cfg.NATS, log)
		if err != nil {
			pool.Close()
			return nil, err
		}

		deps.Publisher = publisher
		deps.Closers = append([]func(){nc.Close}, deps.Closers...)
	}

	return NewServer(cfg, deps, log), nil
}

// NewServer wires a control server around deps. cfg must already be validated.
func NewServer(cfg *Config, deps Dependencies, log logger.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  log,
		store:   deps.Store,
		workers: deps.Workers,
		router:  events.NewRouter(cfg.Events, lifecycle.Child(log, "events")),
		closers: deps.Closers,
	}

	if s.workers == nil {
		s.workers = &HTTPWorkerClient{Client: &http.Client{Timeout: cfg.WorkerRequest.Std()}}
	}

	s.sender = s.router
	if deps.Publisher != nil {
		s.sender = &natsutil.MirroredSender{Inner: s.router, Publisher: deps.Publisher}
	}

	s.monitor = &monitor{
		schedule: cfg.Schedule,
		store:    s.store,
		workers:  s.workers,
		release:  s.release,
		notify:   s.notify,
		logger:   lifecycle.Child(log, "monitor"),
	}

	s.handler = uhttp.Chain(s.routes(),
		uhttp.RequestLogger(log),
		uhttp.Recoverer(log),
		uhttp.APIKeyMiddlewareWithOptions(uhttp.APIKeyOptions{
			APIKey:          cfg.APIKey,
			LogUnauthorized: true,
			Logger:          log,
		}),
	)

	return s
}

// Router exposes the event router.
func (s *Server) Router() *events.Router { return s.router }

// Handler returns the HTTP handler serving the control API.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr is the bound listen address once started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addr
}

// notify delivers a control-originated event to a client.
func (s *Server) notify(ctx context.Context, clientID string, ev models.Event) {
	if clientID == "" {
		s.logger.Warn().Str("serial", ev.Serial).Str("event", string(ev.Kind)).Msg("Event has no client to notify")
		return
	}

	if !s.sender.Send(ctx, clientID, ev) {
		s.logger.Warn().
			Str("client_id", clientID).
			Str("serial", ev.Serial).
			Str("event", string(ev.Kind)).
			Msg("Event was not delivered")
	}
}

// release tells the client its reservation ended and tells the worker to
// take the device back.
func (s *Server) release(ctx context.Context, ended models.EndedReservation) {
	s.notify(ctx, ended.ClientID, models.NewEvent(ended.Serial, models.EventReservationEnd))

	if ended.WorkerIP == "" {
		return
	}

	addr := WorkerAddr(ended.WorkerIP, ended.WorkerPort)
	if err := s.workers.Unreserve(ctx, addr, ended.Serial); err != nil {
		s.logger.Warn().Err(err).Str("serial", ended.Serial).Str("worker", addr).
			Msg("Failed to notify worker of reservation end")
	}
}

// Start binds the listener and starts serving and the monitor loops.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.cancel = cancel
	s.addr = ln.Addr()
	s.started = true

	s.http = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: defaultReadTimeout,
		IdleTimeout:       defaultIdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return runCtx },
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Control HTTP server failed")
		}
	}()

	s.monitor.start(runCtx, &s.wg)

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Control server started")

	return nil
}

// Stop stops the monitor loops, the HTTP server and the event sockets.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	if !started {
		return nil
	}

	var errs []error

	s.cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	s.router.Close()
	s.wg.Wait()

	for _, c := range s.closers {
		c()
	}

	s.logger.Info().Msg("Control server stopped")

	return errors.Join(errs...)
}
