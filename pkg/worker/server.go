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

// Package worker runs the device host: it watches hotplug events, drives
// every board through its lifecycle and serves reservations and event
// sockets to clients.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/carverauto/usbipice/pkg/bootloader"
	"github.com/carverauto/usbipice/pkg/device"
	"github.com/carverauto/usbipice/pkg/events"
	"github.com/carverauto/usbipice/pkg/hotplug"
	uhttp "github.com/carverauto/usbipice/pkg/http"
	"github.com/carverauto/usbipice/pkg/lifecycle"
	"github.com/carverauto/usbipice/pkg/liveness"
	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
	"github.com/carverauto/usbipice/pkg/natsutil"
	"github.com/carverauto/usbipice/pkg/reservation"
	"github.com/carverauto/usbipice/pkg/usbip"
)

const (
	defaultReadTimeout = 10 * time.Second
	defaultIdleTimeout = 60 * time.Second
)

var errAlreadyStarted = errors.New("worker already started")

// Dependencies are the host-facing collaborators of a Server. Source and
// Exporter are required; the rest are optional.
type Dependencies struct {
	Source    hotplug.Source
	Exporter  usbip.Exporter
	Protocol  bootloader.Protocol
	Verifier  bootloader.Verifier
	Store     reservation.WorkerStore
	Publisher *natsutil.EventPublisher
	Clock     liveness.Clock
	// Closers run last during Stop, in order.
	Closers []func()
}

// Server is the worker service.
type Server struct {
	cfg    *Config
	logger logger.Logger

	router  *events.Router
	manager *device.Manager
	tracker *liveness.Tracker
	source  hotplug.Source
	store   reservation.WorkerStore
	status  *statusWriter
	stats   hostStats
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

// New builds a worker from cfg using the host's netlink socket, the usbip
// binary and the configured database and NATS connections.
func New(ctx context.Context, cfg *Config, log logger.Logger) (*Server, error) {
	deps := Dependencies{
		Exporter: &usbip.CLI{
			Binary:    cfg.Usbip.Binary,
			Sudo:      cfg.Usbip.Sudo,
			TCPPort:   cfg.Usbip.TCPPort,
			SysfsRoot: cfg.Usbip.SysfsRoot,
		},
		Protocol: bootloader.New(bootloader.WithLogger(log)),
	}

	if cfg.Verify.Enabled {
		deps.Verifier = bootloader.NewSignatureVerifier(cfg.Verify.Signature, cfg.Device.VerifyTimeout.Std())
	}

	source, err := hotplug.NewNetlinkSource(cfg.NetlinkGroup, hotplug.NewFilter(cfg.Device.Models), log)
	if err != nil {
		return nil, fmt.Errorf("failed to open hotplug source: %w", err)
	}

	deps.Source = source

	if cfg.Database != nil {
		pool, err := reservation.NewPool(ctx, cfg.Database, log)
		if err != nil {
			_ = source.Close()
			return nil, err
		}

		deps.Store = reservation.NewStore(pool, log)
		deps.Closers = append(deps.Closers, pool.Close)
	}

	if cfg.NATS != nil {
		publisher, nc, err := natsutil.Connect(ctx, *cfg.NATS, log)
		if err != nil {
			_ = source.Close()

			for _, c := range deps.Closers {
				c()
			}

			return nil, err
		}

		deps.Publisher = publisher
		deps.Closers = append([]func(){nc.Close}, deps.Closers...)
	}

	return NewServer(cfg, deps, log), nil
}

// NewServer wires a worker around deps. cfg must already be validated.
func NewServer(cfg *Config, deps Dependencies, log logger.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  log,
		router:  events.NewRouter(cfg.Events, lifecycle.Child(log, "events")),
		source:  deps.Source,
		store:   deps.Store,
		stats:   defaultHostStats(),
		closers: deps.Closers,
	}

	var (
		sender device.Sender = s.router
		mirror statePublisher
	)

	if deps.Publisher != nil {
		sender = &natsutil.MirroredSender{Inner: s.router, Publisher: deps.Publisher}
		mirror = deps.Publisher
	}

	s.status = newStatusWriter(cfg.Name, deps.Store, mirror, lifecycle.Child(log, "status"))

	clock := deps.Clock
	if clock == nil {
		clock = liveness.RealClock{}
	}

	s.tracker = liveness.NewTracker(deps.Exporter, cfg.Liveness, s.exportTimedOut, clock,
		lifecycle.Child(log, "liveness"))

	s.manager = device.NewManager(cfg.Device, device.Dependencies{
		Protocol:      deps.Protocol,
		Verifier:      deps.Verifier,
		Exporter:      deps.Exporter,
		Liveness:      s.tracker,
		Sender:        sender,
		OnStateChange: s.status.record,
	}, lifecycle.Child(log, "device"))

	s.handler = uhttp.Chain(s.routes(), uhttp.RequestLogger(log), uhttp.Recoverer(log))

	return s
}

func (s *Server) exportTimedOut(ctx context.Context, serial, bus string) {
	s.manager.HandleTimeout(ctx, serial, bus)
}

// Manager exposes the device manager.
func (s *Server) Manager() *device.Manager { return s.manager }

// Router exposes the event router.
func (s *Server) Router() *events.Router { return s.router }

// Handler returns the HTTP handler serving the worker API.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr is the bound listen address once started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addr
}

// Start registers the worker, starts every component and begins serving.
// It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errAlreadyStarted
	}

	if s.store != nil {
		w := models.Worker{Name: s.cfg.Name, IP: s.cfg.AdvertiseIP, Port: s.cfg.AdvertisePort}
		if err := s.store.AddWorker(ctx, w); err != nil {
			return fmt.Errorf("failed to register worker: %w", err)
		}
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	fail := func(err error) error {
		cancel()
		_ = ln.Close()
		s.status.stop()

		return err
	}

	s.status.start(context.WithoutCancel(ctx))

	if err := s.manager.Start(runCtx); err != nil {
		return fail(err)
	}

	if err := s.tracker.Start(runCtx); err != nil {
		return fail(fmt.Errorf("failed to start liveness tracker: %w", err))
	}

	if err := s.source.Start(runCtx); err != nil {
		return fail(fmt.Errorf("failed to start hotplug source: %w", err))
	}

	s.cancel = cancel
	s.addr = ln.Addr()
	s.started = true

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.manager.Consume(runCtx, s.source)
	}()

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
			s.logger.Error().Err(err).Msg("Worker HTTP server failed")
		}
	}()

	s.logger.Info().
		Str("name", s.cfg.Name).
		Str("addr", ln.Addr().String()).
		Bool("database", s.store != nil).
		Msg("Worker started")

	return nil
}

// Stop shuts down in dependency order: the HTTP listener, the hotplug
// source, the liveness tracker and then the device manager, which lets
// in-flight flashes finish. Owners of devices still reserved receive a
// failure event before their sockets are closed.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	if !started {
		return nil
	}

	var errs []error

	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	if err := s.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("hotplug source: %w", err))
	}

	if err := s.tracker.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("liveness tracker: %w", err))
	}

	held := make(map[string]string)

	for _, info := range s.manager.Devices() {
		if info.Owner != "" {
			held[info.Serial] = info.Owner
		}
	}

	if err := s.manager.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	s.status.stop()

	if s.store != nil {
		orphans, err := s.store.RemoveWorker(ctx, s.cfg.Name)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to remove worker from store before exit")
		}

		for _, o := range orphans {
			if _, ok := held[o.Serial]; !ok && o.ClientID != "" {
				held[o.Serial] = o.ClientID
			}
		}
	}

	for serial, owner := range held {
		if !s.router.Send(ctx, owner, models.NewEvent(serial, models.EventFailure)) {
			s.logger.Warn().Str("serial", serial).Str("owner", owner).Msg("Failed to notify owner of shutdown")
		}
	}

	s.router.Close()
	s.cancel()
	s.wg.Wait()

	for _, c := range s.closers {
		c()
	}

	s.logger.Info().Str("name", s.cfg.Name).Msg("Worker stopped")

	return errors.Join(errs...)
}
