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

// Package client reserves devices from the control plane and follows
// their lifecycle through the event sockets of the control plane and of
// every worker hosting one of them.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"

	"github.com/carverauto/usbipice/pkg/device"
	"github.com/carverauto/usbipice/pkg/lifecycle"
	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
	"github.com/carverauto/usbipice/pkg/usbip"
)

// ErrUnknownSerial is returned for a serial the client does not hold.
var ErrUnknownSerial = errors.New("serial is not reserved by this client")

// Client is a reservation holder.
type Client struct {
	cfg    *Config
	api    *ControlAPI
	server *EventServer
	logger logger.Logger

	detector *TimeoutDetector

	mu      sync.RWMutex
	devices map[string]models.Reservation
}

var _ lifecycle.Service = (*Client)(nil)

// New builds a client from cfg. Devices are attached and watched locally
// when cfg.Usbip asks for it.
func New(cfg *Config, log logger.Logger) *Client {
	c := &Client{
		cfg:     cfg,
		api:     NewControlAPI(cfg.ControlURL, cfg.Name, cfg.APIKey, &http.Client{Timeout: cfg.RequestTimeout.Std()}),
		server:  NewEventServer(cfg.Name, cfg, log),
		logger:  log,
		devices: make(map[string]models.Reservation),
	}

	c.server.AddHandler(NewSerialRemover(c))

	if cfg.AutoExtend {
		c.server.AddHandler(NewExtender(c, log))
	}

	cli := usbip.CLI{Binary: cfg.Usbip.Binary, Sudo: cfg.Usbip.Sudo}

	if cfg.Usbip.Attach {
		c.server.AddHandler(NewUsbipAttacher(c, &CLIAttacher{CLI: cli}, log))
	}

	if cfg.Usbip.DetectTimeouts {
		c.detector = NewTimeoutDetector(usbip.ImportSource{CLI: &cli}, cfg.Liveness, nil, c.server.Dispatch, log)
		c.server.AddHandler(c.detector)
	}

	return c
}

// API exposes the control plane client.
func (c *Client) API() *ControlAPI { return c.api }

// Events exposes the event server, for registering handlers.
func (c *Client) Events() *EventServer { return c.server }

// Detector returns the timeout detector, or nil when disabled.
func (c *Client) Detector() *TimeoutDetector { return c.detector }

// controlEvents is the base the control event socket is dialed at.
func (c *Client) controlEvents() string {
	if c.cfg.APIKey == "" {
		return c.cfg.ControlURL
	}

	u, err := url.Parse(c.cfg.ControlURL)
	if err != nil {
		return c.cfg.ControlURL
	}

	q := u.Query()
	q.Set("api_key", c.cfg.APIKey)
	u.RawQuery = q.Encode()

	return u.String()
}

func workerBase(res models.Reservation) string {
	return "http://" + net.JoinHostPort(res.WorkerIP, strconv.Itoa(res.WorkerPort))
}

// Start connects the control event socket.
func (c *Client) Start(ctx context.Context) error {
	if err := c.server.Connect(ctx, c.controlEvents()); err != nil {
		return fmt.Errorf("failed to connect to control events: %w", err)
	}

	if c.detector != nil {
		if err := c.detector.Start(ctx); err != nil {
			return fmt.Errorf("failed to start timeout detector: %w", err)
		}
	}

	c.logger.Info().Str("name", c.cfg.Name).Str("control", c.cfg.ControlURL).Msg("Client started")

	return nil
}

// Stop ends every reservation and closes the sockets.
func (c *Client) Stop(ctx context.Context) error {
	var errs []error

	if len(c.Serials()) > 0 {
		if _, err := c.EndAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("end reservations: %w", err))
		}
	}

	if c.detector != nil {
		if err := c.detector.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	c.server.Close()

	c.logger.Info().Str("name", c.cfg.Name).Msg("Client stopped")

	return errors.Join(errs...)
}

// Reserve asks for amount devices and connects to the workers hosting
// them. It returns the serials granted.
func (c *Client) Reserve(ctx context.Context, amount int) ([]string, error) {
	reserved, err := c.api.Reserve(ctx, amount)
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}

	serials := make([]string, 0, len(reserved))

	c.mu.Lock()
	for _, res := range reserved {
		c.devices[res.Serial] = res
	}
	c.mu.Unlock()

	for _, res := range reserved {
		if err := c.server.Connect(ctx, workerBase(res)); err != nil {
			c.logger.Error().Err(err).Str("serial", res.Serial).Str("worker", res.WorkerIP).
				Msg("Failed to connect to worker events")
		}

		serials = append(serials, res.Serial)
	}

	return serials, nil
}

// Extend renews the reservations of serials.
func (c *Client) Extend(ctx context.Context, serials []string) ([]string, error) {
	return c.api.Extend(ctx, serials)
}

// ExtendAll renews every reservation.
func (c *Client) ExtendAll(ctx context.Context) ([]string, error) {
	return c.api.ExtendAll(ctx)
}

// End ends the reservations of serials and forgets them.
func (c *Client) End(ctx context.Context, serials []string) ([]string, error) {
	ended, err := c.api.End(ctx, serials)
	if err != nil {
		return nil, err
	}

	for _, serial := range ended {
		c.RemoveSerial(serial)
	}

	return ended, nil
}

// EndAll ends every reservation and forgets them.
func (c *Client) EndAll(ctx context.Context) ([]string, error) {
	ended, err := c.api.EndAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, serial := range ended {
		c.RemoveSerial(serial)
	}

	return ended, nil
}

// Reservation returns the connection details of serial.
func (c *Client) Reservation(serial string) (models.Reservation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	res, ok := c.devices[serial]

	return res, ok
}

// Serials lists the held serials in order.
func (c *Client) Serials() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.devices))
	for serial := range c.devices {
		out = append(out, serial)
	}

	sort.Strings(out)

	return out
}

// RemoveSerial forgets serial and closes the worker socket once no held
// device uses it.
func (c *Client) RemoveSerial(serial string) {
	c.mu.Lock()

	res, ok := c.devices[serial]
	if !ok {
		c.mu.Unlock()
		return
	}

	delete(c.devices, serial)

	base := workerBase(res)
	inUse := false

	for _, other := range c.devices {
		if workerBase(other) == base {
			inUse = true
			break
		}
	}
	c.mu.Unlock()

	if !inUse {
		c.server.Disconnect(base)
	}
}

// Request sends one request frame for serial to its worker.
func (c *Client) Request(ctx context.Context, serial, kind string, contents interface{}) error {
	res, ok := c.Reservation(serial)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSerial, serial)
	}

	frame, err := newRequest([]string{serial}, kind, contents)
	if err != nil {
		return err
	}

	return c.server.Send(ctx, workerBase(res), frame)
}

// RequestBatch sends kind for every serial, one frame per worker. It
// returns the serials whose request could not be sent.
func (c *Client) RequestBatch(ctx context.Context, serials []string, kind string, contents interface{}) []string {
	var (
		failed  []string
		byBase  = make(map[string][]string)
		ordered []string
	)

	for _, serial := range serials {
		res, ok := c.Reservation(serial)
		if !ok {
			failed = append(failed, serial)
			continue
		}

		base := workerBase(res)
		if _, seen := byBase[base]; !seen {
			ordered = append(ordered, base)
		}

		byBase[base] = append(byBase[base], serial)
	}

	for _, base := range ordered {
		batch := byBase[base]

		frame, err := newRequest(batch, kind, contents)
		if err == nil {
			err = c.server.Send(ctx, base, frame)
		}

		if err != nil {
			c.logger.Error().Err(err).Str("worker", base).Strs("serials", batch).Msg("Failed to send request")
			failed = append(failed, batch...)
		}
	}

	return failed
}

// Flash asks the workers to flash firmware onto serials. It returns the
// serials whose request could not be sent.
func (c *Client) Flash(ctx context.Context, serials []string, firmware []byte) []string {
	return c.RequestBatch(ctx, serials, device.RequestFlash, device.FlashRequest{Firmware: firmware})
}

// Unbind asks the workers to stop exporting serials.
func (c *Client) Unbind(ctx context.Context, serials []string) []string {
	return c.RequestBatch(ctx, serials, device.RequestUnbind, nil)
}

func newRequest(serials []string, kind string, contents interface{}) (models.Request, error) {
	req := models.Request{Serial: serials, Kind: kind}

	if contents != nil {
		raw, err := json.Marshal(contents)
		if err != nil {
			return req, fmt.Errorf("failed to marshal request contents: %w", err)
		}

		req.Contents = raw
	}

	return req, nil
}
