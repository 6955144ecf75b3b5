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

	"github.com/carverauto/usbipice/pkg/events"
	"github.com/carverauto/usbipice/pkg/liveness"
	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
	"github.com/carverauto/usbipice/pkg/usbip"
)

// serialRemover is the part of Client used by SerialRemover.
type serialRemover interface {
	RemoveSerial(serial string)
}

// SerialRemover forgets a device once its reservation is over.
type SerialRemover struct {
	client serialRemover
}

var _ events.Handler = (*SerialRemover)(nil)

// NewSerialRemover creates a SerialRemover for c.
func NewSerialRemover(c serialRemover) *SerialRemover {
	return &SerialRemover{client: c}
}

// Kinds implements events.Handler.
func (*SerialRemover) Kinds() []models.EventKind {
	return []models.EventKind{models.EventReservationEnd, models.EventFailure}
}

// HandleEvent implements events.Handler.
func (h *SerialRemover) HandleEvent(_ context.Context, ev models.Event) {
	h.client.RemoveSerial(ev.Serial)
}

// LogHandler logs every event.
type LogHandler struct {
	logger logger.Logger
}

// NewLogHandler creates a LogHandler.
func NewLogHandler(log logger.Logger) *LogHandler {
	return &LogHandler{logger: log}
}

// Kinds implements events.Handler.
func (*LogHandler) Kinds() []models.EventKind { return nil }

// HandleEvent implements events.Handler.
func (h *LogHandler) HandleEvent(_ context.Context, ev models.Event) {
	e := h.logger.Info()
	if ev.Kind == models.EventFailure || ev.Kind == models.EventTimeout {
		e = h.logger.Warn()
	}

	e.Str("serial", ev.Serial).Str("event", string(ev.Kind)).Str("bus", ev.Bus).Msg("Device event")
}

// Attacher imports a remote bus.
type Attacher interface {
	Attach(ctx context.Context, host string, port int, busID string) error
}

// CLIAttacher attaches with the usbip binary.
type CLIAttacher struct {
	CLI usbip.CLI
}

// Attach implements Attacher.
func (a *CLIAttacher) Attach(ctx context.Context, host string, port int, busID string) error {
	cli := a.CLI
	cli.TCPPort = port

	return cli.Attach(ctx, host, busID)
}

// reservationLookup is the part of Client used by UsbipAttacher.
type reservationLookup interface {
	Reservation(serial string) (models.Reservation, bool)
}

// UsbipAttacher attaches every exported device on this machine.
type UsbipAttacher struct {
	lookup   reservationLookup
	attacher Attacher
	logger   logger.Logger
}

// NewUsbipAttacher creates a UsbipAttacher.
func NewUsbipAttacher(lookup reservationLookup, attacher Attacher, log logger.Logger) *UsbipAttacher {
	return &UsbipAttacher{lookup: lookup, attacher: attacher, logger: log}
}

// Kinds implements events.Handler.
func (*UsbipAttacher) Kinds() []models.EventKind {
	return []models.EventKind{models.EventExport}
}

// HandleEvent implements events.Handler.
func (h *UsbipAttacher) HandleEvent(ctx context.Context, ev models.Event) {
	res, ok := h.lookup.Reservation(ev.Serial)
	if !ok {
		h.logger.Warn().Str("serial", ev.Serial).Msg("Export for a device that is not reserved")
		return
	}

	if err := h.attacher.Attach(ctx, res.WorkerIP, res.ExportPort, ev.Bus); err != nil {
		h.logger.Error().Err(err).Str("serial", ev.Serial).Str("worker", res.WorkerIP).Str("bus", ev.Bus).
			Msg("Failed to attach device")

		return
	}

	h.logger.Info().Str("serial", ev.Serial).Str("worker", res.WorkerIP).Str("bus", ev.Bus).Msg("Attached device")
}

// TimeoutDetector watches attached exports on this machine. When an
// export disappears from `usbip port` for longer than the threshold, a
// timeout event is dispatched locally.
type TimeoutDetector struct {
	tracker *liveness.Tracker
}

// NewTimeoutDetector creates a detector that polls src and dispatches
// through dispatch.
func NewTimeoutDetector(
	src liveness.ExportSource,
	cfg liveness.Config,
	clock liveness.Clock,
	dispatch func(ctx context.Context, ev models.Event),
	log logger.Logger,
) *TimeoutDetector {
	onTimeout := func(ctx context.Context, serial, bus string) {
		dispatch(ctx, models.NewEvent(serial, models.EventTimeout).WithBus(bus))
	}

	return &TimeoutDetector{
		tracker: liveness.NewTracker(src, cfg, onTimeout, clock, log),
	}
}

// Kinds implements events.Handler.
func (*TimeoutDetector) Kinds() []models.EventKind {
	return []models.EventKind{models.EventExport, models.EventReservationEnd, models.EventFailure}
}

// HandleEvent implements events.Handler.
func (d *TimeoutDetector) HandleEvent(_ context.Context, ev models.Event) {
	switch ev.Kind {
	case models.EventExport:
		d.tracker.Track(ev.Serial, ev.Bus)
	case models.EventReservationEnd, models.EventFailure:
		d.tracker.Untrack(ev.Serial)
	}
}

// DeviceEvent records local activity for serial.
func (d *TimeoutDetector) DeviceEvent(serial string) {
	d.tracker.DeviceEvent(serial)
}

// Tracker exposes the underlying tracker.
func (d *TimeoutDetector) Tracker() *liveness.Tracker { return d.tracker }

// Start begins polling.
func (d *TimeoutDetector) Start(ctx context.Context) error { return d.tracker.Start(ctx) }

// Stop ends polling.
func (d *TimeoutDetector) Stop(ctx context.Context) error { return d.tracker.Stop(ctx) }

// extender is the part of Client used by Extender.
type extender interface {
	Extend(ctx context.Context, serials []string) ([]string, error)
}

// Extender renews a reservation when it is about to end.
type Extender struct {
	client extender
	logger logger.Logger
}

// NewExtender creates an Extender.
func NewExtender(c extender, log logger.Logger) *Extender {
	return &Extender{client: c, logger: log}
}

// Kinds implements events.Handler.
func (*Extender) Kinds() []models.EventKind {
	return []models.EventKind{models.EventReservationEndingSoon}
}

// HandleEvent implements events.Handler.
func (h *Extender) HandleEvent(ctx context.Context, ev models.Event) {
	extended, err := h.client.Extend(ctx, []string{ev.Serial})
	if err != nil || len(extended) == 0 {
		h.logger.Error().Err(err).Str("serial", ev.Serial).Msg("Failed to extend reservation")
		return
	}

	h.logger.Info().Str("serial", ev.Serial).Msg("Extended reservation")
}
