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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/usbipice/pkg/liveness"
	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
	"github.com/carverauto/usbipice/pkg/usbip"
)

const portOutput = `Imported USB devices
====================
Port 00: <Port in Use> at Full Speed(12Mbps)
       unknown vendor : unknown product (2e8a:000a)
       3-1 -> usbip://10.0.0.1:3240/1-2
           -> remote bus/dev 001/002
`

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (*fakeClock) Ticker(d time.Duration) liveness.Ticker {
	return liveness.RealClock{}.Ticker(d)
}

type removed struct{ serials []string }

func (r *removed) RemoveSerial(serial string) { r.serials = append(r.serials, serial) }

type fixedLookup map[string]models.Reservation

func (l fixedLookup) Reservation(serial string) (models.Reservation, bool) {
	res, ok := l[serial]
	return res, ok
}

type attachCall struct {
	host string
	port int
	bus  string
}

type fakeAttacher struct {
	calls []attachCall
	err   error
}

func (a *fakeAttacher) Attach(_ context.Context, host string, port int, busID string) error {
	a.calls = append(a.calls, attachCall{host: host, port: port, bus: busID})
	return a.err
}

func TestSerialRemover(t *testing.T) {
	r := &removed{}
	h := NewSerialRemover(r)

	assert.ElementsMatch(t, []models.EventKind{models.EventReservationEnd, models.EventFailure}, h.Kinds())

	h.HandleEvent(context.Background(), models.NewEvent("S1", models.EventFailure))
	assert.Equal(t, []string{"S1"}, r.serials)
}

func TestUsbipAttacher(t *testing.T) {
	lookup := fixedLookup{"S1": {Serial: "S1", WorkerIP: "10.0.0.1", WorkerPort: 8081, ExportPort: 3240}}
	a := &fakeAttacher{}
	h := NewUsbipAttacher(lookup, a, logger.NewTestLogger())

	h.HandleEvent(context.Background(), models.NewEvent("S1", models.EventExport).WithBus("1-2"))
	h.HandleEvent(context.Background(), models.NewEvent("S2", models.EventExport).WithBus("1-3"))

	require.Len(t, a.calls, 1)
	assert.Equal(t, attachCall{host: "10.0.0.1", port: 3240, bus: "1-2"}, a.calls[0])

	a.err = assert.AnError
	h.HandleEvent(context.Background(), models.NewEvent("S1", models.EventExport).WithBus("1-2"))
	assert.Len(t, a.calls, 2)
}

func TestCLIAttacherUsesExportPort(t *testing.T) {
	var args []string

	a := &CLIAttacher{CLI: usbip.CLI{Run: func(_ context.Context, name string, a ...string) ([]byte, error) {
		args = append([]string{name}, a...)
		return nil, nil
	}}}

	require.NoError(t, a.Attach(context.Background(), "10.0.0.1", 3240, "1-2"))
	assert.Contains(t, args, "--tcp-port=3240")
	assert.Contains(t, args, "attach")
	assert.Contains(t, args, "1-2")
}

func TestTimeoutDetector(t *testing.T) {
	active := []byte(portOutput)

	var mu sync.Mutex

	cli := &usbip.CLI{Run: func(context.Context, string, ...string) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()

		return active, nil
	}}

	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}

	var (
		dmu        sync.Mutex
		dispatched []models.Event
	)

	dispatch := func(_ context.Context, ev models.Event) {
		dmu.Lock()
		dispatched = append(dispatched, ev)
		dmu.Unlock()
	}

	cfg := liveness.Config{}
	require.NoError(t, cfg.Validate())

	d := NewTimeoutDetector(usbip.ImportSource{CLI: cli}, cfg, clock, dispatch, logger.NewTestLogger())

	d.HandleEvent(context.Background(), models.NewEvent("S1", models.EventExport).WithBus("1-2"))
	require.True(t, d.Tracker().Tracked("S1"))

	// Attached: polls keep the record fresh.
	clock.Advance(time.Minute)
	d.Tracker().Poll(context.Background())
	assert.Empty(t, dispatched)

	mu.Lock()
	active = nil
	mu.Unlock()

	clock.Advance(cfg.Threshold.Std() + time.Second)
	d.Tracker().Poll(context.Background())

	require.Len(t, dispatched, 1)
	assert.Equal(t, models.EventTimeout, dispatched[0].Kind)
	assert.Equal(t, "S1", dispatched[0].Serial)
	assert.Equal(t, "1-2", dispatched[0].Bus)

	d.HandleEvent(context.Background(), models.NewEvent("S1", models.EventReservationEnd))
	assert.False(t, d.Tracker().Tracked("S1"))
}

func TestLogHandlerAcceptsEverything(t *testing.T) {
	h := NewLogHandler(logger.NewTestLogger())
	assert.Empty(t, h.Kinds())

	h.HandleEvent(context.Background(), models.NewEvent("S1", models.EventTimeout))
}

type fakeExtender struct {
	got []string
	err error
}

func (f *fakeExtender) Extend(_ context.Context, serials []string) ([]string, error) {
	f.got = append(f.got, serials...)
	return serials, f.err
}

func TestExtender(t *testing.T) {
	f := &fakeExtender{}
	h := NewExtender(f, logger.NewTestLogger())

	assert.Equal(t, []models.EventKind{models.EventReservationEndingSoon}, h.Kinds())

	h.HandleEvent(context.Background(), models.NewEvent("S1", models.EventReservationEndingSoon))
	assert.Equal(t, []string{"S1"}, f.got)

	f.err = assert.AnError
	h.HandleEvent(context.Background(), models.NewEvent("S2", models.EventReservationEndingSoon))
	assert.Equal(t, []string{"S1", "S2"}, f.got)
}
