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

package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/usbipice/pkg/device"
	"github.com/carverauto/usbipice/pkg/hotplug"
	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
	"github.com/carverauto/usbipice/pkg/reservation"
	"github.com/carverauto/usbipice/pkg/transport/ws"
	"github.com/carverauto/usbipice/pkg/usbip"
	"github.com/carverauto/usbipice/pkg/version"
)

const (
	testSerial = "ABC123"
	testBus    = "1-2"
	testOwner  = "client-a"
	waitFor    = 5 * time.Second
	tick       = 10 * time.Millisecond
)

func ttyAdd() hotplug.Event {
	return hotplug.Event{
		Action: hotplug.ActionAdd,
		Properties: hotplug.Properties{
			hotplug.KeyDevName:     "/dev/ttyACM0",
			hotplug.KeyDevPath:     "/devices/pci0000:00/0000:00:14.0/usb1/1-2/1-2:1.0/tty/ttyACM0",
			hotplug.KeySubsystem:   hotplug.SubsystemTTY,
			hotplug.KeyModel:       "pico-ice",
			hotplug.KeySerialShort: testSerial,
		},
	}
}

func testConfig(t *testing.T) *Config {
	t.Helper()

	cfg := &Config{
		Name:        "worker-1",
		ListenAddr:  "127.0.0.1:0",
		AdvertiseIP: "127.0.0.1",
	}
	cfg.Device.MountRoot = t.TempDir()
	require.NoError(t, cfg.Validate())

	return cfg
}

type harness struct {
	srv      *Server
	source   *hotplug.ChannelSource
	exporter *usbip.MockExporter
}

func newHarness(t *testing.T, store reservation.WorkerStore) *harness {
	t.Helper()

	ctrl := gomock.NewController(t)
	exporter := usbip.NewMockExporter(ctrl)
	exporter.EXPECT().ActiveBuses(gomock.Any()).Return(map[string]struct{}{}, nil).AnyTimes()

	source := hotplug.NewChannelSource(16)

	srv := NewServer(testConfig(t), Dependencies{
		Source:   source,
		Exporter: exporter,
		Store:    store,
	}, logger.NewTestLogger())

	require.NoError(t, srv.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()

		_ = srv.Stop(ctx)
	})

	return &harness{srv: srv, source: source, exporter: exporter}
}

func (h *harness) baseURL() string {
	return "http://" + h.srv.Addr().String()
}

func (h *harness) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(h.baseURL()+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)

	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func (h *harness) waitState(t *testing.T, want device.State) {
	t.Helper()

	require.Eventually(t, func() bool {
		info, ok := h.srv.Manager().Device(testSerial)
		return ok && info.State == want
	}, waitFor, tick)
}

// owner is a connected event socket client.
type owner struct {
	conn   *ws.Conn
	mu     sync.Mutex
	events []models.Event
}

func connectOwner(t *testing.T, h *harness, id string) *owner {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	conn, err := ws.Dial(ctx, h.baseURL(), id, ws.Options{}, logger.NewTestLogger())
	require.NoError(t, err)

	o := &owner{conn: conn}

	go func() {
		_ = conn.ReadLoop(context.Background(), func(data []byte) {
			var ev models.Event
			if json.Unmarshal(data, &ev) == nil {
				o.mu.Lock()
				o.events = append(o.events, ev)
				o.mu.Unlock()
			}
		})
	}()

	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return h.srv.Router().Connected(id) }, waitFor, tick)

	return o
}

func (o *owner) has(kind models.EventKind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, ev := range o.events {
		if ev.Kind == kind {
			return true
		}
	}

	return false
}

func (o *owner) event(kind models.EventKind) models.Event {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, ev := range o.events {
		if ev.Kind == kind {
			return ev
		}
	}

	return models.Event{}
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{Name: "worker-1"}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, defaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, 8081, cfg.AdvertisePort)
	assert.Equal(t, uint32(hotplug.GroupUdev), cfg.NetlinkGroup)
	assert.Equal(t, defaultShutdownTimeout, cfg.ShutdownTimeout.Std())

	cfg = &Config{Name: "worker-1", Database: &reservation.Config{Host: "db", Database: "usbipice"}}
	require.ErrorIs(t, cfg.Validate(), errAdvertiseIPRequired)

	cfg = &Config{Name: "worker-1", ListenAddr: "no-port"}
	require.ErrorIs(t, cfg.Validate(), errInvalidListenAddr)
}

func TestReservationLifecycleOverHTTP(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := reservation.NewMockWorkerStore(ctrl)

	store.EXPECT().AddWorker(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, w models.Worker) error {
			assert.Equal(t, "worker-1", w.Name)
			assert.Equal(t, "127.0.0.1", w.IP)

			return nil
		})
	store.EXPECT().AddDevice(gomock.Any(), testSerial, "worker-1").Return(nil)
	store.EXPECT().UpdateDeviceStatus(gomock.Any(), testSerial, gomock.Any()).Return(nil).AnyTimes()
	store.EXPECT().RemoveWorker(gomock.Any(), "worker-1").Return(nil, nil)

	h := newHarness(t, store)
	h.exporter.EXPECT().Bind(gomock.Any(), testBus).Return(nil).MinTimes(1)
	h.exporter.EXPECT().Unbind(gomock.Any(), testBus).Return(nil).MinTimes(1)

	require.True(t, h.source.Inject(context.Background(), ttyAdd()))
	h.waitState(t, device.StateReady)

	o := connectOwner(t, h, testOwner)

	resp := h.post(t, "/reserve", models.WorkerReserveRequest{Serial: testSerial, Owner: testOwner})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return o.has(models.EventExport) }, waitFor, tick)
	assert.Equal(t, testBus, o.event(models.EventExport).Bus)
	assert.Equal(t, []string{testSerial}, h.srv.Manager().OwnedBy(testOwner))

	resp = h.post(t, "/reserve", models.WorkerReserveRequest{Serial: testSerial, Owner: "client-b"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.NoError(t, o.conn.WriteJSON(context.Background(), map[string]string{
		"serial": testSerial,
		"event":  device.RequestUnbind,
	}))

	require.Eventually(t, func() bool {
		info, _ := h.srv.Manager().Device(testSerial)
		return len(info.Buses) == 0
	}, waitFor, tick)

	resp = h.post(t, "/unreserve", models.WorkerUnreserveRequest{Serial: testSerial})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	h.waitState(t, device.StateReady)

	resp = h.post(t, "/unreserve", models.WorkerUnreserveRequest{Serial: testSerial})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestBadRequests(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.post(t, "/reserve", models.WorkerReserveRequest{Serial: testSerial})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.post(t, "/unreserve", models.WorkerUnreserveRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.post(t, "/reserve", models.WorkerReserveRequest{Serial: "unknown", Owner: testOwner})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	rr := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/events", http.NoBody))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/reserve", http.NoBody))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/devices/unknown", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHeartbeat(t *testing.T) {
	h := newHarness(t, nil)

	require.True(t, h.source.Inject(context.Background(), ttyAdd()))
	h.waitState(t, device.StateReady)

	resp, err := http.Get(h.baseURL() + "/heartbeat")
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var hb models.Heartbeat
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hb))

	assert.Equal(t, "worker-1", hb.Name)
	assert.Equal(t, version.GetVersion(), hb.Version)
	assert.Equal(t, 1, hb.Devices)
	assert.Equal(t, 1, hb.Available)
	assert.False(t, hb.Timestamp.IsZero())

	rr := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/devices/"+testSerial, http.NoBody))
	require.Equal(t, http.StatusOK, rr.Code)

	var info struct {
		Serial string `json:"serial"`
		State  string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Equal(t, testSerial, info.Serial)
	assert.Equal(t, device.StateReady.String(), info.State)
}

func TestStopNotifiesOwners(t *testing.T) {
	h := newHarness(t, nil)
	h.exporter.EXPECT().Bind(gomock.Any(), testBus).Return(nil).AnyTimes()
	h.exporter.EXPECT().Unbind(gomock.Any(), testBus).Return(nil).AnyTimes()

	require.True(t, h.source.Inject(context.Background(), ttyAdd()))
	h.waitState(t, device.StateReady)

	o := connectOwner(t, h, testOwner)
	require.True(t, h.srv.Manager().Reserve(testSerial, testOwner))
	require.Eventually(t, func() bool { return o.has(models.EventExport) }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	require.NoError(t, h.srv.Stop(ctx))

	require.Eventually(t, func() bool { return o.has(models.EventFailure) }, waitFor, tick)
	assert.Equal(t, testSerial, o.event(models.EventFailure).Serial)
	assert.False(t, h.source.Inject(context.Background(), ttyAdd()))
}

func TestStartFailsWhenRegistrationFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := reservation.NewMockWorkerStore(ctrl)
	store.EXPECT().AddWorker(gomock.Any(), gomock.Any()).Return(assert.AnError)

	srv := NewServer(testConfig(t), Dependencies{
		Source:   hotplug.NewChannelSource(1),
		Exporter: usbip.NewMockExporter(ctrl),
		Store:    store,
	}, logger.NewTestLogger())

	require.ErrorIs(t, srv.Start(context.Background()), assert.AnError)
	require.NoError(t, srv.Stop(context.Background()))
}
