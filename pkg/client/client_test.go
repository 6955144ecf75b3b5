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
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/usbipice/pkg/device"
	"github.com/carverauto/usbipice/pkg/events"
	uhttp "github.com/carverauto/usbipice/pkg/http"
	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
	"github.com/carverauto/usbipice/pkg/transport/ws"
)

const (
	clientName = "client-a"
	waitFor    = 5 * time.Second
	tick       = 10 * time.Millisecond
)

// peer is a fake worker or control plane serving an events endpoint.
type peer struct {
	srv *httptest.Server
	mux *mux.Router

	mu     sync.Mutex
	conns  []*ws.Conn
	frames [][]byte
	ids    []string
}

func newPeer(t *testing.T) *peer {
	t.Helper()

	p := &peer{mux: mux.NewRouter()}

	p.mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		id, err := ws.ClientID(r)
		if err != nil {
			uhttp.WriteError(w, err.Error(), http.StatusBadRequest)
			return
		}

		conn, err := ws.Accept(w, r, ws.Options{}, logger.NewTestLogger())
		if err != nil {
			return
		}

		p.mu.Lock()
		p.conns = append(p.conns, conn)
		p.ids = append(p.ids, id)
		p.mu.Unlock()

		_ = conn.ReadLoop(r.Context(), func(data []byte) {
			p.mu.Lock()
			p.frames = append(p.frames, data)
			p.mu.Unlock()
		})
	}).Methods(http.MethodGet)

	p.srv = httptest.NewServer(p.mux)
	t.Cleanup(p.srv.Close)

	return p
}

func (p *peer) hostPort(t *testing.T) (string, int) {
	t.Helper()

	host, port, err := net.SplitHostPort(p.srv.Listener.Addr().String())
	require.NoError(t, err)

	n, err := strconv.Atoi(port)
	require.NoError(t, err)

	return host, n
}

func (p *peer) connCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.conns)
}

func (p *peer) last() *ws.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.conns[len(p.conns)-1]
}

func (p *peer) frameCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.frames)
}

func (p *peer) send(t *testing.T, ev models.Event) {
	t.Helper()
	require.NoError(t, p.last().Send(context.Background(), ev))
}

func testConfig(t *testing.T, controlURL string) *Config {
	t.Helper()

	cfg := &Config{
		Name:           clientName,
		ControlURL:     controlURL,
		ReconnectDelay: models.Duration(20 * time.Millisecond),
	}
	require.NoError(t, cfg.Validate())

	return cfg
}

type counter struct {
	mu   sync.Mutex
	seen []models.Event
}

func (c *counter) handle(_ context.Context, ev models.Event) {
	c.mu.Lock()
	c.seen = append(c.seen, ev)
	c.mu.Unlock()
}

func (c *counter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.seen)
}

func TestConfigValidate(t *testing.T) {
	require.ErrorIs(t, (&Config{ControlURL: "http://control"}).Validate(), errNameRequired)
	require.ErrorIs(t, (&Config{Name: clientName}).Validate(), errControlURLRequired)

	cfg := &Config{Name: clientName, ControlURL: "http://control"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, defaultReconnectDelay, cfg.ReconnectDelay.Std())
	assert.Equal(t, defaultDedupeWindow, cfg.DedupeWindow)
}

func TestEventServerDispatchesOnce(t *testing.T) {
	p := newPeer(t)
	es := NewEventServer(clientName, testConfig(t, p.srv.URL), logger.NewTestLogger())
	t.Cleanup(es.Close)

	c := &counter{}
	es.AddHandler(events.NewHandlerFunc(c.handle, models.EventExport))

	require.NoError(t, es.Connect(context.Background(), p.srv.URL))
	require.NoError(t, es.Connect(context.Background(), p.srv.URL))
	require.Eventually(t, func() bool { return p.connCount() == 1 }, waitFor, tick)

	ev := models.NewEvent("S1", models.EventExport).WithBus("1-2")
	p.send(t, ev)
	p.send(t, ev)
	p.send(t, models.NewEvent("S1", models.EventDisconnect))
	p.send(t, models.NewEvent("S2", models.EventExport).WithBus("1-3"))

	require.Eventually(t, func() bool { return c.count() == 2 }, waitFor, tick)

	p.mu.Lock()
	assert.Equal(t, []string{clientName}, p.ids)
	p.mu.Unlock()
}

func TestEventServerReconnects(t *testing.T) {
	p := newPeer(t)
	es := NewEventServer(clientName, testConfig(t, p.srv.URL), logger.NewTestLogger())
	t.Cleanup(es.Close)

	require.NoError(t, es.Connect(context.Background(), p.srv.URL))
	require.Eventually(t, func() bool { return p.connCount() == 1 }, waitFor, tick)

	require.NoError(t, p.last().Close())
	require.Eventually(t, func() bool { return p.connCount() == 2 }, waitFor, tick)

	// Sends fail until the reader has swapped in the new connection.
	require.Eventually(t, func() bool {
		return es.Send(context.Background(), p.srv.URL, map[string]string{"event": "unbind"}) == nil
	}, waitFor, tick)
	require.Eventually(t, func() bool { return p.frameCount() == 1 }, waitFor, tick)

	es.Disconnect(p.srv.URL)
	assert.False(t, es.Connected(p.srv.URL))
	require.ErrorIs(t, es.Send(context.Background(), p.srv.URL, nil), ErrNotConnected)
}

func TestClientLifecycle(t *testing.T) {
	worker := newPeer(t)
	control := newPeer(t)

	host, port := worker.hostPort(t)

	var (
		mu    sync.Mutex
		calls []string
	)

	control.mux.HandleFunc("/reserve", func(w http.ResponseWriter, r *http.Request) {
		var req models.ReserveRequest
		assert.NoError(t, uhttp.DecodeJSON(w, r, &req, 0))

		mu.Lock()
		calls = append(calls, "reserve:"+req.Name)
		mu.Unlock()

		uhttp.WriteJSON(w, http.StatusOK, []models.Reservation{
			{Serial: "S1", WorkerIP: host, WorkerPort: port, ExportPort: 3240, Bus: "1-2"},
			{Serial: "S2", WorkerIP: host, WorkerPort: port, ExportPort: 3240, Bus: "1-3"},
		})
	}).Methods(http.MethodPost)
	control.mux.HandleFunc("/endall", func(w http.ResponseWriter, r *http.Request) {
		var req models.NameRequest
		assert.NoError(t, uhttp.DecodeJSON(w, r, &req, 0))

		mu.Lock()
		calls = append(calls, "endall:"+req.Name)
		mu.Unlock()

		uhttp.WriteJSON(w, http.StatusOK, []string{"S2"})
	}).Methods(http.MethodPost)

	c := New(testConfig(t, control.srv.URL), logger.NewTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	require.NoError(t, c.Start(ctx))
	require.Eventually(t, func() bool { return control.connCount() == 1 }, waitFor, tick)

	serials, err := c.Reserve(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"S1", "S2"}, serials)
	require.Eventually(t, func() bool { return worker.connCount() == 1 }, waitFor, tick)

	failed := c.Flash(ctx, []string{"S1", "S2", "S9"}, []byte{0x01, 0x02})
	assert.Equal(t, []string{"S9"}, failed)
	require.Eventually(t, func() bool { return worker.frameCount() == 1 }, waitFor, tick)

	worker.mu.Lock()
	var req models.Request
	require.NoError(t, json.Unmarshal(worker.frames[0], &req))
	worker.mu.Unlock()

	assert.Equal(t, models.SerialList{"S1", "S2"}, req.Serial)
	assert.Equal(t, device.RequestFlash, req.Kind)

	fw, err := device.DecodeFlashRequest(req.Contents)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, fw)

	require.ErrorIs(t, c.Request(ctx, "S9", device.RequestUnbind, nil), ErrUnknownSerial)

	// The control plane ends S1; the worker socket stays open for S2.
	control.send(t, models.NewEvent("S1", models.EventReservationEnd))
	require.Eventually(t, func() bool { return len(c.Serials()) == 1 }, waitFor, tick)
	assert.True(t, c.Events().Connected("http://"+net.JoinHostPort(host, strconv.Itoa(port))))

	require.NoError(t, c.Stop(ctx))
	assert.Empty(t, c.Serials())

	mu.Lock()
	assert.Equal(t, []string{"reserve:" + clientName, "endall:" + clientName}, calls)
	mu.Unlock()

	select {
	case <-worker.last().Done():
	case <-ctx.Done():
		t.Fatal("worker socket not closed")
	}
}

func TestControlAPIErrors(t *testing.T) {
	control := newPeer(t)
	control.mux.HandleFunc("/extend", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		uhttp.WriteError(w, "failed to extend reservations", http.StatusInternalServerError)
	}).Methods(http.MethodPost)

	api := NewControlAPI(control.srv.URL+"/", clientName, "secret", nil)

	_, err := api.Extend(context.Background(), []string{"S1"})

	var se *uhttp.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
}

func TestControlEventsCarriesAPIKey(t *testing.T) {
	cfg := testConfig(t, "http://control:8080")
	cfg.APIKey = "secret"

	c := New(cfg, logger.NewTestLogger())
	assert.Equal(t, "http://control:8080?api_key=secret", c.controlEvents())

	target, err := ws.EventsURL(c.controlEvents(), clientName)
	require.NoError(t, err)
	assert.Equal(t, "ws://control:8080/events?api_key=secret&client_id=client-a", target)
}
