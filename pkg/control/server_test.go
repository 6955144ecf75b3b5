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

package control

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

	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
	"github.com/carverauto/usbipice/pkg/reservation"
	"github.com/carverauto/usbipice/pkg/transport/ws"
)

const (
	clientA = "client-a"
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// recordingConn is an events.Connection that keeps what it was sent.
type recordingConn struct {
	mu     sync.Mutex
	events []models.Event
}

func (c *recordingConn) Send(_ context.Context, ev models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, ev)

	return nil
}

func (*recordingConn) Close() error { return nil }

func (c *recordingConn) kinds() []models.EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()

	kinds := make([]models.EventKind, 0, len(c.events))
	for _, ev := range c.events {
		kinds = append(kinds, ev.Kind)
	}

	return kinds
}

type fixture struct {
	srv     *Server
	store   *reservation.MockControlStore
	workers *MockWorkerClient
}

func testConfig(t *testing.T) *Config {
	t.Helper()

	cfg := &Config{
		ListenAddr: "127.0.0.1:0",
		Database:   &reservation.Config{URL: "postgres://usbipice@localhost/usbipice"},
	}
	require.NoError(t, cfg.Validate())

	return cfg
}

func newFixture(t *testing.T, cfg *Config) *fixture {
	t.Helper()

	ctrl := gomock.NewController(t)
	store := reservation.NewMockControlStore(ctrl)
	workers := NewMockWorkerClient(ctrl)

	if cfg == nil {
		cfg = testConfig(t)
	}

	srv := NewServer(cfg, Dependencies{Store: store, Workers: workers}, logger.NewTestLogger())

	return &fixture{srv: srv, store: store, workers: workers}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, httptest.NewRequest(method, path, &buf))

	return rr
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{}
	require.ErrorIs(t, cfg.Validate(), errDatabaseRequired)

	cfg = &Config{Database: &reservation.Config{URL: "postgres://usbipice@localhost/usbipice"}}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, defaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, defaultHeartbeatInterval, cfg.Schedule.HeartbeatInterval.Std())
	assert.Equal(t, defaultWorkerTimeout, cfg.Schedule.WorkerTimeout.Std())
	assert.Equal(t, defaultReservationPoll, cfg.Schedule.ReservationPoll.Std())
	assert.Equal(t, defaultEndingSoonNotifyAt, cfg.Schedule.EndingSoonNotifyAt.Std())
	assert.Equal(t, defaultMaxReserve, cfg.MaxReserve)

	cfg = &Config{
		Database: cfg.Database,
		Schedule: Schedule{
			HeartbeatInterval: models.Duration(time.Minute),
			WorkerTimeout:     models.Duration(30 * time.Second),
		},
	}
	require.ErrorIs(t, cfg.Validate(), errTimeoutTooShort)
}

func TestReserveForwardsToWorkers(t *testing.T) {
	f := newFixture(t, nil)

	reserved := []models.Reservation{
		{Serial: "S1", WorkerIP: "10.0.0.1", WorkerPort: 8081, ExportPort: 3240, Bus: "1-2"},
		{Serial: "S2", WorkerIP: "10.0.0.2", WorkerPort: 8081, ExportPort: 3240, Bus: "1-3"},
	}

	f.store.EXPECT().Reserve(gomock.Any(), 2, "", clientA).Return(reserved, nil)
	f.workers.EXPECT().Reserve(gomock.Any(), "10.0.0.1:8081", "S1", clientA).Return(nil)
	f.workers.EXPECT().Reserve(gomock.Any(), "10.0.0.2:8081", "S2", clientA).Return(assert.AnError)
	f.store.EXPECT().End(gomock.Any(), clientA, []string{"S2"}).Return(nil, nil)

	rr := f.do(t, http.MethodPost, "/reserve", models.ReserveRequest{Amount: 2, Name: clientA})
	require.Equal(t, http.StatusOK, rr.Code)

	var got []models.Reservation
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, reserved[:1], got)
}

func TestReserveRejectsBadRequests(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing name", models.ReserveRequest{Amount: 1}},
		{"zero amount", models.ReserveRequest{Name: clientA}},
		{"too many", models.ReserveRequest{Name: clientA, Amount: defaultMaxReserve + 1}},
		{"empty body", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, "/reserve", tc.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestReserveStoreFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.store.EXPECT().Reserve(gomock.Any(), 1, "", clientA).Return(nil, reservation.ErrFailedToQuery)

	rr := f.do(t, http.MethodPost, "/reserve", models.ReserveRequest{Amount: 1, Name: clientA})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestExtend(t *testing.T) {
	f := newFixture(t, nil)

	f.store.EXPECT().Extend(gomock.Any(), clientA, []string{"S1", "S2"}).Return([]string{"S1"}, nil)
	f.store.EXPECT().ExtendAll(gomock.Any(), clientA).Return(nil, nil)

	rr := f.do(t, http.MethodPost, "/extend", models.SerialsRequest{Name: clientA, Serials: []string{"S1", "S2"}})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `["S1"]`, rr.Body.String())

	rr = f.do(t, http.MethodPost, "/extendall", models.NameRequest{Name: clientA})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = f.do(t, http.MethodPost, "/extend", models.SerialsRequest{Name: clientA})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEndReleasesDevices(t *testing.T) {
	f := newFixture(t, nil)

	conn := &recordingConn{}
	f.srv.Router().RegisterOwner(clientA, conn)

	ended := []models.EndedReservation{
		{Serial: "S1", ClientID: clientA, WorkerIP: "10.0.0.1", WorkerPort: 8081},
	}

	f.store.EXPECT().End(gomock.Any(), clientA, []string{"S1"}).Return(ended, nil)
	f.workers.EXPECT().Unreserve(gomock.Any(), "10.0.0.1:8081", "S1").Return(nil)

	rr := f.do(t, http.MethodPost, "/end", models.SerialsRequest{Name: clientA, Serials: []string{"S1"}})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `["S1"]`, rr.Body.String())
	assert.Equal(t, []models.EventKind{models.EventReservationEnd}, conn.kinds())
}

func TestEndAllContinuesWhenWorkerFails(t *testing.T) {
	f := newFixture(t, nil)

	ended := []models.EndedReservation{
		{Serial: "S1", ClientID: clientA, WorkerIP: "10.0.0.1", WorkerPort: 8081},
		{Serial: "S2", ClientID: clientA, WorkerIP: "10.0.0.2", WorkerPort: 8081},
	}

	f.store.EXPECT().EndAll(gomock.Any(), clientA).Return(ended, nil)
	f.workers.EXPECT().Unreserve(gomock.Any(), "10.0.0.1:8081", "S1").Return(assert.AnError)
	f.workers.EXPECT().Unreserve(gomock.Any(), "10.0.0.2:8081", "S2").Return(nil)

	rr := f.do(t, http.MethodPost, "/endall", models.NameRequest{Name: clientA})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `["S1","S2"]`, rr.Body.String())
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig(t)
	cfg.APIKey = "secret"

	f := newFixture(t, cfg)

	rr := f.do(t, http.MethodPost, "/extendall", models.NameRequest{Name: clientA})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	f.store.EXPECT().ExtendAll(gomock.Any(), clientA).Return([]string{"S1"}, nil)

	rr = f.do(t, http.MethodPost, "/extendall?api_key=secret", models.NameRequest{Name: clientA})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestEventSocket(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.srv.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	conn, err := ws.Dial(ctx, "http://"+f.srv.Addr().String(), clientA, ws.Options{}, logger.NewTestLogger())
	require.NoError(t, err)

	received := make(chan models.Event, 1)

	go func() {
		_ = conn.ReadLoop(context.Background(), func(data []byte) {
			var ev models.Event
			if json.Unmarshal(data, &ev) == nil {
				received <- ev
			}
		})
	}()

	require.Eventually(t, func() bool { return f.srv.Router().Connected(clientA) }, waitFor, tick)

	f.srv.notify(ctx, clientA, models.NewEvent("S1", models.EventReservationEndingSoon))

	select {
	case ev := <-received:
		assert.Equal(t, models.EventReservationEndingSoon, ev.Kind)
		assert.Equal(t, "S1", ev.Serial)
	case <-ctx.Done():
		t.Fatal("event not received")
	}

	require.NoError(t, f.srv.Stop(ctx))

	select {
	case <-conn.Done():
	case <-ctx.Done():
		t.Fatal("socket not closed on stop")
	}
}
