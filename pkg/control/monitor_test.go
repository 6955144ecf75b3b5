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
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	uhttp "github.com/carverauto/usbipice/pkg/http"
	"github.com/carverauto/usbipice/pkg/models"
	"github.com/carverauto/usbipice/pkg/reservation"
)

func TestHeartbeatRecordsResponsiveWorkers(t *testing.T) {
	f := newFixture(t, nil)

	f.store.EXPECT().ListWorkers(gomock.Any()).Return([]models.Worker{
		{Name: "worker-1", IP: "10.0.0.1", Port: 8081},
		{Name: "worker-2", IP: "10.0.0.2", Port: 8081},
	}, nil)
	f.workers.EXPECT().Heartbeat(gomock.Any(), "10.0.0.1:8081").Return(&models.Heartbeat{Name: "worker-1"}, nil)
	f.workers.EXPECT().Heartbeat(gomock.Any(), "10.0.0.2:8081").Return(nil, assert.AnError)
	f.store.EXPECT().RecordHeartbeat(gomock.Any(), "worker-1").Return(nil)

	f.srv.monitor.heartbeatWorkers(context.Background())
}

func TestHeartbeatStoreFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.store.EXPECT().ListWorkers(gomock.Any()).Return(nil, reservation.ErrFailedToQuery)

	f.srv.monitor.heartbeatWorkers(context.Background())
}

func TestWorkerTimeoutsFailDevices(t *testing.T) {
	f := newFixture(t, nil)

	conn := &recordingConn{}
	f.srv.Router().RegisterOwner(clientA, conn)

	f.store.EXPECT().WorkerTimeouts(gomock.Any(), defaultWorkerTimeout).Return([]models.OwnedDevice{
		{Serial: "S1", ClientID: clientA},
		{Serial: "S2", ClientID: ""},
	}, nil)

	f.srv.monitor.workerTimeouts(context.Background())

	assert.Equal(t, []models.EventKind{models.EventFailure}, conn.kinds())
}

func TestReservationTimeoutsRelease(t *testing.T) {
	f := newFixture(t, nil)

	conn := &recordingConn{}
	f.srv.Router().RegisterOwner(clientA, conn)

	f.store.EXPECT().ReservationTimeouts(gomock.Any()).Return([]models.EndedReservation{
		{Serial: "S1", ClientID: clientA, WorkerIP: "10.0.0.1", WorkerPort: 8081},
	}, nil)
	f.workers.EXPECT().Unreserve(gomock.Any(), "10.0.0.1:8081", "S1").Return(nil)

	f.srv.monitor.reservationTimeouts(context.Background())

	assert.Equal(t, []models.EventKind{models.EventReservationEnd}, conn.kinds())
}

func TestReservationsEndingSoonNotify(t *testing.T) {
	f := newFixture(t, nil)

	conn := &recordingConn{}
	f.srv.Router().RegisterOwner(clientA, conn)

	f.store.EXPECT().ReservationsEndingSoon(gomock.Any(), defaultEndingSoonNotifyAt).Return([]models.OwnedDevice{
		{Serial: "S1", ClientID: clientA},
		{Serial: "S2", ClientID: clientA},
	}, nil)

	f.srv.monitor.reservationsEndingSoon(context.Background())

	assert.Equal(t, []models.EventKind{
		models.EventReservationEndingSoon,
		models.EventReservationEndingSoon,
	}, conn.kinds())
}

func TestHTTPWorkerClient(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()

		switch r.URL.Path {
		case "/heartbeat":
			uhttp.WriteJSON(w, http.StatusOK, models.Heartbeat{Name: "worker-1", Devices: 3})
		case "/reserve":
			var req models.WorkerReserveRequest
			assert.NoError(t, uhttp.DecodeJSON(w, r, &req, 0))
			assert.Equal(t, models.WorkerReserveRequest{Serial: "S1", Owner: clientA}, req)
			uhttp.WriteJSON(w, http.StatusOK, req)
		default:
			uhttp.WriteError(w, "device is not reserved", http.StatusConflict)
		}
	}))
	t.Cleanup(srv.Close)

	addr := strings.TrimPrefix(srv.URL, "http://")
	c := &HTTPWorkerClient{Client: srv.Client()}
	ctx := context.Background()

	hb, err := c.Heartbeat(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, 3, hb.Devices)

	require.NoError(t, c.Reserve(ctx, addr, "S1", clientA))

	err = c.Unreserve(ctx, addr, "S1")

	var se *uhttp.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.Code)

	mu.Lock()
	assert.Equal(t, []string{"GET /heartbeat", "POST /reserve", "POST /unreserve"}, paths)
	mu.Unlock()
}

func TestWorkerAddr(t *testing.T) {
	assert.Equal(t, "10.0.0.1:8081", WorkerAddr("10.0.0.1", 8081))
	assert.Equal(t, "[fd00::1]:8081", WorkerAddr("fd00::1", 8081))
}
