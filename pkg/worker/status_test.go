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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/usbipice/pkg/device"
	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
	"github.com/carverauto/usbipice/pkg/reservation"
)

type stateChange struct {
	serial, from, to string
}

type fakeMirror struct {
	mu      sync.Mutex
	changes []stateChange
	err     error
}

func (f *fakeMirror) PublishStateChange(_ context.Context, serial, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.changes = append(f.changes, stateChange{serial: serial, from: from, to: to})

	return f.err
}

func TestStatusWriterCoalesces(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := reservation.NewMockWorkerStore(ctrl)
	mirror := &fakeMirror{}

	gomock.InOrder(
		store.EXPECT().AddDevice(gomock.Any(), "ABC123", "worker-1").Return(nil),
		store.EXPECT().UpdateDeviceStatus(gomock.Any(), "ABC123", device.StateReady.StoreStatus()).Return(nil),
	)

	w := newStatusWriter("worker-1", store, mirror, logger.NewTestLogger())

	// Recorded before start, so both land in the first flush.
	w.record("ABC123", device.StateDiscovered, device.StateBootloader)
	w.record("ABC123", device.StateBootloader, device.StateReady)

	w.start(context.Background())
	w.stop()

	require.Len(t, mirror.changes, 1)
	assert.Equal(t, stateChange{serial: "ABC123", from: "discovered", to: "ready"}, mirror.changes[0])
}

func TestStatusWriterAddsDeviceOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := reservation.NewMockWorkerStore(ctrl)

	store.EXPECT().AddDevice(gomock.Any(), "ABC123", "worker-1").Return(nil).Times(1)
	store.EXPECT().UpdateDeviceStatus(gomock.Any(), "ABC123", gomock.Any()).Return(nil).Times(2)

	w := newStatusWriter("worker-1", store, nil, logger.NewTestLogger())

	w.write(context.Background(), "ABC123", transition{from: device.StateDiscovered, to: device.StateReady})
	w.write(context.Background(), "ABC123", transition{from: device.StateReady, to: device.StateReserved})
}

func TestStatusWriterRetriesFailedRegistration(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := reservation.NewMockWorkerStore(ctrl)

	gomock.InOrder(
		store.EXPECT().AddDevice(gomock.Any(), "ABC123", "worker-1").Return(assert.AnError),
		store.EXPECT().UpdateDeviceStatus(gomock.Any(), "ABC123", gomock.Any()).Return(nil),
		store.EXPECT().AddDevice(gomock.Any(), "ABC123", "worker-1").Return(nil),
		store.EXPECT().UpdateDeviceStatus(gomock.Any(), "ABC123", gomock.Any()).Return(nil),
	)

	w := newStatusWriter("worker-1", store, nil, logger.NewTestLogger())

	w.write(context.Background(), "ABC123", transition{from: device.StateDiscovered, to: device.StateReady})
	w.write(context.Background(), "ABC123", transition{from: device.StateReady, to: device.StateReserved})
}

func TestStatusWriterWithoutStore(t *testing.T) {
	mirror := &fakeMirror{err: assert.AnError}
	w := newStatusWriter("worker-1", nil, mirror, logger.NewTestLogger())

	w.start(context.Background())
	w.record("ABC123", device.StateReady, device.StateReserved)
	w.record("DEF456", device.StateReady, device.StateFailed)
	w.stop()

	mirror.mu.Lock()
	defer mirror.mu.Unlock()

	require.Len(t, mirror.changes, 2)
	assert.Equal(t, "ABC123", mirror.changes[0].serial)
	assert.Equal(t, "failed", mirror.changes[1].to)
}

func TestHostStatsFill(t *testing.T) {
	stats := hostStats{
		usage: func(context.Context, time.Duration, bool) ([]float64, error) {
			return []float64{12.5}, nil
		},
		memory: func(context.Context) (*mem.VirtualMemoryStat, error) { return nil, assert.AnError },
		uptime: func(context.Context) (uint64, error) { return 3600, nil },
	}

	var hb models.Heartbeat
	stats.fill(context.Background(), &hb, logger.NewTestLogger())

	assert.InEpsilon(t, 12.5, hb.CPUPercent, 0.001)
	assert.Zero(t, hb.MemPercent)
	assert.Equal(t, uint64(3600), hb.UptimeSecs)
}
