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

	"github.com/carverauto/usbipice/pkg/device"
	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/reservation"
)

type statePublisher interface {
	PublishStateChange(ctx context.Context, serial, from, to string) error
}

type transition struct {
	from, to device.State
}

// statusWriter moves device state changes off the device goroutines and
// into the store and the event mirror. Changes for one serial that pile up
// between flushes are coalesced into a single transition.
type statusWriter struct {
	worker string
	store  reservation.WorkerStore
	mirror statePublisher
	logger logger.Logger

	mu      sync.Mutex
	pending map[string]transition
	order   []string

	known  map[string]struct{}
	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func newStatusWriter(worker string, store reservation.WorkerStore, mirror statePublisher, log logger.Logger) *statusWriter {
	return &statusWriter{
		worker:  worker,
		store:   store,
		mirror:  mirror,
		logger:  log,
		pending: make(map[string]transition),
		known:   make(map[string]struct{}),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// record is a device.StateFunc.
func (w *statusWriter) record(serial string, from, to device.State) {
	w.mu.Lock()

	if prev, ok := w.pending[serial]; ok {
		prev.to = to
		w.pending[serial] = prev
	} else {
		w.pending[serial] = transition{from: from, to: to}
		w.order = append(w.order, serial)
	}

	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *statusWriter) start(ctx context.Context) {
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()

		for {
			select {
			case <-w.done:
				w.flush(ctx)
				return
			case <-w.notify:
				w.flush(ctx)
			}
		}
	}()
}

// stop writes whatever is pending and waits for the writer to exit.
func (w *statusWriter) stop() {
	w.once.Do(func() { close(w.done) })
	w.wg.Wait()
}

func (w *statusWriter) take() ([]string, map[string]transition) {
	w.mu.Lock()
	defer w.mu.Unlock()

	order, pending := w.order, w.pending
	w.order = nil
	w.pending = make(map[string]transition)

	return order, pending
}

func (w *statusWriter) flush(ctx context.Context) {
	order, pending := w.take()

	for _, serial := range order {
		w.write(ctx, serial, pending[serial])
	}
}

func (w *statusWriter) write(ctx context.Context, serial string, t transition) {
	if w.store != nil {
		if _, ok := w.known[serial]; !ok {
			if err := w.store.AddDevice(ctx, serial, w.worker); err != nil {
				w.logger.Error().Err(err).Str("serial", serial).Msg("Failed to add device to store")
			} else {
				w.known[serial] = struct{}{}
			}
		}

		if err := w.store.UpdateDeviceStatus(ctx, serial, t.to.StoreStatus()); err != nil {
			w.logger.Error().Err(err).Str("serial", serial).Str("status", t.to.StoreStatus()).
				Msg("Failed to update device status")
		}
	}

	if w.mirror != nil {
		if err := w.mirror.PublishStateChange(ctx, serial, t.from.String(), t.to.String()); err != nil {
			w.logger.Warn().Err(err).Str("serial", serial).Msg("Failed to mirror state change")
		}
	}
}

