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
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
)

// hostStats collects the host figures reported in a heartbeat.
type hostStats struct {
	usage  func(ctx context.Context, interval time.Duration, percpu bool) ([]float64, error)
	memory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	uptime func(ctx context.Context) (uint64, error)
}

func defaultHostStats() hostStats {
	return hostStats{
		usage:  cpu.PercentWithContext,
		memory: mem.VirtualMemoryWithContext,
		uptime: host.UptimeWithContext,
	}
}

// fill never fails; collectors that error leave their fields at zero.
func (h hostStats) fill(ctx context.Context, hb *models.Heartbeat, log logger.Logger) {
	if percent, err := h.usage(ctx, 0, false); err != nil {
		log.Warn().Err(err).Msg("cpu.PercentWithContext failed; usage will be zero")
	} else if len(percent) > 0 {
		hb.CPUPercent = percent[0]
	}

	if vm, err := h.memory(ctx); err != nil {
		log.Warn().Err(err).Msg("memory collection failed; reporting zero")
	} else {
		hb.MemPercent = vm.UsedPercent
	}

	if up, err := h.uptime(ctx); err != nil {
		log.Warn().Err(err).Msg("uptime collection failed; reporting zero")
	} else {
		hb.UptimeSecs = up
	}
}
