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

package liveness

//go:generate mockgen -destination=mock_liveness.go -package=liveness github.com/carverauto/usbipice/pkg/liveness Clock,Ticker,ExportSource

import (
	"context"
	"time"
)

// Clock abstracts time-related operations.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// ExportSource reports which bus ids are currently carrying remote traffic.
type ExportSource interface {
	ActiveBuses(ctx context.Context) (map[string]struct{}, error)
}

// TimeoutFunc is called once per timeout episode, outside any tracker lock.
type TimeoutFunc func(ctx context.Context, serial, bus string)
