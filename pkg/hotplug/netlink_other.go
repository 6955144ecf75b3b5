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

//go:build !linux

package hotplug

import (
	"context"
	"errors"

	"github.com/carverauto/usbipice/pkg/logger"
)

const (
	GroupKernel = 1
	GroupUdev   = 2
)

// ErrUnsupported is returned on platforms without netlink uevents.
var ErrUnsupported = errors.New("netlink hotplug is only supported on linux")

// NetlinkSource is unavailable on this platform.
type NetlinkSource struct{}

// NewNetlinkSource always fails outside linux.
func NewNetlinkSource(_ uint32, _ *Filter, _ logger.Logger) (*NetlinkSource, error) {
	return nil, ErrUnsupported
}

func (*NetlinkSource) Events() <-chan Event          { return nil }
func (*NetlinkSource) Start(_ context.Context) error { return ErrUnsupported }
func (*NetlinkSource) Close() error                  { return nil }
