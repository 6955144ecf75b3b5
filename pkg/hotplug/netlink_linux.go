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

//go:build linux

package hotplug

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/carverauto/usbipice/pkg/logger"
)

const (
	// GroupKernel receives raw kernel uevents.
	GroupKernel = 1
	// GroupUdev receives events after udev rules have added ID_* properties.
	GroupUdev = 2

	receiveBufferSize = 64 * 1024
	pollTimeoutMillis = 250
	defaultQueueSize  = 256
)

// NetlinkSource reads uevents from a NETLINK_KOBJECT_UEVENT socket.
type NetlinkSource struct {
	fd     int
	group  uint32
	filter *Filter
	events chan Event
	logger logger.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewNetlinkSource opens and binds the uevent socket. Only events that pass
// filter are delivered; a nil filter passes everything.
func NewNetlinkSource(group uint32, filter *Filter, log logger.Logger) (*NetlinkSource, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("failed to open netlink socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, 1<<20); err != nil {
		log.Debug().Err(err).Msg("Could not raise netlink receive buffer")
	}

	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: group}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("failed to bind netlink group %d: %w", group, err)
	}

	return &NetlinkSource{
		fd:     fd,
		group:  group,
		filter: filter,
		events: make(chan Event, defaultQueueSize),
		logger: log,
		done:   make(chan struct{}),
	}, nil
}

// Events returns the channel of filtered events. It is closed after Close.
func (s *NetlinkSource) Events() <-chan Event {
	return s.events
}

// Start launches the receive loop.
func (s *NetlinkSource) Start(ctx context.Context) error {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer close(s.events)

		s.receiveLoop(ctx)
	}()

	s.logger.Info().Uint32("group", s.group).Msg("Listening for hotplug events")

	return nil
}

// Close stops the receive loop, waits for it, and releases the socket.
func (s *NetlinkSource) Close() error {
	var err error

	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = unix.Close(s.fd)
	})

	return err
}

func (s *NetlinkSource) receiveLoop(ctx context.Context) {
	buf := make([]byte, receiveBufferSize)
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		n, err := unix.Poll(fds, pollTimeoutMillis)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}

			s.logger.Error().Err(err).Msg("Netlink poll failed")
			time.Sleep(time.Second)

			continue
		}

		if n == 0 || fds[0].Revents&unix.POLLIN == 0 {
			continue
		}

		size, _, err := unix.Recvfrom(s.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.ENOBUFS) {
				s.logger.Warn().Msg("Netlink receive buffer overrun, events were lost")
				continue
			}

			if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
				s.logger.Error().Err(err).Msg("Netlink receive failed")
			}

			continue
		}

		s.dispatch(buf[:size])
	}
}

func (s *NetlinkSource) dispatch(data []byte) {
	ev, err := ParseMessage(data)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Ignoring malformed hotplug message")
		return
	}

	if s.filter != nil {
		if _, ok := s.filter.Serial(ev.Properties); !ok {
			return
		}
	}

	select {
	case s.events <- ev:
	case <-s.done:
	}
}
