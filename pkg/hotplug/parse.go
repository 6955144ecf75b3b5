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

package hotplug

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
)

var (
	// ErrShortMessage is returned for datagrams too small to carry an event.
	ErrShortMessage = errors.New("hotplug message too short")
	// ErrBadUdevHeader is returned when a libudev header has the wrong magic or offsets.
	ErrBadUdevHeader = errors.New("invalid libudev message header")
	// ErrNoAction is returned when a message names no action.
	ErrNoAction = errors.New("hotplug message has no action")
)

const (
	udevPrefix       = "libudev\x00"
	udevMagic        = 0xfeedcafe
	udevHeaderLength = 40
)

// ParseMessage decodes one netlink datagram. Both the udev daemon format
// (libudev header followed by NUL separated properties) and the raw kernel
// format (action@devpath followed by NUL separated properties) are accepted.
func ParseMessage(data []byte) (Event, error) {
	if len(data) < len("add@/") {
		return Event{}, ErrShortMessage
	}

	if bytes.HasPrefix(data, []byte(udevPrefix)) {
		return parseUdev(data)
	}

	return parseKernel(data)
}

func parseUdev(data []byte) (Event, error) {
	if len(data) < udevHeaderLength {
		return Event{}, ErrShortMessage
	}

	if binary.BigEndian.Uint32(data[8:12]) != udevMagic {
		return Event{}, ErrBadUdevHeader
	}

	off := binary.NativeEndian.Uint32(data[16:20])
	n := binary.NativeEndian.Uint32(data[20:24])

	if uint64(off)+uint64(n) > uint64(len(data)) || off < udevHeaderLength {
		return Event{}, ErrBadUdevHeader
	}

	props := parseProperties(data[off : off+n])

	return eventFrom(props, "")
}

func parseKernel(data []byte) (Event, error) {
	header, rest, _ := bytes.Cut(data, []byte{0})

	action, devpath, ok := strings.Cut(string(header), "@")
	if !ok {
		// No header line; the whole buffer is properties.
		return eventFrom(parseProperties(data), "")
	}

	props := parseProperties(rest)
	if props[KeyDevPath] == "" {
		props[KeyDevPath] = devpath
	}

	return eventFrom(props, Action(action))
}

func parseProperties(data []byte) Properties {
	props := make(Properties)

	for _, field := range bytes.Split(data, []byte{0}) {
		if len(field) == 0 {
			continue
		}

		key, value, ok := strings.Cut(string(field), "=")
		if !ok {
			continue
		}

		props[key] = value
	}

	return props
}

func eventFrom(props Properties, fallback Action) (Event, error) {
	action := Action(props[KeyAction])
	if action == "" {
		action = fallback
	}

	if action == "" {
		return Event{}, ErrNoAction
	}

	// udev reports DEVNAME relative to /dev in kernel messages.
	if name := props[KeyDevName]; name != "" && !strings.HasPrefix(name, "/") {
		props[KeyDevName] = "/dev/" + name
	}

	return Event{Action: action, Properties: props}, nil
}
