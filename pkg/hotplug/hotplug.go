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

// Package hotplug turns OS device attach/detach notifications into filtered events.
package hotplug

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Action is the kind of change a hotplug event reports.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionChange Action = "change"
	ActionBind   Action = "bind"
	ActionUnbind Action = "unbind"
)

// Well-known property keys.
const (
	KeyDevName     = "DEVNAME"
	KeyDevPath     = "DEVPATH"
	KeySubsystem   = "SUBSYSTEM"
	KeyDevType     = "DEVTYPE"
	KeyModel       = "ID_MODEL"
	KeySerialShort = "ID_SERIAL_SHORT"
	KeySerial      = "ID_SERIAL"
	KeyInterfaceNo = "ID_USB_INTERFACE_NUM"
	KeyAction      = "ACTION"

	SubsystemTTY     = "tty"
	DevTypePartition = "partition"
)

// Properties is the key/value metadata attached to one device-file.
type Properties map[string]string

// DevName returns the device-file path, e.g. /dev/ttyACM0.
func (p Properties) DevName() string { return p[KeyDevName] }

// DevPath returns the sysfs path of the device-file.
func (p Properties) DevPath() string { return p[KeyDevPath] }

// IsTTY reports whether the device-file is a serial interface.
func (p Properties) IsTTY() bool { return p[KeySubsystem] == SubsystemTTY }

// IsPartition reports whether the device-file is a mountable partition.
func (p Properties) IsPartition() bool { return p[KeyDevType] == DevTypePartition }

// String formats the fields useful in logs.
func (p Properties) String() string {
	return fmt.Sprintf("[%s : %s : %s : %s]", p[KeySerial], p[KeyInterfaceNo], p[KeyDevName], p[KeyDevPath])
}

// Clone returns an independent copy.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}

	return out
}

// Keys returns the property names in sorted order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Event is one attach or detach notification.
type Event struct {
	Action     Action
	Properties Properties
}

// Source produces hotplug events until it is closed.
type Source interface {
	Events() <-chan Event
	Start(ctx context.Context) error
	Close() error
}

// DefaultModels are the board models recognized when none are configured.
var DefaultModels = []string{"RP2350", "pico-ice", "Pico"}

// Filter decides which device-files belong to managed boards.
type Filter struct {
	models map[string]struct{}
}

// NewFilter returns a filter accepting the given ID_MODEL values, or DefaultModels when empty.
func NewFilter(models []string) *Filter {
	if len(models) == 0 {
		models = DefaultModels
	}

	f := &Filter{models: make(map[string]struct{}, len(models))}
	for _, m := range models {
		f.models[m] = struct{}{}
	}

	return f
}

// Serial returns the board serial for a device-file, or false when the
// device-file is not a recognized board node.
func (f *Filter) Serial(p Properties) (string, bool) {
	devname := p.DevName()
	if !strings.HasPrefix(devname, "/dev/") || strings.HasPrefix(devname, "/dev/bus/") {
		return "", false
	}

	if _, ok := f.models[p[KeyModel]]; !ok {
		return "", false
	}

	serial := p[KeySerialShort]
	if serial == "" {
		return "", false
	}

	return serial, true
}

var (
	rootHubRe = regexp.MustCompile(`^usb\d+$`)
	portRe    = regexp.MustCompile(`^\d+-\d+(\.\d+)*$`)
)

// BusID derives the usbip bus identifier from a sysfs DEVPATH. Every interface,
// tty, and partition below one physical attachment maps to the same bus id:
//
//	/devices/pci0000:00/0000:00:14.0/usb1/1-2/1-2:1.0/tty/ttyACM0  -> 1-2
//	/devices/pci0000:00/0000:00:14.0/usb3/3-1/3-1.4/3-1.4:1.2/...  -> 3-1.4
func BusID(devpath string) (string, bool) {
	parts := strings.Split(devpath, "/")

	root := -1

	for i, part := range parts {
		if rootHubRe.MatchString(part) {
			root = i
			break
		}
	}

	if root < 0 {
		return "", false
	}

	bus := ""

	for _, part := range parts[root+1:] {
		if idx := strings.IndexByte(part, ':'); idx >= 0 {
			part = part[:idx]
			if portRe.MatchString(part) {
				bus = part
			}

			break
		}

		if !portRe.MatchString(part) {
			break
		}

		bus = part
	}

	return bus, bus != ""
}
