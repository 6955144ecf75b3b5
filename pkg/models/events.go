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

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind names a lifecycle notification delivered to a device owner.
type EventKind string

const (
	EventExport                EventKind = "export"
	EventDisconnect            EventKind = "disconnect"
	EventReservationEnd        EventKind = "reservation_end"
	EventReservationEndingSoon EventKind = "reservation_ending_soon"
	EventFailure               EventKind = "failure"
	EventTimeout               EventKind = "timeout"
	EventInitialized           EventKind = "initialized"
	EventResults               EventKind = "results"
)

// EventKinds lists every known kind.
var EventKinds = []EventKind{
	EventExport,
	EventDisconnect,
	EventReservationEnd,
	EventReservationEndingSoon,
	EventFailure,
	EventTimeout,
	EventInitialized,
	EventResults,
}

// Valid reports whether k is one of the known kinds.
func (k EventKind) Valid() bool {
	for _, known := range EventKinds {
		if k == known {
			return true
		}
	}

	return false
}

// Terminal reports whether the event ends the owner's use of the device.
// Receivers must not act on a terminal event twice.
func (k EventKind) Terminal() bool {
	switch k {
	case EventReservationEnd, EventFailure, EventTimeout, EventDisconnect:
		return true
	default:
		return false
	}
}

// Event is the wire shape of a lifecycle notification.
type Event struct {
	ID       string          `json:"id"`
	Serial   string          `json:"serial"`
	Kind     EventKind       `json:"event"`
	Bus      string          `json:"bus,omitempty"`
	Contents json.RawMessage `json:"contents,omitempty"`
}

// NewEvent builds an event with a fresh id.
func NewEvent(serial string, kind EventKind) Event {
	return Event{
		ID:     uuid.New().String(),
		Serial: serial,
		Kind:   kind,
	}
}

// WithBus returns a copy of the event carrying bus.
func (e Event) WithBus(bus string) Event {
	e.Bus = bus

	return e
}

// WithContents returns a copy of the event with v marshaled into Contents.
func (e Event) WithContents(v interface{}) (Event, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return e, fmt.Errorf("failed to marshal event contents: %w", err)
	}

	e.Contents = raw

	return e, nil
}

// Validate checks that the event can be routed.
func (e *Event) Validate() error {
	if e.Serial == "" {
		return ErrMissingSerial
	}

	if !e.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventKind, e.Kind)
	}

	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	return nil
}

// Request is an owner-originated frame sent to a worker over the event socket.
// Serial is either a single serial or a list of serials in JSON.
type Request struct {
	Serial   SerialList      `json:"serial"`
	Kind     string          `json:"event"`
	Contents json.RawMessage `json:"contents,omitempty"`
}

// SerialList decodes from either a JSON string or a JSON array of strings.
type SerialList []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *SerialList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = SerialList{one}

		return nil
	}

	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("serial must be a string or list of strings: %w", err)
	}

	*s = many

	return nil
}

// CloudEvent represents a CloudEvents v1.0 compliant event.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype"`
	Subject         string      `json:"subject,omitempty"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}

// NATSConfig configures the optional JetStream event mirror.
type NATSConfig struct {
	URL        string `json:"url"`
	StreamName string `json:"stream_name"`
	Subject    string `json:"subject"`
	Source     string `json:"source"`
	Domain     string `json:"domain,omitempty"`
	// TLS enables mutual TLS when set.
	TLS *TLSConfig `json:"tls,omitempty"`
}

// TLSConfig names the certificate files for an mTLS connection.
type TLSConfig struct {
	CAFile     string `json:"ca_file"`
	CertFile   string `json:"cert_file"`
	KeyFile    string `json:"key_file"`
	ServerName string `json:"server_name,omitempty"`
}

// Validate fills defaults for the mirror.
func (c *NATSConfig) Validate() error {
	if c.URL == "" {
		return errNATSURLRequired
	}

	if c.StreamName == "" {
		c.StreamName = "usbipice"
	}

	if c.Subject == "" {
		c.Subject = "usbipice.events"
	}

	if c.Source == "" {
		c.Source = "usbipice"
	}

	return nil
}
