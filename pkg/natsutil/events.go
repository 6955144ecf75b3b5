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

// Package natsutil mirrors device lifecycle events into NATS JetStream.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/usbipice/pkg/logger"
	"github.com/carverauto/usbipice/pkg/models"
)

const (
	cloudEventSpecVersion = "1.0"
	eventTypePrefix       = "com.carverauto.usbipice."
)

// publisher is the subset of jetstream.JetStream used for publishing.
type publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// EventPublisher provides methods for publishing CloudEvents to NATS JetStream.
type EventPublisher struct {
	js      publisher
	stream  string
	subject string
	source  string
	logger  logger.Logger
}

// NewEventPublisher creates a publisher for cfg. cfg must already be validated.
func NewEventPublisher(js jetstream.JetStream, cfg models.NATSConfig, log logger.Logger) *EventPublisher {
	return newEventPublisher(js, cfg, log)
}

func newEventPublisher(js publisher, cfg models.NATSConfig, log logger.Logger) *EventPublisher {
	return &EventPublisher{
		js:      js,
		stream:  cfg.StreamName,
		subject: cfg.Subject,
		source:  cfg.Source,
		logger:  log,
	}
}

// DeviceStateData is the payload of a device state transition event.
type DeviceStateData struct {
	Serial    string    `json:"serial"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// EventSubject returns the subject a device event of kind is published on.
func (p *EventPublisher) EventSubject(kind models.EventKind) string {
	return p.subject + ".device." + string(kind)
}

// StateSubject returns the subject state transitions are published on.
func (p *EventPublisher) StateSubject() string {
	return p.subject + ".device.state"
}

// PublishDeviceEvent mirrors an owner-addressed lifecycle event.
func (p *EventPublisher) PublishDeviceEvent(ctx context.Context, owner string, ev models.Event) error {
	now := time.Now()

	data := struct {
		Owner string       `json:"owner,omitempty"`
		Event models.Event `json:"event"`
	}{Owner: owner, Event: ev}

	return p.publish(ctx, p.EventSubject(ev.Kind), "device."+string(ev.Kind), ev.ID, &now, data)
}

// PublishStateChange mirrors a device state transition.
func (p *EventPublisher) PublishStateChange(ctx context.Context, serial, from, to string) error {
	now := time.Now()
	data := DeviceStateData{Serial: serial, From: from, To: to, Timestamp: now}

	return p.publish(ctx, p.StateSubject(), "device.state", "", &now, data)
}

func (p *EventPublisher) publish(
	ctx context.Context, subject, eventType, id string, ts *time.Time, data interface{}) error {
	if id == "" {
		id = uuid.New().String()
	}

	event := models.CloudEvent{
		SpecVersion:     cloudEventSpecVersion,
		ID:              id,
		Source:          p.source,
		Type:            eventTypePrefix + eventType,
		DataContentType: "application/json",
		Subject:         subject,
		Time:            ts,
		Data:            data,
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	ack, err := p.js.Publish(ctx, subject, eventBytes)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("stream", p.stream).
		Str("subject", subject).
		Uint64("seq", ack.Sequence).
		Msg("Published event")

	return nil
}

// Sender delivers events to reservation owners.
type Sender interface {
	Send(ctx context.Context, ownerID string, ev models.Event) bool
}

// MirroredSender delivers through Inner and mirrors every event to JetStream.
// Mirror failures are logged and never block delivery.
type MirroredSender struct {
	Inner     Sender
	Publisher *EventPublisher
}

// Send implements Sender.
func (m *MirroredSender) Send(ctx context.Context, ownerID string, ev models.Event) bool {
	if err := m.Publisher.PublishDeviceEvent(ctx, ownerID, ev); err != nil {
		m.Publisher.logger.Warn().Err(err).Str("serial", ev.Serial).Msg("Failed to mirror event")
	}

	return m.Inner.Send(ctx, ownerID, ev)
}

// ConnectOptions returns the connection options used for cfg, including
// handlers that log connection state changes.
func ConnectOptions(cfg models.NATSConfig, log logger.Logger) ([]nats.Option, error) {
	var opts []nats.Option

	if cfg.TLS != nil {
		tlsConf, err := TLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts,
			nats.Secure(tlsConf),
			nats.RootCAs(cfg.TLS.CAFile),
			nats.ClientCert(cfg.TLS.CertFile, cfg.TLS.KeyFile),
		)
	}

	opts = append(opts,
		nats.Name(cfg.Source),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)

	return opts, nil
}

// Connect opens a NATS connection for cfg, makes sure the stream exists,
// and returns a publisher bound to it.
func Connect(ctx context.Context, cfg models.NATSConfig, log logger.Logger) (*EventPublisher, *nats.Conn, error) {
	opts, err := ConnectOptions(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	var js jetstream.JetStream

	if cfg.Domain != "" {
		js, err = jetstream.NewWithDomain(nc, cfg.Domain)
	} else {
		js, err = jetstream.New(nc)
	}

	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if err := ensureStream(ctx, js, cfg.StreamName, cfg.Subject+".>"); err != nil {
		nc.Close()
		return nil, nil, err
	}

	return NewEventPublisher(js, cfg, log), nc, nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, name, subject string) error {
	stream, err := js.Stream(ctx, name)
	if err != nil && !isStreamMissingErr(err) {
		return fmt.Errorf("failed to look up stream %s: %w", name, err)
	}

	var subjects []string

	if err == nil {
		info, infoErr := stream.Info(ctx)
		if infoErr != nil {
			return fmt.Errorf("failed to read stream %s: %w", name, infoErr)
		}

		existing := info.Config.Subjects
		subjects = ensureSubjectList(append([]string(nil), existing...), subject)

		if len(subjects) == len(existing) {
			return nil
		}

		cfg := info.Config
		cfg.Subjects = subjects

		if _, err := js.UpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("failed to update stream %s: %w", name, err)
		}

		return nil
	}

	subjects = ensureSubjectList(nil, subject)

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{Name: name, Subjects: subjects}); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", name, err)
	}

	return nil
}

// ensureSubjectList returns subjects extended so that subject is covered.
func ensureSubjectList(subjects []string, subject string) []string {
	for _, s := range subjects {
		if matchesSubject(s, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject reports whether pattern, which may contain NATS wildcards,
// covers subject. A wildcard subject is covered only by an equal or wider pattern.
func matchesSubject(pattern, subject string) bool {
	pTokens := strings.Split(pattern, ".")
	sTokens := strings.Split(subject, ".")

	for i, p := range pTokens {
		if p == ">" {
			return len(sTokens) > i
		}

		if i >= len(sTokens) {
			return false
		}

		if sTokens[i] == ">" || (p != "*" && p != sTokens[i]) {
			return false
		}
	}

	return len(pTokens) == len(sTokens)
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}
