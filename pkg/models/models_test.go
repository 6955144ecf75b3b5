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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Duration
		wantErr error
	}{
		{name: "string", input: `"15s"`, want: Duration(15 * time.Second)},
		{name: "nanoseconds", input: `5000000000`, want: Duration(5 * time.Second)},
		{name: "bad string", input: `"soon"`, wantErr: ErrInvalidDuration},
		{name: "bool", input: `true`, wantErr: ErrInvalidDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration

			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestDurationMarshalJSON(t *testing.T) {
	b, err := json.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `"1m30s"`, string(b))
}

func TestDurationOrDefault(t *testing.T) {
	assert.Equal(t, Duration(time.Second), Duration(0).OrDefault(time.Second))
	assert.Equal(t, Duration(time.Minute), Duration(time.Minute).OrDefault(time.Second))
}

func TestEventWireShape(t *testing.T) {
	ev := NewEvent("ABC123", EventExport).WithBus("1-2")
	require.NotEmpty(t, ev.ID)

	b, err := json.Marshal(ev)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &raw))

	assert.Equal(t, "ABC123", raw["serial"])
	assert.Equal(t, "export", raw["event"])
	assert.Equal(t, "1-2", raw["bus"])
	assert.NotContains(t, raw, "contents")
}

func TestEventWithContents(t *testing.T) {
	ev, err := NewEvent("XYZ", EventResults).WithContents(map[string]int{"passed": 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"passed":3}`, string(ev.Contents))
}

func TestEventValidate(t *testing.T) {
	ev := Event{Serial: "XYZ", Kind: EventTimeout}
	require.NoError(t, ev.Validate())
	assert.NotEmpty(t, ev.ID, "missing id is assigned")

	require.ErrorIs(t, (&Event{Kind: EventTimeout}).Validate(), ErrMissingSerial)
	require.ErrorIs(t, (&Event{Serial: "XYZ", Kind: "reboot"}).Validate(), ErrUnknownEventKind)
}

func TestEventKindTerminal(t *testing.T) {
	assert.True(t, EventFailure.Terminal())
	assert.True(t, EventReservationEnd.Terminal())
	assert.False(t, EventExport.Terminal())
	assert.False(t, EventReservationEndingSoon.Terminal())
}

func TestRequestSerialList(t *testing.T) {
	var single Request
	require.NoError(t, json.Unmarshal([]byte(`{"serial":"A","event":"unbind"}`), &single))
	assert.Equal(t, SerialList{"A"}, single.Serial)

	var batch Request
	require.NoError(t, json.Unmarshal([]byte(`{"serial":["A","B"],"event":"flash","contents":{"firmware":"AA=="}}`), &batch))
	assert.Equal(t, SerialList{"A", "B"}, batch.Serial)
	assert.Equal(t, "flash", batch.Kind)

	var bad Request
	require.Error(t, json.Unmarshal([]byte(`{"serial":5}`), &bad))
}

func TestNATSConfigValidate(t *testing.T) {
	cfg := NATSConfig{URL: "nats://localhost:4222"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "usbipice", cfg.StreamName)
	assert.Equal(t, "usbipice.events", cfg.Subject)

	require.Error(t, (&NATSConfig{}).Validate())
}
