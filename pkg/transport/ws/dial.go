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

package ws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/carverauto/usbipice/pkg/logger"
)

// EventsURL builds the websocket url of the events endpoint served at base
// for clientID. base may use http, https, ws or wss.
func EventsURL(base, clientID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", base, err)
	}

	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	if !strings.HasSuffix(u.Path, "/events") {
		u.Path += "/events"
	}

	q := u.Query()
	q.Set(ClientIDParam, clientID)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Dial connects to the events endpoint at base as clientID.
func Dial(ctx context.Context, base, clientID string, opts Options, log logger.Logger) (*Conn, error) {
	target, err := EventsURL(base, clientID)
	if err != nil {
		return nil, err
	}

	wsConn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}

	log.Info().Str("url", target).Msg("Connected to event socket")

	return newConn(wsConn, opts, log), nil
}
