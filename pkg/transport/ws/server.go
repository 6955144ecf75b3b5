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
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/carverauto/usbipice/pkg/logger"
)

// ClientIDParam is the query parameter naming the connecting owner.
const ClientIDParam = "client_id"

// ErrMissingClientID is returned when an upgrade request has no client id.
var ErrMissingClientID = errors.New("client_id query parameter is required")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients are daemons, not browsers; there is no origin to check.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ClientID returns the owner id carried by r.
func ClientID(r *http.Request) (string, error) {
	id := r.URL.Query().Get(ClientIDParam)
	if id == "" {
		return "", ErrMissingClientID
	}

	return id, nil
}

// Accept upgrades r to a websocket. On failure the upgrader has already
// written an HTTP error to w.
func Accept(w http.ResponseWriter, r *http.Request, opts Options, log logger.Logger) (*Conn, error) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}

	log.Debug().Str("remote_addr", r.RemoteAddr).Msg("WebSocket connection accepted")

	return newConn(wsConn, opts, log), nil
}
