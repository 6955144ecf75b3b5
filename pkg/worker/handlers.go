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

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	uhttp "github.com/carverauto/usbipice/pkg/http"
	"github.com/carverauto/usbipice/pkg/models"
	"github.com/carverauto/usbipice/pkg/transport/ws"
	"github.com/carverauto/usbipice/pkg/version"
)

var errSerialRequired = errors.New("serial is required")

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/heartbeat", s.handleHeartbeat).Methods("GET")
	router.HandleFunc("/devices", s.handleDevices).Methods("GET")
	router.HandleFunc("/devices/{serial}", s.handleDevice).Methods("GET")
	router.HandleFunc("/reserve", s.handleReserve).Methods("POST")
	router.HandleFunc("/unreserve", s.handleUnreserve).Methods("POST")
	router.HandleFunc("/events", s.handleEvents).Methods("GET")

	return router
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	hb := models.Heartbeat{
		Name:      s.cfg.Name,
		Version:   version.GetVersion(),
		Timestamp: time.Now().UTC(),
		Devices:   len(s.manager.Devices()),
		Available: len(s.manager.Available()),
	}

	s.stats.fill(r.Context(), &hb, s.logger)

	uhttp.WriteJSON(w, http.StatusOK, hb)
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	uhttp.WriteJSON(w, http.StatusOK, s.manager.Devices())
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	info, ok := s.manager.Device(mux.Vars(r)["serial"])
	if !ok {
		uhttp.WriteError(w, "unknown device", http.StatusNotFound)
		return
	}

	uhttp.WriteJSON(w, http.StatusOK, info)
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req models.WorkerReserveRequest
	if err := uhttp.DecodeJSON(w, r, &req, 0); err != nil {
		uhttp.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Serial == "" || req.Owner == "" {
		uhttp.WriteError(w, "serial and owner are required", http.StatusBadRequest)
		return
	}

	if !s.manager.Reserve(req.Serial, req.Owner) {
		uhttp.WriteError(w, "device is not available", http.StatusConflict)
		return
	}

	uhttp.WriteJSON(w, http.StatusOK, req)
}

func (s *Server) handleUnreserve(w http.ResponseWriter, r *http.Request) {
	var req models.WorkerUnreserveRequest
	if err := uhttp.DecodeJSON(w, r, &req, 0); err != nil {
		uhttp.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Serial == "" {
		uhttp.WriteError(w, errSerialRequired.Error(), http.StatusBadRequest)
		return
	}

	if !s.manager.Unreserve(req.Serial) {
		uhttp.WriteError(w, "device is not reserved", http.StatusConflict)
		return
	}

	uhttp.WriteJSON(w, http.StatusOK, req)
}

// handleEvents upgrades to the owner's event socket. Frames sent by the
// owner are requests for its devices.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	owner, err := ws.ClientID(r)
	if err != nil {
		uhttp.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := ws.Accept(w, r, s.cfg.Socket, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Str("owner", owner).Msg("Event socket upgrade failed")
		return
	}

	s.router.RegisterOwner(owner, conn)
	defer s.router.UnregisterConnection(owner, conn)

	s.logger.Info().Str("owner", owner).Str("remote_addr", conn.RemoteAddr()).Msg("Owner connected")

	ctx := r.Context()

	err = conn.ReadLoop(ctx, func(data []byte) {
		s.handleFrame(ctx, owner, data)
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("owner", owner).Msg("Event socket closed with error")
	}

	s.logger.Info().Str("owner", owner).Msg("Owner disconnected")
}

func (s *Server) handleFrame(ctx context.Context, owner string, data []byte) {
	var req models.Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Warn().Err(err).Str("owner", owner).Msg("Malformed request frame")
		return
	}

	if len(req.Serial) == 0 || req.Kind == "" {
		s.logger.Warn().Str("owner", owner).Msg("Request frame without serial or event")
		return
	}

	if err := s.manager.HandleRequest(ctx, owner, req); err != nil {
		s.logger.Warn().Err(err).Str("owner", owner).Str("request", req.Kind).
			Strs("serials", req.Serial).Msg("Request rejected")
	}
}
