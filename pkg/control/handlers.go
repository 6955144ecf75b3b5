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

package control

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	uhttp "github.com/carverauto/usbipice/pkg/http"
	"github.com/carverauto/usbipice/pkg/models"
	"github.com/carverauto/usbipice/pkg/transport/ws"
)

const maxRequestBytes = 1 << 20

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/reserve", s.handleReserve).Methods("POST")
	router.HandleFunc("/extend", s.handleExtend).Methods("POST")
	router.HandleFunc("/extendall", s.handleExtendAll).Methods("POST")
	router.HandleFunc("/end", s.handleEnd).Methods("POST")
	router.HandleFunc("/endall", s.handleEndAll).Methods("POST")
	router.HandleFunc("/events", s.handleEvents).Methods("GET")

	return router
}

// handleReserve takes devices from the store and hands each one to its
// worker. Devices the worker refuses are returned to the pool and left out
// of the response.
func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req models.ReserveRequest
	if err := uhttp.DecodeJSON(w, r, &req, maxRequestBytes); err != nil {
		uhttp.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Amount <= 0 || req.Amount > s.cfg.MaxReserve {
		uhttp.WriteError(w, "name and an amount between 1 and max_reserve are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	reserved, err := s.store.Reserve(ctx, req.Amount, req.OwnerURL, req.Name)
	if err != nil {
		s.logger.Error().Err(err).Str("client_id", req.Name).Msg("Failed to reserve devices")
		uhttp.WriteError(w, "failed to reserve devices", http.StatusInternalServerError)

		return
	}

	granted := make([]models.Reservation, 0, len(reserved))

	var refused []string

	for _, res := range reserved {
		if err := s.workers.Reserve(ctx, WorkerAddr(res.WorkerIP, res.WorkerPort), res.Serial, req.Name); err != nil {
			s.logger.Warn().Err(err).Str("serial", res.Serial).Msg("Worker refused reservation")

			refused = append(refused, res.Serial)

			continue
		}

		granted = append(granted, res)
	}

	if len(refused) > 0 {
		s.returnToPool(ctx, req.Name, refused)
	}

	s.logger.Info().Str("client_id", req.Name).Int("requested", req.Amount).Int("granted", len(granted)).
		Msg("Reservation made")

	uhttp.WriteJSON(w, http.StatusOK, granted)
}

// returnToPool ends reservations the worker never accepted, without
// telling the client about them.
func (s *Server) returnToPool(ctx context.Context, clientID string, serials []string) {
	if _, err := s.store.End(ctx, clientID, serials); err != nil {
		s.logger.Error().Err(err).Strs("serials", serials).Msg("Failed to return refused devices")
	}
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	var req models.SerialsRequest
	if !s.decodeSerials(w, r, &req) {
		return
	}

	extended, err := s.store.Extend(r.Context(), req.Name, req.Serials)
	if err != nil {
		s.storeError(w, err, "extend")
		return
	}

	uhttp.WriteJSON(w, http.StatusOK, nonNil(extended))
}

func (s *Server) handleExtendAll(w http.ResponseWriter, r *http.Request) {
	var req models.NameRequest
	if !s.decodeName(w, r, &req) {
		return
	}

	extended, err := s.store.ExtendAll(r.Context(), req.Name)
	if err != nil {
		s.storeError(w, err, "extend all")
		return
	}

	uhttp.WriteJSON(w, http.StatusOK, nonNil(extended))
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req models.SerialsRequest
	if !s.decodeSerials(w, r, &req) {
		return
	}

	ended, err := s.store.End(r.Context(), req.Name, req.Serials)
	if err != nil {
		s.storeError(w, err, "end")
		return
	}

	uhttp.WriteJSON(w, http.StatusOK, s.releaseAll(r.Context(), ended))
}

func (s *Server) handleEndAll(w http.ResponseWriter, r *http.Request) {
	var req models.NameRequest
	if !s.decodeName(w, r, &req) {
		return
	}

	ended, err := s.store.EndAll(r.Context(), req.Name)
	if err != nil {
		s.storeError(w, err, "end all")
		return
	}

	uhttp.WriteJSON(w, http.StatusOK, s.releaseAll(r.Context(), ended))
}

func (s *Server) releaseAll(ctx context.Context, ended []models.EndedReservation) []string {
	serials := make([]string, 0, len(ended))

	for _, e := range ended {
		s.release(ctx, e)
		serials = append(serials, e.Serial)
	}

	return serials
}

// handleEvents upgrades to the client's control event socket. The socket
// is receive-only; frames from the client are ignored.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	clientID, err := ws.ClientID(r)
	if err != nil {
		uhttp.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := ws.Accept(w, r, s.cfg.Socket, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Str("client_id", clientID).Msg("Event socket upgrade failed")
		return
	}

	s.router.RegisterOwner(clientID, conn)
	defer s.router.UnregisterConnection(clientID, conn)

	s.logger.Info().Str("client_id", clientID).Str("remote_addr", conn.RemoteAddr()).Msg("Client connected")

	if err := conn.ReadLoop(r.Context(), func([]byte) {}); err != nil {
		s.logger.Warn().Err(err).Str("client_id", clientID).Msg("Event socket closed with error")
	}

	s.logger.Info().Str("client_id", clientID).Msg("Client disconnected")
}

func (s *Server) decodeSerials(w http.ResponseWriter, r *http.Request, req *models.SerialsRequest) bool {
	if err := uhttp.DecodeJSON(w, r, req, maxRequestBytes); err != nil {
		uhttp.WriteError(w, err.Error(), http.StatusBadRequest)
		return false
	}

	if req.Name == "" || len(req.Serials) == 0 {
		uhttp.WriteError(w, "name and serials are required", http.StatusBadRequest)
		return false
	}

	return true
}

func (s *Server) decodeName(w http.ResponseWriter, r *http.Request, req *models.NameRequest) bool {
	if err := uhttp.DecodeJSON(w, r, req, maxRequestBytes); err != nil {
		uhttp.WriteError(w, err.Error(), http.StatusBadRequest)
		return false
	}

	if req.Name == "" {
		uhttp.WriteError(w, "name is required", http.StatusBadRequest)
		return false
	}

	return true
}

func (s *Server) storeError(w http.ResponseWriter, err error, op string) {
	s.logger.Error().Err(err).Str("op", op).Msg("Reservation store call failed")
	uhttp.WriteError(w, "failed to "+op+" reservations", http.StatusInternalServerError)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}

	return s
}
