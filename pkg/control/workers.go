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

//go:generate mockgen -destination=mock_control.go -package=control github.com/carverauto/usbipice/pkg/control WorkerClient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	uhttp "github.com/carverauto/usbipice/pkg/http"
	"github.com/carverauto/usbipice/pkg/models"
)

// WorkerClient calls the HTTP API of a worker. addr is host:port.
type WorkerClient interface {
	Heartbeat(ctx context.Context, addr string) (*models.Heartbeat, error)
	Reserve(ctx context.Context, addr, serial, owner string) error
	Unreserve(ctx context.Context, addr, serial string) error
}

// WorkerAddr joins a worker's address as stored.
func WorkerAddr(ip string, port int) string {
	return net.JoinHostPort(ip, strconv.Itoa(port))
}

// HTTPWorkerClient is the WorkerClient used in production.
type HTTPWorkerClient struct {
	Client *http.Client
}

var _ WorkerClient = (*HTTPWorkerClient)(nil)

func (c *HTTPWorkerClient) url(addr, path string) string {
	return "http://" + addr + path
}

// Heartbeat implements WorkerClient.
func (c *HTTPWorkerClient) Heartbeat(ctx context.Context, addr string) (*models.Heartbeat, error) {
	var hb models.Heartbeat

	if err := uhttp.DoJSON(ctx, c.Client, http.MethodGet, c.url(addr, "/heartbeat"), "", nil, &hb); err != nil {
		return nil, fmt.Errorf("heartbeat %s: %w", addr, err)
	}

	return &hb, nil
}

// Reserve implements WorkerClient.
func (c *HTTPWorkerClient) Reserve(ctx context.Context, addr, serial, owner string) error {
	req := models.WorkerReserveRequest{Serial: serial, Owner: owner}

	if err := uhttp.DoJSON(ctx, c.Client, http.MethodPost, c.url(addr, "/reserve"), "", req, nil); err != nil {
		return fmt.Errorf("reserve %s on %s: %w", serial, addr, err)
	}

	return nil
}

// Unreserve implements WorkerClient.
func (c *HTTPWorkerClient) Unreserve(ctx context.Context, addr, serial string) error {
	req := models.WorkerUnreserveRequest{Serial: serial}

	if err := uhttp.DoJSON(ctx, c.Client, http.MethodPost, c.url(addr, "/unreserve"), "", req, nil); err != nil {
		return fmt.Errorf("unreserve %s on %s: %w", serial, addr, err)
	}

	return nil
}
