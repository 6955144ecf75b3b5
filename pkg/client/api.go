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

package client

import (
	"context"
	"net/http"
	"strings"

	uhttp "github.com/carverauto/usbipice/pkg/http"
	"github.com/carverauto/usbipice/pkg/models"
)

// ControlAPI calls the control plane on behalf of one client.
type ControlAPI struct {
	baseURL string
	name    string
	apiKey  string
	http    *http.Client
}

// NewControlAPI creates an API client for name.
func NewControlAPI(baseURL, name, apiKey string, httpClient *http.Client) *ControlAPI {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &ControlAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		name:    name,
		apiKey:  apiKey,
		http:    httpClient,
	}
}

func (a *ControlAPI) post(ctx context.Context, path string, in, out interface{}) error {
	return uhttp.DoJSON(ctx, a.http, http.MethodPost, a.baseURL+path, a.apiKey, in, out)
}

// Reserve asks for amount devices.
func (a *ControlAPI) Reserve(ctx context.Context, amount int) ([]models.Reservation, error) {
	var out []models.Reservation

	err := a.post(ctx, "/reserve", models.ReserveRequest{Amount: amount, Name: a.name}, &out)

	return out, err
}

// Extend renews the reservations of serials and returns those extended.
func (a *ControlAPI) Extend(ctx context.Context, serials []string) ([]string, error) {
	var out []string

	err := a.post(ctx, "/extend", models.SerialsRequest{Name: a.name, Serials: serials}, &out)

	return out, err
}

// ExtendAll renews every reservation held by the client.
func (a *ControlAPI) ExtendAll(ctx context.Context) ([]string, error) {
	var out []string

	err := a.post(ctx, "/extendall", models.NameRequest{Name: a.name}, &out)

	return out, err
}

// End ends the reservations of serials and returns those ended.
func (a *ControlAPI) End(ctx context.Context, serials []string) ([]string, error) {
	var out []string

	err := a.post(ctx, "/end", models.SerialsRequest{Name: a.name, Serials: serials}, &out)

	return out, err
}

// EndAll ends every reservation held by the client.
func (a *ControlAPI) EndAll(ctx context.Context) ([]string, error) {
	var out []string

	err := a.post(ctx, "/endall", models.NameRequest{Name: a.name}, &out)

	return out, err
}
