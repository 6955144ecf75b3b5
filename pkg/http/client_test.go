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

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echo struct {
	Name string `json:"name"`
}

func TestDoJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/echo":
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "secret", r.Header.Get("X-API-Key"))

			var in echo
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				WriteError(w, err.Error(), http.StatusBadRequest)
				return
			}

			WriteJSON(w, http.StatusOK, in)
		case "/conflict":
			WriteError(w, "device is not available", http.StatusConflict)
		default:
			http.Error(w, "gone", http.StatusGone)
		}
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()

	var out echo
	require.NoError(t, DoJSON(ctx, srv.Client(), http.MethodPost, srv.URL+"/echo", "secret", echo{Name: "a"}, &out))
	assert.Equal(t, "a", out.Name)

	err := DoJSON(ctx, srv.Client(), http.MethodPost, srv.URL+"/conflict", "", echo{}, nil)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.Code)
	assert.Equal(t, "device is not available", se.Message)

	err = DoJSON(ctx, srv.Client(), http.MethodGet, srv.URL+"/missing", "", nil, nil)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusGone, se.Code)
	assert.Equal(t, "gone", se.Message)
}
