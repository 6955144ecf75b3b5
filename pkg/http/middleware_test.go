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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/usbipice/pkg/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	handler := APIKeyMiddlewareWithOptions(APIKeyOptions{
		APIKey:          "test-key",
		ExcludePaths:    []string{"/events"},
		LogUnauthorized: true,
		Logger:          logger.NewTestLogger(),
	})(okHandler())

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"missing key", "/reserve", "", http.StatusUnauthorized},
		{"wrong key", "/reserve", "nope", http.StatusUnauthorized},
		{"header key", "/reserve", "test-key", http.StatusOK},
		{"query key", "/reserve?api_key=test-key", "", http.StatusOK},
		{"excluded path", "/events", "", http.StatusOK},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, tc.target, http.NoBody)
			if tc.header != "" {
				req.Header.Set("X-API-Key", tc.header)
			}

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tc.want, rr.Code)
		})
	}
}

func TestAPIKeyMiddlewareDisabled(t *testing.T) {
	t.Parallel()

	handler := APIKeyMiddlewareWithOptions(APIKeyOptions{})(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRecovererAndLogger(t *testing.T) {
	t.Parallel()

	log := logger.NewTestLogger()
	handler := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), RequestLogger(log), Recoverer(log))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "Internal server error")
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	var dst struct {
		Serial string `json:"serial"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"serial":"ABC123"}`))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, &dst, 0))
	assert.Equal(t, "ABC123", dst.Serial)

	req = httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	require.ErrorIs(t, DecodeJSON(httptest.NewRecorder(), req, &dst, 0), ErrEmptyBody)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"serial":"ABC123"}`))
	require.Error(t, DecodeJSON(httptest.NewRecorder(), req, &dst, 4))
}
