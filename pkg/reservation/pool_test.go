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

package reservation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/usbipice/pkg/models"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	require.ErrorIs(t, cfg.Validate(), ErrHostRequired)

	cfg = Config{Host: "db"}
	require.ErrorIs(t, cfg.Validate(), ErrDatabaseRequired)

	cfg = Config{Host: "db", Database: "usbipice"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "usbipice", cfg.ApplicationName)

	cfg = Config{URL: "postgres://db/usbipice"}
	require.NoError(t, cfg.Validate())
}

func TestBuildConnURL(t *testing.T) {
	t.Parallel()

	tls := &models.TLSConfig{CertFile: "client.crt", KeyFile: "client.key", CAFile: "ca.crt"}

	tests := []struct {
		name    string
		cfg     Config
		sslMode string
		err     error
	}{
		{name: "defaults to disable", cfg: Config{Host: "db", Database: "usbipice"}, sslMode: "disable"},
		{name: "tls defaults to verify-full", cfg: Config{Host: "db", Database: "usbipice", TLS: tls}, sslMode: "verify-full"},
		{name: "explicit mode kept", cfg: Config{Host: "db", Database: "usbipice", SSLMode: "require"}, sslMode: "require"},
		{name: "tls with disable rejected", cfg: Config{Host: "db", Database: "usbipice", SSLMode: "disable", TLS: tls}, err: ErrTLSDisabled},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			u, err := buildConnURL(&tc.cfg)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.sslMode, u.Query().Get("sslmode"))
			assert.Equal(t, "db:5432", u.Host)
			assert.Equal(t, "/usbipice", u.Path)
		})
	}
}

func TestBuildConnURLCredentials(t *testing.T) {
	t.Parallel()

	u, err := buildConnURL(&Config{Host: "db", Port: 6432, Database: "usbipice", Username: "ice", Password: "s3cret"})
	require.NoError(t, err)

	pw, ok := u.User.Password()
	assert.True(t, ok)
	assert.Equal(t, "s3cret", pw)
	assert.Equal(t, "ice", u.User.Username())
	assert.Equal(t, "db:6432", u.Host)
}

func TestPoolConfig(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		URL:              "postgres://ice@db:5432/usbipice?sslmode=disable",
		MaxConnections:   8,
		StatementTimeout: models.Duration(2 * time.Second),
		ExtraRuntimeParams: map[string]string{
			"search_path": "usbipice",
			"":            "ignored",
		},
	}

	pc, err := poolConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, int32(8), pc.MaxConns)
	assert.Equal(t, "2000", pc.ConnConfig.RuntimeParams["statement_timeout"])
	assert.Equal(t, "usbipice", pc.ConnConfig.RuntimeParams["search_path"])
	assert.NotContains(t, pc.ConnConfig.RuntimeParams, "")
	assert.Equal(t, "db", pc.ConnConfig.Host)
}

func TestBuildTLSConfigRequiresFiles(t *testing.T) {
	t.Parallel()

	cfg, err := buildTLSConfig(&Config{})
	require.NoError(t, err)
	assert.Nil(t, cfg)

	_, err = buildTLSConfig(&Config{TLS: &models.TLSConfig{CertFile: "client.crt"}})
	require.ErrorIs(t, err, ErrTLSFilesRequired)

	_, err = buildTLSConfig(&Config{CertDir: t.TempDir(), TLS: &models.TLSConfig{
		CertFile: "client.crt", KeyFile: "client.key", CAFile: "ca.crt",
	}})
	require.Error(t, err)
}
