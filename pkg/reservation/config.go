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

import "github.com/carverauto/usbipice/pkg/models"

// Config describes how to reach the reservation database. URL, when set,
// is used verbatim and the discrete connection fields are ignored.
type Config struct {
	URL string `json:"url,omitempty"`

	Host            string `json:"host"`
	Port            int    `json:"port"`
	Database        string `json:"database"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	SSLMode         string `json:"ssl_mode"`
	ApplicationName string `json:"application_name"`

	MaxConnections    int32           `json:"max_connections"`
	MinConnections    int32           `json:"min_connections"`
	MaxConnLifetime   models.Duration `json:"max_conn_lifetime"`
	HealthCheckPeriod models.Duration `json:"health_check_period"`
	StatementTimeout  models.Duration `json:"statement_timeout"`

	ExtraRuntimeParams map[string]string `json:"extra_runtime_params,omitempty"`

	CertDir string            `json:"cert_dir,omitempty"`
	TLS     *models.TLSConfig `json:"tls,omitempty"`
}

// Validate checks that a database is named and fills defaults.
func (c *Config) Validate() error {
	if c.URL != "" {
		return nil
	}

	if c.Host == "" {
		return ErrHostRequired
	}

	if c.Database == "" {
		return ErrDatabaseRequired
	}

	if c.Port == 0 {
		c.Port = 5432
	}

	if c.ApplicationName == "" {
		c.ApplicationName = "usbipice"
	}

	return nil
}
