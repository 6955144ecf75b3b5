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

import "errors"

var (
	// Configuration.

	ErrHostRequired     = errors.New("database host is required")
	ErrDatabaseRequired = errors.New("database name is required")
	ErrTLSFilesRequired = errors.New("database tls: cert_file, key_file, and ca_file are required")
	ErrTLSDisabled      = errors.New("database tls configured but ssl_mode is disable")
	ErrCAParsingFailed  = errors.New("database tls: unable to append CA certificate")

	// Operations.

	ErrFailedToQuery = errors.New("failed to query")
	ErrFailedToScan  = errors.New("failed to scan")
	ErrFailedToExec  = errors.New("failed to execute")
	ErrInvalidAmount = errors.New("reservation amount must be positive")
)
