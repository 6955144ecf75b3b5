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

package models

import "errors"

var (
	// ErrInvalidDuration is returned when a JSON duration is neither a string nor a number.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrUnknownEventKind is returned when an event carries a kind outside the known set.
	ErrUnknownEventKind = errors.New("unknown event kind")
	// ErrMissingSerial is returned for events and requests without a device serial.
	ErrMissingSerial = errors.New("serial is required")

	errNATSURLRequired = errors.New("nats url is required")
)
