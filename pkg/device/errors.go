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

package device

import "errors"

var (
	// ErrUnknownDevice is returned for serials the manager has never seen.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrNotOwner is returned when a request comes from someone other than the device owner.
	ErrNotOwner = errors.New("requester does not own the device")
	// ErrUnknownRequest is returned for request kinds the device does not handle.
	ErrUnknownRequest = errors.New("unknown request")
	// ErrEmptyFirmware is returned for firmware images with no bytes.
	ErrEmptyFirmware = errors.New("firmware image is empty")
	// ErrVerifyTimeout is recorded when a flashed device never confirmed its firmware.
	ErrVerifyTimeout = errors.New("firmware verification window expired")
	// ErrStopped is returned once the manager is shutting down.
	ErrStopped = errors.New("device manager stopped")
)
