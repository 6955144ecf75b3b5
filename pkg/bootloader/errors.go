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

package bootloader

import "errors"

var (
	// ErrUnexpectedListing means the mounted filesystem is not a fresh bootloader volume.
	ErrUnexpectedListing = errors.New("mounted volume does not match the bootloader listing")
	// ErrMount wraps mount command failures.
	ErrMount = errors.New("mount failed")
	// ErrUnmount wraps unmount command failures.
	ErrUnmount = errors.New("unmount failed")
	// ErrWrite wraps firmware write failures.
	ErrWrite = errors.New("firmware write failed")
	// ErrSignatureNotSeen is returned when the device never printed its readiness signature.
	ErrSignatureNotSeen = errors.New("readiness signature not seen")
	// ErrTouchUnsupported is returned on platforms without termios support.
	ErrTouchUnsupported = errors.New("1200 baud touch is not supported on this platform")
	errEmptyFirmware    = errors.New("firmware image is empty")
)
