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

import (
	"encoding/json"
	"fmt"
)

// Request kinds an owner may send for a reserved device.
const (
	RequestFlash  = "flash"
	RequestUnbind = "unbind"
)

// FlashRequest carries a firmware image. JSON encodes Firmware as base64.
type FlashRequest struct {
	Firmware []byte `json:"firmware"`
}

// DecodeFlashRequest extracts the image from a flash request body.
func DecodeFlashRequest(contents []byte) ([]byte, error) {
	var req FlashRequest

	if err := json.Unmarshal(contents, &req); err != nil {
		return nil, fmt.Errorf("decode flash request: %w", err)
	}

	if len(req.Firmware) == 0 {
		return nil, ErrEmptyFirmware
	}

	return req.Firmware, nil
}
