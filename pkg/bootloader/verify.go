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

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// DefaultSignature is printed by the stock firmware once it is running.
const DefaultSignature = "default firmware"

const maxSignatureScan = 64 * 1024

// Verifier confirms that freshly flashed firmware is running.
type Verifier interface {
	Verify(ctx context.Context, ttyPath string) error
}

// SignatureVerifier reads a tty until a known string appears.
type SignatureVerifier struct {
	Signature string
	Timeout   time.Duration
	// Open defaults to os.Open.
	Open func(path string) (io.ReadCloser, error)
}

// NewSignatureVerifier returns a verifier for signature, or DefaultSignature when empty.
func NewSignatureVerifier(signature string, timeout time.Duration) *SignatureVerifier {
	if signature == "" {
		signature = DefaultSignature
	}

	return &SignatureVerifier{Signature: signature, Timeout: timeout}
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Verify implements Verifier.
func (v *SignatureVerifier) Verify(ctx context.Context, ttyPath string) error {
	open := v.Open
	if open == nil {
		open = func(p string) (io.ReadCloser, error) { return os.Open(p) }
	}

	r, err := open(ttyPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", ttyPath, err)
	}

	if v.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}

	if d, ok := r.(deadliner); ok {
		if deadline, ok := ctx.Deadline(); ok {
			_ = d.SetReadDeadline(deadline)
		}
	}

	found := make(chan error, 1)

	go func() {
		found <- scanFor(r, []byte(v.Signature))
	}()

	select {
	case err = <-found:
		_ = r.Close()
	case <-ctx.Done():
		// Closing unblocks the reader goroutine.
		_ = r.Close()
		<-found

		err = fmt.Errorf("%w: %w", ErrSignatureNotSeen, ctx.Err())
	}

	return err
}

func scanFor(r io.Reader, sig []byte) error {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 512)

	for total := 0; total < maxSignatureScan; {
		n, err := r.Read(chunk)
		total += n
		buf = append(buf, chunk[:n]...)

		if bytes.Contains(buf, sig) {
			return nil
		}

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded) {
				return ErrSignatureNotSeen
			}

			return fmt.Errorf("%w: %w", ErrSignatureNotSeen, err)
		}

		// Keep only enough tail to match across chunk boundaries.
		if keep := len(sig) - 1; len(buf) > keep && keep > 0 {
			buf = append(buf[:0], buf[len(buf)-keep:]...)
		}
	}

	return ErrSignatureNotSeen
}
