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

package events

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/carverauto/usbipice/pkg/models"
)

// Handler reacts to events of the kinds it lists. An empty Kinds means every kind.
type Handler interface {
	Kinds() []models.EventKind
	HandleEvent(ctx context.Context, ev models.Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	kinds []models.EventKind
	fn    func(ctx context.Context, ev models.Event)
}

// NewHandlerFunc wraps fn for the given kinds.
func NewHandlerFunc(fn func(ctx context.Context, ev models.Event), kinds ...models.EventKind) *HandlerFunc {
	return &HandlerFunc{kinds: kinds, fn: fn}
}

func (h *HandlerFunc) Kinds() []models.EventKind { return h.kinds }

func (h *HandlerFunc) HandleEvent(ctx context.Context, ev models.Event) { h.fn(ctx, ev) }

func accepts(h Handler, kind models.EventKind) bool {
	kinds := h.Kinds()
	if len(kinds) == 0 {
		return true
	}

	for _, k := range kinds {
		if k == kind {
			return true
		}
	}

	return false
}

// AddHandler appends h; handlers run in the order they were added.
func (r *Router) AddHandler(h Handler) {
	r.hmu.Lock()
	defer r.hmu.Unlock()

	r.handlers = append(r.handlers, h)
}

// BroadcastLocal runs every handler registered for ev.Kind in registration
// order. A panicking handler is logged and does not stop the others.
func (r *Router) BroadcastLocal(ctx context.Context, ev models.Event) {
	r.hmu.RLock()
	handlers := make([]Handler, len(r.handlers))
	copy(handlers, r.handlers)
	r.hmu.RUnlock()

	for _, h := range handlers {
		if !accepts(h, ev.Kind) {
			continue
		}

		r.invoke(ctx, h, ev)
	}
}

func (r *Router) invoke(ctx context.Context, h Handler, ev models.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("handler", fmt.Sprintf("%T", h)).
				Str("serial", ev.Serial).
				Str("event", string(ev.Kind)).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("Event handler panicked")
		}
	}()

	h.HandleEvent(ctx, ev)
}
