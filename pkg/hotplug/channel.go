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

package hotplug

import (
	"context"
	"sync"
)

// ChannelSource is an in-process Source fed through Inject. It backs replay
// tooling and tests.
type ChannelSource struct {
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
}

// NewChannelSource creates a source with the given queue depth.
func NewChannelSource(size int) *ChannelSource {
	return &ChannelSource{
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
}

// Events implements Source.
func (c *ChannelSource) Events() <-chan Event { return c.events }

// Start implements Source.
func (*ChannelSource) Start(_ context.Context) error { return nil }

// Inject queues an event. It returns false once the source is closed.
func (c *ChannelSource) Inject(ctx context.Context, ev Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close implements Source.
func (c *ChannelSource) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		close(c.events)
		c.mu.Unlock()
	})

	return nil
}
