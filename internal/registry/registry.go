// Package registry keeps the channels of an application keyed by id.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/omochice/realtime-channel/internal/channel"
)

// ErrClosed is returned by Open after Close.
var ErrClosed = errors.New("registry: closed")

// Factory creates the channel for id.
type Factory func(id string) (channel.Channel, error)

// Registry is a keyed cache of channel instances. It is constructed by the
// composition root and passed to whatever needs channel lookups.
type Registry struct {
	factory Factory

	mu       sync.RWMutex
	channels map[string]channel.Channel
	closed   bool
}

// New creates an empty registry building channels with factory.
func New(factory Factory) *Registry {
	return &Registry{
		factory:  factory,
		channels: make(map[string]channel.Channel),
	}
}

// Open returns the channel for id, creating it on first use.
func (r *Registry) Open(id string) (channel.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if ch, ok := r.channels[id]; ok {
		return ch, nil
	}
	ch, err := r.factory(id)
	if err != nil {
		return nil, fmt.Errorf("open channel %q: %w", id, err)
	}
	r.channels[id] = ch
	return ch, nil
}

// Get returns the channel for id if it was opened.
func (r *Registry) Get(id string) (channel.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// Remove disposes the channel for id and forgets it.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	ch, ok := r.channels[id]
	delete(r.channels, id)
	r.mu.Unlock()

	if ok {
		ch.Dispose()
	}
	return ok
}

// IDs returns the ids of all open channels in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns number of open channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Close disposes every channel. Later calls to Open fail with ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	channels := r.channels
	r.channels = make(map[string]channel.Channel)
	r.closed = true
	r.mu.Unlock()

	var g errgroup.Group
	for _, ch := range channels {
		ch := ch
		g.Go(func() error {
			ch.Dispose()
			return nil
		})
	}
	return g.Wait()
}
