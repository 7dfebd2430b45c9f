// Package pubsub carries committed events between server instances so that every
// instance can rebroadcast them to its own connected clients.
package pubsub

import (
	"context"
	"sync"

	model "auction-stream/internal/models"
)

// Channel forwards events to peer instances
type Channel interface {
	Publish(ctx context.Context, event model.Event) error
	// Subscribe registers handler for events published by any instance. It returns once the
	// subscription is active; handler runs until ctx is cancelled or the channel is closed.
	Subscribe(ctx context.Context, handler func(model.Event)) error
	Close() error
}

// LocalChannel is an in-process Channel. A single instance uses it as a loopback, and
// several hubs in one process can share it to behave like separate instances.
type LocalChannel struct {
	mu       sync.RWMutex
	handlers []func(model.Event)
	closed   bool
}

func NewLocalChannel() *LocalChannel {
	return &LocalChannel{}
}

// Publish calls every subscribed handler synchronously
func (c *LocalChannel) Publish(ctx context.Context, event model.Event) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil
	}
	handlers := make([]func(model.Event), len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}

func (c *LocalChannel) Subscribe(ctx context.Context, handler func(model.Event)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
	return nil
}

func (c *LocalChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.handlers = nil
	return nil
}
