// Package events broadcasts valve and panel events in-process. Delivery is
// asynchronous: each subscriber runs on its own goroutine, so a slow MQTT
// publish never holds the pin lock.
package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers of its type.
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case ValveEvent:
		event.Publish(b.dispatcher, e)
	case PanelEvent:
		event.Publish(b.dispatcher, e)
	}
}

// OnValve subscribes to valve events. It returns the unsubscribe function.
func (b *Bus) OnValve(fn func(ValveEvent)) func() {
	return event.Subscribe(b.dispatcher, fn)
}

// OnPanel subscribes to panel events. It returns the unsubscribe function.
func (b *Bus) OnPanel(fn func(PanelEvent)) func() {
	return event.Subscribe(b.dispatcher, fn)
}

// Close stops delivery to all subscribers.
func (b *Bus) Close() error {
	return b.dispatcher.Close()
}
