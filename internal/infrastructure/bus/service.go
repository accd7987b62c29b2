// Package bus implements the in-process event bus the engine adapter
// publishes invoice and custom-message events on.
package bus

import (
	"sync"

	"github.com/blixtwallet/blixtd/internal/core/ports"
	"github.com/sirupsen/logrus"
)

type service struct {
	mu       sync.RWMutex
	closed   bool
	nextID   int
	handlers map[string]map[int]func(ports.BusEvent)
}

func NewService() ports.EventBus {
	return &service{
		handlers: make(map[string]map[int]func(ports.BusEvent)),
	}
}

// Publish delivers the event to every subscriber of the topic, synchronously
// and in registration order. A panicking handler is recovered and logged so
// it cannot take down the publisher or starve other subscribers.
func (s *service) Publish(topic string, event ports.BusEvent) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	handlers := make([]func(ports.BusEvent), 0, len(s.handlers[topic]))
	for _, handler := range s.handlers[topic] {
		handlers = append(handlers, handler)
	}
	s.mu.RUnlock()

	for _, handler := range handlers {
		s.dispatch(topic, handler, event)
	}
}

func (s *service) Subscribe(topic string, handler func(ports.BusEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return func() {}
	}

	id := s.nextID
	s.nextID++
	if s.handlers[topic] == nil {
		s.handlers[topic] = make(map[int]func(ports.BusEvent))
	}
	s.handlers[topic][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.handlers[topic], id)
		})
	}
}

func (s *service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.handlers = make(map[string]map[int]func(ports.BusEvent))
}

func (s *service) dispatch(topic string, handler func(ports.BusEvent), event ports.BusEvent) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("topic", topic).Errorf("recovered from panic in event handler: %v", r)
		}
	}()
	handler(event)
}
