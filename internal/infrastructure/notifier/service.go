// Package notifier is the local notification sink. Delivery to the OS or a
// push gateway happens outside the daemon; here a notification is a log line
// plus an optional hook for the embedding application.
package notifier

import (
	"sync"

	"github.com/blixtwallet/blixtd/internal/core/ports"
	"github.com/sirupsen/logrus"
)

type service struct {
	mu   sync.RWMutex
	hook func(title, message string)
}

func NewService() ports.Notifier {
	return &service{}
}

// NewServiceWithHook forwards every notification to hook after logging it.
func NewServiceWithHook(hook func(title, message string)) ports.Notifier {
	return &service{hook: hook}
}

func (s *service) Notify(title, message string) error {
	logrus.WithFields(logrus.Fields{
		"title":   title,
		"message": message,
	}).Info("notification")

	s.mu.RLock()
	hook := s.hook
	s.mu.RUnlock()
	if hook != nil {
		hook(title, message)
	}
	return nil
}
