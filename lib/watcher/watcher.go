/*
Copyright 2025 Drover, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package watcher implements the typed notification pool. Delivery is
// synchronous and best-effort: a failing watcher is logged and does not
// prevent delivery to the others.
package watcher

import (
	"sync"

	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/registry"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// Handler consumes one notification. The pool reference lets watchers reach
// the owner's resources and publish follow-up notifications.
type Handler func(pool *Pool, notification Notification, origin string) error

// Watcher subscribes to typed notifications through a handler map
type Watcher interface {
	// Name identifies the watcher in logs and for removal
	Name() string
	// Handlers maps notification types to handlers
	Handlers() map[string]Handler
}

// FallbackHandler is implemented by watchers that also want notifications
// of types their handler map does not name
type FallbackHandler interface {
	// HandleAny consumes a notification of an unmapped type
	HandleAny(pool *Pool, notification Notification, origin string) error
}

// Owner gives watchers access to the owning process's state
type Owner interface {
	// Resources returns the owner's resource registry
	Resources() *registry.Registry
}

// Config configures the notification pool
type Config struct {
	// Owner is the owning server or worker process, optional
	Owner Owner
	// FieldLogger is used for logging
	FieldLogger logrus.FieldLogger
}

// CheckAndSetDefaults validates the config and fills in defaults
func (c *Config) CheckAndSetDefaults() error {
	if c.FieldLogger == nil {
		c.FieldLogger = logrus.WithField(trace.Component, constants.ComponentWatcher)
	}
	return nil
}

// Pool fans typed notifications out to subscribed watchers
type Pool struct {
	logrus.FieldLogger
	config Config

	mu       sync.Mutex
	watchers []Watcher
}

// New returns an empty notification pool
func New(config Config) (*Pool, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Pool{
		FieldLogger: config.FieldLogger,
		config:      config,
	}, nil
}

// Owner returns the owning process handle, nil when the pool is detached
func (p *Pool) Owner() Owner {
	return p.config.Owner
}

// Add subscribes the watcher
func (p *Pool) Add(watcher Watcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchers = append(p.watchers, watcher)
	p.Debugf("Added watcher %q.", watcher.Name())
}

// Remove unsubscribes the named watcher
func (p *Pool) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, watcher := range p.watchers {
		if watcher.Name() == name {
			p.watchers = append(p.watchers[:i], p.watchers[i+1:]...)
			p.Debugf("Removed watcher %q.", name)
			return
		}
	}
}

// NotifyAll delivers the notification to every watcher, dispatching through
// each watcher's handler map and fallback
func (p *Pool) NotifyAll(notification Notification, origin string) {
	p.notify(notification, notification.NotificationType(), origin)
}

// NotifyOfType delivers the notification through handlers registered for the
// given type instead of the notification's own type
func (p *Pool) NotifyOfType(notification Notification, notificationType, origin string) {
	p.notify(notification, notificationType, origin)
}

func (p *Pool) notify(notification Notification, notificationType, origin string) {
	p.mu.Lock()
	watchers := make([]Watcher, len(p.watchers))
	copy(watchers, p.watchers)
	p.mu.Unlock()

	for _, watcher := range watchers {
		handler, mapped := watcher.Handlers()[notificationType]
		if !mapped {
			fallback, hasFallback := watcher.(FallbackHandler)
			if !hasFallback {
				continue
			}
			handler = fallback.HandleAny
		}
		if err := handler(p, notification, origin); err != nil {
			p.WithFields(logrus.Fields{
				"watcher":      watcher.Name(),
				"notification": notificationType,
				logrus.ErrorKey: err,
			}).Warn("Watcher failed to handle notification.")
		}
	}
}
