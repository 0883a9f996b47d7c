// Package notify sends desktop notifications through beeep.
package notify

import (
	"github.com/gen2brain/beeep"

	"github.com/ericfisherdev/gitaccounts/internal/domain/port/driven"
)

// Backend is the platform notification call.
type Backend interface {
	Notify(title, message string, icon any) error
}

type desktopBackend struct{}

func (desktopBackend) Notify(title, message string, icon any) error {
	return beeep.Notify(title, message, icon)
}

// Compile-time interface satisfaction check.
var _ driven.Notifier = (*Desktop)(nil)

// Desktop implements driven.Notifier.
type Desktop struct {
	backend Backend
	prefix  string
}

// Option configures a Desktop notifier.
type Option func(*Desktop)

// WithBackend replaces the beeep backend (tests).
func WithBackend(b Backend) Option {
	return func(d *Desktop) { d.backend = b }
}

// New returns a Desktop notifier. Titles are prefixed with "gitaccounts: ".
func New(opts ...Option) *Desktop {
	d := &Desktop{backend: desktopBackend{}, prefix: "gitaccounts: "}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify shows a desktop notification.
func (d *Desktop) Notify(title, message string) error {
	return d.backend.Notify(d.prefix+title, message, "")
}
