// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"

	"github.com/shineum/groupmail/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// A provider opens one Session per run; every message of the run goes
// through that session.
type Provider interface {
	// Open connects and authenticates. An error here means nothing can be
	// sent during this run.
	Open(ctx context.Context) (Session, error)

	// Name returns the human-readable name of this provider.
	Name() string
}

// Session is an open, authenticated transport.
type Session interface {
	// Send delivers one message. A failed send does not invalidate the
	// session for later messages.
	Send(ctx context.Context, msg *email.Email) error

	// Close releases the session.
	Close() error
}

// NopCloser turns a send function into a Session whose Close does nothing.
// Stateless API transports use it.
type NopCloser func(ctx context.Context, msg *email.Email) error

// Send calls f.
func (f NopCloser) Send(ctx context.Context, msg *email.Email) error {
	return f(ctx, msg)
}

// Close implements Session.
func (NopCloser) Close() error {
	return nil
}
