package transport

import (
	"context"
	"errors"
)

// RecipientID is an opaque external recipient identifier (phone number, chat id, @username).
// Equality is exact string match; callers supply the canonical form.
type RecipientID string

// ResolvedID is the transport-specific address returned by Resolve.
type ResolvedID string

// Payload is the message delivered to a recipient. When MediaPath is set the
// transport sends the file with Text as its caption.
type Payload struct {
	Text      string
	MediaPath string
}

// ErrRecipientUnknown is returned by Resolve when the transport does not know the identifier.
var ErrRecipientUnknown = errors.New("recipient unknown to transport")

// ErrPartialDelivery is returned by Send when part of a payload reached the
// recipient before a failure. Retrying would duplicate that part.
var ErrPartialDelivery = errors.New("payload partially delivered")

// ErrNotReady is returned when an operation is attempted before the session is usable.
var ErrNotReady = errors.New("transport session not ready")

// Transport is the send capability the campaign core depends on.
type Transport interface {
	// Resolve validates id and returns the address to send to.
	// It returns ErrRecipientUnknown (possibly wrapped) when the id is unknown.
	Resolve(ctx context.Context, id RecipientID) (ResolvedID, error)
	Send(ctx context.Context, to ResolvedID, p Payload) error
}

// Session is a Transport with an explicit two-phase startup:
// AwaitPairing blocks until credentials are established, AwaitReady until the
// session can send.
type Session interface {
	Transport
	AwaitPairing(ctx context.Context) error
	AwaitReady(ctx context.Context) error
	Close(ctx context.Context) error
}
