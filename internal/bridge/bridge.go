package bridge

import (
	"context"
	"strings"
)

// Client is a live connection to the messaging bridge. The lifecycle
// controller owns starting and stopping it; the delivery worker only sends.
type Client interface {
	// Start begins the asynchronous connect. Lifecycle events are emitted
	// through the callback handed to the Factory, before and after Start
	// returns.
	Start(ctx context.Context) error
	// Stop tears the connection down. Best-effort; callers treat failures
	// as non-fatal.
	Stop(ctx context.Context) error
	// SendText delivers a text message to a canonical destination address
	// and returns the provider-assigned message id when available.
	SendText(ctx context.Context, to, body string) (string, error)
}

// EventKind names the four lifecycle signals a transport emits.
type EventKind string

const (
	EventQR            EventKind = "qr"
	EventAuthenticated EventKind = "authenticated"
	EventReady         EventKind = "ready"
	EventDisconnected  EventKind = "disconnected"
)

// ReasonLogout is the disconnect reason for a remote-initiated logout, the
// only disconnect that marks credentials for deletion.
const ReasonLogout = "LOGOUT"

// Event is one lifecycle signal from a transport.
type Event struct {
	Kind        EventKind
	Code        string // raw pairing code, qr events only
	PhoneNumber string // set on ready when the transport knows it
	Reason      string // disconnect reason
}

// Config carries everything a transport needs to bind one session.
type Config struct {
	SessionID     string
	CredentialDir string
	CacheDir      string
	// BrowserPath is the resolved browser executable for transports driven
	// by browser automation. Native-protocol transports ignore it.
	BrowserPath string
}

// Factory constructs an unstarted client for one session. emit receives
// lifecycle events for the session; it must be safe to call from the
// transport's own goroutines.
type Factory func(cfg Config, emit func(Event)) (Client, error)

const addressSuffix = "@s.whatsapp.net"

// CanonicalAddress appends the service's address-suffix convention to bare
// phone numbers. Addresses that already carry a server part pass through.
func CanonicalAddress(to string) string {
	if strings.Contains(to, "@") {
		return to
	}
	return to + addressSuffix
}
