// Package platform abstracts the host push/notification system.
//
// pushbridge only owns the orchestration above these interfaces; subscription
// issuance, notification rendering, and window management belong to the host
// platform (a browser engine, a webview shell, or the bundled local host in
// internal/platform/local). Implementations decide how much of the surface
// they support; absence of a whole capability is signaled, not errored.
package platform

import (
	"context"
	"errors"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// Subscription is the platform-issued push credential. It serializes to the
// standard PushSubscription wire shape: {endpoint, keys:{p256dh, auth}}.
//
// The platform owns and persists the credential; pushbridge only holds a
// transient reference.
type Subscription = webpush.Subscription

// Keys is the subscription key material (p256dh public key + auth secret).
type Keys = webpush.Keys

// Permission is the user's notification permission state.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

var (
	// ErrPermissionDenied is returned when the user (or the platform, silently)
	// refuses notification permission.
	ErrPermissionDenied = errors.New("notification permission denied")

	// ErrOpenUnsupported is returned by WindowList implementations that cannot
	// open new windows.
	ErrOpenUnsupported = errors.New("opening windows is not supported")
)

// Capability is the foreground entry point into the platform push system.
type Capability interface {
	// Register idempotently registers the background worker identified by
	// scriptPath. A (nil, nil) return means the platform has no worker
	// support at all; callers must branch on nil rather than treat absence
	// as a failure.
	Register(ctx context.Context, scriptPath string) (Registration, error)

	// RequestPermission prompts for notification permission (or returns the
	// remembered decision without prompting).
	RequestPermission(ctx context.Context) (Permission, error)
}

// SubscribeOptions mirror the platform subscribe call.
type SubscribeOptions struct {
	// UserVisibleOnly promises every push produces a user-visible notification.
	UserVisibleOnly bool

	// ApplicationServerKey is the decoded VAPID public key (65-byte
	// uncompressed P-256 point) identifying the sending server.
	ApplicationServerKey []byte
}

// Registration is a registered background worker.
//
// Invariant: at most one active subscription per registration. Subscribe on a
// registration that already holds one returns the existing credential
// unchanged.
type Registration interface {
	// Subscription returns the current subscription, or nil when none exists.
	Subscription(ctx context.Context) (*Subscription, error)

	// Subscribe creates a push subscription (or returns the existing one).
	Subscribe(ctx context.Context, opts SubscribeOptions) (*Subscription, error)

	// Unsubscribe revokes the current subscription at the platform level.
	// It reports false when there was nothing to revoke.
	Unsubscribe(ctx context.Context) (bool, error)
}

// Notification is the ephemeral OS notification record built per push event.
type Notification struct {
	Title string
	Body  string
	Icon  string
	Badge string
	Data  map[string]any
}

// Presenter renders notifications through the OS notification UI.
//
// Show must not return before the notification is committed to the OS; the
// worker runtime relies on that to keep the push invocation alive long enough
// (the waitUntil contract).
type Presenter interface {
	// Show displays the notification and returns a platform handle for it.
	Show(ctx context.Context, n Notification) (uint32, error)

	// Close dismisses a previously shown notification.
	Close(ctx context.Context, id uint32) error

	// Clicks delivers handles of notifications the user activated.
	// The channel is closed when the presenter shuts down.
	Clicks() <-chan uint32
}

// WindowClient is an open application window known to the platform.
type WindowClient interface {
	URL() string
	Focus(ctx context.Context) error
}

// WindowList enumerates and opens application windows.
type WindowList interface {
	// MatchAll returns open window clients. With includeUncontrolled it also
	// returns windows not claimed by the current worker.
	MatchAll(ctx context.Context, includeUncontrolled bool) ([]WindowClient, error)

	// ClaimAll puts every open window under the current worker's control
	// without requiring a reload.
	ClaimAll(ctx context.Context) error

	// OpenWindow opens a new window at url. Implementations without that
	// ability return ErrOpenUnsupported.
	OpenWindow(ctx context.Context, url string) (WindowClient, error)

	// CanOpen reports whether OpenWindow is available.
	CanOpen() bool
}
