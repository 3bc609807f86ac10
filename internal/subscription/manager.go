// Package subscription implements the foreground half of pushbridge: worker
// registration, permission negotiation, and the subscribe/unsubscribe
// handshake with the application server.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pushbridge/internal/eventbus"
	"pushbridge/internal/platform"
	logx "pushbridge/pkg/logx"
	"pushbridge/pkg/vapid"
)

// ErrWorkersUnsupported is returned by Enable when the platform has no
// background worker support. RegisterWorker itself reports that condition
// as (nil, nil) because for probing callers it is a capability check, not a
// failure.
var ErrWorkersUnsupported = errors.New("background workers are not supported on this platform")

// Reporter is the server-side half of the handshake (implemented by
// serverapi.Client).
type Reporter interface {
	Subscribe(ctx context.Context, sub *platform.Subscription) error
	Unsubscribe(ctx context.Context, sub *platform.Subscription) error
}

// Manager orchestrates the subscription lifecycle.
//
// It holds no durable state of its own: the subscription is owned and
// persisted by the platform, the server keeps its own copy, and the manager
// only remembers the worker registration handle for the current process.
type Manager struct {
	capability platform.Capability
	reporter   Reporter
	scriptPath string

	log logx.Logger
	bus eventbus.Bus

	mu  sync.Mutex
	reg platform.Registration
}

func NewManager(capability platform.Capability, reporter Reporter, scriptPath string, log logx.Logger, bus eventbus.Bus) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		capability: capability,
		reporter:   reporter,
		scriptPath: scriptPath,
		log:        log,
		bus:        bus,
	}
}

// RegisterWorker idempotently registers the background worker. It returns
// (nil, nil) when the platform lacks worker support; callers branch on nil.
func (m *Manager) RegisterWorker(ctx context.Context) (platform.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registerLocked(ctx)
}

func (m *Manager) registerLocked(ctx context.Context) (platform.Registration, error) {
	if m.reg != nil {
		return m.reg, nil
	}
	reg, err := m.capability.Register(ctx, m.scriptPath)
	if err != nil {
		return nil, fmt.Errorf("register worker: %w", err)
	}
	if reg == nil {
		m.log.Debug("platform has no worker support", logx.String("script", m.scriptPath))
		return nil, nil
	}
	m.reg = reg
	m.log.Debug("worker registered", logx.String("script", m.scriptPath))
	return reg, nil
}

// Enable runs the full activation sequence and returns true only after the
// server acknowledged the subscription.
//
// Repeated calls are idempotent: an existing subscription is reused, never
// duplicated, and the same credential is posted again.
func (m *Manager) Enable(ctx context.Context, vapidPublicKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, err := m.registerLocked(ctx)
	if err != nil {
		return false, err
	}
	if reg == nil {
		return false, ErrWorkersUnsupported
	}

	perm, err := m.capability.RequestPermission(ctx)
	if err != nil {
		return false, fmt.Errorf("request permission: %w", err)
	}
	if perm != platform.PermissionGranted {
		// "default" means the platform dismissed the prompt without a user
		// decision; both outcomes deny the enable flow.
		return false, fmt.Errorf("%w (state %q)", platform.ErrPermissionDenied, perm)
	}

	sub, err := reg.Subscription(ctx)
	if err != nil {
		return false, fmt.Errorf("look up subscription: %w", err)
	}
	if sub == nil {
		key, err := vapid.DecodePublicKey(vapidPublicKey)
		if err != nil {
			return false, fmt.Errorf("application server key: %w", err)
		}
		sub, err = reg.Subscribe(ctx, platform.SubscribeOptions{
			UserVisibleOnly:      true,
			ApplicationServerKey: key,
		})
		if err != nil {
			return false, fmt.Errorf("subscribe: %w", err)
		}
		m.log.Info("push subscription created", logx.String("endpoint", sub.Endpoint))
	} else {
		m.log.Debug("reusing existing push subscription", logx.String("endpoint", sub.Endpoint))
	}

	if err := m.reporter.Subscribe(ctx, sub); err != nil {
		return false, err
	}

	m.publish("subscription.enabled", sub.Endpoint)
	return true, nil
}

// Disable revokes the current subscription. Nothing to undo (no worker, no
// subscription) is a trivial success, not an error.
//
// Ordering matters: the server is notified first, and only a server ack is
// followed by the platform-level revoke. A failed server call propagates and
// leaves the subscription intact for retry.
func (m *Manager) Disable(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reg == nil {
		return true, nil
	}

	sub, err := m.reg.Subscription(ctx)
	if err != nil {
		return false, fmt.Errorf("look up subscription: %w", err)
	}
	if sub == nil {
		return true, nil
	}

	if err := m.reporter.Unsubscribe(ctx, sub); err != nil {
		return false, err
	}

	if _, err := m.reg.Unsubscribe(ctx); err != nil {
		return false, fmt.Errorf("revoke subscription: %w", err)
	}

	m.log.Info("push subscription revoked", logx.String("endpoint", sub.Endpoint))
	m.publish("subscription.disabled", sub.Endpoint)
	return true, nil
}

func (m *Manager) publish(typ, endpoint string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Type: typ, Data: map[string]any{"endpoint": endpoint}})
}
