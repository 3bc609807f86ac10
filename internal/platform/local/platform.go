// Package local is the bundled platform host: a loopback push service,
// persistent subscription keys, and payload decryption. It lets pushbridge
// run on plain Go hosts (kiosks, webview shells, headless agents) where no
// browser engine provides the push plumbing.
package local

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"pushbridge/internal/platform"
	logx "pushbridge/pkg/logx"
)

// Worker is the slice of the worker runtime the host drives: activation at
// registration time and push dispatch on delivery.
type Worker interface {
	Install(ctx context.Context) error
	HandlePush(ctx context.Context, raw []byte) error
}

type Config struct {
	// Addr is the receiver listen address, e.g. "127.0.0.1:8423".
	Addr string

	// ProfilePath is the sqlite file holding keys and the subscription.
	ProfilePath string

	// Permission is the fixed permission decision this host hands out.
	// Empty defaults to granted; a kiosk host has no user to prompt.
	Permission platform.Permission
}

// Host implements platform.Capability on top of the embedded receiver.
type Host struct {
	cfg     Config
	log     logx.Logger
	worker  Worker
	profile *profileStore
	rcv     *receiver

	mu  sync.Mutex
	reg *registration
}

func NewHost(cfg Config, worker Worker, log logx.Logger) (*Host, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if worker == nil {
		return nil, fmt.Errorf("local host requires a worker")
	}
	profile, err := openProfile(cfg.ProfilePath, log)
	if err != nil {
		return nil, fmt.Errorf("open profile: %w", err)
	}
	h := &Host{cfg: cfg, log: log, worker: worker, profile: profile}
	h.rcv = newReceiver(cfg.Addr, h.deliver, log)
	return h, nil
}

// Start brings up the receiver. Must be called before Subscribe so endpoint
// URLs carry a real address.
func (h *Host) Start(ctx context.Context) error {
	return h.rcv.Start(ctx)
}

func (h *Host) Stop(ctx context.Context) error {
	h.rcv.Stop(ctx)
	return h.profile.Close()
}

// Addr reports the receiver's actual listen address.
func (h *Host) Addr() string { return h.rcv.Addr() }

// Register activates the worker and returns the host's single registration.
func (h *Host) Register(ctx context.Context, scriptPath string) (platform.Registration, error) {
	h.mu.Lock()
	if h.reg != nil {
		reg := h.reg
		h.mu.Unlock()
		return reg, nil
	}
	h.mu.Unlock()

	// The local host has no script to fetch; installing the runtime is the
	// whole of worker activation.
	if err := h.worker.Install(ctx); err != nil {
		return nil, fmt.Errorf("install worker %q: %w", scriptPath, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reg == nil {
		h.reg = &registration{host: h}
	}
	return h.reg, nil
}

func (h *Host) RequestPermission(ctx context.Context) (platform.Permission, error) {
	if h.cfg.Permission == "" {
		return platform.PermissionGranted, nil
	}
	return h.cfg.Permission, nil
}

// deliver is the receiver callback: token lookup, decrypt, worker dispatch.
// It returns only after the worker handler completes, so cancellation of the
// request context cannot strand a half-displayed notification.
func (h *Host) deliver(ctx context.Context, token string, body []byte) error {
	sub, err := h.profile.Subscription(ctx)
	if err != nil {
		return err
	}
	if sub == nil || sub.EndpointToken != token {
		return errUnknownToken
	}
	keys, err := h.profile.Keys(ctx)
	if err != nil {
		return err
	}
	plain, err := decrypt(keys, body)
	if err != nil {
		return err
	}
	return h.worker.HandlePush(ctx, plain)
}

// registration is the host's single worker registration.
type registration struct {
	host *Host
}

func (r *registration) Subscription(ctx context.Context) (*platform.Subscription, error) {
	stored, err := r.host.profile.Subscription(ctx)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, nil
	}
	return r.host.buildSubscription(ctx, stored)
}

func (r *registration) Subscribe(ctx context.Context, opts platform.SubscribeOptions) (*platform.Subscription, error) {
	h := r.host
	h.mu.Lock()
	defer h.mu.Unlock()

	stored, err := h.profile.Subscription(ctx)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		// Same server key: hand back the existing credential. A different
		// key invalidates the old subscription, so replace it.
		if bytes.Equal(stored.ServerKey, opts.ApplicationServerKey) {
			return h.buildSubscription(ctx, stored)
		}
		if err := h.profile.DeleteSubscription(ctx); err != nil {
			return nil, err
		}
	}

	if len(opts.ApplicationServerKey) > 0 {
		if _, err := ecdhPublicKey(opts.ApplicationServerKey); err != nil {
			return nil, fmt.Errorf("application server key: %w", err)
		}
	}

	next := storedSubscription{
		EndpointToken: uuid.NewString(),
		ServerKey:     opts.ApplicationServerKey,
	}
	if err := h.profile.SaveSubscription(ctx, next); err != nil {
		return nil, err
	}
	h.log.Info("push subscription created", logx.String("token", next.EndpointToken))
	return h.buildSubscription(ctx, &next)
}

func (r *registration) Unsubscribe(ctx context.Context) (bool, error) {
	h := r.host
	h.mu.Lock()
	defer h.mu.Unlock()

	stored, err := h.profile.Subscription(ctx)
	if err != nil {
		return false, err
	}
	if stored == nil {
		return false, nil
	}
	if err := h.profile.DeleteSubscription(ctx); err != nil {
		return false, err
	}
	h.log.Info("push subscription revoked")
	return true, nil
}

func (h *Host) buildSubscription(ctx context.Context, stored *storedSubscription) (*platform.Subscription, error) {
	keys, err := h.profile.Keys(ctx)
	if err != nil {
		return nil, err
	}
	addr := h.rcv.Addr()
	if addr == "" {
		addr = h.cfg.Addr
	}
	return &platform.Subscription{
		Endpoint: fmt.Sprintf("http://%s/push/%s", addr, stored.EndpointToken),
		Keys: platform.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(keys.publicKey()),
			Auth:   base64.RawURLEncoding.EncodeToString(keys.authSecret),
		},
	}, nil
}
