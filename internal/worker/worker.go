// Package worker implements the background half of pushbridge: the
// notification handler that receives decrypted push payloads, renders them as
// OS notifications, and routes notification clicks back to an app window.
//
// The handler is an explicit state machine over the worker lifecycle
// (installing -> active -> stopped). Each event is processed to completion
// before the next one starts, and dispatch calls do not return until the
// event's side effects (notification shown, window focused/opened) have been
// committed. That is the Go rendering of the platform's waitUntil contract:
// the host must not tear the worker down while a dispatch is in flight.
package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"pushbridge/internal/eventbus"
	"pushbridge/internal/platform"
	logx "pushbridge/pkg/logx"
)

// State names the worker lifecycle states.
type State string

const (
	StateInstalling State = "installing"
	StateActive     State = "active"
	StateStopped    State = "stopped"
)

// Config carries the fixed notification surface of the app.
type Config struct {
	// DefaultTitle is used when a push payload carries no title (and for
	// malformed payloads).
	DefaultTitle string

	// IconPath and BadgePath are the fixed notification assets.
	IconPath  string
	BadgePath string

	// FallbackURL is the click target when a notification carries no
	// data.url (the app's portal page).
	FallbackURL string
}

func (c Config) withDefaults() Config {
	if c.DefaultTitle == "" {
		c.DefaultTitle = "Pushbridge"
	}
	if c.IconPath == "" {
		c.IconPath = "/static/icons/icon-192.png"
	}
	if c.BadgePath == "" {
		c.BadgePath = "/static/icons/badge-72.png"
	}
	if c.FallbackURL == "" {
		c.FallbackURL = "/portal"
	}
	return c
}

// Runtime is a running worker instance.
type Runtime struct {
	cfg       Config
	presenter platform.Presenter
	windows   platform.WindowList
	log       logx.Logger
	bus       eventbus.Bus

	// mu serializes event processing: the platform dispatches one event at a
	// time and each runs to completion.
	mu    sync.Mutex
	state State

	// shown tracks displayed notifications by presenter handle so a click can
	// recover the pass-through data. Entries die with the notification.
	shown map[uint32]platform.Notification
}

func NewRuntime(cfg Config, presenter platform.Presenter, windows platform.WindowList, log logx.Logger, bus eventbus.Bus) *Runtime {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runtime{
		cfg:       cfg.withDefaults(),
		presenter: presenter,
		windows:   windows,
		log:       log,
		bus:       bus,
		state:     StateInstalling,
		shown:     map[uint32]platform.Notification{},
	}
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Install activates the runtime immediately. There is no staged handoff with
// a previous worker instance: new push-handling logic takes over at once, and
// all open windows are claimed so they are served without a reload.
func (r *Runtime) Install(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateActive {
		return nil
	}

	r.publish("worker.installing", nil)
	r.log.Debug("worker installing")

	if err := r.windows.ClaimAll(ctx); err != nil {
		return fmt.Errorf("claim clients: %w", err)
	}

	r.state = StateActive
	r.publish("worker.active", nil)
	r.log.Info("worker active")
	return nil
}

// Stop marks the runtime stopped. Pending dispatches finish first.
func (r *Runtime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateStopped
}

// HandlePush processes one push event: decode the payload, display the
// notification, remember it for click routing. It returns only after the OS
// notification is committed.
func (r *Runtime) HandlePush(ctx context.Context, raw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateActive {
		return fmt.Errorf("push dispatched in state %q", r.state)
	}

	p := decodePayload(raw)
	r.publish("push.received", map[string]any{"title": p.Title})

	n := platform.Notification{
		Title: p.Title,
		Body:  p.Body,
		Icon:  r.cfg.IconPath,
		Badge: r.cfg.BadgePath,
		Data:  p.Data,
	}
	if n.Title == "" {
		n.Title = r.cfg.DefaultTitle
	}

	id, err := r.presenter.Show(ctx, n)
	if err != nil {
		return fmt.Errorf("show notification: %w", err)
	}
	r.shown[id] = n

	r.publish("notification.displayed", map[string]any{"title": n.Title})
	r.log.Debug("notification displayed", logx.Uint64("id", uint64(id)), logx.String("title", n.Title))
	return nil
}

// HandleClick processes a notification click: close the notification first,
// then focus an open window whose URL contains the target, or open a new one.
func (r *Runtime) HandleClick(ctx context.Context, id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.shown[id]
	delete(r.shown, id)

	// Close before routing; the notification must not linger while we hunt
	// for a window.
	if err := r.presenter.Close(ctx, id); err != nil {
		r.log.Warn("closing notification failed", logx.Uint64("id", uint64(id)), logx.Err(err))
	}
	if !ok {
		// Clicked notification we did not show (e.g. one surviving a restart).
		// Route to the portal as usual.
		n = platform.Notification{}
	}

	target := r.cfg.FallbackURL
	if u, ok := n.Data["url"].(string); ok && u != "" {
		target = u
	}

	// Enumerate every open window, including ones this worker does not
	// control yet.
	clients, err := r.windows.MatchAll(ctx, true)
	if err != nil {
		return fmt.Errorf("enumerate windows: %w", err)
	}
	for _, c := range clients {
		if strings.Contains(c.URL(), target) {
			if err := c.Focus(ctx); err != nil {
				return fmt.Errorf("focus window: %w", err)
			}
			r.publish("click.routed", map[string]any{"url": target, "action": "focused"})
			r.log.Debug("click focused existing window", logx.String("url", target))
			return nil
		}
	}

	if !r.windows.CanOpen() {
		r.log.Debug("no matching window and opening is unsupported", logx.String("url", target))
		return nil
	}
	if _, err := r.windows.OpenWindow(ctx, target); err != nil {
		return fmt.Errorf("open window: %w", err)
	}
	r.publish("click.routed", map[string]any{"url": target, "action": "opened"})
	r.log.Debug("click opened new window", logx.String("url", target))
	return nil
}

// Run consumes presenter click events until ctx is canceled or the presenter
// shuts down. The platform host runs this under its supervisor.
func (r *Runtime) Run(ctx context.Context) error {
	clicks := r.presenter.Clicks()
	for {
		select {
		case <-ctx.Done():
			return nil
		case id, ok := <-clicks:
			if !ok {
				return nil
			}
			if err := r.HandleClick(ctx, id); err != nil {
				r.log.Warn("notification click handling failed", logx.Uint64("id", uint64(id)), logx.Err(err))
			}
		}
	}
}

func (r *Runtime) publish(typ string, data map[string]any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
