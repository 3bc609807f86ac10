// Package windows tracks the host application's open windows and implements
// platform.WindowList on top of them.
//
// pushbridge hosts (webview shells, kiosk daemons) register a window when
// they open one and deregister it when it closes. The worker runtime uses
// the registry to focus an existing window on notification click, or to open
// a new one through the desktop URL opener.
package windows

import (
	"context"
	"strings"
	"sync"

	"pushbridge/internal/platform"
	logx "pushbridge/pkg/logx"
)

// FocusFunc raises a host window. A nil FocusFunc makes Focus a no-op (the
// host has no way to raise windows, e.g. a plain browser tab).
type FocusFunc func(ctx context.Context) error

// Window is one registered host window.
type Window struct {
	reg *Registry
	id  uint64

	mu         sync.Mutex
	url        string
	controlled bool
	focus      FocusFunc
}

func (w *Window) URL() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.url
}

// Navigate updates the window's current URL (the host calls this when its
// webview navigates).
func (w *Window) Navigate(url string) {
	w.mu.Lock()
	w.url = url
	w.mu.Unlock()
}

func (w *Window) Focus(ctx context.Context) error {
	w.mu.Lock()
	f := w.focus
	w.mu.Unlock()
	if f == nil {
		return nil
	}
	return f(ctx)
}

// Registry implements platform.WindowList.
type Registry struct {
	log logx.Logger

	// baseURL resolves relative click targets when opening new windows.
	baseURL string

	// open launches a URL in a new window; nil disables OpenWindow.
	open func(url string) error

	mu      sync.Mutex
	seq     uint64
	windows map[uint64]*Window
}

// NewRegistry creates a registry. baseURL prefixes relative URLs handed to
// OpenWindow; pass an empty opener to disable window opening.
func NewRegistry(baseURL string, open func(url string) error, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		log:     log,
		baseURL: strings.TrimRight(baseURL, "/"),
		open:    open,
		windows: map[uint64]*Window{},
	}
}

// Add registers an open host window and returns its handle. Windows start
// uncontrolled until the worker claims them.
func (r *Registry) Add(url string, focus FocusFunc) *Window {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	w := &Window{reg: r, id: r.seq, url: url, focus: focus}
	r.windows[w.id] = w
	return w
}

// Remove deregisters a closed window.
func (r *Registry) Remove(w *Window) {
	if w == nil {
		return
	}
	r.mu.Lock()
	delete(r.windows, w.id)
	r.mu.Unlock()
}

func (r *Registry) MatchAll(_ context.Context, includeUncontrolled bool) ([]platform.WindowClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]platform.WindowClient, 0, len(r.windows))
	for _, w := range r.windows {
		w.mu.Lock()
		controlled := w.controlled
		w.mu.Unlock()
		if controlled || includeUncontrolled {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *Registry) ClaimAll(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.windows {
		w.mu.Lock()
		w.controlled = true
		w.mu.Unlock()
	}
	return nil
}

func (r *Registry) CanOpen() bool { return r.open != nil }

func (r *Registry) OpenWindow(_ context.Context, url string) (platform.WindowClient, error) {
	if r.open == nil {
		return nil, platform.ErrOpenUnsupported
	}

	full := url
	if strings.HasPrefix(url, "/") && r.baseURL != "" {
		full = r.baseURL + url
	}
	if err := r.open(full); err != nil {
		return nil, err
	}
	r.log.Debug("opened window", logx.String("url", full))

	// Track the new window like the platform would; it is controlled from
	// birth since the active worker opened it.
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	w := &Window{reg: r, id: r.seq, url: full, controlled: true}
	r.windows[w.id] = w
	return w, nil
}
