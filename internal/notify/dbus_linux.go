//go:build linux

package notify

import (
	"context"
	"sync"

	"github.com/godbus/dbus/v5"

	"pushbridge/internal/platform"
	logx "pushbridge/pkg/logx"
)

const (
	dbusNotifyDest      = "org.freedesktop.Notifications"
	dbusNotifyPath      = "/org/freedesktop/Notifications"
	dbusNotifyInterface = "org.freedesktop.Notifications"
)

// New creates a presenter backed by the desktop notification daemon.
// Returns the log presenter if the session bus is unavailable (headless
// hosts, CI), so callers never have to branch.
func New(appName string, log logx.Logger) (Presenter, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	conn, err := dbus.SessionBus()
	if err != nil {
		log.Warn("session bus unavailable; notifications are log-only", logx.Err(err))
		return NewLog(log), nil
	}

	p := &dbusPresenter{
		appName: appName,
		log:     log,
		conn:    conn,
		obj:     conn.Object(dbusNotifyDest, dbusNotifyPath),
		clicks:  make(chan uint32, 16),
		signals: make(chan *dbus.Signal, 32),
	}

	// Clicks arrive as ActionInvoked signals for the "default" action.
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(dbusNotifyPath),
		dbus.WithMatchInterface(dbusNotifyInterface),
	); err != nil {
		_ = conn.Close()
		return nil, err
	}
	conn.Signal(p.signals)
	go p.signalLoop()

	return p, nil
}

type dbusPresenter struct {
	appName string
	log     logx.Logger
	conn    *dbus.Conn
	obj     dbus.BusObject

	clicks  chan uint32
	signals chan *dbus.Signal

	mu   sync.Mutex
	mine map[uint32]struct{}

	once sync.Once
}

func (p *dbusPresenter) Show(_ context.Context, n platform.Notification) (uint32, error) {
	hints := map[string]dbus.Variant{
		"desktop-entry": dbus.MakeVariant(p.appName),
	}

	// D-Bus Notify method signature:
	// Notify(app_name, replaces_id, icon, summary, body, actions, hints, timeout) -> id
	call := p.obj.Call(
		dbusNotifyInterface+".Notify",
		0,
		p.appName,
		uint32(0),
		n.Icon,
		n.Title,
		n.Body,
		[]string{"default", "Open"},
		hints,
		int32(-1), // server default expiry
	)
	if call.Err != nil {
		return 0, call.Err
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return 0, err
	}

	p.mu.Lock()
	if p.mine == nil {
		p.mine = map[uint32]struct{}{}
	}
	p.mine[id] = struct{}{}
	p.mu.Unlock()
	return id, nil
}

func (p *dbusPresenter) Close(_ context.Context, id uint32) error {
	call := p.obj.Call(dbusNotifyInterface+".CloseNotification", 0, id)
	return call.Err
}

func (p *dbusPresenter) Clicks() <-chan uint32 { return p.clicks }

func (p *dbusPresenter) Shutdown() error {
	var err error
	p.once.Do(func() {
		// Closing the connection also closes p.signals; signalLoop then
		// closes the clicks channel so it is never written after close.
		err = p.conn.Close()
	})
	return err
}

func (p *dbusPresenter) signalLoop() {
	defer close(p.clicks)
	for sig := range p.signals {
		switch sig.Name {
		case dbusNotifyInterface + ".ActionInvoked":
			if len(sig.Body) < 2 {
				continue
			}
			id, okID := sig.Body[0].(uint32)
			key, okKey := sig.Body[1].(string)
			if !okID || !okKey || key != "default" {
				continue
			}
			if !p.owns(id) {
				continue
			}
			// Never block the bus reader; a dropped click is better than a
			// wedged signal loop.
			select {
			case p.clicks <- id:
			default:
				p.log.Warn("click dropped (queue full)", logx.Uint64("id", uint64(id)))
			}
		case dbusNotifyInterface + ".NotificationClosed":
			if len(sig.Body) < 1 {
				continue
			}
			if id, ok := sig.Body[0].(uint32); ok {
				p.forget(id)
			}
		}
	}
}

func (p *dbusPresenter) owns(id uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.mine[id]
	return ok
}

func (p *dbusPresenter) forget(id uint32) {
	p.mu.Lock()
	delete(p.mine, id)
	p.mu.Unlock()
}
