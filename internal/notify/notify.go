// Package notify provides OS notification presenters.
//
// The D-Bus presenter (Linux session bus, org.freedesktop.Notifications) is
// the real one; the log presenter serves headless hosts and tests. Both
// satisfy platform.Presenter.
package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"pushbridge/internal/platform"
	logx "pushbridge/pkg/logx"
)

// Presenter extends platform.Presenter with a shutdown hook; implementations
// stop delivering clicks after Close.
type Presenter interface {
	platform.Presenter
	Shutdown() error
}

// NewLog returns a presenter that only logs. Clicks never fire.
func NewLog(log logx.Logger) Presenter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &logPresenter{log: log, clicks: make(chan uint32)}
}

type logPresenter struct {
	log    logx.Logger
	seq    atomic.Uint32
	clicks chan uint32
	once   sync.Once
}

func (p *logPresenter) Show(_ context.Context, n platform.Notification) (uint32, error) {
	id := p.seq.Add(1)
	p.log.Info("notification", logx.Uint64("id", uint64(id)), logx.String("title", n.Title), logx.String("body", n.Body))
	return id, nil
}

func (p *logPresenter) Close(_ context.Context, id uint32) error {
	p.log.Debug("notification closed", logx.Uint64("id", uint64(id)))
	return nil
}

func (p *logPresenter) Clicks() <-chan uint32 { return p.clicks }

func (p *logPresenter) Shutdown() error {
	p.once.Do(func() { close(p.clicks) })
	return nil
}
