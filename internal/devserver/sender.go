package devserver

import (
	"context"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"golang.org/x/time/rate"

	"pushbridge/internal/platform"
	logx "pushbridge/pkg/logx"
)

// Sender pushes payloads to every stored subscription. Deliveries are rate
// limited and dead subscriptions (404/410 from the push service) are pruned.
type Sender struct {
	store   *Store
	log     logx.Logger
	limiter *rate.Limiter

	subscriber string
	vapidPub   string
	vapidPriv  string
	ttl        int
}

func NewSender(store *Store, subscriber, vapidPub, vapidPriv string, ttl, ratePerSec int, log logx.Logger) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	if ttl <= 0 {
		ttl = 3600
	}
	return &Sender{
		store:      store,
		log:        log,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		subscriber: subscriber,
		vapidPub:   vapidPub,
		vapidPriv:  vapidPriv,
		ttl:        ttl,
	}
}

// Broadcast sends payload to all subscriptions. It returns how many pushes
// were accepted and how many dead subscriptions were removed. Individual
// delivery failures are logged, not fatal.
func (s *Sender) Broadcast(ctx context.Context, payload []byte) (sent, pruned int, err error) {
	subs, err := s.store.Subscriptions(ctx)
	if err != nil {
		return 0, 0, err
	}
	for i := range subs {
		if err := s.limiter.Wait(ctx); err != nil {
			return sent, pruned, err
		}
		ok, gone := s.sendOne(ctx, &subs[i], payload)
		if ok {
			sent++
			continue
		}
		if gone {
			removed, err := s.store.RemoveSubscription(ctx, subs[i].Endpoint)
			if err != nil {
				s.log.Warn("prune failed", logx.String("endpoint", subs[i].Endpoint), logx.Err(err))
				continue
			}
			if removed {
				pruned++
				s.log.Info("pruned dead subscription", logx.String("endpoint", subs[i].Endpoint))
			}
		}
	}
	return sent, pruned, nil
}

// sendOne reports whether the push was accepted, and whether the push service
// declared the subscription gone (404/410).
func (s *Sender) sendOne(ctx context.Context, sub *platform.Subscription, payload []byte) (ok, gone bool) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.vapidPub,
		VAPIDPrivateKey: s.vapidPriv,
		TTL:             s.ttl,
	})
	if err != nil {
		s.log.Warn("push send failed", logx.String("endpoint", sub.Endpoint), logx.Err(err))
		return false, false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, false
	}
	s.log.Warn("push rejected",
		logx.String("endpoint", sub.Endpoint),
		logx.Int("status", resp.StatusCode),
	)
	return false, resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone
}
