package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	logx "pushbridge/pkg/logx"
)

// expiredDaysKey is the dedup bucket for past-expiry reminders; a document
// only ever produces one "has expired" notification no matter how long it
// stays expired.
const expiredDaysKey = -1

var reminderThresholds = []int{30, 7, 1, 0}

// ReminderJob walks the expiring documents once a day and pushes a reminder
// for every (document, threshold) pair that has not been notified yet.
type ReminderJob struct {
	store  *Store
	sender *Sender
	title  string
	log    logx.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewReminderJob(store *Store, sender *Sender, title string, log logx.Logger) *ReminderJob {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ReminderJob{store: store, sender: sender, title: title, log: log, now: time.Now}
}

// Run performs one reminder sweep. It returns the number of reminders pushed.
func (j *ReminderJob) Run(ctx context.Context) (int, error) {
	docs, err := j.store.Documents(ctx)
	if err != nil {
		return 0, err
	}

	notified := 0
	for _, doc := range docs {
		days := daysUntil(j.now(), doc.ExpiresOn)
		key, body, due := reminderFor(doc.Name, days)
		if !due {
			continue
		}

		sent, err := j.store.ReminderSent(ctx, doc.Name, key)
		if err != nil {
			return notified, err
		}
		if sent {
			continue
		}

		payload, err := json.Marshal(map[string]any{
			"title": j.title,
			"body":  body,
			"data":  map[string]any{"url": "/docs"},
		})
		if err != nil {
			return notified, err
		}

		n, pruned, err := j.sender.Broadcast(ctx, payload)
		if err != nil {
			return notified, err
		}
		if err := j.store.MarkReminderSent(ctx, doc.Name, key); err != nil {
			return notified, err
		}
		notified++
		j.log.Info("reminder sent",
			logx.String("item", doc.Name),
			logx.Int("days_left", key),
			logx.Int("pushed", n),
			logx.Int("pruned", pruned),
		)
	}
	return notified, nil
}

// reminderFor maps days-until-expiry onto a threshold bucket and message.
// due is false when the document is not at a reminder boundary today.
func reminderFor(name string, days int) (key int, body string, due bool) {
	if days < 0 {
		return expiredDaysKey, fmt.Sprintf("%s has expired", name), true
	}
	for _, t := range reminderThresholds {
		if days != t {
			continue
		}
		switch t {
		case 0:
			return 0, fmt.Sprintf("%s expires today", name), true
		case 1:
			return 1, fmt.Sprintf("%s expires tomorrow", name), true
		default:
			return t, fmt.Sprintf("%s expires in %d days", name, t), true
		}
	}
	return 0, "", false
}

// daysUntil counts whole calendar days from now to the expiry date.
func daysUntil(now, expires time.Time) int {
	nowDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	expDay := time.Date(expires.Year(), expires.Month(), expires.Day(), 0, 0, 0, 0, time.UTC)
	return int(expDay.Sub(nowDay).Hours() / 24)
}
