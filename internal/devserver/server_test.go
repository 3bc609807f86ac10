package devserver

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"pushbridge/internal/platform"
	"pushbridge/pkg/logx"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestServer(t *testing.T) *Server {
	t.Helper()

	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("GenerateVAPIDKeys: %v", err)
	}
	s, err := NewServer(Config{
		Addr:            "127.0.0.1:0",
		VAPIDPublicKey:  pub,
		VAPIDPrivateKey: priv,
		Subscriber:      "mailto:ops@example.com",
		CronToken:       "cron-secret",
		StorePath:       filepath.Join(t.TempDir(), "pushserver.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = s.store.Close() })
	return s
}

func postJSON(t *testing.T, h http.Handler, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// newClientKeys returns base64url p256dh/auth values a real client would send.
func newClientKeys(t *testing.T) platform.Keys {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatal(err)
	}
	return platform.Keys{
		P256dh: base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		Auth:   base64.RawURLEncoding.EncodeToString(auth),
	}
}

func TestSubscribeStoresAndDedupes(t *testing.T) {
	s := setupTestServer(t)
	keys := newClientKeys(t)
	sub := platform.Subscription{Endpoint: "https://push.example/ep/1", Keys: keys}

	for i := 0; i < 2; i++ {
		rec := postJSON(t, s.Handler(), "/push/subscribe", sub, nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("attempt %d: status = %d, want 201", i, rec.Code)
		}
	}

	n, err := s.store.SubscriptionCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("subscription count = %d, want 1 (deduped by endpoint)", n)
	}
}

func TestSubscribeRejectsMissingEndpoint(t *testing.T) {
	s := setupTestServer(t)

	rec := postJSON(t, s.Handler(), "/push/subscribe", map[string]any{
		"keys": map[string]string{"p256dh": "x", "auth": "y"},
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := rec.Body.String(); got != "Invalid subscription" {
		t.Fatalf("body = %q, want %q", got, "Invalid subscription")
	}
}

func TestUnsubscribeRemoves(t *testing.T) {
	s := setupTestServer(t)
	sub := platform.Subscription{Endpoint: "https://push.example/ep/2", Keys: newClientKeys(t)}

	postJSON(t, s.Handler(), "/push/subscribe", sub, nil)
	rec := postJSON(t, s.Handler(), "/push/unsubscribe", sub, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	n, err := s.store.SubscriptionCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("subscription count = %d, want 0", n)
	}
}

func TestWorkerScriptHeaders(t *testing.T) {
	s := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/sw.js", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Service-Worker-Allowed"); got != "/" {
		t.Fatalf("Service-Worker-Allowed = %q, want %q", got, "/")
	}
	if body := rec.Body.String(); !bytes.Contains([]byte(body), []byte("notificationclick")) {
		t.Fatal("worker script is missing the notificationclick handler")
	}
}

func TestCronDailyRequiresToken(t *testing.T) {
	s := setupTestServer(t)

	rec := postJSON(t, s.Handler(), "/cron/daily", gin.H{}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rec.Code)
	}
	rec = postJSON(t, s.Handler(), "/cron/daily", gin.H{}, map[string]string{"x-cron-token": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status with bad token = %d, want 401", rec.Code)
	}
	rec = postJSON(t, s.Handler(), "/cron/daily", gin.H{}, map[string]string{"x-cron-token": "cron-secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", rec.Code)
	}
}

// pushSink pretends to be a push service endpoint.
func pushSink(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestReminderSweepSendsOncePerThreshold(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	sink, hits := pushSink(t, http.StatusCreated)
	sub := platform.Subscription{Endpoint: sink.URL + "/ep", Keys: newClientKeys(t)}
	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	in7 := time.Now().AddDate(0, 0, 7)
	if err := s.store.UpsertDocument(ctx, Document{Name: "Medical Certificate", ExpiresOn: in7}); err != nil {
		t.Fatal(err)
	}

	notified, err := s.reminders.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if notified != 1 {
		t.Fatalf("notified = %d, want 1", notified)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("push service hits = %d, want 1", got)
	}

	// A second sweep the same day must not re-notify.
	notified, err = s.reminders.Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if notified != 0 {
		t.Fatalf("second sweep notified = %d, want 0", notified)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("push service hits after second sweep = %d, want 1", got)
	}
}

func TestBroadcastPrunesGoneSubscriptions(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	sink, _ := pushSink(t, http.StatusGone)
	sub := platform.Subscription{Endpoint: sink.URL + "/dead", Keys: newClientKeys(t)}
	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	sent, pruned, err := s.sender.Broadcast(ctx, []byte(`{"title":"t"}`))
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if sent != 0 || pruned != 1 {
		t.Fatalf("sent=%d pruned=%d, want 0/1", sent, pruned)
	}
	n, err := s.store.SubscriptionCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("subscription count = %d, want 0", n)
	}
}

func TestReminderFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		days    int
		wantKey int
		due     bool
		body    string
	}{
		{45, 0, false, ""},
		{30, 30, true, "MC expires in 30 days"},
		{7, 7, true, "MC expires in 7 days"},
		{2, 0, false, ""},
		{1, 1, true, "MC expires tomorrow"},
		{0, 0, true, "MC expires today"},
		{-1, expiredDaysKey, true, "MC has expired"},
		{-100, expiredDaysKey, true, "MC has expired"},
	}
	for _, tc := range tests {
		key, body, due := reminderFor("MC", tc.days)
		if due != tc.due {
			t.Errorf("days %d: due = %v, want %v", tc.days, due, tc.due)
			continue
		}
		if !due {
			continue
		}
		if key != tc.wantKey || body != tc.body {
			t.Errorf("days %d: (%d, %q), want (%d, %q)", tc.days, key, body, tc.wantKey, tc.body)
		}
	}
}

func TestDaysUntil(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 28, 15, 30, 0, 0, time.UTC)
	tests := []struct {
		expires time.Time
		want    int
	}{
		{time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), 0},
		{time.Date(2026, 8, 29, 23, 59, 0, 0, time.UTC), 1},
		{time.Date(2026, 9, 27, 0, 0, 0, 0, time.UTC), 30},
		{time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC), -1},
	}
	for _, tc := range tests {
		if got := daysUntil(now, tc.expires); got != tc.want {
			t.Errorf("daysUntil(%s) = %d, want %d", tc.expires.Format(dateLayout), got, tc.want)
		}
	}
}

func TestHealth(t *testing.T) {
	s := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %q, want ok", body["status"])
	}
}
