package pprof

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "pushbridge/pkg/logx"
)

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"", "/debug/pprof/"},
		{"/debug/pprof/", "/debug/pprof/"},
		{"debug", "/debug/"},
		{"/x", "/x/"},
	}
	for _, tc := range tests {
		if got := normalizePrefix(tc.in); got != tc.want {
			t.Errorf("normalizePrefix(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6060", true},
		{"localhost:6060", true},
		{"[::1]:6060", true},
		{"0.0.0.0:6060", false},
		{":6060", false},
		{"10.0.0.5:6060", false},
		{"not-an-addr", false},
	}
	for _, tc := range tests {
		if got := isLoopbackAddr(tc.addr); got != tc.want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestWithAuth(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop())
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

	h := s.withAuth("secret", ok)

	cases := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"no credentials", "/", "", http.StatusUnauthorized},
		{"query token ok", "/?token=secret", "", http.StatusOK},
		{"query token bad", "/?token=nope", "", http.StatusUnauthorized},
		{"bearer ok", "/", "Bearer secret", http.StatusOK},
		{"bearer bad", "/", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestServiceStartStop(t *testing.T) {
	cfg := Config{Enabled: true, Addr: "127.0.0.1:0"}
	s := New(cfg, logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Start(ctx)
	t.Cleanup(func() { s.Stop(context.Background()) })

	var addr string
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if addr = s.Addr(); addr != "" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	s.Stop(ctx)
	if got := s.Addr(); got != "" {
		t.Fatalf("expected stopped server, still at %s", got)
	}
}
