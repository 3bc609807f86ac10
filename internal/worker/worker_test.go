package worker

import (
	"context"
	"testing"

	"pushbridge/internal/platform"
	logx "pushbridge/pkg/logx"
)

// --- fakes ---

type fakePresenter struct {
	shown  []platform.Notification
	closed []uint32
	clicks chan uint32
	nextID uint32
}

func newFakePresenter() *fakePresenter {
	return &fakePresenter{clicks: make(chan uint32, 4)}
}

func (p *fakePresenter) Show(_ context.Context, n platform.Notification) (uint32, error) {
	p.nextID++
	p.shown = append(p.shown, n)
	return p.nextID, nil
}

func (p *fakePresenter) Close(_ context.Context, id uint32) error {
	p.closed = append(p.closed, id)
	return nil
}

func (p *fakePresenter) Clicks() <-chan uint32 { return p.clicks }

type fakeWindow struct {
	url     string
	focused bool
}

func (w *fakeWindow) URL() string                 { return w.url }
func (w *fakeWindow) Focus(context.Context) error { w.focused = true; return nil }

type fakeWindows struct {
	windows  []*fakeWindow
	claimed  bool
	opened   []string
	openable bool
}

func (f *fakeWindows) MatchAll(context.Context, bool) ([]platform.WindowClient, error) {
	out := make([]platform.WindowClient, 0, len(f.windows))
	for _, w := range f.windows {
		out = append(out, w)
	}
	return out, nil
}

func (f *fakeWindows) ClaimAll(context.Context) error { f.claimed = true; return nil }

func (f *fakeWindows) OpenWindow(_ context.Context, url string) (platform.WindowClient, error) {
	if !f.openable {
		return nil, platform.ErrOpenUnsupported
	}
	w := &fakeWindow{url: url}
	f.windows = append(f.windows, w)
	f.opened = append(f.opened, url)
	return w, nil
}

func (f *fakeWindows) CanOpen() bool { return f.openable }

func newTestRuntime(t *testing.T, p *fakePresenter, w *fakeWindows) *Runtime {
	t.Helper()
	r := NewRuntime(Config{DefaultTitle: "Driver Portal"}, p, w, logx.Nop(), nil)
	if err := r.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	return r
}

// --- tests ---

func TestInstallClaimsClientsAndActivates(t *testing.T) {
	t.Parallel()

	w := &fakeWindows{}
	r := NewRuntime(Config{}, newFakePresenter(), w, logx.Nop(), nil)
	if got := r.State(); got != StateInstalling {
		t.Fatalf("state = %q, want installing", got)
	}
	if err := r.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !w.claimed {
		t.Fatal("expected open windows to be claimed")
	}
	if got := r.State(); got != StateActive {
		t.Fatalf("state = %q, want active", got)
	}
	// Idempotent.
	if err := r.Install(context.Background()); err != nil {
		t.Fatalf("second Install: %v", err)
	}
}

func TestHandlePushJSONPayload(t *testing.T) {
	t.Parallel()

	p := newFakePresenter()
	r := newTestRuntime(t, p, &fakeWindows{})

	raw := []byte(`{"title":"T","body":"B","data":{"url":"/x"}}`)
	if err := r.HandlePush(context.Background(), raw); err != nil {
		t.Fatalf("HandlePush: %v", err)
	}

	if len(p.shown) != 1 {
		t.Fatalf("shown %d notifications, want 1", len(p.shown))
	}
	n := p.shown[0]
	if n.Title != "T" || n.Body != "B" {
		t.Fatalf("notification = %q/%q, want T/B", n.Title, n.Body)
	}
	if n.Data["url"] != "/x" {
		t.Fatalf("data = %v, want url=/x", n.Data)
	}
	if n.Icon == "" || n.Badge == "" {
		t.Fatal("expected fixed icon/badge assets")
	}
}

func TestHandlePushMalformedPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      []byte
		wantBody string
	}{
		{name: "non-json", raw: []byte("hello push"), wantBody: "hello push"},
		{name: "absent", raw: nil, wantBody: ""},
		{name: "truncated json", raw: []byte(`{"title":`), wantBody: `{"title":`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := newFakePresenter()
			r := newTestRuntime(t, p, &fakeWindows{})
			if err := r.HandlePush(context.Background(), tt.raw); err != nil {
				t.Fatalf("HandlePush: %v", err)
			}
			n := p.shown[0]
			if n.Title != "Driver Portal" {
				t.Fatalf("title = %q, want default", n.Title)
			}
			if n.Body != tt.wantBody {
				t.Fatalf("body = %q, want %q", n.Body, tt.wantBody)
			}
			if n.Data == nil || len(n.Data) != 0 {
				t.Fatalf("data = %v, want empty map", n.Data)
			}
		})
	}
}

func TestHandleClickFocusesMatchingWindow(t *testing.T) {
	t.Parallel()

	p := newFakePresenter()
	open := &fakeWindow{url: "https://portal.example.com/portal/home"}
	w := &fakeWindows{windows: []*fakeWindow{open}, openable: true}
	r := newTestRuntime(t, p, w)

	if err := r.HandlePush(context.Background(), []byte(`{"data":{"url":"/portal"}}`)); err != nil {
		t.Fatalf("HandlePush: %v", err)
	}
	if err := r.HandleClick(context.Background(), 1); err != nil {
		t.Fatalf("HandleClick: %v", err)
	}

	if len(p.closed) != 1 || p.closed[0] != 1 {
		t.Fatalf("closed = %v, want [1]", p.closed)
	}
	if !open.focused {
		t.Fatal("expected the matching window to be focused")
	}
	if len(w.opened) != 0 {
		t.Fatalf("no new window expected, opened %v", w.opened)
	}
}

func TestHandleClickOpensWindowWhenNoMatch(t *testing.T) {
	t.Parallel()

	p := newFakePresenter()
	w := &fakeWindows{windows: []*fakeWindow{{url: "https://portal.example.com/docs"}}, openable: true}
	r := newTestRuntime(t, p, w)

	if err := r.HandlePush(context.Background(), []byte(`{"data":{"url":"/settings"}}`)); err != nil {
		t.Fatalf("HandlePush: %v", err)
	}
	if err := r.HandleClick(context.Background(), 1); err != nil {
		t.Fatalf("HandleClick: %v", err)
	}

	if len(w.opened) != 1 || w.opened[0] != "/settings" {
		t.Fatalf("opened = %v, want [/settings]", w.opened)
	}
}

func TestHandleClickDefaultsToPortal(t *testing.T) {
	t.Parallel()

	p := newFakePresenter()
	w := &fakeWindows{openable: true}
	r := newTestRuntime(t, p, w)

	// No data.url in the payload.
	if err := r.HandlePush(context.Background(), []byte(`{"title":"T"}`)); err != nil {
		t.Fatalf("HandlePush: %v", err)
	}
	if err := r.HandleClick(context.Background(), 1); err != nil {
		t.Fatalf("HandleClick: %v", err)
	}
	if len(w.opened) != 1 || w.opened[0] != "/portal" {
		t.Fatalf("opened = %v, want [/portal]", w.opened)
	}
}

func TestHandleClickWithoutOpenSupport(t *testing.T) {
	t.Parallel()

	p := newFakePresenter()
	w := &fakeWindows{} // no windows, cannot open
	r := newTestRuntime(t, p, w)

	if err := r.HandlePush(context.Background(), []byte(`{"data":{"url":"/x"}}`)); err != nil {
		t.Fatalf("HandlePush: %v", err)
	}
	// Nothing to focus, nothing to open: the click is simply dropped.
	if err := r.HandleClick(context.Background(), 1); err != nil {
		t.Fatalf("HandleClick: %v", err)
	}
}

func TestPushRejectedBeforeActivation(t *testing.T) {
	t.Parallel()

	r := NewRuntime(Config{}, newFakePresenter(), &fakeWindows{}, logx.Nop(), nil)
	if err := r.HandlePush(context.Background(), nil); err == nil {
		t.Fatal("expected error for push before activation")
	}
}
