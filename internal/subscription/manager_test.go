package subscription

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"pushbridge/internal/platform"
	logx "pushbridge/pkg/logx"
	"pushbridge/pkg/vapid"
)

func testVAPIDKey() string {
	point := make([]byte, vapid.PublicKeyLength)
	point[0] = 0x04
	for i := 1; i < len(point); i++ {
		point[i] = byte(i)
	}
	return base64.RawURLEncoding.EncodeToString(point)
}

// --- fakes ---

type fakeRegistration struct {
	sub            *platform.Subscription
	subscribeCalls int
	revoked        bool
}

func (r *fakeRegistration) Subscription(context.Context) (*platform.Subscription, error) {
	return r.sub, nil
}

func (r *fakeRegistration) Subscribe(_ context.Context, opts platform.SubscribeOptions) (*platform.Subscription, error) {
	r.subscribeCalls++
	if r.sub != nil {
		return r.sub, nil
	}
	if !opts.UserVisibleOnly {
		return nil, errors.New("expected userVisibleOnly")
	}
	if len(opts.ApplicationServerKey) != vapid.PublicKeyLength {
		return nil, errors.New("bad application server key")
	}
	r.sub = &platform.Subscription{
		Endpoint: "https://push.example.net/p/1",
		Keys:     platform.Keys{P256dh: "pk", Auth: "as"},
	}
	return r.sub, nil
}

func (r *fakeRegistration) Unsubscribe(context.Context) (bool, error) {
	if r.sub == nil {
		return false, nil
	}
	r.sub = nil
	r.revoked = true
	return true, nil
}

type fakeCapability struct {
	reg           *fakeRegistration
	unsupported   bool
	permission    platform.Permission
	registerCalls int
}

func (c *fakeCapability) Register(_ context.Context, _ string) (platform.Registration, error) {
	c.registerCalls++
	if c.unsupported {
		return nil, nil
	}
	if c.reg == nil {
		c.reg = &fakeRegistration{}
	}
	return c.reg, nil
}

func (c *fakeCapability) RequestPermission(context.Context) (platform.Permission, error) {
	if c.permission == "" {
		return platform.PermissionGranted, nil
	}
	return c.permission, nil
}

type fakeReporter struct {
	subscribed    []*platform.Subscription
	unsubscribed  []*platform.Subscription
	subscribeErr  error
	unsubscribeEr error
}

func (r *fakeReporter) Subscribe(_ context.Context, sub *platform.Subscription) error {
	if r.subscribeErr != nil {
		return r.subscribeErr
	}
	cp := *sub
	r.subscribed = append(r.subscribed, &cp)
	return nil
}

func (r *fakeReporter) Unsubscribe(_ context.Context, sub *platform.Subscription) error {
	if r.unsubscribeEr != nil {
		return r.unsubscribeEr
	}
	cp := *sub
	r.unsubscribed = append(r.unsubscribed, &cp)
	return nil
}

func newTestManager(cap *fakeCapability, rep *fakeReporter) *Manager {
	return NewManager(cap, rep, "/sw.js", logx.Nop(), nil)
}

// --- tests ---

func TestEnableIsIdempotent(t *testing.T) {
	t.Parallel()

	cap := &fakeCapability{}
	rep := &fakeReporter{}
	m := newTestManager(cap, rep)

	for i := 0; i < 2; i++ {
		ok, err := m.Enable(context.Background(), testVAPIDKey())
		if err != nil || !ok {
			t.Fatalf("Enable #%d = (%v, %v)", i+1, ok, err)
		}
	}

	if cap.reg.subscribeCalls != 1 {
		t.Fatalf("platform Subscribe called %d times, want 1", cap.reg.subscribeCalls)
	}
	if len(rep.subscribed) != 2 {
		t.Fatalf("server Subscribe called %d times, want 2", len(rep.subscribed))
	}
	if *rep.subscribed[0] != *rep.subscribed[1] {
		t.Fatalf("second POST body differs from first: %+v vs %+v", rep.subscribed[0], rep.subscribed[1])
	}
}

func TestEnableUnsupportedPlatform(t *testing.T) {
	t.Parallel()

	m := newTestManager(&fakeCapability{unsupported: true}, &fakeReporter{})
	if _, err := m.Enable(context.Background(), testVAPIDKey()); !errors.Is(err, ErrWorkersUnsupported) {
		t.Fatalf("expected ErrWorkersUnsupported, got %v", err)
	}
}

func TestEnablePermissionDenied(t *testing.T) {
	t.Parallel()

	for _, perm := range []platform.Permission{platform.PermissionDenied, platform.PermissionDefault} {
		m := newTestManager(&fakeCapability{permission: perm}, &fakeReporter{})
		if _, err := m.Enable(context.Background(), testVAPIDKey()); !errors.Is(err, platform.ErrPermissionDenied) {
			t.Fatalf("permission %q: expected ErrPermissionDenied, got %v", perm, err)
		}
	}
}

func TestEnableInvalidKeyFailsBeforeSubscribe(t *testing.T) {
	t.Parallel()

	cap := &fakeCapability{}
	m := newTestManager(cap, &fakeReporter{})
	if _, err := m.Enable(context.Background(), "!!not-base64!!"); !errors.Is(err, vapid.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if cap.reg.subscribeCalls != 0 {
		t.Fatalf("Subscribe should not run with an undecodable key")
	}
}

func TestEnableServerRejectionPropagates(t *testing.T) {
	t.Parallel()

	rejection := errors.New("Invalid subscription")
	m := newTestManager(&fakeCapability{}, &fakeReporter{subscribeErr: rejection})
	ok, err := m.Enable(context.Background(), testVAPIDKey())
	if ok || !errors.Is(err, rejection) {
		t.Fatalf("Enable = (%v, %v), want server rejection", ok, err)
	}
}

func TestDisableWithoutRegistration(t *testing.T) {
	t.Parallel()

	rep := &fakeReporter{}
	m := newTestManager(&fakeCapability{}, rep)

	ok, err := m.Disable(context.Background())
	if err != nil || !ok {
		t.Fatalf("Disable = (%v, %v), want trivial success", ok, err)
	}
	if len(rep.unsubscribed) != 0 {
		t.Fatalf("no network call expected, got %d", len(rep.unsubscribed))
	}
}

func TestDisableWithoutSubscription(t *testing.T) {
	t.Parallel()

	cap := &fakeCapability{}
	rep := &fakeReporter{}
	m := newTestManager(cap, rep)

	if _, err := m.RegisterWorker(context.Background()); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
	ok, err := m.Disable(context.Background())
	if err != nil || !ok {
		t.Fatalf("Disable = (%v, %v), want trivial success", ok, err)
	}
	if len(rep.unsubscribed) != 0 {
		t.Fatalf("no network call expected, got %d", len(rep.unsubscribed))
	}
}

func TestDisableServerAckBeforeRevoke(t *testing.T) {
	t.Parallel()

	cap := &fakeCapability{}
	rep := &fakeReporter{unsubscribeEr: errors.New("server down")}
	m := newTestManager(cap, rep)

	if _, err := m.Enable(context.Background(), testVAPIDKey()); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	if _, err := m.Disable(context.Background()); err == nil {
		t.Fatal("expected server error to propagate")
	}
	if cap.reg.revoked {
		t.Fatal("platform revoke must be skipped when the server call fails")
	}
	if cap.reg.sub == nil {
		t.Fatal("subscription must remain intact for retry")
	}

	// Server recovers; the retry completes both halves.
	rep.unsubscribeEr = nil
	ok, err := m.Disable(context.Background())
	if err != nil || !ok {
		t.Fatalf("Disable retry = (%v, %v)", ok, err)
	}
	if !cap.reg.revoked {
		t.Fatal("expected platform revoke after server ack")
	}
}

func TestRegisterWorkerIdempotent(t *testing.T) {
	t.Parallel()

	cap := &fakeCapability{}
	m := newTestManager(cap, &fakeReporter{})

	r1, err := m.RegisterWorker(context.Background())
	if err != nil || r1 == nil {
		t.Fatalf("RegisterWorker = (%v, %v)", r1, err)
	}
	r2, err := m.RegisterWorker(context.Background())
	if err != nil || r2 != r1 {
		t.Fatalf("expected the same registration, got (%v, %v)", r2, err)
	}
	if cap.registerCalls != 1 {
		t.Fatalf("platform Register called %d times, want 1", cap.registerCalls)
	}
}
