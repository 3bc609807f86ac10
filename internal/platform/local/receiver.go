package local

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	logx "pushbridge/pkg/logx"
)

// Push services reject oversized payloads; 4KB is the interoperable limit
// and we allow some slack for the encryption header.
const maxPushBody = 8 << 10

var errUnknownToken = errors.New("unknown endpoint token")

// deliverFunc validates the endpoint token, decrypts the body and hands the
// plaintext to the worker. errUnknownToken maps to 404, decrypt failures to 400.
type deliverFunc func(ctx context.Context, token string, body []byte) error

// receiver is the loopback HTTP listener that stands in for a push service.
// Subscription endpoints point at it; the backend POSTs encrypted payloads
// exactly as it would to a real push service.
type receiver struct {
	log     logx.Logger
	addr    string
	deliver deliverFunc

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
}

func newReceiver(addr string, deliver deliverFunc, log logx.Logger) *receiver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &receiver{log: log, addr: addr, deliver: deliver}
}

func (r *receiver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/push/", r.handlePush)

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	r.ln = ln
	r.srv = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Warn("push receiver error", logx.String("addr", ln.Addr().String()), logx.Err(err))
		}
	}()
	r.log.Info("push receiver listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (r *receiver) Stop(ctx context.Context) {
	r.mu.Lock()
	srv := r.srv
	ln := r.ln
	r.srv = nil
	r.ln = nil
	r.mu.Unlock()
	if srv == nil {
		return
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	_ = srv.Shutdown(ctx)
	if ln != nil {
		_ = ln.Close()
	}
}

// Addr reports the actual listen address if running ("" otherwise).
func (r *receiver) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil {
		return ""
	}
	return r.ln.Addr().String()
}

func (r *receiver) handlePush(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token := strings.TrimPrefix(req.URL.Path, "/push/")
	if token == "" || strings.Contains(token, "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if ce := req.Header.Get("Content-Encoding"); ce != "" && !strings.EqualFold(ce, "aes128gcm") {
		http.Error(w, "unsupported content encoding", http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxPushBody+1))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	if len(body) > maxPushBody {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	if err := r.deliver(req.Context(), token, body); err != nil {
		if errors.Is(err, errUnknownToken) {
			// 404 tells a well-behaved sender to drop the subscription.
			http.Error(w, "unknown subscription", http.StatusNotFound)
			return
		}
		r.log.Warn("push delivery rejected", logx.Err(err))
		http.Error(w, "invalid push message", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
