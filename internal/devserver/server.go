// Package devserver is the reference push backend used for local development
// and end-to-end testing: it stores subscriptions, serves the worker script,
// and runs the daily expiry reminder sweep.
package devserver

import (
	"context"
	"crypto/subtle"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"pushbridge/internal/platform"
	logx "pushbridge/pkg/logx"
)

//go:embed assets
var assetsFS embed.FS

type Config struct {
	Addr string

	// VAPID key pair identifying this server to push services.
	VAPIDPublicKey  string
	VAPIDPrivateKey string

	// Subscriber is the contact URI placed in VAPID tokens (mailto: or https:).
	Subscriber string

	// CronToken guards the manual reminder trigger. Empty disables the route.
	CronToken string

	// CronSpec schedules the daily reminder sweep. Empty defaults to 09:00.
	CronSpec string

	// Title is the notification title reminders are sent under.
	Title string

	StorePath  string
	TTL        int
	RatePerSec int
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8080"
	}
	if c.CronSpec == "" {
		c.CronSpec = "0 9 * * *"
	}
	if c.Title == "" {
		c.Title = "Driver Portal"
	}
	if c.StorePath == "" {
		c.StorePath = "./pushserver.db"
	}
	return c
}

type Server struct {
	cfg       Config
	log       logx.Logger
	router    *gin.Engine
	store     *Store
	sender    *Sender
	reminders *ReminderJob
	cron      *cron.Cron
}

func NewServer(cfg Config, log logx.Logger) (*Server, error) {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil, errors.New("devserver requires a VAPID key pair")
	}

	store, err := OpenStore(cfg.StorePath, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	sender := NewSender(store, cfg.Subscriber, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.TTL, cfg.RatePerSec, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:       cfg,
		log:       log,
		router:    router,
		store:     store,
		sender:    sender,
		reminders: NewReminderJob(store, sender, cfg.Title, log),
		cron:      cron.New(),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	push := s.router.Group("/push")
	{
		push.POST("/subscribe", s.handleSubscribe)
		push.POST("/unsubscribe", s.handleUnsubscribe)
		push.POST("/test", s.handleTest)
	}
	s.router.POST("/cron/daily", s.handleCronDaily)
	s.router.POST("/docs", s.handleAddDocument)

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "pushserver"})
	})
	s.router.GET("/sw.js", s.handleWorkerScript)
	s.router.GET("/portal", s.handlePortal)
	s.router.GET("/docs", s.handleDocs)

	static, _ := fs.Sub(assetsFS, "assets/static")
	s.router.StaticFS("/static", http.FS(static))
}

// handleSubscribe stores a PushSubscription. The body must carry an endpoint;
// anything else is rejected with the literal reason clients surface verbatim.
func (s *Server) handleSubscribe(c *gin.Context) {
	var sub platform.Subscription
	if err := c.ShouldBindJSON(&sub); err != nil || strings.TrimSpace(sub.Endpoint) == "" {
		c.String(http.StatusBadRequest, "Invalid subscription")
		return
	}
	if err := s.store.UpsertSubscription(c.Request.Context(), sub); err != nil {
		s.log.Error("subscribe failed", logx.Err(err))
		c.String(http.StatusInternalServerError, "Could not store subscription")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "subscribed"})
}

func (s *Server) handleUnsubscribe(c *gin.Context) {
	var sub platform.Subscription
	if err := c.ShouldBindJSON(&sub); err != nil || strings.TrimSpace(sub.Endpoint) == "" {
		c.String(http.StatusBadRequest, "Invalid subscription")
		return
	}
	removed, err := s.store.RemoveSubscription(c.Request.Context(), sub.Endpoint)
	if err != nil {
		s.log.Error("unsubscribe failed", logx.Err(err))
		c.String(http.StatusInternalServerError, "Could not remove subscription")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unsubscribed", "removed": removed})
}

// handleTest pushes a canned notification to every subscription.
func (s *Server) handleTest(c *gin.Context) {
	payload := []byte(fmt.Sprintf(
		`{"title":%q,"body":"Test notification","data":{"url":"/portal"}}`, s.cfg.Title,
	))
	sent, pruned, err := s.sender.Broadcast(c.Request.Context(), payload)
	if err != nil {
		s.log.Error("test broadcast failed", logx.Err(err))
		c.String(http.StatusInternalServerError, "Broadcast failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": sent, "pruned": pruned})
}

// handleCronDaily is the manual trigger for the reminder sweep, guarded by a
// shared token so only the scheduler (or an operator) can fire it.
func (s *Server) handleCronDaily(c *gin.Context) {
	if s.cfg.CronToken == "" {
		c.String(http.StatusNotFound, "not found")
		return
	}
	got := c.GetHeader("x-cron-token")
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.CronToken)) != 1 {
		c.String(http.StatusUnauthorized, "unauthorized")
		return
	}
	notified, err := s.reminders.Run(c.Request.Context())
	if err != nil {
		s.log.Error("reminder run failed", logx.Err(err))
		c.String(http.StatusInternalServerError, "Reminder run failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"notified": notified})
}

type addDocumentRequest struct {
	Name      string `json:"name" binding:"required"`
	ExpiresOn string `json:"expires_on" binding:"required"`
}

func (s *Server) handleAddDocument(c *gin.Context) {
	var req addDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "Invalid document")
		return
	}
	expires, err := time.Parse(dateLayout, req.ExpiresOn)
	if err != nil {
		c.String(http.StatusBadRequest, "Invalid expiry date (want YYYY-MM-DD)")
		return
	}
	if err := s.store.UpsertDocument(c.Request.Context(), Document{Name: req.Name, ExpiresOn: expires}); err != nil {
		s.log.Error("add document failed", logx.Err(err))
		c.String(http.StatusInternalServerError, "Could not store document")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "stored"})
}

// handleWorkerScript serves the worker from the origin root so its scope can
// cover the whole site.
func (s *Server) handleWorkerScript(c *gin.Context) {
	b, err := assetsFS.ReadFile("assets/sw.js")
	if err != nil {
		c.String(http.StatusInternalServerError, "worker script missing")
		return
	}
	c.Header("Service-Worker-Allowed", "/")
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", b)
}

func (s *Server) handlePortal(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(
		`<!doctype html><title>Driver Portal</title><h1>Driver Portal</h1>`+
			`<p>Push notifications keep you ahead of document expiry dates.</p>`))
}

func (s *Server) handleDocs(c *gin.Context) {
	docs, err := s.store.Documents(c.Request.Context())
	if err != nil {
		c.String(http.StatusInternalServerError, "Could not list documents")
		return
	}
	var b strings.Builder
	b.WriteString(`<!doctype html><title>Documents</title><h1>Documents</h1><ul>`)
	for _, d := range docs {
		fmt.Fprintf(&b, "<li>%s expires %s</li>", d.Name, d.ExpiresOn.Format(dateLayout))
	}
	b.WriteString("</ul>")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(b.String()))
}

// Run serves until ctx is canceled, then shuts down gracefully. The reminder
// cron runs alongside the HTTP listener.
func (s *Server) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.CronSpec, func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.reminders.Run(runCtx); err != nil {
			s.log.Error("scheduled reminder run failed", logx.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("cron spec %q: %w", s.cfg.CronSpec, err)
	}
	s.cron.Start()
	defer s.cron.Stop()

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.log.Info("pushserver listening", logx.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return s.store.Close()
	case err := <-errCh:
		_ = s.store.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler exposes the router for httptest-driven tests.
func (s *Server) Handler() http.Handler { return s.router }

// Store exposes the backing store for seeding in tests and tools.
func (s *Server) Store() *Store { return s.store }
