package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/certmint/certmint/internal/config"
	"github.com/certmint/certmint/internal/handlers"
)

type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	handlers   *handlers.Handlers
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger, h *handlers.Handlers) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handlers are required")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: h,
	}

	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h.CORS(s.buildRouter()),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Claim processing waits on the mint relayer.
		WriteTimeout:   cfg.MintTimeout + 30*time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
		ErrorLog:       slog.NewLogLogger(logger.With("component", "http_server").Handler(), slog.LevelWarn),
	}

	return s, nil
}

func (s *Server) Run() error {
	s.logger.Info("server starting", "addr", s.httpServer.Addr, "env", s.cfg.AppEnv)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) buildRouter() *mux.Router {
	h := s.handlers

	r := mux.NewRouter()
	r.Use(h.RequestLogger)
	r.Use(h.MetricsContext)
	r.Use(h.SecurityHeaders)
	r.HandleFunc("/health", h.Health).Methods("GET").Name("health")
	r.Handle("/metrics", h.Metrics()).Methods("GET").Name("metrics")

	r.HandleFunc("/webhook/shopify", h.ShopifyWebhook).Methods("POST").Name("webhook.shopify")
	r.HandleFunc("/webhooks/shopify", h.ShopifyWebhook).Methods("POST").Name("webhooks.shopify")

	claimRouter := r.PathPrefix("/api/claim").Subrouter()
	claimRouter.Use(h.RateLimit)
	claimRouter.HandleFunc("/verify", h.VerifyClaim).Methods("POST").Name("claim.verify")
	claimRouter.HandleFunc("/process", h.ProcessClaim).Methods("POST").Name("claim.process")
	claimRouter.HandleFunc("/status/{token}", h.ClaimStatus).Methods("GET").Name("claim.status")

	r.HandleFunc("/api/generate-coa", h.GenerateCertificate).Methods("POST").Name("certificate.generate")
	r.HandleFunc("/api/admin/login", h.AdminLogin).Methods("POST").Name("admin.login")

	// Bearer-protected operator routes
	adminRouter := r.PathPrefix("/api").Subrouter()
	adminRouter.Use(h.RequireAdmin)
	adminRouter.HandleFunc("/admin/logout", h.AdminLogout).Methods("POST").Name("admin.logout")
	adminRouter.HandleFunc("/admin/status", h.AdminStatus).Methods("GET").Name("admin.status")
	adminRouter.HandleFunc("/admin/outbox/dispatch", h.DispatchOutbox).Methods("POST").Name("admin.outbox.dispatch")
	adminRouter.HandleFunc("/debug/environment", h.DebugEnvironment).Methods("GET").Name("debug.environment")
	adminRouter.HandleFunc("/debug/graph-token", h.DebugGraphToken).Methods("GET").Name("debug.graph_token")
	adminRouter.HandleFunc("/test-email", h.TestEmail).Methods("POST").Name("admin.test_email")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found","code":"not_found"}` + "\n"))
	})

	return r
}
